// Korea Investment & Securities REST API client.
//
// KIS API:
//   - Mock base URL: https://openapivts.koreainvestment.com:29443
//   - Real base URL: https://openapi.koreainvestment.com:9443
//   - Auth: OAuth client-credentials token (24h validity), Bearer header
//     plus appkey/appsecret/tr_id headers on every request
//   - Every endpoint returns rt_cd ("0" = success), msg_cd, msg1
//   - Token issuance is rate limited to 1 request/min per app key, hence
//     the shared TokenCache
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	kisMockBaseURL = "https://openapivts.koreainvestment.com:29443"
	kisRealBaseURL = "https://openapi.koreainvestment.com:9443"

	kisMaxRetries = 3
	kisRetryDelay = 1 * time.Second

	kisRequestTimeout = 30 * time.Second
)

// Token expired message codes. A response carrying one of these triggers
// re-authentication and exactly one retry of the original request.
var kisTokenExpiredCodes = map[string]bool{
	"EGW00123": true,
	"EGW00121": true,
}

// KISConfig holds KIS-specific API configuration.
type KISConfig struct {
	AppKey    string
	AppSecret string
	AccountNo string // format: XXXXXXXX-XX
	IsMock    bool   // true for paper trading
	BaseURL   string // override for tests; derived from IsMock when empty
}

// KISClient implements the Client interface for Korea Investment &
// Securities.
type KISClient struct {
	config KISConfig
	client *http.Client
	tokens *TokenCache
	logger *log.Logger
}

// NewKISClient creates a KIS broker client. The token cache may be shared
// across clients that use the same credentials; pass nil to give the
// client a private cache.
func NewKISClient(cfg KISConfig, tokens *TokenCache, logger *log.Logger) (*KISClient, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("kis broker: app key and app secret are required")
	}
	if cfg.AccountNo == "" {
		return nil, fmt.Errorf("kis broker: account number is required")
	}
	if cfg.BaseURL == "" {
		if cfg.IsMock {
			cfg.BaseURL = kisMockBaseURL
		} else {
			cfg.BaseURL = kisRealBaseURL
		}
	}

	if tokens == nil {
		var err error
		tokens, err = NewTokenCache()
		if err != nil {
			return nil, fmt.Errorf("kis broker: %w", err)
		}
	}

	return &KISClient{
		config: cfg,
		client: &http.Client{Timeout: kisRequestTimeout},
		tokens: tokens,
		logger: logger,
	}, nil
}

// accountParts splits the account number into CANO and product code.
func (k *KISClient) accountParts() (cano, productCode string) {
	parts := strings.SplitN(k.config.AccountNo, "-", 2)
	cano = parts[0]
	productCode = "01"
	if len(parts) > 1 {
		productCode = parts[1]
	}
	return cano, productCode
}

func (k *KISClient) headers(trID, token string) map[string]string {
	return map[string]string{
		"content-type":  "application/json; charset=utf-8",
		"authorization": "Bearer " + token,
		"appkey":        k.config.AppKey,
		"appsecret":     k.config.AppSecret,
		"tr_id":         trID,
	}
}

// Authenticate obtains an OAuth access token and stores it in the cache.
// Issuance is serialized across clients sharing the cache.
func (k *KISClient) Authenticate(ctx context.Context) error {
	k.tokens.Lock()
	defer k.tokens.Unlock()

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     k.config.AppKey,
		"appsecret":  k.config.AppSecret,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kis broker: marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.config.BaseURL+"/oauth2/tokenP", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("kis broker: create auth request: %w", err)
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("kis broker: auth request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("kis broker: parse auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || result.AccessToken == "" {
		return &APIError{Message: fmt.Sprintf("authentication failed (status %d)", resp.StatusCode)}
	}

	k.tokens.Put(k.config.AppKey, k.config.AccountNo, k.config.IsMock, result.AccessToken)
	return nil
}

// token returns the cached access token, authenticating lazily if needed.
func (k *KISClient) token(ctx context.Context) (string, error) {
	if t := k.tokens.Get(k.config.AppKey, k.config.AccountNo, k.config.IsMock); t != "" {
		return t, nil
	}
	if err := k.Authenticate(ctx); err != nil {
		return "", err
	}
	t := k.tokens.Get(k.config.AppKey, k.config.AccountNo, k.config.IsMock)
	if t == "" {
		return "", &APIError{Message: "authentication produced no token"}
	}
	return t, nil
}

// kisEnvelope is the common response wrapper on every KIS endpoint.
type kisEnvelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// doRequest issues one authenticated request with transport-level retry
// (kisMaxRetries attempts, linear kisRetryDelay backoff) and transparent
// token refresh: a token-expired response triggers one re-auth and one
// retry of the original request.
func (k *KISClient) doRequest(ctx context.Context, method, path, trID string, params url.Values, body any) ([]byte, error) {
	raw, envelope, err := k.doRequestOnce(ctx, method, path, trID, params, body)
	if err != nil {
		return nil, err
	}

	if kisTokenExpiredCodes[envelope.MsgCd] {
		k.tokens.Invalidate(k.config.AppKey, k.config.AccountNo, k.config.IsMock)
		if err := k.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("kis broker: re-authentication: %w", err)
		}
		raw, envelope, err = k.doRequestOnce(ctx, method, path, trID, params, body)
		if err != nil {
			return nil, err
		}
	}

	if envelope.RtCd != "0" {
		return nil, &APIError{Code: envelope.MsgCd, Message: envelope.Msg1}
	}
	return raw, nil
}

func (k *KISClient) doRequestOnce(ctx context.Context, method, path, trID string, params url.Values, body any) ([]byte, *kisEnvelope, error) {
	token, err := k.token(ctx)
	if err != nil {
		return nil, nil, err
	}

	reqURL := k.config.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("kis broker: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < kisMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * kisRetryDelay):
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return nil, nil, fmt.Errorf("kis broker: create request: %w", err)
		}
		for key, value := range k.headers(trID, token) {
			req.Header.Set(key, value)
		}

		resp, err := k.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		var envelope kisEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, nil, fmt.Errorf("kis broker: parse response: %w", err)
		}
		return raw, &envelope, nil
	}

	return nil, nil, fmt.Errorf("kis broker: network error after %d retries: %w", kisMaxRetries, lastErr)
}

// GetStockPrices returns current quotes for the given codes. KIS has no
// bulk quote endpoint, so the client fans out per code.
func (k *KISClient) GetStockPrices(ctx context.Context, codes []string) ([]StockPrice, error) {
	results := make([]StockPrice, 0, len(codes))
	for _, code := range codes {
		price, err := k.getStockPrice(ctx, code)
		if err != nil {
			return nil, err
		}
		results = append(results, *price)
	}
	return results, nil
}

func (k *KISClient) getStockPrice(ctx context.Context, code string) (*StockPrice, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", code)

	raw, err := k.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-price", "FHKST01010100", params, nil)
	if err != nil {
		return nil, fmt.Errorf("kis broker GetStockPrices %s: %w", code, err)
	}

	var data struct {
		Output struct {
			Name         string `json:"hts_kor_isnm"`
			CurrentPrice string `json:"stck_prpr"`
			Open         string `json:"stck_oprc"`
			High         string `json:"stck_hgpr"`
			Low          string `json:"stck_lwpr"`
			ChangeRate   string `json:"prdy_ctrt"`
			Volume       string `json:"acml_vol"`
		} `json:"output"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("kis broker GetStockPrices %s: parse output: %w", code, err)
	}

	return &StockPrice{
		Code:         code,
		Name:         data.Output.Name,
		CurrentPrice: kisFloat(data.Output.CurrentPrice),
		Open:         kisFloat(data.Output.Open),
		High:         kisFloat(data.Output.High),
		Low:          kisFloat(data.Output.Low),
		ChangeRate:   kisFloat(data.Output.ChangeRate),
		Volume:       kisInt(data.Output.Volume),
	}, nil
}

// GetDailyPrices returns up to count daily OHLCV bars for the code.
// KIS returns newest-first; the result is normalized to oldest-first
// before it reaches the indicator engine.
func (k *KISClient) GetDailyPrices(ctx context.Context, code string, count int) ([]DailyPrice, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", code)
	params.Set("FID_PERIOD_DIV_CODE", "D")
	params.Set("FID_ORG_ADJ_PRC", "0")

	raw, err := k.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-daily-price", "FHKST01010400", params, nil)
	if err != nil {
		return nil, fmt.Errorf("kis broker GetDailyPrices %s: %w", code, err)
	}

	var data struct {
		Output2 []struct {
			Date   string `json:"stck_bsop_date"`
			Open   string `json:"stck_oprc"`
			High   string `json:"stck_hgpr"`
			Low    string `json:"stck_lwpr"`
			Close  string `json:"stck_clpr"`
			Volume string `json:"acml_vol"`
		} `json:"output2"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("kis broker GetDailyPrices %s: parse output: %w", code, err)
	}

	items := data.Output2
	if len(items) > count {
		items = items[:count]
	}

	// Reverse newest-first into oldest-first.
	bars := make([]DailyPrice, len(items))
	for i, item := range items {
		bars[len(items)-1-i] = DailyPrice{
			Date:   item.Date,
			Open:   kisFloat(item.Open),
			High:   kisFloat(item.High),
			Low:    kisFloat(item.Low),
			Close:  kisFloat(item.Close),
			Volume: kisInt(item.Volume),
		}
	}
	return bars, nil
}

// PlaceOrder submits a cash order. A nil price denotes a market order.
func (k *KISClient) PlaceOrder(ctx context.Context, code string, side OrderSide, quantity int, price *float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("kis broker PlaceOrder: quantity must be positive, got %d", quantity)
	}

	// Transaction ID varies by mock/real and buy/sell.
	var trID string
	if k.config.IsMock {
		trID = "VTTC0801U"
		if side == OrderSideBuy {
			trID = "VTTC0802U"
		}
	} else {
		trID = "TTTC0801U"
		if side == OrderSideBuy {
			trID = "TTTC0802U"
		}
	}

	cano, productCode := k.accountParts()

	// Order division: 00 for limit, 01 for market.
	ordDvsn := "01"
	ordUnpr := "0"
	if price != nil {
		ordDvsn = "00"
		ordUnpr = strconv.Itoa(int(*price))
	}

	body := map[string]string{
		"CANO":         cano,
		"ACNT_PRDT_CD": productCode,
		"PDNO":         code,
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      strconv.Itoa(quantity),
		"ORD_UNPR":     ordUnpr,
	}

	raw, err := k.doRequest(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash", trID, nil, body)
	if err != nil {
		// Provider rejections come back as APIError; map them onto a
		// failed OrderResult so the caller sees the provider message.
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return &OrderResult{
				Success: false,
				Message: apiErr.Message,
				Status:  OrderStatusFailed,
			}, nil
		}
		return nil, fmt.Errorf("kis broker PlaceOrder: %w", err)
	}

	var data struct {
		Output struct {
			OrderID string `json:"ODNO"`
		} `json:"output"`
		Msg1 string `json:"msg1"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("kis broker PlaceOrder: parse response: %w", err)
	}

	message := data.Msg1
	if message == "" {
		message = "order placed"
	}
	if k.logger != nil {
		k.logger.Printf("[kis] order placed: %s %d %s order_id=%s", side, quantity, code, data.Output.OrderID)
	}
	return &OrderResult{
		Success: true,
		OrderID: data.Output.OrderID,
		Message: message,
		Status:  OrderStatusPending,
	}, nil
}

// balanceParams builds the common parameter set for the inquire-balance
// endpoint, which backs both GetPositions and GetBalance.
func (k *KISClient) balanceParams() url.Values {
	cano, productCode := k.accountParts()
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", productCode)
	params.Set("AFHR_FLPR_YN", "N")
	params.Set("OFL_YN", "")
	params.Set("INQR_DVSN", "02")
	params.Set("UNPR_DVSN", "01")
	params.Set("FUND_STTL_ICLD_YN", "N")
	params.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	params.Set("PRCS_DVSN", "00")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")
	return params
}

func (k *KISClient) balanceTrID() string {
	if k.config.IsMock {
		return "VTTC8434R"
	}
	return "TTTC8434R"
}

// GetPositions returns current stock positions from the balance inquiry.
func (k *KISClient) GetPositions(ctx context.Context) ([]Position, error) {
	raw, err := k.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", k.balanceTrID(), k.balanceParams(), nil)
	if err != nil {
		return nil, fmt.Errorf("kis broker GetPositions: %w", err)
	}

	var data struct {
		Output1 []struct {
			Code           string `json:"pdno"`
			Name           string `json:"prdt_name"`
			Quantity       string `json:"hldg_qty"`
			AvgPrice       string `json:"pchs_avg_pric"`
			CurrentPrice   string `json:"prpr"`
			ProfitLoss     string `json:"evlu_pfls_amt"`
			ProfitLossRate string `json:"evlu_pfls_rt"`
		} `json:"output1"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("kis broker GetPositions: parse response: %w", err)
	}

	positions := make([]Position, 0, len(data.Output1))
	for _, item := range data.Output1 {
		qty := int(kisInt(item.Quantity))
		if qty == 0 {
			continue
		}
		positions = append(positions, Position{
			StockCode:      item.Code,
			StockName:      item.Name,
			Quantity:       qty,
			AvgPrice:       kisFloat(item.AvgPrice),
			CurrentPrice:   kisFloat(item.CurrentPrice),
			ProfitLoss:     kisFloat(item.ProfitLoss),
			ProfitLossRate: kisFloat(item.ProfitLossRate),
		})
	}
	return positions, nil
}

// GetBalance returns account balance information from the balance inquiry.
func (k *KISClient) GetBalance(ctx context.Context) (*Balance, error) {
	raw, err := k.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", k.balanceTrID(), k.balanceParams(), nil)
	if err != nil {
		return nil, fmt.Errorf("kis broker GetBalance: %w", err)
	}

	var data struct {
		Output2 []struct {
			Deposit          string `json:"dnca_tot_amt"`
			AvailableAmount  string `json:"nxdy_excc_amt"`
			TotalEvaluation  string `json:"tot_evlu_amt"`
			NetWorth         string `json:"nass_amt"`
			PurchaseAmount   string `json:"pchs_amt_smtl_amt"`
			EvaluationAmount string `json:"evlu_amt_smtl_amt"`
		} `json:"output2"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("kis broker GetBalance: parse response: %w", err)
	}
	if len(data.Output2) == 0 {
		return nil, &APIError{Message: "balance inquiry returned no summary row"}
	}

	row := data.Output2[0]
	return &Balance{
		Deposit:          kisFloat(row.Deposit),
		AvailableAmount:  kisFloat(row.AvailableAmount),
		TotalEvaluation:  kisFloat(row.TotalEvaluation),
		NetWorth:         kisFloat(row.NetWorth),
		PurchaseAmount:   kisFloat(row.PurchaseAmount),
		EvaluationAmount: kisFloat(row.EvaluationAmount),
	}, nil
}

// kisFloat parses KIS's string-typed numeric fields, tolerating blanks.
func kisFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func kisInt(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
