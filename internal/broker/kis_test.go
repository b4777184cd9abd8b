package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestKISClient(t *testing.T, baseURL string) *KISClient {
	t.Helper()
	tokens, err := NewTokenCache()
	if err != nil {
		t.Fatal(err)
	}
	client, err := NewKISClient(KISConfig{
		AppKey:    "test-key",
		AppSecret: "test-secret",
		AccountNo: "12345678-01",
		IsMock:    true,
		BaseURL:   baseURL,
	}, tokens, nil)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestKISClient_AuthenticateAndQuote(t *testing.T) {
	var authCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			atomic.AddInt32(&authCalls, 1)
			writeJSON(w, map[string]string{"access_token": "token-1"})
		case "/uapi/domestic-stock/v1/quotations/inquire-price":
			if got := r.Header.Get("authorization"); got != "Bearer token-1" {
				t.Errorf("missing bearer token, got %q", got)
			}
			if got := r.Header.Get("tr_id"); got != "FHKST01010100" {
				t.Errorf("wrong tr_id %q", got)
			}
			writeJSON(w, map[string]any{
				"rt_cd": "0",
				"output": map[string]string{
					"hts_kor_isnm": "Samsung Electronics",
					"stck_prpr":    "70000",
					"stck_oprc":    "69500",
					"stck_hgpr":    "70500",
					"stck_lwpr":    "69000",
					"prdy_ctrt":    "1.23",
					"acml_vol":     "12345678",
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestKISClient(t, srv.URL)
	prices, err := client.GetStockPrices(context.Background(), []string{"005930"})
	if err != nil {
		t.Fatal(err)
	}
	if len(prices) != 1 {
		t.Fatalf("expected 1 price, got %d", len(prices))
	}
	p := prices[0]
	if p.Code != "005930" || p.Name != "Samsung Electronics" || p.CurrentPrice != 70000 || p.Volume != 12345678 {
		t.Errorf("unexpected price %+v", p)
	}

	// Lazy auth happens exactly once.
	if atomic.LoadInt32(&authCalls) != 1 {
		t.Errorf("expected 1 auth call, got %d", authCalls)
	}

	// A second quote reuses the cached token.
	if _, err := client.GetStockPrices(context.Background(), []string{"005930"}); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&authCalls) != 1 {
		t.Errorf("token not reused: %d auth calls", authCalls)
	}
}

func TestKISClient_DailyPricesNormalizedOldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			writeJSON(w, map[string]string{"access_token": "token-1"})
		case "/uapi/domestic-stock/v1/quotations/inquire-daily-price":
			// KIS returns newest first.
			writeJSON(w, map[string]any{
				"rt_cd": "0",
				"output2": []map[string]string{
					{"stck_bsop_date": "20260107", "stck_clpr": "103", "acml_vol": "300"},
					{"stck_bsop_date": "20260106", "stck_clpr": "102", "acml_vol": "200"},
					{"stck_bsop_date": "20260105", "stck_clpr": "101", "acml_vol": "100"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestKISClient(t, srv.URL)
	bars, err := client.GetDailyPrices(context.Background(), "005930", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(bars))
	}
	if bars[0].Date != "20260105" || bars[2].Date != "20260107" {
		t.Errorf("bars not oldest-first: %v, %v", bars[0].Date, bars[2].Date)
	}
	if bars[0].Close != 101 || bars[2].Close != 103 {
		t.Errorf("close prices misordered: %v, %v", bars[0].Close, bars[2].Close)
	}
}

func TestKISClient_TokenExpiredTriggersOneReauth(t *testing.T) {
	var authCalls, quoteCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			atomic.AddInt32(&authCalls, 1)
			writeJSON(w, map[string]string{"access_token": "token-fresh"})
		case "/uapi/domestic-stock/v1/quotations/inquire-price":
			if atomic.AddInt32(&quoteCalls, 1) == 1 {
				writeJSON(w, map[string]any{"rt_cd": "1", "msg_cd": "EGW00123", "msg1": "token expired"})
				return
			}
			writeJSON(w, map[string]any{
				"rt_cd":  "0",
				"output": map[string]string{"stck_prpr": "500"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestKISClient(t, srv.URL)
	prices, err := client.GetStockPrices(context.Background(), []string{"000660"})
	if err != nil {
		t.Fatal(err)
	}
	if prices[0].CurrentPrice != 500 {
		t.Errorf("unexpected price %+v", prices[0])
	}
	if atomic.LoadInt32(&quoteCalls) != 2 {
		t.Errorf("expected exactly one retry, got %d quote calls", quoteCalls)
	}
	// Initial lazy auth plus the refresh.
	if atomic.LoadInt32(&authCalls) != 2 {
		t.Errorf("expected 2 auth calls, got %d", authCalls)
	}
}

func TestKISClient_ProviderErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			writeJSON(w, map[string]string{"access_token": "t"})
		default:
			writeJSON(w, map[string]any{"rt_cd": "1", "msg_cd": "APBK0013", "msg1": "invalid stock code"})
		}
	}))
	defer srv.Close()

	client := newTestKISClient(t, srv.URL)
	_, err := client.GetDailyPrices(context.Background(), "BOGUS", 100)
	if err == nil {
		t.Fatal("expected provider error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Message != "invalid stock code" {
		t.Errorf("provider message not surfaced as-is: %q", apiErr.Message)
	}
}

func TestKISClient_PlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			writeJSON(w, map[string]string{"access_token": "t"})
		case "/uapi/domestic-stock/v1/trading/order-cash":
			if got := r.Header.Get("tr_id"); got != "VTTC0802U" {
				t.Errorf("wrong buy tr_id %q", got)
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["PDNO"] != "005930" || body["ORD_QTY"] != "10" {
				t.Errorf("unexpected order body %v", body)
			}
			if body["ORD_DVSN"] != "01" || body["ORD_UNPR"] != "0" {
				t.Errorf("nil price must map to a market order, got %v", body)
			}
			if body["CANO"] != "12345678" || body["ACNT_PRDT_CD"] != "01" {
				t.Errorf("account not split correctly: %v", body)
			}
			writeJSON(w, map[string]any{
				"rt_cd":  "0",
				"msg1":   "order accepted",
				"output": map[string]string{"ODNO": "0000117057"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestKISClient(t, srv.URL)
	result, err := client.PlaceOrder(context.Background(), "005930", OrderSideBuy, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.OrderID != "0000117057" || result.Status != OrderStatusPending {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestKISClient_RejectedOrderIsFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			writeJSON(w, map[string]string{"access_token": "t"})
		case "/uapi/domestic-stock/v1/trading/order-cash":
			writeJSON(w, map[string]any{"rt_cd": "1", "msg_cd": "APBK0919", "msg1": "insufficient balance"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestKISClient(t, srv.URL)
	result, err := client.PlaceOrder(context.Background(), "005930", OrderSideBuy, 10, nil)
	if err != nil {
		t.Fatalf("provider rejection should not be a transport error: %v", err)
	}
	if result.Success || result.Status != OrderStatusFailed || result.Message != "insufficient balance" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestKISClient_PlaceOrder_InvalidQuantity(t *testing.T) {
	client := newTestKISClient(t, "http://127.0.0.1:0")
	if _, err := client.PlaceOrder(context.Background(), "005930", OrderSideBuy, 0, nil); err == nil {
		t.Error("zero quantity must be rejected before any request")
	}
}

func TestKISClient_PositionsAndBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			writeJSON(w, map[string]string{"access_token": "t"})
		case "/uapi/domestic-stock/v1/trading/inquire-balance":
			writeJSON(w, map[string]any{
				"rt_cd": "0",
				"output1": []map[string]string{
					{
						"pdno": "005930", "prdt_name": "Samsung Electronics",
						"hldg_qty": "10", "pchs_avg_pric": "68000.00",
						"prpr": "70000", "evlu_pfls_amt": "20000", "evlu_pfls_rt": "2.94",
					},
					// Zero-quantity rows are filtered out.
					{"pdno": "000660", "hldg_qty": "0"},
				},
				"output2": []map[string]string{
					{
						"dnca_tot_amt": "5000000", "nxdy_excc_amt": "4500000",
						"tot_evlu_amt": "5700000", "nass_amt": "5700000",
						"pchs_amt_smtl_amt": "680000", "evlu_amt_smtl_amt": "700000",
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestKISClient(t, srv.URL)

	positions, err := client.GetPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]
	if p.StockCode != "005930" || p.Quantity != 10 || p.AvgPrice != 68000 || p.CurrentPrice != 70000 {
		t.Errorf("unexpected position %+v", p)
	}

	balance, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if balance.AvailableAmount != 4_500_000 || balance.TotalEvaluation != 5_700_000 {
		t.Errorf("unexpected balance %+v", balance)
	}
}
