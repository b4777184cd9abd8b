// Package broker defines the brokerage abstraction layer.
//
// Design rules:
//   - No strategy logic inside the broker.
//   - The broker is used only for market data, execution, and account state.
//   - Daily price history handed to callers is always oldest-first.
package broker

import (
	"context"
	"fmt"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus represents the current state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// StockPrice is a real-time quote for a single stock.
type StockPrice struct {
	Code         string
	Name         string
	CurrentPrice float64
	Open         float64
	High         float64
	Low          float64
	ChangeRate   float64
	Volume       int64
}

// DailyPrice is one trading day's OHLCV bar.
type DailyPrice struct {
	Date   string // YYYYMMDD, exchange local time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// OrderResult is returned after placing an order.
type OrderResult struct {
	Success bool
	OrderID string
	Message string
	Status  OrderStatus
}

// Position represents a current holding at the brokerage. The engine
// reads positions but never writes them; a position changes only as a
// consequence of a filled order.
type Position struct {
	StockCode      string
	StockName      string
	Quantity       int
	AvgPrice       float64
	CurrentPrice   float64
	ProfitLoss     float64
	ProfitLossRate float64
}

// Balance holds account balance information.
type Balance struct {
	Deposit          float64
	AvailableAmount  float64
	TotalEvaluation  float64
	NetWorth         float64
	PurchaseAmount   float64
	EvaluationAmount float64
}

// APIError is a provider-reported error. It is not retried; the provider
// message is surfaced as-is.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker api error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("broker api error: %s", e.Message)
}

// Client is the contract between the trading engine and any brokerage.
type Client interface {
	// Authenticate obtains an access token. Implementations call it
	// lazily on first use and again on a token-expired response.
	Authenticate(ctx context.Context) error

	// GetStockPrices returns current quotes for the given codes.
	GetStockPrices(ctx context.Context, codes []string) ([]StockPrice, error)

	// GetDailyPrices returns up to count daily bars, oldest first.
	GetDailyPrices(ctx context.Context, code string, count int) ([]DailyPrice, error)

	// PlaceOrder submits an order. A nil price denotes a market order.
	PlaceOrder(ctx context.Context, code string, side OrderSide, quantity int, price *float64) (*OrderResult, error)

	// GetPositions returns all current open positions.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetBalance returns account balance information.
	GetBalance(ctx context.Context) (*Balance, error)
}
