// Paper broker: simulates order execution in memory.
//
// It implements the same Client interface as the KIS broker so the
// engine logic is identical between paper and live modes. Market orders
// fill immediately at the current quote.
package broker

import (
	"context"
	"fmt"
	"sync"
)

// PaperBroker simulates brokerage operations for paper trading and tests.
type PaperBroker struct {
	mu          sync.Mutex
	balance     Balance
	quotes      map[string]StockPrice
	dailyPrices map[string][]DailyPrice
	positions   map[string]*Position
	orders      []PaperOrder
	nextID      int
}

// PaperOrder records an order placed against the paper broker.
type PaperOrder struct {
	OrderID  string
	Code     string
	Side     OrderSide
	Quantity int
	Price    float64 // fill price
}

// NewPaperBroker creates a paper broker with the given starting cash.
func NewPaperBroker(initialCapital float64) *PaperBroker {
	return &PaperBroker{
		balance: Balance{
			Deposit:         initialCapital,
			AvailableAmount: initialCapital,
			TotalEvaluation: initialCapital,
		},
		quotes:      make(map[string]StockPrice),
		dailyPrices: make(map[string][]DailyPrice),
		positions:   make(map[string]*Position),
	}
}

// SetQuote sets the current quote for a code.
func (pb *PaperBroker) SetQuote(price StockPrice) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.quotes[price.Code] = price
}

// SetDailyPrices sets the daily history for a code, oldest first.
func (pb *PaperBroker) SetDailyPrices(code string, bars []DailyPrice) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.dailyPrices[code] = bars
}

// SetPosition seeds an existing position, e.g. for sell-side tests.
func (pb *PaperBroker) SetPosition(p Position) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pos := p
	pb.positions[p.StockCode] = &pos
}

// Orders returns a copy of all orders placed so far.
func (pb *PaperBroker) Orders() []PaperOrder {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	out := make([]PaperOrder, len(pb.orders))
	copy(out, pb.orders)
	return out
}

func (pb *PaperBroker) Authenticate(_ context.Context) error {
	return nil
}

func (pb *PaperBroker) GetStockPrices(_ context.Context, codes []string) ([]StockPrice, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	results := make([]StockPrice, 0, len(codes))
	for _, code := range codes {
		if quote, ok := pb.quotes[code]; ok {
			results = append(results, quote)
		}
	}
	return results, nil
}

func (pb *PaperBroker) GetDailyPrices(_ context.Context, code string, count int) ([]DailyPrice, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	bars, ok := pb.dailyPrices[code]
	if !ok {
		return nil, &APIError{Message: fmt.Sprintf("no daily prices for %s", code)}
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]DailyPrice, len(bars))
	copy(out, bars)
	return out, nil
}

// PlaceOrder fills market orders immediately at the current quote (or the
// limit price when given) and adjusts cash and positions.
func (pb *PaperBroker) PlaceOrder(_ context.Context, code string, side OrderSide, quantity int, price *float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("paper broker: quantity must be positive, got %d", quantity)
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	fillPrice := 0.0
	if price != nil {
		fillPrice = *price
	} else if quote, ok := pb.quotes[code]; ok {
		fillPrice = quote.CurrentPrice
	} else if pos, ok := pb.positions[code]; ok {
		fillPrice = pos.CurrentPrice
	}
	if fillPrice <= 0 {
		return &OrderResult{
			Success: false,
			Message: fmt.Sprintf("no market price for %s", code),
			Status:  OrderStatusFailed,
		}, nil
	}

	pb.nextID++
	orderID := fmt.Sprintf("PAPER-%d", pb.nextID)
	cost := fillPrice * float64(quantity)

	switch side {
	case OrderSideBuy:
		if cost > pb.balance.AvailableAmount {
			return &OrderResult{
				Success: false,
				Message: "insufficient funds",
				Status:  OrderStatusFailed,
			}, nil
		}
		pb.balance.AvailableAmount -= cost
		pb.balance.PurchaseAmount += cost

		if pos, exists := pb.positions[code]; exists {
			totalQty := pos.Quantity + quantity
			pos.AvgPrice = (pos.AvgPrice*float64(pos.Quantity) + cost) / float64(totalQty)
			pos.Quantity = totalQty
			pos.CurrentPrice = fillPrice
		} else {
			name := code
			if quote, ok := pb.quotes[code]; ok && quote.Name != "" {
				name = quote.Name
			}
			pb.positions[code] = &Position{
				StockCode:    code,
				StockName:    name,
				Quantity:     quantity,
				AvgPrice:     fillPrice,
				CurrentPrice: fillPrice,
			}
		}

	case OrderSideSell:
		pos, exists := pb.positions[code]
		if !exists || pos.Quantity < quantity {
			return &OrderResult{
				Success: false,
				Message: "insufficient holdings",
				Status:  OrderStatusFailed,
			}, nil
		}
		pb.balance.AvailableAmount += cost
		pos.Quantity -= quantity
		if pos.Quantity == 0 {
			delete(pb.positions, code)
		}

	default:
		return nil, fmt.Errorf("paper broker: unknown order side %q", side)
	}

	pb.orders = append(pb.orders, PaperOrder{
		OrderID:  orderID,
		Code:     code,
		Side:     side,
		Quantity: quantity,
		Price:    fillPrice,
	})

	return &OrderResult{
		Success: true,
		OrderID: orderID,
		Message: "paper order filled",
		Status:  OrderStatusFilled,
	}, nil
}

func (pb *PaperBroker) GetPositions(_ context.Context) ([]Position, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	positions := make([]Position, 0, len(pb.positions))
	for _, pos := range pb.positions {
		p := *pos
		if quote, ok := pb.quotes[p.StockCode]; ok {
			p.CurrentPrice = quote.CurrentPrice
			p.ProfitLoss = (p.CurrentPrice - p.AvgPrice) * float64(p.Quantity)
			if p.AvgPrice > 0 {
				p.ProfitLossRate = (p.CurrentPrice - p.AvgPrice) / p.AvgPrice * 100
			}
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func (pb *PaperBroker) GetBalance(_ context.Context) (*Balance, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	b := pb.balance
	return &b, nil
}
