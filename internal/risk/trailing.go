// Trailing stop: an upward-ratcheting stop-loss that follows the highest
// observed price and locks in profit as a position runs.
package risk

// TrailingStop tracks the highest price since entry and a dynamic stop
// price derived from it. The stop price only moves up, never down.
type TrailingStop struct {
	EntryPrice   float64
	TrailingPct  float64
	HighestPrice float64
	StopPrice    float64
}

// NewTrailingStop creates a trailing stop anchored at the entry price.
// trailingPct is the distance of the stop below the high, e.g. 5.0 for 5%.
func NewTrailingStop(entryPrice, trailingPct float64) *TrailingStop {
	return &TrailingStop{
		EntryPrice:   entryPrice,
		TrailingPct:  trailingPct,
		HighestPrice: entryPrice,
		StopPrice:    entryPrice * (1 - trailingPct/100),
	}
}

// UpdatePrice records a new market price. If it exceeds the highest price
// seen so far, the high and the stop price ratchet up.
func (t *TrailingStop) UpdatePrice(currentPrice float64) {
	if currentPrice > t.HighestPrice {
		t.HighestPrice = currentPrice
		t.StopPrice = currentPrice * (1 - t.TrailingPct/100)
	}
}

// IsTriggered reports whether the current price is at or below the stop.
func (t *TrailingStop) IsTriggered(currentPrice float64) bool {
	return currentPrice <= t.StopPrice
}
