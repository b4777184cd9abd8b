// Daily price history source with a short-lived cache.
//
// One trading tick may need the same stock's history twice (the
// concurrent prefetch and the sequential position or watchlist pass), and the indicator inputs change at most
// once per day, so bars are cached briefly to avoid refetching within a
// tick.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/kingsick/autotrader/internal/broker"
)

// DefaultHistoryCount is how many daily bars to request per stock.
const DefaultHistoryCount = 100

// DefaultHistoryTTL keeps cached bars alive slightly less than one tick
// interval so consecutive ticks observe fresh closes.
const DefaultHistoryTTL = 4 * time.Minute

// History fetches daily OHLCV bars through a broker client, caching
// results per stock code.
type History struct {
	source broker.Client
	cache  *ristretto.Cache
	ttl    time.Duration
	count  int
}

// NewHistory creates a cached history source. ttl <= 0 selects the
// default.
func NewHistory(source broker.Client, ttl time.Duration) (*History, error) {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 14,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("market history: %w", err)
	}
	return &History{
		source: source,
		cache:  cache,
		ttl:    ttl,
		count:  DefaultHistoryCount,
	}, nil
}

// GetDailyPrices returns daily bars oldest-first, from cache when fresh.
func (h *History) GetDailyPrices(ctx context.Context, code string) ([]broker.DailyPrice, error) {
	if v, ok := h.cache.Get(code); ok {
		if bars, ok := v.([]broker.DailyPrice); ok {
			return bars, nil
		}
	}

	bars, err := h.source.GetDailyPrices(ctx, code, h.count)
	if err != nil {
		return nil, err
	}

	h.cache.SetWithTTL(code, bars, 1, h.ttl)
	// Apply the buffered write now so the second pass over the same
	// code within a tick hits the cache.
	h.cache.Wait()
	return bars, nil
}

// Invalidate drops the cached bars for a code.
func (h *History) Invalidate(code string) {
	h.cache.Del(code)
	h.cache.Wait()
}

// ClosesAndVolumes splits bars into the parallel close-price and volume
// series the signal generator consumes.
func ClosesAndVolumes(bars []broker.DailyPrice) (closes, volumes []float64) {
	closes = make([]float64, len(bars))
	volumes = make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
		volumes[i] = float64(bar.Volume)
	}
	return closes, volumes
}
