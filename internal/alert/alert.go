// Package alert stores pending trade alerts awaiting user approval.
//
// Alerts are created by the trading engine in ALERT mode and expire five
// minutes after creation. The store abstracts over an in-memory map
// (tests, single-process deployments) and Redis (shared across
// processes). PopAtomic is the only concurrent-mutator ordering
// primitive: of two simultaneous approval attempts for the same alert,
// exactly one receives it.
package alert

import (
	"context"
	"time"

	"github.com/kingsick/autotrader/internal/strategy"
)

const (
	// TTL is the lifetime of a pending alert.
	TTL = 300 * time.Second

	keyPrefix  = "alert:"
	lockPrefix = "lock:alert:"

	// lockTTL bounds how long a PopAtomic lock can be held, preventing
	// deadlocks if a holder dies mid-approval.
	lockTTL = 10 * time.Second
)

// Alert is a pending trade action awaiting approval.
type Alert struct {
	AlertID           string              `json:"alert_id"`
	UserID            string              `json:"user_id"`
	StockCode         string              `json:"stock_code"`
	StockName         string              `json:"stock_name"`
	SignalKind        strategy.SignalKind `json:"signal_type"`
	Confidence        float64             `json:"confidence"`
	CurrentPrice      float64             `json:"current_price"`
	SuggestedQuantity int                 `json:"suggested_quantity"`
	Reason            string              `json:"reason"`
	CreatedAt         time.Time           `json:"created_at"`
}

// Expired reports whether the alert is past its TTL at the given time.
func (a Alert) Expired(now time.Time) bool {
	return now.Sub(a.CreatedAt) > TTL
}

// Store persists pending alerts with TTL.
type Store interface {
	// Save writes the alert with the standard TTL, overwriting any
	// previous value under the same ID.
	Save(ctx context.Context, a Alert) error

	// Get returns the alert or nil. It never extends the TTL.
	Get(ctx context.Context, alertID string) (*Alert, error)

	// Pop gets and deletes the alert. Not atomic; for single-writer
	// contexts only. Use PopAtomic for concurrent approval.
	Pop(ctx context.Context, alertID string) (*Alert, error)

	// PopAtomic gets and deletes the alert under a per-alert lock.
	// Returns nil when the alert is absent or the lock is contended.
	PopAtomic(ctx context.Context, alertID string) (*Alert, error)

	// Delete removes the alert and reports whether a value was present.
	Delete(ctx context.Context, alertID string) (bool, error)

	// GetAll enumerates all pending alerts. May be eventually consistent.
	GetAll(ctx context.Context) ([]Alert, error)
}
