// Package store defines the user and watchlist persistence interfaces.
//
// The trading daemon only reads: users and watchlist items are managed
// by the account surface, which is a separate service.
package store

import (
	"context"
)

// TradingMode mirrors the engine's operating mode as stored per user.
type TradingMode string

const (
	ModeAuto  TradingMode = "auto"
	ModeAlert TradingMode = "alert"
)

// User is an account with trading enabled.
type User struct {
	ID              string
	Email           string
	IsActive        bool
	TradingMode     TradingMode
	SlackWebhookURL string
}

// WatchlistItem is one stock on a user's watchlist.
type WatchlistItem struct {
	StockCode string
	StockName string
	IsActive  bool

	// Per-stock overrides of the risk configuration. Nil means no
	// override.
	TargetPrice   *float64
	StopLossPrice *float64
	Quantity      *int
}

// Overrides carries the per-stock risk overrides of a watchlist item.
type Overrides struct {
	TargetPrice   *float64
	StopLossPrice *float64
	Quantity      *int
}

// UserStore lists the users the scheduler should trade for.
type UserStore interface {
	ListActiveUsers(ctx context.Context) ([]User, error)
}

// WatchlistStore provides watchlist data per user.
type WatchlistStore interface {
	// GetUserWatchlist returns the user's active watchlist items.
	GetUserWatchlist(ctx context.Context, userID string) ([]WatchlistItem, error)

	// GetOverrides returns per-stock risk overrides, or nil when the
	// stock carries none.
	GetOverrides(ctx context.Context, userID, stockCode string) (*Overrides, error)
}
