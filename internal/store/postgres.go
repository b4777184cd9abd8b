// Postgres implementation of UserStore and WatchlistStore using pgx.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements UserStore and WatchlistStore on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and verifies connectivity.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("store: database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, is_active, trading_mode, COALESCE(slack_webhook_url, '')
		FROM users
		WHERE is_active = true
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list active users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var mode string
		if err := rows.Scan(&u.ID, &u.Email, &u.IsActive, &mode, &u.SlackWebhookURL); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		u.TradingMode = TradingMode(mode)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list active users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) GetUserWatchlist(ctx context.Context, userID string) ([]WatchlistItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stock_code, stock_name, is_active, target_price, stop_loss_price, quantity
		FROM watchlist_items
		WHERE user_id = $1 AND is_active = true
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: get watchlist for user %s: %w", userID, err)
	}
	defer rows.Close()

	var items []WatchlistItem
	for rows.Next() {
		var item WatchlistItem
		if err := rows.Scan(&item.StockCode, &item.StockName, &item.IsActive,
			&item.TargetPrice, &item.StopLossPrice, &item.Quantity); err != nil {
			return nil, fmt.Errorf("store: scan watchlist item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get watchlist for user %s: %w", userID, err)
	}
	return items, nil
}

func (s *PostgresStore) GetOverrides(ctx context.Context, userID, stockCode string) (*Overrides, error) {
	var o Overrides
	err := s.pool.QueryRow(ctx, `
		SELECT target_price, stop_loss_price, quantity
		FROM watchlist_items
		WHERE user_id = $1 AND stock_code = $2 AND is_active = true`,
		userID, stockCode).Scan(&o.TargetPrice, &o.StopLossPrice, &o.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get overrides for %s/%s: %w", userID, stockCode, err)
	}
	if o.TargetPrice == nil && o.StopLossPrice == nil && o.Quantity == nil {
		return nil, nil
	}
	return &o, nil
}
