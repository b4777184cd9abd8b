package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory UserStore and WatchlistStore for tests
// and single-user deployments without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	users      []User
	watchlists map[string][]WatchlistItem // user ID -> items
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		watchlists: make(map[string][]WatchlistItem),
	}
}

// AddUser registers a user.
func (s *MemoryStore) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
}

// SetWatchlist replaces a user's watchlist.
func (s *MemoryStore) SetWatchlist(userID string, items []WatchlistItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchlists[userID] = items
}

func (s *MemoryStore) ListActiveUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []User
	for _, u := range s.users {
		if u.IsActive {
			active = append(active, u)
		}
	}
	return active, nil
}

func (s *MemoryStore) GetUserWatchlist(_ context.Context, userID string) ([]WatchlistItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []WatchlistItem
	for _, item := range s.watchlists[userID] {
		if item.IsActive {
			active = append(active, item)
		}
	}
	return active, nil
}

func (s *MemoryStore) GetOverrides(_ context.Context, userID, stockCode string) (*Overrides, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.watchlists[userID] {
		if item.StockCode != stockCode || !item.IsActive {
			continue
		}
		if item.TargetPrice == nil && item.StopLossPrice == nil && item.Quantity == nil {
			return nil, nil
		}
		return &Overrides{
			TargetPrice:   item.TargetPrice,
			StopLossPrice: item.StopLossPrice,
			Quantity:      item.Quantity,
		}, nil
	}
	return nil, nil
}
