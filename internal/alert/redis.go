package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, for deployments where the
// trading daemon and the approval surface run in separate processes.
// Keys follow the schema alert:{id}; PopAtomic locks lock:alert:{id}
// with SET NX and a 10-second expiry.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed alert store from a redis:// URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("alert store: parse redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client (used by tests).
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) Save(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alert store: marshal alert %s: %w", a.AlertID, err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+a.AlertID, payload, TTL).Err(); err != nil {
		return fmt.Errorf("alert store: save alert %s: %w", a.AlertID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, alertID string) (*Alert, error) {
	payload, err := s.rdb.Get(ctx, keyPrefix+alertID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alert store: get alert %s: %w", alertID, err)
	}

	var a Alert
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("alert store: decode alert %s: %w", alertID, err)
	}
	return &a, nil
}

func (s *RedisStore) Pop(ctx context.Context, alertID string) (*Alert, error) {
	a, err := s.Get(ctx, alertID)
	if err != nil || a == nil {
		return a, err
	}
	if _, err := s.Delete(ctx, alertID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *RedisStore) PopAtomic(ctx context.Context, alertID string) (*Alert, error) {
	lockKey := lockPrefix + alertID
	acquired, err := s.rdb.SetNX(ctx, lockKey, "1", lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("alert store: acquire lock for %s: %w", alertID, err)
	}
	if !acquired {
		return nil, nil
	}
	defer s.rdb.Del(ctx, lockKey)

	return s.Pop(ctx, alertID)
}

func (s *RedisStore) Delete(ctx context.Context, alertID string) (bool, error) {
	removed, err := s.rdb.Del(ctx, keyPrefix+alertID).Result()
	if err != nil {
		return false, fmt.Errorf("alert store: delete alert %s: %w", alertID, err)
	}
	return removed > 0, nil
}

func (s *RedisStore) GetAll(ctx context.Context) ([]Alert, error) {
	var alerts []Alert
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("alert store: scan alerts: %w", err)
		}
		for _, key := range keys {
			a, err := s.Get(ctx, strings.TrimPrefix(key, keyPrefix))
			if err != nil {
				return nil, err
			}
			if a != nil {
				alerts = append(alerts, *a)
			}
		}
		cursor = next
		if cursor == 0 {
			return alerts, nil
		}
	}
}
