package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStoreFromClient(rdb), m
}

func TestRedisStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	if err := s.Save(ctx, testAlert("a1")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.StockCode != "005930" || got.SuggestedQuantity != 10 {
		t.Fatalf("unexpected alert %+v", got)
	}

	found, err := s.Delete(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("delete should report the value was present")
	}

	if got, _ := s.Get(ctx, "a1"); got != nil {
		t.Error("alert should be gone after delete")
	}

	// Deleting again is a no-op.
	found, err = s.Delete(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("second delete should report absence")
	}
}

func TestRedisStore_GetMissing(t *testing.T) {
	s, _ := newTestRedisStore(t)
	got, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for missing alert, got %+v", got)
	}
}

func TestRedisStore_SaveSetsTTL(t *testing.T) {
	ctx := context.Background()
	s, m := newTestRedisStore(t)

	if err := s.Save(ctx, testAlert("a1")); err != nil {
		t.Fatal(err)
	}
	if ttl := m.TTL(keyPrefix + "a1"); ttl <= 0 || ttl > TTL {
		t.Errorf("expected TTL in (0, %v], got %v", TTL, ttl)
	}

	// Past the TTL the key is gone.
	m.FastForward(TTL + time.Second)
	if got, _ := s.Get(ctx, "a1"); got != nil {
		t.Error("alert should have expired")
	}
}

func TestRedisStore_PopAtomic_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	if err := s.Save(ctx, testAlert("a1")); err != nil {
		t.Fatal(err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	results := make([]*Alert, attempts)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			a, err := s.PopAtomic(ctx, "a1")
			if err != nil {
				t.Errorf("pop %d: %v", i, err)
				return
			}
			results[i] = a
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, a := range results {
		if a != nil {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestRedisStore_PopAtomic_LockContention(t *testing.T) {
	ctx := context.Background()
	s, m := newTestRedisStore(t)
	if err := s.Save(ctx, testAlert("a1")); err != nil {
		t.Fatal(err)
	}

	// Another process holds the lock: the pop loses and the alert stays.
	if err := m.Set(lockPrefix+"a1", "1"); err != nil {
		t.Fatal(err)
	}

	a, err := s.PopAtomic(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if a != nil {
		t.Fatal("contended pop must return none")
	}
	if got, _ := s.Get(ctx, "a1"); got == nil {
		t.Error("alert must survive a contended pop")
	}

	// Lock released: the next pop wins.
	m.Del(lockPrefix + "a1")
	a, err = s.PopAtomic(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.AlertID != "a1" {
		t.Fatalf("expected the alert after the lock cleared, got %+v", a)
	}
}

func TestRedisStore_PopAtomic_ReleasesLock(t *testing.T) {
	ctx := context.Background()
	s, m := newTestRedisStore(t)
	s.Save(ctx, testAlert("a1"))

	if _, err := s.PopAtomic(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if m.Exists(lockPrefix + "a1") {
		t.Error("lock must be released after the pop completes")
	}
}

func TestRedisStore_GetAll(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	s.Save(ctx, testAlert("a1"))
	s.Save(ctx, testAlert("a2"))
	s.Save(ctx, testAlert("a3"))

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 alerts, got %d", len(all))
	}
}
