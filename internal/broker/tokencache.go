// OAuth token cache for the KIS API.
//
// KIS rate-limits token issuance to one request per minute per app key,
// so tokens are cached per credential set. Tokens are valid for 24 hours;
// cached entries expire after 22 hours, leaving a safety buffer before
// the provider-side expiry.
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

const tokenCacheTTL = 22 * time.Hour

// TokenCache caches KIS access tokens per (app key, account, mock) tuple.
// It is safe for concurrent use and intended to be shared across all
// clients in a process that use the same credentials.
type TokenCache struct {
	mu    sync.Mutex
	cache *ristretto.Cache
}

// NewTokenCache creates a token cache.
func NewTokenCache() (*TokenCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 10,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	return &TokenCache{cache: cache}, nil
}

func tokenCacheKey(appKey, accountNo string, isMock bool) string {
	return fmt.Sprintf("%s|%s|%t", appKey, accountNo, isMock)
}

// Get returns the cached token for the credential set, or "" if absent
// or expired.
func (tc *TokenCache) Get(appKey, accountNo string, isMock bool) string {
	v, ok := tc.cache.Get(tokenCacheKey(appKey, accountNo, isMock))
	if !ok {
		return ""
	}
	token, _ := v.(string)
	return token
}

// Put stores a freshly issued token for the credential set.
func (tc *TokenCache) Put(appKey, accountNo string, isMock bool, token string) {
	tc.cache.SetWithTTL(tokenCacheKey(appKey, accountNo, isMock), token, 1, tokenCacheTTL)
	// Ristretto applies writes asynchronously; wait so a token stored
	// during authentication is visible to the request that follows.
	tc.cache.Wait()
}

// Invalidate drops the cached token, forcing re-authentication.
func (tc *TokenCache) Invalidate(appKey, accountNo string, isMock bool) {
	tc.cache.Del(tokenCacheKey(appKey, accountNo, isMock))
	tc.cache.Wait()
}

// Lock serializes token issuance across clients sharing the cache so
// only one authentication request is in flight per process.
func (tc *TokenCache) Lock()   { tc.mu.Lock() }
func (tc *TokenCache) Unlock() { tc.mu.Unlock() }
