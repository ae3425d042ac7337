package evidence

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/soyeahso/daogate/internal/domain"
)

type cacheEntry struct {
	payload json.RawMessage
	fetched time.Time
}

// CachedFetcher memoises successful fetches per credential for a TTL.
// Failures are never cached.
type CachedFetcher struct {
	inner Fetcher
	ttl   time.Duration
	cache *lru.Cache[string, cacheEntry]
	now   func() time.Time
}

// NewCachedFetcher wraps inner with an LRU of the given size.
func NewCachedFetcher(inner Fetcher, size int, ttl time.Duration) (*CachedFetcher, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedFetcher{inner: inner, ttl: ttl, cache: c, now: time.Now}, nil
}

// Kind returns the wrapped fetcher's kind.
func (c *CachedFetcher) Kind() domain.AccountKind { return c.inner.Kind() }

// Fetch returns a cached payload when fresh, otherwise asks the wrapped fetcher.
func (c *CachedFetcher) Fetch(ctx context.Context, credential string) (json.RawMessage, error) {
	key := strings.ToLower(strings.TrimSpace(credential))
	if e, ok := c.cache.Get(key); ok {
		if c.ttl <= 0 || c.now().Sub(e.fetched) < c.ttl {
			return e.payload, nil
		}
		c.cache.Remove(key)
	}

	payload, err := c.inner.Fetch(ctx, credential)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cacheEntry{payload: payload, fetched: c.now()})
	return payload, nil
}

// Cached wraps every fetcher in its own cache.
func Cached(fetchers []Fetcher, size int, ttl time.Duration) ([]Fetcher, error) {
	out := make([]Fetcher, 0, len(fetchers))
	for _, f := range fetchers {
		cf, err := NewCachedFetcher(f, size, ttl)
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, nil
}
