// Package cache wraps a ristretto in-memory cache for two unrelated
// consumers: the compile action's packed-artifact cache and the add-file
// action's HTTP download cache. Both are small wrappers around the same
// admission/eviction policy, keyed and sized differently.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ArtifactCache stores packed "saves" archives from the compile action,
// keyed by a fingerprint over the inputs that produced them.
type ArtifactCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewArtifactCache constructs a cache bounded to sizeMiB with entries
// expiring after ttl.
func NewArtifactCache(sizeMiB int, ttl time.Duration) (*ArtifactCache, error) {
	c, err := newRistretto(sizeMiB)
	if err != nil {
		return nil, err
	}
	return &ArtifactCache{cache: c, ttl: ttl}, nil
}

// Get returns the packed archive for key, if present and not expired.
func (c *ArtifactCache) Get(key []byte) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Set stores the packed archive under key with the cache's configured TTL.
// Insertion is best-effort: ristretto may decline to admit the entry.
func (c *ArtifactCache) Set(key, value []byte) {
	c.cache.SetWithTTL(key, value, int64(len(value)), c.ttl)
}

// HTTPCache stores downloaded add-file HTTP bodies keyed by URL.
type HTTPCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewHTTPCache constructs a cache bounded to sizeMiB with entries expiring
// after ttl.
func NewHTTPCache(sizeMiB int, ttl time.Duration) (*HTTPCache, error) {
	c, err := newRistretto(sizeMiB)
	if err != nil {
		return nil, err
	}
	return &HTTPCache{cache: c, ttl: ttl}, nil
}

// Get returns the cached body for url, if present and not expired.
func (c *HTTPCache) Get(url string) ([]byte, bool) {
	v, ok := c.cache.Get(url)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Set stores body under url with the cache's configured TTL.
func (c *HTTPCache) Set(url string, body []byte) {
	c.cache.SetWithTTL(url, body, int64(len(body)), c.ttl)
}

func newRistretto(sizeMiB int) (*ristretto.Cache, error) {
	maxCost := int64(sizeMiB) * 1024 * 1024
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost / 1000 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: constructing ristretto cache: %w", err)
	}
	return c, nil
}
