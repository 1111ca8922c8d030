// Package odp integrates the audience-segment platform: qualified-segment
// fetching with caching, and a batched event sender.
package odp

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores fetched qualified segments per user key. Implementations
// must be safe for concurrent use.
type Cache interface {
	Lookup(key string) ([]string, bool)
	Save(key string, segments []string)
	Reset()
}

const (
	DefaultCacheSize    = 10000
	DefaultCacheTimeout = 600 * time.Second
)

// LRUCache is the default segments cache: least-recently-used eviction with
// a per-entry time-to-live.
type LRUCache struct {
	lru *expirable.LRU[string, []string]
}

func NewLRUCache(size int, timeout time.Duration) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if timeout <= 0 {
		timeout = DefaultCacheTimeout
	}
	return &LRUCache{lru: expirable.NewLRU[string, []string](size, nil, timeout)}
}

func (c *LRUCache) Lookup(key string) ([]string, bool) {
	return c.lru.Get(key)
}

func (c *LRUCache) Save(key string, segments []string) {
	c.lru.Add(key, segments)
}

func (c *LRUCache) Reset() {
	c.lru.Purge()
}
