package core

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// AnalysisCache memoizes expensive step results. Entries are addressed
// by operation name plus an md5 over the exact inputs that produced
// them; identical inputs always hit the cache instead of re-invoking
// the underlying adapter or client. There is no TTL and no capacity
// bound.
type AnalysisCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	hits    int64
	misses  int64
}

type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

func NewAnalysisCache() *AnalysisCache {
	return &AnalysisCache{entries: make(map[string][]byte)}
}

// InputHash derives the cache address for an exact input tuple.
func InputHash(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "\x00")))
	return fmt.Sprintf("%x", sum)
}

// Lookup unmarshals a cached result for op/inputHash into out and
// reports whether it was present.
func (c *AnalysisCache) Lookup(op, inputHash string, out any) bool {
	key := op + ":" + inputHash
	c.mu.RLock()
	data, ok := c.entries[key]
	c.mu.RUnlock()

	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	return true
}

// Store records a computed result for op/inputHash.
func (c *AnalysisCache) Store(op, inputHash string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	c.mu.Lock()
	c.entries[op+":"+inputHash] = data
	c.mu.Unlock()
	return nil
}

func (c *AnalysisCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}
