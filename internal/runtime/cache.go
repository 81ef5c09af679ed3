package runtime

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dagucloud/forge/internal/core"
)

type resultKey struct {
	configuration string
	target        string
}

func (k resultKey) String() string {
	return k.configuration + "\x00" + k.target
}

// ResultCache holds at most one result per (configuration, target). It is
// safe for concurrent use; concurrent callers of GetOrRun for the same key
// share a single run.
type ResultCache struct {
	mu      sync.RWMutex
	results map[resultKey]*core.TargetResult
	group   singleflight.Group
}

// NewResultCache returns an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{results: make(map[resultKey]*core.TargetResult)}
}

func newResultKey(configuration, target string) resultKey {
	return resultKey{configuration: configuration, target: strings.ToLower(target)}
}

// Get returns the cached result of a target.
func (c *ResultCache) Get(configuration, target string) (*core.TargetResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[newResultKey(configuration, target)]
	return r, ok
}

// Add stores a result unless one is already present and returns the stored
// result.
func (c *ResultCache) Add(configuration, target string, r *core.TargetResult) *core.TargetResult {
	key := newResultKey(configuration, target)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.results[key]; ok {
		return existing
	}
	c.results[key] = r
	return r
}

// GetOrRun returns the cached result or runs fn to produce it. fn runs at
// most once per key among concurrent callers; callers that lose the race
// observe the winner's result. Results fn marks as not cacheable are handed
// to the waiting callers but not stored.
func (c *ResultCache) GetOrRun(configuration, target string, fn func() (*core.TargetResult, bool)) (*core.TargetResult, bool) {
	if r, ok := c.Get(configuration, target); ok {
		return r, false
	}
	key := newResultKey(configuration, target)
	ran := false
	v, _, _ := c.group.Do(key.String(), func() (any, error) {
		if r, ok := c.Get(configuration, target); ok {
			return r, nil
		}
		ran = true
		r, cacheable := fn()
		if !cacheable {
			return r, nil
		}
		return c.Add(configuration, target, r), nil
	})
	return v.(*core.TargetResult), ran
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Clear drops every result of a configuration.
func (c *ResultCache) Clear(configuration string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.results {
		if key.configuration == configuration {
			delete(c.results, key)
		}
	}
}
