package gstate

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

type mapProgramCache struct {
	mu       sync.RWMutex
	programs map[string]any
}

// NewProgramCache returns an unbounded, concurrency-safe ProgramCache.
func NewProgramCache() ProgramCache {
	return &mapProgramCache{programs: map[string]any{}}
}

func (c *mapProgramCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.programs[key]
	return value, ok
}

func (c *mapProgramCache) Set(key string, value any) {
	c.mu.Lock()
	c.programs[key] = value
	c.mu.Unlock()
}

// BoundedProgramCache keeps at most a fixed number of programs, evicting the
// least valuable ones by admission policy.
type BoundedProgramCache struct {
	cache *ristretto.Cache[string, any]
}

// NewBoundedProgramCache returns a ProgramCache holding up to maxEntries
// programs. Call Close when done with it.
func NewBoundedProgramCache(maxEntries int64) (*BoundedProgramCache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("gstate: program cache size must be positive, got %d", maxEntries)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("gstate: program cache: %w", err)
	}
	return &BoundedProgramCache{cache: cache}, nil
}

func (c *BoundedProgramCache) Get(key string) (any, bool) {
	return c.cache.Get(key)
}

// Set stores value with unit cost. Writes are buffered, so Set waits for them
// to be applied before returning.
func (c *BoundedProgramCache) Set(key string, value any) {
	if c.cache.Set(key, value, 1) {
		c.cache.Wait()
	}
}

// Close releases the cache's background goroutines.
func (c *BoundedProgramCache) Close() {
	c.cache.Close()
}
