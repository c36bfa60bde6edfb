package loader

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ha1tch/sqlext/pkg/sdk"
)

// Cache memoizes resolutions. Entries are keyed by the qualified name and
// the candidate list, so a change in the files under the search paths
// produces a new key. Concurrent misses for the same key resolve once.
type Cache struct {
	mu      sync.RWMutex
	entries map[uint64]sdk.Factory
	max     int

	group  singleflight.Group
	hits   uint64
	misses uint64
}

// CacheStats reports cache usage.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// NewCache returns a cache holding at most max entries. A max of zero or
// less disables caching.
func NewCache(max int) *Cache {
	return &Cache{
		entries: make(map[uint64]sdk.Factory),
		max:     max,
	}
}

// Key hashes a qualified name and its candidate list.
func Key(qualified string, candidates []string) uint64 {
	d := xxhash.New()
	d.WriteString(qualified)
	for _, c := range candidates {
		d.Write([]byte{0})
		d.WriteString(c)
	}
	return d.Sum64()
}

// Get returns the cached factory for the key, calling resolve on a miss.
// Failed resolutions are not cached.
func (c *Cache) Get(qualified string, candidates []string, resolve func() (sdk.Factory, error)) (sdk.Factory, error) {
	if c == nil || c.max <= 0 {
		return resolve()
	}
	key := Key(qualified, candidates)

	c.mu.RLock()
	f, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return f, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		f, err := resolve()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.misses++
		if len(c.entries) >= c.max {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
		c.entries[key] = f
		c.mu.Unlock()
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(sdk.Factory), nil
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]sdk.Factory)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
