package cache

import (
	"sync"
	"time"

	"github.com/ValentinKolb/tkv/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("cache")

// DefaultMaxEntries bounds the cache when no size is given.
const DefaultMaxEntries = 1024

// Entry is a cached value and the time it was cached.
type Entry struct {
	Value     []byte
	Timestamp time.Time
}

// Fresh reports whether e is younger than ttl at now.
func Fresh(e Entry, now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) < ttl
}

// Cache is a bounded map from key to Entry. When full, inserting a new key
// evicts the least recently used one. Expiry is checked by the caller with
// Fresh; expired entries stay until they are replaced, invalidated or evicted.
//
// Thread-safety: all methods are safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]Entry
	recency    *util.MapHeap[string] // priority = access tick, lowest is evicted
	tick       uint64
	maxEntries int
	clock      func() time.Time
	evictions  uint64
}

// New creates a cache holding at most maxEntries keys (0 = DefaultMaxEntries).
// clock stamps new entries, nil means time.Now.
func New(maxEntries int, clock func() time.Time) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		entries:    make(map[string]Entry),
		recency:    util.NewMapHeap[string](),
		maxEntries: maxEntries,
		clock:      clock,
	}
}

// touch marks key as used. The caller must hold c.mu.
func (c *Cache) touch(key string) {
	c.tick++
	c.recency.AddItem(key, c.tick)
}

// Get returns a copy of the entry for key and marks it as recently used.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	c.touch(key)
	return Entry{Value: append([]byte(nil), e.Value...), Timestamp: e.Timestamp}, true
}

// Put stores a copy of value for key, stamped with the current time.
func (c *Cache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxEntries {
			oldest, ok := c.recency.PopMin()
			if !ok {
				break
			}
			delete(c.entries, oldest.Key)
			c.evictions++
			Logger.Debugf("evicted %q", oldest.Key)
		}
	}

	c.entries[key] = Entry{
		Value:     append([]byte(nil), value...),
		Timestamp: c.clock(),
	}
	c.touch(key)
}

// Invalidate removes key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.recency.RemoveByKey(key)
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
	c.recency.Reset()
}

// Len returns the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Evictions returns how many entries were evicted to respect the size bound.
func (c *Cache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
