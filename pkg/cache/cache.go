package cache

import (
	"container/list"
	"sync"
)

// ConflictCache is an LRU cache mapping keys to the execution time of the
// most recent locally-applied write. The local write path populates it; the
// replication senders only read it to decide whether a binlog record is
// still the freshest known value for its key.
type ConflictCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lru      *list.List

	// Statistics
	hits   int64
	misses int64
}

type cacheEntry struct {
	key      string
	execTime int32
}

// NewConflictCache creates a cache bounded to capacity entries.
func NewConflictCache(capacity int) *ConflictCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &ConflictCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Lookup returns the cached exec time for key. A lookup counts as a use for
// eviction ordering.
func (c *ConflictCache) Lookup(key string) (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).execTime, true
	}

	c.misses++
	return 0, false
}

// Put records the exec time of a locally-applied write to key, evicting the
// least recently used entry under capacity pressure.
func (c *ConflictCache) Put(key string, execTime int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).execTime = execTime
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, execTime: execTime})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		c.evict()
	}
}

// evict removes the least recently used entry. Caller holds c.mu.
func (c *ConflictCache) evict() {
	elem := c.lru.Back()
	if elem != nil {
		c.lru.Remove(elem)
		delete(c.cache, elem.Value.(*cacheEntry).key)
	}
}

// Size returns the current number of entries.
func (c *ConflictCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns hit/miss counters and the hit rate.
func (c *ConflictCache) Stats() (hits, misses int64, hitRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits = c.hits
	misses = c.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}
