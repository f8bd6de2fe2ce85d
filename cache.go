package nodegraph

import (
	"bytes"
	"container/list"
	"encoding/gob"
	"sync"
)

// CachePayload is an opaque value stored in the [Cache]. Implementing
// [Sized] lets a payload report its own byte size; payloads that don't are
// measured with a gob-encode round trip instead (see [Cache.Store]).
type CachePayload any

// Sized is implemented by a [CachePayload] that knows its own size in
// bytes, avoiding the gob-measurement fallback.
type Sized interface {
	Size() int
}

// DefaultMemoryLimit is the finite ceiling [NewDefaultCache] uses in place
// of an explicit limit.
const DefaultMemoryLimit = 256 << 20 // 256 MiB

// CacheStatistics is a snapshot of a [Cache]'s counters.
type CacheStatistics struct {
	Size          int
	MemoryUsage   int
	Hits          int64
	Misses        int64
	HitRate       float64
	TotalAccesses int64
}

// Cache is a two-level (node, sub-key) -> payload store with a memory
// ceiling and LRU eviction. It guarantees that the sum of stored payload
// sizes never exceeds its memory limit, and that every live key is
// reachable from its access-ordering index.
//
// A retrieval or a successful Has call counts as an access and updates LRU
// recency the same way a Retrieve would: Has is treated as a lookup, not a
// read-only probe.
//
// A Cache is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	limit  int
	used   int
	order  *list.List // front = most recently used
	byKey  map[CacheKey]*list.Element

	hits, misses, totalAccesses int64
}

type cacheEntry struct {
	key     CacheKey
	payload CachePayload
	size    int
}

// NewCache returns an empty cache with the given memory ceiling in bytes.
// memoryLimit must be strictly positive.
func NewCache(memoryLimit int) (*Cache, error) {
	if memoryLimit <= 0 {
		return nil, newError(InvalidArgument, "memory limit must be positive")
	}
	return &Cache{
		limit: memoryLimit,
		order: list.New(),
		byKey: make(map[CacheKey]*list.Element),
	}, nil
}

// NewDefaultCache returns an empty cache using [DefaultMemoryLimit].
func NewDefaultCache() *Cache {
	c, _ := NewCache(DefaultMemoryLimit)
	return c
}

func payloadSize(v CachePayload) int {
	if s, ok := v.(Sized); ok {
		return s.Size()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		// A payload that can't be measured either way is treated as a
		// single byte so capacity/eviction accounting still makes
		// progress instead of silently under-counting it as zero.
		return 1
	}
	return buf.Len()
}

// Store records v under (n, k), evicting least-recently-used entries as
// necessary to keep total usage within the memory limit. Store fails with
// [CapacityExceeded] if v alone is larger than the memory limit, in which
// case no eviction is performed and the cache is left unchanged.
func (c *Cache) Store(n NodeId, k string, v CachePayload) error {
	key := CacheKey{Node: n, SubKey: k}
	if err := key.validate(); err != nil {
		return err
	}
	size := payloadSize(v)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.limit {
		return newErrorf(CapacityExceeded, "payload of %d bytes exceeds memory limit of %d bytes", size, c.limit)
	}

	if existing, ok := c.byKey[key]; ok {
		c.used -= existing.Value.(*cacheEntry).size
		c.order.Remove(existing)
		delete(c.byKey, key)
	}

	for c.used+size > c.limit {
		c.evictOldestLocked()
	}

	entry := &cacheEntry{key: key, payload: v, size: size}
	c.byKey[key] = c.order.PushFront(entry)
	c.used += size
	return nil
}

// evictOldestLocked removes the single least-recently-used entry. Callers
// must hold c.mu and must only call this when the cache is non-empty.
func (c *Cache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*cacheEntry)
	c.order.Remove(oldest)
	delete(c.byKey, entry.key)
	c.used -= entry.size
}

// Retrieve returns the payload stored under (n, k). ok is false if no live
// entry exists, either because none was ever stored or because it was
// invalidated or evicted.
func (c *Cache) Retrieve(n NodeId, k string) (v CachePayload, ok bool) {
	key := CacheKey{Node: n, SubKey: k}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalAccesses++
	elem, found := c.byKey[key]
	if !found {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).payload, true
}

// Has reports whether (n, k) has a live entry. It counts as an access
// contributing to the hit rate and, like Retrieve, updates LRU recency.
func (c *Cache) Has(n NodeId, k string) bool {
	key := CacheKey{Node: n, SubKey: k}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalAccesses++
	elem, found := c.byKey[key]
	if !found {
		c.misses++
		return false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return true
}

// InvalidateNode removes every entry belonging to node n.
func (c *Cache) InvalidateNode(n NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.byKey {
		if key.Node != n {
			continue
		}
		entry := elem.Value.(*cacheEntry)
		c.order.Remove(elem)
		delete(c.byKey, key)
		c.used -= entry.size
	}
}

// InvalidateKey removes the single entry (n, k), if present.
func (c *Cache) InvalidateKey(n NodeId, k string) {
	key := CacheKey{Node: n, SubKey: k}
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.byKey[key]
	if !ok {
		return
	}
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.byKey, key)
	c.used -= entry.size
}

// Clear removes every entry, resetting size and memory usage to zero. Hit
// and miss counters are left untouched; use [Cache.ResetStatistics] to
// clear those.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.byKey = make(map[CacheKey]*list.Element)
	c.used = 0
}

// ResetStatistics zeroes the hit/miss/access counters without touching
// stored entries.
func (c *Cache) ResetStatistics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.totalAccesses = 0, 0, 0
}

// Statistics returns a consistent snapshot of the cache's size, memory
// usage, and hit/miss counters.
func (c *Cache) Statistics() CacheStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rate float64
	if c.totalAccesses > 0 {
		rate = float64(c.hits) / float64(c.totalAccesses)
	}
	return CacheStatistics{
		Size:          len(c.byKey),
		MemoryUsage:   c.used,
		Hits:          c.hits,
		Misses:        c.misses,
		HitRate:       rate,
		TotalAccesses: c.totalAccesses,
	}
}
