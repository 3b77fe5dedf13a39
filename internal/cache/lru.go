package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a capacity-bounded cache with recency eviction. Insertion beyond
// capacity silently drops the least-recently-touched key; staleness-based
// removal is the caller's policy, applied through DeleteFunc.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[K]*list.Element
	lru     *list.List
}

type cacheItem[K comparable, V any] struct {
	key        K
	data       V
	lastAccess time.Time
}

// NewLRU creates a cache holding at most maxSize entries.
func NewLRU[K comparable, V any](maxSize int) *LRU[K, V] {
	return &LRU[K, V]{
		maxSize: maxSize,
		items:   make(map[K]*list.Element),
		lru:     list.New(),
	}
}

// Get retrieves a value and refreshes its recency.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, exists := c.items[key]
	if !exists {
		return zero, false
	}

	item := elem.Value.(*cacheItem[K, V])
	item.lastAccess = time.Now()
	c.lru.MoveToFront(elem)
	return item.data, true
}

// GetOrAdd returns the value for key, constructing and inserting it with
// create on a miss. The second result reports whether a new value was made.
// Lookup and insert happen under one lock so concurrent callers for the same
// key observe a single value.
func (c *LRU[K, V]) GetOrAdd(key K, create func() V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		item := elem.Value.(*cacheItem[K, V])
		item.lastAccess = time.Now()
		c.lru.MoveToFront(elem)
		return item.data, false
	}

	data := create()
	c.addLocked(key, data)
	return data, true
}

// Set stores a value, evicting the oldest entry if over capacity.
func (c *LRU[K, V]) Set(key K, data V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		item := elem.Value.(*cacheItem[K, V])
		item.data = data
		item.lastAccess = time.Now()
		c.lru.MoveToFront(elem)
		return
	}
	c.addLocked(key, data)
}

func (c *LRU[K, V]) addLocked(key K, data V) {
	elem := c.lru.PushFront(&cacheItem[K, V]{key: key, data: data, lastAccess: time.Now()})
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes a key from the cache.
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem[K, V])
	delete(c.items, item.key)
	c.lru.Remove(elem)
}

// Range calls fn on every entry, most recent first, without touching recency.
// Iteration stops when fn returns false.
func (c *LRU[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem[K, V])
		if !fn(item.key, item.data) {
			return
		}
	}
}

// DeleteFunc removes every entry for which fn returns true and reports how
// many were removed. Removal happens under the cache lock, so a concurrent
// Get either sees the entry whole or not at all.
func (c *LRU[K, V]) DeleteFunc(fn func(key K, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem[K, V])
		if fn(item.key, item.data) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}
	return len(toRemove)
}

// Len returns the current number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
