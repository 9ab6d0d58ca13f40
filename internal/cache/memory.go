package cache

import (
	"sync"
	"time"
)

// Entry represents a cached item with an optional expiration.
type Entry[V any] struct {
	Value      V
	Expiration time.Time
}

// IsExpired checks if the cache entry has expired. Entries without an
// expiration never expire.
func (e *Entry[V]) IsExpired() bool {
	return !e.Expiration.IsZero() && time.Now().After(e.Expiration)
}

// Memory is a keyed in-memory cache. With a zero TTL entries live until they
// are deleted.
type Memory[K comparable, V any] struct {
	items map[K]*Entry[V]
	mutex sync.RWMutex
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once
}

// NewMemory creates a new memory cache
func NewMemory[K comparable, V any](ttl time.Duration) *Memory[K, V] {
	c := &Memory[K, V]{
		items: make(map[K]*Entry[V]),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}

	if ttl > 0 {
		go c.cleanupExpired()
	}

	return c
}

// Set stores a value in the cache
func (c *Memory[K, V]) Set(key K, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := &Entry[V]{Value: value}
	if c.ttl > 0 {
		entry.Expiration = time.Now().Add(c.ttl)
	}
	c.items[key] = entry
}

// Get retrieves a value from the cache
func (c *Memory[K, V]) Get(key K) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.items[key]
	if !exists || entry.IsExpired() {
		var zero V
		return zero, false
	}

	return entry.Value, true
}

// Has reports whether key holds a live entry.
func (c *Memory[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes a value from the cache
func (c *Memory[K, V]) Delete(key K) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Clear removes all items from the cache
func (c *Memory[K, V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[K]*Entry[V])
}

// Size returns the number of items in the cache
func (c *Memory[K, V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Keys returns the keys of all live entries.
func (c *Memory[K, V]) Keys() []K {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	keys := make([]K, 0, len(c.items))
	for key, entry := range c.items {
		if !entry.IsExpired() {
			keys = append(keys, key)
		}
	}
	return keys
}

// Close stops the cleanup goroutine.
func (c *Memory[K, V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

// cleanupExpired removes expired entries periodically
func (c *Memory[K, V]) cleanupExpired() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mutex.Lock()
			for key, entry := range c.items {
				if entry.IsExpired() {
					delete(c.items, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
