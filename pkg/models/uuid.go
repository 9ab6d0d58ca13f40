package models

import "sync"

// UUIDCounter hands out process-unique, monotonic clip ids. It is owned by the
// composing context and persisted alongside the clip list.
type UUIDCounter struct {
	mu   sync.Mutex
	next int64
}

// NewUUIDCounter creates a counter that will hand out next first.
func NewUUIDCounter(next int64) *UUIDCounter {
	return &UUIDCounter{next: next}
}

// Next returns the next id and advances the counter.
func (c *UUIDCounter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	return id
}

// Peek returns the id Next would hand out, without advancing.
func (c *UUIDCounter) Peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Set moves the counter. It never moves below an id already handed out by
// this counter.
func (c *UUIDCounter) Set(next int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if next > c.next {
		c.next = next
	}
}
