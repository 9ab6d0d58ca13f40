package store

import "sync"

// Value is an observable cell: a value plus change notification. The owner
// writes through Set/Update, everyone else reads through Get or Subscribe.
type Value[T any] struct {
	value     T
	mutex     sync.RWMutex
	listeners []chan T
}

// NewValue creates a cell holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		value:     initial,
		listeners: make([]chan T, 0),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.value
}

// Set replaces the value and notifies listeners.
func (v *Value[T]) Set(value T) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.value = value
	v.notifyListeners()
}

// Update replaces the value with fn(current) and notifies listeners.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.value = fn(v.value)
	v.notifyListeners()
	return v.value
}

// Subscribe adds a listener for value changes.
func (v *Value[T]) Subscribe() <-chan T {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	ch := make(chan T, 10) // Buffered channel to prevent blocking
	v.listeners = append(v.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent leaks)
func (v *Value[T]) Unsubscribe(ch <-chan T) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	for i, listener := range v.listeners {
		if listener == ch {
			close(listener)
			v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
			break
		}
	}
}

// notifyListeners sends the value to all subscribers (must be called with lock held).
// A listener whose buffer is full is dropped and closed.
func (v *Value[T]) notifyListeners() {
	kept := v.listeners[:0]
	for _, listener := range v.listeners {
		select {
		case listener <- v.value:
			kept = append(kept, listener)
		default:
			close(listener)
		}
	}
	v.listeners = kept
}
