package cache

import (
	"sync"

	"composer/pkg/models"
)

// SubscriptionManager owns the recalculated subscriptions of every scene the
// clip list references. Sync diffs the referenced set against the owned one.
type SubscriptionManager struct {
	mu            sync.Mutex
	subscriptions map[models.Scene]func()
	onRecalculate func(models.Scene)
}

// NewSubscriptionManager creates a manager that calls onRecalculate whenever
// a subscribed scene reports new internal timing.
func NewSubscriptionManager(onRecalculate func(models.Scene)) *SubscriptionManager {
	return &SubscriptionManager{
		subscriptions: make(map[models.Scene]func()),
		onRecalculate: onRecalculate,
	}
}

// Sync subscribes every scene in referenced that is not yet subscribed and
// drops subscriptions of scenes no longer referenced. It returns how many
// subscriptions were added and removed.
func (m *SubscriptionManager) Sync(referenced []models.Scene) (added, removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[models.Scene]struct{}, len(referenced))
	for _, scene := range referenced {
		if scene == nil {
			continue
		}
		keep[scene] = struct{}{}
		if _, ok := m.subscriptions[scene]; ok {
			continue
		}
		s := scene
		m.subscriptions[s] = s.OnRecalculated(func() {
			if m.onRecalculate != nil {
				m.onRecalculate(s)
			}
		})
		added++
	}

	for scene, unsubscribe := range m.subscriptions {
		if _, ok := keep[scene]; ok {
			continue
		}
		if unsubscribe != nil {
			unsubscribe()
		}
		delete(m.subscriptions, scene)
		removed++
	}

	return added, removed
}

// Subscribed reports whether scene currently has a subscription.
func (m *SubscriptionManager) Subscribed(scene models.Scene) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscriptions[scene]
	return ok
}

// Len returns the number of owned subscriptions.
func (m *SubscriptionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

// Close removes every subscription.
func (m *SubscriptionManager) Close() {
	m.Sync(nil)
}
