package scene

import (
	"sync"

	"composer/pkg/models"
)

// Registry hands out one Media scene per video or image source.
type Registry struct {
	timing models.Timing

	mu     sync.Mutex
	scenes map[models.SourceKey]*Media
}

// NewRegistry creates an empty registry.
func NewRegistry(timing models.Timing) *Registry {
	return &Registry{
		timing: timing,
		scenes: make(map[models.SourceKey]*Media),
	}
}

// For returns the scene rendering source, creating it on first use.
func (r *Registry) For(source *models.ClipSource) models.Scene {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := source.Key()
	if s, ok := r.scenes[key]; ok {
		return s
	}
	s := NewMediaForSource(source, r.timing)
	r.scenes[key] = s
	return s
}

// Forget drops the scene of a source that no longer exists.
func (r *Registry) Forget(key models.SourceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scenes, key)
}
