package scene

import (
	"context"
	"sync"

	"composer/pkg/models"
)

// Names of the placeholder scenes. Sources with these names are internal and
// never offered as clip sources.
const (
	EmptyName   = "EmptyTimelineScene"
	MissingName = "MissingClipScene"
)

// Placeholder renders gaps and unresolved clips. The playback driver resets it
// but never advances it.
type Placeholder struct {
	name   string
	timing models.Timing

	mu     sync.Mutex
	resets int
}

// NewEmpty creates the scene shown where no clip covers the timeline.
func NewEmpty(timing models.Timing) *Placeholder {
	return &Placeholder{name: EmptyName, timing: timing}
}

// NewMissing creates the scene shown for clips whose source is missing.
func NewMissing(timing models.Timing) *Placeholder {
	return &Placeholder{name: MissingName, timing: timing}
}

// IsInternal reports whether name belongs to a placeholder scene.
func IsInternal(name string) bool {
	return name == EmptyName || name == MissingName
}

// IsPlaceholder reports whether s is a placeholder scene.
func IsPlaceholder(s models.Scene) bool {
	_, ok := s.(*Placeholder)
	return ok
}

func (p *Placeholder) Name() string { return p.name }

func (p *Placeholder) Reset(ctx context.Context, previous models.Scene) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return nil
}

func (p *Placeholder) Next(ctx context.Context) error { return nil }
func (p *Placeholder) IsFinished() bool               { return false }
func (p *Placeholder) CanTransitionOut() bool         { return false }
func (p *Placeholder) IsAfterTransitionIn() bool      { return true }
func (p *Placeholder) FirstFrame() int                { return 0 }
func (p *Placeholder) LastFrame() int                 { return 1 }
func (p *Placeholder) Timing() models.Timing          { return p.timing }

func (p *Placeholder) OnRecalculated(fn func()) func() {
	return func() {}
}

// Resets returns how many times the placeholder has been reset.
func (p *Placeholder) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}
