package scene

import (
	"context"
	"math"
	"sync"

	"composer/pkg/models"
)

// Media is a frame-counting scene. It backs video and image clips and stands
// in for host scenes when the composer runs headless.
type Media struct {
	name   string
	timing models.Timing

	mu           sync.Mutex
	first        int
	last         int
	transitionIn int
	frame        int
	resets       int
	listeners    map[int]func()
	nextListener int
}

// NewMedia creates a scene spanning frames [0, frames) at the given timing.
func NewMedia(name string, frames int, timing models.Timing) *Media {
	return &Media{
		name:      name,
		timing:    timing,
		last:      frames,
		listeners: make(map[int]func()),
	}
}

// NewMediaForSource creates the scene that renders source. Sources without an
// intrinsic length get a scene that never finishes.
func NewMediaForSource(source *models.ClipSource, timing models.Timing) *Media {
	frames := math.MaxInt32
	if !source.Unbounded() {
		frames = timing.SecondsToFrames(source.Duration)
	}
	return NewMedia(source.Path, frames, timing)
}

// WithTransitionIn sets how many frames the scene takes to transition in.
func (m *Media) WithTransitionIn(frames int) *Media {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionIn = frames
	return m
}

func (m *Media) Name() string { return m.name }

func (m *Media) Reset(ctx context.Context, previous models.Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = m.first
	m.resets++
	return nil
}

func (m *Media) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame < m.last {
		m.frame++
	}
	return nil
}

func (m *Media) IsFinished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame >= m.last
}

func (m *Media) CanTransitionOut() bool {
	return m.IsFinished()
}

func (m *Media) IsAfterTransitionIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame-m.first >= m.transitionIn
}

func (m *Media) FirstFrame() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.first
}

func (m *Media) LastFrame() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Media) Timing() models.Timing { return m.timing }

func (m *Media) OnRecalculated(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Frame returns the scene's current internal frame.
func (m *Media) Frame() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// Resets returns how many times the scene has been reset.
func (m *Media) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Listeners returns the number of recalculated subscriptions.
func (m *Media) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// SetFrames changes the scene's internal length and notifies subscribers, the
// way a host scene does when its event timings change.
func (m *Media) SetFrames(frames int) {
	m.mu.Lock()
	m.last = m.first + frames
	listeners := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
