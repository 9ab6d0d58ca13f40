package models

import "context"

// Scene is the contract the composer consumes from the host animation engine.
// A scene has its own internal frame clock; the composer only resets it,
// advances it one frame at a time and queries its lifecycle.
type Scene interface {
	// Name identifies the scene within the host project.
	Name() string

	// Reset rewinds the scene to its first frame. previous is the scene being
	// transitioned out of, or nil.
	Reset(ctx context.Context, previous Scene) error

	// Next advances the scene by one internal frame.
	Next(ctx context.Context) error

	IsFinished() bool
	CanTransitionOut() bool
	IsAfterTransitionIn() bool

	// FirstFrame and LastFrame bound the scene's internal frames.
	FirstFrame() int
	LastFrame() int

	// Timing is the frame rate the scene runs at.
	Timing() Timing

	// OnRecalculated registers fn to run whenever the scene's internal timing
	// changes. The returned function removes the subscription.
	OnRecalculated(fn func()) (unsubscribe func())
}

// SceneFrames returns the internal length of a scene in frames.
func SceneFrames(s Scene) int {
	return s.LastFrame() - s.FirstFrame()
}
