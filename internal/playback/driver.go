package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"composer/internal/cache"
	"composer/internal/scene"
	"composer/internal/store"
	"composer/pkg/models"
)

// ErrEngineContract reports a mismatch between the clip cache and a scene,
// such as advancing a scene past its own end. It indicates a bug and is never
// recovered from.
var ErrEngineContract = errors.New("engine contract violation")

// EmptyUUID identifies the synthetic clip spanning a gap in channel 0.
const EmptyUUID int64 = -1

// PlaybackDriver is the surface the host playback loop calls instead of its
// own scene sequencing.
type PlaybackDriver interface {
	Next(ctx context.Context) (finished bool, err error)
	Seek(ctx context.Context, frame int) error
	FindBestScene(frame int) (models.Scene, error)
	GetNextScene() (models.Scene, error)
}

// MediaScenes supplies the scene rendering a video or image source.
type MediaScenes interface {
	For(source *models.ClipSource) models.Scene
}

// State is the driver's position relative to the clips of channel 0.
type State int

const (
	StateEmpty State = iota
	StateActive
	StateMissing
	StateTransitioning
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateActive:
		return "active"
	case StateMissing:
		return "missing"
	case StateTransitioning:
		return "transitioning"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Driver maps composed-timeline frames onto scenes and their internal frames.
// Calls to Next, Seek, Prepare and Recalculate must be serialized by the
// caller.
type Driver struct {
	media   MediaScenes
	empty   *scene.Placeholder
	missing *scene.Placeholder
	logger  *logrus.Logger

	snapshot *cache.Snapshot
	duration int
	frame    int
	speed    int
	finished bool

	clip     models.Clip
	current  models.Scene
	previous models.Scene

	currentClip *store.Value[models.Clip]
}

var _ PlaybackDriver = (*Driver)(nil)

// NewDriver creates a driver over an empty timeline.
func NewDriver(timing models.Timing, media MediaScenes, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Driver{
		media:       media,
		empty:       scene.NewEmpty(timing),
		missing:     scene.NewMissing(timing),
		logger:      logger,
		snapshot:    cache.Empty(timing),
		speed:       1,
		currentClip: store.NewValue(models.Clip{}),
	}
}

// Prepare installs a snapshot and rewinds to frame 0. The duration becomes
// the end of the last clip across every channel.
func (d *Driver) Prepare(ctx context.Context, snapshot *cache.Snapshot) error {
	d.install(snapshot)
	d.frame = 0
	d.current = nil
	d.previous = nil
	return d.jump(ctx, 0)
}

// Recalculate consumes a refreshed snapshot and re-seeks the current frame so
// the active scene reflects the new cache.
func (d *Driver) Recalculate(ctx context.Context, snapshot *cache.Snapshot) error {
	d.install(snapshot)
	target := d.frame
	if target > d.duration {
		target = d.duration
	}
	if err := d.jump(ctx, target); err != nil {
		return err
	}
	return d.stepTo(ctx, target)
}

func (d *Driver) install(snapshot *cache.Snapshot) {
	if snapshot == nil {
		snapshot = cache.Empty(d.empty.Timing())
	}
	d.snapshot = snapshot
	d.duration = snapshot.EndFrame()
	d.finished = false
}

// FindBestClip returns the channel 0 clip covering frame, or a synthetic
// empty clip spanning the gap around it.
func (d *Driver) FindBestClip(frame int) (models.Clip, error) {
	if frame < 0 {
		return models.Clip{}, fmt.Errorf("%w: frame %d is before the timeline start", ErrEngineContract, frame)
	}

	var prev *models.Clip
	var next *models.Clip

	clips := d.snapshot.Channel(0)
	for i := range clips {
		candidate := &clips[i]
		if candidate.Cache == nil {
			return models.Clip{}, fmt.Errorf("%w: clip %d has no cache", ErrEngineContract, candidate.UUID)
		}
		if candidate.Cache.Contains(frame) {
			return *candidate, nil
		}
		if candidate.Cache.ClipRange[1] <= frame {
			prev = candidate
			continue
		}
		next = candidate
		break
	}

	start := 0
	if prev != nil {
		start = prev.Cache.ClipRange[1]
	}
	end := d.duration
	if next != nil {
		end = next.Cache.ClipRange[0]
	}
	if end <= start {
		end = start + 1
	}
	if frame >= end {
		end = frame + 1
	}

	return d.emptyClip(start, end), nil
}

func (d *Driver) emptyClip(start, end int) models.Clip {
	length := end - start
	return models.Clip{
		UUID: EmptyUUID,
		Type: models.ClipScene,
		Path: scene.EmptyName,
		Cache: &models.ClipInfo{
			ClipRange:    [2]int{start, end},
			LengthFrames: length,
			SourceFrames: length,
			Source: &models.ClipSource{
				Type:  models.ClipScene,
				Path:  scene.EmptyName,
				Name:  scene.EmptyName,
				Scene: d.empty,
			},
		},
	}
}

// FindBestScene resolves the clip covering frame, makes it the current clip
// and returns the scene rendering it.
func (d *Driver) FindBestScene(frame int) (models.Scene, error) {
	clip, err := d.FindBestClip(frame)
	if err != nil {
		return nil, err
	}
	d.setClip(clip)
	return d.sceneFor(clip), nil
}

// GetNextScene resolves the clip that follows the current one.
func (d *Driver) GetNextScene() (models.Scene, error) {
	end := 0
	if d.clip.Cache != nil {
		end = d.clip.Cache.ClipRange[1]
	}
	return d.FindBestScene(end)
}

func (d *Driver) sceneFor(clip models.Clip) models.Scene {
	if clip.UUID == EmptyUUID {
		return d.empty
	}
	if clip.Cache.Missing() {
		return d.missing
	}

	source := clip.Cache.Source
	switch source.Type {
	case models.ClipScene:
		if source.Scene != nil {
			return source.Scene
		}
	case models.ClipVideo, models.ClipImage:
		if d.media != nil {
			return d.media.For(source)
		}
	}
	return d.missing
}

func (d *Driver) setClip(clip models.Clip) {
	old := d.clip
	d.clip = clip
	if old.UUID == clip.UUID && old.Cache != nil && clip.Cache != nil && old.Cache.ClipRange == clip.Cache.ClipRange {
		return
	}
	d.currentClip.Set(clip)
}

// Next advances the composed timeline by speed frames, stepping the active
// scenes once per frame. It reports whether playback reached its end.
func (d *Driver) Next(ctx context.Context) (bool, error) {
	for i := 0; i < d.speed; i++ {
		finished, err := d.step(ctx)
		if err != nil || finished {
			return finished, err
		}
	}
	return false, nil
}

// step advances the composed timeline and the scenes by a single frame.
func (d *Driver) step(ctx context.Context) (bool, error) {
	if d.current == nil {
		if err := d.jump(ctx, d.frame); err != nil {
			return false, err
		}
	}

	if d.previous != nil {
		if err := d.previous.Next(ctx); err != nil {
			return false, err
		}
		if d.current.IsFinished() {
			d.previous = nil
		}
	}

	d.frame++

	if d.reachedEnd() {
		d.finished = true
		return true, nil
	}

	if !scene.IsPlaceholder(d.current) {
		if err := d.current.Next(ctx); err != nil {
			return false, err
		}
	}

	if d.previous != nil && d.current.IsAfterTransitionIn() {
		d.previous = nil
	}

	if d.frame >= d.clip.Cache.ClipRange[1] {
		if err := d.advanceClip(ctx); err != nil {
			return false, err
		}
	}

	d.finished = d.reachedEnd()
	return d.finished, nil
}

func (d *Driver) reachedEnd() bool {
	if d.frame >= d.duration {
		return true
	}
	return !scene.IsPlaceholder(d.current) && d.current.IsFinished()
}

// advanceClip switches to the clip following the current one.
func (d *Driver) advanceClip(ctx context.Context) error {
	outgoing := d.current
	outgoingUUID := d.clip.UUID

	next, err := d.GetNextScene()
	if err != nil {
		return err
	}

	d.previous = nil
	var resetFrom models.Scene
	if next != outgoing && !scene.IsPlaceholder(outgoing) {
		resetFrom = outgoing
		if outgoing.CanTransitionOut() {
			d.previous = outgoing
		}
	}
	d.current = next

	d.logger.WithFields(logrus.Fields{
		"frame":     d.frame,
		"from_clip": outgoingUUID,
		"clip_uuid": d.clip.UUID,
		"scene":     next.Name(),
	}).Debug("Switching clip")

	if err := next.Reset(ctx, resetFrom); err != nil {
		return fmt.Errorf("failed to reset scene %s: %w", next.Name(), err)
	}
	if !scene.IsPlaceholder(next) {
		if err := d.fastForward(ctx, next, d.clip.Cache.StartFrames); err != nil {
			return err
		}
	}

	if d.previous != nil && next.IsAfterTransitionIn() {
		d.previous = nil
	}
	return nil
}

// fastForward advances s by frames internal frames without moving the
// composed timeline.
func (d *Driver) fastForward(ctx context.Context, s models.Scene, frames int) error {
	for i := 0; i < frames; i++ {
		if err := s.Next(ctx); err != nil {
			return err
		}
		if s.IsFinished() {
			return fmt.Errorf("%w: scene %s finished after %d of %d fast-forward frames (clip %d)",
				ErrEngineContract, s.Name(), i+1, frames, d.clip.UUID)
		}
	}
	return nil
}

// Seek moves the composed timeline to frame. Seeking backward, or beyond the
// current clip, resolves the target clip and fast-forwards its scene to the
// clip's trim point; forward seeks inside the current clip step frame by frame.
func (d *Driver) Seek(ctx context.Context, frame int) error {
	if d.current != nil && frame == d.frame {
		return nil
	}

	if d.current == nil || frame < d.frame || frame >= d.clip.Cache.ClipRange[1] {
		if err := d.jump(ctx, frame); err != nil {
			return err
		}
	}

	return d.stepTo(ctx, frame)
}

func (d *Driver) stepTo(ctx context.Context, frame int) error {
	for d.frame < frame && !d.finished {
		finished, err := d.step(ctx)
		if err != nil {
			return err
		}
		if finished {
			break
		}
	}
	return nil
}

// jump swaps in the scene for the clip covering frame and positions it at the
// clip's start, or directly at frame for placeholders.
func (d *Driver) jump(ctx context.Context, frame int) error {
	s, err := d.FindBestScene(frame)
	if err != nil {
		return err
	}
	if s != d.current {
		d.previous = nil
		d.current = s
	}
	d.finished = false

	if err := s.Reset(ctx, nil); err != nil {
		return fmt.Errorf("failed to reset scene %s: %w", s.Name(), err)
	}

	if scene.IsPlaceholder(s) {
		d.frame = frame
		return nil
	}

	d.frame = d.clip.Cache.ClipRange[0]
	return d.fastForward(ctx, s, d.clip.Cache.StartFrames)
}

// Frame returns the current composed-timeline frame.
func (d *Driver) Frame() int { return d.frame }

// Duration returns the timeline length in frames.
func (d *Driver) Duration() int { return d.duration }

// Finished reports whether playback reached the end of the timeline.
func (d *Driver) Finished() bool { return d.finished }

// Speed returns the playback speed in frames per step.
func (d *Driver) Speed() int { return d.speed }

// SetSpeed changes the number of composed frames each Next advances.
func (d *Driver) SetSpeed(speed int) {
	if speed < 1 {
		speed = 1
	}
	d.speed = speed
}

// Clip returns the current clip, which is the synthetic empty clip in gaps.
func (d *Driver) Clip() models.Clip { return d.clip }

// CurrentClip is the observable current clip.
func (d *Driver) CurrentClip() *store.Value[models.Clip] { return d.currentClip }

// Current returns the active scene.
func (d *Driver) Current() models.Scene { return d.current }

// Previous returns the scene still transitioning out, if any.
func (d *Driver) Previous() models.Scene { return d.previous }

// Snapshot returns the snapshot the driver plays.
func (d *Driver) Snapshot() *cache.Snapshot { return d.snapshot }

// State classifies the driver's position.
func (d *Driver) State() State {
	switch {
	case d.previous != nil:
		return StateTransitioning
	case d.current == nil || d.current == models.Scene(d.empty):
		return StateEmpty
	case d.current == models.Scene(d.missing):
		return StateMissing
	}
	return StateActive
}
