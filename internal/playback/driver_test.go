package playback

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"composer/internal/cache"
	"composer/internal/scene"
	"composer/pkg/models"
)

var timing = models.Timing{FPS: 10}

type sourceMap map[models.SourceKey]*models.ClipSource

func (m sourceMap) Find(t models.ClipType, path string) (*models.ClipSource, bool) {
	s, ok := m[models.SourceKey{Type: t, Path: path}]
	return s, ok
}

type fixture struct {
	sources sourceMap
	scenes  map[string]*scene.Media
	driver  *Driver
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T, sceneFrames map[string]int) *fixture {
	t.Helper()
	f := &fixture{
		sources: sourceMap{},
		scenes:  make(map[string]*scene.Media),
	}
	for name, frames := range sceneFrames {
		m := scene.NewMedia(name, frames, timing)
		f.scenes[name] = m
		source := &models.ClipSource{Type: models.ClipScene, Path: name, Name: name, Scene: m}
		f.sources[source.Key()] = source
	}
	f.driver = NewDriver(timing, scene.NewRegistry(timing), quietLogger())
	return f
}

func (f *fixture) snapshot(t *testing.T, channels [][]models.Clip) *cache.Snapshot {
	t.Helper()
	r := cache.NewResolver(timing, nil, quietLogger())
	snap, _, err := r.Refresh(channels, f.sources)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	return snap
}

func (f *fixture) prepare(t *testing.T, channels [][]models.Clip) {
	t.Helper()
	if err := f.driver.Prepare(context.Background(), f.snapshot(t, channels)); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
}

func sceneClip(uuid int64, path string, offset, start, length float64) models.Clip {
	return models.Clip{UUID: uuid, Type: models.ClipScene, Path: path, Offset: offset, Start: start, Length: length}
}

// A covers [0, 50), B covers [50, 80) and starts 1s into its scene. The audio
// channel stretches the timeline to 100 frames.
func twoClips() [][]models.Clip {
	return [][]models.Clip{
		{
			sceneClip(1, "a", 0, 0, 5),
			sceneClip(2, "b", 5, 1, 3),
		},
		{
			{UUID: 3, Type: models.ClipAudio, Path: "missing.wav", Offset: 0, Length: 10},
		},
	}
}

func TestPrepare(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 100, "b": 100})
	f.prepare(t, twoClips())

	if f.driver.Duration() != 100 {
		t.Errorf("Expected duration across every channel, got %d", f.driver.Duration())
	}
	if f.driver.Clip().UUID != 1 {
		t.Errorf("Expected first clip to be current, got %d", f.driver.Clip().UUID)
	}
	if f.driver.State() != StateActive {
		t.Errorf("Expected active state, got %s", f.driver.State())
	}
	if f.driver.Current() != models.Scene(f.scenes["a"]) {
		t.Error("Expected scene a to be current")
	}
}

func TestFindBestClip(t *testing.T) {
	f := newFixture(t, map[string]int{"a": 100, "b": 100})
	f.prepare(t, [][]models.Clip{
		{
			sceneClip(1, "a", 1, 0, 2),
			sceneClip(2, "b", 5, 0, 3),
		},
	})

	tests := []struct {
		frame int
		uuid  int64
		rng   [2]int
	}{
		{0, EmptyUUID, [2]int{0, 10}},
		{10, 1, [2]int{10, 30}},
		{29, 1, [2]int{10, 30}},
		{30, EmptyUUID, [2]int{30, 50}},
		{49, EmptyUUID, [2]int{30, 50}},
		{50, 2, [2]int{50, 80}},
		{80, EmptyUUID, [2]int{80, 81}},
	}

	for _, tt := range tests {
		clip, err := f.driver.FindBestClip(tt.frame)
		if err != nil {
			t.Fatalf("FindBestClip(%d) failed: %v", tt.frame, err)
		}
		if clip.UUID != tt.uuid || clip.Cache.ClipRange != tt.rng {
			t.Errorf("FindBestClip(%d) = clip %d %v, want clip %d %v",
				tt.frame, clip.UUID, clip.Cache.ClipRange, tt.uuid, tt.rng)
		}
	}

	if _, err := f.driver.FindBestClip(-1); !errors.Is(err, ErrEngineContract) {
		t.Errorf("Expected contract violation for a negative frame, got %v", err)
	}
}

func TestSeekIntoLaterClip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 100, "b": 100})
	f.prepare(t, twoClips())

	b := f.scenes["b"]
	resets := b.Resets()

	if err := f.driver.Seek(ctx, 60); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}

	if f.driver.Clip().UUID != 2 {
		t.Fatalf("Expected clip 2, got %d", f.driver.Clip().UUID)
	}
	if b.Resets() != resets+1 {
		t.Errorf("Expected scene b to be reset once, got %d resets", b.Resets()-resets)
	}
	// 10 trim frames plus 10 frames into the clip.
	if b.Frame() != 20 {
		t.Errorf("Expected scene b at internal frame 20, got %d", b.Frame())
	}
	if f.driver.Frame() != 60 {
		t.Errorf("Expected composed frame 60, got %d", f.driver.Frame())
	}

	for f.driver.Frame() < 79 {
		if _, err := f.driver.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if f.driver.Clip().UUID != 2 {
			t.Fatalf("Left clip 2 early at frame %d", f.driver.Frame())
		}
	}

	finished, err := f.driver.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if finished {
		t.Error("Timeline continues past channel 0 and should not be finished")
	}
	if f.driver.Clip().UUID != EmptyUUID || f.driver.State() != StateEmpty {
		t.Errorf("Expected empty placeholder after the last clip, got clip %d (%s)",
			f.driver.Clip().UUID, f.driver.State())
	}
	if got := f.driver.Clip().Cache.ClipRange; got != [2]int{80, 100} {
		t.Errorf("Expected gap [80, 100), got %v", got)
	}
}

func TestSeekToCurrentFrameIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 100, "b": 100})
	f.prepare(t, twoClips())

	if err := f.driver.Seek(ctx, 20); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	a := f.scenes["a"]
	resets, frame := a.Resets(), a.Frame()
	rng := f.driver.Clip().Cache.ClipRange

	if err := f.driver.Seek(ctx, 20); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if a.Resets() != resets || a.Frame() != frame {
		t.Error("Seeking to the current frame touched the scene")
	}
	if f.driver.Clip().Cache.ClipRange != rng {
		t.Error("Seeking to the current frame changed the clip range")
	}
}

func TestSeekBackward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 100, "b": 100})
	f.prepare(t, twoClips())

	if err := f.driver.Seek(ctx, 70); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if err := f.driver.Seek(ctx, 55); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if f.scenes["b"].Frame() != 15 {
		t.Errorf("Expected scene b at internal frame 15, got %d", f.scenes["b"].Frame())
	}

	if err := f.driver.Seek(ctx, 12); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if f.driver.Clip().UUID != 1 || f.scenes["a"].Frame() != 12 {
		t.Errorf("Expected clip 1 at frame 12, got clip %d at %d", f.driver.Clip().UUID, f.scenes["a"].Frame())
	}
}

func TestNextCrossesClipBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 50, "b": 100})
	f.prepare(t, twoClips())

	var clips []int64
	updates := f.driver.CurrentClip().Subscribe()
	defer f.driver.CurrentClip().Unsubscribe(updates)

	for f.driver.Frame() < 50 {
		if _, err := f.driver.Next(ctx); err != nil {
			t.Fatalf("Next failed at frame %d: %v", f.driver.Frame(), err)
		}
	}

	if f.driver.Clip().UUID != 2 {
		t.Fatalf("Expected clip 2 at frame 50, got %d", f.driver.Clip().UUID)
	}
	if f.scenes["b"].Frame() != 10 {
		t.Errorf("Expected scene b fast-forwarded to 10, got %d", f.scenes["b"].Frame())
	}

	// Scene a finished and can transition out, so it lingers until b is in.
	if f.driver.State() != StateActive {
		t.Errorf("Expected b to be fully in, got %s", f.driver.State())
	}

	select {
	case clip := <-updates:
		clips = append(clips, clip.UUID)
	default:
	}
	if len(clips) != 1 || clips[0] != 2 {
		t.Errorf("Expected clip change notification for clip 2, got %v", clips)
	}
}

func TestNextAtSpeedKeepsScenesAligned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 100, "b": 100})
	f.prepare(t, twoClips())
	f.driver.SetSpeed(2)

	if err := f.driver.Seek(ctx, 44); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.driver.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	if f.driver.Frame() != 50 || f.driver.Clip().UUID != 2 {
		t.Fatalf("Expected clip 2 at frame 50, got clip %d at %d", f.driver.Clip().UUID, f.driver.Frame())
	}
	if f.scenes["b"].Frame() != 10 {
		t.Errorf("Expected scene b at its trim point 10, got %d", f.scenes["b"].Frame())
	}

	for i := 0; i < 5; i++ {
		if _, err := f.driver.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	if f.driver.Frame() != 60 {
		t.Fatalf("Expected composed frame 60, got %d", f.driver.Frame())
	}
	// 10 trim frames plus 10 frames into the clip.
	if f.scenes["b"].Frame() != 20 {
		t.Errorf("Expected scene b at internal frame 20, got %d", f.scenes["b"].Frame())
	}

	if err := f.driver.Seek(ctx, 50); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if f.scenes["b"].Frame() != 10 {
		t.Errorf("Expected seek at speed 2 to land on the trim point, got %d", f.scenes["b"].Frame())
	}
	if err := f.driver.Seek(ctx, 61); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if f.driver.Frame() != 61 || f.scenes["b"].Frame() != 21 {
		t.Errorf("Expected frame 61 and scene frame 21, got %d and %d", f.driver.Frame(), f.scenes["b"].Frame())
	}
}

func TestTransitionKeepsPreviousScene(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 50, "b": 100})
	f.scenes["b"].WithTransitionIn(3)
	f.prepare(t, [][]models.Clip{{
		sceneClip(1, "a", 0, 0, 5),
		sceneClip(2, "b", 5, 0, 3),
	}})

	for f.driver.Frame() < 50 {
		if _, err := f.driver.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}

	if f.driver.State() != StateTransitioning {
		t.Fatalf("Expected crossfade, got %s", f.driver.State())
	}
	if f.driver.Previous() != models.Scene(f.scenes["a"]) {
		t.Error("Expected a to be the outgoing scene")
	}

	for i := 0; i < 3; i++ {
		if _, err := f.driver.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	if f.driver.Previous() != nil {
		t.Error("Expected previous scene to be dropped after transition in")
	}
}

func TestMissingClip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 100})
	f.prepare(t, [][]models.Clip{{
		sceneClip(1, "a", 0, 0, 2),
		sceneClip(2, "gone", 2, 0, 2),
	}})

	if err := f.driver.Seek(ctx, 25); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if f.driver.State() != StateMissing {
		t.Errorf("Expected missing state, got %s", f.driver.State())
	}
	if f.driver.Frame() != 25 {
		t.Errorf("Expected frame 25, got %d", f.driver.Frame())
	}

	for {
		finished, err := f.driver.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if finished {
			break
		}
	}
	if f.driver.Frame() != 40 || !f.driver.Finished() {
		t.Errorf("Expected playback to finish at frame 40, got %d", f.driver.Frame())
	}
}

func TestVideoClipUsesMediaScene(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	video := &models.ClipSource{Type: models.ClipVideo, Path: "v.mp4", Duration: 10}
	f.sources[video.Key()] = video
	f.prepare(t, [][]models.Clip{{
		{UUID: 1, Type: models.ClipVideo, Path: "v.mp4", Start: 2, Length: 3},
	}})

	if err := f.driver.Seek(ctx, 5); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	m, ok := f.driver.Current().(*scene.Media)
	if !ok {
		t.Fatalf("Expected media scene, got %T", f.driver.Current())
	}
	if m.Frame() != 25 {
		t.Errorf("Expected internal frame 25, got %d", m.Frame())
	}
}

func TestFastForwardPastSceneEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 100, "b": 100})
	f.prepare(t, twoClips())

	// The scene shrinks without the cache being refreshed.
	f.scenes["b"].SetFrames(5)

	err := f.driver.Seek(ctx, 60)
	if !errors.Is(err, ErrEngineContract) {
		t.Fatalf("Expected contract violation, got %v", err)
	}
}

func TestRecalculate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"a": 100, "b": 100})
	f.prepare(t, twoClips())

	if err := f.driver.Seek(ctx, 30); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}

	// Trim a so it starts 2s into its scene.
	channels := twoClips()
	channels[0][0].Start = 2
	if err := f.driver.Recalculate(ctx, f.snapshot(t, channels)); err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}

	if f.driver.Frame() != 30 {
		t.Errorf("Expected frame to be kept, got %d", f.driver.Frame())
	}
	if f.scenes["a"].Frame() != 50 {
		t.Errorf("Expected scene a at internal frame 50, got %d", f.scenes["a"].Frame())
	}
}

func TestEmptyTimeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.prepare(t, nil)

	if f.driver.State() != StateEmpty {
		t.Errorf("Expected empty state, got %s", f.driver.State())
	}
	finished, err := f.driver.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !finished {
		t.Error("Expected empty timeline to finish immediately")
	}
}
