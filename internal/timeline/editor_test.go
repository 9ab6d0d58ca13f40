package timeline

import (
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

func testSources() sourceMap {
	sources := sourceMap{}
	for _, name := range []string{"a", "b", "c"} {
		s := &models.ClipSource{Type: models.ClipScene, Path: name, Name: name, Scene: scene.NewMedia(name, 100, timing)}
		sources[s.Key()] = s
	}
	music := &models.ClipSource{Type: models.ClipAudio, Path: "music.wav", Duration: 10}
	sources[music.Key()] = music
	return sources
}

// A [0, 20), B [20, 40) trimmed 10 frames into its scene, C [50, 70).
func testChannels() [][]models.Clip {
	return [][]models.Clip{
		{
			{UUID: 1, Type: models.ClipScene, Path: "a", Offset: 0, Length: 2},
			{UUID: 2, Type: models.ClipScene, Path: "b", Offset: 2, Start: 1, Length: 2},
			{UUID: 3, Type: models.ClipScene, Path: "c", Offset: 5, Length: 2},
		},
		{
			{UUID: 4, Type: models.ClipAudio, Path: "music.wav", Offset: 0, Length: 3},
		},
	}
}

func snapshotOf(t *testing.T, channels [][]models.Clip) *cache.Snapshot {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	snap, _, err := cache.NewResolver(timing, nil, logger).Refresh(channels, testSources())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	return snap
}

func newEditor(t *testing.T, mode Mode, snap bool) *Editor {
	t.Helper()
	e := NewEditor(timing, Options{Mode: mode, Snap: snap})
	e.Begin(snapshotOf(t, testChannels()))
	return e
}

func ranges(e *Editor, channel int) map[int64][2]int {
	out := make(map[int64][2]int)
	for _, clip := range e.Working()[channel] {
		out[clip.UUID] = clip.Cache.ClipRange
	}
	return out
}

func expectRanges(t *testing.T, e *Editor, channel int, want map[int64][2]int) {
	t.Helper()
	got := ranges(e, channel)
	if len(got) != len(want) {
		t.Errorf("Expected %d clips, got %d: %v", len(want), len(got), got)
	}
	for uuid, r := range want {
		if got[uuid] != r {
			t.Errorf("Clip %d: expected %v, got %v", uuid, r, got[uuid])
		}
	}
}

func clipInfo(t *testing.T, e *Editor, uuid int64) *models.ClipInfo {
	t.Helper()
	for _, channel := range e.Working() {
		for _, clip := range channel {
			if clip.UUID == uuid {
				return clip.Cache
			}
		}
	}
	t.Fatalf("Clip %d not found", uuid)
	return nil
}

func TestResizeRightCompose(t *testing.T) {
	tests := []struct {
		name  string
		uuid  int64
		delta int
		want  map[int64][2]int
	}{
		{"grow pushes followers", 1, 5, map[int64][2]int{1: {0, 25}, 2: {25, 45}, 3: {50, 70}}},
		{"grow cascades", 1, 15, map[int64][2]int{1: {0, 35}, 2: {35, 55}, 3: {55, 75}}},
		{"clamped to source", 1, 200, map[int64][2]int{1: {0, 100}, 2: {100, 120}, 3: {120, 140}}},
		{"shrink pulls contiguous followers", 1, -5, map[int64][2]int{1: {0, 15}, 2: {15, 35}, 3: {50, 70}}},
		{"never below one frame", 3, -50, map[int64][2]int{1: {0, 20}, 2: {20, 40}, 3: {50, 51}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEditor(t, ModeCompose, false)
			if err := e.Resize(tt.uuid, SideRight, tt.delta); err != nil {
				t.Fatalf("Resize failed: %v", err)
			}
			expectRanges(t, e, 0, tt.want)
		})
	}
}

func TestResizeRoundTrip(t *testing.T) {
	original := snapshotOf(t, testChannels())
	before, _ := original.Info(2)

	e := NewEditor(timing, Options{Mode: ModeCompose})
	e.Begin(original)
	if err := e.Resize(2, SideRight, 7); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	grown, err := e.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	e.Begin(snapshotOf(t, grown))
	if err := e.Resize(2, SideRight, -7); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	restored, err := e.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	after, _ := snapshotOf(t, restored).Info(2)
	if after.ClipRange != before.ClipRange || after.StartFrames != before.StartFrames {
		t.Errorf("Expected %v/%d after round trip, got %v/%d",
			before.ClipRange, before.StartFrames, after.ClipRange, after.StartFrames)
	}
}

func TestResizeIsCumulative(t *testing.T) {
	e := newEditor(t, ModeCompose, false)
	for _, delta := range []int{2, 5, 3} {
		if err := e.Resize(1, SideRight, delta); err != nil {
			t.Fatalf("Resize failed: %v", err)
		}
	}
	expectRanges(t, e, 0, map[int64][2]int{1: {0, 23}, 2: {23, 43}, 3: {50, 70}})
}

func TestResizeRightSnaps(t *testing.T) {
	e := newEditor(t, ModeCompose, true)
	if err := e.Resize(2, SideRight, 8); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	expectRanges(t, e, 0, map[int64][2]int{1: {0, 20}, 2: {20, 50}, 3: {50, 70}})

	if err := e.Resize(2, SideRight, 4); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if got := clipInfo(t, e, 2).ClipRange; got != [2]int{20, 44} {
		t.Errorf("Expected no snap outside the tolerance, got %v", got)
	}
}

func TestResizeLeft(t *testing.T) {
	e := newEditor(t, ModeClip, false)
	if err := e.Resize(2, SideLeft, -15); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	b := clipInfo(t, e, 2)
	if b.ClipRange != [2]int{10, 40} || b.StartFrames != 0 {
		t.Errorf("Expected B clamped to its source start, got %v start %d", b.ClipRange, b.StartFrames)
	}
	if got := clipInfo(t, e, 1).ClipRange; got != [2]int{0, 10} {
		t.Errorf("Expected A trimmed to [0, 10), got %v", got)
	}

	if err := e.Resize(2, SideLeft, 5); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	b = clipInfo(t, e, 2)
	if b.ClipRange != [2]int{25, 40} || b.StartFrames != 15 {
		t.Errorf("Expected B [25, 40) start 15, got %v start %d", b.ClipRange, b.StartFrames)
	}
}

func TestMoveClipMode(t *testing.T) {
	tests := []struct {
		name  string
		uuid  int64
		delta int
		want  map[int64][2]int
	}{
		{"covering deletes", 3, -30, map[int64][2]int{1: {0, 20}, 3: {20, 40}}},
		{"trims right side", 3, -25, map[int64][2]int{1: {0, 20}, 2: {20, 25}, 3: {25, 45}}},
		{"trims left side", 1, 15, map[int64][2]int{1: {15, 35}, 2: {35, 40}, 3: {50, 70}}},
		{"clamped at zero", 1, -10, map[int64][2]int{1: {0, 20}, 2: {20, 40}, 3: {50, 70}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEditor(t, ModeClip, false)
			if err := e.Move(tt.uuid, tt.delta); err != nil {
				t.Fatalf("Move failed: %v", err)
			}
			expectRanges(t, e, 0, tt.want)
		})
	}

	e := newEditor(t, ModeClip, false)
	if err := e.Move(1, 15); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if got := clipInfo(t, e, 2).StartFrames; got != 25 {
		t.Errorf("Expected B's trim to follow its left edge, got %d", got)
	}
}

func TestMoveSnaps(t *testing.T) {
	e := newEditor(t, ModeClip, true)
	if err := e.Move(3, -8); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if got := clipInfo(t, e, 3).ClipRange; got != [2]int{40, 60} {
		t.Errorf("Expected C to snap onto B's end, got %v", got)
	}

	e = newEditor(t, ModeClip, true)
	if err := e.Move(2, 8); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if got := clipInfo(t, e, 2).ClipRange; got != [2]int{30, 50} {
		t.Errorf("Expected B's right edge to snap onto C, got %v", got)
	}
}

func TestSecondGestureKeepsFirst(t *testing.T) {
	e := newEditor(t, ModeCompose, false)
	if err := e.Resize(1, SideRight, 5); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := e.Move(3, 2); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	expectRanges(t, e, 0, map[int64][2]int{1: {0, 25}, 2: {25, 45}, 3: {52, 72}})
}

func TestCommit(t *testing.T) {
	e := newEditor(t, ModeCompose, false)
	if err := e.Resize(1, SideRight, 5); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	channels, err := e.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if e.Editing() {
		t.Error("Expected Commit to end the edit")
	}

	b := channels[0][1]
	if b.UUID != 2 || b.Offset != 2.5 || b.Start != 1 || b.Length != 2 {
		t.Errorf("Unexpected committed clip %+v", b)
	}
	if b.Cache != nil {
		t.Error("Expected committed clips without cache")
	}
	if _, err := e.Commit(); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Expected ErrNotEditing, got %v", err)
	}
}

func TestSplit(t *testing.T) {
	e := newEditor(t, ModeCompose, false)
	uuids := models.NewUUIDCounter(10)

	right, err := e.Split(2, 30, uuids)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if right.UUID != 10 {
		t.Errorf("Expected new uuid 10, got %d", right.UUID)
	}
	if right.Cache.ClipRange != [2]int{30, 40} || right.Cache.StartFrames != 20 {
		t.Errorf("Unexpected right half %v start %d", right.Cache.ClipRange, right.Cache.StartFrames)
	}
	if got := clipInfo(t, e, 2).ClipRange; got != [2]int{20, 30} {
		t.Errorf("Unexpected left half %v", got)
	}

	if _, err := e.Split(2, 20, uuids); !errors.Is(err, ErrInvalidSplit) {
		t.Errorf("Expected ErrInvalidSplit at the clip edge, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	e := newEditor(t, ModeCompose, false)
	if err := e.Delete(1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	expectRanges(t, e, 0, map[int64][2]int{2: {0, 20}, 3: {50, 70}})

	if err := e.Delete(99); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("Expected ErrClipNotFound, got %v", err)
	}
}

func TestInsert(t *testing.T) {
	sources := testSources()
	uuids := models.NewUUIDCounter(20)

	e := newEditor(t, ModeClip, false)
	a, _ := sources.Find(models.ClipScene, "a")
	clip, err := e.Insert(a, 0, 35, 10, uuids)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if clip.UUID != 20 || clip.Offset != 3.5 || clip.Length != 1 {
		t.Errorf("Unexpected inserted clip %+v", clip)
	}
	expectRanges(t, e, 0, map[int64][2]int{1: {0, 20}, 2: {20, 35}, 3: {50, 70}, 20: {35, 45}})

	music, _ := sources.Find(models.ClipAudio, "music.wav")
	if _, err := e.Insert(music, 0, 0, 0, uuids); !errors.Is(err, ErrWrongChannel) {
		t.Errorf("Expected ErrWrongChannel for audio on channel 0, got %v", err)
	}
	if _, err := e.Insert(a, 1, 0, 0, uuids); !errors.Is(err, ErrWrongChannel) {
		t.Errorf("Expected ErrWrongChannel for a scene on an audio channel, got %v", err)
	}

	added, err := e.Insert(music, 2, 10, 0, uuids)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if added.Cache.LengthFrames != 100 {
		t.Errorf("Expected the whole source, got %d frames", added.Cache.LengthFrames)
	}
	if len(e.Working()) != 3 {
		t.Errorf("Expected a new audio channel, got %d channels", len(e.Working()))
	}
}

func TestLockedTrack(t *testing.T) {
	e := newEditor(t, ModeClip, false)
	e.SetTracks([]models.Track{{Locked: true}})

	if err := e.Move(4, 5); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
	if err := e.Move(1, 5); err != nil {
		t.Errorf("Channel 0 has no track and must stay editable: %v", err)
	}
}

func TestNotEditing(t *testing.T) {
	e := NewEditor(timing, Options{})
	if err := e.Move(1, 1); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Expected ErrNotEditing, got %v", err)
	}
	if e.Options().Mode != ModeCompose || e.Options().SnapFrames != DefaultSnapFrames {
		t.Errorf("Unexpected defaults %+v", e.Options())
	}
}
