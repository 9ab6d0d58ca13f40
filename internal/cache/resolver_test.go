package cache

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"

	"composer/internal/scene"
	"composer/pkg/models"
)

var timing = models.Timing{FPS: 30}

type sourceMap map[models.SourceKey]*models.ClipSource

func (m sourceMap) Find(t models.ClipType, path string) (*models.ClipSource, bool) {
	s, ok := m[models.SourceKey{Type: t, Path: path}]
	return s, ok
}

func (m sourceMap) add(s *models.ClipSource) sourceMap {
	m[s.Key()] = s
	return m
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sceneSource(name string, frames int) *models.ClipSource {
	return &models.ClipSource{
		Type:  models.ClipScene,
		Path:  name,
		Name:  name,
		Scene: scene.NewMedia(name, frames, timing),
	}
}

func TestRefreshComputesRanges(t *testing.T) {
	sources := sourceMap{}.
		add(sceneSource("intro", 300)).
		add(&models.ClipSource{Type: models.ClipAudio, Path: "music.wav", Duration: 20})

	channels := [][]models.Clip{
		{
			{UUID: 2, Type: models.ClipScene, Path: "intro", Offset: 5, Start: 1, Length: 3},
			{UUID: 1, Type: models.ClipScene, Path: "intro", Offset: 0, Start: 0, Length: 5},
		},
		{
			{UUID: 3, Type: models.ClipAudio, Path: "music.wav", Offset: 1, Start: 2, Length: 10, Volume: 1},
		},
	}

	r := NewResolver(timing, nil, quietLogger())
	snap, tracks, err := r.Refresh(channels, sources)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if tracks != 1 {
		t.Errorf("Expected 1 track, got %d", tracks)
	}
	if got := snap.Channel(0)[0].UUID; got != 1 {
		t.Errorf("Expected channel sorted by offset, first uuid %d", got)
	}

	tests := []struct {
		uuid         int64
		clipRange    [2]int
		startFrames  int
		sourceFrames int
		channel      int
	}{
		{1, [2]int{0, 150}, 0, 300, 0},
		{2, [2]int{150, 240}, 30, 300, 0},
		{3, [2]int{30, 330}, 60, 600, 1},
	}

	for _, tt := range tests {
		info, ok := snap.Info(tt.uuid)
		if !ok {
			t.Fatalf("Clip %d missing from snapshot", tt.uuid)
		}
		if info.ClipRange != tt.clipRange {
			t.Errorf("Clip %d: expected range %v, got %v", tt.uuid, tt.clipRange, info.ClipRange)
		}
		if info.StartFrames != tt.startFrames {
			t.Errorf("Clip %d: expected start %d, got %d", tt.uuid, tt.startFrames, info.StartFrames)
		}
		if info.SourceFrames != tt.sourceFrames {
			t.Errorf("Clip %d: expected source frames %d, got %d", tt.uuid, tt.sourceFrames, info.SourceFrames)
		}
		if info.Channel != tt.channel {
			t.Errorf("Clip %d: expected channel %d, got %d", tt.uuid, tt.channel, info.Channel)
		}
	}

	if snap.EndFrame() != 330 {
		t.Errorf("Expected end frame 330, got %d", snap.EndFrame())
	}

	// The input must not gain a cache.
	if channels[0][0].Cache != nil {
		t.Error("Refresh mutated its input")
	}
}

func TestRefreshViolations(t *testing.T) {
	sources := sourceMap{}.
		add(sceneSource("intro", 90)).
		add(&models.ClipSource{Type: models.ClipAudio, Path: "a.wav", Duration: 2})

	tests := []struct {
		name     string
		channels [][]models.Clip
		want     error
		uuid     int64
	}{
		{
			name: "overlap",
			channels: [][]models.Clip{{
				{UUID: 1, Type: models.ClipScene, Path: "intro", Offset: 0, Length: 2},
				{UUID: 2, Type: models.ClipScene, Path: "intro", Offset: 1, Length: 1},
			}},
			want: ErrOverlap,
			uuid: 2,
		},
		{
			name: "negative offset",
			channels: [][]models.Clip{{
				{UUID: 1, Type: models.ClipScene, Path: "intro", Offset: -1, Length: 1},
			}},
			want: ErrNegativeTiming,
			uuid: 1,
		},
		{
			name: "negative start",
			channels: [][]models.Clip{{
				{UUID: 4, Type: models.ClipScene, Path: "intro", Start: -0.5, Length: 1},
			}},
			want: ErrNegativeTiming,
			uuid: 4,
		},
		{
			name: "zero length audio",
			channels: [][]models.Clip{{}, {
				{UUID: 7, Type: models.ClipAudio, Path: "a.wav", Length: 0},
			}},
			want: ErrInvalidLength,
			uuid: 7,
		},
		{
			name: "scene trim past end",
			channels: [][]models.Clip{{
				{UUID: 3, Type: models.ClipScene, Path: "intro", Start: 2, Length: 2},
			}},
			want: ErrTrimOutOfBounds,
			uuid: 3,
		},
		{
			name: "start at source end",
			channels: [][]models.Clip{{}, {
				{UUID: 5, Type: models.ClipAudio, Path: "a.wav", Start: 2, Length: 1},
			}},
			want: ErrTrimOutOfBounds,
			uuid: 5,
		},
		{
			name: "unknown type",
			channels: [][]models.Clip{{
				{UUID: 6, Type: "gif", Path: "x", Length: 1},
			}},
			want: ErrInvalidType,
			uuid: 6,
		},
		{
			name: "audio on the picture channel",
			channels: [][]models.Clip{{
				{UUID: 8, Type: models.ClipAudio, Path: "a.wav", Length: 1},
			}},
			want: ErrWrongChannel,
			uuid: 8,
		},
		{
			name: "scene on an audio channel",
			channels: [][]models.Clip{{}, {
				{UUID: 9, Type: models.ClipScene, Path: "intro", Length: 1},
			}},
			want: ErrWrongChannel,
			uuid: 9,
		},
		{
			name: "duplicate uuid across channels",
			channels: [][]models.Clip{
				{{UUID: 7, Type: models.ClipScene, Path: "intro", Length: 1}},
				{{UUID: 7, Type: models.ClipAudio, Path: "a.wav", Length: 1}},
			},
			want: ErrDuplicateUUID,
			uuid: 7,
		},
		{
			name: "duplicate uuid on one channel",
			channels: [][]models.Clip{{
				{UUID: 2, Type: models.ClipScene, Path: "intro", Length: 1},
				{UUID: 2, Type: models.ClipScene, Path: "intro", Offset: 1, Length: 1},
			}},
			want: ErrDuplicateUUID,
			uuid: 2,
		},
		{
			name: "negative uuid",
			channels: [][]models.Clip{{
				{UUID: -1, Type: models.ClipScene, Path: "intro", Length: 1},
			}},
			want: ErrInvalidUUID,
			uuid: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(timing, nil, quietLogger())
			snap, _, err := r.Refresh(tt.channels, sources)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if snap != nil {
				t.Error("Expected no snapshot on failure")
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected *ValidationError, got %T", err)
			}
			if verr.UUID != tt.uuid {
				t.Errorf("Expected offending clip %d, got %d", tt.uuid, verr.UUID)
			}
			if r.Subscriptions().Len() != 0 {
				t.Error("Failed refresh must not subscribe scenes")
			}
		})
	}
}

func TestRefreshMissingSource(t *testing.T) {
	channels := [][]models.Clip{{
		{UUID: 1, Type: models.ClipVideo, Path: "gone.mp4", Offset: 1, Length: 2},
	}}

	r := NewResolver(timing, nil, quietLogger())
	snap, _, err := r.Refresh(channels, sourceMap{})
	if err != nil {
		t.Fatalf("Missing source must not fail the refresh: %v", err)
	}

	info, _ := snap.Info(1)
	if !info.Missing() {
		t.Error("Expected clip to be marked missing")
	}
	if info.ClipRange != [2]int{30, 90} {
		t.Errorf("Expected authored range to be kept, got %v", info.ClipRange)
	}
}

func TestRefreshUnboundedImage(t *testing.T) {
	sources := sourceMap{}.add(&models.ClipSource{Type: models.ClipImage, Path: "still.png"})
	channels := [][]models.Clip{{
		{UUID: 1, Type: models.ClipImage, Path: "still.png", Start: 10, Length: 60},
	}}

	r := NewResolver(timing, nil, quietLogger())
	snap, _, err := r.Refresh(channels, sources)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	info, _ := snap.Info(1)
	if info.SourceFrames != 300+1800 {
		t.Errorf("Expected image to span its clip, got %d source frames", info.SourceFrames)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	sources := sourceMap{}.add(sceneSource("intro", 300))
	channels := [][]models.Clip{
		{
			{UUID: 1, Type: models.ClipScene, Path: "intro", Length: 2},
			{UUID: 2, Type: models.ClipScene, Path: "intro", Offset: 2, Start: 1, Length: 2},
		},
		{}, {},
	}

	r := NewResolver(timing, nil, quietLogger())
	first, tracks, err := r.Refresh(channels, sources)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	second, _, err := r.Refresh(channels, sources)
	if err != nil {
		t.Fatalf("Second refresh failed: %v", err)
	}

	if tracks != 2 {
		t.Errorf("Expected 2 tracks, got %d", tracks)
	}
	if !reflect.DeepEqual(first.Channels, second.Channels) {
		t.Error("Expected identical caches from identical input")
	}
}

func TestRefreshSubscriptions(t *testing.T) {
	intro := sceneSource("intro", 300)
	outro := sceneSource("outro", 300)
	sources := sourceMap{}.add(intro).add(outro)

	var recalculated []string
	r := NewResolver(timing, func(s models.Scene) {
		recalculated = append(recalculated, s.Name())
	}, quietLogger())

	both := [][]models.Clip{{
		{UUID: 1, Type: models.ClipScene, Path: "intro", Length: 1},
		{UUID: 2, Type: models.ClipScene, Path: "intro", Offset: 1, Length: 1},
		{UUID: 3, Type: models.ClipScene, Path: "outro", Offset: 2, Length: 1},
	}}
	if _, _, err := r.Refresh(both, sources); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	introScene := intro.Scene.(*scene.Media)
	outroScene := outro.Scene.(*scene.Media)

	if introScene.Listeners() != 1 || outroScene.Listeners() != 1 {
		t.Fatalf("Expected one subscription per scene, got %d and %d",
			introScene.Listeners(), outroScene.Listeners())
	}

	// Refreshing again must not stack subscriptions.
	if _, _, err := r.Refresh(both, sources); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if introScene.Listeners() != 1 {
		t.Errorf("Expected subscription to stay unique, got %d", introScene.Listeners())
	}

	introOnly := [][]models.Clip{{both[0][0]}}
	if _, _, err := r.Refresh(introOnly, sources); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if outroScene.Listeners() != 0 {
		t.Error("Expected stale scene subscription to be dropped")
	}

	introScene.SetFrames(400)
	outroScene.SetFrames(400)
	if !reflect.DeepEqual(recalculated, []string{"intro"}) {
		t.Errorf("Expected only intro to trigger a refresh, got %v", recalculated)
	}

	r.Close()
	if introScene.Listeners() != 0 {
		t.Error("Expected Close to drop every subscription")
	}
}

func TestRefreshUsesCurrentSceneLength(t *testing.T) {
	intro := sceneSource("intro", 60)
	sources := sourceMap{}.add(intro)
	channels := [][]models.Clip{{
		{UUID: 1, Type: models.ClipScene, Path: "intro", Length: 3},
	}}

	r := NewResolver(timing, nil, quietLogger())
	if _, _, err := r.Refresh(channels, sources); !errors.Is(err, ErrTrimOutOfBounds) {
		t.Fatalf("Expected trim violation, got %v", err)
	}

	intro.Scene.(*scene.Media).SetFrames(120)
	if _, _, err := r.Refresh(channels, sources); err != nil {
		t.Fatalf("Expected refresh to pass after the scene grew: %v", err)
	}
}

func TestTrackCount(t *testing.T) {
	tests := []struct {
		channels int
		want     int
	}{
		{0, 1}, {1, 1}, {2, 1}, {3, 2}, {5, 4},
	}
	for _, tt := range tests {
		if got := TrackCount(tt.channels); got != tt.want {
			t.Errorf("TrackCount(%d) = %d, want %d", tt.channels, got, tt.want)
		}
	}
}
