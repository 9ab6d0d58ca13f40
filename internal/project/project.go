package project

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"composer/internal/audio"
	"composer/internal/cache"
	"composer/internal/database"
	"composer/internal/store"
	"composer/internal/timeline"
	"composer/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrNoTrack is returned for a track index outside the project's tracks.
var ErrNoTrack = errors.New("no such track")

// SettingsStore persists project settings.
type SettingsStore interface {
	LoadSettings(namespace string) (*database.ProjectSettings, error)
	SaveSettings(namespace string, settings *database.ProjectSettings) error
}

// SnapshotFunc consumes a freshly validated snapshot.
type SnapshotFunc func(ctx context.Context, snapshot *cache.Snapshot) error

// Options configures a Project.
type Options struct {
	Namespace string
	Timing    models.Timing
}

// Project is the composing context. It owns the canonical clip list, the
// audio tracks, the target track and the uuid counter, and pushes every
// validated snapshot to the audio engine and to snapshot listeners.
type Project struct {
	opts     Options
	sources  cache.SourceLookup
	settings SettingsStore
	resolver *cache.Resolver
	engine   *audio.Engine
	logger   *logrus.Logger

	// publishMu orders apply, persist and publish so snapshots and saves
	// land in the order their clip lists were installed.
	publishMu sync.Mutex

	mu          sync.Mutex
	id          string
	clips       [][]models.Clip
	tracks      []models.Track
	targetTrack int
	uuids       *models.UUIDCounter
	listeners   []SnapshotFunc

	snapshot *store.Value[*cache.Snapshot]
	refresh  chan struct{}
}

// New creates an empty project. settings and engine may be nil.
func New(opts Options, sources cache.SourceLookup, settings SettingsStore, engine *audio.Engine, logger *logrus.Logger) *Project {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Project{
		opts:     opts,
		sources:  sources,
		settings: settings,
		engine:   engine,
		logger:   logger,
		clips:    [][]models.Clip{{}},
		tracks:   []models.Track{{}},
		uuids:    models.NewUUIDCounter(0),
		snapshot: store.NewValue(cache.Empty(opts.Timing)),
		refresh:  make(chan struct{}, 1),
	}
	p.resolver = cache.NewResolver(opts.Timing, p.sceneRecalculated, logger)
	return p
}

// OnSnapshot registers fn to run after every successful refresh, in
// registration order.
func (p *Project) OnSnapshot(fn SnapshotFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Load restores the persisted clip list, uuid counter and tracks.
func (p *Project) Load(ctx context.Context) error {
	if p.settings == nil {
		return nil
	}
	settings, err := p.settings.LoadSettings(p.opts.Namespace)
	if err != nil {
		return fmt.Errorf("failed to load project settings: %w", err)
	}

	p.mu.Lock()
	p.id = settings.ID
	p.uuids.Set(settings.UUIDNext)
	p.tracks = settings.Tracks
	p.targetTrack = settings.TargetTrack
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"project":  settings.ID,
		"uuidNext": settings.UUIDNext,
	}).Info("Loaded project settings")

	return p.SetClips(ctx, settings.Clips)
}

// SetClips replaces the clip list. The list is validated first; on an
// authoring violation nothing changes and the violation is returned.
func (p *Project) SetClips(ctx context.Context, channels [][]models.Clip) error {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	snapshot, err := p.apply(channels)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	if err := p.persist(); err != nil {
		p.logger.WithError(err).Error("Failed to persist clips")
	}
	return p.publish(ctx, snapshot)
}

// apply validates channels and installs them. Must be called with p.mu held.
func (p *Project) apply(channels [][]models.Clip) (*cache.Snapshot, error) {
	snapshot, trackCount, err := p.resolver.Refresh(channels, p.sources)
	if err != nil {
		return nil, err
	}
	p.clips = models.StripChannels(snapshot.Channels)
	p.tracks = models.ResizeTracks(p.tracks, trackCount)
	p.targetTrack = clamp(p.targetTrack, 0, len(p.tracks)-1)

	// Never hand out an id a loaded clip already uses.
	for _, clip := range snapshot.Clips() {
		p.uuids.Set(clip.UUID + 1)
	}
	return snapshot, nil
}

// Refresh re-resolves the current clip list, after sources changed or a
// scene recalculated.
func (p *Project) Refresh(ctx context.Context) error {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	snapshot, err := p.apply(p.clips)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.publish(ctx, snapshot)
}

// RequestRefresh schedules a Refresh on the Run loop. Requests coalesce.
func (p *Project) RequestRefresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *Project) sceneRecalculated(s models.Scene) {
	p.logger.WithField("scene", s.Name()).Debug("Scene recalculated")
	p.RequestRefresh()
}

// Run serves refresh requests and source changes until ctx is done.
func (p *Project) Run(ctx context.Context, sourceChanges <-chan int) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sourceChanges:
			if !ok {
				sourceChanges = nil
				continue
			}
			p.RequestRefresh()
		case <-p.refresh:
			if err := p.Refresh(ctx); err != nil {
				p.logger.WithError(err).Error("Failed to refresh clips")
			}
		}
	}
}

// publish hands a snapshot to the engine and the listeners.
func (p *Project) publish(ctx context.Context, snapshot *cache.Snapshot) error {
	p.snapshot.Set(snapshot)

	p.mu.Lock()
	tracks := append([]models.Track(nil), p.tracks...)
	listeners := append([]SnapshotFunc(nil), p.listeners...)
	p.mu.Unlock()

	if p.engine != nil {
		p.engine.SetTracks(tracks)
		if err := p.engine.SetClips(ctx, snapshot.Clips()); err != nil {
			return err
		}
	}
	for _, fn := range listeners {
		if err := fn(ctx, snapshot); err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) persist() error {
	if p.settings == nil {
		return nil
	}

	p.mu.Lock()
	settings := &database.ProjectSettings{
		ID:          p.id,
		Clips:       models.CloneChannels(p.clips),
		UUIDNext:    p.uuids.Peek(),
		Tracks:      append([]models.Track(nil), p.tracks...),
		TargetTrack: p.targetTrack,
	}
	p.mu.Unlock()

	if err := p.settings.SaveSettings(p.opts.Namespace, settings); err != nil {
		return err
	}

	p.mu.Lock()
	p.id = settings.ID
	p.mu.Unlock()
	return nil
}

// SetTracks replaces the track flags. The track count follows the clip list.
func (p *Project) SetTracks(tracks []models.Track) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	p.tracks = models.ResizeTracks(tracks, len(p.tracks))
	current := append([]models.Track(nil), p.tracks...)
	p.mu.Unlock()

	if p.engine != nil {
		p.engine.SetTracks(current)
	}
	if err := p.persist(); err != nil {
		p.logger.WithError(err).Error("Failed to persist tracks")
	}
}

// UpdateTrack changes one track's flags.
func (p *Project) UpdateTrack(index int, fn func(*models.Track)) error {
	tracks := p.Tracks()
	if index < 0 || index >= len(tracks) {
		return fmt.Errorf("%w: %d", ErrNoTrack, index)
	}
	fn(&tracks[index])
	p.SetTracks(tracks)
	return nil
}

// SetTargetTrack selects the track new audio lands on.
func (p *Project) SetTargetTrack(track int) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	p.targetTrack = clamp(track, 0, len(p.tracks)-1)
	p.mu.Unlock()

	if err := p.persist(); err != nil {
		p.logger.WithError(err).Error("Failed to persist target track")
	}
}

// NewClip creates a clip of source at offset seconds with a fresh uuid. The
// clip spans the whole source, or defaultLength for unbounded sources.
func (p *Project) NewClip(source *models.ClipSource, offset, defaultLength float64) models.Clip {
	length := source.Duration
	if source.Unbounded() || length <= 0 {
		length = defaultLength
	}
	return models.Clip{
		UUID:   p.uuids.Next(),
		Type:   source.Type,
		Path:   source.Path,
		Offset: max(offset, 0),
		Length: length,
		Volume: 1,
	}
}

// NewEditor starts an edit of the current snapshot.
func (p *Project) NewEditor(opts timeline.Options) *timeline.Editor {
	e := timeline.NewEditor(p.opts.Timing, opts)
	e.SetTracks(p.Tracks())
	e.Begin(p.Snapshot())
	return e
}

// CommitEdit ends an edit and installs its clip list.
func (p *Project) CommitEdit(ctx context.Context, e *timeline.Editor) error {
	channels, err := e.Commit()
	if err != nil {
		return err
	}
	return p.SetClips(ctx, channels)
}

// Snapshot returns the current validated snapshot.
func (p *Project) Snapshot() *cache.Snapshot {
	return p.snapshot.Get()
}

// Snapshots exposes the published snapshot for subscription.
func (p *Project) Snapshots() *store.Value[*cache.Snapshot] {
	return p.snapshot
}

// Clips returns a copy of the canonical clip list.
func (p *Project) Clips() [][]models.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.CloneChannels(p.clips)
}

// Tracks returns a copy of the track flags.
func (p *Project) Tracks() []models.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Track(nil), p.tracks...)
}

// TargetTrack returns the selected track.
func (p *Project) TargetTrack() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetTrack
}

// UUIDs returns the project's uuid counter.
func (p *Project) UUIDs() *models.UUIDCounter {
	return p.uuids
}

// ID returns the persisted project identity, empty until first saved.
func (p *Project) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Timing returns the project's frame rate.
func (p *Project) Timing() models.Timing {
	return p.opts.Timing
}

// Close drops every scene subscription.
func (p *Project) Close() {
	p.resolver.Close()
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
