package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"composer/internal/database"
	"composer/internal/metadata"
	"composer/internal/scene"
	"composer/internal/store"
	"composer/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultSettleDelay is how long the watcher waits after a file appears
// before probing it, so the file is fully written.
const DefaultSettleDelay = 500 * time.Millisecond

// Options configures a Library.
type Options struct {
	// Root is the media directory. Source paths are relative to it.
	Root string

	// Workers bounds concurrent probes during a scan.
	Workers int

	// SettleDelay overrides DefaultSettleDelay.
	SettleDelay time.Duration
}

// Library is the set of sources clips can resolve against: media files found
// under the root directory plus the scenes the host registers.
type Library struct {
	opts      Options
	extractor *metadata.Extractor
	db        *database.Database
	logger    *logrus.Logger

	mu      sync.RWMutex
	sources map[models.SourceKey]*models.ClipSource

	version *store.Value[int]
}

// NewLibrary creates an empty library. db may be nil, in which case every
// scan probes every file.
func NewLibrary(opts Options, extractor *metadata.Extractor, db *database.Database, logger *logrus.Logger) *Library {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	return &Library{
		opts:      opts,
		extractor: extractor,
		db:        db,
		logger:    logger,
		sources:   make(map[models.SourceKey]*models.ClipSource),
		version:   store.NewValue(0),
	}
}

// Find resolves a source by identity.
func (l *Library) Find(t models.ClipType, path string) (*models.ClipSource, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sources[models.SourceKey{Type: t, Path: path}]
	return s, ok
}

// All returns every source ordered by type and path.
func (l *Library) All() []*models.ClipSource {
	l.mu.RLock()
	out := make([]*models.ClipSource, 0, len(l.sources))
	for _, s := range l.sources {
		out = append(out, s)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Len returns the number of sources.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sources)
}

// Changes subscribes to source list changes. Each value is a new version
// number.
func (l *Library) Changes() <-chan int {
	return l.version.Subscribe()
}

// Unsubscribe stops a Changes subscription.
func (l *Library) Unsubscribe(ch <-chan int) {
	l.version.Unsubscribe(ch)
}

// Put adds or replaces a source.
func (l *Library) Put(source *models.ClipSource) {
	l.mu.Lock()
	l.sources[source.Key()] = source
	l.mu.Unlock()
	l.bump()
}

func (l *Library) bump() {
	l.version.Update(func(v int) int { return v + 1 })
}

// RegisterScenes replaces the scene sources with scenes. Internal
// placeholder scenes are never offered as sources. It reports whether
// anything changed; nothing is published otherwise.
func (l *Library) RegisterScenes(scenes []models.Scene) bool {
	next := make(map[models.SourceKey]*models.ClipSource, len(scenes))
	for _, s := range scenes {
		if s == nil || scene.IsInternal(s.Name()) {
			continue
		}
		source := &models.ClipSource{
			Type:     models.ClipScene,
			Path:     s.Name(),
			Name:     s.Name(),
			Duration: s.Timing().FramesToSeconds(models.SceneFrames(s)),
			Scene:    s,
		}
		next[source.Key()] = source
	}

	l.mu.Lock()
	changed := false
	for key, existing := range l.sources {
		if key.Type != models.ClipScene {
			continue
		}
		if replacement, ok := next[key]; !ok || !existing.Same(replacement) {
			changed = true
			delete(l.sources, key)
		}
	}
	for key, source := range next {
		if _, ok := l.sources[key]; !ok {
			changed = true
			l.sources[key] = source
		}
	}
	l.mu.Unlock()

	if changed {
		l.logger.WithField("scenes", len(next)).Info("Registered scenes")
		l.bump()
	}
	return changed
}

// Scan walks the media directory and probes every supported file with a
// bounded worker pool. Media sources that disappeared are dropped.
func (l *Library) Scan(ctx context.Context) error {
	start := time.Now()
	l.logger.WithField("library_path", l.opts.Root).Info("Scanning media library")

	var (
		mu    sync.Mutex
		found = make(map[models.SourceKey]*models.ClipSource)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)

	walkErr := filepath.WalkDir(l.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.opts.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored(path) {
			return nil
		}
		if _, ok := l.extractor.Classify(path); !ok {
			return nil
		}
		if err := gctx.Err(); err != nil {
			return err
		}

		g.Go(func() error {
			source, err := l.probe(gctx, path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				l.logger.WithError(err).WithField("file_path", path).Warn("Failed to probe media file")
				return nil
			}
			mu.Lock()
			found[source.Key()] = source
			mu.Unlock()
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return fmt.Errorf("failed to walk %s: %w", l.opts.Root, walkErr)
	}

	var removed []models.SourceKey
	l.mu.Lock()
	for key := range l.sources {
		if key.Type == models.ClipScene {
			continue
		}
		if _, ok := found[key]; !ok {
			removed = append(removed, key)
			delete(l.sources, key)
		}
	}
	for key, source := range found {
		l.sources[key] = source
	}
	l.mu.Unlock()

	if l.db != nil {
		for _, key := range removed {
			l.db.RemoveSource(key.Type, key.Path)
		}
	}

	l.logger.WithFields(logrus.Fields{
		"sources":  len(found),
		"removed":  len(removed),
		"duration": time.Since(start),
	}).Info("Scanned media library")
	l.bump()
	return nil
}

// probe returns the source for a file, reusing the database's probe when
// the file's size and modification time are unchanged.
func (l *Library) probe(ctx context.Context, path string) (*models.ClipSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	rel, err := l.relative(path)
	if err != nil {
		return nil, err
	}
	clipType, _ := l.extractor.Classify(path)

	if l.db != nil {
		cached, err := l.db.GetSource(clipType, rel)
		if err != nil {
			l.logger.WithError(err).WithField("file_path", path).Warn("Failed to read source cache")
		} else if cached != nil && cached.Size == info.Size() && cached.ModTime.Equal(info.ModTime().UTC()) {
			source := cached.Source
			return &source, nil
		}
	}

	source, err := l.extractor.Extract(ctx, path, rel)
	if err != nil {
		return nil, err
	}
	if l.db != nil {
		if err := l.db.UpsertSource(source, info.Size(), info.ModTime()); err != nil {
			l.logger.WithError(err).WithField("file_path", path).Warn("Failed to cache source")
		}
	}
	return source, nil
}

func (l *Library) relative(path string) (string, error) {
	rel, err := filepath.Rel(l.opts.Root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Watch monitors the media directory until ctx is done, adding and removing
// sources as files come and go.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := addDirectoryToWatcher(watcher, l.opts.Root); err != nil {
		watcher.Close()
		return err
	}

	go l.watchFiles(ctx, watcher)

	l.logger.WithField("library_path", l.opts.Root).Info("File watcher started")
	return nil
}

// addDirectoryToWatcher recursively walks and adds subdirectories to watcher.
func addDirectoryToWatcher(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// watchFiles selects on watcher channels and dispatches events.
func (l *Library) watchFiles(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			l.handleFileEvent(ctx, watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithError(err).Error("File watcher error")
		}
	}
}

// handleFileEvent applies filtering and delegates creation/removal actions.
func (l *Library) handleFileEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	if ignored(event.Name) {
		return
	}
	_, isMedia := l.extractor.Classify(event.Name)

	switch {
	case (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isMedia:
		go func(name string) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.opts.SettleDelay):
			}
			l.handleNewFile(ctx, name)
		}(event.Name)

	case (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && isMedia:
		l.handleRemovedFile(event.Name)

	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				l.logger.WithError(err).WithField("directory", event.Name).Warn("Failed to watch directory")
				return
			}
			l.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

func (l *Library) handleNewFile(ctx context.Context, path string) {
	source, err := l.probe(ctx, path)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.logger.WithError(err).WithField("file_path", path).Error("Error probing new media file")
		}
		return
	}

	if existing, ok := l.Find(source.Type, source.Path); ok && existing.Same(source) {
		return
	}
	l.Put(source)
	l.logger.WithFields(logrus.Fields{
		"source":   source.Path,
		"type":     source.Type,
		"duration": source.Duration,
	}).Info("Added media source")
}

func (l *Library) handleRemovedFile(path string) {
	rel, err := l.relative(path)
	if err != nil {
		return
	}
	clipType, _ := l.extractor.Classify(path)
	key := models.SourceKey{Type: clipType, Path: rel}

	l.mu.Lock()
	_, ok := l.sources[key]
	delete(l.sources, key)
	l.mu.Unlock()
	if !ok {
		return
	}

	if l.db != nil {
		l.db.RemoveSource(key.Type, key.Path)
	}
	l.logger.WithField("source", rel).Info("Removed media source")
	l.bump()
}

// ignored filters temporary and hidden files.
func ignored(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}
