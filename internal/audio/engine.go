package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"composer/internal/cache"
	"composer/pkg/models"
)

// LatencyPolicy decides how output latency is compensated.
type LatencyPolicy string

const (
	// LatencyDesync ignores output latency.
	LatencyDesync LatencyPolicy = "desync"
	// LatencyPrepAudio schedules audio ahead by the output latency.
	LatencyPrepAudio LatencyPolicy = "prep_audio"
	// LatencyDelayVideo holds back video until audio is audible.
	LatencyDelayVideo LatencyPolicy = "delay_video"
)

// Valid reports whether p is a known policy.
func (p LatencyPolicy) Valid() bool {
	switch p {
	case LatencyDesync, LatencyPrepAudio, LatencyDelayVideo:
		return true
	}
	return false
}

// DefaultLookahead is how far ahead clips are scheduled.
const DefaultLookahead = 200 * time.Millisecond

type failure struct {
	fingerprint string
	err         error
}

// Engine decodes clip sources and schedules the clips that fall inside the
// lookahead window onto a destination.
type Engine struct {
	decoder   Decoder
	dest      Destination
	lookahead float64
	policy    LatencyPolicy
	logger    *logrus.Logger

	buffers   *cache.Memory[string, *Buffer]
	waveforms *cache.Memory[string, models.WaveformData]

	mu           sync.Mutex
	fingerprints map[string]string
	failures     map[string]failure
	inflight     map[string]chan struct{}
	clips        []models.Clip
	active       map[int64]*Voice
	volume       float64
	audible      []bool
}

// NewEngine creates an engine decoding with decoder and mixing into dest.
func NewEngine(decoder Decoder, dest Destination, lookahead time.Duration, policy LatencyPolicy, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	if !policy.Valid() {
		policy = LatencyPrepAudio
	}
	return &Engine{
		decoder:      decoder,
		dest:         dest,
		lookahead:    lookahead.Seconds(),
		policy:       policy,
		logger:       logger,
		buffers:      cache.NewMemory[string, *Buffer](0),
		waveforms:    cache.NewMemory[string, models.WaveformData](0),
		fingerprints: make(map[string]string),
		failures:     make(map[string]failure),
		inflight:     make(map[string]chan struct{}),
		active:       make(map[int64]*Voice),
		volume:       1,
	}
}

// Destination returns the engine's output.
func (e *Engine) Destination() Destination {
	return e.dest
}

// CacheSource decodes source once and generates its waveform. Concurrent
// calls for the same source wait for the first decode instead of starting
// another. A failed decode is remembered until the source's bytes change.
func (e *Engine) CacheSource(ctx context.Context, source *models.ClipSource) error {
	key := source.Path

	e.mu.Lock()
	if fp, ok := e.fingerprints[key]; ok && fp == source.Fingerprint && e.buffers.Has(key) {
		e.mu.Unlock()
		return nil
	}
	if f, ok := e.failures[key]; ok && f.fingerprint == source.Fingerprint {
		e.mu.Unlock()
		return f.err
	}
	if done, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return e.Failure(key)
	}
	done := make(chan struct{})
	e.inflight[key] = done
	e.mu.Unlock()

	defer close(done)

	buf, err := e.decoder.Decode(ctx, source.Path)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, key)

	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			e.failures[key] = failure{fingerprint: source.Fingerprint, err: err}
		}
		e.logger.WithFields(logrus.Fields{
			"source": source.Path,
		}).WithError(err).Warn("Failed to decode audio, clip audio dropped")
		return err
	}

	delete(e.failures, key)
	e.buffers.Set(key, buf)
	e.waveforms.Set(key, GenerateWaveform(buf))
	e.fingerprints[key] = source.Fingerprint

	e.logger.WithFields(logrus.Fields{
		"source":   source.Path,
		"duration": buf.Duration(),
	}).Debug("Cached audio source")
	return nil
}

// Failure returns the remembered decode error of a source, if any.
func (e *Engine) Failure(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.failures[path]; ok {
		return f.err
	}
	return nil
}

// SetClips replaces the clips the engine schedules. Only audio-bearing clips
// with a resolved source are kept; their sources are decoded first and clips
// whose source fails to decode are dropped.
func (e *Engine) SetClips(ctx context.Context, clips []models.Clip) error {
	var candidates []models.Clip
	sources := make(map[string]*models.ClipSource)
	for _, clip := range clips {
		if !clip.Type.HasAudio() || clip.Cache.Missing() {
			continue
		}
		candidates = append(candidates, clip)
		sources[clip.Cache.Source.Path] = clip.Cache.Source
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, source := range sources {
		g.Go(func() error {
			if err := e.CacheSource(gctx, source); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to cache audio sources: %w", err)
	}

	kept := make([]models.Clip, 0, len(candidates))
	uuids := make(map[int64]struct{}, len(candidates))
	for _, clip := range candidates {
		if !e.buffers.Has(clip.Cache.Source.Path) {
			continue
		}
		kept = append(kept, clip)
		uuids[clip.UUID] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.clips = kept
	for uuid, v := range e.active {
		if _, ok := uuids[uuid]; !ok {
			v.Stop()
			delete(e.active, uuid)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"clips":   len(kept),
		"dropped": len(candidates) - len(kept),
	}).Debug("Updated audio clips")
	return nil
}

// Clips returns the clips the engine currently schedules.
func (e *Engine) Clips() []models.Clip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Clip(nil), e.clips...)
}

// Duration returns the end of the last audio clip in seconds.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	end := 0.0
	for _, clip := range e.clips {
		end = max(end, clip.Offset+clip.Length)
	}
	return end
}

// BufferClips schedules every clip intersecting [at, at+lookahead) that is
// not already scheduled. It returns how many voices were started.
func (e *Engine) BufferClips(at float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bufferClips(at)
}

func (e *Engine) bufferClips(at float64) int {
	if e.policy == LatencyPrepAudio {
		at += e.dest.OutputLatency()
	}
	now := e.dest.Now()

	scheduled := 0
	for _, clip := range e.clips {
		end := clip.Offset + clip.Length
		if end <= at || clip.Offset >= at+e.lookahead {
			continue
		}
		if _, ok := e.active[clip.UUID]; ok {
			continue
		}
		buf, ok := e.buffers.Get(clip.Cache.Source.Path)
		if !ok {
			continue
		}

		when := max(clip.Offset-at, 0) + now
		offset := max(at-clip.Offset, 0) + clip.Start
		duration := clip.Length - (offset - clip.Start)

		v := NewVoice(buf, when, offset, duration, e.gain(clip), clip.Cache.Channel)
		e.dest.Schedule(v)
		e.active[clip.UUID] = v
		scheduled++

		e.logger.WithFields(logrus.Fields{
			"clip_uuid": clip.UUID,
			"channel":   clip.Cache.Channel,
			"when":      when,
			"offset":    offset,
		}).Debug("Scheduled clip audio")
	}
	return scheduled
}

func (e *Engine) gain(clip models.Clip) float64 {
	if !e.isAudible(clip.Cache.Channel) {
		return 0
	}
	return clip.Volume * e.volume
}

// isAudible maps a clip channel onto the track flags. Channel 0 carries video
// audio and has no track.
func (e *Engine) isAudible(channel int) bool {
	track := channel - 1
	if track < 0 || track >= len(e.audible) {
		return true
	}
	return e.audible[track]
}

// Play stops any running schedule and buffers from at. Under the delay_video
// policy it returns once the output latency has passed.
func (e *Engine) Play(ctx context.Context, at float64) error {
	e.mu.Lock()
	e.stop()
	e.bufferClips(at)
	delay := e.dest.OutputLatency()
	e.mu.Unlock()

	if e.policy != LatencyDelayVideo || delay <= 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(delay * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts and forgets every scheduled voice.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop()
}

func (e *Engine) stop() {
	for uuid, v := range e.active {
		v.Stop()
		delete(e.active, uuid)
	}
}

// Active returns the number of scheduled voices.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Voice returns the scheduled voice of a clip.
func (e *Engine) Voice(uuid int64) (*Voice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.active[uuid]
	return v, ok
}

// SetTracks recomputes track audibility and updates the gain of every
// scheduled voice in place.
func (e *Engine) SetTracks(tracks []models.Track) []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audible = Audibility(tracks)
	e.applyGains()
	return append([]bool(nil), e.audible...)
}

// SetVolume changes the global volume of every scheduled voice.
func (e *Engine) SetVolume(volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.volume == volume {
		return
	}
	e.volume = volume
	e.applyGains()
}

// Volume returns the global volume.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Engine) applyGains() {
	for _, clip := range e.clips {
		if v, ok := e.active[clip.UUID]; ok {
			v.SetGain(e.gain(clip))
		}
	}
}

// AudioData returns the waveform of a decoded source.
func (e *Engine) AudioData(path string) (models.WaveformData, bool) {
	return e.waveforms.Get(path)
}

// Buffer returns the decoded samples of a source.
func (e *Engine) Buffer(path string) (*Buffer, bool) {
	return e.buffers.Get(path)
}

// Close releases the engine's caches.
func (e *Engine) Close() {
	e.Stop()
	e.buffers.Close()
	e.waveforms.Close()
}
