package cache

import (
	"sort"

	"github.com/sirupsen/logrus"

	"composer/pkg/models"
)

// SourceLookup resolves a source by its identity.
type SourceLookup interface {
	Find(t models.ClipType, path string) (*models.ClipSource, bool)
}

// Resolver turns authored clips and discovered sources into a validated
// snapshot of frame ranges.
type Resolver struct {
	timing        models.Timing
	subscriptions *SubscriptionManager
	logger        *logrus.Logger
}

// NewResolver creates a resolver converting seconds to frames with timing.
// onRecalculate runs whenever a referenced scene changes its internal timing.
func NewResolver(timing models.Timing, onRecalculate func(models.Scene), logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{
		timing:        timing,
		subscriptions: NewSubscriptionManager(onRecalculate),
		logger:        logger,
	}
}

// Timing returns the resolver's frame rate.
func (r *Resolver) Timing() models.Timing {
	return r.timing
}

// Subscriptions exposes the scene subscriptions owned by the resolver.
func (r *Resolver) Subscriptions() *SubscriptionManager {
	return r.subscriptions
}

// Refresh validates channels against sources and returns a snapshot with
// every clip's cache populated, plus the number of audio tracks the clip list
// needs. The input is never mutated. On an authoring violation no snapshot is
// returned and scene subscriptions are left untouched.
func (r *Resolver) Refresh(channels [][]models.Clip, sources SourceLookup) (*Snapshot, int, error) {
	working := models.CloneChannels(channels)
	if len(working) == 0 {
		working = [][]models.Clip{{}}
	}

	var scenes []models.Scene
	missing := 0
	seen := make(map[int64]int)

	for c, channel := range working {
		sort.SliceStable(channel, func(i, j int) bool {
			return channel[i].Offset < channel[j].Offset
		})

		lastEnd := 0
		for i := range channel {
			clip := &channel[i]
			if first, ok := seen[clip.UUID]; ok {
				err := violation(clip.UUID, c, ErrDuplicateUUID, "also used on channel %d", first)
				r.logger.WithFields(logrus.Fields{
					"clip_uuid": clip.UUID,
					"channel":   c,
				}).WithError(err).Error("Invalid clip")
				return nil, 0, err
			}
			seen[clip.UUID] = c

			info, err := r.resolve(clip, c, sources)
			if err != nil {
				r.logger.WithFields(logrus.Fields{
					"clip_uuid": clip.UUID,
					"channel":   c,
				}).WithError(err).Error("Invalid clip")
				return nil, 0, err
			}

			if info.ClipRange[0] < lastEnd {
				err := violation(clip.UUID, c, ErrOverlap, "starts at frame %d, previous clip ends at %d", info.ClipRange[0], lastEnd)
				r.logger.WithFields(logrus.Fields{
					"clip_uuid": clip.UUID,
					"channel":   c,
				}).WithError(err).Error("Invalid clip")
				return nil, 0, err
			}
			lastEnd = info.ClipRange[1]

			if info.Missing() {
				missing++
			} else if info.Source.Type == models.ClipScene && info.Source.Scene != nil {
				scenes = append(scenes, info.Source.Scene)
			}
			clip.Cache = info
		}
	}

	added, removed := r.subscriptions.Sync(scenes)
	snapshot := newSnapshot(working, r.timing)

	r.logger.WithFields(logrus.Fields{
		"clips":                 snapshot.Len(),
		"missing":               missing,
		"end_frame":             snapshot.EndFrame(),
		"subscriptions_added":   added,
		"subscriptions_removed": removed,
	}).Debug("Refreshed clip cache")

	return snapshot, TrackCount(len(working)), nil
}

// TrackCount returns the number of audio tracks a clip list with the given
// number of channels needs. There is always at least one.
func TrackCount(channels int) int {
	if channels-1 < 1 {
		return 1
	}
	return channels - 1
}

// Close drops every scene subscription.
func (r *Resolver) Close() {
	r.subscriptions.Close()
}

func (r *Resolver) resolve(clip *models.Clip, channel int, sources SourceLookup) (*models.ClipInfo, error) {
	if !clip.Type.Valid() {
		return nil, violation(clip.UUID, channel, ErrInvalidType, "%q", clip.Type)
	}
	if clip.UUID < 0 {
		return nil, violation(clip.UUID, channel, ErrInvalidUUID, "uuid %d", clip.UUID)
	}
	// Channel 0 holds the picture, every other channel is audio only.
	if (clip.Type == models.ClipAudio) != (channel > 0) {
		return nil, violation(clip.UUID, channel, ErrWrongChannel, "%s clip on channel %d", clip.Type, channel)
	}
	if clip.Offset < 0 || clip.Start < 0 {
		return nil, violation(clip.UUID, channel, ErrNegativeTiming, "offset %.3fs, start %.3fs", clip.Offset, clip.Start)
	}

	offsetFrames := r.timing.SecondsToFrames(clip.Offset)
	startFrames := r.timing.SecondsToFrames(clip.Start)
	lengthFrames := r.timing.SecondsToFrames(clip.Length)

	if lengthFrames <= 0 {
		if clip.Type == models.ClipAudio {
			return nil, violation(clip.UUID, channel, ErrInvalidLength, "audio clip length %.3fs", clip.Length)
		}
		return nil, violation(clip.UUID, channel, ErrInvalidLength, "length %.3fs", clip.Length)
	}

	info := &models.ClipInfo{
		StartFrames:  startFrames,
		LengthFrames: lengthFrames,
		ClipRange:    [2]int{offsetFrames, offsetFrames + lengthFrames},
		Channel:      channel,
	}

	var source *models.ClipSource
	if sources != nil {
		if found, ok := sources.Find(clip.Type, clip.Path); ok {
			source = found
		}
	}
	if source == nil {
		r.logger.WithFields(logrus.Fields{
			"clip_uuid": clip.UUID,
			"source":    clip.Path,
			"channel":   channel,
		}).Warn("Clip source not found")
		return info, nil
	}

	info.Source = source
	if source.Unbounded() {
		info.SourceFrames = startFrames + lengthFrames
		return info, nil
	}
	info.SourceFrames = r.sourceFrames(source)

	if startFrames >= info.SourceFrames {
		return nil, violation(clip.UUID, channel, ErrTrimOutOfBounds, "start frame %d, source has %d frames", startFrames, info.SourceFrames)
	}
	if startFrames+lengthFrames > info.SourceFrames {
		return nil, violation(clip.UUID, channel, ErrTrimOutOfBounds, "ends at source frame %d, source has %d frames", startFrames+lengthFrames, info.SourceFrames)
	}

	return info, nil
}

func (r *Resolver) sourceFrames(source *models.ClipSource) int {
	if source.Type == models.ClipScene && source.Scene != nil {
		return models.SceneFrames(source.Scene)
	}
	return r.timing.SecondsToFrames(source.Duration)
}
