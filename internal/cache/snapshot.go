package cache

import "composer/pkg/models"

// Snapshot is an immutable, fully validated view of the clip list with every
// clip's cache populated. Consumers must not mutate it.
type Snapshot struct {
	Channels [][]models.Clip
	Timing   models.Timing

	index    map[int64]clipRef
	endFrame int
}

type clipRef struct {
	channel int
	index   int
}

func newSnapshot(channels [][]models.Clip, timing models.Timing) *Snapshot {
	s := &Snapshot{
		Channels: channels,
		Timing:   timing,
		index:    make(map[int64]clipRef),
	}
	for c, channel := range channels {
		for i, clip := range channel {
			s.index[clip.UUID] = clipRef{channel: c, index: i}
			if clip.Cache != nil && clip.Cache.ClipRange[1] > s.endFrame {
				s.endFrame = clip.Cache.ClipRange[1]
			}
		}
	}
	return s
}

// Empty returns a snapshot without clips.
func Empty(timing models.Timing) *Snapshot {
	return newSnapshot([][]models.Clip{{}}, timing)
}

// Lookup returns the cached clip with the given uuid.
func (s *Snapshot) Lookup(uuid int64) (models.Clip, bool) {
	if s == nil {
		return models.Clip{}, false
	}
	ref, ok := s.index[uuid]
	if !ok {
		return models.Clip{}, false
	}
	return s.Channels[ref.channel][ref.index], true
}

// Info returns the cache of the clip with the given uuid.
func (s *Snapshot) Info(uuid int64) (*models.ClipInfo, bool) {
	clip, ok := s.Lookup(uuid)
	if !ok {
		return nil, false
	}
	return clip.Cache, true
}

// EndFrame is the end of the last clip across every channel.
func (s *Snapshot) EndFrame() int {
	if s == nil {
		return 0
	}
	return s.endFrame
}

// Channel returns the clips of channel i, or nil when out of range.
func (s *Snapshot) Channel(i int) []models.Clip {
	if s == nil || i < 0 || i >= len(s.Channels) {
		return nil
	}
	return s.Channels[i]
}

// Clips returns every clip in channel order.
func (s *Snapshot) Clips() []models.Clip {
	if s == nil {
		return nil
	}
	var out []models.Clip
	for _, channel := range s.Channels {
		out = append(out, channel...)
	}
	return out
}

// Len returns the number of clips across all channels.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.index)
}
