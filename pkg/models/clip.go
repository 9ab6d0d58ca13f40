package models

import "fmt"

// ClipType identifies the kind of media a clip places on the timeline.
type ClipType string

const (
	ClipScene ClipType = "scene"
	ClipVideo ClipType = "video"
	ClipImage ClipType = "image"
	ClipAudio ClipType = "audio"
)

// Valid reports whether t is one of the known clip types.
func (t ClipType) Valid() bool {
	switch t {
	case ClipScene, ClipVideo, ClipImage, ClipAudio:
		return true
	}
	return false
}

// HasAudio reports whether clips of this type contribute to the audio mix.
func (t ClipType) HasAudio() bool {
	return t == ClipAudio || t == ClipVideo
}

// Clip is an authored placement of a source on the composed timeline. All
// timing fields are in seconds.
type Clip struct {
	UUID   int64    `json:"uuid" yaml:"uuid"`
	Type   ClipType `json:"type" yaml:"type"`
	Path   string   `json:"path" yaml:"path"`
	Offset float64  `json:"offset" yaml:"offset"` // position on the composed timeline
	Start  float64  `json:"start" yaml:"start"`   // trim point into the source
	Length float64  `json:"length" yaml:"length"`
	Volume float64  `json:"volume" yaml:"volume"` // 0..1 multiplier

	// Cache is derived by the resolver and never persisted.
	Cache *ClipInfo `json:"-" yaml:"-"`
}

// ClipInfo is the derived frame-space view of a clip.
type ClipInfo struct {
	// StartFrames is how many source frames the clip skips.
	StartFrames int `json:"startFrames"`

	// LengthFrames is the clip's length in frames.
	LengthFrames int `json:"lengthFrames"`

	// ClipRange is the [start, end) range the clip occupies on the composed timeline.
	ClipRange [2]int `json:"clipRange"`

	// SourceFrames is the length of the resolved source. Zero when the source is missing.
	SourceFrames int `json:"sourceFrames"`

	// Source is nil when the clip's source could not be resolved.
	Source *ClipSource `json:"-"`

	Channel int `json:"channel"`
}

// Missing reports whether the clip's source could not be resolved.
func (ci *ClipInfo) Missing() bool {
	return ci == nil || ci.Source == nil
}

// Contains reports whether frame lies in the clip's [start, end) range.
func (ci *ClipInfo) Contains(frame int) bool {
	return frame >= ci.ClipRange[0] && frame < ci.ClipRange[1]
}

// End returns the exclusive end of the clip's range.
func (c *Clip) End() float64 {
	return c.Offset + c.Length
}

// Clone returns a deep copy of the clip. The cache is copied, the source it
// points at is shared.
func (c Clip) Clone() Clip {
	if c.Cache != nil {
		info := *c.Cache
		c.Cache = &info
	}
	return c
}

// Strip returns a copy of the clip without its cache, ready to be persisted.
func (c Clip) Strip() Clip {
	c.Cache = nil
	return c
}

func (c Clip) String() string {
	return fmt.Sprintf("%s clip %d (%s @ %.3fs)", c.Type, c.UUID, c.Path, c.Offset)
}

// CloneChannels deep-copies a channel list.
func CloneChannels(channels [][]Clip) [][]Clip {
	out := make([][]Clip, len(channels))
	for i, channel := range channels {
		out[i] = make([]Clip, len(channel))
		for j, clip := range channel {
			out[i][j] = clip.Clone()
		}
	}
	return out
}

// StripChannels copies a channel list dropping every cache.
func StripChannels(channels [][]Clip) [][]Clip {
	out := make([][]Clip, len(channels))
	for i, channel := range channels {
		out[i] = make([]Clip, len(channel))
		for j, clip := range channel {
			out[i][j] = clip.Strip()
		}
	}
	return out
}
