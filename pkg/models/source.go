package models

// SourceKey is the identity of a source: its type and path.
type SourceKey struct {
	Type ClipType
	Path string
}

// ClipSource is a resolvable piece of media or a scene.
type ClipSource struct {
	Type        ClipType `json:"type"`
	Path        string   `json:"path"`
	Name        string   `json:"name"`
	Duration    float64  `json:"duration"` // in seconds
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Peaks       []int16  `json:"-"` // legacy flat waveform
	Width       int      `json:"width,omitempty"`
	Height      int      `json:"height,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`

	// Scene is the live scene backing a scene source. It changes when the
	// host reloads.
	Scene Scene `json:"-"`
}

// Key returns the source's identity.
func (s *ClipSource) Key() SourceKey {
	return SourceKey{Type: s.Type, Path: s.Path}
}

// Same reports whether two sources describe the same content.
func (s *ClipSource) Same(other *ClipSource) bool {
	return s.Type == other.Type &&
		s.Path == other.Path &&
		s.Name == other.Name &&
		s.Duration == other.Duration &&
		s.Fingerprint == other.Fingerprint &&
		s.Scene == other.Scene
}

// Unbounded reports whether the source has no intrinsic length. Still images
// without a probed duration can be stretched to any length.
func (s *ClipSource) Unbounded() bool {
	return s.Type == ClipImage && s.Duration <= 0
}
