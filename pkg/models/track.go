package models

// Track holds the per-channel mixer flags for one audio channel. Tracks are
// indexed by audio channel, so track i describes clip channel i+1.
type Track struct {
	Solo   bool `json:"solo" yaml:"solo"`
	Muted  bool `json:"muted" yaml:"muted"`
	Locked bool `json:"locked" yaml:"locked"`
}

// ResizeTracks returns tracks grown or shrunk to n entries. Existing flags are
// kept, new tracks start unsoloed and unmuted.
func ResizeTracks(tracks []Track, n int) []Track {
	if n < 0 {
		n = 0
	}
	out := make([]Track, n)
	copy(out, tracks)
	return out
}
