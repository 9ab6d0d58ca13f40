package models

// WaveformLevel is one resolution of a waveform mip-chain. Peaks are mean
// absolute amplitudes normalized to the source's absolute maximum, scaled to
// the full uint16 range.
type WaveformLevel struct {
	SampleRate float64  `json:"sampleRate"`
	Peaks      []uint16 `json:"peaks"`
}

// WaveformData is the multi-resolution waveform of one decoded source.
type WaveformData struct {
	Levels      []WaveformLevel `json:"levels"`
	AbsoluteMax float64         `json:"absoluteMax"`
	Duration    float64         `json:"duration"`
}

// LevelFor returns the cheapest level that still has fewer than two peaks
// per pixel at the given zoom, falling back to the coarsest level.
func (w *WaveformData) LevelFor(pixelsPerSecond float64) *WaveformLevel {
	if len(w.Levels) == 0 {
		return nil
	}
	for i := range w.Levels {
		level := &w.Levels[i]
		if i == len(w.Levels)-1 || pixelsPerSecond <= 0 {
			return level
		}
		if level.SampleRate/pixelsPerSecond < 2 {
			return level
		}
	}
	return &w.Levels[len(w.Levels)-1]
}
