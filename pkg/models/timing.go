package models

import "math"

// Timing converts between seconds and frames at a fixed frame rate.
type Timing struct {
	FPS float64
}

// SecondsToFrames converts seconds to the nearest whole frame.
func (t Timing) SecondsToFrames(seconds float64) int {
	return int(math.Round(seconds * t.FPS))
}

// FramesToSeconds converts a frame count to seconds.
func (t Timing) FramesToSeconds(frames int) float64 {
	if t.FPS == 0 {
		return 0
	}
	return float64(frames) / t.FPS
}
