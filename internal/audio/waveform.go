package audio

import (
	"math"

	"composer/pkg/models"
)

const (
	// MaxWaveformRate caps the finest waveform level, in peaks per second.
	MaxWaveformRate = 30 * 128

	// MaxWaveformPeaks is the size under which halving stops.
	MaxWaveformPeaks = 512
)

// GenerateWaveform builds the waveform mip-chain of a decoded buffer. Level 0
// is the finest; every following level halves the previous one.
func GenerateWaveform(buf *Buffer) models.WaveformData {
	data := models.WaveformData{Duration: buf.Duration()}
	if buf.Frames() == 0 || buf.SampleRate == 0 {
		return data
	}

	step := int(math.Ceil(float64(buf.SampleRate) / MaxWaveformRate))
	if step < 1 {
		step = 1
	}
	frames := buf.Frames()
	buckets := (frames + step - 1) / step

	means := make([]float64, buckets)
	absMax := 0.0
	for b := 0; b < buckets; b++ {
		start := b * step
		end := start + step
		if end > frames {
			end = frames
		}

		sum := 0.0
		for _, channel := range buf.Data {
			for _, v := range channel[start:end] {
				sum += math.Abs(float64(v))
			}
		}
		mean := sum / float64((end-start)*buf.Channels())
		means[b] = mean
		if mean > absMax {
			absMax = mean
		}
	}

	peaks := make([]uint16, buckets)
	if absMax > 0 {
		for i, mean := range means {
			peaks[i] = uint16(math.Round(mean / absMax * math.MaxUint16))
		}
	}

	rate := float64(buf.SampleRate) / float64(step)
	data.AbsoluteMax = absMax
	data.Levels = append(data.Levels, models.WaveformLevel{SampleRate: rate, Peaks: peaks})

	for len(peaks) > MaxWaveformPeaks {
		peaks = halve(peaks)
		rate /= 2
		data.Levels = append(data.Levels, models.WaveformLevel{SampleRate: rate, Peaks: peaks})
	}

	return data
}

func halve(peaks []uint16) []uint16 {
	out := make([]uint16, (len(peaks)+1)/2)
	for i := range out {
		a := uint32(peaks[2*i])
		if 2*i+1 < len(peaks) {
			out[i] = uint16((a + uint32(peaks[2*i+1])) / 2)
		} else {
			out[i] = uint16(a)
		}
	}
	return out
}
