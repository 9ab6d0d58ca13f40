package audio

// Buffer is decoded audio, one float32 slice per channel, samples in [-1, 1].
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// NewBuffer allocates a silent buffer.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	data := make([][]float32, channels)
	for i := range data {
		data[i] = make([]float32, frames)
	}
	return &Buffer{SampleRate: sampleRate, Data: data}
}

// Channels returns the number of channels.
func (b *Buffer) Channels() int {
	return len(b.Data)
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Conform returns b converted to the given sample rate and channel count.
// Mono is duplicated across channels, extra channels are folded into the last
// output channel, and the rate is converted by linear interpolation.
func (b *Buffer) Conform(sampleRate, channels int) *Buffer {
	out := b
	if b.Channels() != channels {
		out = b.remix(channels)
	}
	if out.SampleRate != sampleRate && out.SampleRate > 0 {
		out = out.resample(sampleRate)
	}
	return out
}

func (b *Buffer) remix(channels int) *Buffer {
	frames := b.Frames()
	out := NewBuffer(b.SampleRate, channels, frames)
	if b.Channels() == 0 {
		return out
	}

	if b.Channels() == 1 {
		for c := range out.Data {
			copy(out.Data[c], b.Data[0])
		}
		return out
	}

	for c := range out.Data {
		if c < b.Channels() {
			copy(out.Data[c], b.Data[c])
		}
	}

	// Fold remaining source channels into the last output channel.
	if b.Channels() > channels {
		last := out.Data[channels-1]
		folded := float32(b.Channels() - channels + 1)
		for c := channels; c < b.Channels(); c++ {
			for i, v := range b.Data[c] {
				last[i] += v
			}
		}
		for i := range last {
			last[i] /= folded
		}
	}
	return out
}

func (b *Buffer) resample(sampleRate int) *Buffer {
	ratio := float64(b.SampleRate) / float64(sampleRate)
	frames := int(float64(b.Frames()) / ratio)
	out := NewBuffer(sampleRate, b.Channels(), frames)

	for c, src := range b.Data {
		dst := out.Data[c]
		for i := range dst {
			pos := float64(i) * ratio
			j := int(pos)
			if j+1 >= len(src) {
				if j < len(src) {
					dst[i] = src[j]
				}
				continue
			}
			frac := float32(pos - float64(j))
			dst[i] = src[j]*(1-frac) + src[j+1]*frac
		}
	}
	return out
}
