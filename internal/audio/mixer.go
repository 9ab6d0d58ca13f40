package audio

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// FrameDuration is the length of one realtime output frame.
const FrameDuration = 20 * time.Millisecond

// Destination is where scheduled voices are mixed. It owns the output clock.
type Destination interface {
	// Now returns the output clock in seconds.
	Now() float64

	// OutputLatency is the delay between rendering and hearing a sample.
	OutputLatency() float64

	// Schedule starts v at its absolute start time.
	Schedule(v *Voice)
}

// Voice plays a window of a buffer at an absolute output-clock time.
type Voice struct {
	buffer   *Buffer
	when     float64
	offset   float64
	duration float64
	channel  int

	gain    atomic.Uint64
	stopped atomic.Bool
}

// NewVoice creates a voice playing duration seconds of buffer starting offset
// seconds into it, at output-clock time when.
func NewVoice(buffer *Buffer, when, offset, duration, gain float64, channel int) *Voice {
	v := &Voice{
		buffer:   buffer,
		when:     when,
		offset:   offset,
		duration: duration,
		channel:  channel,
	}
	v.SetGain(gain)
	return v
}

// When returns the scheduled start time.
func (v *Voice) When() float64 { return v.when }

// Offset returns the start position inside the buffer, in seconds.
func (v *Voice) Offset() float64 { return v.offset }

// Duration returns how long the voice plays, in seconds.
func (v *Voice) Duration() float64 { return v.duration }

// Channel returns the clip channel the voice belongs to.
func (v *Voice) Channel() int { return v.channel }

// Gain returns the voice's current gain.
func (v *Voice) Gain() float64 {
	return math.Float64frombits(v.gain.Load())
}

// SetGain changes the gain without rescheduling.
func (v *Voice) SetGain(gain float64) {
	v.gain.Store(math.Float64bits(gain))
}

// Stop silences the voice. A stopped voice is dropped by the mixer.
func (v *Voice) Stop() {
	v.stopped.Store(true)
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	return v.stopped.Load()
}

// Mixer is a software destination: it sums scheduled voices into interleaved
// PCM and advances its clock by the samples it renders.
type Mixer struct {
	sampleRate int
	channels   int
	latency    float64

	mu       sync.Mutex
	position int64
	voices   []*Voice
}

// NewMixer creates a mixer producing sampleRate Hz with channels channels.
func NewMixer(sampleRate, channels int, outputLatency time.Duration) *Mixer {
	return &Mixer{
		sampleRate: sampleRate,
		channels:   channels,
		latency:    outputLatency.Seconds(),
	}
}

// SampleRate returns the output rate.
func (m *Mixer) SampleRate() int { return m.sampleRate }

// Channels returns the number of output channels.
func (m *Mixer) Channels() int { return m.channels }

func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.position) / float64(m.sampleRate)
}

func (m *Mixer) OutputLatency() float64 {
	return m.latency
}

func (m *Mixer) Schedule(v *Voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices = append(m.voices, v)
}

// Active returns the number of voices not yet finished or stopped.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.voices {
		if !v.Stopped() {
			n++
		}
	}
	return n
}

// Render mixes the next frames sample frames into interleaved float samples
// and advances the clock.
func (m *Mixer) Render(frames int) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]float32, frames*m.channels)
	start := m.position
	end := start + int64(frames)
	rate := float64(m.sampleRate)

	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.Stopped() {
			continue
		}

		vStart := int64(math.Round(v.when * rate))
		vEnd := vStart + int64(math.Round(v.duration*rate))
		srcStart := int64(math.Round(v.offset * float64(v.buffer.SampleRate)))

		from := max(start, vStart)
		to := min(end, vEnd)
		gain := float32(v.Gain())

		for p := from; p < to; p++ {
			src := srcStart + (p - vStart)
			if src < 0 || src >= int64(v.buffer.Frames()) {
				continue
			}
			base := int(p-start) * m.channels
			for c := 0; c < m.channels; c++ {
				sc := c
				if sc >= v.buffer.Channels() {
					sc = v.buffer.Channels() - 1
				}
				out[base+c] += v.buffer.Data[sc][src] * gain
			}
		}

		if vEnd > end {
			kept = append(kept, v)
		}
	}
	m.voices = kept
	m.position = end

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	return out
}

// RenderInt16 mixes the next frames sample frames as interleaved int16 PCM.
func (m *Mixer) RenderInt16(frames int) []int16 {
	return toInt16(m.Render(frames))
}

// Run renders one frame every FrameDuration in real time until ctx is
// cancelled. The returned channel is closed when Run stops.
func (m *Mixer) Run(ctx context.Context) <-chan []int16 {
	out := make(chan []int16, 100)
	frameSize := int(FrameDuration.Seconds() * float64(m.sampleRate))

	go func() {
		defer close(out)

		ticker := time.NewTicker(FrameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame := m.RenderInt16(frameSize)
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func toInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
