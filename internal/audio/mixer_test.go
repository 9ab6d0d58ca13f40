package audio

import (
	"context"
	"testing"
	"time"
)

func constantBuffer(rate, frames int, v float32) *Buffer {
	buf := NewBuffer(rate, 1, frames)
	for i := range buf.Data[0] {
		buf.Data[0][i] = v
	}
	return buf
}

func TestMixerRender(t *testing.T) {
	m := NewMixer(100, 1, 0)
	m.Schedule(NewVoice(constantBuffer(100, 10, 0.5), 0.01, 0, 0.02, 0.5, 1))

	got := m.Render(5)
	want := []float32{0, 0.25, 0.25, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}

	if m.Now() != 0.05 {
		t.Errorf("Expected clock at 0.05s, got %v", m.Now())
	}
	if m.Active() != 0 {
		t.Errorf("Expected finished voice to be dropped, got %d", m.Active())
	}
}

func TestMixerGainAndStop(t *testing.T) {
	m := NewMixer(100, 2, 0)
	v := NewVoice(constantBuffer(100, 100, 0.8), 0, 0, 1, 1, 1)
	w := NewVoice(constantBuffer(100, 100, 0.8), 0, 0, 1, 1, 2)
	m.Schedule(v)
	m.Schedule(w)

	got := m.Render(1)
	if got[0] != 1 || got[1] != 1 {
		t.Errorf("Expected summed output to clip at 1, got %v", got)
	}

	w.Stop()
	v.SetGain(0.5)
	got = m.Render(1)
	if got[0] != 0.4 || got[1] != 0.4 {
		t.Errorf("Expected 0.4 on both channels, got %v", got)
	}
	if m.Active() != 1 {
		t.Errorf("Expected stopped voice to be dropped, got %d active", m.Active())
	}
}

func TestMixerRenderInt16(t *testing.T) {
	m := NewMixer(100, 1, 0)
	m.Schedule(NewVoice(constantBuffer(100, 10, -1), 0, 0, 0.1, 1, 1))

	got := m.RenderInt16(1)
	if got[0] != -32767 {
		t.Errorf("Expected -32767, got %d", got[0])
	}
}

func TestMixerRun(t *testing.T) {
	m := NewMixer(48000, 2, 0)
	ctx, cancel := context.WithCancel(context.Background())

	frames := m.Run(ctx)
	select {
	case frame := <-frames:
		if len(frame) != 960*2 {
			t.Errorf("Expected 20ms stereo frame, got %d samples", len(frame))
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for a frame")
	}

	cancel()
	for range frames {
	}
	if m.Now() <= 0 {
		t.Error("Expected the clock to advance while running")
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan []int16, 1)
	go b.Run(ctx, source)

	source <- []int16{1, 2}
	select {
	case frame := <-l.C:
		if len(frame) != 2 || frame[0] != 1 {
			t.Errorf("Unexpected frame %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for a frame")
	}

	b.Unsubscribe(l)
	select {
	case <-l.Done():
	default:
		t.Error("Expected listener to be signalled")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("Expected no listeners, got %d", b.ListenerCount())
	}
}
