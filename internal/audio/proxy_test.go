package audio

import (
	"context"
	"testing"
	"time"

	"composer/pkg/models"
)

func TestNewProxyRejectsShortLookahead(t *testing.T) {
	e := NewEngine(&stubDecoder{}, &manualDestination{}, 200*time.Millisecond, LatencyDesync, quietLogger())
	defer e.Close()

	if _, err := NewProxy(e, 160*time.Millisecond, 0, quietLogger()); err == nil {
		t.Error("Expected buffer interval too close to the lookahead to be rejected")
	}
	if _, err := NewProxy(e, 100*time.Millisecond, 0, quietLogger()); err != nil {
		t.Errorf("Expected defaults to be accepted, got %v", err)
	}
}

func TestProxyPlayPause(t *testing.T) {
	mixer := NewMixer(1000, 2, 0)
	e := NewEngine(&stubDecoder{}, mixer, DefaultLookahead, LatencyDesync, quietLogger())
	defer e.Close()

	clips := []models.Clip{
		audioClip(1, "a.wav", 1, 0, 0, 0.5),
		audioClip(2, "b.wav", 1, 0.5, 0, 0.5),
	}
	if err := e.SetClips(context.Background(), clips); err != nil {
		t.Fatalf("SetClips failed: %v", err)
	}

	p, err := NewProxy(e, 20*time.Millisecond, 5*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("NewProxy failed: %v", err)
	}

	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if p.Paused() {
		t.Fatal("Expected proxy to be playing")
	}
	if e.Active() != 1 {
		t.Errorf("Expected first clip scheduled on play, got %d", e.Active())
	}

	// Advance the output clock past the point where clip 2 enters the window.
	mixer.Render(400)
	deadline := time.Now().Add(time.Second)
	for e.Active() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if e.Active() != 2 {
		t.Errorf("Expected buffering loop to schedule clip 2, got %d active", e.Active())
	}
	if got := p.CurrentTime(); got < 0.39 {
		t.Errorf("Expected playback time to follow the clock, got %v", got)
	}

	p.Pause()
	if !p.Paused() || e.Active() != 0 {
		t.Error("Expected Pause to stop every voice")
	}

	if err := p.SetCurrentTime(context.Background(), 0.75); err != nil {
		t.Fatalf("SetCurrentTime failed: %v", err)
	}
	if e.Active() != 0 {
		t.Error("Seeking while paused must not schedule")
	}
}

func TestProxyMute(t *testing.T) {
	e := NewEngine(&stubDecoder{}, &manualDestination{}, DefaultLookahead, LatencyDesync, quietLogger())
	defer e.Close()

	p, err := NewProxy(e, 0, 0, quietLogger())
	if err != nil {
		t.Fatalf("NewProxy failed: %v", err)
	}

	p.SetVolume(0.7)
	p.SetMuted(true)
	if e.Volume() != 0 {
		t.Errorf("Expected muted engine volume 0, got %v", e.Volume())
	}
	p.SetMuted(false)
	if e.Volume() != 0.7 {
		t.Errorf("Expected volume restored to 0.7, got %v", e.Volume())
	}
}
