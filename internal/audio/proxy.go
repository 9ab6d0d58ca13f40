package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Default proxy intervals.
const (
	DefaultBufferInterval = 100 * time.Millisecond
	DefaultUpdateInterval = 16 * time.Millisecond
)

// Proxy is the transport-facing side of the engine: it tracks the playback
// position against the output clock and keeps the lookahead window filled
// while playing.
type Proxy struct {
	engine         *Engine
	bufferInterval time.Duration
	updateInterval time.Duration
	logger         *logrus.Logger

	mu           sync.Mutex
	muted        bool
	volume       float64
	paused       bool
	playbackTime float64
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewProxy creates a paused proxy. The buffer interval must leave at least
// 50ms of the engine's lookahead unused.
func NewProxy(engine *Engine, bufferInterval, updateInterval time.Duration, logger *logrus.Logger) (*Proxy, error) {
	if bufferInterval <= 0 {
		bufferInterval = DefaultBufferInterval
	}
	if updateInterval <= 0 {
		updateInterval = DefaultUpdateInterval
	}
	if bufferInterval.Seconds()+0.05 >= engine.lookahead {
		return nil, fmt.Errorf("buffer interval %s must be at least 50ms shorter than the lookahead", bufferInterval)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Proxy{
		engine:         engine,
		bufferInterval: bufferInterval,
		updateInterval: updateInterval,
		logger:         logger,
		volume:         1,
		paused:         true,
	}, nil
}

// CurrentTime returns the playback position in seconds.
func (p *Proxy) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playbackTime
}

// SetCurrentTime moves the playback position, restarting the schedule when
// playing.
func (p *Proxy) SetCurrentTime(ctx context.Context, seconds float64) error {
	p.mu.Lock()
	p.playbackTime = seconds
	paused := p.paused
	p.mu.Unlock()

	if paused {
		return nil
	}
	return p.Play(ctx)
}

// Muted reports whether output is muted.
func (p *Proxy) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// SetMuted mutes or unmutes output without losing the volume.
func (p *Proxy) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	p.applyVolume()
}

// Volume returns the global volume.
func (p *Proxy) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetVolume changes the global volume.
func (p *Proxy) SetVolume(volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	p.applyVolume()
}

func (p *Proxy) applyVolume() {
	if p.muted {
		p.engine.SetVolume(0)
		return
	}
	p.engine.SetVolume(p.volume)
}

// Duration returns the end of the last audio clip in seconds.
func (p *Proxy) Duration() float64 {
	return p.engine.Duration()
}

// Paused reports whether the proxy is paused.
func (p *Proxy) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Pause cancels the buffering loop and stops every scheduled voice.
func (p *Proxy) Pause() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.engine.Stop()
}

// Play starts playback from the current position. Any previous schedule is
// stopped first.
func (p *Proxy) Play(ctx context.Context) error {
	p.Pause()

	p.mu.Lock()
	p.paused = false
	start := p.playbackTime
	p.mu.Unlock()

	if err := p.engine.Play(ctx, start); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Paused while the engine was starting.
	if p.paused {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	dest := p.engine.Destination()
	go p.update(loopCtx, done, dest, dest.Now())
	return nil
}

func (p *Proxy) update(ctx context.Context, done chan struct{}, dest Destination, last float64) {
	defer close(done)

	ticker := time.NewTicker(p.updateInterval)
	defer ticker.Stop()

	sinceBuffer := 0.0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := dest.Now()
			delta := now - last
			last = now

			p.mu.Lock()
			p.playbackTime += delta
			position := p.playbackTime
			p.mu.Unlock()

			sinceBuffer += delta
			if sinceBuffer > p.bufferInterval.Seconds() {
				if n := p.engine.BufferClips(position); n > 0 {
					p.logger.WithField("voices", n).Debug("Buffered clips")
				}
				sinceBuffer = 0
			}
		}
	}
}
