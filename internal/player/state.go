package player

import (
	"context"
	"sync"
	"time"

	"composer/internal/audio"
	"composer/internal/cache"
	"composer/internal/playback"
	"composer/internal/store"
	"composer/pkg/models"

	"github.com/sirupsen/logrus"
)

// State represents the current transport state
type State struct {
	Frame     int       `json:"frame"`
	Duration  int       `json:"duration"` // in frames
	Time      float64   `json:"time"`     // in seconds
	FPS       float64   `json:"fps"`
	IsPlaying bool      `json:"isPlaying"`
	Finished  bool      `json:"finished"`
	ClipUUID  int64     `json:"clipUuid"`
	Scene     string    `json:"scene"`
	Status    string    `json:"status"`
	Speed     int       `json:"speed"`
	Volume    float64   `json:"volume"` // 0.0 to 1.0
	IsMuted   bool      `json:"isMuted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Player combines the playback driver and the audio proxy into one
// transport. It serializes every driver call and publishes the resulting
// state.
type Player struct {
	driver *playback.Driver
	proxy  *audio.Proxy
	timing models.Timing
	logger *logrus.Logger

	mu      sync.Mutex
	playing bool
	volume  float64
	muted   bool

	state *store.Value[State]
}

// New creates a paused player. proxy may be nil for a silent transport.
func New(driver *playback.Driver, proxy *audio.Proxy, timing models.Timing, logger *logrus.Logger) *Player {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Player{
		driver: driver,
		proxy:  proxy,
		timing: timing,
		logger: logger,
		volume: 1.0,
		state:  store.NewValue(State{Volume: 1.0, FPS: timing.FPS, UpdatedAt: time.Now()}),
	}
	return p
}

// GetState returns the current player state
func (p *Player) GetState() State {
	return p.state.Get()
}

// Subscribe adds a listener for state changes
func (p *Player) Subscribe() <-chan State {
	return p.state.Subscribe()
}

// Unsubscribe removes a listener
func (p *Player) Unsubscribe(ch <-chan State) {
	p.state.Unsubscribe(ch)
}

// Prepare installs the first snapshot and rewinds to frame 0.
func (p *Player) Prepare(ctx context.Context, snapshot *cache.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.driver.Prepare(ctx, snapshot); err != nil {
		return err
	}
	p.publish()
	return nil
}

// Recalculate consumes a refreshed snapshot, keeping the current frame. A
// playing transport reschedules its audio.
func (p *Player) Recalculate(ctx context.Context, snapshot *cache.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.driver.Recalculate(ctx, snapshot); err != nil {
		return err
	}
	if p.playing {
		if err := p.syncAudio(ctx); err != nil {
			return err
		}
	}
	p.publish()
	return nil
}

// Play starts playback from the current frame, rewinding first when the
// end was reached.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.driver.Finished() || p.driver.Frame() >= p.driver.Duration() {
		if err := p.driver.Seek(ctx, 0); err != nil {
			return err
		}
	}
	p.playing = true
	if p.proxy != nil {
		if err := p.proxy.SetCurrentTime(ctx, p.timing.FramesToSeconds(p.driver.Frame())); err != nil {
			return err
		}
		if err := p.proxy.Play(ctx); err != nil {
			return err
		}
	}

	p.logger.WithField("frame", p.driver.Frame()).Info("Playback started")
	p.publish()
	return nil
}

// Pause stops playback and the audio schedule.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pause()
	p.publish()
}

func (p *Player) pause() {
	if !p.playing {
		return
	}
	p.playing = false
	if p.proxy != nil {
		p.proxy.Pause()
	}
	p.logger.WithField("frame", p.driver.Frame()).Info("Playback paused")
}

// Seek moves to frame, clamped to the timeline.
func (p *Player) Seek(ctx context.Context, frame int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame = max(0, min(frame, p.driver.Duration()))
	if err := p.driver.Seek(ctx, frame); err != nil {
		return err
	}
	if err := p.syncAudio(ctx); err != nil {
		return err
	}
	p.publish()
	return nil
}

// syncAudio moves the audio position to the driver's frame. Must be called
// with p.mu held.
func (p *Player) syncAudio(ctx context.Context) error {
	if p.proxy == nil {
		return nil
	}
	return p.proxy.SetCurrentTime(ctx, p.timing.FramesToSeconds(p.driver.Frame()))
}

// Tick advances one frame while playing. It reports whether the timeline
// finished, in which case playback pauses.
func (p *Player) Tick(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return false, nil
	}
	finished, err := p.driver.Next(ctx)
	if err != nil {
		p.pause()
		p.publish()
		return false, err
	}
	if finished {
		p.pause()
	}
	p.publish()
	return finished, nil
}

// Run ticks at the timeline's frame rate until ctx is done. Engine contract
// violations stop playback and are logged.
func (p *Player) Run(ctx context.Context) {
	interval := time.Second
	if p.timing.FPS > 0 {
		interval = time.Duration(float64(time.Second) / p.timing.FPS)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil {
				p.logger.WithError(err).Error("Playback stopped")
			}
		}
	}
}

// SetSpeed changes how many frames each tick advances.
func (p *Player) SetSpeed(speed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.driver.SetSpeed(speed)
	p.publish()
}

// SetVolume updates the output volume
func (p *Player) SetVolume(volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = max(0, min(volume, 1))
	if p.proxy != nil {
		p.proxy.SetVolume(p.volume)
	}
	p.publish()
}

// SetMuted mutes or unmutes the output
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	if p.proxy != nil {
		p.proxy.SetMuted(muted)
	}
	p.publish()
}

// publish sends the current state to subscribers (must be called with lock held).
func (p *Player) publish() {
	clip := p.driver.Clip()
	sceneName := ""
	if s := p.driver.Current(); s != nil {
		sceneName = s.Name()
	}
	p.state.Set(State{
		Frame:     p.driver.Frame(),
		Duration:  p.driver.Duration(),
		Time:      p.timing.FramesToSeconds(p.driver.Frame()),
		FPS:       p.timing.FPS,
		IsPlaying: p.playing,
		Finished:  p.driver.Finished(),
		ClipUUID:  clip.UUID,
		Scene:     sceneName,
		Status:    p.driver.State().String(),
		Speed:     p.driver.Speed(),
		Volume:    p.volume,
		IsMuted:   p.muted,
		UpdatedAt: time.Now(),
	})
}
