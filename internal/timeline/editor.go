package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"composer/internal/cache"
	"composer/pkg/models"
)

// DefaultSnapFrames is how close an edge must be to snap onto another clip.
const DefaultSnapFrames = 3

var (
	ErrNotEditing   = errors.New("no edit in progress")
	ErrClipNotFound = errors.New("clip not found")
	ErrLocked       = errors.New("track is locked")
	ErrWrongChannel = cache.ErrWrongChannel
	ErrInvalidSplit = errors.New("split point must fall inside the clip")
)

// Mode selects how an edit repairs overlaps with neighbouring clips.
type Mode string

const (
	// ModeClip shrinks or deletes the neighbours an edited clip overlaps.
	ModeClip Mode = "clip"
	// ModeCompose keeps the channel packed, pulling and pushing followers.
	ModeCompose Mode = "compose"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeClip || m == ModeCompose
}

// Side is the edge of a clip being resized.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Options configure an editor.
type Options struct {
	Mode       Mode
	Snap       bool
	SnapFrames int
}

// Editor applies gestures to an uncommitted copy of the clip list. All
// positions are in frames until Commit converts them back to seconds.
type Editor struct {
	timing models.Timing
	opts   Options
	tracks []models.Track

	editing bool
	base    [][]models.Clip
	working [][]models.Clip

	// gesture is the clip the current drag applies to, nil between drags.
	gesture *int64
}

// NewEditor creates an idle editor.
func NewEditor(timing models.Timing, opts Options) *Editor {
	if !opts.Mode.Valid() {
		opts.Mode = ModeCompose
	}
	if opts.SnapFrames <= 0 {
		opts.SnapFrames = DefaultSnapFrames
	}
	return &Editor{timing: timing, opts: opts}
}

// Options returns the editor's options.
func (e *Editor) Options() Options { return e.opts }

// SetMode switches the overlap repair mode.
func (e *Editor) SetMode(mode Mode) {
	if mode.Valid() {
		e.opts.Mode = mode
	}
}

// SetSnap toggles snapping.
func (e *Editor) SetSnap(snap bool) {
	e.opts.Snap = snap
}

// SetTracks installs the track flags used to refuse edits on locked tracks.
func (e *Editor) SetTracks(tracks []models.Track) {
	e.tracks = append([]models.Track(nil), tracks...)
}

// Begin starts an edit from a validated snapshot.
func (e *Editor) Begin(snapshot *cache.Snapshot) {
	e.base = models.CloneChannels(snapshot.Channels)
	e.working = models.CloneChannels(e.base)
	e.editing = true
	e.gesture = nil
}

// Editing reports whether an edit is in progress.
func (e *Editor) Editing() bool { return e.editing }

// Working returns a copy of the uncommitted clip list.
func (e *Editor) Working() [][]models.Clip {
	return models.CloneChannels(e.working)
}

// Cancel discards the edit.
func (e *Editor) Cancel() {
	e.editing = false
	e.base = nil
	e.working = nil
	e.gesture = nil
}

// Commit ends the edit and returns the clip list in seconds, each channel
// sorted by offset and without caches.
func (e *Editor) Commit() ([][]models.Clip, error) {
	if !e.editing {
		return nil, ErrNotEditing
	}

	out := make([][]models.Clip, len(e.working))
	for c, channel := range e.working {
		sortChannel(channel, 0)
		out[c] = make([]models.Clip, len(channel))
		for i, clip := range channel {
			e.recompute(&clip)
			out[c][i] = clip.Strip()
		}
	}

	e.Cancel()
	return out, nil
}

// recompute converts a clip's frame-space cache back into seconds.
func (e *Editor) recompute(clip *models.Clip) {
	clip.Offset = e.timing.FramesToSeconds(clip.Cache.ClipRange[0])
	clip.Start = e.timing.FramesToSeconds(clip.Cache.StartFrames)
	clip.Length = e.timing.FramesToSeconds(clip.Cache.LengthFrames)
}

// Resize moves one edge of a clip by delta frames relative to where it was
// when the edit began.
func (e *Editor) Resize(uuid int64, side Side, delta int) error {
	channel, index, err := e.restart(uuid)
	if err != nil {
		return err
	}

	clips := e.working[channel]
	old := clips[index].Clone()
	clip := &clips[index]
	info := clip.Cache

	switch side {
	case SideRight:
		maxPos := math.MaxInt
		if !info.Missing() && !info.Source.Unbounded() {
			maxPos = info.SourceFrames - info.StartFrames + info.ClipRange[0]
		}
		pos := info.ClipRange[0] + info.LengthFrames + delta

		if e.opts.Snap {
			if edge, ok := e.nearestEdge(clips, clip.UUID, pos, leftEdge); ok && edge <= maxPos {
				pos = edge
			}
		}

		pos = min(pos, maxPos)
		pos = max(pos, info.ClipRange[0]+1)
		info.ClipRange[1] = pos
		info.LengthFrames = info.ClipRange[1] - info.ClipRange[0]

	case SideLeft:
		oldPos := info.ClipRange[0]
		minPos := max(info.ClipRange[0]-info.StartFrames, 0)
		pos := info.ClipRange[0] + delta

		if e.opts.Snap {
			if edge, ok := e.nearestEdge(clips, clip.UUID, pos, rightEdge); ok && edge >= minPos {
				pos = edge
			}
		}

		pos = max(pos, minPos)
		pos = min(pos, info.ClipRange[1]-1)
		info.ClipRange[0] = pos
		info.LengthFrames = info.ClipRange[1] - info.ClipRange[0]
		info.StartFrames = max(info.StartFrames+pos-oldPos, 0)

	default:
		return fmt.Errorf("unknown side %q", side)
	}

	e.fixOverlap(channel, clip.UUID, old)
	return nil
}

// Move shifts a clip by delta frames relative to where it was when the edit
// began.
func (e *Editor) Move(uuid int64, delta int) error {
	channel, index, err := e.restart(uuid)
	if err != nil {
		return err
	}

	clips := e.working[channel]
	old := clips[index].Clone()
	clip := &clips[index]
	info := clip.Cache

	pos := info.ClipRange[0] + delta
	if e.opts.Snap {
		if edge, ok := e.nearestEdge(clips, clip.UUID, pos+info.LengthFrames, leftEdge); ok {
			pos = edge - info.LengthFrames
		} else if edge, ok := e.nearestEdge(clips, clip.UUID, pos, rightEdge); ok {
			pos = edge
		}
	}
	pos = max(pos, 0)

	info.ClipRange[0] = pos
	info.ClipRange[1] = pos + info.LengthFrames

	e.fixOverlap(channel, clip.UUID, old)
	return nil
}

// Split cuts a clip in two at frame. The right half gets a new uuid.
func (e *Editor) Split(uuid int64, frame int, uuids *models.UUIDCounter) (models.Clip, error) {
	if e.editing {
		e.settle()
	}
	channel, index, err := e.locate(uuid)
	if err != nil {
		return models.Clip{}, err
	}

	left := &e.working[channel][index]
	info := left.Cache
	if frame <= info.ClipRange[0] || frame >= info.ClipRange[1] {
		return models.Clip{}, fmt.Errorf("%w: frame %d, clip spans [%d, %d)", ErrInvalidSplit, frame, info.ClipRange[0], info.ClipRange[1])
	}

	right := left.Clone()
	right.UUID = uuids.Next()
	right.Cache.StartFrames += frame - info.ClipRange[0]
	right.Cache.ClipRange[0] = frame
	right.Cache.LengthFrames = right.Cache.ClipRange[1] - frame
	e.recompute(&right)

	info.ClipRange[1] = frame
	info.LengthFrames = frame - info.ClipRange[0]
	e.recompute(left)

	e.working[channel] = append(e.working[channel], right)
	sortChannel(e.working[channel], 0)
	e.settle()
	return right.Clone(), nil
}

// Delete removes a clip. In compose mode the followers close the gap.
func (e *Editor) Delete(uuid int64) error {
	if e.editing {
		e.settle()
	}
	channel, index, err := e.locate(uuid)
	if err != nil {
		return err
	}

	clips := e.working[channel]
	removed := clips[index]
	e.working[channel] = append(clips[:index], clips[index+1:]...)

	if e.opts.Mode == ModeCompose {
		e.pull(channel, removed.Cache.ClipRange[1], removed.Cache.LengthFrames)
	}
	e.settle()
	return nil
}

// Insert places a new clip of source on channel at offsetFrames. A
// non-positive length uses the rest of the source.
func (e *Editor) Insert(source *models.ClipSource, channel, offsetFrames, lengthFrames int, uuids *models.UUIDCounter) (models.Clip, error) {
	if !e.editing {
		return models.Clip{}, ErrNotEditing
	}
	e.settle()
	if (source.Type == models.ClipAudio) != (channel > 0) {
		return models.Clip{}, fmt.Errorf("%w: %s clip on channel %d", ErrWrongChannel, source.Type, channel)
	}
	if e.locked(channel) {
		return models.Clip{}, fmt.Errorf("%w: channel %d", ErrLocked, channel)
	}

	sourceFrames := e.timing.SecondsToFrames(source.Duration)
	if source.Type == models.ClipScene && source.Scene != nil {
		sourceFrames = models.SceneFrames(source.Scene)
	}
	if lengthFrames <= 0 || (!source.Unbounded() && lengthFrames > sourceFrames) {
		lengthFrames = sourceFrames
	}
	if lengthFrames <= 0 {
		return models.Clip{}, fmt.Errorf("source %s has no length", source.Path)
	}
	if source.Unbounded() {
		sourceFrames = lengthFrames
	}

	offsetFrames = max(offsetFrames, 0)
	clip := models.Clip{
		UUID:   uuids.Next(),
		Type:   source.Type,
		Path:   source.Path,
		Volume: 1,
		Cache: &models.ClipInfo{
			LengthFrames: lengthFrames,
			ClipRange:    [2]int{offsetFrames, offsetFrames + lengthFrames},
			SourceFrames: sourceFrames,
			Source:       source,
			Channel:      channel,
		},
	}
	e.recompute(&clip)

	for len(e.working) <= channel {
		e.working = append(e.working, nil)
	}
	e.working[channel] = append(e.working[channel], clip)

	old := clip.Clone()
	e.fixOverlap(channel, clip.UUID, old)
	e.settle()
	return clip.Clone(), nil
}

// restart resets the working copy to the state before the current drag and
// locates uuid. Starting to drag another clip keeps the previous drag.
func (e *Editor) restart(uuid int64) (int, int, error) {
	if !e.editing {
		return 0, 0, ErrNotEditing
	}
	if e.gesture != nil && *e.gesture != uuid {
		e.settle()
	}
	e.working = models.CloneChannels(e.base)
	e.gesture = &uuid
	return e.locate(uuid)
}

// settle makes the current working copy the base for the next gesture.
func (e *Editor) settle() {
	e.base = models.CloneChannels(e.working)
	e.gesture = nil
}

func (e *Editor) locate(uuid int64) (int, int, error) {
	if !e.editing {
		return 0, 0, ErrNotEditing
	}
	for c, channel := range e.working {
		for i, clip := range channel {
			if clip.UUID != uuid {
				continue
			}
			if e.locked(c) {
				return 0, 0, fmt.Errorf("%w: channel %d", ErrLocked, c)
			}
			return c, i, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %d", ErrClipNotFound, uuid)
}

// locked maps a clip channel onto its track. Channel 0 has no track.
func (e *Editor) locked(channel int) bool {
	track := channel - 1
	return track >= 0 && track < len(e.tracks) && e.tracks[track].Locked
}

type edge int

const (
	leftEdge edge = iota
	rightEdge
)

// nearestEdge finds the closest left or right edge of another clip within
// the snap tolerance of pos.
func (e *Editor) nearestEdge(clips []models.Clip, self int64, pos int, which edge) (int, bool) {
	best, found := 0, false
	bestDist := e.opts.SnapFrames + 1
	for _, clip := range clips {
		if clip.UUID == self {
			continue
		}
		candidate := clip.Cache.ClipRange[0]
		if which == rightEdge {
			candidate = clip.Cache.ClipRange[1]
		}
		dist := candidate - pos
		if dist < 0 {
			dist = -dist
		}
		if dist <= e.opts.SnapFrames && dist < bestDist {
			best, bestDist, found = candidate, dist, true
		}
	}
	return best, found
}

// fixOverlap repairs the channel after the clip with the given uuid changed
// from old to its current range.
func (e *Editor) fixOverlap(channel int, uuid int64, old models.Clip) {
	clips := e.working[channel]
	var edited *models.Clip
	for i := range clips {
		if clips[i].UUID == uuid {
			edited = &clips[i]
		}
	}
	if edited == nil {
		return
	}
	newRange := edited.Cache.ClipRange

	if e.opts.Mode == ModeClip {
		kept := clips[:0]
		for _, clip := range clips {
			if clip.UUID != uuid && !trimAgainst(&clip, newRange) {
				continue
			}
			kept = append(kept, clip)
		}
		e.working[channel] = kept
		sortChannel(e.working[channel], uuid)
		return
	}

	back := old.Cache.ClipRange[1] - newRange[1]
	if back > 0 {
		e.pull(channel, old.Cache.ClipRange[1], back)
	}
	e.push(channel, uuid)
}

// trimAgainst shrinks clip so it no longer overlaps r. It reports whether
// anything of the clip is left.
func trimAgainst(clip *models.Clip, r [2]int) bool {
	info := clip.Cache
	start, end := info.ClipRange[0], info.ClipRange[1]
	if r[1] <= start || r[0] >= end {
		return true
	}
	if r[0] <= start && r[1] >= end {
		return false
	}

	if r[0] <= start {
		// Covers the left side.
		info.StartFrames += r[1] - start
		info.ClipRange[0] = r[1]
	} else {
		// Covers the right side, or sits inside the clip.
		info.ClipRange[1] = r[0]
	}
	info.LengthFrames = info.ClipRange[1] - info.ClipRange[0]
	return info.LengthFrames > 0
}

// pull moves the contiguous run of clips starting at from back by amount.
func (e *Editor) pull(channel, from, amount int) {
	clips := e.working[channel]
	sortChannel(clips, 0)
	for i := range clips {
		info := clips[i].Cache
		if info.ClipRange[0] < from {
			continue
		}
		if info.ClipRange[0] > from {
			break
		}
		from = info.ClipRange[1]
		info.ClipRange[0] -= amount
		info.ClipRange[1] -= amount
	}
}

// push shifts every clip that overlaps its predecessor forward, cascading.
func (e *Editor) push(channel int, uuid int64) {
	clips := e.working[channel]
	sortChannel(clips, uuid)
	for i := 1; i < len(clips); i++ {
		prev, info := clips[i-1].Cache, clips[i].Cache
		if overlap := prev.ClipRange[1] - info.ClipRange[0]; overlap > 0 {
			info.ClipRange[0] += overlap
			info.ClipRange[1] += overlap
		}
	}
}

// sortChannel orders clips by start frame. On a tie the clip with uuid first
// wins, so an edited clip keeps its place and its neighbour moves.
func sortChannel(clips []models.Clip, first int64) {
	sort.SliceStable(clips, func(i, j int) bool {
		a, b := clips[i].Cache.ClipRange[0], clips[j].Cache.ClipRange[0]
		if a != b {
			return a < b
		}
		return clips[i].UUID == first && clips[j].UUID != first
	})
}
