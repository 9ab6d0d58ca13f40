package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"composer/internal/audio"
	"composer/internal/cache"
	"composer/internal/metadata"
	"composer/internal/project"
	"composer/pkg/models"
)

// ClipView is a clip together with its resolved frame range.
type ClipView struct {
	models.Clip
	Info    *models.ClipInfo `json:"info,omitempty"`
	Missing bool             `json:"missing"`
}

// ClipsResponse is the validated clip list.
type ClipsResponse struct {
	Channels [][]ClipView `json:"channels"`
	Duration int          `json:"duration"` // in frames
	FPS      float64      `json:"fps"`
}

// TracksResponse lists the audio tracks and the target track.
type TracksResponse struct {
	Tracks      []models.Track `json:"tracks"`
	TargetTrack int            `json:"targetTrack"`
	Audible     []bool         `json:"audible,omitempty"`
}

// handleGetClips returns the current validated snapshot.
func (cs *ComposerServer) handleGetClips(w http.ResponseWriter, r *http.Request) {
	snapshot := cs.project.Snapshot()

	response := ClipsResponse{
		Channels: make([][]ClipView, len(snapshot.Channels)),
		Duration: snapshot.EndFrame(),
		FPS:      snapshot.Timing.FPS,
	}
	for c, channel := range snapshot.Channels {
		views := make([]ClipView, 0, len(channel))
		for _, clip := range channel {
			views = append(views, ClipView{
				Clip:    clip,
				Info:    clip.Cache,
				Missing: clip.Cache.Missing(),
			})
		}
		response.Channels[c] = views
	}

	cs.respondJSON(w, response)
}

// handleSetClips replaces the clip list. Authoring violations are reported
// with the offending clip and leave the project unchanged.
func (cs *ComposerServer) handleSetClips(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channels [][]models.Clip `json:"channels"`
	}
	if !cs.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Channels) == 0 {
		cs.respondWithValidationError(w, r, []ValidationError{{
			Field:   "channels",
			Message: "At least one channel is required",
			Code:    "MISSING_CHANNELS",
		}})
		return
	}

	if err := cs.project.SetClips(r.Context(), req.Channels); err != nil {
		cs.respondWithClipError(w, r, err)
		return
	}
	cs.handleGetClips(w, r)
}

// respondWithClipError maps an authoring violation to 422 and anything else
// to 500.
func (cs *ComposerServer) respondWithClipError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *cache.ValidationError
	if errors.As(err, &violation) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		cs.respondJSON(w, map[string]interface{}{
			"error":   violation.Err.Error(),
			"detail":  violation.Error(),
			"uuid":    violation.UUID,
			"channel": violation.Channel,
			"success": false,
		})
		cs.logger.WithField("clip_uuid", violation.UUID).WithError(err).Warn("Rejected clip list")
		return
	}
	cs.respondWithError(w, r, http.StatusInternalServerError, "Failed to update clips", err)
}

// handleGetTracks returns the audio tracks.
func (cs *ComposerServer) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	cs.respondJSON(w, cs.tracksResponse())
}

func (cs *ComposerServer) tracksResponse() TracksResponse {
	tracks := cs.project.Tracks()
	return TracksResponse{
		Tracks:      tracks,
		TargetTrack: cs.project.TargetTrack(),
		Audible:     audio.Audibility(tracks),
	}
}

// handleUpdateTrack changes the solo, mute or lock flags of one track.
func (cs *ComposerServer) handleUpdateTrack(w http.ResponseWriter, r *http.Request) {
	index, verr := validateTrackIndex(r.PathValue("index"), len(cs.project.Tracks()))
	if verr != nil {
		cs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	var req struct {
		Solo   *bool `json:"solo,omitempty"`
		Muted  *bool `json:"muted,omitempty"`
		Locked *bool `json:"locked,omitempty"`
	}
	if !cs.decodeJSON(w, r, &req) {
		return
	}

	err := cs.project.UpdateTrack(index, func(t *models.Track) {
		if req.Solo != nil {
			t.Solo = *req.Solo
		}
		if req.Muted != nil {
			t.Muted = *req.Muted
		}
		if req.Locked != nil {
			t.Locked = *req.Locked
		}
	})
	if errors.Is(err, project.ErrNoTrack) {
		cs.respondWithError(w, r, http.StatusNotFound, "Track not found", err)
		return
	}
	if err != nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Failed to update track", err)
		return
	}

	cs.respondJSON(w, cs.tracksResponse())
}

// handleSetTargetTrack selects the track new audio lands on.
func (cs *ComposerServer) handleSetTargetTrack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Track int `json:"track"`
	}
	if !cs.decodeJSON(w, r, &req) {
		return
	}
	cs.project.SetTargetTrack(req.Track)
	cs.respondJSON(w, cs.tracksResponse())
}

// handleGetSources lists every source clips can resolve against.
func (cs *ComposerServer) handleGetSources(w http.ResponseWriter, r *http.Request) {
	filter := models.ClipType(r.URL.Query().Get("type"))
	if filter != "" && !filter.Valid() {
		cs.respondWithValidationError(w, r, []ValidationError{{
			Field:   "type",
			Message: "Type must be scene, video, image or audio",
			Code:    "INVALID_TYPE",
		}})
		return
	}

	all := cs.library.All()
	out := make([]*models.ClipSource, 0, len(all))
	for _, source := range all {
		if filter == "" || source.Type == filter {
			out = append(out, source)
		}
	}
	cs.respondJSON(w, out)
}

// handleGetWaveform returns the waveform of a decoded source. With a
// pixelsPerSecond query only the matching level is returned.
func (cs *ComposerServer) handleGetWaveform(w http.ResponseWriter, r *http.Request) {
	if cs.engine == nil {
		cs.respondWithError(w, r, http.StatusServiceUnavailable, "Audio engine not available", nil)
		return
	}

	path := sanitizeInput(r.PathValue("path"))
	data, ok := cs.engine.AudioData(path)
	if !ok {
		if err := cs.engine.Failure(path); err != nil {
			cs.respondWithError(w, r, http.StatusUnprocessableEntity, "Source could not be decoded", err)
			return
		}
		cs.respondWithError(w, r, http.StatusNotFound, "Waveform not found", nil)
		return
	}

	raw := r.URL.Query().Get("pixelsPerSecond")
	if raw == "" {
		cs.respondJSON(w, data)
		return
	}

	pps, err := strconv.ParseFloat(raw, 64)
	if err != nil || pps < 0 {
		cs.respondWithValidationError(w, r, []ValidationError{{
			Field:   "pixelsPerSecond",
			Message: "pixelsPerSecond must be a non-negative number",
			Code:    "INVALID_ZOOM",
		}})
		return
	}

	level := data.LevelFor(pps)
	cs.respondJSON(w, map[string]interface{}{
		"level":       level,
		"absoluteMax": data.AbsoluteMax,
		"duration":    data.Duration,
	})
}

// handleServeMedia serves a media source with Range support so the host can
// render video and image clips.
func (cs *ComposerServer) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	filePath, verr := cs.validateSourcePath(r.PathValue("path"))
	if verr != nil {
		cs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	file, err := os.Open(filePath)
	if err != nil {
		cs.respondWithError(w, r, http.StatusNotFound, "Source not found", nil)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil || stat.IsDir() {
		cs.respondWithError(w, r, http.StatusNotFound, "Source not found", nil)
		return
	}

	w.Header().Set("Content-Type", metadata.GetContentType(filePath))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
}
