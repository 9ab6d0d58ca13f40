package server

import (
	"errors"
	"net/http"

	"composer/internal/playback"
)

// handleGetPlayerState returns the current player state
func (cs *ComposerServer) handleGetPlayerState(w http.ResponseWriter, r *http.Request) {
	cs.respondJSON(w, cs.player.GetState())
}

// handlePlay starts playback from the current frame
func (cs *ComposerServer) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := cs.player.Play(r.Context()); err != nil {
		cs.respondWithTransportError(w, r, "Failed to start playback", err)
		return
	}
	cs.respondJSON(w, cs.player.GetState())
}

// handlePause stops playback
func (cs *ComposerServer) handlePause(w http.ResponseWriter, r *http.Request) {
	cs.player.Pause()
	cs.respondJSON(w, cs.player.GetState())
}

// handleSeek moves the transport to a frame. Frames outside the timeline are
// clamped.
func (cs *ComposerServer) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frame   *int     `json:"frame,omitempty"`
		Seconds *float64 `json:"seconds,omitempty"`
	}
	if !cs.decodeJSON(w, r, &req) {
		return
	}

	var frame int
	switch {
	case req.Frame != nil:
		frame = *req.Frame
	case req.Seconds != nil:
		frame = cs.project.Timing().SecondsToFrames(*req.Seconds)
	default:
		cs.respondWithValidationError(w, r, []ValidationError{{
			Field:   "frame",
			Message: "Either frame or seconds is required",
			Code:    "MISSING_POSITION",
		}})
		return
	}

	if err := cs.player.Seek(r.Context(), frame); err != nil {
		cs.respondWithTransportError(w, r, "Failed to seek", err)
		return
	}
	cs.respondJSON(w, cs.player.GetState())
}

// handleVolume updates volume, mute and speed
func (cs *ComposerServer) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume  *float64 `json:"volume,omitempty"`
		IsMuted *bool    `json:"isMuted,omitempty"`
		Speed   *int     `json:"speed,omitempty"`
	}
	if !cs.decodeJSON(w, r, &req) {
		return
	}

	if req.Volume != nil {
		if *req.Volume < 0 || *req.Volume > 1 {
			cs.respondWithValidationError(w, r, []ValidationError{{
				Field:   "volume",
				Message: "Volume must be between 0 and 1",
				Code:    "INVALID_VOLUME",
			}})
			return
		}
		cs.player.SetVolume(*req.Volume)
	}
	if req.IsMuted != nil {
		cs.player.SetMuted(*req.IsMuted)
	}
	if req.Speed != nil {
		if *req.Speed < 1 {
			cs.respondWithValidationError(w, r, []ValidationError{{
				Field:   "speed",
				Message: "Speed must be at least 1",
				Code:    "INVALID_SPEED",
			}})
			return
		}
		cs.player.SetSpeed(*req.Speed)
	}

	cs.respondJSON(w, cs.player.GetState())
}

// respondWithTransportError reports engine contract violations as 409 since
// they stem from the loaded scenes, not from the request.
func (cs *ComposerServer) respondWithTransportError(w http.ResponseWriter, r *http.Request, message string, err error) {
	if errors.Is(err, playback.ErrEngineContract) {
		cs.respondWithError(w, r, http.StatusConflict, message, err)
		return
	}
	cs.respondWithError(w, r, http.StatusInternalServerError, message, err)
}
