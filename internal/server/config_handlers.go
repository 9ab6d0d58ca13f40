package server

import (
	"net/http"
)

// ConfigResponse represents the public configuration sent to the frontend
type ConfigResponse struct {
	FPS        float64 `json:"fps"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
	EditorMode string  `json:"editorMode"`
	Snap       bool    `json:"snap"`
	SnapFrames int     `json:"snapFrames"`
}

// handleGetConfig returns public configuration settings for the frontend
func (cs *ComposerServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cs.respondJSON(w, ConfigResponse{
		FPS:        cs.config.Project.FPS,
		SampleRate: cs.config.Audio.SampleRate,
		Channels:   cs.config.Audio.Channels,
		EditorMode: cs.config.Editor.Mode,
		Snap:       cs.config.Editor.Snap,
		SnapFrames: cs.config.Editor.SnapFrames,
	})
}
