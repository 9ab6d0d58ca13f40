package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"composer/internal/timeline"

	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondJSON writes v as the response body.
func (cs *ComposerServer) respondJSON(w http.ResponseWriter, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		cs.logger.WithError(err).Warn("Failed to encode response")
	}
}

// respondWithValidationError sends a structured validation error response
func (cs *ComposerServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors []ValidationError) {
	cs.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	cs.respondJSON(w, ValidationResult{
		Valid:  false,
		Errors: errors,
	})
}

// respondWithError sends a structured error response
func (cs *ComposerServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := cs.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	}
	if err != nil && statusCode < 500 {
		response["detail"] = err.Error()
	}

	cs.respondJSON(w, response)
}

// decodeJSON reads a request body into v, reporting a validation error on
// malformed input.
func (cs *ComposerServer) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	if err := dec.Decode(v); err != nil {
		cs.respondWithValidationError(w, r, []ValidationError{{
			Field:   "body",
			Message: fmt.Sprintf("Invalid JSON: %v", err),
			Code:    "INVALID_JSON",
		}})
		return false
	}
	return true
}

// validateTrackIndex parses a track index and checks it against count.
func validateTrackIndex(raw string, count int) (int, *ValidationError) {
	if raw == "" {
		return 0, &ValidationError{
			Field:   "track",
			Message: "Track index is required",
			Code:    "MISSING_TRACK",
		}
	}

	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{
			Field:   "track",
			Message: "Track index must be a valid integer",
			Code:    "INVALID_TRACK_FORMAT",
		}
	}

	if index < 0 || index >= count {
		return 0, &ValidationError{
			Field:   "track",
			Message: fmt.Sprintf("Track index must be between 0 and %d", count-1),
			Code:    "INVALID_TRACK_VALUE",
		}
	}

	return index, nil
}

// validateMode validates an editor mode, empty selecting the default.
func validateMode(mode string) *ValidationError {
	if mode == "" || timeline.Mode(mode).Valid() {
		return nil
	}
	return &ValidationError{
		Field:   "mode",
		Message: "Mode must be compose or clip",
		Code:    "INVALID_MODE",
	}
}

// validateSide validates the edge of a resize gesture.
func validateSide(side string) *ValidationError {
	switch timeline.Side(side) {
	case timeline.SideLeft, timeline.SideRight:
		return nil
	}
	return &ValidationError{
		Field:   "side",
		Message: "Side must be left or right",
		Code:    "INVALID_SIDE",
	}
}

// validateSourcePath ensures a source path stays within the media library
// and returns its location on disk.
func (cs *ComposerServer) validateSourcePath(sourcePath string) (string, *ValidationError) {
	sourcePath = sanitizeInput(sourcePath)
	if sourcePath == "" {
		return "", &ValidationError{
			Field:   "path",
			Message: "Source path is required",
			Code:    "MISSING_PATH",
		}
	}

	absLibrary, err := filepath.Abs(cs.config.Media.LibraryPath)
	if err != nil {
		return "", &ValidationError{
			Field:   "path",
			Message: "Server configuration error",
			Code:    "CONFIG_ERROR",
		}
	}

	absPath := filepath.Join(absLibrary, filepath.FromSlash(sourcePath))
	if filepath.IsAbs(sourcePath) {
		absPath = filepath.Clean(sourcePath)
	}

	relPath, err := filepath.Rel(absLibrary, absPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", &ValidationError{
			Field:   "path",
			Message: "Source path outside the media library",
			Code:    "PATH_TRAVERSAL_DENIED",
		}
	}

	return absPath, nil
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	return input
}
