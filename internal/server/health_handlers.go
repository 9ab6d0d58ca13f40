package server

import (
	"net/http"
	"os"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Storage   string                 `json:"storage"`
	Sources   int                    `json:"sourceCount"`
	Clips     int                    `json:"clipCount"`
	Listeners int                    `json:"audioListeners"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (cs *ComposerServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
		Storage:   "ok",
		Sources:   cs.library.Len(),
		Clips:     cs.project.Snapshot().Len(),
		Details:   make(map[string]interface{}),
	}
	if cs.broadcaster != nil {
		health.Listeners = cs.broadcaster.ListenerCount()
	}

	if err := cs.checkDatabaseHealth(); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}

	if err := cs.checkStorageHealth(); err != nil {
		health.Status = "unhealthy"
		health.Storage = "error"
		health.Details["storage_error"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	cs.respondJSON(w, health)
}

// checkDatabaseHealth performs a trivial query to validate DB access.
func (cs *ComposerServer) checkDatabaseHealth() error {
	if cs.db == nil {
		return nil
	}
	_, err := cs.db.AllSources()
	return err
}

// checkStorageHealth checks that the media library is accessible.
func (cs *ComposerServer) checkStorageHealth() error {
	_, err := os.Stat(cs.config.Media.LibraryPath)
	return err
}
