package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"composer/internal/audio"
	"composer/internal/config"
	"composer/internal/database"
	"composer/internal/player"
	"composer/internal/project"
	"composer/internal/sources"

	"github.com/sirupsen/logrus"
)

// Deps are the components the server exposes. DB, Engine, Mixer and
// Broadcaster may be nil; the routes that need them report 503.
type Deps struct {
	DB          *database.Database
	Library     *sources.Library
	Project     *project.Project
	Player      *player.Player
	Engine      *audio.Engine
	Mixer       *audio.Mixer
	Broadcaster *audio.Broadcaster
}

// ComposerServer serves the inspection and transport API
type ComposerServer struct {
	config      *config.Config
	db          *database.Database
	library     *sources.Library
	project     *project.Project
	player      *player.Player
	engine      *audio.Engine
	mixer       *audio.Mixer
	broadcaster *audio.Broadcaster
	logger      *logrus.Logger

	handler http.Handler
	server  *http.Server
}

// NewComposerServer creates a server instance
func NewComposerServer(cfg *config.Config, deps Deps, logger *logrus.Logger) (*ComposerServer, error) {
	if deps.Library == nil || deps.Project == nil || deps.Player == nil {
		return nil, errors.New("server requires a library, a project and a player")
	}
	if logger == nil {
		logger = logrus.New()
	}

	cs := &ComposerServer{
		config:      cfg,
		db:          deps.DB,
		library:     deps.Library,
		project:     deps.Project,
		player:      deps.Player,
		engine:      deps.Engine,
		mixer:       deps.Mixer,
		broadcaster: deps.Broadcaster,
		logger:      logger,
	}
	cs.handler = cs.setupRoutes()
	return cs, nil
}

// Handler returns the server's routes wrapped in middleware.
func (cs *ComposerServer) Handler() http.Handler {
	return cs.handler
}

func (cs *ComposerServer) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", cs.handleHealthCheck)
	mux.HandleFunc("GET /api/config", cs.handleGetConfig)

	// Timeline
	mux.HandleFunc("GET /api/clips", cs.handleGetClips)
	mux.HandleFunc("PUT /api/clips", cs.handleSetClips)
	mux.HandleFunc("POST /api/edit", cs.handleEdit)
	mux.HandleFunc("GET /api/tracks", cs.handleGetTracks)
	mux.HandleFunc("POST /api/tracks/{index}", cs.handleUpdateTrack)
	mux.HandleFunc("POST /api/tracks/target", cs.handleSetTargetTrack)

	// Sources
	mux.HandleFunc("GET /api/sources", cs.handleGetSources)
	mux.HandleFunc("GET /api/waveform/{path...}", cs.handleGetWaveform)
	mux.HandleFunc("GET /media/{path...}", cs.handleServeMedia)

	// Transport
	mux.HandleFunc("GET /api/player/state", cs.handleGetPlayerState)
	mux.HandleFunc("POST /api/player/play", cs.handlePlay)
	mux.HandleFunc("POST /api/player/pause", cs.handlePause)
	mux.HandleFunc("POST /api/player/seek", cs.handleSeek)
	mux.HandleFunc("POST /api/player/volume", cs.handleVolume)
	mux.HandleFunc("GET /api/audio/stream", cs.handleAudioStream)

	var handler http.Handler = mux
	handler = cs.corsMiddleware(handler)
	handler = cs.requestLoggingMiddleware(handler)
	handler = cs.panicRecoveryMiddleware(handler)
	return handler
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (cs *ComposerServer) Start(ctx context.Context) error {
	cs.server = &http.Server{
		Addr:        cs.config.GetAddress(),
		Handler:     cs.handler,
		ReadTimeout: time.Duration(cs.config.Server.ReadTimeout) * time.Second,
	}

	cs.logger.WithFields(logrus.Fields{
		"address": fmt.Sprintf("http://%s", cs.config.GetAddress()),
		"sources": cs.library.Len(),
	}).Info("Composer server starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- cs.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return cs.Shutdown()
	}
}

// Shutdown gracefully shuts down the server
func (cs *ComposerServer) Shutdown() error {
	cs.logger.Info("Shutting down composer server...")
	if cs.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cs.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	cs.logger.Info("Composer server shutdown complete")
	return nil
}
