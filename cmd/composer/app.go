package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"composer/internal/audio"
	"composer/internal/config"
	"composer/internal/database"
	"composer/internal/metadata"
	"composer/internal/project"
	"composer/internal/sources"
	"composer/pkg/models"

	"github.com/sirupsen/logrus"
)

// appOptions selects which parts of the stack a command needs.
type appOptions struct {
	// audio decodes clip audio into an engine feeding a software mixer.
	audio bool
	// persist lets the project write its settings back to the database.
	persist bool
	// scan walks the media library even when scan_on_startup is off.
	scan bool
	// skipScan wins over scan_on_startup.
	skipScan bool
}

// app is the wired component stack shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	logFile io.Closer
	db      *database.Database
	library *sources.Library
	engine  *audio.Engine
	mixer   *audio.Mixer
	project *project.Project
}

func newApp(ctx context.Context, opts *RootOptions, logOut io.Writer, ao appOptions) (*app, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	logger, logFile, err := newLogger(cfg.Logging, opts.LogLevel, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, logFile: logFile}

	if err := os.MkdirAll(cfg.Media.LibraryPath, 0755); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create media library: %w", err)
	}

	a.db, err = database.NewDatabase(cfg.Database.Path, cfg.Database.MaxConnections, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	extractor := metadata.NewExtractor(metadata.Options{
		AudioFormats:  cfg.Media.AudioFormats,
		VideoFormats:  cfg.Media.VideoFormats,
		ImageFormats:  cfg.Media.ImageFormats,
		FFprobePath:   cfg.Media.FFprobePath,
		ImageDuration: cfg.Project.ImageDuration,
	}, logger)
	a.library = sources.NewLibrary(sources.Options{
		Root:    cfg.Media.LibraryPath,
		Workers: cfg.Media.ScanWorkers,
	}, extractor, a.db, logger)

	if ao.scan || (cfg.Media.ScanOnStartup && !ao.skipScan) {
		if err := a.library.Scan(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("error scanning media library: %w", err)
		}
	} else {
		logger.Info("Skipping library scan")
	}

	if ao.audio {
		decoder := audio.NewFileDecoder(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Media.FFmpegPath, logger)
		decoder.Root = cfg.Media.LibraryPath
		a.mixer = audio.NewMixer(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.OutputLatency())
		a.engine = audio.NewEngine(decoder, a.mixer, cfg.Lookahead(), audio.LatencyPolicy(cfg.Audio.LatencyPolicy), logger)
		a.engine.SetVolume(cfg.Audio.Volume)
	}

	var settings project.SettingsStore
	if ao.persist {
		settings = a.db
	}
	a.project = project.New(project.Options{
		Namespace: cfg.Project.SettingsNamespace,
		Timing:    models.Timing{FPS: cfg.Project.FPS},
	}, a.library, settings, a.engine, logger)

	return a, nil
}

// loadDocument fills the project from a YAML file, or from the saved
// settings when path is empty. Loading saved settings needs an app opened
// with persist.
func (a *app) loadDocument(ctx context.Context, path string) error {
	if path == "" {
		return a.project.Load(ctx)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.project.ImportYAML(ctx, f)
}

// Close releases everything the app opened.
func (a *app) Close() {
	if a.project != nil {
		a.project.Close()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// newLogger builds the logger described by cfg. A non-empty level overrides
// the configured one. With a log file, output goes to both out and the file.
func newLogger(cfg config.LoggingConfig, level string, out io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if level == "" {
		level = cfg.Level
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)

	if cfg.File == "" {
		return logger, nil, nil
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(out, file))
	return logger, file, nil
}
