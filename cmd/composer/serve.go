package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"composer/internal/audio"
	"composer/internal/cache"
	"composer/internal/playback"
	"composer/internal/player"
	"composer/internal/scene"
	"composer/internal/server"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	scenes []string
	noScan bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the timeline, transport and audio stream over HTTP",
		Long: `Scan the media library, restore the saved composition and serve the
inspection, editing and transport API. The mixed audio of the timeline is
streamed at /api/audio/stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts, so)
		},
	}

	cmd.Flags().StringArrayVar(&so.scenes, "scene", nil, "register a headless scene as name=frames (repeatable)")
	cmd.Flags().BoolVar(&so.noScan, "no-scan", false, "skip the library scan even when scan_on_startup is set")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *RootOptions, so *serveOptions) error {
	a, err := newApp(ctx, opts, cmd.ErrOrStderr(), appOptions{audio: true, persist: true, skipScan: so.noScan})
	if err != nil {
		return err
	}
	defer a.Close()

	timing := a.project.Timing()
	scenes, err := parseScenes(so.scenes, timing)
	if err != nil {
		return err
	}
	a.library.RegisterScenes(scenes)

	if err := a.project.Load(ctx); err != nil {
		var violation *cache.ValidationError
		if !errors.As(err, &violation) {
			return err
		}
		a.logger.WithFields(logrus.Fields{
			"clip_uuid": violation.UUID,
			"channel":   violation.Channel,
		}).WithError(err).Warn("Saved composition is invalid, starting empty")
	}

	proxy, err := audio.NewProxy(a.engine, a.cfg.BufferInterval(), a.cfg.UpdateInterval(), a.logger)
	if err != nil {
		return fmt.Errorf("error creating audio transport: %w", err)
	}

	driver := playback.NewDriver(timing, scene.NewRegistry(timing), a.logger)
	p := player.New(driver, proxy, timing, a.logger)
	if err := p.Prepare(ctx, a.project.Snapshot()); err != nil {
		return fmt.Errorf("error preparing playback: %w", err)
	}
	p.SetVolume(a.cfg.Audio.Volume)
	a.project.OnSnapshot(p.Recalculate)

	if a.cfg.Media.WatchForChanges {
		if err := a.library.Watch(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to start file watcher")
		}
	}

	changes := a.library.Changes()
	defer a.library.Unsubscribe(changes)
	go a.project.Run(ctx, changes)

	broadcaster := audio.NewBroadcaster()
	go broadcaster.Run(ctx, a.mixer.Run(ctx))
	go p.Run(ctx)

	srv, err := server.NewComposerServer(a.cfg, server.Deps{
		DB:          a.db,
		Library:     a.library,
		Project:     a.project,
		Player:      p,
		Engine:      a.engine,
		Mixer:       a.mixer,
		Broadcaster: broadcaster,
	}, a.logger)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"clips":    a.project.Snapshot().Len(),
		"duration": a.project.Snapshot().EndFrame(),
		"fps":      timing.FPS,
	}).Info("Composition ready")

	return srv.Start(ctx)
}
