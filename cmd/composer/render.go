package main

import (
	"errors"
	"fmt"
	"time"

	"composer/internal/audio"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type renderOptions struct {
	output  string
	input   string
	seconds float64
	scenes  []string
}

// NewRenderCommand creates the render command.
func NewRenderCommand(opts *RootOptions) *cobra.Command {
	ro := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Mix the audio of the composition into a WAV file",
		Long: `Schedule every audible clip of the composition offline and write the
mix as 16-bit PCM WAV at the configured sample rate. Track solo and mute
flags apply as they do during playback.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts, ro)
		},
	}

	cmd.Flags().StringVarP(&ro.output, "output", "o", "", "WAV file to write")
	cmd.Flags().StringVarP(&ro.input, "input", "i", "", "project YAML to render instead of the saved composition")
	cmd.Flags().Float64Var(&ro.seconds, "seconds", 0, "length of the mix; defaults to the end of the last audible clip")
	cmd.Flags().StringArrayVar(&ro.scenes, "scene", nil, "register a headless scene as name=frames (repeatable)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runRender(cmd *cobra.Command, opts *RootOptions, ro *renderOptions) error {
	if ro.seconds < 0 {
		return errors.New("--seconds must not be negative")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, opts, cmd.ErrOrStderr(), appOptions{audio: true, persist: ro.input == ""})
	if err != nil {
		return err
	}
	defer a.Close()

	scenes, err := parseScenes(ro.scenes, a.project.Timing())
	if err != nil {
		return err
	}
	a.library.RegisterScenes(scenes)

	if err := a.loadDocument(ctx, ro.input); err != nil {
		return err
	}

	seconds := ro.seconds
	if seconds == 0 {
		seconds = a.engine.Duration()
	}
	if seconds == 0 {
		return errors.New("nothing to render: the composition has no audible clips")
	}

	log := a.logger.WithFields(logrus.Fields{
		"job":     uuid.NewString(),
		"output":  ro.output,
		"seconds": seconds,
		"clips":   len(a.engine.Clips()),
	})
	log.Info("Rendering mix")

	start := time.Now()
	samples := audio.RenderOffline(a.engine, a.mixer, seconds)
	if err := audio.WriteWAVFile(ro.output, samples, a.mixer.SampleRate(), a.mixer.Channels()); err != nil {
		return fmt.Errorf("failed to write %s: %w", ro.output, err)
	}

	log.WithField("elapsed", time.Since(start)).Info("Render complete")
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%.2fs, %d Hz, %d channels)\n",
		ro.output, seconds, a.mixer.SampleRate(), a.mixer.Channels())
	return nil
}
