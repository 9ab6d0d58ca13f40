package main

import (
	"errors"
	"fmt"
	"io"

	"composer/internal/cache"

	"github.com/spf13/cobra"
)

type validateOptions struct {
	scenes []string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	vo := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [project.yaml]",
		Short: "Check a composition for authoring violations",
		Long: `Resolve every clip against the media library and report the first
authoring violation together with the offending clip. Without a file the
saved composition is checked. Missing sources are reported but are not
violations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(cmd, opts, vo, path)
		},
	}

	cmd.Flags().StringArrayVar(&vo.scenes, "scene", nil, "register a headless scene as name=frames (repeatable)")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, vo *validateOptions, path string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts, cmd.ErrOrStderr(), appOptions{persist: path == ""})
	if err != nil {
		return err
	}
	defer a.Close()

	scenes, err := parseScenes(vo.scenes, a.project.Timing())
	if err != nil {
		return err
	}
	a.library.RegisterScenes(scenes)

	out := cmd.OutOrStdout()
	if err := a.loadDocument(ctx, path); err != nil {
		var violation *cache.ValidationError
		if errors.As(err, &violation) {
			fmt.Fprintf(out, "INVALID clip %d on channel %d: %v\n", violation.UUID, violation.Channel, violation.Err)
			if violation.Detail != "" {
				fmt.Fprintf(out, "  %s\n", violation.Detail)
			}
			return fmt.Errorf("composition is invalid: %w", err)
		}
		return err
	}

	printSummary(out, a.project.Snapshot())
	return nil
}

// printSummary writes the clip counts, the duration and the missing sources
// of a validated snapshot.
func printSummary(out io.Writer, snapshot *cache.Snapshot) {
	missing := 0
	for c, channel := range snapshot.Channels {
		fmt.Fprintf(out, "channel %d: %d clips\n", c, len(channel))
		for _, clip := range channel {
			if clip.Cache.Missing() {
				missing++
				fmt.Fprintf(out, "  missing source: clip %d %s %q\n", clip.UUID, clip.Type, clip.Path)
			}
		}
	}
	fmt.Fprintf(out, "duration: %d frames (%.2fs)\n",
		snapshot.EndFrame(), snapshot.Timing.FramesToSeconds(snapshot.EndFrame()))
	if missing > 0 {
		fmt.Fprintf(out, "WARNING: %d clips reference missing sources\n", missing)
		return
	}
	fmt.Fprintln(out, "OK")
}
