package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the saved composition as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr(), appOptions{persist: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.project.Load(ctx); err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := a.project.ExportYAML(w); err != nil {
				return err
			}

			a.logger.WithField("clips", a.project.Snapshot().Len()).Info("Exported composition")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write; stdout when empty")

	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	var scenes []string

	cmd := &cobra.Command{
		Use:   "import <project.yaml>",
		Short: "Replace the saved composition with a YAML document",
		Long: `Validate a YAML composition and make it the saved one. An invalid
document leaves the saved composition untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr(), appOptions{persist: true})
			if err != nil {
				return err
			}
			defer a.Close()

			registered, err := parseScenes(scenes, a.project.Timing())
			if err != nil {
				return err
			}
			a.library.RegisterScenes(registered)

			if err := a.loadDocument(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to import %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d clips from %s\n", a.project.Snapshot().Len(), args[0])
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&scenes, "scene", nil, "register a headless scene as name=frames (repeatable)")

	return cmd
}
