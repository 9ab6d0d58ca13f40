package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Environment variables read after .env is loaded.
const (
	EnvConfig   = "COMPOSER_CONFIG"
	EnvLogLevel = "COMPOSER_LOG_LEVEL"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	EnvFile    string
}

// NewRootCommand creates the root command for the composer CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "composer",
		Short: "Compose clips into one continuous timeline",
		Long: `Composer places scenes, video, images and audio on channels and plays
them back as one timeline, driving the animation engine frame by frame and
mixing the audio of the same timeline.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadEnv(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./composer.toml", "configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the configuration")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRenderCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// loadEnv reads the dotenv file, if any, and fills options the user did not
// pass as flags from the environment.
func (o *RootOptions) loadEnv(cmd *cobra.Command) error {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", o.EnvFile, err)
		}
	}

	if v := os.Getenv(EnvConfig); v != "" && !cmd.Flags().Changed("config") {
		o.ConfigPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" && !cmd.Flags().Changed("log-level") {
		o.LogLevel = v
	}
	return nil
}
