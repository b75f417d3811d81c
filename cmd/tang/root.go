package main

import (
	"github.com/spf13/cobra"
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/version"
)

var (
	// Global flags
	configPath string
	debug      bool

	// config is loaded once before any command runs and never re-read.
	config tang.Config
)

var rootCmd = &cobra.Command{
	Use:   "tang",
	Short: "Real-time audio plugin host",
	Long: `tang - a real-time audio plugin host.

Plugins are arranged in keyboards and splits: each keyboard listens to MIDI
input, each split plays one instrument over a note range followed by a chain
of effects. Built-in, CLAP and LV2 plugins are supported.

The configuration is read from the OS config directory:
  macOS:   ~/Library/Application Support/tang/config.yaml
  Linux:   ~/.config/tang/config.yaml
  Windows: %AppData%/tang/config.yaml

Examples:
  # Play the built-in sine on every MIDI input
  tang play

  # Play a session file through a named output
  tang play rig.yaml --device "USB Audio"

  # List installed plugins and inspect one
  tang enumerate plugins
  tang describe clap:org.surge-synth-team.surge-xt`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version.String(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogger(debug)
		var err error
		config, err = tang.LoadConfig(configPath)
		return err
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is config.yaml in the tang config directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging with source locations")
	rootCmd.AddCommand(playCmd, enumerateCmd, describeCmd, versionCmd)
}
