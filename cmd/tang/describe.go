package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tangaudio/tang/cmd"
)

var describeCmd = &cobra.Command{
	Use:   "describe <plugin>",
	Short: "Show the ports, parameters and presets of a plugin",
	Long: `Load a plugin briefly and show its audio ports, its parameters with their
current values and ranges, and its presets. The plugin is given as in a
session file: builtin:sine, clap:<id>, lv2:<uri>, or a path to a bundle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		host := cmd.NewHost(config, float64(config.Audio.SampleRate), config.Audio.BufferSize, slog.Default())
		d, err := host.Describe(args[0])
		if err != nil {
			return err
		}
		return render(c.OutOrStdout(), "describe", d)
	},
}
