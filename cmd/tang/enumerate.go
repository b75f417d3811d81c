package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/cmd"
	"github.com/tangaudio/tang/plugin/builtin"
)

type (
	pluginGroup struct {
		Title   string
		IDLabel string
		Empty   string
		Plugins []tang.PluginInfo
	}

	deviceList struct {
		Title   string
		Names   []string
		Default string
	}
)

var refreshCatalog bool

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "List MIDI inputs, audio outputs, plugins or built-ins",
}

var enumerateMIDICmd = &cobra.Command{
	Use:   "midi",
	Short: "List MIDI input devices",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		names, err := cmd.MIDIInputNames()
		if err != nil {
			return err
		}
		return render(c.OutOrStdout(), "devices", deviceList{Title: "MIDI Input Devices", Names: names})
	},
}

var enumerateAudioCmd = &cobra.Command{
	Use:   "audio",
	Short: "List audio output devices; the default is marked with *",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		names, def, err := cmd.AudioOutputNames()
		if err != nil {
			return err
		}
		return render(c.OutOrStdout(), "devices", deviceList{Title: "Audio Output Devices", Names: names, Default: def})
	},
}

var enumeratePluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List installed CLAP and LV2 plugins",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		host := cmd.NewHost(config, float64(config.Audio.SampleRate), config.Audio.BufferSize, slog.Default())
		if refreshCatalog {
			if err := host.ClearCache(); err != nil {
				return err
			}
		}
		found, err := host.Enumerate(c.Context())
		if err != nil {
			return fmt.Errorf("plugin scan failed: %w", err)
		}
		supported := map[tang.Format]bool{}
		for _, f := range host.Formats() {
			supported[f] = true
		}
		groups := []pluginGroup{
			{Title: "LV2 Plugins", IDLabel: "URI"},
			{Title: "CLAP Plugins", IDLabel: "ID"},
		}
		for i, f := range []tang.Format{tang.FormatLV2, tang.FormatCLAP} {
			if !supported[f] {
				groups[i].Empty = fmt.Sprintf("(%s support is not available on this platform)", f)
			}
			for _, p := range found {
				if p.Format == f {
					groups[i].Plugins = append(groups[i].Plugins, p)
				}
			}
		}
		return render(c.OutOrStdout(), "plugins", groups)
	},
}

var enumerateBuiltinsCmd = &cobra.Command{
	Use:   "builtins",
	Short: "List the built-in plugins",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		host := cmd.NewHost(config, float64(config.Audio.SampleRate), config.Audio.BufferSize, slog.Default())
		found, err := builtin.Loader{}.Scan(c.Context(), host.Options())
		if err != nil {
			return err
		}
		return render(c.OutOrStdout(), "plugins", []pluginGroup{{Title: "Built-in Plugins", IDLabel: "ID", Empty: "(none)", Plugins: found}})
	},
}

func init() {
	enumeratePluginsCmd.Flags().BoolVar(&refreshCatalog, "refresh", false, "ignore the plugin catalog cache and scan again")
	enumerateCmd.AddCommand(enumerateMIDICmd, enumerateAudioCmd, enumeratePluginsCmd, enumerateBuiltinsCmd)
}
