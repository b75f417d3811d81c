// Package cmd has the wiring shared by the tang binaries. Which MIDI, audio
// and plugin backends are available depends on build tags and platform.
package cmd

import (
	"log/slog"
	"path/filepath"

	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
	"github.com/tangaudio/tang/plugin/builtin"
)

type (
	// MIDIQueue is where MIDI inputs push decoded events. *engine.Broker
	// implements it.
	MIDIQueue interface {
		PushMIDI(e tang.MIDIEvent) bool
	}

	// MIDIInput is a set of open MIDI input devices.
	MIDIInput interface {
		Open() (int, error)
		Poll()
		Names() []string
		Close()
	}

	// NullMIDIInput has no devices. NewMIDIInput returns it along with the
	// error when MIDI is unavailable, so playing can go on without input.
	NullMIDIInput struct{}
)

func (NullMIDIInput) Open() (int, error) { return 0, nil }
func (NullMIDIInput) Poll()              {}
func (NullMIDIInput) Names() []string    { return nil }
func (NullMIDIInput) Close()             {}

// Loaders returns a loader for every plugin format this build supports.
func Loaders() map[tang.Format]plugin.Loader {
	ret := map[tang.Format]plugin.Loader{tang.FormatBuiltin: builtin.Loader{}}
	addNativeLoaders(ret)
	return ret
}

// NewHost creates a plugin host for the configured search paths. The catalog
// cache is used if enabled and its location can be determined.
func NewHost(cfg tang.Config, sampleRate float64, maxBlock int, logger *slog.Logger) *plugin.Host {
	h := plugin.NewHost(plugin.Options{
		SampleRate:  sampleRate,
		MaxBlock:    maxBlock,
		Paths:       cfg.PluginPaths,
		PresetPaths: cfg.PresetPaths,
		Logger:      logger,
	}, Loaders())
	if !cfg.CatalogCache {
		return h
	}
	path, err := plugin.DefaultCachePath()
	if err != nil {
		logger.Warn("plugin catalog cache disabled", "err", err)
		return h
	}
	return h.WithCache(path)
}

// SessionDir is where sessions are saved when no path is given.
func SessionDir() (string, error) {
	dir, err := tang.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions"), nil
}
