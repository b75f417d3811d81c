package tang

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the runtime configuration of one run. It is loaded once at
	// startup and passed explicitly; nothing re-reads it afterwards.
	Config struct {
		PluginPaths  PluginPaths   `yaml:"plugin_paths"`
		PresetPaths  PresetPaths   `yaml:"preset_paths"`
		Audio        AudioConfig   `yaml:"audio"`
		MIDI         MIDIConfig    `yaml:"midi"`
		ClipHold     time.Duration `yaml:"clip_hold"`
		CatalogCache bool          `yaml:"catalog_cache"`
	}

	// PluginPaths are searched in addition to each format's standard
	// locations.
	PluginPaths struct {
		CLAP []string `yaml:"clap"`
		LV2  []string `yaml:"lv2"`
		VST3 []string `yaml:"vst3"`
	}

	// PresetPaths are directories holding CLAP preset files, laid out as
	// <dir>/<plugin id>/<preset file>.
	PresetPaths struct {
		CLAP []string `yaml:"clap"`
	}

	AudioConfig struct {
		Device     string `yaml:"device"` // "" or "default" for the default output
		BufferSize int    `yaml:"buffer_size"`
		SampleRate int    `yaml:"sample_rate"`
	}

	MIDIConfig struct {
		Device string `yaml:"device"` // substring filter, "all" or "" for every input
	}
)

func DefaultConfig() Config {
	return Config{
		Audio:        AudioConfig{BufferSize: 512, SampleRate: 48000},
		MIDI:         MIDIConfig{Device: "all"},
		ClipHold:     2 * time.Second,
		CatalogCache: true,
	}
}

// ConfigDir is the directory holding config.yaml and saved sessions.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(dir, "tang"), nil
}

// LoadConfig reads a config file on top of the defaults. An empty path means
// the default location; a missing file is not an error.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return c, nil
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("could not parse config %v: %w", path, err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Audio.BufferSize <= 0 || c.Audio.BufferSize > 8192 {
		return fmt.Errorf("buffer size %d out of range 1..8192", c.Audio.BufferSize)
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 384000 {
		return fmt.Errorf("sample rate %d out of range", c.Audio.SampleRate)
	}
	if c.ClipHold < 0 {
		return fmt.Errorf("clip hold must not be negative")
	}
	return nil
}
