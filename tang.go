package tang

import (
	"io"
	"log/slog"
)

type (
	// Plugin is the uniform capability set every plugin format offers to the
	// engine. A Plugin is owned by exactly one slot of the signal graph and is
	// only touched by the goroutine that currently owns that graph.
	//
	// Process, SetParam and Param are called on the audio thread and must not
	// allocate or block. Everything else is called on the control thread.
	Plugin interface {
		Name() string
		IsInstrument() bool
		AudioInputs() int
		AudioOutputs() int
		// AcceptsEvents reports if the plugin declares an event input. Plugins
		// without one are processed with a nil event list.
		AcceptsEvents() bool

		Params() []ParamInfo
		Param(index int) (float32, bool)
		SetParam(index int, value float32) error

		Presets() []Preset
		LoadPreset(id string) error

		// Process renders len(out[0]) frames. in and out are planar: one slice
		// per channel, all of the same length.
		Process(events []MIDIEvent, in, out [][]float32) error
		Close() error
	}

	// ParamInfo describes one automatable parameter of a plugin.
	ParamInfo struct {
		Index   int     `msgpack:"i" yaml:"index"`
		Name    string  `msgpack:"n" yaml:"name"`
		Min     float32 `msgpack:"lo" yaml:"min"`
		Max     float32 `msgpack:"hi" yaml:"max"`
		Default float32 `msgpack:"d" yaml:"default"`
	}

	// Preset is a named preset. ID is what LoadPreset expects; it is format
	// specific (an index, a file path or an URI).
	Preset struct {
		Name string `msgpack:"n" yaml:"name"`
		ID   string `msgpack:"id" yaml:"id"`
	}

	// PluginInfo is a catalog entry produced by plugin enumeration.
	PluginInfo struct {
		Name         string `msgpack:"name"`
		ID           string `msgpack:"id"`
		Format       Format `msgpack:"format"`
		Path         string `msgpack:"path"`
		IsInstrument bool   `msgpack:"instrument"`
		ParamCount   int    `msgpack:"params"`
		PresetCount  int    `msgpack:"presets"`
	}

	Format string
)

const (
	FormatBuiltin Format = "builtin"
	FormatCLAP    Format = "clap"
	FormatLV2     Format = "lv2"
	FormatVST3    Format = "vst3"
)

// Source returns the format qualified identifier that loads this plugin.
func (p PluginInfo) Source() string {
	return string(p.Format) + ":" + p.ID
}

// Range returns the distance between the maximum and minimum value.
func (p ParamInfo) Range() float32 {
	return p.Max - p.Min
}

// Clamp limits v to the parameter's range.
func (p ParamInfo) Clamp(v float32) float32 {
	if p.Max <= p.Min {
		return v
	}
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	return v
}

// FindParam returns the index of the parameter with the given name, or -1.
func FindParam(params []ParamInfo, name string) int {
	for _, p := range params {
		if p.Name == name {
			return p.Index
		}
	}
	return -1
}

// LookupParam returns the parameter with the given index.
func LookupParam(params []ParamInfo, index int) (ParamInfo, bool) {
	for _, p := range params {
		if p.Index == index {
			return p, true
		}
	}
	return ParamInfo{Index: index}, false
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
