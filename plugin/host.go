package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/tangaudio/tang"
)

type (
	// Loader instantiates plugins of one format. Load runs on the control
	// thread; the returned plugin is then handed to the engine.
	Loader interface {
		Load(ref Ref, opts Options) (tang.Plugin, error)
	}

	// Scanner is implemented by loaders that can list installed plugins.
	// Roots returns the directories the scan looks at; their modification
	// times key the catalog cache.
	Scanner interface {
		Scan(ctx context.Context, opts Options) ([]tang.PluginInfo, error)
		Roots(opts Options) []string
	}

	// Options are fixed for the lifetime of a Host.
	Options struct {
		SampleRate  float64
		MaxBlock    int
		Paths       tang.PluginPaths
		PresetPaths tang.PresetPaths
		Logger      *slog.Logger
	}

	// Host loads plugins by source string, dispatching to the loader of the
	// resolved format.
	Host struct {
		opts      Options
		loaders   map[tang.Format]Loader
		cachePath string
	}

	// Description is what `describe` prints about a plugin.
	Description struct {
		Source       string
		Name         string
		IsInstrument bool
		Inputs       int
		Outputs      int
		Events       bool
		Params       []tang.ParamInfo
		Values       []float32
		Presets      []tang.Preset
	}

	// ParamValue is a parameter override resolved to an index.
	ParamValue struct {
		Index int
		Name  string
		Value float32
	}
)

func NewHost(opts Options, loaders map[tang.Format]Loader) *Host {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Host{opts: opts, loaders: loaders}
}

// WithCache makes Enumerate use a catalog cache file at path.
func (h *Host) WithCache(path string) *Host {
	h.cachePath = path
	return h
}

func (h *Host) Options() Options { return h.opts }

// Formats lists the formats this host has a loader for.
func (h *Host) Formats() []tang.Format {
	ret := make([]tang.Format, 0, len(h.loaders))
	for f := range h.loaders {
		ret = append(ret, f)
	}
	slices.Sort(ret)
	return ret
}

// Load resolves and instantiates source. All failures are *tang.LoadError.
func (h *Host) Load(source string) (tang.Plugin, error) {
	ref, err := Resolve(source)
	if err != nil {
		return nil, err
	}
	l, ok := h.loaders[ref.Format]
	if !ok {
		return nil, &tang.LoadError{Source: source, Err: fmt.Errorf("%s plugins: %w", ref.Format, tang.ErrNotSupported)}
	}
	p, err := l.Load(ref, h.opts)
	if err != nil {
		var lerr *tang.LoadError
		if errors.As(err, &lerr) {
			return nil, err
		}
		return nil, &tang.LoadError{Source: source, Err: err}
	}
	h.opts.Logger.Debug("plugin loaded", "source", source, "name", p.Name(), "inputs", p.AudioInputs(), "outputs", p.AudioOutputs())
	return p, nil
}

// Describe loads source briefly and reports its ports, parameters and
// presets.
func (h *Host) Describe(source string) (Description, error) {
	p, err := h.Load(source)
	if err != nil {
		return Description{}, err
	}
	defer p.Close()
	d := Description{
		Source:       source,
		Name:         p.Name(),
		IsInstrument: p.IsInstrument(),
		Inputs:       p.AudioInputs(),
		Outputs:      p.AudioOutputs(),
		Events:       p.AcceptsEvents(),
		Params:       p.Params(),
		Presets:      p.Presets(),
	}
	for _, pi := range d.Params {
		v, _ := p.Param(pi.Index)
		d.Values = append(d.Values, v)
	}
	return d, nil
}

// ApplyPreset loads the preset called name. A missing preset is logged with
// the available names and otherwise ignored, so a session still loads when a
// preset was renamed.
func ApplyPreset(p tang.Plugin, name string, logger *slog.Logger) bool {
	presets := p.Presets()
	for _, pr := range presets {
		if pr.Name != name {
			continue
		}
		if err := p.LoadPreset(pr.ID); err != nil {
			logger.Warn("could not load preset", "plugin", p.Name(), "preset", name, "err", err)
			return false
		}
		logger.Info("loaded preset", "plugin", p.Name(), "preset", name)
		return true
	}
	names := make([]string, len(presets))
	for i, pr := range presets {
		names[i] = pr.Name
	}
	logger.Warn("preset not found", "plugin", p.Name(), "preset", name, "available", strings.Join(names, ", "))
	return false
}

// ApplyParams sets each override in order, clamped to the parameter range,
// and returns the ones that matched a parameter by name.
func ApplyParams(p tang.Plugin, overrides tang.Params, logger *slog.Logger) []ParamValue {
	params := p.Params()
	var ret []ParamValue
	for _, o := range overrides {
		i := tang.FindParam(params, o.Name)
		if i < 0 {
			logger.Warn("unknown parameter", "plugin", p.Name(), "param", o.Name)
			continue
		}
		pi, _ := tang.LookupParam(params, i)
		v := pi.Clamp(float32(o.Value))
		if err := p.SetParam(i, v); err != nil {
			logger.Warn("could not set parameter", "plugin", p.Name(), "param", o.Name, "err", err)
			continue
		}
		ret = append(ret, ParamValue{Index: i, Name: o.Name, Value: v})
	}
	return ret
}
