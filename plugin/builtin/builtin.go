// Package builtin has the plugins that ship with tang: a polyphonic sine
// instrument and a couple of simple stereo effects. They are mostly useful to
// test MIDI and audio routing without any third party plugins installed.
package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
)

// Loader loads builtin:<name> sources.
type Loader struct{}

type factory struct {
	name       string
	instrument bool
	new        func(sampleRate float64) tang.Plugin
}

var factories = []factory{
	{"sine", true, func(sr float64) tang.Plugin { return newSine(sr) }},
	{"gain", false, func(float64) tang.Plugin { return newGain() }},
	{"pan", false, func(float64) tang.Plugin { return newPan() }},
}

// Names lists the available built-in plugins.
func Names() []string {
	ret := make([]string, len(factories))
	for i, f := range factories {
		ret[i] = f.name
	}
	return ret
}

func (Loader) Load(ref plugin.Ref, opts plugin.Options) (tang.Plugin, error) {
	for _, f := range factories {
		if f.name == ref.ID {
			return f.new(opts.SampleRate), nil
		}
	}
	return nil, fmt.Errorf("unknown built-in plugin %q, available built-ins: %s", ref.ID, strings.Join(Names(), ", "))
}

func (Loader) Scan(ctx context.Context, opts plugin.Options) ([]tang.PluginInfo, error) {
	ret := make([]tang.PluginInfo, 0, len(factories))
	for _, f := range factories {
		p := f.new(opts.SampleRate)
		ret = append(ret, tang.PluginInfo{
			Name:         p.Name(),
			ID:           f.name,
			Format:       tang.FormatBuiltin,
			IsInstrument: f.instrument,
			ParamCount:   len(p.Params()),
			PresetCount:  len(p.Presets()),
		})
	}
	return ret, nil
}

func (Loader) Roots(plugin.Options) []string { return nil }

// params is the parameter storage shared by the built-ins.
type params struct {
	info    []tang.ParamInfo
	values  []float32
	presets []preset
}

type preset struct {
	name   string
	values []float32
}

func newParams(info ...tang.ParamInfo) params {
	p := params{info: info, values: make([]float32, len(info))}
	for i, pi := range info {
		p.values[i] = pi.Default
	}
	return p
}

func (p *params) Params() []tang.ParamInfo { return p.info }

func (p *params) Param(index int) (float32, bool) {
	if index < 0 || index >= len(p.values) {
		return 0, false
	}
	return p.values[index], true
}

func (p *params) SetParam(index int, value float32) error {
	if index < 0 || index >= len(p.values) {
		return fmt.Errorf("no parameter with index %d", index)
	}
	p.values[index] = p.info[index].Clamp(value)
	return nil
}

func (p *params) Presets() []tang.Preset {
	ret := make([]tang.Preset, len(p.presets))
	for i, pr := range p.presets {
		ret[i] = tang.Preset{Name: pr.name, ID: strconv.Itoa(i)}
	}
	return ret
}

func (p *params) LoadPreset(id string) error {
	i, err := strconv.Atoi(id)
	if err != nil || i < 0 || i >= len(p.presets) {
		return fmt.Errorf("no preset with id %q", id)
	}
	copy(p.values, p.presets[i].values)
	return nil
}

func (p *params) AcceptsEvents() bool { return false }

func (p *params) Close() error { return nil }
