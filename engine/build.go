package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
)

type (
	// Loader instantiates plugins from source strings. *plugin.Host is the
	// usual implementation.
	Loader interface {
		Load(source string) (tang.Plugin, error)
	}

	// Options are fixed for the lifetime of an engine.
	Options struct {
		SampleRate float64
		MaxBlock   int
		ClipHold   time.Duration
		// Timeout bounds how long an edit waits for room in the command
		// channel before failing with a *tang.ChannelError.
		Timeout time.Duration
		Logger  *slog.Logger
	}

	// slotInfo is what the control thread remembers about a plugin it
	// handed to the engine.
	slotInfo struct {
		name    string
		params  []tang.ParamInfo
		presets []tang.Preset
		outputs int
	}

	// splitInfo has the instrument at index 0 and the effects after it.
	splitInfo struct {
		slots []slotInfo
	}
)

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = 48000
	}
	if o.MaxBlock <= 0 {
		o.MaxBlock = 512
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Build validates the session, loads every plugin it names and builds the
// live graph. The returned engine is meant to be handed to the audio thread;
// the model stays on the control thread and is the only way to edit the
// graph afterwards. On error every plugin loaded so far is closed.
func Build(session *tang.Session, loader Loader, broker *Broker, opts Options) (*Engine, *Model, error) {
	opts = opts.withDefaults()
	m := &Model{
		loader: loader,
		broker: broker,
		opts:   opts,
		logger: opts.Logger,
	}
	g, info, err := m.buildGraph(session)
	if err != nil {
		return nil, nil, err
	}
	m.session = session.Copy()
	m.info = info
	m.bpm = session.BPM
	return newEngine(g, broker, opts, session.BPM), m, nil
}

func (m *Model) buildGraph(session *tang.Session) (*Graph, [][]splitInfo, error) {
	if err := session.Validate(); err != nil {
		return nil, nil, err
	}
	if len(session.Keyboards) > MaxKeyboards {
		return nil, nil, tang.Invalid("keyboards", "at most %d keyboards are supported", MaxKeyboards)
	}
	g := NewGraph()
	info := make([][]splitInfo, 0, len(session.Keyboards))
	for k, kb := range session.Keyboards {
		path := fmt.Sprintf("keyboards[%d]", k)
		keyboard, ki, err := m.buildKeyboard(kb, session.BPM, path)
		if err != nil {
			g.Close()
			return nil, nil, err
		}
		g.Keyboards = append(g.Keyboards, keyboard)
		info = append(info, ki)
	}
	return g, info, nil
}

func (m *Model) buildKeyboard(kb tang.Keyboard, bpm float64, path string) (*Keyboard, []splitInfo, error) {
	if len(kb.Splits) > MaxSplits {
		return nil, nil, tang.Invalid(path+".splits", "at most %d splits are supported", MaxSplits)
	}
	ret := NewKeyboard(kb.Name, kb.Channel)
	info := make([]splitInfo, 0, len(kb.Splits))
	for i, sp := range kb.Splits {
		split, si, err := m.buildSplit(sp, bpm, fmt.Sprintf("%s.splits[%d]", path, i))
		if err != nil {
			for _, s := range ret.Splits {
				s.plugins(closePlugin)
			}
			return nil, nil, err
		}
		ret.Splits = append(ret.Splits, split)
		info = append(info, si)
	}
	return ret, info, nil
}

// buildSplit loads the plugins of sp and converts its modulators and
// pattern.
func (m *Model) buildSplit(sp tang.Split, bpm float64, path string) (_ *Split, _ splitInfo, err error) {
	if len(sp.Effects) > MaxEffects {
		return nil, splitInfo{}, tang.Invalid(path+".effects", "at most %d effects are supported", MaxEffects)
	}
	if len(sp.Modulators) > MaxModulators {
		return nil, splitInfo{}, tang.Invalid(path+".modulators", "at most %d modulators are supported", MaxModulators)
	}
	inst, ii, err := m.loadSlot(sp.Instrument, path+".instrument", true)
	if err != nil {
		return nil, splitInfo{}, err
	}
	ret := NewSplit(inst, sp.NoteRange(), sp.Transpose, m.opts.MaxBlock)
	defer func() {
		if err != nil {
			ret.plugins(closePlugin)
		}
	}()
	info := splitInfo{slots: []slotInfo{ii}}
	for i, e := range sp.Effects {
		fx, fi, err := m.loadSlot(e, fmt.Sprintf("%s.effects[%d]", path, i), false)
		if err != nil {
			return nil, splitInfo{}, err
		}
		ret.Effects = append(ret.Effects, fx)
		info.slots = append(info.slots, fi)
		if err := checkOutputs(fi, ii, fmt.Sprintf("%s.effects[%d]", path, i)); err != nil {
			return nil, splitInfo{}, err
		}
	}
	for i, mod := range sp.Modulators {
		mp := fmt.Sprintf("%s.modulators[%d]", path, i)
		if len(mod.Targets) > MaxTargets {
			return nil, splitInfo{}, tang.Invalid(mp+".targets", "at most %d targets are supported", MaxTargets)
		}
		em, err := buildModulator(mod, info, mp)
		if err != nil {
			return nil, splitInfo{}, err
		}
		ret.Modulators = append(ret.Modulators, em)
	}
	if sp.Pattern != nil {
		ret.Pattern = NewPattern(sp.Pattern.Copy(), bpm, m.opts.SampleRate)
	}
	ret.retarget()
	return ret, info, nil
}

// loadSlot loads a plugin, applies its preset and then its parameter
// overrides, and wraps it in a slot.
func (m *Model) loadSlot(spec tang.PluginSpec, path string, instrument bool) (*Slot, slotInfo, error) {
	p, err := m.load(spec.Plugin, path)
	if err != nil {
		return nil, slotInfo{}, err
	}
	if spec.Preset != "" {
		plugin.ApplyPreset(p, spec.Preset, m.logger)
	}
	plugin.ApplyParams(p, spec.Params, m.logger)
	return m.newSlot(p, spec, path, instrument)
}

func (m *Model) load(source, path string) (tang.Plugin, error) {
	p, err := m.loader.Load(source)
	if err != nil {
		var lerr *tang.LoadError
		if !errors.As(err, &lerr) {
			err = &tang.LoadError{Source: source, Err: err}
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// newSlot wraps a loaded plugin. The slot reads its base parameter values
// from the plugin, so presets and overrides must be applied before.
func (m *Model) newSlot(p tang.Plugin, spec tang.PluginSpec, path string, instrument bool) (*Slot, slotInfo, error) {
	s := NewSlot(p, m.opts.MaxBlock)
	if instrument {
		s.Volume = float32(spec.VolumeOrDefault())
		if len(spec.Remap) > 0 {
			r, err := NewNoteRemap(spec.Remap, spec.PitchBendRangeOrDefault())
			if err != nil {
				p.Close()
				return nil, slotInfo{}, tang.Invalid(path+".remap", "%v", err)
			}
			s.Remap = r
		}
	} else {
		s.Mix = float32(spec.MixOrDefault())
	}
	info := slotInfo{
		name:    p.Name(),
		params:  p.Params(),
		presets: p.Presets(),
		outputs: p.AudioOutputs(),
	}
	return s, info, nil
}

// checkOutputs rejects an effect with more output channels than the
// instrument of its split.
func checkOutputs(effect, instrument slotInfo, path string) error {
	if effect.outputs > instrument.outputs {
		return tang.Invalid(path, "effect %q has %d output channels but instrument %q only %d",
			effect.name, effect.outputs, instrument.name, instrument.outputs)
	}
	return nil
}

func buildModulator(mod tang.Modulator, info splitInfo, path string) (*Modulator, error) {
	var ret *Modulator
	if mod.IsEnvelope() {
		ret = NewEnvelope(mod.Attack, mod.Decay, mod.Sustain, mod.Release)
	} else {
		w, err := ParseWaveform(mod.Waveform)
		if err != nil {
			return nil, tang.Invalid(path+".waveform", "%v", err)
		}
		ret = NewLFO(w, mod.Rate)
	}
	for i, t := range mod.Targets {
		et, err := buildTarget(t, info, fmt.Sprintf("%s.targets[%d]", path, i))
		if err != nil {
			return nil, err
		}
		ret.Targets = append(ret.Targets, et)
	}
	return ret, nil
}

// buildTarget resolves a session target. Parameter names are looked up in
// the plugin of the addressed slot.
func buildTarget(t tang.ModTarget, info splitInfo, path string) (ModTarget, error) {
	kind, mod := t.Kind()
	switch kind {
	case "param":
		if t.Slot < 0 || t.Slot >= len(info.slots) {
			return ModTarget{}, tang.Invalid(path+".slot", "slot %d does not exist", t.Slot)
		}
		si := info.slots[t.Slot]
		index := tang.FindParam(si.params, t.Param)
		if index < 0 {
			return ModTarget{}, tang.Invalid(path+".param", "plugin %q has no parameter %q", si.name, t.Param)
		}
		return ParamTarget(t.Slot, index, t.Depth), nil
	case "rate":
		return ModulatorTarget(TargetRate, mod, 0, t.Depth), nil
	case "depth":
		return ModulatorTarget(TargetDepth, mod, t.ModDepth[1], t.Depth), nil
	}
	stage, err := ParseStage(kind)
	if err != nil {
		return ModTarget{}, tang.Invalid(path, "%v", err)
	}
	return ModulatorTarget(StageTarget(stage), mod, 0, t.Depth), nil
}

func closePlugin(p tang.Plugin) { p.Close() }
