package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/tangaudio/tang"
)

// Model is the control thread side of an engine. It keeps the session as
// edited so far, validates every edit, prepares whatever the audio thread
// needs for it and sends it as a command. Model is not safe for concurrent
// use; all edits and Poll must come from the same goroutine.
type Model struct {
	session *tang.Session
	info    [][]splitInfo
	loader  Loader
	broker  *Broker
	opts    Options
	logger  *slog.Logger
	bpm     float64
	dirty   bool

	recording map[Addr]bool

	midiDropped  uint64
	modelDropped uint64
}

func (a Addr) path() string {
	return fmt.Sprintf("keyboards[%d].splits[%d]", a.Keyboard, a.Split)
}

// Session returns a copy of the session as edited so far.
func (m *Model) Session() *tang.Session { return m.session.Copy() }

// Dirty reports if the session changed since it was built or last saved.
func (m *Model) Dirty() bool { return m.dirty }

func (m *Model) Save(path string) error {
	if err := m.session.Save(path); err != nil {
		return err
	}
	m.dirty = false
	return nil
}

// Params lists the parameters of the plugin in slot of the split at a.
func (m *Model) Params(a Addr, slot int) ([]tang.ParamInfo, error) {
	_, info, err := m.slot(a, slot)
	if err != nil {
		return nil, err
	}
	return info.slots[slot].params, nil
}

// Presets lists the presets of the plugin in slot of the split at a.
func (m *Model) Presets(a Addr, slot int) ([]tang.Preset, error) {
	_, info, err := m.slot(a, slot)
	if err != nil {
		return nil, err
	}
	return info.slots[slot].presets, nil
}

// Recording reports if a recording was started on a and has not finished
// yet.
func (m *Model) Recording(a Addr) bool { return m.recording[a] }

// send hands c to the audio thread. If it cannot be sent, the plugins it
// carries are closed here.
func (m *Model) send(c Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()
	if err := m.broker.Send(ctx, c); err != nil {
		commandPlugins(c, closePlugin)
		return err
	}
	m.dirty = true
	return nil
}

func (m *Model) keyboard(k int) (*tang.Keyboard, error) {
	if k < 0 || k >= len(m.session.Keyboards) {
		return nil, tang.Invalid("keyboards", "no keyboard %d", k)
	}
	return &m.session.Keyboards[k], nil
}

func (m *Model) split(a Addr) (*tang.Split, *splitInfo, error) {
	kb, err := m.keyboard(a.Keyboard)
	if err != nil {
		return nil, nil, err
	}
	if a.Split < 0 || a.Split >= len(kb.Splits) {
		return nil, nil, tang.Invalid(fmt.Sprintf("keyboards[%d].splits", a.Keyboard), "no split %d", a.Split)
	}
	return &kb.Splits[a.Split], &m.info[a.Keyboard][a.Split], nil
}

func (m *Model) slot(a Addr, slot int) (*tang.Split, *splitInfo, error) {
	sp, info, err := m.split(a)
	if err != nil {
		return nil, nil, err
	}
	if slot < 0 || slot > len(sp.Effects) {
		return nil, nil, tang.Invalid(a.path(), "no slot %d", slot)
	}
	return sp, info, nil
}

func (m *Model) modulator(a Addr, index int) (*tang.Split, *tang.Modulator, error) {
	sp, _, err := m.split(a)
	if err != nil {
		return nil, nil, err
	}
	if index < 0 || index >= len(sp.Modulators) {
		return nil, nil, tang.Invalid(a.path()+".modulators", "no modulator %d", index)
	}
	return sp, &sp.Modulators[index], nil
}

func slotSpec(sp *tang.Split, slot int) *tang.PluginSpec {
	if slot == 0 {
		return &sp.Instrument
	}
	return &sp.Effects[slot-1]
}

func slotPath(a Addr, slot int) string {
	if slot == 0 {
		return a.path() + ".instrument"
	}
	return fmt.Sprintf("%s.effects[%d]", a.path(), slot-1)
}

// SetParam sets a parameter by name. The value is clamped to the parameter
// range and recorded as an override; setting the same value twice leaves the
// session unchanged.
func (m *Model) SetParam(a Addr, slot int, name string, value float64) error {
	sp, info, err := m.slot(a, slot)
	if err != nil {
		return err
	}
	si := info.slots[slot]
	index := tang.FindParam(si.params, name)
	if index < 0 {
		return tang.Invalid(slotPath(a, slot), "plugin %q has no parameter %q", si.name, name)
	}
	pi, _ := tang.LookupParam(si.params, index)
	v := pi.Clamp(float32(value))
	if err := m.send(SetParam{Addr: a, Slot: slot, Param: index, Value: v}); err != nil {
		return err
	}
	slotSpec(sp, slot).Params.Set(name, float64(v))
	return nil
}

func (m *Model) SetVolume(a Addr, volume float64) error {
	sp, _, err := m.split(a)
	if err != nil {
		return err
	}
	if volume < 0 || math.IsNaN(volume) {
		return tang.Invalid(a.path()+".instrument.volume", "volume %v must be >= 0", volume)
	}
	if err := m.send(SetVolume{Addr: a, Volume: float32(volume)}); err != nil {
		return err
	}
	sp.Instrument.Volume = &volume
	return nil
}

func (m *Model) SetMix(a Addr, slot int, mix float64) error {
	sp, _, err := m.slot(a, slot)
	if err != nil {
		return err
	}
	if slot == 0 {
		return tang.Invalid(slotPath(a, slot), "instruments have no mix")
	}
	if mix < 0 || mix > 1 || math.IsNaN(mix) {
		return tang.Invalid(slotPath(a, slot)+".mix", "mix %v out of range 0..1", mix)
	}
	if err := m.send(SetMix{Addr: a, Slot: slot, Mix: float32(mix)}); err != nil {
		return err
	}
	sp.Effects[slot-1].Mix = &mix
	return nil
}

// LoadPreset loads a preset into a fresh instance of the plugin in slot and
// swaps it in, so the audio thread never waits for the preset to load.
// Parameter overrides of the slot are dropped.
func (m *Model) LoadPreset(a Addr, slot int, name string) error {
	sp, info, err := m.slot(a, slot)
	if err != nil {
		return err
	}
	si := info.slots[slot]
	i := slices.IndexFunc(si.presets, func(p tang.Preset) bool { return p.Name == name })
	if i < 0 {
		return tang.Invalid(slotPath(a, slot), "plugin %q has no preset %q", si.name, name)
	}
	spec := slotSpec(sp, slot).Copy()
	spec.Preset = name
	spec.Params = nil
	p, err := m.load(spec.Plugin, slotPath(a, slot))
	if err != nil {
		return err
	}
	if err := p.LoadPreset(si.presets[i].ID); err != nil {
		p.Close()
		return &tang.LoadError{Source: spec.Plugin, Err: fmt.Errorf("preset %q: %w", name, err)}
	}
	s, _, err := m.newSlot(p, spec, slotPath(a, slot), slot == 0)
	if err != nil {
		return err
	}
	if err := m.send(SwapPlugin{Addr: a, Slot: slot, New: s}); err != nil {
		return err
	}
	*slotSpec(sp, slot) = spec
	return nil
}

// SetPlugin replaces the plugin in slot by another one. Host side settings
// are kept; preset, overrides and modulation targets of the slot are not.
func (m *Model) SetPlugin(a Addr, slot int, source string) error {
	sp, info, err := m.slot(a, slot)
	if err != nil {
		return err
	}
	old := slotSpec(sp, slot)
	spec := tang.PluginSpec{
		Plugin:         source,
		Volume:         old.Volume,
		Mix:            old.Mix,
		PitchBendRange: old.PitchBendRange,
		Remap:          old.Remap,
	}
	s, si, err := m.loadSlot(spec, slotPath(a, slot), slot == 0)
	if err != nil {
		return err
	}
	if slot == 0 {
		for i, fx := range info.slots[1:] {
			err = checkOutputs(fx, si, slotPath(a, i+1))
			if err != nil {
				break
			}
		}
	} else {
		err = checkOutputs(si, info.slots[0], slotPath(a, slot))
	}
	if err != nil {
		s.Plugin.Close()
		return err
	}
	if err := m.send(SwapPlugin{Addr: a, Slot: slot, New: s, DropTargets: true}); err != nil {
		return err
	}
	*old = spec
	info.slots[slot] = si
	remapSessionSlots(sp, func(s int) int {
		if s == slot {
			return -1
		}
		return s
	})
	return nil
}

// InsertEffect loads an effect and inserts it before effect index; index
// len(effects) appends.
func (m *Model) InsertEffect(a Addr, index int, spec tang.PluginSpec) error {
	sp, info, err := m.split(a)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s.effects[%d]", a.path(), index)
	if index < 0 || index > len(sp.Effects) {
		return tang.Invalid(a.path()+".effects", "cannot insert at %d", index)
	}
	if len(sp.Effects) >= MaxEffects {
		return tang.Invalid(a.path()+".effects", "at most %d effects are supported", MaxEffects)
	}
	candidate := sp.Copy()
	candidate.Effects = slices.Insert(candidate.Effects, index, spec)
	if err := candidate.Validate(a.path()); err != nil {
		return err
	}
	s, si, err := m.loadSlot(spec, path, false)
	if err != nil {
		return err
	}
	if err := checkOutputs(si, info.slots[0], path); err != nil {
		s.Plugin.Close()
		return err
	}
	if err := m.send(InsertEffect{Addr: a, Index: index, Effect: s}); err != nil {
		return err
	}
	sp.Effects = slices.Insert(sp.Effects, index, spec.Copy())
	info.slots = slices.Insert(info.slots, index+1, si)
	remapSessionSlots(sp, func(s int) int {
		if s > index {
			return s + 1
		}
		return s
	})
	return nil
}

func (m *Model) RemoveEffect(a Addr, index int) error {
	sp, info, err := m.split(a)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sp.Effects) {
		return tang.Invalid(a.path()+".effects", "no effect %d", index)
	}
	if err := m.send(RemoveEffect{Addr: a, Index: index}); err != nil {
		return err
	}
	sp.Effects = slices.Delete(sp.Effects, index, index+1)
	info.slots = slices.Delete(info.slots, index+1, index+2)
	remapSessionSlots(sp, func(s int) int {
		switch {
		case s == index+1:
			return -1
		case s > index+1:
			return s - 1
		}
		return s
	})
	return nil
}

func (m *Model) MoveEffect(a Addr, from, to int) error {
	sp, info, err := m.split(a)
	if err != nil {
		return err
	}
	n := len(sp.Effects)
	if from < 0 || from >= n || to < 0 || to >= n {
		return tang.Invalid(a.path()+".effects", "cannot move effect %d to %d", from, to)
	}
	if from == to {
		return nil
	}
	if err := m.send(MoveEffect{Addr: a, From: from, To: to}); err != nil {
		return err
	}
	fx := sp.Effects[from]
	sp.Effects = slices.Insert(slices.Delete(sp.Effects, from, from+1), to, fx)
	fi := info.slots[from+1]
	info.slots = slices.Insert(slices.Delete(info.slots, from+1, from+2), to+1, fi)
	remapSessionSlots(sp, func(s int) int {
		if s == 0 {
			return 0
		}
		return MovedIndex(s-1, from, to) + 1
	})
	return nil
}

func (m *Model) AddKeyboard(kb tang.Keyboard) error {
	path := fmt.Sprintf("keyboards[%d]", len(m.session.Keyboards))
	if len(m.session.Keyboards) >= MaxKeyboards {
		return tang.Invalid("keyboards", "at most %d keyboards are supported", MaxKeyboards)
	}
	if err := kb.Validate(path); err != nil {
		return err
	}
	keyboard, info, err := m.buildKeyboard(kb, m.bpm, path)
	if err != nil {
		return err
	}
	if err := m.send(AddKeyboard{Keyboard: keyboard}); err != nil {
		return err
	}
	m.session.Keyboards = append(m.session.Keyboards, kb.Copy())
	m.info = append(m.info, info)
	return nil
}

// RemoveKeyboard removes a keyboard with all its splits. The last keyboard
// cannot be removed.
func (m *Model) RemoveKeyboard(k int) error {
	if _, err := m.keyboard(k); err != nil {
		return err
	}
	if len(m.session.Keyboards) == 1 {
		return tang.Invalid("keyboards", "cannot remove the last keyboard")
	}
	ret := &Graph{Keyboards: make([]*Keyboard, 0, 1)}
	if err := m.send(RemoveKeyboard{Keyboard: k, Ret: ret}); err != nil {
		return err
	}
	m.session.Keyboards = slices.Delete(m.session.Keyboards, k, k+1)
	m.info = slices.Delete(m.info, k, k+1)
	m.forget(func(a Addr) (Addr, bool) {
		switch {
		case a.Keyboard == k:
			return a, false
		case a.Keyboard > k:
			a.Keyboard--
		}
		return a, true
	})
	return nil
}

// SetChannel sets the MIDI channel a keyboard listens to: 0 for all, 1-16
// for one.
func (m *Model) SetChannel(k, channel int) error {
	kb, err := m.keyboard(k)
	if err != nil {
		return err
	}
	if channel < 0 || channel > 16 {
		return tang.Invalid(fmt.Sprintf("keyboards[%d].channel", k), "channel %d out of range 0..16", channel)
	}
	if err := m.send(SetChannel{Keyboard: k, Channel: channel}); err != nil {
		return err
	}
	kb.Channel = channel
	return nil
}

func (m *Model) AddSplit(k int, sp tang.Split) error {
	kb, err := m.keyboard(k)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("keyboards[%d].splits[%d]", k, len(kb.Splits))
	if len(kb.Splits) >= MaxSplits {
		return tang.Invalid(fmt.Sprintf("keyboards[%d].splits", k), "at most %d splits are supported", MaxSplits)
	}
	if err := sp.Validate(path); err != nil {
		return err
	}
	split, info, err := m.buildSplit(sp, m.bpm, path)
	if err != nil {
		return err
	}
	if err := m.send(AddSplit{Keyboard: k, Split: split}); err != nil {
		return err
	}
	kb.Splits = append(kb.Splits, sp.Copy())
	m.info[k] = append(m.info[k], info)
	return nil
}

// RemoveSplit removes a split. The last split of a keyboard cannot be
// removed.
func (m *Model) RemoveSplit(a Addr) error {
	if _, _, err := m.split(a); err != nil {
		return err
	}
	kb := &m.session.Keyboards[a.Keyboard]
	if len(kb.Splits) == 1 {
		return tang.Invalid(fmt.Sprintf("keyboards[%d].splits", a.Keyboard), "cannot remove the last split")
	}
	ret := &Graph{Keyboards: []*Keyboard{NewKeyboard("", 0)}}
	if err := m.send(RemoveSplit{Addr: a, Ret: ret}); err != nil {
		return err
	}
	kb.Splits = slices.Delete(kb.Splits, a.Split, a.Split+1)
	m.info[a.Keyboard] = slices.Delete(m.info[a.Keyboard], a.Split, a.Split+1)
	m.forget(func(b Addr) (Addr, bool) {
		switch {
		case b.Keyboard != a.Keyboard || b.Split < a.Split:
		case b.Split == a.Split:
			return b, false
		default:
			b.Split--
		}
		return b, true
	})
	return nil
}

func (m *Model) SetRange(a Addr, r tang.NoteRange) error {
	sp, _, err := m.split(a)
	if err != nil {
		return err
	}
	if r.Low > r.High || r.High > 127 {
		return tang.Invalid(a.path()+".range", "invalid note range %v", r)
	}
	if err := m.send(SetRange{Addr: a, Range: r}); err != nil {
		return err
	}
	sp.Range = &r
	return nil
}

func (m *Model) SetTranspose(a Addr, semitones int) error {
	sp, _, err := m.split(a)
	if err != nil {
		return err
	}
	if semitones < -tang.MaxTranspose || semitones > tang.MaxTranspose {
		return tang.Invalid(a.path()+".transpose", "transpose %d out of range ±%d", semitones, tang.MaxTranspose)
	}
	if err := m.send(SetTranspose{Addr: a, Transpose: semitones}); err != nil {
		return err
	}
	sp.Transpose = semitones
	return nil
}

// SetRemap replaces the note remap table of the instrument. An empty table
// turns remapping off. A pitchBendRange of zero keeps the current one.
func (m *Model) SetRemap(a Addr, remap tang.Remap, pitchBendRange float64) error {
	sp, _, err := m.split(a)
	if err != nil {
		return err
	}
	if pitchBendRange <= 0 {
		pitchBendRange = sp.Instrument.PitchBendRangeOrDefault()
	}
	var r *NoteRemap
	if len(remap) > 0 {
		if r, err = NewNoteRemap(remap, pitchBendRange); err != nil {
			return tang.Invalid(a.path()+".instrument.remap", "%v", err)
		}
	}
	if err := m.send(SetRemap{Addr: a, Remap: r}); err != nil {
		return err
	}
	sp.Instrument.Remap = nil
	if len(remap) > 0 {
		sp.Instrument.Remap = make(tang.Remap, len(remap))
		for k, v := range remap {
			sp.Instrument.Remap[k] = v
		}
	}
	if pitchBendRange != tang.DefaultPitchBendRange || sp.Instrument.PitchBendRange != 0 {
		sp.Instrument.PitchBendRange = pitchBendRange
	}
	return nil
}

func (m *Model) AddModulator(a Addr, mod tang.Modulator) error {
	sp, info, err := m.split(a)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s.modulators[%d]", a.path(), len(sp.Modulators))
	if len(sp.Modulators) >= MaxModulators {
		return tang.Invalid(a.path()+".modulators", "at most %d modulators are supported", MaxModulators)
	}
	if len(mod.Targets) > MaxTargets {
		return tang.Invalid(path+".targets", "at most %d targets are supported", MaxTargets)
	}
	candidate := sp.Copy()
	candidate.Modulators = append(candidate.Modulators, mod)
	if err := candidate.Validate(a.path()); err != nil {
		return err
	}
	em, err := buildModulator(mod, *info, path)
	if err != nil {
		return err
	}
	if err := m.send(AddModulator{Addr: a, Modulator: em}); err != nil {
		return err
	}
	mod.Targets = slices.Clone(mod.Targets)
	sp.Modulators = append(sp.Modulators, mod)
	return nil
}

// RemoveModulator removes a modulator along with every sibling target that
// addresses it.
func (m *Model) RemoveModulator(a Addr, index int) error {
	sp, _, err := m.modulator(a, index)
	if err != nil {
		return err
	}
	if err := m.send(RemoveModulator{Addr: a, Index: index}); err != nil {
		return err
	}
	removeSessionModulator(sp, index)
	return nil
}

func (m *Model) AddTarget(a Addr, mod int, t tang.ModTarget) error {
	sp, info, err := m.split(a)
	if err != nil {
		return err
	}
	if mod < 0 || mod >= len(sp.Modulators) {
		return tang.Invalid(a.path()+".modulators", "no modulator %d", mod)
	}
	path := fmt.Sprintf("%s.modulators[%d].targets", a.path(), mod)
	if len(sp.Modulators[mod].Targets) >= MaxTargets {
		return tang.Invalid(path, "at most %d targets are supported", MaxTargets)
	}
	candidate := sp.Copy()
	candidate.Modulators[mod].Targets = append(candidate.Modulators[mod].Targets, t)
	if err := candidate.Validate(a.path()); err != nil {
		return err
	}
	et, err := buildTarget(t, *info, fmt.Sprintf("%s[%d]", path, len(sp.Modulators[mod].Targets)))
	if err != nil {
		return err
	}
	if err := m.send(AddTarget{Addr: a, Modulator: mod, Target: et}); err != nil {
		return err
	}
	sp.Modulators[mod].Targets = append(sp.Modulators[mod].Targets, t)
	return nil
}

func (m *Model) RemoveTarget(a Addr, mod, target int) error {
	sp, md, err := m.modulator(a, mod)
	if err != nil {
		return err
	}
	if target < 0 || target >= len(md.Targets) {
		return tang.Invalid(fmt.Sprintf("%s.modulators[%d].targets", a.path(), mod), "no target %d", target)
	}
	if err := m.send(RemoveTarget{Addr: a, Modulator: mod, Target: target}); err != nil {
		return err
	}
	removeSessionTarget(sp, mod, target)
	return nil
}

func (m *Model) SetDepth(a Addr, mod, target int, depth float64) error {
	_, md, err := m.modulator(a, mod)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s.modulators[%d].targets", a.path(), mod)
	if target < 0 || target >= len(md.Targets) {
		return tang.Invalid(path, "no target %d", target)
	}
	lo := -1.0
	if md.IsEnvelope() {
		lo = 0
	}
	if depth < lo || depth > 1 || math.IsNaN(depth) {
		return tang.Invalid(fmt.Sprintf("%s[%d].depth", path, target), "depth %v out of range %v..1", depth, lo)
	}
	if err := m.send(SetDepth{Addr: a, Modulator: mod, Target: target, Depth: depth}); err != nil {
		return err
	}
	md.Targets[target].Depth = depth
	return nil
}

func (m *Model) SetRate(a Addr, mod int, rate float64) error {
	_, md, err := m.modulator(a, mod)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s.modulators[%d]", a.path(), mod)
	if md.IsEnvelope() {
		return tang.Invalid(path, "an envelope has no rate")
	}
	if rate < 0 || math.IsNaN(rate) {
		return tang.Invalid(path+".rate", "negative rate %v", rate)
	}
	if err := m.send(SetRate{Addr: a, Modulator: mod, Rate: rate}); err != nil {
		return err
	}
	md.Rate = rate
	return nil
}

func (m *Model) SetWaveform(a Addr, mod int, name string) error {
	_, md, err := m.modulator(a, mod)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s.modulators[%d]", a.path(), mod)
	if md.IsEnvelope() {
		return tang.Invalid(path, "an envelope has no waveform")
	}
	w, err := ParseWaveform(name)
	if err != nil {
		return tang.Invalid(path+".waveform", "%v", err)
	}
	if err := m.send(SetWaveform{Addr: a, Modulator: mod, Waveform: w}); err != nil {
		return err
	}
	md.Waveform = w.String()
	return nil
}

// SetStage sets one stage of an envelope: attack, decay and release in
// seconds, sustain as a level in 0..1.
func (m *Model) SetStage(a Addr, mod int, stage string, value float64) error {
	_, md, err := m.modulator(a, mod)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s.modulators[%d]", a.path(), mod)
	if !md.IsEnvelope() {
		return tang.Invalid(path, "an LFO has no envelope stages")
	}
	s, err := ParseStage(stage)
	if err != nil {
		return tang.Invalid(path, "%v", err)
	}
	if value < 0 || math.IsNaN(value) || s == StageSustain && value > 1 {
		return tang.Invalid(path+"."+stage, "value %v out of range", value)
	}
	if err := m.send(SetStage{Addr: a, Modulator: mod, Stage: s, Value: value}); err != nil {
		return err
	}
	switch s {
	case StageAttack:
		md.Attack = value
	case StageDecay:
		md.Decay = value
	case StageSustain:
		md.Sustain = value
	case StageRelease:
		md.Release = value
	}
	return nil
}

// SetPattern binds a pattern to the split, or removes it when p is nil.
func (m *Model) SetPattern(a Addr, p *tang.Pattern) error {
	sp, _, err := m.split(a)
	if err != nil {
		return err
	}
	if p == nil {
		if err := m.send(SetPattern{Addr: a}); err != nil {
			return err
		}
		sp.Pattern = nil
		delete(m.recording, a)
		return nil
	}
	if err := p.Validate(a.path() + ".pattern"); err != nil {
		return err
	}
	c := p.Copy()
	if err := m.send(SetPattern{Addr: a, Pattern: NewPattern(c, m.bpm, m.opts.SampleRate)}); err != nil {
		return err
	}
	sp.Pattern = &c
	delete(m.recording, a)
	return nil
}

func (m *Model) pattern(a Addr) (*tang.Pattern, error) {
	sp, _, err := m.split(a)
	if err != nil {
		return nil, err
	}
	if sp.Pattern == nil {
		return nil, tang.Invalid(a.path()+".pattern", "split has no pattern")
	}
	return sp.Pattern, nil
}

func (m *Model) EnablePattern(a Addr, enabled bool) error {
	p, err := m.pattern(a)
	if err != nil {
		return err
	}
	if err := m.send(EnablePattern{Addr: a, Enabled: enabled}); err != nil {
		return err
	}
	p.Enabled = enabled
	return nil
}

func (m *Model) SetLooping(a Addr, looping bool) error {
	p, err := m.pattern(a)
	if err != nil {
		return err
	}
	if err := m.send(SetLooping{Addr: a, Looping: looping}); err != nil {
		return err
	}
	p.Looping = looping
	return nil
}

func (m *Model) SetPatternLength(a Addr, beats float64) error {
	p, err := m.pattern(a)
	if err != nil {
		return err
	}
	if beats <= 0 || math.IsNaN(beats) {
		return tang.Invalid(a.path()+".pattern.length_beats", "length must be positive")
	}
	if err := m.send(SetPatternLength{Addr: a, LengthBeats: beats}); err != nil {
		return err
	}
	p.LengthBeats = beats
	return nil
}

// Record starts recording a new pattern of lengthBeats on the split at the
// current tempo, replacing any pattern it has. The events arrive through
// Poll once the recording is complete.
func (m *Model) Record(a Addr, lengthBeats float64) error {
	sp, _, err := m.split(a)
	if err != nil {
		return err
	}
	if lengthBeats <= 0 || math.IsNaN(lengthBeats) {
		return tang.Invalid(a.path()+".pattern.length_beats", "length must be positive")
	}
	bpm := m.bpm
	if bpm <= 0 && sp.Pattern != nil {
		bpm = sp.Pattern.BPM
	}
	if bpm <= 0 {
		bpm = DefaultBPM
	}
	if err := m.send(RecordPattern{Addr: a, Pattern: NewRecording(lengthBeats, bpm, m.opts.SampleRate)}); err != nil {
		return err
	}
	sp.Pattern = &tang.Pattern{BPM: bpm, LengthBeats: lengthBeats, Looping: true}
	if m.recording == nil {
		m.recording = make(map[Addr]bool)
	}
	m.recording[a] = true
	return nil
}

// TriggerPattern starts (on) or stops playback of the pattern of a split as
// if key had been played on it.
func (m *Model) TriggerPattern(a Addr, key byte, on bool) error {
	if _, err := m.pattern(a); err != nil {
		return err
	}
	if key > 127 {
		return tang.Invalid(a.path()+".pattern", "key %d out of range", key)
	}
	return m.send(TriggerPattern{Addr: a, Key: key, On: on})
}

// SwapPatterns exchanges the patterns of two splits.
func (m *Model) SwapPatterns(a, b Addr) error {
	spa, _, err := m.split(a)
	if err != nil {
		return err
	}
	spb, _, err := m.split(b)
	if err != nil {
		return err
	}
	if a == b {
		return nil
	}
	if m.recording[a] || m.recording[b] {
		return tang.Invalid(a.path()+".pattern", "cannot swap a pattern that is still recording")
	}
	if err := m.send(SwapPatterns{A: a, B: b}); err != nil {
		return err
	}
	spa.Pattern, spb.Pattern = spb.Pattern, spa.Pattern
	return nil
}

// SetBPM sets the playback tempo of every pattern.
func (m *Model) SetBPM(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return tang.Invalid("bpm", "tempo must be positive")
	}
	if err := m.send(SetBPM{BPM: bpm}); err != nil {
		return err
	}
	m.bpm = bpm
	m.session.BPM = bpm
	return nil
}

// Replace builds a new graph for session and swaps it in as a whole. The
// current graph keeps playing if anything fails.
func (m *Model) Replace(session *tang.Session) error {
	g, info, err := m.buildGraph(session)
	if err != nil {
		return err
	}
	if err := m.send(SwapGraph{Graph: g, BPM: session.BPM}); err != nil {
		return err
	}
	m.session = session.Copy()
	m.info = info
	m.bpm = session.BPM
	m.recording = nil
	m.dirty = false
	return nil
}

// Poll handles everything the audio thread sent back since the last call:
// it closes returned plugins, stores finished recordings and logs failures.
// It never blocks.
func (m *Model) Poll() {
	for {
		select {
		case msg := <-m.broker.ToModel:
			m.handle(msg)
		default:
			m.logDrops()
			return
		}
	}
}

func (m *Model) handle(msg MsgToModel) {
	switch msg.Kind {
	case MsgReturned:
		m.logger.Debug("closing plugin", "plugin", msg.Plugin.Name())
		msg.Plugin.Close()
	case MsgReturnedGraph:
		msg.Graph.Close()
	case MsgRejected:
		m.logger.Error("edit rejected by the audio thread", "command", commandName(msg.Command), "err", msg.Err)
		commandPlugins(msg.Command, closePlugin)
	case MsgProcessFailed:
		name := m.slotName(msg.Keyboard, msg.Split, msg.Slot)
		m.logger.Warn("plugin output silenced",
			"keyboard", msg.Keyboard, "split", msg.Split, "slot", msg.Slot,
			"err", &tang.ProcessError{Plugin: name, Err: msg.Err})
	case MsgPatternRecorded:
		m.recorded(msg)
	}
}

func (m *Model) slotName(k, s, slot int) string {
	if k < 0 || k >= len(m.info) || s < 0 || s >= len(m.info[k]) {
		return "?"
	}
	slots := m.info[k][s].slots
	if slot < 0 || slot >= len(slots) {
		return "?"
	}
	return slots[slot].name
}

// recorded stores the events of a finished recording in the session.
func (m *Model) recorded(msg MsgToModel) {
	a := Addr{Keyboard: msg.Keyboard, Split: msg.Split}
	if !m.recording[a] {
		return
	}
	delete(m.recording, a)
	sp, _, err := m.split(a)
	if err != nil || sp.Pattern == nil {
		return
	}
	sp.Pattern.Events = slices.Clone(msg.Events)
	sp.Pattern.Enabled = true
	sp.Pattern.BaseNote = nil
	if msg.BaseNote >= 0 {
		n := tang.Note(msg.BaseNote)
		sp.Pattern.BaseNote = &n
	}
	m.dirty = true
	m.logger.Info("pattern recorded", "split", a.path(), "events", len(msg.Events))
}

func (m *Model) logDrops() {
	if n := m.broker.MIDIDropped(); n != m.midiDropped {
		m.logger.Warn("MIDI events dropped, input queue full", "total", n)
		m.midiDropped = n
	}
	if n := m.broker.ModelDropped(); n != m.modelDropped {
		m.logger.Warn("messages from the audio thread dropped", "total", n)
		m.modelDropped = n
	}
}

// Close handles what is left in the channel from the audio thread. The
// engine itself is closed by whoever owns the audio thread.
func (m *Model) Close() {
	m.Poll()
}

// forget rewrites the addresses of pending recordings after a keyboard or
// split was removed.
func (m *Model) forget(f func(Addr) (Addr, bool)) {
	if len(m.recording) == 0 {
		return
	}
	next := make(map[Addr]bool, len(m.recording))
	for a := range m.recording {
		if b, ok := f(a); ok {
			next[b] = true
		}
	}
	m.recording = next
}

// remapSessionSlots does on session targets what Split.remapSlots does on
// live ones, in the same order, so both stay index compatible.
func remapSessionSlots(sp *tang.Split, f func(slot int) int) {
	for mi := range sp.Modulators {
		for ti := len(sp.Modulators[mi].Targets) - 1; ti >= 0; ti-- {
			t := &sp.Modulators[mi].Targets[ti]
			if kind, _ := t.Kind(); kind != "param" {
				continue
			}
			if s := f(t.Slot); s >= 0 {
				t.Slot = s
				continue
			}
			removeSessionTarget(sp, mi, ti)
		}
	}
}

func removeSessionTarget(sp *tang.Split, mod, t int) {
	md := &sp.Modulators[mod]
	md.Targets = slices.Delete(md.Targets, t, t+1)
	for i := range sp.Modulators {
		o := &sp.Modulators[i]
		o.Targets = slices.DeleteFunc(o.Targets, func(tg tang.ModTarget) bool {
			return len(tg.ModDepth) == 2 && tg.ModDepth[0] == mod && tg.ModDepth[1] == t
		})
		for j := range o.Targets {
			// ModDepth may be shared with the caller's copy of the session
			if d := o.Targets[j].ModDepth; len(d) == 2 && d[0] == mod && d[1] > t {
				o.Targets[j].ModDepth = []int{d[0], d[1] - 1}
			}
		}
	}
}

func removeSessionModulator(sp *tang.Split, index int) {
	sp.Modulators = slices.Delete(sp.Modulators, index, index+1)
	for i := range sp.Modulators {
		md := &sp.Modulators[i]
		md.Targets = slices.DeleteFunc(md.Targets, func(t tang.ModTarget) bool {
			kind, mod := t.Kind()
			return kind != "param" && mod == index
		})
		for j := range md.Targets {
			md.Targets[j] = shiftTarget(md.Targets[j], index)
		}
	}
}

// shiftTarget lowers sibling references above removed by one. The pointers
// are replaced, not written through.
func shiftTarget(t tang.ModTarget, removed int) tang.ModTarget {
	dec := func(p *int) *int {
		if p == nil || *p <= removed {
			return p
		}
		v := *p - 1
		return &v
	}
	t.ModRate = dec(t.ModRate)
	t.ModAttack = dec(t.ModAttack)
	t.ModDecay = dec(t.ModDecay)
	t.ModSustain = dec(t.ModSustain)
	t.ModRelease = dec(t.ModRelease)
	if len(t.ModDepth) == 2 && t.ModDepth[0] > removed {
		t.ModDepth = []int{t.ModDepth[0] - 1, t.ModDepth[1]}
	}
	return t
}
