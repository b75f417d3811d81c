package tang

import (
	"fmt"
	"math"
	"slices"
)

// Validate checks everything about the session that can be checked without
// loading plugins. Channel counts and parameter names are checked when the
// graph is built.
func (s *Session) Validate() error {
	if len(s.Keyboards) == 0 {
		return Invalid("keyboards", "session has no keyboards")
	}
	if s.BPM < 0 {
		return Invalid("bpm", "negative tempo %v", s.BPM)
	}
	for k, kb := range s.Keyboards {
		if err := kb.Validate(fmt.Sprintf("keyboards[%d]", k)); err != nil {
			return err
		}
	}
	return nil
}

func (k Keyboard) Validate(path string) error {
	if k.Channel < 0 || k.Channel > 16 {
		return Invalid(path+".channel", "channel %d out of range 0..16", k.Channel)
	}
	if len(k.Splits) == 0 {
		return Invalid(path+".splits", "keyboard has no splits")
	}
	for i, sp := range k.Splits {
		if err := sp.Validate(fmt.Sprintf("%s.splits[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func (s Split) Validate(path string) error {
	if r := s.NoteRange(); r.Low > r.High || r.High > 127 {
		return Invalid(path+".range", "invalid note range %v", r)
	}
	if s.Transpose < -MaxTranspose || s.Transpose > MaxTranspose {
		return Invalid(path+".transpose", "transpose %d out of range ±%d", s.Transpose, MaxTranspose)
	}
	if err := s.Instrument.validate(path+".instrument", true); err != nil {
		return err
	}
	for i, e := range s.Effects {
		if err := e.validate(fmt.Sprintf("%s.effects[%d]", path, i), false); err != nil {
			return err
		}
	}
	for i, m := range s.Modulators {
		if err := m.validate(fmt.Sprintf("%s.modulators[%d]", path, i), i, s.Modulators, len(s.Effects)); err != nil {
			return err
		}
	}
	if s.Pattern != nil {
		if err := s.Pattern.Validate(path + ".pattern"); err != nil {
			return err
		}
	}
	return nil
}

func (p PluginSpec) validate(path string, instrument bool) error {
	if p.Plugin == "" {
		return Invalid(path+".plugin", "missing plugin")
	}
	if instrument {
		if v := p.VolumeOrDefault(); v < 0 || math.IsNaN(v) {
			return Invalid(path+".volume", "volume %v must be >= 0", v)
		}
		if _, err := p.Remap.Channels(p.PitchBendRangeOrDefault()); err != nil {
			return Invalid(path+".remap", "%v", err)
		}
		return nil
	}
	if m := p.MixOrDefault(); m < 0 || m > 1 || math.IsNaN(m) {
		return Invalid(path+".mix", "mix %v out of range 0..1", m)
	}
	if len(p.Remap) > 0 {
		return Invalid(path+".remap", "only instruments can remap notes")
	}
	return nil
}

// Channels derives the detune to channel assignment of a remap table. Detune
// values are ordered ascending and get the zero based channels 1, 2, ... in
// that order, so the same table always yields the same assignment. Channel 0
// is left for unmapped notes.
func (r Remap) Channels(pitchBendRange float64) (map[float64]byte, error) {
	if len(r) == 0 {
		return nil, nil
	}
	var detunes []float64
	for src, t := range r {
		if math.IsNaN(t.Detune) || math.IsInf(t.Detune, 0) {
			return nil, fmt.Errorf("note %s: detune %v is not a number of semitones", NoteName(src), t.Detune)
		}
		if math.Abs(t.Detune) > pitchBendRange {
			return nil, fmt.Errorf("note %s: detune %v exceeds pitch bend range %v", NoteName(src), t.Detune, pitchBendRange)
		}
		if !slices.Contains(detunes, t.Detune) {
			detunes = append(detunes, t.Detune)
		}
	}
	if len(detunes) > MaxRemapChannels {
		return nil, fmt.Errorf("%d distinct detune values, at most %d fit on the available channels", len(detunes), MaxRemapChannels)
	}
	slices.Sort(detunes)
	ret := make(map[float64]byte, len(detunes))
	for i, d := range detunes {
		ret[d] = byte(i + 1)
	}
	return ret, nil
}

func (m Modulator) validate(path string, index int, siblings []Modulator, effects int) error {
	switch m.Type {
	case "lfo", "":
		if m.Waveform != "" && !slices.Contains(Waveforms, m.Waveform) {
			return Invalid(path+".waveform", "unknown waveform %q", m.Waveform)
		}
		if m.Rate < 0 {
			return Invalid(path+".rate", "negative rate %v", m.Rate)
		}
	case "envelope":
		if m.Attack < 0 || m.Decay < 0 || m.Release < 0 {
			return Invalid(path, "envelope times must not be negative")
		}
		if m.Sustain < 0 || m.Sustain > 1 {
			return Invalid(path+".sustain", "sustain %v out of range 0..1", m.Sustain)
		}
	default:
		return Invalid(path+".type", "unknown modulator type %q", m.Type)
	}
	for i, t := range m.Targets {
		tp := fmt.Sprintf("%s.targets[%d]", path, i)
		if err := t.validate(tp, m.IsEnvelope(), index, siblings, effects); err != nil {
			return err
		}
	}
	return nil
}

func (m Modulator) IsEnvelope() bool { return m.Type == "envelope" }

func (t ModTarget) validate(path string, envelope bool, self int, siblings []Modulator, effects int) error {
	lo := -1.0
	if envelope {
		lo = 0
	}
	if t.Depth < lo || t.Depth > 1 {
		return Invalid(path+".depth", "depth %v out of range %v..1", t.Depth, lo)
	}
	kind, mod := t.Kind()
	if kind == "param" {
		if t.Param == "" {
			return Invalid(path, "target has no param or mod_* field")
		}
		if t.Slot < 0 || t.Slot > effects {
			return Invalid(path+".slot", "slot %d does not exist", t.Slot)
		}
		return nil
	}
	if mod == self {
		return Invalid(path, "modulator cannot target itself")
	}
	if mod < 0 || mod >= len(siblings) {
		return Invalid(path, "modulator %d does not exist", mod)
	}
	switch kind {
	case "rate":
		if siblings[mod].IsEnvelope() {
			return Invalid(path, "modulator %d is an envelope and has no rate", mod)
		}
	case "attack", "decay", "sustain", "release":
		if !siblings[mod].IsEnvelope() {
			return Invalid(path, "modulator %d is not an envelope", mod)
		}
	case "depth":
		if len(t.ModDepth) != 2 {
			return Invalid(path+".mod_depth", "mod_depth must be [modulator, target]")
		}
		if ti := t.ModDepth[1]; ti < 0 || ti >= len(siblings[mod].Targets) {
			return Invalid(path+".mod_depth", "modulator %d has no target %d", mod, ti)
		}
	}
	return nil
}

func (p Pattern) Validate(path string) error {
	if p.BPM <= 0 {
		return Invalid(path+".bpm", "tempo must be positive")
	}
	if p.LengthBeats <= 0 {
		return Invalid(path+".length_beats", "length must be positive")
	}
	for i, e := range p.Events {
		k := e.Status & 0xf0
		if k != StatusNoteOn && k != StatusNoteOff {
			return Invalid(fmt.Sprintf("%s.events[%d]", path, i), "only note events can be stored in a pattern")
		}
	}
	return nil
}
