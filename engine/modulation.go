package engine

import (
	"fmt"
	"math"

	"github.com/tangaudio/tang"
)

type (
	// Modulator is a block rate control source: an LFO or a linear ADSR
	// envelope. Rate, Attack, Decay, Sustain and Release are the values set
	// by the user; cross-modulation from siblings is added on top of them
	// every buffer without touching them.
	Modulator struct {
		Envelope bool
		Waveform Waveform
		Rate     float64 // Hz
		Attack   float64 // seconds
		Decay    float64 // seconds
		Sustain  float64 // level 0..1
		Release  float64 // seconds
		Targets  []ModTarget

		phase       float64
		stage       Stage
		level       float64
		releaseFrom float64
		out         float64
	}

	// ModTarget is one destination of a modulator. For TargetParam, Slot and
	// Param address a plugin parameter (Slot 0 is the instrument); otherwise
	// Mod is the index of a sibling modulator and, for TargetDepth, Target
	// the index of one of its targets.
	ModTarget struct {
		Kind   TargetKind
		Slot   int
		Param  int
		Mod    int
		Target int
		Depth  float64

		pos  int     // position of Param in the slot's parameter list, -1 if gone
		last float64 // contribution of the latest evaluation
	}

	TargetKind int

	Waveform int

	Stage int

	envParams struct {
		attack, decay, sustain, release float64
	}
)

const (
	TargetParam TargetKind = iota
	TargetRate
	TargetAttack
	TargetDecay
	TargetSustain
	TargetRelease
	TargetDepth
)

const (
	WaveSine Waveform = iota
	WaveTriangle
	WaveSaw
	WaveSquare
)

const (
	StageIdle Stage = iota
	StageAttack
	StageDecay
	StageSustain
	StageRelease
)

func NewLFO(w Waveform, rate float64) *Modulator {
	return &Modulator{Waveform: w, Rate: rate, Targets: make([]ModTarget, 0, MaxTargets)}
}

func NewEnvelope(attack, decay, sustain, release float64) *Modulator {
	return &Modulator{
		Envelope: true,
		Attack:   attack,
		Decay:    decay,
		Sustain:  sustain,
		Release:  release,
		Targets:  make([]ModTarget, 0, MaxTargets),
	}
}

// ParseWaveform maps a session waveform name to a Waveform. The empty string
// is a sine.
func ParseWaveform(s string) (Waveform, error) {
	switch s {
	case "sine", "":
		return WaveSine, nil
	case "triangle":
		return WaveTriangle, nil
	case "saw":
		return WaveSaw, nil
	case "square":
		return WaveSquare, nil
	}
	return 0, fmt.Errorf("unknown waveform %q", s)
}

func (w Waveform) String() string {
	if w < 0 || int(w) >= len(tang.Waveforms) {
		return "unknown"
	}
	return tang.Waveforms[w]
}

// ParseStage maps "attack", "decay", "sustain" or "release" to a Stage.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "attack":
		return StageAttack, nil
	case "decay":
		return StageDecay, nil
	case "sustain":
		return StageSustain, nil
	case "release":
		return StageRelease, nil
	}
	return 0, fmt.Errorf("unknown envelope stage %q", s)
}

// StageTarget is the target kind addressing stage s of an envelope.
func StageTarget(s Stage) TargetKind {
	return TargetAttack + TargetKind(s-StageAttack)
}

// ParamTarget targets parameter param of slot.
func ParamTarget(slot, param int, depth float64) ModTarget {
	return ModTarget{Kind: TargetParam, Slot: slot, Param: param, Depth: depth, pos: -1}
}

// ModulatorTarget targets a property of sibling modulator mod. For
// TargetDepth, target is the index of the sibling's target.
func ModulatorTarget(kind TargetKind, mod, target int, depth float64) ModTarget {
	return ModTarget{Kind: kind, Mod: mod, Target: target, Depth: depth, pos: -1}
}

// Out is the output of the latest evaluation: -1..1 for LFOs, 0..1 for
// envelopes.
func (m *Modulator) Out() float64 { return m.out }

func (m *Modulator) setStage(s Stage, v float64) {
	switch s {
	case StageAttack:
		m.Attack = v
	case StageDecay:
		m.Decay = v
	case StageSustain:
		m.Sustain = v
	case StageRelease:
		m.Release = v
	}
}

func (m *Modulator) depthRange() (float64, float64) {
	if m.Envelope {
		return 0, 1
	}
	return -1, 1
}

// lfo returns the waveform value at the current phase, then advances the
// phase by the duration of the buffer.
func (m *Modulator) lfo(rate, dt float64) float64 {
	var v float64
	switch m.Waveform {
	case WaveSine:
		v = math.Sin(2 * math.Pi * m.phase)
	case WaveTriangle:
		if m.phase < 0.5 {
			v = 4*m.phase - 1
		} else {
			v = 3 - 4*m.phase
		}
	case WaveSaw:
		v = 2*m.phase - 1
	case WaveSquare:
		if m.phase < 0.5 {
			v = 1
		} else {
			v = -1
		}
	}
	m.phase += rate * dt
	m.phase -= math.Floor(m.phase)
	return v
}

// envelope advances the envelope by dt seconds. Time left over when a stage
// ends carries into the next one.
func (m *Modulator) envelope(p envParams, g *gate, dt float64) float64 {
	released := g.release && g.count == 0
	if g.noteOn {
		m.stage = StageAttack
		if released {
			// A note shorter than the block still gets one block of attack.
			m.advance(p, dt)
			dt = 0
		}
	}
	if released && m.stage != StageIdle {
		m.stage = StageRelease
		m.releaseFrom = m.level
	}
	m.advance(p, dt)
	return m.level
}

func (m *Modulator) advance(p envParams, dt float64) {
	for dt > 0 {
		switch m.stage {
		case StageAttack:
			need := (1 - m.level) * p.attack
			if dt < need {
				m.level += dt / p.attack
				dt = 0
				break
			}
			dt -= need
			m.level = 1
			m.stage = StageDecay
		case StageDecay:
			if m.level <= p.sustain || p.sustain >= 1 {
				m.stage = StageSustain
				break
			}
			slope := (1 - p.sustain) / p.decay
			need := (m.level - p.sustain) / slope
			if p.decay > 0 && dt < need {
				m.level -= dt * slope
				dt = 0
				break
			}
			dt -= need
			m.level = p.sustain
			m.stage = StageSustain
		case StageSustain:
			m.level = p.sustain
			dt = 0
		case StageRelease:
			if m.releaseFrom <= 0 || p.release <= 0 {
				m.level = 0
				m.stage = StageIdle
				break
			}
			slope := m.releaseFrom / p.release
			need := m.level / slope
			if dt < need {
				m.level -= dt * slope
				dt = 0
				break
			}
			dt -= need
			m.level = 0
			m.stage = StageIdle
		default:
			m.level = 0
			dt = 0
		}
	}
}

// crossInput sums the latest contributions of every target in the split
// addressing property kind of modulator mod (and its target t for
// TargetDepth). Targets of modulators evaluated earlier in this buffer
// already carry this buffer's value, later ones the previous buffer's.
func (sp *Split) crossInput(kind TargetKind, mod, t int) float64 {
	var sum float64
	for _, m := range sp.Modulators {
		for i := range m.Targets {
			tg := &m.Targets[i]
			if tg.Kind == kind && tg.Mod == mod && (kind != TargetDepth || tg.Target == t) {
				sum += tg.last
			}
		}
	}
	return sum
}

// modulate evaluates every modulator of the split once, in declaration
// order, and pushes the resulting parameter values into the plugins. dt is
// the duration of the buffer in seconds.
func (sp *Split) modulate(dt float64) {
	if len(sp.Modulators) == 0 {
		return
	}
	for i := 0; i <= len(sp.Effects); i++ {
		s := sp.slot(i)
		for j := range s.modSum {
			s.modSum[j] = 0
		}
	}
	for i, m := range sp.Modulators {
		if m.Envelope {
			p := envParams{
				attack:  math.Max(0, m.Attack*(1+sp.crossInput(TargetAttack, i, 0))),
				decay:   math.Max(0, m.Decay*(1+sp.crossInput(TargetDecay, i, 0))),
				sustain: clamp(m.Sustain+sp.crossInput(TargetSustain, i, 0), 0, 1),
				release: math.Max(0, m.Release*(1+sp.crossInput(TargetRelease, i, 0))),
			}
			m.out = m.envelope(p, &sp.gate, dt)
		} else {
			rate := math.Max(0, m.Rate*(1+sp.crossInput(TargetRate, i, 0)))
			m.out = m.lfo(rate, dt)
		}
		lo, hi := m.depthRange()
		for j := range m.Targets {
			t := &m.Targets[j]
			depth := clamp(t.Depth+sp.crossInput(TargetDepth, i, j), lo, hi)
			t.last = depth * m.out
			if t.Kind != TargetParam || t.pos < 0 {
				continue
			}
			s := sp.slot(t.Slot)
			if s == nil {
				continue
			}
			s.modSum[t.pos] += t.last * float64(s.params[t.pos].Range())
		}
	}
	for i := 0; i <= len(sp.Effects); i++ {
		s := sp.slot(i)
		for j, on := range s.modulated {
			if !on {
				continue
			}
			v := s.params[j].Clamp(s.base[j] + float32(s.modSum[j]))
			if v != s.applied[j] {
				s.Plugin.SetParam(s.params[j].Index, v)
				s.applied[j] = v
			}
		}
	}
}

// retarget recomputes which parameters are driven by modulators after a
// structural edit. Parameters that are no longer targeted get their base
// value back.
func (sp *Split) retarget() {
	for i := 0; i <= len(sp.Effects); i++ {
		s := sp.slot(i)
		for j := range s.targeted {
			s.targeted[j] = false
		}
	}
	for _, m := range sp.Modulators {
		for j := range m.Targets {
			t := &m.Targets[j]
			if t.Kind != TargetParam {
				continue
			}
			t.pos = -1
			if s := sp.slot(t.Slot); s != nil {
				t.pos = s.paramSlot(t.Param)
				if t.pos >= 0 {
					s.targeted[t.pos] = true
				}
			}
		}
	}
	for i := 0; i <= len(sp.Effects); i++ {
		s := sp.slot(i)
		for j := range s.modulated {
			if s.modulated[j] && !s.targeted[j] {
				s.Plugin.SetParam(s.params[j].Index, s.base[j])
				s.applied[j] = s.base[j]
			}
			s.modulated[j] = s.targeted[j]
		}
	}
}

// removeModulator deletes modulator index, the sibling targets that address
// it, and shifts sibling references to later modulators down by one.
func (sp *Split) removeModulator(index int) {
	copy(sp.Modulators[index:], sp.Modulators[index+1:])
	sp.Modulators[len(sp.Modulators)-1] = nil
	sp.Modulators = sp.Modulators[:len(sp.Modulators)-1]
	for _, m := range sp.Modulators {
		m.Targets = filterTargets(m.Targets, func(t *ModTarget) bool {
			if t.Kind == TargetParam {
				return true
			}
			if t.Mod == index {
				return false
			}
			if t.Mod > index {
				t.Mod--
			}
			return true
		})
	}
}

// removeTarget deletes target t of modulator mod and the depth targets
// addressing it.
func (sp *Split) removeTarget(mod, t int) {
	m := sp.Modulators[mod]
	m.Targets = append(m.Targets[:t], m.Targets[t+1:]...)
	for _, o := range sp.Modulators {
		o.Targets = filterTargets(o.Targets, func(tg *ModTarget) bool {
			if tg.Kind != TargetDepth || tg.Mod != mod {
				return true
			}
			if tg.Target == t {
				return false
			}
			if tg.Target > t {
				tg.Target--
			}
			return true
		})
	}
}

// remapSlots rewrites the slot of every parameter target with f; targets for
// which f returns a negative slot are removed.
func (sp *Split) remapSlots(f func(slot int) int) {
	for mi, m := range sp.Modulators {
		for ti := len(m.Targets) - 1; ti >= 0; ti-- {
			t := &m.Targets[ti]
			if t.Kind != TargetParam {
				continue
			}
			if s := f(t.Slot); s >= 0 {
				t.Slot = s
				continue
			}
			sp.removeTarget(mi, ti)
		}
	}
}

// filterTargets keeps the targets for which keep returns true, in place.
func filterTargets(ts []ModTarget, keep func(*ModTarget) bool) []ModTarget {
	n := 0
	for i := range ts {
		if keep(&ts[i]) {
			ts[n] = ts[i]
			n++
		}
	}
	return ts[:n]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
