package engine

import (
	"github.com/tangaudio/tang"
)

// Capacities of the live graph. Everything the audio thread appends to is
// allocated with these capacities up front, so edits never allocate on the
// audio thread; an edit that would exceed one is rejected.
const (
	MaxKeyboards  = 16
	MaxSplits     = 16
	MaxEffects    = 16
	MaxModulators = 16
	MaxTargets    = 16
	// MaxEvents is the number of events one split can receive per buffer.
	MaxEvents = 2 * ChannelCapacity
	// MaxPatternEvents is the capacity of a pattern recording.
	MaxPatternEvents = 4096
)

type (
	// Graph is the live signal graph. It is owned by exactly one goroutine
	// at a time: built on the control thread, then moved into the engine.
	Graph struct {
		Keyboards []*Keyboard
	}

	// Keyboard is a group of splits fed by the same MIDI input context.
	// Channel 0 accepts every channel, 1-16 only that channel.
	Keyboard struct {
		Name    string
		Channel int
		Splits  []*Split
	}

	// Split is an instrument, its effects and modulators, and an optional
	// pattern, all scoped to a note range.
	Split struct {
		Range      tang.NoteRange
		Transpose  int
		Instrument *Slot
		Effects    []*Slot
		Modulators []*Modulator
		Pattern    *Pattern

		in        []tang.MIDIEvent // routed events of the current buffer
		events    []tang.MIDIEvent // after pattern processing
		inject    []tang.MIDIEvent // played as live input in the next buffer
		flush     []tang.MIDIEvent // sent to the instrument in the next buffer
		gate      gate
		cur, curv [][]float32 // chain signal; curv is the view of the block
		dry, dryv [][]float32
	}

	// Slot is one plugin instance plus its host side state.
	Slot struct {
		Plugin tang.Plugin
		Name   string
		Volume float32 // instruments only
		Mix    float32 // effects only
		Remap  *NoteRemap

		params    []tang.ParamInfo
		base      []float32 // last user set value per parameter, indexed like params
		applied   []float32 // last value sent to the plugin
		modSum    []float64
		modulated []bool
		targeted  []bool
		events    []tang.MIDIEvent
		pending   []tang.MIDIEvent // already remapped, sent first in the next buffer
		in, inv   [][]float32      // inv and outv are views of the current block
		out, outv [][]float32
		failing   bool
	}

	// gate tracks held notes for envelopes and pattern triggering.
	gate struct {
		held    [128]uint8
		channel [128]byte
		count   int
		noteOn  bool
		release bool
	}
)

// NewSlot wraps p, allocating every buffer the audio thread will need for
// blocks of up to maxBlock frames. The current parameter values of p become
// the base values for modulation.
func NewSlot(p tang.Plugin, maxBlock int) *Slot {
	s := &Slot{
		Plugin:  p,
		Name:    p.Name(),
		Volume:  1,
		Mix:     1,
		params:  p.Params(),
		events:  make([]tang.MIDIEvent, 0, 2*MaxEvents),
		pending: make([]tang.MIDIEvent, 0, 512),
		in:      planar(p.AudioInputs(), maxBlock),
		out:     planar(p.AudioOutputs(), maxBlock),
	}
	s.base = make([]float32, len(s.params))
	s.applied = make([]float32, len(s.params))
	s.modSum = make([]float64, len(s.params))
	s.modulated = make([]bool, len(s.params))
	s.targeted = make([]bool, len(s.params))
	s.inv = make([][]float32, len(s.in))
	s.outv = make([][]float32, len(s.out))
	for i, pi := range s.params {
		v, ok := p.Param(pi.Index)
		if !ok {
			v = pi.Default
		}
		s.base[i] = v
		s.applied[i] = v
	}
	return s
}

// NewSplit allocates a split around instrument. Effects, modulators and the
// pattern are added by the caller within the split's capacities.
func NewSplit(instrument *Slot, r tang.NoteRange, transpose int, maxBlock int) *Split {
	return &Split{
		Range:      r,
		Transpose:  transpose,
		Instrument: instrument,
		Effects:    make([]*Slot, 0, MaxEffects),
		Modulators: make([]*Modulator, 0, MaxModulators),
		in:         make([]tang.MIDIEvent, 0, MaxEvents),
		events:     make([]tang.MIDIEvent, 0, MaxEvents),
		inject:     make([]tang.MIDIEvent, 0, 256),
		flush:      make([]tang.MIDIEvent, 0, 256),
		cur:        planar(2, maxBlock),
		curv:       make([][]float32, 2),
		dry:        planar(2, maxBlock),
		dryv:       make([][]float32, 2),
	}
}

func NewKeyboard(name string, channel int) *Keyboard {
	return &Keyboard{Name: name, Channel: channel, Splits: make([]*Split, 0, MaxSplits)}
}

func NewGraph() *Graph {
	return &Graph{Keyboards: make([]*Keyboard, 0, MaxKeyboards)}
}

func planar(channels, frames int) [][]float32 {
	ret := make([][]float32, channels)
	for i := range ret {
		ret[i] = make([]float32, frames)
	}
	return ret
}

// paramSlot returns the position of the parameter with the given plugin
// index in s.params.
func (s *Slot) paramSlot(index int) int {
	for i, p := range s.params {
		if p.Index == index {
			return i
		}
	}
	return -1
}

// setBase records a user set value and forwards it to the plugin unless a
// modulator is currently driving that parameter.
func (s *Slot) setBase(index int, v float32) {
	i := s.paramSlot(index)
	if i < 0 {
		return
	}
	v = s.params[i].Clamp(v)
	s.base[i] = v
	if !s.modulated[i] {
		s.Plugin.SetParam(index, v)
		s.applied[i] = v
	}
}

// chainWidth is the number of channels running through the split: the
// instrument's outputs, at most a stereo pair.
func (sp *Split) chainWidth() int {
	return min(sp.Instrument.Plugin.AudioOutputs(), 2)
}

// slot returns the instrument for index 0 and effect index-1 otherwise.
func (sp *Split) slot(index int) *Slot {
	if index == 0 {
		return sp.Instrument
	}
	if index < 1 || index > len(sp.Effects) {
		return nil
	}
	return sp.Effects[index-1]
}

// Plugins calls f for every plugin in the graph.
func (g *Graph) Plugins(f func(tang.Plugin)) {
	for _, kb := range g.Keyboards {
		for _, sp := range kb.Splits {
			sp.plugins(f)
		}
	}
}

func (sp *Split) plugins(f func(tang.Plugin)) {
	f(sp.Instrument.Plugin)
	for _, e := range sp.Effects {
		f(e.Plugin)
	}
}

// Close closes every plugin of the graph.
func (g *Graph) Close() {
	g.Plugins(func(p tang.Plugin) { p.Close() })
}
