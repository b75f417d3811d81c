package engine

import (
	"fmt"
	"strings"

	"github.com/tangaudio/tang"
)

// Command is a structural edit sent from the control thread to the audio
// thread. Every value a command carries is fully prepared on the control
// thread: plugins are loaded, slots and modulators allocated, so applying a
// command never allocates.
type Command interface {
	command()
}

// Addr addresses a split of the live graph.
type Addr struct {
	Keyboard int
	Split    int
}

type (
	AddKeyboard struct {
		Keyboard *Keyboard
	}

	// RemoveKeyboard moves the keyboard into Ret, which is then handed back
	// with MsgReturnedGraph.
	RemoveKeyboard struct {
		Keyboard int
		Ret      *Graph
	}

	SetChannel struct {
		Keyboard int
		Channel  int
	}

	AddSplit struct {
		Keyboard int
		Split    *Split
	}

	// RemoveSplit moves the split into the first keyboard of Ret.
	RemoveSplit struct {
		Addr
		Ret *Graph
	}

	SetRange struct {
		Addr
		Range tang.NoteRange
	}

	SetTranspose struct {
		Addr
		Transpose int
	}

	// SwapPlugin replaces the plugin of a slot (0 = instrument, 1.. =
	// effects) with New. The old plugin is returned. With DropTargets the
	// parameter targets addressing the slot are removed, because the new
	// plugin has different parameters.
	SwapPlugin struct {
		Addr
		Slot        int
		New         *Slot
		DropTargets bool
	}

	// InsertEffect inserts an effect before position Index of the effect
	// list; Index == len(effects) appends.
	InsertEffect struct {
		Addr
		Index  int
		Effect *Slot
	}

	RemoveEffect struct {
		Addr
		Index int
	}

	MoveEffect struct {
		Addr
		From, To int
	}

	SetVolume struct {
		Addr
		Volume float32
	}

	SetMix struct {
		Addr
		Slot int
		Mix  float32
	}

	SetParam struct {
		Addr
		Slot  int
		Param int // plugin parameter index
		Value float32
	}

	SetRemap struct {
		Addr
		Remap *NoteRemap
	}

	AddModulator struct {
		Addr
		Modulator *Modulator
	}

	RemoveModulator struct {
		Addr
		Index int
	}

	AddTarget struct {
		Addr
		Modulator int
		Target    ModTarget
	}

	RemoveTarget struct {
		Addr
		Modulator int
		Target    int
	}

	SetDepth struct {
		Addr
		Modulator int
		Target    int
		Depth     float64
	}

	SetRate struct {
		Addr
		Modulator int
		Rate      float64
	}

	SetWaveform struct {
		Addr
		Modulator int
		Waveform  Waveform
	}

	SetStage struct {
		Addr
		Modulator int
		Stage     Stage
		Value     float64
	}

	// SetPattern replaces the pattern of a split; nil clears it.
	SetPattern struct {
		Addr
		Pattern *Pattern
	}

	EnablePattern struct {
		Addr
		Enabled bool
	}

	SetLooping struct {
		Addr
		Looping bool
	}

	SetPatternLength struct {
		Addr
		LengthBeats float64
	}

	// RecordPattern replaces the pattern of a split with a recording made by
	// NewRecording. The recording stops by itself and is then reported with
	// MsgPatternRecorded.
	RecordPattern struct {
		Addr
		Pattern *Pattern
	}

	// TriggerPattern starts (On) or stops playback as if Key was pressed or
	// released on the split.
	TriggerPattern struct {
		Addr
		Key byte
		On  bool
	}

	SwapPatterns struct {
		A, B Addr
	}

	SetBPM struct {
		BPM float64
	}

	// SwapGraph replaces the whole graph and the tempo. The old graph is
	// handed back with MsgReturnedGraph.
	SwapGraph struct {
		Graph *Graph
		BPM   float64
	}
)

func (AddKeyboard) command()      {}
func (RemoveKeyboard) command()   {}
func (SetChannel) command()       {}
func (AddSplit) command()         {}
func (RemoveSplit) command()      {}
func (SetRange) command()         {}
func (SetTranspose) command()     {}
func (SwapPlugin) command()       {}
func (InsertEffect) command()     {}
func (RemoveEffect) command()     {}
func (MoveEffect) command()       {}
func (SetVolume) command()        {}
func (SetMix) command()           {}
func (SetParam) command()         {}
func (SetRemap) command()         {}
func (AddModulator) command()     {}
func (RemoveModulator) command()  {}
func (AddTarget) command()        {}
func (RemoveTarget) command()     {}
func (SetDepth) command()         {}
func (SetRate) command()          {}
func (SetWaveform) command()      {}
func (SetStage) command()         {}
func (SetPattern) command()       {}
func (EnablePattern) command()    {}
func (SetLooping) command()       {}
func (SetPatternLength) command() {}
func (RecordPattern) command()    {}
func (TriggerPattern) command()   {}
func (SwapPatterns) command()     {}
func (SetBPM) command()           {}
func (SwapGraph) command()        {}

// commandName is used in errors and logs on the control thread.
func commandName(c Command) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", c), "engine.")
}

// commandPlugins calls f for the plugins a command carries into the graph,
// so that the control thread can close them if the command is rejected.
func commandPlugins(c Command, f func(tang.Plugin)) {
	switch c := c.(type) {
	case AddKeyboard:
		for _, sp := range c.Keyboard.Splits {
			sp.plugins(f)
		}
	case AddSplit:
		c.Split.plugins(f)
	case SwapPlugin:
		f(c.New.Plugin)
	case InsertEffect:
		f(c.Effect.Plugin)
	case SwapGraph:
		c.Graph.Plugins(f)
	}
}
