package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/tangaudio/tang"
	"github.com/viterin/vek/vek32"
)

type (
	// Engine is the render loop. It owns the live graph and must only be used
	// from the audio thread once it has been handed to an audio context. The
	// control thread talks to it through the broker, usually via a Model.
	Engine struct {
		broker     *Broker
		graph      *Graph
		sampleRate float64
		maxBlock   int
		bpm        float64
		midi       []tang.MIDIEvent
		mix        [2][]float32
		clip       clipDetector
		logger     *slog.Logger
		debug      bool
		started    bool
	}
)

// ErrPluginPanic is reported when a plugin panicked while processing.
var ErrPluginPanic = errors.New("plugin panicked")

var (
	errIndex     = errors.New("no such keyboard, split, slot, modulator or target")
	errFull      = errors.New("capacity exceeded")
	errLast      = errors.New("cannot remove the last split or keyboard")
	errNoPattern = errors.New("split has no pattern")
)

func newEngine(g *Graph, broker *Broker, opts Options, bpm float64) *Engine {
	e := &Engine{
		broker:     broker,
		graph:      g,
		sampleRate: opts.SampleRate,
		maxBlock:   opts.MaxBlock,
		bpm:        bpm,
		midi:       make([]tang.MIDIEvent, 0, ChannelCapacity),
		logger:     opts.Logger,
		debug:      opts.Logger.Enabled(context.Background(), slog.LevelDebug),
	}
	e.mix[0] = make([]float32, opts.MaxBlock)
	e.mix[1] = make([]float32, opts.MaxBlock)
	e.clip.hold = int(opts.ClipHold.Seconds() * opts.SampleRate)
	return e
}

// Clipping reports if a sample exceeded full scale within the clip hold
// time. It is safe to call from any goroutine.
func (e *Engine) Clipping() bool { return e.clip.clipping() }

func (e *Engine) SampleRate() float64 { return e.sampleRate }
func (e *Engine) MaxBlock() int       { return e.maxBlock }

// Process renders one buffer. Commands queued so far are applied first, then
// the pending MIDI events, then the graph is rendered in blocks of at most
// MaxBlock frames. Live MIDI events all land on the first frame.
func (e *Engine) Process(buf tang.AudioBuffer) {
	e.processMessages()
	e.receiveMIDI()
	if !e.started {
		e.started = true
		e.logger.Info("audio started", "frames", len(buf), "sampleRate", e.sampleRate)
	}
	for len(buf) > 0 {
		n := min(len(buf), e.maxBlock)
		e.render(buf[:n])
		e.midi = e.midi[:0]
		buf = buf[n:]
	}
}

// Close closes the plugins of the live graph. Only call it once the audio
// thread has stopped calling Process.
func (e *Engine) Close() {
	e.graph.Close()
}

func (e *Engine) receiveMIDI() {
	e.midi = e.midi[:0]
loop:
	for {
		select {
		case ev := <-e.broker.MIDI:
			ev.Frame = 0
			e.midi = appendEvent(e.midi, ev)
		default:
			break loop
		}
	}
}

func (e *Engine) render(buf tang.AudioBuffer) {
	frames := len(buf)
	l, r := e.mix[0][:frames], e.mix[1][:frames]
	vek32.Zeros_Into(l, frames)
	vek32.Zeros_Into(r, frames)
	dt := float64(frames) / e.sampleRate
	for k, kb := range e.graph.Keyboards {
		kb.route(e.midi)
		for s, sp := range kb.Splits {
			cur := e.renderSplit(k, s, sp, frames, dt)
			switch len(cur) {
			case 1:
				vek32.Add_Inplace(l, cur[0])
				vek32.Add_Inplace(r, cur[0])
			case 2:
				vek32.Add_Inplace(l, cur[0])
				vek32.Add_Inplace(r, cur[1])
			}
		}
	}
	e.clip.update(l, r)
	for i := range buf {
		buf[i] = [2]float32{l[i], r[i]}
	}
}

// renderSplit runs the pattern, the modulators, the instrument and the
// effects of one split and returns its output, one slice per chain channel.
func (e *Engine) renderSplit(k, s int, sp *Split, frames int, dt float64) [][]float32 {
	sp.events = sp.events[:0]
	for _, ev := range sp.flush {
		sp.events = appendEvent(sp.events, ev)
	}
	sp.flush = sp.flush[:0]
	if sp.Pattern != nil {
		var done bool
		sp.events, done = sp.Pattern.process(sp.in, sp.events, frames)
		if done {
			e.broker.toModel(MsgToModel{
				Kind:     MsgPatternRecorded,
				Keyboard: k,
				Split:    s,
				Events:   sp.Pattern.Events,
				BaseNote: sp.Pattern.BaseNote,
			})
		}
	} else {
		for _, ev := range sp.in {
			sp.events = appendEvent(sp.events, ev)
		}
	}
	sp.gate.update(sp.events)
	sp.modulate(dt)
	sp.gate.noteOn, sp.gate.release = false, false

	width := sp.chainWidth()
	cur := view(sp.curv[:width], sp.cur, frames)
	inst := sp.Instrument
	events := inst.events[:0]
	for _, ev := range inst.pending {
		events = appendEvent(events, ev)
	}
	inst.pending = inst.pending[:0]
	if inst.Remap != nil {
		events = inst.Remap.Apply(sp.events, events)
	} else {
		for _, ev := range sp.events {
			events = appendEvent(events, ev)
		}
	}
	inst.events = events
	in := view(inst.inv, inst.in, frames)
	for ch := range in {
		vek32.Zeros_Into(in[ch], frames)
	}
	out := e.process(k, s, 0, inst, events, in, frames)
	for ch := range cur {
		vek32.MulNumber_Into(cur[ch], out[ch], inst.Volume)
	}

	tmp := view(sp.dryv[:width], sp.dry, frames)
	for i, fx := range sp.Effects {
		in := fx.inv
		for ch := range in {
			if ch < width {
				in[ch] = cur[ch]
			} else {
				in[ch] = fx.in[ch][:frames]
				vek32.Zeros_Into(in[ch], frames)
			}
		}
		out := e.process(k, s, i+1, fx, sp.events, in, frames)
		for ch := range cur {
			if ch >= len(out) {
				continue // fewer outputs than the chain: the dry signal passes
			}
			vek32.MulNumber_Inplace(cur[ch], 1-fx.Mix)
			vek32.MulNumber_Into(tmp[ch], out[ch], fx.Mix)
			vek32.Add_Inplace(cur[ch], tmp[ch])
		}
	}
	return cur
}

// process calls the plugin of slot and returns its output. A failing or
// panicking plugin outputs silence for the block; the first failure of a
// streak is reported to the control thread.
func (e *Engine) process(k, s, index int, slot *Slot, events []tang.MIDIEvent, in [][]float32, frames int) [][]float32 {
	out := view(slot.outv, slot.out, frames)
	if !slot.Plugin.AcceptsEvents() {
		events = nil
	}
	if err := safeProcess(slot.Plugin, events, in, out); err != nil {
		for ch := range out {
			vek32.Zeros_Into(out[ch], frames)
		}
		if !slot.failing {
			slot.failing = true
			e.broker.toModel(MsgToModel{Kind: MsgProcessFailed, Keyboard: k, Split: s, Slot: index, Err: err})
		}
		return out
	}
	slot.failing = false
	return out
}

func safeProcess(p tang.Plugin, events []tang.MIDIEvent, in, out [][]float32) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrPluginPanic
		}
	}()
	return p.Process(events, in, out)
}

// view points dst at the first frames samples of every channel of src.
func view(dst, src [][]float32, frames int) [][]float32 {
	for i := range dst {
		dst[i] = src[i][:frames]
	}
	return dst
}

// processMessages applies every queued command, in order, before the buffer
// is rendered.
func (e *Engine) processMessages() {
loop:
	for {
		select {
		case c := <-e.broker.ToEngine:
			if err := e.apply(c); err != nil {
				e.broker.toModel(MsgToModel{Kind: MsgRejected, Command: c, Err: err})
				continue
			}
			if e.debug {
				e.logger.Debug("applied command", "command", commandName(c))
			}
		default:
			break loop
		}
	}
}

func (e *Engine) split(a Addr) *Split {
	if a.Keyboard < 0 || a.Keyboard >= len(e.graph.Keyboards) {
		return nil
	}
	kb := e.graph.Keyboards[a.Keyboard]
	if a.Split < 0 || a.Split >= len(kb.Splits) {
		return nil
	}
	return kb.Splits[a.Split]
}

func (e *Engine) modulator(a Addr, index int) *Modulator {
	sp := e.split(a)
	if sp == nil || index < 0 || index >= len(sp.Modulators) {
		return nil
	}
	return sp.Modulators[index]
}

func (e *Engine) returnPlugin(p tang.Plugin) {
	e.broker.toModel(MsgToModel{Kind: MsgReturned, Plugin: p})
}

func (e *Engine) apply(c Command) error {
	switch c := c.(type) {
	case AddKeyboard:
		if len(e.graph.Keyboards) == cap(e.graph.Keyboards) {
			return errFull
		}
		e.graph.Keyboards = append(e.graph.Keyboards, c.Keyboard)
	case RemoveKeyboard:
		kbs := e.graph.Keyboards
		if c.Keyboard < 0 || c.Keyboard >= len(kbs) {
			return errIndex
		}
		if len(kbs) == 1 {
			return errLast
		}
		c.Ret.Keyboards = append(c.Ret.Keyboards, kbs[c.Keyboard])
		e.graph.Keyboards = slices.Delete(kbs, c.Keyboard, c.Keyboard+1)
		e.broker.toModel(MsgToModel{Kind: MsgReturnedGraph, Graph: c.Ret})
	case SetChannel:
		if c.Keyboard < 0 || c.Keyboard >= len(e.graph.Keyboards) {
			return errIndex
		}
		kb := e.graph.Keyboards[c.Keyboard]
		for _, sp := range kb.Splits {
			sp.notesOff()
		}
		kb.Channel = c.Channel
	case AddSplit:
		if c.Keyboard < 0 || c.Keyboard >= len(e.graph.Keyboards) {
			return errIndex
		}
		kb := e.graph.Keyboards[c.Keyboard]
		if len(kb.Splits) == cap(kb.Splits) {
			return errFull
		}
		kb.Splits = append(kb.Splits, c.Split)
	case RemoveSplit:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		kb := e.graph.Keyboards[c.Keyboard]
		if len(kb.Splits) == 1 {
			return errLast
		}
		ret := c.Ret.Keyboards[0]
		ret.Splits = append(ret.Splits, sp)
		kb.Splits = slices.Delete(kb.Splits, c.Split, c.Split+1)
		e.broker.toModel(MsgToModel{Kind: MsgReturnedGraph, Graph: c.Ret})
	case SetRange:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		sp.notesOff()
		sp.Range = c.Range
	case SetTranspose:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		sp.notesOff()
		sp.Transpose = c.Transpose
	case SwapPlugin:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		old := sp.slot(c.Slot)
		if old == nil {
			return errIndex
		}
		if c.Slot == 0 {
			sp.Instrument = c.New
		} else {
			sp.Effects[c.Slot-1] = c.New
		}
		if c.DropTargets {
			sp.remapSlots(func(s int) int {
				if s == c.Slot {
					return -1
				}
				return s
			})
		}
		sp.retarget()
		e.returnPlugin(old.Plugin)
	case InsertEffect:
		sp := e.split(c.Addr)
		if sp == nil || c.Index < 0 || c.Index > len(sp.Effects) {
			return errIndex
		}
		if len(sp.Effects) == cap(sp.Effects) {
			return errFull
		}
		sp.Effects = slices.Insert(sp.Effects, c.Index, c.Effect)
		sp.remapSlots(func(s int) int {
			if s > c.Index {
				return s + 1
			}
			return s
		})
		sp.retarget()
	case RemoveEffect:
		sp := e.split(c.Addr)
		if sp == nil || c.Index < 0 || c.Index >= len(sp.Effects) {
			return errIndex
		}
		old := sp.Effects[c.Index]
		sp.Effects = slices.Delete(sp.Effects, c.Index, c.Index+1)
		sp.remapSlots(func(s int) int {
			switch {
			case s == c.Index+1:
				return -1
			case s > c.Index+1:
				return s - 1
			}
			return s
		})
		sp.retarget()
		e.returnPlugin(old.Plugin)
	case MoveEffect:
		sp := e.split(c.Addr)
		if sp == nil || c.From < 0 || c.From >= len(sp.Effects) || c.To < 0 || c.To >= len(sp.Effects) {
			return errIndex
		}
		fx := sp.Effects[c.From]
		sp.Effects = slices.Delete(sp.Effects, c.From, c.From+1)
		sp.Effects = slices.Insert(sp.Effects, c.To, fx)
		sp.remapSlots(func(s int) int {
			if s == 0 {
				return 0
			}
			return MovedIndex(s-1, c.From, c.To) + 1
		})
		sp.retarget()
	case SetVolume:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		sp.Instrument.Volume = c.Volume
	case SetMix:
		sp := e.split(c.Addr)
		if sp == nil || c.Slot < 1 || c.Slot > len(sp.Effects) {
			return errIndex
		}
		sp.Effects[c.Slot-1].Mix = c.Mix
	case SetParam:
		sp := e.split(c.Addr)
		if sp == nil || sp.slot(c.Slot) == nil {
			return errIndex
		}
		sp.slot(c.Slot).setBase(c.Param, c.Value)
	case SetRemap:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		// notes still sounding are released through the table they were
		// played with
		sp.notesOff()
		inst := sp.Instrument
		if inst.Remap != nil {
			inst.pending = inst.Remap.Apply(sp.flush, inst.pending)
		} else {
			for _, ev := range sp.flush {
				inst.pending = appendEvent(inst.pending, ev)
			}
		}
		sp.flush = sp.flush[:0]
		inst.Remap = c.Remap
	case AddModulator:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		if len(sp.Modulators) == cap(sp.Modulators) {
			return errFull
		}
		sp.Modulators = append(sp.Modulators, c.Modulator)
		sp.retarget()
	case RemoveModulator:
		sp := e.split(c.Addr)
		if sp == nil || c.Index < 0 || c.Index >= len(sp.Modulators) {
			return errIndex
		}
		sp.removeModulator(c.Index)
		sp.retarget()
	case AddTarget:
		m := e.modulator(c.Addr, c.Modulator)
		if m == nil {
			return errIndex
		}
		if len(m.Targets) == cap(m.Targets) {
			return errFull
		}
		m.Targets = append(m.Targets, c.Target)
		e.split(c.Addr).retarget()
	case RemoveTarget:
		m := e.modulator(c.Addr, c.Modulator)
		if m == nil || c.Target < 0 || c.Target >= len(m.Targets) {
			return errIndex
		}
		sp := e.split(c.Addr)
		sp.removeTarget(c.Modulator, c.Target)
		sp.retarget()
	case SetDepth:
		m := e.modulator(c.Addr, c.Modulator)
		if m == nil || c.Target < 0 || c.Target >= len(m.Targets) {
			return errIndex
		}
		m.Targets[c.Target].Depth = c.Depth
	case SetRate:
		m := e.modulator(c.Addr, c.Modulator)
		if m == nil {
			return errIndex
		}
		m.Rate = c.Rate
	case SetWaveform:
		m := e.modulator(c.Addr, c.Modulator)
		if m == nil {
			return errIndex
		}
		m.Waveform = c.Waveform
	case SetStage:
		m := e.modulator(c.Addr, c.Modulator)
		if m == nil {
			return errIndex
		}
		m.setStage(c.Stage, c.Value)
	case SetPattern:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		e.replacePattern(sp, c.Pattern)
	case RecordPattern:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		e.replacePattern(sp, c.Pattern)
	case EnablePattern:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		if sp.Pattern == nil {
			return errNoPattern
		}
		if !c.Enabled {
			sp.flush = sp.Pattern.stop(sp.flush)
		}
		sp.Pattern.Enabled = c.Enabled
	case SetLooping:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		if sp.Pattern == nil {
			return errNoPattern
		}
		sp.Pattern.Looping = c.Looping
	case SetPatternLength:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		if sp.Pattern == nil {
			return errNoPattern
		}
		sp.Pattern.LengthBeats = c.LengthBeats
	case TriggerPattern:
		sp := e.split(c.Addr)
		if sp == nil {
			return errIndex
		}
		ev := tang.NoteOff(0, c.Key, 0)
		if c.On {
			ev = tang.NoteOn(0, c.Key, 100)
		}
		sp.inject = appendEvent(sp.inject, ev)
	case SwapPatterns:
		a, b := e.split(c.A), e.split(c.B)
		if a == nil || b == nil {
			return errIndex
		}
		pa, pb := a.Pattern, b.Pattern
		e.replacePattern(a, nil)
		e.replacePattern(b, nil)
		a.Pattern, b.Pattern = pb, pa
	case SetBPM:
		e.bpm = c.BPM
		for _, kb := range e.graph.Keyboards {
			for _, sp := range kb.Splits {
				if sp.Pattern != nil {
					sp.Pattern.BPM = c.BPM
				}
			}
		}
	case SwapGraph:
		old := e.graph
		e.graph = c.Graph
		e.bpm = c.BPM
		e.broker.toModel(MsgToModel{Kind: MsgReturnedGraph, Graph: old})
	default:
		return errIndex
	}
	return nil
}

// replacePattern stops the current pattern of sp, releasing its notes, and
// installs p, which may be nil.
func (e *Engine) replacePattern(sp *Split, p *Pattern) {
	if sp.Pattern != nil {
		sp.flush = sp.Pattern.stop(sp.flush)
	}
	if p != nil && !p.recording && e.bpm > 0 {
		p.BPM = e.bpm
	}
	sp.Pattern = p
}

// MovedIndex is where the element at index i ends up when the element at
// from is moved to to.
func MovedIndex(i, from, to int) int {
	switch {
	case i == from:
		return to
	case from < to && i > from && i <= to:
		return i - 1
	case from > to && i >= to && i < from:
		return i + 1
	}
	return i
}
