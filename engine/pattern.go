package engine

import (
	"math"

	"github.com/tangaudio/tang"
)

// DefaultBPM is the recording tempo when neither the session nor the split
// has one.
const DefaultBPM = 120.0

// Pattern is the live form of a recorded phrase. Event frames are counted at
// RecordedBPM; playing at BPM scales them, so a tempo change never has to
// rewrite the events.
type Pattern struct {
	BPM         float64
	RecordedBPM float64
	LengthBeats float64
	Looping     bool
	Enabled     bool
	BaseNote    int // -1 until the first recorded note-on
	Events      []tang.PatternEvent

	sampleRate float64

	key      int // held trigger key, -1 when not playing
	channel  byte
	pos      float64 // playback position in recorded frames
	next     int     // next event to play
	sounding [128]bool

	recording bool
	recFrames int
	recLength int
}

// NewPattern converts a session pattern. bpm is the playback tempo; zero
// plays at the recorded tempo.
func NewPattern(p tang.Pattern, bpm, sampleRate float64) *Pattern {
	if bpm <= 0 {
		bpm = p.BPM
	}
	ret := &Pattern{
		BPM:         bpm,
		RecordedBPM: p.BPM,
		LengthBeats: p.LengthBeats,
		Looping:     p.Looping,
		Enabled:     p.Enabled,
		BaseNote:    -1,
		Events:      p.Events,
		sampleRate:  sampleRate,
		key:         -1,
	}
	if p.BaseNote != nil {
		ret.BaseNote = int(*p.BaseNote)
	}
	return ret
}

// NewRecording returns a pattern that records for lengthBeats at bpm as
// soon as it is placed in a split. It owns a buffer of MaxPatternEvents
// events.
func NewRecording(lengthBeats, bpm, sampleRate float64) *Pattern {
	return &Pattern{
		BPM:         bpm,
		RecordedBPM: bpm,
		LengthBeats: lengthBeats,
		Looping:     true,
		BaseNote:    -1,
		Events:      make([]tang.PatternEvent, 0, MaxPatternEvents),
		sampleRate:  sampleRate,
		key:         -1,
		recording:   true,
		recLength:   int(math.Round(lengthBeats * 60 / bpm * sampleRate)),
	}
}

// LoopFrames is the loop period in output frames at the playback tempo.
func (p *Pattern) LoopFrames() float64 {
	return p.LengthBeats * 60 / p.BPM * p.sampleRate
}

// Recording reports if the pattern is still capturing events.
func (p *Pattern) Recording() bool { return p.recording }

// Playing reports if the pattern is being played back.
func (p *Pattern) Playing() bool { return p.key >= 0 }

// length is the loop length in recorded frames, at least one frame.
func (p *Pattern) length() float64 {
	return math.Max(1, p.LengthBeats*60/p.RecordedBPM*p.sampleRate)
}

// process turns the live note events of one block into the events the
// instrument gets. It reports true when a recording has just finished.
func (p *Pattern) process(in, out []tang.MIDIEvent, frames int) ([]tang.MIDIEvent, bool) {
	if p.recording {
		return p.record(in, out, frames)
	}
	if !p.Enabled || len(p.Events) == 0 {
		for _, e := range in {
			out = appendEvent(out, e)
		}
		return out, false
	}
	cursor := 0
	for _, e := range in {
		out = p.play(cursor, e.Frame, out)
		cursor = e.Frame
		switch {
		case e.IsNoteOn():
			out = p.release(e.Frame, out)
			p.key = int(e.Note())
			p.channel = e.Channel()
			p.pos, p.next = 0, 0
		case e.IsNoteOff():
			if int(e.Note()) == p.key {
				out = p.release(e.Frame, out)
				p.key = -1
			}
		default:
			out = appendEvent(out, e)
		}
	}
	return p.play(cursor, frames, out), false
}

// record captures note events while passing everything through, and stops
// once the recording length is reached.
func (p *Pattern) record(in, out []tang.MIDIEvent, frames int) ([]tang.MIDIEvent, bool) {
	for _, e := range in {
		out = appendEvent(out, e)
		if !e.IsNote() {
			continue
		}
		f := p.recFrames + e.Frame
		if f >= p.recLength || len(p.Events) == cap(p.Events) {
			continue
		}
		status := tang.StatusNoteOff
		if e.IsNoteOn() {
			status = tang.StatusNoteOn
			if p.BaseNote < 0 {
				p.BaseNote = int(e.Note())
			}
		}
		p.Events = append(p.Events, tang.PatternEvent{Frame: f, Status: status, Note: e.Note(), Velocity: e.Velocity()})
	}
	p.recFrames += frames
	if p.recFrames < p.recLength {
		return out, false
	}
	p.recording = false
	p.Enabled = true
	return out, true
}

// play emits the pattern events falling into the output frames [from, to),
// wrapping around at the loop end.
func (p *Pattern) play(from, to int, out []tang.MIDIEvent) []tang.MIDIEvent {
	speed := p.BPM / p.RecordedBPM
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return out
	}
	length := p.length()
	for p.key >= 0 && from < to {
		end := p.pos + float64(to-from)*speed
		for p.next < len(p.Events) && float64(p.Events[p.next].Frame) < math.Min(end, length) {
			ev := p.Events[p.next]
			p.next++
			if float64(ev.Frame) < p.pos {
				continue
			}
			frame := from + int((float64(ev.Frame)-p.pos)/speed)
			out = p.emit(ev, min(frame, to-1), out)
		}
		if end < length {
			p.pos = end
			return out
		}
		boundary := max(from, from+int(math.Ceil((length-p.pos)/speed)))
		if boundary >= to {
			p.pos = length
			return out
		}
		out = p.release(boundary, out)
		if !p.Looping {
			p.key = -1
			return out
		}
		p.pos, p.next = 0, 0
		from = boundary
	}
	return out
}

func (p *Pattern) emit(ev tang.PatternEvent, frame int, out []tang.MIDIEvent) []tang.MIDIEvent {
	n := int(ev.Note)
	if p.BaseNote >= 0 {
		n += p.key - p.BaseNote
	}
	if n < 0 || n > 127 {
		return out
	}
	var e tang.MIDIEvent
	if ev.Status&0xf0 == tang.StatusNoteOn && ev.Velocity > 0 {
		e = tang.NoteOn(p.channel, byte(n), ev.Velocity)
		p.sounding[n] = true
	} else {
		if !p.sounding[n] {
			return out
		}
		e = tang.NoteOff(p.channel, byte(n), ev.Velocity)
		p.sounding[n] = false
	}
	e.Frame = frame
	return appendEvent(out, e)
}

// release emits a note-off for every note the pattern left sounding.
func (p *Pattern) release(frame int, out []tang.MIDIEvent) []tang.MIDIEvent {
	for n := range p.sounding {
		if p.sounding[n] {
			e := tang.NoteOff(p.channel, byte(n), 0)
			e.Frame = frame
			out = appendEvent(out, e)
			p.sounding[n] = false
		}
	}
	return out
}

// stop ends playback, queueing the note-offs of sounding notes into out.
func (p *Pattern) stop(out []tang.MIDIEvent) []tang.MIDIEvent {
	p.key = -1
	return p.release(0, out)
}
