package engine

import (
	"math"

	"github.com/tangaudio/tang"
)

type (
	// NoteRemap rewrites the notes sent to an instrument: a mapped source
	// note is played as another note on a channel dedicated to its detune,
	// with a pitch bend carrying the detune. Unmapped notes, and every
	// non-note message, go to the first channel.
	NoteRemap struct {
		table    [128]remapEntry
		channels int
		// sounding remembers where a source note was sent, so that its
		// note-off follows even if the table changed in between.
		sounding [16][128]remapEntry
	}

	remapEntry struct {
		mapped   bool
		sounding bool
		note     byte
		channel  byte
		bend     uint16
	}
)

// NewNoteRemap derives the channel assignment of r. It fails if a detune
// exceeds pitchBendRange or if there are more distinct detunes than
// channels.
func NewNoteRemap(r tang.Remap, pitchBendRange float64) (*NoteRemap, error) {
	channels, err := r.Channels(pitchBendRange)
	if err != nil {
		return nil, err
	}
	ret := &NoteRemap{channels: len(channels)}
	for src, t := range r {
		ret.table[src] = remapEntry{
			mapped:  true,
			note:    byte(t.Note),
			channel: channels[t.Detune],
			bend:    BendValue(t.Detune, pitchBendRange),
		}
	}
	return ret, nil
}

// BendValue encodes detune semitones as a 14-bit pitch bend value for a
// plugin bending ±pitchBendRange semitones.
func BendValue(detune, pitchBendRange float64) uint16 {
	v := math.Round(8192 + detune/pitchBendRange*8191)
	return uint16(math.Max(0, math.Min(16383, v)))
}

// Channels is the number of channels used besides the first one.
func (r *NoteRemap) Channels() int { return r.channels }

// Lookup returns the target note, zero based channel and bend value of a
// source note, and false if the note is not mapped.
func (r *NoteRemap) Lookup(note byte) (target, channel byte, bend uint16, ok bool) {
	e := r.table[note&0x7f]
	return e.note, e.channel, e.bend, e.mapped
}

// Apply appends the remapped form of in to out. A mapped note-on becomes a
// note-on on its channel immediately followed by the pitch bend, because some
// plugins only bend notes that are already sounding. Events that do not fit
// in out's capacity are dropped.
func (r *NoteRemap) Apply(in []tang.MIDIEvent, out []tang.MIDIEvent) []tang.MIDIEvent {
	for _, e := range in {
		switch {
		case e.IsNoteOn():
			ent := r.entry(e.Note())
			r.sounding[e.Channel()][e.Note()] = ent
			on := tang.NoteOn(ent.channel, ent.note, e.Velocity())
			on.Frame = e.Frame
			out = appendEvent(out, on)
			if ent.mapped {
				bend := tang.PitchBend(ent.channel, ent.bend)
				bend.Frame = e.Frame
				out = appendEvent(out, bend)
			}
		case e.IsNoteOff():
			ent := r.sounding[e.Channel()][e.Note()]
			if !ent.sounding {
				ent = r.entry(e.Note())
			}
			r.sounding[e.Channel()][e.Note()] = remapEntry{}
			off := tang.NoteOff(ent.channel, ent.note, e.Velocity())
			off.Frame = e.Frame
			out = appendEvent(out, off)
		default:
			out = appendEvent(out, e.WithChannel(0))
		}
	}
	return out
}

// entry is the table entry of a source note, an identity entry on the first
// channel if the note is not mapped.
func (r *NoteRemap) entry(note byte) remapEntry {
	ent := r.table[note&0x7f]
	if !ent.mapped {
		ent = remapEntry{note: note}
	}
	ent.sounding = true
	return ent
}

func appendEvent(out []tang.MIDIEvent, e tang.MIDIEvent) []tang.MIDIEvent {
	if len(out) == cap(out) {
		return out
	}
	return append(out, e)
}
