package tang

// MIDIEvent is a three byte channel message. Frame is the offset from the
// start of the buffer the event belongs to.
type MIDIEvent struct {
	Frame int
	Data  [3]byte
}

const (
	StatusNoteOff         byte = 0x80
	StatusNoteOn          byte = 0x90
	StatusPolyPressure    byte = 0xA0
	StatusControlChange   byte = 0xB0
	StatusProgramChange   byte = 0xC0
	StatusChannelPressure byte = 0xD0
	StatusPitchBend       byte = 0xE0

	ControllerSustain byte = 64
)

func NoteOn(channel, note, velocity byte) MIDIEvent {
	return MIDIEvent{Data: [3]byte{StatusNoteOn | channel&0x0f, note & 0x7f, velocity & 0x7f}}
}

func NoteOff(channel, note, velocity byte) MIDIEvent {
	return MIDIEvent{Data: [3]byte{StatusNoteOff | channel&0x0f, note & 0x7f, velocity & 0x7f}}
}

// PitchBend builds a pitch bend message from a 14-bit value (8192 = center).
func PitchBend(channel byte, value uint16) MIDIEvent {
	if value > 16383 {
		value = 16383
	}
	return MIDIEvent{Data: [3]byte{StatusPitchBend | channel&0x0f, byte(value & 0x7f), byte(value >> 7)}}
}

func ControlChange(channel, controller, value byte) MIDIEvent {
	return MIDIEvent{Data: [3]byte{StatusControlChange | channel&0x0f, controller & 0x7f, value & 0x7f}}
}

// Kind is the status nibble without the channel.
func (e MIDIEvent) Kind() byte { return e.Data[0] & 0xf0 }

// Channel is the zero based channel of the message.
func (e MIDIEvent) Channel() byte { return e.Data[0] & 0x0f }

func (e MIDIEvent) Note() byte { return e.Data[1] }

func (e MIDIEvent) Velocity() byte { return e.Data[2] }

// IsNoteOn is true for a note-on with non-zero velocity.
func (e MIDIEvent) IsNoteOn() bool {
	return e.Kind() == StatusNoteOn && e.Data[2] > 0
}

// IsNoteOff is true for a note-off, or a note-on with zero velocity.
func (e MIDIEvent) IsNoteOff() bool {
	k := e.Kind()
	return k == StatusNoteOff || (k == StatusNoteOn && e.Data[2] == 0)
}

// IsNote is true for any note-on or note-off.
func (e MIDIEvent) IsNote() bool {
	k := e.Kind()
	return k == StatusNoteOn || k == StatusNoteOff
}

// IsBroadcast is true for the messages that are duplicated to every split of
// a keyboard regardless of the note range: control change, pitch bend and
// channel pressure.
func (e MIDIEvent) IsBroadcast() bool {
	switch e.Kind() {
	case StatusControlChange, StatusPitchBend, StatusChannelPressure:
		return true
	}
	return false
}

// WithChannel returns a copy of the event on another channel.
func (e MIDIEvent) WithChannel(channel byte) MIDIEvent {
	e.Data[0] = e.Kind() | channel&0x0f
	return e
}
