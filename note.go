package tang

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var pitchClasses = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

type (
	// Note is a MIDI note number that reads and writes itself as a note name
	// in session files.
	Note byte

	// NoteRange is an inclusive range of MIDI notes.
	NoteRange struct {
		Low, High Note
	}
)

// FullRange covers every MIDI note.
var FullRange = NoteRange{Low: 0, High: 127}

// NoteName returns the name of a MIDI note, with middle C (60) as "C4".
func NoteName(n byte) string {
	return noteNames[n%12] + strconv.Itoa(int(n)/12-1)
}

// ParseNote parses a note number ("60") or a note name ("C4", "c#4", "Db-1").
func ParseNote(s string) (byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty note")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 127 {
			return 0, fmt.Errorf("note %d out of range 0..127", n)
		}
		return byte(n), nil
	}
	pc, ok := pitchClasses[strings.ToUpper(s[:1])[0]]
	if !ok {
		return 0, fmt.Errorf("invalid note %q", s)
	}
	rest := s[1:]
	if len(rest) > 0 {
		switch rest[0] {
		case '#':
			pc++
			rest = rest[1:]
		case 'b':
			pc--
			rest = rest[1:]
		}
	}
	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid octave in note %q", s)
	}
	n := (octave+1)*12 + pc
	if n < 0 || n > 127 {
		return 0, fmt.Errorf("note %q out of range", s)
	}
	return byte(n), nil
}

func (n Note) String() string { return NoteName(byte(n)) }

func (n *Note) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseNote(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*n = Note(v)
	return nil
}

func (n Note) MarshalYAML() (any, error) {
	return n.String(), nil
}

func (r NoteRange) Contains(note byte) bool {
	return note >= byte(r.Low) && note <= byte(r.High)
}

func (r NoteRange) String() string {
	return r.Low.String() + ".." + r.High.String()
}

// ParseNoteRange parses "low..high", for example "C3..B4" or "36..59".
func ParseNoteRange(s string) (NoteRange, error) {
	lo, hi, ok := strings.Cut(s, "..")
	if !ok {
		return NoteRange{}, fmt.Errorf("note range %q must be \"low..high\"", s)
	}
	return noteRange(lo, hi)
}

func noteRange(lo, hi string) (NoteRange, error) {
	l, err := ParseNote(lo)
	if err != nil {
		return NoteRange{}, err
	}
	h, err := ParseNote(hi)
	if err != nil {
		return NoteRange{}, err
	}
	return NoteRange{Low: Note(l), High: Note(h)}, nil
}

// UnmarshalYAML accepts "C3..B4" or a two element sequence of notes.
func (r *NoteRange) UnmarshalYAML(node *yaml.Node) error {
	var (
		nr  NoteRange
		err error
	)
	switch {
	case node.Kind == yaml.ScalarNode:
		nr, err = ParseNoteRange(node.Value)
	case node.Kind == yaml.SequenceNode && len(node.Content) == 2:
		nr, err = noteRange(node.Content[0].Value, node.Content[1].Value)
	default:
		err = fmt.Errorf("note range must be \"low..high\" or [low, high]")
	}
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*r = nr
	return nil
}

func (r NoteRange) MarshalYAML() (any, error) {
	return r.String(), nil
}
