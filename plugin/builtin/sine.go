package builtin

import (
	"math"

	"github.com/tangaudio/tang"
)

const maxVoices = 32

// sine is a polyphonic sine oscillator. Voices live in a fixed array so that
// note handling never allocates.
type sine struct {
	params
	sampleRate float64
	voices     [maxVoices]sineVoice
	bend       [16]float64 // semitones, by channel
	bendRange  float64
}

type sineVoice struct {
	active  bool
	note    byte
	channel byte
	phase   float64
}

const (
	sineGain = iota
)

func newSine(sampleRate float64) *sine {
	s := &sine{
		params: newParams(
			tang.ParamInfo{Index: sineGain, Name: "gain", Min: 0, Max: 1, Default: 0.5},
		),
		sampleRate: sampleRate,
		bendRange:  tang.DefaultPitchBendRange,
	}
	s.presets = []preset{
		{name: "Soft", values: []float32{0.2}},
		{name: "Full", values: []float32{1}},
	}
	return s
}

func (s *sine) Name() string        { return "Sine Oscillator" }
func (s *sine) IsInstrument() bool  { return true }
func (s *sine) AudioInputs() int    { return 0 }
func (s *sine) AudioOutputs() int   { return 2 }
func (s *sine) AcceptsEvents() bool { return true }

func noteToFreq(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

func (s *sine) Process(events []tang.MIDIEvent, in, out [][]float32) error {
	if len(out) == 0 {
		return nil
	}
	frames := len(out[0])
	ev := 0
	gain := float64(s.values[sineGain])
	for frame := 0; frame < frames; frame++ {
		for ev < len(events) && events[ev].Frame <= frame {
			s.handle(events[ev])
			ev++
		}
		var sample float64
		for i := range s.voices {
			v := &s.voices[i]
			if !v.active {
				continue
			}
			sample += math.Sin(2 * math.Pi * v.phase)
			v.phase += noteToFreq(float64(v.note)+s.bend[v.channel&0x0f]) / s.sampleRate
			if v.phase >= 1 {
				v.phase -= 1
			}
		}
		sample = math.Max(-1, math.Min(1, sample*gain))
		for ch := range out {
			out[ch][frame] = float32(sample)
		}
	}
	for ; ev < len(events); ev++ {
		s.handle(events[ev])
	}
	return nil
}

func (s *sine) handle(e tang.MIDIEvent) {
	switch {
	case e.IsNoteOn():
		free := -1
		for i := range s.voices {
			if s.voices[i].active && s.voices[i].note == e.Note() && s.voices[i].channel == e.Channel() {
				return
			}
			if !s.voices[i].active && free < 0 {
				free = i
			}
		}
		if free >= 0 {
			s.voices[free] = sineVoice{active: true, note: e.Note(), channel: e.Channel()}
		}
	case e.IsNoteOff():
		for i := range s.voices {
			if s.voices[i].active && s.voices[i].note == e.Note() && s.voices[i].channel == e.Channel() {
				s.voices[i].active = false
			}
		}
	case e.Kind() == tang.StatusPitchBend:
		v := int(e.Data[1]) | int(e.Data[2])<<7
		s.bend[e.Channel()&0x0f] = float64(v-8192) / 8192 * s.bendRange
	}
}
