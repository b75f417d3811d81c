package engine

import (
	"slices"
	"testing"

	"github.com/tangaudio/tang"
)

func testPattern() tang.Pattern {
	base := tang.Note(60)
	return tang.Pattern{
		BPM:         120,
		LengthBeats: 1,
		Looping:     true,
		Enabled:     true,
		BaseNote:    &base,
		Events: []tang.PatternEvent{
			{Frame: 0, Status: tang.StatusNoteOn, Note: 60, Velocity: 100},
			{Frame: 12000, Status: tang.StatusNoteOff, Note: 60},
		},
	}
}

type played struct {
	frame int
	note  byte
	on    bool
}

func playedNotes(events []tang.MIDIEvent) []played {
	var ret []played
	for _, e := range events {
		if e.IsNote() {
			ret = append(ret, played{e.Frame, e.Note(), e.IsNoteOn()})
		}
	}
	return ret
}

func TestPatternLoop(t *testing.T) {
	p := NewPattern(testPattern(), 0, 48000)
	if got := p.LoopFrames(); got != 24000 {
		t.Fatalf("loop period %v frames, want 24000", got)
	}
	out := make([]tang.MIDIEvent, 0, 64)
	out, _ = p.process([]tang.MIDIEvent{tang.NoteOn(0, 64, 100)}, out, 48000)
	want := []played{
		{0, 64, true},
		{12000, 64, false},
		{24000, 64, true},
		{36000, 64, false},
	}
	if got := playedNotes(out); !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !p.Playing() {
		t.Error("looping pattern stopped")
	}
}

func TestPatternTempo(t *testing.T) {
	p := NewPattern(testPattern(), 240, 48000)
	if got := p.LoopFrames(); got != 12000 {
		t.Fatalf("loop period %v frames, want 12000", got)
	}
	out := make([]tang.MIDIEvent, 0, 64)
	out, _ = p.process([]tang.MIDIEvent{tang.NoteOn(0, 60, 100)}, out, 12000)
	want := []played{
		{0, 60, true},
		{6000, 60, false},
	}
	if got := playedNotes(out); !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPatternOneShot(t *testing.T) {
	pt := testPattern()
	pt.Looping = false
	pt.Events = pt.Events[:1] // the note is left hanging at the end
	p := NewPattern(pt, 0, 48000)
	out := make([]tang.MIDIEvent, 0, 64)
	out, _ = p.process([]tang.MIDIEvent{tang.NoteOn(0, 62, 100)}, out, 48000)
	want := []played{
		{0, 62, true},
		{24000, 62, false},
	}
	if got := playedNotes(out); !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if p.Playing() {
		t.Error("one shot pattern still playing after its end")
	}
}

func TestPatternReleaseKey(t *testing.T) {
	p := NewPattern(testPattern(), 0, 48000)
	out := make([]tang.MIDIEvent, 0, 64)
	off := tang.NoteOff(0, 60, 0)
	off.Frame = 100
	out, _ = p.process([]tang.MIDIEvent{tang.NoteOn(0, 60, 100), off}, out, 1000)
	want := []played{
		{0, 60, true},
		{100, 60, false},
	}
	if got := playedNotes(out); !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if p.Playing() {
		t.Error("pattern still playing after its key was released")
	}
}

func TestPatternDisabledPassesThrough(t *testing.T) {
	pt := testPattern()
	pt.Enabled = false
	p := NewPattern(pt, 0, 48000)
	in := []tang.MIDIEvent{tang.NoteOn(0, 64, 100), tang.ControlChange(0, 7, 90)}
	out, _ := p.process(in, make([]tang.MIDIEvent, 0, 8), 64)
	if !slices.Equal(out, in) {
		t.Errorf("got %v, want the input unchanged", out)
	}
}

func TestPatternRecording(t *testing.T) {
	p := NewRecording(1, 120, 48000)
	out := make([]tang.MIDIEvent, 0, 8)
	out, done := p.process([]tang.MIDIEvent{tang.NoteOn(0, 62, 90)}, out, 12000)
	if done || len(out) != 1 {
		t.Fatalf("recording should pass events through and keep going, done=%v out=%v", done, out)
	}
	off := tang.NoteOff(0, 62, 0)
	off.Frame = 100
	_, done = p.process([]tang.MIDIEvent{off}, out[:0], 12000)
	if !done {
		t.Fatal("recording did not finish after its length")
	}
	want := []tang.PatternEvent{
		{Frame: 0, Status: tang.StatusNoteOn, Note: 62, Velocity: 90},
		{Frame: 12100, Status: tang.StatusNoteOff, Note: 62},
	}
	if !slices.Equal(p.Events, want) {
		t.Errorf("recorded %v, want %v", p.Events, want)
	}
	if p.BaseNote != 62 || !p.Enabled || p.Recording() {
		t.Errorf("unexpected state after recording: base %d enabled %v recording %v", p.BaseNote, p.Enabled, p.Recording())
	}
}

func TestRecordThroughModel(t *testing.T) {
	l := newTestLoader()
	e, m, b := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}}), l)
	if err := m.SetBPM(120); err != nil {
		t.Fatal(err)
	}
	// one beat at 120 BPM is 24000 frames, recorded in blocks of 64
	if err := m.Record(Addr{}, 1); err != nil {
		t.Fatal(err)
	}
	b.PushMIDI(tang.NoteOn(0, 60, 100))
	buf := make(tang.AudioBuffer, 6000)
	for i := 0; i < 4; i++ {
		e.Process(buf)
	}
	if !m.Recording(Addr{}) {
		t.Fatal("model lost track of the recording")
	}
	m.Poll()
	if m.Recording(Addr{}) {
		t.Fatal("recording not reported as finished")
	}
	p := m.Session().Keyboards[0].Splits[0].Pattern
	if p == nil || len(p.Events) != 1 || p.BaseNote == nil || *p.BaseNote != 60 || !p.Enabled {
		t.Fatalf("unexpected recorded pattern %+v", p)
	}
	if err := p.Validate("pattern"); err != nil {
		t.Errorf("recorded pattern does not validate: %v", err)
	}
}

func TestTriggerPattern(t *testing.T) {
	l := newTestLoader()
	pt := testPattern()
	sp := tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}, Pattern: &pt}
	e, m, _ := buildTest(t, oneSplit(sp), l)
	if err := m.TriggerPattern(Addr{}, 67, true); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	if got, want := noteOns(l.last("synth").events), []byte{67}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
