package engine

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/tangaudio/tang"
)

func drain(b *Broker) []MsgToModel {
	var ret []MsgToModel
	for {
		select {
		case msg := <-b.ToModel:
			ret = append(ret, msg)
		default:
			return ret
		}
	}
}

func TestKeyboardFanOut(t *testing.T) {
	l := newTestLoader()
	s := &tang.Session{Keyboards: []tang.Keyboard{{Splits: []tang.Split{
		{Range: &tang.NoteRange{Low: 48, High: 71}, Instrument: tang.PluginSpec{Plugin: "low"}},
		{Range: &tang.NoteRange{Low: 60, High: 83}, Transpose: 12, Instrument: tang.PluginSpec{Plugin: "high"}},
	}}}}
	e, _, b := buildTest(t, s, l)
	b.PushMIDI(tang.NoteOn(0, 50, 100))
	b.PushMIDI(tang.NoteOn(0, 65, 100))
	b.PushMIDI(tang.NoteOn(0, 80, 100))
	b.PushMIDI(tang.ControlChange(0, 1, 64))
	b.PushMIDI(tang.PitchBend(0, 12288))
	b.PushMIDI(tang.MIDIEvent{Data: [3]byte{tang.StatusChannelPressure, 40, 0}})
	buf := make(tang.AudioBuffer, 64)
	e.Process(buf)
	low, high := l.last("low"), l.last("high")
	if got, want := noteOns(low.events), []byte{50, 65}; !slices.Equal(got, want) {
		t.Errorf("low split got notes %v, want %v", got, want)
	}
	if got, want := noteOns(high.events), []byte{77, 92}; !slices.Equal(got, want) {
		t.Errorf("high split got notes %v, want %v", got, want)
	}
	broadcast := []struct {
		name string
		kind byte
	}{
		{"control changes", tang.StatusControlChange},
		{"pitch bends", tang.StatusPitchBend},
		{"channel pressure messages", tang.StatusChannelPressure},
	}
	for _, k := range broadcast {
		if n := count(low.events, k.kind); n != 1 {
			t.Errorf("low split got %d %s, want 1", n, k.name)
		}
		if n := count(high.events, k.kind); n != 1 {
			t.Errorf("high split got %d %s, want 1", n, k.name)
		}
	}
	if buf[0] != [2]float32{0.5, 0.5} {
		t.Errorf("expected the two splits to be summed, got %v", buf[0])
	}
}

func TestKeyboardChannel(t *testing.T) {
	l := newTestLoader()
	s := &tang.Session{Keyboards: []tang.Keyboard{{
		Channel: 2,
		Splits:  []tang.Split{{Instrument: tang.PluginSpec{Plugin: "synth"}}},
	}}}
	e, _, b := buildTest(t, s, l)
	b.PushMIDI(tang.NoteOn(0, 60, 100))
	b.PushMIDI(tang.NoteOn(1, 62, 100))
	e.Process(make(tang.AudioBuffer, 64))
	if got, want := noteOns(l.last("synth").events), []byte{62}; !slices.Equal(got, want) {
		t.Errorf("got notes %v, want %v", got, want)
	}
}

func TestProcessInBlocks(t *testing.T) {
	l := newTestLoader()
	e, _, b := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}}), l)
	b.PushMIDI(tang.NoteOn(0, 60, 100))
	buf := make(tang.AudioBuffer, 200)
	e.Process(buf)
	if n := len(noteOns(l.last("synth").events)); n != 1 {
		t.Errorf("note delivered %d times over several blocks, want once", n)
	}
	for i, f := range buf {
		if f != [2]float32{0.25, 0.25} {
			t.Fatalf("frame %d: got %v, want 0.25 on both channels", i, f)
		}
	}
}

func TestMonoInstrument(t *testing.T) {
	e, _, _ := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "mono"}}), newTestLoader())
	buf := make(tang.AudioBuffer, 64)
	e.Process(buf)
	if buf[10] != [2]float32{0.25, 0.25} {
		t.Errorf("mono output should feed both channels, got %v", buf[10])
	}
}

func TestEffectMix(t *testing.T) {
	mix := 0.5
	sp := tang.Split{
		Instrument: tang.PluginSpec{Plugin: "synth"},
		Effects:    []tang.PluginSpec{{Plugin: "gain", Mix: &mix, Params: tang.Params{{Name: "gain", Value: 0}}}},
	}
	e, _, _ := buildTest(t, oneSplit(sp), newTestLoader())
	buf := make(tang.AudioBuffer, 64)
	e.Process(buf)
	if buf[0] != [2]float32{0.125, 0.125} {
		t.Errorf("got %v, want half dry half silent wet", buf[0])
	}
}

func TestNarrowEffectPassesDry(t *testing.T) {
	sp := tang.Split{
		Instrument: tang.PluginSpec{Plugin: "synth"},
		Effects:    []tang.PluginSpec{{Plugin: "gain1", Params: tang.Params{{Name: "gain", Value: 0}}}},
	}
	e, _, _ := buildTest(t, oneSplit(sp), newTestLoader())
	buf := make(tang.AudioBuffer, 64)
	e.Process(buf)
	if buf[0] != [2]float32{0, 0.25} {
		t.Errorf("got %v, want the mono effect on the left and dry signal on the right", buf[0])
	}
}

func TestWideEffectRejected(t *testing.T) {
	l := newTestLoader()
	sp := tang.Split{
		Instrument: tang.PluginSpec{Plugin: "synth"},
		Effects:    []tang.PluginSpec{{Plugin: "gain"}, {Plugin: "quad"}},
	}
	_, _, err := Build(oneSplit(sp), l, NewBroker(), testOptions())
	var verr *tang.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if verr.Path != "keyboards[0].splits[0].effects[1]" {
		t.Errorf("unexpected error path %q", verr.Path)
	}
	for _, p := range l.loaded {
		if !p.closed {
			t.Errorf("plugin %q was not closed after the failed build", p.name)
		}
	}
}

func TestUnknownPlugin(t *testing.T) {
	_, _, err := Build(oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "nope"}}), newTestLoader(), NewBroker(), testOptions())
	var lerr *tang.LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected a load error, got %v", err)
	}
	if lerr.Source != "nope" {
		t.Errorf("load error names %q, want %q", lerr.Source, "nope")
	}
}

func TestProcessFailureSilences(t *testing.T) {
	for _, name := range []string{"broken", "panics"} {
		t.Run(name, func(t *testing.T) {
			sp := tang.Split{
				Instrument: tang.PluginSpec{Plugin: name},
				Effects:    []tang.PluginSpec{{Plugin: "gain"}},
			}
			e, _, b := buildTest(t, oneSplit(sp), newTestLoader())
			buf := make(tang.AudioBuffer, 64)
			buf.Fill(1)
			e.Process(buf)
			buf.Fill(1)
			e.Process(buf)
			for i, f := range buf {
				if f != [2]float32{} {
					t.Fatalf("frame %d: got %v, want silence", i, f)
				}
			}
			var failures []MsgToModel
			for _, msg := range drain(b) {
				if msg.Kind == MsgProcessFailed {
					failures = append(failures, msg)
				}
			}
			if len(failures) != 1 {
				t.Fatalf("got %d failure reports over two buffers, want 1", len(failures))
			}
			if name == "panics" && !errors.Is(failures[0].Err, ErrPluginPanic) {
				t.Errorf("panic reported as %v", failures[0].Err)
			}
			if failures[0].Slot != 0 {
				t.Errorf("failure reported for slot %d, want 0", failures[0].Slot)
			}
		})
	}
}

func TestRemapChannels(t *testing.T) {
	table := tang.Remap{
		60: {Note: 60, Detune: 1.0},
		62: {Note: 62, Detune: -0.5},
		64: {Note: 64, Detune: 1.0},
	}
	for i := 0; i < 20; i++ {
		r, err := NewNoteRemap(table, 2)
		if err != nil {
			t.Fatalf("NewNoteRemap: %v", err)
		}
		if r.Channels() != 2 {
			t.Fatalf("got %d channels, want 2", r.Channels())
		}
		for note, want := range map[byte]byte{60: 2, 62: 1, 64: 2} {
			if _, ch, _, _ := r.Lookup(note); ch != want {
				t.Fatalf("note %d on channel %d, want %d", note, ch, want)
			}
		}
	}
	if got := BendValue(1, 2); got != 12288 {
		t.Errorf("BendValue(1, 2) = %d, want 12288", got)
	}
	if got := BendValue(-0.5, 2); got != 6144 {
		t.Errorf("BendValue(-0.5, 2) = %d, want 6144", got)
	}
	if got := BendValue(5, 2); got != 16383 {
		t.Errorf("BendValue should clamp, got %d", got)
	}
}

func TestRemapApply(t *testing.T) {
	r, err := NewNoteRemap(tang.Remap{60: {Note: 67, Detune: 1.0}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	in := []tang.MIDIEvent{
		tang.NoteOn(0, 60, 100),
		tang.NoteOn(0, 61, 100),
		tang.ControlChange(3, 1, 10),
		tang.NoteOff(0, 60, 0),
	}
	want := []tang.MIDIEvent{
		tang.NoteOn(1, 67, 100),
		tang.PitchBend(1, 12288),
		tang.NoteOn(0, 61, 100),
		tang.ControlChange(0, 1, 10),
		tang.NoteOff(1, 67, 0),
	}
	got := r.Apply(in, make([]tang.MIDIEvent, 0, 16))
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRemapRejectsWideDetune(t *testing.T) {
	if _, err := NewNoteRemap(tang.Remap{60: {Note: 60, Detune: 3}}, 2); err == nil {
		t.Error("expected an error for a detune beyond the pitch bend range")
	}
}

func TestRemapChangeReleasesOldNotes(t *testing.T) {
	l := newTestLoader()
	sp := tang.Split{Instrument: tang.PluginSpec{Plugin: "synth", Remap: tang.Remap{60: {Note: 60, Detune: 1}}}}
	e, m, b := buildTest(t, oneSplit(sp), l)
	b.PushMIDI(tang.NoteOn(0, 60, 100))
	e.Process(make(tang.AudioBuffer, 64))
	if err := m.SetRemap(Addr{}, nil, 0); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	events := l.last("synth").events
	if len(events) == 0 || events[len(events)-1] != tang.NoteOff(1, 60, 0) {
		t.Errorf("expected a note-off on the remapped channel, got %v", events)
	}
	if m.Session().Keyboards[0].Splits[0].Instrument.Remap != nil {
		t.Error("remap table still in the session")
	}
}

func TestRangeChangeReleasesNotes(t *testing.T) {
	l := newTestLoader()
	e, m, b := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}}), l)
	b.PushMIDI(tang.NoteOn(0, 60, 100))
	e.Process(make(tang.AudioBuffer, 64))
	if err := m.SetRange(Addr{}, tang.NoteRange{Low: 0, High: 50}); err != nil {
		t.Fatal(err)
	}
	b.PushMIDI(tang.NoteOff(0, 60, 0))
	e.Process(make(tang.AudioBuffer, 64))
	if got := count(l.last("synth").events, tang.StatusNoteOff); got != 1 {
		t.Errorf("got %d note-offs, want exactly the flushed one", got)
	}
}

func TestModulatorDrivesParam(t *testing.T) {
	l := newTestLoader()
	sp := tang.Split{
		Instrument: tang.PluginSpec{Plugin: "synth"},
		Modulators: []tang.Modulator{{
			Type:     "lfo",
			Waveform: "square",
			Targets:  []tang.ModTarget{{Slot: 0, Param: "cutoff", Depth: 0.25}},
		}},
	}
	e, m, _ := buildTest(t, oneSplit(sp), l)
	synth := l.last("synth")
	e.Process(make(tang.AudioBuffer, 64))
	if synth.values[0] != 0.75 {
		t.Errorf("modulated cutoff is %v, want 0.75", synth.values[0])
	}
	if err := m.SetParam(Addr{}, 0, "cutoff", 0.25); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	if synth.values[0] != 0.5 {
		t.Errorf("modulation should follow the new base value, got %v", synth.values[0])
	}
	if err := m.RemoveModulator(Addr{}, 0); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	if synth.values[0] != 0.25 {
		t.Errorf("cutoff should return to its base value, got %v", synth.values[0])
	}
}

func TestLFOWaveforms(t *testing.T) {
	cases := []struct {
		w    Waveform
		want []float64
	}{
		{WaveTriangle, []float64{-1, 0, 1, 0}},
		{WaveSaw, []float64{-1, -0.5, 0, 0.5}},
		{WaveSquare, []float64{1, 1, -1, -1}},
	}
	for _, c := range cases {
		m := NewLFO(c.w, 1)
		for i, want := range c.want {
			if got := m.lfo(1, 0.25); math.Abs(got-want) > 1e-9 {
				t.Errorf("%v step %d: got %v, want %v", c.w, i, got, want)
			}
		}
	}
}

func TestEnvelopeStages(t *testing.T) {
	m := NewEnvelope(0.1, 0.1, 0.5, 0.1)
	p := envParams{attack: 0.1, decay: 0.1, sustain: 0.5, release: 0.1}
	g := &gate{count: 1, noteOn: true}
	steps := []struct {
		dt      float64
		release bool
		want    float64
	}{
		{0.05, false, 0.5}, // halfway up
		{0.1, false, 0.75}, // peak, then a quarter of the decay
		{1, false, 0.5},    // sustain
		{0.05, true, 0.25}, // half of the release
		{1, false, 0},      // done
	}
	for i, s := range steps {
		if s.release {
			g.count = 0
			g.release = true
		}
		got := m.envelope(p, g, s.dt)
		if math.Abs(got-s.want) > 1e-9 {
			t.Errorf("step %d: level %v, want %v", i, got, s.want)
		}
		g.noteOn, g.release = false, false
	}
	if m.stage != StageIdle {
		t.Errorf("envelope in stage %v after the release, want idle", m.stage)
	}
}

func TestEnvelopeShortNote(t *testing.T) {
	tests := []struct {
		name   string
		p      envParams
		dt     float64
		attack float64
	}{
		{"partial attack", envParams{attack: 0.1, decay: 0.1, sustain: 0.5, release: 0.1}, 0.05, 0.5},
		{"full attack", envParams{attack: 0.001, decay: 0.1, sustain: 0.5, release: 0.1}, 512.0 / 48000, 1 - (512.0/48000-0.001)*5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewEnvelope(tt.p.attack, tt.p.decay, tt.p.sustain, tt.p.release)
			g := &gate{noteOn: true, release: true}
			got := m.envelope(tt.p, g, tt.dt)
			if math.Abs(got-tt.attack) > 1e-9 || m.stage != StageRelease {
				t.Fatalf("level %v in stage %v, want %v releasing", got, m.stage, tt.attack)
			}
			g.noteOn, g.release = false, false
			next := m.envelope(tt.p, g, 0.01)
			if next <= 0 || next >= got {
				t.Errorf("level %v after the release began at %v", next, got)
			}
			if m.envelope(tt.p, g, 1) != 0 || m.stage != StageIdle {
				t.Errorf("envelope did not finish its release")
			}
		})
	}
}

func TestClipHold(t *testing.T) {
	var c clipDetector
	c.hold = 100
	c.update([]float32{0.5, -1.5})
	if !c.clipping() {
		t.Fatal("expected clipping after a sample beyond full scale")
	}
	c.update(make([]float32, 50))
	if !c.clipping() {
		t.Fatal("clip flag cleared before the hold time")
	}
	c.update(make([]float32, 60))
	if c.clipping() {
		t.Fatal("clip flag still set after the hold time")
	}
}

func TestMovedIndex(t *testing.T) {
	// moving element 1 to 3 in [a b c d e] gives [a c d b e]
	want := []int{0, 3, 1, 2, 4}
	for i, w := range want {
		if got := MovedIndex(i, 1, 3); got != w {
			t.Errorf("MovedIndex(%d, 1, 3) = %d, want %d", i, got, w)
		}
	}
}
