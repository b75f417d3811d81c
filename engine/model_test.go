package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/tangaudio/tang"
)

func TestPresetClearsOverrides(t *testing.T) {
	l := newTestLoader()
	e, m, _ := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}}), l)
	old := l.last("synth")
	for i := 0; i < 2; i++ {
		if err := m.SetParam(Addr{}, 0, "cutoff", 0.5); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.Session().Keyboards[0].Splits[0].Instrument.Params; len(got) != 1 {
		t.Fatalf("setting a parameter twice gave overrides %v, want one", got)
	}
	if err := m.LoadPreset(Addr{}, 0, "Bright"); err != nil {
		t.Fatal(err)
	}
	inst := m.Session().Keyboards[0].Splits[0].Instrument
	if inst.Preset != "Bright" || len(inst.Params) != 0 {
		t.Fatalf("after loading a preset: preset %q overrides %v", inst.Preset, inst.Params)
	}
	e.Process(make(tang.AudioBuffer, 64))
	m.Poll()
	if !old.closed {
		t.Error("replaced instance was not closed")
	}
	if cur := l.last("synth"); cur == old || cur.values[0] != 1 {
		t.Errorf("preset was not loaded into a fresh instance")
	}
	if err := m.SetParam(Addr{}, 0, "cutoff", 0.25); err != nil {
		t.Fatal(err)
	}
	inst = m.Session().Keyboards[0].Splits[0].Instrument
	if want := (tang.Params{{Name: "cutoff", Value: 0.25}}); !reflect.DeepEqual(inst.Params, want) {
		t.Errorf("got overrides %v, want %v", inst.Params, want)
	}
}

func TestUnknownPresetAndParam(t *testing.T) {
	_, m, _ := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}}), newTestLoader())
	var verr *tang.ValidationError
	if err := m.LoadPreset(Addr{}, 0, "Nope"); !errors.As(err, &verr) {
		t.Errorf("expected a validation error for an unknown preset, got %v", err)
	}
	if err := m.SetParam(Addr{}, 0, "resonance", 1); !errors.As(err, &verr) {
		t.Errorf("expected a validation error for an unknown parameter, got %v", err)
	}
	if m.Dirty() {
		t.Error("rejected edits marked the session dirty")
	}
}

func TestParamClamped(t *testing.T) {
	l := newTestLoader()
	e, m, _ := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}}), l)
	if err := m.SetParam(Addr{}, 0, "cutoff", 7); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	if v := l.last("synth").values[0]; v != 1 {
		t.Errorf("plugin got %v, want the clamped value 1", v)
	}
	if v := m.Session().Keyboards[0].Splits[0].Instrument.Params[0].Value; v != 1 {
		t.Errorf("session recorded %v, want 1", v)
	}
}

func TestEffectEditsKeepTargets(t *testing.T) {
	l := newTestLoader()
	sp := tang.Split{
		Instrument: tang.PluginSpec{Plugin: "synth"},
		Effects:    []tang.PluginSpec{{Plugin: "gain"}, {Plugin: "gain"}},
		Modulators: []tang.Modulator{{
			Type: "lfo",
			Targets: []tang.ModTarget{
				{Slot: 1, Param: "gain", Depth: 0.5},
				{Slot: 2, Param: "gain", Depth: 0.25},
				{Slot: 0, Param: "cutoff", Depth: 0.1},
			},
		}},
	}
	e, m, _ := buildTest(t, oneSplit(sp), l)
	a := Addr{}
	if err := m.InsertEffect(a, 0, tang.PluginSpec{Plugin: "gain1"}); err != nil {
		t.Fatal(err)
	}
	if err := m.MoveEffect(a, 0, 2); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveEffect(a, 0); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	got := m.Session().Keyboards[0].Splits[0]
	if len(got.Effects) != 2 || got.Effects[1].Plugin != "gain1" {
		t.Fatalf("unexpected effects %v", got.Effects)
	}
	want := []tang.ModTarget{
		{Slot: 1, Param: "gain", Depth: 0.25},
		{Slot: 0, Param: "cutoff", Depth: 0.1},
	}
	if !reflect.DeepEqual(got.Modulators[0].Targets, want) {
		t.Errorf("got targets %v, want %v", got.Modulators[0].Targets, want)
	}
	live := e.graph.Keyboards[0].Splits[0].Modulators[0].Targets
	if len(live) != 2 || live[0].Slot != 1 || live[1].Slot != 0 {
		t.Errorf("live targets out of step with the session: %+v", live)
	}
	if m.Session().Validate() != nil {
		t.Error("edited session does not validate")
	}
}

func TestRemoveModulatorShiftsReferences(t *testing.T) {
	zero, two := 0, 2
	sp := tang.Split{
		Instrument: tang.PluginSpec{Plugin: "synth"},
		Modulators: []tang.Modulator{
			{Type: "lfo", Targets: []tang.ModTarget{{Param: "cutoff", Depth: 0.5}}},
			{Type: "lfo", Targets: []tang.ModTarget{{ModRate: &two, Depth: 0.5}, {ModDepth: []int{0, 0}, Depth: 0.5}}},
			{Type: "lfo", Targets: []tang.ModTarget{{ModRate: &zero, Depth: 0.5}}},
		},
	}
	s := oneSplit(sp)
	e, m, _ := buildTest(t, s, newTestLoader())
	if err := m.RemoveModulator(Addr{}, 0); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	got := m.Session().Keyboards[0].Splits[0].Modulators
	if len(got) != 2 || len(got[0].Targets) != 1 || len(got[1].Targets) != 0 {
		t.Fatalf("unexpected modulators after removal: %+v", got)
	}
	if kind, mod := got[0].Targets[0].Kind(); kind != "rate" || mod != 1 {
		t.Errorf("rate target points at %s %d, want rate 1", kind, mod)
	}
	if *s.Keyboards[0].Splits[0].Modulators[1].Targets[0].ModRate != 2 {
		t.Error("the caller's session was modified")
	}
	live := e.graph.Keyboards[0].Splits[0].Modulators
	if len(live) != 2 || live[0].Targets[0].Mod != 1 || len(live[1].Targets) != 0 {
		t.Errorf("live modulators out of step with the session")
	}
}

func TestKeyboardsAndSplits(t *testing.T) {
	l := newTestLoader()
	e, m, _ := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}}), l)
	if err := m.RemoveKeyboard(0); err == nil {
		t.Error("removing the last keyboard should fail")
	}
	if err := m.RemoveSplit(Addr{}); err == nil {
		t.Error("removing the last split should fail")
	}
	kb := tang.Keyboard{Name: "pads", Channel: 3, Splits: []tang.Split{{Instrument: tang.PluginSpec{Plugin: "low"}}}}
	if err := m.AddKeyboard(kb); err != nil {
		t.Fatal(err)
	}
	if err := m.AddSplit(1, tang.Split{Instrument: tang.PluginSpec{Plugin: "high"}}); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveKeyboard(0); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	m.Poll()
	if !l.last("synth").closed {
		t.Error("plugins of the removed keyboard were not closed")
	}
	s := m.Session()
	if len(s.Keyboards) != 1 || s.Keyboards[0].Name != "pads" || len(s.Keyboards[0].Splits) != 2 {
		t.Fatalf("unexpected session %+v", s.Keyboards)
	}
	if len(e.graph.Keyboards) != 1 || len(e.graph.Keyboards[0].Splits) != 2 {
		t.Fatalf("live graph out of step with the session")
	}
	if err := m.RemoveSplit(Addr{Keyboard: 0, Split: 0}); err != nil {
		t.Fatal(err)
	}
	e.Process(make(tang.AudioBuffer, 64))
	m.Poll()
	if !l.last("low").closed {
		t.Error("plugins of the removed split were not closed")
	}
}

func TestSetPluginChecksOutputs(t *testing.T) {
	l := newTestLoader()
	sp := tang.Split{
		Instrument: tang.PluginSpec{Plugin: "synth"},
		Effects:    []tang.PluginSpec{{Plugin: "gain"}},
	}
	_, m, _ := buildTest(t, oneSplit(sp), l)
	var verr *tang.ValidationError
	if err := m.SetPlugin(Addr{}, 0, "mono"); !errors.As(err, &verr) {
		t.Fatalf("a mono instrument under a stereo effect should be rejected, got %v", err)
	}
	if !l.last("mono").closed {
		t.Error("rejected instance was not closed")
	}
	if err := m.SetPlugin(Addr{}, 1, "gain1"); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().Keyboards[0].Splits[0].Effects[0].Plugin; got != "gain1" {
		t.Errorf("effect is %q, want gain1", got)
	}
}

func TestReplaceSession(t *testing.T) {
	l := newTestLoader()
	e, m, _ := buildTest(t, oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "low"}}), l)
	if err := m.SetVolume(Addr{}, 0.5); err != nil {
		t.Fatal(err)
	}
	if !m.Dirty() {
		t.Error("edit did not mark the session dirty")
	}
	next := oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "high"}})
	next.BPM = 90
	if err := m.Replace(next); err != nil {
		t.Fatal(err)
	}
	if m.Dirty() {
		t.Error("a replaced session should start clean")
	}
	e.Process(make(tang.AudioBuffer, 64))
	m.Poll()
	if !l.last("low").closed {
		t.Error("plugins of the old graph were not closed")
	}
	if e.bpm != 90 {
		t.Errorf("engine tempo %v, want 90", e.bpm)
	}
	bad := oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "nope"}})
	if err := m.Replace(bad); err == nil {
		t.Error("replacing with an unloadable session should fail")
	}
	if got := m.Session().Keyboards[0].Splits[0].Instrument.Plugin; got != "high" {
		t.Errorf("failed replace changed the session to %q", got)
	}
}

func TestChannelFull(t *testing.T) {
	b := NewBroker()
	opts := testOptions()
	opts.Timeout = 1
	_, m, err := Build(oneSplit(tang.Split{Instrument: tang.PluginSpec{Plugin: "synth"}}), newTestLoader(), b, opts)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < ChannelCapacity; i++ {
		b.ToEngine <- SetBPM{BPM: 120}
	}
	err = m.SetVolume(Addr{}, 0.5)
	var cerr *tang.ChannelError
	if !errors.As(err, &cerr) || !errors.Is(err, tang.ErrBusy) {
		t.Fatalf("expected a channel error, got %v", err)
	}
	if v := m.Session().Keyboards[0].Splits[0].Instrument.Volume; v != nil {
		t.Errorf("failed edit changed the session volume to %v", *v)
	}
}

// modelFuzzState drives random edits through a model while an engine
// processes them, then checks that the live graph and the session agree.
type modelFuzzState struct {
	model  *Model
	broker *Broker
}

func (s *modelFuzzState) Iterate(yield func(string, func(t *testing.T)) bool, seed int) {
	ses := s.model.session
	k := seed % len(ses.Keyboards)
	kb := ses.Keyboards[k]
	a := Addr{Keyboard: k, Split: (seed / 3) % len(kb.Splits)}
	sp := kb.Splits[a.Split]
	slot := (seed / 7) % (len(sp.Effects) + 1)
	mod := 0
	if len(sp.Modulators) > 0 {
		mod = (seed / 5) % len(sp.Modulators)
	}
	f := float64(seed%21)/10 - 0.5
	yield("SetParam", func(t *testing.T) { s.model.SetParam(a, slot, "gain", f) })
	yield("SetCutoff", func(t *testing.T) { s.model.SetParam(a, 0, "cutoff", f) })
	yield("SetVolume", func(t *testing.T) { s.model.SetVolume(a, f) })
	yield("SetMix", func(t *testing.T) { s.model.SetMix(a, slot, f) })
	yield("LoadPreset", func(t *testing.T) { s.model.LoadPreset(a, slot, "Dark") })
	yield("SetPlugin", func(t *testing.T) {
		s.model.SetPlugin(a, slot, []string{"synth", "gain", "gain1", "mono"}[seed%4])
	})
	yield("InsertEffect", func(t *testing.T) {
		s.model.InsertEffect(a, seed%(len(sp.Effects)+2), tang.PluginSpec{Plugin: "gain"})
	})
	yield("RemoveEffect", func(t *testing.T) { s.model.RemoveEffect(a, seed%(len(sp.Effects)+1)) })
	yield("MoveEffect", func(t *testing.T) { s.model.MoveEffect(a, seed%3, (seed/3)%3) })
	yield("AddKeyboard", func(t *testing.T) {
		s.model.AddKeyboard(tang.Keyboard{Channel: seed % 17, Splits: []tang.Split{{Instrument: tang.PluginSpec{Plugin: "low"}}}})
	})
	yield("RemoveKeyboard", func(t *testing.T) { s.model.RemoveKeyboard(k) })
	yield("AddSplit", func(t *testing.T) {
		r := tang.NoteRange{Low: tang.Note(seed % 60), High: tang.Note(60 + seed%68)}
		s.model.AddSplit(k, tang.Split{Range: &r, Instrument: tang.PluginSpec{Plugin: "high"}})
	})
	yield("RemoveSplit", func(t *testing.T) { s.model.RemoveSplit(a) })
	yield("SetTranspose", func(t *testing.T) { s.model.SetTranspose(a, seed%100-50) })
	yield("SetRemap", func(t *testing.T) {
		s.model.SetRemap(a, tang.Remap{byte(seed % 128): {Note: 60, Detune: f}}, 0)
	})
	yield("AddLFO", func(t *testing.T) {
		s.model.AddModulator(a, tang.Modulator{Type: "lfo", Rate: 2, Targets: []tang.ModTarget{{Slot: slot, Param: "gain", Depth: 0.5}}})
	})
	yield("AddEnvelope", func(t *testing.T) {
		s.model.AddModulator(a, tang.Modulator{Type: "envelope", Attack: 0.01, Sustain: 0.5, Targets: []tang.ModTarget{{Param: "cutoff", Depth: 1}}})
	})
	yield("RemoveModulator", func(t *testing.T) { s.model.RemoveModulator(a, mod) })
	yield("AddRateTarget", func(t *testing.T) {
		other := (seed / 11) % 4
		s.model.AddTarget(a, mod, tang.ModTarget{ModRate: &other, Depth: 0.5})
	})
	yield("AddDepthTarget", func(t *testing.T) {
		s.model.AddTarget(a, mod, tang.ModTarget{ModDepth: []int{(seed / 11) % 4, 0}, Depth: 0.5})
	})
	yield("RemoveTarget", func(t *testing.T) { s.model.RemoveTarget(a, mod, seed%3) })
	yield("SetDepth", func(t *testing.T) { s.model.SetDepth(a, mod, 0, f) })
	yield("SetStage", func(t *testing.T) { s.model.SetStage(a, mod, "sustain", f) })
	yield("Record", func(t *testing.T) { s.model.Record(a, 0.01) })
	yield("SetPattern", func(t *testing.T) {
		p := tang.Pattern{BPM: 120, LengthBeats: 1, Enabled: seed%2 == 0, Events: []tang.PatternEvent{{Status: tang.StatusNoteOn, Note: 60, Velocity: 100}}}
		s.model.SetPattern(a, &p)
	})
	yield("TriggerPattern", func(t *testing.T) { s.model.TriggerPattern(a, byte(seed%128), seed%2 == 0) })
	yield("SwapPatterns", func(t *testing.T) { s.model.SwapPatterns(a, Addr{Keyboard: k}) })
	yield("SetBPM", func(t *testing.T) { s.model.SetBPM(float64(seed%200) - 20) })
	yield("Note", func(t *testing.T) { s.broker.PushMIDI(tang.NoteOn(byte(seed%16), byte(seed%128), 100)) })
}

func checkGraph(t *testing.T, g *Graph, s *tang.Session) {
	t.Helper()
	if len(g.Keyboards) != len(s.Keyboards) {
		t.Fatalf("%d live keyboards, %d in the session", len(g.Keyboards), len(s.Keyboards))
	}
	for k, kb := range s.Keyboards {
		gk := g.Keyboards[k]
		if gk.Channel != kb.Channel || len(gk.Splits) != len(kb.Splits) {
			t.Fatalf("keyboard %d differs from the session", k)
		}
		for i, sp := range kb.Splits {
			gs := gk.Splits[i]
			where := fmt.Sprintf("keyboard %d split %d", k, i)
			if len(gs.Effects) != len(sp.Effects) || len(gs.Modulators) != len(sp.Modulators) {
				t.Fatalf("%s: chain differs from the session", where)
			}
			if gs.Range != sp.NoteRange() || gs.Transpose != sp.Transpose {
				t.Fatalf("%s: range or transpose differs from the session", where)
			}
			if (gs.Pattern == nil) != (sp.Pattern == nil) {
				t.Fatalf("%s: pattern presence differs from the session", where)
			}
			for j, md := range sp.Modulators {
				live := gs.Modulators[j].Targets
				if len(live) != len(md.Targets) {
					t.Fatalf("%s: modulator %d has %d live targets, %d in the session", where, j, len(live), len(md.Targets))
				}
				for n, tg := range md.Targets {
					kind, mod := tg.Kind()
					if kind == "param" && live[n].Slot != tg.Slot || kind != "param" && live[n].Mod != mod {
						t.Fatalf("%s: modulator %d target %d differs from the session", where, j, n)
					}
				}
			}
		}
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("edited session does not validate: %v", err)
	}
}

func FuzzModel(f *testing.F) {
	f.Add([]byte{2, 14, 30, 44, 62, 80, 100, 120})
	f.Add([]byte{22, 32, 34, 36, 38, 40, 2, 4, 6, 8})
	f.Fuzz(func(t *testing.T, slice []byte) {
		reader := bytes.NewReader(slice)
		l := newTestLoader()
		broker := NewBroker()
		session := &tang.Session{Keyboards: []tang.Keyboard{{Splits: []tang.Split{{
			Instrument: tang.PluginSpec{Plugin: "synth"},
			Effects:    []tang.PluginSpec{{Plugin: "gain"}},
		}}}}}
		e, m, err := Build(session, l, broker, testOptions())
		if err != nil {
			t.Fatal(err)
		}
		state := modelFuzzState{model: m, broker: broker}
		count := 0
		state.Iterate(func(string, func(*testing.T)) bool {
			count++
			return true
		}, 0)
		buf := make(tang.AudioBuffer, 100)
		path := ""
		for n, err := binary.ReadVarint(reader); err == nil; n, err = binary.ReadVarint(reader) {
			seed := int(n & 0x7fffffff)
			index := seed % count
			state.Iterate(func(name string, f func(*testing.T)) bool {
				if index == 0 {
					path += name + ". "
					f(t)
				}
				index--
				return index >= 0
			}, seed)
			e.Process(buf)
			for _, msg := range drain(broker) {
				if msg.Kind == MsgRejected {
					t.Errorf("Path: %s edit %s rejected by the engine: %v", path, commandName(msg.Command), msg.Err)
				}
				m.handle(msg)
			}
		}
		checkGraph(t, e.graph, m.session)
		m.Close()
		e.Close()
	})
}
