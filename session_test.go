package tang_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tangaudio/tang"
	"gopkg.in/yaml.v3"
)

const sessionYAML = `
bpm: 120
keyboards:
  - name: main
    splits:
      - range: C-1..B3
        transpose: -12
        instrument:
          plugin: builtin:sine
          volume: 0.5
          params:
            gain: 0.3
            attack: 0.1
        effects:
          - plugin: builtin:gain
            mix: 0.25
        modulators:
          - type: lfo
            waveform: triangle
            rate: 2
            targets:
              - {slot: 1, param: gain, depth: 0.5}
          - type: envelope
            attack: 0.01
            decay: 0.2
            sustain: 0.5
            release: 0.3
            targets:
              - {mod_rate: 0, depth: 0.2}
      - range: C4..G9
        instrument:
          plugin: plugins/synth.clap
          remap:
            C4: {note: C4, detune: 1.0}
            D4: {note: C4, detune: -0.5}
            E4: {note: D4, detune: 1.0}
        pattern:
          bpm: 120
          length_beats: 4
          looping: true
          enabled: true
          base_note: C4
          events:
            - [0, 144, 60, 100]
            - [24000, 128, 60, 0]
`

func TestLoadSession(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	if err := os.WriteFile(path, []byte(sessionYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := tang.LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(s.Keyboards) != 1 || len(s.Keyboards[0].Splits) != 2 {
		t.Fatalf("unexpected session shape: %+v", s.Keyboards)
	}
	sp := s.Keyboards[0].Splits[0]
	if r := sp.NoteRange(); r.Low != 0 || r.High != 59 {
		t.Errorf("range = %v, want C-1..B3", r)
	}
	if len(sp.Instrument.Params) != 2 || sp.Instrument.Params[0].Name != "gain" || sp.Instrument.Params[1].Name != "attack" {
		t.Errorf("param overrides should keep file order, got %+v", sp.Instrument.Params)
	}
	if sp.Effects[0].MixOrDefault() != 0.25 || sp.Instrument.VolumeOrDefault() != 0.5 {
		t.Errorf("mix/volume not read")
	}
	second := s.Keyboards[0].Splits[1]
	if want := filepath.Join(dir, "plugins/synth.clap"); second.Instrument.Plugin != want {
		t.Errorf("plugin path = %q, want %q", second.Instrument.Plugin, want)
	}
	if len(second.Pattern.Events) != 2 || second.Pattern.Events[1].Frame != 24000 {
		t.Errorf("pattern events not read: %+v", second.Pattern.Events)
	}
	if got := second.Pattern.LengthFrames(48000); got != 96000 {
		t.Errorf("pattern length = %d frames, want 96000", got)
	}
}

func TestSessionRoundTripKeepsParamOrder(t *testing.T) {
	var s tang.Session
	if err := yaml.Unmarshal([]byte(sessionYAML), &s); err != nil {
		t.Fatal(err)
	}
	b, err := yaml.Marshal(&s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var s2 tang.Session
	if err := yaml.Unmarshal(b, &s2); err != nil {
		t.Fatalf("unmarshal of marshaled session failed: %v\n%s", err, b)
	}
	p := s2.Keyboards[0].Splits[0].Instrument.Params
	if len(p) != 2 || p[0].Name != "gain" || p[1].Name != "attack" {
		t.Errorf("param order lost: %+v", p)
	}
	if len(s2.Keyboards[0].Splits[1].Instrument.Remap) != 3 {
		t.Errorf("remap lost")
	}
}

func TestNormalizeLegacy(t *testing.T) {
	var s tang.Session
	legacy := "instrument:\n  plugin: builtin:sine\neffects:\n  - plugin: builtin:gain\n"
	if err := yaml.Unmarshal([]byte(legacy), &s); err != nil {
		t.Fatal(err)
	}
	s.Normalize()
	if s.Instrument != nil || s.Effects != nil {
		t.Errorf("legacy fields should be cleared")
	}
	if len(s.Keyboards) != 1 || len(s.Keyboards[0].Splits) != 1 {
		t.Fatalf("legacy session should become one keyboard with one split")
	}
	sp := s.Keyboards[0].Splits[0]
	if sp.NoteRange() != tang.FullRange || sp.Instrument.Plugin != "builtin:sine" || len(sp.Effects) != 1 {
		t.Errorf("unexpected split %+v", sp)
	}
}

func TestRemapChannels(t *testing.T) {
	r := tang.Remap{60: {Note: 60, Detune: 1.0}, 62: {Note: 60, Detune: -0.5}, 64: {Note: 62, Detune: 1.0}}
	a, err := r.Channels(2)
	if err != nil {
		t.Fatalf("Channels failed: %v", err)
	}
	if len(a) != 2 {
		t.Fatalf("want 2 channels, got %v", a)
	}
	// zero based channels 1 and 2 are MIDI channels 2 and 3
	if a[-0.5] != 1 || a[1.0] != 2 {
		t.Errorf("unexpected assignment %v", a)
	}
	for i := 0; i < 10; i++ {
		b, _ := r.Channels(2)
		for k, v := range a {
			if b[k] != v {
				t.Fatalf("assignment not deterministic: %v vs %v", a, b)
			}
		}
	}
	if _, err := r.Channels(0.75); err == nil {
		t.Errorf("detune beyond the pitch bend range should fail")
	}
	for _, d := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := (tang.Remap{60: {Note: 60, Detune: d}}).Channels(2); err == nil {
			t.Errorf("detune %v should fail", d)
		}
	}
	big := tang.Remap{}
	for i := 0; i < 16; i++ {
		big[byte(i)] = tang.RemapTarget{Note: 60, Detune: float64(i) / 10}
	}
	if _, err := big.Channels(2); err == nil {
		t.Errorf("16 distinct detunes should fail")
	}
}

func TestValidateRejects(t *testing.T) {
	self := 0
	cases := map[string]tang.Split{
		"self target": {
			Instrument: tang.PluginSpec{Plugin: "builtin:sine"},
			Modulators: []tang.Modulator{{Type: "lfo", Targets: []tang.ModTarget{{ModRate: &self, Depth: 0.5}}}},
		},
		"missing instrument": {},
		"bad mix": {
			Instrument: tang.PluginSpec{Plugin: "builtin:sine"},
			Effects:    []tang.PluginSpec{{Plugin: "builtin:gain", Mix: ptr(1.5)}},
		},
		"envelope depth": {
			Instrument: tang.PluginSpec{Plugin: "builtin:sine"},
			Modulators: []tang.Modulator{{Type: "envelope", Targets: []tang.ModTarget{{Param: "gain", Depth: -0.5}}}},
		},
		"nan detune": {
			Instrument: tang.PluginSpec{Plugin: "builtin:sine", Remap: tang.Remap{60: {Note: 62, Detune: math.NaN()}}},
		},
		"bad range": {
			Range:      &tang.NoteRange{Low: 70, High: 60},
			Instrument: tang.PluginSpec{Plugin: "builtin:sine"},
		},
	}
	for name, sp := range cases {
		s := tang.Session{Keyboards: []tang.Keyboard{{Splits: []tang.Split{sp}}}}
		err := s.Validate()
		var verr *tang.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: want ValidationError, got %v", name, err)
		}
	}
}

func ptr[T any](v T) *T { return &v }
