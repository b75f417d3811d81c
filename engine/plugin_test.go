package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tangaudio/tang"
)

// testPlugin outputs a constant level, or when gain is set, its input scaled
// by parameter 0. It records the events it was given.
type testPlugin struct {
	name       string
	instrument bool
	inputs     int
	outputs    int
	params     []tang.ParamInfo
	values     []float32
	presets    []tang.Preset
	level      float32
	gain       bool
	fail       error
	panics     bool
	events     []tang.MIDIEvent
	closed     bool
}

func newTestInstrument(name string) *testPlugin {
	return &testPlugin{
		name:       name,
		instrument: true,
		outputs:    2,
		params:     []tang.ParamInfo{{Index: 0, Name: "cutoff", Min: 0, Max: 1, Default: 0.5}},
		values:     []float32{0.5},
		presets:    []tang.Preset{{Name: "Bright", ID: "1"}, {Name: "Dark", ID: "0"}},
		level:      0.25,
	}
}

func newTestEffect(name string, channels int) *testPlugin {
	return &testPlugin{
		name:    name,
		inputs:  channels,
		outputs: channels,
		params:  []tang.ParamInfo{{Index: 0, Name: "gain", Min: 0, Max: 2, Default: 1}},
		values:  []float32{1},
		gain:    true,
	}
}

func (p *testPlugin) Name() string             { return p.name }
func (p *testPlugin) IsInstrument() bool       { return p.instrument }
func (p *testPlugin) AudioInputs() int         { return p.inputs }
func (p *testPlugin) AudioOutputs() int        { return p.outputs }
func (p *testPlugin) AcceptsEvents() bool      { return true }
func (p *testPlugin) Params() []tang.ParamInfo { return p.params }
func (p *testPlugin) Presets() []tang.Preset   { return p.presets }

func (p *testPlugin) Param(index int) (float32, bool) {
	if index < 0 || index >= len(p.values) {
		return 0, false
	}
	return p.values[index], true
}

func (p *testPlugin) SetParam(index int, value float32) error {
	if index < 0 || index >= len(p.values) {
		return fmt.Errorf("no parameter %d", index)
	}
	p.values[index] = value
	return nil
}

func (p *testPlugin) LoadPreset(id string) error {
	switch id {
	case "0":
		p.values[0] = 0
	case "1":
		p.values[0] = 1
	default:
		return errors.New("no such preset")
	}
	return nil
}

func (p *testPlugin) Process(events []tang.MIDIEvent, in, out [][]float32) error {
	if p.panics {
		panic("test plugin panic")
	}
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, events...)
	for ch := range out {
		for i := range out[ch] {
			switch {
			case p.gain && ch < len(in):
				out[ch][i] = in[ch][i] * p.values[0]
			case p.gain:
				out[ch][i] = 0
			default:
				out[ch][i] = p.level
			}
		}
	}
	return nil
}

func (p *testPlugin) Close() error {
	p.closed = true
	return nil
}

// testLoader creates plugins by source name and remembers every instance.
type testLoader struct {
	factories map[string]func() *testPlugin
	loaded    []*testPlugin
}

func newTestLoader() *testLoader {
	return &testLoader{factories: map[string]func() *testPlugin{
		"synth":  func() *testPlugin { return newTestInstrument("synth") },
		"low":    func() *testPlugin { return newTestInstrument("low") },
		"high":   func() *testPlugin { return newTestInstrument("high") },
		"mono":   newMono,
		"gain":   func() *testPlugin { return newTestEffect("gain", 2) },
		"gain1":  func() *testPlugin { return newTestEffect("gain1", 1) },
		"quad":   func() *testPlugin { return newTestEffect("quad", 4) },
		"broken": newBroken,
		"panics": newPanicking,
	}}
}

func newMono() *testPlugin {
	p := newTestInstrument("mono")
	p.outputs = 1
	return p
}

func newBroken() *testPlugin {
	p := newTestInstrument("broken")
	p.fail = errors.New("out of cheese")
	return p
}

func newPanicking() *testPlugin {
	p := newTestInstrument("panics")
	p.panics = true
	return p
}

func (l *testLoader) Load(source string) (tang.Plugin, error) {
	f, ok := l.factories[source]
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q", source)
	}
	p := f()
	l.loaded = append(l.loaded, p)
	return p, nil
}

// last returns the most recently loaded instance called name.
func (l *testLoader) last(name string) *testPlugin {
	for i := len(l.loaded) - 1; i >= 0; i-- {
		if l.loaded[i].name == name {
			return l.loaded[i]
		}
	}
	return nil
}

func testOptions() Options {
	return Options{SampleRate: 48000, MaxBlock: 64, Logger: tang.DiscardLogger()}
}

func buildTest(t *testing.T, s *tang.Session, l *testLoader) (*Engine, *Model, *Broker) {
	t.Helper()
	b := NewBroker()
	e, m, err := Build(s, l, b, testOptions())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		m.Close()
		e.Close()
	})
	return e, m, b
}

func oneSplit(sp tang.Split) *tang.Session {
	return &tang.Session{Keyboards: []tang.Keyboard{{Splits: []tang.Split{sp}}}}
}

func noteOns(events []tang.MIDIEvent) []byte {
	var ret []byte
	for _, e := range events {
		if e.IsNoteOn() {
			ret = append(ret, e.Note())
		}
	}
	return ret
}

func count(events []tang.MIDIEvent, kind byte) int {
	n := 0
	for _, e := range events {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}
