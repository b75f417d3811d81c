package builtin

import (
	"github.com/tangaudio/tang"
	"github.com/viterin/vek/vek32"
)

// gain scales a stereo signal.
type gain struct{ params }

func newGain() *gain {
	g := &gain{params: newParams(tang.ParamInfo{Index: 0, Name: "gain", Min: 0, Max: 2, Default: 1})}
	g.presets = []preset{{name: "Unity", values: []float32{1}}, {name: "Half", values: []float32{0.5}}}
	return g
}

func (g *gain) Name() string       { return "Gain" }
func (g *gain) IsInstrument() bool { return false }
func (g *gain) AudioInputs() int   { return 2 }
func (g *gain) AudioOutputs() int  { return 2 }

func (g *gain) Process(_ []tang.MIDIEvent, in, out [][]float32) error {
	for ch := range out {
		if ch < len(in) {
			vek32.MulNumber_Into(out[ch], in[ch], g.values[0])
		} else {
			vek32.Zeros_Into(out[ch], len(out[ch]))
		}
	}
	return nil
}

// pan is a stereo balance control: -1 is left only, 1 is right only.
type pan struct{ params }

func newPan() *pan {
	return &pan{params: newParams(tang.ParamInfo{Index: 0, Name: "balance", Min: -1, Max: 1, Default: 0})}
}

func (p *pan) Name() string       { return "Pan" }
func (p *pan) IsInstrument() bool { return false }
func (p *pan) AudioInputs() int   { return 2 }
func (p *pan) AudioOutputs() int  { return 2 }

func (p *pan) Process(_ []tang.MIDIEvent, in, out [][]float32) error {
	b := p.values[0]
	gains := [2]float32{1, 1}
	if b > 0 {
		gains[0] = 1 - b
	} else {
		gains[1] = 1 + b
	}
	for ch := range out {
		if ch < len(in) && ch < 2 {
			vek32.MulNumber_Into(out[ch], in[ch], gains[ch])
		} else {
			vek32.Zeros_Into(out[ch], len(out[ch]))
		}
	}
	return nil
}
