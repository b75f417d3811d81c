//go:build darwin || linux

package lv2

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/tangaudio/tang"
)

// Plugin is one instantiated LV2 plugin.
type Plugin struct {
	desc     *Description
	lib      uintptr
	fn       *descriptor
	handle   uintptr
	pinner   runtime.Pinner
	maxBlock int
	params   []tang.ParamInfo

	controls  []float32 // by port index
	isParam   []bool
	audioIn   [][]float32
	audioOut  [][]float32
	cv        []float32
	midiIn    *sequence
	atomIn    []*sequence
	atomOut   []*sequence
	seqType   uint32
	chunkType uint32
	midiType  uint32

	// memory handed to instantiate
	features []uintptr
	cstrs    [][]byte
	mapData  uridMap
	unmap    uridUnmap
	options  []option
	optVals  []int32
	rate     float32
}

var errTooLarge = errors.New("buffer larger than the maximum block size")

func instantiate(d *Description, sampleRate float64, maxBlock int) (*Plugin, error) {
	if un := d.Unsupported(); len(un) > 0 {
		return nil, fmt.Errorf("requires %v: %w", un, tang.ErrNotSupported)
	}
	if d.Binary == "" {
		return nil, errors.New("plugin has no lv2:binary")
	}
	registerCallbacks()
	lib, err := purego.Dlopen(d.Binary, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen: %w", err)
	}
	p := &Plugin{
		desc:      d,
		lib:       lib,
		maxBlock:  max(maxBlock, 1),
		params:    d.Params(),
		seqType:   urid(atomSequence),
		chunkType: urid(atomChunk),
		midiType:  urid(midiEvent),
		rate:      float32(sampleRate),
	}
	if err := p.findDescriptor(); err != nil {
		purego.Dlclose(lib)
		return nil, err
	}
	p.pinner.Pin(p)
	features := p.buildFeatures()
	bundle := cString(filepath.Clean(d.Bundle) + string(filepath.Separator))
	var inst func(desc uintptr, rate float64, bundle uintptr, features uintptr) uintptr
	purego.RegisterFunc(&inst, p.fn.instantiate)
	p.handle = inst(uintptr(unsafe.Pointer(p.fn)), sampleRate, uintptr(unsafe.Pointer(&bundle[0])), features)
	runtime.KeepAlive(bundle)
	if p.handle == 0 {
		p.pinner.Unpin()
		purego.Dlclose(lib)
		return nil, errors.New("instantiate failed")
	}
	p.connect()
	if p.fn.activate != 0 {
		purego.SyscallN(p.fn.activate, p.handle)
	}
	return p, nil
}

func (p *Plugin) findDescriptor() error {
	sym, err := purego.Dlsym(p.lib, descriptorSymbol)
	if err != nil {
		return fmt.Errorf("not an LV2 library: %w", err)
	}
	for i := uintptr(0); ; i++ {
		d, _, _ := purego.SyscallN(sym, i)
		if d == 0 {
			return fmt.Errorf("%s does not contain %s", p.desc.Binary, p.desc.URI)
		}
		desc := (*descriptor)(unsafe.Pointer(d))
		if goString(desc.uri) == p.desc.URI {
			p.fn = desc
			return nil
		}
	}
}

func (p *Plugin) cstr(s string) uintptr {
	b := cString(s)
	p.pinner.Pin(&b[0])
	p.cstrs = append(p.cstrs, b)
	return uintptr(unsafe.Pointer(&b[0]))
}

// buildFeatures returns the NULL terminated LV2_Feature array: URID map and
// unmap, bounded block length and options with the block size and sample
// rate.
func (p *Plugin) buildFeatures() uintptr {
	p.mapData = uridMap{mapURI: urids.mapCB}
	p.unmap = uridUnmap{unmap: urids.unmapCB}
	p.optVals = []int32{1, int32(p.maxBlock)}
	p.pinner.Pin(&p.optVals[0])
	intType, floatType := urid(atomInt), urid(atomFloat)
	p.options = []option{
		{key: urid(minBlockLength), size: 4, typ: intType, value: uintptr(unsafe.Pointer(&p.optVals[0]))},
		{key: urid(maxBlockLength), size: 4, typ: intType, value: uintptr(unsafe.Pointer(&p.optVals[1]))},
		{key: urid(paramRate), size: 4, typ: floatType, value: uintptr(unsafe.Pointer(&p.rate))},
		{},
	}
	p.pinner.Pin(&p.options[0])
	fs := []feature{
		{uri: p.cstr(uridNS + "map"), data: uintptr(unsafe.Pointer(&p.mapData))},
		{uri: p.cstr(uridNS + "unmap"), data: uintptr(unsafe.Pointer(&p.unmap))},
		{uri: p.cstr(bufSizeNS + "boundedBlockLength")},
		{uri: p.cstr(optionsNS + "options"), data: uintptr(unsafe.Pointer(&p.options[0]))},
	}
	p.pinner.Pin(&fs[0])
	p.features = make([]uintptr, len(fs)+1)
	for i := range fs {
		p.features[i] = uintptr(unsafe.Pointer(&fs[i]))
	}
	p.pinner.Pin(&p.features[0])
	runtime.KeepAlive(fs)
	return uintptr(unsafe.Pointer(&p.features[0]))
}

func (p *Plugin) buffer(n int) []float32 {
	b := make([]float32, n)
	p.pinner.Pin(&b[0])
	return b
}

// connect allocates a buffer for every port and connects it. The
// connections stay fixed; Process copies audio in and out.
func (p *Plugin) connect() {
	ports := p.desc.Ports
	n := 0
	for _, pt := range ports {
		n = max(n, pt.Index+1)
	}
	p.controls = p.buffer(max(n, 1))
	p.isParam = make([]bool, n)
	p.cv = p.buffer(p.maxBlock)
	for _, pt := range ports {
		var data uintptr
		switch pt.Kind {
		case ControlPort:
			p.controls[pt.Index] = pt.Default
			p.isParam[pt.Index] = pt.Input
			data = uintptr(unsafe.Pointer(&p.controls[pt.Index]))
		case AudioPort:
			b := p.buffer(p.maxBlock)
			if pt.Input {
				p.audioIn = append(p.audioIn, b)
			} else {
				p.audioOut = append(p.audioOut, b)
			}
			data = uintptr(unsafe.Pointer(&b[0]))
		case AtomPort:
			s := newSequence()
			p.pinner.Pin(&s.words[0])
			if pt.Input {
				s.reset(p.seqType)
				if pt.MIDI && p.midiIn == nil {
					p.midiIn = s
				}
				p.atomIn = append(p.atomIn, s)
			} else {
				s.chunk(p.chunkType)
				p.atomOut = append(p.atomOut, s)
			}
			data = uintptr(unsafe.Pointer(&s.words[0]))
		default:
			data = uintptr(unsafe.Pointer(&p.cv[0]))
		}
		purego.SyscallN(p.fn.connectPort, p.handle, uintptr(pt.Index), data)
	}
}

func (p *Plugin) Name() string             { return p.desc.Name }
func (p *Plugin) URI() string              { return p.desc.URI }
func (p *Plugin) IsInstrument() bool       { return p.desc.Instrument }
func (p *Plugin) AudioInputs() int         { return len(p.audioIn) }
func (p *Plugin) AudioOutputs() int        { return len(p.audioOut) }
func (p *Plugin) AcceptsEvents() bool      { return p.midiIn != nil }
func (p *Plugin) Params() []tang.ParamInfo { return p.params }
func (p *Plugin) Presets() []tang.Preset   { return p.desc.Presets }

func (p *Plugin) Param(index int) (float32, bool) {
	if index < 0 || index >= len(p.isParam) || !p.isParam[index] {
		return 0, false
	}
	return p.controls[index], true
}

func (p *Plugin) SetParam(index int, value float32) error {
	if index < 0 || index >= len(p.isParam) || !p.isParam[index] {
		return fmt.Errorf("no control input port with index %d", index)
	}
	p.controls[index] = value
	return nil
}

// LoadPreset sets the control ports stored in the preset with URI id.
func (p *Plugin) LoadPreset(id string) error {
	values, ok := p.desc.values[id]
	if !ok {
		return fmt.Errorf("no preset %s", id)
	}
	for _, pt := range p.desc.Ports {
		if v, ok := values[pt.Symbol]; ok && p.isParam[pt.Index] {
			p.controls[pt.Index] = v
		}
	}
	return nil
}

func (p *Plugin) Process(events []tang.MIDIEvent, in, out [][]float32) error {
	var frames int
	switch {
	case len(out) > 0:
		frames = len(out[0])
	case len(in) > 0:
		frames = len(in[0])
	}
	if frames == 0 {
		return nil
	}
	if frames > p.maxBlock {
		return errTooLarge
	}
	for _, s := range p.atomIn {
		s.reset(p.seqType)
	}
	for _, s := range p.atomOut {
		s.chunk(p.chunkType)
	}
	if p.midiIn != nil {
		for _, e := range events {
			p.midiIn.add(min(max(e.Frame, 0), frames-1), e.Data, p.midiType)
		}
	}
	for ch, buf := range p.audioIn {
		if ch < len(in) {
			copy(buf[:frames], in[ch])
		} else {
			clear(buf[:frames])
		}
	}
	purego.SyscallN(p.fn.run, p.handle, uintptr(frames))
	for ch := range out {
		if ch < len(p.audioOut) {
			copy(out[ch], p.audioOut[ch][:frames])
		} else {
			clear(out[ch])
		}
	}
	return nil
}

func (p *Plugin) Close() error {
	if p.handle == 0 {
		return nil
	}
	if p.fn.deactivate != 0 {
		purego.SyscallN(p.fn.deactivate, p.handle)
	}
	purego.SyscallN(p.fn.cleanup, p.handle)
	p.handle = 0
	p.pinner.Unpin()
	return purego.Dlclose(p.lib)
}
