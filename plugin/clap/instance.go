//go:build darwin || linux

package clap

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
)

// Plugin is one instantiated CLAP plugin.
type Plugin struct {
	name       string
	id         string
	instrument bool
	events     bool
	bundle     *bundle
	plugin     uintptr
	fn         *clapPlugin
	state      *hostState
	pinner     runtime.Pinner

	params    []tang.ParamInfo
	ids       []uint32
	values    []float64
	pending   []bool
	paramsExt *pluginParams
	presetExt *pluginPresetLoad
	presets   []tang.Preset

	inPorts  []audioBuffer
	outPorts []audioBuffer
	inBufs   [][]float32
	outBufs  [][]float32
	inPtrs   []uintptr
	outPtrs  []uintptr
	list     *eventList
	proc     process
	maxBlock int

	active     bool
	processing bool
}

var (
	errProcess  = errors.New("process returned an error status")
	errTooLarge = errors.New("buffer larger than the activated block size")
	errNoStart  = errors.New("plugin refused to start processing")
)

// create instantiates and initializes a plugin without activating it.
func create(b *bundle, d descriptorInfo, opts plugin.Options) (*Plugin, error) {
	p := &Plugin{
		name:       d.Name,
		id:         d.ID,
		instrument: d.isInstrument(),
		bundle:     b,
		maxBlock:   max(opts.MaxBlock, 1),
	}
	p.state = newHostState(opts.Logger, &p.pinner)
	cid := cString(d.ID)
	h, _, _ := purego.SyscallN(b.factory.createPlugin, ptr(b.factory), ptr(&p.state.host), uintptr(unsafe.Pointer(&cid[0])))
	if h == 0 {
		p.pinner.Unpin()
		return nil, fmt.Errorf("factory could not create %q", d.ID)
	}
	p.plugin = h
	p.fn = at[clapPlugin](h)
	if r, _, _ := purego.SyscallN(p.fn.init, h); byte(r) == 0 {
		purego.SyscallN(p.fn.destroy, h)
		p.pinner.Unpin()
		return nil, fmt.Errorf("%q failed to initialize", d.ID)
	}
	p.queryParams()
	if e := p.extension(extPresetLoad); e != 0 {
		p.presetExt = at[pluginPresetLoad](e)
	} else if e := p.extension(extPresetLoadDraft); e != 0 {
		p.presetExt = at[pluginPresetLoad](e)
	}
	p.presets = presetFiles(opts.PresetPaths.CLAP, d.ID)
	return p, nil
}

// activate allocates the process buffers and activates the plugin for the
// host's sample rate and block size.
func (p *Plugin) activate(sampleRate float64) error {
	ins := p.ports(true)
	outs := p.ports(false)
	if outs == nil {
		outs = []uint32{2}
	}
	p.inBufs, p.inPtrs, p.inPorts = p.buffers(ins)
	p.outBufs, p.outPtrs, p.outPorts = p.buffers(outs)
	if np := p.extension(extNotePorts); np != 0 {
		n, _, _ := purego.SyscallN(at[pluginNotePorts](np).count, p.plugin, 1)
		p.events = uint32(n) > 0
	} else {
		p.events = p.instrument
	}
	p.list = newEventList(2*1024, len(p.params), &p.pinner)
	p.proc = process{
		audioInputsCount:  uint32(len(p.inPorts)),
		audioOutputsCount: uint32(len(p.outPorts)),
		inEvents:          ptr(&p.list.in),
		outEvents:         ptr(&p.list.out),
	}
	if len(p.inPorts) > 0 {
		p.proc.audioInputs = ptr(&p.inPorts[0])
	}
	if len(p.outPorts) > 0 {
		p.proc.audioOutputs = ptr(&p.outPorts[0])
	}
	p.pinner.Pin(p)
	var activate func(plugin uintptr, sampleRate float64, minFrames, maxFrames uint32) bool
	purego.RegisterFunc(&activate, p.fn.activate)
	if !activate(p.plugin, sampleRate, 1, uint32(p.maxBlock)) {
		return errors.New("plugin refused to activate")
	}
	p.active = true
	return nil
}

func (p *Plugin) extension(id string) uintptr {
	cid := cString(id)
	r, _, _ := purego.SyscallN(p.fn.getExtension, p.plugin, uintptr(unsafe.Pointer(&cid[0])))
	return r
}

// ports returns the channel count of every audio port, or nil if the plugin
// has no audio-ports extension.
func (p *Plugin) ports(input bool) []uint32 {
	e := p.extension(extAudioPorts)
	if e == 0 {
		return nil
	}
	ext := at[pluginAudioPorts](e)
	in := uintptr(0)
	if input {
		in = 1
	}
	n, _, _ := purego.SyscallN(ext.count, p.plugin, in)
	ret := make([]uint32, 0, uint32(n))
	var info audioPortInfo
	for i := uint32(0); i < uint32(n); i++ {
		if r, _, _ := purego.SyscallN(ext.get, p.plugin, uintptr(i), in, uintptr(unsafe.Pointer(&info))); byte(r) == 0 {
			continue
		}
		ret = append(ret, info.channelCount)
	}
	return ret
}

func (p *Plugin) buffers(ports []uint32) (bufs [][]float32, ptrs []uintptr, ret []audioBuffer) {
	total := 0
	for _, c := range ports {
		total += int(c)
	}
	bufs = make([][]float32, total)
	ptrs = make([]uintptr, max(total, 1))
	for i := range bufs {
		bufs[i] = make([]float32, p.maxBlock)
		p.pinner.Pin(&bufs[i][0])
		ptrs[i] = ptr(&bufs[i][0])
	}
	p.pinner.Pin(&ptrs[0])
	ret = make([]audioBuffer, len(ports))
	ch := 0
	for i, c := range ports {
		ret[i] = audioBuffer{data32: ptr(&ptrs[min(ch, len(ptrs)-1)]), channelCount: c}
		ch += int(c)
	}
	if len(ret) > 0 {
		p.pinner.Pin(&ret[0])
	}
	return bufs, ptrs, ret
}

func (p *Plugin) queryParams() {
	e := p.extension(extParams)
	if e == 0 {
		return
	}
	p.paramsExt = at[pluginParams](e)
	n, _, _ := purego.SyscallN(p.paramsExt.count, p.plugin)
	var info paramInfo
	for i := uint32(0); i < uint32(n); i++ {
		if r, _, _ := purego.SyscallN(p.paramsExt.getInfo, p.plugin, uintptr(i), uintptr(unsafe.Pointer(&info))); byte(r) == 0 {
			continue
		}
		p.params = append(p.params, tang.ParamInfo{
			Index:   len(p.params),
			Name:    fixedString(info.name[:]),
			Min:     float32(info.minValue),
			Max:     float32(info.maxValue),
			Default: float32(info.defaultValue),
		})
		p.ids = append(p.ids, info.id)
		p.values = append(p.values, info.defaultValue)
	}
	p.pending = make([]bool, len(p.params))
	p.refresh()
}

// refresh reads the current parameter values back from the plugin.
func (p *Plugin) refresh() {
	if p.paramsExt == nil {
		return
	}
	var v float64
	for i, id := range p.ids {
		if r, _, _ := purego.SyscallN(p.paramsExt.getValue, p.plugin, uintptr(id), uintptr(unsafe.Pointer(&v))); byte(r) != 0 {
			p.values[i] = v
		}
		p.pending[i] = false
	}
}

func (p *Plugin) Name() string             { return p.name }
func (p *Plugin) ID() string               { return p.id }
func (p *Plugin) IsInstrument() bool       { return p.instrument }
func (p *Plugin) AudioInputs() int         { return len(p.inBufs) }
func (p *Plugin) AudioOutputs() int        { return len(p.outBufs) }
func (p *Plugin) AcceptsEvents() bool      { return p.events }
func (p *Plugin) Params() []tang.ParamInfo { return p.params }
func (p *Plugin) Presets() []tang.Preset   { return p.presets }

func (p *Plugin) Param(index int) (float32, bool) {
	if index < 0 || index >= len(p.values) {
		return 0, false
	}
	return float32(p.values[index]), true
}

// SetParam queues the value; it reaches the plugin as a param value event
// at the start of the next processed block.
func (p *Plugin) SetParam(index int, value float32) error {
	if index < 0 || index >= len(p.values) {
		return fmt.Errorf("no parameter with index %d", index)
	}
	p.values[index] = float64(value)
	p.pending[index] = true
	return nil
}

// LoadPreset loads a preset file through the preset-load extension. id is
// the path of the file.
func (p *Plugin) LoadPreset(id string) error {
	if p.presetExt == nil {
		return fmt.Errorf("preset loading: %w", tang.ErrNotSupported)
	}
	loc := cString(id)
	r, _, _ := purego.SyscallN(p.presetExt.fromLocation, p.plugin, presetLocationFile, uintptr(unsafe.Pointer(&loc[0])), 0)
	if byte(r) == 0 {
		return fmt.Errorf("plugin could not load preset %s", id)
	}
	p.refresh()
	return nil
}

func (p *Plugin) Process(events []tang.MIDIEvent, in, out [][]float32) error {
	if len(out) == 0 && len(in) == 0 {
		return nil
	}
	var frames int
	if len(out) > 0 {
		frames = len(out[0])
	} else {
		frames = len(in[0])
	}
	if frames == 0 {
		return nil
	}
	if frames > p.maxBlock {
		return errTooLarge
	}
	if !p.processing {
		if r, _, _ := purego.SyscallN(p.fn.startProcessing, p.plugin); byte(r) == 0 {
			return errNoStart
		}
		p.processing = true
	}
	p.list.reset()
	for i, ok := range p.pending {
		if ok {
			p.list.addParam(p.ids[i], p.values[i])
			p.pending[i] = false
		}
	}
	for _, e := range events {
		t := min(max(e.Frame, 0), frames-1)
		p.list.addMIDI(uint32(t), e.Data)
	}
	for ch, buf := range p.inBufs {
		if ch < len(in) {
			copy(buf[:frames], in[ch])
		} else {
			clear(buf[:frames])
		}
	}
	p.proc.framesCount = uint32(frames)
	status, _, _ := purego.SyscallN(p.fn.process, p.plugin, ptr(&p.proc))
	p.proc.steadyTime += int64(frames)
	if int32(status) == processError {
		return errProcess
	}
	for ch := range out {
		if ch < len(p.outBufs) {
			copy(out[ch], p.outBufs[ch][:frames])
		} else {
			clear(out[ch])
		}
	}
	return nil
}

func (p *Plugin) Close() error {
	if p.plugin == 0 {
		return nil
	}
	if p.processing {
		purego.SyscallN(p.fn.stopProcessing, p.plugin)
		p.processing = false
	}
	if p.active {
		purego.SyscallN(p.fn.deactivate, p.plugin)
		p.active = false
	}
	purego.SyscallN(p.fn.destroy, p.plugin)
	p.plugin = 0
	p.pinner.Unpin()
	p.bundle.release()
	return nil
}
