//go:build darwin || linux

package clap

import (
	"unsafe"
)

// The structs below mirror the CLAP 1.x C ABI on 64-bit platforms. Pointers
// are kept as uintptr: the memory behind them is either owned by the plugin
// or pinned by the instance that handed it out.

type clapVersion struct {
	major, minor, revision uint32
}

var hostVersion = clapVersion{1, 2, 0}

type entry struct {
	version    clapVersion
	init       uintptr
	deinit     uintptr
	getFactory uintptr
}

type factory struct {
	getPluginCount      uintptr
	getPluginDescriptor uintptr
	createPlugin        uintptr
}

type descriptor struct {
	version     clapVersion
	id          uintptr
	name        uintptr
	vendor      uintptr
	url         uintptr
	manualURL   uintptr
	supportURL  uintptr
	pluginVer   uintptr
	description uintptr
	features    uintptr
}

type host struct {
	version         clapVersion
	hostData        uintptr
	name            uintptr
	vendor          uintptr
	url             uintptr
	hostVersion     uintptr
	getExtension    uintptr
	requestRestart  uintptr
	requestProcess  uintptr
	requestCallback uintptr
}

type clapPlugin struct {
	desc            uintptr
	pluginData      uintptr
	init            uintptr
	destroy         uintptr
	activate        uintptr
	deactivate      uintptr
	startProcessing uintptr
	stopProcessing  uintptr
	reset           uintptr
	process         uintptr
	getExtension    uintptr
	onMainThread    uintptr
}

type process struct {
	steadyTime        int64
	framesCount       uint32
	transport         uintptr
	audioInputs       uintptr
	audioOutputs      uintptr
	audioInputsCount  uint32
	audioOutputsCount uint32
	inEvents          uintptr
	outEvents         uintptr
}

type audioBuffer struct {
	data32       uintptr
	data64       uintptr
	channelCount uint32
	latency      uint32
	constantMask uint64
}

type inputEvents struct {
	ctx  uintptr
	size uintptr
	get  uintptr
}

type outputEvents struct {
	ctx     uintptr
	tryPush uintptr
}

type eventHeader struct {
	size    uint32
	time    uint32
	spaceID uint16
	typ     uint16
	flags   uint32
}

type eventMIDI struct {
	header    eventHeader
	portIndex uint16
	data      [3]byte
}

type eventParamValue struct {
	header    eventHeader
	paramID   uint32
	cookie    uintptr
	noteID    int32
	portIndex int16
	channel   int16
	key       int16
	value     float64
}

type audioPortInfo struct {
	id           uint32
	name         [256]byte
	flags        uint32
	channelCount uint32
	portType     uintptr
	inPlacePair  uint32
}

type paramInfo struct {
	id           uint32
	flags        uint32
	cookie       uintptr
	name         [256]byte
	module       [1024]byte
	minValue     float64
	maxValue     float64
	defaultValue float64
}

type pluginAudioPorts struct {
	count uintptr
	get   uintptr
}

type pluginNotePorts struct {
	count uintptr
	get   uintptr
}

type pluginParams struct {
	count       uintptr
	getInfo     uintptr
	getValue    uintptr
	valueToText uintptr
	textToValue uintptr
	flush       uintptr
}

type pluginPresetLoad struct {
	fromLocation uintptr
}

type hostLog struct {
	log uintptr
}

type hostParams struct {
	rescan       uintptr
	clear        uintptr
	requestFlush uintptr
}

const (
	entrySymbol = "clap_entry"

	pluginFactoryID = "clap.plugin-factory"

	extAudioPorts      = "clap.audio-ports"
	extNotePorts       = "clap.note-ports"
	extParams          = "clap.params"
	extPresetLoad      = "clap.preset-load"
	extPresetLoadDraft = "clap.preset-load.draft/2"
	extLog             = "clap.log"

	featureInstrument = "instrument"

	coreEventSpace       = 0
	eventParamValueType  = 5
	eventMIDIType        = 10
	processError         = 0
	presetLocationFile   = 0
	unspecifiedNoteIndex = -1

	logWarning           = 2
	logError             = 3
	logFatal             = 4
	logHostMisbehaving   = 5
	logPluginMisbehaving = 6
)

// cString returns a NUL terminated copy of s. The caller pins or keeps the
// slice alive for as long as the plugin may read it.
func cString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// goString copies the NUL terminated string at p.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}

// fixedString trims a fixed size char array at the first NUL.
func fixedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// stringList reads a NULL terminated array of C strings.
func stringList(p uintptr) []string {
	if p == 0 {
		return nil
	}
	var ret []string
	for i := 0; ; i++ {
		s := *(*uintptr)(unsafe.Add(unsafe.Pointer(p), i*int(unsafe.Sizeof(uintptr(0)))))
		if s == 0 {
			return ret
		}
		ret = append(ret, goString(s))
	}
}

func ptr[T any](v *T) uintptr { return uintptr(unsafe.Pointer(v)) }

func at[T any](p uintptr) *T { return (*T)(unsafe.Pointer(p)) }

const (
	sizeofMIDI       = unsafe.Sizeof(eventMIDI{})
	sizeofParamValue = unsafe.Sizeof(eventParamValue{})
)
