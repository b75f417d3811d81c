//go:build darwin || linux

package clap

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/tangaudio/tang/version"
)

// hostState is what a plugin sees as its clap_host. It is pinned for the
// lifetime of the instance; host.hostData points back at it.
type hostState struct {
	host    host
	log     hostLog
	params  hostParams
	logger  *slog.Logger
	strings [][]byte
}

// callbacks are created once per process: purego cannot free them.
var callbacks struct {
	once         sync.Once
	getExtension uintptr
	request      uintptr
	log          uintptr
	rescan       uintptr
	clear        uintptr
	requestFlush uintptr
	eventsSize   uintptr
	eventsGet    uintptr
	tryPush      uintptr
}

func registerCallbacks() {
	callbacks.once.Do(func() {
		callbacks.getExtension = purego.NewCallback(hostGetExtension)
		callbacks.request = purego.NewCallback(func(h uintptr) uintptr { return 0 })
		callbacks.log = purego.NewCallback(hostLogMessage)
		callbacks.rescan = purego.NewCallback(func(h, flags uintptr) uintptr { return 0 })
		callbacks.clear = purego.NewCallback(func(h, id, flags uintptr) uintptr { return 0 })
		callbacks.requestFlush = purego.NewCallback(func(h uintptr) uintptr { return 0 })
		callbacks.eventsSize = purego.NewCallback(eventsSize)
		callbacks.eventsGet = purego.NewCallback(eventsGet)
		callbacks.tryPush = purego.NewCallback(func(list, event uintptr) uintptr { return 1 })
	})
}

func newHostState(logger *slog.Logger, pinner *runtime.Pinner) *hostState {
	registerCallbacks()
	s := &hostState{logger: logger}
	str := func(v string) uintptr {
		b := cString(v)
		pinner.Pin(&b[0])
		s.strings = append(s.strings, b)
		return ptr(&b[0])
	}
	s.host = host{
		version:         hostVersion,
		name:            str("tang"),
		vendor:          str("tang"),
		url:             str("https://github.com/tangaudio/tang"),
		hostVersion:     str(version.String()),
		getExtension:    callbacks.getExtension,
		requestRestart:  callbacks.request,
		requestProcess:  callbacks.request,
		requestCallback: callbacks.request,
	}
	s.log = hostLog{log: callbacks.log}
	s.params = hostParams{rescan: callbacks.rescan, clear: callbacks.clear, requestFlush: callbacks.requestFlush}
	pinner.Pin(s)
	s.host.hostData = ptr(s)
	return s
}

func stateOf(h uintptr) *hostState {
	return at[hostState](at[host](h).hostData)
}

func hostGetExtension(h, id uintptr) uintptr {
	s := stateOf(h)
	switch goString(id) {
	case extLog:
		return ptr(&s.log)
	case extParams:
		return ptr(&s.params)
	}
	return 0
}

func hostLogMessage(h, severity, msg uintptr) uintptr {
	s := stateOf(h)
	text := goString(msg)
	switch int32(severity) {
	case logWarning:
		s.logger.Warn(text, "source", "clap")
	case logError, logFatal:
		s.logger.Error(text, "source", "clap")
	case logHostMisbehaving, logPluginMisbehaving:
		s.logger.Warn(text, "source", "clap", "misbehaving", true)
	default:
		s.logger.Debug(text, "source", "clap")
	}
	return 0
}

// eventList backs the clap_input_events handed to process. Storage is
// allocated once; a buffer with more events than fit drops the rest.
type eventList struct {
	in      inputEvents
	out     outputEvents
	headers []uintptr
	midi    []eventMIDI
	params  []eventParamValue
}

func newEventList(midi, params int, pinner *runtime.Pinner) *eventList {
	registerCallbacks()
	l := &eventList{
		headers: make([]uintptr, 0, midi+params),
		midi:    make([]eventMIDI, 0, midi),
		params:  make([]eventParamValue, 0, max(params, 1)),
	}
	pinner.Pin(l)
	pinner.Pin(&l.headers[:1][0])
	pinner.Pin(&l.midi[:1][0])
	pinner.Pin(&l.params[:1][0])
	l.in = inputEvents{ctx: ptr(l), size: callbacks.eventsSize, get: callbacks.eventsGet}
	l.out = outputEvents{ctx: ptr(l), tryPush: callbacks.tryPush}
	return l
}

func (l *eventList) reset() {
	l.headers = l.headers[:0]
	l.midi = l.midi[:0]
	l.params = l.params[:0]
}

func (l *eventList) addParam(id uint32, value float64) {
	if len(l.params) == cap(l.params) {
		return
	}
	l.params = append(l.params, eventParamValue{
		header:    eventHeader{size: uint32(sizeofParamValue), spaceID: coreEventSpace, typ: eventParamValueType},
		paramID:   id,
		noteID:    unspecifiedNoteIndex,
		portIndex: unspecifiedNoteIndex,
		channel:   unspecifiedNoteIndex,
		key:       unspecifiedNoteIndex,
		value:     value,
	})
	l.headers = append(l.headers, ptr(&l.params[len(l.params)-1]))
}

func (l *eventList) addMIDI(time uint32, data [3]byte) {
	if len(l.midi) == cap(l.midi) {
		return
	}
	l.midi = append(l.midi, eventMIDI{
		header: eventHeader{size: uint32(sizeofMIDI), time: time, spaceID: coreEventSpace, typ: eventMIDIType},
		data:   data,
	})
	l.headers = append(l.headers, ptr(&l.midi[len(l.midi)-1]))
}

func listOf(list uintptr) *eventList {
	return at[eventList](at[inputEvents](list).ctx)
}

func eventsSize(list uintptr) uintptr {
	return uintptr(len(listOf(list).headers))
}

func eventsGet(list, index uintptr) uintptr {
	l := listOf(list)
	i := int(uint32(index))
	if i >= len(l.headers) {
		return 0
	}
	return l.headers[i]
}
