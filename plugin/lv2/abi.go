//go:build darwin || linux

package lv2

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

type descriptor struct {
	uri           uintptr
	instantiate   uintptr
	connectPort   uintptr
	activate      uintptr
	run           uintptr
	deactivate    uintptr
	cleanup       uintptr
	extensionData uintptr
}

type feature struct {
	uri  uintptr
	data uintptr
}

type uridMap struct {
	handle uintptr
	mapURI uintptr
}

type uridUnmap struct {
	handle uintptr
	unmap  uintptr
}

type option struct {
	context uint32
	subject uint32
	key     uint32
	size    uint32
	typ     uint32
	value   uintptr
}

const (
	descriptorSymbol = "lv2_descriptor"

	atomSequence = atomNS + "Sequence"
	atomChunk    = atomNS + "Chunk"
	atomInt      = atomNS + "Int"
	atomFloat    = atomNS + "Float"

	maxBlockLength = bufSizeNS + "maxBlockLength"
	minBlockLength = bufSizeNS + "minBlockLength"
	paramRate      = "http://lv2plug.in/ns/ext/parameters#sampleRate"

	// atomCapacity is the size in bytes of every atom port buffer.
	atomCapacity = 8192
	sizeofEvent  = 24 // frames, atom header and three bytes padded to 8
)

// urids maps URIs to the integers plugins know them by. The table is
// shared by all instances and grows for the lifetime of the process.
var urids = struct {
	sync.Mutex
	ids     map[string]uint32
	cstrs   [][]byte
	once    sync.Once
	mapCB   uintptr
	unmapCB uintptr
}{ids: map[string]uint32{}}

func urid(uri string) uint32 {
	urids.Lock()
	defer urids.Unlock()
	if id, ok := urids.ids[uri]; ok {
		return id
	}
	urids.cstrs = append(urids.cstrs, cString(uri))
	id := uint32(len(urids.cstrs))
	urids.ids[uri] = id
	return id
}

func unmapURID(id uint32) uintptr {
	urids.Lock()
	defer urids.Unlock()
	if id == 0 || int(id) > len(urids.cstrs) {
		return 0
	}
	return uintptr(unsafe.Pointer(&urids.cstrs[id-1][0]))
}

func registerCallbacks() {
	urids.once.Do(func() {
		urids.mapCB = purego.NewCallback(func(handle, uri uintptr) uintptr {
			return uintptr(urid(goString(uri)))
		})
		urids.unmapCB = purego.NewCallback(func(handle, id uintptr) uintptr {
			return unmapURID(uint32(id))
		})
	})
}

func cString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

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

// sequence is an 8 byte aligned atom buffer.
type sequence struct {
	words []uint64
	bytes []byte
}

func newSequence() *sequence {
	s := &sequence{words: make([]uint64, atomCapacity/8)}
	s.bytes = unsafe.Slice((*byte)(unsafe.Pointer(&s.words[0])), atomCapacity)
	return s
}

// reset makes the buffer an empty input sequence.
func (s *sequence) reset(seqType uint32) {
	binary.NativeEndian.PutUint32(s.bytes[0:], 8)
	binary.NativeEndian.PutUint32(s.bytes[4:], seqType)
	binary.NativeEndian.PutUint64(s.bytes[8:], 0)
}

// chunk makes the buffer an empty output chunk for the plugin to fill.
func (s *sequence) chunk(chunkType uint32) {
	binary.NativeEndian.PutUint32(s.bytes[0:], atomCapacity-8)
	binary.NativeEndian.PutUint32(s.bytes[4:], chunkType)
}

// add appends a MIDI event to a sequence. Events that do not fit are
// dropped.
func (s *sequence) add(frame int, data [3]byte, midiType uint32) {
	size := binary.NativeEndian.Uint32(s.bytes[0:])
	off := 8 + int(size)
	if off+sizeofEvent > len(s.bytes) {
		return
	}
	e := s.bytes[off : off+sizeofEvent]
	binary.NativeEndian.PutUint64(e[0:], uint64(int64(frame)))
	binary.NativeEndian.PutUint32(e[8:], 3)
	binary.NativeEndian.PutUint32(e[12:], midiType)
	copy(e[16:], data[:])
	clear(e[19:])
	binary.NativeEndian.PutUint32(s.bytes[0:], size+sizeofEvent)
}
