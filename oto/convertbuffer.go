package oto

import (
	"encoding/binary"
	"math"

	"github.com/tangaudio/tang"
)

// FloatBufferToFloat32LE appends the interleaved frames of buff to dst as
// 32-bit little-endian floats. With enough capacity in dst it does not
// allocate.
func FloatBufferToFloat32LE(buff tang.AudioBuffer, dst []byte) []byte {
	for _, frame := range buff {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(frame[0]))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(frame[1]))
	}
	return dst
}
