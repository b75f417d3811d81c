package oto

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/tangaudio/tang"
)

type (
	// OtoContext plays through the system default output. oto allows a
	// single context per process.
	OtoContext struct {
		context    *oto.Context
		sampleRate int
		bufferSize int
	}

	OtoStream struct {
		context *oto.Context
		player  *oto.Player
	}

	// renderReader pulls blocks of at most maxBlock frames from the render
	// callback and hands them to oto as Float32LE bytes.
	renderReader struct {
		render  func(tang.AudioBuffer)
		buffer  tang.AudioBuffer
		bytes   []byte
		pending []byte
	}
)

const bytesPerFrame = 8

// NewContext opens the default output device. bufferSize is the largest
// block, in frames, the render callback is asked for.
func NewContext(sampleRate, bufferSize int) (*OtoContext, error) {
	latency := time.Duration(bufferSize) * time.Second / time.Duration(sampleRate)
	context, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   2 * latency,
	})
	if err != nil {
		return nil, &tang.DeviceError{Device: "default", Err: fmt.Errorf("cannot create oto context: %w", err)}
	}
	<-ready
	return &OtoContext{context: context, sampleRate: sampleRate, bufferSize: bufferSize}, nil
}

func (c *OtoContext) Play(render func(buf tang.AudioBuffer)) (tang.AudioStream, error) {
	player := c.context.NewPlayer(newRenderReader(render, c.bufferSize))
	player.SetBufferSize(2 * c.bufferSize * bytesPerFrame)
	player.Play()
	if err := player.Err(); err != nil {
		player.Close()
		return nil, &tang.DeviceError{Device: "default", Err: fmt.Errorf("cannot start oto player: %w", err)}
	}
	return &OtoStream{context: c.context, player: player}, nil
}

// Close suspends the device; the oto context itself lives until the process
// exits.
func (c *OtoContext) Close() error {
	if err := c.context.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (s *OtoStream) Err() error {
	if err := s.player.Err(); err != nil {
		return &tang.DeviceError{Device: "default", Err: err}
	}
	if err := s.context.Err(); err != nil {
		return &tang.DeviceError{Device: "default", Err: err}
	}
	return nil
}

func (s *OtoStream) Close() error {
	s.player.Pause()
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

func newRenderReader(render func(tang.AudioBuffer), maxBlock int) *renderReader {
	return &renderReader{
		render: render,
		buffer: make(tang.AudioBuffer, maxBlock),
		bytes:  make([]byte, 0, maxBlock*bytesPerFrame),
	}
}

// Read renders as many blocks as needed to fill p. A block that does not fit
// is kept for the next call, so partial frames never reach the callback.
func (r *renderReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			frames := min((len(p)-n+bytesPerFrame-1)/bytesPerFrame, cap(r.buffer))
			buf := r.buffer[:frames]
			r.render(buf)
			r.pending = FloatBufferToFloat32LE(buf, r.bytes[:0])
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}
