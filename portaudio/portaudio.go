// Package portaudio plays through a named output device with PortAudio. It
// needs cgo and the PortAudio library.
package portaudio

import (
	"fmt"
	"strings"

	pa "github.com/gordonklaus/portaudio"
	"github.com/tangaudio/tang"
	"golang.org/x/text/cases"
)

type (
	Context struct {
		device     *pa.DeviceInfo
		sampleRate int
		bufferSize int
	}

	Stream struct {
		stream *pa.Stream
		device string
	}

	// callback adapts PortAudio's non-interleaved output to the render
	// callback without allocating.
	callback struct {
		render func(tang.AudioBuffer)
		buffer tang.AudioBuffer
	}
)

// NewContext initializes PortAudio and picks the output device. An empty
// name or "default" selects the default output; otherwise an exact name
// wins over a case insensitive substring match.
func NewContext(device string, sampleRate, bufferSize int) (*Context, error) {
	if err := pa.Initialize(); err != nil {
		return nil, &tang.DeviceError{Device: device, Err: fmt.Errorf("unable to setup portaudio: %w", err)}
	}
	d, err := findDevice(device)
	if err != nil {
		pa.Terminate()
		return nil, &tang.DeviceError{Device: device, Err: err}
	}
	return &Context{device: d, sampleRate: sampleRate, bufferSize: bufferSize}, nil
}

func (c *Context) Play(render func(buf tang.AudioBuffer)) (tang.AudioStream, error) {
	params := pa.LowLatencyParameters(nil, c.device)
	params.Output.Channels = 2
	params.SampleRate = float64(c.sampleRate)
	params.FramesPerBuffer = c.bufferSize
	cb := &callback{render: render, buffer: make(tang.AudioBuffer, c.bufferSize)}
	stream, err := pa.OpenStream(params, cb.process)
	if err != nil {
		return nil, &tang.DeviceError{Device: c.device.Name, Err: fmt.Errorf("cannot open stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &tang.DeviceError{Device: c.device.Name, Err: fmt.Errorf("cannot start stream: %w", err)}
	}
	return &Stream{stream: stream, device: c.device.Name}, nil
}

func (c *Context) Close() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio termination error: %w", err)
	}
	return nil
}

// Err is always nil: PortAudio reports nothing from a running callback
// stream.
func (s *Stream) Err() error { return nil }

func (s *Stream) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return &tang.DeviceError{Device: s.device, Err: err}
	}
	if err := s.stream.Close(); err != nil {
		return &tang.DeviceError{Device: s.device, Err: err}
	}
	return nil
}

func (c *callback) process(out [][]float32) {
	left, right := out[0], out[1]
	for done := 0; done < len(left); {
		n := min(len(left)-done, len(c.buffer))
		buf := c.buffer[:n]
		c.render(buf)
		for i, frame := range buf {
			left[done+i], right[done+i] = frame[0], frame[1]
		}
		done += n
	}
}

// OutputNames lists the devices that have output channels, and the name of
// the default one.
func OutputNames() (names []string, def string, err error) {
	if err := pa.Initialize(); err != nil {
		return nil, "", &tang.DeviceError{Device: "portaudio", Err: err}
	}
	defer pa.Terminate()
	devices, err := pa.Devices()
	if err != nil {
		return nil, "", &tang.DeviceError{Device: "portaudio", Err: err}
	}
	if d, err := pa.DefaultOutputDevice(); err == nil {
		def = d.Name
	}
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, def, nil
}

func findDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" || strings.EqualFold(name, "default") {
		return pa.DefaultOutputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	var outputs []string
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			outputs = append(outputs, d.Name)
		}
	}
	i := matchDevice(outputs, name)
	if i < 0 {
		return nil, fmt.Errorf("no audio output matches %q; run `tang enumerate audio` to list devices", name)
	}
	for _, d := range devices {
		if d.MaxOutputChannels > 0 && d.Name == outputs[i] {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audio output %q disappeared", outputs[i])
}

// matchDevice returns the index of the exact name, or else of the first name
// containing it case insensitively, or -1.
func matchDevice(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	fold := cases.Fold()
	want := fold.String(name)
	for i, n := range names {
		if strings.Contains(fold.String(n), want) {
			return i
		}
	}
	return -1
}
