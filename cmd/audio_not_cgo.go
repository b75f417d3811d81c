//go:build !cgo

package cmd

import (
	"fmt"
	"strings"

	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/oto"
)

// NewAudioContext opens the default output with oto. Named devices need
// PortAudio, which needs cgo.
func NewAudioContext(cfg tang.AudioConfig) (tang.AudioContext, error) {
	if cfg.Device != "" && !strings.EqualFold(cfg.Device, "default") {
		return nil, &tang.DeviceError{Device: cfg.Device, Err: fmt.Errorf("named audio devices: %w (built without cgo)", tang.ErrNotSupported)}
	}
	c, err := oto.NewContext(cfg.SampleRate, cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func AudioOutputNames() ([]string, string, error) {
	return []string{"default"}, "default", nil
}
