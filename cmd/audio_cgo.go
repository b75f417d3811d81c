//go:build cgo

package cmd

import (
	"strings"

	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/oto"
	"github.com/tangaudio/tang/portaudio"
)

// NewAudioContext opens the configured output. The default device plays
// through oto; a named device needs PortAudio.
func NewAudioContext(cfg tang.AudioConfig) (tang.AudioContext, error) {
	if isDefaultDevice(cfg.Device) {
		c, err := oto.NewContext(cfg.SampleRate, cfg.BufferSize)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := portaudio.NewContext(cfg.Device, cfg.SampleRate, cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AudioOutputNames lists the output devices and the name of the default.
func AudioOutputNames() ([]string, string, error) {
	return portaudio.OutputNames()
}

func isDefaultDevice(name string) bool {
	return name == "" || strings.EqualFold(name, "default")
}
