//go:build !cgo

package cmd

import (
	"fmt"

	"github.com/tangaudio/tang"
)

var errNoMIDI = &tang.DeviceError{Device: "midi", Err: fmt.Errorf("MIDI input: %w (built without cgo)", tang.ErrNotSupported)}

// with no cgo, we cannot use MIDI, so NewMIDIInput returns a null input
func NewMIDIInput(queue MIDIQueue, filter string) (MIDIInput, error) {
	return NullMIDIInput{}, errNoMIDI
}

func MIDIInputNames() ([]string, error) {
	return nil, errNoMIDI
}
