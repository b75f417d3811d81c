//go:build cgo

package cmd

import (
	"github.com/tangaudio/tang/gomidi"
)

func NewMIDIInput(queue MIDIQueue, filter string) (MIDIInput, error) {
	m, err := gomidi.NewManager(queue, filter)
	if err != nil {
		return NullMIDIInput{}, err
	}
	return m, nil
}

func MIDIInputNames() ([]string, error) {
	return gomidi.InputNames()
}
