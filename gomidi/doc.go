// Package gomidi feeds MIDI input devices into the engine's MIDI queue using
// gomidi and its rtmidi driver. It needs cgo.
package gomidi
