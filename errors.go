package tang

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is wrapped by loaders for formats this build cannot
	// host.
	ErrNotSupported = errors.New("not supported in this build")
	// ErrBusy is wrapped by ChannelError.
	ErrBusy = errors.New("busy, try again")
)

type (
	// LoadError means a plugin could not be found or instantiated. It is
	// fatal to that load attempt only.
	LoadError struct {
		Source string
		Err    error
	}

	// ValidationError means a session or an edit was rejected before it
	// reached the audio thread.
	ValidationError struct {
		Path string // e.g. "keyboards[0].splits[1].effects[2]"
		Msg  string
	}

	// ProcessError means a plugin failed while rendering a buffer. The
	// engine silences that slot for the buffer and carries on.
	ProcessError struct {
		Plugin string
		Err    error
	}

	// ChannelError means the command channel to the audio thread was full.
	ChannelError struct {
		Op string
	}

	// DeviceError means an audio or MIDI device failed. It ends the current
	// audio session but leaves the session state intact.
	DeviceError struct {
		Device string
		Err    error
	}
)

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load plugin %q: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid session: " + e.Msg
	}
	return fmt.Sprintf("invalid session: %s: %s", e.Path, e.Msg)
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("plugin %q failed to process: %v", e.Plugin, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ChannelError) Error() string {
	return fmt.Sprintf("command channel full while sending %s", e.Op)
}

func (e *ChannelError) Unwrap() error { return ErrBusy }

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %q: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Invalid is a shorthand for building a *ValidationError.
func Invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Msg: fmt.Sprintf(format, args...)}
}
