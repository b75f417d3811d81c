// Command tang is a real-time audio plugin host. It plays a session of
// keyboards, splits and plugin chains from MIDI input, and lists the MIDI
// inputs, audio outputs and plugins it can use.
//
// Usage:
//
//	tang [flags] <command> [args]
//
// Commands:
//
//	play       - Play a session file, or a default sine session
//	enumerate  - List MIDI inputs, audio outputs, plugins or built-ins
//	describe   - Show the parameters and presets of a plugin
//	version    - Show version information
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
