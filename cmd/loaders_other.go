//go:build !darwin && !linux

package cmd

import (
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
)

// CLAP and LV2 binaries are opened with dlopen, which purego only offers on
// Unix-like systems.
func addNativeLoaders(map[tang.Format]plugin.Loader) {}
