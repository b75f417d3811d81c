//go:build darwin || linux

package cmd

import (
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
	"github.com/tangaudio/tang/plugin/clap"
	"github.com/tangaudio/tang/plugin/lv2"
)

func addNativeLoaders(m map[tang.Format]plugin.Loader) {
	m[tang.FormatCLAP] = clap.Loader{}
	m[tang.FormatLV2] = lv2.Loader{}
}
