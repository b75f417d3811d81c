// Package lv2 hosts LV2 plugins. Bundles are discovered and described by
// reading their Turtle files directly; plugin binaries are opened with
// dlopen through purego. Instantiating plugins is only available on Linux
// and macOS.
package lv2
