// Package clap hosts CLAP plugins. Bundles are opened with dlopen through
// purego, so the package needs no cgo. It is only available on Linux and
// macOS; elsewhere the package is empty and clap: sources fail to load.
package clap
