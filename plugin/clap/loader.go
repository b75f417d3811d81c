//go:build darwin || linux

package clap

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
)

// Loader loads clap:<id> sources and .clap bundle paths.
type Loader struct{}

func (Loader) Load(ref plugin.Ref, opts plugin.Options) (tang.Plugin, error) {
	b, d, err := find(ref, opts)
	if err != nil {
		return nil, err
	}
	p, err := create(b, d, opts)
	if err != nil {
		b.release()
		return nil, err
	}
	if err := p.activate(opts.SampleRate); err != nil {
		p.Close()
		return nil, fmt.Errorf("%s: %w", d.ID, err)
	}
	opts.Logger.Info("loaded CLAP plugin", "name", p.name, "id", p.id, "instrument", p.instrument,
		"inputs", p.AudioInputs(), "outputs", p.AudioOutputs(), "params", len(p.params), "presets", len(p.presets))
	return p, nil
}

// find opens the bundle holding the plugin. A bundle path loads its first
// plugin; an id is looked up in every bundle under the search roots.
func find(ref plugin.Ref, opts plugin.Options) (*bundle, descriptorInfo, error) {
	if ref.Path != "" {
		b, err := openBundle(ref.Path)
		if err != nil {
			return nil, descriptorInfo{}, fmt.Errorf("%s: %w", ref.Path, err)
		}
		ds := b.descriptors()
		if len(ds) == 0 {
			b.release()
			return nil, descriptorInfo{}, fmt.Errorf("%s: bundle contains no plugins", ref.Path)
		}
		return b, ds[0], nil
	}
	roots := (Loader{}).Roots(opts)
	for _, path := range findBundles(roots) {
		b, err := openBundle(path)
		if err != nil {
			opts.Logger.Debug("skipping CLAP bundle", "path", path, "err", err)
			continue
		}
		for _, d := range b.descriptors() {
			if d.ID == ref.ID {
				return b, d, nil
			}
		}
		b.release()
	}
	return nil, descriptorInfo{}, fmt.Errorf("CLAP plugin %q not found in %s; run `tang enumerate plugins` to list installed plugins", ref.ID, strings.Join(roots, ", "))
}

func (Loader) Scan(ctx context.Context, opts plugin.Options) ([]tang.PluginInfo, error) {
	var ret []tang.PluginInfo
	for _, path := range findBundles((Loader{}).Roots(opts)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := openBundle(path)
		if err != nil {
			opts.Logger.Warn("could not scan CLAP bundle", "path", path, "err", err)
			continue
		}
		for _, d := range b.descriptors() {
			info := tang.PluginInfo{
				Name:         d.Name,
				ID:           d.ID,
				Format:       tang.FormatCLAP,
				Path:         path,
				IsInstrument: d.isInstrument(),
				PresetCount:  len(presetFiles(opts.PresetPaths.CLAP, d.ID)),
			}
			b.retain()
			if p, err := create(b, d, opts); err == nil {
				info.ParamCount = len(p.params)
				p.Close()
			} else {
				b.release()
			}
			ret = append(ret, info)
		}
		b.release()
	}
	return ret, nil
}

// Roots are the configured paths, then CLAP_PATH, then the standard
// locations of the platform.
func (Loader) Roots(opts plugin.Options) []string {
	var ret []string
	add := func(dirs ...string) {
		for _, d := range dirs {
			if d != "" && !slices.Contains(ret, d) {
				ret = append(ret, d)
			}
		}
	}
	add(opts.Paths.CLAP...)
	add(filepath.SplitList(os.Getenv("CLAP_PATH"))...)
	add(standardPaths()...)
	return ret
}

func standardPaths() []string {
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "darwin" {
		return []string{
			filepath.Join(home, "Library", "Audio", "Plug-Ins", "CLAP"),
			"/Library/Audio/Plug-Ins/CLAP",
		}
	}
	return []string{filepath.Join(home, ".clap"), "/usr/lib/clap"}
}

// findBundles lists every .clap file or bundle directory below roots.
func findBundles(roots []string) []string {
	var ret []string
	for _, root := range roots {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if path != root && strings.EqualFold(filepath.Ext(path), ".clap") {
				ret = append(ret, path)
				if d.IsDir() {
					return fs.SkipDir
				}
			}
			return nil
		})
	}
	return ret
}

// presetFiles lists the preset files stored for a plugin, laid out as
// <dir>/<plugin id>/<name>.<ext>. The first directory wins for equal names.
func presetFiles(dirs []string, id string) []tang.Preset {
	var ret []tang.Preset
	for _, dir := range dirs {
		entries, err := os.ReadDir(filepath.Join(dir, id))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if slices.ContainsFunc(ret, func(p tang.Preset) bool { return p.Name == name }) {
				continue
			}
			ret = append(ret, tang.Preset{Name: name, ID: filepath.Join(dir, id, e.Name())})
		}
	}
	slices.SortFunc(ret, func(a, b tang.Preset) int { return strings.Compare(a.Name, b.Name) })
	return ret
}
