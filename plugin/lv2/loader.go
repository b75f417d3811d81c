//go:build darwin || linux

package lv2

import (
	"context"
	"fmt"

	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
)

// Loader loads lv2:<uri> sources and .lv2 bundle paths.
type Loader struct{}

func (Loader) Load(ref plugin.Ref, opts plugin.Options) (tang.Plugin, error) {
	w := newWorld()
	uri := ref.ID
	if ref.Path != "" {
		if err := w.loadBundle(ref.Path); err != nil {
			return nil, fmt.Errorf("%s: %w", ref.Path, err)
		}
		if len(w.order) == 0 {
			return nil, fmt.Errorf("%s: bundle contains no plugins", ref.Path)
		}
		uri = w.order[0]
	} else if err := w.loadRoots(searchPaths(opts.Paths.LV2)); err != nil {
		opts.Logger.Warn("some LV2 bundles could not be read", "err", err)
	}
	d, err := w.describe(uri)
	if err != nil {
		return nil, err
	}
	p, err := instantiate(d, opts.SampleRate, opts.MaxBlock)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	opts.Logger.Info("loaded LV2 plugin", "name", d.Name, "uri", d.URI, "instrument", d.Instrument,
		"inputs", p.AudioInputs(), "outputs", p.AudioOutputs(), "params", len(p.params), "presets", len(d.Presets))
	return p, nil
}

// Scan lists plugins from the Turtle data alone; nothing is instantiated.
func (Loader) Scan(ctx context.Context, opts plugin.Options) ([]tang.PluginInfo, error) {
	w := newWorld()
	if err := w.loadRoots(searchPaths(opts.Paths.LV2)); err != nil {
		opts.Logger.Warn("some LV2 bundles could not be read", "err", err)
	}
	var ret []tang.PluginInfo
	for _, uri := range w.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := w.describe(uri)
		if err != nil {
			opts.Logger.Warn("skipping LV2 plugin", "uri", uri, "err", err)
			continue
		}
		ret = append(ret, d.info())
	}
	return ret, nil
}

func (Loader) Roots(opts plugin.Options) []string { return searchPaths(opts.Paths.LV2) }
