package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/tangaudio/tang"
	"github.com/vmihailenco/msgpack/v5"
)

const catalogVersion = 1

// catalog is the on-disk cache of a plugin scan. Stamps holds the
// modification time of every scanned root; the cache is reused only if all
// roots still have the same time.
type catalog struct {
	Version int               `msgpack:"v"`
	Stamps  map[string]int64  `msgpack:"stamps"`
	Plugins []tang.PluginInfo `msgpack:"plugins"`
}

// DefaultCachePath is the catalog cache location under the user cache dir.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("could not determine cache directory: %w", err)
	}
	return filepath.Join(dir, "tang", "catalog.msgpack"), nil
}

// Enumerate lists the plugins of every format that can be scanned. Results
// are read from the catalog cache when nothing changed on disk since the last
// scan.
func (h *Host) Enumerate(ctx context.Context) ([]tang.PluginInfo, error) {
	stamps := h.stamps()
	if h.cachePath != "" {
		if c, err := readCatalog(h.cachePath); err == nil && c.Version == catalogVersion && maps.Equal(c.Stamps, stamps) {
			h.opts.Logger.Debug("using plugin catalog cache", "path", h.cachePath, "plugins", len(c.Plugins))
			return c.Plugins, nil
		}
	}
	var ret []tang.PluginInfo
	for _, f := range h.Formats() {
		s, ok := h.loaders[f].(Scanner)
		if !ok {
			continue
		}
		found, err := s.Scan(ctx, h.opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.opts.Logger.Warn("plugin scan failed", "format", f, "err", err)
			continue
		}
		ret = append(ret, found...)
	}
	slices.SortStableFunc(ret, func(a, b tang.PluginInfo) int {
		if a.Format != b.Format {
			if a.Format < b.Format {
				return -1
			}
			return 1
		}
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	if h.cachePath != "" {
		if err := writeCatalog(h.cachePath, catalog{Version: catalogVersion, Stamps: stamps, Plugins: ret}); err != nil {
			h.opts.Logger.Warn("could not write plugin catalog cache", "err", err)
		}
	}
	return ret, nil
}

func (h *Host) stamps() map[string]int64 {
	ret := map[string]int64{}
	for _, f := range h.Formats() {
		s, ok := h.loaders[f].(Scanner)
		if !ok {
			continue
		}
		for _, root := range s.Roots(h.opts) {
			st, err := os.Stat(root)
			if err != nil {
				ret[root] = 0
				continue
			}
			ret[root] = st.ModTime().UnixNano()
		}
	}
	return ret
}

func readCatalog(path string) (catalog, error) {
	var c catalog
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := msgpack.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("corrupt catalog cache: %w", err)
	}
	return c, nil
}

func writeCatalog(path string, c catalog) error {
	b, err := msgpack.Marshal(&c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ClearCache removes the catalog cache, if any.
func (h *Host) ClearCache() error {
	if h.cachePath == "" {
		return nil
	}
	if err := os.Remove(h.cachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
