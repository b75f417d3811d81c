//go:build darwin || linux

package clap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// bundle is an opened .clap library. Bundles are shared by every instance
// created from them and closed when the last one goes away.
type bundle struct {
	path    string
	lib     uintptr
	entry   *entry
	factory *factory
	refs    int
	pinner  runtime.Pinner
}

var bundles = struct {
	sync.Mutex
	open map[string]*bundle
}{open: map[string]*bundle{}}

// libraryPath returns the shared object inside a bundle. On macOS a .clap is
// a directory holding the binary in Contents/MacOS.
func libraryPath(path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return path, nil
	}
	dir := filepath.Join(path, "Contents", "MacOS")
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
		return filepath.Join(dir, name), nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("bundle has no binary: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", errors.New("bundle has no binary")
}

func openBundle(path string) (*bundle, error) {
	bundles.Lock()
	defer bundles.Unlock()
	if b, ok := bundles.open[path]; ok {
		b.refs++
		return b, nil
	}
	lib, err := libraryPath(path)
	if err != nil {
		return nil, err
	}
	h, err := purego.Dlopen(lib, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen: %w", err)
	}
	sym, err := purego.Dlsym(h, entrySymbol)
	if err != nil {
		purego.Dlclose(h)
		return nil, fmt.Errorf("not a CLAP bundle: %w", err)
	}
	b := &bundle{path: path, lib: h, entry: at[entry](sym), refs: 1}
	if b.entry.version.major < 1 {
		purego.Dlclose(h)
		return nil, fmt.Errorf("unsupported CLAP version %d.%d", b.entry.version.major, b.entry.version.minor)
	}
	cpath := cString(path)
	b.pinner.Pin(&cpath[0])
	if r, _, _ := purego.SyscallN(b.entry.init, uintptr(unsafe.Pointer(&cpath[0]))); byte(r) == 0 {
		b.pinner.Unpin()
		purego.Dlclose(h)
		return nil, errors.New("plugin entry failed to initialize")
	}
	id := cString(pluginFactoryID)
	f, _, _ := purego.SyscallN(b.entry.getFactory, uintptr(unsafe.Pointer(&id[0])))
	if f == 0 {
		purego.SyscallN(b.entry.deinit)
		b.pinner.Unpin()
		purego.Dlclose(h)
		return nil, errors.New("bundle has no plugin factory")
	}
	b.factory = at[factory](f)
	bundles.open[path] = b
	return b, nil
}

func (b *bundle) retain() {
	bundles.Lock()
	b.refs++
	bundles.Unlock()
}

func (b *bundle) release() {
	bundles.Lock()
	defer bundles.Unlock()
	b.refs--
	if b.refs > 0 {
		return
	}
	delete(bundles.open, b.path)
	purego.SyscallN(b.entry.deinit)
	b.pinner.Unpin()
	purego.Dlclose(b.lib)
}

// descriptorInfo is the part of a plugin descriptor the host cares about.
type descriptorInfo struct {
	ID       string
	Name     string
	Vendor   string
	Features []string
}

func (d descriptorInfo) isInstrument() bool {
	return slices.Contains(d.Features, featureInstrument)
}

func (b *bundle) descriptors() []descriptorInfo {
	n, _, _ := purego.SyscallN(b.factory.getPluginCount, ptr(b.factory))
	ret := make([]descriptorInfo, 0, uint32(n))
	for i := uint32(0); i < uint32(n); i++ {
		p, _, _ := purego.SyscallN(b.factory.getPluginDescriptor, ptr(b.factory), uintptr(i))
		if p == 0 {
			continue
		}
		d := at[descriptor](p)
		info := descriptorInfo{
			ID:       goString(d.id),
			Name:     goString(d.name),
			Vendor:   goString(d.vendor),
			Features: stringList(d.features),
		}
		if info.ID == "" {
			continue
		}
		if info.Name == "" {
			info.Name = info.ID
		}
		ret = append(ret, info)
	}
	return ret
}
