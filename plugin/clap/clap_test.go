//go:build darwin || linux

package clap

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/plugin"
	"github.com/tangaudio/tang/version"
)

func TestLayout(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"entry.getFactory", unsafe.Offsetof(entry{}.getFactory), 32},
		{"descriptor.features", unsafe.Offsetof(descriptor{}.features), 80},
		{"host.requestCallback", unsafe.Offsetof(host{}.requestCallback), 80},
		{"plugin.onMainThread", unsafe.Offsetof(clapPlugin{}.onMainThread), 88},
		{"process.inEvents", unsafe.Offsetof(process{}.inEvents), 48},
		{"sizeof(process)", unsafe.Sizeof(process{}), 64},
		{"sizeof(audioBuffer)", unsafe.Sizeof(audioBuffer{}), 32},
		{"sizeof(eventHeader)", unsafe.Sizeof(eventHeader{}), 16},
		{"sizeof(eventMIDI)", sizeofMIDI, 24},
		{"eventParamValue.value", unsafe.Offsetof(eventParamValue{}.value), 48},
		{"sizeof(eventParamValue)", sizeofParamValue, 56},
		{"audioPortInfo.channelCount", unsafe.Offsetof(audioPortInfo{}.channelCount), 264},
		{"sizeof(audioPortInfo)", unsafe.Sizeof(audioPortInfo{}), 288},
		{"paramInfo.minValue", unsafe.Offsetof(paramInfo{}.minValue), 1296},
		{"sizeof(paramInfo)", unsafe.Sizeof(paramInfo{}), 1320},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestStrings(t *testing.T) {
	a, b := cString("instrument"), cString("stereo")
	list := []uintptr{uintptr(unsafe.Pointer(&a[0])), uintptr(unsafe.Pointer(&b[0])), 0}
	got := stringList(uintptr(unsafe.Pointer(&list[0])))
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
	if want := []string{"instrument", "stereo"}; !slices.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := goString(0); got != "" {
		t.Errorf("goString(0) = %q", got)
	}
	var name [8]byte
	copy(name[:], "Out")
	if got := fixedString(name[:]); got != "Out" {
		t.Errorf("fixedString = %q", got)
	}
}

func TestEventList(t *testing.T) {
	var pinner runtime.Pinner
	defer pinner.Unpin()
	l := newEventList(2, 1, &pinner)
	l.addParam(7, 0.5)
	l.addParam(8, 0.25) // over capacity
	l.addMIDI(3, [3]byte{0x90, 60, 100})
	l.addMIDI(4, [3]byte{0x80, 60, 0})
	l.addMIDI(5, [3]byte{0x90, 62, 100}) // over capacity
	in := uintptr(unsafe.Pointer(&l.in))
	if n := eventsSize(in); n != 3 {
		t.Fatalf("size %d, want 3", n)
	}
	p := at[eventParamValue](eventsGet(in, 0))
	if p.header.typ != eventParamValueType || p.paramID != 7 || p.value != 0.5 || p.header.size != 56 {
		t.Errorf("unexpected param event %+v", *p)
	}
	m := at[eventMIDI](eventsGet(in, 2))
	if m.header.typ != eventMIDIType || m.header.time != 4 || m.data != [3]byte{0x80, 60, 0} {
		t.Errorf("unexpected midi event %+v", *m)
	}
	if eventsGet(in, 3) != 0 {
		t.Error("out of range index returned an event")
	}
	l.reset()
	if n := eventsSize(in); n != 0 {
		t.Errorf("size %d after reset", n)
	}
}

func TestFindBundles(t *testing.T) {
	root := t.TempDir()
	mk := func(path string) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mk(filepath.Join(root, "a.clap"))
	mk(filepath.Join(root, "vendor", "b.clap", "Contents", "MacOS", "b"))
	mk(filepath.Join(root, "vendor", "readme.txt"))
	got := findBundles([]string{root, filepath.Join(root, "missing")})
	want := []string{filepath.Join(root, "a.clap"), filepath.Join(root, "vendor", "b.clap")}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	lib, err := libraryPath(want[1])
	if err != nil || lib != filepath.Join(want[1], "Contents", "MacOS", "b") {
		t.Errorf("libraryPath = %q, %v", lib, err)
	}
}

func TestPresetFiles(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	for _, f := range []string{
		filepath.Join(a, "com.example.synth", "Warm Pad.preset"),
		filepath.Join(a, "com.example.synth", ".hidden"),
		filepath.Join(b, "com.example.synth", "Bass.preset"),
		filepath.Join(b, "com.example.synth", "Warm Pad.preset"),
		filepath.Join(b, "com.example.other", "Lead.preset"),
	} {
		os.MkdirAll(filepath.Dir(f), 0o755)
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got := presetFiles([]string{a, b}, "com.example.synth")
	want := []tang.Preset{
		{Name: "Bass", ID: filepath.Join(b, "com.example.synth", "Bass.preset")},
		{Name: "Warm Pad", ID: filepath.Join(a, "com.example.synth", "Warm Pad.preset")},
	}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRoots(t *testing.T) {
	t.Setenv("CLAP_PATH", strings.Join([]string{"/opt/clap", "/extra"}, string(os.PathListSeparator)))
	got := Loader{}.Roots(plugin.Options{Paths: tang.PluginPaths{CLAP: []string{"/mine", "/extra"}}})
	if len(got) < 3 || !slices.Equal(got[:3], []string{"/mine", "/extra", "/opt/clap"}) {
		t.Errorf("got %v", got)
	}
	if !slices.Contains(got, standardPaths()[1]) {
		t.Errorf("standard location missing from %v", got)
	}
}

func TestLoadMissing(t *testing.T) {
	t.Setenv("CLAP_PATH", "")
	opts := plugin.Options{
		SampleRate: 48000,
		MaxBlock:   64,
		Paths:      tang.PluginPaths{CLAP: []string{t.TempDir()}},
		Logger:     tang.DiscardLogger(),
	}
	_, err := Loader{}.Load(plugin.Ref{Format: tang.FormatCLAP, ID: "com.example.does-not-exist"}, opts)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("got %v, want a not found error", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.clap")
	os.WriteFile(bad, []byte("not a library"), 0o644)
	if _, err := (Loader{}).Load(plugin.Ref{Format: tang.FormatCLAP, Path: bad}, opts); err == nil {
		t.Error("loading a garbage bundle succeeded")
	}
}

func TestHostIdentity(t *testing.T) {
	var pinner runtime.Pinner
	defer pinner.Unpin()
	s := newHostState(tang.DiscardLogger(), &pinner)
	if s.host.version != hostVersion || hostVersion.major != 1 {
		t.Errorf("host reports CLAP %+v", s.host.version)
	}
	if got := goString(s.host.hostVersion); got != version.String() {
		t.Errorf("host version %q, want %q", got, version.String())
	}
	if got := goString(s.host.name); got != "tang" {
		t.Errorf("host name %q", got)
	}
	if stateOf(ptr(&s.host)) != s {
		t.Error("hostData does not point back at the host state")
	}
}

func TestProcessFailures(t *testing.T) {
	refuse := purego.NewCallback(func(plugin uintptr) uintptr { return 0 })
	tests := []struct {
		name   string
		frames int
		want   error
	}{
		{"refused start", 32, errNoStart},
		{"oversized block", 128, errTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Plugin{fn: &clapPlugin{startProcessing: refuse}, maxBlock: 64}
			out := [][]float32{make([]float32, tt.frames)}
			if err := p.Process(nil, nil, out); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if p.processing {
				t.Error("plugin marked as processing after a failure")
			}
			allocs := testing.AllocsPerRun(100, func() { p.Process(nil, nil, out) })
			if allocs != 0 {
				t.Errorf("failing process allocated %v times per call", allocs)
			}
		})
	}
}
