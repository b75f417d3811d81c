package lv2

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/tangaudio/tang"
)

const (
	lv2NS     = "http://lv2plug.in/ns/lv2core#"
	atomNS    = "http://lv2plug.in/ns/ext/atom#"
	psetNS    = "http://lv2plug.in/ns/ext/presets#"
	uridNS    = "http://lv2plug.in/ns/ext/urid#"
	bufSizeNS = "http://lv2plug.in/ns/ext/buf-size#"
	optionsNS = "http://lv2plug.in/ns/ext/options#"
	doapName  = "http://usefulinc.com/ns/doap#name"

	midiEvent = "http://lv2plug.in/ns/ext/midi#MidiEvent"
	rdfsLabel = rdfsNS + "label"
	seeAlso   = rdfsNS + "seeAlso"
)

// supportedFeatures are the features a plugin may require and still load.
var supportedFeatures = []string{
	uridNS + "map",
	uridNS + "unmap",
	bufSizeNS + "boundedBlockLength",
	optionsNS + "options",
	lv2NS + "isLive",
	lv2NS + "hardRTCapable",
	lv2NS + "inPlaceBroken",
}

type PortKind uint8

const (
	OtherPort PortKind = iota
	AudioPort
	ControlPort
	CVPort
	AtomPort
)

// Port is one port of a plugin as declared in its Turtle data.
type Port struct {
	Index   int
	Symbol  string
	Name    string
	Kind    PortKind
	Input   bool
	MIDI    bool // atom port that supports midi:MidiEvent
	Min     float32
	Max     float32
	Default float32
}

// Description is everything known about a plugin before instantiating it.
type Description struct {
	URI        string
	Name       string
	Bundle     string
	Binary     string
	Instrument bool
	Ports      []Port
	Required   []string
	Presets    []tang.Preset
	values     map[string]map[string]float32 // preset URI -> port symbol -> value
}

// world is the merged RDF data of every loaded bundle.
type world struct {
	subjects map[string][]triple
	loaded   map[string]bool
	plugins  map[string]string // plugin URI -> bundle directory
	order    []string
	blanks   int
}

func newWorld() *world {
	return &world{subjects: map[string][]triple{}, loaded: map[string]bool{}, plugins: map[string]string{}}
}

func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func filePath(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}

func (w *world) loadFile(path string) ([]triple, error) {
	uri := fileURI(path)
	if w.loaded[uri] {
		return nil, nil
	}
	w.loaded[uri] = true
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ts, err := parseTurtle(string(b), uri, &w.blanks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, t := range ts {
		w.subjects[t.s.value] = append(w.subjects[t.s.value], t)
	}
	return ts, nil
}

// loadBundle reads manifest.ttl of a bundle and every file it points to with
// rdfs:seeAlso.
func (w *world) loadBundle(dir string) error {
	manifest, err := w.loadFile(filepath.Join(dir, "manifest.ttl"))
	if err != nil {
		return err
	}
	for _, t := range manifest {
		switch {
		case t.p.value == rdfType && t.o.value == lv2NS+"Plugin":
			if _, ok := w.plugins[t.s.value]; !ok {
				w.plugins[t.s.value] = dir
				w.order = append(w.order, t.s.value)
			}
		case t.p.value == seeAlso:
			path, ok := filePath(t.o.value)
			if !ok {
				continue
			}
			if _, err := w.loadFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}
	return nil
}

// loadRoots loads every bundle directly below roots. Bundles that fail to
// parse are skipped and returned as one joined error.
func (w *world) loadRoots(roots []string) error {
	var errs []error
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".lv2") {
				continue
			}
			if err := w.loadBundle(filepath.Join(root, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (w *world) objects(s, p string) []term {
	var ret []term
	for _, t := range w.subjects[s] {
		if t.p.value == p {
			ret = append(ret, t.o)
		}
	}
	return ret
}

func (w *world) object(s, p string) (term, bool) {
	for _, t := range w.subjects[s] {
		if t.p.value == p {
			return t.o, true
		}
	}
	return term{}, false
}

func (w *world) isA(s, class string) bool {
	return slices.ContainsFunc(w.objects(s, rdfType), func(t term) bool { return t.value == class })
}

func (w *world) literal(s, p string) string {
	var ret string
	for _, o := range w.objects(s, p) {
		if o.kind != literalTerm {
			continue
		}
		if o.lang == "" || strings.HasPrefix(o.lang, "en") {
			return o.value
		}
		if ret == "" {
			ret = o.value
		}
	}
	return ret
}

func (w *world) number(s, p string) (float32, bool) {
	o, ok := w.object(s, p)
	if !ok {
		return 0, false
	}
	return o.float()
}

// describe collects the description of the plugin with the given URI.
func (w *world) describe(uri string) (*Description, error) {
	bundle, ok := w.plugins[uri]
	if !ok {
		return nil, fmt.Errorf("LV2 plugin %s not found; run `tang enumerate plugins` to list installed plugins", uri)
	}
	d := &Description{
		URI:        uri,
		Name:       w.literal(uri, doapName),
		Bundle:     bundle,
		Instrument: w.isA(uri, lv2NS+"InstrumentPlugin"),
		values:     map[string]map[string]float32{},
	}
	if d.Name == "" {
		d.Name = uri
	}
	if bin, ok := w.object(uri, lv2NS+"binary"); ok {
		d.Binary, _ = filePath(bin.value)
	}
	for _, f := range w.objects(uri, lv2NS+"requiredFeature") {
		d.Required = append(d.Required, f.value)
	}
	for _, pt := range w.objects(uri, lv2NS+"port") {
		d.Ports = append(d.Ports, w.port(pt.value))
	}
	slices.SortFunc(d.Ports, func(a, b Port) int { return cmp.Compare(a.Index, b.Index) })
	for i, pt := range d.Ports {
		if pt.Index != i {
			return nil, fmt.Errorf("%s: port indices are not contiguous", uri)
		}
	}
	w.presets(d)
	return d, nil
}

func (w *world) port(s string) Port {
	p := Port{Symbol: w.literal(s, lv2NS+"symbol"), Input: w.isA(s, lv2NS+"InputPort")}
	if i, ok := w.number(s, lv2NS+"index"); ok {
		p.Index = int(i)
	}
	p.Name = w.literal(s, lv2NS+"name")
	if p.Name == "" {
		p.Name = p.Symbol
	}
	switch {
	case w.isA(s, lv2NS+"AudioPort"):
		p.Kind = AudioPort
	case w.isA(s, lv2NS+"ControlPort"):
		p.Kind = ControlPort
	case w.isA(s, lv2NS+"CVPort"):
		p.Kind = CVPort
	case w.isA(s, atomNS+"AtomPort"):
		p.Kind = AtomPort
		p.MIDI = slices.ContainsFunc(w.objects(s, atomNS+"supports"), func(t term) bool { return t.value == midiEvent })
	}
	p.Min, p.Max = 0, 1
	if v, ok := w.number(s, lv2NS+"minimum"); ok {
		p.Min = v
	}
	if v, ok := w.number(s, lv2NS+"maximum"); ok {
		p.Max = v
	}
	p.Default = p.Min
	if v, ok := w.number(s, lv2NS+"default"); ok {
		p.Default = v
	}
	return p
}

func (w *world) presets(d *Description) {
	for s, ts := range w.subjects {
		if !slices.ContainsFunc(ts, func(t triple) bool { return t.p.value == lv2NS+"appliesTo" && t.o.value == d.URI }) {
			continue
		}
		if !w.isA(s, psetNS+"Preset") {
			continue
		}
		name := w.literal(s, rdfsLabel)
		if name == "" {
			name = s
		}
		values := map[string]float32{}
		for _, pt := range w.objects(s, lv2NS+"port") {
			sym := w.literal(pt.value, lv2NS+"symbol")
			if v, ok := w.number(pt.value, psetNS+"value"); ok && sym != "" {
				values[sym] = v
			}
		}
		d.Presets = append(d.Presets, tang.Preset{Name: name, ID: s})
		d.values[s] = values
	}
	slices.SortFunc(d.Presets, func(a, b tang.Preset) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.ID, b.ID))
	})
}

// Params are the control input ports, indexed by port index.
func (d *Description) Params() []tang.ParamInfo {
	var ret []tang.ParamInfo
	for _, p := range d.Ports {
		if p.Kind == ControlPort && p.Input {
			ret = append(ret, tang.ParamInfo{Index: p.Index, Name: p.Name, Min: p.Min, Max: p.Max, Default: p.Default})
		}
	}
	return ret
}

// Unsupported returns the required features this host does not provide.
func (d *Description) Unsupported() []string {
	var ret []string
	for _, f := range d.Required {
		if !slices.Contains(supportedFeatures, f) {
			ret = append(ret, f)
		}
	}
	return ret
}

func (d *Description) count(kind PortKind, input bool) int {
	n := 0
	for _, p := range d.Ports {
		if p.Kind == kind && p.Input == input {
			n++
		}
	}
	return n
}

func (d *Description) info() tang.PluginInfo {
	return tang.PluginInfo{
		Name:         d.Name,
		ID:           d.URI,
		Format:       tang.FormatLV2,
		Path:         d.Bundle,
		IsInstrument: d.Instrument,
		ParamCount:   len(d.Params()),
		PresetCount:  len(d.Presets),
	}
}

// searchPaths are the configured paths, then LV2_PATH, then the standard
// locations of the platform.
func searchPaths(configured []string) []string {
	var ret []string
	add := func(dirs ...string) {
		for _, d := range dirs {
			if d != "" && !slices.Contains(ret, d) {
				ret = append(ret, d)
			}
		}
	}
	add(configured...)
	add(filepath.SplitList(os.Getenv("LV2_PATH"))...)
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "darwin" {
		add(filepath.Join(home, "Library", "Audio", "Plug-Ins", "LV2"), "/Library/Audio/Plug-Ins/LV2")
	} else {
		add(filepath.Join(home, ".lv2"), "/usr/local/lib/lv2", "/usr/lib/lv2")
	}
	return ret
}
