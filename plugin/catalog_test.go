package plugin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tangaudio/tang"
)

type countingScanner struct {
	root  string
	scans int
}

func (s *countingScanner) Load(Ref, Options) (tang.Plugin, error) { return nil, tang.ErrNotSupported }

func (s *countingScanner) Scan(context.Context, Options) ([]tang.PluginInfo, error) {
	s.scans++
	return []tang.PluginInfo{{Name: "Synth", ID: "com.example.synth", Format: tang.FormatCLAP, IsInstrument: true}}, nil
}

func (s *countingScanner) Roots(Options) []string { return []string{s.root} }

func TestEnumerateUsesCache(t *testing.T) {
	dir := t.TempDir()
	s := &countingScanner{root: t.TempDir()}
	h := NewHost(Options{Logger: tang.DiscardLogger()}, map[tang.Format]Loader{tang.FormatCLAP: s}).
		WithCache(filepath.Join(dir, "cache", "catalog.msgpack"))
	first, err := h.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	second, err := h.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if s.scans != 1 {
		t.Errorf("second enumeration should come from the cache, scans = %d", s.scans)
	}
	if len(first) != 1 || len(second) != 1 || second[0].ID != "com.example.synth" || !second[0].IsInstrument {
		t.Errorf("unexpected catalogs %+v %+v", first, second)
	}
	if err := h.ClearCache(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Enumerate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.scans != 2 {
		t.Errorf("clearing the cache should force a scan, scans = %d", s.scans)
	}
}
