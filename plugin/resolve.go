package plugin

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tangaudio/tang"
)

// Ref is a resolved plugin source: the format that should load it and either
// an identifier (ID) or a bundle path (Path).
type Ref struct {
	Source string
	Format tang.Format
	ID     string
	Path   string
}

// Resolve works out which format loader is responsible for source. Accepted
// shapes are builtin:<name>, clap:<id>, lv2:<uri>, vst3:<name>, a path to a
// .clap, .lv2 or .vst3 bundle, an http(s):// or urn: URI (LV2) and a reverse
// domain identifier such as com.example.synth (CLAP).
func Resolve(source string) (Ref, error) {
	ref := Ref{Source: source}
	if source == "" {
		return ref, &tang.LoadError{Source: source, Err: fmt.Errorf("empty plugin source")}
	}
	for _, f := range []tang.Format{tang.FormatBuiltin, tang.FormatCLAP, tang.FormatLV2, tang.FormatVST3} {
		if id, ok := strings.CutPrefix(source, string(f)+":"); ok {
			if id == "" {
				return ref, &tang.LoadError{Source: source, Err: fmt.Errorf("missing identifier after %q", string(f)+":")}
			}
			ref.Format, ref.ID = f, id
			return ref, nil
		}
	}
	switch strings.ToLower(filepath.Ext(strings.TrimRight(source, `/\`))) {
	case ".clap":
		ref.Format, ref.Path = tang.FormatCLAP, source
		return ref, nil
	case ".lv2":
		ref.Format, ref.Path = tang.FormatLV2, source
		return ref, nil
	case ".vst3":
		ref.Format, ref.Path = tang.FormatVST3, source
		return ref, nil
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") || strings.HasPrefix(source, "urn:") {
		ref.Format, ref.ID = tang.FormatLV2, source
		return ref, nil
	}
	if strings.Contains(source, ".") && !strings.ContainsAny(source, `/\`) && !strings.Contains(source, ":") {
		ref.Format, ref.ID = tang.FormatCLAP, source
		return ref, nil
	}
	return ref, &tang.LoadError{
		Source: source,
		Err:    fmt.Errorf("cannot tell the plugin format; use builtin:, clap:, lv2: or vst3:, or a path to a bundle"),
	}
}

func (r Ref) String() string {
	if r.Path != "" {
		return r.Path
	}
	return string(r.Format) + ":" + r.ID
}
