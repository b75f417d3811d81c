package plugin

import (
	"errors"
	"testing"

	"github.com/tangaudio/tang"
)

func TestResolve(t *testing.T) {
	for _, c := range []struct {
		source string
		format tang.Format
		id     string
		path   string
	}{
		{"builtin:sine", tang.FormatBuiltin, "sine", ""},
		{"clap:com.u-he.diva", tang.FormatCLAP, "com.u-he.diva", ""},
		{"lv2:http://lv2plug.in/plugins/eg-amp", tang.FormatLV2, "http://lv2plug.in/plugins/eg-amp", ""},
		{"vst3:Surge XT", tang.FormatVST3, "Surge XT", ""},
		{"/usr/lib/clap/Surge XT.clap", tang.FormatCLAP, "", "/usr/lib/clap/Surge XT.clap"},
		{"/usr/lib/lv2/eg-amp.lv2/", tang.FormatLV2, "", "/usr/lib/lv2/eg-amp.lv2/"},
		{"https://example.com/plugins/synth", tang.FormatLV2, "https://example.com/plugins/synth", ""},
		{"urn:example:synth", tang.FormatLV2, "urn:example:synth", ""},
		{"org.surge-synth-team.surge-xt", tang.FormatCLAP, "org.surge-synth-team.surge-xt", ""},
	} {
		ref, err := Resolve(c.source)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", c.source, err)
			continue
		}
		if ref.Format != c.format || ref.ID != c.id || ref.Path != c.path {
			t.Errorf("Resolve(%q) = %+v", c.source, ref)
		}
	}
	for _, s := range []string{"", "synth", "plugins/synth", "builtin:"} {
		_, err := Resolve(s)
		var lerr *tang.LoadError
		if !errors.As(err, &lerr) {
			t.Errorf("Resolve(%q) should fail with a LoadError, got %v", s, err)
		}
	}
}
