package lv2

import (
	"testing"
)

const turtleDoc = `@prefix ex: <http://example.org/> .
PREFIX rdfs: <http://www.w3.org/2000/01/rdf-schema#>
# a comment
ex:a a ex:Thing ;
    rdfs:label "A \"quoted\" café"@en ;
    ex:file <data.ttl> ;
    ex:list ( 1 2.5 ) ;
    ex:flag true ;
    ex:n -3.
_:x ex:p """long
text""" .
[ ex:q ex:a ] .
`

func find(ts []triple, p string) (term, bool) {
	for _, t := range ts {
		if t.p.value == p {
			return t.o, true
		}
	}
	return term{}, false
}

func TestParseTurtle(t *testing.T) {
	var blanks int
	ts, err := parseTurtle(turtleDoc, "file:///bundle/manifest.ttl", &blanks)
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 12 {
		t.Fatalf("got %d triples, want 12: %v", len(ts), ts)
	}
	tests := []struct {
		pred string
		want term
	}{
		{rdfType, term{kind: iriTerm, value: "http://example.org/Thing"}},
		{rdfsLabel, term{kind: literalTerm, value: `A "quoted" café`, lang: "en"}},
		{"http://example.org/file", term{kind: iriTerm, value: "file:///bundle/data.ttl"}},
		{"http://example.org/flag", term{kind: literalTerm, value: "true", datatype: xsdNS + "boolean"}},
		{"http://example.org/n", term{kind: literalTerm, value: "-3", datatype: xsdNS + "integer"}},
		{"http://example.org/p", term{kind: literalTerm, value: "long\ntext"}},
		{"http://example.org/q", term{kind: iriTerm, value: "http://example.org/a"}},
	}
	for _, tt := range tests {
		got, ok := find(ts, tt.pred)
		if !ok || got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.pred, got, tt.want)
		}
	}
	head, _ := find(ts, "http://example.org/list")
	var items []string
	for head.value != rdfNil {
		var next term
		for _, tr := range ts {
			switch {
			case tr.s == head && tr.p.value == rdfFirst:
				items = append(items, tr.o.value)
			case tr.s == head && tr.p.value == rdfRest:
				next = tr.o
			}
		}
		if next.value == "" {
			t.Fatalf("broken list at %v", head)
		}
		head = next
	}
	if len(items) != 2 || items[0] != "1" || items[1] != "2.5" {
		t.Errorf("list items %v, want [1 2.5]", items)
	}
}

func TestBlankLabelsAreScopedPerDocument(t *testing.T) {
	var blanks int
	a, err := parseTurtle("_:x <http://e/p> _:x .", "file:///a.ttl", &blanks)
	if err != nil {
		t.Fatal(err)
	}
	b, err := parseTurtle("_:x <http://e/p> <http://e/o> .", "file:///b.ttl", &blanks)
	if err != nil {
		t.Fatal(err)
	}
	if a[0].s != a[0].o {
		t.Error("same label within a document gave different nodes")
	}
	if a[0].s == b[0].s {
		t.Error("same label in two documents gave the same node")
	}
}

func TestParseTurtleErrors(t *testing.T) {
	for _, src := range []string{
		"foo:a foo:b foo:c .",
		`<a> <b> "unterminated .`,
		"<a> <b> <c>",
		"<a> <b> [ <c> <d> .",
		"<a> <b> 1e .",
	} {
		var blanks int
		if _, err := parseTurtle(src, "file:///x.ttl", &blanks); err == nil {
			t.Errorf("%q parsed without error", src)
		}
	}
}

func TestTermFloat(t *testing.T) {
	tests := []struct {
		t    term
		want float32
		ok   bool
	}{
		{term{kind: literalTerm, value: "0.25"}, 0.25, true},
		{term{kind: literalTerm, value: "-2e1"}, -20, true},
		{term{kind: literalTerm, value: "true"}, 1, true},
		{term{kind: literalTerm, value: "loud"}, 0, false},
		{term{kind: iriTerm, value: "1"}, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.t.float()
		if got != tt.want || ok != tt.ok {
			t.Errorf("%v: got %v %v, want %v %v", tt.t, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIRIResolution(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"hash namespace", "@prefix lv2: <http://lv2plug.in/ns/lv2core#> .\n<x> a lv2:Plugin .", "http://lv2plug.in/ns/lv2core#Plugin"},
		{"absolute", "<x> a <http://lv2plug.in/ns/lv2core#Plugin> .", "http://lv2plug.in/ns/lv2core#Plugin"},
		{"relative", "<x> a <synth.so> .", "file:///bundle/synth.so"},
		{"relative hash", "@prefix s: <synth.ttl#> .\n<x> a s:Gain .", "file:///bundle/synth.ttl#Gain"},
		{"bare hash", "@prefix : <#> .\n<x> a :Gain .", "file:///bundle/manifest.ttl#Gain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var blanks int
			ts, err := parseTurtle(tt.doc, "file:///bundle/manifest.ttl", &blanks)
			if err != nil {
				t.Fatal(err)
			}
			got, ok := find(ts, rdfType)
			if !ok || got.value != tt.want {
				t.Errorf("got %q, want %q", got.value, tt.want)
			}
		})
	}
}
