package lv2

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

type termKind uint8

const (
	iriTerm termKind = iota
	blankTerm
	literalTerm
)

// term is an RDF node. Blank node values are made unique across every
// document parsed into the same world.
type term struct {
	kind     termKind
	value    string
	datatype string
	lang     string
}

type triple struct {
	s, p, o term
}

const (
	rdfNS  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	xsdNS  = "http://www.w3.org/2001/XMLSchema#"
	rdfsNS = "http://www.w3.org/2000/01/rdf-schema#"

	rdfType  = rdfNS + "type"
	rdfFirst = rdfNS + "first"
	rdfRest  = rdfNS + "rest"
	rdfNil   = rdfNS + "nil"
)

// turtle parses the subset of Turtle found in LV2 bundles: prefixes, base,
// predicate and object lists, blank node property lists, collections, and
// string, numeric and boolean literals.
type turtle struct {
	src      string
	pos      int
	base     *url.URL
	prefixes map[string]string
	labels   map[string]string
	blanks   *int
	triples  []triple
}

func parseTurtle(src, base string, blanks *int) ([]triple, error) {
	b, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("bad base %q: %w", base, err)
	}
	p := &turtle{src: src, base: b, prefixes: map[string]string{}, labels: map[string]string{}, blanks: blanks}
	for {
		p.skip()
		if p.eof() {
			return p.triples, nil
		}
		if err := p.statement(); err != nil {
			line := 1 + strings.Count(p.src[:min(p.pos, len(p.src))], "\n")
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func (p *turtle) eof() bool { return p.pos >= len(p.src) }

func (p *turtle) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

// skip moves past whitespace and comments.
func (p *turtle) skip() {
	for !p.eof() {
		switch c := p.src[p.pos]; {
		case c == '#':
			for !p.eof() && p.src[p.pos] != '\n' {
				p.pos++
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *turtle) expect(c byte) error {
	p.skip()
	if p.peek() != c {
		return fmt.Errorf("expected %q, found %q", c, p.rest())
	}
	p.pos++
	return nil
}

func (p *turtle) rest() string {
	r := p.src[p.pos:]
	if len(r) > 20 {
		r = r[:20] + "..."
	}
	return r
}

// keyword reports if the input continues with kw followed by whitespace,
// matching case-insensitively when fold is set.
func (p *turtle) keyword(kw string, fold bool) bool {
	if len(p.src)-p.pos <= len(kw) {
		return false
	}
	w := p.src[p.pos : p.pos+len(kw)]
	if (fold && !strings.EqualFold(w, kw)) || (!fold && w != kw) {
		return false
	}
	switch p.src[p.pos+len(kw)] {
	case ' ', '\t', '\n', '\r':
		p.pos += len(kw)
		return true
	}
	return false
}

func (p *turtle) statement() error {
	switch {
	case p.keyword("@prefix", false):
		if err := p.prefix(); err != nil {
			return err
		}
		return p.expect('.')
	case p.keyword("@base", false):
		if err := p.baseDecl(); err != nil {
			return err
		}
		return p.expect('.')
	case p.keyword("PREFIX", true):
		return p.prefix()
	case p.keyword("BASE", true):
		return p.baseDecl()
	}
	var s term
	var err error
	if p.peek() == '[' {
		if s, err = p.blankPropertyList(); err != nil {
			return err
		}
		p.skip()
		if p.peek() == '.' {
			p.pos++
			return nil
		}
	} else if s, err = p.subject(); err != nil {
		return err
	}
	if err := p.predicateObjectList(s); err != nil {
		return err
	}
	return p.expect('.')
}

func (p *turtle) prefix() error {
	p.skip()
	start := p.pos
	for !p.eof() && p.src[p.pos] != ':' {
		p.pos++
	}
	if p.eof() {
		return fmt.Errorf("unterminated prefix declaration")
	}
	name := strings.TrimSpace(p.src[start:p.pos])
	p.pos++
	p.skip()
	iri, err := p.iriRef()
	if err != nil {
		return err
	}
	p.prefixes[name] = iri
	return nil
}

func (p *turtle) baseDecl() error {
	p.skip()
	iri, err := p.iriRef()
	if err != nil {
		return err
	}
	b, err := url.Parse(iri)
	if err != nil {
		return err
	}
	p.base = b
	return nil
}

func (p *turtle) subject() (term, error) {
	p.skip()
	switch p.peek() {
	case '<':
		v, err := p.iriRef()
		return term{kind: iriTerm, value: v}, err
	case '_':
		return p.blankLabel()
	case '(':
		return p.collection()
	}
	v, err := p.prefixedName()
	return term{kind: iriTerm, value: v}, err
}

func (p *turtle) predicateObjectList(s term) error {
	for {
		p.skip()
		switch p.peek() {
		case '.', ']', 0:
			return nil
		}
		pred, err := p.verb()
		if err != nil {
			return err
		}
		if err := p.objectList(s, pred); err != nil {
			return err
		}
		p.skip()
		if p.peek() != ';' {
			return nil
		}
		for p.peek() == ';' {
			p.pos++
			p.skip()
		}
	}
}

func (p *turtle) verb() (term, error) {
	if p.peek() == 'a' && p.pos+1 < len(p.src) && !isNameChar(p.src[p.pos+1]) {
		p.pos++
		return term{kind: iriTerm, value: rdfType}, nil
	}
	if p.peek() == '<' {
		v, err := p.iriRef()
		return term{kind: iriTerm, value: v}, err
	}
	v, err := p.prefixedName()
	return term{kind: iriTerm, value: v}, err
}

func (p *turtle) objectList(s, pred term) error {
	for {
		o, err := p.object()
		if err != nil {
			return err
		}
		p.triples = append(p.triples, triple{s, pred, o})
		p.skip()
		if p.peek() != ',' {
			return nil
		}
		p.pos++
	}
}

func (p *turtle) object() (term, error) {
	p.skip()
	switch c := p.peek(); {
	case c == '<':
		v, err := p.iriRef()
		return term{kind: iriTerm, value: v}, err
	case c == '_':
		return p.blankLabel()
	case c == '[':
		return p.blankPropertyList()
	case c == '(':
		return p.collection()
	case c == '"' || c == '\'':
		return p.literal()
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case p.word("true"), p.word("false"):
		v := "true"
		if c == 'f' {
			v = "false"
		}
		p.pos += len(v)
		return term{kind: literalTerm, value: v, datatype: xsdNS + "boolean"}, nil
	}
	v, err := p.prefixedName()
	return term{kind: iriTerm, value: v}, err
}

// word reports if the input continues with w as a whole word.
func (p *turtle) word(w string) bool {
	if !strings.HasPrefix(p.src[p.pos:], w) {
		return false
	}
	end := p.pos + len(w)
	return end == len(p.src) || !isNameChar(p.src[end])
}

func (p *turtle) newBlank() term {
	*p.blanks++
	return term{kind: blankTerm, value: "_:b" + strconv.Itoa(*p.blanks)}
}

func (p *turtle) blankLabel() (term, error) {
	if !strings.HasPrefix(p.src[p.pos:], "_:") {
		return term{}, fmt.Errorf("bad blank node %q", p.rest())
	}
	p.pos += 2
	start := p.pos
	for !p.eof() && isNameChar(p.src[p.pos]) {
		p.pos++
	}
	p.trimDots(start)
	label := p.src[start:p.pos]
	if v, ok := p.labels[label]; ok {
		return term{kind: blankTerm, value: v}, nil
	}
	t := p.newBlank()
	p.labels[label] = t.value
	return t, nil
}

func (p *turtle) blankPropertyList() (term, error) {
	p.pos++ // [
	b := p.newBlank()
	p.skip()
	if p.peek() != ']' {
		if err := p.predicateObjectList(b); err != nil {
			return b, err
		}
	}
	return b, p.expect(']')
}

func (p *turtle) collection() (term, error) {
	p.pos++ // (
	var items []term
	for {
		p.skip()
		if p.eof() {
			return term{}, fmt.Errorf("unterminated collection")
		}
		if p.peek() == ')' {
			p.pos++
			break
		}
		o, err := p.object()
		if err != nil {
			return term{}, err
		}
		items = append(items, o)
	}
	head := term{kind: iriTerm, value: rdfNil}
	for i := len(items) - 1; i >= 0; i-- {
		n := p.newBlank()
		p.triples = append(p.triples,
			triple{n, term{kind: iriTerm, value: rdfFirst}, items[i]},
			triple{n, term{kind: iriTerm, value: rdfRest}, head})
		head = n
	}
	return head, nil
}

func (p *turtle) iriRef() (string, error) {
	if p.peek() != '<' {
		return "", fmt.Errorf("expected IRI, found %q", p.rest())
	}
	end := strings.IndexByte(p.src[p.pos:], '>')
	if end < 0 {
		return "", fmt.Errorf("unterminated IRI")
	}
	raw := p.src[p.pos+1 : p.pos+end]
	p.pos += end + 1
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bad IRI <%s>: %w", raw, err)
	}
	if ref.IsAbs() {
		return raw, nil
	}
	resolved := p.base.ResolveReference(ref).String()
	// url.URL drops an empty fragment, which namespace IRIs rely on.
	if strings.HasSuffix(raw, "#") && !strings.HasSuffix(resolved, "#") {
		resolved += "#"
	}
	return resolved, nil
}

func (p *turtle) prefixedName() (string, error) {
	start := p.pos
	for !p.eof() && isNameChar(p.src[p.pos]) {
		p.pos++
	}
	p.trimDots(start)
	name := p.src[start:p.pos]
	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		return "", fmt.Errorf("unexpected %q", p.rest())
	}
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", fmt.Errorf("undefined prefix %q", prefix)
	}
	return ns + local, nil
}

// trimDots gives back trailing dots of a name; they end the statement.
func (p *turtle) trimDots(start int) {
	for p.pos > start && p.src[p.pos-1] == '.' {
		p.pos--
	}
}

func (p *turtle) literal() (term, error) {
	q := p.src[p.pos]
	long := strings.HasPrefix(p.src[p.pos:], strings.Repeat(string(q), 3))
	if long {
		p.pos += 3
	} else {
		p.pos++
	}
	var sb strings.Builder
	for {
		if p.eof() {
			return term{}, fmt.Errorf("unterminated string")
		}
		c := p.src[p.pos]
		switch {
		case long && strings.HasPrefix(p.src[p.pos:], strings.Repeat(string(q), 3)):
			p.pos += 3
			return p.literalSuffix(sb.String())
		case !long && c == q:
			p.pos++
			return p.literalSuffix(sb.String())
		case !long && (c == '\n' || c == '\r'):
			return term{}, fmt.Errorf("newline in string")
		case c == '\\':
			if err := p.escape(&sb); err != nil {
				return term{}, err
			}
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
}

func (p *turtle) escape(sb *strings.Builder) error {
	p.pos++
	if p.eof() {
		return fmt.Errorf("unterminated escape")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 't':
		sb.WriteByte('\t')
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case '"', '\'', '\\':
		sb.WriteByte(c)
	case 'u', 'U':
		n := 4
		if c == 'U' {
			n = 8
		}
		if p.pos+n > len(p.src) {
			return fmt.Errorf("short unicode escape")
		}
		r, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
		if err != nil {
			return fmt.Errorf("bad unicode escape: %w", err)
		}
		p.pos += n
		sb.WriteRune(rune(r))
	default:
		return fmt.Errorf("unknown escape \\%c", c)
	}
	return nil
}

func (p *turtle) literalSuffix(v string) (term, error) {
	t := term{kind: literalTerm, value: v}
	switch {
	case p.peek() == '@':
		p.pos++
		start := p.pos
		for !p.eof() && (isAlnum(p.src[p.pos]) || p.src[p.pos] == '-') {
			p.pos++
		}
		t.lang = p.src[start:p.pos]
	case strings.HasPrefix(p.src[p.pos:], "^^"):
		p.pos += 2
		var err error
		if p.peek() == '<' {
			t.datatype, err = p.iriRef()
		} else {
			t.datatype, err = p.prefixedName()
		}
		if err != nil {
			return t, err
		}
	}
	return t, nil
}

func (p *turtle) number() (term, error) {
	start := p.pos
	if c := p.peek(); c == '+' || c == '-' {
		p.pos++
	}
	digits := func() int {
		n := 0
		for !p.eof() && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
			n++
		}
		return n
	}
	dt := "integer"
	n := digits()
	if p.peek() == '.' && p.pos+1 < len(p.src) && p.src[p.pos+1] >= '0' && p.src[p.pos+1] <= '9' {
		p.pos++
		n += digits()
		dt = "decimal"
	}
	if c := p.peek(); c == 'e' || c == 'E' {
		p.pos++
		if c := p.peek(); c == '+' || c == '-' {
			p.pos++
		}
		if digits() == 0 {
			return term{}, fmt.Errorf("bad exponent in %q", p.src[start:p.pos])
		}
		dt = "double"
	}
	if n == 0 {
		return term{}, fmt.Errorf("bad number %q", p.rest())
	}
	return term{kind: literalTerm, value: p.src[start:p.pos], datatype: xsdNS + dt}, nil
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isNameChar(c byte) bool {
	return isAlnum(c) || c == '_' || c == '-' || c == ':' || c == '.' || c == '%' || c >= utf8.RuneSelf
}

// float parses a numeric or boolean literal.
func (t term) float() (float32, bool) {
	if t.kind != literalTerm {
		return 0, false
	}
	switch t.value {
	case "true":
		return 1, true
	case "false":
		return 0, true
	}
	f, err := strconv.ParseFloat(t.value, 32)
	if err != nil {
		return 0, false
	}
	return float32(f), true
}
