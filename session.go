package tang

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// Session describes a whole rig: keyboards, their splits, and the plugins,
	// modulators and patterns of each split. Instrument and Effects are the
	// legacy single-chain shape; Normalize folds them into one keyboard with
	// one full range split.
	Session struct {
		BPM       float64    `yaml:"bpm,omitempty"`
		Keyboards []Keyboard `yaml:"keyboards,omitempty"`

		Instrument *PluginSpec  `yaml:"instrument,omitempty"`
		Effects    []PluginSpec `yaml:"effects,omitempty"`
	}

	// Keyboard is a MIDI input context. Channel 0 listens to every channel,
	// 1-16 to one channel only.
	Keyboard struct {
		Name    string  `yaml:"name,omitempty"`
		Channel int     `yaml:"channel,omitempty"`
		Splits  []Split `yaml:"splits"`
	}

	// Split is a note range scoped instrument, its effects in signal order,
	// its modulators and an optional pattern. A nil Range is the full range.
	Split struct {
		Range      *NoteRange   `yaml:"range,omitempty"`
		Transpose  int          `yaml:"transpose,omitempty"`
		Instrument PluginSpec   `yaml:"instrument"`
		Effects    []PluginSpec `yaml:"effects,omitempty"`
		Modulators []Modulator  `yaml:"modulators,omitempty"`
		Pattern    *Pattern     `yaml:"pattern,omitempty"`
	}

	// PluginSpec identifies a plugin and its host side settings. Volume is
	// only used for instruments and Mix only for effects.
	PluginSpec struct {
		Plugin         string   `yaml:"plugin"`
		Preset         string   `yaml:"preset,omitempty"`
		Volume         *float64 `yaml:"volume,omitempty"`
		Mix            *float64 `yaml:"mix,omitempty"`
		PitchBendRange float64  `yaml:"pitch_bend_range,omitempty"`
		Remap          Remap    `yaml:"remap,omitempty"`
		Params         Params   `yaml:"params,omitempty"`
	}

	// Params is an ordered list of parameter overrides, written as a YAML
	// mapping from parameter name to value. Overrides are applied in order,
	// after the preset.
	Params []ParamOverride

	ParamOverride struct {
		Name  string
		Value float64
	}

	// Remap maps a played note to a plugin side note plus a detune in
	// semitones.
	Remap map[byte]RemapTarget

	RemapTarget struct {
		Note   Note    `yaml:"note"`
		Detune float64 `yaml:"detune,omitempty"`
	}

	// Modulator is an LFO or an ADSR envelope driving Targets.
	Modulator struct {
		Type     string      `yaml:"type"` // "lfo" or "envelope"
		Waveform string      `yaml:"waveform,omitempty"`
		Rate     float64     `yaml:"rate,omitempty"`
		Attack   float64     `yaml:"attack,omitempty"`
		Decay    float64     `yaml:"decay,omitempty"`
		Sustain  float64     `yaml:"sustain,omitempty"`
		Release  float64     `yaml:"release,omitempty"`
		Targets  []ModTarget `yaml:"targets,omitempty"`
	}

	// ModTarget addresses exactly one of: a plugin parameter (Slot, Param),
	// a sibling modulator's rate or envelope stage, or a sibling modulator's
	// target depth (ModDepth = [modulator, target]).
	ModTarget struct {
		Slot       int     `yaml:"slot,omitempty"` // 0 = instrument, 1.. = effects
		Param      string  `yaml:"param,omitempty"`
		ModRate    *int    `yaml:"mod_rate,omitempty"`
		ModAttack  *int    `yaml:"mod_attack,omitempty"`
		ModDecay   *int    `yaml:"mod_decay,omitempty"`
		ModSustain *int    `yaml:"mod_sustain,omitempty"`
		ModRelease *int    `yaml:"mod_release,omitempty"`
		ModDepth   []int   `yaml:"mod_depth,omitempty,flow"`
		Depth      float64 `yaml:"depth"`
	}

	// Pattern is a recorded MIDI phrase bound to a split.
	Pattern struct {
		BPM         float64        `yaml:"bpm"`
		LengthBeats float64        `yaml:"length_beats"`
		Looping     bool           `yaml:"looping"`
		Enabled     bool           `yaml:"enabled"`
		BaseNote    *Note          `yaml:"base_note,omitempty"`
		Events      []PatternEvent `yaml:"events,omitempty"`
	}

	// PatternEvent is a note event at a frame offset from the pattern start.
	// In YAML it is written as [frame, status, note, velocity].
	PatternEvent struct {
		Frame    int
		Status   byte
		Note     byte
		Velocity byte
	}
)

const (
	DefaultPitchBendRange = 2.0
	MaxRemapChannels      = 15
	MaxTranspose          = 48
)

var Waveforms = []string{"sine", "triangle", "saw", "square"}

// LoadSession reads a session file. The result is normalized but not
// validated; plugin paths are resolved against the file's directory.
func LoadSession(path string) (*Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file: %w", err)
	}
	var s Session
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %v: %w", path, err)
	}
	s.Normalize()
	s.ResolvePaths(filepath.Dir(path))
	return &s, nil
}

// Save writes the session as YAML, creating parent directories if needed.
func (s *Session) Save(path string) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("could not marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create session directory: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("could not write session file: %w", err)
	}
	return nil
}

// DefaultSession is a single keyboard playing the built-in sine.
func DefaultSession() *Session {
	return &Session{Keyboards: []Keyboard{{
		Name:   "default",
		Splits: []Split{{Instrument: PluginSpec{Plugin: "builtin:sine"}}},
	}}}
}

// Normalize folds the legacy instrument/effects shape into a keyboard.
func (s *Session) Normalize() {
	if s.Instrument != nil && len(s.Keyboards) == 0 {
		s.Keyboards = []Keyboard{{
			Name: "default",
			Splits: []Split{{
				Instrument: *s.Instrument,
				Effects:    s.Effects,
			}},
		}}
	}
	s.Instrument = nil
	s.Effects = nil
}

// ResolvePaths rewrites relative plugin paths against dir.
func (s *Session) ResolvePaths(dir string) {
	for k := range s.Keyboards {
		for i := range s.Keyboards[k].Splits {
			sp := &s.Keyboards[k].Splits[i]
			sp.Instrument.Plugin = ResolvePluginPath(sp.Instrument.Plugin, dir)
			for e := range sp.Effects {
				sp.Effects[e].Plugin = ResolvePluginPath(sp.Effects[e].Plugin, dir)
			}
		}
	}
}

// ResolvePluginPath leaves identifiers containing a colon and absolute paths
// alone and joins relative paths with dir.
func ResolvePluginPath(source, dir string) string {
	if source == "" || strings.Contains(source, ":") || filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(dir, source)
}

// Copy returns a deep copy of the session.
func (s *Session) Copy() *Session {
	ret := *s
	ret.Keyboards = make([]Keyboard, len(s.Keyboards))
	for i, k := range s.Keyboards {
		ret.Keyboards[i] = k.Copy()
	}
	return &ret
}

func (k Keyboard) Copy() Keyboard {
	splits := make([]Split, len(k.Splits))
	for i, s := range k.Splits {
		splits[i] = s.Copy()
	}
	k.Splits = splits
	return k
}

func (s Split) Copy() Split {
	if s.Range != nil {
		r := *s.Range
		s.Range = &r
	}
	s.Instrument = s.Instrument.Copy()
	effects := make([]PluginSpec, len(s.Effects))
	for i, e := range s.Effects {
		effects[i] = e.Copy()
	}
	s.Effects = effects
	mods := make([]Modulator, len(s.Modulators))
	for i, m := range s.Modulators {
		mods[i] = m
		mods[i].Targets = append([]ModTarget(nil), m.Targets...)
	}
	s.Modulators = mods
	if s.Pattern != nil {
		p := s.Pattern.Copy()
		s.Pattern = &p
	}
	return s
}

func (p PluginSpec) Copy() PluginSpec {
	if p.Volume != nil {
		v := *p.Volume
		p.Volume = &v
	}
	if p.Mix != nil {
		v := *p.Mix
		p.Mix = &v
	}
	if p.Remap != nil {
		r := make(Remap, len(p.Remap))
		for k, v := range p.Remap {
			r[k] = v
		}
		p.Remap = r
	}
	p.Params = append(Params(nil), p.Params...)
	return p
}

func (p Pattern) Copy() Pattern {
	if p.BaseNote != nil {
		n := *p.BaseNote
		p.BaseNote = &n
	}
	p.Events = append([]PatternEvent(nil), p.Events...)
	return p
}

// NoteRange returns the split's note range, the full range when unset.
func (s Split) NoteRange() NoteRange {
	if s.Range == nil {
		return FullRange
	}
	return *s.Range
}

func (p PluginSpec) VolumeOrDefault() float64 {
	if p.Volume == nil {
		return 1
	}
	return *p.Volume
}

func (p PluginSpec) MixOrDefault() float64 {
	if p.Mix == nil {
		return 1
	}
	return *p.Mix
}

func (p PluginSpec) PitchBendRangeOrDefault() float64 {
	if p.PitchBendRange <= 0 {
		return DefaultPitchBendRange
	}
	return p.PitchBendRange
}

// Set replaces the override for name, or appends one if there is none.
func (p *Params) Set(name string, value float64) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, ParamOverride{Name: name, Value: value})
}

func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: params must be a mapping from name to value", node.Line)
	}
	*p = (*p)[:0]
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v float64
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("line %d: param %q: %w", node.Content[i+1].Line, node.Content[i].Value, err)
		}
		*p = append(*p, ParamOverride{Name: node.Content[i].Value, Value: v})
	}
	return nil
}

func (p Params) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, o := range p {
		var k, v yaml.Node
		if err := k.Encode(o.Name); err != nil {
			return nil, err
		}
		if err := v.Encode(o.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &k, &v)
	}
	return node, nil
}

func (r *Remap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: remap must be a mapping from note to target", node.Line)
	}
	*r = make(Remap, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		src, err := ParseNote(node.Content[i].Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Content[i].Line, err)
		}
		var t RemapTarget
		if err := node.Content[i+1].Decode(&t); err != nil {
			return err
		}
		(*r)[src] = t
	}
	return nil
}

func (r Remap) MarshalYAML() (any, error) {
	keys := make([]int, 0, len(r))
	for k := range r {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		var v yaml.Node
		if err := v.Encode(r[byte(k)]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: NoteName(byte(k))}, &v)
	}
	return node, nil
}

func (e *PatternEvent) UnmarshalYAML(node *yaml.Node) error {
	var v []int
	if err := node.Decode(&v); err != nil {
		return err
	}
	if len(v) != 4 {
		return fmt.Errorf("line %d: pattern event must be [frame, status, note, velocity]", node.Line)
	}
	if v[0] < 0 {
		return fmt.Errorf("line %d: negative pattern event frame", node.Line)
	}
	*e = PatternEvent{Frame: v[0], Status: byte(v[1]), Note: byte(v[2]), Velocity: byte(v[3])}
	return nil
}

func (e PatternEvent) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range []int{e.Frame, int(e.Status), int(e.Note), int(e.Velocity)} {
		var n yaml.Node
		if err := n.Encode(v); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &n)
	}
	return node, nil
}

// LengthFrames is the pattern length in frames at the given sample rate.
func (p Pattern) LengthFrames(sampleRate float64) int {
	if p.BPM <= 0 {
		return 0
	}
	return int(p.LengthBeats * 60 / p.BPM * sampleRate)
}

// Kind returns which sort of target t is: "param", "rate", "attack", "decay",
// "sustain", "release" or "depth". The second return value is the sibling
// modulator index for all but "param".
func (t ModTarget) Kind() (string, int) {
	switch {
	case t.ModRate != nil:
		return "rate", *t.ModRate
	case t.ModAttack != nil:
		return "attack", *t.ModAttack
	case t.ModDecay != nil:
		return "decay", *t.ModDecay
	case t.ModSustain != nil:
		return "sustain", *t.ModSustain
	case t.ModRelease != nil:
		return "release", *t.ModRelease
	case len(t.ModDepth) > 0:
		return "depth", t.ModDepth[0]
	}
	return "param", -1
}
