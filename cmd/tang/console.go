package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/cmd"
	"github.com/tangaudio/tang/engine"
)

const (
	pollInterval     = 100 * time.Millisecond
	midiPollInterval = time.Second
)

var errUsage = errors.New("wrong arguments, type help for usage")

// console is the control thread of play: it runs commands typed on standard
// input against the model, polls the model for messages from the audio
// thread and rescans MIDI inputs.
type console struct {
	model    *engine.Model
	midi     cmd.MIDIInput
	clipping func() bool
	path     string
	out      io.Writer
}

type statusData struct {
	Path      string
	Dirty     bool
	BPM       float64
	MIDI      []string
	Clipping  bool
	Keyboards []tang.Keyboard
}

const consoleHelp = `Commands (keyboards, splits and slots count from 0; slot 0 is the instrument):
  status                          show the session
  params K S SLOT                 list parameters of a plugin
  presets K S SLOT                list presets of a plugin
  set K S SLOT PARAM VALUE        set a parameter
  volume K S VALUE                set the instrument volume
  mix K S SLOT VALUE              set the dry/wet mix of an effect
  preset K S SLOT NAME            load a preset
  plugin K S SLOT SOURCE          replace a plugin
  effect add K S INDEX SOURCE     insert an effect before INDEX
  effect remove K S INDEX         remove an effect
  effect move K S FROM TO         move an effect
  range K S LOW..HIGH             set the note range of a split
  channel K CHANNEL               set the MIDI channel of a keyboard, 0 for all
  depth K S MOD TARGET VALUE      set the depth of a modulation target
  rate K S MOD HZ                 set the rate of an LFO
  waveform K S MOD NAME           set the waveform of an LFO
  stage K S MOD STAGE VALUE       set attack, decay, sustain or release
  transpose K S SEMITONES         transpose a split
  bpm VALUE                       set the tempo of all patterns
  record K S BEATS                record a pattern on a split
  pattern K S on|off|loop|once|clear
  save [PATH]                     save the session
  quit                            stop playing
`

func (c *console) run(ctx context.Context, in io.Reader, stream tang.AudioStream) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(in)
		for s.Scan() {
			select {
			case lines <- s.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	lastMIDIPoll := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// no more input, keep playing until interrupted
				lines = nil
				continue
			}
			quit, err := c.exec(line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		case <-tick.C:
			c.model.Poll()
			if time.Since(lastMIDIPoll) >= midiPollInterval {
				c.midi.Poll()
				lastMIDIPoll = time.Now()
			}
			if err := stream.Err(); err != nil {
				return err
			}
		}
	}
}

// exec runs one command line.
func (c *console) exec(line string) (quit bool, err error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false, nil
	}
	args := f[1:]
	switch f[0] {
	case "help", "?":
		fmt.Fprint(c.out, consoleHelp)
	case "quit", "exit":
		return true, nil
	case "status":
		s := c.model.Session()
		return false, render(c.out, "status", statusData{
			Path:      c.path,
			Dirty:     c.model.Dirty(),
			BPM:       s.BPM,
			MIDI:      c.midi.Names(),
			Clipping:  c.clipping(),
			Keyboards: s.Keyboards,
		})
	case "params":
		a, slot, _, err := slotArgs(args, 3)
		if err != nil {
			return false, err
		}
		params, err := c.model.Params(a, slot)
		if err != nil {
			return false, err
		}
		for _, p := range params {
			fmt.Fprintf(c.out, "  %-28s [%g .. %g] default %g\n", p.Name, p.Min, p.Max, p.Default)
		}
	case "presets":
		a, slot, _, err := slotArgs(args, 3)
		if err != nil {
			return false, err
		}
		presets, err := c.model.Presets(a, slot)
		if err != nil {
			return false, err
		}
		for _, p := range presets {
			fmt.Fprintf(c.out, "  %s\n", p.Name)
		}
	case "set":
		if len(args) < 5 {
			return false, errUsage
		}
		a, slot, rest, err := slotArgs(args, 5)
		if err != nil {
			return false, err
		}
		v, err := parseFloat(rest[len(rest)-1])
		if err != nil {
			return false, err
		}
		return false, c.model.SetParam(a, slot, strings.Join(rest[:len(rest)-1], " "), v)
	case "volume":
		a, rest, err := splitArgs(args, 3)
		if err != nil {
			return false, err
		}
		v, err := parseFloat(rest[0])
		if err != nil {
			return false, err
		}
		return false, c.model.SetVolume(a, v)
	case "mix":
		a, slot, rest, err := slotArgs(args, 4)
		if err != nil {
			return false, err
		}
		v, err := parseFloat(rest[0])
		if err != nil {
			return false, err
		}
		return false, c.model.SetMix(a, slot, v)
	case "preset":
		a, slot, rest, err := slotArgs(args, 4)
		if err != nil {
			return false, err
		}
		return false, c.model.LoadPreset(a, slot, strings.Join(rest, " "))
	case "plugin":
		a, slot, rest, err := slotArgs(args, 4)
		if err != nil {
			return false, err
		}
		return false, c.model.SetPlugin(a, slot, strings.Join(rest, " "))
	case "effect":
		return false, c.effect(args)
	case "range":
		a, rest, err := splitArgs(args, 3)
		if err != nil {
			return false, err
		}
		r, err := tang.ParseNoteRange(rest[0])
		if err != nil {
			return false, err
		}
		return false, c.model.SetRange(a, r)
	case "channel":
		n, _, err := ints(args, 2, 2)
		if err != nil {
			return false, err
		}
		return false, c.model.SetChannel(n[0], n[1])
	case "depth":
		n, rest, err := ints(args, 4, 5)
		if err != nil {
			return false, err
		}
		v, err := parseFloat(rest[0])
		if err != nil {
			return false, err
		}
		return false, c.model.SetDepth(engine.Addr{Keyboard: n[0], Split: n[1]}, n[2], n[3], v)
	case "rate":
		n, rest, err := ints(args, 3, 4)
		if err != nil {
			return false, err
		}
		v, err := parseFloat(rest[0])
		if err != nil {
			return false, err
		}
		return false, c.model.SetRate(engine.Addr{Keyboard: n[0], Split: n[1]}, n[2], v)
	case "waveform":
		n, rest, err := ints(args, 3, 4)
		if err != nil {
			return false, err
		}
		return false, c.model.SetWaveform(engine.Addr{Keyboard: n[0], Split: n[1]}, n[2], rest[0])
	case "stage":
		n, rest, err := ints(args, 3, 5)
		if err != nil {
			return false, err
		}
		v, err := parseFloat(rest[1])
		if err != nil {
			return false, err
		}
		return false, c.model.SetStage(engine.Addr{Keyboard: n[0], Split: n[1]}, n[2], rest[0], v)
	case "transpose":
		a, rest, err := splitArgs(args, 3)
		if err != nil {
			return false, err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return false, fmt.Errorf("not a number: %q", rest[0])
		}
		return false, c.model.SetTranspose(a, n)
	case "bpm":
		if len(args) != 1 {
			return false, errUsage
		}
		v, err := parseFloat(args[0])
		if err != nil {
			return false, err
		}
		return false, c.model.SetBPM(v)
	case "record":
		a, rest, err := splitArgs(args, 3)
		if err != nil {
			return false, err
		}
		v, err := parseFloat(rest[0])
		if err != nil {
			return false, err
		}
		if err := c.model.Record(a, v); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "recording %g beats\n", v)
	case "pattern":
		a, rest, err := splitArgs(args, 3)
		if err != nil {
			return false, err
		}
		switch rest[0] {
		case "on":
			return false, c.model.EnablePattern(a, true)
		case "off":
			return false, c.model.EnablePattern(a, false)
		case "loop":
			return false, c.model.SetLooping(a, true)
		case "once":
			return false, c.model.SetLooping(a, false)
		case "clear":
			return false, c.model.SetPattern(a, nil)
		}
		return false, errUsage
	case "save":
		return false, c.save(args)
	default:
		return false, fmt.Errorf("unknown command %q, type help for usage", f[0])
	}
	return false, nil
}

func (c *console) effect(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "add":
		n, rest, err := ints(args[1:], 3, 4)
		if err != nil {
			return err
		}
		return c.model.InsertEffect(engine.Addr{Keyboard: n[0], Split: n[1]}, n[2], tang.PluginSpec{Plugin: rest[0]})
	case "remove":
		n, _, err := ints(args[1:], 3, 3)
		if err != nil {
			return err
		}
		return c.model.RemoveEffect(engine.Addr{Keyboard: n[0], Split: n[1]}, n[2])
	case "move":
		n, _, err := ints(args[1:], 4, 4)
		if err != nil {
			return err
		}
		return c.model.MoveEffect(engine.Addr{Keyboard: n[0], Split: n[1]}, n[2], n[3])
	}
	return errUsage
}

// save writes the session to the given path, the path it was loaded from,
// or a new file in the sessions directory.
func (c *console) save(args []string) error {
	path := c.path
	switch {
	case len(args) > 1:
		return errUsage
	case len(args) == 1:
		path = args[0]
	case path == "":
		dir, err := cmd.SessionDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "session-"+uuid.NewString()+".yaml")
	}
	if err := c.model.Save(path); err != nil {
		return err
	}
	c.path = path
	fmt.Fprintf(c.out, "saved %s\n", path)
	return nil
}

// splitArgs parses the keyboard and split of a command taking n arguments.
func splitArgs(args []string, n int) (engine.Addr, []string, error) {
	if len(args) != n {
		return engine.Addr{}, nil, errUsage
	}
	k, err1 := strconv.Atoi(args[0])
	s, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return engine.Addr{}, nil, errUsage
	}
	return engine.Addr{Keyboard: k, Split: s}, args[2:], nil
}

// slotArgs is splitArgs followed by a slot index. A command taking a name
// as its last argument accepts more than n arguments.
func slotArgs(args []string, n int) (engine.Addr, int, []string, error) {
	if len(args) < n {
		return engine.Addr{}, 0, nil, errUsage
	}
	a, _, err := splitArgs(args[:2], 2)
	if err != nil {
		return a, 0, nil, err
	}
	slot, err := strconv.Atoi(args[2])
	if err != nil {
		return a, 0, nil, errUsage
	}
	return a, slot, args[3:], nil
}

// ints parses the first n of exactly total arguments as integers and
// returns the rest.
func ints(args []string, n, total int) ([]int, []string, error) {
	if len(args) != total {
		return nil, nil, errUsage
	}
	ret := make([]int, n)
	for i := range ret {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, nil, errUsage
		}
		ret[i] = v
	}
	return ret, args[n:], nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}
