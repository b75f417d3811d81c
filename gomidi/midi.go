package gomidi

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tangaudio/tang"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"golang.org/x/text/cases"
)

type (
	// Queue receives decoded events. PushMIDI is called from the driver's
	// listener threads and must not block.
	Queue interface {
		PushMIDI(e tang.MIDIEvent) bool
	}

	// Manager keeps one listener open for every MIDI input whose name
	// matches the device filter. Poll picks up devices plugged in since the
	// last call and retires the ones that went away.
	Manager struct {
		queue  Queue
		filter deviceFilter
		logger *slog.Logger

		mu     sync.Mutex
		driver *rtmididrv.Driver
		inputs map[string]*input
	}

	input struct {
		in   drivers.In
		stop func()
	}

	deviceFilter struct {
		all    bool
		folded string
	}
)

// NewManager opens the rtmidi driver. The filter is matched as a case
// insensitive substring of the device name; "" or "all" accepts every input.
func NewManager(queue Queue, filter string) (*Manager, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, &tang.DeviceError{Device: "midi", Err: err}
	}
	return &Manager{
		queue:  queue,
		filter: newDeviceFilter(filter),
		logger: slog.Default().With("component", "midi"),
		driver: drv,
		inputs: map[string]*input{},
	}, nil
}

// Open starts listening on every matching input that is not open yet and
// returns how many were opened. A device that fails to open is logged and
// skipped.
func (m *Manager) Open() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.driver == nil {
		return 0, fmt.Errorf("MIDI manager is closed")
	}
	ins, err := m.driver.Ins()
	if err != nil {
		return 0, &tang.DeviceError{Device: "midi", Err: err}
	}
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	add, remove := m.diff(names)
	for _, name := range remove {
		m.logger.Info("MIDI input disappeared", "device", name)
		m.inputs[name].close()
		delete(m.inputs, name)
	}
	opened := 0
	for _, i := range add {
		name := names[i]
		if err := m.open(ins[i], name); err != nil {
			m.logger.Warn("could not open MIDI input", "device", name, "err", err)
			continue
		}
		m.logger.Info("opened MIDI input", "device", name)
		opened++
	}
	return opened, nil
}

// Poll is Open for the periodic hot-plug scan: it only logs.
func (m *Manager) Poll() {
	n, err := m.Open()
	switch {
	case err != nil:
		m.logger.Warn("MIDI poll failed", "err", err)
	case n > 0:
		m.logger.Info("opened new MIDI devices", "count", n)
	}
}

// Names lists the open inputs in alphabetical order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]string, 0, len(m.inputs))
	for name := range m.inputs {
		ret = append(ret, name)
	}
	slices.Sort(ret)
	return ret
}

// Close stops every listener and closes the driver.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.driver == nil {
		return
	}
	for name, i := range m.inputs {
		i.close()
		delete(m.inputs, name)
	}
	m.driver.Close()
	m.driver = nil
}

// diff returns the indices of names that should be opened and the open
// inputs that are no longer present.
func (m *Manager) diff(names []string) (add []int, remove []string) {
	for i, name := range names {
		if _, ok := m.inputs[name]; !ok && m.filter.match(name) && !slices.Contains(names[:i], name) {
			add = append(add, i)
		}
	}
	for name := range m.inputs {
		if !slices.Contains(names, name) {
			remove = append(remove, name)
		}
	}
	slices.Sort(remove)
	return add, remove
}

func (m *Manager) open(in drivers.In, name string) error {
	if err := in.Open(); err != nil {
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		e, ok := decode(msg)
		if !ok {
			return
		}
		if m.logger.Enabled(context.Background(), slog.LevelDebug) {
			m.logger.Debug("MIDI in", "device", name, "msg", msg.String())
		}
		if !m.queue.PushMIDI(e) {
			m.logger.Warn("MIDI queue full, dropping event", "device", name)
		}
	})
	if err != nil {
		in.Close()
		return fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	m.inputs[name] = &input{in: in, stop: stop}
	return nil
}

func (i *input) close() {
	if i.stop != nil {
		i.stop()
	}
	if i.in.IsOpen() {
		i.in.Close()
	}
}

// InputNames lists every MIDI input the driver can see.
func InputNames() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, &tang.DeviceError{Device: "midi", Err: err}
	}
	defer drv.Close()
	ins, err := drv.Ins()
	if err != nil {
		return nil, &tang.DeviceError{Device: "midi", Err: err}
	}
	ret := make([]string, len(ins))
	for i, in := range ins {
		ret[i] = in.String()
	}
	return ret, nil
}

// decode keeps channel voice messages. The event is placed at the start of
// the next buffer.
func decode(msg []byte) (tang.MIDIEvent, bool) {
	if len(msg) == 0 || len(msg) > 3 || msg[0] < 0x80 || msg[0] >= 0xf0 {
		return tang.MIDIEvent{}, false
	}
	var e tang.MIDIEvent
	copy(e.Data[:], msg)
	return e, true
}

func newDeviceFilter(filter string) deviceFilter {
	filter = strings.TrimSpace(filter)
	if filter == "" || strings.EqualFold(filter, "all") {
		return deviceFilter{all: true}
	}
	return deviceFilter{folded: cases.Fold().String(filter)}
}

func (f deviceFilter) match(name string) bool {
	return f.all || strings.Contains(cases.Fold().String(name), f.folded)
}
