//go:build plugin

package main

import (
	"log/slog"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/cmd"
	"github.com/tangaudio/tang/engine"
	"gopkg.in/yaml.v3"
	"pipelined.dev/audio/vst2"
)

const (
	pluginName = "tang"
	maxBlock   = 1024
)

var pluginID = [4]byte{'T', 'a', 'n', 'g'}

// control owns the model. Everything the host asks from its own threads is
// run on the control goroutine through exec.
type control struct {
	model  *engine.Model
	exec   chan func()
	quit   chan struct{}
	done   chan struct{}
	tempo  atomic.Uint64
	logger *slog.Logger
}

func (c *control) run() {
	defer close(c.done)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	bpm := 0.0
	for {
		select {
		case f := <-c.exec:
			f()
		case <-tick.C:
			c.model.Poll()
			if t := math.Float64frombits(c.tempo.Load()); t > 0 && t != bpm {
				if err := c.model.SetBPM(t); err != nil {
					c.logger.Warn("could not follow host tempo", "bpm", t, "err", err)
				}
				bpm = t
			}
		case <-c.quit:
			return
		}
	}
}

// call runs f on the control goroutine and waits for it.
func (c *control) call(f func()) {
	done := make(chan struct{})
	c.exec <- func() {
		f()
		close(done)
	}
	<-done
}

// recoveryPath is where an unsaved session is written when the plugin is
// closed.
func recoveryPath() string {
	dir, err := tang.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "recovery", "tang-vsti-recovery-"+uuid.NewString()+".yaml")
}

func init() {
	version := int32(100)
	vst2.PluginAllocator = func(h vst2.Host) (vst2.Plugin, vst2.Dispatcher) {
		logger := slog.Default()
		cfg, err := tang.LoadConfig("")
		if err != nil {
			logger.Warn("using default configuration", "err", err)
			cfg = tang.DefaultConfig()
		}
		sampleRate := float64(cfg.Audio.SampleRate)
		host := cmd.NewHost(cfg, sampleRate, maxBlock, logger)
		broker := engine.NewBroker()
		opts := engine.Options{SampleRate: sampleRate, MaxBlock: maxBlock, ClipHold: cfg.ClipHold, Logger: logger}
		eng, model, err := engine.Build(tang.DefaultSession(), host, broker, opts)
		if err != nil {
			// the default session only uses built-ins
			panic(err)
		}
		c := &control{
			model:  model,
			exec:   make(chan func()),
			quit:   make(chan struct{}),
			done:   make(chan struct{}),
			logger: logger,
		}
		go c.run()
		buf := make(tang.AudioBuffer, maxBlock)
		return vst2.Plugin{
				UniqueID:       pluginID,
				Version:        version,
				InputChannels:  0,
				OutputChannels: 2,
				Name:           pluginName,
				Vendor:         "tangaudio/tang",
				Category:       vst2.PluginCategorySynth,
				Flags:          vst2.PluginIsSynth,
				ProcessFloatFunc: func(in, out vst2.FloatBuffer) {
					if info := h.GetTimeInfo(vst2.TempoValid); info != nil && info.Flags&vst2.TempoValid != 0 && info.Tempo > 0 {
						c.tempo.Store(math.Float64bits(info.Tempo))
					}
					left := out.Channel(0)
					right := out.Channel(1)
					buf = buf.Resize(out.Frames)
					eng.Process(buf)
					for i := 0; i < out.Frames; i++ {
						left[i], right[i] = buf[i][0], buf[i][1]
					}
				},
			}, vst2.Dispatcher{
				CanDoFunc: func(pcds vst2.PluginCanDoString) vst2.CanDoResponse {
					switch pcds {
					case vst2.PluginCanReceiveEvents, vst2.PluginCanReceiveMIDIEvent, vst2.PluginCanReceiveTimeInfo:
						return vst2.YesCanDo
					}
					return vst2.NoCanDo
				},
				ProcessEventsFunc: func(ev *vst2.EventsPtr) {
					for i := 0; i < ev.NumEvents(); i++ {
						if m, ok := ev.Event(i).(*vst2.MIDIEvent); ok {
							broker.PushMIDI(tang.MIDIEvent{Frame: int(m.DeltaFrames), Data: m.Data})
						}
					}
				},
				CloseFunc: func() {
					c.call(func() {
						if !model.Dirty() {
							return
						}
						if path := recoveryPath(); path != "" {
							if err := model.Save(path); err != nil {
								logger.Error("could not save recovery session", "err", err)
							} else {
								logger.Info("unsaved session written", "path", path)
							}
						}
					})
					close(c.quit)
					<-c.done
					model.Close()
					eng.Close()
				},
				GetChunkFunc: func(isPreset bool) []byte {
					var b []byte
					c.call(func() {
						var err error
						if b, err = yaml.Marshal(model.Session()); err != nil {
							logger.Error("could not store session", "err", err)
						}
					})
					return b
				},
				SetChunkFunc: func(data []byte, isPreset bool) {
					var s tang.Session
					if err := yaml.Unmarshal(data, &s); err != nil {
						logger.Error("could not read stored session", "err", err)
						return
					}
					s.Normalize()
					if err := s.Validate(); err != nil {
						logger.Error("stored session is invalid", "err", err)
						return
					}
					c.call(func() {
						if err := model.Replace(&s); err != nil {
							logger.Error("could not restore session", "err", err)
						}
					})
				},
			}
	}
}

func main() {}
