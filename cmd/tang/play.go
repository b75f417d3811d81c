package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tangaudio/tang"
	"github.com/tangaudio/tang/cmd"
	"github.com/tangaudio/tang/engine"
)

var playFlags struct {
	device     string
	midi       string
	bufferSize int
	sampleRate int
}

var playCmd = &cobra.Command{
	Use:   "play [session.yaml]",
	Short: "Play a session file, or a default sine session",
	Long: `Load every plugin of a session, open the audio output and the MIDI inputs
and play until interrupted. Without a session file a single keyboard playing
builtin:sine is used.

While playing, commands are read from standard input; type "help" for the
list. Flags override the configuration file for this run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlay,
}

func init() {
	f := playCmd.Flags()
	f.StringVar(&playFlags.device, "device", "", `audio output device name, or "default"`)
	f.StringVar(&playFlags.midi, "midi", "", `MIDI input name filter, or "all"`)
	f.IntVar(&playFlags.bufferSize, "buffer-size", 0, "audio buffer size in frames")
	f.IntVar(&playFlags.sampleRate, "sample-rate", 0, "sample rate in Hz")
}

func runPlay(c *cobra.Command, args []string) error {
	cfg := config
	flags := c.Flags()
	if flags.Changed("device") {
		cfg.Audio.Device = playFlags.device
	}
	if flags.Changed("midi") {
		cfg.MIDI.Device = playFlags.midi
	}
	if flags.Changed("buffer-size") {
		cfg.Audio.BufferSize = playFlags.bufferSize
	}
	if flags.Changed("sample-rate") {
		cfg.Audio.SampleRate = playFlags.sampleRate
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := slog.Default()

	var path string
	session := tang.DefaultSession()
	if len(args) == 1 {
		path = args[0]
		s, err := tang.LoadSession(path)
		if err != nil {
			return err
		}
		session = s
	} else {
		logger.Info("no session given, playing builtin:sine on every keyboard input")
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	sampleRate := float64(cfg.Audio.SampleRate)
	host := cmd.NewHost(cfg, sampleRate, cfg.Audio.BufferSize, logger)
	broker := engine.NewBroker()
	eng, model, err := engine.Build(session, host, broker, engine.Options{
		SampleRate: sampleRate,
		MaxBlock:   cfg.Audio.BufferSize,
		ClipHold:   cfg.ClipHold,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	audio, err := cmd.NewAudioContext(cfg.Audio)
	if err != nil {
		return err
	}
	stream, err := audio.Play(eng.Process)
	if err != nil {
		audio.Close()
		return err
	}
	logger.Info("audio output open", "device", cfg.Audio.Device, "sampleRate", cfg.Audio.SampleRate, "bufferSize", cfg.Audio.BufferSize)

	midi, err := cmd.NewMIDIInput(broker, cfg.MIDI.Device)
	if err != nil {
		logger.Warn("MIDI input unavailable", "err", err)
	}
	if n, err := midi.Open(); err != nil {
		logger.Warn("could not open MIDI inputs", "err", err)
	} else if n == 0 {
		logger.Warn("no MIDI input matches, waiting for devices", "filter", cfg.MIDI.Device)
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	con := &console{
		model:    model,
		midi:     midi,
		clipping: eng.Clipping,
		path:     path,
		out:      c.OutOrStdout(),
	}
	runErr := con.run(ctx, c.InOrStdin(), stream)

	if err := stream.Close(); err != nil {
		logger.Warn("closing audio stream", "err", err)
	}
	if err := audio.Close(); err != nil {
		logger.Warn("closing audio output", "err", err)
	}
	midi.Close()
	model.Close()
	if model.Dirty() {
		logger.Warn("session has unsaved changes")
	}
	return runErr
}
