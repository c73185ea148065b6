package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// -------------------- Logger --------------------

// logger is the package-wide structured logger. Safe to use before initLogger
// is called; defaults to slog.Default().
var logger = slog.Default()

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the stdlib log package also routes through the same handler.
func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug, // include file:line in debug mode
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

// -------------------- Main --------------------

func main() {
	def := defaultConfig()

	listMIDI := flag.Bool("list-midi", false, "list MIDI output devices and exit")
	listAudio := flag.Bool("list-audio", false, "list audio input devices and exit")
	listSerial := flag.Bool("list-serial", false, "list serial ports and exit")
	listAll := flag.Bool("list-all", false, "list all devices and exit")
	debug := flag.Bool("debug", false, "enable debug logging (adds source location)")

	midiPort := flag.Int("midi-port", def.MIDIPortIndex, "MIDI output port index")
	audioDevice := flag.Int("audio-device", def.AudioDevice, "audio input device index (-1 = default)")
	serialDev := flag.String("com-port", def.SerialPort, "serial port device")
	baud := flag.Int("baudrate", def.BaudRate, "serial baud rate")
	sampleRate := flag.Int("sample-rate", def.SampleRate, "audio sample rate in Hz")
	channels := flag.Int("channels", def.Channels, "number of audio channels")
	threshold := flag.Float64("audio-threshold", def.SilenceRMS, "RMS threshold for silence detection")
	delay := flag.Duration("sample-delay", def.TrialDelay, "delay between accepted trials")
	duration := flag.Duration("duration", def.RunFor, "total run duration")
	csvFile := flag.String("csv-file", def.TrialLog, "trial log CSV path")
	specFile := flag.String("param-specs", def.SpecFile, "parameter spec CSV path")
	midiFile := flag.String("midi-file", def.MIDIFile, "MIDI file for the evidence pass")
	outDir := flag.String("out-dir", def.OutputDir, "directory for recorded artifacts")
	flag.Parse()

	if *listAll || *listMIDI || *listAudio || *listSerial {
		if *listAll || *listMIDI {
			fatalOn(listMIDIOutputs())
		}
		if *listAll || *listAudio {
			fatalOn(listAudioInputs())
		}
		if *listAll || *listSerial {
			fatalOn(listSerialPorts())
		}
		return
	}

	initLogger(*debug)

	cfg := Config{
		MIDIPortIndex: *midiPort,
		AudioDevice:   *audioDevice,
		SerialPort:    *serialDev,
		BaudRate:      *baud,
		SampleRate:    *sampleRate,
		Channels:      *channels,
		SilenceRMS:    *threshold,
		TrialDelay:    *delay,
		RunFor:        *duration,
		TrialLog:      *csvFile,
		SpecFile:      *specFile,
		MIDIFile:      *midiFile,
		OutputDir:     *outDir,
	}
	if err := cfg.validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	spec, err := readParamSpecs(cfg.SpecFile, logger)
	if err != nil {
		logger.Error("failed to load parameter specs", "path", cfg.SpecFile, "err", err)
		os.Exit(1)
	}

	logger.Info("patchminer starting",
		"serial", cfg.SerialPort,
		"baud", cfg.BaudRate,
		"midi_port", cfg.MIDIPortIndex,
		"audio_device", cfg.AudioDevice,
		"sample_rate", cfg.SampleRate,
		"trial_log", cfg.TrialLog,
		"params", len(spec),
		"duration", cfg.RunFor,
	)

	// Startup resource acquisition: any failure here aborts before a single
	// trial is attempted.
	port, err := openSerial(cfg.SerialPort, cfg.BaudRate, logger)
	if err != nil {
		logger.Error("serial open failed", "err", err)
		os.Exit(1)
	}
	defer port.Close()

	drv, err := rtmididrv.New()
	if err != nil {
		logger.Error("rtmidi driver init failed", "err", err)
		os.Exit(1)
	}
	defer drv.Close()

	player, err := openMIDIOut(drv, cfg.MIDIPortIndex, logger)
	if err != nil {
		logger.Error("MIDI output open failed", "err", err)
		os.Exit(1)
	}
	defer player.Close()

	rec, err := NewRecorder(cfg, logger)
	if err != nil {
		logger.Error("audio capture init failed", "err", err)
		os.Exit(1)
	}
	defer rec.Close()

	rig, err := NewRig(rec, player, cfg.MIDIFile, logger)
	if err != nil {
		logger.Error("evidence MIDI file load failed", "err", err)
		os.Exit(1)
	}

	ctrl := NewController(port, logger)
	store := NewTrialStore(cfg.TrialLog, logger)
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(os.Getpid())))

	explorer, err := NewExplorer(cfg, spec, ctrl, rig, store, rng, logger)
	if err != nil {
		logger.Error("explorer init failed", "err", err)
		os.Exit(1)
	}

	// Interrupt is a normal termination path: the summary below still runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	accepted, err := explorer.Run(ctx)
	if err != nil {
		logger.Error("exploration failed", "err", err)
		os.Exit(1)
	}
	logger.Info("run complete", "accepted", accepted, "elapsed", time.Since(start).Round(time.Second))
}

func fatalOn(err error) {
	if err != nil {
		slog.Error("device listing failed", "err", err)
		os.Exit(1)
	}
}
