package main

import (
	"errors"
	"fmt"
	"time"
)

// -------------------- Timing constants --------------------

// Fixed intervals of the probe/evidence cycle. The device needs the settle
// interval between stream start and the first note, and the tail interval
// to let the release ring out into the recording.
const (
	captureSettle = 100 * time.Millisecond
	noteHold      = 10 * time.Second
	noteTail      = 1 * time.Second
	resetSettle   = 1 * time.Second
	evidenceLen   = 10 * time.Second
	serialSettle  = 500 * time.Millisecond
	serialTimeout = 1 * time.Second
)

const (
	probeNote     = 60 // middle C
	probeVelocity = 127
)

// -------------------- Config --------------------

// Config carries every externally chosen knob of a run. It is built once
// from flags, validated once, and read-only afterwards.
type Config struct {
	// Device selectors.
	MIDIPortIndex int    // index into the MIDI output port list
	AudioDevice   int    // audio input device index, -1 = system default
	SerialPort    string // e.g. /dev/ttyACM0 or COM3
	BaudRate      int

	// Capture parameters.
	SampleRate int
	Channels   int

	// Exploration parameters.
	SilenceRMS float64       // RMS below this counts as silent
	TrialDelay time.Duration // pause between accepted trials
	RunFor     time.Duration // total wall-clock run duration

	// Paths.
	TrialLog  string // append-only CSV of accepted trials
	SpecFile  string // parameter spec CSV
	MIDIFile  string // pre-authored file for the evidence pass
	OutputDir string // where .wav artifacts land
}

func defaultConfig() Config {
	return Config{
		MIDIPortIndex: 3,
		AudioDevice:   2,
		SerialPort:    "/dev/ttyACM0",
		BaudRate:      500000,
		SampleRate:    48000,
		Channels:      2,
		SilenceRMS:    0.01,
		TrialDelay:    500 * time.Millisecond,
		RunFor:        24 * time.Hour,
		TrialLog:      "restricted_parameter_data.csv",
		SpecFile:      "param_specs.csv",
		MIDIFile:      "test_synth.mid",
		OutputDir:     ".",
	}
}

func (c Config) validate() error {
	if c.SerialPort == "" {
		return errors.New("config: serial port is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("config: invalid baud rate %d", c.BaudRate)
	}
	if c.MIDIPortIndex < 0 {
		return fmt.Errorf("config: invalid MIDI port index %d", c.MIDIPortIndex)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: invalid sample rate %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("config: invalid channel count %d", c.Channels)
	}
	if c.SilenceRMS < 0 {
		return fmt.Errorf("config: negative silence threshold %g", c.SilenceRMS)
	}
	if c.TrialDelay < 0 {
		return errors.New("config: negative trial delay")
	}
	if c.RunFor <= 0 {
		return errors.New("config: run duration must be positive")
	}
	if c.TrialLog == "" || c.SpecFile == "" || c.MIDIFile == "" {
		return errors.New("config: trial log, spec file and MIDI file paths are required")
	}
	return nil
}
