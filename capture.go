package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
)

// -------------------- Clip --------------------

// Clip is a finished capture: interleaved float frames at a fixed rate.
// Immutable once built.
type Clip struct {
	Samples  []float32 // interleaved
	Channels int
	Rate     int
}

// Frames returns the number of multi-channel frames in the clip.
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// writeWAV persists the clip as 16-bit PCM. A failed write is a recording
// failure for the attempt that produced the clip.
func (c *Clip) writeWAV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("capture: create %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, c.Rate, 16, c.Channels, 1)

	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: c.Channels, SampleRate: c.Rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return fmt.Errorf("capture: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("capture: finalize %s: %w", path, err)
	}
	return f.Close()
}

// -------------------- Capture buffer --------------------

// captureBuf accumulates chunks delivered by the audio callback. Single
// producer (the PortAudio callback goroutine), single consumer that reads
// only after the stream has been stopped. The mutex covers the handoff.
type captureBuf struct {
	mu     sync.Mutex
	chunks [][]float32
}

// push copies in; PortAudio reuses the callback slice after return.
func (b *captureBuf) push(in []float32) {
	chunk := make([]float32, len(in))
	copy(chunk, in)
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
}

// clip concatenates every delivered chunk, in arrival order, into one Clip.
func (b *captureBuf) clip(rate, channels int) *Clip {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, c := range b.chunks {
		total += len(c)
	}
	samples := make([]float32, 0, total)
	for _, c := range b.chunks {
		samples = append(samples, c...)
	}
	return &Clip{Samples: samples, Channels: channels, Rate: rate}
}

// -------------------- Recorder --------------------

// Recorder owns the PortAudio session and the resolved input device.
type Recorder struct {
	dev *portaudio.DeviceInfo
	cfg Config
	log *slog.Logger
}

// NewRecorder initialises PortAudio and resolves the configured input
// device. Failure here is fatal to the run, by design: no trial should be
// attempted without a working capture path.
func NewRecorder(cfg Config, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: portaudio init: %w", err)
	}
	dev, err := resolveInputDevice(cfg.AudioDevice)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	if dev.MaxInputChannels < cfg.Channels {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("capture: device %q has %d input channels, need %d",
			dev.Name, dev.MaxInputChannels, cfg.Channels)
	}
	log.Info("capture: input device resolved", "device", dev.Name, "channels", cfg.Channels, "rate", cfg.SampleRate)
	return &Recorder{dev: dev, cfg: cfg, log: log}, nil
}

func resolveInputDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("capture: default input device: %w", err)
		}
		return dev, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w", err)
	}
	if index >= len(devs) {
		return nil, fmt.Errorf("capture: audio device index %d out of range (%d devices)", index, len(devs))
	}
	return devs[index], nil
}

// Close releases the PortAudio session.
func (r *Recorder) Close() {
	if err := portaudio.Terminate(); err != nil {
		r.log.Warn("capture: portaudio terminate", "err", err)
	}
}

// record opens an input stream, runs play while frames accumulate, then
// stops the stream and materialises the clip. Stop blocks until in-flight
// callbacks have returned, so the clip is only read after the producer has
// definitively shut down. The stream is closed on every path.
func (r *Recorder) record(play func() error) (*Clip, error) {
	buf := &captureBuf{}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   r.dev,
			Channels: r.cfg.Channels,
			Latency:  r.dev.DefaultHighInputLatency,
		},
		SampleRate:      float64(r.cfg.SampleRate),
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}
	stream, err := portaudio.OpenStream(params, func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags&portaudio.InputOverflow != 0 {
			// Partial data is still usable evidence; report, don't abort.
			r.log.Warn("capture: input overflow")
		}
		buf.push(in)
	})
	if err != nil {
		return nil, fmt.Errorf("capture: open stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("capture: start stream: %w", err)
	}
	playErr := play()
	if err := stream.Stop(); err != nil {
		r.log.Warn("capture: stop stream", "err", err)
	}
	if playErr != nil {
		return nil, playErr
	}
	return buf.clip(r.cfg.SampleRate, r.cfg.Channels), nil
}
