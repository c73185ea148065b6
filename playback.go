package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"gitlab.com/gomidi/midi/v2/smf"
)

// -------------------- Context-aware sleep --------------------

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// -------------------- MIDI file loading --------------------

// timedMsg is one playable event at its absolute offset from file start.
type timedMsg struct {
	at  time.Duration
	msg midi.Message
}

// loadMIDIFile reads an SMF file and flattens every playable event from all
// tracks into one time-ordered sequence. Meta events are dropped.
func loadMIDIFile(path string) ([]timedMsg, error) {
	var events []timedMsg
	rd := smf.ReadTracks(path).Do(func(ev smf.TrackEvent) {
		if !ev.Message.IsPlayable() {
			return
		}
		events = append(events, timedMsg{
			at:  time.Duration(ev.AbsMicroSeconds) * time.Microsecond,
			msg: midi.Message(ev.Message.Bytes()),
		})
	})
	if err := rd.Error(); err != nil {
		return nil, fmt.Errorf("playback: read %s: %w", path, err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].at < events[j].at })
	return events, nil
}

// -------------------- Player --------------------

// Player drives one MIDI output port.
type Player struct {
	out  drivers.Out
	send func(midi.Message) error
	log  *slog.Logger
}

// openMIDIOut opens the output port at the given index. Failing to open the
// configured port is fatal to the run.
func openMIDIOut(drv *rtmididrv.Driver, index int, log *slog.Logger) (*Player, error) {
	if log == nil {
		log = slog.Default()
	}
	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("playback: list outputs: %w", err)
	}
	if index >= len(outs) {
		return nil, fmt.Errorf("playback: MIDI port index %d out of range (%d ports)", index, len(outs))
	}
	out := outs[index]
	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("playback: open %q: %w", out.String(), err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("playback: sender for %q: %w", out.String(), err)
	}
	log.Info("playback: MIDI output opened", "device", out.String(), "index", index)
	return &Player{out: out, send: send, log: log}, nil
}

// Close releases the output port.
func (p *Player) Close() {
	if p.out != nil {
		_ = p.out.Close()
		p.out = nil
	}
}

// playNote performs the probe gesture: settle, note on, hold, note off,
// tail. The note-off is sent even when the hold is interrupted, so a
// cancelled run never leaves the synth sounding.
func (p *Player) playNote(ctx context.Context) error {
	if err := sleepCtx(ctx, captureSettle); err != nil {
		return err
	}
	if err := p.send(midi.NoteOn(0, probeNote, probeVelocity)); err != nil {
		return fmt.Errorf("playback: note on: %w", err)
	}
	holdErr := sleepCtx(ctx, noteHold)
	if err := p.send(midi.NoteOff(0, probeNote)); err != nil {
		if holdErr == nil {
			return fmt.Errorf("playback: note off: %w", err)
		}
	}
	if holdErr != nil {
		return holdErr
	}
	return sleepCtx(ctx, noteTail)
}

// playTimed forwards events at their file-relative offsets until the
// wall-clock deadline, then sleeps out any remainder so total elapsed time
// equals the deadline exactly (modulo sleep resolution).
func playTimed(ctx context.Context, events []timedMsg, deadline time.Duration, send func(midi.Message) error) error {
	start := time.Now()
	for _, ev := range events {
		if ev.at >= deadline {
			break
		}
		if err := sleepCtx(ctx, ev.at-time.Since(start)); err != nil {
			return err
		}
		if time.Since(start) >= deadline {
			break
		}
		if err := send(ev.msg); err != nil {
			return fmt.Errorf("playback: send event: %w", err)
		}
	}
	return sleepCtx(ctx, deadline-time.Since(start))
}

// playFile plays the preloaded event sequence on the player's port.
func (p *Player) playFile(ctx context.Context, events []timedMsg, deadline time.Duration) error {
	return playTimed(ctx, events, deadline, p.send)
}

// -------------------- Rig --------------------

// Rig ties playback to capture: each pass keeps the input stream open for
// the entire duration of the MIDI activity, then persists the clip.
type Rig struct {
	rec    *Recorder
	player *Player
	events []timedMsg // preloaded evidence file
	log    *slog.Logger
}

func NewRig(rec *Recorder, player *Player, midiFile string, log *slog.Logger) (*Rig, error) {
	if log == nil {
		log = slog.Default()
	}
	events, err := loadMIDIFile(midiFile)
	if err != nil {
		return nil, err
	}
	log.Info("playback: evidence file loaded", "file", midiFile, "events", len(events))
	return &Rig{rec: rec, player: player, events: events, log: log}, nil
}

// RecordNote captures the short single-note probe to path and returns the
// clip for the silence gate.
func (r *Rig) RecordNote(ctx context.Context, path string) (*Clip, error) {
	clip, err := r.rec.record(func() error {
		return r.player.playNote(ctx)
	})
	if err != nil {
		return nil, err
	}
	if err := clip.writeWAV(path); err != nil {
		return nil, err
	}
	r.log.Debug("playback: probe recorded", "path", path, "frames", clip.Frames())
	return clip, nil
}

// RecordFile captures the evidence pass to path: the pre-authored MIDI file
// played against the deadline while the input stream runs.
func (r *Rig) RecordFile(ctx context.Context, path string) (*Clip, error) {
	clip, err := r.rec.record(func() error {
		return r.player.playFile(ctx, r.events, evidenceLen)
	})
	if err != nil {
		return nil, err
	}
	if err := clip.writeWAV(path); err != nil {
		return nil, err
	}
	r.log.Debug("playback: evidence recorded", "path", path, "frames", clip.Frames())
	return clip, nil
}
