package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"
)

// -------------------- Collaborator seams --------------------

// deviceController programs the synth. *Controller satisfies it.
type deviceController interface {
	SetParam(param, value int) error
	Reset() error
}

// trialRecorder produces the two capture passes. *Rig satisfies it. Both
// methods write the WAV artifact at path and return the captured clip.
type trialRecorder interface {
	RecordNote(ctx context.Context, path string) (*Clip, error)
	RecordFile(ctx context.Context, path string) (*Clip, error)
}

// -------------------- Explorer --------------------

// Explorer drives the sample/program/probe/evidence/persist cycle
// until the deadline or cancellation. One trial at a time: there is exactly
// one physical device on the other end.
type Explorer struct {
	cfg   Config
	spec  ParamSpec
	dev   deviceController
	rec   trialRecorder
	store *TrialStore
	log   *slog.Logger
	rng   *rand.Rand

	tried map[string]struct{} // canonical forms already persisted
	next  int                 // index the next accepted trial receives
}

// NewExplorer seeds the dedup set and the next index from the trial log, so
// a restarted run never repeats persisted work and indices stay dense.
func NewExplorer(cfg Config, spec ParamSpec, dev deviceController, rec trialRecorder,
	store *TrialStore, rng *rand.Rand, log *slog.Logger) (*Explorer, error) {

	if log == nil {
		log = slog.Default()
	}
	if len(spec) == 0 {
		return nil, fmt.Errorf("explore: empty parameter spec")
	}
	tried, err := store.tried()
	if err != nil {
		return nil, err
	}
	last, err := store.lastIndex()
	if err != nil {
		return nil, err
	}
	log.Info("explore: resumed from log", "tried", len(tried), "next_index", last+1)
	return &Explorer{
		cfg:   cfg,
		spec:  spec,
		dev:   dev,
		rec:   rec,
		store: store,
		log:   log,
		rng:   rng,
		tried: tried,
		next:  last + 1,
	}, nil
}

// Run explores until the wall-clock deadline or until ctx is cancelled.
// Both ends are graceful: the in-progress attempt is abandoned without a
// partial record, and the count of accepted trials is always returned.
func (e *Explorer) Run(ctx context.Context) (accepted int, err error) {
	start := time.Now()
	end := start.Add(e.cfg.RunFor)
	e.log.Info("explore: starting", "until", end.Format(time.RFC3339), "params", len(e.spec))

	for time.Now().Before(end) {
		if ctx.Err() != nil {
			e.log.Info("explore: cancelled")
			break
		}
		ok, aerr := e.attempt(ctx)
		if aerr != nil {
			if ctx.Err() != nil {
				e.log.Info("explore: cancelled mid-attempt")
				break
			}
			// Transient: log and keep sampling.
			e.log.Error("explore: attempt failed", "index", e.next, "err", aerr)
			continue
		}
		if ok {
			accepted++
			if err := sleepCtx(ctx, e.cfg.TrialDelay); err != nil {
				break
			}
		}
	}

	e.log.Info("explore: finished", "accepted", accepted, "elapsed", time.Since(start).Round(time.Second))
	return accepted, nil
}

// attempt runs one full cycle over a fresh candidate. It returns (true,nil)
// on accept, (false,nil) on a clean reject (duplicate or silent), and an
// error when device or capture I/O failed mid-attempt.
func (e *Explorer) attempt(ctx context.Context) (bool, error) {
	cand := e.spec.sample(e.rng)
	key := cand.canonical()

	// Dedup gate runs before any device I/O.
	if _, dup := e.tried[key]; dup {
		e.log.Debug("explore: duplicate candidate skipped", "params", key)
		return false, nil
	}

	// Program the device, lowest parameter id first.
	for _, id := range e.spec.params() {
		if err := e.dev.SetParam(id, cand[id]); err != nil {
			return false, fmt.Errorf("program %d=%d: %w", id, cand[id], err)
		}
	}

	// Probe: cheap audibility screen.
	probePath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("%d.wav", e.next))
	clip, probeErr := e.rec.RecordNote(ctx, probePath)
	if err := e.dev.Reset(); err != nil {
		e.log.Warn("explore: reset after probe failed", "err", err)
	}
	if probeErr != nil {
		return false, fmt.Errorf("probe: %w", probeErr)
	}

	if isSilent(clip, e.cfg.SilenceRMS) {
		e.log.Info("explore: silent candidate rejected", "rms", rms(clip), "params", key)
		if err := os.Remove(probePath); err != nil {
			e.log.Warn("explore: delete silent probe artifact", "path", probePath, "err", err)
		}
		return false, nil
	}

	// Evidence: the recording that is actually kept. Reset afterwards
	// regardless of outcome so the device returns to a known baseline.
	evidencePath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("%d_test.wav", e.next))
	_, evErr := e.rec.RecordFile(ctx, evidencePath)
	if err := e.dev.Reset(); err != nil {
		e.log.Warn("explore: reset after evidence failed", "err", err)
	}
	if evErr != nil {
		return false, fmt.Errorf("evidence: %w", evErr)
	}

	if err := e.store.append(e.next, cand); err != nil {
		return false, fmt.Errorf("persist: %w", err)
	}
	e.tried[key] = struct{}{}
	e.log.Info("explore: trial accepted", "index", e.next, "params", key)
	e.next++
	return true, nil
}
