package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Fakes --------------------

type fakeDevice struct {
	sets    [][2]int
	resets  int
	failSet bool
}

func (d *fakeDevice) SetParam(param, value int) error {
	if d.failSet {
		return errors.New("serial gone")
	}
	d.sets = append(d.sets, [2]int{param, value})
	return nil
}

func (d *fakeDevice) Reset() error {
	d.resets++
	return nil
}

type fakeRecorder struct {
	level     float32 // amplitude of every sample in returned clips
	noteErr   error
	fileErr   error
	noteCalls int
	fileCalls int
}

func (r *fakeRecorder) clip() *Clip {
	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = r.level
	}
	return &Clip{Samples: samples, Channels: 2, Rate: 48000}
}

func (r *fakeRecorder) RecordNote(_ context.Context, path string) (*Clip, error) {
	r.noteCalls++
	if r.noteErr != nil {
		return nil, r.noteErr
	}
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		return nil, err
	}
	return r.clip(), nil
}

func (r *fakeRecorder) RecordFile(_ context.Context, path string) (*Clip, error) {
	r.fileCalls++
	if r.fileErr != nil {
		return nil, r.fileErr
	}
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		return nil, err
	}
	return r.clip(), nil
}

func testExplorer(t *testing.T, spec ParamSpec, dev *fakeDevice, rec *fakeRecorder, store *TrialStore) *Explorer {
	t.Helper()
	cfg := defaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.TrialDelay = 0
	cfg.RunFor = time.Hour
	e, err := NewExplorer(cfg, spec, dev, rec, store, rand.New(rand.NewPCG(7, 7)), testLogger())
	require.NoError(t, err)
	return e
}

// -------------------- Tests --------------------

func TestAttemptAcceptsAudibleCandidate(t *testing.T) {
	spec := ParamSpec{0: {170}, 1: {0}}
	dev := &fakeDevice{}
	rec := &fakeRecorder{level: 0.5}
	store := tempStore(t)
	e := testExplorer(t, spec, dev, rec, store)

	ok, err := e.attempt(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	// Device programmed in ascending parameter order, reset after each pass.
	assert.Equal(t, [][2]int{{0, 170}, {1, 0}}, dev.sets)
	assert.Equal(t, 2, dev.resets)

	// Both artifacts exist, keyed by index 0.
	assert.FileExists(t, filepath.Join(e.cfg.OutputDir, "0.wav"))
	assert.FileExists(t, filepath.Join(e.cfg.OutputDir, "0_test.wav"))

	last, err := store.lastIndex()
	require.NoError(t, err)
	assert.Equal(t, 0, last)
	assert.Equal(t, 1, e.next)
}

func TestDuplicateRejectedBeforeDeviceIO(t *testing.T) {
	spec := ParamSpec{0: {170}, 1: {0}} // single possible assignment
	dev := &fakeDevice{}
	rec := &fakeRecorder{level: 0.5}
	store := tempStore(t)
	e := testExplorer(t, spec, dev, rec, store)

	ok, err := e.attempt(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	setsAfterFirst := len(dev.sets)
	notesAfterFirst := rec.noteCalls

	ok, err = e.attempt(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "second submission of the same assignment is rejected")
	assert.Equal(t, setsAfterFirst, len(dev.sets), "no device I/O for a duplicate")
	assert.Equal(t, notesAfterFirst, rec.noteCalls, "no capture for a duplicate")

	tried, err := store.tried()
	require.NoError(t, err)
	assert.Len(t, tried, 1, "log gains exactly one row")
}

func TestSilentProbeRejectedAndArtifactDeleted(t *testing.T) {
	spec := ParamSpec{0: {170}}
	dev := &fakeDevice{}
	rec := &fakeRecorder{level: 0} // all-zero capture
	store := tempStore(t)
	e := testExplorer(t, spec, dev, rec, store)

	ok, err := e.attempt(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoFileExists(t, filepath.Join(e.cfg.OutputDir, "0.wav"), "silent probe artifact deleted")
	assert.Equal(t, 0, rec.fileCalls, "no evidence pass for a silent probe")
	assert.Equal(t, 1, dev.resets, "device still reset after the probe")
	assert.Equal(t, 0, e.next, "index not consumed")

	last, err := store.lastIndex()
	require.NoError(t, err)
	assert.Equal(t, -1, last, "nothing persisted")
}

func TestSilentCandidateMayBeRetried(t *testing.T) {
	spec := ParamSpec{0: {170}}
	dev := &fakeDevice{}
	rec := &fakeRecorder{level: 0}
	store := tempStore(t)
	e := testExplorer(t, spec, dev, rec, store)

	_, err := e.attempt(context.Background())
	require.NoError(t, err)

	// The tried-set admits assignments at accept time only, so the same
	// combination is probed again once the device starts making sound.
	rec.level = 0.5
	ok, err := e.attempt(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProgrammingFailureAbortsAttemptNotRun(t *testing.T) {
	spec := ParamSpec{0: {170}}
	dev := &fakeDevice{failSet: true}
	rec := &fakeRecorder{level: 0.5}
	store := tempStore(t)
	e := testExplorer(t, spec, dev, rec, store)

	_, err := e.attempt(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, rec.noteCalls, "no capture after a failed program step")

	// Run keeps sampling through failures and still reports cleanly.
	e.cfg.RunFor = 50 * time.Millisecond
	accepted, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, accepted)
}

func TestProbeFailureStillResetsDevice(t *testing.T) {
	spec := ParamSpec{0: {170}}
	dev := &fakeDevice{}
	rec := &fakeRecorder{level: 0.5, noteErr: errors.New("stream died")}
	store := tempStore(t)
	e := testExplorer(t, spec, dev, rec, store)

	_, err := e.attempt(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, dev.resets)
	assert.Equal(t, 0, rec.fileCalls)
}

func TestEvidenceFailureDoesNotPersist(t *testing.T) {
	spec := ParamSpec{0: {170}}
	dev := &fakeDevice{}
	rec := &fakeRecorder{level: 0.5, fileErr: errors.New("disk full")}
	store := tempStore(t)
	e := testExplorer(t, spec, dev, rec, store)

	_, err := e.attempt(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, dev.resets, "reset runs after the evidence pass regardless of outcome")

	last, err := store.lastIndex()
	require.NoError(t, err)
	assert.Equal(t, -1, last, "no partial record reaches the store")
	assert.Equal(t, 0, e.next)
}

func TestRestartResumesFromLog(t *testing.T) {
	spec := ParamSpec{0: {0, 85, 170, 255}, 1: {0, 127}}
	store := tempStore(t)

	// First run accepts {0:170, 1:0} at index 0.
	dev := &fakeDevice{}
	rec := &fakeRecorder{level: 0.5}
	cfg := defaultConfig()
	cfg.OutputDir = t.TempDir()
	first, err := NewExplorer(cfg, ParamSpec{0: {170}, 1: {0}}, dev, rec, store, rand.New(rand.NewPCG(1, 1)), testLogger())
	require.NoError(t, err)
	ok, err := first.attempt(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// Restart against the same log: index continues at 1 and the persisted
	// assignment is never resampled.
	second, err := NewExplorer(cfg, spec, dev, rec, store, rand.New(rand.NewPCG(2, 2)), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, second.next)
	assert.Contains(t, second.tried, Assignment{0: 170, 1: 0}.canonical())

	setsBefore := len(dev.sets)
	for i := 0; i < 50; i++ {
		ok, err := second.attempt(context.Background())
		require.NoError(t, err)
		if ok {
			break
		}
	}
	for i := setsBefore; i+1 < len(dev.sets); i += 2 {
		pair := Assignment{dev.sets[i][0]: dev.sets[i][1], dev.sets[i+1][0]: dev.sets[i+1][1]}
		assert.NotEqual(t, Assignment{0: 170, 1: 0}.canonical(), pair.canonical(),
			"already-persisted assignment must never reach the device again")
	}

	last, err := store.lastIndex()
	require.NoError(t, err)
	assert.Equal(t, 1, last, "next accepted trial takes index 1")
}

func TestLastIndexSeedsNextFromArbitraryLog(t *testing.T) {
	store := tempStore(t)
	require.NoError(t, store.append(0, Assignment{0: 1}))
	require.NoError(t, store.append(1, Assignment{0: 2}))
	require.NoError(t, store.append(2, Assignment{0: 3}))

	e := testExplorer(t, ParamSpec{0: {9}}, &fakeDevice{}, &fakeRecorder{level: 0.5}, store)
	assert.Equal(t, 3, e.next)
}

func TestRunStopsOnCancellation(t *testing.T) {
	spec := ParamSpec{0: {170}}
	e := testExplorer(t, spec, &fakeDevice{}, &fakeRecorder{level: 0.5}, tempStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	accepted, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, accepted, "cancelled before any attempt")
}

func TestRunHonorsDeadline(t *testing.T) {
	spec := ParamSpec{0: {0, 85, 170, 255}}
	e := testExplorer(t, spec, &fakeDevice{}, &fakeRecorder{level: 0.5}, tempStore(t))
	e.cfg.RunFor = 100 * time.Millisecond

	start := time.Now()
	accepted, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, accepted, 1)
	assert.Less(t, time.Since(start), 5*time.Second)
}
