package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureBufPreservesArrivalOrder(t *testing.T) {
	buf := &captureBuf{}
	buf.push([]float32{1, 2})
	buf.push([]float32{3})
	buf.push([]float32{4, 5, 6})

	clip := buf.clip(48000, 1)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, clip.Samples)
	assert.Equal(t, 48000, clip.Rate)
	assert.Equal(t, 6, clip.Frames())
}

func TestCaptureBufCopiesCallbackChunks(t *testing.T) {
	buf := &captureBuf{}
	chunk := []float32{0.5, 0.5}
	buf.push(chunk)
	// PortAudio reuses the callback slice; mutating it afterwards must not
	// bleed into the stored data.
	chunk[0] = -1
	chunk[1] = -1

	clip := buf.clip(48000, 2)
	assert.Equal(t, []float32{0.5, 0.5}, clip.Samples)
	assert.Equal(t, 1, clip.Frames())
}

func TestEmptyCaptureYieldsEmptyClip(t *testing.T) {
	buf := &captureBuf{}
	clip := buf.clip(44100, 2)
	assert.Empty(t, clip.Samples)
	assert.Equal(t, 0, clip.Frames())
}

func TestWriteWAVRoundTrip(t *testing.T) {
	clip := &Clip{
		Samples:  []float32{0, 0.5, -0.5, 1, -1, 0.25},
		Channels: 2,
		Rate:     48000,
	}
	path := filepath.Join(t.TempDir(), "probe.wav")
	require.NoError(t, clip.writeWAV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	pcm, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 2, pcm.Format.NumChannels)
	assert.Equal(t, 48000, pcm.Format.SampleRate)
	require.Len(t, pcm.Data, len(clip.Samples))
	assert.Equal(t, 0, pcm.Data[0])
	assert.InDelta(t, 16383, pcm.Data[1], 1)
	assert.InDelta(t, -16383, pcm.Data[2], 1)
	assert.InDelta(t, 32767, pcm.Data[3], 1)
}

func TestWriteWAVClipsOutOfRangeSamples(t *testing.T) {
	clip := &Clip{Samples: []float32{2, -2}, Channels: 1, Rate: 8000}
	path := filepath.Join(t.TempDir(), "hot.wav")
	require.NoError(t, clip.writeWAV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	pcm, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.InDelta(t, 32767, pcm.Data[0], 1)
	assert.InDelta(t, -32767, pcm.Data[1], 1)
}

func TestWriteWAVFailsOnUnwritablePath(t *testing.T) {
	clip := &Clip{Samples: []float32{0}, Channels: 1, Rate: 8000}
	err := clip.writeWAV(filepath.Join(t.TempDir(), "missing", "deep", "out.wav"))
	assert.Error(t, err)
}
