// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"circlights/internal/audiotest"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSampleRate = 44100
	testBlockSize  = 512
)

// writeWAV records samples to a fresh file and returns its path.
func writeWAV(t *testing.T, name string, rate, channels int, samples []float32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	rec, err := NewRecorder(path, rate, channels)
	require.NoError(t, err)
	require.NoError(t, rec.Write(samples))
	require.NoError(t, rec.Close())
	return path
}

func TestRecorderWritesValidWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	rec, err := NewRecorder(path, testSampleRate, 1)
	require.NoError(t, err)

	block := audiotest.Sine(testBlockSize, testSampleRate, 440, 0.5)
	for range 4 {
		require.NoError(t, rec.Write(block))
	}
	assert.Equal(t, 4*testBlockSize, rec.Frames())
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close(), "close is idempotent")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(testSampleRate), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(recordBitDepth), dec.BitDepth)
}

func TestRecorderErrorCases(t *testing.T) {
	_, err := NewRecorder("/nonexistent/path/file.wav", testSampleRate, 1)
	assert.Error(t, err)

	_, err = NewRecorder(filepath.Join(t.TempDir(), "x.wav"), 0, 1)
	assert.Error(t, err)

	rec, err := NewRecorder(filepath.Join(t.TempDir(), "closed.wav"), testSampleRate, 1)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.Write([]float32{0.1}), os.ErrClosed)
}

func TestRecordingSourceTees(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tee.wav")
	rec, err := NewRecorder(path, testSampleRate, 1)
	require.NoError(t, err)

	src := &audiotest.ScriptedSource{
		SourceName: "scripted",
		Rate:       testSampleRate,
		Blocks:     [][]float32{audiotest.Sine(testBlockSize, testSampleRate, 440, 0.5)},
		Loop:       true,
	}
	tee := Recording(src, rec)
	assert.Equal(t, "scripted", tee.Name())
	_, isPlayback := tee.(Playback)
	assert.False(t, isPlayback)

	buf := make([]float32, testBlockSize)
	for range 3 {
		n, err := tee.ReadBlock(context.Background(), buf)
		require.NoError(t, err)
		assert.Equal(t, testBlockSize, n)
	}
	assert.Equal(t, 3*testBlockSize, rec.Frames())

	require.NoError(t, tee.Close())
	assert.True(t, src.Closed())
	assert.ErrorIs(t, rec.Write(buf), os.ErrClosed)
}

func TestRecordingKeepsPlaybackControls(t *testing.T) {
	path := writeWAV(t, "song.wav", testSampleRate, 1, audiotest.Sine(testSampleRate, testSampleRate, 220, 0.5))
	fs, err := OpenFile(path, FileOptions{SampleRate: testSampleRate})
	require.NoError(t, err)

	rec, err := NewRecorder(filepath.Join(t.TempDir(), "out.wav"), testSampleRate, 1)
	require.NoError(t, err)
	src := Recording(fs, rec)
	defer src.Close()

	pb, ok := src.(Playback)
	require.True(t, ok)
	pb.Pause()
	assert.True(t, fs.Status().Paused)
}

func TestRecorderNoAllocsHotPath(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "alloc.wav"), testSampleRate, 1)
	require.NoError(t, err)
	defer rec.Close()

	block := audiotest.Sine(testBlockSize, testSampleRate, 440, 0.5)
	require.NoError(t, rec.Write(block))

	allocs := testing.AllocsPerRun(50, func() {
		_ = rec.Write(block)
	})
	// The encoder itself may allocate per write; the conversion buffer must not grow.
	assert.Equal(t, testBlockSize, cap(rec.sampleBuf.Data))
	t.Logf("allocs per write: %.0f", allocs)
}
