// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"circlights/internal/audiotest"
	"circlights/internal/config"
	apperrors "circlights/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp returns n samples rising linearly from 0 towards 1.
func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) / float32(n)
	}
	return out
}

func openRamp(t *testing.T, n int, opts FileOptions) *FileSource {
	t.Helper()
	path := writeWAV(t, "ramp.wav", testSampleRate, 1, ramp(n))
	if opts.SampleRate == 0 {
		opts.SampleRate = testSampleRate
	}
	fs, err := OpenFile(path, opts)
	require.NoError(t, err)
	return fs
}

func read(t *testing.T, s Source, n int) []float32 {
	t.Helper()
	buf := make([]float32, n)
	got, err := s.ReadBlock(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, n, got)
	return buf
}

func TestFileSourceDecodesWAV(t *testing.T) {
	fs := openRamp(t, 4*testBlockSize, FileOptions{})
	assert.Equal(t, float64(testSampleRate), fs.SampleRate())
	assert.Equal(t, "file:ramp.wav", fs.Name())

	block := read(t, fs, testBlockSize)
	for i, s := range block {
		assert.InDelta(t, float64(i)/float64(4*testBlockSize), float64(s), 1e-6)
	}

	st := fs.Status()
	assert.InDelta(t, 0.25, st.Position, 1e-9)
	assert.InDelta(t, float64(4*testBlockSize)/testSampleRate, st.Duration, 1e-9)
	assert.False(t, st.Paused)
}

func TestFileSourceDownmixesStereo(t *testing.T) {
	frames := 256
	interleaved := make([]float32, 2*frames)
	for i := range frames {
		interleaved[2*i] = 0.5
		interleaved[2*i+1] = -0.1
	}
	path := writeWAV(t, "stereo.wav", testSampleRate, 2, interleaved)
	fs, err := OpenFile(path, FileOptions{})
	require.NoError(t, err)

	block := read(t, fs, frames)
	for _, s := range block {
		assert.InDelta(t, 0.2, float64(s), 1e-6)
	}
}

func TestFileSourceResamples(t *testing.T) {
	path := writeWAV(t, "low.wav", 22050, 1, audiotest.Sine(22050, 22050, 100, 0.5))
	fs, err := OpenFile(path, FileOptions{SampleRate: testSampleRate})
	require.NoError(t, err)
	assert.Equal(t, float64(testSampleRate), fs.SampleRate())
	assert.InDelta(t, 1.0, fs.Status().Duration, 0.001)
}

func TestFileSourceEndWithoutLoop(t *testing.T) {
	fs := openRamp(t, testBlockSize+100, FileOptions{})

	read(t, fs, testBlockSize)
	tail := read(t, fs, testBlockSize)
	assert.NotZero(t, tail[99])
	for _, s := range tail[100:] {
		assert.Zero(t, s)
	}
	st := fs.Status()
	assert.True(t, st.Ended)
	assert.True(t, st.Paused)

	// Further reads are silence at the same cadence.
	for _, s := range read(t, fs, testBlockSize) {
		assert.Zero(t, s)
	}

	fs.Play()
	st = fs.Status()
	assert.False(t, st.Ended)
	assert.Zero(t, st.Position)
	assert.Zero(t, read(t, fs, 1)[0])
	assert.NotZero(t, read(t, fs, 1)[0])
}

func TestFileSourceLoops(t *testing.T) {
	n := 300
	fs := openRamp(t, n, FileOptions{Loop: true})

	block := read(t, fs, 2*n+50)
	assert.InDelta(t, float64(block[0]), float64(block[n]), 1e-6)
	assert.InDelta(t, float64(block[10]), float64(block[2*n+10]), 1e-6)
	assert.False(t, fs.Status().Ended)
	assert.InDelta(t, 50.0/float64(n), fs.Status().Position, 1e-9)
}

func TestFileSourcePlaybackControls(t *testing.T) {
	fs := openRamp(t, 4*testBlockSize, FileOptions{})

	fs.Pause()
	for _, s := range read(t, fs, testBlockSize) {
		assert.Zero(t, s)
	}
	assert.Zero(t, fs.Status().Position, "paused playback does not advance")

	require.NoError(t, fs.Seek(0.5))
	fs.Play()
	block := read(t, fs, 1)
	assert.InDelta(t, 0.5, float64(block[0]), 1e-6)

	fs.Stop()
	st := fs.Status()
	assert.True(t, st.Paused)
	assert.Zero(t, st.CurrentTime)

	for _, bad := range []float64{-0.1, 1.5, math.NaN()} {
		err := fs.Seek(bad)
		assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid), "seek %g", bad)
	}

	fs.SetLoop(true)
	assert.True(t, fs.Status().Loop)
}

func TestFileSourcePacing(t *testing.T) {
	fs := openRamp(t, testSampleRate, FileOptions{Realtime: true, Loop: true})
	block := int(testSampleRate / 100) // 10ms

	start := time.Now()
	for range 5 {
		read(t, fs, block)
	}
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fs.ReadBlock(ctx, make([]float32, block))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenFileErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "noise.wav")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not RIFF"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"unsupported extension", filepath.Join(dir, "song.flac")},
		{"missing file", filepath.Join(dir, "missing.mp3")},
		{"corrupt wav", garbage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenFile(tt.path, FileOptions{})
			require.Error(t, err)
			assert.Equal(t, apperrors.KindConfigurationInvalid, apperrors.KindOf(err))
		})
	}
}

func TestOpenSelectsSource(t *testing.T) {
	path := writeWAV(t, "cfg.wav", testSampleRate, 1, ramp(1000))
	rec := filepath.Join(t.TempDir(), "rec.wav")

	src, err := Open(config.AudioConfig{
		Source:     config.SourceFile,
		File:       path,
		SampleRate: testSampleRate,
		RecordPath: rec,
	})
	require.NoError(t, err)
	_, ok := src.(Playback)
	assert.True(t, ok)
	require.NoError(t, src.Close())
	_, err = os.Stat(rec)
	assert.NoError(t, err)

	_, err = Open(config.AudioConfig{Source: "radio"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid))
}

func TestResampleLinear(t *testing.T) {
	in := []float32{0, 1, 2, 3}
	assert.Equal(t, in, resampleLinear(in, 100, 100))

	up := resampleLinear(in, 100, 200)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.5, float64(up[1]), 1e-6)
	assert.InDelta(t, 3, float64(up[7]), 1e-6)

	down := resampleLinear(in, 200, 100)
	assert.Equal(t, []float32{0, 2}, down)

	assert.Empty(t, resampleLinear(nil, 100, 200))
}

func TestDownmix(t *testing.T) {
	dst := make([]float32, 4)
	assert.Equal(t, []float32{0.5, 0}, downmix(dst, []float32{1, 0, 0.5, -0.5}, 2))
	assert.Equal(t, []float32{1, 2, 3}, downmix(dst, []float32{1, 2, 3}, 1))
}
