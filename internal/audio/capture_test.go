// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"testing"
	"time"

	apperrors "circlights/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureCallbackDownmixesIntoBlocks(t *testing.T) {
	c := newCaptureSource("device:test", testSampleRate, 2, 4)

	c.process([]float32{1, 0, 0.5, 0.5, -1, 1, 0.2, 0})
	c.process([]float32{0.4, 0.4, 0, 0, 0, 0, 1, 1})

	buf := make([]float32, 4)
	n, err := c.ReadBlock(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0, 0.1}, toFloat64(buf), 1e-6)

	n, err = c.ReadBlock(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.InDeltaSlice(t, []float64{0.4, 0, 0, 1}, toFloat64(buf), 1e-6)
}

func TestCaptureReadWaitsForCallback(t *testing.T) {
	c := newCaptureSource("device:test", testSampleRate, 1, 4)

	done := make(chan []float32)
	go func() {
		buf := make([]float32, 4)
		if _, err := c.ReadBlock(context.Background(), buf); err == nil {
			done <- buf
		}
		close(done)
	}()

	c.push([]float32{0.1, 0.2})
	select {
	case <-done:
		t.Fatal("read returned before a full block was buffered")
	case <-time.After(20 * time.Millisecond):
	}
	c.push([]float32{0.3, 0.4})

	select {
	case got := <-done:
		assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, got)
	case <-time.After(time.Second):
		t.Fatal("read did not complete")
	}
}

func TestCaptureDropsOldestOnOverrun(t *testing.T) {
	c := newCaptureSource("device:test", testSampleRate, 1, 2)

	for i := range ringBlocks + 2 {
		c.push([]float32{float32(i), float32(i)})
	}
	assert.Equal(t, uint64(2), c.Overruns())

	buf := make([]float32, 2)
	_, err := c.ReadBlock(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2}, buf, "the two oldest blocks were dropped")
}

func TestCaptureReadCancelAndClose(t *testing.T) {
	c := newCaptureSource("device:test", testSampleRate, 1, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.ReadBlock(ctx, make([]float32, 4))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.ReadBlock(context.Background(), make([]float32, 4))
	assert.True(t, apperrors.Is(err, apperrors.ErrFatal))

	_, err = c.ReadBlock(context.Background(), make([]float32, ringBlocks*4+1))
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid))
}

func TestCaptureCallbackNoAllocs(t *testing.T) {
	c := newCaptureSource("device:test", testSampleRate, 2, testBlockSize)
	in := make([]float32, 2*testBlockSize)
	buf := make([]float32, testBlockSize)

	allocs := testing.AllocsPerRun(100, func() {
		c.process(in)
		_, _ = c.ReadBlock(context.Background(), buf)
	})
	assert.Zero(t, allocs)
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
