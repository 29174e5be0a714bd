// SPDX-License-Identifier: MIT
package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockPeriod = 23 * time.Millisecond

func newTestOnset(t *testing.T) *OnsetDetector {
	t.Helper()
	d, err := NewOnsetDetector(DefaultOnsetConfig())
	require.NoError(t, err)
	return d
}

func TestOnsetRefractory(t *testing.T) {
	d := newTestOnset(t)

	var now time.Duration
	step := func(flux float64) bool {
		now += blockPeriod
		return d.Detect(flux, now)
	}
	for range 10 {
		assert.False(t, step(1))
	}

	beats := 0
	if step(100) {
		beats++
	}
	step(1)
	// Second spike 46ms after the first, inside the 200ms refractory window.
	if step(100) {
		beats++
	}
	assert.Equal(t, 1, beats, "spikes closer than the refractory interval yield one beat")

	for range 10 {
		step(1)
	}
	assert.True(t, step(100), "a spike after the refractory interval fires again")
}

func TestOnsetObserveDoesNotArmRefractory(t *testing.T) {
	d := newTestOnset(t)
	var now time.Duration
	for range 10 {
		now += blockPeriod
		d.Detect(1, now)
	}

	d.Observe(100)
	now += 2 * blockPeriod
	assert.True(t, d.Detect(100, now), "an observed spike starts no refractory interval")
}

func TestOnsetNeedsHistory(t *testing.T) {
	d := newTestOnset(t)
	for i := range 4 {
		assert.False(t, d.Detect(100, time.Duration(i)*time.Second), "not enough history yet")
	}
}

func TestOnsetMinFlux(t *testing.T) {
	d := newTestOnset(t)
	for i := range 10 {
		d.Detect(0, time.Duration(i)*blockPeriod)
	}
	assert.False(t, d.Detect(0.005, time.Second), "flux under the floor never fires")
	assert.True(t, d.Detect(0.5, 2*time.Second))
	assert.InDelta(t, 0.005/11*1.5, d.Threshold(), 1e-9)
}

func TestOnsetConfigValidation(t *testing.T) {
	cfg := DefaultOnsetConfig()
	cfg.Multiplier = 0
	_, err := NewOnsetDetector(cfg)
	assert.Error(t, err)

	cfg = DefaultOnsetConfig()
	cfg.MinHistory = cfg.HistorySize + 1
	_, err = NewOnsetDetector(cfg)
	assert.Error(t, err)
}

func TestSpectralFlux(t *testing.T) {
	assert.Zero(t, SpectralFlux(nil, nil))
	assert.InDelta(t, 50, SpectralFlux([]float64{0, 1}, []float64{1, 0}), 1e-9, "only increases count")
}

func TestTempoFromSteadyBeats(t *testing.T) {
	tt, err := NewTempoTracker(DefaultTempoConfig())
	require.NoError(t, err)

	assert.Zero(t, tt.BPM(), "unknown before any onset")
	for i := range 8 {
		tt.Onset(time.Duration(i) * 500 * time.Millisecond)
	}
	assert.InDelta(t, 120, tt.BPM(), 0.1)

	// A slower tempo moves the estimate gradually, not in one jump.
	base := 4 * time.Second
	for i := range 12 {
		tt.Onset(base + time.Duration(i)*600*time.Millisecond)
	}
	bpm := tt.BPM()
	assert.Less(t, bpm, 120.0)
	assert.Greater(t, bpm, 100.0)
}

func TestTempoIgnoresOutOfRangeIntervals(t *testing.T) {
	tt, err := NewTempoTracker(DefaultTempoConfig())
	require.NoError(t, err)
	for i := range 6 {
		tt.Onset(time.Duration(i) * 100 * time.Millisecond)
	}
	assert.Zero(t, tt.BPM(), "100ms intervals are double triggers, not tempo")
}

func TestTempoTimeout(t *testing.T) {
	tt, err := NewTempoTracker(DefaultTempoConfig())
	require.NoError(t, err)
	for i := range 4 {
		tt.Onset(time.Duration(i) * time.Second)
	}
	assert.InDelta(t, 60, tt.BPM(), 0.1)
	tt.Advance(3*time.Second + 6*time.Second)
	assert.Zero(t, tt.BPM())
}
