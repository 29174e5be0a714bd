// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// OnsetConfig tunes the spectral-flux onset detector. None of the constants
// are fixed by the detector; they come from configuration.
type OnsetConfig struct {
	// HistorySize is the number of past flux values in the rolling average.
	HistorySize int
	// MinHistory is the number of values needed before any onset may fire.
	MinHistory int
	// Multiplier scales the rolling average into the adaptive threshold.
	Multiplier float64
	// MinFlux is an absolute floor so silence never triggers.
	MinFlux float64
	// Refractory is the minimum stream time between two onsets.
	Refractory time.Duration
}

func DefaultOnsetConfig() OnsetConfig {
	return OnsetConfig{
		HistorySize: 20,
		MinHistory:  5,
		Multiplier:  1.5,
		MinFlux:     0.01,
		Refractory:  200 * time.Millisecond,
	}
}

func (c OnsetConfig) validate() error {
	switch {
	case c.HistorySize < 1:
		return fmt.Errorf("onset history size must be positive, got %d", c.HistorySize)
	case c.MinHistory < 0 || c.MinHistory > c.HistorySize:
		return fmt.Errorf("onset min history must be in [0,%d], got %d", c.HistorySize, c.MinHistory)
	case c.Multiplier <= 0:
		return fmt.Errorf("onset multiplier must be positive, got %g", c.Multiplier)
	case c.Refractory < 0:
		return fmt.Errorf("onset refractory must not be negative, got %s", c.Refractory)
	}
	return nil
}

// OnsetDetector fires when spectral flux rises above a multiple of its
// recent average, at most once per refractory interval. Time is stream time
// derived from block count, never the wall clock.
type OnsetDetector struct {
	cfg       OnsetConfig
	history   []float64 // ring of past flux values
	next      int
	filled    int
	sum       float64
	lastOnset time.Duration
	hasOnset  bool
	threshold float64
}

func NewOnsetDetector(cfg OnsetConfig) (*OnsetDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &OnsetDetector{cfg: cfg, history: make([]float64, cfg.HistorySize)}, nil
}

// Detect reports whether flux observed at stream time t is an onset.
// The current value joins the history after the decision.
func (d *OnsetDetector) Detect(flux float64, t time.Duration) bool {
	fired := false
	if d.filled >= d.cfg.MinHistory {
		avg := 0.0
		if d.filled > 0 {
			avg = d.sum / float64(d.filled)
		}
		d.threshold = avg * d.cfg.Multiplier
		if flux > d.threshold && flux > d.cfg.MinFlux &&
			(!d.hasOnset || t-d.lastOnset >= d.cfg.Refractory) {
			fired = true
			d.lastOnset = t
			d.hasOnset = true
		}
	}
	d.Observe(flux)
	return fired
}

// Observe adds flux to the history without deciding on an onset, so it
// never starts a refractory interval.
func (d *OnsetDetector) Observe(flux float64) {
	if d.filled == len(d.history) {
		d.sum -= d.history[d.next]
	} else {
		d.filled++
	}
	d.history[d.next] = flux
	d.sum += flux
	d.next = (d.next + 1) % len(d.history)
}

// Threshold returns the adaptive threshold used by the last Detect call.
func (d *OnsetDetector) Threshold() float64 { return d.threshold }

func (d *OnsetDetector) Reset() {
	clear(d.history)
	d.next, d.filled, d.sum = 0, 0, 0
	d.hasOnset = false
	d.threshold = 0
}

// SpectralFlux sums the positive bin-to-bin increases between two spectra,
// normalised by bin count.
func SpectralFlux(prev, cur []float64) float64 {
	n := min(len(prev), len(cur))
	if n == 0 {
		return 0
	}
	var flux float64
	for i := range n {
		if d := cur[i] - prev[i]; d > 0 {
			flux += d
		}
	}
	return flux / float64(n) * 100
}

// TempoConfig tunes the inter-onset interval tempo tracker.
type TempoConfig struct {
	MinInterval time.Duration // shortest accepted beat period (200 BPM)
	MaxInterval time.Duration // longest accepted beat period (30 BPM)
	History     int           // intervals kept for the median
	MinSamples  int           // intervals needed before a tempo is reported
	Alpha       float64       // weight of a new estimate in the smoothed BPM
	Timeout     time.Duration // silence after which the tempo becomes unknown
}

func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		MinInterval: 300 * time.Millisecond,
		MaxInterval: 2 * time.Second,
		History:     16,
		MinSamples:  2,
		Alpha:       0.1,
		Timeout:     5 * time.Second,
	}
}

// TempoTracker converts the median inter-onset interval into BPM, smoothed
// exponentially. A BPM of 0 means unknown.
type TempoTracker struct {
	cfg       TempoConfig
	intervals []float64 // seconds, oldest first
	sorted    []float64 // scratch for the median
	last      time.Duration
	hasLast   bool
	bpm       float64
}

func NewTempoTracker(cfg TempoConfig) (*TempoTracker, error) {
	if cfg.MinInterval <= 0 || cfg.MaxInterval <= cfg.MinInterval {
		return nil, fmt.Errorf("tempo interval bounds invalid: [%s, %s]", cfg.MinInterval, cfg.MaxInterval)
	}
	if cfg.History < 1 || cfg.MinSamples < 1 || cfg.MinSamples > cfg.History {
		return nil, fmt.Errorf("tempo history %d / min samples %d invalid", cfg.History, cfg.MinSamples)
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("tempo alpha must be in (0,1], got %g", cfg.Alpha)
	}
	return &TempoTracker{
		cfg:       cfg,
		intervals: make([]float64, 0, cfg.History),
		sorted:    make([]float64, 0, cfg.History),
	}, nil
}

// Onset records an onset at stream time t.
func (tt *TempoTracker) Onset(t time.Duration) {
	if tt.hasLast {
		iv := t - tt.last
		if iv >= tt.cfg.MinInterval && iv <= tt.cfg.MaxInterval {
			if len(tt.intervals) == tt.cfg.History {
				tt.intervals = slices.Delete(tt.intervals, 0, 1)
			}
			tt.intervals = append(tt.intervals, iv.Seconds())
			tt.update()
		}
	}
	tt.last = t
	tt.hasLast = true
}

// Advance forgets the tempo once no onset has arrived for the timeout.
func (tt *TempoTracker) Advance(t time.Duration) {
	if tt.hasLast && tt.cfg.Timeout > 0 && t-tt.last > tt.cfg.Timeout {
		tt.Reset()
	}
}

func (tt *TempoTracker) update() {
	if len(tt.intervals) < tt.cfg.MinSamples {
		return
	}
	tt.sorted = append(tt.sorted[:0], tt.intervals...)
	slices.Sort(tt.sorted)
	median := stat.Quantile(0.5, stat.Empirical, tt.sorted, nil)
	if median <= 0 {
		return
	}
	estimate := 60 / median
	if tt.bpm == 0 {
		tt.bpm = estimate
		return
	}
	tt.bpm += tt.cfg.Alpha * (estimate - tt.bpm)
}

// BPM returns the smoothed tempo, 0 when unknown.
func (tt *TempoTracker) BPM() float64 {
	return math.Round(tt.bpm*10) / 10
}

func (tt *TempoTracker) Reset() {
	tt.intervals = tt.intervals[:0]
	tt.hasLast = false
	tt.bpm = 0
}
