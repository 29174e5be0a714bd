// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"sync/atomic"
)

// Gate suppresses onsets for blocks whose peak stays below a threshold.
// Levels are still reported for gated blocks.
type Gate struct {
	threshold atomic.Uint64 // math.Float64bits of the threshold
}

func NewGate() *Gate {
	return &Gate{}
}

// SetThreshold adjusts the noise gate threshold.
// The value is clamped to 0.0-1.0; 1 keeps the gate closed.
func (g *Gate) SetThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	g.threshold.Store(math.Float64bits(threshold))
}

// Threshold returns the current noise gate threshold.
func (g *Gate) Threshold() float64 {
	return math.Float64frombits(g.threshold.Load())
}

// Open reports whether a block with the given peak passes the gate.
// A zero threshold lets everything but digital silence through.
func (g *Gate) Open(peak float64) bool {
	return peak > g.Threshold()
}
