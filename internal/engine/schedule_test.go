// SPDX-License-Identifier: MIT
package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerDegradesAfterConsecutiveOverruns(t *testing.T) {
	p := newPacer(60, 30, 5, 300)
	slow := 20 * time.Millisecond // over the 16.6ms budget at 60 FPS

	for i := range 4 {
		changed, overrun := p.observe(slow)
		assert.False(t, changed, "cycle %d", i)
		assert.True(t, overrun)
	}
	// A cycle inside budget resets the run.
	changed, overrun := p.observe(5 * time.Millisecond)
	assert.False(t, changed)
	assert.False(t, overrun)
	for range 4 {
		p.observe(slow)
	}
	assert.False(t, p.degraded())

	changed, _ = p.observe(slow)
	assert.True(t, changed)
	assert.True(t, p.degraded())
	assert.Equal(t, 30, p.fps)
	assert.Equal(t, time.Second/30, p.period())
}

func TestPacerRecoversAfterCalmCycles(t *testing.T) {
	p := newPacer(60, 30, 1, 3)
	changed, _ := p.observe(40 * time.Millisecond)
	assert.True(t, changed)
	assert.True(t, p.degraded())

	fast := 2 * time.Millisecond
	// Under the slow budget but not under half the fast budget.
	medium := 12 * time.Millisecond

	p.observe(fast)
	p.observe(fast)
	p.observe(medium)
	assert.True(t, p.degraded(), "a slower cycle restarts the count")

	p.observe(fast)
	p.observe(fast)
	changed, _ = p.observe(fast)
	assert.True(t, changed)
	assert.False(t, p.degraded())
	assert.Equal(t, 60, p.fps)
}

func TestPacerClampsMinimum(t *testing.T) {
	p := newPacer(30, 60, 0, 0)
	assert.Equal(t, 30, p.min)
	assert.Equal(t, 1, p.overrunLimit)
	changed, overrun := p.observe(time.Second)
	assert.False(t, changed, "already at the minimum rate")
	assert.True(t, overrun)
}

func TestPerfStats(t *testing.T) {
	var s perfStats
	s.setRate(60, 30)
	start := time.Unix(100, 0)
	for i := range 20 {
		s.cycle(start.Add(time.Duration(i)*20*time.Millisecond), 4*time.Millisecond, i%10 == 0)
	}
	s.skipped()
	s.sent(true, nil)
	s.sent(false, nil)
	s.sent(false, errors.New("boom"))

	p := s.snapshot()
	assert.InDelta(t, 50, p.FPS, 0.5)
	assert.InDelta(t, 4, p.AvgCycleMs, 0.01)
	assert.Equal(t, uint64(20), p.Cycles)
	assert.Equal(t, uint64(2), p.Overruns)
	assert.Equal(t, uint64(1), p.Skipped)
	assert.Equal(t, uint64(1), p.FramesSent)
	assert.Equal(t, uint64(1), p.Suppressed)
	assert.Equal(t, uint64(1), p.SendErrors)
	assert.True(t, p.Degraded)
	assert.Equal(t, 60, p.TargetFPS)
	assert.Equal(t, 30, p.CurrentFPS)
}
