// SPDX-License-Identifier: MIT
package engine

import (
	"sync"
	"time"
)

// pacer picks the render rate. After overrunLimit consecutive cycles over
// budget it drops to the minimum rate; after recoverLimit consecutive
// cycles under half the target budget it returns to the target.
type pacer struct {
	target, min  int
	overrunLimit int
	recoverLimit int

	fps      int
	overruns int
	calm     int
}

func newPacer(target, minFPS, overrunLimit, recoverLimit int) *pacer {
	if minFPS <= 0 || minFPS > target {
		minFPS = target
	}
	return &pacer{
		target:       target,
		min:          minFPS,
		overrunLimit: max(overrunLimit, 1),
		recoverLimit: max(recoverLimit, 1),
		fps:          target,
	}
}

func (p *pacer) period() time.Duration { return time.Second / time.Duration(p.fps) }

func (p *pacer) degraded() bool { return p.fps != p.target }

// observe records one cycle's duration and reports whether the rate
// changed and whether the cycle overran its budget.
func (p *pacer) observe(elapsed time.Duration) (changed, overrun bool) {
	if elapsed > p.period() {
		p.overruns++
		p.calm = 0
		if p.fps != p.min && p.overruns >= p.overrunLimit {
			p.fps = p.min
			p.overruns = 0
			return true, true
		}
		return false, true
	}
	p.overruns = 0
	if p.fps == p.target {
		return false, false
	}
	if elapsed < time.Second/time.Duration(p.target)/2 {
		p.calm++
		if p.calm >= p.recoverLimit {
			p.fps = p.target
			p.calm = 0
			return true, false
		}
	} else {
		p.calm = 0
	}
	return false, false
}

// Performance summarises the render schedule.
type Performance struct {
	FPS        float64 `json:"fps"`
	AvgCycleMs float64 `json:"avg_cycle_ms"`
	TargetFPS  int     `json:"target_fps"`
	CurrentFPS int     `json:"current_fps"`
	Degraded   bool    `json:"degraded"`
	Cycles     uint64  `json:"cycles"`
	Overruns   uint64  `json:"overruns"`
	Skipped    uint64  `json:"skipped"`
	FramesSent uint64  `json:"frames_sent"`
	SendErrors uint64  `json:"send_errors"`
	Suppressed uint64  `json:"frames_suppressed"`
}

// perfStats keeps exponential moving averages of the cycle interval and
// the cycle cost.
type perfStats struct {
	mu       sync.Mutex
	p        Performance
	last     time.Time
	interval float64 // seconds, EMA
	cost     float64 // seconds, EMA
}

const perfAlpha = 0.1

func (s *perfStats) cycle(start time.Time, elapsed time.Duration, overrun bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Cycles++
	if overrun {
		s.p.Overruns++
	}
	if !s.last.IsZero() {
		iv := start.Sub(s.last).Seconds()
		if s.interval == 0 {
			s.interval = iv
		} else {
			s.interval += perfAlpha * (iv - s.interval)
		}
	}
	s.last = start
	if s.cost == 0 {
		s.cost = elapsed.Seconds()
	} else {
		s.cost += perfAlpha * (elapsed.Seconds() - s.cost)
	}
}

func (s *perfStats) skipped() {
	s.mu.Lock()
	s.p.Skipped++
	s.mu.Unlock()
}

func (s *perfStats) sent(ok bool, err error) {
	s.mu.Lock()
	switch {
	case err != nil:
		s.p.SendErrors++
	case ok:
		s.p.FramesSent++
	default:
		s.p.Suppressed++
	}
	s.mu.Unlock()
}

func (s *perfStats) setRate(target, current int) {
	s.mu.Lock()
	s.p.TargetFPS = target
	s.p.CurrentFPS = current
	s.p.Degraded = current != target
	s.mu.Unlock()
}

func (s *perfStats) snapshot() Performance {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.p
	if s.interval > 0 {
		p.FPS = 1 / s.interval
	}
	p.AvgCycleMs = s.cost * 1000
	return p
}
