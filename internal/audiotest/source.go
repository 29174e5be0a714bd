// SPDX-License-Identifier: MIT
package audiotest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned by a ScriptedSource once its blocks run out and
// it is not looping.
var ErrExhausted = errors.New("audiotest: script exhausted")

// ScriptedSource replays fixed blocks, one per ReadBlock call, optionally
// paced. It satisfies the engine's audio source contract.
type ScriptedSource struct {
	SourceName string
	Rate       float64
	Blocks     [][]float32
	Loop       bool
	// Interval paces reads. Zero returns immediately.
	Interval time.Duration
	// Stall makes ReadBlock block until the context ends, simulating a
	// hung capture device.
	Stall bool

	mu     sync.Mutex
	next   int
	reads  int
	closed bool
}

func (s *ScriptedSource) Name() string { return s.SourceName }

func (s *ScriptedSource) SampleRate() float64 { return s.Rate }

func (s *ScriptedSource) ReadBlock(ctx context.Context, dst []float32) (int, error) {
	s.mu.Lock()
	stall := s.Stall
	s.mu.Unlock()
	if stall {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if s.Interval > 0 {
		t := time.NewTimer(s.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("audiotest: source closed")
	}
	if s.next >= len(s.Blocks) {
		if !s.Loop || len(s.Blocks) == 0 {
			return 0, ErrExhausted
		}
		s.next = 0
	}
	n := copy(dst, s.Blocks[s.next])
	clear(dst[n:])
	s.next++
	s.reads++
	return len(dst), nil
}

// SetStall switches stalling on or off while the source is in use.
func (s *ScriptedSource) SetStall(v bool) {
	s.mu.Lock()
	s.Stall = v
	s.mu.Unlock()
}

func (s *ScriptedSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *ScriptedSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
