// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"sync/atomic"

	"circlights/internal/color"
	applog "circlights/internal/log"
)

// LoggingSender stands in for a device when no address is configured. It
// logs a summary every logEvery frames.
type LoggingSender struct {
	frames atomic.Uint64
}

const logEvery = 600

func NewLoggingSender() *LoggingSender {
	applog.Infof("Transport: No device address configured, frames are logged only")
	return &LoggingSender{}
}

func (l *LoggingSender) SendFrame(_ context.Context, colors []color.RGB) error {
	n := l.frames.Add(1)
	if n%logEvery == 1 {
		var lit int
		for _, c := range colors {
			if c != color.Black {
				lit++
			}
		}
		applog.Debugf("Transport: frame %d, %d/%d LEDs lit", n, lit, len(colors))
	}
	return nil
}

// Frames is the number of frames received.
func (l *LoggingSender) Frames() uint64 { return l.frames.Load() }

func (l *LoggingSender) Close() error {
	applog.Debugf("Transport: Logging sender closed after %d frames", l.frames.Load())
	return nil
}

var _ Sender = (*LoggingSender)(nil)
