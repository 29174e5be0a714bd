// SPDX-License-Identifier: MIT

// Package render evaluates zone effects and composites them into the frame
// sent to the strip.
package render

import (
	"slices"

	"circlights/internal/color"
)

// Frame is one color per LED in strip order. A frame handed to transport
// is never written again.
type Frame []color.RGB

// NewFrame returns an all-black frame.
func NewFrame(ledCount int) Frame {
	return make(Frame, max(ledCount, 0))
}

// Equal reports whether both frames carry identical colors.
func (f Frame) Equal(o Frame) bool {
	return slices.Equal(f, o)
}

// Clone returns an independent copy.
func (f Frame) Clone() Frame {
	if f == nil {
		return nil
	}
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// Layer is one zone's output placed at its first LED.
type Layer struct {
	Start  int
	Colors []color.RGB
}

// Compose builds a frame from black, applies layers in order so later
// layers win on overlap, then scales every channel by brightness/255.
func Compose(ledCount int, layers []Layer, brightness uint8) Frame {
	f := NewFrame(ledCount)
	for _, l := range layers {
		for i, c := range l.Colors {
			idx := l.Start + i
			if idx < 0 || idx >= len(f) {
				continue
			}
			f[idx] = c
		}
	}
	if brightness != 255 {
		for i, c := range f {
			f[i] = scale(c, brightness)
		}
	}
	return f
}

func scale(c color.RGB, b uint8) color.RGB {
	return color.RGB{
		R: uint8(uint16(c.R) * uint16(b) / 255),
		G: uint8(uint16(c.G) * uint16(b) / 255),
		B: uint8(uint16(c.B) * uint16(b) / 255),
	}
}
