// SPDX-License-Identifier: MIT

// Package color holds the 8-bit RGB triple sent to the strip and the
// conversions effects need (HSV, hex, blending, scaling).
package color

import (
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// RGB is one LED's color, 0-255 per channel.
type RGB struct {
	R, G, B uint8
}

var (
	Black = RGB{}
	White = RGB{255, 255, 255}
)

// HSV converts hue (degrees, wrapped into [0,360)), saturation and value
// (both clamped to [0,1]) to RGB.
func HSV(h, s, v float64) RGB {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	c := colorful.Hsv(h, clamp01(s), clamp01(v))
	r, g, b := c.Clamped().RGB255()
	return RGB{r, g, b}
}

// Hex parses "#rrggbb".
func Hex(s string) (RGB, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.Clamped().RGB255()
	return RGB{r, g, b}, nil
}

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c RGB) String() string { return c.Hex() }

// MarshalText renders the color as "#rrggbb" for YAML and JSON.
func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

func (c *RGB) UnmarshalText(text []byte) error {
	parsed, err := Hex(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Scale multiplies every channel by f in [0,1].
func (c RGB) Scale(f float64) RGB {
	f = clamp01(f)
	return RGB{
		R: uint8(math.Round(float64(c.R) * f)),
		G: uint8(math.Round(float64(c.G) * f)),
		B: uint8(math.Round(float64(c.B) * f)),
	}
}

// Lerp blends a toward b by t in [0,1] in RGB space.
func Lerp(a, b RGB, t float64) RGB {
	ca := colorful.Color{R: float64(a.R) / 255, G: float64(a.G) / 255, B: float64(a.B) / 255}
	cb := colorful.Color{R: float64(b.R) / 255, G: float64(b.G) / 255, B: float64(b.B) / 255}
	r, g, bl := ca.BlendRgb(cb, clamp01(t)).Clamped().RGB255()
	return RGB{r, g, bl}
}

// Hue returns c's hue in degrees.
func (c RGB) Hue() float64 {
	h, _, _ := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}.Hsv()
	return h
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
