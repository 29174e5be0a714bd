// SPDX-License-Identifier: MIT
package effect

import (
	"math"
	"math/rand/v2"

	"circlights/internal/color"
	"circlights/internal/zone"
)

// spectrum lights a rainbow bar whose length follows the feature, with a
// decaying peak hold.
type spectrum struct {
	decay float64
	level float64
}

func newSpectrum(p zone.Params, _ *rand.Rand) Effect {
	return &spectrum{decay: clamp01(or(p.Decay, 0.9))}
}

func (e *spectrum) Type() zone.EffectType { return zone.EffectSpectrum }

func (e *spectrum) Render(in Input, out []color.RGB) {
	e.level = math.Max(in.Value, e.level*e.decay)
	n := len(out)
	lit := e.level * float64(n)
	for i := range out {
		hue := float64(i) / float64(max(n, 1)) * 300
		switch {
		case float64(i+1) <= lit:
			out[i] = color.HSV(hue, 1, 1)
		case float64(i) < lit:
			out[i] = color.HSV(hue, 1, lit-float64(i))
		default:
			out[i] = color.Black
		}
	}
}

// solid paints one color scaled by the feature.
type solid struct {
	color color.RGB
}

func newSolid(p zone.Params, _ *rand.Rand) Effect {
	return &solid{color: colorOr(p.Color, color.White)}
}

func (e *solid) Type() zone.EffectType { return zone.EffectSolid }

func (e *solid) Render(in Input, out []color.RGB) {
	fill(out, e.color.Scale(in.Value))
}

// gradient interpolates between two colors along the zone.
type gradient struct {
	from, to color.RGB
}

func newGradient(p zone.Params, _ *rand.Rand) Effect {
	return &gradient{
		from: colorOr(p.Color, color.RGB{R: 255}),
		to:   colorOr(p.Color2, color.RGB{B: 255}),
	}
}

func (e *gradient) Type() zone.EffectType { return zone.EffectGradient }

func (e *gradient) Render(in Input, out []color.RGB) {
	n := len(out)
	for i := range out {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		out[i] = color.Lerp(e.from, e.to, t).Scale(in.Value)
	}
}

// colorChange steps the zone hue on every spike and shows it at the
// feature's intensity.
type colorChange struct {
	threshold float64
	step      float64
	hue       float64
	armed     bool
}

func newColorChange(p zone.Params, _ *rand.Rand) Effect {
	hue := 0.0
	if p.Color != nil {
		hue = p.Color.Hue()
	}
	return &colorChange{
		threshold: or(p.Threshold, 0.5),
		step:      or(p.Step, 60),
		hue:       hue,
		armed:     true,
	}
}

func (e *colorChange) Type() zone.EffectType { return zone.EffectColorChange }

func (e *colorChange) Render(in Input, out []color.RGB) {
	spike := in.Value >= e.threshold
	if in.Beat || (spike && e.armed) {
		e.hue = math.Mod(e.hue+e.step, 360)
	}
	e.armed = !spike
	fill(out, color.HSV(e.hue, 1, in.Value))
}

// Hue exposes the current hue for tests and telemetry.
func (e *colorChange) Hue() float64 { return e.hue }
