// SPDX-License-Identifier: MIT
package effect

import (
	"math"
	"math/rand/v2"

	"circlights/internal/color"
	"circlights/internal/zone"
)

// fire keeps a heat value per LED. Every cycle heat cools randomly, drifts
// away from the base and is re-ignited near the base with a probability and
// strength that follow the feature.
type fire struct {
	cooling  float64
	sparking float64
	rnd      *rand.Rand
	heat     []float64
}

func newFire(p zone.Params, rnd *rand.Rand) Effect {
	return &fire{
		cooling:  or(p.Cooling, 0.55),
		sparking: or(p.Sparking, 0.8),
		rnd:      rnd,
	}
}

func (e *fire) Type() zone.EffectType { return zone.EffectFire }

func (e *fire) Render(in Input, out []color.RGB) {
	n := len(out)
	if len(e.heat) != n {
		e.heat = make([]float64, n)
	}
	dt := seconds(in.Dt)

	for i := range e.heat {
		e.heat[i] = math.Max(0, e.heat[i]-e.rnd.Float64()*e.cooling*dt*5)
	}
	for i := n - 1; i >= 2; i-- {
		e.heat[i] = (e.heat[i-1] + 2*e.heat[i-2]) / 3
	}

	chance := e.sparking * dt * 10 * (1 + 2*in.Value)
	if in.Beat {
		chance = 1
	}
	if n > 0 && e.rnd.Float64() < chance {
		pos := e.rnd.IntN(min(3, n))
		spark := (0.5 + 0.5*e.rnd.Float64()) * (0.4 + 0.6*in.Value)
		e.heat[pos] = math.Max(e.heat[pos], spark)
	}

	for i, h := range e.heat {
		out[i] = heatColor(h)
	}
}

// heatColor maps heat in [0,1] through black, red, yellow and white.
func heatColor(h float64) color.RGB {
	h = clamp01(h)
	switch {
	case h < 1.0/3:
		return color.RGB{R: uint8(255 * h * 3)}
	case h < 2.0/3:
		return color.RGB{R: 255, G: uint8(255 * (h - 1.0/3) * 3)}
	default:
		return color.RGB{R: 255, G: 255, B: uint8(math.Min(255, 255*(h-2.0/3)*3))}
	}
}

func (e *fire) Heat() []float64 { return e.heat }
