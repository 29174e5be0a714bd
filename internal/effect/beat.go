// SPDX-License-Identifier: MIT
package effect

import (
	"math"
	"math/rand/v2"

	"circlights/internal/color"
	"circlights/internal/zone"
)

// flash snaps to full intensity on a beat or on a rising edge through the
// threshold, then decays exponentially with time constant decay seconds.
type flash struct {
	color     color.RGB
	threshold float64
	tau       float64
	level     float64
	armed     bool
}

func newFlash(p zone.Params, _ *rand.Rand) Effect {
	return &flash{
		color:     colorOr(p.Color, color.White),
		threshold: or(p.Threshold, 0.7),
		tau:       or(p.Decay, 0.5),
		armed:     true,
	}
}

func (e *flash) Type() zone.EffectType { return zone.EffectFlash }

func (e *flash) Render(in Input, out []color.RGB) {
	over := in.Value >= e.threshold
	switch {
	case in.Beat || (over && e.armed):
		e.level = 1
	case e.level > 0:
		e.level *= math.Exp(-seconds(in.Dt) / e.tau)
		if e.level < 1.0/512 {
			e.level = 0
		}
	}
	e.armed = !over
	fill(out, e.color.Scale(e.level))
}

// Level is the current flash intensity.
func (e *flash) Level() float64 { return e.level }

// strobe toggles at rate Hz with the given duty cycle. A beat restarts the
// cycle so the on phase lands on the beat. Blocks whose feature is below
// threshold stay dark.
type strobe struct {
	color     color.RGB
	rate      float64
	duty      float64
	threshold float64
	timer     float64
	on        bool
}

func newStrobe(p zone.Params, _ *rand.Rand) Effect {
	return &strobe{
		color:     colorOr(p.Color, color.White),
		rate:      or(p.Rate, 10),
		duty:      clamp01(or(p.Duty, 0.1)),
		threshold: p.Threshold,
	}
}

func (e *strobe) Type() zone.EffectType { return zone.EffectStrobe }

func (e *strobe) Render(in Input, out []color.RGB) {
	period := 1 / e.rate
	if in.Beat {
		e.timer = 0
	} else {
		e.timer = math.Mod(e.timer+seconds(in.Dt), period)
	}
	e.on = e.timer < e.duty*period && (in.Beat || in.Value >= e.threshold)
	if e.on {
		fill(out, e.color)
		return
	}
	fill(out, color.Black)
}
