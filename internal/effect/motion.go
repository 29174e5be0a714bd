// SPDX-License-Identifier: MIT
package effect

import (
	"math"
	"math/rand/v2"

	"circlights/internal/color"
	"circlights/internal/zone"
)

// moving runs a comet along the zone. Speed is in LEDs per second, scaled
// up by the feature and by tempo when one is known. Position wraps.
type moving struct {
	speed    float64
	width    float64
	color    *color.RGB
	position float64
}

func newMoving(p zone.Params, _ *rand.Rand) Effect {
	return &moving{speed: or(p.Speed, 8), width: math.Max(or(p.Width, 3), 1), color: p.Color}
}

func (e *moving) Type() zone.EffectType { return zone.EffectMoving }

func (e *moving) Render(in Input, out []color.RGB) {
	n := float64(len(out))
	if n == 0 {
		return
	}
	speed := e.speed * (1 + 2*in.Value)
	if in.TempoBPM > 0 {
		speed *= in.TempoBPM / 120
	}
	e.position = math.Mod(e.position+speed*seconds(in.Dt), n)

	for i := range out {
		d := math.Abs(float64(i) - e.position)
		d = math.Min(d, n-d)
		v := math.Max(0, 1-d/e.width) * in.Value
		if e.color != nil {
			out[i] = e.color.Scale(v)
			continue
		}
		out[i] = color.HSV(float64(i)/n*360, 1, v)
	}
}

func (e *moving) Position() float64 { return e.position }

// rainbow cycles a full hue wheel across the zone at speed revolutions per
// second. Brightness follows the feature with a floor so it never goes dark.
type rainbow struct {
	speed float64
	phase float64
}

func newRainbow(p zone.Params, _ *rand.Rand) Effect {
	return &rainbow{speed: or(p.Speed, 0.25)}
}

func (e *rainbow) Type() zone.EffectType { return zone.EffectRainbow }

func (e *rainbow) Render(in Input, out []color.RGB) {
	e.phase = math.Mod(e.phase+e.speed*seconds(in.Dt)*360, 360)
	n := float64(max(len(out), 1))
	v := 0.3 + 0.7*in.Value
	for i := range out {
		out[i] = color.HSV(float64(i)/n*360+e.phase, 1, v)
	}
}

// wave travels a sine of brightness along the zone. Wavelength is twice
// width LEDs; speed is in LEDs per second and grows with the feature.
type wave struct {
	speed float64
	width float64
	color *color.RGB
	phase float64
	hue   float64
}

func newWave(p zone.Params, _ *rand.Rand) Effect {
	return &wave{speed: or(p.Speed, 2*5), width: math.Max(or(p.Width, 5), 0.5), color: p.Color}
}

func (e *wave) Type() zone.EffectType { return zone.EffectWave }

func (e *wave) Render(in Input, out []color.RGB) {
	dt := seconds(in.Dt)
	e.phase += e.speed * (1 + 2*in.Value) * dt
	e.hue = math.Mod(e.hue+60*dt, 360)
	amp := 0.5 + 0.5*in.Value
	wavelength := 2 * e.width
	e.phase = math.Mod(e.phase, wavelength)
	for i := range out {
		v := (0.5 + 0.5*math.Sin(2*math.Pi*(float64(i)-e.phase)/wavelength)) * amp
		if e.color != nil {
			out[i] = e.color.Scale(v)
			continue
		}
		out[i] = color.HSV(e.hue, 1, v)
	}
}
