// SPDX-License-Identifier: MIT

// Package effect implements the fixed catalog of zone effects. Each variant
// owns its state; the renderer creates a fresh instance whenever a zone's
// effect type changes and drops it when the zone is deleted.
package effect

import (
	"math"
	"math/rand/v2"
	"time"

	"circlights/internal/color"
	apperrors "circlights/internal/errors"
	"circlights/internal/zone"
)

// Input is everything an effect may react to in one render cycle.
type Input struct {
	// Value is the zone's selected feature after sensitivity, in [0,1].
	Value float64
	// Beat is set on exactly one render cycle per detected onset.
	Beat     bool
	TempoBPM float64
	// Dt is the time since the previous render cycle.
	Dt time.Duration
}

// Effect renders one zone. out has one entry per LED the zone owns and is
// fully overwritten. Implementations update their own state as they render.
type Effect interface {
	Render(in Input, out []color.RGB)
	Type() zone.EffectType
}

type constructor func(p zone.Params, rnd *rand.Rand) Effect

var catalog = map[zone.EffectType]constructor{
	zone.EffectSpectrum:    newSpectrum,
	zone.EffectSolid:       newSolid,
	zone.EffectGradient:    newGradient,
	zone.EffectFlash:       newFlash,
	zone.EffectColorChange: newColorChange,
	zone.EffectMoving:      newMoving,
	zone.EffectFire:        newFire,
	zone.EffectRainbow:     newRainbow,
	zone.EffectStrobe:      newStrobe,
	zone.EffectWave:        newWave,
}

// New builds a fresh effect of type t.
func New(t zone.EffectType, p zone.Params) (Effect, error) {
	return NewSeeded(t, p, uint64(time.Now().UnixNano()))
}

// NewSeeded is New with a fixed random seed for reproducible output.
func NewSeeded(t zone.EffectType, p zone.Params, seed uint64) (Effect, error) {
	c, ok := catalog[t]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindConfigurationInvalid, "effect.new", "unknown effect %q", t)
	}
	return c(p, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))), nil
}

func fill(out []color.RGB, c color.RGB) {
	for i := range out {
		out[i] = c
	}
}

func or(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func colorOr(c *color.RGB, def color.RGB) color.RGB {
	if c == nil {
		return def
	}
	return *c
}

func seconds(d time.Duration) float64 { return d.Seconds() }

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
