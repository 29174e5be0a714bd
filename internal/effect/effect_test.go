// SPDX-License-Identifier: MIT
package effect

import (
	"testing"
	"time"

	"circlights/internal/color"
	"circlights/internal/zone"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = time.Second / 60

func mustNew(t *testing.T, et zone.EffectType, p zone.Params) Effect {
	t.Helper()
	e, err := NewSeeded(et, p, 42)
	require.NoError(t, err)
	require.Equal(t, et, e.Type())
	return e
}

func brightness(c color.RGB) int { return int(c.R) + int(c.G) + int(c.B) }

func TestCatalogComplete(t *testing.T) {
	for _, et := range zone.EffectTypes {
		t.Run(string(et), func(t *testing.T) {
			e := mustNew(t, et, zone.Params{})
			out := make([]color.RGB, 16)
			for range 30 {
				e.Render(Input{Value: 0.8, Dt: frame}, out)
			}
			e.Render(Input{Value: 0.8, Beat: true, Dt: frame}, make([]color.RGB, 0))
		})
	}
	_, err := New("lava", zone.Params{})
	assert.Error(t, err)
}

func TestFlashDecay(t *testing.T) {
	e := mustNew(t, zone.EffectFlash, zone.Params{})
	out := make([]color.RGB, 30)

	e.Render(Input{Value: 0.9, Beat: true, Dt: frame}, out)
	for i, c := range out {
		assert.Equal(t, color.White, c, "led %d at full intensity", i)
	}

	prev := brightness(out[0])
	for range 40 {
		e.Render(Input{Value: 0.9, Dt: frame}, out)
		cur := brightness(out[0])
		assert.LessOrEqual(t, cur, prev, "monotonic decay while no new beat")
		prev = cur
	}
	assert.Less(t, prev, brightness(color.White)/2)
}

func TestFlashThresholdRetriggersOnRisingEdge(t *testing.T) {
	e := mustNew(t, zone.EffectFlash, zone.Params{Threshold: 0.6}).(*flash)
	out := make([]color.RGB, 4)

	e.Render(Input{Value: 0.5, Dt: frame}, out)
	assert.Zero(t, e.Level())
	e.Render(Input{Value: 0.7, Dt: frame}, out)
	assert.Equal(t, 1.0, e.Level())
	e.Render(Input{Value: 0.1, Dt: frame}, out)
	assert.Less(t, e.Level(), 1.0)
	e.Render(Input{Value: 0.8, Dt: frame}, out)
	assert.Equal(t, 1.0, e.Level())
}

func TestFlashFadesToBlack(t *testing.T) {
	e := mustNew(t, zone.EffectFlash, zone.Params{Decay: 0.1})
	out := make([]color.RGB, 2)
	e.Render(Input{Beat: true, Dt: frame}, out)
	for range 120 {
		e.Render(Input{Dt: frame}, out)
	}
	assert.Equal(t, color.Black, out[0])
}

func TestSolidAndGradient(t *testing.T) {
	red := color.RGB{R: 255}
	e := mustNew(t, zone.EffectSolid, zone.Params{Color: &red})
	out := make([]color.RGB, 3)
	e.Render(Input{Value: 1}, out)
	assert.Equal(t, []color.RGB{red, red, red}, out)
	e.Render(Input{Value: 0.5}, out)
	assert.Equal(t, color.RGB{R: 128}, out[1])

	g := mustNew(t, zone.EffectGradient, zone.Params{})
	out = make([]color.RGB, 5)
	g.Render(Input{Value: 1}, out)
	assert.Equal(t, color.RGB{R: 255}, out[0])
	assert.Equal(t, color.RGB{B: 255}, out[4])
}

func TestSpectrumBarLength(t *testing.T) {
	e := mustNew(t, zone.EffectSpectrum, zone.Params{})
	out := make([]color.RGB, 10)
	e.Render(Input{Value: 0.5}, out)
	for i := range 5 {
		assert.NotEqual(t, color.Black, out[i], "led %d lit", i)
	}
	for i := 5; i < 10; i++ {
		assert.Equal(t, color.Black, out[i], "led %d dark", i)
	}

	// Peak hold decays rather than dropping straight to zero.
	e.Render(Input{Value: 0}, out)
	assert.NotEqual(t, color.Black, out[3])
}

func TestColorChangeSteps(t *testing.T) {
	e := mustNew(t, zone.EffectColorChange, zone.Params{Step: 90}).(*colorChange)
	out := make([]color.RGB, 2)

	e.Render(Input{Value: 0.2}, out)
	assert.Zero(t, e.Hue())
	e.Render(Input{Value: 0.9}, out)
	assert.Equal(t, 90.0, e.Hue())
	e.Render(Input{Value: 0.9}, out)
	assert.Equal(t, 90.0, e.Hue(), "held spike steps once")
	e.Render(Input{Value: 0.1, Beat: true}, out)
	assert.Equal(t, 180.0, e.Hue())
}

func TestMovingWraps(t *testing.T) {
	e := mustNew(t, zone.EffectMoving, zone.Params{Speed: 10}).(*moving)
	out := make([]color.RGB, 10)
	for range 90 {
		e.Render(Input{Value: 1, Dt: frame}, out)
		assert.GreaterOrEqual(t, e.Position(), 0.0)
		assert.Less(t, e.Position(), 10.0)
	}
	lit := 0
	for _, c := range out {
		if c != color.Black {
			lit++
		}
	}
	assert.Positive(t, lit)
	assert.Less(t, lit, 10)
}

func TestStrobeDutyCycle(t *testing.T) {
	e := mustNew(t, zone.EffectStrobe, zone.Params{Rate: 5, Duty: 0.5})
	out := make([]color.RGB, 1)
	on := 0
	const steps = 600
	for range steps {
		e.Render(Input{Value: 1, Dt: time.Millisecond}, out)
		if out[0] == color.White {
			on++
		}
	}
	assert.InDelta(t, steps/2, on, steps/10)

	e.Render(Input{Beat: true, Dt: time.Millisecond}, out)
	assert.Equal(t, color.White, out[0], "beat starts an on phase")
}

func TestFireStaysInPalette(t *testing.T) {
	e := mustNew(t, zone.EffectFire, zone.Params{}).(*fire)
	out := make([]color.RGB, 20)
	for range 200 {
		e.Render(Input{Value: 1, Beat: true, Dt: frame}, out)
	}
	require.Len(t, e.Heat(), 20)
	for _, h := range e.Heat() {
		assert.GreaterOrEqual(t, h, 0.0)
		assert.LessOrEqual(t, h, 1.0)
	}
	assert.Greater(t, brightness(out[0])+brightness(out[1])+brightness(out[2]), 0, "base is burning")

	// Zone resize reallocates heat.
	e.Render(Input{Dt: frame}, make([]color.RGB, 5))
	assert.Len(t, e.Heat(), 5)
}

func TestHeatColor(t *testing.T) {
	assert.Equal(t, color.Black, heatColor(0))
	assert.Equal(t, color.RGB{R: 255, G: 255, B: 255}, heatColor(1))
	assert.Equal(t, uint8(255), heatColor(0.5).R)
	assert.Zero(t, heatColor(0.5).B)
}

func TestRainbowAndWaveAdvance(t *testing.T) {
	r := mustNew(t, zone.EffectRainbow, zone.Params{Speed: 1})
	a := make([]color.RGB, 8)
	b := make([]color.RGB, 8)
	r.Render(Input{Value: 1, Dt: frame}, a)
	r.Render(Input{Value: 1, Dt: 100 * time.Millisecond}, b)
	assert.NotEqual(t, a, b)

	w := mustNew(t, zone.EffectWave, zone.Params{})
	w.Render(Input{Value: 0.5, Dt: frame}, a)
	w.Render(Input{Value: 0.5, Dt: 50 * time.Millisecond}, b)
	assert.NotEqual(t, a, b)
}
