// SPDX-License-Identifier: MIT
package zone

import (
	"fmt"
	"math"
	"sync"
	"testing"

	apperrors "circlights/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testZone(name string, start, end float64) Zone {
	return Zone{
		Name:           name,
		StartPercent:   start,
		EndPercent:     end,
		FrequencyRange: RangeAll,
		EffectType:     EffectSolid,
		Sensitivity:    1,
		Enabled:        true,
	}
}

func TestRangeFloor(t *testing.T) {
	for _, ledCount := range []int{1, 7, 10, 30, 144, 300} {
		for _, p := range [][2]float64{{0, 1}, {0, 0.5}, {0.5, 1}, {0.25, 0.75}, {0.33, 0.34}, {0.9, 0.95}} {
			t.Run(fmt.Sprintf("%d/%g-%g", ledCount, p[0], p[1]), func(t *testing.T) {
				z := testZone("z", p[0], p[1])
				start, end := z.Range(ledCount)
				assert.Less(t, start, end)
				assert.LessOrEqual(t, end, ledCount)

				wantStart := int(math.Floor(p[0] * float64(ledCount)))
				wantEnd := int(math.Floor(p[1] * float64(ledCount)))
				assert.Equal(t, wantStart, start)
				if wantEnd > wantStart {
					assert.Equal(t, wantEnd, end)
				} else {
					assert.Equal(t, start+1, end, "sub-LED zone owns one LED")
				}
			})
		}
	}
}

func TestRangeEmptyStrip(t *testing.T) {
	start, end := testZone("z", 0, 1).Range(0)
	assert.Equal(t, 0, start)
	assert.Equal(t, 0, end)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Zone)
		ok     bool
	}{
		{"valid", func(*Zone) {}, true},
		{"start equals end", func(z *Zone) { z.StartPercent, z.EndPercent = 0.5, 0.5 }, false},
		{"start after end", func(z *Zone) { z.StartPercent, z.EndPercent = 0.6, 0.5 }, false},
		{"negative start", func(z *Zone) { z.StartPercent = -0.1 }, false},
		{"end beyond strip", func(z *Zone) { z.EndPercent = 1.01 }, false},
		{"zero sensitivity", func(z *Zone) { z.Sensitivity = 0 }, false},
		{"negative sensitivity", func(z *Zone) { z.Sensitivity = -1 }, false},
		{"sensitivity too large", func(z *Zone) { z.Sensitivity = 11 }, false},
		{"unknown effect", func(z *Zone) { z.EffectType = "lava" }, false},
		{"unknown range", func(z *Zone) { z.FrequencyRange = "sub" }, false},
		{"empty name", func(z *Zone) { z.Name = " " }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z := testZone("a", 0, 1)
			tt.mutate(&z)
			err := z.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperrors.KindConfigurationInvalid, apperrors.KindOf(err))
		})
	}
}

func TestSelect(t *testing.T) {
	f := Features{RMS: 0.2, Bass: 0.9, Mids: 0.4, Highs: 0.1}
	tests := []struct {
		rng  FrequencyRange
		sens float64
		want float64
	}{
		{RangeAll, 1, 0.2},
		{RangeBass, 1, 0.9},
		{RangeMids, 2, 0.8},
		{RangeHighs, 3, 0.3},
		{RangeBass, 2, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.rng), func(t *testing.T) {
			z := testZone("z", 0, 1)
			z.FrequencyRange = tt.rng
			z.Sensitivity = tt.sens
			assert.InDelta(t, tt.want, z.Select(f), 1e-9)
		})
	}
}

func TestSetEditsAreAtomic(t *testing.T) {
	s, err := NewSet(10, []Zone{testZone("left", 0, 0.5), testZone("right", 0.5, 1)})
	require.NoError(t, err)

	before := s.Snapshot()
	require.Len(t, before.Zones, 2)
	assert.Equal(t, 0, before.Zones[0].StartLED)
	assert.Equal(t, 5, before.Zones[0].EndLED)
	assert.Equal(t, 5, before.Zones[1].StartLED)
	assert.Equal(t, 10, before.Zones[1].EndLED)

	err = s.SetSensitivity("left", -2)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid))
	assert.Same(t, before, s.Snapshot(), "rejected edit must not publish")

	require.NoError(t, s.SetSensitivity("left", 2))
	after := s.Snapshot()
	assert.Greater(t, after.Version, before.Version)
	assert.Equal(t, 1.0, before.Zones[0].Sensitivity, "old snapshot is immutable")
	assert.Equal(t, 2.0, after.Zones[0].Sensitivity)
}

func TestSetOperations(t *testing.T) {
	s, err := NewSet(30, nil)
	require.NoError(t, err)

	require.NoError(t, s.Apply(Edit{Op: OpAdd, Zone: &Zone{Name: "all", StartPercent: 0, EndPercent: 1, Sensitivity: 1}}))
	z := s.Zones()[0]
	assert.Equal(t, RangeAll, z.FrequencyRange, "normalized default")
	assert.Equal(t, EffectSpectrum, z.EffectType)

	dup := testZone("all", 0, 1)
	err = s.Add(dup)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid))

	on, err := s.Toggle("all")
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.Apply(Edit{Op: OpSetEffect, Name: "all", Effect: "FIRE"}))
	assert.Equal(t, EffectFire, s.Zones()[0].EffectType)

	err = s.SetEffect("all", "lava")
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid))

	err = s.SetEnabled("ghost", true)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	require.NoError(t, s.Apply(Edit{Op: OpDelete, Name: "all"}))
	assert.Empty(t, s.Zones())
	assert.True(t, apperrors.Is(s.Delete("all"), apperrors.ErrNotFound))
}

func TestSetRejectsZeroSensitivity(t *testing.T) {
	s, err := NewSet(30, []Zone{testZone("z", 0, 1)})
	require.NoError(t, err)

	zero := testZone("other", 0, 1)
	zero.Sensitivity = 0
	err = s.Add(zero)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid), "add: %v", err)

	zero.Name = "z"
	err = s.Update(zero)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid), "update: %v", err)

	err = s.Replace([]Zone{zero})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid), "replace: %v", err)

	err = s.SetSensitivity("z", 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid), "set: %v", err)

	_, err = NewSet(30, []Zone{zero})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigurationInvalid), "new: %v", err)

	zones := s.Zones()
	require.Len(t, zones, 1)
	assert.Equal(t, 1.0, zones[0].Sensitivity, "prior state unchanged")
}

func TestUnmarshalYAMLDefaultsSensitivity(t *testing.T) {
	var zones []Zone
	require.NoError(t, yaml.Unmarshal([]byte(`
- name: omitted
  start_percent: 0
  end_percent: 0.5
- name: explicit
  start_percent: 0.5
  end_percent: 1
  sensitivity: 0
`), &zones))
	require.Len(t, zones, 2)
	assert.Equal(t, DefaultSensitivity, zones[0].Sensitivity)
	assert.Zero(t, zones[1].Sensitivity)
	assert.Error(t, zones[1].Validate())
}

func TestSetLEDCountReresolves(t *testing.T) {
	s, err := NewSet(10, []Zone{testZone("half", 0, 0.5)})
	require.NoError(t, err)
	s.SetLEDCount(60)
	snap := s.Snapshot()
	assert.Equal(t, 60, snap.LEDCount)
	assert.Equal(t, 30, snap.Zones[0].EndLED)
}

func TestSetConcurrentReaders(t *testing.T) {
	s, err := NewSet(100, []Zone{testZone("a", 0, 0.5), testZone("b", 0.5, 1)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				// Both zones always carry the same sensitivity because edits
				// replace the whole list.
				if len(snap.Zones) == 2 {
					assert.Equal(t, snap.Zones[0].Sensitivity, snap.Zones[1].Sensitivity)
				}
			}
		}()
	}
	for i := 1; i <= 50; i++ {
		v := float64(i%9 + 1)
		require.NoError(t, s.Replace([]Zone{
			{Name: "a", StartPercent: 0, EndPercent: 0.5, Sensitivity: v, Enabled: true},
			{Name: "b", StartPercent: 0.5, EndPercent: 1, Sensitivity: v, Enabled: true},
		}))
	}
	close(stop)
	wg.Wait()
}
