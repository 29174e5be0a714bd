// SPDX-License-Identifier: MIT

// Package zone maps percentage-defined regions of the strip onto LED index
// ranges and selects the audio feature each region reacts to.
package zone

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"circlights/internal/color"
	apperrors "circlights/internal/errors"
)

// FrequencyRange selects which feature drives a zone.
type FrequencyRange string

const (
	RangeAll   FrequencyRange = "all"
	RangeBass  FrequencyRange = "bass"
	RangeMids  FrequencyRange = "mids"
	RangeHighs FrequencyRange = "highs"
)

// ParseFrequencyRange accepts a case-insensitive range name.
func ParseFrequencyRange(s string) (FrequencyRange, error) {
	switch r := FrequencyRange(strings.ToLower(strings.TrimSpace(s))); r {
	case RangeAll, RangeBass, RangeMids, RangeHighs:
		return r, nil
	}
	return "", apperrors.Newf(apperrors.KindConfigurationInvalid, "zone.frequency_range", "unknown frequency range %q", s)
}

// EffectType names an entry of the effect catalog.
type EffectType string

const (
	EffectSpectrum    EffectType = "spectrum"
	EffectFlash       EffectType = "flash"
	EffectColorChange EffectType = "color_change"
	EffectMoving      EffectType = "moving"
	EffectSolid       EffectType = "solid"
	EffectGradient    EffectType = "gradient"
	EffectFire        EffectType = "fire"
	EffectRainbow     EffectType = "rainbow"
	EffectStrobe      EffectType = "strobe"
	EffectWave        EffectType = "wave"
)

// EffectTypes lists the catalog in display order.
var EffectTypes = []EffectType{
	EffectSpectrum, EffectFlash, EffectColorChange, EffectMoving, EffectSolid,
	EffectGradient, EffectFire, EffectRainbow, EffectStrobe, EffectWave,
}

// ParseEffectType accepts a case-insensitive effect name.
func ParseEffectType(s string) (EffectType, error) {
	e := EffectType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range EffectTypes {
		if e == known {
			return e, nil
		}
	}
	return "", apperrors.Newf(apperrors.KindConfigurationInvalid, "zone.effect_type", "unknown effect %q", s)
}

// Sensitivity bounds. DefaultSensitivity applies only when a decoded zone
// omits the field; an explicit 0 is rejected by Validate.
const (
	DefaultSensitivity = 1.0
	MaxSensitivity     = 10.0
)

// Params holds the optional per-effect tunables. Zero values select the
// effect's default.
type Params struct {
	Color     *color.RGB `json:"color,omitempty" yaml:"color,omitempty" mapstructure:"color"`
	Color2    *color.RGB `json:"color2,omitempty" yaml:"color2,omitempty" mapstructure:"color2"`
	Threshold float64    `json:"threshold,omitempty" yaml:"threshold,omitempty" mapstructure:"threshold"`
	Decay     float64    `json:"decay,omitempty" yaml:"decay,omitempty" mapstructure:"decay"`
	Speed     float64    `json:"speed,omitempty" yaml:"speed,omitempty" mapstructure:"speed"`
	Width     float64    `json:"width,omitempty" yaml:"width,omitempty" mapstructure:"width"`
	Cooling   float64    `json:"cooling,omitempty" yaml:"cooling,omitempty" mapstructure:"cooling"`
	Sparking  float64    `json:"sparking,omitempty" yaml:"sparking,omitempty" mapstructure:"sparking"`
	Rate      float64    `json:"rate,omitempty" yaml:"rate,omitempty" mapstructure:"rate"`
	Duty      float64    `json:"duty,omitempty" yaml:"duty,omitempty" mapstructure:"duty"`
	Step      float64    `json:"step,omitempty" yaml:"step,omitempty" mapstructure:"step"`
}

// Zone is one contiguous percentage-defined region of the strip.
type Zone struct {
	Name           string         `json:"name" yaml:"name" mapstructure:"name"`
	StartPercent   float64        `json:"start_percent" yaml:"start_percent" mapstructure:"start_percent"`
	EndPercent     float64        `json:"end_percent" yaml:"end_percent" mapstructure:"end_percent"`
	FrequencyRange FrequencyRange `json:"frequency_range" yaml:"frequency_range" mapstructure:"frequency_range"`
	EffectType     EffectType     `json:"effect_type" yaml:"effect_type" mapstructure:"effect_type"`
	Sensitivity    float64        `json:"sensitivity" yaml:"sensitivity" mapstructure:"sensitivity"`
	Enabled        bool           `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Params         Params         `json:"params,omitzero" yaml:"params,omitempty" mapstructure:"params"`
}

// Validate enforces 0 <= start < end <= 1, a positive bounded sensitivity
// and known enum values.
func (z Zone) Validate() error {
	const op = "zone.validate"
	if strings.TrimSpace(z.Name) == "" {
		return apperrors.New(apperrors.KindConfigurationInvalid, op, "zone name is required")
	}
	if math.IsNaN(z.StartPercent) || math.IsNaN(z.EndPercent) ||
		z.StartPercent < 0 || z.EndPercent > 1 || z.StartPercent >= z.EndPercent {
		return apperrors.Newf(apperrors.KindConfigurationInvalid, op,
			"zone %q: need 0 <= start_percent < end_percent <= 1, got [%g, %g]", z.Name, z.StartPercent, z.EndPercent)
	}
	if !(z.Sensitivity > 0) || z.Sensitivity > MaxSensitivity {
		return apperrors.Newf(apperrors.KindConfigurationInvalid, op,
			"zone %q: sensitivity must be in (0, %g], got %g", z.Name, MaxSensitivity, z.Sensitivity)
	}
	if _, err := ParseFrequencyRange(string(z.FrequencyRange)); err != nil {
		return err
	}
	if _, err := ParseEffectType(string(z.EffectType)); err != nil {
		return err
	}
	return nil
}

// Range resolves the zone to LED indices [start, end) on a strip of
// ledCount LEDs. Indices are floor(percent * ledCount); a zone narrower than
// one LED is widened to own the LED its start falls on.
func (z Zone) Range(ledCount int) (start, end int) {
	if ledCount <= 0 {
		return 0, 0
	}
	start = int(math.Floor(z.StartPercent * float64(ledCount)))
	end = int(math.Floor(z.EndPercent * float64(ledCount)))
	start = min(max(start, 0), ledCount-1)
	end = min(max(end, start+1), ledCount)
	return start, end
}

// Features is the subset of analysis output the mapper needs.
type Features struct {
	RMS, Bass, Mids, Highs float64
}

// Select returns the zone's governing feature scaled by sensitivity and
// clamped to [0,1].
func (z Zone) Select(f Features) float64 {
	var v float64
	switch z.FrequencyRange {
	case RangeBass:
		v = f.Bass
	case RangeMids:
		v = f.Mids
	case RangeHighs:
		v = f.Highs
	default:
		v = f.RMS
	}
	v *= z.Sensitivity
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func (z Zone) String() string {
	return fmt.Sprintf("%s[%g-%g %s/%s x%g enabled=%t]",
		z.Name, z.StartPercent, z.EndPercent, z.FrequencyRange, z.EffectType, z.Sensitivity, z.Enabled)
}

// Normalize trims the name and lower-cases the enums, defaulting omitted
// ones. Sensitivity is left alone so that 0 fails validation.
func (z *Zone) Normalize() {
	z.Name = strings.TrimSpace(z.Name)
	if z.FrequencyRange == "" {
		z.FrequencyRange = RangeAll
	} else {
		z.FrequencyRange = FrequencyRange(strings.ToLower(string(z.FrequencyRange)))
	}
	if z.EffectType == "" {
		z.EffectType = EffectSpectrum
	} else {
		z.EffectType = EffectType(strings.ToLower(string(z.EffectType)))
	}
}

// UnmarshalYAML defaults an omitted sensitivity.
func (z *Zone) UnmarshalYAML(n *yaml.Node) error {
	type plain Zone
	p := plain{Sensitivity: DefaultSensitivity}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*z = Zone(p)
	return nil
}
