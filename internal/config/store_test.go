// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circlights/internal/color"
	apperrors "circlights/internal/errors"
	"circlights/internal/zone"
)

func newStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	return NewFileStore(filepath.Join(dir, "config.yaml"), filepath.Join(dir, "presets")), dir
}

func TestSaveAndLoadConfig(t *testing.T) {
	s, dir := newStore(t)

	_, err := s.Load()
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	cfg := Default()
	cfg.LED.Count = 144
	cfg.LED.DeviceAddress = "wled.local"
	cfg.CurrentPreset = "party"
	require.NoError(t, s.Save(&cfg))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.LED, got.LED)
	assert.Equal(t, cfg.Analysis, got.Analysis)
	assert.Equal(t, cfg.Zones, got.Zones)
	assert.Equal(t, "party", got.CurrentPreset)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temporary files are cleaned up")
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	s, _ := newStore(t)
	cfg := Default()
	require.NoError(t, s.Save(&cfg))

	cfg.LED.Brightness = 900
	assert.ErrorIs(t, s.Save(&cfg), apperrors.ErrConfigurationInvalid)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Default().LED.Brightness, got.LED.Brightness, "previous file untouched")
}

func TestPresets(t *testing.T) {
	s, _ := newStore(t)

	names, err := s.ListPresets()
	require.NoError(t, err)
	assert.Empty(t, names)

	red := color.RGB{R: 255}
	party := Preset{
		Name:       "party",
		Brightness: 180,
		Zones: []zone.Zone{{
			Name: "all", StartPercent: 0, EndPercent: 1, FrequencyRange: zone.RangeBass,
			EffectType: zone.EffectStrobe, Sensitivity: 1, Enabled: true,
			Params: zone.Params{Color: &red, Rate: 8},
		}},
	}
	require.NoError(t, s.SavePreset(party))
	require.NoError(t, s.SavePreset(Preset{Name: "calm", Brightness: 60, Zones: DefaultZones()}))

	names, err = s.ListPresets()
	require.NoError(t, err)
	assert.Equal(t, []string{"calm", "party"}, names)

	got, err := s.LoadPreset("party")
	require.NoError(t, err)
	assert.Equal(t, party, got)

	require.NoError(t, s.DeletePreset("party"))
	_, err = s.LoadPreset("party")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, s.DeletePreset("party"), apperrors.ErrNotFound)
}

func TestPresetValidation(t *testing.T) {
	s, _ := newStore(t)
	for _, name := range []string{"", "../evil", "a/b", ".hidden", "x..y"} {
		assert.ErrorIs(t, s.SavePreset(Preset{Name: name}), apperrors.ErrConfigurationInvalid, name)
	}
	bad := Preset{Name: "bad", Zones: []zone.Zone{{Name: "z", StartPercent: 0.5, EndPercent: 0.2, Sensitivity: 1}}}
	assert.ErrorIs(t, s.SavePreset(bad), apperrors.ErrConfigurationInvalid)

	dup := Preset{Name: "dup", Zones: append(DefaultZones(), DefaultZones()[0])}
	assert.ErrorIs(t, s.SavePreset(dup), apperrors.ErrConfigurationInvalid)

	names, err := s.ListPresets()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLoadPresetZoneSensitivity(t *testing.T) {
	s, dir := newStore(t)
	presets := filepath.Join(dir, "presets")
	require.NoError(t, os.MkdirAll(presets, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(presets, "soft"+presetExt), []byte(`
brightness: 100
zones:
  - name: all
    start_percent: 0
    end_percent: 1
`), 0o644))
	p, err := s.LoadPreset("soft")
	require.NoError(t, err)
	assert.Equal(t, zone.DefaultSensitivity, p.Zones[0].Sensitivity)

	require.NoError(t, os.WriteFile(filepath.Join(presets, "mute"+presetExt), []byte(`
brightness: 100
zones:
  - name: all
    start_percent: 0
    end_percent: 1
    sensitivity: 0
`), 0o644))
	_, err = s.LoadPreset("mute")
	assert.ErrorIs(t, err, apperrors.ErrConfigurationInvalid)

	bad := Preset{Name: "bad", Brightness: 100, Zones: []zone.Zone{{Name: "all", StartPercent: 0, EndPercent: 1}}}
	assert.ErrorIs(t, s.SavePreset(bad), apperrors.ErrConfigurationInvalid)
}
