// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"maps"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
	"circlights/internal/zone"
)

// EnvPrefix prefixes environment overrides, e.g. CIRCLIGHTS_LED_DEVICE_ADDRESS.
const EnvPrefix = "CIRCLIGHTS"

// Load resolves the configuration from, in increasing precedence, the
// built-in defaults, the YAML file, CIRCLIGHTS_* environment variables
// and any flags already bound to v. An empty path searches config.yaml in
// the working directory and the user config directory; finding none is
// not an error. v may be nil.
func Load(v *viper.Viper, path string) (*Config, string, error) {
	if v == nil {
		v = viper.New()
	}
	cfg := Default()
	setDefaults(v, &cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "circlights"))
		}
	}

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var parseErr viper.ConfigParseError
		switch {
		case errors.As(err, &parseErr):
			return nil, "", apperrors.Wrap(apperrors.KindConfigurationInvalid, "config load", fmt.Errorf("failed to parse config file: %w", err))
		case path != "" || !errors.As(err, &notFound):
			return nil, "", fmt.Errorf("failed to read config file: %w", err)
		}
		applog.Debugf("Config: no config file found, using defaults")
	} else {
		used = v.ConfigFileUsed()
		applog.Infof("Config: loaded %s", used)
	}

	defaultZones := cfg.Zones
	cfg.Zones = nil
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindConfigurationInvalid, "config load", fmt.Errorf("failed to parse config file: %w", err))
	}
	if !v.IsSet("zones") {
		cfg.Zones = defaultZones
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, used, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		zoneDefaultsHook(),
	)
}

// zoneDefaultsHook defaults the sensitivity of zones that omit it. An
// explicit 0 is passed through for Validate to reject.
func zoneDefaultsHook() mapstructure.DecodeHookFuncType {
	zoneType := reflect.TypeOf(zone.Zone{})
	return func(from, to reflect.Type, data any) (any, error) {
		if to != zoneType {
			return data, nil
		}
		m, ok := data.(map[string]any)
		if !ok {
			return data, nil
		}
		if _, set := m["sensitivity"]; set {
			return data, nil
		}
		out := maps.Clone(m)
		out["sensitivity"] = zone.DefaultSensitivity
		return out, nil
	}
}

// setDefaults registers every scalar key so environment variables can
// override keys absent from the file.
func setDefaults(v *viper.Viper, c *Config) {
	defaults := map[string]any{
		"log_level":                 c.LogLevel,
		"audio.source":              c.Audio.Source,
		"audio.input_device":        c.Audio.InputDevice,
		"audio.file":                c.Audio.File,
		"audio.loop":                c.Audio.Loop,
		"audio.sample_rate":         c.Audio.SampleRate,
		"audio.block_size":          c.Audio.BlockSize,
		"audio.channels":            c.Audio.Channels,
		"audio.low_latency":         c.Audio.LowLatency,
		"audio.record_path":         c.Audio.RecordPath,
		"analysis.window":           c.Analysis.Window,
		"analysis.normalization":    c.Analysis.Normalization,
		"analysis.reference":        c.Analysis.Reference,
		"analysis.agc_decay":        c.Analysis.AGCDecay,
		"analysis.smoothing":        c.Analysis.Smoothing,
		"analysis.onset_multiplier": c.Analysis.OnsetMultiplier,
		"analysis.onset_history":    c.Analysis.OnsetHistory,
		"analysis.onset_min_flux":   c.Analysis.OnsetMinFlux,
		"analysis.refractory":       c.Analysis.Refractory,
		"analysis.gate_threshold":   c.Analysis.GateThreshold,
		"led.device_address":        c.LED.DeviceAddress,
		"led.count":                 c.LED.Count,
		"led.brightness":            c.LED.Brightness,
		"led.protocol":              c.LED.Protocol,
		"led.ddp_threshold":         c.LED.DDPThreshold,
		"led.target_fps":            c.LED.TargetFPS,
		"led.min_fps":               c.LED.MinFPS,
		"led.overrun_cycles":        c.LED.OverrunCycles,
		"led.recover_cycles":        c.LED.RecoverCycles,
		"led.refresh_interval":      c.LED.RefreshInterval,
		"led.probe_interval":        c.LED.ProbeInterval,
		"led.offline_after":         c.LED.OfflineAfter,
		"led.fallback_after":        c.LED.FallbackAfter,
		"led.http_max_fps":          c.LED.HTTPMaxFPS,
		"led.test_duration":         c.LED.TestDuration,
		"web.listen":                c.Web.Listen,
		"web.telemetry_buffer":      c.Web.TelemetryBuffer,
		"shutdown.timeout":          c.Shutdown.Timeout,
		"store.preset_dir":          c.Store.PresetDir,
		"current_preset":            c.CurrentPreset,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
