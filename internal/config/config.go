// SPDX-License-Identifier: MIT

// Package config defines the runtime configuration, loads it from file,
// environment and flags, and persists it with presets.
package config

import (
	"fmt"
	"strings"
	"time"

	"circlights/internal/analysis"
	"circlights/internal/color"
	apperrors "circlights/internal/errors"
	"circlights/internal/transport"
	"circlights/internal/zone"
)

// Hardware and processing limits.
const (
	MinDeviceID   = -1 // -1 represents the system default device
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MinBlockSize  = 64
	MaxBlockSize  = 16384
	MaxLEDCount   = 8192
	MaxFPS        = 240
)

// Audio source kinds.
const (
	SourceDevice = "device"
	SourceSystem = "system"
	SourceFile   = "file"
)

// Config is the whole runtime configuration.
type Config struct {
	LogLevel      string         `mapstructure:"log_level" yaml:"log_level"`
	Audio         AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Analysis      AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	LED           LEDConfig      `mapstructure:"led" yaml:"led"`
	Zones         []zone.Zone    `mapstructure:"zones" yaml:"zones"`
	Web           WebConfig      `mapstructure:"web" yaml:"web"`
	Shutdown      ShutdownConfig `mapstructure:"shutdown" yaml:"shutdown"`
	Store         StoreConfig    `mapstructure:"store" yaml:"store"`
	CurrentPreset string         `mapstructure:"current_preset" yaml:"current_preset,omitempty"`
}

// AudioConfig selects and tunes the audio source.
type AudioConfig struct {
	// Source is device, system or file.
	Source string `mapstructure:"source" yaml:"source"`
	// InputDevice is the PortAudio device index, -1 for the default.
	InputDevice int     `mapstructure:"input_device" yaml:"input_device"`
	File        string  `mapstructure:"file" yaml:"file,omitempty"`
	Loop        bool    `mapstructure:"loop" yaml:"loop"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	// BlockSize is the number of samples per analysis block.
	BlockSize  int  `mapstructure:"block_size" yaml:"block_size"`
	Channels   int  `mapstructure:"channels" yaml:"channels"`
	LowLatency bool `mapstructure:"low_latency" yaml:"low_latency"`
	// RecordPath, when set, receives a WAV copy of the captured input.
	RecordPath string `mapstructure:"record_path" yaml:"record_path,omitempty"`
}

// AnalysisConfig tunes feature extraction.
type AnalysisConfig struct {
	Window          string        `mapstructure:"window" yaml:"window"`
	Normalization   string        `mapstructure:"normalization" yaml:"normalization"`
	Reference       float64       `mapstructure:"reference" yaml:"reference"`
	AGCDecay        float64       `mapstructure:"agc_decay" yaml:"agc_decay"`
	Smoothing       float64       `mapstructure:"smoothing" yaml:"smoothing"`
	OnsetMultiplier float64       `mapstructure:"onset_multiplier" yaml:"onset_multiplier"`
	OnsetHistory    int           `mapstructure:"onset_history" yaml:"onset_history"`
	OnsetMinFlux    float64       `mapstructure:"onset_min_flux" yaml:"onset_min_flux"`
	Refractory      time.Duration `mapstructure:"refractory" yaml:"refractory"`
	GateThreshold   float64       `mapstructure:"gate_threshold" yaml:"gate_threshold"`
}

// LEDConfig describes the strip, its device and the frame schedule. A
// Count of 0 adopts the count the device reports.
type LEDConfig struct {
	DeviceAddress   string        `mapstructure:"device_address" yaml:"device_address"`
	Count           int           `mapstructure:"count" yaml:"count"`
	Brightness      int           `mapstructure:"brightness" yaml:"brightness"`
	Protocol        string        `mapstructure:"protocol" yaml:"protocol"`
	DDPThreshold    int           `mapstructure:"ddp_threshold" yaml:"ddp_threshold"`
	TargetFPS       int           `mapstructure:"target_fps" yaml:"target_fps"`
	MinFPS          int           `mapstructure:"min_fps" yaml:"min_fps"`
	OverrunCycles   int           `mapstructure:"overrun_cycles" yaml:"overrun_cycles"`
	RecoverCycles   int           `mapstructure:"recover_cycles" yaml:"recover_cycles"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	OfflineAfter    int           `mapstructure:"offline_after" yaml:"offline_after"`
	FallbackAfter   int           `mapstructure:"fallback_after" yaml:"fallback_after"`
	HTTPMaxFPS      float64       `mapstructure:"http_max_fps" yaml:"http_max_fps"`
	TestDuration    time.Duration `mapstructure:"test_duration" yaml:"test_duration"`
}

// WebConfig configures the HTTP API. An empty Listen disables it.
type WebConfig struct {
	Listen          string `mapstructure:"listen" yaml:"listen"`
	TelemetryBuffer int    `mapstructure:"telemetry_buffer" yaml:"telemetry_buffer"`
}

type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type StoreConfig struct {
	PresetDir string `mapstructure:"preset_dir" yaml:"preset_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	tc := transport.DefaultConfig()
	oc := analysis.DefaultOnsetConfig()
	bc := analysis.DefaultBandConfig()
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Source:      SourceDevice,
			InputDevice: MinDeviceID,
			SampleRate:  44100,
			BlockSize:   1024,
			Channels:    1,
		},
		Analysis: AnalysisConfig{
			Window:          analysis.Hann.String(),
			Normalization:   bc.Normalization.String(),
			Reference:       bc.Reference,
			AGCDecay:        bc.AGCDecay,
			Smoothing:       bc.Smoothing,
			OnsetMultiplier: oc.Multiplier,
			OnsetHistory:    oc.HistorySize,
			OnsetMinFlux:    oc.MinFlux,
			Refractory:      oc.Refractory,
			GateThreshold:   analysis.DefaultConfig().GateThreshold,
		},
		LED: LEDConfig{
			Count:           60,
			Brightness:      200,
			Protocol:        string(transport.ProtocolAuto),
			DDPThreshold:    tc.DDPThreshold,
			TargetFPS:       60,
			MinFPS:          30,
			OverrunCycles:   5,
			RecoverCycles:   300,
			RefreshInterval: tc.RefreshInterval,
			ProbeInterval:   5 * time.Second,
			OfflineAfter:    tc.OfflineAfter,
			FallbackAfter:   tc.FallbackAfter,
			HTTPMaxFPS:      tc.HTTPMaxFPS,
			TestDuration:    3 * time.Second,
		},
		Zones: DefaultZones(),
		Web: WebConfig{
			Listen:          "127.0.0.1:8080",
			TelemetryBuffer: 8,
		},
		Shutdown: ShutdownConfig{Timeout: 5 * time.Second},
		Store:    StoreConfig{PresetDir: "presets"},
	}
}

// DefaultZones splits the strip into bass, mids and highs thirds.
func DefaultZones() []zone.Zone {
	blue := color.RGB{R: 40, G: 80, B: 255}
	return []zone.Zone{
		{Name: "bass", StartPercent: 0, EndPercent: 1.0 / 3, FrequencyRange: zone.RangeBass, EffectType: zone.EffectFlash, Sensitivity: 1, Enabled: true},
		{Name: "mids", StartPercent: 1.0 / 3, EndPercent: 2.0 / 3, FrequencyRange: zone.RangeMids, EffectType: zone.EffectSpectrum, Sensitivity: 1, Enabled: true},
		{Name: "highs", StartPercent: 2.0 / 3, EndPercent: 1, FrequencyRange: zone.RangeHighs, EffectType: zone.EffectWave, Sensitivity: 1.5, Enabled: true, Params: zone.Params{Color: &blue}},
	}
}

// Validate reports every problem at once as a ConfigurationInvalid error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Audio.Source {
	case SourceDevice, SourceSystem:
	case SourceFile:
		if strings.TrimSpace(c.Audio.File) == "" {
			add("audio.file must be set when audio.source is %q", SourceFile)
		}
	default:
		add("audio.source %q must be one of device, system, file", c.Audio.Source)
	}
	if c.Audio.InputDevice < MinDeviceID {
		add("audio.input_device must be >= %d", MinDeviceID)
	}
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		add("audio.sample_rate %.0f out of range [%d, %d]", c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.BlockSize < MinBlockSize || c.Audio.BlockSize > MaxBlockSize {
		add("audio.block_size %d out of range [%d, %d]", c.Audio.BlockSize, MinBlockSize, MaxBlockSize)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		add("audio.channels must be 1 or 2")
	}

	if _, err := analysis.ParseWindowFunc(c.Analysis.Window); err != nil {
		add("analysis.window: %w", err)
	}
	if _, err := analysis.ParseNormalization(c.Analysis.Normalization); err != nil {
		add("analysis.normalization: %w", err)
	}
	if c.Analysis.Smoothing < 0 || c.Analysis.Smoothing >= 1 {
		add("analysis.smoothing must be in [0, 1)")
	}
	if c.Analysis.OnsetMultiplier <= 0 {
		add("analysis.onset_multiplier must be positive")
	}
	if c.Analysis.Refractory < 0 {
		add("analysis.refractory must not be negative")
	}
	if c.Analysis.GateThreshold < 0 || c.Analysis.GateThreshold > 1 {
		add("analysis.gate_threshold must be in [0, 1]")
	}

	if c.LED.Count < 0 || c.LED.Count > MaxLEDCount {
		add("led.count %d out of range [0, %d]", c.LED.Count, MaxLEDCount)
	}
	if c.LED.Brightness < 0 || c.LED.Brightness > 255 {
		add("led.brightness %d out of range [0, 255]", c.LED.Brightness)
	}
	if _, err := transport.ParseProtocol(c.LED.Protocol); err != nil {
		add("led.protocol: %w", err)
	}
	if c.LED.MinFPS <= 0 || c.LED.TargetFPS < c.LED.MinFPS || c.LED.TargetFPS > MaxFPS {
		add("led fps must satisfy 0 < min_fps (%d) <= target_fps (%d) <= %d", c.LED.MinFPS, c.LED.TargetFPS, MaxFPS)
	}

	seen := make(map[string]bool, len(c.Zones))
	for i := range c.Zones {
		z := &c.Zones[i]
		z.Normalize()
		if err := z.Validate(); err != nil {
			add("zones[%d]: %w", i, err)
		}
		if seen[z.Name] {
			add("zones[%d]: duplicate zone name %q", i, z.Name)
		}
		seen[z.Name] = true
	}

	if c.Shutdown.Timeout <= 0 {
		add("shutdown.timeout must be positive")
	}
	if len(errs) > 0 {
		return apperrors.Wrap(apperrors.KindConfigurationInvalid, "config validate", apperrors.Join(errs...))
	}
	return nil
}

// Extractor builds the feature extractor settings.
func (c *Config) Extractor() analysis.Config {
	ec := analysis.DefaultConfig()
	ec.SampleRate = c.Audio.SampleRate
	ec.BlockSize = c.Audio.BlockSize
	ec.Window, _ = analysis.ParseWindowFunc(c.Analysis.Window)
	ec.Bands.Normalization, _ = analysis.ParseNormalization(c.Analysis.Normalization)
	if c.Analysis.Reference > 0 {
		ec.Bands.Reference = c.Analysis.Reference
	}
	if c.Analysis.AGCDecay > 0 {
		ec.Bands.AGCDecay = c.Analysis.AGCDecay
	}
	ec.Bands.Smoothing = c.Analysis.Smoothing
	ec.Onset.Multiplier = c.Analysis.OnsetMultiplier
	if c.Analysis.OnsetHistory > 0 {
		ec.Onset.HistorySize = c.Analysis.OnsetHistory
	}
	ec.Onset.MinFlux = c.Analysis.OnsetMinFlux
	ec.Onset.Refractory = c.Analysis.Refractory
	ec.GateThreshold = c.Analysis.GateThreshold
	return ec
}

// Transport builds the delivery policy.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		DDPThreshold:    c.LED.DDPThreshold,
		OfflineAfter:    c.LED.OfflineAfter,
		FallbackAfter:   c.LED.FallbackAfter,
		RefreshInterval: c.LED.RefreshInterval,
		HTTPMaxFPS:      c.LED.HTTPMaxFPS,
	}
}

// Device describes the primary LED device.
func (c *Config) Device() transport.DeviceConfig {
	p, _ := transport.ParseProtocol(c.LED.Protocol)
	return transport.DeviceConfig{
		Address:  c.LED.DeviceAddress,
		LEDCount: c.LED.Count,
		Protocol: p,
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Zones = CloneZones(c.Zones)
	return &out
}

// CloneZones copies zones including their color pointers.
func CloneZones(zs []zone.Zone) []zone.Zone {
	if zs == nil {
		return nil
	}
	out := make([]zone.Zone, len(zs))
	for i, z := range zs {
		if z.Params.Color != nil {
			c := *z.Params.Color
			z.Params.Color = &c
		}
		if z.Params.Color2 != nil {
			c := *z.Params.Color2
			z.Params.Color2 = &c
		}
		out[i] = z
	}
	return out
}
