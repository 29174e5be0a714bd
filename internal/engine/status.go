// SPDX-License-Identifier: MIT
package engine

import (
	"circlights/internal/analysis"
	"circlights/internal/audio"
	applog "circlights/internal/log"
	"circlights/internal/transport"
	"circlights/internal/zone"
)

// Status is a point-in-time view of the whole system.
type Status struct {
	State         string          `json:"state"`
	Audio         AudioStatus     `json:"audio"`
	LED           LEDStatus       `json:"led"`
	Zones         []zone.Resolved `json:"zones"`
	Presets       []string        `json:"presets"`
	CurrentPreset string          `json:"current_preset,omitempty"`
}

type AudioStatus struct {
	Source      string                `json:"source"`
	Name        string                `json:"name,omitempty"`
	InputDevice int                   `json:"input_device"`
	SampleRate  float64               `json:"sample_rate"`
	BlockSize   int                   `json:"block_size"`
	Features    analysis.Features     `json:"features"`
	Stale       bool                  `json:"stale"`
	Playback    *audio.PlaybackStatus `json:"playback,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type LEDStatus struct {
	Device      *transport.DeviceStatus `json:"device,omitempty"`
	LEDCount    int                     `json:"led_count"`
	Brightness  int                     `json:"brightness"`
	Online      bool                    `json:"online"`
	Protocol    transport.Protocol      `json:"protocol"`
	Performance Performance             `json:"performance"`
	TestPattern string                  `json:"test_pattern,omitempty"`
}

// Status collects the current state without blocking the pipeline.
func (e *Engine) Status() Status {
	cfg := e.config()
	snap := e.zones.Snapshot()

	st := Status{
		State:         e.coord.State().String(),
		Zones:         snap.Zones,
		CurrentPreset: cfg.CurrentPreset,
	}

	st.Audio = AudioStatus{
		Source:      cfg.Audio.Source,
		InputDevice: cfg.Audio.InputDevice,
		SampleRate:  cfg.Audio.SampleRate,
		BlockSize:   cfg.Audio.BlockSize,
	}
	e.srcMu.Lock()
	if e.source != nil {
		st.Audio.Name = e.source.Name()
		if pb, ok := e.source.(audio.Playback); ok {
			ps := pb.Status()
			st.Audio.Playback = &ps
		}
	}
	if e.sourceErr != nil {
		st.Audio.Error = e.sourceErr.Error()
	}
	e.srcMu.Unlock()
	e.featMu.Lock()
	st.Audio.Features = e.features
	st.Audio.Stale = e.stale
	e.featMu.Unlock()

	st.LED = LEDStatus{
		LEDCount:    snap.LEDCount,
		Brightness:  int(e.brightness.Load()),
		Performance: e.perf.snapshot(),
	}
	if ds, ok := e.tm.Status(transport.PrimaryDevice); ok {
		st.LED.Device = &ds
		st.LED.Online = ds.Online
		st.LED.Protocol = ds.Protocol
	}
	e.testMu.Lock()
	st.LED.TestPattern = e.testPattern
	e.testMu.Unlock()

	presets, err := e.ListPresets()
	if err != nil {
		applog.Warnf("Engine: Listing presets: %v", err)
		presets = []string{}
	}
	st.Presets = presets
	return st
}
