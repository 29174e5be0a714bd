// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circlights/internal/analysis"
	"circlights/internal/audio"
	"circlights/internal/color"
	"circlights/internal/engine"
	"circlights/internal/render"
	"circlights/internal/zone"
)

type fakeEngine struct {
	mu        sync.Mutex
	shutdowns int
	edits     []zone.Edit
	sources   []engine.AudioSourceRequest
	sourceErr error
}

func (f *fakeEngine) Subscribe(int) (<-chan engine.Telemetry, func()) {
	ch := make(chan engine.Telemetry)
	return ch, func() {}
}

func (f *fakeEngine) Status() engine.Status {
	return engine.Status{
		Audio: engine.AudioStatus{Source: "device", InputDevice: 2, Name: "Mic"},
		LED:   engine.LEDStatus{Brightness: 200, Performance: engine.Performance{CurrentFPS: 60}},
		Zones: []zone.Resolved{
			{Zone: zone.Zone{Name: "bass", EffectType: zone.EffectFlash, FrequencyRange: zone.RangeBass, Enabled: true}, StartLED: 0, EndLED: 20},
			{Zone: zone.Zone{Name: "highs", EffectType: zone.EffectWave, FrequencyRange: zone.RangeHighs}, StartLED: 20, EndLED: 60},
		},
	}
}

func (f *fakeEngine) AudioDevices() (map[int]audio.DeviceInfo, error) {
	return map[int]audio.DeviceInfo{
		5: {Name: "Loopback", Channels: 2, DefaultSampleRate: 48000},
		2: {Name: "Mic", Channels: 1, DefaultSampleRate: 44100},
	}, nil
}

func (f *fakeEngine) SetAudioSource(_ context.Context, req engine.AudioSourceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, req)
	return f.sourceErr
}

func (f *fakeEngine) ApplyZoneEdit(_ context.Context, e zone.Edit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, e)
	return nil
}

func (f *fakeEngine) RequestShutdown() {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Monitor, msg tea.Msg) (Monitor, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Monitor)
	require.True(t, ok)
	return mm, cmd
}

func ready(t *testing.T, eng *fakeEngine) Monitor {
	t.Helper()
	m := NewMonitor(eng, make(chan engine.Telemetry))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	m, _ = update(t, m, refreshMsg(eng.Status()))
	return m
}

func TestMonitorShowsTelemetry(t *testing.T) {
	eng := &fakeEngine{}
	m := ready(t, eng)

	frame := render.NewFrame(60)
	frame[0] = color.RGB{R: 255}
	m, cmd := update(t, m, telemetryMsg{
		Features:     analysis.Features{RMS: 0.5, Bass: 1, Beat: true, TempoBPM: 128},
		Frame:        frame,
		FPS:          59.7,
		DeviceOnline: true,
		Protocol:     "warls",
	})
	assert.NotNil(t, cmd, "keeps listening for telemetry")
	assert.Equal(t, beatHold, m.beatShown)

	view := m.View()
	assert.Contains(t, view, "Audio: Mic")
	assert.Contains(t, view, "128 BPM")
	assert.Contains(t, view, "online")
	assert.Contains(t, view, "60 LEDs")
	assert.Contains(t, view, "59.7")
	assert.Contains(t, view, "bass")
	assert.Contains(t, view, meter(1, meterWidth))

	m, _ = update(t, m, telemetryMsg{})
	assert.Equal(t, beatHold-1, m.beatShown)
}

func TestMonitorQuitRequestsShutdown(t *testing.T) {
	eng := &fakeEngine{}
	m := ready(t, eng)
	m, cmd := update(t, m, keyMsg("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 1, eng.shutdowns)
	assert.Empty(t, m.View())
}

func TestMonitorStreamEndQuits(t *testing.T) {
	eng := &fakeEngine{}
	ch := make(chan engine.Telemetry)
	close(ch)
	msg := waitForTelemetry(ch)()
	assert.Equal(t, streamClosedMsg{}, msg)

	m := ready(t, eng)
	_, cmd := update(t, m, msg)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Zero(t, eng.shutdowns)
}

func TestMonitorTogglesZones(t *testing.T) {
	eng := &fakeEngine{}
	m := ready(t, eng)

	_, cmd := update(t, m, keyMsg("2"))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.IsType(t, refreshMsg{}, msg)
	require.Len(t, eng.edits, 1)
	assert.Equal(t, zone.Edit{Op: zone.OpToggle, Name: "highs"}, eng.edits[0])

	_, cmd = update(t, m, keyMsg("9"))
	assert.Nil(t, cmd, "no zone 9")
}

func TestDeviceScreen(t *testing.T) {
	eng := &fakeEngine{}
	m := ready(t, eng)

	m, cmd := update(t, m, keyMsg("d"))
	assert.Equal(t, DeviceScreen, m.activeScreen)
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, devicesMsg{}, msg)
	devs := msg.(devicesMsg).devices
	require.Len(t, devs, 2)
	assert.Equal(t, 2, devs[0].ID, "sorted by id")

	m, _ = update(t, m, msg)
	view := m.View()
	assert.Contains(t, view, "Audio Input Devices")
	assert.Contains(t, view, "*[2] Mic")
	assert.Contains(t, view, "[5] Loopback")

	m, _ = update(t, m, keyMsg("down"))
	assert.Equal(t, 1, m.selectedIndex)
	m, cmd = update(t, m, keyMsg("enter"))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	require.Len(t, eng.sources, 1)
	require.NotNil(t, eng.sources[0].InputDevice)
	assert.Equal(t, 5, *eng.sources[0].InputDevice)
	assert.Equal(t, MonitorScreen, m.activeScreen)
	assert.Contains(t, m.View(), "Listening on device 5")

	eng.sourceErr = errors.New("device busy")
	m, _ = update(t, m, keyMsg("d"))
	m, cmd = update(t, m, keyMsg("enter"))
	m, _ = update(t, m, cmd())
	assert.Equal(t, DeviceScreen, m.activeScreen)
	assert.Contains(t, m.View(), "device busy")

	m, _ = update(t, m, keyMsg("esc"))
	assert.Equal(t, MonitorScreen, m.activeScreen)
}

func TestMeterAndPreview(t *testing.T) {
	assert.Equal(t, strings.Repeat("░", 4), meter(-1, 4))
	assert.Equal(t, "██░░", meter(0.5, 4))
	assert.Equal(t, "████", meter(7, 4))

	assert.Empty(t, preview(nil, 10))
	frame := render.NewFrame(100)
	assert.Equal(t, 10, strings.Count(preview(frame, 10), "█"))
	assert.Equal(t, 3, strings.Count(preview(render.NewFrame(3), 10), "█"))
}
