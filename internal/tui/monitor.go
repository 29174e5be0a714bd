// SPDX-License-Identifier: MIT

// Package tui is the terminal monitor: live features, device state and a
// strip preview, plus an input device picker.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"circlights/internal/audio"
	"circlights/internal/config"
	"circlights/internal/engine"
	"circlights/internal/render"
	"circlights/internal/zone"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5533D")).
			Bold(true)
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	MonitorScreen ScreenType = iota
	DeviceScreen
)

const (
	meterWidth     = 30
	previewWidth   = 60
	statusInterval = time.Second
	// beatHold keeps the beat marker lit for this many telemetry messages.
	beatHold = 6
)

var (
	quitKeys   = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	deviceKeys = key.NewBinding(key.WithKeys("d"))
	upKeys     = key.NewBinding(key.WithKeys("up", "k"))
	downKeys   = key.NewBinding(key.WithKeys("down", "j"))
	enterKeys  = key.NewBinding(key.WithKeys("enter"))
	backKeys   = key.NewBinding(key.WithKeys("esc"))
	zoneKeys   = key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"))
)

// Engine is what the monitor reads and drives.
type Engine interface {
	Subscribe(buffer int) (<-chan engine.Telemetry, func())
	Status() engine.Status
	AudioDevices() (map[int]audio.DeviceInfo, error)
	SetAudioSource(ctx context.Context, req engine.AudioSourceRequest) error
	ApplyZoneEdit(ctx context.Context, edit zone.Edit) error
	RequestShutdown()
}

type telemetryMsg engine.Telemetry

type streamClosedMsg struct{}

type statusMsg engine.Status

// refreshMsg carries a status fetched outside the periodic refresh.
type refreshMsg engine.Status

// Monitor is the Bubble Tea model of the terminal monitor.
type Monitor struct {
	eng       Engine
	telemetry <-chan engine.Telemetry

	last      engine.Telemetry
	received  bool
	beatShown int
	status    engine.Status

	devices       []inputDevice
	selectedIndex int
	viewport      viewport.Model
	width         int
	ready         bool
	notice        string
	activeScreen  ScreenType
	quitting      bool
}

// NewMonitor builds a monitor reading telemetry from ch.
func NewMonitor(eng Engine, ch <-chan engine.Telemetry) Monitor {
	return Monitor{eng: eng, telemetry: ch, activeScreen: MonitorScreen}
}

// Run shows the monitor until the user quits, the telemetry stream ends
// or ctx is cancelled. Quitting requests a shutdown.
func Run(ctx context.Context, eng Engine, buffer int) error {
	ch, cancel := eng.Subscribe(buffer)
	defer cancel()
	p := tea.NewProgram(NewMonitor(eng, ch), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Monitor) Init() tea.Cmd {
	return tea.Batch(waitForTelemetry(m.telemetry), fetchStatus(m.eng))
}

func waitForTelemetry(ch <-chan engine.Telemetry) tea.Cmd {
	return func() tea.Msg {
		t, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return telemetryMsg(t)
	}
}

func fetchStatus(eng Engine) tea.Cmd {
	return func() tea.Msg { return statusMsg(eng.Status()) }
}

func nextStatus(eng Engine) tea.Cmd {
	return tea.Tick(statusInterval, func(time.Time) tea.Msg { return statusMsg(eng.Status()) })
}

func toggleZone(eng Engine, name string) tea.Cmd {
	return func() tea.Msg {
		if err := eng.ApplyZoneEdit(context.Background(), zone.Edit{Op: zone.OpToggle, Name: name}); err != nil {
			return errMsg{err}
		}
		return refreshMsg(eng.Status())
	}
}

func selectDevice(eng Engine, id int) tea.Cmd {
	return func() tea.Msg {
		err := eng.SetAudioSource(context.Background(), engine.AudioSourceRequest{Source: config.SourceDevice, InputDevice: &id})
		return sourceSetMsg{id: id, err: err}
	}
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
			if len(m.devices) > 0 {
				m.viewport.SetContent(m.renderDevices())
			}
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}

	case telemetryMsg:
		m.last = engine.Telemetry(msg)
		m.received = true
		if m.last.Features.Beat {
			m.beatShown = beatHold
		} else if m.beatShown > 0 {
			m.beatShown--
		}
		return m, waitForTelemetry(m.telemetry)

	case streamClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case statusMsg:
		m.status = engine.Status(msg)
		if m.activeScreen == DeviceScreen {
			m.viewport.SetContent(m.renderDevices())
		}
		return m, nextStatus(m.eng)

	case refreshMsg:
		m.status = engine.Status(msg)

	case devicesMsg:
		m.devices = msg.devices
		m.selectedIndex = min(m.selectedIndex, max(len(m.devices)-1, 0))
		m.viewport.SetContent(m.renderDevices())

	case sourceSetMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Device %d: %v", msg.id, msg.err)
		} else {
			m.notice = fmt.Sprintf("Listening on device %d", msg.id)
			m.activeScreen = MonitorScreen
		}

	case errMsg:
		m.notice = msg.err.Error()

	case tea.KeyMsg:
		if key.Matches(msg, quitKeys) {
			m.quitting = true
			m.eng.RequestShutdown()
			return m, tea.Quit
		}

		if m.activeScreen == MonitorScreen {
			switch {
			case key.Matches(msg, deviceKeys):
				m.activeScreen = DeviceScreen
				m.notice = ""
				return m, fetchDevices(m.eng)
			case key.Matches(msg, zoneKeys):
				i := int(msg.String()[0] - '1')
				if i < len(m.status.Zones) {
					return m, toggleZone(m.eng, m.status.Zones[i].Name)
				}
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, backKeys):
			m.activeScreen = MonitorScreen
			return m, nil
		case key.Matches(msg, upKeys):
			if m.selectedIndex > 0 {
				m.selectedIndex--
				m.viewport.SetContent(m.renderDevices())
			}
		case key.Matches(msg, downKeys):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
				m.viewport.SetContent(m.renderDevices())
			}
		case key.Matches(msg, enterKeys):
			if len(m.devices) > 0 {
				return m, selectDevice(m.eng, m.devices[m.selectedIndex].ID)
			}
		}
	}

	if m.activeScreen == DeviceScreen {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Monitor) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing..."
	}

	var title, body, help string
	if m.activeScreen == DeviceScreen {
		title = titleStyle.Render("Audio Input Devices")
		body = m.viewport.View()
		help = infoStyle.Render("↑/↓: Navigate • Enter: Listen • Esc: Back • q: Quit")
	} else {
		title = titleStyle.Render("circlights")
		body = m.renderMonitor()
		help = infoStyle.Render("d: Devices • 1-9: Toggle zone • q: Quit")
	}
	if m.notice != "" {
		help = warnStyle.Render(m.notice) + "\n" + help
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m Monitor) renderMonitor() string {
	var sb strings.Builder
	f := m.last.Features
	st := m.status

	source := st.Audio.Name
	if source == "" {
		source = st.Audio.Source
	}
	fmt.Fprintf(&sb, "Audio: %s", source)
	switch {
	case st.Audio.Error != "":
		sb.WriteString("  " + warnStyle.Render("fault: "+st.Audio.Error))
	case f.Stale:
		sb.WriteString("  " + warnStyle.Render("stale"))
	}
	if pb := st.Audio.Playback; pb != nil {
		state := "playing"
		if pb.Paused {
			state = "paused"
		}
		fmt.Fprintf(&sb, "  [%s %.0f/%.0fs]", state, pb.CurrentTime, pb.Duration)
	}
	sb.WriteString("\n\n")

	for _, row := range []struct {
		label string
		v     float64
	}{{"RMS", f.RMS}, {"Bass", f.Bass}, {"Mids", f.Mids}, {"Highs", f.Highs}} {
		fmt.Fprintf(&sb, "%-6s %s %.2f\n", row.label, meter(row.v, meterWidth), row.v)
	}
	beat := " "
	if m.beatShown > 0 {
		beat = highlightStyle.Render("●")
	}
	fmt.Fprintf(&sb, "Tempo  %.0f BPM %s\n\n", f.TempoBPM, beat)

	online := warnStyle.Render("offline")
	if m.last.DeviceOnline {
		online = highlightStyle.Render("online")
	}
	fmt.Fprintf(&sb, "Device: %s over %s, %d LEDs, brightness %d\n", online, m.last.Protocol, len(m.last.Frame), st.LED.Brightness)
	perf := st.LED.Performance
	fmt.Fprintf(&sb, "FPS:    %.1f / %d (cycle %.2f ms)", m.last.FPS, perf.CurrentFPS, perf.AvgCycleMs)
	if perf.Degraded {
		sb.WriteString("  " + warnStyle.Render("degraded"))
	}
	if m.last.TestPattern != "" {
		sb.WriteString("  test: " + m.last.TestPattern)
	}
	sb.WriteString("\n\n")

	if m.received {
		width := previewWidth
		if m.width > 4 {
			width = min(m.width-2, 2*previewWidth)
		}
		sb.WriteString(preview(m.last.Frame, width))
		sb.WriteString("\n\n")
	}

	for i, z := range st.Zones {
		state := "off"
		if z.Enabled {
			state = "on"
		}
		line := fmt.Sprintf("%d %-10s %-3s %-12s %-5s LEDs %d-%d", i+1, z.Name, state, z.EffectType, z.FrequencyRange, z.StartLED, z.EndLED)
		if z.Enabled {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line + "\n")
	}
	if st.CurrentPreset != "" {
		fmt.Fprintf(&sb, "Preset: %s\n", st.CurrentPreset)
	}
	return sb.String()
}

// meter draws v in [0,1] as a bar of width cells.
func meter(v float64, width int) string {
	if math.IsNaN(v) {
		v = 0
	}
	n := int(math.Round(math.Min(math.Max(v, 0), 1) * float64(width)))
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

// preview samples frame down to at most width cells, each drawn in its
// LED's color.
func preview(frame render.Frame, width int) string {
	if len(frame) == 0 || width <= 0 {
		return ""
	}
	cells := min(len(frame), width)
	var sb strings.Builder
	for i := range cells {
		c := frame[i*len(frame)/cells]
		sb.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(c.Hex())).Render("█"))
	}
	return sb.String()
}
