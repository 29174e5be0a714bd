// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"slices"
	"strings"

	"circlights/internal/audio"
	"circlights/internal/config"

	tea "github.com/charmbracelet/bubbletea"
)

// inputDevice is one row of the device screen.
type inputDevice struct {
	ID int
	audio.DeviceInfo
}

type devicesMsg struct {
	devices []inputDevice
}

type errMsg struct {
	err error
}

// sourceSetMsg reports the outcome of switching the audio source.
type sourceSetMsg struct {
	id  int
	err error
}

// fetchDevices lists the input devices in id order.
func fetchDevices(eng Engine) tea.Cmd {
	return func() tea.Msg {
		infos, err := eng.AudioDevices()
		if err != nil {
			return errMsg{err}
		}
		devices := make([]inputDevice, 0, len(infos))
		for id, info := range infos {
			devices = append(devices, inputDevice{ID: id, DeviceInfo: info})
		}
		slices.SortFunc(devices, func(a, b inputDevice) int { return a.ID - b.ID })
		return devicesMsg{devices}
	}
}

// renderDevices formats the device list
func (m Monitor) renderDevices() string {
	if len(m.devices) == 0 {
		return "No audio input devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		marker := " "
		if device.ID == m.status.Audio.InputDevice && m.status.Audio.Source == config.SourceDevice {
			marker = "*"
		}
		deviceInfo := fmt.Sprintf("%s[%d] %s\n", marker, device.ID, device.Name)
		deviceInfo += fmt.Sprintf("    Input channels: %d\n", device.Channels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)

		if i == m.selectedIndex {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}
	return sb.String()
}
