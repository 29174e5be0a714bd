// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"circlights/internal/config"
	applog "circlights/internal/log"

	"github.com/gordonklaus/portaudio"
)

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
// This should be deferred immediately after Initialize().
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// Device is one host audio device.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// DeviceInfo is the enumeration entry handed to collaborators.
type DeviceInfo struct {
	Name              string  `json:"name"`
	Channels          int     `json:"channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
}

// paDevicesFunc is swapped out in tests.
var paDevicesFunc = portaudio.Devices

// systemDeviceHints are lower-case name fragments of loopback devices on
// PulseAudio/PipeWire, macOS virtual drivers and Windows.
var systemDeviceHints = []string{"monitor", "loopback", "stereo mix", "blackhole", "soundflower", "what u hear"}

// HostDevices returns every device PortAudio reports, indexed by position.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	return toDevices(infos), nil
}

func toDevices(infos []*portaudio.DeviceInfo) []Device {
	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		}
	}
	return devices
}

// ListDevices returns the input-capable devices keyed by device ID.
func ListDevices() (map[int]DeviceInfo, error) {
	devices, err := HostDevices()
	if err != nil {
		return nil, err
	}
	return inputDevices(devices), nil
}

func inputDevices(devices []Device) map[int]DeviceInfo {
	out := make(map[int]DeviceInfo)
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out[d.ID] = DeviceInfo{
			Name:              d.Name,
			Channels:          d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
	}
	return out
}

// InputDevice retrieves the audio input device for the given device ID.
// If deviceID is MinDeviceID (-1), returns the system default input device.
// Returns an error if the device ID is invalid or no such device exists.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.MinDeviceID {
		return portaudio.DefaultInputDevice()
	}

	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	if devices[deviceID].MaxInputChannels <= 0 {
		return nil, fmt.Errorf("device %d (%s) has no input channels", deviceID, devices[deviceID].Name)
	}
	return devices[deviceID], nil
}

// SystemDevice finds a loopback or monitor input carrying the system audio
// output. Without one it falls back to the default input.
func SystemDevice() (*portaudio.DeviceInfo, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	if id, ok := matchSystemDevice(toDevices(infos)); ok {
		return infos[id], nil
	}
	applog.Warnf("Audio: No loopback or monitor device found, using the default input for system audio")
	return portaudio.DefaultInputDevice()
}

func matchSystemDevice(devices []Device) (int, bool) {
	for _, hint := range systemDeviceHints {
		for _, d := range devices {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), hint) {
				return d.ID, true
			}
		}
	}
	return 0, false
}

// PrintDevices writes a human readable device listing.
// For each device, it shows:
// - Device ID and name
// - Device type (Input/Output/Input+Output)
// - Channel count
// - Default sample rate
func PrintDevices(w io.Writer) error {
	devices, err := HostDevices()
	if err != nil {
		return err
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")

	for _, device := range devices {
		inputChannels := device.MaxInputChannels
		outputChannels := device.MaxOutputChannels

		deviceType := ""
		if inputChannels > 0 && outputChannels > 0 {
			deviceType = "Input/Output"
		} else if inputChannels > 0 {
			deviceType = "Input"
		} else if outputChannels > 0 {
			deviceType = "Output"
		}

		fmt.Fprintf(w, "[%d] %s (%s)\n", device.ID, device.Name, deviceType)
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", inputChannels, outputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)
		fmt.Fprintln(w)
	}

	return nil
}
