// SPDX-License-Identifier: MIT

// Package transport delivers composed frames to LED devices. It picks the
// wire protocol per device, suppresses unchanged frames and tracks device
// reachability.
package transport

import (
	"context"
	"strings"
	"time"

	"circlights/internal/color"
	apperrors "circlights/internal/errors"
	"circlights/internal/transport/udp"
)

// Protocol is a frame wire format.
type Protocol string

const (
	ProtocolAuto  Protocol = "auto"
	ProtocolHTTP  Protocol = "http"
	ProtocolWARLS Protocol = "warls"
	ProtocolDDP   Protocol = "ddp"
	// ProtocolLog is used when no device address is configured.
	ProtocolLog Protocol = "log"
)

// ParseProtocol accepts a case-insensitive protocol name, "" meaning auto.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProtocolAuto, nil
	case ProtocolAuto, ProtocolHTTP, ProtocolWARLS, ProtocolDDP:
		return p, nil
	default:
		return "", apperrors.Newf(apperrors.KindConfigurationInvalid, "parse protocol", "unknown protocol %q", s)
	}
}

func (p Protocol) String() string { return string(p) }

// Binary reports whether p is one of the realtime UDP formats.
func (p Protocol) Binary() bool { return p == ProtocolWARLS || p == ProtocolDDP }

// SelectProtocol resolves auto to DDP for strips of at least ddpThreshold
// LEDs and WARLS below it. WARLS is never chosen for strips it cannot
// address.
func SelectProtocol(pinned Protocol, ledCount, ddpThreshold int) Protocol {
	if pinned != "" && pinned != ProtocolAuto {
		return pinned
	}
	if ledCount >= ddpThreshold || ledCount > udp.WARLSMaxLEDs {
		return ProtocolDDP
	}
	return ProtocolWARLS
}

// Sender writes one frame to a device.
type Sender interface {
	SendFrame(ctx context.Context, colors []color.RGB) error
	Close() error
}

// Config tunes the delivery policy shared by all devices.
type Config struct {
	// DDPThreshold is the LED count from which auto selects DDP.
	DDPThreshold int
	// OfflineAfter consecutive failures mark a device offline.
	OfflineAfter int
	// FallbackAfter consecutive failures on a binary protocol switch the
	// device to HTTP.
	FallbackAfter int
	// RefreshInterval forces a resend of an unchanged frame.
	RefreshInterval time.Duration
	// HTTPMaxFPS caps frame pushes over HTTP.
	HTTPMaxFPS float64
	// WARLSTimeout is the seconds WLED stays in realtime mode after the
	// last packet.
	WARLSTimeout uint8
}

func DefaultConfig() Config {
	return Config{
		DDPThreshold:    256,
		OfflineAfter:    3,
		FallbackAfter:   2,
		RefreshInterval: time.Second,
		HTTPMaxFPS:      15,
		WARLSTimeout:    2,
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.DDPThreshold <= 0 {
		c.DDPThreshold = d.DDPThreshold
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = d.OfflineAfter
	}
	if c.FallbackAfter <= 0 {
		c.FallbackAfter = d.FallbackAfter
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.HTTPMaxFPS <= 0 {
		c.HTTPMaxFPS = d.HTTPMaxFPS
	}
	if c.WARLSTimeout == 0 {
		c.WARLSTimeout = d.WARLSTimeout
	}
}
