// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"strings"
	"time"

	"circlights/internal/audio"
	"circlights/internal/config"
	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
	"circlights/internal/transport"
	"circlights/internal/transport/wled"
	"circlights/internal/zone"
)

// LEDSettings is a partial LED update. Nil fields keep their value.
type LEDSettings struct {
	Count         *int    `json:"led_count,omitempty"`
	Brightness    *int    `json:"brightness,omitempty"`
	DeviceAddress *string `json:"device_address,omitempty"`
	Protocol      *string `json:"protocol,omitempty"`
}

// AudioSourceRequest selects a new audio source. Empty or nil fields keep
// the configured value.
type AudioSourceRequest struct {
	Source      string `json:"source"`
	InputDevice *int   `json:"input_device,omitempty"`
	File        string `json:"file,omitempty"`
	Loop        *bool  `json:"loop,omitempty"`
}

// Playback actions for file sources.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionStop  = "stop"
	ActionSeek  = "seek"
)

// ApplyZoneEdit applies one zone mutation. The render task picks the new
// zone list up at its next cycle; a rejected edit leaves it unchanged.
func (e *Engine) ApplyZoneEdit(ctx context.Context, edit zone.Edit) error {
	return e.coord.Critical(ctx, "zone edit", func(context.Context) error {
		if err := e.zones.Apply(edit); err != nil {
			return err
		}
		applog.Infof("Engine: Zone edit %s %s applied", edit.Op, edit.Name)
		return e.persist()
	})
}

// Zones returns the resolved zone list.
func (e *Engine) Zones() []zone.Resolved {
	return e.zones.Snapshot().Zones
}

// SetLEDConfig updates strip length, brightness, address or protocol.
// Changing the device or its length reconnects the transport.
func (e *Engine) SetLEDConfig(ctx context.Context, s LEDSettings) error {
	return e.coord.Critical(ctx, "led config", func(ctx context.Context) error {
		next, err := e.nextConfig(func(c *config.Config) {
			if s.Count != nil {
				c.LED.Count = *s.Count
			}
			if s.Brightness != nil {
				c.LED.Brightness = *s.Brightness
			}
			if s.DeviceAddress != nil {
				c.LED.DeviceAddress = strings.TrimSpace(*s.DeviceAddress)
			}
			if s.Protocol != nil {
				c.LED.Protocol = strings.ToLower(strings.TrimSpace(*s.Protocol))
			}
		})
		if err != nil {
			return err
		}

		// A rejected device config leaves the connected device in place.
		if e.config().Device() != next.Device() {
			if err := e.connect(ctx, next.Device()); err != nil {
				return err
			}
		}
		e.commit(next)
		e.brightness.Store(uint32(next.LED.Brightness))
		e.syncLEDCount()
		e.tm.Force(transport.PrimaryDevice)
		applog.Infof("Engine: LED config now %d LEDs at brightness %d (%s)", next.LED.Count, next.LED.Brightness, next.LED.DeviceAddress)
		return e.persist()
	})
}

// SetAudioSource opens the requested source and swaps it in. The old
// source keeps running if the new one cannot be opened.
func (e *Engine) SetAudioSource(ctx context.Context, req AudioSourceRequest) error {
	return e.coord.Critical(ctx, "audio source", func(context.Context) error {
		next, err := e.nextConfig(func(c *config.Config) {
			if src := strings.ToLower(strings.TrimSpace(req.Source)); src != "" {
				c.Audio.Source = src
			}
			if req.InputDevice != nil {
				c.Audio.InputDevice = *req.InputDevice
			}
			if req.File != "" {
				c.Audio.File = req.File
			}
			if req.Loop != nil {
				c.Audio.Loop = *req.Loop
			}
		})
		if err != nil {
			return err
		}
		src, err := e.openSource(next.Audio)
		if err != nil {
			return err
		}
		e.setSource(src)
		e.commit(next)
		return e.persist()
	})
}

// Playback controls a file source. position is used by ActionSeek only.
func (e *Engine) Playback(ctx context.Context, action string, position float64) error {
	return e.coord.Critical(ctx, "playback", func(context.Context) error {
		pb := e.playback()
		if pb == nil {
			return apperrors.New(apperrors.KindConfigurationInvalid, "playback", "current audio source has no playback controls")
		}
		switch strings.ToLower(strings.TrimSpace(action)) {
		case ActionPlay:
			pb.Play()
		case ActionPause:
			pb.Pause()
		case ActionStop:
			pb.Stop()
		case ActionSeek:
			return pb.Seek(position)
		default:
			return apperrors.Newf(apperrors.KindConfigurationInvalid, "playback", "unknown playback action %q", action)
		}
		return nil
	})
}

// LEDTest shows pattern for d, or for the configured test duration when d
// is not positive. The first test frame is sent even if unchanged.
func (e *Engine) LEDTest(ctx context.Context, pattern string, d time.Duration) error {
	p, err := ParsePattern(pattern)
	if err != nil {
		return err
	}
	return e.coord.Critical(ctx, "led test", func(context.Context) error {
		if d <= 0 {
			d = e.config().LED.TestDuration
		}
		if d <= 0 {
			d = defaultTestDuration
		}
		e.testMu.Lock()
		e.testPattern = p
		e.testUntil = time.Now().Add(d)
		e.testMu.Unlock()
		e.tm.Force(transport.PrimaryDevice)
		applog.Infof("Engine: Showing %s test pattern for %s", p, d)
		return nil
	})
}

// ListPresets returns the saved preset names.
func (e *Engine) ListPresets() ([]string, error) {
	if e.store == nil {
		return []string{}, nil
	}
	return e.store.ListPresets()
}

// LoadPreset replaces the zone list and brightness with preset name.
func (e *Engine) LoadPreset(ctx context.Context, name string) error {
	return e.coord.Critical(ctx, "load preset", func(context.Context) error {
		if e.store == nil {
			return errNoStore("load preset")
		}
		p, err := e.store.LoadPreset(name)
		if err != nil {
			return err
		}
		next, err := e.nextConfig(func(c *config.Config) {
			c.LED.Brightness = p.Brightness
			c.CurrentPreset = p.Name
		})
		if err != nil {
			return err
		}
		if err := e.zones.Replace(p.Zones); err != nil {
			return err
		}
		e.commit(next)
		e.brightness.Store(uint32(p.Brightness))
		applog.Infof("Engine: Loaded preset %q (%d zones)", p.Name, len(p.Zones))
		return e.persist()
	})
}

// SavePreset stores the current zones and brightness as name.
func (e *Engine) SavePreset(ctx context.Context, name string) error {
	return e.coord.Critical(ctx, "save preset", func(context.Context) error {
		if e.store == nil {
			return errNoStore("save preset")
		}
		p := config.Preset{
			Name:       strings.TrimSpace(name),
			Brightness: int(e.brightness.Load()),
			Zones:      e.zones.Zones(),
		}
		if err := e.store.SavePreset(p); err != nil {
			return err
		}
		next, err := e.nextConfig(func(c *config.Config) { c.CurrentPreset = p.Name })
		if err != nil {
			return err
		}
		e.commit(next)
		return e.persist()
	})
}

// DeletePreset removes preset name.
func (e *Engine) DeletePreset(ctx context.Context, name string) error {
	return e.coord.Critical(ctx, "delete preset", func(context.Context) error {
		if e.store == nil {
			return errNoStore("delete preset")
		}
		if err := e.store.DeletePreset(name); err != nil {
			return err
		}
		if e.config().CurrentPreset != name {
			return nil
		}
		next, err := e.nextConfig(func(c *config.Config) { c.CurrentPreset = "" })
		if err != nil {
			return err
		}
		e.commit(next)
		return e.persist()
	})
}

// DeviceInfo returns the device's self-description, fetching it again
// when refresh is set.
func (e *Engine) DeviceInfo(ctx context.Context, refresh bool) (wled.Info, error) {
	if !refresh {
		return e.tm.Info(ctx, transport.PrimaryDevice)
	}
	info, err := e.tm.Probe(ctx, transport.PrimaryDevice)
	if err != nil {
		return wled.Info{}, err
	}
	e.syncLEDCount()
	return info, nil
}

// AudioDevices lists input-capable audio devices.
func (e *Engine) AudioDevices() (map[int]audio.DeviceInfo, error) {
	return e.listDevices()
}

// RequestShutdown asks the owner of the coordinator to shut down.
func (e *Engine) RequestShutdown() {
	e.coord.Request()
}

// Subscribe returns a telemetry stream of one message per render cycle
// and a function that ends the subscription. A subscriber that does not
// keep up loses messages.
func (e *Engine) Subscribe(buffer int) (<-chan Telemetry, func()) {
	return e.hub.subscribe(buffer)
}

// Config returns a copy of the running configuration.
func (e *Engine) Config() *config.Config {
	c := e.config()
	c.Zones = e.zones.Zones()
	return c
}

func (e *Engine) config() *config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.Clone()
}

// nextConfig returns a validated copy of the configuration with mutate
// applied. Critical operations run one at a time, so the copy cannot be
// overtaken by another edit before commit.
func (e *Engine) nextConfig(mutate func(*config.Config)) (*config.Config, error) {
	c := e.config()
	mutate(c)
	c.Zones = e.zones.Zones()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) commit(c *config.Config) {
	e.cfgMu.Lock()
	e.cfg = c
	e.cfgMu.Unlock()
}

// persist saves the running configuration when a store is attached.
func (e *Engine) persist() error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(e.Config()); err != nil {
		if apperrors.KindOf(err) != apperrors.KindUnknown {
			return err
		}
		return apperrors.Wrap(apperrors.KindTransientIO, "save config", err)
	}
	return nil
}

func (e *Engine) playback() audio.Playback {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	pb, _ := e.source.(audio.Playback)
	return pb
}

func errNoStore(op string) error {
	return apperrors.New(apperrors.KindConfigurationInvalid, op, "presets need a configuration store")
}
