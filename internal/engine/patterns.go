// SPDX-License-Identifier: MIT
package engine

import (
	"strings"
	"time"

	"circlights/internal/color"
	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
	"circlights/internal/render"
	"circlights/internal/transport"
)

// Test patterns that temporarily replace the composed frame.
const (
	PatternRainbow = "rainbow"
	PatternWhite   = "white"
	PatternOff     = "off"
)

const defaultTestDuration = 3 * time.Second

// ParsePattern accepts a case-insensitive pattern name.
func ParsePattern(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case PatternRainbow, PatternWhite, PatternOff:
		return p, nil
	}
	return "", apperrors.Newf(apperrors.KindConfigurationInvalid, "led test", "unknown test pattern %q (want rainbow, white or off)", s)
}

// testFrame renders pattern across ledCount LEDs at brightness.
func testFrame(pattern string, ledCount int, brightness uint8) render.Frame {
	layer := render.Layer{Start: 0, Colors: make([]color.RGB, ledCount)}
	switch pattern {
	case PatternRainbow:
		for i := range layer.Colors {
			layer.Colors[i] = color.HSV(360*float64(i)/float64(max(ledCount, 1)), 1, 1)
		}
	case PatternWhite:
		for i := range layer.Colors {
			layer.Colors[i] = color.White
		}
	}
	return render.Compose(ledCount, []render.Layer{layer}, brightness)
}

// activeTest returns the running test pattern, if any. When a pattern
// expires the next normal frame is forced out so the strip is restored
// even if its content did not change.
func (e *Engine) activeTest(now time.Time) string {
	e.testMu.Lock()
	defer e.testMu.Unlock()
	if e.testPattern == "" {
		return ""
	}
	if now.Before(e.testUntil) {
		return e.testPattern
	}
	applog.Debugf("Engine: Test pattern %s finished", e.testPattern)
	e.testPattern = ""
	e.tm.Force(transport.PrimaryDevice)
	return ""
}
