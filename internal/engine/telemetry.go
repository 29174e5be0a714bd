// SPDX-License-Identifier: MIT
package engine

import (
	"sync"
	"time"

	"circlights/internal/analysis"
	"circlights/internal/metrics"
	"circlights/internal/render"
	"circlights/internal/transport"
)

// Telemetry is published once per completed render cycle.
type Telemetry struct {
	Timestamp    time.Time           `json:"timestamp"`
	Features     analysis.Features   `json:"features"`
	Zones        []render.ZoneOutput `json:"zones"`
	Frame        render.Frame        `json:"frame"`
	FPS          float64             `json:"fps"`
	DeviceOnline bool                `json:"device_online"`
	Protocol     transport.Protocol  `json:"protocol"`
	TestPattern  string              `json:"test_pattern,omitempty"`
}

// hub fans telemetry out to bounded subscriber channels. A subscriber
// whose channel is full misses the message; the render task never waits.
type hub struct {
	mu      sync.Mutex
	subs    map[chan Telemetry]struct{}
	metrics *metrics.Metrics
}

func newHub(m *metrics.Metrics) *hub {
	return &hub{subs: make(map[chan Telemetry]struct{}), metrics: m}
}

func (h *hub) subscribe(buffer int) (<-chan Telemetry, func()) {
	ch := make(chan Telemetry, max(buffer, 1))
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

func (h *hub) active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs) > 0
}

func (h *hub) publish(t Telemetry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- t:
		default:
			h.metrics.TelemetryDropped()
		}
	}
}

// closeAll ends every subscription.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
