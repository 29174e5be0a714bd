// SPDX-License-Identifier: MIT

// Package metrics exposes pipeline counters to Prometheus. All methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "circlights"

// Metrics holds the collectors of one pipeline on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	framesRendered   prometheus.Counter
	renderOverruns   prometheus.Counter
	renderSkips      prometheus.Counter
	renderDuration   prometheus.Histogram
	targetFPS        prometheus.Gauge
	framesSent       *prometheus.CounterVec
	framesSuppressed prometheus.Counter
	sendFailures     *prometheus.CounterVec
	deviceOnline     prometheus.Gauge
	fallbacks        prometheus.Counter
	beats            prometheus.Counter
	audioStale       prometheus.Counter
	telemetryDropped prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_rendered_total",
			Help: "Render cycles that produced a frame",
		}),
		renderOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "render_overruns_total",
			Help: "Render cycles that exceeded the frame budget",
		}),
		renderSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "render_skips_total",
			Help: "Render cycles skipped because the previous frame was still being sent",
		}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "render_duration_seconds",
			Help:    "Time spent rendering and composing one frame",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10), // 0.1ms to ~51ms
		}),
		targetFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "target_fps",
			Help: "Current render rate target",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Frames transmitted to the device",
		}, []string{"protocol"}),
		framesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_suppressed_total",
			Help: "Frames not sent because they matched the last transmitted frame",
		}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_failures_total",
			Help: "Failed frame transmissions",
		}, []string{"protocol"}),
		deviceOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "device_online",
			Help: "1 when the LED device is reachable",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_fallbacks_total",
			Help: "Switches from a UDP protocol to HTTP after repeated failures",
		}),
		beats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "beats_detected_total",
			Help: "Detected onsets",
		}),
		audioStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_stale_total",
			Help: "Times the audio source missed its block deadline",
		}),
		telemetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "telemetry_dropped_total",
			Help: "Telemetry messages dropped because a subscriber was full",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.framesRendered, m.renderOverruns, m.renderSkips, m.renderDuration, m.targetFPS,
		m.framesSent, m.framesSuppressed, m.sendFailures, m.deviceOnline, m.fallbacks,
		m.beats, m.audioStale, m.telemetryDropped,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry holding the pipeline metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RenderCycle(d time.Duration, overrun bool) {
	if m == nil {
		return
	}
	m.framesRendered.Inc()
	m.renderDuration.Observe(d.Seconds())
	if overrun {
		m.renderOverruns.Inc()
	}
}

func (m *Metrics) RenderSkipped() {
	if m == nil {
		return
	}
	m.renderSkips.Inc()
}

func (m *Metrics) SetTargetFPS(fps int) {
	if m == nil {
		return
	}
	m.targetFPS.Set(float64(fps))
}

func (m *Metrics) FrameSent(protocol string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(protocol).Inc()
}

func (m *Metrics) FrameSuppressed() {
	if m == nil {
		return
	}
	m.framesSuppressed.Inc()
}

func (m *Metrics) SendFailed(protocol string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(protocol).Inc()
}

func (m *Metrics) SetDeviceOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.deviceOnline.Set(1)
	} else {
		m.deviceOnline.Set(0)
	}
}

func (m *Metrics) ProtocolFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) Beat() {
	if m == nil {
		return
	}
	m.beats.Inc()
}

func (m *Metrics) AudioStale() {
	if m == nil {
		return
	}
	m.audioStale.Inc()
}

func (m *Metrics) TelemetryDropped() {
	if m == nil {
		return
	}
	m.telemetryDropped.Inc()
}
