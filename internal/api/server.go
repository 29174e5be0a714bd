// SPDX-License-Identifier: MIT

// Package api serves the HTTP control surface and the websocket telemetry
// stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"circlights/internal/audio"
	"circlights/internal/engine"
	applog "circlights/internal/log"
	"circlights/internal/transport/wled"
	"circlights/internal/zone"
)

// Controller is the part of the engine the API drives.
type Controller interface {
	Status() engine.Status
	AudioDevices() (map[int]audio.DeviceInfo, error)
	SetAudioSource(ctx context.Context, req engine.AudioSourceRequest) error
	Playback(ctx context.Context, action string, position float64) error
	SetLEDConfig(ctx context.Context, s engine.LEDSettings) error
	LEDTest(ctx context.Context, pattern string, d time.Duration) error
	DeviceInfo(ctx context.Context, refresh bool) (wled.Info, error)
	Zones() []zone.Resolved
	ApplyZoneEdit(ctx context.Context, edit zone.Edit) error
	ListPresets() ([]string, error)
	LoadPreset(ctx context.Context, name string) error
	SavePreset(ctx context.Context, name string) error
	DeletePreset(ctx context.Context, name string) error
	RequestShutdown()
	Subscribe(buffer int) (<-chan engine.Telemetry, func())
}

var _ Controller = (*engine.Engine)(nil)

const (
	defaultTelemetryBuffer = 8
	readHeaderTimeout      = 5 * time.Second
	maxBodyBytes           = 1 << 20
)

// Server is an http.Handler; Start additionally runs it on a listener.
type Server struct {
	ctrl     Controller
	metrics  http.Handler
	buffer   int
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	hub      *wsHub

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	serveWg sync.WaitGroup
}

type Option func(*Server)

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTelemetryBuffer sets the per-client telemetry queue length.
func WithTelemetryBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:   ctrl,
		buffer: defaultTelemetryBuffer,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API is meant for the local network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hub: newWSHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/audio/devices", s.handleAudioDevices)
	s.mux.HandleFunc("POST /api/audio/source", s.handleAudioSource)
	s.mux.HandleFunc("POST /api/audio/playback", s.handlePlayback)
	s.mux.HandleFunc("POST /api/led/config", s.handleLEDConfig)
	s.mux.HandleFunc("POST /api/led/test", s.handleLEDTest)
	s.mux.HandleFunc("GET /api/device/info", s.handleDeviceInfo)

	s.mux.HandleFunc("GET /api/zones", s.handleZones)
	s.mux.HandleFunc("POST /api/zones", s.handleAddZone)
	s.mux.HandleFunc("PUT /api/zones", s.handleReplaceZones)
	s.mux.HandleFunc("PUT /api/zones/{name}", s.handleUpdateZone)
	s.mux.HandleFunc("DELETE /api/zones/{name}", s.handleDeleteZone)
	s.mux.HandleFunc("POST /api/zones/{name}/{action}", s.handleZoneAction)

	s.mux.HandleFunc("GET /api/presets", s.handlePresets)
	s.mux.HandleFunc("POST /api/presets/{name}", s.handleLoadPreset)
	s.mux.HandleFunc("PUT /api/presets/{name}", s.handleSavePreset)
	s.mux.HandleFunc("DELETE /api/presets/{name}", s.handleDeletePreset)

	s.mux.HandleFunc("POST /api/shutdown", s.handleShutdown)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("api server already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s, ReadHeaderTimeout: readHeaderTimeout}

	s.serveWg.Add(1)
	go func() {
		defer s.serveWg.Done()
		applog.Infof("API: Listening on http://%s", ln.Addr())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("API: Server error: %v", err)
		}
	}()
	return nil
}

// Addr is the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close disconnects websocket clients and shuts the server down, waiting
// for in-flight requests until ctx expires.
func (s *Server) Close(ctx context.Context) error {
	s.hub.closeAll()
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
		s.serveWg.Wait()
	}
	s.hub.wait()
	applog.Debugf("API: Closed")
	return err
}
