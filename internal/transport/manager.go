// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"circlights/internal/color"
	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
	"circlights/internal/metrics"
	"circlights/internal/render"
	"circlights/internal/transport/udp"
	"circlights/internal/transport/wled"
)

// PrimaryDevice is the id of the single device the pipeline drives.
const PrimaryDevice = "primary"

// DeviceConfig describes one LED controller.
type DeviceConfig struct {
	// Address is host, host:port or an http URL. Empty means no device.
	Address string
	// LEDCount of 0 adopts the count the device reports.
	LEDCount int
	Protocol Protocol
}

// DeviceStatus is a point-in-time view of a device connection.
type DeviceStatus struct {
	ID               string     `json:"id"`
	Address          string     `json:"address"`
	LEDCount         int        `json:"led_count"`
	Protocol         Protocol   `json:"protocol"`
	Preferred        Protocol   `json:"preferred_protocol"`
	Online           bool       `json:"online"`
	Failures         int        `json:"consecutive_failures"`
	LastError        string     `json:"last_error,omitempty"`
	Info             *wled.Info `json:"info,omitempty"`
	FramesSent       uint64     `json:"frames_sent"`
	FramesSuppressed uint64     `json:"frames_suppressed"`
	SendFailures     uint64     `json:"send_failures"`
}

// DialFunc opens a sender for protocol p to address.
type DialFunc func(p Protocol, address string) (Sender, error)

type device struct {
	id     string
	cfg    DeviceConfig
	client *wled.Client

	// sendMu serializes transmissions; mu guards the fields below and is
	// never held across network I/O.
	sendMu sync.Mutex
	mu     sync.Mutex

	ledCount  int
	info      *wled.Info
	preferred Protocol
	protocol  Protocol
	sender    Sender
	online    bool
	fellBack  bool
	force     bool
	failures  int
	lastErr   error
	last      render.Frame
	lastSent  time.Time
	limiter   *rate.Limiter

	sent, suppressed, failed uint64
}

// Manager owns the device connections. It is safe for concurrent use;
// frames for one device are sent one at a time.
type Manager struct {
	cfg        Config
	dialer     DialFunc
	httpClient *http.Client
	metrics    *metrics.Metrics
	now        func() time.Time

	mu      sync.RWMutex
	devices map[string]*device
}

type Option func(*Manager)

// WithDialer replaces how senders are opened for every protocol.
func WithDialer(d DialFunc) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithHTTPClient sets the client used for WLED JSON requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces time.Now for refresh scheduling.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg Config, opts ...Option) *Manager {
	cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		now:     time.Now,
		devices: make(map[string]*device),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the delivery policy in use.
func (m *Manager) Config() Config { return m.cfg }

// Connect registers or replaces device id and runs a connection test.
// The device is usable even when the test fails; it starts offline and
// the probe loop brings it online.
func (m *Manager) Connect(ctx context.Context, id string, dc DeviceConfig) (DeviceStatus, error) {
	if dc.LEDCount < 0 {
		return DeviceStatus{}, apperrors.Newf(apperrors.KindConfigurationInvalid, "transport connect", "led count must not be negative, got %d", dc.LEDCount)
	}
	if dc.Protocol == "" {
		dc.Protocol = ProtocolAuto
	}
	if dc.Protocol == ProtocolWARLS && dc.LEDCount > udp.WARLSMaxLEDs {
		return DeviceStatus{}, apperrors.Newf(apperrors.KindConfigurationInvalid, "transport connect",
			"warls cannot address %d LEDs (max %d)", dc.LEDCount, udp.WARLSMaxLEDs)
	}

	d := &device{
		id:       id,
		cfg:      dc,
		ledCount: dc.LEDCount,
		force:    true,
		limiter:  rate.NewLimiter(rate.Limit(m.cfg.HTTPMaxFPS), 1),
	}

	if strings.TrimSpace(dc.Address) == "" {
		d.protocol, d.preferred = ProtocolLog, ProtocolLog
		d.sender = NewLoggingSender()
		d.online = true
		m.replace(id, d)
		return d.status(), nil
	}

	var copts []wled.Option
	if m.httpClient != nil {
		copts = append(copts, wled.WithHTTPClient(m.httpClient))
	}
	d.client = wled.NewClient(dc.Address, copts...)
	d.preferred = SelectProtocol(dc.Protocol, dc.LEDCount, m.cfg.DDPThreshold)
	d.protocol = d.preferred
	m.replace(id, d)

	info, err := d.client.Probe(ctx)
	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		m.metrics.SetDeviceOnline(false)
		applog.Warnf("Transport: Device %s at %s not reachable yet: %v", id, dc.Address, err)
		return d.status(), err
	}
	if err := d.client.SetOn(ctx, true); err != nil {
		applog.Warnf("Transport: Device %s: failed to switch on: %v", id, err)
	}
	m.restore(d, info)
	st := d.status()
	applog.Infof("Transport: Connected to %q (%s) with %d LEDs over %s", info.Name, dc.Address, st.LEDCount, st.Protocol)
	return st, nil
}

func (m *Manager) replace(id string, d *device) {
	m.mu.Lock()
	old := m.devices[id]
	m.devices[id] = d
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
}

func (m *Manager) device(id string) (*device, error) {
	m.mu.RLock()
	d := m.devices[id]
	m.mu.RUnlock()
	if d == nil {
		return nil, apperrors.Newf(apperrors.KindNotFound, "transport", "unknown device %q", id)
	}
	return d, nil
}

var errOffline = apperrors.New(apperrors.KindDeviceUnreachable, "transport send", "device offline")

// Send transmits f to device id unless it equals the last frame sent.
// Unchanged frames are still sent after a protocol switch, a reconnect,
// an explicit Force or once RefreshInterval has passed. It reports
// whether the frame went out. Offline devices are not contacted.
func (m *Manager) Send(ctx context.Context, id string, f render.Frame) (bool, error) {
	d, err := m.device(id)
	if err != nil {
		return false, err
	}
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.mu.Lock()
	if !d.online {
		d.mu.Unlock()
		return false, errOffline
	}
	now := m.now()
	force := d.force || d.lastSent.IsZero() || now.Sub(d.lastSent) >= m.cfg.RefreshInterval
	if !force && f.Equal(d.last) {
		d.suppressed++
		d.mu.Unlock()
		m.metrics.FrameSuppressed()
		return false, nil
	}
	if d.protocol == ProtocolHTTP && !d.limiter.AllowN(now, 1) {
		d.mu.Unlock()
		return false, nil
	}
	sender, err := m.senderLocked(d)
	proto := d.protocol
	d.mu.Unlock()

	if err == nil {
		err = sender.SendFrame(ctx, f)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, m.failureLocked(d, proto, err)
	}
	d.failures = 0
	d.lastErr = nil
	d.last = f
	d.lastSent = now
	d.force = false
	d.sent++
	m.metrics.FrameSent(string(proto))
	return true, nil
}

// Force makes the next Send transmit even an unchanged frame.
func (m *Manager) Force(id string) {
	if d, err := m.device(id); err == nil {
		d.mu.Lock()
		d.force = true
		d.mu.Unlock()
	}
}

func (m *Manager) senderLocked(d *device) (Sender, error) {
	if d.sender != nil {
		return d.sender, nil
	}
	s, err := m.dial(d, d.protocol)
	if err != nil {
		return nil, err
	}
	d.sender = s
	return s, nil
}

func (m *Manager) dial(d *device, p Protocol) (Sender, error) {
	if m.dialer != nil {
		return m.dialer(p, d.cfg.Address)
	}
	host := hostOf(d.cfg.Address)
	switch p {
	case ProtocolHTTP:
		return httpSender{d.client}, nil
	case ProtocolWARLS:
		port := udp.WLEDPort
		if d.info != nil && d.info.UDPPort > 0 {
			port = d.info.UDPPort
		}
		return udp.NewWARLSSender(net.JoinHostPort(host, strconv.Itoa(port)), m.cfg.WARLSTimeout)
	case ProtocolDDP:
		return udp.NewDDPSender(host)
	default:
		return nil, apperrors.Newf(apperrors.KindConfigurationInvalid, "transport dial", "cannot dial protocol %q", p)
	}
}

func (m *Manager) failureLocked(d *device, proto Protocol, err error) error {
	d.failures++
	d.failed++
	d.lastErr = err
	m.metrics.SendFailed(string(proto))
	applog.Debugf("Transport: Send to %s over %s failed (%d in a row): %v", d.id, proto, d.failures, err)

	if proto.Binary() && d.client != nil && d.failures >= m.cfg.FallbackAfter {
		m.switchLocked(d, ProtocolHTTP)
		d.fellBack = true
		m.metrics.ProtocolFallback()
		applog.Warnf("Transport: Device %s falling back from %s to http after %d failures", d.id, proto, d.failures)
	}
	if d.online && d.failures >= m.cfg.OfflineAfter {
		d.online = false
		m.metrics.SetDeviceOnline(false)
		applog.Warnf("Transport: Device %s offline after %d consecutive failures: %v", d.id, d.failures, err)
		return apperrors.Wrap(apperrors.KindDeviceUnreachable, "transport send", err)
	}
	return apperrors.Wrap(apperrors.KindTransientIO, "transport send", err)
}

func (m *Manager) switchLocked(d *device, p Protocol) {
	if d.protocol == p {
		return
	}
	if d.sender != nil {
		if err := d.sender.Close(); err != nil {
			applog.Debugf("Transport: closing %s sender: %v", d.protocol, err)
		}
		d.sender = nil
	}
	d.protocol = p
	d.force = true
}

// Probe runs a connection test against device id. It reads device info
// only and leaves the frame stream alone, except that a device which was
// offline or fell back to HTTP is restored to online on its preferred
// protocol.
func (m *Manager) Probe(ctx context.Context, id string) (wled.Info, error) {
	d, err := m.device(id)
	if err != nil {
		return wled.Info{}, err
	}
	if d.client == nil {
		return wled.Info{}, apperrors.New(apperrors.KindConfigurationInvalid, "transport probe", "no device address configured")
	}
	info, err := d.client.Probe(ctx)
	if err != nil {
		return wled.Info{}, err
	}
	m.restore(d, info)
	return info, nil
}

// ProbeDegraded probes every device that is offline or running on the
// HTTP fallback.
func (m *Manager) ProbeDegraded(ctx context.Context) {
	m.mu.RLock()
	var targets []*device
	for _, d := range m.devices {
		d.mu.Lock()
		if d.client != nil && (!d.online || d.fellBack) {
			targets = append(targets, d)
		}
		d.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, d := range targets {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.Probe(ctx, d.id); err != nil {
			applog.Debugf("Transport: Probe of %s failed: %v", d.id, err)
		}
	}
}

// Info returns cached device info, querying the device when stale.
func (m *Manager) Info(ctx context.Context, id string) (wled.Info, error) {
	d, err := m.device(id)
	if err != nil {
		return wled.Info{}, err
	}
	if d.client == nil {
		return wled.Info{}, apperrors.New(apperrors.KindConfigurationInvalid, "transport info", "no device address configured")
	}
	return d.client.Info(ctx)
}

func (m *Manager) restore(d *device, info wled.Info) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = &info
	if d.cfg.LEDCount == 0 && info.LEDCount() > 0 && info.LEDCount() != d.ledCount {
		d.ledCount = info.LEDCount()
		d.preferred = SelectProtocol(d.cfg.Protocol, d.ledCount, m.cfg.DDPThreshold)
	}
	// A WARLS pin only passes Connect when the count is not known yet.
	if d.preferred == ProtocolWARLS && d.ledCount > udp.WARLSMaxLEDs {
		applog.Warnf("Transport: Device %s has %d LEDs, more than warls can address (%d); using ddp",
			d.id, d.ledCount, udp.WARLSMaxLEDs)
		d.preferred = ProtocolDDP
	}
	wasOnline := d.online
	if !d.online || d.fellBack || d.protocol != d.preferred {
		d.failures = 0
		d.fellBack = false
		m.switchLocked(d, d.preferred)
		d.online = true
		d.force = true
		m.metrics.SetDeviceOnline(true)
	}
	if !wasOnline {
		applog.Infof("Transport: Device %s online over %s", d.id, d.protocol)
	}
}

// Status returns the state of device id.
func (m *Manager) Status(id string) (DeviceStatus, bool) {
	d, err := m.device(id)
	if err != nil {
		return DeviceStatus{}, false
	}
	return d.status(), true
}

// Devices lists every device, ordered by id.
func (m *Manager) Devices() []DeviceStatus {
	m.mu.RLock()
	out := make([]DeviceStatus, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.status())
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b DeviceStatus) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Disconnect closes and forgets device id.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	d := m.devices[id]
	delete(m.devices, id)
	m.mu.Unlock()
	if d != nil {
		d.close()
	}
}

// Close releases every device's sockets.
func (m *Manager) Close() error {
	m.mu.Lock()
	devs := m.devices
	m.devices = make(map[string]*device)
	m.mu.Unlock()
	for _, d := range devs {
		d.close()
	}
	return nil
}

func (d *device) status() DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := DeviceStatus{
		ID:               d.id,
		Address:          d.cfg.Address,
		LEDCount:         d.ledCount,
		Protocol:         d.protocol,
		Preferred:        d.preferred,
		Online:           d.online,
		Failures:         d.failures,
		FramesSent:       d.sent,
		FramesSuppressed: d.suppressed,
		SendFailures:     d.failed,
	}
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	if d.info != nil {
		info := *d.info
		st.Info = &info
	}
	return st
}

func (d *device) close() {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sender != nil {
		if err := d.sender.Close(); err != nil {
			applog.Debugf("Transport: closing %s: %v", d.id, err)
		}
		d.sender = nil
	}
	if d.client != nil {
		_ = d.client.Close()
	}
}

// httpSender pushes frames through the JSON API without closing the
// shared client when the protocol changes.
type httpSender struct {
	client *wled.Client
}

func (h httpSender) SendFrame(ctx context.Context, colors []color.RGB) error {
	return h.client.SendFrame(ctx, colors)
}

func (httpSender) Close() error { return nil }

// hostOf strips scheme, port and path from a device address.
func hostOf(address string) string {
	address = strings.TrimSpace(address)
	if strings.Contains(address, "://") {
		if u, err := url.Parse(address); err == nil {
			return u.Hostname()
		}
	}
	if h, _, err := net.SplitHostPort(address); err == nil {
		return h
	}
	return strings.TrimSuffix(address, "/")
}
