// SPDX-License-Identifier: MIT

/*
Package engine runs the visualizer pipeline.

Four tasks share one errgroup:
  - audio: reads blocks from the current source and extracts features
  - render: on a fixed-period tick, renders the zone set into a frame
  - transport: sends the newest frame to the device
  - probe: periodically probes an offline or fallen-back device

Frames pass from render to transport through a single slot that only ever
holds the newest frame. The render task skips a tick while a send is in
flight. Control operations arrive from the API and run as critical
operations of the shutdown coordinator.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"circlights/internal/analysis"
	"circlights/internal/audio"
	"circlights/internal/config"
	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
	"circlights/internal/metrics"
	"circlights/internal/render"
	"circlights/internal/shutdown"
	"circlights/internal/transport"
	"circlights/internal/zone"
)

const (
	// fallbackLEDCount sizes frames while the strip length is unknown.
	fallbackLEDCount = 60
	sendTimeout      = time.Second
	connectTimeout   = 3 * time.Second
	// staleFactor is how many block periods may pass without a block
	// before features are reported stale.
	staleFactor = 2
)

// Engine is safe for concurrent use. Run drives the pipeline; the other
// exported methods are the control surface.
type Engine struct {
	coord       *shutdown.Coordinator
	store       *config.FileStore
	metrics     *metrics.Metrics
	tm          *transport.Manager
	openSource  func(config.AudioConfig) (audio.Source, error)
	listDevices func() (map[int]audio.DeviceInfo, error)

	// cfgMu guards cfg. Critical operations replace cfg wholesale.
	cfgMu sync.RWMutex
	cfg   *config.Config

	zones       *zone.Set
	renderer    *render.Renderer
	extractor   *analysis.Extractor
	blockPeriod time.Duration
	brightness  atomic.Uint32

	featMu      sync.Mutex
	features    analysis.Features
	pendingBeat bool
	lastBlock   time.Time
	stale       bool

	srcMu      sync.Mutex
	source     audio.Source
	sourceGen  uint64
	srcCancel  context.CancelFunc
	sourceErr  error
	srcChanged chan struct{}

	slot      chan render.Frame
	sending   atomic.Bool
	lastCycle time.Time

	testMu      sync.Mutex
	testPattern string
	testUntil   time.Time

	perf perfStats
	hub  *hub

	runMu     sync.Mutex
	running   bool
	cancelRun context.CancelFunc
	done      chan struct{}
}

type Option func(*Engine)

// WithStore persists configuration changes and enables presets.
func WithStore(s *config.FileStore) Option {
	return func(e *Engine) { e.store = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTransport replaces the device manager built from the config.
func WithTransport(tm *transport.Manager) Option {
	return func(e *Engine) { e.tm = tm }
}

// WithSourceOpener replaces audio.Open.
func WithSourceOpener(open func(config.AudioConfig) (audio.Source, error)) Option {
	return func(e *Engine) { e.openSource = open }
}

// WithDeviceLister replaces audio.ListDevices.
func WithDeviceLister(list func() (map[int]audio.DeviceInfo, error)) Option {
	return func(e *Engine) { e.listDevices = list }
}

// New validates cfg and builds the pipeline. It registers the pipeline,
// the audio source and the transport with coord, which stops them in
// that order.
func New(cfg *config.Config, coord *shutdown.Coordinator, opts ...Option) (*Engine, error) {
	if coord == nil {
		return nil, errors.New("engine requires a shutdown coordinator")
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	zones, err := zone.NewSet(effectiveLEDCount(cfg.LED.Count, 0), cfg.Zones)
	if err != nil {
		return nil, err
	}
	extractor, err := analysis.NewExtractor(cfg.Extractor())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigurationInvalid, "engine", err)
	}

	e := &Engine{
		coord:       coord,
		cfg:         cfg,
		openSource:  audio.Open,
		listDevices: audio.ListDevices,
		zones:       zones,
		renderer:    render.NewRenderer(),
		extractor:   extractor,
		blockPeriod: extractor.Config().BlockPeriod(),
		srcChanged:  make(chan struct{}),
		slot:        make(chan render.Frame, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tm == nil {
		e.tm = transport.NewManager(cfg.Transport(), transport.WithMetrics(e.metrics))
	}
	e.hub = newHub(e.metrics)
	e.brightness.Store(uint32(cfg.LED.Brightness))

	coord.Register("transport", e.stopTransport)
	coord.Register("audio", e.stopAudio)
	coord.Register("pipeline", e.stopPipeline)
	return e, nil
}

// Run connects the device, opens the configured audio source and runs the
// pipeline until ctx is cancelled or the coordinator stops it. Failing to
// reach the device or to open the source is logged and the pipeline runs
// degraded.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return errors.New("engine is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancelRun = cancel
	e.runMu.Unlock()
	defer close(e.done)
	defer cancel()

	e.cfgMu.RLock()
	dc, ac := e.cfg.Device(), e.cfg.Audio
	e.cfgMu.RUnlock()

	if err := e.connect(ctx, dc); err != nil {
		applog.Errorf("Engine: LED device configuration rejected: %v", err)
	}
	if e.currentSourceName() == "" {
		src, err := e.openSource(ac)
		if err != nil {
			applog.Errorf("Engine: Audio source %q unavailable, running without audio: %v", ac.Source, err)
			e.setSourceError(err)
		} else {
			e.setSource(src)
		}
	}

	applog.Infof("Engine: Running at %d FPS (block %d @ %.0f Hz)", e.targetFPS(), ac.BlockSize, ac.SampleRate)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.audioTask(gctx) })
	g.Go(func() error { return e.renderTask(gctx) })
	g.Go(func() error { return e.transportTask(gctx) })
	g.Go(func() error { return e.probeTask(gctx) })
	err := g.Wait()

	e.hub.closeAll()
	applog.Infof("Engine: Stopped")
	return err
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// audioTask reads blocks from the current source. When the source fails
// it is released and the task waits for a new one; the render task then
// sees stale features.
func (e *Engine) audioTask(ctx context.Context) error {
	block := make([]float32, e.extractor.Config().BlockSize)
	var gen uint64
	for {
		src, g, changed := e.currentSource()
		if src == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
				continue
			}
		}
		if g != gen {
			e.extractor.Reset()
			gen = g
		}

		sctx, cancel := context.WithCancel(ctx)
		if !e.bindSource(g, cancel) {
			cancel()
			continue
		}
		err := e.pump(sctx, src, block)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// Cancelled by a source swap.
			continue
		}
		if e.sourceFailed(g, src, err) {
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
			}
		}
	}
}

func (e *Engine) pump(ctx context.Context, src audio.Source, block []float32) error {
	for {
		n, err := src.ReadBlock(ctx, block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if apperrors.KindOf(err) == apperrors.KindTransientIO {
				applog.Debugf("Engine: Audio glitch on %s: %v", src.Name(), err)
				if !sleep(ctx, e.blockPeriod) {
					return nil
				}
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		f := e.extractor.Process(block[:n])
		e.featMu.Lock()
		e.features = f
		e.lastBlock = time.Now()
		if f.Beat {
			e.pendingBeat = true
		}
		e.featMu.Unlock()
		if f.Beat {
			e.metrics.Beat()
		}
	}
}

// renderTask runs one cycle per tick, degrading and recovering the rate.
func (e *Engine) renderTask(ctx context.Context) error {
	e.cfgMu.RLock()
	led := e.cfg.LED
	e.cfgMu.RUnlock()
	p := newPacer(led.TargetFPS, led.MinFPS, led.OverrunCycles, led.RecoverCycles)
	e.perf.setRate(p.target, p.fps)
	e.metrics.SetTargetFPS(p.fps)

	ticker := time.NewTicker(p.period())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if e.sending.Load() {
			e.perf.skipped()
			e.metrics.RenderSkipped()
			continue
		}

		start := time.Now()
		e.renderCycle(start)
		elapsed := time.Since(start)

		changed, overrun := p.observe(elapsed)
		e.perf.cycle(start, elapsed, overrun)
		e.metrics.RenderCycle(elapsed, overrun)
		if changed {
			ticker.Reset(p.period())
			e.perf.setRate(p.target, p.fps)
			e.metrics.SetTargetFPS(p.fps)
			if p.degraded() {
				applog.Warnf("Engine: Render cycles over budget, dropping to %d FPS", p.fps)
			} else {
				applog.Infof("Engine: Render load recovered, back to %d FPS", p.fps)
			}
		}
	}
}

// renderCycle renders one frame from the current snapshot and features
// and hands it to the transport.
func (e *Engine) renderCycle(now time.Time) {
	feats, beat := e.takeFeatures(now)
	var dt time.Duration
	if !e.lastCycle.IsZero() {
		dt = now.Sub(e.lastCycle)
	}
	e.lastCycle = now

	brightness := uint8(e.brightness.Load())
	snap := e.zones.Snapshot()
	frame := e.renderer.Render(render.Cycle{
		Zones:      snap,
		Features:   feats,
		Beat:       beat,
		Dt:         dt,
		Brightness: brightness,
	})
	pattern := e.activeTest(now)
	if pattern != "" {
		frame = testFrame(pattern, snap.LEDCount, brightness)
	}

	select {
	case <-e.slot:
	default:
	}
	select {
	case e.slot <- frame:
	default:
	}

	if e.hub.active() {
		st, _ := e.tm.Status(transport.PrimaryDevice)
		e.hub.publish(Telemetry{
			Timestamp:    now,
			Features:     feats,
			Zones:        e.renderer.Outputs(),
			Frame:        frame,
			FPS:          e.perf.snapshot().FPS,
			DeviceOnline: st.Online,
			Protocol:     st.Protocol,
			TestPattern:  pattern,
		})
	}
}

// takeFeatures returns the latest features for a cycle. A beat is handed
// to exactly one cycle. Without a block for staleFactor block periods the
// features are replaced by a stale marker with zero levels and no beat.
func (e *Engine) takeFeatures(now time.Time) (analysis.Features, bool) {
	e.featMu.Lock()
	defer e.featMu.Unlock()

	f := e.features
	if e.blockPeriod > 0 && now.Sub(e.lastBlock) > staleFactor*e.blockPeriod {
		if !e.stale {
			e.metrics.AudioStale()
			applog.Warnf("Engine: No audio block for %s, reporting stale features", now.Sub(e.lastBlock).Round(time.Millisecond))
		}
		e.stale = true
		e.pendingBeat = false
		return analysis.Features{Seq: f.Seq, TempoBPM: f.TempoBPM, Stale: true}, false
	}
	if e.stale {
		applog.Infof("Engine: Audio resumed")
		e.stale = false
	}
	beat := e.pendingBeat
	e.pendingBeat = false
	f.Beat = beat
	return f, beat
}

// transportTask sends frames from the slot. Errors never reach the
// render path; the manager tracks failures and offline state.
func (e *Engine) transportTask(ctx context.Context) error {
	for {
		var f render.Frame
		select {
		case <-ctx.Done():
			return nil
		case f = <-e.slot:
		}
		e.sending.Store(true)
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		sent, err := e.tm.Send(sctx, transport.PrimaryDevice, f)
		cancel()
		e.sending.Store(false)

		if ctx.Err() != nil {
			return nil
		}
		e.perf.sent(sent, err)
		if err != nil {
			applog.Debugf("Engine: Frame not delivered (%s): %v", apperrors.KindOf(err), err)
		}
	}
}

// probeTask restores offline or fallen-back devices.
func (e *Engine) probeTask(ctx context.Context) error {
	e.cfgMu.RLock()
	interval := e.cfg.LED.ProbeInterval
	e.cfgMu.RUnlock()
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, connectTimeout)
		e.tm.ProbeDegraded(pctx)
		cancel()
		e.syncLEDCount()
	}
}

// connect (re)registers the primary device. An unreachable device is not
// an error: it starts offline and the probe task brings it online.
func (e *Engine) connect(ctx context.Context, dc transport.DeviceConfig) error {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	_, err := e.tm.Connect(cctx, transport.PrimaryDevice, dc)
	e.syncLEDCount()
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindConfigurationInvalid {
			return err
		}
		applog.Warnf("Engine: LED device %s unavailable, probing every %s: %v", dc.Address, e.probeInterval(), err)
	}
	return nil
}

// syncLEDCount re-resolves zones for the configured count, or for the
// count the device reported when the configured one is 0.
func (e *Engine) syncLEDCount() {
	e.cfgMu.RLock()
	n := e.cfg.LED.Count
	e.cfgMu.RUnlock()
	var reported int
	if st, ok := e.tm.Status(transport.PrimaryDevice); ok {
		reported = st.LEDCount
	}
	e.zones.SetLEDCount(effectiveLEDCount(n, reported))
}

func effectiveLEDCount(configured, reported int) int {
	switch {
	case configured > 0:
		return configured
	case reported > 0:
		return reported
	default:
		return fallbackLEDCount
	}
}

func (e *Engine) targetFPS() int {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.LED.TargetFPS
}

func (e *Engine) probeInterval() time.Duration {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.LED.ProbeInterval
}

// currentSource returns the source, its generation and a channel closed
// on the next change.
func (e *Engine) currentSource() (audio.Source, uint64, <-chan struct{}) {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	return e.source, e.sourceGen, e.srcChanged
}

func (e *Engine) currentSourceName() string {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	if e.source == nil {
		return ""
	}
	return e.source.Name()
}

// bindSource records cancel as the way to interrupt reads of generation
// gen. It fails if the source changed in the meantime.
func (e *Engine) bindSource(gen uint64, cancel context.CancelFunc) bool {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	if e.sourceGen != gen {
		return false
	}
	e.srcCancel = cancel
	return true
}

// setSource swaps in src, interrupting and closing the previous source.
func (e *Engine) setSource(src audio.Source) {
	e.srcMu.Lock()
	old := e.source
	e.source = src
	e.sourceGen++
	e.sourceErr = nil
	if e.srcCancel != nil {
		e.srcCancel()
		e.srcCancel = nil
	}
	close(e.srcChanged)
	e.srcChanged = make(chan struct{})
	e.srcMu.Unlock()

	e.featMu.Lock()
	e.lastBlock = time.Now()
	e.pendingBeat = false
	e.featMu.Unlock()

	if old != nil {
		closeSource(old)
	}
	if src != nil {
		applog.Infof("Engine: Audio source is %s", src.Name())
	}
}

func (e *Engine) setSourceError(err error) {
	e.srcMu.Lock()
	e.sourceErr = err
	e.srcMu.Unlock()
}

// sourceFailed releases a failed source unless it was already replaced.
// It reports whether the task should wait for a new source.
func (e *Engine) sourceFailed(gen uint64, src audio.Source, err error) bool {
	e.srcMu.Lock()
	if e.sourceGen != gen {
		e.srcMu.Unlock()
		return false
	}
	e.source = nil
	e.sourceErr = err
	e.srcCancel = nil
	e.srcMu.Unlock()

	applog.Errorf("Engine: Audio source %s failed, running degraded until a new source is set: %v", src.Name(), err)
	closeSource(src)
	return true
}

func closeSource(src audio.Source) {
	if err := src.Close(); err != nil {
		applog.Warnf("Engine: Closing audio source %s: %v", src.Name(), err)
	}
}

func (e *Engine) stopPipeline(ctx context.Context) error {
	e.runMu.Lock()
	running, cancel := e.running, e.cancelRun
	e.runMu.Unlock()
	if !running {
		return nil
	}
	cancel()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline still running: %w", ctx.Err())
	}
}

func (e *Engine) stopAudio(context.Context) error {
	e.setSource(nil)
	return nil
}

// stopTransport blanks the strip and closes the device sockets.
func (e *Engine) stopTransport(ctx context.Context) error {
	if st, ok := e.tm.Status(transport.PrimaryDevice); ok && st.Online {
		e.tm.Force(transport.PrimaryDevice)
		if _, err := e.tm.Send(ctx, transport.PrimaryDevice, render.NewFrame(st.LEDCount)); err != nil {
			applog.Debugf("Engine: Blanking strip failed: %v", err)
		}
	}
	return e.tm.Close()
}

// sleep waits d or until ctx ends, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
