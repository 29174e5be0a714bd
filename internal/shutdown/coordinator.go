// SPDX-License-Identifier: MIT

// Package shutdown sequences process termination. It refuses new critical
// operations once stopping begins, waits a bounded time for the ones in
// flight, then stops registered components in reverse order.
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
)

// State of the coordinator. It only moves forward.
type State int32

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DefaultTimeout bounds both the wait for critical operations and the
// stop of each component when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// StopFunc stops one component. It should return once the component has
// released its resources or ctx expires.
type StopFunc func(ctx context.Context) error

type component struct {
	name string
	stop StopFunc
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	state   atomic.Int32
	timeout time.Duration

	// sem admits one critical operation at a time.
	sem      chan struct{}
	inflight sync.WaitGroup
	// admitMu orders admission against the Running to Stopping transition
	// so no operation is admitted after Shutdown starts waiting.
	admitMu sync.RWMutex

	mu         sync.Mutex
	components []component

	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	stopped  chan struct{}
	requests chan struct{}
	result   error
}

// New returns a running coordinator. timeout <= 0 uses DefaultTimeout.
func New(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		timeout:  timeout,
		sem:      make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
		requests: make(chan struct{}, 1),
	}
}

// State returns the current state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Context is cancelled when stopping begins. Long-running tasks derive
// from it.
func (c *Coordinator) Context() context.Context { return c.ctx }

// Done is closed once the coordinator reaches Stopped.
func (c *Coordinator) Done() <-chan struct{} { return c.stopped }

// Register adds a component stopped during Shutdown. Components stop in
// reverse registration order.
func (c *Coordinator) Register(name string, stop StopFunc) {
	c.mu.Lock()
	c.components = append(c.components, component{name: name, stop: stop})
	c.mu.Unlock()
}

// Critical runs fn as a critical operation: at most one runs at a time
// and none may start once stopping has begun. A call queued behind
// another operation when stopping begins fails too.
func (c *Coordinator) Critical(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := c.admit(name); err != nil {
		return err
	}
	defer c.inflight.Done()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.refused(name)
	}
	defer func() { <-c.sem }()

	// Stopping may have begun while queued.
	if c.State() != Running {
		return c.refused(name)
	}
	applog.Debugf("Shutdown: critical operation %q started", name)
	return fn(ctx)
}

func (c *Coordinator) admit(name string) error {
	c.admitMu.RLock()
	defer c.admitMu.RUnlock()
	if c.State() != Running {
		return c.refused(name)
	}
	c.inflight.Add(1)
	return nil
}

func (c *Coordinator) refused(name string) error {
	return apperrors.Newf(apperrors.KindShutdownInProgress, name, "refused, process is %s", c.State())
}

// Request asks the owner of the coordinator to shut down without
// blocking. It is what API handlers and the terminal UI call.
func (c *Coordinator) Request() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// Requests delivers shutdown requests made with Request.
func (c *Coordinator) Requests() <-chan struct{} { return c.requests }

// Shutdown moves to Stopping, waits for in-flight critical operations up
// to the timeout, stops the registered components and moves to Stopped.
// Concurrent and repeated calls wait for the first one and share its
// result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.result = c.shutdown(ctx)
		close(c.stopped)
	})
	select {
	case <-c.stopped:
		return c.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	c.admitMu.Lock()
	c.state.Store(int32(Stopping))
	c.admitMu.Unlock()
	applog.Infof("Shutdown: stopping")
	c.cancel()

	var errs []error
	if err := c.waitCritical(ctx); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	comps := append([]component(nil), c.components...)
	c.mu.Unlock()
	for i := len(comps) - 1; i >= 0; i-- {
		comp := comps[i]
		sctx, cancel := c.bounded(ctx)
		start := time.Now()
		err := comp.stop(sctx)
		cancel()
		if err != nil {
			applog.Warnf("Shutdown: %s: %v", comp.name, err)
			errs = append(errs, fmt.Errorf("stop %s: %w", comp.name, err))
			continue
		}
		applog.Debugf("Shutdown: %s stopped in %s", comp.name, time.Since(start).Round(time.Millisecond))
	}

	c.state.Store(int32(Stopped))
	applog.Infof("Shutdown: stopped")
	return apperrors.Join(errs...)
}

func (c *Coordinator) waitCritical(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	wctx, cancel := c.bounded(ctx)
	defer cancel()
	select {
	case <-done:
		return nil
	case <-wctx.Done():
		applog.Warnf("Shutdown: critical operations still running after %s, continuing", c.timeout)
		return fmt.Errorf("waiting for critical operations: %w", wctx.Err())
	}
}

func (c *Coordinator) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
