// Package engine is the public surface of the work-offload engine: register
// work, submit it for execution across a pool of long-lived workers, and
// manage the pool's lifecycle and out-of-band control signals (spec.md §6).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/brindlewood/offloadengine/internal/config"
	"github.com/brindlewood/offloadengine/internal/metrics"
	"github.com/brindlewood/offloadengine/internal/primitives"
	"github.com/brindlewood/offloadengine/internal/request"
	"github.com/brindlewood/offloadengine/internal/stateproxy"
	"github.com/brindlewood/offloadengine/internal/supervisor"
)

// Re-exported so callers never need to import internal/request directly.
type (
	WorkError      = request.WorkError
	CancelledError = request.CancelledError
)

var IsCancelled = request.IsCancelled

// Options configures an Engine before Start is called.
type Options struct {
	Workers int
	Config  config.Config
	Log     *slog.Logger
	Metrics *metrics.Collector
}

// Engine is the parent-side entry point: register notifications, start the
// pool, submit work, and tear it down again.
type Engine struct {
	opts Options
	log  *slog.Logger
	cfg  config.Config

	state        *stateproxy.StateValue
	submissionCh chan *request.WorkRequest
	sup          *supervisor.Supervisor
	metrics      *metrics.Collector

	custom    map[string]func(member int)
	initFuncs []func() error

	offloadEnabled atomic.Bool
	failOpen       atomic.Bool
	forceDisabled  atomic.Bool
	started        atomic.Bool
	startEvent     *primitives.ProcessEvent
	startErr       error
	localPool      chan struct{}

	// mu guards stopped so submit can refuse new work and release the lock
	// before Stop is allowed to close submissionCh, rather than racing a
	// send against the close (spec.md §4.6 step 1, §7).
	mu      sync.RWMutex
	stopped bool
}

// New builds an Engine. RegisterNotification must be called, if at all,
// before Start.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg.Pool.Workers == 0 && opts.Workers != 0 {
		cfg.Pool.Workers = opts.Workers
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}

	localPoolSize := supervisor.EffectiveProcessCount(cfg.Pool.Workers) + 1

	e := &Engine{
		opts:         opts,
		log:          log,
		cfg:          cfg,
		state:        stateproxy.New(true),
		submissionCh: make(chan *request.WorkRequest, cfg.Pool.WorkChannelDepth),
		metrics:      m,
		custom:       make(map[string]func(member int)),
		startEvent:   primitives.NewProcessEvent(),
		localPool:    make(chan struct{}, localPoolSize),
	}
	e.offloadEnabled.Store(cfg.Policy.OffloadEnabled)
	e.failOpen.Store(cfg.Policy.FailOpen)
	return e
}

// RegisterNotification installs a handler for a user-defined control
// notification kind, applied to every worker once Start runs. Calling it
// after Start has no effect on already-running workers.
func (e *Engine) RegisterNotification(kind string, handler func(member int)) {
	e.custom[kind] = handler
}

// AddInitFunc registers a callback every worker runs, in registration order
// and under the pool's cross-process lock, once the pool-wide handshake
// completes and before it accepts any work (spec.md §4.1, §6). Callers that
// need arguments should close over them. Valid only before Start; calling it
// afterwards has no effect on already-running workers.
func (e *Engine) AddInitFunc(fn func() error) {
	e.initFuncs = append(e.initFuncs, fn)
}

// Start sizes and spawns the pool asynchronously; use WaitForProcessStart
// to block until every worker has acknowledged the handshake.
func (e *Engine) Start() {
	supCfg := supervisor.DefaultConfig()
	supCfg.RequestedWorkers = e.cfg.Pool.Workers
	if e.cfg.Pool.WorkChannelDepth > 0 {
		supCfg.WorkChannelDepth = e.cfg.Pool.WorkChannelDepth
	}
	if e.cfg.Pool.ControlQueueDepth > 0 {
		supCfg.ControlQueueDepth = e.cfg.Pool.ControlQueueDepth
	}
	if e.cfg.Pool.HandshakeTimeout > 0 {
		supCfg.HandshakeTimeout = e.cfg.Pool.HandshakeTimeout
	}
	if e.cfg.Pool.HandshakeRetries > 0 {
		supCfg.HandshakeRetries = e.cfg.Pool.HandshakeRetries
	}
	if e.cfg.Control.PutTimeout > 0 {
		supCfg.Dispatcher.PutTimeout = e.cfg.Control.PutTimeout
	}
	if e.cfg.Control.KeepAliveInterval > 0 {
		supCfg.Dispatcher.KeepAliveInterval = e.cfg.Control.KeepAliveInterval
	}
	if e.cfg.Control.InitTimeout > 0 {
		supCfg.Monitor.InitTimeout = e.cfg.Control.InitTimeout
	}
	if e.cfg.Control.KeepAliveTimeout > 0 {
		supCfg.Monitor.KeepAliveTimeout = e.cfg.Control.KeepAliveTimeout
	}
	supCfg.Log = e.log
	supCfg.InitFuncs = e.initFuncs

	e.sup = supervisor.New(supCfg, e.submissionCh, e.state, e.onBroken, e.custom)

	go func() {
		err := e.sup.Start()
		if err != nil {
			e.log.Error("pool failed to start", "error", err)
		} else {
			e.started.Store(true)
			e.metrics.SetActiveWorkers(e.sup.WorkerCount())
		}
		e.startErr = err
		e.startEvent.Set()
	}()
}

func (e *Engine) onBroken() {
	e.log.Error("control channel broken for one or more workers, force-disabling offload")
	e.forceDisabled.Store(true)
}

// WaitForProcessStart blocks until the pool has finished starting (success
// or failure) or timeout elapses.
func (e *Engine) WaitForProcessStart(ctx context.Context) bool {
	return e.waitEvent(ctx)
}

// WaitForCompleteLoad is an alias for WaitForProcessStart: this engine has a
// single handshake phase, unlike the source implementation's separate
// "started" and "fully loaded" milestones.
func (e *Engine) WaitForCompleteLoad(ctx context.Context) bool {
	return e.waitEvent(ctx)
}

func (e *Engine) waitEvent(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		e.startEvent.Wait(0)
		close(done)
	}()
	select {
	case <-done:
		return e.startErr == nil
	case <-ctx.Done():
		return false
	}
}

// ProcessesStarted reports whether the pool finished starting successfully.
func (e *Engine) ProcessesStarted() bool {
	return e.startEvent.IsSet() && e.startErr == nil
}

// CurrentProcessCount returns the number of workers the pool was sized to,
// or 0 before Start has sized it. It is set before the handshake completes
// and is not reduced if the handshake fails.
func (e *Engine) CurrentProcessCount() int {
	if e.sup == nil {
		return 0
	}
	return e.sup.WorkerCount()
}

// State is a read-only snapshot of the engine's policy and pool state.
type State struct {
	Go              bool
	OffloadEnabled  bool
	FailOpen        bool
	ForceDisabled   bool
	WorkerCount     int
}

// CurrentState returns a snapshot of the engine's current policy flags.
func (e *Engine) CurrentState() State {
	return State{
		Go:             e.state.Go(),
		OffloadEnabled: e.offloadEnabled.Load(),
		FailOpen:       e.failOpen.Load(),
		ForceDisabled:  e.forceDisabled.Load(),
		WorkerCount:    e.CurrentProcessCount(),
	}
}

// UpdateStateValue toggles the pool-wide go/no-go flag and broadcasts it to
// every worker. A value matching the current state is a no-op: no STATECHANGE
// is emitted and nothing is mutated (spec.md §4.8, testable property 6).
func (e *Engine) UpdateStateValue(goValue bool) {
	if e.sup != nil {
		e.sup.BroadcastStateChange(goValue)
		return
	}
	if e.state.Go() == goValue {
		return
	}
	e.state.Update(goValue)
}

// UpdateLogLevel broadcasts a new log verbosity to every worker.
func (e *Engine) UpdateLogLevel(level slog.Level) {
	if e.sup != nil {
		e.sup.BroadcastLogLevel(int(level))
	}
}

// EnqueueNotification broadcasts a user-registered custom notification. It
// returns false without broadcasting if the pool has not finished loading
// (spec.md §6: "returns false if the pool is not yet loaded").
func (e *Engine) EnqueueNotification(kind string, member int) bool {
	if e.sup == nil || !e.ProcessesStarted() {
		return false
	}
	e.sup.BroadcastCustom(kind, member)
	return true
}

// DisableOffload stops new submissions from being handed to a worker; they
// run inline in the parent instead.
func (e *Engine) DisableOffload() { e.offloadEnabled.Store(false) }

// EnableOffload resumes handing submissions to workers.
func (e *Engine) EnableOffload() { e.offloadEnabled.Store(true) }

// DisableFailOpen makes a broken or not-yet-started pool return an error
// from Submit instead of silently running inline.
func (e *Engine) DisableFailOpen() { e.failOpen.Store(false) }

// Stop shuts the pool down and waits for the workers to exit. Work already
// queued or running on a worker still runs to completion either way:
// immediate only selects the SHUTDOWN kind sent to workers, which handle
// both kinds the same. One-shot: a second call is a no-op. Once Stop
// has marked the engine stopped, submit is guaranteed to have either
// finished sending to submissionCh or rejected the request before Stop
// closes it.
func (e *Engine) Stop(immediate bool) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	if e.sup != nil {
		e.sup.Stop(immediate)
	}
}

// shouldOffload applies the submit() policy order from spec.md §4.2: a
// force-disabled pool never offloads, and errors instead of degrading
// silently when fail-open is off; an explicitly disabled pool runs inline; a
// pool that has not finished starting runs inline with fail-open on and
// errors with it off.
func (e *Engine) shouldOffload() (offload bool, err error) {
	if e.forceDisabled.Load() {
		if !e.failOpen.Load() {
			return false, fmt.Errorf("offload engine: control channel broken and fail-open is disabled")
		}
		return false, nil
	}
	if !e.offloadEnabled.Load() {
		return false, nil
	}
	if !e.ProcessesStarted() {
		if e.failOpen.Load() {
			return false, nil
		}
		return false, fmt.Errorf("offload engine: pool not started")
	}
	return true, nil
}

func (e *Engine) acquireLocal() { e.localPool <- struct{}{} }
func (e *Engine) releaseLocal() { <-e.localPool }
