// Package worker implements the pool's unit of concurrency: a long-lived
// goroutine that services one shared work channel while a sibling control
// monitor watches its own per-worker control queue (spec.md §4.1).
//
// The original process-per-worker design relied on OS process isolation;
// here a Worker is a goroutine pair (control loop + work loop) instead,
// since nothing in this pack offers an idiomatic cross-process shared-memory
// equivalent and spec.md explicitly rules out network transport as the
// alternative (see SPEC_FULL.md §0). The shared work channel plays the role
// of the original's task queue, and closing it (rather than pushing a
// sentinel value) signals every worker to drain and exit, the same idiom
// the teacher pool uses for its task channel.
package worker

import (
	"log/slog"

	"github.com/brindlewood/offloadengine/internal/control"
	"github.com/brindlewood/offloadengine/internal/primitives"
	"github.com/brindlewood/offloadengine/internal/request"
	"github.com/brindlewood/offloadengine/internal/stateproxy"
)

// Worker runs one control monitor and one work loop. It is not reusable
// once Run returns.
type Worker struct {
	id           int
	workCh       <-chan *request.WorkRequest
	monitor      *control.Monitor
	state        *stateproxy.StateValue
	lock         *primitives.ProcessLock
	handshakeSet *primitives.ProcessEvent
	initFuncs    []func() error
	log          *slog.Logger
}

func New(
	id int,
	workCh <-chan *request.WorkRequest,
	monitor *control.Monitor,
	state *stateproxy.StateValue,
	lock *primitives.ProcessLock,
	handshakeSet *primitives.ProcessEvent,
	initFuncs []func() error,
	log *slog.Logger,
) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		id:           id,
		workCh:       workCh,
		monitor:      monitor,
		state:        state,
		lock:         lock,
		handshakeSet: handshakeSet,
		initFuncs:    initFuncs,
		log:          log,
	}
}

// Run blocks until the work loop exits, either because the shared work
// channel was closed (graceful shutdown, spec.md §4.6) or because the
// control monitor died (keep-alive timeout or a broken queue, spec.md §4.1
// "after each iteration if the Control Monitor has died, exit"). It returns
// the control monitor's error, if any.
func (w *Worker) Run() error {
	monitorDone := make(chan struct{})
	monitorFailed := make(chan struct{})
	var monitorErr error

	go func() {
		defer close(monitorDone)
		shutdown, err := w.monitor.Run()
		if err != nil {
			monitorErr = err
			close(monitorFailed)
			return
		}
		// SAFE and IMMEDIATE are recorded but handled identically here: the
		// source hands both off the same way in the worker, leaving any
		// future distinction (interrupt in-flight work vs drain) an open
		// design question rather than something to invent unprompted.
		w.log.Debug("worker received shutdown", "worker", w.id, "immediate", shutdown.Immediate)
	}()

	// Wait for the pool-wide handshake (every worker acknowledged, not just
	// this one) before running init callbacks, but give up if this worker's
	// own monitor dies first (spec.md §4.1).
	select {
	case <-w.handshakeSet.Done():
	case <-monitorFailed:
		<-monitorDone
		return monitorErr
	}

	w.runInitFuncs()

	w.workLoop(monitorFailed)
	<-monitorDone
	return monitorErr
}

// runInitFuncs runs every registered init callback, in registration order,
// under the pool's cross-process lock (spec.md §4.1, §6 add_init_func). A
// callback's error is logged, not propagated: one worker's failed init does
// not stop the rest of the pool from coming up.
func (w *Worker) runInitFuncs() {
	if len(w.initFuncs) == 0 {
		return
	}
	w.lock.WithLock(func() {
		for i, fn := range w.initFuncs {
			if err := fn(); err != nil {
				w.log.Error("init func failed", "worker", w.id, "index", i, "error", err)
			}
		}
	})
}

// workLoop drains the shared work channel until it is closed, or returns
// immediately once monitorFailed closes. A request arriving while the
// pool-wide state is no-go is cancelled rather than run (spec.md §4.8).
func (w *Worker) workLoop(monitorFailed <-chan struct{}) {
	for {
		select {
		case req, ok := <-w.workCh:
			if !ok {
				return
			}
			if req == nil {
				continue
			}
			if w.state.NoGo() {
				req.Cancel()
				continue
			}
			req.Run(w.state)
		case <-monitorFailed:
			return
		}
	}
}
