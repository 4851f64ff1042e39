// Package supervisor owns the pool lifecycle: sizing the worker count,
// spawning workers and dispatchers, running the startup handshake, and
// tearing everything down again (spec.md §4.2, "Pool Supervisor").
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/brindlewood/offloadengine/internal/control"
	"github.com/brindlewood/offloadengine/internal/dispatch"
	"github.com/brindlewood/offloadengine/internal/primitives"
	"github.com/brindlewood/offloadengine/internal/request"
	"github.com/brindlewood/offloadengine/internal/stateproxy"
	"github.com/brindlewood/offloadengine/internal/worker"
)

// EffectiveProcessCount sizes the worker pool the way the source
// implementation's get_best_process_count does: a single-CPU host always
// gets exactly one worker; a requested count of zero, or one at or above
// the CPU count, is clamped to leave one CPU free for the parent; any
// smaller positive request is honored as-is.
func EffectiveProcessCount(requested int) int {
	total := runtime.NumCPU()
	if total <= 1 {
		return 1
	}
	if requested <= 0 || requested >= total {
		return total - 1
	}
	return requested
}

// Config carries the supervisor's tunables.
type Config struct {
	RequestedWorkers int
	WorkChannelDepth int
	ControlQueueDepth int
	HandshakeTimeout  time.Duration
	HandshakeRetries  int
	Dispatcher        control.DispatcherConfig
	Monitor           control.MonitorConfig
	Log               *slog.Logger
	// InitFuncs run, in order and under a shared cross-process lock, on
	// every worker once the pool-wide handshake completes and before it
	// accepts work (spec.md §4.1, §6 add_init_func).
	InitFuncs []func() error
}

func DefaultConfig() Config {
	return Config{
		WorkChannelDepth:  64,
		ControlQueueDepth: 8,
		HandshakeTimeout:  5 * time.Second,
		HandshakeRetries:  4,
		Dispatcher:        control.DefaultDispatcherConfig(),
		Monitor:           control.DefaultMonitorConfig(),
	}
}

// Supervisor owns the running pool. It is single-shot: Start then Stop,
// never reused.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	state        *stateproxy.StateValue
	workCh       chan *request.WorkRequest
	submissionCh chan *request.WorkRequest

	ctrlDispatcher *control.Dispatcher
	workDispatcher *dispatch.Dispatcher
	workerCount    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	workDispatcherDone chan struct{}

	onBroken func()
	custom   map[string]func(member int)
}

// New builds a Supervisor. submissionCh is the application-facing queue the
// parent pushes WorkRequests onto; state is the shared go/no-go flag every
// worker consults. onBroken, if set, fires each time a control
// broadcast cannot reach every worker, and typically force-disables
// offloading. custom registers handlers for user-defined control
// notifications, applied to every worker's monitor.
func New(cfg Config, submissionCh chan *request.WorkRequest, state *stateproxy.StateValue, onBroken func(), custom map[string]func(member int)) *Supervisor {
	if cfg.WorkChannelDepth <= 0 {
		cfg.WorkChannelDepth = 64
	}
	if cfg.ControlQueueDepth <= 0 {
		cfg.ControlQueueDepth = 8
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:          cfg,
		log:          log,
		state:        state,
		submissionCh: submissionCh,
		onBroken:     onBroken,
		custom:       custom,
	}
}

// Start sizes, spawns, and hands-shakes the pool. It blocks until every
// worker has acknowledged the initial handshake or HandshakeTimeout x
// HandshakeRetries has elapsed.
func (s *Supervisor) Start() error {
	s.workerCount = EffectiveProcessCount(s.cfg.RequestedWorkers)
	s.workCh = make(chan *request.WorkRequest, s.cfg.WorkChannelDepth)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	queues := make([]control.Queue, s.workerCount)
	for i := range queues {
		queues[i] = control.NewQueue(s.cfg.ControlQueueDepth)
	}

	handshake := primitives.NewSharedState(s.workerCount)
	handshakeSet := primitives.NewProcessEvent()
	lock := &primitives.ProcessLock{}

	s.ctrlDispatcher = control.NewDispatcher(s.cfg.Dispatcher, queues, s.log, s.onBroken)
	s.workDispatcher = dispatch.New(s.submissionCh, s.workCh, s.state)

	for id := 0; id < s.workerCount; id++ {
		monitor := control.NewMonitor(s.cfg.Monitor, id, queues[id], handshake, handshakeSet, s.state, nil, s.log)
		for kind, handler := range s.custom {
			monitor.RegisterCustom(kind, handler)
		}
		w := worker.New(id, s.workCh, monitor, s.state, lock, handshakeSet, s.cfg.InitFuncs, s.log)
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			if err := w.Run(); err != nil {
				s.log.Error("worker stopped", "worker", id, "error", err)
			}
		}(id)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ctrlDispatcher.Run(s.ctx)
	}()

	s.workDispatcherDone = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.workDispatcherDone)
		s.workDispatcher.Run()
	}()

	return s.awaitHandshake(handshakeSet)
}

func (s *Supervisor) awaitHandshake(handshakeSet *primitives.ProcessEvent) error {
	for attempt := 0; attempt < s.cfg.HandshakeRetries; attempt++ {
		s.ctrlDispatcher.SendHandshake(s.ctx)
		if handshakeSet.Wait(s.cfg.HandshakeTimeout) {
			return nil
		}
		s.log.Warn("handshake not yet acknowledged by every worker, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("pool handshake failed: not all %d worker(s) acknowledged after %d attempts", s.workerCount, s.cfg.HandshakeRetries)
}

// WorkerCount returns the number of workers actually started.
func (s *Supervisor) WorkerCount() int { return s.workerCount }

// BroadcastShutdown tells every worker to stop. The immediate flag selects
// the wire-level ShutdownSafe/ShutdownImmediate kind; workers currently
// handle both the same way (see DESIGN.md).
func (s *Supervisor) BroadcastShutdown(immediate bool) {
	kind := primitives.ShutdownSafe
	if immediate {
		kind = primitives.ShutdownImmediate
	}
	s.ctrlDispatcher.BroadcastShutdown(s.ctx, kind)
}

// BroadcastStateChange toggles the pool-wide go/no-go flag. A value matching
// the current state is a no-op: no STATECHANGE is broadcast and the state is
// left untouched (spec.md §4.8, testable property 6). This is the only place
// that compares-and-sets the flag; Engine must not pre-apply it, or this
// check would always see its own update and wrongly suppress the broadcast.
func (s *Supervisor) BroadcastStateChange(goValue bool) {
	if s.state.Go() == goValue {
		return
	}
	s.state.Update(goValue)
	s.ctrlDispatcher.BroadcastStateChange(s.ctx, goValue)
}

// BroadcastCustom sends a user-registered notification to every worker.
func (s *Supervisor) BroadcastCustom(kind string, member int) {
	s.ctrlDispatcher.BroadcastCustom(s.ctx, kind, member)
}

// BroadcastLogLevel tells every worker to adjust its log verbosity.
func (s *Supervisor) BroadcastLogLevel(level int) {
	s.ctrlDispatcher.BroadcastLogLevel(s.ctx, level)
}

// Stop shuts the pool down: broadcasts shutdown, stops the keep-alive loop,
// closes every channel workers and dispatchers range over, and waits for
// every goroutine to exit.
//
// submissionCh is closed before workCh so the work dispatcher goroutine,
// the only writer into workCh, is guaranteed to have returned before
// workCh's single close call — otherwise a send racing the close would
// panic.
func (s *Supervisor) Stop(immediate bool) {
	s.BroadcastShutdown(immediate)
	s.cancel()
	close(s.submissionCh)
	<-s.workDispatcherDone
	close(s.workCh)
	s.ctrlDispatcher.Close()
	s.wg.Wait()
}
