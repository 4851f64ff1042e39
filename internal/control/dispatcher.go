package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/brindlewood/offloadengine/internal/primitives"
)

// DispatcherConfig carries the timing knobs for a Dispatcher (spec.md §4.8
// design notes: init timeout 20s, keep-alive interval 30s, put timeout 5s).
type DispatcherConfig struct {
	PutTimeout        time.Duration
	KeepAliveInterval time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PutTimeout:        5 * time.Second,
		KeepAliveInterval: 30 * time.Second,
	}
}

// Dispatcher owns every worker's control queue from the parent side. It
// broadcasts the initial handshake, periodic keep-alives, and any
// lifecycle notification (shutdown, go/no-go, log level, custom), all
// serialized under a single lock as the source implementation does
// (spec.md §3: ProcessLock guarding broadcasts).
type Dispatcher struct {
	cfg      DispatcherConfig
	lock     *primitives.ProcessLock
	queues   []Queue
	log      *slog.Logger
	onBroken func()
}

// NewDispatcher builds a Dispatcher over the given per-worker queues.
// onBroken, if non-nil, is invoked after every broadcast that cannot be
// delivered to every worker within PutTimeout; the caller typically uses it
// to force-disable offloading (spec.md §4.2, offload_force_disabled).
func NewDispatcher(cfg DispatcherConfig, queues []Queue, log *slog.Logger, onBroken func()) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		lock:     &primitives.ProcessLock{},
		queues:   queues,
		log:      log,
		onBroken: onBroken,
	}
}

// Broadcast sends msg to every worker queue, serialized under the
// dispatcher's lock. A single broken queue logs and trips onBroken but does
// not stop delivery to the rest of the pool.
func (d *Dispatcher) Broadcast(ctx context.Context, msg primitives.ControlMessage) {
	d.lock.WithLock(func() {
		broken := false
		for id, q := range d.queues {
			if err := q.Put(ctx, msg, d.cfg.PutTimeout); err != nil {
				d.log.Error("control broadcast failed", "worker", id, "message", msg, "error", err)
				broken = true
			}
		}
		if broken && d.onBroken != nil {
			d.onBroken()
		}
	})
}

// SendHandshake broadcasts the initial TEST message every worker must see
// before it is considered started (spec.md §4.8, handshake protocol).
func (d *Dispatcher) SendHandshake(ctx context.Context) {
	d.Broadcast(ctx, primitives.Test(primitives.TestInitial))
}

// Run broadcasts a keep-alive on every interval tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Broadcast(ctx, primitives.Test(primitives.TestKeepalive))
		}
	}
}

// BroadcastShutdown tells every worker to stop. SAFE and IMMEDIATE are
// distinct wire values but handled identically by the worker today (see
// DESIGN.md's Open Question notes).
func (d *Dispatcher) BroadcastShutdown(ctx context.Context, kind int) {
	d.Broadcast(ctx, primitives.Shutdown(kind))
}

// BroadcastStateChange toggles the pool-wide go/no-go flag on every worker.
func (d *Dispatcher) BroadcastStateChange(ctx context.Context, goValue bool) {
	member := primitives.StateNoGo
	if goValue {
		member = primitives.StateGo
	}
	d.Broadcast(ctx, primitives.StateChange(member))
}

// BroadcastLogLevel tells every worker to adjust its log verbosity.
func (d *Dispatcher) BroadcastLogLevel(ctx context.Context, level int) {
	d.Broadcast(ctx, primitives.LogLevel(level))
}

// BroadcastCustom sends a user-registered notification kind.
func (d *Dispatcher) BroadcastCustom(ctx context.Context, kind string, member int) {
	d.Broadcast(ctx, primitives.Custom(kind, member))
}

// Close closes every worker's control queue, letting each Monitor's range
// loop exit once it has drained any messages still in flight. Call this
// only after every worker has been told to shut down.
func (d *Dispatcher) Close() {
	d.lock.WithLock(func() {
		for _, q := range d.queues {
			close(q)
		}
	})
}
