package control

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/brindlewood/offloadengine/internal/primitives"
	"github.com/brindlewood/offloadengine/internal/stateproxy"
)

// MonitorConfig carries a worker's control-channel timing knobs (spec.md
// §4.8 design notes: init timeout 20s, keep-alive timeout 60s).
type MonitorConfig struct {
	InitTimeout      time.Duration
	KeepAliveTimeout time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		InitTimeout:      20 * time.Second,
		KeepAliveTimeout: 60 * time.Second,
	}
}

// ShutdownRequest reports that a worker's Monitor received a SHUTDOWN
// message, and which kind.
type ShutdownRequest struct {
	Immediate bool
}

// Monitor runs on a worker, reading its control queue. It validates the
// initial handshake, acknowledges it against the shared handshake state,
// keeps the pool-wide go/no-go flag and log level current, dispatches
// custom notifications to registered handlers, and reports shutdown
// requests to the caller.
type Monitor struct {
	cfg          MonitorConfig
	workerID     int
	queue        Queue
	handshake    *primitives.SharedState
	handshakeSet *primitives.ProcessEvent
	state        *stateproxy.StateValue
	logLevel     func(slog.Level)
	custom       map[string]func(member int)
	log          *slog.Logger
}

func NewMonitor(
	cfg MonitorConfig,
	workerID int,
	queue Queue,
	handshake *primitives.SharedState,
	handshakeSet *primitives.ProcessEvent,
	state *stateproxy.StateValue,
	logLevel func(slog.Level),
	log *slog.Logger,
) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:          cfg,
		workerID:     workerID,
		queue:        queue,
		handshake:    handshake,
		handshakeSet: handshakeSet,
		state:        state,
		logLevel:     logLevel,
		custom:       make(map[string]func(member int)),
		log:          log,
	}
}

// RegisterCustom installs a handler for a user-defined notification kind.
func (m *Monitor) RegisterCustom(kind string, handler func(member int)) {
	m.custom[kind] = handler
}

// Run blocks until the initial handshake succeeds, then services control
// messages until a SHUTDOWN is received, the queue is closed, or the
// keep-alive timeout elapses with no message at all.
func (m *Monitor) Run() (ShutdownRequest, error) {
	if err := m.awaitHandshake(); err != nil {
		return ShutdownRequest{}, err
	}
	return m.serviceLoop()
}

func (m *Monitor) awaitHandshake() error {
	select {
	case msg, ok := <-m.queue:
		if !ok {
			return fmt.Errorf("worker %d: control queue closed before handshake", m.workerID)
		}
		if msg.Kind != primitives.KindTest || msg.Member != primitives.TestInitial {
			return fmt.Errorf("worker %d: expected initial handshake, got %s", m.workerID, msg)
		}
	case <-time.After(m.cfg.InitTimeout):
		return fmt.Errorf("worker %d: handshake timed out after %s", m.workerID, m.cfg.InitTimeout)
	}

	count := m.handshake.Acknowledge(m.workerID)
	if count == m.handshake.ProcessCount() {
		m.handshakeSet.Set()
	}
	return nil
}

func (m *Monitor) serviceLoop() (ShutdownRequest, error) {
	for {
		select {
		case msg, ok := <-m.queue:
			if !ok {
				return ShutdownRequest{}, fmt.Errorf("worker %d: control queue closed", m.workerID)
			}
			if req, done := m.handle(msg); done {
				return req, nil
			}
		case <-time.After(m.cfg.KeepAliveTimeout):
			return ShutdownRequest{}, fmt.Errorf("worker %d: keep-alive timed out after %s", m.workerID, m.cfg.KeepAliveTimeout)
		}
	}
}

func (m *Monitor) handle(msg primitives.ControlMessage) (ShutdownRequest, bool) {
	switch msg.Kind {
	case primitives.KindTest:
		// Keep-alive; receiving any message already reset the timeout.
		return ShutdownRequest{}, false
	case primitives.KindShutdown:
		return ShutdownRequest{Immediate: msg.Member == primitives.ShutdownImmediate}, true
	case primitives.KindStateChange:
		m.state.Update(msg.Member == primitives.StateGo)
		return ShutdownRequest{}, false
	case primitives.KindLogLevel:
		if m.logLevel != nil {
			m.logLevel(slog.Level(msg.Member))
		}
		return ShutdownRequest{}, false
	case primitives.KindCustom:
		if handler, ok := m.custom[msg.CustomKind]; ok {
			handler(msg.Member)
		} else {
			m.log.Warn("unregistered custom notification", "worker", m.workerID, "kind", msg.CustomKind)
		}
		return ShutdownRequest{}, false
	default:
		m.log.Error("unmatched control message", "worker", m.workerID, "message", msg)
		return ShutdownRequest{}, false
	}
}
