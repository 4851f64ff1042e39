package primitives

import (
	"sync"
	"time"
)

// ProcessEvent stands in for the cross-process handshake event (spec.md §3,
// §4.1): a one-shot, idempotent "set" that any number of waiters can observe,
// with a bounded wait.
type ProcessEvent struct {
	once sync.Once
	ch   chan struct{}
}

// NewProcessEvent returns a ready-to-use, unset ProcessEvent.
func NewProcessEvent() *ProcessEvent {
	return &ProcessEvent{ch: make(chan struct{})}
}

// Set marks the event. Safe to call more than once; only the first call has
// effect, matching the spec's requirement that only one Control Monitor
// (the one that observes the full handshake-ack list) performs the set.
func (e *ProcessEvent) Set() {
	e.once.Do(func() { close(e.ch) })
}

// Done returns a channel that closes when the event is set, for use in a
// select alongside other completion signals.
func (e *ProcessEvent) Done() <-chan struct{} { return e.ch }

// IsSet reports whether Set has been called.
func (e *ProcessEvent) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the event is set or timeout elapses. A timeout <= 0
// waits forever. Returns true if the event became set before the deadline.
func (e *ProcessEvent) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-e.ch
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	}
}
