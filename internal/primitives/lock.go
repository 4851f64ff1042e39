// Package primitives provides the shared coordination types that would, in a
// true multi-process deployment, live in cross-process shared memory: a
// re-entrant lock, a one-shot broadcast event, and a synchronized dictionary
// of pool-wide state. Here the "processes" are goroutines, so these are
// implemented with the stdlib sync package rather than OS-level IPC — see
// SPEC_FULL.md §0 for why.
package primitives

import "sync"

// ProcessLock stands in for the cross-process re-entrant lock (spec.md §3).
// Workers hold the pool's shared instance while running init callbacks, and
// each control Dispatcher holds its own instance while broadcasting; the
// handshake acknowledgement does not take it. It is a plain mutex, not
// re-entrant: nothing in this module locks it twice from the same goroutine.
type ProcessLock struct {
	mu sync.Mutex
}

// Lock acquires the lock, blocking until it is available.
func (l *ProcessLock) Lock() { l.mu.Lock() }

// Unlock releases the lock.
func (l *ProcessLock) Unlock() { l.mu.Unlock() }

// WithLock runs fn while holding the lock.
func (l *ProcessLock) WithLock(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}
