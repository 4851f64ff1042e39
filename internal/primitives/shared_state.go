package primitives

import "sync"

// SharedState stands in for the cross-process shared dictionary (spec.md
// §3: "cross_process_lock, process_count, handshake_event,
// handshake_ack_list"). The lock and event live alongside it as their own
// types (ProcessLock, ProcessEvent); SharedState holds the remaining
// process-count and handshake-acknowledgement-list entries.
type SharedState struct {
	mu           sync.Mutex
	processCount int
	ackList      []int
}

// NewSharedState creates shared state sized for processCount workers.
func NewSharedState(processCount int) *SharedState {
	return &SharedState{processCount: processCount}
}

// ProcessCount returns the configured worker count.
func (s *SharedState) ProcessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processCount
}

// Acknowledge appends workerID to the handshake-ack list and reports the
// resulting list length. Its caller, the control Monitor, does not hold a
// ProcessLock; this type's own mutex keeps the append and the returned
// length consistent.
func (s *SharedState) Acknowledge(workerID int) (count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackList = append(s.ackList, workerID)
	return len(s.ackList)
}

// AckList returns a copy of the acknowledgement list gathered so far.
func (s *SharedState) AckList() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.ackList))
	copy(out, s.ackList)
	return out
}
