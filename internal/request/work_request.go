package request

import (
	"fmt"
	"sync"

	"github.com/brindlewood/offloadengine/internal/stateproxy"
)

// WorkRequest is one unit of dispatched work, travelling from the parent's
// submission queue to a worker's work loop and back through a result pipe
// (spec.md §3, §4.7). It is built by the parent, executed by exactly one
// worker, and never reused once it leaves the INITIAL state.
//
// Ownership of the result pipe's send side transfers from "nobody" (while
// INITIAL) to the goroutine running Run, which becomes the pipe's sole
// closer; this keeps every close on the single-closer side of the
// single-writer/single-closer Go channel rule even though cancellation can
// originate from the parent at arbitrary times.
type WorkRequest struct {
	id         int32
	isStreamed bool
	fn         Func
	streamFn   StreamFunc

	pipe         chan pipeItem
	cancelSignal chan struct{}
	cancelOnce   sync.Once
	pipeOnce     sync.Once

	mu        sync.Mutex
	state     WorkState
	cancelled bool
}

// NewWorkRequest builds a single-valued request.
func NewWorkRequest(fn Func) *WorkRequest {
	return &WorkRequest{
		id:           nextID(),
		fn:           fn,
		state:        StateInitial,
		cancelSignal: make(chan struct{}),
	}
}

// NewStreamWorkRequest builds a streamed request whose values arrive one at
// a time as the worker drains the Iterator StreamFunc produces.
func NewStreamWorkRequest(fn StreamFunc) *WorkRequest {
	return &WorkRequest{
		id:           nextID(),
		isStreamed:   true,
		streamFn:     fn,
		state:        StateInitial,
		cancelSignal: make(chan struct{}),
	}
}

// AttachPipe gives the request a result pipe of the given buffer depth. A
// request with no pipe runs inline in the parent (spec.md §9's fallback
// path) and never touches the state machine.
func (r *WorkRequest) AttachPipe(buffer int) { r.pipe = newPipe(buffer) }

func (r *WorkRequest) HasPipe() bool { return r.pipe != nil }

func (r *WorkRequest) ID() int32 { return r.id }

func (r *WorkRequest) IsStreamed() bool { return r.isStreamed }

func (r *WorkRequest) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *WorkRequest) State() WorkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel requests cancellation. If the request has not yet started, this
// goroutine wins the race outright: it moves the state straight to
// CANCELLED and, since Run will now refuse to start, it is the one that
// must close the pipe to unblock a waiting ResultHandler. If the request
// has already started, Cancel only raises cancelSignal; the goroutine
// running Run notices it at the next check point, tries to emit CANCELLED
// (the send gives way once cancelSignal is closed, so the handler may see
// only the pipe closing), and closes the pipe when it stops (spec.md §5,
// "cancel on a started request").
func (r *WorkRequest) Cancel() {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	claimedByUs := r.state == StateInitial
	if claimedByUs {
		r.state = StateCancelled
	}
	r.mu.Unlock()

	r.cancelOnce.Do(func() { close(r.cancelSignal) })

	if claimedByUs {
		r.closePipe()
	}
}

func (r *WorkRequest) closePipe() {
	r.pipeOnce.Do(func() {
		if r.pipe != nil {
			close(r.pipe)
		}
	})
}

func (r *WorkRequest) sendValue(v any) {
	if r.pipe == nil {
		return
	}
	select {
	case r.pipe <- pipeItem{value: v}:
	case <-r.cancelSignal:
	}
}

func (r *WorkRequest) sendState(s WorkState) {
	if r.pipe == nil {
		return
	}
	select {
	case r.pipe <- pipeItem{state: s}:
	case <-r.cancelSignal:
	}
}

// finishState moves the request to a terminal state, emits it on the pipe,
// and closes the pipe since only Run's goroutine reaches this point.
func (r *WorkRequest) finishState(s WorkState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.sendState(s)
	r.closePipe()
}

// Run executes the request's callable against the worker's work loop,
// streaming results through the pipe. It is a no-op if the request is no
// longer INITIAL, which happens when Cancel already claimed it before the
// worker dequeued it.
func (r *WorkRequest) Run(state *stateproxy.StateValue) {
	r.mu.Lock()
	if r.state != StateInitial {
		r.mu.Unlock()
		return
	}
	r.state = StateStarted
	r.mu.Unlock()
	r.sendState(StateStarted)

	if r.isStreamed {
		r.runStreamed(state)
		return
	}
	r.runSingle()
}

func (r *WorkRequest) runSingle() {
	value, err := r.fn()

	select {
	case <-r.cancelSignal:
		r.finishState(StateCancelled)
		return
	default:
	}

	if err != nil {
		if IsCancelled(err) {
			r.finishState(StateCancelled)
			return
		}
		r.finishState(StateError)
		return
	}
	r.sendValue(value)
	r.finishState(StateCompleted)
}

func (r *WorkRequest) runStreamed(state *stateproxy.StateValue) {
	iter := r.streamFn()
	for {
		select {
		case <-r.cancelSignal:
			r.finishState(StateCancelled)
			return
		default:
		}
		if state != nil && state.NoGo() {
			r.finishState(StateCancelled)
			return
		}

		value, ok, err := iter.Next()

		// Next may have blocked for a while (a slow producer); recheck
		// cancellation before trusting its result.
		select {
		case <-r.cancelSignal:
			r.finishState(StateCancelled)
			return
		default:
		}

		if err != nil {
			if IsCancelled(err) {
				r.finishState(StateCancelled)
				return
			}
			r.finishState(StateError)
			return
		}
		if !ok {
			r.finishState(StateCompleted)
			return
		}
		r.sendValue(value)
	}
}

// RunInline executes the request's callable synchronously in the caller's
// own goroutine, bypassing the state machine and the pipe entirely. This is
// the fallback path used when offloading is disabled (spec.md §9, Open
// Question: "the in-process fallback path never emits STARTED/COMPLETED").
func (r *WorkRequest) RunInline() (any, []any, error) {
	if r.isStreamed {
		iter := r.streamFn()
		var values []any
		for {
			v, ok, err := iter.Next()
			if err != nil {
				return nil, values, err
			}
			if !ok {
				return nil, values, nil
			}
			values = append(values, v)
		}
	}
	v, err := r.fn()
	return v, nil, err
}

func (r *WorkRequest) String() string {
	return fmt.Sprintf("WorkRequest{id=%d, state=%s, streamed=%t}", r.id, r.State(), r.isStreamed)
}
