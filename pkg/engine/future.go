package engine

import "context"

// Future is the handle returned by Submit/SubmitStream. It resolves once
// the underlying request reaches a terminal state (spec.md §6: "the parent
// observes completion via a future-like handle").
type Future struct {
	done   chan struct{}
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(result any, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Wait blocks until the request completes or ctx is done, whichever comes
// first.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the request has already reached a terminal state.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
