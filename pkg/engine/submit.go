package engine

import (
	"fmt"
	"time"

	"github.com/brindlewood/offloadengine/internal/request"
)

// Submit schedules a single-valued callable. The offload policy (spec.md
// §4.2) decides whether it runs on a worker or inline in the parent.
func (e *Engine) Submit(fn request.Func) (*Future, error) {
	return e.submit(request.NewWorkRequest(fn), nil)
}

// SubmitWithHooks is Submit with a caller-supplied HandlerHooks strategy.
func (e *Engine) SubmitWithHooks(fn request.Func, hooks request.HandlerHooks) (*Future, error) {
	return e.submit(request.NewWorkRequest(fn), hooks)
}

// SubmitStream schedules a streamed callable, accumulating every produced
// value into a slice in arrival order.
func (e *Engine) SubmitStream(fn request.StreamFunc) (*Future, error) {
	return e.submit(request.NewStreamWorkRequest(fn), nil)
}

// SubmitStreamWithHooks is SubmitStream with a caller-supplied HandlerHooks
// strategy, e.g. request.NewFlatteningHooks() for a producer that yields
// batches.
func (e *Engine) SubmitStreamWithHooks(fn request.StreamFunc, hooks request.HandlerHooks) (*Future, error) {
	return e.submit(request.NewStreamWorkRequest(fn), hooks)
}

func (e *Engine) submit(req *request.WorkRequest, hooks request.HandlerHooks) (*Future, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return nil, fmt.Errorf("offload engine: pool stopped")
	}

	// A no-go pool rejects synchronously rather than enqueueing work the
	// Work Dispatcher would only cancel later (spec.md §4.6 step 1, §5).
	if e.state.NoGo() {
		return nil, request.NewCancelledError("offload engine: pool is no-go")
	}

	e.metrics.RecordSubmitted()
	future := newFuture()

	offload, err := e.shouldOffload()
	if err != nil {
		return nil, err
	}

	if offload {
		req.AttachPipe(4)
		// Safe from racing Stop's close(submissionCh): Stop blocks on the
		// write side of e.mu until this RLock is released, and only closes
		// submissionCh after that, so submissionCh cannot close while we
		// hold the read lock.
		e.submissionCh <- req
		e.metrics.RecordDispatched()
	}

	go func() {
		e.acquireLocal()
		defer e.releaseLocal()

		start := time.Now()
		handler := request.NewResultHandler(req, hooks)
		result, err := handler.Run()
		e.recordOutcome(err, time.Since(start).Seconds())
		future.complete(result, err)
	}()

	return future, nil
}

func (e *Engine) recordOutcome(err error, latencySeconds float64) {
	switch {
	case err == nil:
		e.metrics.RecordCompleted(latencySeconds)
	case request.IsCancelled(err):
		e.metrics.RecordCancelled(latencySeconds)
	default:
		e.metrics.RecordFailed(latencySeconds)
	}
}
