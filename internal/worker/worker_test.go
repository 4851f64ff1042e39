package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlewood/offloadengine/internal/control"
	"github.com/brindlewood/offloadengine/internal/primitives"
	"github.com/brindlewood/offloadengine/internal/request"
	"github.com/brindlewood/offloadengine/internal/stateproxy"
)

func newTestWorker(t *testing.T, workCh chan *request.WorkRequest) (*Worker, control.Queue) {
	t.Helper()
	queue := control.NewQueue(4)
	handshake := primitives.NewSharedState(1)
	handshakeSet := primitives.NewProcessEvent()
	state := stateproxy.New(true)
	monitor := control.NewMonitor(
		control.MonitorConfig{InitTimeout: time.Second, KeepAliveTimeout: 5 * time.Second},
		0, queue, handshake, handshakeSet, state, nil, nil,
	)
	return New(0, workCh, monitor, state, &primitives.ProcessLock{}, handshakeSet, nil, nil), queue
}

func TestWorkerRunsDispatchedRequest(t *testing.T) {
	workCh := make(chan *request.WorkRequest, 1)
	w, queue := newTestWorker(t, workCh)

	req := request.NewWorkRequest(func() (any, error) { return "ok", nil })
	req.AttachPipe(4)
	workCh <- req
	queue <- primitives.Test(primitives.TestInitial)

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	handler := request.NewResultHandler(req, nil)
	result, err := handler.Run()
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	queue <- primitives.Shutdown(primitives.ShutdownSafe)
	close(workCh)
	require.NoError(t, <-done)
}

func TestWorkerCancelsRequestsWhenNoGo(t *testing.T) {
	workCh := make(chan *request.WorkRequest, 1)
	queue := control.NewQueue(4)
	handshake := primitives.NewSharedState(1)
	handshakeSet := primitives.NewProcessEvent()
	state := stateproxy.New(false)
	monitor := control.NewMonitor(
		control.MonitorConfig{InitTimeout: time.Second, KeepAliveTimeout: 5 * time.Second},
		0, queue, handshake, handshakeSet, state, nil, nil,
	)
	w := New(0, workCh, monitor, state, &primitives.ProcessLock{}, handshakeSet, nil, nil)

	req := request.NewWorkRequest(func() (any, error) {
		t.Fatal("callable must not run while the pool is no-go")
		return nil, nil
	})
	req.AttachPipe(4)
	workCh <- req
	queue <- primitives.Test(primitives.TestInitial)

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	handler := request.NewResultHandler(req, nil)
	_, err := handler.Run()
	require.Error(t, err)
	assert.True(t, request.IsCancelled(err))

	queue <- primitives.Shutdown(primitives.ShutdownSafe)
	close(workCh)
	require.NoError(t, <-done)
}

// ShutdownImmediate is handed off identically to ShutdownSafe: a request
// already buffered on the work channel still runs to completion before the
// channel close takes effect. Inventing an interrupt-in-flight-work
// semantics for IMMEDIATE is an open design question, not a default.
func TestWorkerImmediateShutdownStillRunsQueuedWork(t *testing.T) {
	workCh := make(chan *request.WorkRequest, 2)
	w, queue := newTestWorker(t, workCh)

	req := request.NewWorkRequest(func() (any, error) { return "late", nil })
	req.AttachPipe(4)
	workCh <- req
	queue <- primitives.Test(primitives.TestInitial)
	queue <- primitives.Shutdown(primitives.ShutdownImmediate)

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	handler := request.NewResultHandler(req, nil)
	result, err := handler.Run()
	require.NoError(t, err)
	assert.Equal(t, "late", result)

	close(workCh)
	require.NoError(t, <-done)
}

// A dead control monitor (keep-alive timeout, or its queue closed out from
// under it) must wake the work loop immediately rather than leave it
// blocked on a work channel that nothing will ever close or feed again
// (spec.md §4.1, testable property 9).
func TestWorkerExitsWhenMonitorDies(t *testing.T) {
	workCh := make(chan *request.WorkRequest)
	queue := control.NewQueue(4)
	handshake := primitives.NewSharedState(1)
	handshakeSet := primitives.NewProcessEvent()
	state := stateproxy.New(true)
	monitor := control.NewMonitor(
		control.MonitorConfig{InitTimeout: time.Second, KeepAliveTimeout: 20 * time.Millisecond},
		0, queue, handshake, handshakeSet, state, nil, nil,
	)
	w := New(0, workCh, monitor, state, &primitives.ProcessLock{}, handshakeSet, nil, nil)

	queue <- primitives.Test(primitives.TestInitial)

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after its control monitor died")
	}
}

func TestWorkerRunsInitFuncsBeforeWorkLoop(t *testing.T) {
	workCh := make(chan *request.WorkRequest, 1)
	queue := control.NewQueue(4)
	handshake := primitives.NewSharedState(1)
	handshakeSet := primitives.NewProcessEvent()
	state := stateproxy.New(true)
	monitor := control.NewMonitor(
		control.MonitorConfig{InitTimeout: time.Second, KeepAliveTimeout: 5 * time.Second},
		0, queue, handshake, handshakeSet, state, nil, nil,
	)

	var order []string
	initFuncs := []func() error{
		func() error { order = append(order, "init1"); return nil },
		func() error { order = append(order, "init2"); return nil },
	}
	w := New(0, workCh, monitor, state, &primitives.ProcessLock{}, handshakeSet, initFuncs, nil)

	req := request.NewWorkRequest(func() (any, error) {
		order = append(order, "work")
		return nil, nil
	})
	req.AttachPipe(4)
	workCh <- req
	queue <- primitives.Test(primitives.TestInitial)

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	handler := request.NewResultHandler(req, nil)
	_, err := handler.Run()
	require.NoError(t, err)

	queue <- primitives.Shutdown(primitives.ShutdownSafe)
	close(workCh)
	require.NoError(t, <-done)

	require.Equal(t, []string{"init1", "init2", "work"}, order)
}
