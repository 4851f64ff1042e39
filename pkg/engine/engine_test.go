package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlewood/offloadengine/internal/config"
	"github.com/brindlewood/offloadengine/internal/request"
)

func newTestEngine(t *testing.T, workers int) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Pool.Workers = workers
	cfg.Pool.HandshakeTimeout = 2 * time.Second
	e := New(Options{Config: cfg})
	e.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, e.WaitForProcessStart(ctx))
	t.Cleanup(func() { e.Stop(false) })
	return e
}

func TestEngineSubmitOffloadsAndCompletes(t *testing.T) {
	e := newTestEngine(t, 2)

	future, err := e.Submit(func() (any, error) { return 99, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 99, result)
}

func TestEngineSubmitStreamAccumulates(t *testing.T) {
	e := newTestEngine(t, 2)

	future, err := e.SubmitStream(func() request.Iterator {
		return request.NewSliceIterator([]any{"a", "b", "c"})
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, result)
}

func TestEngineDisableOffloadRunsInline(t *testing.T) {
	e := newTestEngine(t, 1)
	e.DisableOffload()

	future, err := e.Submit(func() (any, error) { return "inline", nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "inline", result)
}

func TestEngineUpdateStateValueRejectsSubmitSynchronously(t *testing.T) {
	e := newTestEngine(t, 1)
	e.UpdateStateValue(false)
	time.Sleep(20 * time.Millisecond)

	_, err := e.Submit(func() (any, error) {
		t.Fatal("callable must not run while the pool is no-go")
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestEngineUpdateStateValueIsIdempotent(t *testing.T) {
	e := newTestEngine(t, 1)
	before := e.CurrentState().Go
	e.UpdateStateValue(before)
	assert.Equal(t, before, e.CurrentState().Go)
}

func TestEngineCurrentState(t *testing.T) {
	e := newTestEngine(t, 2)
	state := e.CurrentState()
	assert.True(t, state.Go)
	assert.True(t, state.OffloadEnabled)
	assert.GreaterOrEqual(t, state.WorkerCount, 1)
}

func TestEngineCustomNotification(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.Workers = 1
	cfg.Pool.HandshakeTimeout = 2 * time.Second
	e := New(Options{Config: cfg})

	received := make(chan int, 1)
	e.RegisterNotification("reload", func(member int) { received <- member })
	e.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, e.WaitForProcessStart(ctx))
	defer e.Stop(false)

	assert.True(t, e.EnqueueNotification("reload", 3))
	select {
	case member := <-received:
		assert.Equal(t, 3, member)
	case <-time.After(time.Second):
		t.Fatal("custom notification was not delivered")
	}
}

func TestEngineEnqueueNotificationFalseBeforeStart(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.Workers = 1
	e := New(Options{Config: cfg})
	assert.False(t, e.EnqueueNotification("reload", 1))
}

func TestEngineSubmitAfterStopReturnsError(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.Workers = 1
	cfg.Pool.HandshakeTimeout = 2 * time.Second
	e := New(Options{Config: cfg})
	e.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, e.WaitForProcessStart(ctx))

	e.Stop(false)

	_, err := e.Submit(func() (any, error) { return nil, nil })
	require.Error(t, err)
}

func TestEngineAddInitFuncRunsOnEveryWorker(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.Workers = 2
	cfg.Pool.HandshakeTimeout = 2 * time.Second
	e := New(Options{Config: cfg})

	ran := make(chan int, cfg.Pool.Workers)
	e.AddInitFunc(func() error { ran <- 1; return nil })
	e.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, e.WaitForProcessStart(ctx))
	defer e.Stop(false)

	for i := 0; i < e.CurrentProcessCount(); i++ {
		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("init func did not run on every worker")
		}
	}
}

func TestEngineDisableFailOpenErrorsWhenNotStarted(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.Workers = 1
	e := New(Options{Config: cfg})
	e.DisableFailOpen()

	_, err := e.Submit(func() (any, error) { return nil, nil })
	require.Error(t, err)
}
