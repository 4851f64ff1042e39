package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlewood/offloadengine/internal/stateproxy"
)

func TestRequestIDWraps(t *testing.T) {
	idMu.Lock()
	idCounter = idMax
	idMu.Unlock()

	first := nextID()
	assert.EqualValues(t, 0, first)
	second := nextID()
	assert.EqualValues(t, 1, second)
}

func TestWorkRequestSingleValueCompletes(t *testing.T) {
	req := NewWorkRequest(func() (any, error) { return 42, nil })
	req.AttachPipe(4)

	done := make(chan struct{})
	go func() {
		req.Run(stateproxy.New(true))
		close(done)
	}()

	handler := NewResultHandler(req, nil)
	result, err := handler.Run()
	<-done

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, StateCompleted, req.State())
}

func TestWorkRequestErrorPropagates(t *testing.T) {
	boom := NewWorkError("boom")
	req := NewWorkRequest(func() (any, error) { return nil, boom })
	req.AttachPipe(4)

	go req.Run(stateproxy.New(true))

	handler := NewResultHandler(req, nil)
	_, err := handler.Run()

	require.Error(t, err)
	assert.Equal(t, StateError, req.State())
}

func TestWorkRequestStreamedAccumulatesInOrder(t *testing.T) {
	req := NewStreamWorkRequest(func() Iterator {
		return NewSliceIterator([]any{1, 2, 3})
	})
	req.AttachPipe(4)

	go req.Run(stateproxy.New(true))

	handler := NewResultHandler(req, nil)
	result, err := handler.Run()

	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, result)
}

func TestWorkRequestCancelBeforeRunNeverStarts(t *testing.T) {
	req := NewWorkRequest(func() (any, error) {
		t.Fatal("callable must not run once cancelled before dispatch")
		return nil, nil
	})
	req.AttachPipe(4)

	req.Cancel()
	req.Run(stateproxy.New(true))

	assert.Equal(t, StateCancelled, req.State())
}

func TestWorkRequestCancelMidStream(t *testing.T) {
	release := make(chan struct{})
	req := NewStreamWorkRequest(func() Iterator {
		return &blockingIterator{release: release}
	})
	req.AttachPipe(1)

	go req.Run(stateproxy.New(true))

	handler := NewResultHandler(req, nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		handler.Cancel()
		close(release)
	}()

	_, err := handler.Run()
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestWorkRequestNoGoCancelsStream(t *testing.T) {
	state := stateproxy.New(false)
	req := NewStreamWorkRequest(func() Iterator {
		return NewSliceIterator([]any{1, 2, 3})
	})
	req.AttachPipe(4)

	go req.Run(state)

	handler := NewResultHandler(req, nil)
	_, err := handler.Run()

	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestWorkRequestRunInlineBypassesStateMachine(t *testing.T) {
	req := NewWorkRequest(func() (any, error) { return "inline", nil })

	handler := NewResultHandler(req, nil)
	result, err := handler.Run()

	require.NoError(t, err)
	assert.Equal(t, "inline", result)
	assert.Equal(t, StateInitial, req.State())
}

func TestFlatteningHooksFlattensOneLevel(t *testing.T) {
	req := NewStreamWorkRequest(func() Iterator {
		return NewSliceIterator([]any{
			[]any{1, 2},
			3,
		})
	})
	req.AttachPipe(4)

	go req.Run(stateproxy.New(true))

	handler := NewResultHandler(req, NewFlatteningHooks())
	result, err := handler.Run()

	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, result)
}

// blockingIterator yields one value then blocks until release is closed,
// simulating a slow producer that a mid-stream cancel must interrupt.
type blockingIterator struct {
	release chan struct{}
	emitted bool
}

func (b *blockingIterator) Next() (any, bool, error) {
	if !b.emitted {
		b.emitted = true
		return "first", true, nil
	}
	<-b.release
	return nil, false, nil
}
