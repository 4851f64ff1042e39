// Package control implements the out-of-band control channel described in
// spec.md §4.8: a per-worker queue carrying handshake, keep-alive,
// log-level, go/no-go, shutdown, and custom notifications, separate from
// the work queue.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/brindlewood/offloadengine/internal/primitives"
)

// Queue is a worker's inbound control channel. The dispatcher closes it
// once a worker's shutdown handshake is complete, letting the worker's
// range loop exit without an extra sentinel value.
type Queue chan primitives.ControlMessage

// NewQueue creates a control queue with the given buffer depth.
func NewQueue(buffer int) Queue {
	return make(Queue, buffer)
}

// Put enqueues msg, failing with a timeout error if the queue stays full for
// longer than timeout (spec.md §4.8: "per-broadcast put timeout"). A
// timeout<=0 blocks until ctx is done.
func (q Queue) Put(ctx context.Context, msg primitives.ControlMessage, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case q <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q <- msg:
		return nil
	case <-timer.C:
		return fmt.Errorf("control queue put timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
