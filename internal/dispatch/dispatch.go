// Package dispatch implements the parent-side Work Dispatcher: it drains
// the application's submission queue and forwards each request onto the
// shared work channel that every Worker pulls from (spec.md §4.1, "Work
// Dispatcher"). Requests submitted while the pool is no-go are cancelled
// immediately rather than handed to a worker that would only cancel them
// anyway.
package dispatch

import (
	"github.com/brindlewood/offloadengine/internal/request"
	"github.com/brindlewood/offloadengine/internal/stateproxy"
)

// Dispatcher forwards submitted requests onto the pool's shared work
// channel.
type Dispatcher struct {
	submissionCh <-chan *request.WorkRequest
	workCh       chan<- *request.WorkRequest
	state        *stateproxy.StateValue
}

func New(submissionCh <-chan *request.WorkRequest, workCh chan<- *request.WorkRequest, state *stateproxy.StateValue) *Dispatcher {
	return &Dispatcher{submissionCh: submissionCh, workCh: workCh, state: state}
}

// Run drains the submission channel until it is closed. It does not close
// the work channel; the pool supervisor closes it once this dispatcher has
// returned, which is what lets the workers drain it and exit.
func (d *Dispatcher) Run() {
	for req := range d.submissionCh {
		if d.state.NoGo() {
			req.Cancel()
			continue
		}
		d.workCh <- req
	}
}
