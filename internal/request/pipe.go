package request

// pipeItem is the tagged-union message carried on a request's result pipe,
// the typed-channel stand-in for the original's multiprocessing.Pipe
// (spec.md Design Notes §9: "implement as a sum type with an explicit
// discriminant, never in-band sentinel values"). state is zero for a plain
// value and non-zero for a state transition, which WorkState's iota+1
// numbering makes safe to use as the discriminant.
type pipeItem struct {
	state WorkState
	value any
}

func (p pipeItem) isState() bool { return p.state != 0 }

// newPipe creates the channel backing a request's result pipe. Only the
// WorkRequest that owns it ever sends on or closes it; ResultHandler only
// receives, so there is exactly one closer and no send-on-closed-channel
// hazard.
func newPipe(buffer int) chan pipeItem {
	return make(chan pipeItem, buffer)
}
