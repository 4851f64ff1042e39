package request

import "sync"

var (
	idMu      sync.Mutex
	idCounter int32
)

const idMax = 999999

// nextID returns a monotonically increasing id that wraps from 999,999 back
// to 0 (spec.md §3, testable property 10).
func nextID() int32 {
	idMu.Lock()
	defer idMu.Unlock()
	idCounter++
	if idCounter > idMax {
		idCounter = 0
	}
	return idCounter
}
