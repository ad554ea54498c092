package session

import (
	"sync"
	"sync/atomic"

	"authclient/util"
)

// instance is one generation of the process-wide State.  The Once
// guarantees a single construction per generation and publishes it to
// every caller that passes through Do.
type instance struct {
	once  sync.Once
	state *State
}

var (
	current       atomic.Pointer[instance]
	defaultLogger atomic.Pointer[util.Logger]
	constructed   atomic.Int64 // process-wide States built, for tests
)

// SetDefaultLogger sets the logger used when [Default] constructs the
// process-wide State.  It has no effect on an instance already built.
func SetDefaultLogger(l *util.Logger) { defaultLogger.Store(l) }

// Default returns the process-wide State, building it on first use.
// Concurrent first calls construct exactly one State and all of them
// receive it.
//
// Prefer passing a State from [New] down explicitly; Default exists for
// code that cannot be handed one.
func Default() *State {
	for {
		h := current.Load()
		if h == nil {
			current.CompareAndSwap(nil, &instance{})
			continue
		}
		h.once.Do(func() {
			h.state = New(defaultLogger.Load())
			constructed.Add(1)
		})
		// nil only when a reset retired h before it was built.
		if h.state != nil {
			return h.state
		}
	}
}

// ResetDefaultForTesting clears the process-wide State, if one was
// built, and forgets it so the next [Default] builds a fresh one.
// Only tests call this.
func ResetDefaultForTesting() {
	h := current.Swap(nil)
	if h == nil {
		return
	}
	// Waits for an in-flight construction and makes h.state visible.
	h.once.Do(func() {})
	if h.state != nil {
		h.state.Clear()
	}
}
