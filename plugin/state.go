package plugin

import (
	"sync"
	"time"

	"github.com/atelierdev/atelier/errors"
)

// State is a plugin's position in the lifecycle state machine:
//
//	unloaded -> loaded -> initialized -> started <-> paused -> stopped
//
// StateError is reachable from any non-terminal state. Stopped and error
// are terminal until an explicit reload re-enters loaded. Unregistered ids
// are implicitly unloaded.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateInitialized
	StateStarted
	StatePaused
	StateStopped
	StateError
)

var stateNames = map[State]string{
	StateUnloaded:    "unloaded",
	StateLoaded:      "loaded",
	StateInitialized: "initialized",
	StateStarted:     "started",
	StatePaused:      "paused",
	StateStopped:     "stopped",
	StateError:       "error",
}

// String returns the lowercase state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state requires a reload to leave
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// ParseState converts a state name back to a State
func ParseState(name string) (State, error) {
	for state, stateName := range stateNames {
		if stateName == name {
			return state, nil
		}
	}
	return StateUnloaded, errors.Newf("unknown plugin state %q", name)
}

// StateChange records a single lifecycle transition
type StateChange struct {
	PluginID  string
	From      State
	To        State
	Timestamp time.Time
}

// StateWatch is a live, non-replaying stream of state changes. Slow
// consumers drop changes rather than block the publisher. Close is
// synchronous: no change is delivered after Close returns.
type StateWatch struct {
	mu     sync.Mutex
	ch     chan StateChange
	closed bool
}

func newStateWatch(buffer int) *StateWatch {
	if buffer <= 0 {
		buffer = defaultWatchBuffer
	}
	return &StateWatch{ch: make(chan StateChange, buffer)}
}

// C returns the channel state changes arrive on. The channel is closed
// when the watch is closed or its plugin is unregistered.
func (w *StateWatch) C() <-chan StateChange {
	return w.ch
}

// Close stops the watch and closes its channel
func (w *StateWatch) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}

// send delivers a change without blocking; returns false once closed so
// the publisher can prune the watch. A full channel drops the change.
func (w *StateWatch) send(change StateChange) (delivered, open bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, false
	}
	select {
	case w.ch <- change:
		return true, true
	default:
		return false, true
	}
}
