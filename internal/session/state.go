package session

import (
	"errors"
	"fmt"
	"sync"
)

// State identifies where a recording session is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StatePermissionRequested
	StateConnecting
	StateRecording
	StateStopping
	StateError
)

// String returns the lifecycle state name used in logs and the monitoring API
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePermissionRequested:
		return "permission_requested"
	case StateConnecting:
		return "connecting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Session lifecycle errors
var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrNotRecording      = errors.New("no recording session is active")
	ErrTooManySessions   = errors.New("maximum concurrent sessions reached")
	ErrQueueFull         = errors.New("audio queue is full")
	ErrQueueClosed       = errors.New("audio queue is closed")
)

// validNext lists the transitions the lifecycle permits. Error is reachable
// from every active state; recovery from Error re-enters the setup states.
// PermissionRequested only occurs on capture clients, where microphone
// access has to be granted before a stream can open.
var validNext = map[State][]State{
	StateIdle:                {StatePermissionRequested, StateConnecting},
	StatePermissionRequested: {StateConnecting, StateIdle, StateError},
	StateConnecting:          {StateRecording, StateIdle, StateError},
	StateRecording:           {StateStopping, StateError},
	StateStopping:            {StateIdle, StateError},
	StateError:               {StateIdle, StatePermissionRequested, StateConnecting},
}

// Machine is a thread-safe session lifecycle state machine. It starts in
// Idle and refuses transitions the lifecycle does not permit, so callers
// can rely on the state they observed still being coherent with the one
// they move to.
type Machine struct {
	state State
	mu    sync.RWMutex
}

// NewMachine creates a state machine in the Idle state
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current lifecycle state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Is reports whether the machine is currently in the given state
func (m *Machine) Is(s State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == s
}

// Transition moves the machine to next if the lifecycle permits it, and
// reports ErrInvalidTransition otherwise. Check and move happen under one
// lock so two racing transitions cannot both succeed from the same state.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range validNext[m.state] {
		if next == allowed {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
}
