package session

import (
	"errors"
	"testing"
)

func walk(t *testing.T, m *Machine, states ...State) {
	t.Helper()
	for _, state := range states {
		if err := m.Transition(state); err != nil {
			t.Fatalf("Setup transition to %s failed: %v", state, err)
		}
	}
}

func TestMachineStartsIdle(t *testing.T) {
	m := NewMachine()
	if m.State() != StateIdle {
		t.Errorf("Expected idle, got %s", m.State())
	}
	if !m.Is(StateIdle) {
		t.Error("Expected Is(StateIdle) to be true")
	}
}

func TestMachineRecordingLifecycle(t *testing.T) {
	m := NewMachine()
	walk(t, m, StateConnecting, StateRecording, StateStopping, StateIdle)

	if m.State() != StateIdle {
		t.Errorf("Expected idle after full cycle, got %s", m.State())
	}
}

func TestMachinePermissionFlow(t *testing.T) {
	m := NewMachine()
	walk(t, m, StatePermissionRequested, StateConnecting, StateRecording)

	if m.State() != StateRecording {
		t.Errorf("Expected recording, got %s", m.State())
	}
}

func TestMachineErrorRecovery(t *testing.T) {
	m := NewMachine()
	walk(t, m, StateConnecting, StateError)

	if err := m.Transition(StateIdle); err != nil {
		t.Errorf("Expected error state to recover to idle, got %v", err)
	}
	walk(t, m, StateConnecting, StateRecording, StateError, StateConnecting)

	if m.State() != StateConnecting {
		t.Errorf("Expected connecting after error recovery, got %s", m.State())
	}
}

func TestMachineRejectsIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		next State
	}{
		{"idle to recording", nil, StateRecording},
		{"idle to stopping", nil, StateStopping},
		{"idle to error", nil, StateError},
		{"recording to connecting", []State{StateConnecting, StateRecording}, StateConnecting},
		{"recording to idle", []State{StateConnecting, StateRecording}, StateIdle},
		{"recording to recording", []State{StateConnecting, StateRecording}, StateRecording},
		{"stopping to recording", []State{StateConnecting, StateRecording, StateStopping}, StateRecording},
		{"error to recording", []State{StateConnecting, StateError}, StateRecording},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			walk(t, m, tt.path...)

			before := m.State()
			err := m.Transition(tt.next)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Expected ErrInvalidTransition, got %v", err)
			}
			if m.State() != before {
				t.Errorf("Expected state to stay %s after rejected transition, got %s", before, m.State())
			}
		})
	}
}

func TestStateString(t *testing.T) {
	names := map[State]string{
		StateIdle:                "idle",
		StatePermissionRequested: "permission_requested",
		StateConnecting:          "connecting",
		StateRecording:           "recording",
		StateStopping:            "stopping",
		StateError:               "error",
	}
	for state, want := range names {
		if got := state.String(); got != want {
			t.Errorf("Expected %q for state %d, got %q", want, int(state), got)
		}
	}

	if got := State(42).String(); got != "unknown(42)" {
		t.Errorf("Expected unknown(42), got %q", got)
	}
}
