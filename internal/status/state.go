package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the state of the realtime link.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Open         State = "open"
	Reconnecting State = "reconnecting"
)

// validTransitions defines allowed state transitions. Disconnected is only
// re-entered on an explicit close or a rejected token.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Open, Reconnecting, Disconnected},
	Open:         {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces link state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.ConnStateChanged, StatusChange{From: from, To: to})
	return nil
}

// Reset forces the machine back to Disconnected from any state.
// Returns false if it was already there.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Disconnected {
		return false
	}
	from := m.current
	m.current = Disconnected
	m.bus.Emit(bus.ConnStateChanged, StatusChange{From: from, To: Disconnected})
	return true
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From State
	To   State
}
