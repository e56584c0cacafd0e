package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vittahq/bridge/internal/bus"
)

// State is the connection state of the single WhatsApp session.
type State string

const (
	// Disconnected means no live link to WhatsApp. Every conversation,
	// message, and send operation is refused while here.
	Disconnected State = "DISCONNECTED"
	// AwaitingPairing means a pairing token has been issued and is
	// waiting to be scanned by the account owner's phone.
	AwaitingPairing State = "AWAITING_PAIRING"
	// Connected means the session is established and traffic flows.
	Connected State = "CONNECTED"
)

// validTransitions defines the allowed state graph. Disconnected ->
// AwaitingPairing is re-entrant: every restart that needs pairing
// passes through it again with a fresh token.
var validTransitions = map[State][]State{
	Disconnected:    {AwaitingPairing, Connected},
	AwaitingPairing: {Connected, Disconnected},
	Connected:       {Disconnected},
}

// Machine tracks the process-wide connection state. Only the
// connection manager mutates it; everything downstream (ingestion,
// HTTP handlers, push channel) reads it or follows its bus events.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// StatusChange is the payload of "session.status_changed" events.
type StatusChange struct {
	From State
	To   State
}

// NewMachine creates a machine in the Disconnected state.
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

// Connected reports whether the session is established.
func (m *Machine) Connected() bool {
	return m.Current() == Connected
}

// Transition moves to a new state and publishes
// "session.status_changed". Transitioning to the current state is a
// no-op. Returns an error for a move the state graph does not allow.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}
