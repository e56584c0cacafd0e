package status

import (
	"testing"

	"github.com/vittahq/bridge/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
	if m.Connected() {
		t.Error("Connected() = true for fresh machine")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, AwaitingPairing},
		{Disconnected, Connected},
		{AwaitingPairing, Connected},
		{AwaitingPairing, Disconnected},
		{Connected, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)
	if err := m.Transition(AwaitingPairing); err == nil {
		t.Error("Transition(CONNECTED -> AWAITING_PAIRING) should fail; must drop first")
	}
	if m.Current() != Connected {
		t.Errorf("state = %s, want CONNECTED (should not have changed)", m.Current())
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Disconnected); err != nil {
		t.Fatalf("self transition: %v", err)
	}

	select {
	case evt := <-ch:
		t.Errorf("self transition published %v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AwaitingPairing); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.status_changed" {
		t.Errorf("event kind = %q, want session.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != AwaitingPairing {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> AWAITING_PAIRING", change.From, change.To)
	}
}

// TestPairingLifecycle walks the first-run flow:
// DISCONNECTED -> AWAITING_PAIRING -> CONNECTED -> DISCONNECTED.
func TestPairingLifecycle(t *testing.T) {
	m := NewMachine(nil)
	steps := []State{AwaitingPairing, Connected, Disconnected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestReconnectLifecycle walks a returning session that has credentials
// and never shows a pairing token: DISCONNECTED -> CONNECTED ->
// DISCONNECTED -> CONNECTED.
func TestReconnectLifecycle(t *testing.T) {
	m := NewMachine(nil)
	steps := []State{Connected, Disconnected, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected:    {},
		AwaitingPairing: {AwaitingPairing},
		Connected:       {Connected},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo %s: %v", target, err)
		}
	}
}
