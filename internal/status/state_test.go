package status

import (
	"testing"
	"time"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/bus"
)

func TestFullCycle(t *testing.T) {
	m := NewMachine(nil)

	stages := []State{Fetching, Classifying, Syncing, Persisting, Idle}
	for _, s := range stages {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s) error = %v", s, err)
		}
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE", m.Current())
	}
}

func TestMultiGroupCycle(t *testing.T) {
	m := NewMachine(nil)

	// Two groups: sync of the first loops back to fetching the second.
	stages := []State{Fetching, Classifying, Syncing, Fetching, Classifying, Syncing, Persisting, Idle}
	for _, s := range stages {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s) error = %v", s, err)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)

	if err := m.Transition(Persisting); err == nil {
		t.Error("Idle -> Persisting should be rejected")
	}
	if m.Current() != Idle {
		t.Errorf("failed transition must not change state, got %s", m.Current())
	}
}

func TestResetFromAnyStage(t *testing.T) {
	m := NewMachine(nil)

	_ = m.Transition(Fetching)
	_ = m.Transition(Classifying)
	m.Reset()
	if m.Current() != Idle {
		t.Errorf("state after Reset = %s, want IDLE", m.Current())
	}

	// A fresh cycle can start after a reset.
	if err := m.Transition(Fetching); err != nil {
		t.Errorf("Transition(Fetching) after Reset error = %v", err)
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)

	ch, unsub := b.Subscribe("status.", 10)
	defer unsub()

	if err := m.Transition(Fetching); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Idle || change.To != Fetching {
			t.Errorf("change = %+v, want Idle -> Fetching", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stage change event")
	}
}
