package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/bus"
)

// State represents a pipeline cycle stage.
type State string

const (
	Idle        State = "IDLE"
	Fetching    State = "FETCHING"
	Classifying State = "CLASSIFYING"
	Syncing     State = "SYNCING"
	Persisting  State = "PERSISTING"
)

// validTransitions defines allowed stage transitions. Syncing may return to
// Fetching because groups are processed sequentially within one cycle.
var validTransitions = map[State][]State{
	Idle:        {Fetching},
	Fetching:    {Classifying},
	Classifying: {Syncing},
	Syncing:     {Fetching, Persisting},
	Persisting:  {Idle},
}

// Machine tracks and enforces cycle stage transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
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
	m.set(to)
	return nil
}

// Reset returns to Idle from any stage. Used when a cycle fails mid-stage.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Idle {
		return
	}
	m.set(Idle)
}

func (m *Machine) set(to State) {
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStageChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
}

// StatusChange is the payload for stage change events.
type StatusChange struct {
	From State
	To   State
}
