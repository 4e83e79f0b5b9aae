package orchestrator

import (
	"sync"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

// TransitionHandler observes state changes. It must not change state itself.
type TransitionHandler func(t domain.Transition)

// StateMachine holds the RunState and notifies observers synchronously,
// in transition order. Setting the current state again is a no-op.
type StateMachine struct {
	// emitMu serializes set+deliver so observers never see reordered transitions
	emitMu sync.Mutex

	mu       sync.RWMutex
	state    domain.RunState
	handlers map[uint64]TransitionHandler
	order    []uint64
	nextID   uint64
}

// NewStateMachine creates a machine in the Idle state
func NewStateMachine() *StateMachine {
	return &StateMachine{
		state:    domain.RunStateIdle,
		handlers: make(map[uint64]TransitionHandler),
	}
}

// State returns the current state
func (m *StateMachine) State() domain.RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Set moves to state and reports whether a transition happened
func (m *StateMachine) Set(state domain.RunState) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	prev := m.state
	if prev == state {
		m.mu.Unlock()
		return false
	}
	m.state = state
	handlers := m.snapshotHandlers()
	m.mu.Unlock()

	t := domain.Transition{From: prev, To: state}
	for _, h := range handlers {
		h(t)
	}
	return true
}

// CompareAndSet moves to state only when the current state is from
func (m *StateMachine) CompareAndSet(from, state domain.RunState) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.state != from || from == state {
		m.mu.Unlock()
		return false
	}
	m.state = state
	handlers := m.snapshotHandlers()
	m.mu.Unlock()

	t := domain.Transition{From: from, To: state}
	for _, h := range handlers {
		h(t)
	}
	return true
}

// Subscribe registers h and returns a function that removes it
func (m *StateMachine) Subscribe(h TransitionHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.handlers[id] = h
	m.order = append(m.order, id)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.handlers[id]; !ok {
			return
		}
		delete(m.handlers, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// snapshotHandlers copies handlers in registration order; m.mu must be held
func (m *StateMachine) snapshotHandlers() []TransitionHandler {
	handlers := make([]TransitionHandler, 0, len(m.order))
	for _, id := range m.order {
		handlers = append(handlers, m.handlers[id])
	}
	return handlers
}
