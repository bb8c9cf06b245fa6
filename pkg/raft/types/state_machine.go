package types

import "sync"

// StateMachine is the user state machine that receives committed log
// entries. Like Store, it is an external collaborator: constructed by the
// caller, passed through to the Replica unchanged, and never touched by the
// reactor directly.
type StateMachine interface {
	// Apply commits a single log entry's data to the state machine.
	Apply(record LogRecord) (interface{}, error)

	// Restore rebuilds in-memory state after a restart. A fresh state
	// machine with nothing to restore can treat this as a no-op.
	Restore() error
}

// InMemoryStateMachine accumulates applied entries in a slice. Useful for
// tests and as the CLI default; it has no durability of its own.
type InMemoryStateMachine struct {
	mu      sync.Mutex
	applied []LogRecord
}

// NewInMemoryStateMachine constructs a state machine with no prior history.
func NewInMemoryStateMachine() *InMemoryStateMachine {
	return &InMemoryStateMachine{}
}

func (m *InMemoryStateMachine) Apply(record LogRecord) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, record)
	return record, nil
}

func (m *InMemoryStateMachine) Restore() error {
	return nil
}

// History returns a snapshot of every record applied so far, in order.
func (m *InMemoryStateMachine) History() []LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogRecord, len(m.applied))
	copy(out, m.applied)
	return out
}
