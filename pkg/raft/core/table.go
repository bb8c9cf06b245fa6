package core

// DefaultMaxConnections is the connection table's default bounded
// capacity, not counting the reserved listener Token.
const DefaultMaxConnections = 128

// ConnectionTable is a bounded slab over the Token range [1, capacity],
// Token 0 being reserved for the listener. It gives O(1) insert, remove,
// and lookup by Token, and reuses a Token only after an explicit Remove.
type ConnectionTable struct {
	capacity int
	slots    []*Connection
	free     []Token
}

// NewConnectionTable constructs an empty table with room for capacity
// connections beyond the reserved listener slot.
func NewConnectionTable(capacity int) *ConnectionTable {
	t := &ConnectionTable{
		capacity: capacity,
		slots:    make([]*Connection, capacity+1),
	}
	for i := capacity; i >= 1; i-- {
		t.free = append(t.free, Token(i))
	}
	return t
}

// Insert assigns the next free Token to c, sets c's Token, and stores it.
// Returns ErrConnectionLimitReached if the table is at capacity.
func (t *ConnectionTable) Insert(c *Connection) (Token, error) {
	if len(t.free) == 0 {
		return 0, ErrConnectionLimitReached
	}
	tok := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	c.SetToken(tok)
	t.slots[tok] = c
	return tok, nil
}

// Get returns the connection at token, if any.
func (t *ConnectionTable) Get(token Token) (*Connection, bool) {
	if token < 1 || int(token) > t.capacity {
		return nil, false
	}
	c := t.slots[token]
	return c, c != nil
}

// Remove frees token's slot, making it available for reuse. A no-op if
// nothing occupies token.
func (t *ConnectionTable) Remove(token Token) {
	if token < 1 || int(token) > t.capacity {
		return
	}
	if t.slots[token] == nil {
		return
	}
	t.slots[token] = nil
	t.free = append(t.free, token)
}

// Len reports how many connections currently occupy the table.
func (t *ConnectionTable) Len() int {
	return t.capacity - len(t.free)
}

// Capacity returns the table's maximum occupancy, excluding the listener.
func (t *ConnectionTable) Capacity() int {
	return t.capacity
}
