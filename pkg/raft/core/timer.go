package core

import "time"

// TimerRegistry maps logical timeout identities to scheduler handles. It
// enforces the invariant named in the specification: for every logical
// timeout currently pending, exactly one handle is held, and arming an
// already-armed identity atomically replaces the old handle rather than
// stacking a second one.
type TimerRegistry struct {
	sched      *scheduler
	replicaIdx map[ReplicaTimeout]*handle
	reconnectIdx map[Token]*handle
}

func newTimerRegistry(sched *scheduler) *TimerRegistry {
	return &TimerRegistry{
		sched:        sched,
		replicaIdx:   make(map[ReplicaTimeout]*handle),
		reconnectIdx: make(map[Token]*handle),
	}
}

// ArmReplica schedules a Replica timeout, replacing any previously-armed
// timer under the same identity.
func (r *TimerRegistry) ArmReplica(identity ReplicaTimeout, after time.Duration) {
	if old, ok := r.replicaIdx[identity]; ok {
		r.sched.cancel(old)
	}
	r.replicaIdx[identity] = r.sched.arm(timerEvent{kind: timerReplica, replica: identity}, after)
}

// CancelReplica cancels and forgets the Replica timeout, if armed.
// Idempotent for an identity that isn't currently armed.
func (r *TimerRegistry) CancelReplica(identity ReplicaTimeout) {
	if h, ok := r.replicaIdx[identity]; ok {
		r.sched.cancel(h)
		delete(r.replicaIdx, identity)
	}
}

// CancelAllReplica cancels and forgets every armed Replica timeout.
func (r *TimerRegistry) CancelAllReplica() {
	for identity, h := range r.replicaIdx {
		r.sched.cancel(h)
		delete(r.replicaIdx, identity)
	}
}

// HasReplica reports whether a Replica timeout is currently armed, used by
// the reactor's "remove from registry, asserting presence" timer dispatch
// step.
func (r *TimerRegistry) HasReplica(identity ReplicaTimeout) bool {
	_, ok := r.replicaIdx[identity]
	return ok
}

// RemoveReplica forgets a Replica timeout's registry entry without
// touching the scheduler, used once its handle has already fired.
func (r *TimerRegistry) RemoveReplica(identity ReplicaTimeout) {
	delete(r.replicaIdx, identity)
}

// ArmReconnect schedules a Reconnect timeout for the given peer Token,
// replacing any previously-armed timer for that Token.
func (r *TimerRegistry) ArmReconnect(token Token, after time.Duration) {
	if old, ok := r.reconnectIdx[token]; ok {
		r.sched.cancel(old)
	}
	r.reconnectIdx[token] = r.sched.arm(timerEvent{kind: timerReconnect, token: token}, after)
}

// CancelReconnect cancels and forgets the Reconnect timeout for token, if
// armed. Idempotent.
func (r *TimerRegistry) CancelReconnect(token Token) {
	if h, ok := r.reconnectIdx[token]; ok {
		r.sched.cancel(h)
		delete(r.reconnectIdx, token)
	}
}

// HasReconnect reports whether a Reconnect timeout is armed for token.
func (r *TimerRegistry) HasReconnect(token Token) bool {
	_, ok := r.reconnectIdx[token]
	return ok
}

// RemoveReconnect forgets a Reconnect timeout's registry entry without
// touching the scheduler.
func (r *TimerRegistry) RemoveReconnect(token Token) {
	delete(r.reconnectIdx, token)
}
