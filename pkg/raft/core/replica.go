package core

import (
	"time"

	"github.com/goraft/server/pkg/raft/types"
)

// ReplicaTimeout is an opaque, equality-hashable value identifying a
// logical timeout owned by the Replica (election, heartbeat-per-peer, ...).
// The reactor never interprets it beyond identity; the concrete type is the
// Replica implementation's choice, and must be comparable so it can key a
// Go map.
type ReplicaTimeout interface{}

// TimeoutToArm pairs a logical Replica timeout with the duration after
// which it should fire.
type TimeoutToArm struct {
	Identity ReplicaTimeout
	After    time.Duration
}

// PeerMessage is one outbound message addressed to a peer replica.
type PeerMessage struct {
	Peer    types.ServerId
	Message types.Message
}

// ClientMessage is one outbound message addressed to a connected client.
type ClientMessage struct {
	Client  types.ClientId
	Message types.Message
}

// Actions is the batch of side effects a single Replica invocation
// produces: messages to send, timeouts to arm, and optionally a request to
// clear every currently-armed Replica timeout first.
type Actions struct {
	PeerMessages   []PeerMessage
	ClientMessages []ClientMessage
	Timeouts       []TimeoutToArm
	ClearTimeouts  bool
}

// AppendPeerMessage enqueues an outbound peer message, for Replica
// implementations that prefer to build up Actions incrementally rather
// than construct the slice literal directly.
func (a *Actions) AppendPeerMessage(peer types.ServerId, message types.Message) {
	a.PeerMessages = append(a.PeerMessages, PeerMessage{Peer: peer, Message: message})
}

// AppendClientMessage enqueues an outbound client message.
func (a *Actions) AppendClientMessage(client types.ClientId, message types.Message) {
	a.ClientMessages = append(a.ClientMessages, ClientMessage{Client: client, Message: message})
}

// ArmTimeout schedules a Replica timeout to be armed when these Actions are
// executed.
func (a *Actions) ArmTimeout(identity ReplicaTimeout, after time.Duration) {
	a.Timeouts = append(a.Timeouts, TimeoutToArm{Identity: identity, After: after})
}

// IsEmpty reports whether executing these Actions would be a no-op, which
// the empty-Actions-idempotence law requires to hold for the zero value too.
func (a Actions) IsEmpty() bool {
	return len(a.PeerMessages) == 0 && len(a.ClientMessages) == 0 && len(a.Timeouts) == 0 && !a.ClearTimeouts
}

// Replica is the Raft consensus engine the reactor drives. Its election,
// log, and commit logic are out of scope for this module: the reactor only
// needs to translate network readiness and timer expiry into calls here,
// and execute whatever Actions come back.
type Replica interface {
	// Init is called once, after the reactor has bound its listener and
	// registered its configured peer connections, and before the event
	// loop starts.
	Init() Actions

	// ApplyPeerMessage delivers one frame received from a peer connection.
	ApplyPeerMessage(peer types.ServerId, message types.Message) Actions

	// ApplyClientMessage delivers one frame received from a client
	// connection.
	ApplyClientMessage(client types.ClientId, message types.Message) Actions

	// ApplyTimeout notifies the Replica that one of its own armed timeouts
	// has fired. The reactor has already removed it from the timer
	// registry by the time this is called.
	ApplyTimeout(timeout ReplicaTimeout) Actions
}

// ReconnectNotifiable is an optional capability a Replica may implement to
// learn when a peer connection has been freshly (re)established, so it can
// resend recent entries rather than waiting for the next heartbeat to
// reveal the gap. The reactor type-asserts for this; a Replica that does
// not implement it is simply never told.
type ReconnectNotifiable interface {
	PeerReconnected(peer types.ServerId) Actions
}
