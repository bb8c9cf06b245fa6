package main

import (
	"github.com/goraft/server/pkg/raft/core"
	"github.com/goraft/server/pkg/raft/types"
)

// replicaStub is the minimal Replica this binary wires the reactor to. The
// Raft election/log/commit logic is an external collaborator the
// specification deliberately leaves out of the core (see pkg/raft/core's
// Replica interface) — a real deployment supplies its own implementation
// backed by store and stateMachine. This one only proves the reactor runs
// end to end: it logs every message and returns empty Actions, so it sends
// nothing and never arms a timeout.
type replicaStub struct {
	store        types.Store
	stateMachine types.StateMachine
	log          types.Logger
}

func newReplicaStub(store types.Store, stateMachine types.StateMachine, log types.Logger) *replicaStub {
	return &replicaStub{store: store, stateMachine: stateMachine, log: log}
}

func (r *replicaStub) Init() core.Actions {
	r.log.Infof("replica initialized, last index %d", r.store.LastIndex())
	return core.Actions{}
}

func (r *replicaStub) ApplyPeerMessage(peer types.ServerId, message types.Message) core.Actions {
	r.log.Debugf("peer message from %v: kind=%s", peer, message.Kind)
	return core.Actions{}
}

func (r *replicaStub) ApplyClientMessage(client types.ClientId, message types.Message) core.Actions {
	r.log.Debugf("client message from %v: kind=%s", client, message.Kind)
	return core.Actions{}
}

func (r *replicaStub) ApplyTimeout(timeout core.ReplicaTimeout) core.Actions {
	r.log.Debugf("replica timeout fired: %v", timeout)
	return core.Actions{}
}
