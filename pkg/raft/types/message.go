package types

// Message is an opaque Raft-domain record. The reactor never interprets its
// contents; it only moves Messages between connections and the Replica. The
// codec package knows how to turn a Message into bytes on the wire and back.
type Message struct {
	// Kind lets the codec and the replica agree on how Body should be
	// interpreted without the reactor caring.
	Kind string `json:"kind"`

	// Body is the serialized domain payload (an AppendEntries RPC, a vote
	// request, a client command, ...). Opaque to everything in this module
	// except the replica and the codec.
	Body []byte `json:"body"`
}
