package types

import (
	"encoding/hex"
	"fmt"
)

// ServerId uniquely identifies a peer replica in the cluster. It doubles as
// the replica's wire identity, so it must be stable across restarts.
type ServerId uint64

func (s ServerId) String() string {
	return fmt.Sprintf("server(%d)", uint64(s))
}

// ClientId is a fixed-width identity presented by a client in its connection
// preamble. Sixteen bytes mirrors a UUID without pulling in a UUID library
// the rest of this module has no other use for.
type ClientId [16]byte

func (c ClientId) String() string {
	return hex.EncodeToString(c[:])
}

// ClientIdFromBytes validates and copies a wire-provided client identity.
// A length mismatch is a decode error, not a panic: the bytes originate from
// an untrusted remote peer.
func ClientIdFromBytes(b []byte) (ClientId, error) {
	var id ClientId
	if len(b) != len(id) {
		return id, fmt.Errorf("client id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}
