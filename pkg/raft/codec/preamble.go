package codec

import (
	"encoding/json"
	"fmt"

	"github.com/goraft/server/pkg/raft/types"
)

// Preamble is the first frame on every connection, identifying the remote
// end as either a peer replica or a client. It mirrors the tagged
// `connection_preamble` union named in the specification's wire protocol.
type Preamble struct {
	Kind     PreambleKind `json:"kind"`
	ServerId types.ServerId `json:"server_id,omitempty"`
	ClientId []byte       `json:"client_id,omitempty"`
}

// PreambleKind tags which variant of Preamble is populated.
type PreambleKind string

const (
	PreambleServer PreambleKind = "server"
	PreambleClient PreambleKind = "client"
)

// ServerPreamble builds the preamble a peer sends to identify itself.
func ServerPreamble(id types.ServerId) Preamble {
	return Preamble{Kind: PreambleServer, ServerId: id}
}

// ClientPreamble builds the preamble a client sends to identify itself.
func ClientPreamble(id types.ClientId) Preamble {
	return Preamble{Kind: PreambleClient, ClientId: id[:]}
}

// EncodePreamble frames a preamble for writing to a freshly accepted or
// freshly dialed socket.
func EncodePreamble(p Preamble) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode preamble: %w", err)
	}
	return EncodeRaw(body)
}

// DecodePreamble parses a frame payload as a connection preamble. A
// malformed preamble (unknown kind, wrong-length client id) is a decode
// error; the caller closes the connection, per the specification.
func DecodePreamble(payload []byte) (Preamble, error) {
	var p Preamble
	if err := json.Unmarshal(payload, &p); err != nil {
		return Preamble{}, fmt.Errorf("decode preamble: %w", err)
	}
	switch p.Kind {
	case PreambleServer:
		return p, nil
	case PreambleClient:
		if _, err := types.ClientIdFromBytes(p.ClientId); err != nil {
			return Preamble{}, fmt.Errorf("decode preamble: %w", err)
		}
		return p, nil
	default:
		return Preamble{}, fmt.Errorf("decode preamble: unknown kind %q", p.Kind)
	}
}

// AsClientId extracts the ClientId out of a PreambleClient, panicking if
// called on a different kind — callers must branch on Kind first.
func (p Preamble) AsClientId() types.ClientId {
	id, err := types.ClientIdFromBytes(p.ClientId)
	if err != nil {
		panic(err)
	}
	return id
}
