// Package codec implements the wire framing named in the specification:
// every connection carries length-delimited records, JSON-encoded, with a
// connection preamble as the first frame.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/goraft/server/pkg/raft/types"
)

// MaxFrameSize bounds a single frame's payload so a misbehaving or
// malicious peer cannot make the reactor allocate unbounded memory while
// assembling a frame.
const MaxFrameSize = 16 * 1024 * 1024

const lengthPrefixSize = 4

// Encode serializes a message into a length-prefixed frame ready to be
// queued on a connection's outbound buffer.
func Encode(message types.Message) ([]byte, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("encode frame: payload of %d bytes exceeds max %d", len(body), MaxFrameSize)
	}
	out := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[lengthPrefixSize:], body)
	return out, nil
}

// EncodeRaw frames an already-serialized payload, used for the connection
// preamble which has its own small wire shape rather than types.Message.
func EncodeRaw(body []byte) ([]byte, error) {
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("encode frame: payload of %d bytes exceeds max %d", len(body), MaxFrameSize)
	}
	out := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[lengthPrefixSize:], body)
	return out, nil
}

// Decoder incrementally assembles frames out of bytes arriving from a
// nonblocking socket read. Feed is called with whatever bytes were
// available; Next drains complete frames one at a time, returning ok=false
// once the buffer holds only a partial frame.
type Decoder struct {
	buf []byte
}

// Feed appends newly read bytes to the decoder's internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next returns the next fully-received frame's raw payload, if one is
// buffered. A malformed length prefix (exceeding MaxFrameSize) is reported
// as an error; the caller should treat that as a decode fault and close the
// connection.
func (d *Decoder) Next() (payload []byte, ok bool, err error) {
	if len(d.buf) < lengthPrefixSize {
		return nil, false, nil
	}
	size := binary.BigEndian.Uint32(d.buf)
	if size > MaxFrameSize {
		return nil, false, fmt.Errorf("decode frame: declared size %d exceeds max %d", size, MaxFrameSize)
	}
	total := lengthPrefixSize + int(size)
	if len(d.buf) < total {
		return nil, false, nil
	}
	payload = make([]byte, size)
	copy(payload, d.buf[lengthPrefixSize:total])
	remaining := len(d.buf) - total
	copy(d.buf, d.buf[total:])
	d.buf = d.buf[:remaining]
	return payload, true, nil
}

// Pending reports how many unparsed bytes the decoder is holding, used
// only for diagnostics.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// DecodeMessage unmarshals a frame payload produced by Encode.
func DecodeMessage(payload []byte) (types.Message, error) {
	var m types.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return types.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
