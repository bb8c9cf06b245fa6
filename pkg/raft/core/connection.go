package core

import (
	"fmt"
	"time"

	"github.com/goraft/server/pkg/raft/codec"
	"github.com/goraft/server/pkg/raft/types"
)

// ClassificationTag distinguishes the three states a Connection's kind can
// be in. An Unknown connection is promoted to Peer or Client exactly once
// and never reverts, per the specification's connection invariants.
type ClassificationTag int

const (
	KindUnknown ClassificationTag = iota
	KindPeer
	KindClient
)

// Classification is the tagged union of what a Connection's remote end has
// turned out to be.
type Classification struct {
	Tag ClassificationTag

	// Valid when Tag == KindPeer.
	PeerId      types.ServerId
	PeerAddress string

	// Valid when Tag == KindClient.
	ClientId types.ClientId
}

func (c Classification) String() string {
	switch c.Tag {
	case KindPeer:
		return fmt.Sprintf("peer(%v @ %s)", c.PeerId, c.PeerAddress)
	case KindClient:
		return fmt.Sprintf("client(%v)", c.ClientId)
	default:
		return "unknown"
	}
}

const (
	initialBackoff = 100 * time.Millisecond
	backoffCeiling = 20 * time.Second
)

// Connection is a nonblocking, framed-message endpoint over one TCP socket.
// It buffers partial inbound frames across reads and partially-sent
// outbound frames across writes, and never blocks.
type Connection struct {
	fd    int
	token Token
	kind  Classification

	decoder codec.Decoder
	outbox  [][]byte // queued, already-framed outbound messages
	sent    int      // bytes of outbox[0] already written

	writableArmed bool
	connecting    bool // true between dial() and the first confirmed-writable event

	backoffAttempts int

	log types.Logger
}

// AcceptUnknown wraps a freshly accept()-ed socket as an Unknown
// connection awaiting its preamble.
func AcceptUnknown(fd int, log types.Logger) *Connection {
	return &Connection{fd: fd, token: -1, kind: Classification{Tag: KindUnknown}, log: log}
}

// NewPeerConnection constructs an outbound peer endpoint in the
// disconnected state: no socket yet, empty queues, zero backoff. The
// peer's address is fixed for the lifetime of the Connection, per the
// specification's "a Peer's remote address is fixed at construction"
// invariant.
func NewPeerConnection(id types.ServerId, address string, log types.Logger) *Connection {
	return &Connection{
		fd:    -1,
		token: -1,
		kind:  Classification{Tag: KindPeer, PeerId: id, PeerAddress: address},
		log:   log,
	}
}

// Fd returns the connection's current file descriptor, or -1 if
// disconnected.
func (c *Connection) Fd() int { return c.fd }

// Token returns the connection's assigned slot index.
func (c *Connection) Token() Token { return c.token }

// Kind returns the connection's current classification.
func (c *Connection) Kind() Classification { return c.kind }

// Connected reports whether the connection currently owns a live socket.
func (c *Connection) Connected() bool { return c.fd >= 0 && !c.connecting }

// SetToken assigns the connection's Token. One-shot: set once, at
// insertion into the connection table, and never reassigned afterwards.
func (c *Connection) SetToken(t Token) {
	if c.token != -1 {
		panic(fmt.Sprintf("raft: token already assigned to connection: %v", c.token))
	}
	c.token = t
}

// SetKind promotes an Unknown connection to Peer or Client. One-shot: the
// specification requires an Unknown connection to be promoted exactly once
// and never revert.
func (c *Connection) SetKind(kind Classification) {
	if c.kind.Tag != KindUnknown {
		panic("raft: connection already classified, cannot re-promote")
	}
	c.kind = kind
}

// Register adds the connection's socket to the poller under its current
// Token and interest.
func (c *Connection) Register(p Poller) error {
	return p.Register(c.fd, c.token, c.wantWritable())
}

func (c *Connection) wantWritable() bool {
	return c.connecting || len(c.outbox) > 0
}

func (c *Connection) syncInterest(p Poller) error {
	return p.Modify(c.fd, c.token, c.wantWritable())
}

// SendMessage enqueues a message for sending. Never blocks: the frame is
// appended to the outbound queue, and if the queue was empty the
// connection arms writable interest so the reactor is told when the
// socket can accept it.
func (c *Connection) SendMessage(p Poller, message types.Message) error {
	frame, err := codec.Encode(message)
	if err != nil {
		return err
	}
	return c.enqueueFrame(p, frame)
}

// SendPreamble enqueues the connection preamble frame, the only frame that
// isn't a types.Message.
func (c *Connection) SendPreamble(p Poller, frame []byte) error {
	return c.enqueueFrame(p, frame)
}

func (c *Connection) enqueueFrame(p Poller, frame []byte) error {
	if c.fd < 0 {
		// Disconnected (mid reconnect-backoff, or not yet dialed). There is
		// no socket to arm writable interest on; drop the frame rather than
		// queuing it forever behind a connection nothing will ever flush.
		return nil
	}
	wasEmpty := len(c.outbox) == 0
	c.outbox = append(c.outbox, frame)
	if wasEmpty && !c.connecting {
		if err := c.syncInterest(p); err != nil {
			return err
		}
	}
	return nil
}

// Readable drains whatever bytes are currently available into the
// connection's inbound buffer and returns the next fully-parsed frame, if
// one is ready. ok is false with a nil error when the socket has no more
// complete frames buffered right now — the caller should stop looping over
// this connection until the next readiness notification.
func (c *Connection) Readable(p Poller) (message types.Message, ok bool, err error) {
	if frame, has, derr := c.decoder.Next(); has || derr != nil {
		if derr != nil {
			return types.Message{}, false, derr
		}
		msg, derr := codec.DecodeMessage(frame)
		return msg, derr == nil, derr
	}

	var buf [64 * 1024]byte
	n, readOk, rerr := readSocket(c.fd, buf[:])
	if rerr != nil {
		return types.Message{}, false, rerr
	}
	if !readOk {
		return types.Message{}, false, nil
	}
	c.decoder.Feed(buf[:n])

	frame, has, derr := c.decoder.Next()
	if derr != nil {
		return types.Message{}, false, derr
	}
	if !has {
		return types.Message{}, false, nil
	}
	msg, derr := codec.DecodeMessage(frame)
	if derr != nil {
		return types.Message{}, false, derr
	}
	return msg, true, nil
}

// ReadRawFrame is identical to Readable but returns the raw frame payload
// instead of decoding it as a types.Message, used to read the first frame
// (the preamble) off an Unknown connection.
func (c *Connection) ReadRawFrame(p Poller) (payload []byte, ok bool, err error) {
	if frame, has, derr := c.decoder.Next(); has || derr != nil {
		return frame, has, derr
	}
	var buf [64 * 1024]byte
	n, readOk, rerr := readSocket(c.fd, buf[:])
	if rerr != nil {
		return nil, false, rerr
	}
	if !readOk {
		return nil, false, nil
	}
	c.decoder.Feed(buf[:n])
	return c.decoder.Next()
}

// Writable flushes as much of the head-of-queue frame as the socket will
// currently accept, removing fully-sent frames and clearing writable
// interest once the queue empties.
func (c *Connection) Writable(p Poller) error {
	if c.connecting {
		if err := checkConnectError(c.fd); err != nil {
			return err
		}
		c.connecting = false
		c.backoffAttempts = 0
	}

	for len(c.outbox) > 0 {
		head := c.outbox[0]
		n, err := writeSocket(c.fd, head[c.sent:])
		if err != nil {
			return err
		}
		c.sent += n
		if c.sent < len(head) {
			// Socket accepted a partial write; wait for the next writable
			// notification to send the rest.
			break
		}
		c.outbox = c.outbox[1:]
		c.sent = 0
	}

	return c.syncInterest(p)
}

func backoffFor(attempts int) time.Duration {
	d := initialBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= backoffCeiling {
			return backoffCeiling
		}
	}
	return d
}

// ResetPeer tears down a faulted peer connection: unregisters the socket,
// discards both buffers, and computes the next exponential back-off. It
// does not arm the Reconnect timer itself — the caller (the reactor) owns
// the TimerRegistry and is responsible for recording the new handle, per
// the "connections never back-reference the reactor" design constraint.
func (c *Connection) ResetPeer(p Poller) (backoff time.Duration, err error) {
	if c.kind.Tag != KindPeer {
		panic("raft: ResetPeer called on a non-peer connection")
	}
	if c.fd >= 0 {
		if err := p.Remove(c.fd); err != nil {
			return 0, err
		}
		closeSocket(c.fd)
	}
	c.fd = -1
	c.connecting = false
	c.decoder = codec.Decoder{}
	c.outbox = nil
	c.sent = 0
	c.backoffAttempts++
	return backoffFor(c.backoffAttempts - 1), nil
}

// ReconnectPeer initiates a fresh outbound connection to the peer's fixed
// address, registers the new socket, and enqueues the local preamble
// identifying self.
func (c *Connection) ReconnectPeer(self types.ServerId, p Poller) error {
	if c.kind.Tag != KindPeer {
		panic("raft: ReconnectPeer called on a non-peer connection")
	}
	fd, err := dial(c.kind.PeerAddress)
	if err != nil {
		return err
	}
	c.fd = fd
	c.connecting = true
	c.decoder = codec.Decoder{}
	c.outbox = nil
	c.sent = 0

	preamble, err := codec.EncodePreamble(codec.ServerPreamble(self))
	if err != nil {
		closeSocket(fd)
		c.fd = -1
		return err
	}
	if err := c.SendPreamble(p, preamble); err != nil {
		closeSocket(fd)
		c.fd = -1
		c.connecting = false
		c.outbox = nil
		return err
	}

	if err := p.Register(fd, c.token, true); err != nil {
		closeSocket(fd)
		c.fd = -1
		c.connecting = false
		c.outbox = nil
		return err
	}
	return nil
}

// UnregisterPeer removes the connection's socket from the poller without
// touching any table or index — used when a duplicate inbound preamble
// supersedes a pending outbound attempt.
func (c *Connection) UnregisterPeer(p Poller) error {
	if c.fd < 0 {
		return nil
	}
	err := p.Remove(c.fd)
	closeSocket(c.fd)
	c.fd = -1
	return err
}

// Close releases the connection's socket unconditionally, used when
// removing a Client or Unknown connection from the table.
func (c *Connection) Close(p Poller) {
	if c.fd >= 0 {
		p.Remove(c.fd)
		closeSocket(c.fd)
		c.fd = -1
	}
}
