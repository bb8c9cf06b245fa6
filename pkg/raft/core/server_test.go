//go:build linux

package core

import (
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/goraft/server/pkg/raft/codec"
	"github.com/goraft/server/pkg/raft/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeReplica is a Replica that never emits Actions on its own, sufficient
// for exercising the reactor's wiring without any real consensus logic.
type fakeReplica struct{}

func (fakeReplica) Init() Actions                                           { return Actions{} }
func (fakeReplica) ApplyPeerMessage(types.ServerId, types.Message) Actions   { return Actions{} }
func (fakeReplica) ApplyClientMessage(types.ClientId, types.Message) Actions { return Actions{} }
func (fakeReplica) ApplyTimeout(ReplicaTimeout) Actions                      { return Actions{} }

func tick(t *testing.T, s *Server, timeout time.Duration) {
	t.Helper()
	events, err := s.poller.Wait(timeout)
	if err != nil {
		t.Fatalf("poller wait: %v", err)
	}
	for _, ev := range events {
		if err := s.dispatch(ev); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if err := s.dispatchTimers(time.Now()); err != nil {
		t.Fatalf("dispatch timers: %v", err)
	}
}

func newTestServer(t *testing.T, bind string, peers map[types.ServerId]string, maxConnections int) *Server {
	t.Helper()
	s, err := New(Config{
		Self:           types.ServerId(0),
		BindAddress:    bind,
		Peers:          peers,
		MaxConnections: maxConnections,
		Log:            discardLogger{},
	}, fakeReplica{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var d codec.Decoder
	buf := make([]byte, 4096)
	for {
		if payload, ok, err := d.Next(); err != nil {
			t.Fatalf("decode: %v", err)
		} else if ok {
			return payload
		}
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		d.Feed(buf[:n])
	}
}

func TestStartupWithReachablePeerSendsPreamble(t *testing.T) {
	peerListener, err := net.Listen("tcp", "127.0.0.1:18101")
	if err != nil {
		t.Fatalf("listen as fake peer: %v", err)
	}
	defer peerListener.Close()

	s := newTestServer(t, "127.0.0.1:18201", map[types.ServerId]string{1: "127.0.0.1:18101"}, DefaultMaxConnections)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := peerListener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	// Flush the enqueued preamble onto the wire.
	tick(t, s, 2*time.Second)

	if _, ok := s.peerTokens[types.ServerId(1)]; !ok {
		t.Fatalf("expected peer_tokens[1] to exist after startup")
	}

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake peer never saw an inbound connection")
	}
	defer conn.Close()

	payload := readFrame(t, conn)
	preamble, err := codec.DecodePreamble(payload)
	if err != nil {
		t.Fatalf("decode preamble: %v", err)
	}
	if preamble.Kind != codec.PreambleServer || preamble.ServerId != types.ServerId(0) {
		t.Fatalf("got preamble %+v, want a server preamble identifying id 0", preamble)
	}
}

func TestStartupWithUnreachablePeerArmsReconnect(t *testing.T) {
	// Nothing listens on this port.
	s := newTestServer(t, "127.0.0.1:18202", map[types.ServerId]string{1: "127.0.0.1:18999"}, DefaultMaxConnections)

	token := s.peerTokens[types.ServerId(1)]

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		tick(t, s, 200*time.Millisecond)
		if s.timers.HasReconnect(token) {
			return
		}
	}
	t.Fatalf("expected a Reconnect timer to be armed after the outbound connect failed")
}

func TestSendToPeerDuringReconnectBackoffDoesNotAbort(t *testing.T) {
	// Nothing listens on this port, so the peer stays in reconnect backoff
	// for the whole test.
	s := newTestServer(t, "127.0.0.1:18207", map[types.ServerId]string{1: "127.0.0.1:18998"}, DefaultMaxConnections)

	deadline := time.Now().Add(3 * time.Second)
	armed := false
	for time.Now().Before(deadline) {
		tick(t, s, 200*time.Millisecond)
		token := s.peerTokens[types.ServerId(1)]
		if s.timers.HasReconnect(token) {
			armed = true
			break
		}
	}
	if !armed {
		t.Fatalf("expected a Reconnect timer to be armed before exercising the send path")
	}

	// A leader heartbeats every peer on every tick, including ones that are
	// currently down; this must not be treated as a fault.
	for i := 0; i < 5; i++ {
		if err := s.executeActions(Actions{
			PeerMessages: []PeerMessage{{Peer: types.ServerId(1), Message: types.Message{Kind: "heartbeat"}}},
		}); err != nil {
			t.Fatalf("executeActions against a backed-off peer must not fail, got: %v", err)
		}
	}
}

func TestSelfInPeersAborts(t *testing.T) {
	_, err := New(Config{
		Self:        types.ServerId(1),
		BindAddress: "127.0.0.1:18203",
		Peers:       map[types.ServerId]string{1: "127.0.0.1:18102"},
		Log:         discardLogger{},
	}, fakeReplica{})
	if err == nil {
		t.Fatalf("expected construction to fail when the peer set contains the local id")
	}
}

func TestConnectionCapDropsExcessInbound(t *testing.T) {
	s := newTestServer(t, "127.0.0.1:18204", nil, 1)

	first, err := net.Dial("tcp", "127.0.0.1:18204")
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer first.Close()
	tick(t, s, time.Second)
	if s.table.Len() != 1 {
		t.Fatalf("table len = %d, want 1 after first accept", s.table.Len())
	}

	second, err := net.Dial("tcp", "127.0.0.1:18204")
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer second.Close()
	tick(t, s, time.Second)

	if s.table.Len() != 1 {
		t.Fatalf("table len = %d, want 1 (second connection should be dropped)", s.table.Len())
	}
}

func TestClientFaultForgetsClient(t *testing.T) {
	s := newTestServer(t, "127.0.0.1:18205", nil, DefaultMaxConnections)

	conn, err := net.Dial("tcp", "127.0.0.1:18205")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	clientId := types.ClientId{1, 2, 3}
	frame, err := codec.EncodePreamble(codec.ClientPreamble(clientId))
	if err != nil {
		t.Fatalf("encode preamble: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write preamble: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tick(t, s, 200*time.Millisecond)
		if _, ok := s.clientTokens[clientId]; ok {
			break
		}
	}
	token, ok := s.clientTokens[clientId]
	if !ok {
		t.Fatalf("expected client_tokens to contain the client after its preamble")
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tick(t, s, 200*time.Millisecond)
		if _, ok := s.clientTokens[clientId]; !ok {
			if _, present := s.table.Get(token); present {
				t.Fatalf("expected the freed token to be removed from the table")
			}
			return
		}
	}
	t.Fatalf("expected client_tokens to forget the client after its connection faulted")
}

func TestDuplicatePeerPreambleSupersedes(t *testing.T) {
	s := newTestServer(t, "127.0.0.1:18206", nil, DefaultMaxConnections)

	dialAndAnnounce := func() net.Conn {
		conn, err := net.Dial("tcp", "127.0.0.1:18206")
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		frame, err := codec.EncodePreamble(codec.ServerPreamble(types.ServerId(1)))
		if err != nil {
			t.Fatalf("encode preamble: %v", err)
		}
		if _, err := conn.Write(frame); err != nil {
			t.Fatalf("write preamble: %v", err)
		}
		return conn
	}

	first := dialAndAnnounce()
	defer first.Close()

	deadline := time.Now().Add(2 * time.Second)
	var firstToken Token
	for time.Now().Before(deadline) {
		tick(t, s, 200*time.Millisecond)
		if tok, ok := s.peerTokens[types.ServerId(1)]; ok {
			firstToken = tok
			break
		}
	}
	if firstToken == 0 {
		t.Fatalf("expected the first inbound preamble to register peer 1")
	}

	second := dialAndAnnounce()
	defer second.Close()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tick(t, s, 200*time.Millisecond)
		if tok, ok := s.peerTokens[types.ServerId(1)]; ok && tok != firstToken {
			if _, present := s.table.Get(firstToken); present {
				t.Fatalf("expected the superseded token to be removed from the table")
			}
			if s.timers.HasReconnect(firstToken) {
				t.Fatalf("expected no Reconnect timer for the superseded token")
			}
			return
		}
	}
	t.Fatalf("expected the second preamble to supersede the first connection's token")
}
