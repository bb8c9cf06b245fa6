package core

import (
	"fmt"
	"time"

	"github.com/goraft/server/pkg/raft/codec"
	"github.com/goraft/server/pkg/raft/definition"
	"github.com/goraft/server/pkg/raft/metrics"
	"github.com/goraft/server/pkg/raft/types"
)

// Config carries everything needed to construct a Server: identity, the
// fixed peer set, and the tunables named in the specification's
// configuration constants.
type Config struct {
	Self           types.ServerId
	BindAddress    string
	Peers          map[types.ServerId]string
	MaxConnections int

	Log     types.Logger
	Metrics *metrics.Collector
}

// Server is the reactor: the single owner of the multiplexer, the
// connection table, the timer registry, and the replica it drives. Exactly
// one goroutine ever calls into a Server after Run or Spawn starts it.
type Server struct {
	self types.ServerId

	replica Replica
	poller  Poller

	listenerFd int

	table        *ConnectionTable
	peerTokens   map[types.ServerId]Token
	clientTokens map[types.ClientId]Token

	sched  *scheduler
	timers *TimerRegistry

	log     types.Logger
	metrics *metrics.Collector
}

// New constructs a Server: binds and registers the listener, inserts a
// disconnected Connection for every configured peer and begins connecting
// to each, then runs the replica's initialization hook and executes the
// resulting Actions. It does not start the event loop; call Run or Spawn.
//
// Aborts (returns an error instead of a Server) if the peer set contains
// the local ServerId, per the specification's construction assertion.
func New(cfg Config, replica Replica) (*Server, error) {
	if _, ok := cfg.Peers[cfg.Self]; ok {
		return nil, fmt.Errorf("raft: peer set must not contain the local server id %v", cfg.Self)
	}
	maxConnections := cfg.MaxConnections
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	log := cfg.Log
	if log == nil {
		log = definition.NewLogrusLogger("raft", false)
	}

	poller, err := NewPoller()
	if err != nil {
		return nil, fmt.Errorf("raft: fatal: construct poller: %w", err)
	}

	listenerFd, err := listen(cfg.BindAddress)
	if err != nil {
		poller.Close()
		return nil, fmt.Errorf("raft: fatal: bind listener: %w", err)
	}
	if err := poller.Register(listenerFd, TokenListener, false); err != nil {
		closeSocket(listenerFd)
		poller.Close()
		return nil, fmt.Errorf("raft: fatal: register listener: %w", err)
	}

	sched := newScheduler()
	s := &Server{
		self:         cfg.Self,
		replica:      replica,
		poller:       poller,
		listenerFd:   listenerFd,
		table:        NewConnectionTable(maxConnections),
		peerTokens:   make(map[types.ServerId]Token),
		clientTokens: make(map[types.ClientId]Token),
		sched:        sched,
		timers:       newTimerRegistry(sched),
		log:          log,
		metrics:      cfg.Metrics,
	}

	for peerId, address := range cfg.Peers {
		conn := NewPeerConnection(peerId, address, log)
		token, err := s.table.Insert(conn)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("raft: fatal: insert peer connection for %v: %w", peerId, err)
		}
		s.peerTokens[peerId] = token
		// The specification has the peer Connection start disconnected with
		// just its preamble enqueued; there is no later trigger that would
		// ever dial it, so begin the outbound attempt immediately rather
		// than waiting on a reconnect timer that nothing would arm.
		if err := conn.ReconnectPeer(s.self, s.poller); err != nil {
			s.log.Warnf("initial connect to peer %v at %s failed: %v", peerId, address, err)
			backoff, rerr := conn.ResetPeer(s.poller)
			if rerr != nil {
				s.Close()
				return nil, fmt.Errorf("raft: fatal: reset_peer for %v: %w", peerId, rerr)
			}
			s.timers.ArmReconnect(token, backoff)
		}
	}
	s.observeTable()
	s.observeTimers()

	if err := s.executeActions(replica.Init()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Spawn starts the reactor on a dedicated goroutine and returns a channel
// that receives exactly one value: the non-nil error that stopped it.
func (s *Server) Spawn() <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	return done
}

// Run drives the event loop on the caller's goroutine until the poller
// reports an unrecoverable error or an invariant is violated, returning
// that error. It never returns nil: there is no clean-stop path, and a
// Close while the loop runs surfaces as a poller wait error.
func (s *Server) Run() error {
	for {
		timeout := s.pollTimeout()
		events, err := s.poller.Wait(timeout)
		if err != nil {
			return fmt.Errorf("raft: fatal: poller wait: %w", err)
		}
		for _, ev := range events {
			if err := s.dispatch(ev); err != nil {
				return err
			}
		}
		if err := s.dispatchTimers(time.Now()); err != nil {
			return err
		}
	}
}

// Close releases the reactor's own resources (listener socket, poller).
// It does not attempt a graceful shutdown of peer or client connections.
func (s *Server) Close() error {
	closeSocket(s.listenerFd)
	return s.poller.Close()
}

func (s *Server) pollTimeout() time.Duration {
	deadline, ok := s.sched.nextDeadline()
	if !ok {
		return -1
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return 0
}

// dispatch handles one readiness notification, per the specification's
// event dispatch table in §4.4.
func (s *Server) dispatch(ev Event) error {
	if ev.Token == TokenListener {
		if ev.Flags.has(EventError) || ev.Flags.has(EventHangup) {
			return fmt.Errorf("raft: fatal: listener fault, flags=%v", ev.Flags)
		}
		if ev.Flags.has(EventReadable) {
			s.acceptLoop()
		}
		return nil
	}

	conn, ok := s.table.Get(ev.Token)
	if !ok {
		// A stale notification for a Token already removed this tick.
		return nil
	}

	if ev.Flags.has(EventError) || ev.Flags.has(EventHangup) {
		return s.resetConnection(ev.Token)
	}

	if ev.Flags.has(EventWritable) {
		if err := conn.Writable(s.poller); err != nil {
			s.log.Warnf("writable on token %v failed: %v", ev.Token, err)
			return s.resetConnection(ev.Token)
		}
	}

	if ev.Flags.has(EventReadable) {
		return s.drainReadable(ev.Token, conn)
	}
	return nil
}

// acceptLoop accepts every inbound connection currently pending on the
// listener, non-blocking. A full table drops the socket and logs; all
// other accept errors are likewise non-fatal and logged.
func (s *Server) acceptLoop() {
	for {
		fd, ok, err := acceptOne(s.listenerFd)
		if err != nil {
			s.log.Warnf("accept: %v", err)
			return
		}
		if !ok {
			return
		}
		conn := AcceptUnknown(fd, s.log)
		token, err := s.table.Insert(conn)
		if err != nil {
			s.log.Warnf("connection limit reached, dropping inbound connection: %v", err)
			closeSocket(fd)
			continue
		}
		if err := conn.Register(s.poller); err != nil {
			s.log.Warnf("register inbound connection: %v", err)
			s.table.Remove(token)
			closeSocket(fd)
			continue
		}
		s.observeTable()
	}
}

// drainReadable repeatedly pulls fully-parsed frames off conn until none
// remain, dispatching each by the connection's current classification.
// Ordering guarantee: this fully empties the connection's readable frames
// before control returns to the multiplexer for other Tokens.
func (s *Server) drainReadable(token Token, conn *Connection) error {
	for {
		switch conn.Kind().Tag {
		case KindPeer:
			peerId := conn.Kind().PeerId
			message, ok, err := conn.Readable(s.poller)
			if err != nil {
				s.log.Warnf("read from peer %v failed: %v", peerId, err)
				return s.resetConnection(token)
			}
			if !ok {
				return nil
			}
			if err := s.executeActions(s.replica.ApplyPeerMessage(peerId, message)); err != nil {
				return err
			}

		case KindClient:
			clientId := conn.Kind().ClientId
			message, ok, err := conn.Readable(s.poller)
			if err != nil {
				s.log.Warnf("read from client %v failed: %v", clientId, err)
				return s.resetConnection(token)
			}
			if !ok {
				return nil
			}
			if err := s.executeActions(s.replica.ApplyClientMessage(clientId, message)); err != nil {
				return err
			}

		default: // KindUnknown
			payload, ok, err := conn.ReadRawFrame(s.poller)
			if err != nil {
				s.log.Warnf("read preamble on token %v failed: %v", token, err)
				return s.resetConnection(token)
			}
			if !ok {
				return nil
			}
			malformed, err := s.handlePreamble(token, conn, payload)
			if err != nil {
				return err
			}
			if malformed {
				conn.Close(s.poller)
				s.table.Remove(token)
				s.observeTable()
				return nil
			}
			// conn.Kind() is now Peer or Client; loop re-dispatches any
			// further frames already buffered from this read.
		}
	}
}

// handlePreamble decodes the first frame off an Unknown connection and
// promotes it to Peer or Client. malformed is true when the connection
// should be closed and removed; err is non-nil only for a fatal failure
// while executing the Actions an optional ReconnectNotifiable returns.
func (s *Server) handlePreamble(token Token, conn *Connection, payload []byte) (malformed bool, err error) {
	preamble, derr := codec.DecodePreamble(payload)
	if derr != nil {
		s.log.Warnf("malformed preamble on token %v: %v", token, derr)
		return true, nil
	}

	switch preamble.Kind {
	case codec.PreambleServer:
		peerId := preamble.ServerId
		conn.SetKind(Classification{Tag: KindPeer, PeerId: peerId, PeerAddress: conn.Kind().PeerAddress})

		if oldToken, exists := s.peerTokens[peerId]; exists && oldToken != token {
			if oldConn, ok := s.table.Get(oldToken); ok {
				if err := oldConn.UnregisterPeer(s.poller); err != nil {
					s.log.Warnf("unregister superseded peer connection for %v: %v", peerId, err)
				}
			}
			s.table.Remove(oldToken)
			s.timers.CancelReconnect(oldToken)
		}
		s.peerTokens[peerId] = token
		s.observeTable()
		s.observeTimers()

		if notifiable, ok := s.replica.(ReconnectNotifiable); ok {
			if err := s.executeActions(notifiable.PeerReconnected(peerId)); err != nil {
				return false, err
			}
		}

	case codec.PreambleClient:
		clientId := preamble.AsClientId()
		conn.SetKind(Classification{Tag: KindClient, ClientId: clientId})

		// The specification only spells out supersession for Peer
		// preambles, but the §3 invariant of at most one live Connection
		// per ClientId applies equally; a second inbound client preamble
		// for the same id supersedes the first the same way.
		if oldToken, exists := s.clientTokens[clientId]; exists && oldToken != token {
			if oldConn, ok := s.table.Get(oldToken); ok {
				oldConn.Close(s.poller)
			}
			s.table.Remove(oldToken)
		}
		s.clientTokens[clientId] = token
		s.observeTable()
	}
	return false, nil
}

// resetConnection implements reset_connection(token): per-classification
// teardown after an I/O fault.
func (s *Server) resetConnection(token Token) error {
	conn, ok := s.table.Get(token)
	if !ok {
		return nil
	}

	switch conn.Kind().Tag {
	case KindPeer:
		if s.timers.HasReconnect(token) {
			// Already mid-backoff (e.g. a peer reset earlier in the same
			// poll batch whose own stale event is dispatched afterwards);
			// nothing further to tear down.
			return nil
		}
		backoff, err := conn.ResetPeer(s.poller)
		if err != nil {
			return fmt.Errorf("raft: fatal: reset_peer failed for token %v: %w", token, err)
		}
		s.timers.ArmReconnect(token, backoff)
		s.observeTimers()
		s.recordReset("peer")

	case KindClient:
		clientId := conn.Kind().ClientId
		conn.Close(s.poller)
		s.table.Remove(token)
		delete(s.clientTokens, clientId)
		s.observeTable()
		s.recordReset("client")

	default: // KindUnknown
		conn.Close(s.poller)
		s.table.Remove(token)
		s.observeTable()
		s.recordReset("unknown")
	}
	return nil
}

// executeActions implements execute_actions(actions) in the order the
// specification names: peer sends, client sends, timer clear, timer arms.
func (s *Server) executeActions(actions Actions) error {
	for _, pm := range actions.PeerMessages {
		token, ok := s.peerTokens[pm.Peer]
		if !ok {
			return fmt.Errorf("raft: fatal: no connection token for peer %v (peer set is fixed at startup)", pm.Peer)
		}
		conn, ok := s.table.Get(token)
		if !ok {
			return fmt.Errorf("raft: fatal: peer token %v for %v missing from table", token, pm.Peer)
		}
		if !conn.Connected() {
			// Peer is mid-reconnect backoff; the original implementation
			// drops sends to a disconnected peer on the floor rather than
			// treating it as a fault, relying on the next heartbeat to try
			// again once the connection comes back.
			if conn.Fd() < 0 && !s.timers.HasReconnect(token) {
				// A reconnect attempt failed outright, leaving no socket
				// and no pending timer: this send drives a fresh
				// reset_peer, which re-arms the backoff.
				if err := s.resetConnection(token); err != nil {
					return err
				}
			}
			continue
		}
		if err := conn.SendMessage(s.poller, pm.Message); err != nil {
			s.log.Warnf("send to peer %v failed: %v", pm.Peer, err)
			if err := s.resetConnection(token); err != nil {
				return err
			}
		}
	}

	for _, cm := range actions.ClientMessages {
		token, ok := s.clientTokens[cm.Client]
		if !ok {
			continue // client no longer connected; silently dropped
		}
		conn, ok := s.table.Get(token)
		if !ok {
			continue
		}
		if err := conn.SendMessage(s.poller, cm.Message); err != nil {
			s.log.Warnf("send to client %v failed: %v", cm.Client, err)
			if err := s.resetConnection(token); err != nil {
				return err
			}
		}
	}

	if actions.ClearTimeouts {
		s.timers.CancelAllReplica()
		s.observeTimers()
	}

	if len(actions.Timeouts) > 0 {
		for _, t := range actions.Timeouts {
			s.timers.ArmReplica(t.Identity, t.After)
		}
		s.observeTimers()
	}
	return nil
}

// dispatchTimers pops every timer whose deadline has passed as of now and
// delivers it, per the specification's timer dispatch table.
func (s *Server) dispatchTimers(now time.Time) error {
	for _, h := range s.sched.popExpired(now) {
		switch h.event.kind {
		case timerReplica:
			identity := h.event.replica
			if !s.timers.HasReplica(identity) {
				return fmt.Errorf("raft: fatal: fired replica timeout missing from registry")
			}
			s.timers.RemoveReplica(identity)
			s.observeTimers()
			if err := s.executeActions(s.replica.ApplyTimeout(identity)); err != nil {
				return err
			}

		case timerReconnect:
			token := h.event.token
			if !s.timers.HasReconnect(token) {
				return fmt.Errorf("raft: fatal: fired reconnect timeout for token %v missing from registry", token)
			}
			s.timers.RemoveReconnect(token)
			s.observeTimers()
			conn, ok := s.table.Get(token)
			if !ok {
				s.log.Warnf("reconnect timer fired for token %v with no connection present", token)
				continue
			}
			if err := conn.ReconnectPeer(s.self, s.poller); err != nil {
				// Not retried here: the next heartbeat attempt against this
				// peer will fail and drive a fresh reset_peer, which
				// re-arms the backoff.
				s.log.Warnf("reconnect attempt for token %v failed: %v", token, err)
			}
		}
	}
	return nil
}

func (s *Server) observeTable() {
	if s.metrics == nil {
		return
	}
	s.metrics.Connections.Set(float64(s.table.Len()))
}

func (s *Server) observeTimers() {
	if s.metrics == nil {
		return
	}
	s.metrics.ReplicaTimers.Set(float64(len(s.timers.replicaIdx)))
	s.metrics.ReconnectTimers.Set(float64(len(s.timers.reconnectIdx)))
}

func (s *Server) recordReset(kind string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Resets.WithLabelValues(kind).Inc()
}
