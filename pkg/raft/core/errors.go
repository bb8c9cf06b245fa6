package core

import "errors"

// ErrConnectionLimitReached is returned by the connection table when
// inserting a connection would exceed its configured capacity.
var ErrConnectionLimitReached = errors.New("raft: connection limit reached")

// ErrDisconnected is returned by Connection.Readable when the remote end
// closed the socket.
var ErrDisconnected = errors.New("raft: connection closed by peer")
