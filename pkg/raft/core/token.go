package core

import "strconv"

// Token is an opaque handle drawn from a small integer space. It is both
// the poller's per-source key and the connection table's slot index.
type Token int

// TokenListener is reserved for the listening socket; no Connection may
// ever be assigned it.
const TokenListener Token = 0

func (t Token) String() string {
	if t == TokenListener {
		return "token(listener)"
	}
	return "token(" + strconv.Itoa(int(t)) + ")"
}
