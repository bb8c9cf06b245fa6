package core

import (
	"container/heap"
	"time"
)

// timerKind distinguishes the two timer families named in the
// specification: Replica timeouts (opaque, replica-owned identities) and
// Reconnect timeouts (keyed by the Token of a disconnected peer).
type timerKind int

const (
	timerReplica timerKind = iota
	timerReconnect
)

type timerEvent struct {
	kind    timerKind
	replica ReplicaTimeout
	token   Token
}

// handle is the scheduler's opaque handle for one armed timer. The
// specification is explicit that the Replica never sees handles, only
// identities — handle lives entirely inside this package.
type handle struct {
	deadline time.Time
	event    timerEvent
	index    int // position in the scheduler's heap, maintained by container/heap
}

// timerHeap is a min-heap of *handle ordered by deadline, giving the
// scheduler O(log n) arm/cancel and O(1) "what fires next" queries.
type timerHeap []*handle

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	he := x.(*handle)
	he.index = len(*h)
	*h = append(*h, he)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	he := old[n-1]
	old[n-1] = nil
	he.index = -1
	*h = old[:n-1]
	return he
}

// scheduler is the reactor's equivalent of mio's EventLoop timer facility:
// a single ordered set of pending timers driving how long the poller may
// block before the loop must wake up on its own.
type scheduler struct {
	pending timerHeap
}

func newScheduler() *scheduler {
	return &scheduler{}
}

// arm schedules event to fire after the given duration and returns its
// handle.
func (s *scheduler) arm(event timerEvent, after time.Duration) *handle {
	h := &handle{deadline: time.Now().Add(after), event: event}
	heap.Push(&s.pending, h)
	return h
}

// cancel removes a handle from the schedule. Safe to call on a handle that
// has already fired or been cancelled.
func (s *scheduler) cancel(h *handle) {
	if h == nil || h.index < 0 {
		return
	}
	heap.Remove(&s.pending, h.index)
}

// nextDeadline reports when the earliest pending timer fires, used to
// bound the poller's wait so the loop wakes up in time to service it.
func (s *scheduler) nextDeadline() (time.Time, bool) {
	if len(s.pending) == 0 {
		return time.Time{}, false
	}
	return s.pending[0].deadline, true
}

// popExpired removes and returns every timer whose deadline has passed, in
// deadline order.
func (s *scheduler) popExpired(now time.Time) []*handle {
	var fired []*handle
	for len(s.pending) > 0 && !s.pending[0].deadline.After(now) {
		fired = append(fired, heap.Pop(&s.pending).(*handle))
	}
	return fired
}
