//go:build linux

package core

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller on top of Linux epoll in level-triggered
// mode, mirroring the readiness model the specification assumes
// (error/hangup/writable/readable bits on a single notification).
type epollPoller struct {
	fd int
}

// NewPoller constructs the platform multiplexer. On Linux this is epoll;
// see poller_other.go for the fallback on every other GOOS.
func NewPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &epollPoller{fd: fd}, nil
}

func interestMask(writable bool) uint32 {
	mask := uint32(unix.EPOLLIN)
	if writable {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollPoller) Register(fd int, token Token, writable bool) error {
	ev := unix.EpollEvent{Events: interestMask(writable), Fd: int32(token)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, token Token, writable bool) error {
	ev := unix.EpollEvent{Events: interestMask(writable), Fd: int32(token)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("poller: epoll_ctl del: %w", err)
	}
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}
	var raw [256]unix.EpollEvent
	n, err := unix.EpollWait(p.fd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		var flags EventFlags
		e := raw[i].Events
		if e&unix.EPOLLIN != 0 {
			flags |= EventReadable
		}
		if e&unix.EPOLLOUT != 0 {
			flags |= EventWritable
		}
		if e&unix.EPOLLERR != 0 {
			flags |= EventError
		}
		if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			flags |= EventHangup
		}
		events = append(events, Event{Token: Token(raw[i].Fd), Flags: flags})
	}
	return events, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}
