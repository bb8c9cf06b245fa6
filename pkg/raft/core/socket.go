package core

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// This file wraps the raw nonblocking socket syscalls the reactor needs.
// Connections never go through net.Conn: the Go runtime's own netpoller
// would fight the reactor's epoll loop over readiness on the same file
// descriptor, which is exactly the trap mio avoids in the original
// implementation by owning the fd outright. golang.org/x/sys/unix gives
// the same level of control in Go.

func sockaddrFromAddr(addr net.Addr) (unix.Sockaddr, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("socket: expected a TCP address, got %T", addr)
	}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip6 := tcpAddr.IP.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("socket: unresolvable address %v", addr)
	}
	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], ip6)
	return sa, nil
}

func resolveSockaddr(address string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("socket: resolve %q: %w", address, err)
	}
	return sockaddrFromAddr(tcpAddr)
}

func domainFor(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// listen creates and binds a nonblocking listening socket for address.
func listen(address string) (fd int, err error) {
	sa, err := resolveSockaddr(address)
	if err != nil {
		return -1, err
	}
	fd, err = unix.Socket(domainFor(sa), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: create listener: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: set reuseaddr: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: set nonblocking: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: bind %q: %w", address, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: listen: %w", err)
	}
	return fd, nil
}

// acceptOne accepts a single pending inbound connection from a listening
// socket, non-blocking: ok is false (not an error) if nothing was pending.
func acceptOne(listenerFd int) (fd int, ok bool, err error) {
	nfd, _, err := unix.Accept4(listenerFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, false, nil
		}
		return -1, false, fmt.Errorf("socket: accept: %w", err)
	}
	return nfd, true, nil
}

// dial begins a nonblocking outbound connection attempt. A connect still in
// progress (EINPROGRESS) is not an error: the fd is returned with a nil
// error, and the caller waits for a writable event and then calls
// checkConnectError.
func dial(address string) (fd int, err error) {
	sa, err := resolveSockaddr(address)
	if err != nil {
		return -1, err
	}
	fd, err = unix.Socket(domainFor(sa), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: create outbound: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: set nonblocking: %w", err)
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: connect %q: %w", address, err)
	}
	return fd, nil
}

// checkConnectError reads SO_ERROR off a socket to learn whether a
// nonblocking connect that just became writable actually succeeded.
func checkConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("socket: getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return fmt.Errorf("socket: connect failed: %w", unix.Errno(errno))
	}
	return nil
}

// readSocket drains as much as is currently available without blocking.
// ok is false once the socket would block; a zero-length, ok=true read
// never happens for non-blocking reads — a 0-length result with a nil
// error from unix.Read means EOF, surfaced here as ErrDisconnected.
func readSocket(fd int, buf []byte) (n int, ok bool, err error) {
	n, err = unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("socket: read: %w", err)
	}
	if n == 0 {
		return 0, false, ErrDisconnected
	}
	return n, true, nil
}

// writeSocket writes as much of buf as the socket will currently accept.
func writeSocket(fd int, buf []byte) (n int, err error) {
	n, err = unix.Write(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return 0, fmt.Errorf("socket: write: %w", err)
	}
	return n, nil
}

func closeSocket(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}
