// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package socket provides non-blocking, close-on-exec stream sockets
// at file descriptor level. Sockets carry no event machinery of their
// own: callers register the descriptor with an event loop through
// PostWhenReadReady/PostWhenWriteReady and react to readiness there.
package socket

import (
	"net"
	"os"

	goreuseport "github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tloop/internal/netutil"
	"trpc.group/trpc-go/tloop/log"
)

// ErrWouldBlock reports that the operation cannot complete without
// blocking; retry once the descriptor is ready.
var ErrWouldBlock = errors.New("socket: operation would block")

// Socket is a non-blocking stream socket. All methods are safe for use
// on the loop goroutine that polls the descriptor; Close is safe from
// any goroutine and is idempotent.
type Socket struct {
	fd     int
	file   *os.File // owns fd when the socket came from a net.Listener
	laddr  net.Addr
	raddr  net.Addr
	server bool
	closed atomic.Bool
}

// Connect starts a connection to ip:port and returns the socket
// immediately. Non-blocking sockets fail connect(2) with EINPROGRESS;
// that means the connection is under way, and polling the descriptor
// for write-readiness reports completion.
func Connect(ip net.IP, port int) (*Socket, error) {
	sa, family, err := netutil.SockaddrFromIP(ip, port)
	if err != nil {
		return nil, err
	}
	fd, err := netutil.SocketCloexec(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		err = os.NewSyscallError("connect", err)
		log.Errorf("socket: connect to %v:%d: %v", ip, port, err)
		return nil, err
	}
	return &Socket{fd: fd, raddr: &net.TCPAddr{IP: ip, Port: port}}, nil
}

// Listen returns a server socket listening at address. With reusePort,
// the listening socket is created with SO_REUSEPORT so that several
// processes (or several listeners in one process) can share the port.
func Listen(network, address string, reusePort bool) (*Socket, error) {
	var (
		ln  net.Listener
		err error
	)
	if reusePort {
		ln, err = goreuseport.NewReusablePortListener(network, address)
	} else {
		ln, err = net.Listen(network, address)
	}
	if err != nil {
		return nil, errors.Wrap(err, "socket: listen")
	}
	addr := ln.Addr()
	file, err := netutil.File(ln)
	// The listener is only a factory for the descriptor; the dup in
	// file keeps the socket open.
	ln.Close()
	if err != nil {
		return nil, err
	}
	fd := int(file.Fd())
	if err := netutil.SetNonBlocking(fd); err != nil {
		file.Close()
		return nil, err
	}
	return &Socket{fd: fd, file: file, laddr: addr, server: true}, nil
}

// Accept returns the next connection on a server socket, or
// ErrWouldBlock when none is pending.
func (s *Socket) Accept() (*Socket, error) {
	if !s.server {
		return nil, errors.New("socket: accept on a client socket")
	}
	nfd, sa, err := netutil.Accept(s.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, os.NewSyscallError("accept", err)
	}
	return &Socket{fd: nfd, laddr: s.laddr, raddr: netutil.SockaddrToTCPAddr(sa)}, nil
}

// FD returns the socket's file descriptor.
func (s *Socket) FD() int {
	return s.fd
}

// LocalAddr returns the local address, when known.
func (s *Socket) LocalAddr() net.Addr {
	return s.laddr
}

// RemoteAddr returns the peer address, when known.
func (s *Socket) RemoteAddr() net.Addr {
	return s.raddr
}

// Read reads from the socket. It returns ErrWouldBlock when no data is
// available.
func (s *Socket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, os.NewSyscallError("read", err)
	}
	return n, nil
}

// Write writes to the socket. It returns ErrWouldBlock when the send
// buffer is full.
func (s *Socket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, os.NewSyscallError("write", err)
	}
	return n, nil
}

// SetNoDelay disables Nagle's algorithm.
func (s *Socket) SetNoDelay() error {
	return os.NewSyscallError("setsockopt",
		unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1))
}

// SetKeepAlive enables keep-alive on the connection.
func (s *Socket) SetKeepAlive() error {
	return os.NewSyscallError("setsockopt",
		unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1))
}

// SetReuseAddr allows reuse of the socket's address. Only meaningful
// for server sockets.
func (s *Socket) SetReuseAddr() error {
	if !s.server {
		log.Errorf("socket: SetReuseAddr on a client socket")
	}
	return os.NewSyscallError("setsockopt",
		unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
}

// ReceiveBufferSize returns the kernel receive buffer size in bytes.
func (s *Socket) ReceiveBufferSize() (int, error) {
	size, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return -1, os.NewSyscallError("getsockopt", err)
	}
	return size, nil
}

// ReadyToReadSize returns the number of bytes that can be read without
// blocking.
func (s *Socket) ReadyToReadSize() (int, error) {
	n, err := unix.IoctlGetInt(s.fd, unix.FIONREAD)
	if err != nil {
		return -1, os.NewSyscallError("ioctl", err)
	}
	return n, nil
}

// Close closes the socket. Further calls are no-ops.
func (s *Socket) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	if s.file != nil {
		return s.file.Close()
	}
	return os.NewSyscallError("close", unix.Close(s.fd))
}
