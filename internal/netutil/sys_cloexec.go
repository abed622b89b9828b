// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build darwin
// +build darwin

package netutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// SocketCloexec creates a non-blocking close-on-exec socket on
// platforms without SOCK_NONBLOCK/SOCK_CLOEXEC, racing fcntl after
// socket() the way the net package does.
func SocketCloexec(family, sotype, proto int) (int, error) {
	fd, err := unix.Socket(family, sotype, proto)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	if err := prepareFD(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Accept accepts a connection on fd, returning a non-blocking
// close-on-exec descriptor and the peer address.
func Accept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	if err := prepareFD(nfd); err != nil {
		unix.Close(nfd)
		return -1, nil, err
	}
	return nfd, sa, nil
}

func prepareFD(fd int) error {
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("fcntl", err)
	}
	return nil
}
