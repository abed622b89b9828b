// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package netutil_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/tloop/internal/netutil"
)

func TestSockaddrRoundTrip(t *testing.T) {
	ip := net.ParseIP("127.0.0.1")
	sa, family, err := netutil.SockaddrFromIP(ip, 8080)
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, family)

	addr := netutil.SockaddrToTCPAddr(sa)
	require.NotNil(t, addr)
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.True(t, tcp.IP.Equal(ip))
	assert.Equal(t, 8080, tcp.Port)
}

func TestSockaddrFromIPv6(t *testing.T) {
	sa, family, err := netutil.SockaddrFromIP(net.ParseIP("::1"), 80)
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET6, family)
	addr := netutil.SockaddrToTCPAddr(sa)
	require.NotNil(t, addr)
	assert.True(t, addr.(*net.TCPAddr).IP.Equal(net.ParseIP("::1")))
}

func TestSockaddrFromInvalidIP(t *testing.T) {
	_, _, err := netutil.SockaddrFromIP(nil, 80)
	assert.Error(t, err)
}

func TestFile(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	file, err := netutil.File(ln)
	require.NoError(t, err)
	defer file.Close()
	fd := int(file.Fd())
	require.NoError(t, netutil.SetNonBlocking(fd))

	_, err = netutil.File(struct{}{})
	assert.Error(t, err)
}

func TestSocketCloexec(t *testing.T) {
	fd, err := netutil.SocketCloexec(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	require.NoError(t, err)
	defer unix.Close(fd)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}
