// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package netutil

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Filer is satisfied by net.Listener and net.Conn implementations that
// can expose a duplicate of their file descriptor.
type Filer interface {
	File() (*os.File, error)
}

// File returns a duplicate *os.File for v's descriptor. The caller
// owns the file; closing it closes the descriptor, and the descriptor
// stays open only as long as the file is referenced. Note that File()
// puts the duplicate into blocking mode; callers who need non-blocking
// behavior must reset it.
func File(v interface{}) (*os.File, error) {
	f, ok := v.(Filer)
	if !ok {
		return nil, errors.Errorf("netutil: %T does not expose a file descriptor", v)
	}
	file, err := f.File()
	if err != nil {
		return nil, errors.Wrap(err, "netutil: dup file descriptor")
	}
	return file, nil
}

// SetNonBlocking puts fd into non-blocking mode.
func SetNonBlocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("fcntl", err)
	}
	return nil
}
