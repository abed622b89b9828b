// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package affinity provides a goroutine affinity checker for state that
// must only be touched from its home goroutine.
package affinity

import (
	"go.uber.org/atomic"

	"trpc.group/trpc-go/tloop/internal/goid"
)

// Checker binds itself to the goroutine that first calls Check and
// reports whether later calls come from that same goroutine. The lazy
// binding lets a record be created on one goroutine and homed on the
// goroutine that starts using it. The zero value is ready to use.
type Checker struct {
	id atomic.Int64
}

// Check returns true iff the caller is the checker's home goroutine.
// The first call wins the binding and always returns true.
func (c *Checker) Check() bool {
	cur := goid.Get()
	if c.id.CAS(0, cur) {
		return true
	}
	return c.id.Load() == cur
}
