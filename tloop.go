// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package tloop provides a single-goroutine cooperative event loop.
//
// An EventLoop dispatches three kinds of work on the goroutine that
// calls Run: immediately ready tasks posted from any goroutine, tasks
// delayed until a point in time, and callbacks waiting for a file
// descriptor to become readable or writable. All three are multiplexed
// on one poll(2) wait; a self-pipe wakes the wait when work arrives
// from another goroutine.
//
// Tasks are deferred calls built with the bind package. Binding a
// method to a weak pointer (package weak) is the idiomatic way to
// cancel queued work: invalidate the pointer on the loop goroutine and
// every queued copy turns into a no-op.
package tloop

import (
	"sync"

	"trpc.group/trpc-go/tloop/internal/goid"
)

var (
	currentMu    sync.RWMutex
	currentLoops = make(map[int64]*EventLoop)
)

// Current returns the loop whose Run is executing on the calling
// goroutine, or nil. Goroutines have no native local storage, so the
// binding lives in a map keyed by goroutine id.
func Current() *EventLoop {
	currentMu.RLock()
	l := currentLoops[goid.Get()]
	currentMu.RUnlock()
	return l
}

// IsCurrent returns whether the calling goroutine is running l.
func (l *EventLoop) IsCurrent() bool {
	return Current() == l
}

func setCurrent(l *EventLoop) {
	id := goid.Get()
	currentMu.Lock()
	if l == nil {
		delete(currentLoops, id)
	} else {
		currentLoops[id] = l
	}
	currentMu.Unlock()
}
