// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tloop

import (
	"time"

	"trpc.group/trpc-go/tloop/bind"
)

// task is an immediately ready unit of work.
type task struct {
	call bind.Call
}

// delayedTask is a task that becomes ready at due. seq breaks due-time
// ties in posting order.
type delayedTask struct {
	call bind.Call
	due  time.Time
	seq  uint64
}

// delayedHeap implements container/heap ordered by due time, earliest
// first, insertion order among equals.
type delayedHeap []*delayedTask

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	return h[i].seq < h[j].seq
}

func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push implements heap.Interface.
func (h *delayedHeap) Push(x interface{}) {
	*h = append(*h, x.(*delayedTask))
}

// Pop implements heap.Interface.
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	dt := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return dt
}

// pollTask is a callback waiting for fd readiness. events holds the
// poll(2) interest bits; zero means "cancel whatever waits on fd".
// The callback is invoked with (invalid, hangup, error) decoded from
// the revents that fired.
type pollTask struct {
	call   bind.Call
	fd     int
	events int16
}
