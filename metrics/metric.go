// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package metrics provides runtime monitoring counters for the event
// loop: how often it pings, waits, and dispatches, and how many weak
// calls were dropped. A good tool for tuning task granularity.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// Loop lifecycle metrics
	LoopsCreated = iota
	LoopsClosed

	// Task metrics
	TasksPosted
	TasksExecuted
	DelayedPosted
	DelayedPromoted
	PollPosted
	PollCancelled
	PollCallbacks

	// Wake and wait metrics
	PipePings
	PollWaits

	// Binder metrics
	WeakCallsDropped

	Max
)

var metrics [Max]atomic.Uint64

// Add adds delta to the named counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get returns one counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll gets all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	cur := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = cur[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	fmt.Println("######### tloop metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	fmt.Printf("%-59s: %d\n", "# LOOP - loops created", m[LoopsCreated])
	fmt.Printf("%-59s: %d\n", "# LOOP - loops closed", m[LoopsClosed])
	fmt.Printf("%-59s: %d\n", "# TASK - immediate tasks posted", m[TasksPosted])
	fmt.Printf("%-59s: %d\n", "# TASK - tasks executed", m[TasksExecuted])
	fmt.Printf("%-59s: %d\n", "# TASK - delayed tasks posted", m[DelayedPosted])
	fmt.Printf("%-59s: %d\n", "# TASK - delayed tasks promoted", m[DelayedPromoted])
	fmt.Printf("%-59s: %d\n", "# POLL - registrations posted", m[PollPosted])
	fmt.Printf("%-59s: %d\n", "# POLL - registrations cancelled", m[PollCancelled])
	fmt.Printf("%-59s: %d\n", "# POLL - callbacks dispatched", m[PollCallbacks])
	fmt.Printf("%-59s: %d\n", "# WAKE - wake bytes written (tag:a)", m[PipePings])
	fmt.Printf("%-59s: %d\n", "# WAKE - poll waits (tag:b)", m[PollWaits])
	if m[PollWaits] > 0 {
		fmt.Printf("%-59s: %.2f\n", "# WAKE - a/b", float32(m[PipePings])/float32(m[PollWaits]))
	}
	fmt.Printf("%-59s: %d\n", "# BIND - weak calls dropped", m[WeakCallsDropped])
	fmt.Printf("\n")
}
