// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package safejob provides guards that let jobs race safely against a
// one-way close. An event loop uses them to make sure no task can be
// enqueued once the loop has started releasing its resources.
package safejob

import (
	"sync"

	"go.uber.org/atomic"
)

// Job is the common surface of the job guards.
type Job interface {
	// Begin sets the start entry of the job. It returns false when the
	// job has been closed; in that case End must not be called.
	Begin() bool

	// End sets the end entry of the job.
	End()

	// Close closes the job. After close, Begin always fails.
	Close()

	// Closed returns whether the job is closed.
	Closed() bool
}

// ConcurrentJob admits any number of concurrent executions until it is
// closed. Close blocks until every execution that already passed Begin
// has called End.
type ConcurrentJob struct {
	mu     sync.RWMutex
	closed atomic.Bool
}

// Begin sets the start entry of the job.
func (j *ConcurrentJob) Begin() bool {
	j.mu.RLock()
	if j.closed.Load() {
		j.mu.RUnlock()
		return false
	}
	return true
}

// End sets the end entry of the job.
func (j *ConcurrentJob) End() {
	j.mu.RUnlock()
}

// Close closes the job, waiting out executions already in flight.
func (j *ConcurrentJob) Close() {
	j.mu.Lock()
	j.closed.Store(true)
	j.mu.Unlock()
}

// Closed returns whether the job is closed.
func (j *ConcurrentJob) Closed() bool {
	return j.closed.Load()
}

// OnceJob admits exactly one execution, ever; the first Begin both
// claims the job and closes it.
type OnceJob struct {
	closed atomic.Bool
}

// Begin claims the job. Only the first caller succeeds.
func (j *OnceJob) Begin() bool {
	return j.closed.CAS(false, true)
}

// End sets the end entry of the job.
func (j *OnceJob) End() {}

// Close closes the job without executing it.
func (j *OnceJob) Close() {
	j.closed.Store(true)
}

// Closed returns whether the job is closed.
func (j *OnceJob) Closed() bool {
	return j.closed.Load()
}
