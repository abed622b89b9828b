// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package safejob_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/tloop/internal/safejob"
)

func TestConcurrentJob(t *testing.T) {
	job := &safejob.ConcurrentJob{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if job.Begin() {
				time.Sleep(time.Millisecond)
				job.End()
			}
		}()
	}
	wg.Wait()
	assert.False(t, job.Closed())
	job.Close()
	assert.True(t, job.Closed())
	assert.False(t, job.Begin())
}

func TestConcurrentJobCloseWaitsForInflight(t *testing.T) {
	job := &safejob.ConcurrentJob{}
	assert.True(t, job.Begin())
	done := make(chan struct{})
	go func() {
		job.Close()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Close returned while an execution was in flight")
	case <-time.After(10 * time.Millisecond):
	}
	job.End()
	<-done
	assert.True(t, job.Closed())
}

func TestOnceJob(t *testing.T) {
	job := &safejob.OnceJob{}
	assert.False(t, job.Closed())
	assert.True(t, job.Begin())
	job.End()
	assert.True(t, job.Closed())
	assert.False(t, job.Begin())

	closed := &safejob.OnceJob{}
	closed.Close()
	assert.False(t, closed.Begin())
}
