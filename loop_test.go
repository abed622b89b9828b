// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tloop_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/tloop"
	"trpc.group/trpc-go/tloop/bind"
	"trpc.group/trpc-go/tloop/clock"
	"trpc.group/trpc-go/tloop/weak"
)

func increment(c *int) { *c++ }

type weakIncrementer struct {
	weak.Owner[weakIncrementer]
	counter *int
}

func (w *weakIncrementer) increment() { *w.counter++ }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func installClock(t *testing.T) *testClock {
	t.Helper()
	c := &testClock{now: time.Unix(1000, 0)}
	clock.SetNowFunc(c.Now)
	t.Cleanup(func() { clock.SetNowFunc(nil) })
	return c
}

func newLoop(t *testing.T) *tloop.EventLoop {
	t.Helper()
	loop, err := tloop.New()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })
	return loop
}

func TestQuitAfterAllWorkDone(t *testing.T) {
	loop := newLoop(t)
	counter := 0
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New(func() { assert.True(t, loop.IsCurrent()) }))
	loop.Post(bind.New(increment, &counter))
	assert.Nil(t, tloop.Current())
	loop.Run()
	assert.Nil(t, tloop.Current())
	assert.Equal(t, 1, counter)
}

func TestWakeUpForWork(t *testing.T) {
	loop := newLoop(t)
	counter := 0
	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()
	time.Sleep(time.Millisecond)
	loop.Post(bind.New(increment, &counter))
	loop.Post(bind.New(loop.QuitSoon))
	<-done
	assert.Equal(t, 1, counter)
}

func TestWeakPtr(t *testing.T) {
	loop := newLoop(t)
	counter := 0
	inc := &weakIncrementer{counter: &counter}

	// The loop dispatches a plain receiver.
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New((*weakIncrementer).increment, inc))
	loop.Run()
	assert.Equal(t, 1, counter)

	// The loop can be restarted.
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New((*weakIncrementer).increment, inc))
	loop.Run()
	assert.Equal(t, 2, counter)

	// Valid weak pointer.
	ptr := inc.WeakPtr(inc)
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New((*weakIncrementer).increment, ptr.Clone()))
	loop.Run()
	assert.Equal(t, 3, counter)

	// Calls queued after the invalidation do not dispatch.
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New(inc.InvalidateAll))
	loop.Post(bind.New((*weakIncrementer).increment, ptr))
	loop.Run()
	assert.Equal(t, 3, counter)
}

func TestWeakMethodCancellation(t *testing.T) {
	loop := newLoop(t)
	counter := 0
	inc := &weakIncrementer{counter: &counter}

	loop.Post(bind.New((*weakIncrementer).increment, inc.WeakPtr(inc)))
	loop.Post(bind.New((*weakIncrementer).increment, inc.WeakPtr(inc)))
	loop.Post(bind.New(inc.InvalidateAll))
	loop.Post(bind.New((*weakIncrementer).increment, inc.WeakPtr(inc)))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.Equal(t, 2, counter)
}

func TestAfter(t *testing.T) {
	c := installClock(t)
	loop := newLoop(t)
	start := c.Now()
	counter := 0
	var delayedA, delayedB, delayedC int

	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New(increment, &counter))
	loop.PostAfter(bind.New(increment, &delayedA), 30*time.Millisecond)
	loop.PostAfter(bind.New(increment, &delayedB), 10*time.Millisecond)
	loop.PostAfter(bind.New(increment, &delayedC), 20*time.Millisecond)
	loop.Run()
	assert.Equal(t, 1, counter)
	assert.Equal(t, 0, delayedA)
	assert.Equal(t, 0, delayedB)
	assert.Equal(t, 0, delayedC)

	c.Set(start.Add(1 * time.Millisecond))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New(increment, &counter))
	loop.Run()
	assert.Equal(t, 2, counter)
	assert.Equal(t, 0, delayedA+delayedB+delayedC)

	c.Set(start.Add(10 * time.Millisecond))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New(increment, &counter))
	loop.Run()
	assert.Equal(t, 3, counter)
	assert.Equal(t, 0, delayedA)
	assert.Equal(t, 1, delayedB)
	assert.Equal(t, 0, delayedC)

	c.Set(start.Add(25 * time.Millisecond))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New(increment, &counter))
	loop.Run()
	assert.Equal(t, 4, counter)
	assert.Equal(t, 0, delayedA)
	assert.Equal(t, 1, delayedB)
	assert.Equal(t, 1, delayedC)

	c.Set(start.Add(100 * time.Millisecond))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Post(bind.New(increment, &counter))
	loop.Run()
	assert.Equal(t, 5, counter)
	assert.Equal(t, 1, delayedA)
	assert.Equal(t, 1, delayedB)
	assert.Equal(t, 1, delayedC)
}

func TestDelayedOrdering(t *testing.T) {
	c := installClock(t)
	loop := newLoop(t)
	var order []string
	push := func(s string) func() {
		return func() { order = append(order, s) }
	}

	loop.PostAfter(bind.New(push("a")), 20*time.Millisecond)
	loop.PostAfter(bind.New(push("b")), 10*time.Millisecond)
	loop.PostAfter(bind.New(push("c")), 10*time.Millisecond)
	loop.PostAfter(bind.New(push("d")), 5*time.Millisecond)
	c.Set(c.Now().Add(30 * time.Millisecond))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.Equal(t, []string{"d", "b", "c", "a"}, order)
}

func TestPostAfterNonPositiveDelay(t *testing.T) {
	installClock(t)
	loop := newLoop(t)
	counter := 0
	loop.PostAfter(bind.New(increment, &counter), 0)
	loop.PostAfter(bind.New(increment, &counter), -time.Second)
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.Equal(t, 2, counter)
}

func TestReadWrite(t *testing.T) {
	c := installClock(t)
	loop := newLoop(t)
	start := c.Now()
	end := start.Add(10 * time.Millisecond)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	pipeRead, pipeWrite := fds[0], fds[1]
	defer unix.Close(pipeRead)
	defer unix.Close(pipeWrite)

	// Not read ready, but write ready.
	loop.PostWhenReadReady(pipeRead, bind.New(func(nval, hup, errbit bool) {
		c.Set(end)
	}))
	loop.PostWhenWriteReady(pipeWrite, bind.New(func(nval, hup, errbit bool) {
		loop.QuitSoon()
	}))
	loop.Run()
	assert.Equal(t, start, c.Now())

	// Make it read ready now.
	n, err := unix.Write(pipeWrite, []byte{0})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	loop.PostAfter(bind.New(loop.QuitSoon), 5*time.Millisecond)
	loop.Run()
	assert.Equal(t, end, c.Now())
}

func TestClosedFd(t *testing.T) {
	c := installClock(t)
	loop := newLoop(t)
	start := c.Now()
	end := start.Add(10 * time.Millisecond)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	pipeRead, pipeWrite := fds[0], fds[1]
	defer unix.Close(pipeRead)

	loop.PostWhenReadReady(pipeRead, bind.New(func(nval, hup, errbit bool) {
		c.Set(end)
	}))
	loop.PostWhenWriteReady(pipeWrite, bind.New(func(nval, hup, errbit bool) {
		loop.QuitSoon()
	}))
	loop.Run()
	assert.Equal(t, start, c.Now())

	// EOF on the read end counts as ready.
	unix.Close(pipeWrite)
	loop.PostAfter(bind.New(loop.QuitSoon), 5*time.Millisecond)
	loop.Run()
	assert.Equal(t, end, c.Now())
}

func TestCurrent(t *testing.T) {
	loop := newLoop(t)
	loop2 := newLoop(t)
	counter := 0
	counter2 := 0

	postIncrementInCurrent := func(c *int) {
		cur := tloop.Current()
		require.NotNil(t, cur)
		cur.Post(bind.New(increment, c))
	}

	loop.Post(bind.New(postIncrementInCurrent, &counter))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.Equal(t, 1, counter)

	loop2.Post(bind.New(postIncrementInCurrent, &counter2))
	loop2.Post(bind.New(loop2.QuitSoon))
	done := make(chan struct{})
	go func() {
		loop2.Run()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, counter2)
}

func TestPauseAndResume(t *testing.T) {
	c := installClock(t)
	loop := newLoop(t)
	start := c.Now()
	counter := 0

	loop.PostAfter(bind.New(increment, &counter), 100*time.Millisecond)
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.Equal(t, 0, counter)

	c.Set(start.Add(200 * time.Millisecond))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.Equal(t, 1, counter)
}

func TestCancelDescriptorWithoutRegistration(t *testing.T) {
	loop := newLoop(t)
	loop.CancelDescriptor(12345)
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
}

func TestCancelDescriptor(t *testing.T) {
	installClock(t)
	loop := newLoop(t)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := false
	loop.PostWhenReadReady(fds[0], bind.New(func(nval, hup, errbit bool) {
		fired = true
	}))
	loop.CancelDescriptor(fds[0])
	_, err := unix.Write(fds[1], []byte{0})
	require.NoError(t, err)
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.False(t, fired)
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	loop := newLoop(t)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := 0
	loop.PostWhenReadReady(fds[0], bind.New(func(nval, hup, errbit bool) {
		fired++
		loop.QuitSoon()
	}))
	// The second registration for the same descriptor is dropped.
	loop.PostWhenReadReady(fds[0], bind.New(func(nval, hup, errbit bool) {
		fired += 100
	}))
	_, err := unix.Write(fds[1], []byte{0})
	require.NoError(t, err)
	loop.Run()
	assert.Equal(t, 1, fired)
}

func TestSelfPostsRunWithoutWait(t *testing.T) {
	loop := newLoop(t)
	counter := 0
	loop.PostFunc(func() {
		loop.PostFunc(func() {
			increment(&counter)
			loop.QuitSoon()
		})
	})
	loop.Run()
	assert.Equal(t, 1, counter)
}

func TestPostingOrder(t *testing.T) {
	loop := newLoop(t)
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		loop.PostFunc(func() { order = append(order, i) })
	}
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestNestedRunRejected(t *testing.T) {
	loop := newLoop(t)
	loop.PostFunc(func() {
		// Reentrant Run must refuse and come straight back.
		loop.Run()
		loop.QuitSoon()
	})
	loop.Run()
	assert.Nil(t, tloop.Current())
}

func TestCloseDropsPendingTasks(t *testing.T) {
	loop, err := tloop.New()
	require.NoError(t, err)
	counter := 0
	loop.Post(bind.New(increment, &counter))
	loop.PostAfter(bind.New(increment, &counter), time.Hour)
	require.NoError(t, loop.Close())
	assert.Equal(t, 0, counter)

	// Posting after Close is dropped, not crashed.
	loop.Post(bind.New(increment, &counter))
	loop.PostFunc(func() { counter++ })
	assert.Equal(t, 0, counter)
	assert.NoError(t, loop.Close())
}

func TestCloseSoon(t *testing.T) {
	loop := newLoop(t)
	closed := false
	loop.CloseSoon(closerFunc(func() error {
		closed = true
		return nil
	}))
	loop.Post(bind.New(loop.QuitSoon))
	loop.Run()
	assert.True(t, closed)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
