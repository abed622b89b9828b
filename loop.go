// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tloop

import (
	"container/heap"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tloop/bind"
	"trpc.group/trpc-go/tloop/clock"
	"trpc.group/trpc-go/tloop/internal/safejob"
	"trpc.group/trpc-go/tloop/log"
	"trpc.group/trpc-go/tloop/metrics"
)

// EventLoop dispatches immediate, delayed and fd-readiness tasks on a
// single goroutine. Posting is safe from any goroutine; tasks only
// ever execute on the goroutine running Run.
type EventLoop struct {
	// mu guards the three pending queues and seq. It is held only to
	// enqueue, swap queues out, or decide whether to ping; never
	// across task execution or the poll wait.
	mu             sync.Mutex
	pending        []*task
	pendingDelayed delayedHeap
	pendingPoll    []*pollTask
	seq            uint64

	pipeRead  int
	pipeWrite int

	quitSoon atomic.Bool
	running  atomic.Bool

	postJob  safejob.ConcurrentJob
	closeJob safejob.OnceJob
}

// New creates an event loop. The loop owns a self-pipe whose read end
// joins every poll wait; writing one byte to the write end is the
// cross-goroutine wake signal.
func New() (*EventLoop, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		err = os.NewSyscallError("pipe", err)
		log.Errorf("tloop: create loop: %v", err)
		return nil, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		err = os.NewSyscallError("fcntl", err)
		log.Errorf("tloop: create loop: %v", err)
		return nil, err
	}
	metrics.Add(metrics.LoopsCreated, 1)
	return &EventLoop{pipeRead: fds[0], pipeWrite: fds[1]}, nil
}

// Post enqueues c to run on the loop goroutine. Safe to call from any
// goroutine. The loop takes over the caller's reference to c.
func (l *EventLoop) Post(c bind.Call) {
	if !l.postJob.Begin() {
		log.Errorf("tloop: Post on a closed loop")
		c.Release()
		return
	}
	defer l.postJob.End()
	l.mu.Lock()
	ping := len(l.pending) == 0
	l.pending = append(l.pending, &task{call: c})
	l.mu.Unlock()
	metrics.Add(metrics.TasksPosted, 1)
	if ping {
		l.ping()
	}
}

// PostFunc is shorthand for Post(bind.New(f)).
func (l *EventLoop) PostFunc(f func()) {
	l.Post(bind.New(f))
}

// PostAfter enqueues c to run once delay has elapsed. A non-positive
// delay means due now. Safe to call from any goroutine.
func (l *EventLoop) PostAfter(c bind.Call, delay time.Duration) {
	if !l.postJob.Begin() {
		log.Errorf("tloop: PostAfter on a closed loop")
		c.Release()
		return
	}
	defer l.postJob.End()
	if delay < 0 {
		delay = 0
	}
	due := clock.Now().Add(delay)
	l.mu.Lock()
	ping := len(l.pendingDelayed) == 0 || l.pendingDelayed[0].due.After(due)
	l.seq++
	heap.Push(&l.pendingDelayed, &delayedTask{call: c, due: due, seq: l.seq})
	l.mu.Unlock()
	metrics.Add(metrics.DelayedPosted, 1)
	if ping {
		l.ping()
	}
}

// PostWhenReadReady enqueues c to run once fd is readable (or has hung
// up, errored, or become invalid). The callback is invoked exactly
// once with (invalid, hangup, error) and the registration is consumed.
// At most one poll task may wait on an fd; a second registration for a
// live fd is dropped with an error log.
func (l *EventLoop) PostWhenReadReady(fd int, c bind.Call) {
	l.postPoll(fd, unix.POLLIN, c)
}

// PostWhenWriteReady is PostWhenReadReady for writability.
func (l *EventLoop) PostWhenWriteReady(fd int, c bind.Call) {
	l.postPoll(fd, unix.POLLOUT, c)
}

// CancelDescriptor removes the poll task waiting on fd, if any. It may
// race with dispatch: a callback whose readiness was already decoded
// can still run after CancelDescriptor returns. Callers closing fd
// from another goroutine should protect the callback with a weak
// pointer invalidated on the loop goroutine.
func (l *EventLoop) CancelDescriptor(fd int) {
	l.postPoll(fd, 0, bind.Call{})
}

func (l *EventLoop) postPoll(fd int, events int16, c bind.Call) {
	if !l.postJob.Begin() {
		log.Errorf("tloop: poll registration on a closed loop")
		c.Release()
		return
	}
	defer l.postJob.End()
	l.mu.Lock()
	l.pendingPoll = append(l.pendingPoll, &pollTask{call: c, fd: fd, events: events})
	l.mu.Unlock()
	if events != 0 {
		metrics.Add(metrics.PollPosted, 1)
	}
	l.ping()
}

// CloseSoon arranges for c.Close to run on the loop goroutine. Use it
// to tear objects down on the goroutine that owns them.
func (l *EventLoop) CloseSoon(c io.Closer) {
	l.Post(bind.New(func() {
		if err := c.Close(); err != nil {
			log.Debugf("tloop: CloseSoon: %v", err)
		}
	}))
}

// QuitSoon asks a running loop to return from Run after draining the
// work that is already immediately ready. Delayed and poll tasks stay
// queued for a later Run. Safe to call from any goroutine.
func (l *EventLoop) QuitSoon() {
	l.quitSoon.Store(true)
	if l.postJob.Begin() {
		l.ping()
		l.postJob.End()
	}
}

// Run dispatches tasks on the calling goroutine until QuitSoon. The
// goroutine must not already be running a loop. Run may be called
// again after it returns; delayed and poll tasks posted earlier are
// still honored.
func (l *EventLoop) Run() {
	if !l.running.CAS(false, true) {
		log.Errorf("tloop: Run called on a loop that is already running")
		return
	}
	defer l.running.Store(false)
	if Current() != nil {
		log.Errorf("tloop: Run called on a goroutine that already runs a loop")
		return
	}
	setCurrent(l)
	defer setCurrent(nil)

	var (
		pending     []*task
		pendingPoll []*pollTask
		buf         [1024]byte
	)
	// Slot 0 of the wait array is pinned to the self-pipe; one slot per
	// registered descriptor follows. fdToPoll mirrors those slots.
	pollArray := []unix.PollFd{{Fd: int32(l.pipeRead), Events: unix.POLLIN}}
	fdToPoll := make(map[int]*pollTask)

	for {
		nextTimeout := -1

		// Drain: run everything immediately available, repeating until
		// an iteration produces no work.
		for {
			l.drainPipe(buf[:])
			// Work enqueued from here on re-arms the pipe and makes the
			// poll below return promptly.

			now := clock.Now()
			l.mu.Lock()
			pending, l.pending = l.pending, pending[:0]
			pendingPoll, l.pendingPoll = l.pendingPoll, pendingPoll[:0]
			for len(l.pendingDelayed) > 0 && !l.pendingDelayed[0].due.After(now) {
				dt := heap.Pop(&l.pendingDelayed).(*delayedTask)
				pending = append(pending, &task{call: dt.call})
				metrics.Add(metrics.DelayedPromoted, 1)
			}
			nextTimeout = -1
			if len(l.pendingDelayed) > 0 {
				d := l.pendingDelayed[0].due.Sub(now)
				nextTimeout = int((d + time.Millisecond - 1) / time.Millisecond)
			}
			l.mu.Unlock()

			for _, pt := range pendingPoll {
				if pt.events == 0 {
					l.cancelPoll(pt.fd, &pollArray, fdToPoll)
					continue
				}
				if _, dup := fdToPoll[pt.fd]; dup {
					log.Errorf("tloop: descriptor %d already has a poll task, dropping new registration", pt.fd)
					pt.call.Release()
					continue
				}
				fdToPoll[pt.fd] = pt
				pollArray = append(pollArray, unix.PollFd{Fd: int32(pt.fd), Events: pt.events})
			}

			if len(pending) == 0 {
				break
			}
			log.Debugf("tloop: dispatching %d tasks", len(pending))
			for _, t := range pending {
				t.call.Invoke()
				t.call.Release()
				metrics.Add(metrics.TasksExecuted, 1)
			}
		}

		if l.quitSoon.Load() {
			break
		}

		log.Debugf("tloop: polling %d descriptors for %dms", len(pollArray), nextTimeout)
		if _, err := unix.Poll(pollArray, nextTimeout); err != nil &&
			err != unix.EINTR && err != unix.EAGAIN {
			log.Fatalf("tloop: %v", os.NewSyscallError("poll", err))
			return
		}
		metrics.Add(metrics.PollWaits, 1)

		// Dispatch: fire every slot past the self-pipe whose revents
		// intersect its interest or an error condition, compacting the
		// array by swap-and-pop.
		for i := 1; i < len(pollArray); {
			pfd := pollArray[i]
			if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL|pfd.Events) == 0 {
				i++
				continue
			}
			last := len(pollArray) - 1
			pollArray[i] = pollArray[last]
			pollArray = pollArray[:last]
			pt := fdToPoll[int(pfd.Fd)]
			delete(fdToPoll, int(pfd.Fd))
			if pt == nil {
				log.Errorf("tloop: descriptor %d fired without a poll task", pfd.Fd)
				continue
			}
			pt.call.Invoke(
				pfd.Revents&unix.POLLNVAL != 0,
				pfd.Revents&unix.POLLHUP != 0,
				pfd.Revents&unix.POLLERR != 0,
			)
			pt.call.Release()
			metrics.Add(metrics.PollCallbacks, 1)
		}
	}

	// Keep live registrations for a later Run.
	if len(fdToPoll) > 0 {
		log.Warnf("tloop: loop paused with %d poll tasks, keeping them for the next Run", len(fdToPoll))
		l.mu.Lock()
		for _, pt := range fdToPoll {
			l.pendingPoll = append(l.pendingPoll, pt)
		}
		l.mu.Unlock()
	}
	l.quitSoon.Store(false)
}

func (l *EventLoop) cancelPoll(fd int, pollArray *[]unix.PollFd, fdToPoll map[int]*pollTask) {
	arr := *pollArray
	for i := 1; i < len(arr); i++ {
		if int(arr[i].Fd) == fd {
			arr[i] = arr[len(arr)-1]
			*pollArray = arr[:len(arr)-1]
			break
		}
	}
	if old, ok := fdToPoll[fd]; ok {
		old.call.Release()
		delete(fdToPoll, fd)
		metrics.Add(metrics.PollCancelled, 1)
	}
}

// drainPipe empties the self-pipe. Byte values are meaningless; only
// the readable edge matters.
func (l *EventLoop) drainPipe(buf []byte) {
	for {
		n, err := unix.Read(l.pipeRead, buf)
		if n > 0 {
			continue
		}
		if n == 0 {
			log.Fatalf("tloop: wake pipe closed while the loop is running")
			return
		}
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			return
		default:
			log.Fatalf("tloop: %v", os.NewSyscallError("read", err))
			return
		}
	}
}

// ping wakes the loop by writing one byte to the self-pipe. The write
// end is blocking: a full pipe buffer means the loop has fallen far
// behind, and stalling the poster is the least bad option.
func (l *EventLoop) ping() {
	var b [1]byte
	for {
		n, err := unix.Write(l.pipeWrite, b[:])
		if n == 1 {
			metrics.Add(metrics.PipePings, 1)
			return
		}
		if err != unix.EINTR {
			log.Fatalf("tloop: %v", os.NewSyscallError("write", err))
			return
		}
	}
}

// Close releases the loop's descriptors and every task still queued,
// without running them. Pending immediate or poll tasks at close are
// reported as errors; delayed tasks had no schedule guarantee and go
// silently. Close must not race with Run; posts that race with Close
// are dropped.
func (l *EventLoop) Close() error {
	if !l.closeJob.Begin() {
		return nil
	}
	if l.running.Load() {
		log.Errorf("tloop: Close called while Run is active")
	}
	// Waits out posts already past their guard, then blocks new ones.
	l.postJob.Close()

	unix.Close(l.pipeRead)
	unix.Close(l.pipeWrite)

	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	pendingPoll := l.pendingPoll
	l.pendingPoll = nil
	delayed := l.pendingDelayed
	l.pendingDelayed = nil
	l.mu.Unlock()

	if len(pending) > 0 {
		log.Errorf("tloop: closing loop with %d pending tasks", len(pending))
	}
	for _, t := range pending {
		t.call.Release()
	}
	if len(pendingPoll) > 0 {
		log.Errorf("tloop: closing loop with %d pending poll tasks", len(pendingPoll))
	}
	for _, pt := range pendingPoll {
		pt.call.Release()
	}
	for _, dt := range delayed {
		dt.call.Release()
	}
	metrics.Add(metrics.LoopsClosed, 1)
	return nil
}
