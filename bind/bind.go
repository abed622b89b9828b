// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package bind packages a callable together with a prefix of its
// arguments into a Call, a cheap-to-copy value that can be invoked
// later with the remaining arguments. Calls are how work travels into
// an event loop.
//
// Methods ride along as method values (fn bound to its receiver) or as
// method expressions with the receiver as the first bound argument.
// When that first bound argument is a weak pointer, invocation checks
// it first: an invalidated pointer turns the call into a silent no-op.
package bind

import (
	"reflect"

	"trpc.group/trpc-go/tloop/internal/locker"
	"trpc.group/trpc-go/tloop/metrics"
	"trpc.group/trpc-go/tloop/weak"
)

// Call is a deferred call. Copies share one refcounted record; pass
// copies across goroutines freely and Release each one when done. The
// zero Call is empty.
type Call struct {
	s *storage
}

// storage is the record shared by all copies of a Call. The spinlock
// guards only the reference count; invocation reads fn and the bound
// arguments without locking, so concurrent invocation of copies is as
// safe as the callable itself.
type storage struct {
	lock  locker.Locker
	refs  int
	fn    reflect.Value
	recv  weak.Dereferencer
	bound []reflect.Value
}

// New binds fn to the given arguments and returns the Call. Invoking
// the result with trailing arguments computes fn(bound..., trailing...).
// Bound arguments are stored by value.
//
// When the first bound argument is a weak pointer and fn takes the
// target type (a method expression such as (*T).handle), the call
// dispatches only while the pointer is valid. Such fn must not return
// values; there would be nobody to receive them once the target dies.
//
// New panics if fn is not a function, or on a weak receiver shape
// violation. These are programming errors, caught at bind time rather
// than at some later dispatch.
func New(fn interface{}, boundArgs ...interface{}) Call {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic("bind: fn is not a function")
	}
	t := v.Type()
	s := &storage{refs: 1, fn: v}

	rest := boundArgs
	if len(boundArgs) > 0 && boundArgs[0] != nil {
		if d, ok := boundArgs[0].(weak.Dereferencer); ok && !plainFirstArg(t, boundArgs[0]) {
			if t.NumOut() != 0 {
				panic("bind: a weak receiver method must not return values")
			}
			s.recv = d
			rest = boundArgs[1:]
		}
	}

	offset := 0
	if s.recv != nil {
		offset = 1
	}
	s.bound = make([]reflect.Value, len(rest))
	for i, a := range rest {
		s.bound[i] = argValue(t, i+offset, a)
	}
	return Call{s: s}
}

// plainFirstArg reports whether the first bound argument is consumed
// by fn as-is, which disables the weak receiver treatment even when
// the argument happens to be a weak pointer.
func plainFirstArg(t reflect.Type, arg interface{}) bool {
	return t.NumIn() > 0 && reflect.TypeOf(arg).AssignableTo(t.In(0))
}

func argValue(t reflect.Type, i int, a interface{}) reflect.Value {
	if a == nil {
		if i < t.NumIn() {
			return reflect.Zero(t.In(i))
		}
		panic("bind: untyped nil bound to a variadic or missing parameter")
	}
	return reflect.ValueOf(a)
}

// Invoke runs the call with the given trailing arguments and returns
// the callable's results, or nil when there are none. A weak-receiver
// call whose pointer has been invalidated returns nil without running.
//
// Invoke does not mutate the shared record, so distinct copies may be
// invoked concurrently when the callable allows it.
func (c Call) Invoke(args ...interface{}) []interface{} {
	s := c.s
	if s == nil {
		panic("bind: invoke of an empty or released Call")
	}
	t := s.fn.Type()

	in := make([]reflect.Value, 0, 1+len(s.bound)+len(args))
	if s.recv != nil {
		target, ok := s.recv.Deref()
		if !ok {
			metrics.Add(metrics.WeakCallsDropped, 1)
			return nil
		}
		in = append(in, reflect.ValueOf(target))
	}
	in = append(in, s.bound...)
	for _, a := range args {
		in = append(in, argValue(t, len(in), a))
	}

	out := s.fn.Call(in)
	if len(out) == 0 {
		return nil
	}
	results := make([]interface{}, len(out))
	for i, o := range out {
		results[i] = o.Interface()
	}
	return results
}

// Clone returns a new copy sharing the record. Each copy must be
// released independently.
func (c Call) Clone() Call {
	if c.s == nil {
		return c
	}
	c.s.lock.Lock()
	c.s.refs++
	c.s.lock.Unlock()
	return c
}

// Release drops this copy's reference and empties the Call. The last
// release clears the record. Releasing an empty Call is a no-op.
func (c *Call) Release() {
	s := c.s
	c.s = nil
	if s == nil {
		return
	}
	s.lock.Lock()
	s.refs--
	last := s.refs == 0
	s.lock.Unlock()
	if last {
		s.fn = reflect.Value{}
		s.recv = nil
		s.bound = nil
	}
}

// IsZero returns whether the Call is empty.
func (c Call) IsZero() bool {
	return c.s == nil
}
