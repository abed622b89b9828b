// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package weak

// Dereferencer is the untyped view of a weak pointer. The deferred
// call binder uses it to recognize a weak receiver without knowing the
// target type.
type Dereferencer interface {
	// Deref returns the target and true when the pointer's flag is
	// valid, or nil and false otherwise.
	Deref() (interface{}, bool)
}

// Ptr is a pointer that nils itself once its flag is invalidated. It
// has the same goroutine discipline as Flag: clone and release
// anywhere, dereference on the flag's home goroutine.
type Ptr[T any] struct {
	flag Flag
	ptr  *T
}

// Get returns the target, or nil when the flag has been invalidated.
func (p Ptr[T]) Get() *T {
	if p.flag.IsValid() {
		return p.ptr
	}
	return nil
}

// Deref implements Dereferencer.
func (p Ptr[T]) Deref() (interface{}, bool) {
	t := p.Get()
	if t == nil {
		return nil, false
	}
	return t, true
}

// Clone returns a new handle onto the same flag and target. The clone
// must be released by its holder.
func (p Ptr[T]) Clone() Ptr[T] {
	return Ptr[T]{flag: p.flag.Clone(), ptr: p.ptr}
}

// WeakFlag returns a new handle onto the pointer's flag. The caller
// owns the returned handle.
func (p Ptr[T]) WeakFlag() Flag {
	return p.flag.Clone()
}

// Reset invalidates this pointer alone; other pointers sharing the
// flag are unaffected.
func (p *Ptr[T]) Reset() {
	p.flag.Reset()
	p.ptr = nil
}

// Release drops the pointer's flag handle and empties the pointer.
func (p *Ptr[T]) Release() {
	p.flag.Release()
	p.ptr = nil
}
