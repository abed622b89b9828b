// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package weak

// Owner is embedded into a type to let it hand out weak pointers to
// itself:
//
//	type fetcher struct {
//		weak.Owner[fetcher]
//	}
//
//	func (f *fetcher) start(loop *tloop.EventLoop) {
//		loop.Post(bind.New((*fetcher).onDone, f.WeakPtr(f)))
//	}
//
// If the task dispatches after the owner called InvalidateAll, the
// method is not invoked. Owners without a destructor hook must call
// InvalidateAll themselves before the object is abandoned, typically
// from their Close.
//
// The flag is allocated lazily on the first WeakPtr call. After
// InvalidateAll, the next WeakPtr allocates a fresh valid flag, so an
// object can be re-armed for another round of asynchronous work.
type Owner[T any] struct {
	flag *Flag
}

// WeakPtr returns a weak pointer to target, which must be the value
// this Owner is embedded in.
func (o *Owner[T]) WeakPtr(target *T) Ptr[T] {
	if o.flag == nil {
		f := NewFlag()
		o.flag = &f
	}
	return Ptr[T]{flag: o.flag.Clone(), ptr: target}
}

// InvalidateAll invalidates every weak pointer handed out so far.
func (o *Owner[T]) InvalidateAll() {
	if o.flag == nil {
		return
	}
	o.flag.InvalidateAll()
	o.flag.Release()
	o.flag = nil
}

// HasWeakPtrs returns whether any valid weak pointer to the owner is
// still held.
func (o *Owner[T]) HasWeakPtrs() bool {
	return o.flag != nil && o.flag.IsSharing()
}

// Factory mints weak pointers to a target it does not own. Unlike
// Owner it is not tied to the target's lifetime: pointers stay valid
// until the factory is invalidated, and several factories with
// independent scopes may exist for one target.
type Factory[T any] struct {
	target *T
	flag   *Flag
}

// NewFactory creates a factory minting weak pointers to target.
func NewFactory[T any](target *T) *Factory[T] {
	return &Factory[T]{target: target}
}

// WeakPtr returns a weak pointer to the factory's target.
func (f *Factory[T]) WeakPtr() Ptr[T] {
	if f.flag == nil {
		fl := NewFlag()
		f.flag = &fl
	}
	return Ptr[T]{flag: f.flag.Clone(), ptr: f.target}
}

// InvalidateAll invalidates every weak pointer handed out so far.
// Pointers minted afterwards are valid again.
func (f *Factory[T]) InvalidateAll() {
	if f.flag == nil {
		return
	}
	f.flag.InvalidateAll()
	f.flag.Release()
	f.flag = nil
}

// HasWeakPtrs returns whether any valid weak pointer from this factory
// is still held.
func (f *Factory[T]) HasWeakPtrs() bool {
	return f.flag != nil && f.flag.IsSharing()
}
