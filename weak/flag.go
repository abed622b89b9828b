// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package weak provides invalidation flags and weak pointers that let
// deferred work be dropped once its target is gone. A Flag is a handle
// onto a shared boolean that can be invalidated; invalidation is
// broadcast to every handle sharing the record and is permanent for
// that record. Ptr pairs a flag with a target pointer, and the Owner
// and Factory types mint such pointers for a target.
//
// Handles may be cloned and released from any goroutine. Testing or
// invalidating a flag must happen on its home goroutine: the one that
// first performed such an operation on the record. Violations are
// logged as errors.
package weak

import (
	"sync"

	"trpc.group/trpc-go/tloop/internal/affinity"
	"trpc.group/trpc-go/tloop/log"
)

// shared is the record behind one or more Flag handles. Clones of a
// flag bump refCount and drop it when released; valid never returns to
// true once cleared. All fields are guarded by mu.
type shared struct {
	mu       sync.Mutex
	checker  affinity.Checker
	refCount int
	valid    bool
}

// checkHome must be called with mu held.
func (s *shared) checkHome() {
	if !s.checker.Check() {
		log.Errorf("weak: flag used off its home goroutine")
	}
}

// Flag is a handle onto a shared invalidation record. The zero Flag
// has no record: it reports invalid, and cloning it yields another
// empty handle.
type Flag struct {
	s *shared
}

// NewFlag creates a valid flag with a fresh record.
func NewFlag() Flag {
	return Flag{s: &shared{refCount: 1, valid: true}}
}

// Clone returns a new handle onto the same record. The clone must be
// released by its holder. Safe to call from any goroutine.
func (f Flag) Clone() Flag {
	if f.s == nil {
		return Flag{}
	}
	f.s.mu.Lock()
	f.s.refCount++
	f.s.mu.Unlock()
	return f
}

// Release drops this handle's reference and empties the handle. Safe
// to call from any goroutine; releasing an empty handle is a no-op.
func (f *Flag) Release() {
	f.unref(nil)
}

// IsValid returns whether the shared record is still valid. Must be
// called on the record's home goroutine.
func (f Flag) IsValid() bool {
	if f.s == nil {
		return false
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.checkHome()
	return f.s.valid
}

// IsSharing returns whether at least one other handle shares a still
// valid record with this one. Must be called on the record's home
// goroutine.
func (f Flag) IsSharing() bool {
	if f.s == nil {
		return false
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.checkHome()
	return f.s.valid && f.s.refCount > 1
}

// InvalidateAll invalidates every handle sharing this record. The
// record never becomes valid again. Must be called on the record's
// home goroutine.
func (f Flag) InvalidateAll() {
	if f.s == nil {
		return
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.checkHome()
	f.s.valid = false
}

// Reset detaches this handle from its record and attaches it to a
// fresh, already invalid record. Handles that shared the old record
// are unaffected.
func (f *Flag) Reset() {
	f.unref(&shared{refCount: 1})
}

func (f *Flag) unref(next *shared) {
	s := f.s
	f.s = next
	if s == nil {
		return
	}
	s.mu.Lock()
	s.refCount--
	s.mu.Unlock()
	// The last reference leaves the record to the garbage collector.
}
