// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "sync"

// HandleAllocator mints handles for device objects. Implementations must be
// safe for concurrent use: handles are allocated from pass callbacks, the
// pipeline cache and the frame driver, potentially across frames.
//
// Transient handles belong to the frame that allocated them and are
// destroyed once that frame's fence signals. Persistent handles survive
// frames (pipelines, shaders, long-lived buffers) and are destroyed by
// their owners at shutdown.
type HandleAllocator interface {
	Transient(kind ResourceKind) Handle
	Persistent(kind ResourceKind) Handle
}

// SequentialAllocator is the standard process-wide allocator: a single
// monotonic index shared by both lifetimes, so a handle's index is unique
// across the process regardless of how it was allocated.
type SequentialAllocator struct {
	mu   sync.Mutex
	next uint32
}

// NewSequentialAllocator returns an allocator starting at index 0.
func NewSequentialAllocator() *SequentialAllocator {
	return &SequentialAllocator{}
}

// Transient mints a transient handle of the given kind.
func (a *SequentialAllocator) Transient(kind ResourceKind) Handle {
	return a.allocate(kind, false)
}

// Persistent mints a persistent handle of the given kind.
func (a *SequentialAllocator) Persistent(kind ResourceKind) Handle {
	return a.allocate(kind, true)
}

func (a *SequentialAllocator) allocate(kind ResourceKind, persistent bool) Handle {
	if kind == KindInvalid {
		panic("gpu: allocate handle of invalid kind")
	}
	a.mu.Lock()
	index := a.next
	a.next++
	a.mu.Unlock()
	return makeHandle(kind, index, persistent)
}

// AllocatedHandles is the record drained from a TrackingAllocator: every
// handle minted since the previous drain, split by lifetime.
type AllocatedHandles struct {
	Transient  []Handle
	Persistent []Handle
}

// TrackingAllocator wraps another allocator and records every handle it
// hands out. The frame driver drains the record once per frame to learn
// which transient handles to retire with that frame's fence, and once at
// shutdown to audit persistent handles that owners never destroyed.
type TrackingAllocator struct {
	mu    sync.Mutex
	inner HandleAllocator

	transient  []Handle
	persistent []Handle
}

// NewTrackingAllocator wraps inner with allocation tracking.
func NewTrackingAllocator(inner HandleAllocator) *TrackingAllocator {
	if inner == nil {
		panic("gpu: NewTrackingAllocator with nil inner allocator")
	}
	return &TrackingAllocator{inner: inner}
}

// Transient mints and records a transient handle.
func (a *TrackingAllocator) Transient(kind ResourceKind) Handle {
	h := a.inner.Transient(kind)
	a.mu.Lock()
	a.transient = append(a.transient, h)
	a.mu.Unlock()
	return h
}

// Persistent mints and records a persistent handle.
func (a *TrackingAllocator) Persistent(kind ResourceKind) Handle {
	h := a.inner.Persistent(kind)
	a.mu.Lock()
	a.persistent = append(a.persistent, h)
	a.mu.Unlock()
	return h
}

// Drain returns everything allocated since the last Drain and resets the
// record. Each handle appears in exactly one Drain result.
func (a *TrackingAllocator) Drain() AllocatedHandles {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := AllocatedHandles{
		Transient:  a.transient,
		Persistent: a.persistent,
	}
	a.transient = nil
	a.persistent = nil
	return out
}
