// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"sync"

	"github.com/gogpu/framegraph/gpu"
)

// FrameContext collects deferred destructions. Owners of device resources
// that live outside the graph schedule handles here instead of destroying
// them directly; each scheduled handle joins the next frame's retirement
// bundle and is destroyed only after that frame's fence proves the GPU can
// no longer reference it.
//
// FrameContext is safe for concurrent use, since owners may release
// resources from goroutines other than the frame driver.
type FrameContext struct {
	mu      sync.Mutex
	pending []gpu.Handle
}

// NewFrameContext returns an empty context.
func NewFrameContext() *FrameContext {
	return &FrameContext{}
}

// ScheduleRelease queues h for fence-synchronized destruction. Scheduling
// gpu.InvalidHandle is a no-op so owners need not special-case empty
// wrappers.
func (fc *FrameContext) ScheduleRelease(h gpu.Handle) {
	if h == gpu.InvalidHandle {
		return
	}
	fc.mu.Lock()
	fc.pending = append(fc.pending, h)
	fc.mu.Unlock()
}

// PendingCount reports how many handles await the next frame bundle.
func (fc *FrameContext) PendingCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.pending)
}

// drainPending moves out everything scheduled since the last drain.
func (fc *FrameContext) drainPending() []gpu.Handle {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	drained := fc.pending
	fc.pending = nil
	return drained
}

// OwnedHandle couples a device resource to the explicit release
// discipline: the owner calls Release exactly once when done, and the
// handle is destroyed only after the next frame's fence. There are no
// finalizers; forgetting Release leaks the resource until shutdown.
type OwnedHandle struct {
	h gpu.Handle
}

// Own wraps a handle for later release.
func Own(h gpu.Handle) OwnedHandle {
	return OwnedHandle{h: h}
}

// Handle returns the wrapped handle, or gpu.InvalidHandle after Release.
func (o *OwnedHandle) Handle() gpu.Handle { return o.h }

// Valid reports whether the wrapper still holds a live handle.
func (o *OwnedHandle) Valid() bool { return o.h != gpu.InvalidHandle }

// Release schedules the wrapped handle for fence-synchronized destruction
// and clears the wrapper. A second Release is a no-op.
func (o *OwnedHandle) Release(fc *FrameContext) {
	fc.ScheduleRelease(o.h)
	o.h = gpu.InvalidHandle
}
