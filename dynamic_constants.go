// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

const (
	// ConstantChunkSize is the fixed byte size of one constants chunk and
	// therefore of each backing GPU buffer.
	ConstantChunkSize = 64 * 1024

	// ConstantAlignment is the offset alignment of every allocation,
	// matching the common GPU constant-buffer offset requirement.
	ConstantAlignment = 256
)

// ConstantAllocation locates pushed constant data on the GPU: the backing
// buffer and the byte offset the value was written at.
type ConstantAllocation struct {
	Buffer gpu.Handle
	Offset uint32
}

// constantChunk is one bump-allocated slab. The buffer handle is reserved
// when the chunk is first acquired, but the device buffer behind it is
// created lazily at commit time, so pushes never touch the device.
type constantChunk struct {
	buffer gpu.Handle
	backed bool
	cpu    []byte
	cursor uint32
}

// DynamicConstants is a frame-scoped bump allocator for constant-buffer
// data. Values are pushed into fixed-size CPU chunks during pass recording;
// CommitAndReset uploads every written chunk and recycles all chunks to a
// free list, so steady-state frames allocate nothing.
//
// Frame-synchronous, single-goroutine use only: Push happens while passes
// record, CommitAndReset once per frame before submission.
type DynamicConstants struct {
	device gpu.Device
	alloc  gpu.HandleAllocator
	inUse  []*constantChunk
	free   []*constantChunk
}

// NewDynamicConstants returns an empty allocator backing chunks on device
// with persistent buffer handles from alloc. Chunks live across frames and
// are released only by Destroy.
func NewDynamicConstants(device gpu.Device, alloc gpu.HandleAllocator) *DynamicConstants {
	if device == nil {
		panic("framegraph: NewDynamicConstants: nil device")
	}
	if alloc == nil {
		panic("framegraph: NewDynamicConstants: nil allocator")
	}
	return &DynamicConstants{device: device, alloc: alloc}
}

// Push copies value into the current chunk and returns where the GPU will
// see it. The write cursor advances by the value's size rounded up to
// ConstantAlignment; a chunk rolls over exactly when its remaining space is
// smaller than the next value. Values larger than one chunk cannot be
// represented and panic.
func Push[T any](dc *DynamicConstants, value T) ConstantAllocation {
	size := uint32(unsafe.Sizeof(value))
	chunk := dc.chunkFor(size)
	offset := chunk.cursor
	src := structToBytes(unsafe.Pointer(&value), unsafe.Sizeof(value)) //nolint:gosec // safe struct access
	copy(chunk.cpu[offset:], src)
	chunk.cursor += alignUp(size, ConstantAlignment)
	return ConstantAllocation{Buffer: chunk.buffer, Offset: offset}
}

// chunkFor returns the chunk the next size-byte push writes into, rolling
// over to a recycled or fresh chunk when the current one is too full.
func (dc *DynamicConstants) chunkFor(size uint32) *constantChunk {
	if size > ConstantChunkSize {
		panic(fmt.Sprintf("framegraph: constant push of %d bytes exceeds chunk size %d", size, ConstantChunkSize))
	}
	if n := len(dc.inUse); n > 0 {
		c := dc.inUse[n-1]
		if ConstantChunkSize-c.cursor >= size {
			return c
		}
	}
	var c *constantChunk
	if n := len(dc.free); n > 0 {
		c = dc.free[n-1]
		dc.free = dc.free[:n-1]
	} else {
		c = &constantChunk{
			buffer: dc.alloc.Persistent(gpu.KindBuffer),
			cpu:    make([]byte, ConstantChunkSize),
		}
		Logger().Debug("framegraph: constants chunk allocated", "buffer", c.buffer.String())
	}
	dc.inUse = append(dc.inUse, c)
	return c
}

// CommitAndReset uploads every chunk written this frame and returns all
// chunks to the free list. Backing GPU buffers are created here on first
// commit of each chunk. Uploads are ordered before the commands already
// recorded in cmd. The chunk list is recycled even when a device call
// fails, so the allocator stays destroyable after a broken frame; the
// first failure is returned.
func (dc *DynamicConstants) CommitAndReset(cmd gpu.Handle) error {
	var firstErr error
	for _, c := range dc.inUse {
		if firstErr == nil && !c.backed {
			desc := gpu.BufferDesc{
				Size:  ConstantChunkSize,
				Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
			}
			if err := dc.device.CreateBuffer(c.buffer, &desc, nil, "dynamic-constants"); err != nil {
				firstErr = fmt.Errorf("framegraph: back constants chunk: %w", err)
			} else {
				c.backed = true
			}
		}
		if firstErr == nil && c.cursor > 0 {
			if err := dc.device.WriteBuffer(cmd, c.buffer, 0, c.cpu[:c.cursor]); err != nil {
				firstErr = fmt.Errorf("framegraph: upload constants chunk: %w", err)
			}
		}
		c.cursor = 0
	}
	dc.free = append(dc.free, dc.inUse...)
	dc.inUse = dc.inUse[:0]
	return firstErr
}

// Destroy releases every backing GPU buffer. Calling it while chunks are
// still in use this frame is a fatal usage error: CommitAndReset must
// always run first. Individual destroy failures are logged and skipped.
func (dc *DynamicConstants) Destroy() {
	if len(dc.inUse) != 0 {
		panic("framegraph: DynamicConstants.Destroy before CommitAndReset")
	}
	for _, c := range dc.free {
		if !c.backed {
			continue
		}
		if err := dc.device.DestroyResource(c.buffer); err != nil {
			Logger().Warn("framegraph: constants chunk destroy failed",
				"buffer", c.buffer.String(), "error", err)
		}
		c.backed = false
	}
	dc.free = nil
}

// ChunksInUse reports how many chunks the current frame has written.
func (dc *DynamicConstants) ChunksInUse() int { return len(dc.inUse) }

// FreeChunks reports how many recycled chunks are waiting for reuse.
func (dc *DynamicConstants) FreeChunks() int { return len(dc.free) }

func structToBytes(ptr unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), size) //nolint:gosec // safe struct serialization
}

// alignUp rounds n up to the next multiple of align, a power of two.
func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
