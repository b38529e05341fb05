// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "fmt"

// ResourceKind identifies the category of device object a Handle denotes.
// The kind is baked into the handle so that category mismatches (binding a
// buffer where a texture is expected) are detectable without a device
// round-trip.
type ResourceKind uint8

const (
	KindInvalid ResourceKind = iota
	KindTexture
	KindBuffer
	KindShader
	KindComputePipeline
	KindRasterPipeline
	KindShaderViews
	KindRenderPass
	KindFrameBindingSet
	KindFence
	KindCommandList
)

// String returns a short lowercase name for the kind, used in debug labels
// and log output.
func (k ResourceKind) String() string {
	switch k {
	case KindTexture:
		return "texture"
	case KindBuffer:
		return "buffer"
	case KindShader:
		return "shader"
	case KindComputePipeline:
		return "compute-pipeline"
	case KindRasterPipeline:
		return "raster-pipeline"
	case KindShaderViews:
		return "shader-views"
	case KindRenderPass:
		return "render-pass"
	case KindFrameBindingSet:
		return "frame-binding-set"
	case KindFence:
		return "fence"
	case KindCommandList:
		return "command-list"
	default:
		return "invalid"
	}
}

// Handle is an opaque identifier for one device-created object.
//
// Layout (low to high bits): 32-bit allocation index, 8-bit ResourceKind,
// 1-bit persistent flag. The zero Handle is invalid; a valid handle always
// carries a non-zero kind, so index 0 remains usable.
//
// Handles are pure identity. They never own the object they name; creation
// and destruction go through a Device, and allocation goes through a
// HandleAllocator.
type Handle uint64

// InvalidHandle is the zero Handle. No allocator ever returns it.
const InvalidHandle Handle = 0

const (
	handleKindShift       = 32
	handlePersistentShift = 40
)

// makeHandle packs an index, kind and lifetime into a Handle.
func makeHandle(kind ResourceKind, index uint32, persistent bool) Handle {
	h := Handle(index) | Handle(kind)<<handleKindShift
	if persistent {
		h |= 1 << handlePersistentShift
	}
	return h
}

// Index returns the allocation index.
func (h Handle) Index() uint32 { return uint32(h) }

// Kind returns the resource category baked into the handle.
func (h Handle) Kind() ResourceKind { return ResourceKind(h >> handleKindShift) }

// Persistent reports whether the handle was allocated with persistent
// lifetime (survives frames, destroyed at shutdown) rather than transient
// lifetime (retired with its frame).
func (h Handle) Persistent() bool { return h>>handlePersistentShift&1 != 0 }

// Valid reports whether the handle names anything at all.
func (h Handle) Valid() bool { return h != InvalidHandle }

// String renders the handle as "kind#index" (with a "+" suffix for
// persistent handles), e.g. "texture#17" or "compute-pipeline#3+".
func (h Handle) String() string {
	if !h.Valid() {
		return "invalid-handle"
	}
	if h.Persistent() {
		return fmt.Sprintf("%s#%d+", h.Kind(), h.Index())
	}
	return fmt.Sprintf("%s#%d", h.Kind(), h.Index())
}
