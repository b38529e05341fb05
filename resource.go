// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "github.com/gogpu/framegraph/gpu"

// TextureHandle is a logical texture within one graph. It is minted by
// PassBuilder.CreateTexture and mutated in place by every subsequent
// WriteTexture, so the binding always refers to the latest
// write-generation. The Desc snapshot is what execution will materialize.
type TextureHandle struct {
	raw  rawHandle
	Desc gpu.TextureDesc
}

// BufferHandle is a logical buffer within one graph. See TextureHandle for
// the versioning discipline.
type BufferHandle struct {
	raw  rawHandle
	Desc gpu.BufferDesc
}

// References are capabilities to resolve a logical resource to its physical
// handle at render time. They carry a desc snapshot so pass callbacks don't
// need to keep the live handles around, and they come in two access modes
// as two distinct types: a callback that takes a read reference cannot be
// handed a write reference by mistake.

// TextureReadRef grants read access to one version of a logical texture.
type TextureReadRef struct {
	raw  rawHandle
	Desc gpu.TextureDesc
}

// TextureWriteRef grants write access to one version of a logical texture.
type TextureWriteRef struct {
	raw  rawHandle
	Desc gpu.TextureDesc
}

// BufferReadRef grants read access to one version of a logical buffer.
type BufferReadRef struct {
	raw  rawHandle
	Desc gpu.BufferDesc
}

// BufferWriteRef grants write access to one version of a logical buffer.
type BufferWriteRef struct {
	raw  rawHandle
	Desc gpu.BufferDesc
}

// TextureRef is satisfied by texture references of either access mode.
// Registry resolution accepts any TextureRef; the access mode only matters
// at record time.
type TextureRef interface {
	textureRaw() rawHandle
}

// BufferRef is satisfied by buffer references of either access mode.
type BufferRef interface {
	bufferRaw() rawHandle
}

// SrvSource is satisfied by read references of either resource kind. Named
// shader-view binding uses it for the read-only (SRV) slots, so write
// references cannot end up in a read slot.
type SrvSource interface {
	srvRaw() rawHandle
}

// UavSource is satisfied by write references of either resource kind, for
// the read-write (UAV) slots.
type UavSource interface {
	uavRaw() rawHandle
}

func (r TextureReadRef) textureRaw() rawHandle { return r.raw }
func (r TextureReadRef) srvRaw() rawHandle     { return r.raw }

func (r TextureWriteRef) textureRaw() rawHandle { return r.raw }
func (r TextureWriteRef) uavRaw() rawHandle     { return r.raw }

func (r BufferReadRef) bufferRaw() rawHandle { return r.raw }
func (r BufferReadRef) srvRaw() rawHandle    { return r.raw }

func (r BufferWriteRef) bufferRaw() rawHandle { return r.raw }
func (r BufferWriteRef) uavRaw() rawHandle    { return r.raw }

// resourceInfo is one row of a graph's resource table.
type resourceInfo struct {
	kind    gpu.ResourceKind
	texture gpu.TextureDesc // valid when kind == KindTexture
	buffer  gpu.BufferDesc  // valid when kind == KindBuffer

	// createPass is the index of the pass that created the resource; it is
	// also the resource's firstAccess.
	createPass int

	// version is the latest write-generation recorded for the slot.
	version uint32

	// name is the debug label physical creation will use, derived from the
	// creating pass.
	name string
}
