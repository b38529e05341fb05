// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"

	"github.com/gogpu/framegraph/gpu"
)

// Registry maps the executing graph's logical resources to the physical
// handles allocated for them, and carries the collaborators a pass callback
// uses while recording: the device, the frame's handle allocator, the
// pipeline cache and the dynamic constants allocator.
//
// A Registry is valid only for the duration of one Execute call. Pass
// callbacks receive it through the PassAPI; the frame driver never holds
// one across frames.
type Registry struct {
	graph     *Graph
	physical  []gpu.Handle
	device    gpu.Device
	alloc     gpu.HandleAllocator
	pipelines *PipelineCache
	constants *DynamicConstants
}

// Texture resolves a texture reference to the physical handle backing it.
// Resolving a reference the graph never recorded, or one whose version is
// ahead of the resource's latest, panics: a stale or foreign reference is
// a recording bug, not a runtime condition.
func (r *Registry) Texture(ref TextureRef) gpu.Handle {
	return r.resolve(ref.textureRaw(), gpu.KindTexture)
}

// Buffer resolves a buffer reference to the physical handle backing it.
func (r *Registry) Buffer(ref BufferRef) gpu.Handle {
	return r.resolve(ref.bufferRaw(), gpu.KindBuffer)
}

func (r *Registry) resolve(raw rawHandle, want gpu.ResourceKind) gpu.Handle {
	info := r.graph.resourceInfo(raw)
	if info.kind != want {
		panic(fmt.Sprintf("framegraph: resource %q is a %s, not a %s", info.name, info.kind, want))
	}
	return r.physical[raw.id]
}

// resolveView resolves a binding source without constraining the resource
// kind; shader views accept textures and buffers alike.
func (r *Registry) resolveView(raw rawHandle) gpu.Handle {
	r.graph.resourceInfo(raw)
	return r.physical[raw.id]
}

// Device returns the device this execution records against.
func (r *Registry) Device() gpu.Device { return r.device }

// Allocator returns the frame's handle allocator. Transient handles taken
// from it during a pass join the frame's retirement bundle automatically.
func (r *Registry) Allocator() gpu.HandleAllocator { return r.alloc }

// Pipelines returns the pipeline cache shared across frames.
func (r *Registry) Pipelines() *PipelineCache { return r.pipelines }

// Constants returns the frame's dynamic constants allocator, or nil when
// execution was configured without one.
func (r *Registry) Constants() *DynamicConstants { return r.constants }
