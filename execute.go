// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

// Defaults applied to transient resources whose desc leaves Usage zero.
// Textures get sampled plus both copy directions, which covers present
// blits and readback; storage capability is the backend's concern. Buffers
// get storage plus both copy directions.
const (
	defaultTextureUsage = gputypes.TextureUsageTextureBinding |
		gputypes.TextureUsageCopySrc |
		gputypes.TextureUsageCopyDst
	defaultBufferUsage = gputypes.BufferUsageStorage |
		gputypes.BufferUsageCopySrc |
		gputypes.BufferUsageCopyDst
)

// ExecuteParams bundles the collaborators an execution needs. Device and
// Allocator are required. Pipelines is required by callbacks that resolve
// shaders; Constants may be nil when no pass pushes constant data.
type ExecuteParams struct {
	Device    gpu.Device
	Allocator gpu.HandleAllocator
	Pipelines *PipelineCache
	Constants *DynamicConstants
}

// ExecutionOutput is what Execute hands the frame driver: the physical
// texture backing the graph's designated output, ready to present once the
// frame's command list is submitted.
type ExecutionOutput struct {
	Texture gpu.Handle
}

// Execute consumes the graph: it materializes every logical resource into a
// transient physical handle, runs the pass callbacks in recorded order
// against cmd, and resolves output to its physical texture.
//
// Resource materialization walks resources in id order; physical creation
// has no cross-resource dependency, so creation order need not follow pass
// order. A callback error short-circuits the remaining passes and is
// returned; commands recorded by completed passes stay in cmd and will
// still execute if the caller submits it. Nothing is rolled back, since the
// common failure is a creation error that would recur identically on a
// retry.
//
// Execute may run once per graph; a second call panics.
func (g *Graph) Execute(params ExecuteParams, cmd gpu.Handle, output *TextureHandle) (ExecutionOutput, error) {
	if g.executed {
		panic("framegraph: graph executed twice")
	}
	g.executed = true
	if params.Device == nil {
		panic("framegraph: Execute with nil device")
	}
	if params.Allocator == nil {
		panic("framegraph: Execute with nil allocator")
	}
	if output == nil {
		panic("framegraph: Execute with nil output handle")
	}
	g.logRecorded()

	lifetimes := computeLifetimes(g.passes, g.resources)
	g.logLifetimes(lifetimes)

	reg := &Registry{
		graph:     g,
		physical:  make([]gpu.Handle, len(g.resources)),
		device:    params.Device,
		alloc:     params.Allocator,
		pipelines: params.Pipelines,
		constants: params.Constants,
	}
	for id := range g.resources {
		info := &g.resources[id]
		switch info.kind {
		case gpu.KindTexture:
			h := params.Allocator.Transient(gpu.KindTexture)
			desc := info.texture
			if desc.Usage == 0 {
				desc.Usage = defaultTextureUsage
			}
			if err := params.Device.CreateTexture(h, &desc, nil, info.name); err != nil {
				return ExecutionOutput{}, fmt.Errorf("framegraph: create texture %q: %w", info.name, err)
			}
			reg.physical[id] = h
		case gpu.KindBuffer:
			h := params.Allocator.Transient(gpu.KindBuffer)
			desc := info.buffer
			if desc.Usage == 0 {
				desc.Usage = defaultBufferUsage
			}
			if err := params.Device.CreateBuffer(h, &desc, nil, info.name); err != nil {
				return ExecutionOutput{}, fmt.Errorf("framegraph: create buffer %q: %w", info.name, err)
			}
			reg.physical[id] = h
		default:
			panic(fmt.Sprintf("framegraph: resource %q has kind %s", info.name, info.kind))
		}
	}

	for i := range g.passes {
		p := &g.passes[i]
		if p.render == nil {
			panic(fmt.Sprintf("framegraph: pass %q has no render callback", p.name))
		}
		api := &PassAPI{reg: reg, cmd: cmd, passName: p.name}
		if err := p.render(api); err != nil {
			return ExecutionOutput{}, fmt.Errorf("framegraph: pass %q: %w", p.name, err)
		}
	}

	return ExecutionOutput{Texture: reg.resolve(output.raw, gpu.KindTexture)}, nil
}

func (g *Graph) logLifetimes(lifetimes []resourceLifetime) {
	log := Logger()
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for id, lt := range lifetimes {
		log.Debug("framegraph: resource lifetime",
			"resource", g.resources[id].name,
			"firstAccess", lt.firstAccess,
			"lastAccess", lt.lastAccess)
	}
}
