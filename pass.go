// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"

	"github.com/gogpu/framegraph/gpu"
)

// RenderFunc records one pass's GPU commands. It runs during Graph.Execute,
// strictly in pass order, and may resolve references, request pipelines and
// push constants through the PassAPI. Returning an error aborts the
// remaining passes and surfaces as the execution's error.
type RenderFunc func(api *PassAPI) error

// recordedPass is one finalized pass: its access edges and its deferred
// render callback. The create list holds resources this pass brought into
// existence; read and write hold the access edges at the versions they were
// taken.
type recordedPass struct {
	name   string
	idx    int
	create []rawHandle
	read   []rawHandle
	write  []rawHandle
	render RenderFunc
}

// touchesID reports whether the pass accesses the given resource id through
// any edge list.
func (p *recordedPass) touchesID(id uint32) bool {
	for _, h := range p.create {
		if h.id == id {
			return true
		}
	}
	for _, h := range p.read {
		if h.id == id {
			return true
		}
	}
	for _, h := range p.write {
		if h.id == id {
			return true
		}
	}
	return false
}

// PassBuilder declares one pass's resources and render callback. It is only
// valid inside the AddPass call that provided it; the pass is appended to
// the graph when that call returns, even if the recording function panics,
// so a pass becomes visible to execution exactly once and in call order.
type PassBuilder struct {
	graph *Graph
	pass  recordedPass
	done  bool
}

// CreateTexture registers a new logical texture created by this pass and
// immediately grants the write reference for it. The creating pass is the
// resource's first access.
func (pb *PassBuilder) CreateTexture(desc gpu.TextureDesc) (*TextureHandle, TextureWriteRef) {
	pb.check()
	raw := pb.graph.createResource(gpu.KindTexture, desc, gpu.BufferDesc{}, pb.pass.idx, pb.pass.name)
	pb.pass.create = append(pb.pass.create, raw)
	h := &TextureHandle{raw: raw, Desc: desc}
	return h, TextureWriteRef{raw: raw, Desc: desc}
}

// CreateBuffer registers a new logical buffer created by this pass and
// immediately grants the write reference for it.
func (pb *PassBuilder) CreateBuffer(desc gpu.BufferDesc) (*BufferHandle, BufferWriteRef) {
	pb.check()
	raw := pb.graph.createResource(gpu.KindBuffer, gpu.TextureDesc{}, desc, pb.pass.idx, pb.pass.name)
	pb.pass.create = append(pb.pass.create, raw)
	h := &BufferHandle{raw: raw, Desc: desc}
	return h, BufferWriteRef{raw: raw, Desc: desc}
}

// ReadTexture registers a read edge on the texture and returns the read
// reference at the handle's current version. Reads never bump the version.
func (pb *PassBuilder) ReadTexture(h *TextureHandle) TextureReadRef {
	pb.check()
	pb.registerRead(h.raw)
	return TextureReadRef{raw: h.raw, Desc: h.Desc}
}

// WriteTexture registers a write edge on the texture, bumps the handle's
// version in place and returns the write reference at the NEW version. Any
// reference taken before this call is semantically stale for passes
// recorded after it.
func (pb *PassBuilder) WriteTexture(h *TextureHandle) TextureWriteRef {
	pb.check()
	h.raw = pb.registerWrite(h.raw)
	return TextureWriteRef{raw: h.raw, Desc: h.Desc}
}

// ReadBuffer registers a read edge on the buffer and returns the read
// reference at the handle's current version.
func (pb *PassBuilder) ReadBuffer(h *BufferHandle) BufferReadRef {
	pb.check()
	pb.registerRead(h.raw)
	return BufferReadRef{raw: h.raw, Desc: h.Desc}
}

// WriteBuffer registers a write edge on the buffer, bumps the handle's
// version in place and returns the write reference at the new version.
func (pb *PassBuilder) WriteBuffer(h *BufferHandle) BufferWriteRef {
	pb.check()
	h.raw = pb.registerWrite(h.raw)
	return BufferWriteRef{raw: h.raw, Desc: h.Desc}
}

// Render attaches the deferred command-recording callback. Every pass must
// attach exactly one before the graph executes; attaching a second is a
// programming error, as is executing a pass that never attached one.
func (pb *PassBuilder) Render(fn RenderFunc) {
	pb.check()
	if fn == nil {
		panic(fmt.Sprintf("framegraph: pass %q: nil render callback", pb.pass.name))
	}
	if pb.pass.render != nil {
		panic(fmt.Sprintf("framegraph: pass %q: render callback attached twice", pb.pass.name))
	}
	pb.pass.render = fn
}

// registerRead validates same-pass exclusivity for a read edge. Reading a
// resource this pass already wrote is a recording bug: within one pass
// there is no ordering that could make it meaningful.
func (pb *PassBuilder) registerRead(raw rawHandle) {
	for _, w := range pb.pass.write {
		if w.id == raw.id {
			panic(fmt.Sprintf("framegraph: pass %q: read and write of the same resource %s in one pass",
				pb.pass.name, raw))
		}
	}
	pb.pass.read = append(pb.pass.read, raw)
}

// registerWrite validates same-pass exclusivity for a write edge, bumps the
// slot version and returns the new raw handle.
func (pb *PassBuilder) registerWrite(raw rawHandle) rawHandle {
	for _, w := range pb.pass.write {
		if w.id == raw.id {
			panic(fmt.Sprintf("framegraph: pass %q: resource %s written twice in one pass",
				pb.pass.name, raw))
		}
	}
	for _, r := range pb.pass.read {
		if r.id == raw.id {
			panic(fmt.Sprintf("framegraph: pass %q: read and write of the same resource %s in one pass",
				pb.pass.name, raw))
		}
	}
	next := pb.graph.bumpVersion(raw)
	pb.pass.write = append(pb.pass.write, next)
	return next
}

func (pb *PassBuilder) check() {
	if pb.done {
		panic("framegraph: pass builder used outside its AddPass call")
	}
}
