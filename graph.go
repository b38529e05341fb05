// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gogpu/framegraph/gpu"
)

// Graph accumulates recorded passes and the logical resources they declare.
// Recording order is execution order; the graph performs no reordering and
// no cycle detection. A Graph records on one goroutine and executes once.
type Graph struct {
	passes    []recordedPass
	resources []resourceInfo
	executed  bool
}

// NewGraph returns an empty graph ready for recording.
func NewGraph() *Graph {
	return &Graph{}
}

// AddPass records one pass. The record function declares the pass's
// resource accesses on the builder and optionally attaches a render
// callback. The pass is appended when record returns; the append runs even
// if record panics, so partially recorded state never leaks into a retry.
func (g *Graph) AddPass(name string, record func(*PassBuilder)) {
	if g.executed {
		panic("framegraph: AddPass after Execute")
	}
	if record == nil {
		panic(fmt.Sprintf("framegraph: pass %q: nil record function", name))
	}
	pb := &PassBuilder{
		graph: g,
		pass:  recordedPass{name: name, idx: len(g.passes)},
	}
	defer func() {
		pb.done = true
		g.passes = append(g.passes, pb.pass)
	}()
	record(pb)
}

// PassCount reports the number of recorded passes.
func (g *Graph) PassCount() int { return len(g.passes) }

// ResourceCount reports the number of declared logical resources.
func (g *Graph) ResourceCount() int { return len(g.resources) }

// createResource appends a new logical resource slot. Ids are dense and
// allocated in declaration order; versions start at 0 and count write
// generations.
func (g *Graph) createResource(kind gpu.ResourceKind, tex gpu.TextureDesc, buf gpu.BufferDesc, passIdx int, passName string) rawHandle {
	id := uint32(len(g.resources))
	g.resources = append(g.resources, resourceInfo{
		kind:       kind,
		texture:    tex,
		buffer:     buf,
		createPass: passIdx,
		name:       fmt.Sprintf("%s#%d", passName, id),
	})
	return rawHandle{id: id}
}

// bumpVersion advances the recorded latest version for the handle's slot
// and returns the successor handle. The caller must hold a current handle;
// writing through a stale one indicates recording on a copied handle.
func (g *Graph) bumpVersion(raw rawHandle) rawHandle {
	info := g.resourceInfo(raw)
	if raw.version != info.version {
		panic(fmt.Sprintf("framegraph: write through stale handle %s (resource %q is at v%d)",
			raw, info.name, info.version))
	}
	next := raw.nextVersion()
	info.version = next.version
	return next
}

// resourceInfo resolves the slot behind a raw handle, validating that the
// id is in range and the version does not exceed the latest recorded one.
// An out-of-range version means the handle came from a different graph or
// from state mutated after the fact.
func (g *Graph) resourceInfo(raw rawHandle) *resourceInfo {
	if int(raw.id) >= len(g.resources) {
		panic(fmt.Sprintf("framegraph: unknown resource %s (graph has %d resources)", raw, len(g.resources)))
	}
	info := &g.resources[raw.id]
	if raw.version > info.version {
		panic(fmt.Sprintf("framegraph: handle %s ahead of resource %q (latest v%d)",
			raw, info.name, info.version))
	}
	return info
}

// logRecorded emits a debug summary of the recorded graph. It is called at
// the top of Execute so a misbehaving frame can be reconstructed from logs.
func (g *Graph) logRecorded() {
	log := Logger()
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	log.Debug("framegraph: executing graph",
		"passes", len(g.passes),
		"resources", len(g.resources))
	for i := range g.passes {
		p := &g.passes[i]
		log.Debug("framegraph: pass",
			"index", p.idx,
			"name", p.name,
			"creates", len(p.create),
			"reads", len(p.read),
			"writes", len(p.write),
			"hasRender", p.render != nil)
	}
}
