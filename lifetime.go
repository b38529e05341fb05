// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

// resourceLifetime is the span of pass indices over which a logical
// resource is alive. firstAccess is the creating pass; lastAccess is the
// highest pass index that reads or writes it. A resource created and never
// touched again has firstAccess == lastAccess and is single-pass scratch.
//
// Lifetimes are derived from the finalized graph, never stored on it. They
// feed the execution debug log today and are the intended input for
// transient memory aliasing later.
type resourceLifetime struct {
	firstAccess int
	lastAccess  int
}

// computeLifetimes derives per-resource lifetimes with one linear scan of
// the pass list. The result is indexed by resource id.
func computeLifetimes(passes []recordedPass, resources []resourceInfo) []resourceLifetime {
	lifetimes := make([]resourceLifetime, len(resources))
	for id := range resources {
		lifetimes[id] = resourceLifetime{
			firstAccess: resources[id].createPass,
			lastAccess:  resources[id].createPass,
		}
	}
	touch := func(id uint32, passIdx int) {
		if passIdx > lifetimes[id].lastAccess {
			lifetimes[id].lastAccess = passIdx
		}
	}
	for i := range passes {
		p := &passes[i]
		for _, h := range p.read {
			touch(h.id, p.idx)
		}
		for _, h := range p.write {
			touch(h.id, p.idx)
		}
	}
	return lifetimes
}
