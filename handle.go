// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "fmt"

// rawHandle identifies one logical resource within one graph. The id is the
// resource's index in the graph's resource table, dense from 0 in creation
// order. The version counts write-generations of the slot: it starts at 0
// and is bumped by every write edge, never by reads. Two references with
// the same id but different versions denote "the same slot, updated", which
// is what makes write-after-write hazards visible in the recorded edges.
//
// A rawHandle is only meaningful for the graph that minted it.
type rawHandle struct {
	id      uint32
	version uint32
}

// nextVersion returns the handle at the next write-generation.
func (h rawHandle) nextVersion() rawHandle {
	return rawHandle{id: h.id, version: h.version + 1}
}

func (h rawHandle) String() string {
	return fmt.Sprintf("res%d.v%d", h.id, h.version)
}
