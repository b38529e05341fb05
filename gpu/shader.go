// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "github.com/gogpu/gputypes"

// ShaderEntry is the compiled, reflected form of one shader. Entries are
// immutable once published: a recompile produces a NEW entry with a new
// shader handle, never mutates the old one. Pipeline caches key on the
// shader handle for exactly that reason, so stale pipelines become
// unreachable the moment a reload lands.
type ShaderEntry struct {
	// Shader is the persistent device handle of the compiled shader.
	// It is the caching identity of the entry.
	Shader Handle

	// Stage the shader was compiled for.
	Stage gputypes.ShaderStage

	// SRVs lists the reflected read-only binding names in slot order.
	SRVs []string

	// UAVs lists the reflected read-write binding names in slot order.
	UAVs []string

	// HasUniform reports whether the shader declares a uniform buffer.
	// At most one is allowed; it occupies the constant-buffer slot of the
	// synthesized pipeline layout.
	HasUniform bool

	// GroupSize is the compute thread-group size from the shader source.
	// Zero for non-compute stages.
	GroupSize [3]uint32

	// Code is the driver-consumable bytecode.
	Code []byte
}

// ShaderCache resolves a (stage, path) pair to a compiled shader entry,
// recompiling when the source changed since the last call.
//
// The retired return reports the entry a reload displaced, if any, so
// callers holding derived objects (pipelines) can evict them. retired is
// meaningful even when err is non-nil: a reload can retire the old entry
// and then fail to compile the new source.
type ShaderCache interface {
	GetOrLoad(stage gputypes.ShaderStage, path string) (entry, retired *ShaderEntry, err error)
}
