// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgslcache loads, compiles and reflects WGSL shaders for the
// frame graph. It implements the gpu.ShaderCache contract: lookups are
// content-addressed, so editing a shader source on disk retires the old
// entry and every pipeline derived from it, while untouched sources cost
// one map hit per lookup.
//
// Compilation goes through naga to SPIR-V. The compiled module is memoized
// by source hash in a sharded LRU cache, so a file that declares both the
// vertex and the fragment entry point compiles once, and reverting an edit
// reuses the earlier compile.
package wgslcache

import (
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/cache"
	"github.com/gogpu/framegraph/gpu"
)

// ShaderDevice is the slice of gpu.Device the cache needs: creating shader
// objects and destroying the ones it retires.
type ShaderDevice interface {
	CreateShader(h gpu.Handle, desc *gpu.ShaderDesc, debugName string) error
	DestroyResource(h gpu.Handle) error
}

// module is one compiled and reflected WGSL source, keyed by content hash.
// A module that failed to compile is cached too: the same bytes always fail
// the same way, and hot reload must not recompile a broken shader per frame.
type module struct {
	code []byte
	info *moduleInfo
	err  error
}

// sourceKey identifies one loadable shader: the same file loaded for two
// stages yields two shader objects with different entry points.
type sourceKey struct {
	stage gputypes.ShaderStage
	path  string
}

// sourceState tracks what the cache last produced for a key. dirty marks
// the source as possibly changed; the next lookup re-reads and re-hashes it.
type sourceState struct {
	hash    uint64
	entry   *gpu.ShaderEntry
	loadErr error
	dirty   bool
}

// Cache implements gpu.ShaderCache over an fs.FS of WGSL sources.
//
// Steady state does no I/O: a clean path returns its cached entry from one
// map lookup. Invalidate (usually driven by a Watcher) marks paths dirty;
// the next GetOrLoad re-reads the file, and only an actual content change
// reaches the compiler.
type Cache struct {
	fsys    fs.FS
	device  ShaderDevice
	alloc   gpu.HandleAllocator
	release func(gpu.Handle)

	modules *cache.ShardedCache[uint64, *module]

	mu     sync.Mutex
	states map[sourceKey]*sourceState
}

// Option configures a Cache.
type Option func(*Cache)

// WithRelease routes retired shader objects through fn instead of
// destroying them immediately. Hosts that defer destruction to frame
// retirement pass their FrameContext's ScheduleRelease.
func WithRelease(fn func(gpu.Handle)) Option {
	return func(c *Cache) {
		if fn != nil {
			c.release = fn
		}
	}
}

// WithModuleCapacity bounds the per-shard capacity of the compiled module
// memo. The default keeps every module a project plausibly has.
func WithModuleCapacity(n int) Option {
	return func(c *Cache) {
		c.modules = cache.NewSharded[uint64, *module](n, cache.Uint64Hasher)
	}
}

// New builds a shader cache reading WGSL sources from fsys.
func New(fsys fs.FS, device ShaderDevice, alloc gpu.HandleAllocator, opts ...Option) *Cache {
	if fsys == nil {
		panic("wgslcache: New with nil filesystem")
	}
	if device == nil {
		panic("wgslcache: New with nil device")
	}
	if alloc == nil {
		panic("wgslcache: New with nil allocator")
	}
	c := &Cache{
		fsys:    fsys,
		device:  device,
		alloc:   alloc,
		modules: cache.NewSharded[uint64, *module](64, cache.Uint64Hasher),
		states:  make(map[sourceKey]*sourceState),
	}
	c.release = func(h gpu.Handle) {
		if err := c.device.DestroyResource(h); err != nil {
			framegraph.Logger().Warn("wgslcache: retired shader destroy failed",
				"handle", h.String(), "error", err)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrLoad implements gpu.ShaderCache.
//
// The retired return carries the entry this call displaced. Its shader
// object has already been handed to the release hook; the entry identifies
// derived objects (pipelines) the caller must evict, it is not usable for
// new work.
func (c *Cache) GetOrLoad(stage gputypes.ShaderStage, path string) (*gpu.ShaderEntry, *gpu.ShaderEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sourceKey{stage: stage, path: path}
	st := c.states[key]
	if st == nil {
		st = &sourceState{dirty: true}
		c.states[key] = st
	}
	if !st.dirty {
		return st.entry, nil, st.loadErr
	}

	data, err := fs.ReadFile(c.fsys, path)
	if err != nil {
		// Possibly a transient mid-save state; keep the current entry and
		// stay dirty so the next lookup retries.
		return nil, nil, fmt.Errorf("wgslcache: read %q: %w", path, err)
	}
	hash := hashSource(data)
	if st.entry != nil && st.hash == hash {
		st.dirty = false
		return st.entry, nil, nil
	}

	mod := c.modules.GetOrCreate(hash, func() *module { return compileModule(data) })
	if mod.err != nil {
		retired := c.displaceLocked(st, hash, fmt.Errorf("wgslcache: compile %q: %w", path, mod.err))
		return nil, retired, st.loadErr
	}
	entryPoint, ok := mod.info.entryPoints[stage]
	if !ok {
		retired := c.displaceLocked(st, hash,
			fmt.Errorf("wgslcache: %q has no %s entry point", path, stageName(stage)))
		return nil, retired, st.loadErr
	}
	if n := mod.info.uniformCount(); n > 1 {
		retired := c.displaceLocked(st, hash,
			fmt.Errorf("wgslcache: %q declares %d uniform buffers, the pipeline layout provides one", path, n))
		return nil, retired, st.loadErr
	}

	handle := c.alloc.Persistent(gpu.KindShader)
	desc := gpu.ShaderDesc{Stage: stage, Code: mod.code, EntryPoint: entryPoint}
	if err := c.device.CreateShader(handle, &desc, path); err != nil {
		// Device failure: the old entry is still intact on the device, so
		// nothing is displaced. Stay dirty and retry on the next lookup.
		return nil, nil, fmt.Errorf("wgslcache: shader %q: %w", path, err)
	}

	entry := &gpu.ShaderEntry{
		Shader:     handle,
		Stage:      stage,
		SRVs:       mod.info.srvNames(),
		UAVs:       mod.info.uavNames(),
		HasUniform: mod.info.uniformCount() == 1,
		Code:       mod.code,
	}
	if stage == gputypes.ShaderStageCompute {
		entry.GroupSize = mod.info.groupSize
	}

	retired := st.entry
	if retired != nil {
		c.release(retired.Shader)
	}
	st.hash = hash
	st.entry = entry
	st.loadErr = nil
	st.dirty = false

	log := framegraph.Logger()
	if log.Enabled(context.Background(), slog.LevelDebug) {
		log.Debug("wgslcache: shader loaded",
			"path", path, "stage", stageName(stage),
			"srvs", len(entry.SRVs), "uavs", len(entry.UAVs),
			"reload", retired != nil)
	}
	return entry, retired, nil
}

// displaceLocked retires st's entry because its source no longer produces
// a usable shader, records err as the key's sticky result, and returns the
// retired entry.
func (c *Cache) displaceLocked(st *sourceState, hash uint64, err error) *gpu.ShaderEntry {
	retired := st.entry
	if retired != nil {
		c.release(retired.Shader)
	}
	st.hash = hash
	st.entry = nil
	st.loadErr = err
	st.dirty = false
	framegraph.Logger().Error("wgslcache: shader unusable", "error", err)
	return retired
}

// Invalidate marks every entry loaded from path as possibly changed. The
// next GetOrLoad for that path re-reads the source; entries are retired
// only if the content actually differs.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, st := range c.states {
		if key.path == path {
			st.dirty = true
		}
	}
}

// InvalidateAll marks every loaded entry as possibly changed.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.states {
		st.dirty = true
	}
}

// Len returns the number of live shader entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, st := range c.states {
		if st.entry != nil {
			n++
		}
	}
	return n
}

// ModuleStats returns counters of the compiled module memo.
func (c *Cache) ModuleStats() cache.Stats { return c.modules.Stats() }

// Destroy releases every live shader object through the release hook and
// forgets all entries. Callers must ensure the device is idle or the hook
// defers destruction.
func (c *Cache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.states {
		if st.entry != nil {
			c.release(st.entry.Shader)
		}
	}
	c.states = make(map[sourceKey]*sourceState)
	c.modules.Clear()
}

// compileModule compiles and reflects one WGSL source. Never returns nil;
// failures are carried in the module's err field so they memoize like
// successes.
func compileModule(src []byte) *module {
	info, err := parseModule(string(src))
	if err != nil {
		return &module{err: err}
	}
	code, err := naga.Compile(string(src))
	if err != nil {
		return &module{err: err}
	}
	return &module{code: code, info: info}
}

// hashSource is the content hash keying the module memo, FNV-1a over the
// raw source bytes.
func hashSource(src []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(src) // fnv.Write never returns an error
	return h.Sum64()
}
