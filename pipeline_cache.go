// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

// rasterKey identifies one raster pipeline. Validity of a raster pipeline
// depends on more than its shaders, so the fixed-function state hash and
// the render target formats are part of the key.
type rasterKey struct {
	vs        gpu.Handle
	ps        gpu.Handle
	stateHash uint64
	formats   string
}

// rasterEntry ties a cached raster pipeline back to its key and both source
// shaders, so eviction through either shader can scrub every reference.
type rasterEntry struct {
	key      rasterKey
	pipeline gpu.Handle
	vs       gpu.Handle
	ps       gpu.Handle
}

// PipelineCache memoizes compiled pipeline objects across frames. Compute
// pipelines are keyed by their shader handle alone; raster pipelines by
// both shader handles plus the fixed-function state hash and target
// formats. Identity follows the compiled shader handle, not the path: when
// the shader cache reports it retired a handle during recompilation, every
// pipeline built from that handle is evicted, so the next lookup rebuilds
// against the new shader. Eviction is best effort; a retired shader with no
// cached pipelines is not an error.
//
// Evicted and replaced pipelines are not destroyed on the spot, since
// in-flight frames may still reference them on the GPU. They move to a
// graveyard that DestroyAll drains once the device is idle.
//
// PipelineCache is safe for concurrent use.
type PipelineCache struct {
	mu sync.Mutex

	device  gpu.Device
	alloc   gpu.HandleAllocator
	shaders gpu.ShaderCache

	// compute maps shader handle to its pipeline.
	compute map[gpu.Handle]gpu.Handle

	// Raster pipelines get sequential ids so the reverse index can name
	// them independently of their composite keys.
	rasterByKey map[rasterKey]uint64
	rasterByID  map[uint64]rasterEntry
	rasterIndex map[gpu.Handle][]uint64
	nextID      uint64

	graveyard []gpu.Handle

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPipelineCache returns an empty cache creating pipelines on device with
// persistent handles from alloc, resolving shader paths through shaders.
func NewPipelineCache(device gpu.Device, alloc gpu.HandleAllocator, shaders gpu.ShaderCache) *PipelineCache {
	if device == nil {
		panic("framegraph: NewPipelineCache: nil device")
	}
	if alloc == nil {
		panic("framegraph: NewPipelineCache: nil allocator")
	}
	if shaders == nil {
		panic("framegraph: NewPipelineCache: nil shader cache")
	}
	return &PipelineCache{
		device:      device,
		alloc:       alloc,
		shaders:     shaders,
		compute:     make(map[gpu.Handle]gpu.Handle),
		rasterByKey: make(map[rasterKey]uint64),
		rasterByID:  make(map[uint64]rasterEntry),
		rasterIndex: make(map[gpu.Handle][]uint64),
	}
}

// GetOrLoadCompute resolves the compute pipeline for the shader at path.
// The shader cache is always consulted first so a recompile retires stale
// pipelines before lookup; retirement is processed even when resolution
// fails. On a miss the binding signature is synthesized from the shader's
// reflected SRV/UAV counts plus one constant-buffer slot for the frame
// constants ring.
func (c *PipelineCache) GetOrLoadCompute(path string) (gpu.Handle, *gpu.ShaderEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, retired, err := c.shaders.GetOrLoad(gputypes.ShaderStageCompute, path)
	if retired != nil {
		c.evictShaderLocked(retired.Shader)
	}
	if err != nil {
		return gpu.InvalidHandle, nil, fmt.Errorf("framegraph: compute shader %q: %w", path, err)
	}

	if p, ok := c.compute[entry.Shader]; ok {
		c.hits.Add(1)
		return p, entry, nil
	}
	c.misses.Add(1)

	desc := gpu.ComputePipelineDesc{
		Shader:          entry.Shader,
		SRVCount:        len(entry.SRVs),
		UAVCount:        len(entry.UAVs),
		ConstantBuffers: 1,
	}
	h := c.alloc.Persistent(gpu.KindComputePipeline)
	if err := c.device.CreateComputePipeline(h, &desc, path); err != nil {
		return gpu.InvalidHandle, nil, fmt.Errorf("framegraph: compute pipeline %q: %w", path, err)
	}
	c.compute[entry.Shader] = h
	Logger().Debug("framegraph: compute pipeline created",
		"path", path, "shader", entry.Shader.String(), "pipeline", h.String())
	return h, entry, nil
}

// GetOrLoadRaster resolves the raster pipeline for the vertex/pixel shader
// pair under the given fixed-function state and render target formats. Both
// shaders are resolved first and retirements from either are processed
// before lookup; a pipeline sharing a shader with a retired one is evicted
// even when its other shader is current. The reflected entries for both
// stages are returned alongside the pipeline for binding-set construction.
func (c *PipelineCache) GetOrLoadRaster(vsPath, psPath string, state gpu.RasterState, formats []gputypes.TextureFormat) (gpu.Handle, *gpu.ShaderEntry, *gpu.ShaderEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vs, vsRetired, vsErr := c.shaders.GetOrLoad(gputypes.ShaderStageVertex, vsPath)
	ps, psRetired, psErr := c.shaders.GetOrLoad(gputypes.ShaderStageFragment, psPath)
	if vsRetired != nil {
		c.evictShaderLocked(vsRetired.Shader)
	}
	if psRetired != nil {
		c.evictShaderLocked(psRetired.Shader)
	}
	if vsErr != nil {
		return gpu.InvalidHandle, nil, nil, fmt.Errorf("framegraph: vertex shader %q: %w", vsPath, vsErr)
	}
	if psErr != nil {
		return gpu.InvalidHandle, nil, nil, fmt.Errorf("framegraph: pixel shader %q: %w", psPath, psErr)
	}

	key := rasterKey{
		vs:        vs.Shader,
		ps:        ps.Shader,
		stateHash: hashRasterState(&state),
		formats:   formatKey(formats),
	}
	if id, ok := c.rasterByKey[key]; ok {
		c.hits.Add(1)
		return c.rasterByID[id].pipeline, vs, ps, nil
	}
	c.misses.Add(1)

	desc := gpu.RasterPipelineDesc{
		VertexShader:  vs.Shader,
		PixelShader:   ps.Shader,
		State:         state,
		TargetFormats: formats,
	}
	h := c.alloc.Persistent(gpu.KindRasterPipeline)
	if err := c.device.CreateRasterPipeline(h, &desc, vsPath+"+"+psPath); err != nil {
		return gpu.InvalidHandle, nil, nil, fmt.Errorf("framegraph: raster pipeline %q+%q: %w", vsPath, psPath, err)
	}
	id := c.nextID
	c.nextID++
	c.rasterByKey[key] = id
	c.rasterByID[id] = rasterEntry{key: key, pipeline: h, vs: vs.Shader, ps: ps.Shader}
	c.rasterIndex[vs.Shader] = append(c.rasterIndex[vs.Shader], id)
	if ps.Shader != vs.Shader {
		c.rasterIndex[ps.Shader] = append(c.rasterIndex[ps.Shader], id)
	}
	Logger().Debug("framegraph: raster pipeline created",
		"vs", vsPath, "ps", psPath, "pipeline", h.String())
	return h, vs, ps, nil
}

// evictShaderLocked removes every pipeline built from shader s: the compute
// entry keyed by it, plus all raster pipelines listed under it in the
// reverse index. Each removed raster pipeline is also scrubbed from its
// other shader's index entry so that shader keeps no dangling pipeline id.
func (c *PipelineCache) evictShaderLocked(s gpu.Handle) {
	if p, ok := c.compute[s]; ok {
		delete(c.compute, s)
		c.graveyard = append(c.graveyard, p)
		Logger().Debug("framegraph: compute pipeline evicted",
			"shader", s.String(), "pipeline", p.String())
	}
	ids := c.rasterIndex[s]
	if len(ids) == 0 {
		return
	}
	delete(c.rasterIndex, s)
	for _, id := range ids {
		e, ok := c.rasterByID[id]
		if !ok {
			continue
		}
		delete(c.rasterByID, id)
		delete(c.rasterByKey, e.key)
		other := e.vs
		if other == s {
			other = e.ps
		}
		if other != s {
			c.scrubIndexLocked(other, id)
		}
		c.graveyard = append(c.graveyard, e.pipeline)
		Logger().Debug("framegraph: raster pipeline evicted",
			"shader", s.String(), "pipeline", e.pipeline.String())
	}
}

// scrubIndexLocked drops pipeline id from shader's reverse-index entry.
func (c *PipelineCache) scrubIndexLocked(shader gpu.Handle, id uint64) {
	ids := c.rasterIndex[shader]
	for i, v := range ids {
		if v == id {
			c.rasterIndex[shader] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(c.rasterIndex[shader]) == 0 {
		delete(c.rasterIndex, shader)
	}
}

// DestroyAll destroys every pipeline object the cache ever created,
// including evicted ones, and empties the cache. Pipelines are persistent
// resources that never join a frame's retirement bundle, so this must run
// only after the device is idle. Individual destroy failures are logged and
// skipped so one bad handle cannot strand the rest.
func (c *PipelineCache) DestroyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	destroy := func(h gpu.Handle) {
		if err := c.device.DestroyResource(h); err != nil {
			Logger().Warn("framegraph: pipeline destroy failed",
				"pipeline", h.String(), "error", err)
		}
	}
	for _, p := range c.compute {
		destroy(p)
	}
	for _, e := range c.rasterByID {
		destroy(e.pipeline)
	}
	for _, p := range c.graveyard {
		destroy(p)
	}
	c.compute = make(map[gpu.Handle]gpu.Handle)
	c.rasterByKey = make(map[rasterKey]uint64)
	c.rasterByID = make(map[uint64]rasterEntry)
	c.rasterIndex = make(map[gpu.Handle][]uint64)
	c.graveyard = nil
}

// Len reports the number of live cached pipelines across both kinds.
func (c *PipelineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.compute) + len(c.rasterByID)
}

// Stats returns cumulative hit and miss counts.
func (c *PipelineCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns the cache hit rate (0.0 to 1.0), or zero before the
// first lookup.
func (c *PipelineCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// hashRasterState produces a stable FNV-1a hash of the fixed-function
// state. Enum fields are hashed through their %v forms so the result does
// not depend on enum underlying widths.
func hashRasterState(s *gpu.RasterState) uint64 {
	h := fnv.New64a()
	// fnv.Write never returns an error
	_, _ = fmt.Fprintf(h, "%v|%v|%v|%t|%t|%v|%t|%v|%v|%v|%v",
		s.Topology, s.CullMode, s.FrontFace,
		s.DepthEnable, s.DepthWrite, s.DepthCompare,
		s.BlendEnable, s.SrcBlend, s.DstBlend, s.BlendOp,
		s.WriteMask)
	return h.Sum64()
}

// formatKey flattens the target formats into a comparable key component.
func formatKey(formats []gputypes.TextureFormat) string {
	if len(formats) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range formats {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%v", f)
	}
	return b.String()
}
