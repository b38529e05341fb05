// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

// mockDevice implements gpu.Device for testing. It keeps every live object
// keyed by handle, records call order, and fails operations on demand.
type mockDevice struct {
	mu sync.Mutex

	live      map[gpu.Handle]gpu.ResourceKind
	created   []gpu.Handle
	destroyed []gpu.Handle

	textures map[gpu.Handle]gpu.TextureDesc
	buffers  map[gpu.Handle]gpu.BufferDesc
	views    map[gpu.Handle]gpu.ShaderViewsDesc
	// bufferData mirrors buffer contents so constant uploads can be read
	// back by tests.
	bufferData map[gpu.Handle][]byte

	dispatches []mockDispatch
	draws      []mockDraw
	submits    []mockSubmit
	waited     []gpu.Handle
	presented  []gpu.Handle
	frames     int
	idleWaits  int

	failTexture  error
	failBuffer   error
	failCompute  error
	failRaster   error
	failViews    error
	failCmd      error
	failFence    error
	failSubmit   error
	failWait     error
	failPresent  error
	failDestroy  error
	failWriteBuf error
	failIdle     error
}

type mockDispatch struct {
	cmd, pipeline, views gpu.Handle
	groups               [3]uint32
}

type mockDraw struct {
	cmd, pipeline, renderPass, bindings gpu.Handle
	vertexCount, instanceCount          uint32
}

type mockSubmit struct {
	cmd, fence gpu.Handle
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		live:       make(map[gpu.Handle]gpu.ResourceKind),
		textures:   make(map[gpu.Handle]gpu.TextureDesc),
		buffers:    make(map[gpu.Handle]gpu.BufferDesc),
		views:      make(map[gpu.Handle]gpu.ShaderViewsDesc),
		bufferData: make(map[gpu.Handle][]byte),
	}
}

func (m *mockDevice) register(h gpu.Handle, kind gpu.ResourceKind) error {
	if h == gpu.InvalidHandle {
		return fmt.Errorf("mock: create with invalid handle")
	}
	if _, ok := m.live[h]; ok {
		return fmt.Errorf("mock: handle %s already live", h)
	}
	m.live[h] = kind
	m.created = append(m.created, h)
	return nil
}

func (m *mockDevice) CreateTexture(h gpu.Handle, desc *gpu.TextureDesc, _ []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTexture != nil {
		return m.failTexture
	}
	if err := m.register(h, gpu.KindTexture); err != nil {
		return err
	}
	m.textures[h] = *desc
	return nil
}

func (m *mockDevice) CreateBuffer(h gpu.Handle, desc *gpu.BufferDesc, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBuffer != nil {
		return m.failBuffer
	}
	if err := m.register(h, gpu.KindBuffer); err != nil {
		return err
	}
	m.buffers[h] = *desc
	backing := make([]byte, desc.Size)
	copy(backing, data)
	m.bufferData[h] = backing
	return nil
}

func (m *mockDevice) CreateShader(h gpu.Handle, _ *gpu.ShaderDesc, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.register(h, gpu.KindShader)
}

func (m *mockDevice) CreateComputePipeline(h gpu.Handle, _ *gpu.ComputePipelineDesc, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCompute != nil {
		return m.failCompute
	}
	return m.register(h, gpu.KindComputePipeline)
}

func (m *mockDevice) CreateRasterPipeline(h gpu.Handle, _ *gpu.RasterPipelineDesc, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRaster != nil {
		return m.failRaster
	}
	return m.register(h, gpu.KindRasterPipeline)
}

func (m *mockDevice) CreateShaderViews(h gpu.Handle, desc *gpu.ShaderViewsDesc, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failViews != nil {
		return m.failViews
	}
	if err := m.register(h, gpu.KindShaderViews); err != nil {
		return err
	}
	m.views[h] = *desc
	return nil
}

func (m *mockDevice) CreateRenderPass(h gpu.Handle, _ *gpu.RenderPassDesc, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.register(h, gpu.KindRenderPass)
}

func (m *mockDevice) CreateFrameBindingSet(h gpu.Handle, _ *gpu.FrameBindingSetDesc, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.register(h, gpu.KindFrameBindingSet)
}

func (m *mockDevice) CreateFence(h gpu.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFence != nil {
		return m.failFence
	}
	return m.register(h, gpu.KindFence)
}

func (m *mockDevice) CreateCommandList(h gpu.Handle, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCmd != nil {
		return m.failCmd
	}
	return m.register(h, gpu.KindCommandList)
}

func (m *mockDevice) DestroyResource(h gpu.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDestroy != nil {
		return m.failDestroy
	}
	if _, ok := m.live[h]; !ok {
		return fmt.Errorf("mock: destroy unknown handle %s", h)
	}
	delete(m.live, h)
	delete(m.textures, h)
	delete(m.buffers, h)
	delete(m.bufferData, h)
	m.destroyed = append(m.destroyed, h)
	return nil
}

func (m *mockDevice) WriteBuffer(_, buffer gpu.Handle, offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWriteBuf != nil {
		return m.failWriteBuf
	}
	backing, ok := m.bufferData[buffer]
	if !ok {
		return fmt.Errorf("mock: write to unknown buffer %s", buffer)
	}
	if int(offset)+len(data) > len(backing) {
		return fmt.Errorf("mock: write past end of buffer %s", buffer)
	}
	copy(backing[offset:], data)
	return nil
}

func (m *mockDevice) RecordDispatch(cmd, pipeline, views gpu.Handle, groups [3]uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, mockDispatch{cmd: cmd, pipeline: pipeline, views: views, groups: groups})
	return nil
}

func (m *mockDevice) RecordDraw(cmd, pipeline, renderPass, bindings gpu.Handle, vertexCount, instanceCount uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draws = append(m.draws, mockDraw{
		cmd: cmd, pipeline: pipeline, renderPass: renderPass, bindings: bindings,
		vertexCount: vertexCount, instanceCount: instanceCount,
	})
	return nil
}

func (m *mockDevice) SubmitCommandList(cmd, fence gpu.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubmit != nil {
		return m.failSubmit
	}
	m.submits = append(m.submits, mockSubmit{cmd: cmd, fence: fence})
	return nil
}

func (m *mockDevice) WaitForFence(fence gpu.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWait != nil {
		return m.failWait
	}
	m.waited = append(m.waited, fence)
	return nil
}

func (m *mockDevice) PresentSwapChain(texture gpu.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPresent != nil {
		return m.failPresent
	}
	m.presented = append(m.presented, texture)
	return nil
}

func (m *mockDevice) AdvanceFrame() {
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()
}

func (m *mockDevice) DeviceWaitIdle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIdle != nil {
		return m.failIdle
	}
	m.idleWaits++
	return nil
}

func (m *mockDevice) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *mockDevice) isLive(h gpu.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[h]
	return ok
}

func (m *mockDevice) bufferBytes(h gpu.Handle, offset, n uint32) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	backing := m.bufferData[h]
	if backing == nil || int(offset+n) > len(backing) {
		return nil
	}
	out := make([]byte, n)
	copy(out, backing[offset:])
	return out
}

// mockShaderCache implements gpu.ShaderCache. Entries are installed per
// path; a retirement is reported exactly once on the next GetOrLoad for
// that path, mirroring how a recompile hands back the replaced entry.
type mockShaderCache struct {
	mu      sync.Mutex
	alloc   gpu.HandleAllocator
	entries map[string]*gpu.ShaderEntry
	retired map[string]*gpu.ShaderEntry
	errs    map[string]error
	calls   int
}

func newMockShaderCache(alloc gpu.HandleAllocator) *mockShaderCache {
	return &mockShaderCache{
		alloc:   alloc,
		entries: make(map[string]*gpu.ShaderEntry),
		retired: make(map[string]*gpu.ShaderEntry),
		errs:    make(map[string]error),
	}
}

// install registers a shader entry for path with a freshly allocated
// persistent shader handle and returns it.
func (m *mockShaderCache) install(path string, stage gputypes.ShaderStage, srvs, uavs []string) *gpu.ShaderEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := &gpu.ShaderEntry{
		Shader: m.alloc.Persistent(gpu.KindShader),
		Stage:  stage,
		SRVs:   srvs,
		UAVs:   uavs,
	}
	m.entries[path] = entry
	return entry
}

// recompile replaces path's entry with a new shader handle; the old entry
// is reported as retired on the next lookup.
func (m *mockShaderCache) recompile(path string) *gpu.ShaderEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.entries[path]
	if old == nil {
		panic("mock: recompile of unknown path " + path)
	}
	m.retired[path] = old
	fresh := &gpu.ShaderEntry{
		Shader: m.alloc.Persistent(gpu.KindShader),
		Stage:  old.Stage,
		SRVs:   old.SRVs,
		UAVs:   old.UAVs,
	}
	m.entries[path] = fresh
	return fresh
}

func (m *mockShaderCache) GetOrLoad(stage gputypes.ShaderStage, path string) (*gpu.ShaderEntry, *gpu.ShaderEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	retired := m.retired[path]
	delete(m.retired, path)
	if err := m.errs[path]; err != nil {
		return nil, retired, err
	}
	entry := m.entries[path]
	if entry == nil {
		return nil, retired, fmt.Errorf("mock: no shader at %q", path)
	}
	if entry.Stage != stage {
		return nil, retired, fmt.Errorf("mock: shader %q is stage %v, not %v", path, entry.Stage, stage)
	}
	return entry, retired, nil
}
