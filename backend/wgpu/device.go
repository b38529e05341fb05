// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu backs the frame graph's device interface with the wgpu
// hardware abstraction layer.
//
// The backend keeps HAL objects (textures, buffers, shader modules,
// compute pipelines, fences) in per-kind tables keyed by gpu.Handle.
// Every compute pipeline synthesizes a single bind group layout at group
// index 0 from its reflected counts; bindings start with the
// constant-buffer slots, followed by read-only storage for the SRV slots
// and read-write storage for the UAV slots. Shader views resolve to
// buffer bindings only. Binding a texture to a compute slot reports
// ErrUnsupported.
//
// Dispatches are captured at record time and encoded at submit, after
// the frame's dynamic-constant chunks have been device-backed, so every
// bind group references a live uniform buffer.
//
// Raster pipelines, render passes and frame binding sets are not
// implemented. Their operations return errors wrapping ErrUnsupported.
package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gpu"
)

// ErrUnsupported marks operations this backend cannot perform. Callers
// can branch on it with errors.Is to fall back to a compute-only path.
var ErrUnsupported = errors.New("operation not supported by wgpu backend")

// defaultFenceTimeout bounds every fence wait. A frame that takes longer
// than this has hung the device.
const defaultFenceTimeout = 5 * time.Second

// minBufferSize is the smallest buffer the backend allocates. WebGPU
// rejects zero-sized bindings.
const minBufferSize = 4

// Option configures a Device.
type Option func(*Device)

// WithFenceTimeout overrides the bound on fence waits.
func WithFenceTimeout(d time.Duration) Option {
	return func(dev *Device) { dev.fenceTimeout = d }
}

// WithPresentFunc installs the hook PresentSwapChain calls with the
// frame's output texture. Without one, presentation logs and succeeds,
// which is the headless mode used by tests and offline rendering.
func WithPresentFunc(fn func(texture gpu.Handle) error) Option {
	return func(dev *Device) { dev.presentFn = fn }
}

// Device implements gpu.Device on a HAL device and queue.
//
// Methods are safe for concurrent use, though the frame loop drives a
// command list from a single goroutine. Blocking calls (WaitForFence,
// DeviceWaitIdle, ReadBuffer) do not hold the table lock while waiting.
type Device struct {
	mu sync.RWMutex

	device hal.Device
	queue  hal.Queue

	// instance is non-nil only for devices acquired through Open, which
	// owns the whole stack and tears it down in Close.
	instance hal.Instance
	owned    bool

	fenceTimeout time.Duration
	presentFn    func(gpu.Handle) error

	frame uint64

	// nullUniform fills constant-buffer slots for dispatches that push no
	// constants. Created on first use, zero-filled.
	nullUniform hal.Buffer

	textures map[gpu.Handle]*textureObject
	buffers  map[gpu.Handle]*bufferObject
	shaders  map[gpu.Handle]*shaderObject
	computes map[gpu.Handle]*computeObject
	views    map[gpu.Handle]*viewsObject
	fences   map[gpu.Handle]*fenceObject
	cmdLists map[gpu.Handle]*commandList
}

var _ gpu.Device = (*Device)(nil)

type textureObject struct {
	tex   hal.Texture
	desc  gpu.TextureDesc
	label string
}

type bufferObject struct {
	buf   hal.Buffer
	desc  gpu.BufferDesc
	label string
}

type shaderObject struct {
	module     hal.ShaderModule
	entryPoint string
	stage      gputypes.ShaderStage
}

type computeObject struct {
	pipeline   hal.ComputePipeline
	layout     hal.PipelineLayout
	bindLayout hal.BindGroupLayout
	uniforms   int
	srvs       int
	uavs       int
	label      string
}

type viewsObject struct {
	desc  gpu.ShaderViewsDesc
	label string
}

type fenceObject struct {
	fence hal.Fence
	// value is the last submitted signal value. Zero means the fence has
	// never been submitted, so a wait returns immediately.
	value uint64
}

// commandList captures recorded dispatches until submit. Encoding is
// deferred to SubmitCommandList because dynamic-constant chunks become
// device-backed only after recording finishes.
type commandList struct {
	label     string
	ops       []dispatchOp
	submitted bool

	// Populated at submit, released when the list is destroyed after its
	// fence signals.
	cmdBuf     hal.CommandBuffer
	bindGroups []hal.BindGroup
}

type dispatchOp struct {
	pipeline gpu.Handle
	views    gpu.Handle
	groups   [3]uint32
}

// New wraps an externally owned HAL device and queue. Close releases the
// backend's tracked objects but leaves the device itself alive.
func New(device hal.Device, queue hal.Queue, opts ...Option) *Device {
	d := &Device{
		device:       device,
		queue:        queue,
		fenceTimeout: defaultFenceTimeout,
		textures:     make(map[gpu.Handle]*textureObject),
		buffers:      make(map[gpu.Handle]*bufferObject),
		shaders:      make(map[gpu.Handle]*shaderObject),
		computes:     make(map[gpu.Handle]*computeObject),
		views:        make(map[gpu.Handle]*viewsObject),
		fences:       make(map[gpu.Handle]*fenceObject),
		cmdLists:     make(map[gpu.Handle]*commandList),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open acquires a Vulkan adapter, opens a device on it and returns a
// backend that owns the whole stack. Discrete and integrated GPUs are
// preferred over software adapters.
func Open(opts ...Option) (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, errors.New("vulkan backend not registered")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.New("no adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		dt := adapters[i].Info.DeviceType
		if dt == gputypes.DeviceTypeDiscreteGPU || dt == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open adapter %q: %w", selected.Info.Name, err)
	}
	d := New(openDev.Device, openDev.Queue, opts...)
	d.instance = instance
	d.owned = true
	framegraph.Logger().Info("wgpu: device opened", "adapter", selected.Info.Name)
	return d, nil
}

// Close destroys every object the backend still tracks. For devices
// acquired through Open it also destroys the HAL device and instance.
// The frame loop's shutdown destroys resources individually first, so
// this normally sweeps up only the null uniform.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cl := range d.cmdLists {
		d.releaseCommandList(cl)
	}
	for _, f := range d.fences {
		d.device.DestroyFence(f.fence)
	}
	for _, c := range d.computes {
		d.device.DestroyComputePipeline(c.pipeline)
		d.device.DestroyPipelineLayout(c.layout)
		d.device.DestroyBindGroupLayout(c.bindLayout)
	}
	for _, s := range d.shaders {
		d.device.DestroyShaderModule(s.module)
	}
	for _, b := range d.buffers {
		d.device.DestroyBuffer(b.buf)
	}
	for _, t := range d.textures {
		d.device.DestroyTexture(t.tex)
	}
	if d.nullUniform != nil {
		d.device.DestroyBuffer(d.nullUniform)
		d.nullUniform = nil
	}
	d.textures, d.buffers, d.shaders = nil, nil, nil
	d.computes, d.views, d.fences, d.cmdLists = nil, nil, nil, nil

	if d.owned {
		d.device.Destroy()
		d.instance.Destroy()
		d.owned = false
	}
	return nil
}

// CreateTexture creates a texture and, when data is non-nil, uploads the
// initial contents. Zero desc fields take their documented defaults.
func (d *Device) CreateTexture(h gpu.Handle, desc *gpu.TextureDesc, data []byte, debugName string) error {
	depth := desc.Depth
	if depth == 0 {
		depth = 1
	}
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	samples := desc.Samples
	if samples == 0 {
		samples = 1
	}
	dim := desc.Dimension
	var zeroDim gputypes.TextureDimension
	if dim == zeroDim {
		dim = gputypes.TextureDimension2D
	}
	usage := desc.Usage
	if data != nil {
		usage |= gputypes.TextureUsageCopyDst
	}

	var bpp uint32
	if data != nil {
		bpp = bytesPerPixel(desc.Format)
		if bpp == 0 {
			return fmt.Errorf("%w: initial data for format %v", ErrUnsupported, desc.Format)
		}
		if want := uint64(bpp) * uint64(desc.Width) * uint64(desc.Height) * uint64(depth); uint64(len(data)) != want {
			return fmt.Errorf("create texture %q: got %d bytes of data, want %d", debugName, len(data), want)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkNew(h, gpu.KindTexture); err != nil {
		return err
	}

	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label: debugName,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: depth,
		},
		MipLevelCount: mips,
		SampleCount:   samples,
		Dimension:     dim,
		Format:        desc.Format,
		Usage:         usage,
	})
	if err != nil {
		return fmt.Errorf("create texture %q: %w", debugName, err)
	}

	if data != nil {
		d.queue.WriteTexture(
			&hal.ImageCopyTexture{
				Texture:  tex,
				MipLevel: 0,
				Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
				Aspect:   gputypes.TextureAspectAll,
			},
			data,
			&hal.ImageDataLayout{
				Offset:       0,
				BytesPerRow:  bpp * desc.Width,
				RowsPerImage: desc.Height,
			},
			&hal.Extent3D{
				Width:              desc.Width,
				Height:             desc.Height,
				DepthOrArrayLayers: depth,
			},
		)
	}

	d.textures[h] = &textureObject{tex: tex, desc: *desc, label: debugName}
	return nil
}

// CreateBuffer creates a buffer. Non-nil data is uploaded through the
// queue; nil data still clears the allocation so dispatches never read
// stale device memory.
func (d *Device) CreateBuffer(h gpu.Handle, desc *gpu.BufferDesc, data []byte, debugName string) error {
	size := desc.Size
	if size < minBufferSize {
		size = minBufferSize
	}
	if uint64(len(data)) > size {
		return fmt.Errorf("create buffer %q: %d bytes of data exceed size %d", debugName, len(data), size)
	}
	usage := desc.Usage
	// Uploads and zero-fill both go through the queue.
	usage |= gputypes.BufferUsageCopyDst

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkNew(h, gpu.KindBuffer); err != nil {
		return err
	}

	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: debugName,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return fmt.Errorf("create buffer %q: %w", debugName, err)
	}

	if data != nil {
		d.queue.WriteBuffer(buf, 0, data)
	} else {
		d.queue.WriteBuffer(buf, 0, make([]byte, size))
	}

	d.buffers[h] = &bufferObject{buf: buf, desc: *desc, label: debugName}
	return nil
}

// CreateShader builds a shader module from the SPIR-V bytecode carried
// in desc.
func (d *Device) CreateShader(h gpu.Handle, desc *gpu.ShaderDesc, debugName string) error {
	words, err := spirvWords(desc.Code)
	if err != nil {
		return fmt.Errorf("create shader %q: %w", debugName, err)
	}
	entry := desc.EntryPoint
	if entry == "" {
		entry = "main"
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkNew(h, gpu.KindShader); err != nil {
		return err
	}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  debugName,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return fmt.Errorf("create shader %q: %w", debugName, err)
	}

	d.shaders[h] = &shaderObject{module: module, entryPoint: entry, stage: desc.Stage}
	return nil
}

// CreateFence creates a timeline fence starting at value zero.
func (d *Device) CreateFence(h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkNew(h, gpu.KindFence); err != nil {
		return err
	}
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	d.fences[h] = &fenceObject{fence: fence}
	return nil
}

// CreateCommandList opens an empty command list. Recording happens
// through RecordDispatch; the HAL encoder is built at submit.
func (d *Device) CreateCommandList(h gpu.Handle, debugName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkNew(h, gpu.KindCommandList); err != nil {
		return err
	}
	d.cmdLists[h] = &commandList{label: debugName}
	return nil
}

// DestroyResource releases whatever device object h names. Unknown
// handles are an error so leaks surface in tests instead of lingering.
func (d *Device) DestroyResource(h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch h.Kind() {
	case gpu.KindTexture:
		t, ok := d.textures[h]
		if !ok {
			return fmt.Errorf("destroy %v: unknown handle", h)
		}
		delete(d.textures, h)
		d.device.DestroyTexture(t.tex)
	case gpu.KindBuffer:
		b, ok := d.buffers[h]
		if !ok {
			return fmt.Errorf("destroy %v: unknown handle", h)
		}
		delete(d.buffers, h)
		d.device.DestroyBuffer(b.buf)
	case gpu.KindShader:
		s, ok := d.shaders[h]
		if !ok {
			return fmt.Errorf("destroy %v: unknown handle", h)
		}
		delete(d.shaders, h)
		d.device.DestroyShaderModule(s.module)
	case gpu.KindComputePipeline:
		c, ok := d.computes[h]
		if !ok {
			return fmt.Errorf("destroy %v: unknown handle", h)
		}
		delete(d.computes, h)
		d.device.DestroyComputePipeline(c.pipeline)
		d.device.DestroyPipelineLayout(c.layout)
		d.device.DestroyBindGroupLayout(c.bindLayout)
	case gpu.KindShaderViews:
		if _, ok := d.views[h]; !ok {
			return fmt.Errorf("destroy %v: unknown handle", h)
		}
		delete(d.views, h)
	case gpu.KindFence:
		f, ok := d.fences[h]
		if !ok {
			return fmt.Errorf("destroy %v: unknown handle", h)
		}
		delete(d.fences, h)
		d.device.DestroyFence(f.fence)
	case gpu.KindCommandList:
		cl, ok := d.cmdLists[h]
		if !ok {
			return fmt.Errorf("destroy %v: unknown handle", h)
		}
		delete(d.cmdLists, h)
		d.releaseCommandList(cl)
	default:
		return fmt.Errorf("destroy %v: unknown handle", h)
	}
	return nil
}

// releaseCommandList frees the submit products of cl. Caller holds d.mu.
func (d *Device) releaseCommandList(cl *commandList) {
	for _, bg := range cl.bindGroups {
		d.device.DestroyBindGroup(bg)
	}
	cl.bindGroups = nil
	if cl.cmdBuf != nil {
		d.device.FreeCommandBuffer(cl.cmdBuf)
		cl.cmdBuf = nil
	}
}

// WriteBuffer uploads data into buffer at offset. Queue writes land
// after previously submitted work and before the next submit, which
// orders them ahead of the dispatches recorded in cmd.
func (d *Device) WriteBuffer(cmd, buffer gpu.Handle, offset uint64, data []byte) error {
	d.mu.RLock()
	cl, clOK := d.cmdLists[cmd]
	var label string
	var submitted bool
	if clOK {
		label, submitted = cl.label, cl.submitted
	}
	b, bufOK := d.buffers[buffer]
	d.mu.RUnlock()

	if !clOK {
		return fmt.Errorf("write buffer: unknown command list %v", cmd)
	}
	if submitted {
		return fmt.Errorf("write buffer: %q already submitted", label)
	}
	if !bufOK {
		return fmt.Errorf("write buffer: unknown buffer %v", buffer)
	}
	size := b.desc.Size
	if size < minBufferSize {
		size = minBufferSize
	}
	if offset+uint64(len(data)) > size {
		return fmt.Errorf("write buffer %q: %d bytes at offset %d exceed size %d",
			b.label, len(data), offset, size)
	}
	d.queue.WriteBuffer(b.buf, offset, data)
	return nil
}

// SubmitCommandList encodes the recorded dispatches into a fresh HAL
// command buffer and submits it, signalling fence at a new timeline
// value. An empty list still signals the fence.
func (d *Device) SubmitCommandList(cmd, fence gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cl, ok := d.cmdLists[cmd]
	if !ok {
		return fmt.Errorf("submit: unknown command list %v", cmd)
	}
	if cl.submitted {
		return fmt.Errorf("submit: %q already submitted", cl.label)
	}
	fobj, ok := d.fences[fence]
	if !ok {
		return fmt.Errorf("submit %q: unknown fence %v", cl.label, fence)
	}

	if len(cl.ops) == 0 {
		fobj.value++
		if err := d.queue.Submit(nil, fobj.fence, fobj.value); err != nil {
			fobj.value--
			return fmt.Errorf("submit %q: %w", cl.label, err)
		}
		cl.submitted = true
		return nil
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: cl.label})
	if err != nil {
		return fmt.Errorf("submit %q: create encoder: %w", cl.label, err)
	}
	if err := encoder.BeginEncoding(cl.label); err != nil {
		return fmt.Errorf("submit %q: begin encoding: %w", cl.label, err)
	}

	var groups []hal.BindGroup
	abort := func(err error) error {
		encoder.DiscardEncoding()
		for _, bg := range groups {
			d.device.DestroyBindGroup(bg)
		}
		return err
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: cl.label})
	for _, op := range cl.ops {
		pobj, ok := d.computes[op.pipeline]
		if !ok {
			return abort(fmt.Errorf("submit %q: pipeline %v destroyed before submit", cl.label, op.pipeline))
		}
		bg, err := d.bindGroupFor(op, pobj)
		if err != nil {
			return abort(fmt.Errorf("submit %q: bind %q: %w", cl.label, pobj.label, err))
		}
		groups = append(groups, bg)
		pass.SetPipeline(pobj.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(op.groups[0], op.groups[1], op.groups[2])
	}
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		for _, bg := range groups {
			d.device.DestroyBindGroup(bg)
		}
		return fmt.Errorf("submit %q: end encoding: %w", cl.label, err)
	}

	fobj.value++
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fobj.fence, fobj.value); err != nil {
		fobj.value--
		for _, bg := range groups {
			d.device.DestroyBindGroup(bg)
		}
		d.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("submit %q: %w", cl.label, err)
	}

	cl.cmdBuf = cmdBuf
	cl.bindGroups = groups
	cl.submitted = true
	framegraph.Logger().Debug("wgpu: submitted",
		"list", cl.label, "dispatches", len(cl.ops), "fence", fence)
	return nil
}

// WaitForFence blocks until the fence's last submitted value signals.
// A fence that has never been submitted returns immediately.
func (d *Device) WaitForFence(fence gpu.Handle) error {
	d.mu.RLock()
	fobj, ok := d.fences[fence]
	var hf hal.Fence
	var value uint64
	if ok {
		hf, value = fobj.fence, fobj.value
	}
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("wait: unknown fence %v", fence)
	}
	if value == 0 {
		return nil
	}
	signaled, err := d.device.Wait(hf, value, d.fenceTimeout)
	if err != nil {
		return fmt.Errorf("wait for fence %v: %w", fence, err)
	}
	if !signaled {
		return fmt.Errorf("wait for fence %v: timeout after %v", fence, d.fenceTimeout)
	}
	return nil
}

// PresentSwapChain hands the frame's output texture to the present hook.
// Without a hook the call logs and succeeds; headless runs read the
// output back through ReadBuffer or keep it device-local.
func (d *Device) PresentSwapChain(texture gpu.Handle) error {
	d.mu.RLock()
	_, ok := d.textures[texture]
	fn := d.presentFn
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("present: unknown texture %v", texture)
	}
	if fn != nil {
		return fn(texture)
	}
	framegraph.Logger().Debug("wgpu: present skipped, no surface hook", "texture", texture)
	return nil
}

// AdvanceFrame moves the backend's frame counter forward.
func (d *Device) AdvanceFrame() {
	d.mu.Lock()
	d.frame++
	d.mu.Unlock()
}

// Frame returns how many frames have been advanced.
func (d *Device) Frame() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frame
}

// DeviceWaitIdle drains the queue by submitting an empty batch against a
// throwaway fence and waiting for it.
func (d *Device) DeviceWaitIdle() error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wait idle: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit(nil, fence, 1); err != nil {
		return fmt.Errorf("wait idle: submit: %w", err)
	}
	signaled, err := d.device.Wait(fence, 1, d.fenceTimeout)
	if err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}
	if !signaled {
		return fmt.Errorf("wait idle: timeout after %v", d.fenceTimeout)
	}
	return nil
}

// ReadBuffer copies len(dst) bytes from buffer at offset into dst. It is
// not part of the gpu.Device contract; hosts use it to pull results off
// the device after DeviceWaitIdle. Buffers without MapRead usage are
// staged through a transient readback buffer.
func (d *Device) ReadBuffer(buffer gpu.Handle, offset uint64, dst []byte) error {
	d.mu.RLock()
	b, ok := d.buffers[buffer]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("read buffer: unknown buffer %v", buffer)
	}
	size := b.desc.Size
	if size < minBufferSize {
		size = minBufferSize
	}
	if offset+uint64(len(dst)) > size {
		return fmt.Errorf("read buffer %q: %d bytes at offset %d exceed size %d",
			b.label, len(dst), offset, size)
	}
	if len(dst) == 0 {
		return nil
	}

	if b.desc.Usage&gputypes.BufferUsageMapRead != 0 {
		if err := d.queue.ReadBuffer(b.buf, offset, dst); err != nil {
			return fmt.Errorf("read buffer %q: %w", b.label, err)
		}
		return nil
	}
	if b.desc.Usage&gputypes.BufferUsageCopySrc == 0 {
		return fmt.Errorf("read buffer %q: usage lacks MapRead and CopySrc", b.label)
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback-staging",
		Size:  uint64(len(dst)),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("read buffer %q: create staging: %w", b.label, err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		return fmt.Errorf("read buffer %q: create encoder: %w", b.label, err)
	}
	if err := encoder.BeginEncoding("readback"); err != nil {
		return fmt.Errorf("read buffer %q: begin encoding: %w", b.label, err)
	}
	encoder.CopyBufferToBuffer(b.buf, staging, []hal.BufferCopy{{
		SrcOffset: offset,
		DstOffset: 0,
		Size:      uint64(len(dst)),
	}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("read buffer %q: end encoding: %w", b.label, err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("read buffer %q: create fence: %w", b.label, err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("read buffer %q: submit copy: %w", b.label, err)
	}
	signaled, err := d.device.Wait(fence, 1, d.fenceTimeout)
	if err != nil {
		return fmt.Errorf("read buffer %q: %w", b.label, err)
	}
	if !signaled {
		return fmt.Errorf("read buffer %q: timeout after %v", b.label, d.fenceTimeout)
	}
	if err := d.queue.ReadBuffer(staging, 0, dst); err != nil {
		return fmt.Errorf("read buffer %q: %w", b.label, err)
	}
	return nil
}

// checkNew validates a handle before a create inserts it. Caller holds
// d.mu.
func (d *Device) checkNew(h gpu.Handle, want gpu.ResourceKind) error {
	if !h.Valid() {
		return fmt.Errorf("create %s: invalid handle", want)
	}
	if h.Kind() != want {
		return fmt.Errorf("create %s: handle %v has wrong kind", want, h)
	}
	exists := false
	switch want {
	case gpu.KindTexture:
		_, exists = d.textures[h]
	case gpu.KindBuffer:
		_, exists = d.buffers[h]
	case gpu.KindShader:
		_, exists = d.shaders[h]
	case gpu.KindComputePipeline:
		_, exists = d.computes[h]
	case gpu.KindShaderViews:
		_, exists = d.views[h]
	case gpu.KindFence:
		_, exists = d.fences[h]
	case gpu.KindCommandList:
		_, exists = d.cmdLists[h]
	}
	if exists {
		return fmt.Errorf("create %s: handle %v already in use", want, h)
	}
	return nil
}

// ensureNullUniform returns the shared zero-filled uniform buffer,
// creating it on first use. Caller holds d.mu.
func (d *Device) ensureNullUniform() (hal.Buffer, error) {
	if d.nullUniform != nil {
		return d.nullUniform, nil
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "null-uniform",
		Size:  256,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create null uniform: %w", err)
	}
	d.queue.WriteBuffer(buf, 0, make([]byte, 256))
	d.nullUniform = buf
	return buf, nil
}

// spirvWords reinterprets SPIR-V bytes as little-endian 32-bit words,
// the layout naga emits.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 {
		return nil, errors.New("empty bytecode")
	}
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("bytecode length %d is not a whole number of words", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = uint32(code[i*4]) |
			uint32(code[i*4+1])<<8 |
			uint32(code[i*4+2])<<16 |
			uint32(code[i*4+3])<<24
	}
	return words, nil
}

// bytesPerPixel returns the texel size for formats the backend can
// upload initial data into, or zero for everything else.
func bytesPerPixel(format gputypes.TextureFormat) uint32 {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4
	default:
		return 0
	}
}
