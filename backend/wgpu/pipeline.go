// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/gpu"
)

// computeLayoutEntries synthesizes the bind group layout for a compute
// pipeline's reflected counts. Binding indices run contiguously from
// zero: uniform slots, then read-only storage for SRVs, then read-write
// storage for UAVs.
func computeLayoutEntries(uniforms, srvs, uavs int) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, uniforms+srvs+uavs)
	binding := uint32(0)
	add := func(n int, bindingType gputypes.BufferBindingType) {
		for i := 0; i < n; i++ {
			entries = append(entries, gputypes.BindGroupLayoutEntry{
				Binding:    binding,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: bindingType},
			})
			binding++
		}
	}
	add(uniforms, gputypes.BufferBindingTypeUniform)
	add(srvs, gputypes.BufferBindingTypeReadOnlyStorage)
	add(uavs, gputypes.BufferBindingTypeStorage)
	return entries
}

// CreateComputePipeline builds the bind group layout, pipeline layout
// and pipeline for a compute shader.
func (d *Device) CreateComputePipeline(h gpu.Handle, desc *gpu.ComputePipelineDesc, debugName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkNew(h, gpu.KindComputePipeline); err != nil {
		return err
	}

	sobj, ok := d.shaders[desc.Shader]
	if !ok {
		return fmt.Errorf("create compute pipeline %q: unknown shader %v", debugName, desc.Shader)
	}
	if sobj.stage != gputypes.ShaderStageCompute {
		return fmt.Errorf("create compute pipeline %q: shader %v is not a compute shader", debugName, desc.Shader)
	}

	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   debugName,
		Entries: computeLayoutEntries(desc.ConstantBuffers, desc.SRVCount, desc.UAVCount),
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline %q: bind group layout: %w", debugName, err)
	}

	layout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            debugName,
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		d.device.DestroyBindGroupLayout(bindLayout)
		return fmt.Errorf("create compute pipeline %q: pipeline layout: %w", debugName, err)
	}

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  debugName,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     sobj.module,
			EntryPoint: sobj.entryPoint,
		},
	})
	if err != nil {
		d.device.DestroyPipelineLayout(layout)
		d.device.DestroyBindGroupLayout(bindLayout)
		return fmt.Errorf("create compute pipeline %q: %w", debugName, err)
	}

	d.computes[h] = &computeObject{
		pipeline:   pipeline,
		layout:     layout,
		bindLayout: bindLayout,
		uniforms:   desc.ConstantBuffers,
		srvs:       desc.SRVCount,
		uavs:       desc.UAVCount,
		label:      debugName,
	}
	return nil
}

// CreateShaderViews snapshots the binding set for later dispatches. The
// constants buffer may name a chunk that is not device-backed yet; it
// resolves at submit, after the frame's constants have been committed.
func (d *Device) CreateShaderViews(h gpu.Handle, desc *gpu.ShaderViewsDesc, debugName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkNew(h, gpu.KindShaderViews); err != nil {
		return err
	}

	check := func(slot string, handles []gpu.Handle) error {
		for i, res := range handles {
			if res.Kind() == gpu.KindTexture {
				return fmt.Errorf("create shader views %q: %s %d: %w: texture bindings, use buffer-backed resources",
					debugName, slot, i, ErrUnsupported)
			}
			if _, ok := d.buffers[res]; !ok {
				return fmt.Errorf("create shader views %q: %s %d: unknown buffer %v", debugName, slot, i, res)
			}
		}
		return nil
	}
	if err := check("srv", desc.SRVs); err != nil {
		return err
	}
	if err := check("uav", desc.UAVs); err != nil {
		return err
	}
	if desc.Constants.Valid() && desc.Constants.Kind() != gpu.KindBuffer {
		return fmt.Errorf("create shader views %q: constants handle %v is not a buffer", debugName, desc.Constants)
	}

	cp := gpu.ShaderViewsDesc{
		SRVs:            append([]gpu.Handle(nil), desc.SRVs...),
		UAVs:            append([]gpu.Handle(nil), desc.UAVs...),
		Constants:       desc.Constants,
		ConstantsOffset: desc.ConstantsOffset,
	}
	d.views[h] = &viewsObject{desc: cp, label: debugName}
	return nil
}

// RecordDispatch appends a dispatch to the command list. Encoding is
// deferred to submit. Dispatches with a zero group count in any
// dimension are dropped.
func (d *Device) RecordDispatch(cmd, pipeline, views gpu.Handle, groups [3]uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cl, ok := d.cmdLists[cmd]
	if !ok {
		return fmt.Errorf("record dispatch: unknown command list %v", cmd)
	}
	if cl.submitted {
		return fmt.Errorf("record dispatch: %q already submitted", cl.label)
	}
	pobj, ok := d.computes[pipeline]
	if !ok {
		return fmt.Errorf("record dispatch: unknown pipeline %v", pipeline)
	}
	if views.Valid() {
		vobj, ok := d.views[views]
		if !ok {
			return fmt.Errorf("record dispatch: unknown shader views %v", views)
		}
		if len(vobj.desc.SRVs) != pobj.srvs || len(vobj.desc.UAVs) != pobj.uavs {
			return fmt.Errorf("record dispatch: %q wants %d srvs and %d uavs, views %q carry %d and %d",
				pobj.label, pobj.srvs, pobj.uavs, vobj.label, len(vobj.desc.SRVs), len(vobj.desc.UAVs))
		}
	} else if pobj.srvs+pobj.uavs > 0 {
		return fmt.Errorf("record dispatch: %q wants %d srvs and %d uavs, got no views",
			pobj.label, pobj.srvs, pobj.uavs)
	}

	if groups[0] == 0 || groups[1] == 0 || groups[2] == 0 {
		return nil
	}
	cl.ops = append(cl.ops, dispatchOp{pipeline: pipeline, views: views, groups: groups})
	return nil
}

// bindGroupFor assembles the bind group for one recorded dispatch.
// Caller holds d.mu.
func (d *Device) bindGroupFor(op dispatchOp, pobj *computeObject) (hal.BindGroup, error) {
	var vdesc *gpu.ShaderViewsDesc
	if op.views.Valid() {
		vobj, ok := d.views[op.views]
		if !ok {
			return nil, fmt.Errorf("shader views %v destroyed before submit", op.views)
		}
		vdesc = &vobj.desc
	}

	entries := make([]gputypes.BindGroupEntry, 0, pobj.uniforms+pobj.srvs+pobj.uavs)
	binding := uint32(0)
	add := func(buf hal.Buffer, offset uint64) {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: offset,
				Size:   0, // 0 = rest of the buffer
			},
		})
		binding++
	}

	for i := 0; i < pobj.uniforms; i++ {
		if i == 0 && vdesc != nil && vdesc.Constants.Valid() {
			chunk, ok := d.buffers[vdesc.Constants]
			if !ok {
				return nil, fmt.Errorf("constants buffer %v not device-backed at submit", vdesc.Constants)
			}
			add(chunk.buf, uint64(vdesc.ConstantsOffset))
			continue
		}
		nu, err := d.ensureNullUniform()
		if err != nil {
			return nil, err
		}
		add(nu, 0)
	}

	if vdesc != nil {
		for _, res := range vdesc.SRVs {
			buf, err := d.bindableBuffer(res)
			if err != nil {
				return nil, err
			}
			add(buf, 0)
		}
		for _, res := range vdesc.UAVs {
			buf, err := d.bindableBuffer(res)
			if err != nil {
				return nil, err
			}
			add(buf, 0)
		}
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   pobj.label,
		Layout:  pobj.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}
	return bg, nil
}

// bindableBuffer resolves a view handle to its HAL buffer. Caller holds
// d.mu.
func (d *Device) bindableBuffer(h gpu.Handle) (hal.Buffer, error) {
	if h.Kind() == gpu.KindTexture {
		return nil, fmt.Errorf("%w: texture %v in compute bindings", ErrUnsupported, h)
	}
	bobj, ok := d.buffers[h]
	if !ok {
		return nil, fmt.Errorf("unknown buffer %v in shader views", h)
	}
	return bobj.buf, nil
}

// CreateRasterPipeline reports ErrUnsupported; the backend encodes
// compute work only.
func (d *Device) CreateRasterPipeline(h gpu.Handle, desc *gpu.RasterPipelineDesc, debugName string) error {
	return fmt.Errorf("create raster pipeline %q: %w", debugName, ErrUnsupported)
}

// CreateRenderPass reports ErrUnsupported.
func (d *Device) CreateRenderPass(h gpu.Handle, desc *gpu.RenderPassDesc, debugName string) error {
	return fmt.Errorf("create render pass %q: %w", debugName, ErrUnsupported)
}

// CreateFrameBindingSet reports ErrUnsupported.
func (d *Device) CreateFrameBindingSet(h gpu.Handle, desc *gpu.FrameBindingSetDesc, debugName string) error {
	return fmt.Errorf("create frame binding set %q: %w", debugName, ErrUnsupported)
}

// RecordDraw reports ErrUnsupported.
func (d *Device) RecordDraw(cmd, pipeline, renderPass, bindings gpu.Handle, vertexCount, instanceCount uint32) error {
	return fmt.Errorf("record draw: %w", ErrUnsupported)
}
