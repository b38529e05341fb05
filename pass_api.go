// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

var (
	// ErrMissingBinding is returned by BindViews when the shader declares a
	// resource name no binding was provided for. It is recoverable because
	// shader hot reload can change binding sets underneath correct code.
	ErrMissingBinding = errors.New("framegraph: shader binding not provided")

	// ErrUnusedBinding is returned by BindViews when a provided binding
	// matches no name the shader declares, which usually means a typo or a
	// binding left behind after a shader edit.
	ErrUnusedBinding = errors.New("framegraph: binding not used by shader")
)

// PassAPI is the surface a render callback records through. It couples the
// execution registry with the frame's live command list and the name of the
// pass being recorded, which doubles as the debug label for device objects
// the callback creates.
type PassAPI struct {
	reg      *Registry
	cmd      gpu.Handle
	passName string
}

// Pass returns the recording pass's name.
func (api *PassAPI) Pass() string { return api.passName }

// CommandList returns the frame's command list handle for callbacks that
// record through the device directly.
func (api *PassAPI) CommandList() gpu.Handle { return api.cmd }

// Device returns the device this execution records against.
func (api *PassAPI) Device() gpu.Device { return api.reg.Device() }

// Registry returns the execution's resource registry.
func (api *PassAPI) Registry() *Registry { return api.reg }

// Texture resolves a texture reference to its physical handle.
func (api *PassAPI) Texture(ref TextureRef) gpu.Handle { return api.reg.Texture(ref) }

// Buffer resolves a buffer reference to its physical handle.
func (api *PassAPI) Buffer(ref BufferRef) gpu.Handle { return api.reg.Buffer(ref) }

// Constants returns the frame's dynamic constants allocator, or nil when
// execution was configured without one. Use Push to place typed values.
func (api *PassAPI) Constants() *DynamicConstants { return api.reg.Constants() }

// ComputePipeline resolves the compute pipeline for the shader at path,
// compiling and caching on first use. The returned entry carries the
// shader's reflected binding names and thread-group size.
func (api *PassAPI) ComputePipeline(path string) (gpu.Handle, *gpu.ShaderEntry, error) {
	return api.reg.pipelines.GetOrLoadCompute(path)
}

// RasterPipeline resolves the raster pipeline for the vertex/pixel shader
// pair under the given fixed-function state and render target formats. The
// reflected entries for both stages accompany the pipeline so the callback
// can build binding sets.
func (api *PassAPI) RasterPipeline(vsPath, psPath string, state gpu.RasterState, formats ...gputypes.TextureFormat) (gpu.Handle, *gpu.ShaderEntry, *gpu.ShaderEntry, error) {
	return api.reg.pipelines.GetOrLoadRaster(vsPath, psPath, state, formats)
}

// Binding associates a shader-declared resource name with a reference of
// the matching access mode. Construct with SRV, UAV or Uniform.
type Binding struct {
	name     string
	srv      SrvSource
	uav      UavSource
	uniform  ConstantAllocation
	constant bool
}

// SRV binds a read reference to the shader resource named name.
func SRV(name string, src SrvSource) Binding { return Binding{name: name, srv: src} }

// UAV binds a write reference to the shader resource named name.
func UAV(name string, src UavSource) Binding { return Binding{name: name, uav: src} }

// Uniform binds pushed constant data to the shader's uniform buffer slot.
// The shader declares at most one uniform buffer, so no name is needed.
func Uniform(a ConstantAllocation) Binding { return Binding{uniform: a, constant: true} }

// BindViews builds the shader-views binding set for entry from the given
// name/reference pairs, ordered by the shader's reflected slot order. Every
// name the shader declares must be bound and every provided binding must be
// consumed. The views handle is transient and retires with the frame.
func (api *PassAPI) BindViews(entry *gpu.ShaderEntry, bindings ...Binding) (gpu.Handle, error) {
	used := make([]bool, len(bindings))
	var desc gpu.ShaderViewsDesc
	for _, name := range entry.SRVs {
		found := false
		for i, b := range bindings {
			if b.name == name && b.srv != nil {
				desc.SRVs = append(desc.SRVs, api.reg.resolveView(b.srv.srvRaw()))
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return gpu.InvalidHandle, fmt.Errorf("%w: srv %q", ErrMissingBinding, name)
		}
	}
	for _, name := range entry.UAVs {
		found := false
		for i, b := range bindings {
			if b.name == name && b.uav != nil {
				desc.UAVs = append(desc.UAVs, api.reg.resolveView(b.uav.uavRaw()))
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return gpu.InvalidHandle, fmt.Errorf("%w: uav %q", ErrMissingBinding, name)
		}
	}
	if entry.HasUniform {
		found := false
		for i, b := range bindings {
			if b.constant {
				desc.Constants = b.uniform.Buffer
				desc.ConstantsOffset = b.uniform.Offset
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return gpu.InvalidHandle, fmt.Errorf("%w: uniform buffer", ErrMissingBinding)
		}
	}
	for i, b := range bindings {
		if !used[i] {
			if b.constant {
				return gpu.InvalidHandle, fmt.Errorf("%w: uniform buffer", ErrUnusedBinding)
			}
			return gpu.InvalidHandle, fmt.Errorf("%w: %q", ErrUnusedBinding, b.name)
		}
	}
	h := api.reg.alloc.Transient(gpu.KindShaderViews)
	if err := api.reg.device.CreateShaderViews(h, &desc, api.passName); err != nil {
		return gpu.InvalidHandle, err
	}
	return h, nil
}

// Dispatch records a compute dispatch into the frame's command list. Pass
// gpu.InvalidHandle for views when the shader binds nothing.
func (api *PassAPI) Dispatch(pipeline, views gpu.Handle, groups [3]uint32) error {
	return api.reg.device.RecordDispatch(api.cmd, pipeline, views, groups)
}

// Draw records a raster draw into the frame's command list.
func (api *PassAPI) Draw(pipeline, renderPass, bindings gpu.Handle, vertexCount, instanceCount uint32) error {
	return api.reg.device.RecordDraw(api.cmd, pipeline, renderPass, bindings, vertexCount, instanceCount)
}

// WriteBuffer schedules an upload into buffer at offset, ordered before the
// commands this frame submits.
func (api *PassAPI) WriteBuffer(buffer gpu.Handle, offset uint64, data []byte) error {
	return api.reg.device.WriteBuffer(api.cmd, buffer, offset, data)
}
