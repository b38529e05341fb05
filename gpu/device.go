// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "github.com/gogpu/gputypes"

// TextureDesc describes a texture to create. It doubles as the logical
// shape description the frame graph records before any device object
// exists.
type TextureDesc struct {
	// Width and Height are the texture extent in pixels.
	Width  uint32
	Height uint32

	// Depth is the depth for 3D textures or the array layer count.
	// Zero is treated as 1.
	Depth uint32

	// MipLevels is the mip chain length. Zero is treated as 1.
	MipLevels uint32

	// Samples is the multisample count. Zero is treated as 1.
	Samples uint32

	// Dimension distinguishes 1D/2D/3D. The zero value means 2D for
	// backends that share gputypes' convention.
	Dimension gputypes.TextureDimension

	// Format is the pixel format.
	Format gputypes.TextureFormat

	// Usage declares how the texture will be bound. The frame graph fills
	// in a sampled, copyable default for transient resources that leave it
	// zero; backends add storage capability as their API requires.
	Usage gputypes.TextureUsage
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Size in bytes.
	Size uint64

	// Usage declares how the buffer will be bound.
	Usage gputypes.BufferUsage
}

// ShaderDesc carries driver-consumable bytecode for one shader stage.
// Compilation and reflection happen in the shader cache collaborator; by
// the time a ShaderDesc reaches a Device it is plain bytes.
type ShaderDesc struct {
	Stage      gputypes.ShaderStage
	Code       []byte
	EntryPoint string
}

// ComputePipelineDesc describes a compute pipeline. The binding signature
// is synthesized from the shader's reflected resource counts: SRVCount
// read-only slots, UAVCount read-write slots, plus ConstantBuffers uniform
// slots (the frame constants ring occupies one).
type ComputePipelineDesc struct {
	Shader          Handle
	SRVCount        int
	UAVCount        int
	ConstantBuffers int
}

// RasterState is the fixed-function state a raster pipeline bakes in.
// Two pipelines with the same shaders but different state are distinct
// cache entries, which is why the pipeline cache hashes this struct into
// its key.
type RasterState struct {
	Topology  gputypes.PrimitiveTopology
	CullMode  gputypes.CullMode
	FrontFace gputypes.FrontFace

	DepthEnable  bool
	DepthWrite   bool
	DepthCompare gputypes.CompareFunction

	BlendEnable bool
	SrcBlend    gputypes.BlendFactor
	DstBlend    gputypes.BlendFactor
	BlendOp     gputypes.BlendOperation

	WriteMask gputypes.ColorWriteMask
}

// RasterPipelineDesc describes a raster pipeline: two shaders, the
// fixed-function state, and the formats of every render target it will be
// used with.
type RasterPipelineDesc struct {
	VertexShader  Handle
	PixelShader   Handle
	State         RasterState
	TargetFormats []gputypes.TextureFormat
}

// ShaderViewsDesc binds physical resources to a shader's reflected binding
// slots: SRVs in reflected read-only slot order, UAVs in reflected
// read-write slot order. Handles may name textures or buffers; the handle
// kind tells the backend which view flavor to build.
//
// Constants, when valid, names the buffer occupying the pipeline's
// constant-buffer slot, with the bound window starting at ConstantsOffset.
type ShaderViewsDesc struct {
	SRVs []Handle
	UAVs []Handle

	Constants       Handle
	ConstantsOffset uint32
}

// RenderPassDesc describes render target formats for a raster pass.
// DepthFormat is gputypes.TextureFormatUndefined when there is no depth
// attachment.
type RenderPassDesc struct {
	ColorFormats []gputypes.TextureFormat
	DepthFormat  gputypes.TextureFormat
}

// FrameBindingSetDesc names the physical textures a raster pass renders
// into. DepthTarget is InvalidHandle when there is no depth attachment.
type FrameBindingSetDesc struct {
	ColorTargets []Handle
	DepthTarget  Handle
}

// Device is the capability surface the frame graph calls during execution.
// The core never implements it; backends and test mocks do.
//
// Creation calls receive a pre-allocated Handle plus a descriptor and a
// debug name, and bind the new device object to that handle. All calls
// that can fail return an error; the graph treats those as recoverable
// (frame-level) failures, not programming errors.
//
// Thread Safety: the frame graph drives a Device from a single goroutine
// per frame, but caches may create pipelines from wherever the frame
// driver runs. Implementations should be safe for concurrent use.
type Device interface {
	CreateTexture(h Handle, desc *TextureDesc, data []byte, debugName string) error
	CreateBuffer(h Handle, desc *BufferDesc, data []byte, debugName string) error
	CreateShader(h Handle, desc *ShaderDesc, debugName string) error
	CreateComputePipeline(h Handle, desc *ComputePipelineDesc, debugName string) error
	CreateRasterPipeline(h Handle, desc *RasterPipelineDesc, debugName string) error
	CreateShaderViews(h Handle, desc *ShaderViewsDesc, debugName string) error
	CreateRenderPass(h Handle, desc *RenderPassDesc, debugName string) error
	CreateFrameBindingSet(h Handle, desc *FrameBindingSetDesc, debugName string) error
	CreateFence(h Handle) error
	CreateCommandList(h Handle, debugName string) error

	// DestroyResource releases the device object bound to h, whatever its
	// kind. Destroying an unknown handle is an error.
	DestroyResource(h Handle) error

	// WriteBuffer schedules an upload of data into buffer at offset,
	// ordered before the commands recorded in cmd execute.
	WriteBuffer(cmd, buffer Handle, offset uint64, data []byte) error

	// RecordDispatch records a compute dispatch into cmd: bind pipeline,
	// bind views (InvalidHandle when the shader has no bindings), dispatch
	// groups[0]*groups[1]*groups[2] thread groups.
	RecordDispatch(cmd, pipeline, views Handle, groups [3]uint32) error

	// RecordDraw records a raster draw into cmd against the given render
	// pass and frame binding set.
	RecordDraw(cmd, pipeline, renderPass, bindings Handle, vertexCount, instanceCount uint32) error

	// SubmitCommandList submits cmd for asynchronous GPU execution and
	// associates fence with its completion.
	SubmitCommandList(cmd, fence Handle) error

	// WaitForFence blocks until the fence signals.
	WaitForFence(fence Handle) error

	// PresentSwapChain presents the given texture.
	PresentSwapChain(texture Handle) error

	// AdvanceFrame moves the device's internal frame counter forward.
	AdvanceFrame()

	// DeviceWaitIdle blocks until all submitted GPU work has completed.
	DeviceWaitIdle() error
}
