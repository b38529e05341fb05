// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/framegraph/gpu"
)

// DefaultQueueDepth is the retirement queue depth when no option overrides
// it: double buffering, so the CPU records frame N+1 while the GPU still
// draws frame N.
const DefaultQueueDepth = 2

// BuildFunc records one frame's passes into g and returns the logical
// texture the frame presents.
type BuildFunc func(g *Graph) (*TextureHandle, error)

// frameBundle is everything one frame must keep alive until its fence
// signals: every transient handle the frame allocated (command list and
// fence included) plus externally scheduled releases. A bundle without a
// fence belongs to a frame that never reached submission and may be
// destroyed without waiting.
type frameBundle struct {
	handles []gpu.Handle
	fence   gpu.Handle
}

// FrameLoop drives frames through build, execute, submit, present and
// retirement. It owns the handle allocator, the pipeline cache, the dynamic
// constants allocator and the pre-allocated error placeholder; the shader
// cache stays external because shader sources and hot reload are the
// host's concern.
//
// A frame that fails to build or execute degrades: its completed commands
// are still submitted, the error placeholder is presented in place of the
// output, and the loop keeps running. Only infrastructure failures (fence
// wait, fence creation, submission, presentation) surface as errors from
// RenderFrame.
//
// FrameLoop methods must be called from one goroutine.
type FrameLoop struct {
	device    gpu.Device
	alloc     *gpu.TrackingAllocator
	pipelines *PipelineCache
	constants *DynamicConstants
	ctx       *FrameContext

	queue []*frameBundle
	depth int
	frame uint64

	errorTexture gpu.Handle
	errW, errH   uint32
}

// LoopOption configures a FrameLoop.
type LoopOption func(*FrameLoop)

// WithQueueDepth sets how many frames may be in flight; the CPU runs ahead
// of the GPU by at most n-1 frames. Values below 2 are raised to 2.
func WithQueueDepth(n int) LoopOption {
	return func(fl *FrameLoop) {
		fl.depth = n
	}
}

// WithErrorTextureSize sets the pixel size of the pre-allocated error
// placeholder. Default is 256x256.
func WithErrorTextureSize(width, height uint32) LoopOption {
	return func(fl *FrameLoop) {
		if width > 0 && height > 0 {
			fl.errW, fl.errH = width, height
		}
	}
}

// WithAllocator makes the loop allocate handles from a, instead of a fresh
// tracking allocator of its own. Hosts whose collaborators mint handles too
// (a shader cache, externally owned resources) pass the shared allocator
// here so indices stay unique across the device.
func WithAllocator(a *gpu.TrackingAllocator) LoopOption {
	return func(fl *FrameLoop) {
		if a != nil {
			fl.alloc = a
		}
	}
}

// NewFrameLoop builds a frame driver over device, resolving shaders through
// shaders. The error placeholder texture is created eagerly so a broken
// first frame already has something to present.
func NewFrameLoop(device gpu.Device, shaders gpu.ShaderCache, opts ...LoopOption) (*FrameLoop, error) {
	if device == nil {
		panic("framegraph: NewFrameLoop: nil device")
	}
	if shaders == nil {
		panic("framegraph: NewFrameLoop: nil shader cache")
	}
	fl := &FrameLoop{
		device: device,
		depth:  DefaultQueueDepth,
		errW:   256,
		errH:   256,
	}
	for _, opt := range opts {
		opt(fl)
	}
	if fl.depth < 2 {
		fl.depth = 2
	}
	fl.queue = make([]*frameBundle, fl.depth)
	if fl.alloc == nil {
		fl.alloc = gpu.NewTrackingAllocator(gpu.NewSequentialAllocator())
	}
	fl.pipelines = NewPipelineCache(device, fl.alloc, shaders)
	fl.constants = NewDynamicConstants(device, fl.alloc)
	fl.ctx = NewFrameContext()

	errTex := fl.alloc.Persistent(gpu.KindTexture)
	desc := gpu.TextureDesc{
		Width:  fl.errW,
		Height: fl.errH,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  defaultTextureUsage,
	}
	if err := device.CreateTexture(errTex, &desc, errorTexturePixels(fl.errW, fl.errH), "error-texture"); err != nil {
		return nil, fmt.Errorf("framegraph: create error texture: %w", err)
	}
	fl.errorTexture = errTex

	Logger().Info("framegraph: frame loop ready", "queueDepth", fl.depth)
	return fl, nil
}

// Allocator returns the loop's handle allocator. External owners that
// create device objects themselves must mint handles here so indices stay
// unique across the device.
func (fl *FrameLoop) Allocator() gpu.HandleAllocator { return fl.alloc }

// Pipelines returns the loop's pipeline cache.
func (fl *FrameLoop) Pipelines() *PipelineCache { return fl.pipelines }

// Constants returns the loop's dynamic constants allocator.
func (fl *FrameLoop) Constants() *DynamicConstants { return fl.constants }

// Context returns the loop's frame context for deferred releases.
func (fl *FrameLoop) Context() *FrameContext { return fl.ctx }

// Frame returns the number of RenderFrame calls made so far.
func (fl *FrameLoop) Frame() uint64 { return fl.frame }

// RenderFrame runs one frame: retire the oldest in-flight frame, build and
// execute a fresh graph, upload constants, submit, present and queue the
// new frame's resources for retirement.
//
// The fence wait in the retirement step is the only point where the CPU
// blocks on the GPU. If that wait fails, the bundle stays at the front of
// the queue and the next call retries it.
func (fl *FrameLoop) RenderFrame(build BuildFunc) error {
	if build == nil {
		panic("framegraph: RenderFrame with nil build function")
	}

	if bundle := fl.queue[0]; bundle != nil {
		if bundle.fence != gpu.InvalidHandle {
			if err := fl.device.WaitForFence(bundle.fence); err != nil {
				return fmt.Errorf("framegraph: wait retirement fence: %w", err)
			}
		}
		fl.destroyBundle(bundle)
	}
	copy(fl.queue, fl.queue[1:])
	fl.queue[fl.depth-1] = nil

	fl.frame++

	graph := NewGraph()
	output, err := build(graph)
	if err != nil {
		return fl.presentFallback(err)
	}
	if output == nil {
		panic("framegraph: build returned nil output without error")
	}

	cmd := fl.alloc.Transient(gpu.KindCommandList)
	if err := fl.device.CreateCommandList(cmd, fmt.Sprintf("frame-%d", fl.frame)); err != nil {
		return fl.presentFallback(fmt.Errorf("framegraph: create command list: %w", err))
	}

	out, execErr := graph.Execute(ExecuteParams{
		Device:    fl.device,
		Allocator: fl.alloc,
		Pipelines: fl.pipelines,
		Constants: fl.constants,
	}, cmd, output)

	// Completed passes may have pushed constants their submitted commands
	// read, so the upload happens even for a degraded frame.
	if err := fl.constants.CommitAndReset(cmd); err != nil && execErr == nil {
		execErr = err
	}

	fence := fl.alloc.Transient(gpu.KindFence)
	if err := fl.device.CreateFence(fence); err != nil {
		fl.pushBundle(gpu.InvalidHandle)
		return fmt.Errorf("framegraph: create frame fence: %w", err)
	}
	if err := fl.device.SubmitCommandList(cmd, fence); err != nil {
		fl.pushBundle(gpu.InvalidHandle)
		return fmt.Errorf("framegraph: submit frame: %w", err)
	}

	presentTex := fl.errorTexture
	if execErr == nil {
		presentTex = out.Texture
	} else {
		Logger().Error("framegraph: frame degraded", "frame", fl.frame, "error", execErr)
	}
	presentErr := fl.device.PresentSwapChain(presentTex)

	fl.device.AdvanceFrame()
	fl.pushBundle(fence)

	if presentErr != nil {
		return fmt.Errorf("framegraph: present: %w", presentErr)
	}
	return nil
}

// presentFallback finishes a frame that never reached submission: the error
// placeholder is presented so the presentation loop stays alive, and the
// frame's (unsubmitted) allocations retire without a fence.
func (fl *FrameLoop) presentFallback(cause error) error {
	Logger().Error("framegraph: frame failed before submit", "frame", fl.frame, "error", cause)
	presentErr := fl.device.PresentSwapChain(fl.errorTexture)
	fl.device.AdvanceFrame()
	fl.pushBundle(gpu.InvalidHandle)
	if presentErr != nil {
		return fmt.Errorf("framegraph: present error texture: %w", presentErr)
	}
	return nil
}

// pushBundle drains this frame's transient allocations plus any externally
// scheduled releases into a bundle at the back of the queue. Persistent
// allocations (pipelines, constants chunks) are dropped from tracking here;
// their owners destroy them at shutdown.
func (fl *FrameLoop) pushBundle(fence gpu.Handle) {
	handles := fl.alloc.Drain().Transient
	handles = append(handles, fl.ctx.drainPending()...)
	fl.queue[fl.depth-1] = &frameBundle{handles: handles, fence: fence}
}

// destroyBundle destroys every handle in the bundle. Failures are logged
// and skipped; one undestroyable handle must not stall retirement.
func (fl *FrameLoop) destroyBundle(b *frameBundle) {
	for _, h := range b.handles {
		if err := fl.device.DestroyResource(h); err != nil {
			Logger().Warn("framegraph: retire destroy failed",
				"handle", h.String(), "error", err)
		}
	}
}

// Shutdown idles the device, then destroys everything the loop owns:
// queued bundles, constants chunks, cached pipelines and the error
// placeholder. Shader objects belong to the shader cache and are not
// touched. If idling fails nothing is destroyed, so a caller may retry.
func (fl *FrameLoop) Shutdown() error {
	if err := fl.device.DeviceWaitIdle(); err != nil {
		return fmt.Errorf("framegraph: wait idle: %w", err)
	}
	for i, b := range fl.queue {
		if b == nil {
			continue
		}
		// Device is idle, so every queued fence has signaled.
		fl.destroyBundle(b)
		fl.queue[i] = nil
	}
	fl.constants.Destroy()
	fl.pipelines.DestroyAll()
	if fl.errorTexture != gpu.InvalidHandle {
		if err := fl.device.DestroyResource(fl.errorTexture); err != nil {
			Logger().Warn("framegraph: error texture destroy failed", "error", err)
		}
		fl.errorTexture = gpu.InvalidHandle
	}
	for _, h := range fl.ctx.drainPending() {
		if err := fl.device.DestroyResource(h); err != nil {
			Logger().Warn("framegraph: pending release destroy failed",
				"handle", h.String(), "error", err)
		}
	}
	leftovers := fl.alloc.Drain()
	for _, h := range leftovers.Transient {
		if err := fl.device.DestroyResource(h); err != nil {
			Logger().Warn("framegraph: leftover transient destroy failed",
				"handle", h.String(), "error", err)
		}
	}
	if n := len(leftovers.Persistent); n > 0 {
		Logger().Debug("framegraph: persistent handles left to owners at shutdown", "count", n)
	}
	Logger().Info("framegraph: frame loop shut down", "frames", fl.frame)
	return nil
}

// errorTexturePixels renders the placeholder presented when a frame fails:
// a magenta and black checkerboard, unmistakable on screen. The 8x8 board
// is scaled up without filtering so the squares stay crisp.
func errorTexturePixels(width, height uint32) []byte {
	const cells = 8
	board := image.NewNRGBA(image.Rect(0, 0, cells, cells))
	magenta := color.NRGBA{R: 0xFF, B: 0xFF, A: 0xFF}
	black := color.NRGBA{A: 0xFF}
	for y := 0; y < cells; y++ {
		for x := 0; x < cells; x++ {
			c := magenta
			if (x+y)%2 == 1 {
				c = black
			}
			board.SetNRGBA(x, y, c)
		}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, int(width), int(height)))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), board, board.Bounds(), xdraw.Src, nil)
	return dst.Pix
}
