// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

type loopEnv struct {
	device  *mockDevice
	shaders *mockShaderCache
	loop    *FrameLoop
	// errTex is the pre-allocated placeholder, the loop's first creation.
	errTex gpu.Handle
}

func newLoopEnv(t *testing.T, opts ...LoopOption) *loopEnv {
	t.Helper()
	device := newMockDevice()
	shaders := newMockShaderCache(gpu.NewSequentialAllocator())
	loop, err := NewFrameLoop(device, shaders, opts...)
	if err != nil {
		t.Fatalf("NewFrameLoop: %v", err)
	}
	return &loopEnv{device: device, shaders: shaders, loop: loop, errTex: device.created[0]}
}

// singleTextureBuild records a one-pass frame that draws into a fresh
// texture. Each frame's physical texture handle is appended to phys.
func singleTextureBuild(phys *[]gpu.Handle) BuildFunc {
	return func(g *Graph) (*TextureHandle, error) {
		var out *TextureHandle
		g.AddPass("draw", func(pb *PassBuilder) {
			h, ref := pb.CreateTexture(gpu.TextureDesc{
				Width:  64,
				Height: 64,
				Format: gputypes.TextureFormatRGBA8Unorm,
			})
			out = h
			pb.Render(func(api *PassAPI) error {
				if phys != nil {
					*phys = append(*phys, api.Texture(ref))
				}
				return nil
			})
		})
		return out, nil
	}
}

func TestRenderFrameFlow(t *testing.T) {
	env := newLoopEnv(t)
	var phys []gpu.Handle

	if err := env.loop.RenderFrame(singleTextureBuild(&phys)); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if env.loop.Frame() != 1 {
		t.Errorf("Frame() = %d, want 1", env.loop.Frame())
	}
	if env.device.frames != 1 {
		t.Errorf("device advanced %d frames, want 1", env.device.frames)
	}
	if len(env.device.submits) != 1 {
		t.Fatalf("%d submits, want 1", len(env.device.submits))
	}
	if env.device.submits[0].fence == gpu.InvalidHandle {
		t.Error("frame submitted without a fence")
	}
	if len(phys) != 1 {
		t.Fatalf("render callback ran %d times, want 1", len(phys))
	}
	if len(env.device.presented) != 1 || env.device.presented[0] != phys[0] {
		t.Errorf("presented %v, want frame texture %s", env.device.presented, phys[0])
	}
}

func TestRetirementWaitsTwoFrames(t *testing.T) {
	env := newLoopEnv(t)
	var phys []gpu.Handle
	build := singleTextureBuild(&phys)

	for i := 0; i < 2; i++ {
		if err := env.loop.RenderFrame(build); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}
	// Depth 2: nothing may retire while both slots are still in flight.
	if !env.device.isLive(phys[0]) {
		t.Fatal("frame 1 texture destroyed before its fence was waited on")
	}
	if len(env.device.waited) != 0 {
		t.Fatalf("waited on %d fences after 2 frames, want 0", len(env.device.waited))
	}

	if err := env.loop.RenderFrame(build); err != nil {
		t.Fatalf("frame 3: %v", err)
	}
	if len(env.device.waited) != 1 || env.device.waited[0] != env.device.submits[0].fence {
		t.Errorf("waited = %v, want exactly frame 1's fence %s",
			env.device.waited, env.device.submits[0].fence)
	}
	if env.device.isLive(phys[0]) {
		t.Error("frame 1 texture still live after its fence signaled")
	}
	if !env.device.isLive(phys[1]) {
		t.Error("frame 2 texture destroyed too early")
	}
}

func TestQueueDepthOption(t *testing.T) {
	env := newLoopEnv(t, WithQueueDepth(4))
	var phys []gpu.Handle
	build := singleTextureBuild(&phys)

	for i := 0; i < 4; i++ {
		if err := env.loop.RenderFrame(build); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}
	if !env.device.isLive(phys[0]) {
		t.Fatal("frame 1 texture destroyed inside the in-flight window")
	}
	if err := env.loop.RenderFrame(build); err != nil {
		t.Fatalf("frame 5: %v", err)
	}
	if env.device.isLive(phys[0]) {
		t.Error("frame 1 texture still live after leaving a depth-4 window")
	}
}

func TestDegradedFramePresentsPlaceholder(t *testing.T) {
	env := newLoopEnv(t)
	boom := errors.New("shader exploded")

	err := env.loop.RenderFrame(func(g *Graph) (*TextureHandle, error) {
		var out *TextureHandle
		g.AddPass("draw", func(pb *PassBuilder) {
			h, _ := pb.CreateTexture(gpu.TextureDesc{
				Width: 8, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm,
			})
			out = h
			pb.Render(func(*PassAPI) error { return boom })
		})
		return out, nil
	})
	// A failing pass degrades the frame; it does not kill the loop.
	if err != nil {
		t.Fatalf("RenderFrame returned %v, want nil for a degraded frame", err)
	}
	if len(env.device.submits) != 1 {
		t.Errorf("%d submits, want 1: partial commands still go to the GPU", len(env.device.submits))
	}
	if len(env.device.presented) != 1 || env.device.presented[0] != env.errTex {
		t.Errorf("presented %v, want error texture %s", env.device.presented, env.errTex)
	}
}

func TestBuildErrorPresentsPlaceholder(t *testing.T) {
	env := newLoopEnv(t)

	err := env.loop.RenderFrame(func(*Graph) (*TextureHandle, error) {
		return nil, errors.New("scene not ready")
	})
	if err != nil {
		t.Fatalf("RenderFrame returned %v, want nil for a degraded frame", err)
	}
	if len(env.device.submits) != 0 {
		t.Errorf("%d submits, want 0: the frame never produced commands", len(env.device.submits))
	}
	if len(env.device.presented) != 1 || env.device.presented[0] != env.errTex {
		t.Errorf("presented %v, want error texture %s", env.device.presented, env.errTex)
	}
	if env.device.frames != 1 {
		t.Errorf("device advanced %d frames, want 1: the loop must keep pacing", env.device.frames)
	}
}

func TestNilOutputPanics(t *testing.T) {
	env := newLoopEnv(t)
	defer func() {
		if r := recover(); r == nil {
			t.Error("build returning nil output without error did not panic")
		}
	}()
	_ = env.loop.RenderFrame(func(*Graph) (*TextureHandle, error) {
		return nil, nil
	})
}

func TestSubmitFailureRetiresWithoutFence(t *testing.T) {
	env := newLoopEnv(t)
	var phys []gpu.Handle
	build := singleTextureBuild(&phys)

	env.device.failSubmit = errors.New("queue lost")
	if err := env.loop.RenderFrame(build); err == nil {
		t.Fatal("RenderFrame with failing submit returned nil, want error")
	}
	if len(env.device.presented) != 0 {
		t.Errorf("presented %v after failed submit, want nothing", env.device.presented)
	}

	env.device.failSubmit = nil
	for i := 0; i < 2; i++ {
		if err := env.loop.RenderFrame(build); err != nil {
			t.Fatalf("frame %d: %v", i+2, err)
		}
	}
	// The unsubmitted frame's bundle has no fence: it retires without a wait.
	if env.device.isLive(phys[0]) {
		t.Error("unsubmitted frame's texture still live after leaving the window")
	}
	for _, f := range env.device.waited {
		if f == gpu.InvalidHandle {
			t.Error("waited on an invalid fence")
		}
	}
}

func TestFenceWaitFailureRetries(t *testing.T) {
	env := newLoopEnv(t)
	var phys []gpu.Handle
	build := singleTextureBuild(&phys)

	for i := 0; i < 2; i++ {
		if err := env.loop.RenderFrame(build); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}

	env.device.failWait = errors.New("device lost")
	if err := env.loop.RenderFrame(build); err == nil {
		t.Fatal("RenderFrame with failing fence wait returned nil, want error")
	}
	if env.loop.Frame() != 2 {
		t.Errorf("Frame() = %d after failed wait, want 2: the frame never started", env.loop.Frame())
	}
	if !env.device.isLive(phys[0]) {
		t.Fatal("bundle destroyed although its fence wait failed")
	}

	env.device.failWait = nil
	if err := env.loop.RenderFrame(build); err != nil {
		t.Fatalf("retried frame: %v", err)
	}
	if env.loop.Frame() != 3 {
		t.Errorf("Frame() = %d after retry, want 3", env.loop.Frame())
	}
	if env.device.isLive(phys[0]) {
		t.Error("frame 1 texture still live after successful retry")
	}
}

func TestScheduleReleaseJoinsRetirement(t *testing.T) {
	env := newLoopEnv(t)
	build := singleTextureBuild(nil)

	// An externally owned texture handed over for deferred destruction.
	ext := env.loop.Allocator().Persistent(gpu.KindTexture)
	desc := gpu.TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm}
	if err := env.device.CreateTexture(ext, &desc, nil, "external"); err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	env.loop.Context().ScheduleRelease(ext)
	if env.loop.Context().PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", env.loop.Context().PendingCount())
	}

	for i := 0; i < 2; i++ {
		if err := env.loop.RenderFrame(build); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
		if !env.device.isLive(ext) {
			t.Fatalf("scheduled release destroyed after frame %d, before its fence", i+1)
		}
	}
	if err := env.loop.RenderFrame(build); err != nil {
		t.Fatalf("frame 3: %v", err)
	}
	if env.device.isLive(ext) {
		t.Error("scheduled release still live after its frame retired")
	}
}

func TestOwnedHandleRelease(t *testing.T) {
	env := newLoopEnv(t)

	ext := env.loop.Allocator().Persistent(gpu.KindBuffer)
	desc := gpu.BufferDesc{Size: 256, Usage: gputypes.BufferUsageStorage}
	if err := env.device.CreateBuffer(ext, &desc, nil, "owned"); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	owned := Own(ext)
	if !owned.Valid() || owned.Handle() != ext {
		t.Fatalf("Own(%s) = %s, valid %t", ext, owned.Handle(), owned.Valid())
	}

	owned.Release(env.loop.Context())
	if owned.Valid() {
		t.Error("wrapper still valid after Release")
	}
	if env.loop.Context().PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", env.loop.Context().PendingCount())
	}

	// A second Release must not schedule anything.
	owned.Release(env.loop.Context())
	if env.loop.Context().PendingCount() != 1 {
		t.Errorf("PendingCount() = %d after double release, want 1", env.loop.Context().PendingCount())
	}

	build := singleTextureBuild(nil)
	for i := 0; i < 3; i++ {
		if err := env.loop.RenderFrame(build); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}
	if env.device.isLive(ext) {
		t.Error("released handle still live after its frame retired")
	}
}

func TestShutdownDestroysEverything(t *testing.T) {
	env := newLoopEnv(t)
	env.shaders.install("blur.comp", gputypes.ShaderStageCompute, nil, []string{"dst"})

	build := func(g *Graph) (*TextureHandle, error) {
		var out *TextureHandle
		g.AddPass("blur", func(pb *PassBuilder) {
			h, ref := pb.CreateTexture(gpu.TextureDesc{
				Width: 64, Height: 64, Format: gputypes.TextureFormatRGBA8Unorm,
			})
			out = h
			pb.Render(func(api *PassAPI) error {
				pipeline, entry, err := api.ComputePipeline("blur.comp")
				if err != nil {
					return err
				}
				Push(api.Constants(), blurParams{Radius: 2, Sigma: 1})
				views, err := api.BindViews(entry, UAV("dst", ref))
				if err != nil {
					return err
				}
				return api.Dispatch(pipeline, views, [3]uint32{8, 8, 1})
			})
		})
		return out, nil
	}

	for i := 0; i < 3; i++ {
		if err := env.loop.RenderFrame(build); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}
	if env.device.liveCount() == 0 {
		t.Fatal("nothing live before shutdown; the test exercises nothing")
	}
	if err := env.loop.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if env.device.idleWaits != 1 {
		t.Errorf("idle waits = %d, want 1", env.device.idleWaits)
	}
	if n := env.device.liveCount(); n != 0 {
		t.Errorf("%d objects still live after shutdown", n)
	}
}

func TestShutdownIdleFailureDestroysNothing(t *testing.T) {
	env := newLoopEnv(t)
	if err := env.loop.RenderFrame(singleTextureBuild(nil)); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	before := env.device.liveCount()

	env.device.failIdle = errors.New("gpu hung")
	if err := env.loop.Shutdown(); err == nil {
		t.Fatal("Shutdown with failing idle wait returned nil, want error")
	}
	if got := env.device.liveCount(); got != before {
		t.Errorf("live objects %d -> %d across a failed shutdown, want unchanged", before, got)
	}

	env.device.failIdle = nil
	if err := env.loop.Shutdown(); err != nil {
		t.Fatalf("retried Shutdown: %v", err)
	}
	if n := env.device.liveCount(); n != 0 {
		t.Errorf("%d objects still live after retried shutdown", n)
	}
}

func TestErrorTextureOption(t *testing.T) {
	env := newLoopEnv(t, WithErrorTextureSize(64, 32))
	desc, ok := env.device.textures[env.errTex]
	if !ok {
		t.Fatal("error texture not created at construction")
	}
	if desc.Width != 64 || desc.Height != 32 {
		t.Errorf("error texture %dx%d, want 64x32", desc.Width, desc.Height)
	}
}

func TestErrorTexturePixels(t *testing.T) {
	const w, h = 16, 16
	pix := errorTexturePixels(w, h)
	if len(pix) != w*h*4 {
		t.Fatalf("len(pix) = %d, want %d", len(pix), w*h*4)
	}
	// 8x8 board on a 16x16 target: 2x2 pixel cells, magenta first.
	if pix[0] != 0xFF || pix[1] != 0x00 || pix[2] != 0xFF || pix[3] != 0xFF {
		t.Errorf("pixel (0,0) = %v, want opaque magenta", pix[0:4])
	}
	cell := 4 * 2 // byte offset of pixel (2,0), first pixel of the next cell
	if pix[cell] != 0x00 || pix[cell+3] != 0xFF {
		t.Errorf("pixel (2,0) = %v, want opaque black", pix[cell:cell+4])
	}
}
