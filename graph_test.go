// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

func testTexDesc() gpu.TextureDesc {
	return gpu.TextureDesc{Width: 64, Height: 64, Format: gputypes.TextureFormatRGBA8Unorm}
}

func testBufDesc() gpu.BufferDesc {
	return gpu.BufferDesc{Size: 1024}
}

func TestCreateResourceIDsDense(t *testing.T) {
	g := NewGraph()
	var raws []rawHandle
	g.AddPass("a", func(pb *PassBuilder) {
		h1, _ := pb.CreateTexture(testTexDesc())
		h2, _ := pb.CreateBuffer(testBufDesc())
		raws = append(raws, h1.raw, h2.raw)
	})
	g.AddPass("b", func(pb *PassBuilder) {
		h3, _ := pb.CreateTexture(testTexDesc())
		raws = append(raws, h3.raw)
	})

	if g.ResourceCount() != 3 {
		t.Fatalf("ResourceCount() = %d, want 3", g.ResourceCount())
	}
	for i, raw := range raws {
		if raw.id != uint32(i) {
			t.Errorf("resource %d has id %d, want %d", i, raw.id, i)
		}
		if raw.version != 0 {
			t.Errorf("resource %d created at version %d, want 0", i, raw.version)
		}
	}
}

func TestWriteBumpsVersion(t *testing.T) {
	g := NewGraph()
	var h *TextureHandle
	g.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateTexture(testTexDesc())
	})

	prev := h.raw.version
	for i := 0; i < 3; i++ {
		g.AddPass("write", func(pb *PassBuilder) {
			ref := pb.WriteTexture(h)
			if ref.raw.version != h.raw.version {
				t.Errorf("write ref at version %d, handle at %d", ref.raw.version, h.raw.version)
			}
		})
		if h.raw.version <= prev {
			t.Fatalf("version %d not greater than previous %d", h.raw.version, prev)
		}
		prev = h.raw.version
	}
}

func TestReadKeepsVersion(t *testing.T) {
	g := NewGraph()
	var h *BufferHandle
	g.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateBuffer(testBufDesc())
	})
	before := h.raw.version
	g.AddPass("read", func(pb *PassBuilder) {
		ref := pb.ReadBuffer(h)
		if ref.raw.version != before {
			t.Errorf("read ref at version %d, want %d", ref.raw.version, before)
		}
	})
	if h.raw.version != before {
		t.Errorf("read bumped version to %d", h.raw.version)
	}
}

func TestDoubleWritePanics(t *testing.T) {
	g := NewGraph()
	var h *TextureHandle
	g.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateTexture(testTexDesc())
	})
	defer func() {
		if r := recover(); r == nil {
			t.Error("double write in one pass did not panic")
		}
	}()
	g.AddPass("bad", func(pb *PassBuilder) {
		pb.WriteTexture(h)
		pb.WriteTexture(h)
	})
}

func TestWriteThenReadPanics(t *testing.T) {
	g := NewGraph()
	var h *TextureHandle
	g.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateTexture(testTexDesc())
	})
	defer func() {
		if r := recover(); r == nil {
			t.Error("write then read in one pass did not panic")
		}
	}()
	g.AddPass("bad", func(pb *PassBuilder) {
		pb.WriteTexture(h)
		pb.ReadTexture(h)
	})
}

func TestReadThenWritePanics(t *testing.T) {
	g := NewGraph()
	var h *BufferHandle
	g.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateBuffer(testBufDesc())
	})
	defer func() {
		if r := recover(); r == nil {
			t.Error("read then write in one pass did not panic")
		}
	}()
	g.AddPass("bad", func(pb *PassBuilder) {
		pb.ReadBuffer(h)
		pb.WriteBuffer(h)
	})
}

func TestDoubleReadAllowed(t *testing.T) {
	g := NewGraph()
	var h *TextureHandle
	g.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateTexture(testTexDesc())
	})
	g.AddPass("reads", func(pb *PassBuilder) {
		pb.ReadTexture(h)
		pb.ReadTexture(h)
	})
	if g.PassCount() != 2 {
		t.Errorf("PassCount() = %d, want 2", g.PassCount())
	}
}

func TestCrossPassReadWriteAllowed(t *testing.T) {
	g := NewGraph()
	var h *TextureHandle
	g.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateTexture(testTexDesc())
	})
	g.AddPass("write", func(pb *PassBuilder) {
		pb.WriteTexture(h)
	})
	g.AddPass("read", func(pb *PassBuilder) {
		pb.ReadTexture(h)
	})
	if g.PassCount() != 3 {
		t.Errorf("PassCount() = %d, want 3", g.PassCount())
	}
}

func TestRenderTwicePanics(t *testing.T) {
	g := NewGraph()
	defer func() {
		if r := recover(); r == nil {
			t.Error("second Render call did not panic")
		}
	}()
	g.AddPass("bad", func(pb *PassBuilder) {
		pb.Render(func(*PassAPI) error { return nil })
		pb.Render(func(*PassAPI) error { return nil })
	})
}

func TestNilRenderPanics(t *testing.T) {
	g := NewGraph()
	defer func() {
		if r := recover(); r == nil {
			t.Error("nil render callback did not panic")
		}
	}()
	g.AddPass("bad", func(pb *PassBuilder) {
		pb.Render(nil)
	})
}

func TestPassAppendedEvenOnPanic(t *testing.T) {
	g := NewGraph()
	func() {
		defer func() { recover() }()
		g.AddPass("interrupted", func(pb *PassBuilder) {
			pb.CreateTexture(testTexDesc())
			panic("authoring bug")
		})
	}()
	if g.PassCount() != 1 {
		t.Fatalf("PassCount() = %d after panicking record, want 1", g.PassCount())
	}
	if g.ResourceCount() != 1 {
		t.Fatalf("ResourceCount() = %d after panicking record, want 1", g.ResourceCount())
	}
	if g.passes[0].name != "interrupted" {
		t.Errorf("pass name = %q, want %q", g.passes[0].name, "interrupted")
	}
}

func TestBuilderEscapePanics(t *testing.T) {
	g := NewGraph()
	var escaped *PassBuilder
	g.AddPass("a", func(pb *PassBuilder) {
		escaped = pb
	})
	defer func() {
		if r := recover(); r == nil {
			t.Error("builder use after AddPass did not panic")
		}
	}()
	escaped.CreateTexture(testTexDesc())
}

func TestStaleWritePanics(t *testing.T) {
	g := NewGraph()
	var h *TextureHandle
	g.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateTexture(testTexDesc())
	})
	stale := *h
	g.AddPass("write", func(pb *PassBuilder) {
		pb.WriteTexture(h)
	})
	defer func() {
		if r := recover(); r == nil {
			t.Error("write through a stale handle copy did not panic")
		}
	}()
	g.AddPass("bad", func(pb *PassBuilder) {
		pb.WriteTexture(&stale)
	})
}

func TestForeignHandlePanics(t *testing.T) {
	g1 := NewGraph()
	var h *TextureHandle
	g1.AddPass("create", func(pb *PassBuilder) {
		h, _ = pb.CreateTexture(testTexDesc())
	})

	g2 := NewGraph()
	defer func() {
		if r := recover(); r == nil {
			t.Error("handle from another graph did not panic")
		}
	}()
	g2.AddPass("bad", func(pb *PassBuilder) {
		pb.WriteTexture(h)
	})
}

func TestNilRecordPanics(t *testing.T) {
	g := NewGraph()
	defer func() {
		if r := recover(); r == nil {
			t.Error("nil record function did not panic")
		}
	}()
	g.AddPass("bad", nil)
}
