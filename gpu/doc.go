// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu defines the collaborator contracts the frame graph records
// against: the device capability surface, the resource handle space and its
// allocators, and the shader cache interface.
//
// The package contains no GPU code of its own. Concrete devices live in
// backend packages (backend/wgpu wraps gogpu/wgpu's HAL); tests use
// in-package mocks. The frame graph core only ever sees these interfaces,
// which is what keeps it replayable against any backend.
//
// Handles are allocated by the caller and passed INTO creation calls, not
// returned from them. This lets the graph hand out physical identities
// before any device object exists, and lets a tracking allocator observe
// everything a frame allocated so the frame driver can retire exactly that
// set once the GPU is done with it.
package gpu
