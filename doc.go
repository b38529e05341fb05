// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package framegraph records a frame's GPU work as an ordered list of
// passes over logical resources, then compiles and executes that graph
// against a device: physical resources are allocated, pass callbacks record
// commands in declaration order, and the designated output is resolved to
// its physical texture.
//
// The package has three layers that hosts compose:
//
//   - Recording: a Graph is built once per frame. Each AddPass call
//     declares which logical resources the pass creates, reads and writes,
//     and attaches a deferred render callback. Logical handles are
//     versioned; writing bumps the version so write-after-write hazards are
//     visible in the recorded edges.
//
//   - Execution: Graph.Execute materializes every logical resource through
//     a handle allocator and a gpu.Device, then invokes the callbacks in
//     recording order against a Registry that resolves references, serves
//     pipelines from the PipelineCache and pushes per-draw constants into
//     DynamicConstants.
//
//   - Frame driving: FrameLoop runs graphs frame after frame, keeping up to
//     two frames in flight. A frame's transient resources are destroyed
//     only after its fence proves the GPU is done with them; a failed frame
//     presents a pre-built error texture instead of tearing down the loop.
//
// Misusing the recording API (writing the same resource twice in one pass,
// reading a resource the pass wrote, attaching two render callbacks,
// executing a graph twice) is a programming error and panics. Device
// failures are ordinary errors and surface through Execute and RenderFrame.
//
// The package is silent by default; see SetLogger.
package framegraph
