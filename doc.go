// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package tilebatch schedules GPU work for tile-based renderers.
//
// # Overview
//
// Tile-based GPUs render a whole framebuffer at once: vertex shading and
// tiling for every draw run first, then one fragment job shades each tile in
// on-chip memory and writes it back. The driver therefore accumulates the
// work targeting one render-target configuration into a batch and submits
// the batch as a unit. tilebatch implements that layer:
//
//   - a registry of up to MaxBatches open batches per Context, looked up by
//     FramebufferKey and evicted least-recently-used;
//   - a hazard tracker that records which batches read or write each
//     resource and submits the conflicting batch before a later access;
//   - per-batch accumulation of clears, draws and dispatches into channel
//     masks, a scissor bound and a job chain;
//   - a submission pipeline that decides for every attachment whether it
//     is preloaded into the tile buffer and whether it is written back.
//
// # Quick Start
//
//	dev, err := tilebatch.NewDevice(backend)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	ctx := dev.NewContext()
//	defer ctx.Close()
//
//	ctx.SetFramebuffer(tilebatch.FramebufferKey{
//	    Colors: []tilebatch.Surface{{Resource: color}},
//	    Width:  1920,
//	    Height: 1080,
//	})
//	ctx.Clear(tilebatch.ChannelColor0, [4]float64{0, 0, 0, 1}, 1, 0)
//	ctx.Draw(&tilebatch.DrawInfo{VertexProgram: vs, VertexCount: 3, ColorWrites: tilebatch.ChannelColor0})
//	err = ctx.Flush("present")
//
// # Backends
//
// A Backend encodes and submits jobs for one hardware generation. The
// backend/wgpu package implements it on top of gogpu/wgpu's HAL.
//
// # Concurrency
//
// A Context is used by one goroutine. Contexts on different goroutines
// share their Device, whose BO handle space, statistics and tiler heap are
// synchronized. Submission never waits for the GPU unless DebugSync is set
// or Context.Finish is called.
//
// # Errors
//
// Draw, Clear and Dispatch never fail: work that cannot be queued is
// logged and dropped. Flush and its variants return submission errors
// marked with ErrSubmitFailed. Programming errors panic with assertion
// failures.
package tilebatch
