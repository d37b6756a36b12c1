// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu is a tilebatch backend that executes batches on a
// gogpu/wgpu HAL device.
//
// The backend stands in for the kernel driver of a tile-based GPU. Each
// submission the scheduler hands over becomes one command buffer:
//
//   - vertex, tiler, IDVS and compute jobs run as one compute pass each of
//     a small job kernel, in chain order, over a per-submission job table
//   - the fragment job runs as one render pass whose load and store
//     operations come from the derived framebuffer descriptor
//
// Every command buffer is submitted with its own fence. The number of
// submissions in flight is bounded (see WithMaxInFlight); when the window
// is full the oldest submission is waited for and retired first.
//
// # Memory
//
// Buffers, batch-local pools and tiler heap chunks are HAL buffers.
// Transient pool memory keeps a CPU shadow that is uploaded with
// Queue.WriteBuffer when a submission references it. Textures get one
// view per mip level. Released memory is destroyed only after every
// submission issued before the release has retired.
//
// # Usage
//
//	halDev, halQueue := ... // from an opened adapter
//	be, err := wgpu.New(halDev, halQueue, wgpu.WithArch(tilebatch.ArchValhall))
//	if err != nil {
//		return err
//	}
//	dev, err := tilebatch.NewDevice(be)
//
// The backend never destroys the HAL device; the caller owns it.
package wgpu
