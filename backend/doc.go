// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend provides the registry of tilebatch backends and the CPU
// software backend.
//
// # Backend Registration
//
// Backends register a Factory from init() functions and are selected at
// runtime. The software backend is registered by importing this package;
// the HAL backend registers itself when its package is imported:
//
//	import _ "github.com/gogpu/tilebatch/backend/wgpu"
//
// # Backend Selection
//
// Use Default to get the best backend that can run with a configuration,
// or Open to request one by name:
//
//	be, err := backend.Default(backend.Config{Device: halDev, Queue: halQueue})
//
//	// Or request a specific backend
//	be, err := backend.Open(backend.BackendSoftware, backend.Config{Arch: tilebatch.ArchValhall})
//
// Without HAL objects Default falls back to the software backend.
//
// # Available Backends
//
//   - "wgpu": jobs run as compute and render passes on a gogpu/wgpu HAL device
//   - "software": jobs run on the CPU at submission; clears write memory directly
package backend
