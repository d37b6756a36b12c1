// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"strings"
	"time"
)

// Default device configuration.
const (
	// DefaultTransientChunkSize is the slab size of the per-batch
	// CPU-visible descriptor pool (64 KiB).
	DefaultTransientChunkSize = 64 * 1024

	// DefaultInvisibleChunkSize is the slab size of the per-batch GPU-only
	// pool (64 KiB).
	DefaultInvisibleChunkSize = 64 * 1024

	// DefaultTilerHeapChunkSize is the growth step of the shared tiler heap
	// (4 MiB).
	DefaultTilerHeapChunkSize = 4 * 1024 * 1024

	// DefaultTilerHeapRegion is the polygon-list space reserved per batch
	// with tiler work (256 KiB).
	DefaultTilerHeapRegion = 256 * 1024

	// DefaultFenceTimeout bounds the wait after each submission in sync
	// debug mode.
	DefaultFenceTimeout = 5 * time.Second

	// MinChunkSize is the smallest accepted pool slab (4 KiB).
	MinChunkSize = 4 * 1024
)

// DebugFlags enables driver debugging behavior.
type DebugFlags uint32

// Debug flags.
const (
	// DebugSync waits on the fence right after every submission so faults
	// surface at the submitting call.
	DebugSync DebugFlags = 1 << iota

	// DebugTrace logs every job handed to the kernel.
	DebugTrace

	// DebugPerf logs flush reasons at info level instead of debug.
	DebugPerf
)

var debugFlagNames = map[string]DebugFlags{
	"sync":  DebugSync,
	"trace": DebugTrace,
	"perf":  DebugPerf,
}

// ParseDebugFlags parses a comma-separated flag list such as "sync,perf".
// Unknown names are ignored and returned so callers can warn about them.
func ParseDebugFlags(s string) (DebugFlags, []string) {
	var flags DebugFlags
	var unknown []string
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if f, ok := debugFlagNames[name]; ok {
			flags |= f
		} else {
			unknown = append(unknown, name)
		}
	}
	return flags, unknown
}

// DeviceConfig holds device configuration.
type DeviceConfig struct {
	// Debug enables debugging behavior.
	Debug DebugFlags

	// TransientChunkSize is the slab size of the CPU-visible batch pool.
	// Defaults to DefaultTransientChunkSize if below MinChunkSize.
	TransientChunkSize uint64

	// InvisibleChunkSize is the slab size of the GPU-only batch pool.
	// Defaults to DefaultInvisibleChunkSize if below MinChunkSize.
	InvisibleChunkSize uint64

	// TilerHeapChunkSize is the growth step of the tiler heap.
	// Defaults to DefaultTilerHeapChunkSize if below MinChunkSize.
	TilerHeapChunkSize uint64

	// TilerHeapRegion is the polygon-list space reserved per batch.
	// Defaults to DefaultTilerHeapRegion; clamped to TilerHeapChunkSize.
	TilerHeapRegion uint64

	// FenceTimeout bounds sync-mode waits. Defaults to DefaultFenceTimeout.
	FenceTimeout time.Duration
}

// normalize fills defaults and clamps out-of-range values.
func (c DeviceConfig) normalize() DeviceConfig {
	if c.TransientChunkSize < MinChunkSize {
		c.TransientChunkSize = DefaultTransientChunkSize
	}
	if c.InvisibleChunkSize < MinChunkSize {
		c.InvisibleChunkSize = DefaultInvisibleChunkSize
	}
	if c.TilerHeapChunkSize < MinChunkSize {
		c.TilerHeapChunkSize = DefaultTilerHeapChunkSize
	}
	if c.TilerHeapRegion == 0 {
		c.TilerHeapRegion = DefaultTilerHeapRegion
	}
	if c.TilerHeapRegion > c.TilerHeapChunkSize {
		c.TilerHeapRegion = c.TilerHeapChunkSize
	}
	if c.FenceTimeout <= 0 {
		c.FenceTimeout = DefaultFenceTimeout
	}
	return c
}

// DeviceOption configures a Device during creation.
//
// Example:
//
//	dev, err := tilebatch.NewDevice(backend,
//	    tilebatch.WithDebug(tilebatch.DebugSync),
//	    tilebatch.WithTransientChunkSize(128*1024))
type DeviceOption func(*DeviceConfig)

// WithConfig replaces the whole configuration.
func WithConfig(cfg DeviceConfig) DeviceOption {
	return func(c *DeviceConfig) {
		*c = cfg
	}
}

// WithDebug enables debug flags.
func WithDebug(flags DebugFlags) DeviceOption {
	return func(c *DeviceConfig) {
		c.Debug |= flags
	}
}

// WithTransientChunkSize sets the CPU-visible pool slab size.
func WithTransientChunkSize(size uint64) DeviceOption {
	return func(c *DeviceConfig) {
		c.TransientChunkSize = size
	}
}

// WithInvisibleChunkSize sets the GPU-only pool slab size.
func WithInvisibleChunkSize(size uint64) DeviceOption {
	return func(c *DeviceConfig) {
		c.InvisibleChunkSize = size
	}
}

// WithTilerHeapChunkSize sets the tiler heap growth step.
func WithTilerHeapChunkSize(size uint64) DeviceOption {
	return func(c *DeviceConfig) {
		c.TilerHeapChunkSize = size
	}
}

// WithTilerHeapRegion sets the per-batch polygon-list reservation.
func WithTilerHeapRegion(size uint64) DeviceOption {
	return func(c *DeviceConfig) {
		c.TilerHeapRegion = size
	}
}

// WithFenceTimeout sets the sync-mode wait bound.
func WithFenceTimeout(d time.Duration) DeviceOption {
	return func(c *DeviceConfig) {
		c.FenceTimeout = d
	}
}
