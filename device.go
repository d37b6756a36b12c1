// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"sync/atomic"
)

// Device is one logical GPU. It owns the backend, the shared tiler heap and
// the BO handle space, and creates the Contexts that schedule work on it.
// A Device is safe for concurrent use.
type Device struct {
	backend Backend
	cfg     DeviceConfig
	handles handleAllocator
	heap    *TilerHeap
	stats   deviceStats

	nextContext atomic.Uint64
	closed      atomic.Bool
}

type deviceStats struct {
	submissions   atomic.Uint64
	kernelSubmits atomic.Uint64
	evictions     atomic.Uint64
	hazardFlushes atomic.Uint64
	failed        atomic.Uint64
	emptyBatches  atomic.Uint64
	liveBOs       atomic.Int64
}

// Stats holds scheduling counters.
type Stats struct {
	// Submissions is the number of batches handed to the backend.
	Submissions uint64

	// KernelSubmits counts backend SubmitBatch calls; a batch with
	// rasterization makes two.
	KernelSubmits uint64

	// Evictions is the number of batches submitted to free a slot.
	Evictions uint64

	// HazardFlushes is the number of batches submitted to resolve a
	// resource conflict.
	HazardFlushes uint64

	// FailedSubmissions is the number of batches whose submission failed.
	FailedSubmissions uint64

	// EmptyBatches is the number of batches retired with nothing to submit.
	EmptyBatches uint64

	// Per-context call counters. Zero in device statistics.
	Draws        uint64
	SkippedDraws uint64
	Dispatches   uint64

	// LiveBOs is the number of allocated BOs. Zero in context statistics.
	LiveBOs int64
}

// NewDevice creates a device on backend.
//
// Example:
//
//	dev, err := tilebatch.NewDevice(backend, tilebatch.WithDebug(tilebatch.DebugSync))
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
func NewDevice(backend Backend, opts ...DeviceOption) (*Device, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	var cfg DeviceConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.normalize()

	d := &Device{backend: backend, cfg: cfg}
	d.heap = newTilerHeap(d, cfg.TilerHeapChunkSize)

	slogger().Info("tilebatch: device created",
		"backend", backend.Name(),
		"arch", backend.Arch(),
		"debug", cfg.Debug)
	return d, nil
}

// Backend returns the backend the device submits to.
func (d *Device) Backend() Backend { return d.backend }

// Config returns the normalized configuration.
func (d *Device) Config() DeviceConfig { return d.cfg }

// TilerHeap returns the heap shared by the device's contexts.
func (d *Device) TilerHeap() *TilerHeap { return d.heap }

// Stats returns counters aggregated over every context of the device.
func (d *Device) Stats() Stats {
	return Stats{
		Submissions:       d.stats.submissions.Load(),
		KernelSubmits:     d.stats.kernelSubmits.Load(),
		Evictions:         d.stats.evictions.Load(),
		HazardFlushes:     d.stats.hazardFlushes.Load(),
		FailedSubmissions: d.stats.failed.Load(),
		EmptyBatches:      d.stats.emptyBatches.Load(),
		LiveBOs:           d.stats.liveBOs.Load(),
	}
}

// Close releases the tiler heap and closes the backend. Every context must
// have been closed first. Close is idempotent.
func (d *Device) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.heap.release()
	d.backend.Close()
	slogger().Info("tilebatch: device closed", "backend", d.backend.Name())
}
