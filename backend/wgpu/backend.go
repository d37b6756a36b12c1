// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/semaphore"

	"github.com/gogpu/tilebatch"
)

// Stats are cumulative backend counters.
type Stats struct {
	Submissions     uint64
	ComputePasses   uint64
	RenderPasses    uint64
	Preloads        uint64
	Retired         uint64
	InFlight        int
	UploadedBytes   uint64
	AllocatedBytes  uint64
	LiveAllocations int64
	DeferredFrees   uint64
	Destroyed       uint64
}

// Backend executes tilebatch submissions on a HAL device.
// It is safe for use by several tilebatch contexts at once.
type Backend struct {
	device hal.Device
	queue  hal.Queue
	cfg    config

	// surfaceFormat is the presentation format of the providing window,
	// undefined when created with New.
	surfaceFormat gputypes.TextureFormat

	inflight *semaphore.Weighted

	mu        sync.Mutex
	kernel    *jobKernel
	pending   []*submission // issue order
	issued    uint64
	completed uint64
	graveyard []grave
	stats     Stats
	closed    bool
}

var _ tilebatch.Backend = (*Backend)(nil)

// New creates a backend on device and queue.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Backend, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	kernel, err := newJobKernel(device, cfg.label)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		device:   device,
		queue:    queue,
		cfg:      cfg,
		kernel:   kernel,
		inflight: semaphore.NewWeighted(cfg.maxInFlight),
	}
	tilebatch.Logger().Info("wgpu: backend ready",
		"arch", cfg.arch, "max_in_flight", cfg.maxInFlight)
	return b, nil
}

// NewFromProvider creates a backend on a device shared by a window
// provider. The provider must implement HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.Wrap(ErrNoHAL, "HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.Wrap(ErrNoHAL, "HalQueue is not hal.Queue")
	}

	b, err := New(device, queue, opts...)
	if err != nil {
		return nil, err
	}
	b.surfaceFormat = provider.SurfaceFormat()
	return b, nil
}

// Name implements tilebatch.Backend.
func (b *Backend) Name() string { return "wgpu" }

// Arch implements tilebatch.Backend.
func (b *Backend) Arch() tilebatch.Arch { return b.cfg.arch }

// SurfaceFormat returns the provider's presentation format, or
// TextureFormatUndefined for backends created with New.
func (b *Backend) SurfaceFormat() gputypes.TextureFormat { return b.surfaceFormat }

// Stats returns a snapshot of the counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.InFlight = len(b.pending)
	return s
}

// batchState is the backend's per-batch data.
type batchState struct {
	label    string
	preloads int
}

func stateOf(bt *tilebatch.Batch) *batchState {
	if st, ok := bt.BackendData.(*batchState); ok {
		return st
	}
	st := &batchState{label: fmt.Sprintf("slot%d", bt.Slot())}
	bt.BackendData = st
	return st
}

// InitBatch implements tilebatch.Backend.
func (b *Backend) InitBatch(bt *tilebatch.Batch) error {
	if b.isClosed() {
		return ErrClosed
	}
	label := fmt.Sprintf("%s_slot%d_seq%d", b.cfg.label, bt.Slot(), bt.Seqnum())
	if ctx := bt.Context(); ctx != nil {
		label = fmt.Sprintf("%s_ctx%d_slot%d_seq%d", b.cfg.label, ctx.ID(), bt.Slot(), bt.Seqnum())
	}
	bt.BackendData = &batchState{label: label}
	return nil
}

// PreloadFramebuffer implements tilebatch.Backend. Generations that preload
// with jobs get one preload tiler job at the head of the chain. Later
// generations load the tile buffer through the render pass load operation.
func (b *Backend) PreloadFramebuffer(bt *tilebatch.Batch, fb *tilebatch.FramebufferDesc) error {
	if !fb.HasPreload() {
		return nil
	}
	st := stateOf(bt)
	if b.cfg.arch.PreloadsWithJobs() && st.preloads == 0 {
		bt.Chain().InjectPreload()
	}
	st.preloads++

	b.mu.Lock()
	b.stats.Preloads++
	b.mu.Unlock()
	return nil
}

// Wait implements tilebatch.Backend.
func (b *Backend) Wait(f tilebatch.Fence, timeout time.Duration) (bool, error) {
	if f.IsZero() {
		return true, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waitLocked(f.Seqno, timeout)
}

// waitLocked waits for submission seqno and retires everything up to it.
// The queue executes in issue order.
func (b *Backend) waitLocked(seqno uint64, timeout time.Duration) (bool, error) {
	if seqno <= b.completed {
		return true, nil
	}
	var s *submission
	for _, p := range b.pending {
		if p.seqno == seqno {
			s = p
			break
		}
	}
	if s == nil {
		return false, errors.Newf("wgpu: unknown fence %d", seqno)
	}

	ok, err := b.device.Wait(s.fence, 1, timeout)
	if err != nil {
		return false, errors.Wrapf(err, "wait for submission %d", seqno)
	}
	if !ok {
		return false, nil
	}
	b.retireLocked(seqno)
	return true, nil
}

// retireOldestLocked makes room in the in-flight window.
func (b *Backend) retireOldestLocked() error {
	if len(b.pending) == 0 {
		return errors.New("wgpu: in-flight window full with nothing pending")
	}
	seqno := b.pending[0].seqno
	ok, err := b.waitLocked(seqno, b.cfg.timeout)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrFenceTimeout, "submission %d", seqno)
	}
	return nil
}

// retireLocked frees every pending submission up to seqno.
func (b *Backend) retireLocked(seqno uint64) {
	n := 0
	for _, s := range b.pending {
		if s.seqno > seqno {
			break
		}
		s.retire(b.device)
		b.inflight.Release(1)
		b.completed = s.seqno
		b.stats.Retired++
		n++
	}
	b.pending = append(b.pending[:0], b.pending[n:]...)
	b.reapLocked()
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close implements tilebatch.Backend. It waits for pending submissions,
// destroys deferred memory and the job kernel. The HAL device stays open.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if len(b.pending) > 0 {
		last := b.pending[len(b.pending)-1].seqno
		if ok, err := b.waitLocked(last, b.cfg.timeout); err != nil || !ok {
			tilebatch.Logger().Warn("wgpu: close with unfinished work",
				"pending", len(b.pending), "err", err)
			// Force-retire so nothing leaks.
			b.completed = last
			b.retireLocked(last)
		}
	}
	for _, g := range b.graveyard {
		g.destroy(b.device)
		b.stats.Destroyed++
	}
	b.graveyard = nil

	b.kernel.destroy()
	b.closed = true
}

func (b *Backend) label(parts ...string) string {
	l := b.cfg.label
	for _, p := range parts {
		if p != "" {
			l += "_" + p
		}
	}
	return l
}
