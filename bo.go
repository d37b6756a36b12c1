// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// MaxBOHandle is the largest buffer-object handle a batch can track.
// Handles are allocated densely, so reaching it means a leak.
const MaxBOHandle = 1 << 20

// BO is a GPU-visible memory allocation referenced by a dense handle.
//
// A BO is shared by its resource and by every batch that references it; it
// is freed when the last holder releases it.
type BO struct {
	handle uint32
	label  string
	kind   MemoryKind
	mem    Memory
	dev    *Device
	refs   atomic.Int32
}

// Handle returns the dense handle used to index per-batch access flags.
func (b *BO) Handle() uint32 { return b.handle }

// Label returns the debug label.
func (b *BO) Label() string { return b.label }

// Kind returns what the allocation is used for.
func (b *BO) Kind() MemoryKind { return b.kind }

// Size returns the allocation size in bytes.
func (b *BO) Size() uint64 { return b.mem.Size() }

// Memory returns the backend allocation.
func (b *BO) Memory() Memory { return b.mem }

// RefCount returns the number of live holders.
func (b *BO) RefCount() int32 { return b.refs.Load() }

// Retain adds a holder.
func (b *BO) Retain() {
	n := b.refs.Add(1)
	assertf(n > 1, "retain of released BO %d", b.handle)
}

// Release drops a holder. The last release frees the backend memory and
// returns the handle to the device.
func (b *BO) Release() {
	n := b.refs.Add(-1)
	assertf(n >= 0, "BO %d released too many times", b.handle)
	if n > 0 {
		return
	}
	b.mem.Release()
	b.dev.handles.put(b.handle)
	b.dev.stats.liveBOs.Add(-1)
}

// handleAllocator hands out dense BO handles starting at 1. Freed handles
// are reused lowest-first so per-batch access arrays stay short.
type handleAllocator struct {
	mu   sync.Mutex
	next uint32
	free []uint32
}

func (a *handleAllocator) get() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		return h
	}
	a.next++
	assertf(a.next <= MaxBOHandle, "BO handle space exhausted (%d)", a.next)
	return a.next
}

func (a *handleAllocator) put(h uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Keep the free list sorted descending so the smallest handle pops first.
	i := len(a.free)
	a.free = append(a.free, h)
	for i > 0 && a.free[i-1] < h {
		a.free[i] = a.free[i-1]
		i--
	}
	a.free[i] = h
}

// newBO allocates backend memory and wraps it in a BO holding one reference.
func (d *Device) newBO(desc MemoryDesc) (*BO, error) {
	if desc.Size == 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "allocating %s %q", desc.Kind, desc.Label)
	}
	mem, err := d.backend.AllocMemory(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating %d byte %s %q", desc.Size, desc.Kind, desc.Label)
	}
	bo := &BO{
		handle: d.handles.get(),
		label:  desc.Label,
		kind:   desc.Kind,
		mem:    mem,
		dev:    d,
	}
	bo.refs.Store(1)
	d.stats.liveBOs.Add(1)
	return bo, nil
}
