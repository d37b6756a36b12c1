// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// HeapRegion is a range of the tiler heap reserved for one batch.
type HeapRegion struct {
	BO     *BO
	Offset uint64
	Size   uint64
}

// IsZero reports whether r is empty.
func (r HeapRegion) IsZero() bool { return r.BO == nil }

// heapSpan is a free range inside one chunk.
type heapSpan struct {
	off, size uint64
}

type heapChunk struct {
	bo   *BO
	free []heapSpan // sorted by offset, coalesced
}

// TilerHeap is the growable memory the tiler writes polygon lists into.
// One heap is shared by all contexts of a device.
//
// The mutex guards the free lists and also serializes the critical section
// from region allocation to tiler submission across contexts.
type TilerHeap struct {
	mu        sync.Mutex
	dev       *Device
	chunkSize uint64
	chunks    []*heapChunk
	inUse     uint64
}

func newTilerHeap(dev *Device, chunkSize uint64) *TilerHeap {
	return &TilerHeap{dev: dev, chunkSize: chunkSize}
}

// Lock enters the allocate-and-submit critical section.
func (h *TilerHeap) Lock() { h.mu.Lock() }

// Unlock leaves the critical section.
func (h *TilerHeap) Unlock() { h.mu.Unlock() }

// allocLocked reserves size bytes with first fit, growing the heap by one
// chunk when nothing fits. h.mu must be held.
func (h *TilerHeap) allocLocked(size uint64) (HeapRegion, error) {
	if size == 0 || size > h.chunkSize {
		return HeapRegion{}, errors.Wrapf(ErrInvalidSize, "tiler heap region of %d bytes (chunk %d)", size, h.chunkSize)
	}
	for _, c := range h.chunks {
		for i, s := range c.free {
			if s.size < size {
				continue
			}
			r := HeapRegion{BO: c.bo, Offset: s.off, Size: size}
			if s.size == size {
				c.free = append(c.free[:i], c.free[i+1:]...)
			} else {
				c.free[i] = heapSpan{off: s.off + size, size: s.size - size}
			}
			h.inUse += size
			return r, nil
		}
	}

	bo, err := h.dev.newBO(MemoryDesc{Label: "tiler heap", Kind: MemoryTilerHeap, Size: h.chunkSize})
	if err != nil {
		return HeapRegion{}, errors.Mark(errors.Wrap(err, "growing tiler heap"), ErrOutOfMemory)
	}
	c := &heapChunk{bo: bo}
	if size < h.chunkSize {
		c.free = []heapSpan{{off: size, size: h.chunkSize - size}}
	}
	h.chunks = append(h.chunks, c)
	h.inUse += size
	slogger().Debug("tilebatch: tiler heap grown", "chunks", len(h.chunks), "chunk_size", h.chunkSize)
	return HeapRegion{BO: bo, Size: size}, nil
}

// Free returns r to the heap.
func (h *TilerHeap) Free(r HeapRegion) {
	if r.IsZero() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freeLocked(r)
}

func (h *TilerHeap) freeLocked(r HeapRegion) {
	var c *heapChunk
	for _, ch := range h.chunks {
		if ch.bo == r.BO {
			c = ch
			break
		}
	}
	assertf(c != nil, "tiler heap region %d+%d not from this heap", r.Offset, r.Size)

	// Insert in offset order, then merge with neighbours.
	i := 0
	for i < len(c.free) && c.free[i].off < r.Offset {
		i++
	}
	assertf(i == len(c.free) || r.Offset+r.Size <= c.free[i].off, "tiler heap double free at %d", r.Offset)
	assertf(i == 0 || c.free[i-1].off+c.free[i-1].size <= r.Offset, "tiler heap double free at %d", r.Offset)

	c.free = append(c.free, heapSpan{})
	copy(c.free[i+1:], c.free[i:])
	c.free[i] = heapSpan{off: r.Offset, size: r.Size}
	if i+1 < len(c.free) && c.free[i].off+c.free[i].size == c.free[i+1].off {
		c.free[i].size += c.free[i+1].size
		c.free = append(c.free[:i+1], c.free[i+2:]...)
	}
	if i > 0 && c.free[i-1].off+c.free[i-1].size == c.free[i].off {
		c.free[i-1].size += c.free[i].size
		c.free = append(c.free[:i], c.free[i+1:]...)
	}
	h.inUse -= r.Size
}

// Chunks returns the number of chunks the heap has grown to.
func (h *TilerHeap) Chunks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chunks)
}

// InUse returns the number of reserved bytes.
func (h *TilerHeap) InUse() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// release frees every chunk. Outstanding regions become invalid.
func (h *TilerHeap) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.chunks {
		c.bo.Release()
	}
	h.chunks = nil
	h.inUse = 0
}
