// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"math"
	"math/bits"
)

// MaxBatches is the number of batches a context keeps open at once.
const MaxBatches = 32

// Batch is GPU work accumulated for one framebuffer configuration and
// submitted as a unit.
//
// Batches live in the slots of their Context and are only valid until they
// are submitted; afterwards the slot is zeroed and reused.
type Batch struct {
	ctx    *Context
	slot   int
	seqnum uint64
	key    FramebufferKey

	// boAccess and boRefs are indexed by BO handle.
	boAccess []AccessFlags
	boRefs   []*BO
	numBOs   int

	clearMask   Channels
	drawsMask   Channels
	resolveMask Channels
	readMask    Channels

	drawCount       uint32
	computeCount    uint32
	sideEffectCount uint32

	// Scissor bound; max is exclusive. Empty while minX >= maxX.
	minX, minY, maxX, maxY uint32

	clearColors  [MaxRenderTargets]ClearColor
	clearDepth   float32
	clearStencil uint8

	transient *Pool
	invisible *Pool

	chain       JobChain
	descriptors map[DescriptorKind]cachedDescriptor
	heap        HeapRegion
	fence       Fence

	// BackendData holds generation-specific state set by InitBatch.
	BackendData any
}

func (b *Batch) bit() uint32 { return 1 << b.slot }

func lowestSlot(mask uint32) int { return bits.TrailingZeros32(mask) }

// init prepares a zeroed slot for key.
func (b *Batch) init(key FramebufferKey, seqnum uint64) {
	cfg := &b.ctx.dev.cfg
	b.seqnum = seqnum
	b.key = key.Clone()
	b.minX, b.minY = math.MaxUint32, math.MaxUint32
	b.transient = newPool(b, MemoryTransient, cfg.TransientChunkSize, AccessRead|AccessVertexTiler|AccessFragment, "transient")
	b.invisible = newPool(b, MemoryInvisible, cfg.InvisibleChunkSize, AccessRW|AccessVertexTiler|AccessFragment, "invisible")
	b.descriptors = make(map[DescriptorKind]cachedDescriptor)
}

// Slot returns the registry slot index.
func (b *Batch) Slot() int { return b.slot }

// Seqnum returns the recency stamp used for LRU eviction.
func (b *Batch) Seqnum() uint64 { return b.seqnum }

// Key returns the framebuffer configuration.
func (b *Batch) Key() *FramebufferKey { return &b.key }

// ClearMask returns the channels cleared by the batch.
func (b *Batch) ClearMask() Channels { return b.clearMask }

// DrawsMask returns the channels drawn to.
func (b *Batch) DrawsMask() Channels { return b.drawsMask }

// ResolveMask returns the channels that must be written back to memory.
func (b *Batch) ResolveMask() Channels { return b.resolveMask }

// ReadMask returns the channels whose previous contents are read.
func (b *Batch) ReadMask() Channels { return b.readMask }

// DrawCount returns the number of rasterizing draws.
func (b *Batch) DrawCount() uint32 { return b.drawCount }

// ComputeCount returns the number of compute jobs, including lowered vertex
// side effects.
func (b *Batch) ComputeCount() uint32 { return b.computeCount }

// SideEffectCount returns the number of non-rasterizing draws executed only
// for their vertex-stage side effects.
func (b *Batch) SideEffectCount() uint32 { return b.sideEffectCount }

// ClearColor returns the packed clear value of color attachment i.
func (b *Batch) ClearColor(i int) ClearColor { return b.clearColors[i] }

// ClearDepth returns the depth clear value.
func (b *Batch) ClearDepth() float32 { return b.clearDepth }

// ClearStencil returns the stencil clear value.
func (b *Batch) ClearStencil() uint8 { return b.clearStencil }

// TransientPool returns the CPU-visible descriptor pool.
func (b *Batch) TransientPool() *Pool { return b.transient }

// InvisiblePool returns the GPU-only scratch pool.
func (b *Batch) InvisiblePool() *Pool { return b.invisible }

// Chain returns the job chain.
func (b *Batch) Chain() *JobChain { return &b.chain }

// TilerHeapRegion returns the heap region reserved at submission.
func (b *Batch) TilerHeapRegion() HeapRegion { return b.heap }

// Context returns the owning context.
func (b *Batch) Context() *Context { return b.ctx }

// isEmpty reports whether submitting b would do nothing.
func (b *Batch) isEmpty() bool {
	return b.drawCount == 0 && b.computeCount == 0 && b.clearMask == 0
}

// hasWork reports whether b has queued draws or dispatches.
func (b *Batch) hasWork() bool {
	return b.drawCount+b.computeCount > 0
}

// cleanup retires b: pools and BO references are released, writer entries
// naming b are dropped and the slot is zeroed and deactivated.
func (c *Context) cleanup(b *Batch) {
	assertf(c.active&b.bit() != 0, "cleanup of inactive batch slot %d", b.slot)

	b.transient.release()
	b.invisible.release()

	for h, f := range b.boAccess {
		if f == 0 {
			continue
		}
		b.boRefs[h].Release()
	}

	for r, w := range c.writers {
		if w == b {
			delete(c.writers, r)
		}
	}

	c.dev.heap.Free(b.heap)

	if c.batch == b {
		c.batch = nil
	}
	c.active &^= b.bit()

	slot := b.slot
	*b = Batch{ctx: c, slot: slot}
}
