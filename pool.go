// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"github.com/cockroachdb/errors"
)

// Allocation is a sub-range of a pool slab.
type Allocation struct {
	BO     *BO
	Offset uint64
	Size   uint64

	// CPU is the CPU mapping of the range, nil for GPU-only pools.
	CPU []byte
}

// IsZero reports whether a is empty.
func (a Allocation) IsZero() bool { return a.BO == nil }

// Pool is a bump allocator over slabs of backend memory owned by one batch.
// Every slab is added to the owning batch's BO list so the kernel maps it
// for the submission. Slabs are released when the batch retires.
type Pool struct {
	owner     *Batch
	kind      MemoryKind
	flags     AccessFlags
	chunkSize uint64
	label     string

	slabs  []*BO
	offset uint64
	used   uint64
}

func newPool(owner *Batch, kind MemoryKind, chunkSize uint64, flags AccessFlags, label string) *Pool {
	return &Pool{
		owner:     owner,
		kind:      kind,
		flags:     flags,
		chunkSize: chunkSize,
		label:     label,
	}
}

// Alloc returns size bytes aligned to align (a power of two, 0 means 8).
func (p *Pool) Alloc(size, align uint64) (Allocation, error) {
	if size == 0 {
		return Allocation{}, errors.Wrapf(ErrInvalidSize, "%s pool", p.kind)
	}
	if align == 0 {
		align = 8
	}
	assertf(align&(align-1) == 0, "alignment %d is not a power of two", align)

	off := (p.offset + align - 1) &^ (align - 1)
	if len(p.slabs) == 0 || off+size > p.slabs[len(p.slabs)-1].Size() {
		if err := p.grow(size); err != nil {
			return Allocation{}, err
		}
		off = 0
	}

	slab := p.slabs[len(p.slabs)-1]
	p.offset = off + size
	p.used += size

	a := Allocation{BO: slab, Offset: off, Size: size}
	if cpu := slab.mem.Bytes(); cpu != nil {
		a.CPU = cpu[off : off+size : off+size]
	}
	return a, nil
}

// grow starts a new slab large enough for size.
func (p *Pool) grow(size uint64) error {
	slabSize := p.chunkSize
	if size > slabSize {
		slabSize = (size + p.chunkSize - 1) / p.chunkSize * p.chunkSize
	}
	bo, err := p.owner.ctx.dev.newBO(MemoryDesc{
		Label: p.label,
		Kind:  p.kind,
		Size:  slabSize,
	})
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "growing %s pool", p.kind), ErrOutOfMemory)
	}
	p.slabs = append(p.slabs, bo)
	p.offset = 0
	p.owner.AddBO(bo, p.flags)
	return nil
}

// Slabs returns the slabs allocated so far.
func (p *Pool) Slabs() []*BO { return p.slabs }

// Used returns the number of bytes handed out, excluding padding.
func (p *Pool) Used() uint64 { return p.used }

// release drops the pool's references. The batch's own references are
// dropped separately when it retires.
func (p *Pool) release() {
	for _, bo := range p.slabs {
		bo.Release()
	}
	p.slabs = nil
	p.offset = 0
	p.used = 0
}
