// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"strings"
)

// AccessFlags records how a batch uses a buffer object. Flags of one batch
// only ever widen.
type AccessFlags uint8

// Access flags.
const (
	AccessRead AccessFlags = 1 << iota
	AccessWrite
	AccessVertexTiler
	AccessFragment

	AccessRW = AccessRead | AccessWrite
)

// String returns a compact list such as "read|vertex-tiler".
func (f AccessFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f&AccessRead != 0 {
		parts = append(parts, "read")
	}
	if f&AccessWrite != 0 {
		parts = append(parts, "write")
	}
	if f&AccessVertexTiler != 0 {
		parts = append(parts, "vertex-tiler")
	}
	if f&AccessFragment != 0 {
		parts = append(parts, "fragment")
	}
	return strings.Join(parts, "|")
}

// Stage is the pipeline stage an access happens in.
type Stage uint8

// Pipeline stages.
const (
	// StageVertexTiler covers vertex shading, tiling and compute.
	StageVertexTiler Stage = iota

	// StageFragment covers fragment shading and tile write-back.
	StageFragment
)

func (s Stage) flag() AccessFlags {
	if s == StageFragment {
		return AccessFragment
	}
	return AccessVertexTiler
}

// String returns the stage name.
func (s Stage) String() string {
	if s == StageFragment {
		return "fragment"
	}
	return "vertex-tiler"
}

// AddBO records that b accesses bo with flags. The first reference retains
// bo until the batch retires.
func (b *Batch) AddBO(bo *BO, flags AccessFlags) {
	assertf(bo != nil, "nil BO added to batch %d", b.slot)
	h := bo.handle
	assertf(h > 0 && h <= MaxBOHandle, "BO handle %d not representable", h)

	if int(h) >= len(b.boAccess) {
		n := max(int(h)+1, 2*len(b.boAccess))
		access := make([]AccessFlags, n)
		copy(access, b.boAccess)
		b.boAccess = access
		refs := make([]*BO, n)
		copy(refs, b.boRefs)
		b.boRefs = refs
	}

	if b.boAccess[h] == 0 {
		bo.Retain()
		b.boRefs[h] = bo
		b.numBOs++
	}
	b.boAccess[h] |= flags
}

// Access returns the flags b recorded for handle.
func (b *Batch) Access(handle uint32) AccessFlags {
	if int(handle) >= len(b.boAccess) {
		return 0
	}
	return b.boAccess[handle]
}

// NumBOs returns the number of distinct BOs b references.
func (b *Batch) NumBOs() int { return b.numBOs }

// usesResource reports whether b references any BO backing r.
func (b *Batch) usesResource(r *Resource) bool {
	for _, bo := range r.bos() {
		if b.Access(bo.handle) != 0 {
			return true
		}
	}
	return false
}

// boList returns every referenced BO with its flags, in handle order.
func (b *Batch) boList() []BOAccess {
	out := make([]BOAccess, 0, b.numBOs)
	for h, f := range b.boAccess {
		if f != 0 {
			out = append(out, BOAccess{BO: b.boRefs[h], Flags: f})
		}
	}
	return out
}

// ReadResource records that b reads r in stage. Batches holding a conflicting
// write are submitted first.
func (c *Context) ReadResource(b *Batch, r *Resource, stage Stage) {
	for _, bo := range r.bos() {
		b.AddBO(bo, AccessRead|stage.flag())
	}
	c.updateAccess(b, r, false)
}

// WriteResource records that b writes r in stage. Every other batch that
// wrote or read r is submitted first.
func (c *Context) WriteResource(b *Batch, r *Resource, stage Stage) {
	for _, bo := range r.bos() {
		b.AddBO(bo, AccessWrite|stage.flag())
	}
	c.updateAccess(b, r, true)
}

// updateAccess enforces program order between b and the other active
// batches of c for r. Hazards are resolved at batch granularity: the
// conflicting batch is submitted before b continues.
func (c *Context) updateAccess(b *Batch, r *Resource, write bool) {
	writer := c.writers[r]
	if write {
		c.writers[r] = b
	}

	if c.active&^b.bit() == 0 {
		return
	}

	if writer != nil && writer != b {
		kind := "read-after-write"
		if write {
			kind = "write-after-write"
		}
		c.hazardFlush(writer, r, kind)
	}

	if !write {
		return
	}
	for others := c.active &^ b.bit(); others != 0; {
		slot := lowestSlot(others)
		others &^= 1 << slot
		o := &c.slots[slot]
		// A hazard flush above may already have retired o.
		if c.active&o.bit() != 0 && o.usesResource(r) {
			c.hazardFlush(o, r, "write-after-read")
		}
	}
}

func (c *Context) hazardFlush(b *Batch, r *Resource, kind string) {
	c.stats.HazardFlushes++
	c.dev.stats.hazardFlushes.Add(1)
	c.perfLog("hazard flush", "kind", kind, "resource", r.label, "slot", b.slot)
	// Failures are logged by submitBatch; the batch is retired either way.
	_ = c.submitBatch(b, kind)
}
