// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

// GetBatch returns the open batch for key, creating one on a miss.
//
// A hit refreshes the batch's recency stamp. A miss takes the least recently
// used slot; if that slot still holds a batch it is submitted first, so a
// context never has more than MaxBatches batches open.
func (c *Context) GetBatch(key FramebufferKey) *Batch {
	assertf(!c.closed, "GetBatch on closed context %d", c.id)
	key.validate()

	for mask := c.active; mask != 0; {
		slot := lowestSlot(mask)
		mask &^= 1 << slot
		b := &c.slots[slot]
		if b.key.Equal(&key) {
			c.seqnum++
			b.seqnum = c.seqnum
			return b
		}
	}

	victim := &c.slots[0]
	for i := 1; i < MaxBatches; i++ {
		if c.slots[i].seqnum < victim.seqnum {
			victim = &c.slots[i]
		}
	}

	if c.active&victim.bit() != 0 {
		c.stats.Evictions++
		c.dev.stats.evictions.Add(1)
		c.perfLog("evicting batch", "slot", victim.slot, "seqnum", victim.seqnum)
		// The slot is reclaimed even if the submission fails.
		_ = c.submitBatch(victim, "eviction")
	}

	c.seqnum++
	victim.init(key, c.seqnum)
	c.active |= victim.bit()

	if err := c.dev.backend.InitBatch(victim); err != nil {
		slogger().Warn("tilebatch: backend batch init failed", "slot", victim.slot, "err", err)
	}

	// Rendering writes every attachment. Tracking the writes up front flushes
	// any other batch still sampling from or rendering to them.
	for _, s := range victim.key.surfaces() {
		c.WriteResource(victim, s.Resource, StageFragment)
	}
	return victim
}

// GetBatchForKey returns a batch for the current framebuffer that has no
// queued draws or dispatches. If the current batch has work it is submitted
// with reason first. Callers use it to force a flush point without changing
// the framebuffer.
//
// Returns nil when no framebuffer is bound.
func (c *Context) GetBatchForKey(reason string) *Batch {
	b := c.currentBatch()
	if b == nil || !b.hasWork() {
		return b
	}
	c.perfLog("fresh batch", "reason", reason, "slot", b.slot)
	_ = c.submitBatch(b, reason)
	return c.currentBatch()
}

// SetFramebuffer binds the framebuffer that subsequent draws and clears
// target. Work already queued for the previous framebuffer stays in its
// batch until it is flushed or evicted.
func (c *Context) SetFramebuffer(key FramebufferKey) {
	key.validate()
	if c.hasKey && c.key.Equal(&key) {
		return
	}
	c.key = key.Clone()
	c.hasKey = true
	c.batch = nil
}

// Framebuffer returns the bound framebuffer key and whether one is bound.
func (c *Context) Framebuffer() (FramebufferKey, bool) {
	return c.key, c.hasKey
}

// currentBatch returns the batch for the bound framebuffer, or nil.
func (c *Context) currentBatch() *Batch {
	if !c.hasKey {
		return nil
	}
	if c.batch == nil {
		c.batch = c.GetBatch(c.key)
	}
	return c.batch
}

// boundBatch returns the open batch for the bound framebuffer without
// creating one, or nil.
func (c *Context) boundBatch() *Batch {
	if !c.hasKey {
		return nil
	}
	if c.batch != nil {
		return c.batch
	}
	for mask := c.active; mask != 0; {
		slot := lowestSlot(mask)
		mask &^= 1 << slot
		if b := &c.slots[slot]; b.key.Equal(&c.key) {
			c.batch = b
			return b
		}
	}
	return nil
}

// ActiveBatches returns the number of open batches.
func (c *Context) ActiveBatches() int {
	n := 0
	for mask := c.active; mask != 0; mask &= mask - 1 {
		n++
	}
	return n
}

// Batches returns the open batches in slot order.
func (c *Context) Batches() []*Batch {
	var out []*Batch
	for mask := c.active; mask != 0; {
		slot := lowestSlot(mask)
		mask &^= 1 << slot
		out = append(out, &c.slots[slot])
	}
	return out
}
