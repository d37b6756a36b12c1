// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// finishPollInterval is how long Finish waits on the fence per poll.
const finishPollInterval = time.Millisecond

// submitBatch submits b and retires it. Empty batches are retired without
// reaching the backend. The batch is torn down even when submission fails;
// the error is logged here and returned for explicit flushes.
func (c *Context) submitBatch(b *Batch, reason string) error {
	if b.isEmpty() {
		c.stats.EmptyBatches++
		c.dev.stats.emptyBatches.Add(1)
		c.cleanup(b)
		return nil
	}

	c.perfLog("submitting batch",
		"reason", reason,
		"slot", b.slot,
		"draws", b.drawCount,
		"compute", b.computeCount,
		"clear", b.clearMask,
		"bos", b.numBOs)

	err := c.submitJobs(b)
	if err != nil {
		c.stats.FailedSubmissions++
		c.dev.stats.failed.Add(1)
		slogger().Warn("tilebatch: batch submission failed",
			"reason", reason, "slot", b.slot, "err", err)
		err = errors.Mark(err, ErrSubmitFailed)
	} else {
		c.stats.Submissions++
		c.dev.stats.submissions.Add(1)
	}

	// The window system sees a new frame on every rendered surface.
	for _, s := range b.key.surfaces() {
		s.Resource.resetDamage()
	}

	c.cleanup(b)
	return err
}

// submitJobs derives the framebuffer and hands the vertex/tiler chain and
// the fragment job to the backend, in that order.
func (c *Context) submitJobs(b *Batch) error {
	be := c.dev.backend
	fb := DeriveFramebuffer(b, false)

	if err := be.PreloadFramebuffer(b, fb); err != nil {
		return errors.Wrap(err, "preloading framebuffer")
	}

	hasTiler := b.chain.HasTiler()
	hasFragment := hasTiler || b.clearMask != 0

	if b.chain.Len() > 0 {
		for _, j := range b.chain.jobs {
			j.encode()
		}
		if err := c.submitChain(b, fb, hasTiler); err != nil {
			return err
		}
	}

	if !hasFragment {
		markResolved(b, fb)
		return nil
	}

	desc, err := b.transient.Alloc(jobDescriptorSize, 64)
	if err != nil {
		return errors.Wrap(err, "fragment job descriptor")
	}
	frag := &Job{Index: 1, Type: JobFragment, Descriptor: desc}
	frag.encode()
	c.traceJobs(b, []*Job{frag})

	fence, err := be.SubmitBatch(&SubmitRequest{
		Batch:       b,
		Jobs:        []*Job{frag},
		Fragment:    true,
		Framebuffer: fb,
		BOs:         b.boList(),
		TilerHeap:   b.heap,
		InFence:     c.lastFence,
	})
	if err != nil {
		return errors.Wrap(err, "fragment job")
	}
	c.signal(b, fence)
	markResolved(b, fb)
	return nil
}

// markResolved marks the levels b resolves as holding defined contents.
// Only batches whose every submission was accepted get here.
func markResolved(b *Batch, fb *FramebufferDesc) {
	fb.Targets(func(ch Channels, rt *RenderTarget) {
		if b.resolveMask&ch != 0 {
			rt.Surface.Resource.SetLevelValid(rt.Surface.Level)
		}
	})
}

// submitChain submits the vertex, tiler and compute jobs. Chains with tiling
// work reserve their tiler heap region and submit under the heap lock.
func (c *Context) submitChain(b *Batch, fb *FramebufferDesc, hasTiler bool) error {
	heap := c.dev.heap
	if hasTiler {
		heap.Lock()
		defer heap.Unlock()

		region, err := heap.allocLocked(c.dev.cfg.TilerHeapRegion)
		if err != nil {
			return errors.Wrap(err, "reserving tiler heap")
		}
		b.heap = region
		b.AddBO(region.BO, AccessRW|AccessVertexTiler|AccessFragment)
	}

	c.traceJobs(b, b.chain.jobs)
	fence, err := c.dev.backend.SubmitBatch(&SubmitRequest{
		Batch:       b,
		Jobs:        b.chain.jobs,
		Framebuffer: fb,
		BOs:         b.boList(),
		TilerHeap:   b.heap,
		InFence:     c.lastFence,
	})
	if err != nil {
		return errors.Wrap(err, "vertex/tiler chain")
	}
	c.signal(b, fence)
	return nil
}

// signal records fence as the context's latest submission. In sync debug
// mode it also waits for it.
func (c *Context) signal(b *Batch, fence Fence) {
	b.fence = fence
	if !fence.IsZero() {
		c.lastFence = fence
	}
	c.dev.stats.kernelSubmits.Add(1)

	if c.dev.cfg.Debug&DebugSync == 0 || fence.IsZero() {
		return
	}
	ok, err := c.dev.backend.Wait(fence, c.dev.cfg.FenceTimeout)
	switch {
	case err != nil:
		slogger().Warn("tilebatch: fence wait failed", "seqno", fence.Seqno, "err", err)
	case !ok:
		slogger().Warn("tilebatch: fence wait timed out", "seqno", fence.Seqno, "timeout", c.dev.cfg.FenceTimeout)
	}
}

func (c *Context) traceJobs(b *Batch, jobs []*Job) {
	if c.dev.cfg.Debug&DebugTrace == 0 {
		return
	}
	for _, j := range jobs {
		slogger().Debug("tilebatch: job", "ctx", c.id, "slot", b.slot, "job", j.String())
	}
}

// Flush submits the batch of the bound framebuffer. It returns
// ErrNoFramebuffer when no framebuffer was ever bound.
func (c *Context) Flush(reason string) error {
	if c.closed {
		return ErrContextClosed
	}
	if !c.hasKey {
		return ErrNoFramebuffer
	}
	b := c.boundBatch()
	if b == nil {
		return nil
	}
	return c.submitBatch(b, reason)
}

// FlushAll submits every open batch, oldest first.
func (c *Context) FlushAll(reason string) error {
	if c.closed {
		return ErrContextClosed
	}
	batches := c.Batches()
	sort.Slice(batches, func(i, j int) bool { return batches[i].seqnum < batches[j].seqnum })

	var err error
	for _, b := range batches {
		// Earlier submissions may have retired b as a side effect.
		if c.active&b.bit() == 0 {
			continue
		}
		err = errors.CombineErrors(err, c.submitBatch(b, reason))
	}
	return err
}

// FlushWriter submits the batch that last wrote r, so the CPU or another
// context can read r.
func (c *Context) FlushWriter(r *Resource, reason string) error {
	if c.closed {
		return ErrContextClosed
	}
	w, ok := c.writers[r]
	if !ok {
		return nil
	}
	return c.submitBatch(w, reason)
}

// FlushAccessing submits every batch that reads or writes r, so the CPU can
// overwrite r.
func (c *Context) FlushAccessing(r *Resource, reason string) error {
	if c.closed {
		return ErrContextClosed
	}
	err := c.FlushWriter(r, reason)
	for _, b := range c.Batches() {
		if c.active&b.bit() != 0 && b.usesResource(r) {
			err = errors.CombineErrors(err, c.submitBatch(b, reason))
		}
	}
	return err
}

// Finish submits every open batch and waits until the GPU has executed the
// context's last submission or ctx is done.
func (c *Context) Finish(ctx context.Context) error {
	err := c.FlushAll("finish")
	if err != nil && !errors.Is(err, ErrSubmitFailed) {
		return err
	}
	fence := c.lastFence
	if fence.IsZero() {
		return err
	}
	for {
		ok, werr := c.dev.backend.Wait(fence, finishPollInterval)
		if werr != nil {
			return errors.CombineErrors(err, errors.Wrap(werr, "waiting for last submission"))
		}
		if ok {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.CombineErrors(err, ctx.Err())
		default:
		}
	}
}
