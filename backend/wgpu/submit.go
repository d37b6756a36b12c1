// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tilebatch"
)

// submission tracks the HAL objects of one queue submission until its
// fence signals.
type submission struct {
	seqno      uint64
	fence      hal.Fence
	cmd        hal.CommandBuffer
	table      hal.Buffer
	bindGroups []hal.BindGroup
	draws      []*tilebatch.DrawRecord
}

// release destroys the HAL objects. Safe on partially built submissions.
func (s *submission) release(d hal.Device) {
	if s.fence != nil {
		d.DestroyFence(s.fence)
	}
	if s.cmd != nil {
		d.FreeCommandBuffer(s.cmd)
	}
	for _, g := range s.bindGroups {
		d.DestroyBindGroup(g)
	}
	if s.table != nil {
		d.DestroyBuffer(s.table)
	}
}

// retire completes the submission's draws and releases it.
func (s *submission) retire(d hal.Device) {
	for _, dr := range s.draws {
		if dr.State() == tilebatch.DrawTilerRunning {
			dr.Advance(tilebatch.DrawComplete)
		}
	}
	s.release(d)
}

// SubmitBatch implements tilebatch.Backend.
func (b *Backend) SubmitBatch(req *tilebatch.SubmitRequest) (tilebatch.Fence, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return tilebatch.Fence{}, ErrClosed
	}
	if req.InFence.Seqno > b.issued {
		return tilebatch.Fence{}, errors.Newf("wgpu: input fence %d was not issued by this backend", req.InFence.Seqno)
	}

	for !b.inflight.TryAcquire(1) {
		if err := b.retireOldestLocked(); err != nil {
			return tilebatch.Fence{}, errors.Wrap(err, "waiting for an in-flight slot")
		}
	}

	s := &submission{seqno: b.issued + 1}
	if err := b.encodeLocked(req, s); err != nil {
		s.release(b.device)
		b.inflight.Release(1)
		return tilebatch.Fence{}, err
	}

	b.issued = s.seqno
	b.pending = append(b.pending, s)
	b.stats.Submissions++
	return tilebatch.Fence{Seqno: s.seqno, Handle: s.fence}, nil
}

// encodeLocked records and submits req into s.
func (b *Backend) encodeLocked(req *tilebatch.SubmitRequest, s *submission) error {
	st := stateOf(req.Batch)
	label := fmt.Sprintf("%s_%d", st.label, s.seqno)

	if err := b.uploadLocked(req.BOs); err != nil {
		return err
	}

	enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return errors.Wrap(err, "create command encoder")
	}
	if err := enc.BeginEncoding(label); err != nil {
		return errors.Wrap(err, "begin encoding")
	}

	if req.Fragment {
		err = b.encodeFragment(enc, req, label)
	} else {
		err = b.encodeChain(enc, req.Jobs, s, label)
	}
	if err != nil {
		// Close the encoder so its command buffer can be freed.
		if cmd, endErr := enc.EndEncoding(); endErr == nil {
			b.device.FreeCommandBuffer(cmd)
		}
		return err
	}

	s.cmd, err = enc.EndEncoding()
	if err != nil {
		return errors.Wrap(err, "end encoding")
	}
	s.fence, err = b.device.CreateFence()
	if err != nil {
		return errors.Wrap(err, "create fence")
	}
	if err := b.queue.Submit([]hal.CommandBuffer{s.cmd}, s.fence, 1); err != nil {
		return errors.Wrap(err, "queue submit")
	}
	return nil
}

// uploadLocked copies the CPU shadow of every transient allocation the
// submission references to the GPU.
func (b *Backend) uploadLocked(bos []tilebatch.BOAccess) error {
	for _, a := range bos {
		switch m := a.BO.Memory().(type) {
		case *bufferMemory:
			if m.be != b {
				return errors.Wrapf(ErrForeignMemory, "bo %d (%s)", a.BO.Handle(), a.BO.Label())
			}
			if m.shadow == nil {
				continue
			}
			b.queue.WriteBuffer(m.buf, 0, m.shadow)
			b.stats.UploadedBytes += uint64(len(m.shadow))
		case *textureMemory:
			if m.be != b {
				return errors.Wrapf(ErrForeignMemory, "bo %d (%s)", a.BO.Handle(), a.BO.Label())
			}
		default:
			return errors.Wrapf(ErrForeignMemory, "bo %d (%s) is %T", a.BO.Handle(), a.BO.Label(), m)
		}
	}
	return nil
}

// encodeChain records one compute pass per job in chain order and advances
// the draw records the jobs belong to.
func (b *Backend) encodeChain(enc hal.CommandEncoder, jobs []*tilebatch.Job, s *submission, label string) error {
	if len(jobs) == 0 {
		return nil
	}

	table := encodeJobTable(jobs)
	var err error
	s.table, err = b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "_jobs",
		Size:  uint64(len(table)),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return errors.Mark(errors.Wrap(err, "create job table"), tilebatch.ErrOutOfMemory)
	}
	b.queue.WriteBuffer(s.table, 0, table)
	b.stats.UploadedBytes += uint64(len(table))

	for i, j := range jobs {
		bg, err := b.kernel.bindGroup(fmt.Sprintf("%s_job%d", label, j.Index), s.table, uint64(i*jobEntryStride))
		if err != nil {
			return errors.Wrapf(err, "bind job %d", j.Index)
		}
		s.bindGroups = append(s.bindGroups, bg)

		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: fmt.Sprintf("%s_%s", label, j.Type)})
		pass.SetPipeline(b.kernel.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(1, 1, 1)
		pass.End()
		b.stats.ComputePasses++

		if d := j.Draw; d != nil {
			switch {
			case j.Type == tilebatch.JobVertex:
				d.Advance(tilebatch.DrawVertexRunning)
			case j.Type == tilebatch.JobTiler, j.Type == tilebatch.JobIndexedVertex:
				d.Advance(tilebatch.DrawTilerRunning)
				s.draws = append(s.draws, d)
			}
		}
	}
	return nil
}

// encodeFragment records the render pass of the fragment job.
func (b *Backend) encodeFragment(enc hal.CommandEncoder, req *tilebatch.SubmitRequest, label string) error {
	fb := req.Framebuffer
	if fb == nil {
		return errors.New("wgpu: fragment submission without framebuffer")
	}

	desc := &hal.RenderPassDescriptor{Label: label + "_fragment"}
	for i := range fb.Colors {
		rt := &fb.Colors[i]
		if !rt.Bound() {
			continue
		}
		view, err := surfaceView(rt.Surface)
		if err != nil {
			return err
		}
		var clear tilebatch.ClearColor
		if i < len(fb.ClearColors) {
			clear = fb.ClearColors[i]
		}
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:       view,
			LoadOp:     loadOp(rt),
			StoreOp:    storeOp(rt),
			ClearValue: unpackClearColor(rt.Format, clear),
		})
	}

	ds, err := depthStencilAttachment(fb, req.Batch)
	if err != nil {
		return err
	}
	desc.DepthStencilAttachment = ds

	if len(desc.ColorAttachments) == 0 && ds == nil {
		return nil
	}
	enc.BeginRenderPass(desc).End()
	b.stats.RenderPasses++
	return nil
}

// depthStencilAttachment builds the depth/stencil attachment, nil when
// neither aspect is bound. Split stencil surfaces are loaded through the
// depth surface's stencil aspect.
func depthStencilAttachment(fb *tilebatch.FramebufferDesc, bt *tilebatch.Batch) (*hal.RenderPassDepthStencilAttachment, error) {
	primary := &fb.Depth
	if !primary.Bound() {
		primary = &fb.Stencil
	}
	if !primary.Bound() {
		return nil, nil
	}
	view, err := surfaceView(primary.Surface)
	if err != nil {
		return nil, err
	}

	ds := &hal.RenderPassDepthStencilAttachment{
		View:            view,
		DepthClearValue: 1,
	}
	if fb.Depth.Bound() {
		ds.DepthLoadOp = loadOp(&fb.Depth)
		ds.DepthStoreOp = storeOp(&fb.Depth)
		ds.DepthClearValue = bt.ClearDepth()
	}
	if fb.Stencil.Bound() && formatHasStencil(primary.Format, primary.Surface) {
		ds.StencilLoadOp = loadOp(&fb.Stencil)
		ds.StencilStoreOp = storeOp(&fb.Stencil)
		ds.StencilClearValue = uint32(fb.ClearStencil)
	}
	return ds, nil
}

func surfaceView(s tilebatch.Surface) (hal.TextureView, error) {
	m, ok := s.Resource.BO().Memory().(*textureMemory)
	if !ok {
		return nil, errors.Wrapf(ErrForeignMemory, "render target %q", s.Resource.Label())
	}
	v := m.view(s.Level)
	if v == nil {
		return nil, errors.Newf("wgpu: render target %q has no level %d", s.Resource.Label(), s.Level)
	}
	return v, nil
}

// formatHasStencil reports whether the attachment view carries a stencil
// aspect.
func formatHasStencil(f gputypes.TextureFormat, s tilebatch.Surface) bool {
	if m, ok := s.Resource.BO().Memory().(*textureMemory); ok {
		f = m.format
	}
	switch f {
	case gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32FloatStencil8,
		gputypes.TextureFormatStencil8:
		return true
	}
	return false
}

// loadOp maps a target's policy to a load operation. Targets that are
// neither cleared nor preloaded have undefined contents and start cleared.
func loadOp(rt *tilebatch.RenderTarget) gputypes.LoadOp {
	if rt.Preload && !rt.Clear {
		return gputypes.LoadOpLoad
	}
	return gputypes.LoadOpClear
}

func storeOp(rt *tilebatch.RenderTarget) gputypes.StoreOp {
	if rt.Discard {
		return gputypes.StoreOpDiscard
	}
	return gputypes.StoreOpStore
}
