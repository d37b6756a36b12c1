// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"testing"

	"github.com/gogpu/gputypes"
)

// busyBatch binds a new framebuffer and queues a dispatch on it, so its
// batch is not retired as empty when submitted.
func busyBatch(ctx *Context, dev *Device) *Batch {
	ctx.SetFramebuffer(newColorKey(dev, 16, 16))
	ctx.Dispatch(&DispatchInfo{Program: 0x10})
	return ctx.GetBatch(mustKey(ctx))
}

func TestAddBOGrowsAndWidens(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	b := ctx.GetBatch(newColorKey(dev, 16, 16))

	buf := mustBuffer(dev, "vbo", 256)
	bo := buf.BO()
	before := bo.RefCount()
	n := b.NumBOs()

	b.AddBO(bo, AccessRead|AccessVertexTiler)
	if bo.RefCount() != before+1 {
		t.Errorf("RefCount() = %d, want %d", bo.RefCount(), before+1)
	}
	if b.NumBOs() != n+1 {
		t.Errorf("NumBOs() = %d, want %d", b.NumBOs(), n+1)
	}

	b.AddBO(bo, AccessWrite|AccessFragment)
	if bo.RefCount() != before+1 {
		t.Error("second reference must not retain again")
	}
	want := AccessRead | AccessWrite | AccessVertexTiler | AccessFragment
	if got := b.Access(bo.Handle()); got != want {
		t.Errorf("Access() = %v, want %v", got, want)
	}
	if len(b.boAccess) <= int(bo.Handle()) {
		t.Errorf("access array length %d does not cover handle %d", len(b.boAccess), bo.Handle())
	}
}

func TestBOAccessNeverShrinks(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 16, 16))

	bufs := make([]*Resource, 40)
	for i := range bufs {
		bufs[i] = mustBuffer(dev, "buf", 64)
	}

	b := ctx.GetBatch(mustKey(ctx))
	prevLen := len(b.boAccess)
	prevFlags := append([]AccessFlags(nil), b.boAccess...)
	for i := len(bufs) - 1; i >= 0; i-- {
		info := colorDraw()
		if i%2 == 0 {
			info.VertexBuffers = []*Resource{bufs[i]}
		} else {
			info.FragmentTextures = []*Resource{bufs[i]}
		}
		ctx.Draw(info)

		if len(b.boAccess) < prevLen {
			t.Fatalf("access array shrank from %d to %d", prevLen, len(b.boAccess))
		}
		for h, f := range prevFlags {
			if b.boAccess[h]&f != f {
				t.Fatalf("flags of handle %d narrowed from %v to %v", h, f, b.boAccess[h])
			}
		}
		prevLen = len(b.boAccess)
		prevFlags = append(prevFlags[:0], b.boAccess...)
	}
}

func TestAddBOUnrepresentableHandlePanics(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	b := ctx.GetBatch(newColorKey(dev, 16, 16))

	bo := &BO{handle: MaxBOHandle + 1, dev: dev}
	expectPanic(t, "handle above MaxBOHandle", func() {
		b.AddBO(bo, AccessRead)
	})
}

func TestSingleWriterInvariant(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	res := mustBuffer(dev, "ssbo", 1024)

	keys := []FramebufferKey{newColorKey(dev, 16, 16), newColorKey(dev, 16, 16), newColorKey(dev, 16, 16)}
	ops := []struct {
		key   int
		write bool
	}{
		{0, true}, {1, false}, {2, true}, {0, false}, {1, true}, {1, true}, {2, false},
	}

	var lastWriter *Batch
	for i, op := range ops {
		b := ctx.GetBatch(keys[op.key])
		if op.write {
			ctx.WriteResource(b, res, StageVertexTiler)
			lastWriter = b
		} else {
			ctx.ReadResource(b, res, StageFragment)
		}

		n := 0
		for r := range ctx.writers {
			if r == res {
				n++
			}
		}
		if n > 1 {
			t.Fatalf("op %d: %d writer entries for one resource", i, n)
		}
		if w := ctx.Writer(res); w != nil && w != lastWriter {
			t.Fatalf("op %d: writer is slot %d, want slot %d", i, w.Slot(), lastWriter.Slot())
		}
		if op.write && ctx.Writer(res) != b {
			t.Fatalf("op %d: write did not record the batch as writer", i)
		}
	}
}

func TestFlushBeforeConflictingWrite(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()
	res := mustBuffer(dev, "ssbo", 1024)

	k1 := newColorKey(dev, 16, 16)
	k2 := newColorKey(dev, 16, 16)

	ctx.SetFramebuffer(k1)
	ctx.Dispatch(&DispatchInfo{Program: 0x10, StorageWrites: []*Resource{res}})
	b1 := ctx.GetBatch(k1)
	b1Seq := b1.Seqnum()

	submitted := false
	fb.onSubmit = func(req *SubmitRequest) {
		if req.Batch.Seqnum() == b1Seq {
			submitted = true
		}
	}

	ctx.SetFramebuffer(k2)
	b2 := ctx.GetBatch(k2)
	ctx.WriteResource(b2, res, StageVertexTiler)

	if !submitted {
		t.Fatal("first writer was not submitted before the second write returned")
	}
	if ctx.Writer(res) != b2 {
		t.Error("second batch is not the recorded writer")
	}
	if got := ctx.Stats().HazardFlushes; got != 1 {
		t.Errorf("HazardFlushes = %d, want 1", got)
	}
}

func TestReadAfterWriteFlushesWriter(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()
	tex := mustBuffer(dev, "tex", 256)

	w := busyBatch(ctx, dev)
	ctx.WriteResource(w, tex, StageFragment)

	r := ctx.GetBatch(newColorKey(dev, 16, 16))
	ctx.ReadResource(r, tex, StageFragment)

	if ctx.Writer(tex) != nil {
		t.Error("writer entry survived the writer's submission")
	}
	if n := fb.batchSubmissions(); n != 1 {
		t.Errorf("batch submissions = %d, want 1", n)
	}
}

func TestWriteAfterReadFlushesReaders(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()
	buf := mustBuffer(dev, "ubo", 256)

	var readers []*Batch
	for i := 0; i < 3; i++ {
		b := busyBatch(ctx, dev)
		ctx.ReadResource(b, buf, StageVertexTiler)
		readers = append(readers, b)
	}
	bystander := busyBatch(ctx, dev)

	w := ctx.GetBatch(newColorKey(dev, 16, 16))
	ctx.WriteResource(w, buf, StageVertexTiler)

	for _, b := range readers {
		if ctx.active&b.bit() != 0 {
			t.Errorf("reader in slot %d still active", b.Slot())
		}
	}
	if ctx.active&bystander.bit() == 0 {
		t.Error("batch not touching the resource was submitted")
	}
	if n := fb.batchSubmissions(); n != len(readers) {
		t.Errorf("batch submissions = %d, want %d", n, len(readers))
	}
}

func TestSameBatchAccessNeverFlushes(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()
	buf := mustBuffer(dev, "buf", 256)

	busyBatch(ctx, dev)

	b := ctx.GetBatch(newColorKey(dev, 16, 16))
	ctx.WriteResource(b, buf, StageVertexTiler)
	ctx.ReadResource(b, buf, StageFragment)
	ctx.WriteResource(b, buf, StageFragment)

	if n := fb.numSubmissions(); n != 0 {
		t.Errorf("submissions = %d, want 0", n)
	}
}

func TestSoleBatchSkipsHazardScan(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	buf := mustBuffer(dev, "buf", 256)

	b := ctx.GetBatch(newColorKey(dev, 16, 16))
	ctx.WriteResource(b, buf, StageVertexTiler)
	if ctx.Writer(buf) != b {
		t.Error("writer must be recorded even without other batches")
	}
	if got := ctx.Stats().HazardFlushes; got != 0 {
		t.Errorf("HazardFlushes = %d, want 0", got)
	}
}

func TestSeparateStencilTrackedWithDepth(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	k := newZSKey(dev, gputypes.TextureFormatDepth32FloatStencil8, 16, 16)
	b := ctx.GetBatch(k)

	sep := k.ZS.Resource.SeparateStencil()
	if sep == nil {
		t.Fatal("Depth32FloatStencil8 should have a separate stencil resource")
	}
	if b.Access(sep.BO().Handle())&AccessWrite == 0 {
		t.Error("separate stencil BO not write-tracked")
	}
	if !b.usesResource(k.ZS.Resource) {
		t.Error("usesResource should see the depth resource")
	}
}

func TestAccessFlagsString(t *testing.T) {
	tests := []struct {
		f    AccessFlags
		want string
	}{
		{0, "none"},
		{AccessRead, "read"},
		{AccessWrite | AccessFragment, "write|fragment"},
		{AccessRW | AccessVertexTiler, "read|write|vertex-tiler"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("AccessFlags(%d).String() = %q, want %q", tt.f, got, tt.want)
		}
	}
}
