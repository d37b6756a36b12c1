// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"image"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
)

func TestClearSetsMasksAndFullScissor(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newZSKey(dev, gputypes.TextureFormatDepth24PlusStencil8, 100, 50))

	ctx.Clear(ChannelColor0|ChannelDepth, [4]float64{1, 0, 0, 1}, 0.5, 0)
	b := ctx.GetBatch(mustKey(ctx))

	if got, want := b.ClearMask(), ChannelColor0|ChannelDepth; got != want {
		t.Errorf("ClearMask() = %v, want %v", got, want)
	}
	if got, want := b.ResolveMask(), ChannelColor0|ChannelDepth; got != want {
		t.Errorf("ResolveMask() = %v, want %v", got, want)
	}
	if got, want := b.Scissor(), image.Rect(0, 0, 100, 50); got != want {
		t.Errorf("Scissor() = %v, want %v", got, want)
	}
	if got := b.ClearColor(0); got[0] != 0xff0000ff {
		t.Errorf("ClearColor(0) = %#x, want 0xff0000ff", got[0])
	}
	if b.ClearDepth() != 0.5 {
		t.Errorf("ClearDepth() = %v, want 0.5", b.ClearDepth())
	}
}

func TestClearIgnoresUnboundChannels(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 16, 16))

	ctx.Clear(ChannelColor3|ChannelDepth, [4]float64{}, 1, 0)
	b := ctx.GetBatch(mustKey(ctx))
	if b.ClearMask() != 0 {
		t.Errorf("ClearMask() = %v, want none", b.ClearMask())
	}
	if !b.Scissor().Empty() {
		t.Errorf("Scissor() = %v, want empty", b.Scissor())
	}
}

func TestDrawAccumulatesMasks(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newZSKey(dev, gputypes.TextureFormatDepth24PlusStencil8, 64, 64))

	ctx.Draw(&DrawInfo{
		VertexProgram: 0x100,
		VertexCount:   6,
		ColorWrites:   ChannelColor0 | ChannelColor5, // color5 is unbound
		BlendReads:    ChannelColor0,
		DepthTest:     true,
		StencilWrite:  true,
	})
	b := ctx.GetBatch(mustKey(ctx))

	if got, want := b.DrawsMask(), ChannelColor0|ChannelDepth|ChannelStencil; got != want {
		t.Errorf("DrawsMask() = %v, want %v", got, want)
	}
	if got, want := b.ResolveMask(), ChannelColor0|ChannelStencil; got != want {
		t.Errorf("ResolveMask() = %v, want %v", got, want)
	}
	if got, want := b.ReadMask(), ChannelColor0|ChannelDepth; got != want {
		t.Errorf("ReadMask() = %v, want %v", got, want)
	}
	if b.DrawCount() != 1 {
		t.Errorf("DrawCount() = %d, want 1", b.DrawCount())
	}
}

func TestDrawScissorUnion(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 100, 100))

	s1 := image.Rect(10, 10, 20, 20)
	s2 := image.Rect(50, 5, 200, 30) // clipped to the framebuffer
	for _, s := range []*image.Rectangle{&s1, &s2} {
		info := colorDraw()
		info.Scissor = s
		ctx.Draw(info)
	}

	b := ctx.GetBatch(mustKey(ctx))
	if got, want := b.Scissor(), image.Rect(10, 5, 100, 30); got != want {
		t.Errorf("Scissor() = %v, want %v", got, want)
	}
}

func TestRasterStateMachine(t *testing.T) {
	empty := image.Rect(5, 5, 5, 10)
	outside := image.Rect(200, 200, 300, 300)

	tests := []struct {
		name   string
		modify func(*DrawInfo)
		want   RasterState
	}{
		{"plain draw", func(*DrawInfo) {}, RasterRun},
		{"rasterizer discard", func(d *DrawInfo) { d.RasterizerDiscard = true }, RasterSkip},
		{"degenerate scissor", func(d *DrawInfo) { d.Scissor = &empty }, RasterSkip},
		{"scissor outside framebuffer", func(d *DrawInfo) { d.Scissor = &outside }, RasterSkip},
		{"no vertex program", func(d *DrawInfo) { d.VertexProgram = 0 }, RasterSkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _ := newTestDevice(t)
			ctx := dev.NewContext()
			ctx.SetFramebuffer(newColorKey(dev, 64, 64))

			info := colorDraw()
			tt.modify(info)
			ctx.Draw(info)

			if got := ctx.RasterState(); got != tt.want {
				t.Errorf("RasterState() = %v, want %v", got, tt.want)
			}
			b := ctx.GetBatch(mustKey(ctx))
			wantDraws := uint32(0)
			if tt.want == RasterRun {
				wantDraws = 1
			}
			if b.DrawCount() != wantDraws {
				t.Errorf("DrawCount() = %d, want %d", b.DrawCount(), wantDraws)
			}
			if tt.want == RasterSkip && (b.DrawsMask() != 0 || b.Chain().Len() != 0) {
				t.Errorf("skipped draw left draws=%v jobs=%d", b.DrawsMask(), b.Chain().Len())
			}
		})
	}
}

func TestSkippedDrawRunsSideEffects(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 64, 64))
	xfb := mustBuffer(dev, "xfb", 4096)

	info := colorDraw()
	info.RasterizerDiscard = true
	info.TransformFeedback = []*Resource{xfb}
	ctx.Draw(info)

	b := ctx.GetBatch(mustKey(ctx))
	if b.DrawCount() != 0 {
		t.Errorf("DrawCount() = %d, want 0", b.DrawCount())
	}
	if b.ComputeCount() != 1 || b.SideEffectCount() != 1 {
		t.Errorf("compute=%d sideEffects=%d, want 1 and 1", b.ComputeCount(), b.SideEffectCount())
	}
	jobs := b.Chain().Jobs()
	if len(jobs) != 1 || jobs[0].Type != JobCompute {
		t.Fatalf("jobs = %v, want one compute job", jobs)
	}
	if ctx.Writer(xfb) != b {
		t.Error("transform feedback target not recorded as written")
	}
}

func TestDrawJobsPerArch(t *testing.T) {
	for _, arch := range []Arch{ArchMidgard, ArchBifrost, ArchValhall} {
		t.Run(arch.String(), func(t *testing.T) {
			dev, _ := newTestDeviceArch(t, arch)
			ctx := dev.NewContext()
			ctx.SetFramebuffer(newColorKey(dev, 64, 64))
			ctx.Draw(colorDraw())
			ctx.Draw(colorDraw())

			jobs := ctx.GetBatch(mustKey(ctx)).Chain().Jobs()
			if arch.HasIDVS() {
				if len(jobs) != 2 {
					t.Fatalf("len(jobs) = %d, want 2", len(jobs))
				}
				for _, j := range jobs {
					if j.Type != JobIndexedVertex || j.Dependency != 0 {
						t.Errorf("job %v: want dependency-free IDVS", j)
					}
				}
				return
			}
			if len(jobs) != 4 {
				t.Fatalf("len(jobs) = %d, want 4", len(jobs))
			}
			for i := 0; i < 4; i += 2 {
				v, tl := jobs[i], jobs[i+1]
				if v.Type != JobVertex || tl.Type != JobTiler {
					t.Errorf("jobs %d,%d = %s,%s", i, i+1, v.Type, tl.Type)
				}
				if tl.Dependency != v.Index {
					t.Errorf("tiler %d depends on %d, want %d", tl.Index, tl.Dependency, v.Index)
				}
			}
		})
	}
}

func TestDescriptorCache(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 64, 64))

	info := colorDraw()
	info.Descriptors = []Descriptor{{Kind: DescriptorTextures, Pointer: 0xabc000}}
	ctx.Draw(info)

	b := ctx.GetBatch(mustKey(ctx))
	ptr, first, ok := b.CachedDescriptor(DescriptorTextures)
	if !ok || ptr != 0xabc000 {
		t.Fatalf("CachedDescriptor = %#x, %v", ptr, ok)
	}
	used := b.TransientPool().Used()

	ctx.Draw(info)
	_, again, _ := b.CachedDescriptor(DescriptorTextures)
	if again.Offset != first.Offset || again.BO != first.BO {
		t.Error("unchanged pointer was uploaded again")
	}
	// Only the two job records of the second draw are new.
	if got := b.TransientPool().Used() - used; got != 2*jobDescriptorSize {
		t.Errorf("second draw used %d transient bytes, want %d", got, 2*jobDescriptorSize)
	}

	info.Descriptors[0].Pointer = 0xdef000
	ctx.Draw(info)
	ptr, moved, _ := b.CachedDescriptor(DescriptorTextures)
	if ptr != 0xdef000 || moved.Offset == first.Offset {
		t.Error("changed pointer was not re-uploaded")
	}
}

func TestDrawWithoutFramebufferDropped(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()

	ctx.Draw(colorDraw())
	ctx.Clear(ChannelAll, [4]float64{}, 0, 0)
	ctx.Dispatch(&DispatchInfo{Program: 1})

	if ctx.ActiveBatches() != 0 || fb.numSubmissions() != 0 {
		t.Error("work without a framebuffer must be dropped")
	}
}

func TestDrawAllocationFailureDropsDraw(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 64, 64))

	kind := MemoryTransient
	fb.failAlloc = &kind
	ctx.Draw(colorDraw())

	b := ctx.GetBatch(mustKey(ctx))
	if b.DrawCount() != 0 || b.Chain().Len() != 0 {
		t.Errorf("failed draw left draws=%d jobs=%d", b.DrawCount(), b.Chain().Len())
	}
}

func TestDispatchTracksStorage(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 64, 64))
	in := mustBuffer(dev, "in", 256)
	out := mustBuffer(dev, "out", 256)

	ctx.Dispatch(&DispatchInfo{
		Program:       0x40,
		Groups:        [3]uint32{4, 2, 0},
		StorageReads:  []*Resource{in},
		StorageWrites: []*Resource{out},
	})

	b := ctx.GetBatch(mustKey(ctx))
	if b.ComputeCount() != 1 {
		t.Errorf("ComputeCount() = %d, want 1", b.ComputeCount())
	}
	if got := b.Access(in.BO().Handle()); got != AccessRead|AccessVertexTiler {
		t.Errorf("input access = %v", got)
	}
	if got := b.Access(out.BO().Handle()); got != AccessWrite|AccessVertexTiler {
		t.Errorf("output access = %v", got)
	}
	if j := b.Chain().Jobs()[0]; j.Invocations != 8 {
		t.Errorf("Invocations = %d, want 8", j.Invocations)
	}
}

func TestDrawInvocations(t *testing.T) {
	tests := []struct {
		vertices, instances uint32
		want                uint32
		wantErr             bool
	}{
		{3, 0, 3, false},
		{3, 4, 12, false},
		{1 << 16, 1<<16 - 1, 1<<32 - 1<<16, false},
		{1 << 16, 1 << 16, 0, true},
		{1<<32 - 1, 2, 0, true},
	}
	for _, tt := range tests {
		info := &DrawInfo{VertexCount: tt.vertices, InstanceCount: tt.instances}
		got, err := info.invocations()
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("invocations(%d x %d) = %d, %v", tt.vertices, tt.instances, got, err)
		}
		if tt.wantErr && !errors.Is(err, ErrTooManyInvocations) {
			t.Errorf("invocations(%d x %d): err = %v, want ErrTooManyInvocations", tt.vertices, tt.instances, err)
		}
	}
}

func TestDrawInvocationOverflowDropped(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 16, 16))

	info := colorDraw()
	info.VertexCount = 1 << 16
	info.InstanceCount = 1 << 16
	ctx.Draw(info)

	b := ctx.GetBatch(mustKey(ctx))
	if b.DrawCount() != 0 || b.Chain().Len() != 0 {
		t.Errorf("oversized draw queued: draws=%d jobs=%d", b.DrawCount(), b.Chain().Len())
	}
	if b.InvisiblePool().Used() != 0 {
		t.Errorf("invisible pool used %d bytes", b.InvisiblePool().Used())
	}

	// Side-effect-only draws take the same limit.
	buf := mustBuffer(dev, "ssbo", 64)
	info = &DrawInfo{VertexProgram: 0x1000, VertexCount: 1 << 16, InstanceCount: 1 << 16, StorageWrites: []*Resource{buf}, RasterizerDiscard: true}
	ctx.Draw(info)
	if b.ComputeCount() != 0 {
		t.Errorf("oversized side-effect dispatch queued: compute=%d", b.ComputeCount())
	}
}

func TestDispatchGroupOverflowDropped(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 16, 16))

	ctx.Dispatch(&DispatchInfo{Program: 0x3000, Groups: [3]uint32{1 << 20, 1 << 20, 1 << 20}})
	b := ctx.GetBatch(mustKey(ctx))
	if b.ComputeCount() != 0 {
		t.Errorf("oversized dispatch queued: compute=%d", b.ComputeCount())
	}

	ctx.Dispatch(&DispatchInfo{Program: 0x3000, Groups: [3]uint32{1 << 16, 1 << 15, 0}})
	if j := b.Chain().Jobs()[0]; j.Invocations != 1<<31 {
		t.Errorf("Invocations = %d, want %d", j.Invocations, 1<<31)
	}
}
