// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
)

// fakeMemory is a CPU-backed allocation.
type fakeMemory struct {
	kind     MemoryKind
	size     uint64
	cpu      []byte
	released bool
}

func (m *fakeMemory) Size() uint64 { return m.size }
func (m *fakeMemory) Bytes() []byte {
	if m.kind == MemoryInvisible || m.kind == MemoryTilerHeap {
		return nil
	}
	return m.cpu
}
func (m *fakeMemory) Release() { m.released = true }

// submission is a snapshot of one SubmitBatch call. The batch itself is
// zeroed right after submission, so the interesting state is copied.
type submission struct {
	slot        int
	seqnum      uint64
	fragment    bool
	jobs        []Job
	clearMask   Channels
	drawsMask   Channels
	drawCount   uint32
	fb          *FramebufferDesc
	bos         []BOAccess
	tilerHeap   HeapRegion
	inFence     Fence
	fence       Fence
	description string
}

// fakeBackend records every call and executes nothing.
type fakeBackend struct {
	mu sync.Mutex

	arch Arch

	// failNext makes the next n SubmitBatch calls fail.
	failNext int
	// failAlloc makes AllocMemory fail for this kind when set.
	failAlloc *MemoryKind

	submissions []submission
	mems        []*fakeMemory
	initCalls   int
	preloads    int
	waits       int
	seqno       uint64
	closed      bool

	// onSubmit runs inside SubmitBatch, before the batch is retired.
	onSubmit func(req *SubmitRequest)
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Arch() Arch   { return f.arch }

func (f *fakeBackend) AllocMemory(desc MemoryDesc) (Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlloc != nil && *f.failAlloc == desc.Kind {
		return nil, errors.Newf("fake: no %s memory", desc.Kind)
	}
	m := &fakeMemory{kind: desc.Kind, size: desc.Size, cpu: make([]byte, desc.Size)}
	f.mems = append(f.mems, m)
	return m, nil
}

func (f *fakeBackend) InitBatch(*Batch) error {
	f.mu.Lock()
	f.initCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) PreloadFramebuffer(b *Batch, fb *FramebufferDesc) error {
	f.mu.Lock()
	f.preloads++
	f.mu.Unlock()
	if !f.arch.PreloadsWithJobs() {
		return nil
	}
	fb.Targets(func(_ Channels, rt *RenderTarget) {
		if rt.Preload {
			b.Chain().InjectPreload()
		}
	})
	return nil
}

func (f *fakeBackend) SubmitBatch(req *SubmitRequest) (Fence, error) {
	if f.onSubmit != nil {
		f.onSubmit(req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext > 0 {
		f.failNext--
		return Fence{}, errors.New("fake: ioctl failed")
	}

	f.seqno++
	fence := Fence{Seqno: f.seqno}
	s := submission{
		slot:      req.Batch.Slot(),
		seqnum:    req.Batch.Seqnum(),
		fragment:  req.Fragment,
		clearMask: req.Batch.ClearMask(),
		drawsMask: req.Batch.DrawsMask(),
		drawCount: req.Batch.DrawCount(),
		fb:        req.Framebuffer,
		bos:       append([]BOAccess(nil), req.BOs...),
		tilerHeap: req.TilerHeap,
		inFence:   req.InFence,
		fence:     fence,
	}
	for _, j := range req.Jobs {
		s.jobs = append(s.jobs, *j)
	}
	s.description = fmt.Sprintf("slot=%d fragment=%v jobs=%d", s.slot, s.fragment, len(s.jobs))
	f.submissions = append(f.submissions, s)
	return fence, nil
}

func (f *fakeBackend) Wait(fence Fence, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
	return fence.Seqno <= f.seqno, nil
}

func (f *fakeBackend) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// chainSubmissions returns the non-fragment submissions.
func (f *fakeBackend) chainSubmissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []submission
	for _, s := range f.submissions {
		if !s.fragment {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeBackend) numSubmissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}

// batchSubmissions counts submitted batches: a batch makes one or two
// SubmitBatch calls, each with the same seqnum.
func (f *fakeBackend) batchSubmissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	type id struct {
		slot   int
		seqnum uint64
	}
	seen := make(map[id]bool)
	for _, s := range f.submissions {
		seen[id{s.slot, s.seqnum}] = true
	}
	return len(seen)
}

func newTestDevice(t testing.TB, opts ...DeviceOption) (*Device, *fakeBackend) {
	return newTestDeviceArch(t, ArchBifrost, opts...)
}

func newTestDeviceArch(t testing.TB, arch Arch, opts ...DeviceOption) (*Device, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{arch: arch}
	dev, err := NewDevice(fb, opts...)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	t.Cleanup(dev.Close)
	return dev, fb
}

func mustTexture(dev *Device, label string, format gputypes.TextureFormat, w, h uint32) *Resource {
	r, err := dev.NewTexture(TextureDesc{Label: label, Format: format, Width: w, Height: h})
	if err != nil {
		panic(err)
	}
	return r
}

func mustBuffer(dev *Device, label string, size uint64) *Resource {
	r, err := dev.NewBuffer(label, size)
	if err != nil {
		panic(err)
	}
	return r
}

// newColorKey creates a single RGBA8 render target of w x h.
func newColorKey(dev *Device, w, h uint32) FramebufferKey {
	rt := mustTexture(dev, "color", gputypes.TextureFormatRGBA8Unorm, w, h)
	return FramebufferKey{Colors: []Surface{{Resource: rt}}, Width: w, Height: h}
}

// newZSKey creates an RGBA8 color target plus a depth/stencil target.
func newZSKey(dev *Device, zs gputypes.TextureFormat, w, h uint32) FramebufferKey {
	k := newColorKey(dev, w, h)
	k.ZS = Surface{Resource: mustTexture(dev, "zs", zs, w, h)}
	return k
}

// colorDraw is a rasterizing draw writing color0.
func colorDraw() *DrawInfo {
	return &DrawInfo{
		VertexProgram:   0x1000,
		FragmentProgram: 0x2000,
		VertexCount:     3,
		ColorWrites:     ChannelColor0,
	}
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}
