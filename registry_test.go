// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestGetBatchHitBumpsSeqnum(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	k1 := newColorKey(dev, 32, 32)
	k2 := newColorKey(dev, 32, 32)

	b1 := ctx.GetBatch(k1)
	b2 := ctx.GetBatch(k2)
	if b1 == b2 {
		t.Fatal("different keys returned the same batch")
	}
	old := b1.Seqnum()

	if got := ctx.GetBatch(k1); got != b1 {
		t.Fatalf("GetBatch(k1) returned slot %d, want %d", got.Slot(), b1.Slot())
	}
	if b1.Seqnum() <= old || b1.Seqnum() <= b2.Seqnum() {
		t.Errorf("seqnum not bumped: old=%d new=%d other=%d", old, b1.Seqnum(), b2.Seqnum())
	}
	if n := ctx.ActiveBatches(); n != 2 {
		t.Errorf("ActiveBatches() = %d, want 2", n)
	}
}

func TestGetBatchKeyEquality(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	k := newColorKey(dev, 32, 32)

	b := ctx.GetBatch(k)
	clone := k.Clone()
	if got := ctx.GetBatch(clone); got != b {
		t.Error("a cloned key must hit the same batch")
	}

	other := k.Clone()
	other.Samples = 4
	if got := ctx.GetBatch(other); got == b {
		t.Error("a key with a different sample count must miss")
	}
}

func TestLRUCapacityBound(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()

	keys := make([]FramebufferKey, MaxBatches+1)
	for i := range keys {
		keys[i] = newColorKey(dev, 16, 16)
	}

	for i := 0; i < MaxBatches; i++ {
		ctx.SetFramebuffer(keys[i])
		ctx.Draw(colorDraw())
	}
	if n := ctx.ActiveBatches(); n != MaxBatches {
		t.Fatalf("ActiveBatches() = %d, want %d", n, MaxBatches)
	}
	if n := fb.batchSubmissions(); n != 0 {
		t.Fatalf("%d batches submitted before the registry was full", n)
	}

	ctx.GetBatch(keys[MaxBatches])

	if n := fb.batchSubmissions(); n != 1 {
		t.Errorf("batch submissions = %d, want exactly 1", n)
	}
	if n := ctx.ActiveBatches(); n != MaxBatches {
		t.Errorf("ActiveBatches() = %d, want %d", n, MaxBatches)
	}
	if got := ctx.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()

	keys := make([]FramebufferKey, MaxBatches)
	for i := range keys {
		keys[i] = newColorKey(dev, 16, 16)
		ctx.SetFramebuffer(keys[i])
		ctx.Clear(ChannelColor0, [4]float64{}, 0, 0)
	}
	// Touch every batch but one, which becomes least recently used.
	const lru = 5
	for i := range keys {
		if i != lru {
			ctx.GetBatch(keys[i])
		}
	}
	lruSlot := ctx.GetBatch(keys[lru]).Slot()
	for i := range keys {
		if i != lru {
			ctx.GetBatch(keys[i])
		}
	}

	ctx.GetBatch(newColorKey(dev, 16, 16))

	subs := fb.chainSubmissions()
	frags := fb.numSubmissions() - len(subs)
	if frags != 1 {
		t.Fatalf("fragment submissions = %d, want 1", frags)
	}
	fb.mu.Lock()
	evicted := fb.submissions[0].slot
	fb.mu.Unlock()
	if evicted != lruSlot {
		t.Errorf("evicted slot %d, want %d", evicted, lruSlot)
	}
}

func TestEvictionFailureReclaimsSlot(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()

	for i := 0; i < MaxBatches; i++ {
		ctx.SetFramebuffer(newColorKey(dev, 16, 16))
		ctx.Clear(ChannelColor0, [4]float64{1, 0, 0, 1}, 0, 0)
	}
	fb.failNext = 1

	b := ctx.GetBatch(newColorKey(dev, 16, 16))
	if b == nil {
		t.Fatal("GetBatch returned nil after failed eviction")
	}
	if n := ctx.ActiveBatches(); n != MaxBatches {
		t.Errorf("ActiveBatches() = %d, want %d", n, MaxBatches)
	}
	if got := ctx.Stats().FailedSubmissions; got != 1 {
		t.Errorf("FailedSubmissions = %d, want 1", got)
	}
}

func TestGetBatchForKeyReusesEmptyBatch(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()

	if ctx.GetBatchForKey("no framebuffer") != nil {
		t.Fatal("GetBatchForKey without framebuffer should return nil")
	}

	ctx.SetFramebuffer(newColorKey(dev, 32, 32))
	ctx.Clear(ChannelColor0, [4]float64{}, 0, 0)
	b := ctx.GetBatchForKey("readback")
	if b != ctx.GetBatchForKey("again") {
		t.Error("a batch without draws must be reused")
	}
	if b.ClearMask() != ChannelColor0 {
		t.Errorf("reused batch lost its clear: %v", b.ClearMask())
	}
	if n := fb.numSubmissions(); n != 0 {
		t.Errorf("submissions = %d, want 0", n)
	}
}

func TestGetBatchForKeyFlushesBusyBatch(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()
	ctx.SetFramebuffer(newColorKey(dev, 32, 32))
	ctx.Draw(colorDraw())

	before := ctx.GetBatch(mustKey(ctx))
	seq := before.Seqnum()

	b := ctx.GetBatchForKey("readback")
	if b.DrawCount() != 0 || b.ComputeCount() != 0 {
		t.Errorf("fresh batch has draws=%d compute=%d", b.DrawCount(), b.ComputeCount())
	}
	if b.Seqnum() == seq {
		t.Error("fresh batch reuses the old seqnum")
	}
	if n := fb.batchSubmissions(); n != 1 {
		t.Errorf("batch submissions = %d, want 1", n)
	}
}

func mustKey(ctx *Context) FramebufferKey {
	k, ok := ctx.Framebuffer()
	if !ok {
		panic("no framebuffer bound")
	}
	return k
}

func TestSetFramebufferSameKeyKeepsBatch(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	k := newColorKey(dev, 32, 32)

	ctx.SetFramebuffer(k)
	ctx.Draw(colorDraw())
	ctx.SetFramebuffer(k.Clone())
	ctx.Draw(colorDraw())

	if n := ctx.ActiveBatches(); n != 1 {
		t.Fatalf("ActiveBatches() = %d, want 1", n)
	}
	if got := ctx.GetBatch(k).DrawCount(); got != 2 {
		t.Errorf("DrawCount() = %d, want 2", got)
	}
}

func TestBatchInitTracksRenderTargets(t *testing.T) {
	dev, fb := newTestDevice(t)
	ctx := dev.NewContext()
	k := newZSKey(dev, gputypes.TextureFormatDepth24PlusStencil8, 32, 32)

	b := ctx.GetBatch(k)
	for _, s := range k.surfaces() {
		if ctx.Writer(s.Resource) != b {
			t.Errorf("%s: writer not recorded at batch init", s.Resource.Label())
		}
		if f := b.Access(s.Resource.BO().Handle()); f != AccessWrite|AccessFragment {
			t.Errorf("%s: access = %v, want write|fragment", s.Resource.Label(), f)
		}
	}
	if fb.initCalls != 1 {
		t.Errorf("InitBatch calls = %d, want 1", fb.initCalls)
	}
}

func TestGetBatchInvalidKeyPanics(t *testing.T) {
	dev, _ := newTestDevice(t)
	ctx := dev.NewContext()
	expectPanic(t, "zero size", func() {
		ctx.GetBatch(FramebufferKey{})
	})
	expectPanic(t, "too many attachments", func() {
		k := newColorKey(dev, 8, 8)
		k.Colors = make([]Surface, MaxRenderTargets+1)
		ctx.GetBatch(k)
	})
}
