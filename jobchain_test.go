// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"encoding/binary"
	"testing"
)

func TestJobChainTilerOrdering(t *testing.T) {
	var c JobChain
	v1, t1 := c.AddVertexTiler(3)
	comp := c.AddCompute(1)
	v2, t2 := c.AddVertexTiler(6)

	for i, j := range []*Job{v1, t1, comp, v2, t2} {
		if j.Index != uint32(i)+1 {
			t.Fatalf("job %d has index %d", i, j.Index)
		}
	}
	if t1.Dependency != v1.Index || t2.Dependency != v2.Index {
		t.Error("tiler jobs must depend on their vertex job")
	}
	if t1.TilerDependency != 0 {
		t.Errorf("first tiler TilerDependency = %d, want 0", t1.TilerDependency)
	}
	if t2.TilerDependency != t1.Index {
		t.Errorf("second tiler TilerDependency = %d, want %d", t2.TilerDependency, t1.Index)
	}
	if comp.TilerDependency != 0 || v2.TilerDependency != 0 {
		t.Error("non-tiling jobs carry a tiler dependency")
	}
	if !c.HasTiler() || len(c.Draws()) != 2 {
		t.Errorf("HasTiler=%v draws=%d", c.HasTiler(), len(c.Draws()))
	}
}

func TestJobChainComputeOnly(t *testing.T) {
	var c JobChain
	c.AddCompute(4)
	c.AddCompute(2)
	if c.HasTiler() {
		t.Error("compute chain reports tiler work")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestJobChainIDVS(t *testing.T) {
	var c JobChain
	a := c.AddIDVS(3)
	b := c.AddIDVS(3)
	if a.Dependency != 0 || b.Dependency != 0 {
		t.Error("IDVS jobs have no vertex dependency")
	}
	if b.TilerDependency != a.Index {
		t.Errorf("TilerDependency = %d, want %d", b.TilerDependency, a.Index)
	}
	if d := c.Draws()[0]; d.Vertex != nil || d.Tiler != a {
		t.Error("IDVS draw record should only reference the fused job")
	}
}

func TestInjectPreloadRenumbers(t *testing.T) {
	var c JobChain
	v, tl := c.AddVertexTiler(3)
	comp := c.AddCompute(1)

	p := c.InjectPreload()
	if p.Index != 1 || !p.Preload || p.Type != JobTiler {
		t.Fatalf("preload job = %s", p.String())
	}
	if c.Jobs()[0] != p {
		t.Fatal("preload job is not at the head of the chain")
	}
	if v.Index != 2 || tl.Index != 3 || comp.Index != 4 {
		t.Errorf("indices = %d,%d,%d, want 2,3,4", v.Index, tl.Index, comp.Index)
	}
	if tl.Dependency != 2 || tl.TilerDependency != 1 {
		t.Errorf("tiler dep=%d tdep=%d, want 2 and 1", tl.Dependency, tl.TilerDependency)
	}

	// Later tiling work chains after the last tiler, not the preload.
	_, t2 := c.AddVertexTiler(3)
	if t2.TilerDependency != tl.Index {
		t.Errorf("new tiler TilerDependency = %d, want %d", t2.TilerDependency, tl.Index)
	}
}

func TestInjectPreloadIntoEmptyChain(t *testing.T) {
	var c JobChain
	c.InjectPreload()
	if !c.HasTiler() || c.Len() != 1 {
		t.Errorf("HasTiler=%v Len=%d", c.HasTiler(), c.Len())
	}
	_, tl := c.AddVertexTiler(3)
	if tl.TilerDependency != 1 {
		t.Errorf("TilerDependency = %d, want 1", tl.TilerDependency)
	}
}

func TestDrawRecordTransitions(t *testing.T) {
	var c JobChain
	c.AddVertexTiler(3)
	d := c.Draws()[0]

	for _, s := range []DrawState{DrawVertexRunning, DrawTilerRunning, DrawComplete} {
		d.Advance(s)
		if d.State() != s {
			t.Fatalf("State() = %s, want %s", d.State(), s)
		}
	}
	expectPanic(t, "advance past complete", func() { d.Advance(DrawQueued) })

	c.AddIDVS(3)
	idvs := c.Draws()[1]
	idvs.Advance(DrawTilerRunning)
	if idvs.State() != DrawTilerRunning {
		t.Error("IDVS draw could not skip the vertex state")
	}

	c.AddVertexTiler(3)
	expectPanic(t, "skip vertex with a vertex job", func() {
		c.Draws()[2].Advance(DrawTilerRunning)
	})
}

func TestJobEncode(t *testing.T) {
	buf := make([]byte, jobDescriptorSize)
	j := &Job{Index: 3, Type: JobTiler, Dependency: 2, TilerDependency: 1, Invocations: 99,
		Descriptor: Allocation{CPU: buf}}
	j.encode()

	want := []uint32{3, uint32(JobTiler), 2, 1, 99}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(buf[i*4:]); got != w {
			t.Errorf("word %d = %d, want %d", i, got, w)
		}
	}

	// GPU-only descriptors are left alone.
	(&Job{Index: 1}).encode()
}

func TestJobTypeString(t *testing.T) {
	if JobIndexedVertex.String() != "idvs" || JobType(42).String() != "JobType(42)" {
		t.Errorf("got %q and %q", JobIndexedVertex.String(), JobType(42).String())
	}
}
