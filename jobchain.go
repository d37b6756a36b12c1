// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"encoding/binary"
	"fmt"
)

// JobType is the kind of a hardware job.
type JobType uint8

// Job types.
const (
	JobVertex JobType = iota + 1
	JobTiler
	JobIndexedVertex
	JobCompute
	JobFragment
)

// String returns the job type name.
func (t JobType) String() string {
	switch t {
	case JobVertex:
		return "vertex"
	case JobTiler:
		return "tiler"
	case JobIndexedVertex:
		return "idvs"
	case JobCompute:
		return "compute"
	case JobFragment:
		return "fragment"
	default:
		return fmt.Sprintf("JobType(%d)", uint8(t))
	}
}

// usesTiler reports whether jobs of type t write polygon lists.
func (t JobType) usesTiler() bool { return t == JobTiler || t == JobIndexedVertex }

// DrawState is the progress of one draw through the pipeline.
type DrawState uint8

// Draw states.
const (
	DrawQueued DrawState = iota
	DrawVertexRunning
	DrawTilerRunning
	DrawComplete
)

// String returns the state name.
func (s DrawState) String() string {
	switch s {
	case DrawQueued:
		return "queued"
	case DrawVertexRunning:
		return "vertex-running"
	case DrawTilerRunning:
		return "tiler-running"
	case DrawComplete:
		return "complete"
	default:
		return fmt.Sprintf("DrawState(%d)", uint8(s))
	}
}

// DrawRecord follows one rasterizing draw through its jobs. Draws encoded
// as a single IDVS job have no vertex job.
type DrawRecord struct {
	ID     uint32
	Vertex *Job
	Tiler  *Job
	state  DrawState
}

// State returns the current state.
func (d *DrawRecord) State() DrawState { return d.state }

// Advance moves the draw to state to. Backends call it as they execute the
// draw's jobs. Invalid transitions panic.
func (d *DrawRecord) Advance(to DrawState) {
	ok := false
	switch d.state {
	case DrawQueued:
		ok = to == DrawVertexRunning || (to == DrawTilerRunning && d.Vertex == nil)
	case DrawVertexRunning:
		ok = to == DrawTilerRunning
	case DrawTilerRunning:
		ok = to == DrawComplete
	}
	assertf(ok, "draw %d: invalid transition %s -> %s", d.ID, d.state, to)
	d.state = to
}

// Job is one hardware job of a batch.
type Job struct {
	// Index is the 1-based position in the chain.
	Index uint32
	Type  JobType

	// Dependency is the index of the job that must finish first, 0 for none.
	Dependency uint32

	// TilerDependency orders tiler work: each tiling job waits for the
	// previous one so polygon lists are built in draw order.
	TilerDependency uint32

	// Preload marks tiler jobs that load render-target contents into the
	// tile buffer ahead of the batch's own draws.
	Preload bool

	// Invocations is the vertex count for vertex work and the workgroup
	// count for compute work.
	Invocations uint32

	// Descriptor is the job's record in the transient pool.
	Descriptor Allocation

	// Draw is set for the vertex, tiler and IDVS jobs of a draw.
	Draw *DrawRecord
}

// String returns a short description for tracing.
func (j *Job) String() string {
	return fmt.Sprintf("#%d %s dep=%d tdep=%d n=%d", j.Index, j.Type, j.Dependency, j.TilerDependency, j.Invocations)
}

// jobDescriptorSize is the transient space reserved per job record.
const jobDescriptorSize = 64

// encode writes the job header into its descriptor.
func (j *Job) encode() {
	buf := j.Descriptor.CPU
	if len(buf) < 20 {
		return
	}
	binary.LittleEndian.PutUint32(buf[0:], j.Index)
	binary.LittleEndian.PutUint32(buf[4:], uint32(j.Type))
	binary.LittleEndian.PutUint32(buf[8:], j.Dependency)
	binary.LittleEndian.PutUint32(buf[12:], j.TilerDependency)
	binary.LittleEndian.PutUint32(buf[16:], j.Invocations)
}

// JobChain holds the vertex, tiler and compute jobs of a batch in
// submission order.
type JobChain struct {
	jobs      []*Job
	draws     []*DrawRecord
	lastTiler uint32
	numTiler  int
}

// Jobs returns the jobs in chain order.
func (c *JobChain) Jobs() []*Job { return c.jobs }

// Draws returns the draw records in issue order.
func (c *JobChain) Draws() []*DrawRecord { return c.draws }

// Len returns the number of jobs.
func (c *JobChain) Len() int { return len(c.jobs) }

// HasTiler reports whether the chain writes polygon lists, which requires a
// tiler heap region and a fragment job.
func (c *JobChain) HasTiler() bool { return c.numTiler > 0 }

func (c *JobChain) add(j *Job) *Job {
	j.Index = uint32(len(c.jobs)) + 1
	if j.Type.usesTiler() {
		j.TilerDependency = c.lastTiler
		c.lastTiler = j.Index
		c.numTiler++
	}
	c.jobs = append(c.jobs, j)
	return j
}

// AddVertexTiler appends a vertex job and a tiler job depending on it.
func (c *JobChain) AddVertexTiler(vertices uint32) (vertex, tiler *Job) {
	d := &DrawRecord{ID: uint32(len(c.draws)) + 1}
	vertex = c.add(&Job{Type: JobVertex, Invocations: vertices, Draw: d})
	tiler = c.add(&Job{Type: JobTiler, Dependency: vertex.Index, Invocations: vertices, Draw: d})
	d.Vertex, d.Tiler = vertex, tiler
	c.draws = append(c.draws, d)
	return vertex, tiler
}

// AddIDVS appends a fused vertex and tiler job. It has no dependency.
func (c *JobChain) AddIDVS(vertices uint32) *Job {
	d := &DrawRecord{ID: uint32(len(c.draws)) + 1}
	j := c.add(&Job{Type: JobIndexedVertex, Invocations: vertices, Draw: d})
	d.Tiler = j
	c.draws = append(c.draws, d)
	return j
}

// AddCompute appends a compute job of groups workgroups.
func (c *JobChain) AddCompute(groups uint32) *Job {
	return c.add(&Job{Type: JobCompute, Invocations: groups})
}

// InjectPreload puts a preload tiler job at the head of the chain so its
// geometry is tiled before any draw. Existing jobs are renumbered.
func (c *JobChain) InjectPreload() *Job {
	for _, j := range c.jobs {
		j.Index++
		if j.Dependency != 0 {
			j.Dependency++
		}
		if j.TilerDependency != 0 {
			j.TilerDependency++
		}
	}
	if c.lastTiler != 0 {
		c.lastTiler++
	}

	p := &Job{Index: 1, Type: JobTiler, Preload: true, Invocations: 4}
	// The first tiling job now waits for the preload.
	for _, j := range c.jobs {
		if j.Type.usesTiler() {
			j.TilerDependency = 1
			break
		}
	}
	if c.lastTiler == 0 {
		c.lastTiler = 1
	}
	c.numTiler++
	c.jobs = append([]*Job{p}, c.jobs...)
	return p
}
