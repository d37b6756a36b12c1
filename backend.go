// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
)

// Arch identifies a hardware generation. The generation decides how draws
// are split into jobs and how the framebuffer is preloaded.
type Arch uint8

// Supported hardware generations.
const (
	// ArchMidgard encodes separate vertex and tiler jobs and preloads the
	// tile buffer with blit jobs queued in the job chain.
	ArchMidgard Arch = 5

	// ArchBifrost encodes separate vertex and tiler jobs and preloads with
	// pre-frame shaders attached to the framebuffer descriptor.
	ArchBifrost Arch = 7

	// ArchValhall fuses vertex and tiler work into one IDVS job.
	ArchValhall Arch = 9
)

// HasIDVS reports whether draws use the fused index-driven vertex shading
// job instead of a vertex job followed by a dependent tiler job.
func (a Arch) HasIDVS() bool { return a >= ArchValhall }

// PreloadsWithJobs reports whether framebuffer preloads are queued as jobs
// in the vertex/tiler chain.
func (a Arch) PreloadsWithJobs() bool { return a < ArchBifrost }

// String returns the generation name.
func (a Arch) String() string {
	switch a {
	case ArchMidgard:
		return "midgard"
	case ArchBifrost:
		return "bifrost"
	case ArchValhall:
		return "valhall"
	default:
		return fmt.Sprintf("v%d", uint8(a))
	}
}

// MemoryKind tells the backend what an allocation is used for.
type MemoryKind uint8

// Memory kinds.
const (
	// MemoryBuffer backs a buffer resource.
	MemoryBuffer MemoryKind = iota

	// MemoryTexture backs an image resource usable as a render target.
	MemoryTexture

	// MemoryTransient is CPU-visible descriptor memory owned by one batch.
	MemoryTransient

	// MemoryInvisible is GPU-only scratch (varyings, private structures)
	// owned by one batch.
	MemoryInvisible

	// MemoryTilerHeap backs a chunk of the device's shared tiler heap.
	MemoryTilerHeap
)

// String returns the kind name.
func (k MemoryKind) String() string {
	switch k {
	case MemoryBuffer:
		return "buffer"
	case MemoryTexture:
		return "texture"
	case MemoryTransient:
		return "transient"
	case MemoryInvisible:
		return "invisible"
	case MemoryTilerHeap:
		return "tiler-heap"
	default:
		return fmt.Sprintf("MemoryKind(%d)", uint8(k))
	}
}

// MemoryDesc describes a backing allocation.
type MemoryDesc struct {
	Label string
	Kind  MemoryKind
	Size  uint64

	// Texture fields, only meaningful for MemoryTexture.
	Format    gputypes.TextureFormat
	Width     uint32
	Height    uint32
	MipLevels uint32
}

// Memory is a backend allocation.
type Memory interface {
	// Size returns the allocation size in bytes.
	Size() uint64

	// Bytes returns the CPU mapping, or nil when the memory is not
	// CPU-visible.
	Bytes() []byte

	// Release frees the allocation. The backend defers reuse of the
	// underlying GPU memory until submitted work referencing it completes.
	Release()
}

// Fence is the completion handle returned by a kernel submission.
// The scheduler stores fences but only interprets them in sync debug mode.
type Fence struct {
	// Seqno orders fences of one backend; zero means no submission.
	Seqno uint64

	// Handle is the backend's sync object.
	Handle any
}

// IsZero reports whether f refers to no submission.
func (f Fence) IsZero() bool { return f.Seqno == 0 }

// BOAccess pairs a buffer object with the union of accesses a batch made.
type BOAccess struct {
	BO    *BO
	Flags AccessFlags
}

// SubmitRequest is one kernel submission. A batch produces at most two: the
// vertex/tiler/compute chain first, then the fragment job.
type SubmitRequest struct {
	Batch *Batch

	// Jobs are the jobs of this submission in chain order.
	Jobs []*Job

	// Fragment is set for the fragment submission; Jobs then holds the
	// single fragment job.
	Fragment bool

	// Framebuffer is the derived framebuffer descriptor.
	Framebuffer *FramebufferDesc

	// BOs lists every buffer object the batch references.
	BOs []BOAccess

	// TilerHeap is the heap region the tiler writes polygon lists to.
	// Zero when the submission has no tiler work.
	TilerHeap HeapRegion

	// InFence is the context's previous submission.
	InFence Fence
}

// Backend is the kernel-facing half of the driver for one hardware
// generation. It is selected when the Device is created.
//
// Methods are called from the goroutine owning the submitting Context;
// backends shared by several contexts must synchronize internally.
type Backend interface {
	// Name returns the backend identifier.
	Name() string

	// Arch returns the hardware generation the backend encodes for.
	Arch() Arch

	// AllocMemory creates a backing allocation.
	AllocMemory(desc MemoryDesc) (Memory, error)

	// InitBatch prepares generation-specific per-batch state after the
	// batch is created, for example thread-local storage descriptors.
	InitBatch(b *Batch) error

	// PreloadFramebuffer emits whatever the generation needs to load
	// preserved render-target contents into the tile buffer.
	PreloadFramebuffer(b *Batch, fb *FramebufferDesc) error

	// SubmitBatch hands one submission to the kernel. A returned error is
	// a per-batch failure; the scheduler tears the batch down regardless.
	SubmitBatch(req *SubmitRequest) (Fence, error)

	// Wait blocks until f signals or the timeout expires.
	Wait(f Fence, timeout time.Duration) (bool, error)

	// Close releases backend resources.
	Close()
}
