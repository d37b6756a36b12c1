// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/cockroachdb/errors"
)

// MaxJobInvocations is the largest vertex or workgroup count one job
// descriptor encodes.
const MaxJobInvocations = math.MaxUint32

// Pointer is an opaque GPU address produced by the descriptor encoder, such
// as a shader program or a texture table. Zero means unbound.
type Pointer uint64

// DescriptorKind names a per-draw descriptor slot.
type DescriptorKind uint8

// Descriptor kinds.
const (
	DescriptorProgram DescriptorKind = iota
	DescriptorTextures
	DescriptorSamplers
	DescriptorUniforms
	DescriptorAttributes
	DescriptorBlend
	DescriptorDepthStencil
)

// String returns the kind name.
func (k DescriptorKind) String() string {
	switch k {
	case DescriptorProgram:
		return "program"
	case DescriptorTextures:
		return "textures"
	case DescriptorSamplers:
		return "samplers"
	case DescriptorUniforms:
		return "uniforms"
	case DescriptorAttributes:
		return "attributes"
	case DescriptorBlend:
		return "blend"
	case DescriptorDepthStencil:
		return "depth-stencil"
	default:
		return fmt.Sprintf("DescriptorKind(%d)", uint8(k))
	}
}

// Descriptor is one encoder-provided pointer bound for a draw or dispatch.
type Descriptor struct {
	Kind    DescriptorKind
	Pointer Pointer
}

type cachedDescriptor struct {
	ptr   Pointer
	alloc Allocation
}

// descriptorSize is the transient space of one uploaded descriptor pointer.
const descriptorSize = 16

// varyingStride is the invisible-pool space reserved per shaded vertex.
const varyingStride = 16

// RasterState says whether a draw needs the rasterizer.
type RasterState uint8

// Rasterization states.
const (
	RasterRun RasterState = iota
	RasterSkip
)

// String returns the state name.
func (s RasterState) String() string {
	if s == RasterSkip {
		return "skip"
	}
	return "run"
}

// DrawInfo describes one draw call.
type DrawInfo struct {
	// VertexProgram is the bound vertex shader. A draw without one only
	// runs for its side effects, if any.
	VertexProgram   Pointer
	FragmentProgram Pointer

	// Descriptors are cached per batch; an unchanged pointer reuses the
	// copy uploaded by an earlier draw.
	Descriptors []Descriptor

	VertexCount   uint32
	InstanceCount uint32 // 0 means 1

	VertexBuffers    []*Resource
	IndexBuffer      *Resource
	VertexTextures   []*Resource
	FragmentTextures []*Resource

	// StorageWrites and TransformFeedback are written by the vertex stage.
	// They make a draw worth running even when nothing is rasterized.
	StorageWrites     []*Resource
	TransformFeedback []*Resource

	// ColorWrites are the color channels the draw writes; BlendReads are
	// the color channels whose destination value blending reads.
	ColorWrites Channels
	BlendReads  Channels

	DepthTest    bool
	DepthWrite   bool
	StencilTest  bool
	StencilWrite bool

	RasterizerDiscard bool

	// Scissor limits rasterization; nil disables the scissor test.
	Scissor *image.Rectangle
}

func (d *DrawInfo) instances() uint32 {
	if d.InstanceCount == 0 {
		return 1
	}
	return d.InstanceCount
}

// invocations returns the vertex count of all instances. Counts a job
// descriptor cannot encode are an error.
func (d *DrawInfo) invocations() (uint32, error) {
	n := uint64(d.VertexCount) * uint64(d.instances())
	if n > MaxJobInvocations {
		return 0, errors.Wrapf(ErrTooManyInvocations, "%d vertices x %d instances", d.VertexCount, d.instances())
	}
	return uint32(n), nil
}

func (d *DrawInfo) hasSideEffects() bool {
	return len(d.StorageWrites) > 0 || len(d.TransformFeedback) > 0
}

// DispatchInfo describes one compute dispatch.
type DispatchInfo struct {
	Program     Pointer
	Descriptors []Descriptor

	// Groups is the workgroup count per dimension; zero dimensions count
	// as one.
	Groups [3]uint32

	StorageReads  []*Resource
	StorageWrites []*Resource
	Textures      []*Resource
}

func (d *DispatchInfo) groups() (uint32, error) {
	n := uint64(1)
	for _, g := range d.Groups {
		n *= uint64(max(g, 1))
		if n > MaxJobInvocations {
			return 0, errors.Wrapf(ErrTooManyInvocations, "%v workgroups", d.Groups)
		}
	}
	return uint32(n), nil
}

// Clear clears channels of the bound framebuffer. Channels without an
// attachment are ignored.
//
// Clears at the start of a batch are free: the tile buffer is initialized
// with the clear values. Once the batch has draws, the batch is submitted
// and the clear starts a fresh one.
func (c *Context) Clear(channels Channels, color [4]float64, depth float32, stencil uint8) {
	b := c.currentBatch()
	if b == nil {
		slogger().Warn("tilebatch: clear without framebuffer dropped", "channels", channels)
		return
	}
	channels &= b.key.boundChannels()
	if channels == 0 {
		return
	}
	if b.hasWork() {
		b = c.GetBatchForKey("clear after draw")
	}

	for i, s := range b.key.Colors {
		if channels&(ChannelColor0<<i) != 0 && !s.IsZero() {
			b.clearColors[i] = packClearColor(s.Resource.Format(), color)
		}
	}
	if channels&ChannelDepth != 0 {
		b.clearDepth = float32(clampUnit(float64(depth)))
	}
	if channels&ChannelStencil != 0 {
		b.clearStencil = stencil
	}

	b.clearMask |= channels
	b.resolveMask |= channels
	b.unionFull()
}

// Draw queues a draw on the bound framebuffer.
//
// Resources the draw touches are tracked first, which may submit other
// batches. Draws that cannot rasterize are skipped, except that their
// vertex-stage side effects still run as a compute job.
// Allocation failures are logged and the draw is dropped.
func (c *Context) Draw(info *DrawInfo) {
	b := c.currentBatch()
	if b == nil {
		slogger().Warn("tilebatch: draw without framebuffer dropped")
		return
	}
	c.stats.Draws++

	for _, r := range info.VertexBuffers {
		c.ReadResource(b, r, StageVertexTiler)
	}
	if info.IndexBuffer != nil {
		c.ReadResource(b, info.IndexBuffer, StageVertexTiler)
	}
	for _, r := range info.VertexTextures {
		c.ReadResource(b, r, StageVertexTiler)
	}
	for _, r := range info.FragmentTextures {
		c.ReadResource(b, r, StageFragment)
	}
	for _, r := range info.StorageWrites {
		c.WriteResource(b, r, StageVertexTiler)
	}
	for _, r := range info.TransformFeedback {
		c.WriteResource(b, r, StageVertexTiler)
	}

	scissor := effectiveScissor(&b.key, info.Scissor)
	c.raster = rasterState(info, scissor)

	if c.raster == RasterSkip {
		c.stats.SkippedDraws++
		if info.VertexProgram == 0 || !info.hasSideEffects() {
			return
		}
		if err := c.emitSideEffects(b, info); err != nil {
			slogger().Warn("tilebatch: side-effect dispatch dropped", "slot", b.slot, "err", err)
		}
		return
	}

	if err := c.emitDraw(b, info); err != nil {
		slogger().Warn("tilebatch: draw dropped", "slot", b.slot, "err", err)
		return
	}

	bound := b.key.boundChannels()
	writes := info.ColorWrites & ChannelColorAll & bound
	b.drawsMask |= writes
	b.resolveMask |= writes
	b.readMask |= info.BlendReads & writes

	if info.DepthTest || info.DepthWrite {
		b.drawsMask |= ChannelDepth & bound
		if info.DepthWrite {
			b.resolveMask |= ChannelDepth & bound
		}
		if info.DepthTest {
			b.readMask |= ChannelDepth & bound
		}
	}
	if info.StencilTest || info.StencilWrite {
		b.drawsMask |= ChannelStencil & bound
		if info.StencilWrite {
			b.resolveMask |= ChannelStencil & bound
		}
		if info.StencilTest {
			b.readMask |= ChannelStencil & bound
		}
	}

	b.unionScissor(scissor)
	b.drawCount++
}

// rasterState decides whether a draw needs the rasterizer.
func rasterState(info *DrawInfo, scissor image.Rectangle) RasterState {
	switch {
	case info.RasterizerDiscard, scissor.Empty(), info.VertexProgram == 0:
		return RasterSkip
	default:
		return RasterRun
	}
}

// RasterState returns the rasterization decision of the last draw.
func (c *Context) RasterState() RasterState { return c.raster }

func (c *Context) emitDraw(b *Batch, info *DrawInfo) error {
	vertices, err := info.invocations()
	if err != nil {
		return err
	}
	if err := c.uploadDescriptors(b, info.VertexProgram, info.Descriptors); err != nil {
		return err
	}
	if vertices > 0 {
		if _, err := b.invisible.Alloc(uint64(vertices)*varyingStride, 64); err != nil {
			return err
		}
	}

	if c.dev.backend.Arch().HasIDVS() {
		desc, err := c.allocJobDescriptor(b)
		if err != nil {
			return err
		}
		b.chain.AddIDVS(vertices).Descriptor = desc
		return nil
	}
	vdesc, err := c.allocJobDescriptor(b)
	if err != nil {
		return err
	}
	tdesc, err := c.allocJobDescriptor(b)
	if err != nil {
		return err
	}
	v, t := b.chain.AddVertexTiler(vertices)
	v.Descriptor, t.Descriptor = vdesc, tdesc
	return nil
}

func (c *Context) emitSideEffects(b *Batch, info *DrawInfo) error {
	vertices, err := info.invocations()
	if err != nil {
		return err
	}
	if err := c.uploadDescriptors(b, info.VertexProgram, info.Descriptors); err != nil {
		return err
	}
	desc, err := c.allocJobDescriptor(b)
	if err != nil {
		return err
	}
	b.chain.AddCompute(max(vertices, 1)).Descriptor = desc
	b.computeCount++
	b.sideEffectCount++
	return nil
}

// Dispatch queues a compute dispatch in the batch of the bound framebuffer.
func (c *Context) Dispatch(info *DispatchInfo) {
	b := c.currentBatch()
	if b == nil {
		slogger().Warn("tilebatch: dispatch without framebuffer dropped")
		return
	}
	c.stats.Dispatches++

	for _, r := range info.StorageReads {
		c.ReadResource(b, r, StageVertexTiler)
	}
	for _, r := range info.Textures {
		c.ReadResource(b, r, StageVertexTiler)
	}
	for _, r := range info.StorageWrites {
		c.WriteResource(b, r, StageVertexTiler)
	}

	groups, err := info.groups()
	if err != nil {
		slogger().Warn("tilebatch: dispatch dropped", "slot", b.slot, "err", err)
		return
	}
	if err := c.uploadDescriptors(b, info.Program, info.Descriptors); err != nil {
		slogger().Warn("tilebatch: dispatch dropped", "slot", b.slot, "err", err)
		return
	}
	desc, err := c.allocJobDescriptor(b)
	if err != nil {
		slogger().Warn("tilebatch: dispatch dropped", "slot", b.slot, "err", err)
		return
	}
	b.chain.AddCompute(groups).Descriptor = desc
	b.computeCount++
}

// uploadDescriptors copies changed descriptor pointers into the transient
// pool. The program pointer is cached like any other descriptor.
func (c *Context) uploadDescriptors(b *Batch, program Pointer, descs []Descriptor) error {
	if program != 0 {
		if err := c.uploadDescriptor(b, Descriptor{Kind: DescriptorProgram, Pointer: program}); err != nil {
			return err
		}
	}
	for _, d := range descs {
		if err := c.uploadDescriptor(b, d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) uploadDescriptor(b *Batch, d Descriptor) error {
	if cached, ok := b.descriptors[d.Kind]; ok && cached.ptr == d.Pointer {
		return nil
	}
	a, err := b.transient.Alloc(descriptorSize, descriptorSize)
	if err != nil {
		return err
	}
	if a.CPU != nil {
		binary.LittleEndian.PutUint64(a.CPU, uint64(d.Pointer))
	}
	b.descriptors[d.Kind] = cachedDescriptor{ptr: d.Pointer, alloc: a}
	return nil
}

// CachedDescriptor returns the pointer last uploaded for kind and where it
// lives in the transient pool.
func (b *Batch) CachedDescriptor(kind DescriptorKind) (Pointer, Allocation, bool) {
	d, ok := b.descriptors[kind]
	return d.ptr, d.alloc, ok
}

func (c *Context) allocJobDescriptor(b *Batch) (Allocation, error) {
	return b.transient.Alloc(jobDescriptorSize, 64)
}
