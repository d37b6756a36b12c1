// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"image"

	"github.com/gogpu/gputypes"
)

// RenderTarget is the load/store decision for one attachment of a batch.
type RenderTarget struct {
	// Surface is zero when the attachment is unbound.
	Surface Surface
	Format  gputypes.TextureFormat

	// Clear initializes the tile buffer with the clear value.
	Clear bool

	// Preload loads the existing contents into the tile buffer.
	Preload bool

	// Discard skips writing the tile buffer back to memory.
	Discard bool
}

// Bound reports whether the target has a surface.
func (rt *RenderTarget) Bound() bool { return !rt.Surface.IsZero() }

// FramebufferDesc is what the backend needs to program the fragment job of a
// batch.
type FramebufferDesc struct {
	Width   uint32
	Height  uint32
	Samples uint32

	// Extent bounds the tiles the fragment job has to process. It may be
	// empty for compute-only batches.
	Extent image.Rectangle

	Colors  []RenderTarget
	Depth   RenderTarget
	Stencil RenderTarget

	// ZSCombined is set when depth and stencil live in one surface.
	ZSCombined bool

	ClearColors  []ClearColor
	ClearDepth   uint32 // packed for the depth format
	ClearStencil uint8

	// PreloadBounds is the part of Extent that actually needs preloading:
	// the union of the damaged areas of every preloaded surface.
	PreloadBounds image.Rectangle
}

// HasPreload reports whether any attachment is preloaded.
func (fb *FramebufferDesc) HasPreload() bool {
	for i := range fb.Colors {
		if fb.Colors[i].Preload {
			return true
		}
	}
	return fb.Depth.Preload || fb.Stencil.Preload
}

// Targets calls fn for every bound attachment with its channel.
func (fb *FramebufferDesc) Targets(fn func(ch Channels, rt *RenderTarget)) {
	for i := range fb.Colors {
		if fb.Colors[i].Bound() {
			fn(ChannelColor0<<i, &fb.Colors[i])
		}
	}
	if fb.Depth.Bound() {
		fn(ChannelDepth, &fb.Depth)
	}
	if fb.Stencil.Bound() {
		fn(ChannelStencil, &fb.Stencil)
	}
}

// DeriveFramebuffer computes the load/store policy of b's attachments.
//
// For every channel:
//
//	discard = !reserve && channel not in resolve
//	preload = channel not in clear && (channel in read || (channel in draws && level valid))
//
// When depth and stencil share one surface and their discard decisions
// differ, both are kept and preloaded from the shared level's validity.
//
// reserve computes the most conservative policy, which never discards.
// The result depends only on b's masks and the validity of its surfaces.
func DeriveFramebuffer(b *Batch, reserve bool) *FramebufferDesc {
	k := &b.key
	fb := &FramebufferDesc{
		Width:        k.Width,
		Height:       k.Height,
		Samples:      k.samples(),
		Extent:       b.Scissor(),
		Colors:       make([]RenderTarget, len(k.Colors)),
		ClearColors:  make([]ClearColor, len(k.Colors)),
		ClearStencil: b.clearStencil,
	}

	derive := func(rt *RenderTarget, s Surface, ch Channels) {
		rt.Surface = s
		rt.Format = s.Resource.Format()
		rt.Clear = b.clearMask&ch != 0
		rt.Discard = !reserve && b.resolveMask&ch == 0
		rt.Preload = !rt.Clear && (b.readMask&ch != 0 ||
			(b.drawsMask&ch != 0 && s.Resource.LevelValid(s.Level)))
	}

	for i, s := range k.Colors {
		if s.IsZero() {
			continue
		}
		derive(&fb.Colors[i], s, ChannelColor0<<i)
		fb.ClearColors[i] = b.clearColors[i]
	}

	if zs := k.ZS; !zs.IsZero() {
		f := zs.Resource.Format()
		if formatHasDepth(f) {
			derive(&fb.Depth, zs, ChannelDepth)
			fb.ClearDepth = packClearDepth(f, b.clearDepth)
		}
		if formatHasStencil(f) {
			s := zs
			if sep := zs.Resource.SeparateStencil(); sep != nil {
				s.Resource = sep
			}
			derive(&fb.Stencil, s, ChannelStencil)
		}

		fb.ZSCombined = fb.Depth.Bound() && fb.Stencil.Bound() &&
			fb.Depth.Surface == fb.Stencil.Surface
		if fb.ZSCombined && fb.Depth.Discard != fb.Stencil.Discard {
			valid := zs.Resource.LevelValid(zs.Level)
			fb.Depth.Discard, fb.Stencil.Discard = false, false
			fb.Depth.Preload = !fb.Depth.Clear && valid
			fb.Stencil.Preload = !fb.Stencil.Clear && valid
		}
	}

	fb.Targets(func(_ Channels, rt *RenderTarget) {
		if rt.Preload {
			fb.PreloadBounds = fb.PreloadBounds.Union(rt.Surface.Resource.DamageBounds())
		}
	})
	fb.PreloadBounds = fb.PreloadBounds.Intersect(fb.Extent)
	return fb
}
