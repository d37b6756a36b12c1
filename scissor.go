// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"image"
)

// unionScissor grows the batch bound to cover r. Empty rectangles are ignored.
func (b *Batch) unionScissor(r image.Rectangle) {
	if r.Empty() {
		return
	}
	b.minX = min(b.minX, uint32(r.Min.X))
	b.minY = min(b.minY, uint32(r.Min.Y))
	b.maxX = max(b.maxX, uint32(r.Max.X))
	b.maxY = max(b.maxY, uint32(r.Max.Y))
}

// unionFull grows the bound to the whole framebuffer.
func (b *Batch) unionFull() {
	b.unionScissor(b.key.rect())
}

// Scissor returns the union of every area the batch touched, or an empty
// rectangle when nothing was rasterized or cleared.
func (b *Batch) Scissor() image.Rectangle {
	if b.minX >= b.maxX || b.minY >= b.maxY {
		return image.Rectangle{}
	}
	return image.Rect(int(b.minX), int(b.minY), int(b.maxX), int(b.maxY))
}

// rect returns the framebuffer extent.
func (k *FramebufferKey) rect() image.Rectangle {
	return image.Rect(0, 0, int(k.Width), int(k.Height))
}

// effectiveScissor clips the draw's scissor to the framebuffer. A nil
// scissor means the scissor test is disabled.
func effectiveScissor(k *FramebufferKey, scissor *image.Rectangle) image.Rectangle {
	fb := k.rect()
	if scissor == nil {
		return fb
	}
	return scissor.Intersect(fb)
}
