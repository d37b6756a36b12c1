// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package damage tracks the damaged area of a render-target surface at tile
// granularity.
//
// A surface starts fully damaged. A window system may narrow the damage to
// the rectangles that changed since the last frame (partial update); the
// scheduler uses the damaged tiles to bound how much of the surface has to be
// preloaded into the tile buffer. After a batch rendering to the surface is
// submitted the region is reset to fully damaged, matching the semantics of
// a buffer swap.
package damage

import (
	"image"
	"math/bits"
	"sync/atomic"
)

// TileSize is the edge length in pixels of the hardware tile.
const TileSize = 16

// Region is an atomic bitmap with one bit per tile. Resources are shared by
// contexts running on different goroutines, so every method is safe for
// concurrent use without external locking.
type Region struct {
	// words packs tile bits row-major, 64 tiles per word.
	words []atomic.Uint64

	width, height  int
	tilesX, tilesY int
}

// New creates a fully damaged region for a surface of the given pixel size.
// Returns nil if either dimension is not positive.
func New(width, height int) *Region {
	if width <= 0 || height <= 0 {
		return nil
	}
	tilesX := (width + TileSize - 1) / TileSize
	tilesY := (height + TileSize - 1) / TileSize
	r := &Region{
		words:  make([]atomic.Uint64, (tilesX*tilesY+63)/64),
		width:  width,
		height: height,
		tilesX: tilesX,
		tilesY: tilesY,
	}
	r.Reset()
	return r
}

// Reset marks the whole surface as damaged.
func (r *Region) Reset() {
	total := r.tilesX * r.tilesY
	full := total / 64
	for i := 0; i < full; i++ {
		r.words[i].Store(^uint64(0))
	}
	if rem := total % 64; rem > 0 {
		r.words[full].Store(uint64(1)<<rem - 1)
	}
}

// Set replaces the damage with the union of rects, given in pixels.
// An empty list leaves the region fully damaged, the same as Reset.
func (r *Region) Set(rects []image.Rectangle) {
	if len(rects) == 0 {
		r.Reset()
		return
	}
	for i := range r.words {
		r.words[i].Store(0)
	}
	for _, rect := range rects {
		r.Mark(rect)
	}
}

// Mark adds rect to the damaged area. Parts outside the surface are ignored.
func (r *Region) Mark(rect image.Rectangle) {
	rect = rect.Intersect(image.Rect(0, 0, r.width, r.height))
	if rect.Empty() {
		return
	}
	tx1 := rect.Min.X / TileSize
	ty1 := rect.Min.Y / TileSize
	tx2 := (rect.Max.X - 1) / TileSize
	ty2 := (rect.Max.Y - 1) / TileSize
	for ty := ty1; ty <= ty2; ty++ {
		for tx := tx1; tx <= tx2; tx++ {
			idx := ty*r.tilesX + tx
			r.words[idx/64].Or(1 << (idx & 63))
		}
	}
}

// IsDamaged reports whether tile (tx, ty) is damaged.
// Returns false for out-of-bounds coordinates.
func (r *Region) IsDamaged(tx, ty int) bool {
	if tx < 0 || tx >= r.tilesX || ty < 0 || ty >= r.tilesY {
		return false
	}
	idx := ty*r.tilesX + tx
	return r.words[idx/64].Load()&(1<<(idx&63)) != 0
}

// Full reports whether every tile is damaged.
func (r *Region) Full() bool {
	return r.Count() == r.tilesX*r.tilesY
}

// Count returns the number of damaged tiles.
func (r *Region) Count() int {
	n := 0
	for i := range r.words {
		n += bits.OnesCount64(r.words[i].Load())
	}
	return n
}

// Bounds returns the pixel bounding box of the damaged tiles clipped to the
// surface, or an empty rectangle when nothing is damaged.
func (r *Region) Bounds() image.Rectangle {
	minX, minY := r.tilesX, r.tilesY
	maxX, maxY := -1, -1
	for wi := range r.words {
		word := r.words[wi].Load()
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			word &^= 1 << bit
			idx := wi*64 + bit
			tx, ty := idx%r.tilesX, idx/r.tilesX
			minX, maxX = min(minX, tx), max(maxX, tx)
			minY, maxY = min(minY, ty), max(maxY, ty)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	b := image.Rect(minX*TileSize, minY*TileSize, (maxX+1)*TileSize, (maxY+1)*TileSize)
	return b.Intersect(image.Rect(0, 0, r.width, r.height))
}

// TilesX returns the number of tiles horizontally.
func (r *Region) TilesX() int { return r.tilesX }

// TilesY returns the number of tiles vertically.
func (r *Region) TilesY() int { return r.tilesY }
