// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"image"
	"image/png"
	"os"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/tilebatch"
	"github.com/gogpu/tilebatch/internal/damage"
)

// tileHeatmap counts how often each tile of the render target was
// preloaded.
type tileHeatmap struct {
	mu     sync.Mutex
	tilesX int
	tilesY int
	counts []uint32
}

func newTileHeatmap(width, height int) *tileHeatmap {
	tx := (width + damage.TileSize - 1) / damage.TileSize
	ty := (height + damage.TileSize - 1) / damage.TileSize
	return &tileHeatmap{tilesX: tx, tilesY: ty, counts: make([]uint32, tx*ty)}
}

// add counts every tile r touches. Tiles outside the grid are ignored.
func (h *tileHeatmap) add(r image.Rectangle) {
	if r.Empty() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	x0 := max(r.Min.X/damage.TileSize, 0)
	y0 := max(r.Min.Y/damage.TileSize, 0)
	x1 := min((r.Max.X-1)/damage.TileSize, h.tilesX-1)
	y1 := min((r.Max.Y-1)/damage.TileSize, h.tilesY-1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			h.counts[y*h.tilesX+x]++
		}
	}
}

func (h *tileHeatmap) at(x, y int) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[y*h.tilesX+x]
}

func (h *tileHeatmap) max() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var m uint32
	for _, c := range h.counts {
		m = max(m, c)
	}
	return m
}

// image renders one gray pixel per tile, scaled so the hottest tile is
// white, then upscaled by scale with nearest-neighbour sampling.
func (h *tileHeatmap) image(scale int) image.Image {
	peak := h.max()
	tiles := image.NewGray(image.Rect(0, 0, h.tilesX, h.tilesY))
	if peak > 0 {
		h.mu.Lock()
		for i, c := range h.counts {
			tiles.Pix[i] = uint8(uint64(c) * 255 / uint64(peak))
		}
		h.mu.Unlock()
	}
	if scale <= 1 {
		return tiles
	}

	out := image.NewGray(image.Rect(0, 0, h.tilesX*scale, h.tilesY*scale))
	xdraw.NearestNeighbor.Scale(out, out.Bounds(), tiles, tiles.Bounds(), xdraw.Src, nil)
	return out
}

func (h *tileHeatmap) writePNG(path string, scale int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, h.image(scale)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// recordingBackend feeds the preloaded area of every submission into a
// heatmap.
type recordingBackend struct {
	tilebatch.Backend
	heat *tileHeatmap
}

func (b *recordingBackend) PreloadFramebuffer(bt *tilebatch.Batch, fb *tilebatch.FramebufferDesc) error {
	if fb.HasPreload() {
		b.heat.add(fb.PreloadBounds)
	}
	return b.Backend.PreloadFramebuffer(bt, fb)
}
