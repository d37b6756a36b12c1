// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"image"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/tilebatch/internal/damage"
)

// maxLevels is the number of mip levels whose validity is tracked.
const maxLevels = 64

// TextureDesc describes an image resource.
type TextureDesc struct {
	Label     string
	Format    gputypes.TextureFormat
	Width     uint32
	Height    uint32
	MipLevels uint32 // 0 means 1
}

// Resource is a GPU buffer or image shared by the contexts of a Device.
//
// The scheduler tracks resources by identity: the writers map of every
// context records which of its batches last wrote a resource. A resource
// owns its BO and, for formats that split depth and stencil, a separate
// stencil resource.
type Resource struct {
	label  string
	format gputypes.TextureFormat
	width  uint32
	height uint32
	levels uint32

	bo      *BO
	stencil *Resource

	// valid has bit L set once mip level L has been written.
	valid atomic.Uint64

	// damage is nil for buffers.
	damage *damage.Region
}

// NewBuffer creates a buffer resource of size bytes.
func (d *Device) NewBuffer(label string, size uint64) (*Resource, error) {
	if d.closed.Load() {
		return nil, ErrDeviceClosed
	}
	bo, err := d.newBO(MemoryDesc{Label: label, Kind: MemoryBuffer, Size: size})
	if err != nil {
		return nil, err
	}
	return &Resource{
		label:  label,
		format: gputypes.TextureFormatUndefined,
		width:  uint32(size),
		height: 1,
		levels: 1,
		bo:     bo,
	}, nil
}

// NewTexture creates an image resource usable as a render target.
func (d *Device) NewTexture(desc TextureDesc) (*Resource, error) {
	if d.closed.Load() {
		return nil, ErrDeviceClosed
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "texture %q is %dx%d", desc.Label, desc.Width, desc.Height)
	}
	levels := desc.MipLevels
	if levels == 0 {
		levels = 1
	}
	if levels > maxLevels {
		return nil, errors.Newf("tilebatch: texture %q has %d mip levels, max %d", desc.Label, levels, maxLevels)
	}

	r := &Resource{
		label:  desc.Label,
		format: desc.Format,
		width:  desc.Width,
		height: desc.Height,
		levels: levels,
		damage: damage.New(int(desc.Width), int(desc.Height)),
	}

	bo, err := d.newBO(MemoryDesc{
		Label:     desc.Label,
		Kind:      MemoryTexture,
		Size:      textureSize(desc.Format, desc.Width, desc.Height, levels),
		Format:    desc.Format,
		Width:     desc.Width,
		Height:    desc.Height,
		MipLevels: levels,
	})
	if err != nil {
		return nil, err
	}
	r.bo = bo

	if formatSplitsStencil(desc.Format) {
		s, err := d.NewTexture(TextureDesc{
			Label:     desc.Label + " stencil",
			Format:    gputypes.TextureFormatStencil8,
			Width:     desc.Width,
			Height:    desc.Height,
			MipLevels: levels,
		})
		if err != nil {
			bo.Release()
			return nil, errors.Wrap(err, "separate stencil")
		}
		r.stencil = s
	}
	return r, nil
}

func textureSize(f gputypes.TextureFormat, w, h, levels uint32) uint64 {
	bpp := formatBytesPerPixel(f)
	var size uint64
	for l := uint32(0); l < levels; l++ {
		size += uint64(max(w>>l, 1)) * uint64(max(h>>l, 1)) * bpp
	}
	return size
}

// Label returns the debug label.
func (r *Resource) Label() string { return r.label }

// Format returns the texel format, TextureFormatUndefined for buffers.
func (r *Resource) Format() gputypes.TextureFormat { return r.format }

// IsBuffer reports whether r is a buffer.
func (r *Resource) IsBuffer() bool { return r.damage == nil }

// Width returns the width in texels (bytes for buffers).
func (r *Resource) Width() uint32 { return r.width }

// Height returns the height in texels.
func (r *Resource) Height() uint32 { return r.height }

// Levels returns the number of mip levels.
func (r *Resource) Levels() uint32 { return r.levels }

// BO returns the main buffer object.
func (r *Resource) BO() *BO { return r.bo }

// SeparateStencil returns the stencil resource of a split depth/stencil
// format, or nil.
func (r *Resource) SeparateStencil() *Resource { return r.stencil }

// LevelValid reports whether mip level has ever been written.
func (r *Resource) LevelValid(level uint32) bool {
	if level >= maxLevels {
		return false
	}
	return r.valid.Load()&(1<<level) != 0
}

// SetLevelValid marks mip level as written.
func (r *Resource) SetLevelValid(level uint32) {
	assertf(level < r.levels, "level %d of %q out of range", level, r.label)
	r.valid.Or(1 << level)
	if r.stencil != nil {
		r.stencil.SetLevelValid(level)
	}
}

// InvalidateLevels marks every level as undefined, for example after the
// contents were discarded by the window system.
func (r *Resource) InvalidateLevels() {
	r.valid.Store(0)
	if r.stencil != nil {
		r.stencil.InvalidateLevels()
	}
}

// SetDamage narrows the damaged area to rects. An empty list marks the whole
// surface damaged. No-op for buffers.
func (r *Resource) SetDamage(rects []image.Rectangle) {
	if r.damage != nil {
		r.damage.Set(rects)
	}
}

// DamageBounds returns the bounding box of the damaged area, or the full
// extent for buffers.
func (r *Resource) DamageBounds() image.Rectangle {
	if r.damage == nil {
		return image.Rect(0, 0, int(r.width), int(r.height))
	}
	return r.damage.Bounds()
}

// resetDamage restores full damage after the surface was rendered to.
func (r *Resource) resetDamage() {
	if r.damage != nil {
		r.damage.Reset()
	}
}

// bos returns every buffer object backing r.
func (r *Resource) bos() []*BO {
	assertf(r.bo != nil, "use of released resource %q", r.label)
	if r.stencil != nil {
		return []*BO{r.bo, r.stencil.bo}
	}
	return []*BO{r.bo}
}

// Release drops the resource's reference on its memory. Batches still
// referencing the BOs keep them alive until they retire.
func (r *Resource) Release() {
	if r.bo == nil {
		return
	}
	r.bo.Release()
	r.bo = nil
	if r.stencil != nil {
		r.stencil.Release()
	}
}
