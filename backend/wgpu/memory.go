// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tilebatch"
)

// bufferMemory backs buffers, pool slabs and tiler heap chunks.
type bufferMemory struct {
	be     *Backend
	kind   tilebatch.MemoryKind
	size   uint64
	buf    hal.Buffer
	shadow []byte // CPU copy, transient memory only

	released atomic.Bool
}

func (m *bufferMemory) Size() uint64  { return m.size }
func (m *bufferMemory) Bytes() []byte { return m.shadow }

func (m *bufferMemory) Release() {
	if m.released.Swap(true) {
		panic("wgpu: buffer memory released twice")
	}
	buf := m.buf
	m.be.bury(func(d hal.Device) { d.DestroyBuffer(buf) })
}

// textureMemory backs render-target capable textures.
type textureMemory struct {
	be     *Backend
	size   uint64
	format gputypes.TextureFormat
	tex    hal.Texture
	views  []hal.TextureView // one per mip level

	released atomic.Bool
}

func (m *textureMemory) Size() uint64  { return m.size }
func (m *textureMemory) Bytes() []byte { return nil }

func (m *textureMemory) Release() {
	if m.released.Swap(true) {
		panic("wgpu: texture memory released twice")
	}
	tex, views := m.tex, m.views
	m.be.bury(func(d hal.Device) { destroyTexture(d, tex, views) })
}

// view returns the view of level, nil when out of range.
func (m *textureMemory) view(level uint32) hal.TextureView {
	if int(level) >= len(m.views) {
		return nil
	}
	return m.views[level]
}

func destroyTexture(d hal.Device, tex hal.Texture, views []hal.TextureView) {
	for _, v := range views {
		if v != nil {
			d.DestroyTextureView(v)
		}
	}
	if tex != nil {
		d.DestroyTexture(tex)
	}
}

// bufferUsage returns the HAL usage of a buffer of kind k.
func bufferUsage(k tilebatch.MemoryKind) gputypes.BufferUsage {
	switch k {
	case tilebatch.MemoryTransient:
		return gputypes.BufferUsageStorage | gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	case tilebatch.MemoryInvisible, tilebatch.MemoryTilerHeap:
		return gputypes.BufferUsageStorage
	default:
		return gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	}
}

// AllocMemory implements tilebatch.Backend.
func (b *Backend) AllocMemory(desc tilebatch.MemoryDesc) (tilebatch.Memory, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	if desc.Kind == tilebatch.MemoryTexture {
		return b.allocTexture(desc)
	}
	if desc.Size == 0 {
		return nil, errors.Newf("wgpu: zero-sized %s allocation %q", desc.Kind, desc.Label)
	}

	// WriteBuffer copies whole words.
	size := (desc.Size + 3) &^ 3
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label(desc.Kind.String(), desc.Label),
		Size:  size,
		Usage: bufferUsage(desc.Kind),
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create %s buffer %q", desc.Kind, desc.Label), tilebatch.ErrOutOfMemory)
	}

	m := &bufferMemory{be: b, kind: desc.Kind, size: desc.Size, buf: buf}
	if desc.Kind == tilebatch.MemoryTransient {
		m.shadow = make([]byte, size)
	}
	b.allocated(desc.Size)
	return m, nil
}

func (b *Backend) allocTexture(desc tilebatch.MemoryDesc) (*textureMemory, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, errors.Newf("wgpu: texture %q has zero extent", desc.Label)
	}
	levels := desc.MipLevels
	if levels == 0 {
		levels = 1
	}

	label := b.label("texture", desc.Label)
	tex, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: levels,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create texture %q", desc.Label), tilebatch.ErrOutOfMemory)
	}

	views := make([]hal.TextureView, levels)
	for i := range views {
		views[i], err = b.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label:         fmt.Sprintf("%s_level%d", label, i),
			Format:        desc.Format,
			Dimension:     gputypes.TextureViewDimension2D,
			Aspect:        gputypes.TextureAspectAll,
			BaseMipLevel:  uint32(i),
			MipLevelCount: 1,
		})
		if err != nil {
			destroyTexture(b.device, tex, views)
			return nil, errors.Wrapf(err, "create view of %q level %d", desc.Label, i)
		}
	}

	b.allocated(desc.Size)
	return &textureMemory{be: b, size: desc.Size, format: desc.Format, tex: tex, views: views}, nil
}

// grave is a destructor waiting for the submissions issued before it.
type grave struct {
	after   uint64
	destroy func(hal.Device)
}

// bury defers destroy until every submission issued so far has retired.
func (b *Backend) bury(destroy func(hal.Device)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.LiveAllocations--
	if b.closed || b.issued <= b.completed {
		destroy(b.device)
		b.stats.Destroyed++
		return
	}
	b.graveyard = append(b.graveyard, grave{after: b.issued, destroy: destroy})
	b.stats.DeferredFrees++
}

// reapLocked destroys graves whose submissions have retired. Graves are
// appended in issue order.
func (b *Backend) reapLocked() {
	n := 0
	for _, g := range b.graveyard {
		if g.after > b.completed {
			break
		}
		g.destroy(b.device)
		b.stats.Destroyed++
		n++
	}
	if n > 0 {
		b.graveyard = append(b.graveyard[:0], b.graveyard[n:]...)
	}
}

func (b *Backend) allocated(size uint64) {
	b.mu.Lock()
	b.stats.LiveAllocations++
	b.stats.AllocatedBytes += size
	b.mu.Unlock()
}
