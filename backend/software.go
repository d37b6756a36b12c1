// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"encoding/binary"
	"image"
	"math/bits"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/tilebatch"
	"github.com/gogpu/tilebatch/internal/damage"
	"github.com/gogpu/tilebatch/internal/parallel"
)

// init registers the software backend on package import.
func init() {
	Register(BackendSoftware, func(cfg Config) (tilebatch.Backend, error) {
		return NewSoftwareBackend(cfg.Arch), nil
	})
}

// SoftwareStats are cumulative software backend counters.
type SoftwareStats struct {
	Submissions  uint64
	JobsExecuted uint64
	ClearedBytes uint64
	LiveBytes    int64
}

// SoftwareBackend executes submissions on the CPU as they arrive. All
// memory is CPU visible and every fence is signaled on return from
// SubmitBatch.
//
// Jobs complete their draws immediately. The fragment job writes the clear
// values of cleared attachments into the covered part of level memory;
// preloads and stores are no-ops because the tile buffer is the memory
// itself. Fills run one tile row per work item.
type SoftwareBackend struct {
	arch tilebatch.Arch
	pool *parallel.Pool

	mu     sync.Mutex
	seqno  uint64
	stats  SoftwareStats
	closed bool
}

// NewSoftwareBackend creates a software backend. A zero arch selects
// tilebatch.ArchBifrost.
func NewSoftwareBackend(arch tilebatch.Arch) *SoftwareBackend {
	if arch == 0 {
		arch = tilebatch.ArchBifrost
	}
	return &SoftwareBackend{arch: arch, pool: parallel.NewPool(0)}
}

// Name returns the backend identifier.
func (b *SoftwareBackend) Name() string { return BackendSoftware }

// Arch returns the generation the backend mimics.
func (b *SoftwareBackend) Arch() tilebatch.Arch { return b.arch }

// Stats returns a snapshot of the counters.
func (b *SoftwareBackend) Stats() SoftwareStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// softMemory is a heap allocation. Textures store their levels one after
// another, each row-major and tightly packed.
type softMemory struct {
	be     *SoftwareBackend
	data   []byte
	format gputypes.TextureFormat
	width  uint32
	height uint32
	levels uint32
}

func (m *softMemory) Size() uint64  { return uint64(len(m.data)) }
func (m *softMemory) Bytes() []byte { return m.data }

func (m *softMemory) Release() {
	if m.data == nil {
		panic("backend: software memory released twice")
	}
	m.be.mu.Lock()
	m.be.stats.LiveBytes -= int64(len(m.data))
	m.be.mu.Unlock()
	m.data = nil
}

// level returns the memory of level l and its row pitch.
func (m *softMemory) level(l uint32) ([]byte, int) {
	bpp := bytesPerPixel(m.format)
	off := 0
	for i := uint32(0); i < l; i++ {
		off += int(max(m.width>>i, 1)) * int(max(m.height>>i, 1)) * bpp
	}
	w, h := int(max(m.width>>l, 1)), int(max(m.height>>l, 1))
	end := min(off+w*h*bpp, len(m.data))
	if off >= end {
		return nil, 0
	}
	return m.data[off:end], w * bpp
}

// AllocMemory allocates zeroed CPU memory.
func (b *SoftwareBackend) AllocMemory(desc tilebatch.MemoryDesc) (tilebatch.Memory, error) {
	if desc.Size == 0 {
		return nil, errors.Newf("backend: zero-sized %s allocation %q", desc.Kind, desc.Label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Wrap(ErrBackendNotAvailable, "software backend closed")
	}
	b.stats.LiveBytes += int64(desc.Size)
	return &softMemory{
		be:     b,
		data:   make([]byte, desc.Size),
		format: desc.Format,
		width:  desc.Width,
		height: desc.Height,
		levels: max(desc.MipLevels, 1),
	}, nil
}

// InitBatch has no per-batch state to prepare.
func (b *SoftwareBackend) InitBatch(*tilebatch.Batch) error { return nil }

// PreloadFramebuffer is a no-op: memory already holds the contents.
func (b *SoftwareBackend) PreloadFramebuffer(*tilebatch.Batch, *tilebatch.FramebufferDesc) error {
	return nil
}

// SubmitBatch executes req and returns a signaled fence.
func (b *SoftwareBackend) SubmitBatch(req *tilebatch.SubmitRequest) (tilebatch.Fence, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return tilebatch.Fence{}, errors.Wrap(ErrBackendNotAvailable, "software backend closed")
	}

	if req.Fragment {
		if err := b.runFragment(req); err != nil {
			return tilebatch.Fence{}, err
		}
	} else {
		for _, j := range req.Jobs {
			runJob(j)
		}
	}
	b.stats.JobsExecuted += uint64(len(req.Jobs))
	b.stats.Submissions++
	b.seqno++
	return tilebatch.Fence{Seqno: b.seqno}, nil
}

// runJob moves the job's draw through its states.
func runJob(j *tilebatch.Job) {
	d := j.Draw
	if d == nil {
		return
	}
	switch j.Type {
	case tilebatch.JobVertex:
		d.Advance(tilebatch.DrawVertexRunning)
	case tilebatch.JobTiler, tilebatch.JobIndexedVertex:
		d.Advance(tilebatch.DrawTilerRunning)
		d.Advance(tilebatch.DrawComplete)
	}
}

// runFragment writes the clear values of every cleared attachment.
func (b *SoftwareBackend) runFragment(req *tilebatch.SubmitRequest) error {
	fb := req.Framebuffer
	if fb == nil {
		return errors.New("backend: fragment submission without framebuffer")
	}

	var err error
	fb.Targets(func(ch tilebatch.Channels, rt *tilebatch.RenderTarget) {
		if err != nil || !rt.Clear {
			return
		}
		m, ok := rt.Surface.Resource.BO().Memory().(*softMemory)
		if !ok {
			err = errors.Newf("backend: render target %q not allocated by the software backend", rt.Surface.Resource.Label())
			return
		}

		switch {
		case ch&tilebatch.ChannelColorAll != 0:
			i := bits.TrailingZeros32(uint32(ch))
			var words tilebatch.ClearColor
			if i < len(fb.ClearColors) {
				words = fb.ClearColors[i]
			}
			b.fill(m, rt.Surface.Level, fb.Extent, colorPattern(m.format, words), nil)
		case ch == tilebatch.ChannelDepth:
			pattern, mask := depthPattern(m.format, fb.ClearDepth)
			b.fill(m, rt.Surface.Level, fb.Extent, pattern, mask)
		case ch == tilebatch.ChannelStencil:
			pattern, mask := stencilPattern(m.format, fb.ClearStencil)
			b.fill(m, rt.Surface.Level, fb.Extent, pattern, mask)
		}
	})
	return err
}

// fill writes pattern to every pixel of r in level l. Bits outside mask are
// kept; a nil mask writes whole pixels.
func (b *SoftwareBackend) fill(m *softMemory, l uint32, r image.Rectangle, pattern, mask []byte) {
	data, pitch := m.level(l)
	if data == nil || len(pattern) == 0 {
		return
	}
	bpp := len(pattern)
	w, h := pitch/bpp, len(data)/pitch
	r = r.Intersect(image.Rect(0, 0, w, h))

	b.pool.Rows(r, damage.TileSize, func(band image.Rectangle) {
		for y := band.Min.Y; y < band.Max.Y; y++ {
			row := data[y*pitch+band.Min.X*bpp : y*pitch+band.Max.X*bpp]
			for x := 0; x < len(row); x += bpp {
				px := row[x : x+bpp]
				if mask == nil {
					copy(px, pattern)
					continue
				}
				for i := range px {
					px[i] = px[i]&^mask[i] | pattern[i]&mask[i]
				}
			}
		}
	})
	b.stats.ClearedBytes += uint64(r.Dx() * r.Dy() * bpp)
}

func bytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRGBA16Float:
		return 8
	default:
		return 4
	}
}

// colorPattern returns the bytes of one pixel cleared to words.
func colorPattern(f gputypes.TextureFormat, words tilebatch.ClearColor) []byte {
	var buf [16]byte
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf[:bytesPerPixel(f)]
}

// depthPattern returns the depth bytes of one pixel and the mask of the
// depth bits. Depth24PlusStencil8 keeps depth in the low 24 bits.
func depthPattern(f gputypes.TextureFormat, packed uint32) (pattern, mask []byte) {
	switch f {
	case gputypes.TextureFormatDepth16Unorm:
		pattern = binary.LittleEndian.AppendUint16(nil, uint16(packed))
	case gputypes.TextureFormatDepth24PlusStencil8:
		pattern = binary.LittleEndian.AppendUint32(nil, packed&0xffffff)
		mask = []byte{0xff, 0xff, 0xff, 0}
	default:
		pattern = binary.LittleEndian.AppendUint32(nil, packed)
	}
	return pattern, mask
}

// stencilPattern returns the stencil bytes of one pixel and the mask of
// the stencil bits. Depth32FloatStencil8 surfaces keep stencil in their
// own Stencil8 resource.
func stencilPattern(f gputypes.TextureFormat, s uint8) (pattern, mask []byte) {
	switch f {
	case gputypes.TextureFormatDepth24PlusStencil8:
		return []byte{0, 0, 0, s}, []byte{0, 0, 0, 0xff}
	case gputypes.TextureFormatStencil8:
		return []byte{s}, nil
	default:
		return nil, nil
	}
}

// Wait returns immediately; software fences signal at submission.
func (b *SoftwareBackend) Wait(f tilebatch.Fence, _ time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f.Seqno > b.seqno {
		return false, errors.Newf("backend: unknown fence %d", f.Seqno)
	}
	return true, nil
}

// Close stops the fill workers. Memory still held by resources stays
// readable.
func (b *SoftwareBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.pool.Close()
	}
}
