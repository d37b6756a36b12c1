// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"fmt"
	"image"
	"math/rand/v2"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/tilebatch"
)

// Synthetic shader and descriptor addresses.
const (
	shadowProgram   tilebatch.Pointer = 0x10000
	particleProgram tilebatch.Pointer = 0x20000
	mainVertex      tilebatch.Pointer = 0x30000
	mainFragment    tilebatch.Pointer = 0x40000
	materialTable   tilebatch.Pointer = 0x50000
)

// workload is one context's frame loop.
type workload struct {
	frames int
	draws  int
	width  uint32
	height uint32
}

// frameResources are the resources a context renders with.
type frameResources struct {
	color     *tilebatch.Resource
	depth     *tilebatch.Resource
	shadow    *tilebatch.Resource
	particles *tilebatch.Resource
}

func (w workload) alloc(dev *tilebatch.Device, id int) (*frameResources, error) {
	var (
		r   frameResources
		err error
	)
	r.color, err = dev.NewTexture(tilebatch.TextureDesc{
		Label:  fmt.Sprintf("ctx%d_color", id),
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  w.width,
		Height: w.height,
	})
	if err != nil {
		return nil, err
	}
	r.depth, err = dev.NewTexture(tilebatch.TextureDesc{
		Label:  fmt.Sprintf("ctx%d_depth", id),
		Format: gputypes.TextureFormatDepth24PlusStencil8,
		Width:  w.width,
		Height: w.height,
	})
	if err != nil {
		r.release()
		return nil, err
	}
	r.shadow, err = dev.NewTexture(tilebatch.TextureDesc{
		Label:  fmt.Sprintf("ctx%d_shadow", id),
		Format: gputypes.TextureFormatDepth32Float,
		Width:  max(w.width/2, 1),
		Height: max(w.height/2, 1),
	})
	if err != nil {
		r.release()
		return nil, err
	}
	r.particles, err = dev.NewBuffer(fmt.Sprintf("ctx%d_particles", id), 16*1024)
	if err != nil {
		r.release()
		return nil, err
	}
	return &r, nil
}

func (r *frameResources) release() {
	for _, res := range []*tilebatch.Resource{r.color, r.depth, r.shadow, r.particles} {
		if res != nil {
			res.Release()
		}
	}
}

// run renders w.frames frames and returns the context statistics.
//
// Each frame has three parts. A shadow pass renders depth into its own
// batch and simulates particles with a compute dispatch. The main pass then
// samples the shadow map and reads the particle buffer, so its first draw
// flushes the shadow batch. The color target is only cleared every fourth
// frame; the other frames preload the damaged part of the previous one.
func (w workload) run(ctx context.Context, dev *tilebatch.Device, id int) (tilebatch.Stats, error) {
	c := dev.NewContext()
	defer c.Close()

	res, err := w.alloc(dev, id)
	if err != nil {
		return c.Stats(), err
	}
	defer res.release()

	shadowKey := tilebatch.FramebufferKey{
		ZS:     tilebatch.Surface{Resource: res.shadow},
		Width:  res.shadow.Width(),
		Height: res.shadow.Height(),
	}
	mainKey := tilebatch.FramebufferKey{
		Colors: []tilebatch.Surface{{Resource: res.color}},
		ZS:     tilebatch.Surface{Resource: res.depth},
		Width:  w.width,
		Height: w.height,
	}

	rng := rand.New(rand.NewPCG(uint64(id), 0x7b5))
	for f := 0; f < w.frames; f++ {
		if err := ctx.Err(); err != nil {
			return c.Stats(), err
		}

		c.SetFramebuffer(shadowKey)
		c.Clear(tilebatch.ChannelDepth, [4]float64{}, 1, 0)
		for d := 0; d < w.draws/4+1; d++ {
			c.Draw(&tilebatch.DrawInfo{
				VertexProgram: shadowProgram,
				VertexCount:   36,
				InstanceCount: uint32(1 + d%3),
				VertexBuffers: []*tilebatch.Resource{res.particles},
				DepthTest:     true,
				DepthWrite:    true,
			})
		}
		c.Dispatch(&tilebatch.DispatchInfo{
			Program:       particleProgram,
			Groups:        [3]uint32{64, 1, 1},
			StorageWrites: []*tilebatch.Resource{res.particles},
		})

		c.SetFramebuffer(mainKey)
		res.color.SetDamage([]image.Rectangle{randomRect(rng, int(w.width), int(w.height))})
		if f%4 == 0 {
			c.Clear(tilebatch.ChannelColor0|tilebatch.ChannelDepthStencil, [4]float64{0.2, 0.3, 0.5, 1}, 1, 0)
		}
		for d := 0; d < w.draws; d++ {
			info := &tilebatch.DrawInfo{
				VertexProgram:    mainVertex,
				FragmentProgram:  mainFragment,
				Descriptors:      []tilebatch.Descriptor{{Kind: tilebatch.DescriptorTextures, Pointer: materialTable + tilebatch.Pointer(d%4)*0x100}},
				VertexCount:      uint32(3 * (d + 1)),
				VertexBuffers:    []*tilebatch.Resource{res.particles},
				FragmentTextures: []*tilebatch.Resource{res.shadow},
				ColorWrites:      tilebatch.ChannelColor0,
				BlendReads:       blendReads(d),
				DepthTest:        true,
				DepthWrite:       d%2 == 0,
			}
			if d%5 == 4 {
				s := randomRect(rng, int(w.width), int(w.height))
				info.Scissor = &s
			}
			c.Draw(info)
		}

		if err := c.Flush("frame"); err != nil {
			return c.Stats(), err
		}
	}

	if err := c.Finish(ctx); err != nil {
		return c.Stats(), err
	}
	return c.Stats(), nil
}

// blendReads makes every third draw blended.
func blendReads(d int) tilebatch.Channels {
	if d%3 == 2 {
		return tilebatch.ChannelColor0
	}
	return 0
}

// randomRect returns a rectangle inside a w x h surface. It may be empty.
func randomRect(rng *rand.Rand, w, h int) image.Rectangle {
	x0, y0 := rng.IntN(w), rng.IntN(h)
	x1, y1 := x0+rng.IntN(w-x0+1), y0+rng.IntN(h-y0+1)
	return image.Rect(x0, y0, x1, y1)
}
