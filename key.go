// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"fmt"
	"strings"
)

// MaxRenderTargets is the number of color attachments a framebuffer can bind.
const MaxRenderTargets = 8

// Channels is a bitmask over render-target channels: one bit per color
// attachment plus depth and stencil.
type Channels uint32

// Render-target channels.
const (
	ChannelColor0 Channels = 1 << iota
	ChannelColor1
	ChannelColor2
	ChannelColor3
	ChannelColor4
	ChannelColor5
	ChannelColor6
	ChannelColor7
	ChannelDepth
	ChannelStencil
)

// Channel groups.
const (
	ChannelColorAll     Channels = ChannelColor0<<MaxRenderTargets - 1
	ChannelDepthStencil          = ChannelDepth | ChannelStencil
	ChannelAll                   = ChannelColorAll | ChannelDepthStencil
)

// ChannelColor returns the channel of color attachment i.
func ChannelColor(i int) Channels {
	assertf(i >= 0 && i < MaxRenderTargets, "color attachment %d out of range", i)
	return ChannelColor0 << i
}

// Has reports whether every channel in o is set in c.
func (c Channels) Has(o Channels) bool { return c&o == o }

// String returns a compact list such as "color0|depth".
func (c Channels) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for i := 0; i < MaxRenderTargets; i++ {
		if c&(ChannelColor0<<i) != 0 {
			parts = append(parts, fmt.Sprintf("color%d", i))
		}
	}
	if c&ChannelDepth != 0 {
		parts = append(parts, "depth")
	}
	if c&ChannelStencil != 0 {
		parts = append(parts, "stencil")
	}
	return strings.Join(parts, "|")
}

// Surface identifies one level and layer of a resource used as a render target.
type Surface struct {
	Resource *Resource
	Level    uint32
	Layer    uint32
}

// IsZero reports whether the surface is unbound.
func (s Surface) IsZero() bool { return s.Resource == nil }

// FramebufferKey is the render-target configuration a batch accumulates work
// for. Two keys are equal when they bind the same surfaces in the same order
// with the same dimensions and sample count.
type FramebufferKey struct {
	// Colors holds the color attachments in order. Unbound slots are zero.
	Colors []Surface

	// ZS is the depth/stencil attachment, zero when unbound.
	ZS Surface

	Width   uint32
	Height  uint32
	Samples uint32
}

// Equal reports whether k and o describe the same render-target configuration.
func (k *FramebufferKey) Equal(o *FramebufferKey) bool {
	if k.Width != o.Width || k.Height != o.Height || k.samples() != o.samples() {
		return false
	}
	if len(k.Colors) != len(o.Colors) || k.ZS != o.ZS {
		return false
	}
	for i := range k.Colors {
		if k.Colors[i] != o.Colors[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers may reuse their Colors slice.
func (k *FramebufferKey) Clone() FramebufferKey {
	c := *k
	c.Colors = append([]Surface(nil), k.Colors...)
	return c
}

// surfaces returns every bound attachment, color first.
func (k *FramebufferKey) surfaces() []Surface {
	out := make([]Surface, 0, len(k.Colors)+1)
	for _, s := range k.Colors {
		if !s.IsZero() {
			out = append(out, s)
		}
	}
	if !k.ZS.IsZero() {
		out = append(out, k.ZS)
	}
	return out
}

// boundChannels returns the channels that have a surface attached.
func (k *FramebufferKey) boundChannels() Channels {
	var c Channels
	for i, s := range k.Colors {
		if !s.IsZero() {
			c |= ChannelColor0 << i
		}
	}
	if !k.ZS.IsZero() {
		f := k.ZS.Resource.Format()
		if formatHasDepth(f) {
			c |= ChannelDepth
		}
		if formatHasStencil(f) {
			c |= ChannelStencil
		}
	}
	return c
}

func (k *FramebufferKey) samples() uint32 {
	if k.Samples == 0 {
		return 1
	}
	return k.Samples
}

func (k *FramebufferKey) validate() {
	assertf(len(k.Colors) <= MaxRenderTargets, "%d color attachments, max %d", len(k.Colors), MaxRenderTargets)
	assertf(k.Width > 0 && k.Height > 0, "framebuffer size %dx%d", k.Width, k.Height)
}
