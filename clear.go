// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"math"

	"github.com/gogpu/gputypes"
)

// ClearColor is a packed clear value for one color attachment. The tile
// buffer is initialized from these words, so the packing follows the
// surface format rather than the float value handed in by the caller.
type ClearColor [4]uint32

// formatHasDepth reports whether f carries a depth aspect.
func formatHasDepth(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatDepth16Unorm,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return true
	}
	return false
}

// formatHasStencil reports whether f carries a stencil aspect.
func formatHasStencil(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32FloatStencil8,
		gputypes.TextureFormatStencil8:
		return true
	}
	return false
}

// formatIsDepthStencil reports whether f is a depth and/or stencil format.
func formatIsDepthStencil(f gputypes.TextureFormat) bool {
	return formatHasDepth(f) || formatHasStencil(f)
}

// formatSplitsStencil reports whether resources of format f keep stencil in a
// separate allocation. 32-bit float depth leaves no room for an interleaved
// stencil byte.
func formatSplitsStencil(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatDepth32FloatStencil8
}

// formatBytesPerPixel returns the storage size of one pixel of f.
func formatBytesPerPixel(f gputypes.TextureFormat) uint64 {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatDepth32FloatStencil8:
		// Depth plane only; the stencil plane is its own resource.
		return 4
	default:
		return 4
	}
}

// packClearColor packs an RGBA clear color for a surface of format f.
func packClearColor(f gputypes.TextureFormat, c [4]float64) ClearColor {
	var out ClearColor
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		out[0] = packUnorm8(c[0]) | packUnorm8(c[1])<<8 | packUnorm8(c[2])<<16 | packUnorm8(c[3])<<24
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		out[0] = packUnorm8(c[2]) | packUnorm8(c[1])<<8 | packUnorm8(c[0])<<16 | packUnorm8(c[3])<<24
	case gputypes.TextureFormatR8Unorm:
		out[0] = packUnorm8(c[0])
	case gputypes.TextureFormatRGBA16Float:
		out[0] = uint32(float32ToHalf(float32(c[0]))) | uint32(float32ToHalf(float32(c[1])))<<16
		out[1] = uint32(float32ToHalf(float32(c[2]))) | uint32(float32ToHalf(float32(c[3])))<<16
	case gputypes.TextureFormatR32Float:
		out[0] = math.Float32bits(float32(c[0]))
	default:
		// Unknown color formats clear as 32-bit float channels; the
		// backend narrows them when it programs the tile buffer.
		for i := range c {
			out[i] = math.Float32bits(float32(c[i]))
		}
	}
	return out
}

// packClearDepth packs a depth clear value for the depth format f.
func packClearDepth(f gputypes.TextureFormat, depth float32) uint32 {
	d := clampUnit(float64(depth))
	switch f {
	case gputypes.TextureFormatDepth16Unorm:
		return uint32(math.Round(d * 0xffff))
	case gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8:
		return uint32(math.Round(d * 0xffffff))
	default:
		return math.Float32bits(float32(d))
	}
}

func packUnorm8(v float64) uint32 {
	return uint32(math.Round(clampUnit(v) * 255))
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// float32ToHalf converts f to IEEE 754 binary16, rounding to nearest even
// and flushing values below the half subnormal range to zero.
func float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case bits&0x7fffffff == 0:
		return sign
	case bits>>23&0xff == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := mant >> shift
		rem := mant & (1<<shift - 1)
		mid := uint32(1) << (shift - 1)
		if rem > mid || (rem == mid && half&1 == 1) {
			half++
		}
		return sign | uint16(half)
	}

	half := uint32(exp)<<10 | mant>>13
	rem := mant & 0x1fff
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++
	}
	return sign | uint16(half)
}
