// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/tilebatch"
)

// unpackClearColor turns a clear value packed for format f back into the
// float color a render pass takes.
func unpackClearColor(f gputypes.TextureFormat, c tilebatch.ClearColor) gputypes.Color {
	unorm := func(w uint32, shift uint) float64 { return float64(w>>shift&0xff) / 255 }

	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		return gputypes.Color{R: unorm(c[0], 0), G: unorm(c[0], 8), B: unorm(c[0], 16), A: unorm(c[0], 24)}
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return gputypes.Color{R: unorm(c[0], 16), G: unorm(c[0], 8), B: unorm(c[0], 0), A: unorm(c[0], 24)}
	case gputypes.TextureFormatR8Unorm:
		return gputypes.Color{R: unorm(c[0], 0)}
	case gputypes.TextureFormatRGBA16Float:
		return gputypes.Color{
			R: float64(halfToFloat32(uint16(c[0]))),
			G: float64(halfToFloat32(uint16(c[0] >> 16))),
			B: float64(halfToFloat32(uint16(c[1]))),
			A: float64(halfToFloat32(uint16(c[1] >> 16))),
		}
	case gputypes.TextureFormatR32Float:
		return gputypes.Color{R: float64(math.Float32frombits(c[0]))}
	default:
		return gputypes.Color{
			R: float64(math.Float32frombits(c[0])),
			G: float64(math.Float32frombits(c[1])),
			B: float64(math.Float32frombits(c[2])),
			A: float64(math.Float32frombits(c[3])),
		}
	}
}

// halfToFloat32 converts IEEE 754 binary16 to float32.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// Subnormal: normalize the mantissa.
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | e<<23 | mant<<13)
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
