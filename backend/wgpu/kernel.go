// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	_ "embed"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tilebatch"
)

//go:embed shaders/job.wgsl
var jobShaderWGSL string

const (
	// jobEntrySize is the size of one Job struct in the kernel.
	jobEntrySize = 32

	// jobEntryStride separates table entries so every binding offset meets
	// the storage buffer offset alignment.
	jobEntryStride = 256
)

// Job table entry flags.
const (
	jobFlagPreload = 1 << iota
	jobFlagDraw
)

// compileWGSL compiles WGSL source to SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	spirv, err := naga.Compile(src)
	if err != nil {
		return nil, errors.Wrap(err, "compile job kernel")
	}
	if len(spirv)%4 != 0 {
		return nil, errors.Newf("compile job kernel: SPIR-V size %d is not word aligned", len(spirv))
	}
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirv[i*4:])
	}
	return words, nil
}

// jobKernel is the compute pipeline every chain job is dispatched with.
type jobKernel struct {
	device   hal.Device
	module   hal.ShaderModule
	layout   hal.BindGroupLayout
	pipeLay  hal.PipelineLayout
	pipeline hal.ComputePipeline
}

func newJobKernel(device hal.Device, label string) (*jobKernel, error) {
	spirv, err := compileWGSL(jobShaderWGSL)
	if err != nil {
		return nil, err
	}

	k := &jobKernel{device: device}
	k.module, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label + "_job_shader",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create job shader module")
	}

	k.layout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: label + "_job_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}},
	})
	if err != nil {
		k.destroy()
		return nil, errors.Wrap(err, "create job bind group layout")
	}

	k.pipeLay, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_job_layout",
		BindGroupLayouts: []hal.BindGroupLayout{k.layout},
	})
	if err != nil {
		k.destroy()
		return nil, errors.Wrap(err, "create job pipeline layout")
	}

	k.pipeline, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   label + "_job_pipeline",
		Layout:  k.pipeLay,
		Compute: hal.ComputeState{Module: k.module, EntryPoint: "main"},
	})
	if err != nil {
		k.destroy()
		return nil, errors.Wrap(err, "create job pipeline")
	}
	return k, nil
}

// bindGroup binds the table entry at offset.
func (k *jobKernel) bindGroup(label string, table hal.Buffer, offset uint64) (hal.BindGroup, error) {
	return k.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  label,
		Layout: k.layout,
		Entries: []gputypes.BindGroupEntry{{
			Binding: 0,
			Resource: gputypes.BufferBinding{
				Buffer: table.NativeHandle(),
				Offset: offset,
				Size:   jobEntrySize,
			},
		}},
	})
}

func (k *jobKernel) destroy() {
	if k.pipeline != nil {
		k.device.DestroyComputePipeline(k.pipeline)
		k.pipeline = nil
	}
	if k.pipeLay != nil {
		k.device.DestroyPipelineLayout(k.pipeLay)
		k.pipeLay = nil
	}
	if k.layout != nil {
		k.device.DestroyBindGroupLayout(k.layout)
		k.layout = nil
	}
	if k.module != nil {
		k.device.DestroyShaderModule(k.module)
		k.module = nil
	}
}

// encodeJobTable lays out jobs at jobEntryStride intervals.
func encodeJobTable(jobs []*tilebatch.Job) []byte {
	table := make([]byte, len(jobs)*jobEntryStride)
	for i, j := range jobs {
		e := table[i*jobEntryStride:]
		binary.LittleEndian.PutUint32(e[0:], j.Index)
		binary.LittleEndian.PutUint32(e[4:], uint32(j.Type))
		binary.LittleEndian.PutUint32(e[8:], j.Dependency)
		binary.LittleEndian.PutUint32(e[12:], j.TilerDependency)
		binary.LittleEndian.PutUint32(e[16:], j.Invocations)

		var flags uint32
		if j.Preload {
			flags |= jobFlagPreload
		}
		if j.Draw != nil {
			flags |= jobFlagDraw
		}
		binary.LittleEndian.PutUint32(e[20:], flags)
	}
	return table
}
