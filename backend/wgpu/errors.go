// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import "github.com/cockroachdb/errors"

var (
	// ErrNilDevice is returned when New is called without a HAL device or
	// queue.
	ErrNilDevice = errors.New("wgpu: nil HAL device or queue")

	// ErrNoHAL is returned by NewFromProvider when the provider does not
	// expose HAL objects.
	ErrNoHAL = errors.New("wgpu: provider does not expose HAL types")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("wgpu: backend closed")

	// ErrForeignMemory is returned when a submission references memory
	// allocated by another backend.
	ErrForeignMemory = errors.New("wgpu: memory not owned by this backend")

	// ErrFenceTimeout is returned when a retiring submission does not
	// signal in time.
	ErrFenceTimeout = errors.New("wgpu: fence wait timed out")
)
