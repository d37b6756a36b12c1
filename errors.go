// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"github.com/cockroachdb/errors"
)

// Scheduler errors.
var (
	// ErrNilBackend is returned when a device is created without a backend.
	ErrNilBackend = errors.New("tilebatch: backend is nil")

	// ErrDeviceClosed is returned when operating on a closed device.
	ErrDeviceClosed = errors.New("tilebatch: device closed")

	// ErrContextClosed is returned when flushing a closed context.
	ErrContextClosed = errors.New("tilebatch: context closed")

	// ErrNoFramebuffer is returned by Flush when no framebuffer was ever
	// bound to the context.
	ErrNoFramebuffer = errors.New("tilebatch: no framebuffer bound")

	// ErrSubmitFailed marks errors returned by the backend's submit call.
	ErrSubmitFailed = errors.New("tilebatch: batch submission failed")

	// ErrOutOfMemory is returned when a pool or heap cannot be grown.
	ErrOutOfMemory = errors.New("tilebatch: out of memory")

	// ErrTooManyInvocations is logged when a draw or dispatch needs more
	// invocations than a job descriptor encodes. The work is dropped.
	ErrTooManyInvocations = errors.New("tilebatch: invocation count out of range")

	// ErrInvalidSize is returned for zero-sized allocations.
	ErrInvalidSize = errors.New("tilebatch: invalid allocation size")
)

// assertf panics with an assertion failure. Used for programming errors
// that must never be recovered from.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}
