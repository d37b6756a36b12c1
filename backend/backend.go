// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tilebatch"
)

// Backend name constants.
const (
	// BackendWGPU is the name of the HAL backend in package
	// backend/wgpu.
	BackendWGPU = "wgpu"

	// BackendSoftware is the name of the CPU backend.
	BackendSoftware = "software"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or cannot run with the given configuration.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Config is what a factory needs to create a backend.
type Config struct {
	// Arch is the hardware generation to encode for. Zero selects the
	// backend's default.
	Arch tilebatch.Arch

	// Device and Queue are the HAL objects of GPU backends. CPU backends
	// ignore them.
	Device hal.Device
	Queue  hal.Queue

	// MaxInFlight bounds pending submissions where the backend queues
	// work. Zero selects the backend's default.
	MaxInFlight int
}

// Factory creates a backend. It returns an error wrapping
// ErrBackendNotAvailable when cfg lacks what the backend needs.
type Factory func(cfg Config) (tilebatch.Backend, error)
