// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/tilebatch"
	"github.com/gogpu/tilebatch/backend"
)

func init() {
	backend.Register(backend.BackendWGPU, open)
}

// open is the registry factory. It needs a HAL device and queue.
func open(cfg backend.Config) (tilebatch.Backend, error) {
	if cfg.Device == nil || cfg.Queue == nil {
		return nil, errors.Wrap(backend.ErrBackendNotAvailable, "wgpu: no HAL device")
	}
	var opts []Option
	if cfg.Arch != 0 {
		opts = append(opts, WithArch(cfg.Arch))
	}
	opts = append(opts, WithMaxInFlight(cfg.MaxInFlight))

	b, err := New(cfg.Device, cfg.Queue, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}
