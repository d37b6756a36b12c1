// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"time"

	"github.com/gogpu/tilebatch"
)

// Default option values.
const (
	DefaultMaxInFlight = 4
	DefaultTimeout     = 5 * time.Second
)

type config struct {
	arch        tilebatch.Arch
	label       string
	maxInFlight int64
	timeout     time.Duration
}

func defaultConfig() config {
	return config{
		arch:        tilebatch.ArchBifrost,
		label:       "tilebatch",
		maxInFlight: DefaultMaxInFlight,
		timeout:     DefaultTimeout,
	}
}

// Option configures a Backend.
type Option func(*config)

// WithArch selects the hardware generation to encode for.
// The default is tilebatch.ArchBifrost.
func WithArch(a tilebatch.Arch) Option {
	return func(c *config) { c.arch = a }
}

// WithLabel sets the prefix of every HAL object label.
func WithLabel(label string) Option {
	return func(c *config) {
		if label != "" {
			c.label = label
		}
	}
}

// WithMaxInFlight bounds the number of submissions that may be pending on
// the queue. Values below 1 are ignored.
func WithMaxInFlight(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxInFlight = int64(n)
		}
	}
}

// WithTimeout sets how long retiring an old submission may block when the
// in-flight window is full, and how long Close waits for the queue.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}
