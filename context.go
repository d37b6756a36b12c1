// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tilebatch

import (
	"context"
	"io"
	"log/slog"
)

// Context is the scheduler state of one rendering session.
//
// It holds the batch registry and the writers map. A Context is not safe for
// concurrent use; sessions running on different goroutines each use their
// own Context and only share the Device.
type Context struct {
	dev *Device
	id  uint64

	// Batch registry.
	slots  [MaxBatches]Batch
	seqnum uint64
	active uint32

	// writers maps a resource to the batch holding its most recent write.
	writers map[*Resource]*Batch

	key    FramebufferKey
	hasKey bool
	batch  *Batch
	raster RasterState

	lastFence Fence
	stats     Stats
	closed    bool
}

// Ensure Context implements io.Closer
var _ io.Closer = (*Context)(nil)

// NewContext creates a scheduling context. It panics if the device is closed.
func (d *Device) NewContext() *Context {
	assertf(!d.closed.Load(), "NewContext on closed device")
	c := &Context{
		dev:     d,
		id:      d.nextContext.Add(1),
		writers: make(map[*Resource]*Batch),
	}
	for i := range c.slots {
		c.slots[i] = Batch{ctx: c, slot: i}
	}
	return c
}

// Device returns the owning device.
func (c *Context) Device() *Device { return c.dev }

// ID returns the context's device-unique id, used in log records.
func (c *Context) ID() uint64 { return c.id }

// LastFence returns the fence of the most recent kernel submission.
func (c *Context) LastFence() Fence { return c.lastFence }

// Writer returns the batch holding the most recent write to r, or nil.
func (c *Context) Writer(r *Resource) *Batch { return c.writers[r] }

// NumWriters returns the number of resources with a recorded writer.
func (c *Context) NumWriters() int { return len(c.writers) }

// Stats returns the context's counters.
func (c *Context) Stats() Stats { return c.stats }

// Close submits every open batch and releases the context.
// Close is idempotent.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	err := c.FlushAll("context close")
	c.closed = true
	c.writers = nil
	c.batch = nil
	c.hasKey = false
	return err
}

// perfLog reports scheduling decisions that cost performance, at debug
// level, or at info level when DebugPerf is set.
func (c *Context) perfLog(msg string, args ...any) {
	level := slog.LevelDebug
	if c.dev.cfg.Debug&DebugPerf != 0 {
		level = slog.LevelInfo
	}
	l := slogger()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, "tilebatch: "+msg, append([]any{"ctx", c.id}, args...)...)
}
