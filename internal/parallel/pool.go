// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package parallel runs CPU tile work on a fixed set of goroutines.
package parallel

import (
	"image"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a set of workers with one queue each. An idle worker takes work
// from the other queues before it blocks on its own.
//
// Pool is safe for concurrent use.
type Pool struct {
	queues []chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	open   atomic.Bool
}

// NewPool starts a pool with n workers. n <= 0 uses GOMAXPROCS.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		queues: make([]chan func(), n),
		done:   make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), max(4*n, 8))
	}
	p.open.Store(true)
	p.wg.Add(n)
	for i := range n {
		go p.run(i)
	}
	return p
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case fn := <-own:
			fn()
			continue
		case <-p.done:
			return
		default:
		}
		if fn := p.take(id); fn != nil {
			fn()
			continue
		}
		select {
		case fn := <-own:
			fn()
		case <-p.done:
			return
		}
	}
}

// take removes one item from another worker's queue.
func (p *Pool) take(id int) func() {
	for i := 1; i < len(p.queues); i++ {
		select {
		case fn := <-p.queues[(id+i)%len(p.queues)]:
			return fn
		default:
		}
	}
	return nil
}

// Workers returns the number of workers.
func (p *Pool) Workers() int { return len(p.queues) }

// Do runs every function and returns when all of them have. After Close
// the functions run on the calling goroutine. Do must not run concurrently
// with Close.
func (p *Pool) Do(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.open.Load() || len(work) == 1 {
		for _, fn := range work {
			fn()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(work))
	for i, fn := range work {
		item := func() {
			defer wg.Done()
			fn()
		}
		select {
		case p.queues[i%len(p.queues)] <- item:
		case <-p.done:
			item()
		}
	}
	wg.Wait()
}

// Rows splits r into bands of rows lines and calls fn for each band on
// the pool. Bands are aligned to multiples of rows.
func (p *Pool) Rows(r image.Rectangle, rows int, fn func(band image.Rectangle)) {
	if r.Empty() {
		return
	}
	rows = max(rows, 1)
	var work []func()
	for y := r.Min.Y; y < r.Max.Y; {
		next := min((y/rows+1)*rows, r.Max.Y)
		band := image.Rect(r.Min.X, y, r.Max.X, next)
		work = append(work, func() { fn(band) })
		y = next
	}
	p.Do(work)
}

// Close stops the workers once the queued work has run. It is safe to call
// more than once.
func (p *Pool) Close() {
	if !p.open.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
	for _, q := range p.queues {
		for len(q) > 0 {
			(<-q)()
		}
	}
}
