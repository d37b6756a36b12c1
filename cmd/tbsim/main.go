// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command tbsim drives the batch scheduler with synthetic frames and reports
// scheduling statistics. The wgpu backend runs on a noop GPU device; the
// software backend executes clears on the CPU.
//
// Every context renders its own frames on its own goroutine: a depth-only
// shadow pass, a compute pass writing a storage buffer and a main pass that
// samples the shadow map and reads the buffer. Cross-batch reads flush the
// writers, which is what the statistics show.
//
// Set TILEBATCH_DEBUG to a comma-separated list of sync, trace and perf to
// enable scheduler debugging.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/tilebatch"
	"github.com/gogpu/tilebatch/backend"
	"github.com/gogpu/tilebatch/backend/wgpu"
)

func main() {
	var (
		contexts = flag.Int("contexts", 4, "number of concurrent contexts")
		frames   = flag.Int("frames", 60, "frames per context")
		draws    = flag.Int("draws", 16, "draws per main pass")
		width    = flag.Int("width", 256, "render target width")
		height   = flag.Int("height", 256, "render target height")
		arch     = flag.String("arch", "bifrost", "hardware generation: midgard, bifrost or valhall")
		name     = flag.String("backend", "", "backend to run on: wgpu or software (default: best available)")
		inFlight = flag.Int("in-flight", wgpu.DefaultMaxInFlight, "maximum submissions in flight")
		heatmap  = flag.String("heatmap", "", "write a PNG of per-tile preload counts to this file")
		scale    = flag.Int("scale", 4, "heatmap pixels per tile")
		verbose  = flag.Bool("v", false, "log scheduler decisions")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	tilebatch.SetLogger(logger)

	a, err := parseArch(*arch)
	if err != nil {
		log.Fatal(err)
	}
	if *width <= 0 || *height <= 0 {
		log.Fatalf("invalid render target size %dx%d", *width, *height)
	}

	debug, unknown := tilebatch.ParseDebugFlags(os.Getenv("TILEBATCH_DEBUG"))
	if len(unknown) > 0 {
		logger.Warn("tbsim: unknown TILEBATCH_DEBUG flags", "flags", strings.Join(unknown, ","))
	}

	cfg := backend.Config{Arch: a, MaxInFlight: *inFlight}
	if *name != backend.BackendSoftware {
		device, queue, cleanup, err := openNoopDevice()
		if err != nil {
			log.Fatalf("open device: %v", err)
		}
		defer cleanup()
		cfg.Device, cfg.Queue = device, queue
	}

	var be tilebatch.Backend
	if *name == "" {
		be, err = backend.Default(cfg)
	} else {
		be, err = backend.Open(*name, cfg)
	}
	if err != nil {
		log.Fatalf("create backend: %v (available: %s)", err, strings.Join(backend.Available(), ", "))
	}
	logger.Info("tbsim: backend selected", "backend", be.Name(), "arch", be.Arch())

	scheduled := be
	var heat *tileHeatmap
	if *heatmap != "" {
		heat = newTileHeatmap(*width, *height)
		scheduled = &recordingBackend{Backend: be, heat: heat}
	}

	dev, err := tilebatch.NewDevice(scheduled, tilebatch.WithDebug(debug))
	if err != nil {
		log.Fatalf("create device: %v", err)
	}
	defer dev.Close()

	w := workload{
		frames: *frames,
		draws:  *draws,
		width:  uint32(*width),
		height: uint32(*height),
	}
	results := make([]tilebatch.Stats, *contexts)
	g, gctx := errgroup.WithContext(context.Background())
	for i := range results {
		g.Go(func() error {
			st, err := w.run(gctx, dev, i)
			results[i] = st
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("simulation failed: %v", err)
	}

	report(os.Stdout, results, dev.Stats(), be)

	if heat != nil {
		if err := heat.writePNG(*heatmap, *scale); err != nil {
			log.Fatalf("write heatmap: %v", err)
		}
		logger.Info("tbsim: heatmap written", "file", *heatmap, "max", heat.max())
	}
}

func parseArch(s string) (tilebatch.Arch, error) {
	for _, a := range []tilebatch.Arch{tilebatch.ArchMidgard, tilebatch.ArchBifrost, tilebatch.ArchValhall} {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown arch %q", s)
}

// openNoopDevice opens the first adapter of the noop HAL.
func openNoopDevice() (hal.Device, hal.Queue, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("no adapters")
	}
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("open adapter: %w", err)
	}
	cleanup := func() {
		open.Device.Destroy()
		instance.Destroy()
	}
	return open.Device, open.Queue, cleanup, nil
}

// report prints per-context and device totals with grouped digits,
// followed by the counters of the backend when it keeps any.
func report(out io.Writer, perContext []tilebatch.Stats, dev tilebatch.Stats, be tilebatch.Backend) {
	p := message.NewPrinter(language.English)
	for i, st := range perContext {
		p.Fprintf(out, "context %d: draws=%d skipped=%d dispatches=%d submissions=%d hazard_flushes=%d evictions=%d empty=%d\n",
			i, st.Draws, st.SkippedDraws, st.Dispatches, st.Submissions, st.HazardFlushes, st.Evictions, st.EmptyBatches)
	}
	p.Fprintf(out, "device: submissions=%d kernel_submits=%d hazard_flushes=%d evictions=%d failed=%d live_bos=%d\n",
		dev.Submissions, dev.KernelSubmits, dev.HazardFlushes, dev.Evictions, dev.FailedSubmissions, dev.LiveBOs)

	switch b := be.(type) {
	case *wgpu.Backend:
		st := b.Stats()
		p.Fprintf(out, "backend wgpu: compute_passes=%d render_passes=%d preloads=%d retired=%d uploaded=%d bytes allocated=%d bytes\n",
			st.ComputePasses, st.RenderPasses, st.Preloads, st.Retired, st.UploadedBytes, st.AllocatedBytes)
	case *backend.SoftwareBackend:
		st := b.Stats()
		p.Fprintf(out, "backend software: jobs=%d cleared=%d bytes live=%d bytes\n",
			st.JobsExecuted, st.ClearedBytes, st.LiveBytes)
	default:
		p.Fprintf(out, "backend %s\n", be.Name())
	}
}
