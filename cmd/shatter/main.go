package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/meshforest/shatter/coordinator"
	"github.com/meshforest/shatter/extent"
	"github.com/meshforest/shatter/internal/runlog"
	"github.com/meshforest/shatter/metric"
	"github.com/meshforest/shatter/metricgraph"
	"github.com/meshforest/shatter/pointsrc"
	"github.com/meshforest/shatter/storage"
)

func run(cCtx *cli.Context) error {
	filename := cCtx.Args().First()
	if filename == "" {
		return cli.Exit("shatter: a filename argument is required", 1)
	}

	log, err := runlog.New()
	if err != nil {
		return err
	}
	defer log.Sync()

	tileSize := cCtx.Uint64("tile-size")
	workers := cCtx.Int("workers")
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	attrs := cCtx.StringSlice("attribute")
	if len(attrs) == 0 {
		attrs = []string{"Z"}
	}
	metricNames := cCtx.StringSlice("stats")
	if len(metricNames) == 0 {
		metricNames = []string{"count", "mean", "stddev", "min", "max"}
	}

	registry, err := metric.NewDefaultRegistry()
	if err != nil {
		return err
	}

	descs := make([]metric.Descriptor, 0, len(metricNames))
	requests := make([]metricgraph.Request, 0, len(attrs))
	for _, attr := range attrs {
		requests = append(requests, metricgraph.Request{Attr: attr, Metrics: metricNames})
	}
	for _, name := range metricNames {
		d, err := registry.Get(name)
		if err != nil {
			return err
		}
		descs = append(descs, d)
	}

	reader := pointsrc.NewAdapter(pointsrc.NewCSVReader(filename), false)

	storeURI := cCtx.String("store")
	if storeURI == "" {
		storeURI = filename + ".shatter.tiledb"
	}
	store, err := storage.New(storeURI, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	info, err := reader.QuickInfo(ctx)
	if err != nil {
		return err
	}
	resolution := cCtx.Float64("resolution")
	if resolution <= 0 {
		resolution = 1.0
	}
	root, err := newRootBounds(info, resolution)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(storeURI); os.IsNotExist(statErr) {
		if err := store.Create(ctx, root, attrs, descs); err != nil {
			return err
		}
	}

	coord, err := coordinator.New(reader, store, registry, requests, log)
	if err != nil {
		return err
	}

	cfg := coordinator.NewShatterConfig(filename, tileSize, attrs, descs)
	cfg.Bounds = &root
	if resumeSlot := cCtx.Int64("resume"); resumeSlot >= 0 {
		mbrs, err := store.MBRs(ctx, resumeSlot)
		if err != nil {
			return err
		}
		cfg.TimeSlot = resumeSlot
		cfg.MBR = mbrs
	}
	result, runErr := coord.Run(ctx, cfg, coordinator.Options{Workers: workers})

	for _, f := range coord.Failures() {
		fmt.Fprintf(os.Stderr, "tile failed: %v: %v\n", f.Rect, f.Err)
	}

	if runErr != nil {
		return cli.Exit(runErr.Error(), 1)
	}

	fmt.Printf("shatter finished: time_slot=%d point_count=%d\n", result.TimeSlot, result.PointCount)
	return nil
}

func newRootBounds(info pointsrc.QuickInfo, resolution float64) (extent.Bounds, error) {
	return extent.NewBounds(info.Bounds.MinX, info.Bounds.MinY, info.Bounds.MaxX, info.Bounds.MaxY, resolution, info.SRS)
}

func main() {
	app := &cli.App{
		Name:  "shatter",
		Usage: "partition a point cloud into a sparse grid of per-cell statistics",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "tile-size", Usage: "leaf tile size in cells (0 = single tile)"},
			&cli.Float64Flag{Name: "resolution", Usage: "cell size in the source SRS units", Value: 1.0},
			&cli.StringFlag{Name: "polygon", Usage: "WKT polygon to clip the read to (accepted but not passed to the reader; reads are not clipped)"},
			&cli.IntFlag{Name: "workers", Usage: "worker pool size (default: NumCPU)"},
			&cli.IntFlag{Name: "threads", Usage: "reader thread hint (accepted but not passed to the reader)"},
			&cli.StringSliceFlag{Name: "stats", Usage: "metric names to compute (default: count,mean,stddev,min,max)"},
			&cli.StringSliceFlag{Name: "attribute", Usage: "point attributes to summarize (default: Z)"},
			&cli.StringFlag{Name: "store", Usage: "destination array URI (default: <filename>.shatter.tiledb)"},
			&cli.Int64Flag{Name: "resume", Usage: "resume a previously interrupted time slot, skipping tiles its MBRs already cover", Value: -1},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
