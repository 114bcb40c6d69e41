// array-scan: sweeps a grid of candidate source positions and reports
// where the closed-form solver is well conditioned for a given array.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-tdoa/internal/arrayscan"
	"github.com/teslashibe/go-tdoa/internal/gccphat"
	"github.com/teslashibe/go-tdoa/internal/geometry"
)

var (
	armLength = flag.Float64("arm", gccphat.DefaultArmLength, "array arm length in meters")
	armRatio  = flag.Float64("ratio", gccphat.DefaultArmRatio, "diagonal mic scale along the arms (0,1)")
	xMin      = flag.Float64("xmin", -1, "grid lower x bound, meters")
	xMax      = flag.Float64("xmax", 1, "grid upper x bound, meters")
	yMin      = flag.Float64("ymin", -1, "grid lower y bound, meters")
	yMax      = flag.Float64("ymax", 1, "grid upper y bound, meters")
	zMin      = flag.Float64("zmin", -1, "grid lower z bound, meters")
	zMax      = flag.Float64("zmax", 1, "grid upper z bound, meters")
	step      = flag.Float64("step", 0.02, "grid step, meters")
	output    = flag.String("o", "", "output CSV file (default stdout)")
	debug     = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := arrayscan.Config{
		Array: geometry.Canonical(*armLength, *armRatio),
		XLim:  [2]float64{*xMin, *xMax},
		YLim:  [2]float64{*yMin, *yMax},
		ZLim:  [2]float64{*zMin, *zMax},
		Step:  *step,
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid scan config", "error", err)
		os.Exit(1)
	}

	scanner := arrayscan.New(cfg, logger)

	// Ctrl+C lands mid-scan as a context cancellation; the scanner
	// checks it once per grid point.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	points, err := scanner.Run(ctx)
	if err != nil {
		logger.Error("scan failed", "error", err)
		os.Exit(1)
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Error("create output file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := arrayscan.WriteReport(out, points); err != nil {
		logger.Error("write report", "error", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "%d grid points written\n", len(points))
}
