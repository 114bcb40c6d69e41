// gen-recording: synthesizes a recording of a noise source at a known
// position, for exercising the offline pipeline without hardware.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/teslashibe/go-tdoa/internal/dataset"
	"github.com/teslashibe/go-tdoa/internal/geometry"
	"github.com/teslashibe/go-tdoa/internal/hkusb"
)

var (
	x          = flag.Float64("x", 0.5, "source x, meters")
	y          = flag.Float64("y", 0.3, "source y, meters")
	z          = flag.Float64("z", 0.4, "source z, meters")
	sampleRate = flag.Int("rate", 100000, "sample rate, Hz")
	seconds    = flag.Float64("seconds", 2.0, "recording length, seconds")
	label      = flag.String("label", "synthetic", "recording label")
	output     = flag.String("o", "synthetic"+dataset.FileExt, "output file")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	source := hkusb.NewMockSource()
	source.SetSampleRate(*sampleRate)
	source.SetPosition(geometry.Point{X: *x, Y: *y, Z: *z})

	numSamples := int(*seconds * float64(*sampleRate))
	buf, err := source.Acquire(numSamples)
	if err != nil {
		logger.Error("synthesis failed", "error", err)
		os.Exit(1)
	}

	rec, err := dataset.FromInterleaved(buf, source.Channels(), *sampleRate)
	if err != nil {
		logger.Error("deinterleave failed", "error", err)
		os.Exit(1)
	}
	rec.Label = *label

	if err := dataset.Save(*output, rec); err != nil {
		logger.Error("save recording", "error", err)
		os.Exit(1)
	}

	logger.Info("recording written",
		"path", *output,
		"samples", rec.Samples(),
		"duration", rec.Duration(),
		"position", []float64{*x, *y, *z},
	)
}
