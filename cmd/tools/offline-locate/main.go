// offline-locate: localizes a saved recording frame by frame and
// prints the per-frame position estimates.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/teslashibe/go-tdoa/internal/dataset"
	"github.com/teslashibe/go-tdoa/internal/gccphat"
	"github.com/teslashibe/go-tdoa/internal/geometry"
)

var (
	windowLen = flag.Int("window", 8192, "analysis window length, samples")
	cutoffLow = flag.Int("low", gccphat.DefaultCutoffLow, "band-pass low cutoff, Hz")
	cutoffHi  = flag.Int("high", gccphat.DefaultCutoffHigh, "band-pass high cutoff, Hz")
	armLength = flag.Float64("arm", gccphat.DefaultArmLength, "array arm length, meters")
	armRatio  = flag.Float64("ratio", gccphat.DefaultArmRatio, "diagonal mic scale along the arms (0,1)")
	tempC     = flag.Float64("temp", gccphat.DefaultTempC, "ambient temperature, Celsius")
	delays    = flag.Bool("delays", false, "print raw sample delays instead of positions")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: offline-locate [flags] <recording%s>\n", dataset.FileExt)
		flag.PrintDefaults()
		os.Exit(2)
	}

	rec, err := dataset.Load(flag.Arg(0))
	if err != nil {
		logger.Error("load recording", "error", err)
		os.Exit(1)
	}

	logger.Info("recording loaded",
		"label", rec.Label,
		"sample_rate", rec.SampleRate,
		"duration", rec.Duration(),
	)

	cfg := gccphat.OfflineConfig{
		WindowLen:  *windowLen,
		SampleRate: rec.SampleRate,
		CutoffLow:  *cutoffLow,
		CutoffHigh: *cutoffHi,
	}

	if *delays {
		vecs, err := gccphat.OfflineDelays(rec.Data, cfg)
		if err != nil {
			logger.Error("delay analysis failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("frame,tau1,tau2,tau3,tau4")
		for i, v := range vecs {
			fmt.Printf("%d,%d,%d,%d,%d\n", i, v[0], v[1], v[2], v[3])
		}
		return
	}

	solver := &gccphat.Solver{
		ArmLength:    *armLength,
		ArmRatio:     *armRatio,
		SpeedOfSound: geometry.SpeedOfSound(*tempC),
	}

	points, err := gccphat.OfflineLocate(rec.Data, cfg, solver)
	if err != nil {
		logger.Error("localization failed", "error", err)
		os.Exit(1)
	}

	fmt.Println("frame,x_m,y_m,z_m")
	for i, p := range points {
		fmt.Printf("%d,%.4f,%.4f,%.4f\n", i, p.X, p.Y, p.Z)
	}
}
