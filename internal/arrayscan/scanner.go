// Package arrayscan grades candidate microphone geometries by scanning a
// search volume and computing a sensitivity-matrix condition number at
// each grid point. Lower condition numbers mean better-conditioned
// position recovery at that point.
package arrayscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-tdoa/internal/geometry"
)

// MinMicDistance is the near-field exclusion radius in meters. Grid
// points closer than this to any microphone are skipped.
const MinMicDistance = 0.05

var (
	ErrInvalidRange = errors.New("arrayscan: invalid scan range")
	ErrNoResult     = errors.New("arrayscan: no grid point survived the scan")
)

// Config describes one scan: a validated array, per-axis inclusive
// bounds and the grid step.
type Config struct {
	Array geometry.Array

	XLim [2]float64
	YLim [2]float64
	ZLim [2]float64
	Step float64
}

// DefaultConfig returns the canonical array scanned over [-1,1]^3 with a
// 2 cm step.
func DefaultConfig() Config {
	return Config{
		Array: geometry.Canonical(0.32, 0.4),
		XLim:  [2]float64{-1, 1},
		YLim:  [2]float64{-1, 1},
		ZLim:  [2]float64{-1, 1},
		Step:  0.02,
	}
}

// Validate checks the scan range and the array topology. The scanner
// itself assumes a valid config and does not re-derive these rules.
func (c Config) Validate() error {
	if c.Step <= 0 || c.Step > 1 {
		return fmt.Errorf("%w: step %g not in (0, 1]", ErrInvalidRange, c.Step)
	}
	for _, lim := range [][2]float64{c.XLim, c.YLim, c.ZLim} {
		if lim[0] > lim[1] {
			return fmt.Errorf("%w: lower bound %g above upper %g", ErrInvalidRange, lim[0], lim[1])
		}
	}
	if err := c.Array.Validate(); err != nil {
		return err
	}
	return nil
}

// ScanPoint is one surviving grid point with its condition number.
type ScanPoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Cond float64 `json:"cond"`
}

// Scanner walks the grid for one config. Cancellation is cooperative:
// the context is checked once per grid point.
type Scanner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a scanner. The config must already have passed Validate.
func New(cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{cfg: cfg, logger: logger}
}

// Run scans the grid and returns the surviving points sorted ascending
// by condition number. A cancelled context returns the context error;
// an empty result returns ErrNoResult.
func (s *Scanner) Run(ctx context.Context) ([]ScanPoint, error) {
	array := s.cfg.Array
	step := s.cfg.Step

	// Columns 0-2 of Q are fixed direction vectors derived once from the
	// array; only the differential-range column varies per point.
	q := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		d := array[i+1].Sub(array[0])
		q.Set(i, 0, d.X)
		q.Set(i, 1, d.Y)
		q.Set(i, 2, d.Z)
	}

	xs := gridAxis(s.cfg.XLim, step)
	ys := gridAxis(s.cfg.YLim, step)
	zs := gridAxis(s.cfg.ZLim, step)

	s.logger.Info("array scan started",
		"grid_points", len(xs)*len(ys)*len(zs),
		"step", step,
	)

	var results []ScanPoint
	visited := 0
	for _, x := range xs {
		for _, y := range ys {
			for _, z := range zs {
				if err := ctx.Err(); err != nil {
					s.logger.Info("array scan cancelled",
						"visited", visited,
						"kept", len(results),
					)
					return nil, err
				}
				visited++

				p := geometry.Point{X: x, Y: y, Z: z}
				dist := array.Distances(p)
				if minOf(dist[:]) < MinMicDistance {
					continue
				}

				for i := 0; i < 4; i++ {
					q.Set(i, 3, dist[0]-dist[i+1])
				}

				cond := mat.Cond(q, math.Inf(1))
				if math.IsInf(cond, 0) || math.IsNaN(cond) {
					continue
				}

				results = append(results, ScanPoint{X: x, Y: y, Z: z, Cond: cond})
			}
		}
	}

	if len(results) == 0 {
		return nil, ErrNoResult
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Cond < results[j].Cond
	})

	s.logger.Info("array scan finished",
		"visited", visited,
		"kept", len(results),
		"best_cond", results[0].Cond,
	)

	return results, nil
}

// gridAxis enumerates lim[0]..lim[1] inclusive; the half-step tolerance
// keeps the upper bound in the grid despite accumulation error.
func gridAxis(lim [2]float64, step float64) []float64 {
	var axis []float64
	for v := lim[0]; v <= lim[1]+0.5*step; v += step {
		axis = append(axis, v)
	}
	return axis
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
