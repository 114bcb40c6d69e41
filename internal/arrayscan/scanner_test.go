package arrayscan

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/teslashibe/go-tdoa/internal/geometry"
)

func coarseConfig() Config {
	cfg := DefaultConfig()
	cfg.Step = 0.5
	return cfg
}

func TestScanner_CanonicalCoarseGrid(t *testing.T) {
	cfg := coarseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	points, err := New(cfg, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) == 0 {
		t.Fatal("expected surviving points")
	}

	for _, p := range points {
		if math.IsInf(p.Cond, 0) || math.IsNaN(p.Cond) {
			t.Fatalf("non-finite condition number at (%g,%g,%g)", p.X, p.Y, p.Z)
		}
		if p.Cond < 1 {
			t.Errorf("condition number %g below mathematical lower bound at (%g,%g,%g)", p.Cond, p.X, p.Y, p.Z)
		}
		src := geometry.Point{X: p.X, Y: p.Y, Z: p.Z}
		for _, mic := range cfg.Array {
			if src.Dist(mic) < MinMicDistance {
				t.Errorf("point (%g,%g,%g) inside exclusion radius of mic %+v", p.X, p.Y, p.Z, mic)
			}
		}
	}

	if !sort.SliceIsSorted(points, func(i, j int) bool { return points[i].Cond < points[j].Cond }) {
		t.Error("result must be sorted ascending by condition number")
	}
}

func TestScanner_InclusiveUpperBound(t *testing.T) {
	cfg := coarseConfig()

	points, err := New(cfg, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, p := range points {
		if p.X == 1 && p.Y == 1 && p.Z == 1 {
			found = true
			break
		}
	}
	if !found {
		t.Error("upper corner (1,1,1) missing: bounds must be inclusive")
	}
}

func TestScanner_Cancellation(t *testing.T) {
	cfg := coarseConfig()
	cfg.Step = 0.02 // big grid so cancellation lands mid-scan

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(cfg, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"step zero", func(c *Config) { c.Step = 0 }, ErrInvalidRange},
		{"step above one", func(c *Config) { c.Step = 1.5 }, ErrInvalidRange},
		{"inverted bounds", func(c *Config) { c.YLim = [2]float64{1, -1} }, ErrInvalidRange},
		{"coplanar apex", func(c *Config) { c.Array[4] = geometry.Point{X: 0.1, Y: 0.1} }, geometry.ErrCoplanarApex},
		{"mic outside tetrahedron", func(c *Config) { c.Array[3] = geometry.Point{X: 1, Y: 1, Z: 1} }, geometry.ErrOutsideTetra},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestWriteReport(t *testing.T) {
	points := []ScanPoint{
		{X: 0.1, Y: 0.2, Z: 0.3, Cond: 12.5},
		{X: -0.5, Y: 0, Z: 1, Cond: 80},
	}

	var sb strings.Builder
	if err := WriteReport(&sb, points); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "x_m,") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "12.5") {
		t.Errorf("first row missing condition number: %q", lines[1])
	}
}
