package hkusb

import (
	"math"
	"testing"

	"github.com/teslashibe/go-tdoa/internal/gccphat"
	"github.com/teslashibe/go-tdoa/internal/geometry"
	"github.com/teslashibe/go-tdoa/internal/localize"
)

// Verify both sources implement the session interface.
var (
	_ localize.Source = (*MockSource)(nil)
	_ localize.Source = (*USBSource)(nil)
)

func TestMockSource_Basic(t *testing.T) {
	source := NewMockSource()

	if err := source.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer source.Close()

	buf, err := source.Acquire(512)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf) != 512*HardwareChannels {
		t.Errorf("expected %d samples, got %d", 512*HardwareChannels, len(buf))
	}

	if !source.Healthy() {
		t.Error("expected mock to be healthy")
	}

	if source.Name() != "mock" {
		t.Errorf("expected name 'mock', got %s", source.Name())
	}

	if source.Channels() != HardwareChannels {
		t.Errorf("expected %d channels, got %d", HardwareChannels, source.Channels())
	}
}

// The mock's frames must carry delays the full pipeline can turn back
// into the configured position.
func TestMockSource_FramesLocalizeToPosition(t *testing.T) {
	source := NewMockSource()
	source.SetSampleRate(100000)

	want := geometry.Point{X: 0.8, Y: -0.5, Z: 0.6}
	source.SetPosition(want)

	if err := source.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer source.Close()

	cfg := gccphat.DefaultEstimatorConfig(source.SampleRate())
	cfg.FrameLen = 8192
	estimator, err := gccphat.NewEstimator(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buf, err := source.Acquire(cfg.FrameLen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tau, err := estimator.Estimate(buf, source.Channels())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	secs := tau.Seconds(source.SampleRate())
	got, err := gccphat.NewSolver().Solve(secs)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}

	// Whole-sample quantization at 100 kHz bounds the position error.
	if d := got.Dist(want); d > 0.15 {
		t.Errorf("localized %.3f m from the configured position (got %+v, want %+v)", d, got, want)
	}
}

func TestMockSource_SetPosition(t *testing.T) {
	source := NewMockSource()
	source.SetSampleRate(100000)

	a := source.sampleOffsetsFor(geometry.Point{X: 1, Y: 0, Z: 0.3})
	b := source.sampleOffsetsFor(geometry.Point{X: -1, Y: 0.5, Z: 0.3})

	if a == b {
		t.Error("different positions must produce different delay patterns")
	}
}

func TestMockSource_SetHealthy(t *testing.T) {
	source := NewMockSource()

	if !source.Healthy() {
		t.Error("expected healthy initially")
	}

	source.SetHealthy(false)

	if source.Healthy() {
		t.Error("expected unhealthy after SetHealthy(false)")
	}
}

func TestMockSourceWithOrbit(t *testing.T) {
	source := NewMockSourceWithOrbit()

	if err := source.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer source.Close()

	buf, err := source.Acquire(512)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf) != 512*HardwareChannels {
		t.Errorf("expected %d samples, got %d", 512*HardwareChannels, len(buf))
	}

	if source.Name() != "mock" {
		t.Errorf("expected name 'mock', got %s", source.Name())
	}
}

func TestMockSource_OffsetsMatchGeometry(t *testing.T) {
	source := NewMockSource()
	source.SetSampleRate(100000)

	pos := geometry.Point{X: 0.5, Y: 0.3, Z: 0.4}
	offsets := source.sampleOffsetsFor(pos)

	array := geometry.Canonical(gccphat.DefaultArmLength, gccphat.DefaultArmRatio)
	tau := array.Delays(pos, geometry.SpeedOfSound(gccphat.DefaultTempC))
	for i, t0 := range tau {
		want := int(math.Round(t0 * 100000))
		if offsets[i] != want {
			t.Errorf("offset %d: got %d, want %d", i, offsets[i], want)
		}
	}
}
