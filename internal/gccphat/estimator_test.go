package gccphat

import (
	"math"
	"math/rand"
	"testing"

	"github.com/teslashibe/go-tdoa/internal/geometry"
)

const testRate = 16000

// makeDelayedFrame builds an interleaved frame where channel i carries the
// reference waveform circularly shifted by offsets[i-1] samples.
func makeDelayedFrame(t *testing.T, n, channels int, offsets DelayVector) []float64 {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	ref := make([]float64, n)
	for i := range ref {
		ref[i] = rng.NormFloat64()
	}

	buf := make([]float64, n*channels)
	for j := 0; j < n; j++ {
		buf[j*channels] = ref[j]
		for i := 1; i < geometry.MicCount; i++ {
			src := ((j-offsets[i-1])%n + n) % n
			buf[j*channels+i] = ref[src]
		}
	}
	return buf
}

func TestEstimator_RecoversKnownOffsets(t *testing.T) {
	cfg := DefaultEstimatorConfig(testRate)
	est, err := NewEstimator(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := DelayVector{3, -5, 8, 0}
	buf := makeDelayedFrame(t, cfg.FrameLen, 8, want)

	got, err := est.Estimate(buf, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range want {
		if diff := got[i] - want[i]; diff < -1 || diff > 1 {
			t.Errorf("axis %d: got offset %d, want %d (±1)", i, got[i], want[i])
		}
	}
}

func TestEstimator_SilentFrameIsNotAnError(t *testing.T) {
	cfg := DefaultEstimatorConfig(testRate)
	est, err := NewEstimator(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buf := make([]float64, cfg.FrameLen*8)
	tau, err := est.Estimate(buf, 8)
	if err != nil {
		t.Fatalf("silent frame must not fail: %v", err)
	}

	for i, v := range tau {
		if v < -cfg.FrameLen/2 || v > cfg.FrameLen/2 {
			t.Errorf("axis %d: offset %d outside frame range", i, v)
		}
	}
}

func TestEstimator_RejectsBadInput(t *testing.T) {
	cfg := DefaultEstimatorConfig(testRate)
	est, err := NewEstimator(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := est.Estimate(make([]float64, cfg.FrameLen*4), 4); err == nil {
		t.Error("expected error for fewer than 5 channels")
	}
	if _, err := est.Estimate(make([]float64, 100), 8); err == nil {
		t.Error("expected error for short frame")
	}

	if _, err := NewEstimator(EstimatorConfig{FrameLen: 1000, SampleRate: testRate}); err == nil {
		t.Error("expected error for unsupported frame length")
	}
}

func TestOfflineDelays_PerFrameRecovery(t *testing.T) {
	const (
		win    = 1024
		frames = 5
	)
	recLen := win + (frames-1)*win/2

	rng := rand.New(rand.NewSource(7))
	ref := make([]float64, recLen)
	for i := range ref {
		ref[i] = rng.NormFloat64()
	}

	want := DelayVector{4, -3, 6, -2}
	signal := make([][]float64, geometry.MicCount)
	signal[0] = ref
	for i := 1; i < geometry.MicCount; i++ {
		ch := make([]float64, recLen)
		for j := range ch {
			src := ((j-want[i-1])%recLen + recLen) % recLen
			ch[j] = ref[src]
		}
		signal[i] = ch
	}

	cfg := OfflineConfig{WindowLen: win, SampleRate: testRate}
	got, err := OfflineDelays(signal, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != frames {
		t.Fatalf("got %d frames, want %d", len(got), frames)
	}

	for f, tau := range got {
		for i := range want {
			if diff := tau[i] - want[i]; diff < -1 || diff > 1 {
				t.Errorf("frame %d axis %d: got %d, want %d (±1)", f, i, tau[i], want[i])
			}
		}
	}
}

func TestOfflineDelays_RejectsBadRecording(t *testing.T) {
	cfg := OfflineConfig{WindowLen: 1024, SampleRate: testRate}

	if _, err := OfflineDelays(make([][]float64, 3), cfg); err == nil {
		t.Error("expected error for wrong channel count")
	}

	short := make([][]float64, geometry.MicCount)
	for i := range short {
		short[i] = make([]float64, 100)
	}
	if _, err := OfflineDelays(short, cfg); err == nil {
		t.Error("expected error for recording shorter than one window")
	}
}

func TestDelayVector_Seconds(t *testing.T) {
	d := DelayVector{16, -32, 0, 8}
	s := d.Seconds(testRate)

	want := [4]float64{16.0 / testRate, -32.0 / testRate, 0, 8.0 / testRate}
	for i := range want {
		if math.Abs(s[i]-want[i]) > 1e-12 {
			t.Errorf("axis %d: got %g, want %g", i, s[i], want[i])
		}
	}
}
