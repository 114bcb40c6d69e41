package gccphat

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/teslashibe/go-tdoa/internal/geometry"
)

// micPairs enumerates the upper-triangular microphone pairs. The first
// MicCount-1 entries are the pairs against the reference; only those are
// carried through the inverse transform.
var micPairs = buildPairs()

func buildPairs() [][2]int {
	var pairs [][2]int
	for i := 0; i < geometry.MicCount; i++ {
		for j := i + 1; j < geometry.MicCount; j++ {
			pairs = append(pairs, [2]int{i, j})
		}
	}
	return pairs
}

// OfflineConfig configures the whole-recording estimator.
type OfflineConfig struct {
	WindowLen  int // STFT window, samples; hop is WindowLen/2
	SampleRate int // Hz
	CutoffLow  int // Hz
	CutoffHigh int // Hz
}

// DefaultOfflineConfig returns the offline defaults: an 8192-sample
// analysis window with the standard band-pass.
func DefaultOfflineConfig(sampleRate int) OfflineConfig {
	return OfflineConfig{
		WindowLen:  8192,
		SampleRate: sampleRate,
		CutoffLow:  DefaultCutoffLow,
		CutoffHigh: DefaultCutoffHigh,
	}
}

// OfflineDelays computes one DelayVector per STFT frame of a full
// recording. signal holds the five microphone channels; all channels must
// have the same length of at least one window. The whole recording is
// normalized once, then each frame runs the same PHAT weighting as the
// online path: the cross-spectral matrix is formed over every microphone
// pair per frequency bin and the four reference pairs are retained before
// the inverse transform and peak pick.
func OfflineDelays(signal [][]float64, cfg OfflineConfig) ([]DelayVector, error) {
	if len(signal) != geometry.MicCount {
		return nil, fmt.Errorf("%w: got %d channels", ErrBadRecording, len(signal))
	}
	n := cfg.WindowLen
	if n <= 0 {
		return nil, fmt.Errorf("%w: window %d", ErrBadFrameLen, n)
	}
	m := len(signal[0])
	for _, ch := range signal[1:] {
		if len(ch) != m {
			return nil, fmt.Errorf("%w: ragged channel lengths", ErrBadRecording)
		}
	}
	if m < n {
		return nil, fmt.Errorf("%w: %d samples, window %d", ErrShortRecord, m, n)
	}
	if cfg.CutoffLow <= 0 {
		cfg.CutoffLow = DefaultCutoffLow
	}
	if cfg.CutoffHigh <= 0 {
		cfg.CutoffHigh = DefaultCutoffHigh
	}

	// Whole-recording normalization, shared scale across channels.
	norm := make([][]float64, geometry.MicCount)
	for i, ch := range signal {
		norm[i] = append([]float64(nil), ch...)
	}
	normalize(norm)

	hop := n / 2
	frames := 1 + (m-n)/hop
	fft := fourier.NewFFT(n)
	taper := window.Blackman(ones(n))

	bins := n/2 + 1
	frame := make([]float64, n)
	spectra := make([][]complex128, geometry.MicCount)
	for i := range spectra {
		spectra[i] = make([]complex128, bins)
	}
	crossSpectra := make([][]complex128, len(micPairs))
	for i := range crossSpectra {
		crossSpectra[i] = make([]complex128, bins)
	}
	corr := make([]float64, n)
	shifted := make([]float64, n)

	out := make([]DelayVector, frames)
	for f := 0; f < frames; f++ {
		start := f * hop
		for i := 0; i < geometry.MicCount; i++ {
			for j := 0; j < n; j++ {
				frame[j] = norm[i][start+j] * taper[j]
			}
			fft.Coefficients(spectra[i], frame)
			bandLimit(spectra[i], n, cfg.SampleRate, cfg.CutoffLow, cfg.CutoffHigh)
			phaseTransform(spectra[i])
		}

		for p, pair := range micPairs {
			a, b := spectra[pair[0]], spectra[pair[1]]
			for k := 0; k < bins; k++ {
				crossSpectra[p][k] = cmplx.Conj(a[k]) * b[k]
			}
		}

		// Reference pairs only from here on.
		var tau DelayVector
		for p := 0; p < geometry.MicCount-1; p++ {
			fft.Sequence(corr, crossSpectra[p])
			fftShift(shifted, corr)
			tau[p] = absArgmax(shifted) - hop
		}
		out[f] = tau
	}
	return out, nil
}

// OfflineLocate runs the full offline pipeline: per-frame delay
// estimation followed by the closed-form solve, producing one position
// per analysis frame. Frames whose delay configuration is degenerate for
// the solver are reported as the zero sentinel.
func OfflineLocate(signal [][]float64, cfg OfflineConfig, solver *Solver) ([]geometry.Point, error) {
	delays, err := OfflineDelays(signal, cfg)
	if err != nil {
		return nil, err
	}
	track := make([]geometry.Point, len(delays))
	for i, d := range delays {
		p, err := solver.Solve(d.Seconds(cfg.SampleRate))
		if err != nil {
			track[i] = geometry.Point{}
			continue
		}
		track[i] = p
	}
	return track, nil
}
