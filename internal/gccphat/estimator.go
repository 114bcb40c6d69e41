// Package gccphat estimates inter-microphone time delays with the
// Generalized Cross-Correlation Phase Transform and converts them to a
// source position for the canonical five-microphone cross array.
package gccphat

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/teslashibe/go-tdoa/internal/geometry"
)

// Band-pass defaults in Hz
const (
	DefaultCutoffLow  = 80
	DefaultCutoffHigh = 8000
)

// FrameLengths are the frame sizes the online pipeline may be configured
// with, in samples.
var FrameLengths = []int{512, 1024, 2048, 4096, 8192}

var (
	ErrShortFrame   = errors.New("gccphat: frame shorter than configured length")
	ErrFewChannels  = errors.New("gccphat: frame has fewer than 5 channels")
	ErrBadFrameLen  = errors.New("gccphat: frame length not a supported size")
	ErrShortRecord  = errors.New("gccphat: recording shorter than one analysis window")
	ErrBadRecording = errors.New("gccphat: recording must have exactly 5 channels")
)

// DelayVector holds the estimated lag of mics 1..4 relative to mic 0,
// in signed samples.
type DelayVector [geometry.MicCount - 1]int

// Seconds converts the vector to seconds at the given sample rate.
func (d DelayVector) Seconds(sampleRate int) [geometry.MicCount - 1]float64 {
	var s [geometry.MicCount - 1]float64
	for i, v := range d {
		s[i] = float64(v) / float64(sampleRate)
	}
	return s
}

// EstimatorConfig configures the online delay estimator.
type EstimatorConfig struct {
	FrameLen   int // samples per frame, one of FrameLengths
	SampleRate int // Hz
	CutoffLow  int // band-pass low cutoff, Hz
	CutoffHigh int // band-pass high cutoff, Hz
}

// DefaultEstimatorConfig returns the estimator defaults for a 2048-sample
// frame at the given sample rate.
func DefaultEstimatorConfig(sampleRate int) EstimatorConfig {
	return EstimatorConfig{
		FrameLen:   2048,
		SampleRate: sampleRate,
		CutoffLow:  DefaultCutoffLow,
		CutoffHigh: DefaultCutoffHigh,
	}
}

// Estimator computes per-frame GCC-PHAT delay vectors. It owns the FFT
// plan and the Blackman taper for its frame length and reuses scratch
// buffers between frames; it is not safe for concurrent use.
type Estimator struct {
	cfg EstimatorConfig

	fft   *fourier.FFT
	taper []float64

	// scratch, reused every frame
	chans   [geometry.MicCount][]float64
	spectra [geometry.MicCount][]complex128
	cross   []complex128
	corr    []float64
	shifted []float64
}

// NewEstimator creates an estimator for the configured frame length.
func NewEstimator(cfg EstimatorConfig) (*Estimator, error) {
	if !validFrameLen(cfg.FrameLen) {
		return nil, fmt.Errorf("%w: %d", ErrBadFrameLen, cfg.FrameLen)
	}
	if cfg.CutoffLow <= 0 {
		cfg.CutoffLow = DefaultCutoffLow
	}
	if cfg.CutoffHigh <= 0 {
		cfg.CutoffHigh = DefaultCutoffHigh
	}

	n := cfg.FrameLen
	e := &Estimator{
		cfg:     cfg,
		fft:     fourier.NewFFT(n),
		taper:   window.Blackman(ones(n)),
		cross:   make([]complex128, n/2+1),
		corr:    make([]float64, n),
		shifted: make([]float64, n),
	}
	for i := range e.chans {
		e.chans[i] = make([]float64, n)
		e.spectra[i] = make([]complex128, n/2+1)
	}
	return e, nil
}

// FrameLen returns the configured frame length in samples.
func (e *Estimator) FrameLen() int { return e.cfg.FrameLen }

// Estimate computes the delay vector for one interleaved multichannel
// frame. buf holds FrameLen*channels samples; the first five channels are
// taken as the microphone signals, channel 0 being the reference. Silent
// frames are not an error: the epsilon guard keeps the arithmetic finite
// and some peak is reported.
func (e *Estimator) Estimate(buf []float64, channels int) (DelayVector, error) {
	n := e.cfg.FrameLen
	if channels < geometry.MicCount {
		return DelayVector{}, fmt.Errorf("%w: got %d", ErrFewChannels, channels)
	}
	if len(buf) < n*channels {
		return DelayVector{}, fmt.Errorf("%w: got %d samples, want %d", ErrShortFrame, len(buf)/channels, n)
	}

	e.deinterleave(buf, channels)
	normalize(e.chans[:])

	for i := 0; i < geometry.MicCount; i++ {
		for j := 0; j < n; j++ {
			e.chans[i][j] *= e.taper[j]
		}
		e.fft.Coefficients(e.spectra[i], e.chans[i])
		bandLimit(e.spectra[i], n, e.cfg.SampleRate, e.cfg.CutoffLow, e.cfg.CutoffHigh)
		phaseTransform(e.spectra[i])
	}

	var tau DelayVector
	ref := e.spectra[0]
	for i := 1; i < geometry.MicCount; i++ {
		for k := range e.cross {
			e.cross[k] = cmplx.Conj(ref[k]) * e.spectra[i][k]
		}
		e.fft.Sequence(e.corr, e.cross)
		fftShift(e.shifted, e.corr)
		tau[i-1] = absArgmax(e.shifted) - n/2
	}
	return tau, nil
}

func (e *Estimator) deinterleave(buf []float64, channels int) {
	n := e.cfg.FrameLen
	for j := 0; j < n; j++ {
		base := j * channels
		for i := 0; i < geometry.MicCount; i++ {
			e.chans[i][j] = buf[base+i]
		}
	}
}

// normalize removes each channel's mean and scales all channels by the
// maximum absolute sample across the whole set, preserving the relative
// amplitudes between microphones.
func normalize(chans [][]float64) {
	var peak float64
	for _, ch := range chans {
		var mean float64
		for _, v := range ch {
			mean += v
		}
		mean /= float64(len(ch))
		for j := range ch {
			ch[j] -= mean
			if a := math.Abs(ch[j]); a > peak {
				peak = a
			}
		}
	}
	scale := 1 / (peak + geometry.Epsilon)
	for _, ch := range chans {
		for j := range ch {
			ch[j] *= scale
		}
	}
}

// bandLimit zeros spectral bins below the low cutoff and at or above the
// high cutoff.
func bandLimit(spec []complex128, n, sampleRate, lowHz, highHz int) {
	low := lowHz * n / sampleRate
	high := highHz * n / sampleRate
	for k := 0; k < low && k < len(spec); k++ {
		spec[k] = 0
	}
	for k := high; k < len(spec); k++ {
		spec[k] = 0
	}
}

// phaseTransform whitens the spectrum to unit magnitude, keeping phase only.
func phaseTransform(spec []complex128) {
	for k, c := range spec {
		m := math.Hypot(real(c), imag(c))
		if m < geometry.Epsilon {
			m = geometry.Epsilon
		}
		spec[k] = complex(real(c)/m, imag(c)/m)
	}
}

// fftShift rotates the sequence so that zero lag sits at index len/2.
func fftShift(dst, src []float64) {
	n := len(src)
	half := n / 2
	copy(dst, src[half:])
	copy(dst[n-half:], src[:half])
}

// absArgmax returns the index of the first maximum of |x|.
func absArgmax(x []float64) int {
	best, bestAbs := 0, math.Abs(x[0])
	for i := 1; i < len(x); i++ {
		if a := math.Abs(x[i]); a > bestAbs {
			best, bestAbs = i, a
		}
	}
	return best
}

func validFrameLen(n int) bool {
	for _, l := range FrameLengths {
		if n == l {
			return true
		}
	}
	return false
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
