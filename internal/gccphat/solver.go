package gccphat

import (
	"errors"
	"math"

	"github.com/teslashibe/go-tdoa/internal/geometry"
)

// Canonical array constants
const (
	DefaultArmLength = 0.32 // m
	DefaultArmRatio  = 0.4
	DefaultTempC     = 22.0 // ambient, for the speed of sound
)

// DefaultMinPivot is the smallest |pivot| (seconds) the solver accepts.
// The pivot is a delay-scale quantity; values near zero put the source on
// a surface where the closed form blows up.
const DefaultMinPivot = 1e-7

// ErrDegenerate is returned when the delay configuration sits too close
// to the singular surface of the closed-form solve.
var ErrDegenerate = errors.New("gccphat: degenerate delay configuration")

// Solver converts a delay vector in seconds to a 3D position using the
// closed-form algebra for the canonical cross array. It is specialized to
// that topology and must not be used with arbitrary geometries.
type Solver struct {
	ArmLength    float64 // L, meters
	ArmRatio     float64 // r
	SpeedOfSound float64 // c, m/s
	MinPivot     float64 // reject threshold for the shared denominator, seconds
}

// NewSolver returns a solver for the default canonical array at the
// default ambient temperature.
func NewSolver() *Solver {
	return &Solver{
		ArmLength:    DefaultArmLength,
		ArmRatio:     DefaultArmRatio,
		SpeedOfSound: geometry.SpeedOfSound(DefaultTempC),
		MinPivot:     DefaultMinPivot,
	}
}

// Solve returns the source position for four relative delays in seconds.
// The shared denominator tau3 - r*tau1 - r*tau2 is checked against
// MinPivot before the epsilon guard is applied; configurations below the
// threshold return ErrDegenerate rather than an unbounded estimate.
func (s *Solver) Solve(tau [geometry.MicCount - 1]float64) (geometry.Point, error) {
	L := s.ArmLength
	r := s.ArmRatio
	c := s.SpeedOfSound

	pivot := tau[2] - r*tau[0] - r*tau[1]
	if math.Abs(pivot) < s.MinPivot {
		return geometry.Point{}, ErrDegenerate
	}
	det := pivot + geometry.Epsilon

	t21 := L*L - (c*tau[0])*(c*tau[0])
	t31 := L*L - (c*tau[1])*(c*tau[1])
	t41 := 2*(r*L)*(r*L) - (c*tau[2])*(c*tau[2])
	t51 := L*L - (c*tau[3])*(c*tau[3])

	x := (tau[2]-r*tau[1])*t21 + r*tau[0]*t31 - tau[0]*t41
	y := (tau[2]-r*tau[0])*t31 + r*tau[1]*t21 - tau[1]*t41
	z := 2*r*L*L*tau[3]*(1-r) +
		c*c*tau[3]*(-r*tau[0]*tau[0]-r*tau[1]*tau[1]+tau[2]*tau[2]) +
		det*t51

	scale := 1 / (2 * L * det)
	return geometry.Point{X: x * scale, Y: y * scale, Z: z * scale}, nil
}
