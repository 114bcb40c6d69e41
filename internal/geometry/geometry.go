// Package geometry defines the microphone array layout and its validity rules
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Epsilon guards divisions and degeneracy checks throughout the pipeline
const Epsilon = 1e-8

// MicCount is the number of microphones in the array.
// Mic 0 is the reference microphone.
const MicCount = 5

// Validation errors
var (
	ErrCollinearBase   = errors.New("mics 0,1,2 are collinear and do not define a plane")
	ErrCoplanarApex    = errors.New("mic 4 lies in the plane of mics 0,1,2")
	ErrOutsideTetra    = errors.New("mic 3 lies outside the tetrahedron of mics 0,1,2,4")
	ErrDegenerateTetra = errors.New("tetrahedron of mics 0,1,2,4 is degenerate")
)

// Point is a position in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y, p.Z - q.Z}
}

// Norm returns the Euclidean length of p taken as a vector.
func (p Point) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return p.Sub(q).Norm()
}

func cross(a, b Point) Point {
	return Point{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

func dot(a, b Point) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// Array is an ordered set of five microphone positions.
// Index 0 is the reference microphone.
type Array [MicCount]Point

// Canonical returns the cross layout the closed-form solver is specialized
// to: reference at the origin, two orthogonal arms of length armLength, a
// diagonal mic scaled by armRatio and one mic on the vertical axis.
func Canonical(armLength, armRatio float64) Array {
	return Array{
		{0, 0, 0},
		{armLength, 0, 0},
		{0, armLength, 0},
		{armRatio * armLength, armRatio * armLength, 0},
		{0, 0, armLength},
	}
}

// Validate checks the generic topology rules used by the geometry scanner:
// mics 0,1,2 must define a plane, mic 4 must not lie on it, and mic 3 must
// lie inside (or on the boundary of, within tolerance) the tetrahedron
// formed by mics 0,1,2,4.
func (a Array) Validate() error {
	v1 := a[1].Sub(a[0])
	v2 := a[2].Sub(a[0])
	normal := cross(v1, v2)
	normLen := normal.Norm()
	if normLen <= Epsilon {
		return ErrCollinearBase
	}

	v4 := a[4].Sub(a[0])
	if math.Abs(dot(normal, v4)) <= Epsilon*math.Max(1, normLen) {
		return ErrCoplanarApex
	}

	// Barycentric test: solve a[3] = a[0] + u*v1 + v*v2 + w*v4.
	m := mat.NewDense(3, 3, []float64{
		v1.X, v2.X, v4.X,
		v1.Y, v2.Y, v4.Y,
		v1.Z, v2.Z, v4.Z,
	})
	if math.Abs(mat.Det(m)) <= Epsilon {
		return ErrDegenerateTetra
	}

	p := a[3].Sub(a[0])
	var uvw mat.VecDense
	if err := uvw.SolveVec(m, mat.NewVecDense(3, []float64{p.X, p.Y, p.Z})); err != nil {
		return fmt.Errorf("tetrahedron solve: %w", err)
	}

	u, v, w := uvw.AtVec(0), uvw.AtVec(1), uvw.AtVec(2)
	tol := Epsilon
	if u < -tol || v < -tol || w < -tol || u+v+w > 1+tol {
		return ErrOutsideTetra
	}

	return nil
}

// Distances returns the Euclidean distance from p to each microphone.
func (a Array) Distances(p Point) [MicCount]float64 {
	var d [MicCount]float64
	for i, mic := range a {
		d[i] = mic.Dist(p)
	}
	return d
}

// DifferentialRanges returns dist(mic0) - dist(mic i) for i = 1..4, the
// range differences a TDoA measurement observes for a source at p.
func (a Array) DifferentialRanges(p Point) [MicCount - 1]float64 {
	d := a.Distances(p)
	var dr [MicCount - 1]float64
	for i := 0; i < MicCount-1; i++ {
		dr[i] = d[0] - d[i+1]
	}
	return dr
}

// Delays returns the ideal arrival-time lags of mics 1..4 relative to mic 0
// for a source at p, in seconds. A positive lag means the signal reaches
// mic i after the reference.
func (a Array) Delays(p Point, speedOfSound float64) [MicCount - 1]float64 {
	dr := a.DifferentialRanges(p)
	var tau [MicCount - 1]float64
	for i := range dr {
		tau[i] = -dr[i] / speedOfSound
	}
	return tau
}

// SpeedOfSound returns the speed of sound in m/s for an ambient
// temperature in Celsius, using the simplified correction
// c = 331.45*sqrt(1 + T/273.16).
func SpeedOfSound(tempC float64) float64 {
	return 331.45 * math.Sqrt(1+tempC/273.16)
}
