package geometry

import (
	"errors"
	"math"
	"testing"
)

func TestCanonical_IsValid(t *testing.T) {
	a := Canonical(0.32, 0.4)
	if err := a.Validate(); err != nil {
		t.Errorf("canonical array must validate: %v", err)
	}
}

func TestValidate_RejectsCoplanarApex(t *testing.T) {
	a := Canonical(0.32, 0.4)
	a[4] = Point{X: 0.1, Y: 0.1, Z: 0} // into the base plane

	if err := a.Validate(); !errors.Is(err, ErrCoplanarApex) {
		t.Errorf("expected ErrCoplanarApex, got %v", err)
	}
}

func TestValidate_RejectsCollinearBase(t *testing.T) {
	a := Canonical(0.32, 0.4)
	a[2] = Point{X: 0.64, Y: 0, Z: 0} // on the first arm

	if err := a.Validate(); !errors.Is(err, ErrCollinearBase) {
		t.Errorf("expected ErrCollinearBase, got %v", err)
	}
}

func TestValidate_RejectsMicOutsideTetrahedron(t *testing.T) {
	a := Canonical(0.32, 0.4)
	a[3] = Point{X: 0.5, Y: 0.5, Z: 0.5} // well outside

	if err := a.Validate(); !errors.Is(err, ErrOutsideTetra) {
		t.Errorf("expected ErrOutsideTetra, got %v", err)
	}
}

func TestValidate_AcceptsBoundaryMic(t *testing.T) {
	a := Canonical(0.32, 0.4)
	a[3] = Point{X: 0.16, Y: 0.16, Z: 0} // on a face of the tetrahedron

	if err := a.Validate(); err != nil {
		t.Errorf("boundary placement within tolerance must validate: %v", err)
	}
}

func TestDifferentialRanges_SignConvention(t *testing.T) {
	a := Canonical(0.32, 0.4)
	p := Point{X: 10, Y: 0, Z: 0} // far along the first arm

	dr := a.DifferentialRanges(p)
	// Mic 1 sits on that arm, closer to the source than the reference.
	if dr[0] <= 0 {
		t.Errorf("expected positive differential range for mic 1, got %g", dr[0])
	}

	tau := a.Delays(p, SpeedOfSound(22))
	if tau[0] >= 0 {
		t.Errorf("mic 1 hears the source before the reference, want negative lag, got %g", tau[0])
	}
}

func TestPointOps(t *testing.T) {
	p := Point{X: 3, Y: 4, Z: 0}
	if n := p.Norm(); n != 5 {
		t.Errorf("norm: got %g, want 5", n)
	}

	q := Point{X: 3, Y: 0, Z: 0}
	if d := p.Dist(q); d != 4 {
		t.Errorf("dist: got %g, want 4", d)
	}
}

func TestSpeedOfSound_Monotonic(t *testing.T) {
	if !(SpeedOfSound(30) > SpeedOfSound(0)) {
		t.Error("speed of sound must increase with temperature")
	}
	if math.IsNaN(SpeedOfSound(-40)) {
		t.Error("unexpected NaN for cold temperatures")
	}
}
