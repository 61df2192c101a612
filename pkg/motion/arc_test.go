package motion

import (
	"math"
	"testing"

	"deltapi/pkg/coord"
)

func TestSolveSinCos(t *testing.T) {
	// 2*sin(phi) + 1*cos(phi) - 1.5 = 0 has two real solutions.
	a, b, p := 2.0, 1.0, -1.5
	phi1, phi2 := solveSinCos(a, b, p)
	for _, phi := range []float64{phi1, phi2} {
		if math.IsNaN(phi) {
			t.Fatal("expected real solutions")
		}
		if got := a*math.Sin(phi) + b*math.Cos(phi) + p; math.Abs(got) > 1e-9 {
			t.Errorf("phi=%f does not satisfy equation: residual %g", phi, got)
		}
	}

	// a^2+b^2 < p^2: no real solution.
	phi1, phi2 = solveSinCos(0.5, 0.5, 2)
	if !math.IsNaN(phi1) || !math.IsNaN(phi2) {
		t.Error("unreachable offset should produce NaN")
	}
}

func TestCartesianArcStepperQuarterCircle(t *testing.T) {
	// Quarter circle of radius 10 around the origin in the xy plane,
	// starting at (10, 0): x runs 10 -> 0, y runs 0 -> 10.
	u := coord.Vec3{X: 1}
	v := coord.Vec3{Y: 1}
	angVel := 1.0 // rad/s
	mmStep := 0.05

	x := newCartesianArcStepper(0, 1, mmStep, 10, 0, u.X, v.X, 10, angVel)
	y := newCartesianArcStepper(1, 2, mmStep, 0, 0, u.Y, v.Y, 10, angVel)

	// The x axis moves backward from the start; y forward.
	if x.Direction() != Backward {
		t.Errorf("x first step direction = %v, want Backward", x.Direction())
	}
	if y.Direction() != Forward {
		t.Errorf("y first step direction = %v, want Forward", y.Direction())
	}

	// Walk the y axis across the quarter (t in (0, pi/2)) and check
	// each step time against y(t) = 10*sin(t).
	total := 0
	var prev float64
	for i := 0; i < 400 && !math.IsNaN(y.Time()); i++ {
		if y.Time() <= prev {
			t.Fatalf("y times not increasing at step %d", i)
		}
		prev = y.Time()
		if prev > math.Pi/2 {
			break
		}
		total += int(y.Direction())
		want := 10 * math.Sin(prev)
		got := float64(total) * mmStep
		if math.Abs(got-want) > 1e-6 {
			t.Fatalf("y step %d: at %f, arc says %f", i, got, want)
		}
		y.NextStep()
	}
	if total < 190 {
		t.Errorf("y should accumulate ~200 steps over the quarter, got %d", total)
	}
}

func TestDeltaArcStepperSatisfiesConstraint(t *testing.T) {
	m := testDelta(t)
	// A radius-30 arc around (0, 10) at z=100, starting at (30, 10).
	center := coord.Vec3{X: 0, Y: 10, Z: 100}
	u := coord.Vec3{X: 1}
	v := coord.Vec3{Y: 1}
	arcRad := 30.0
	angVel := 2.0

	cur := deltaMechanical(m, center.X+arcRad, center.Y, center.Z)
	axis := coord.DeltaAxisA
	s := newDeltaArcStepper(axis, 1, m, cur, center, u, v, arcRad, angVel)
	m0 := float64(cur[axis]) * m.MMSteps(axis)

	total := 0
	var prev float64
	for i := 0; i < 2000 && !math.IsNaN(s.Time()); i++ {
		if s.Time() <= prev {
			t.Fatalf("times not increasing at step %d", i)
		}
		prev = s.Time()
		if prev > math.Pi/angVel { // half turn
			break
		}
		total += int(s.Direction())
		phi := angVel * prev
		x := center.X + arcRad*(math.Cos(phi)*u.X+math.Sin(phi)*v.X)
		y := center.Y + arcRad*(math.Cos(phi)*u.Y+math.Sin(phi)*v.Y)
		z := center.Z + arcRad*(math.Cos(phi)*u.Z+math.Sin(phi)*v.Z)
		want := m.CarriageHeight(axis, x, y, z)
		got := m0 + float64(total)*m.MMSteps(axis)
		if math.Abs(got-want) > 1e-3 {
			t.Fatalf("step %d: carriage at %f, constraint says %f (t=%f)", i, got, want, prev)
		}
		s.NextStep()
	}
	if total == 0 {
		t.Fatal("no steps generated along the arc")
	}
}
