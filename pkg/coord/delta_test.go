package coord

import (
	"math"
	"testing"
)

func testDeltaMap(t *testing.T) *DeltaMap {
	t.Helper()
	m, err := NewDeltaMap(DeltaConfig{
		Radius:      100,
		RodLength:   250,
		BuildHeight: 200,
		PrintRadius: 90,
		MMSteps:     [4]float64{0.01, 0.01, 0.01, 0.005},
		HomeRate:    10,
	}, nil)
	if err != nil {
		t.Fatalf("NewDeltaMap: %v", err)
	}
	return m
}

func mechanicalFor(m *DeltaMap, x, y, z float64) []int {
	steps := make([]int, 4)
	for i := 0; i < 3; i++ {
		steps[i] = roundSteps(m.CarriageHeight(i, x, y, z), m.MMSteps(i))
	}
	return steps
}

func TestDeltaRoundTrip(t *testing.T) {
	m := testDeltaMap(t)
	points := []Vec3{
		{0, 0, 0},
		{0, 0, 100},
		{50, 0, 20},
		{-30, 40, 150},
		{10, -80, 5},
	}
	for _, p := range points {
		steps := mechanicalFor(m, p.X, p.Y, p.Z)
		got := m.XYZEFromMechanical(steps)
		// Quantization bounds the error to about one step per carriage.
		tol := 3 * m.MMSteps(0) * 10 // steep spots amplify a carriage step
		if math.Abs(got.X-p.X) > tol || math.Abs(got.Y-p.Y) > tol || math.Abs(got.Z-p.Z) > tol {
			t.Errorf("round trip (%v) -> (%.3f, %.3f, %.3f)", p, got.X, got.Y, got.Z)
		}
	}
}

func TestDeltaCenterGeometry(t *testing.T) {
	m := testDeltaMap(t)
	// At the center all carriages sit at z + sqrt(L^2 - r^2).
	want := 50 + math.Sqrt(250*250-100*100)
	for axis := 0; axis < 3; axis++ {
		got := m.CarriageHeight(axis, 0, 0, 50)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("carriage %d height = %f, want %f", axis, got, want)
		}
	}
}

func TestDeltaTowerApproach(t *testing.T) {
	m := testDeltaMap(t)
	// Tower A is at (0, r). Moving toward it raises the A carriage
	// required for the same z, and by symmetry B and C agree.
	center := m.CarriageHeight(DeltaAxisA, 0, 0, 0)
	nearA := m.CarriageHeight(DeltaAxisA, 0, 50, 0)
	if nearA <= center {
		t.Errorf("approaching tower A should raise sqrt term: %f <= %f", nearA, center)
	}
	b := m.CarriageHeight(DeltaAxisB, 0, 50, 0)
	c := m.CarriageHeight(DeltaAxisC, 0, 50, 0)
	if math.Abs(b-c) > 1e-9 {
		t.Errorf("B/C symmetric about the y axis: %f vs %f", b, c)
	}
}

func TestDeltaFiniteForAnyMechanical(t *testing.T) {
	m := testDeltaMap(t)
	cases := [][]int{
		{0, 0, 0, 0},
		{100000, 0, 0, 0},
		{-50000, 20000, 100000, 42},
		{1, 2, 3, 4},
	}
	for _, steps := range cases {
		p := m.XYZEFromMechanical(steps)
		for _, v := range []float64{p.X, p.Y, p.Z, p.E} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("XYZEFromMechanical(%v) not finite: %+v", steps, p)
			}
		}
	}
}

func TestDeltaHomePosition(t *testing.T) {
	m := testDeltaMap(t)
	home := m.HomePosition([]int{0, 0, 0, 77})
	got := m.XYZEFromMechanical(home)
	if math.Abs(got.X) > 0.05 || math.Abs(got.Y) > 0.05 || math.Abs(got.Z-200) > 0.05 {
		t.Errorf("home position maps to (%.3f, %.3f, %.3f), want (0, 0, 200)", got.X, got.Y, got.Z)
	}
	if home[3] != 77 {
		t.Errorf("home must carry over the extruder count, got %d", home[3])
	}
}

func TestDeltaBound(t *testing.T) {
	m := testDeltaMap(t)

	in := Position{X: 10, Y: 10, Z: 50}
	if got := m.Bound(in); got != in {
		t.Errorf("in-envelope position changed: %+v", got)
	}

	out := m.Bound(Position{X: 200, Y: 0, Z: -10})
	if math.Hypot(out.X, out.Y) > 90+1e-9 {
		t.Errorf("xy not clamped to print radius: %+v", out)
	}
	if out.Z != 0 {
		t.Errorf("z not clamped to 0: %+v", out)
	}

	top := m.Bound(Position{Z: 500})
	if top.Z != 200 {
		t.Errorf("z not clamped to build height: %+v", top)
	}
}

func TestDeltaConfigValidation(t *testing.T) {
	bad := []DeltaConfig{
		{Radius: 0, RodLength: 250, PrintRadius: 90, MMSteps: [4]float64{1, 1, 1, 1}},
		{Radius: 100, RodLength: 90, PrintRadius: 80, MMSteps: [4]float64{1, 1, 1, 1}},
		{Radius: 100, RodLength: 250, PrintRadius: 0, MMSteps: [4]float64{1, 1, 1, 1}},
		{Radius: 100, RodLength: 250, PrintRadius: 90, MMSteps: [4]float64{1, 0, 1, 1}},
	}
	for i, cfg := range bad {
		if _, err := NewDeltaMap(cfg, nil); err == nil {
			t.Errorf("config %d should be rejected", i)
		}
	}
}

func TestCartesianMap(t *testing.T) {
	m := NewCartesianMap(
		[4]float64{0.1, 0.1, 0.1, 0.05},
		Position{X: 0, Y: 0, Z: 0},
		Position{X: 200, Y: 200, Z: 180},
		10, nil,
	)
	p := m.XYZEFromMechanical([]int{100, 50, 10, 20})
	want := Position{X: 10, Y: 5, Z: 1, E: 1}
	if p != want {
		t.Errorf("XYZEFromMechanical = %+v, want %+v", p, want)
	}

	clamped := m.Bound(Position{X: 300, Y: -5, Z: 50})
	if clamped.X != 200 || clamped.Y != 0 || clamped.Z != 50 {
		t.Errorf("Bound = %+v", clamped)
	}
}

func TestPlaneLeveler(t *testing.T) {
	// A bed tilted by 0.01 in x: z = 0.01*x.
	l, ok := NewPlaneLeveler(Vec3{0, 0, 0}, Vec3{100, 0, 1}, Vec3{0, 100, 0})
	if !ok {
		t.Fatal("plane should be constructible")
	}
	got := l.Level(Position{X: 50, Y: 50, Z: 10})
	if math.Abs(got.Z-10.5) > 1e-9 {
		t.Errorf("leveled z = %f, want 10.5", got.Z)
	}

	if _, ok := NewPlaneLeveler(Vec3{0, 0, 0}, Vec3{1, 0, 0}, Vec3{2, 0, 0}); ok {
		t.Error("colinear probe points must be rejected")
	}
}
