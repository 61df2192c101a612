package motion

import (
	"deltapi/pkg/coord"
	"deltapi/pkg/sched"
)

// GeneratorFactory builds the per-axis step generators for each motion
// kind. The concrete factory is chosen once, at machine construction
// time, from the declared kinematics; dispatch inside a move is plain
// method calls on the prebuilt generators.
type GeneratorFactory interface {
	// Linear builds generators for a constant-velocity line starting
	// at mechanical position cur.
	Linear(cur []int, vx, vy, vz, ve float64) []AxisStepper

	// Arc builds generators for a constant-angular-velocity arc around
	// center with unit in-plane basis u, v.
	Arc(cur []int, center coord.Vec3, u, v coord.Vec3, arcRad, angVel, ve float64) []AxisStepper

	// Home builds generators that drive each homing axis into its
	// endstop at the given rate.
	Home(rate float64) []AxisStepper
}

// EndstopReader reports whether an axis endstop currently reads
// triggered.
type EndstopReader func() bool

// DeltaGenerators builds steppers for a rail-based delta machine:
// three carriages plus a linear extruder.
type DeltaGenerators struct {
	Map      *coord.DeltaMap
	StepPins [4]sched.Pin
	Endstops [3]EndstopReader
}

// Linear implements GeneratorFactory.
func (g *DeltaGenerators) Linear(cur []int, vx, vy, vz, ve float64) []AxisStepper {
	steppers := make([]AxisStepper, 0, 4)
	for axis := 0; axis < 3; axis++ {
		steppers = append(steppers, newLinearDeltaStepper(axis, g.StepPins[axis], g.Map, cur, vx, vy, vz))
	}
	steppers = append(steppers, newLinearStepper(coord.DeltaAxisE, g.StepPins[3], g.Map.MMSteps(3), ve))
	return steppers
}

// Arc implements GeneratorFactory.
func (g *DeltaGenerators) Arc(cur []int, center coord.Vec3, u, v coord.Vec3, arcRad, angVel, ve float64) []AxisStepper {
	steppers := make([]AxisStepper, 0, 4)
	for axis := 0; axis < 3; axis++ {
		steppers = append(steppers, newDeltaArcStepper(axis, g.StepPins[axis], g.Map, cur, center, u, v, arcRad, angVel))
	}
	steppers = append(steppers, newLinearStepper(coord.DeltaAxisE, g.StepPins[3], g.Map.MMSteps(3), ve))
	return steppers
}

// Home implements GeneratorFactory.
func (g *DeltaGenerators) Home(rate float64) []AxisStepper {
	steppers := make([]AxisStepper, 0, 3)
	for axis := 0; axis < 3; axis++ {
		// Carriages ride up into the top endstops.
		steppers = append(steppers, newHomeStepper(axis, g.StepPins[axis], g.Map.MMSteps(axis), rate, Forward, g.Endstops[axis]))
	}
	return steppers
}

// CartesianGenerators builds directly driven steppers for a Cartesian
// machine.
type CartesianGenerators struct {
	Map      *coord.CartesianMap
	StepPins [4]sched.Pin
	Endstops [3]EndstopReader
}

// Linear implements GeneratorFactory.
func (g *CartesianGenerators) Linear(cur []int, vx, vy, vz, ve float64) []AxisStepper {
	vels := [4]float64{vx, vy, vz, ve}
	steppers := make([]AxisStepper, 0, 4)
	for axis := 0; axis < 4; axis++ {
		steppers = append(steppers, newLinearStepper(axis, g.StepPins[axis], g.Map.MMSteps(axis), vels[axis]))
	}
	return steppers
}

// Arc implements GeneratorFactory.
func (g *CartesianGenerators) Arc(cur []int, center coord.Vec3, u, v coord.Vec3, arcRad, angVel, ve float64) []AxisStepper {
	centers := [3]float64{center.X, center.Y, center.Z}
	us := [3]float64{u.X, u.Y, u.Z}
	vs := [3]float64{v.X, v.Y, v.Z}
	steppers := make([]AxisStepper, 0, 4)
	for axis := 0; axis < 3; axis++ {
		m0 := float64(cur[axis]) * g.Map.MMSteps(axis)
		steppers = append(steppers, newCartesianArcStepper(axis, g.StepPins[axis],
			g.Map.MMSteps(axis), m0, centers[axis], us[axis], vs[axis], arcRad, angVel))
	}
	steppers = append(steppers, newLinearStepper(3, g.StepPins[3], g.Map.MMSteps(3), ve))
	return steppers
}

// Home implements GeneratorFactory.
func (g *CartesianGenerators) Home(rate float64) []AxisStepper {
	steppers := make([]AxisStepper, 0, 3)
	for axis := 0; axis < 3; axis++ {
		// Axes seek their minimum-position switches.
		steppers = append(steppers, newHomeStepper(axis, g.StepPins[axis], g.Map.MMSteps(axis), rate, Backward, g.Endstops[axis]))
	}
	return steppers
}
