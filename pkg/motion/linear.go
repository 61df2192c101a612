package motion

import (
	"math"

	"deltapi/pkg/sched"
)

// linearStepper drives an axis whose coordinate is proportional to the
// Cartesian trajectory parameter: any axis of a Cartesian machine, and
// the extruder on every machine. A step of s millimeters from the start
// occurs at t = s/v.
type linearStepper struct {
	stepperBase
	mmStep float64
	v      float64
	sTotal int
}

func newLinearStepper(axis int, pin sched.Pin, mmStep, v float64) *linearStepper {
	s := &linearStepper{
		stepperBase: stepperBase{axis: axis, pin: pin},
		mmStep:      mmStep,
		v:           v,
	}
	s.NextStep()
	return s
}

func (s *linearStepper) testDir(offset float64) float64 {
	if s.v == 0 {
		return math.NaN()
	}
	return offset / s.v
}

// NextStep implements AxisStepper.
func (s *linearStepper) NextStep() {
	negTime := s.testDir(float64(s.sTotal-1) * s.mmStep)
	posTime := s.testDir(float64(s.sTotal+1) * s.mmStep)
	s.sTotal += s.choose(negTime, posTime)
}
