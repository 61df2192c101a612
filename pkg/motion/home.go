package motion

import (
	"math"

	"deltapi/pkg/sched"
)

// homeStepper steps an axis at a fixed rate toward its endstop and
// terminates once the endstop reads triggered. The planner signals
// homing completion when every home generator has exhausted.
type homeStepper struct {
	stepperBase
	interval  float64
	triggered func() bool
}

func newHomeStepper(axis int, pin sched.Pin, mmStep, rate float64, dir Direction, triggered func() bool) *homeStepper {
	s := &homeStepper{
		stepperBase: stepperBase{axis: axis, pin: pin, dir: dir},
		interval:    mmStep / rate,
		triggered:   triggered,
	}
	s.NextStep()
	return s
}

// NextStep implements AxisStepper. The endstop is consulted before each
// step; homing disables move buffering so the switch really is sampled
// between steps.
func (s *homeStepper) NextStep() {
	if s.triggered() {
		s.time = math.NaN()
		return
	}
	s.time += s.interval
}
