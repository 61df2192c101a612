// Package motion turns Cartesian trajectories into per-axis step event
// streams. Each AxisStepper walks one physical axis along the active
// trajectory, emitting the time and direction of its next step; the
// Planner merges those streams, applies the acceleration transform, and
// hands timed events to the scheduler.
package motion

import (
	"math"

	"deltapi/pkg/sched"
)

// Direction of a single step.
type Direction int8

const (
	// Backward steps the axis toward smaller coordinates.
	Backward Direction = -1

	// Forward steps the axis toward larger coordinates.
	Forward Direction = 1
)

// AxisStepper generates successive step times for one axis along the
// active trajectory. Time is move-relative seconds; NaN signals the
// axis is done.
type AxisStepper interface {
	// Index is the mechanical axis this stepper drives.
	Index() int

	// Time is the move-relative time of the last generated step, or
	// NaN once the axis has no further steps.
	Time() float64

	// Direction of the last generated step.
	Direction() Direction

	// NextStep advances Time and Direction to the following step.
	NextStep()

	// GetEvent renders the current step as an output event at the
	// given (acceleration-transformed) move-relative time.
	GetEvent(transformed float64) sched.OutputEvent
}

// stepperBase carries the state shared by all generator kinds.
type stepperBase struct {
	axis int
	pin  sched.Pin
	time float64
	dir  Direction
}

func (b *stepperBase) Index() int           { return b.axis }
func (b *stepperBase) Time() float64        { return b.time }
func (b *stepperBase) Direction() Direction { return b.dir }

func (b *stepperBase) GetEvent(transformed float64) sched.OutputEvent {
	return sched.StepEvent(transformed, b.pin, b.dir == Forward)
}

// choose picks the nearer of the candidate times for a backward and a
// forward step and updates time/direction. It returns -1, 0 or +1: the
// step-count delta to apply. Both directions must always be tested
// because axis velocity can reverse during a Cartesian-space line or
// arc. A candidate at or before the current time, or NaN, is invalid;
// when both are invalid the axis terminates with time = NaN.
func (b *stepperBase) choose(negTime, posTime float64) int {
	switch {
	case negTime <= b.time || math.IsNaN(negTime):
		if posTime > b.time {
			b.time = posTime
			b.dir = Forward
			return 1
		}
		b.time = math.NaN()
		return 0
	case posTime <= b.time || math.IsNaN(posTime):
		if negTime > b.time {
			b.time = negTime
			b.dir = Backward
			return -1
		}
		b.time = math.NaN()
		return 0
	case negTime < posTime:
		b.time = negTime
		b.dir = Backward
		return -1
	default:
		b.time = posTime
		b.dir = Forward
		return 1
	}
}

// minTimeStepper returns the generator with the smallest valid time.
// When every generator has terminated, the first one is returned so the
// caller observes its NaN.
func minTimeStepper(steppers []AxisStepper) AxisStepper {
	best := steppers[0]
	bestTime := best.Time()
	for _, s := range steppers[1:] {
		t := s.Time()
		if math.IsNaN(bestTime) || (!math.IsNaN(t) && t < bestTime) {
			best, bestTime = s, t
		}
	}
	return best
}
