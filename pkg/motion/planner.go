// Motion planning
//
// The Planner owns the active move. It resolves moveTo/arcTo/home
// requests into per-axis step generators via the coordinate map and a
// generator factory, merges the generators into a single time-ordered
// event stream, and applies the acceleration transform. There is at
// most one active move; readiness for the next one is the backpressure
// signal the executor uses to defer G-code.
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"deltapi/pkg/coord"
	"deltapi/pkg/gcode"
	"deltapi/pkg/log"
	"deltapi/pkg/sched"
)

var plannerLog = log.New("motion")

// MotionType is the planner's state machine state.
type MotionType int

const (
	// MotionNone: no active move; every generator is exhausted.
	MotionNone MotionType = iota

	// MotionMove: a linear move is draining.
	MotionMove

	// MotionArc: an arc move is draining.
	MotionArc

	// MotionHome: homing toward the endstops.
	MotionHome
)

// Planner merges per-axis step generators into one ordered event stream.
type Planner struct {
	coordMap coord.Map
	factory  GeneratorFactory
	accel    AccelerationProfile

	destMech   []int
	steppers   []AxisStepper
	baseTime   float64
	duration   float64
	motionType MotionType

	pending     sched.OutputEvent
	havePending bool
}

// NewPlanner builds a planner over a coordinate map and the generator
// factory matching its kinematics. accel defaults to NoAcceleration.
func NewPlanner(m coord.Map, factory GeneratorFactory, accel AccelerationProfile) *Planner {
	if accel == nil {
		accel = NoAcceleration{}
	}
	return &Planner{
		coordMap: m,
		factory:  factory,
		accel:    accel,
		destMech: make([]int, m.NumAxis()),
		duration: math.NaN(),
	}
}

// ReadyForNextMove reports whether a call to MoveTo, ArcTo or
// HomeEndstops would be accepted now. True iff no move is active.
func (p *Planner) ReadyForNextMove() bool {
	return p.motionType == MotionNone
}

// IsHoming reports whether the active move is a homing move.
func (p *Planner) IsHoming() bool {
	return p.motionType == MotionHome
}

// AxisPositions returns a copy of the destination mechanical position:
// the step counts reached by the steps emitted so far, which equal the
// move's end position once the active move drains.
func (p *Planner) AxisPositions() []int {
	out := make([]int, len(p.destMech))
	copy(out, p.destMech)
	return out
}

// ResetAxisPositions overwrites the mechanical position, e.g. after an
// externally observed reference (homing).
func (p *Planner) ResetAxisPositions(pos []int) {
	copy(p.destMech, pos)
}

// ActualCartesianPosition maps the destination mechanical position back
// to Cartesian space.
func (p *Planner) ActualCartesianPosition() coord.Position {
	return p.coordMap.XYZEFromMechanical(p.destMech)
}

// MoveTo plans a linear move from the current mechanical position to
// dest. The raw duration comes from the Cartesian distance at
// maxVelXYZ; if the implied extruder velocity falls outside
// [minVelE, maxVelE] it is clamped and the duration and XYZ velocity
// are recomputed around it.
func (p *Planner) MoveTo(baseTime float64, dest coord.Position, maxVelXYZ, minVelE, maxVelE float64, flags coord.MoveFlags) {
	cur := p.coordMap.XYZEFromMechanical(p.destMech)
	if flags&coord.FlagNoLeveling == 0 {
		dest = p.coordMap.ApplyLeveling(dest)
	}
	if flags&coord.FlagNoBound == 0 {
		dest = p.coordMap.Bound(dest)
	}

	dist := cur.XYZDist(dest)
	de := dest.E - cur.E
	var duration, vx, vy, vz, ve float64
	switch {
	case dist == 0 && de == 0:
		duration = 0
	case dist == 0:
		// Extrude-only move: run the extruder at its limit.
		if de > 0 {
			ve = maxVelE
		} else {
			ve = minVelE
		}
		duration = de / ve
	default:
		duration = dist / maxVelXYZ
		ve = de / duration
		if clamped := clampF(ve, minVelE, maxVelE); clamped != ve && clamped != 0 {
			ve = clamped
			duration = de / ve
			maxVelXYZ = dist / duration
		}
		vx = (dest.X - cur.X) / duration
		vy = (dest.Y - cur.Y) / duration
		vz = (dest.Z - cur.Z) / duration
	}

	plannerLog.Debug("moveTo (%.3f, %.3f, %.3f, %.3f) -> (%.3f, %.3f, %.3f, %.3f) dur %.4f",
		cur.X, cur.Y, cur.Z, cur.E, dest.X, dest.Y, dest.Z, dest.E, duration)

	p.steppers = p.factory.Linear(p.destMech, vx, vy, vz, ve)
	p.baseTime = baseTime
	p.duration = duration
	p.motionType = MotionMove
	p.havePending = false
	p.accel.Begin(duration, maxVelXYZ)
}

// ArcTo plans a circular arc from the current position to dest,
// maintaining a constant distance from center. CW arcs (G2) traverse
// the plane basis negatively. Fails with a malformed-command error when
// start, center and destination are colinear.
func (p *Planner) ArcTo(baseTime float64, dest coord.Position, center coord.Vec3, maxVelXYZ, minVelE, maxVelE float64, cw bool) error {
	cur := p.coordMap.XYZEFromMechanical(p.destMech)
	dest = p.coordMap.Bound(p.coordMap.ApplyLeveling(dest))

	u := cur.XYZ().Sub(center)
	arcRad := u.Norm()
	if arcRad == 0 {
		return gcode.NewError(gcode.KindMalformedCommand, "", "arc start coincides with center")
	}
	w := dest.XYZ().Sub(center)
	// In-plane second basis vector: remove w's component along u, then
	// scale to the arc radius.
	v := w.Sub(u.Scale(w.Dot(u) / (arcRad * arcRad)))
	vNorm := v.Norm()
	if vNorm < 1e-9*arcRad {
		return gcode.NewError(gcode.KindMalformedCommand, "", "arc endpoints colinear with center")
	}
	v = v.Scale(arcRad / vNorm)
	if cw {
		v = v.Scale(-1)
	}

	uHat := u.Scale(1 / arcRad)
	vHat := v.Scale(1 / arcRad)

	// Arc angle from the start basis to the destination, in (0, 2*pi].
	theta := math.Atan2(w.Dot(vHat), w.Dot(uHat))
	if theta <= 0 {
		theta += 2 * math.Pi
	}

	angVel := maxVelXYZ / arcRad
	duration := theta / angVel

	de := dest.E - cur.E
	ve := de / duration
	if clamped := clampF(ve, minVelE, maxVelE); clamped != ve && clamped != 0 {
		ve = clamped
		duration = de / ve
		angVel = theta / duration
		maxVelXYZ = angVel * arcRad
	}

	plannerLog.Debug("arcTo (%.3f, %.3f, %.3f) around (%.3f, %.3f, %.3f) theta %.4f dur %.4f",
		dest.X, dest.Y, dest.Z, center.X, center.Y, center.Z, theta, duration)

	p.steppers = p.factory.Arc(p.destMech, center, uHat, vHat, arcRad, angVel, ve)
	p.baseTime = baseTime
	p.duration = duration
	p.motionType = MotionArc
	p.havePending = false
	p.accel.Begin(duration, maxVelXYZ)
	return nil
}

// HomeEndstops plans a homing move: every homing axis steps toward its
// endstop until it triggers. The move has no planned duration; it ends
// when all generators exhaust, at which point the mechanical position
// is reset to the map's home position.
func (p *Planner) HomeEndstops(baseTime, rate float64) {
	p.steppers = p.factory.Home(rate)
	p.baseTime = baseTime
	p.duration = math.NaN()
	p.motionType = MotionHome
	p.havePending = false
	p.accel.Begin(math.NaN(), rate)
}

// NextStep returns the next output event of the active move, advancing
// the planner. A null event means the move just completed (or none was
// active); the planner is then ready for the next move.
func (p *Planner) NextStep() sched.OutputEvent {
	if p.motionType == MotionNone || len(p.steppers) == 0 {
		p.motionType = MotionNone
		return sched.NullEvent()
	}

	s := minTimeStepper(p.steppers)
	t := s.Time()
	// The final step of a move often lands exactly on the duration
	// boundary; a few ulps of slack keep it from being dropped.
	limit := p.duration * (1 + 1e-9)
	if math.IsNaN(t) || t <= 0 || (!math.IsNaN(p.duration) && t > limit) {
		if p.motionType == MotionHome {
			p.destMech = p.coordMap.HomePosition(p.destMech)
		}
		end := p.coordMap.XYZEFromMechanical(p.destMech)
		plannerLog.Debug("move complete at (%.3f, %.3f, %.3f, %.3f)", end.X, end.Y, end.Z, end.E)
		p.motionType = MotionNone
		return sched.NullEvent()
	}

	evt := s.GetEvent(p.accel.Transform(t)).Offset(p.baseTime)
	p.destMech[s.Index()] += int(s.Direction())
	s.NextStep()
	return evt
}

// PeekNextEvent returns the upcoming event without consuming it. The
// executor uses this to order motion against I/O-driver events.
func (p *Planner) PeekNextEvent() sched.OutputEvent {
	if !p.havePending {
		p.pending = p.NextStep()
		p.havePending = true
	}
	return p.pending
}

// ConsumeNextEvent commits the peeked event.
func (p *Planner) ConsumeNextEvent() {
	p.havePending = false
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
