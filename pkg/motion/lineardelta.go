// Delta carriage step generation for constant-velocity lines
//
// The carriage height for tower angle w is
//
//	D(t) = z0 + vz*t + sqrt(L^2 - (y0 + vy*t - r*cos w)^2 - (x0 + vx*t - r*sin w)^2)
//
// A step at offset s from the initial carriage position M0 satisfies
// D(t) = M0 + s. Squaring yields a quadratic in t whose s-independent
// terms are precomputed at construction. The two roots are the two
// times the carriage passes that height: approaching and receding from
// the tower, since carriage motion along a straight effector line is
// parabolic.
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"deltapi/pkg/coord"
	"deltapi/pkg/sched"
)

type linearDeltaStepper struct {
	stepperBase
	mmStep float64
	sTotal int

	// quadratic solver state, cached at construction
	invV2     float64 // 1/(vx^2+vy^2+vz^2)
	vzOverV2  float64
	almTerm1  float64 // term1 = almTerm1 + vzOverV2*s
	almRoot   float64 // s-independent part of the discriminant
	almRootV2 float64 // 2*(M0 - z0); the s-dependent part multiplies this
}

// newLinearDeltaStepper builds the generator for one carriage. cur is
// the mechanical position at move start; vx, vy, vz the constant
// Cartesian velocity.
func newLinearDeltaStepper(axis int, pin sched.Pin, m *coord.DeltaMap, cur []int, vx, vy, vz float64) *linearDeltaStepper {
	s := &linearDeltaStepper{
		stepperBase: stepperBase{axis: axis, pin: pin},
		mmStep:      m.MMSteps(axis),
	}

	p0 := m.XYZEFromMechanical(cur)
	x0, y0, z0 := p0.X, p0.Y, p0.Z
	m0 := float64(cur[axis]) * s.mmStep

	w := m.TowerAngle(axis)
	tx := x0 - m.R()*math.Sin(w)
	ty := y0 - m.R()*math.Cos(w)
	l2 := m.L() * m.L()

	s.invV2 = 1 / (vx*vx + vy*vy + vz*vz)
	s.vzOverV2 = vz * s.invV2
	s.almTerm1 = s.invV2 * (vz*(m0-z0) - vx*tx - vy*ty)
	s.almRoot = -s.invV2 * (-l2 + tx*tx + ty*ty + (m0-z0)*(m0-z0))
	s.almRootV2 = 2 * (m0 - z0)

	s.NextStep()
	return s
}

// testDir returns the time at which the carriage reaches offset s from
// M0, or NaN if it never does after the current time.
func (s *linearDeltaStepper) testDir(off float64) float64 {
	term1 := s.almTerm1 + s.vzOverV2*off
	rootParam := term1*term1 + s.almRoot - s.invV2*off*(s.almRootV2+off)
	if rootParam < 0 {
		return math.NaN()
	}
	root := math.Sqrt(rootParam)
	t1 := term1 - root
	t2 := term1 + root
	if root > term1 {
		// t1 is necessarily negative.
		if t2 > s.time {
			return t2
		}
		return math.NaN()
	}
	if t1 > s.time {
		return t1
	}
	if t2 > s.time {
		return t2
	}
	return math.NaN()
}

// NextStep implements AxisStepper.
func (s *linearDeltaStepper) NextStep() {
	negTime := s.testDir(float64(s.sTotal-1) * s.mmStep)
	posTime := s.testDir(float64(s.sTotal+1) * s.mmStep)
	s.sTotal += s.choose(negTime, posTime)
}
