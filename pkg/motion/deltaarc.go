// Delta carriage step generation for constant-angular-velocity arcs
//
// The effector follows P(t) = C + q*cos(m*t)*u + q*sin(m*t)*v for an
// orthonormal in-plane basis u, v scaled to the arc radius q.
// Substituting into the carriage constraint and collecting sin/cos
// terms gives an equation of the form
//
//	a*sin(m*t) + b*cos(m*t) + p = 0
//
// which has the closed-form solutions
//
//	m*t = atan2((-a*p ± b*sqrt(a^2+b^2-p^2))/(a^2+b^2),
//	            (-b*p ∓ a*sqrt(a^2+b^2-p^2))/(a^2+b^2))
//
// a^2+b^2 < p^2 means the carriage never reaches that height: NaN.
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

// solveSinCos returns the two principal solutions of
// a*sin(phi) + b*cos(phi) + p = 0, or NaN, NaN when no real solution
// exists.
func solveSinCos(a, b, p float64) (float64, float64) {
	disc := a*a + b*b - p*p
	if disc < 0 {
		return math.NaN(), math.NaN()
	}
	root := math.Sqrt(disc)
	den := a*a + b*b
	phi1 := math.Atan2((-a*p+b*root)/den, (-b*p-a*root)/den)
	phi2 := math.Atan2((-a*p-b*root)/den, (-b*p+a*root)/den)
	return phi1, phi2
}

// nextAngleTime converts a principal angle solution into the earliest
// trajectory time after curTime, walking forward one revolution when
// the principal value lands behind the cursor. angVel is positive;
// clockwise arcs are encoded by negating the v basis vector instead.
func nextAngleTime(phi, angVel, curTime float64) float64 {
	if math.IsNaN(phi) {
		return math.NaN()
	}
	phi = math.Mod(phi, 2*math.Pi)
	if phi < 0 {
		phi += 2 * math.Pi
	}
	t := phi / angVel
	if t <= curTime {
		t += 2 * math.Pi / angVel
	}
	return t
}

// minAfter returns the smaller of two candidate times strictly after
// curTime, or NaN when neither qualifies.
func minAfter(t1, t2, curTime float64) float64 {
	valid1 := !math.IsNaN(t1) && t1 > curTime
	valid2 := !math.IsNaN(t2) && t2 > curTime
	switch {
	case valid1 && valid2:
		return math.Min(t1, t2)
	case valid1:
		return t1
	case valid2:
		return t2
	default:
		return math.NaN()
	}
}

type deltaArcStepper struct {
	stepperBase
	mmStep float64
	sTotal int

	r, l   float64
	w      float64 // tower angle of this axis
	m0     float64 // initial carriage coordinate
	center coord.Vec3
	u, v   coord.Vec3 // unit in-plane basis
	arcRad float64
	angVel float64
}

func newDeltaArcStepper(axis int, pin sched.Pin, m *coord.DeltaMap, cur []int, center coord.Vec3, u, v coord.Vec3, arcRad, angVel float64) *deltaArcStepper {
	s := &deltaArcStepper{
		stepperBase: stepperBase{axis: axis, pin: pin},
		mmStep:      m.MMSteps(axis),
		r:           m.R(),
		l:           m.L(),
		w:           m.TowerAngle(axis),
		m0:          float64(cur[axis]) * m.MMSteps(axis),
		center:      center,
		u:           u,
		v:           v,
		arcRad:      arcRad,
		angVel:      angVel,
	}
	s.NextStep()
	return s
}

func (s *deltaArcStepper) testDir(off, curTime float64) float64 {
	d := s.m0 + off
	sinW, cosW := math.Sin(s.w), math.Cos(s.w)
	xc, yc, zc := s.center.X, s.center.Y, s.center.Z

	p := s.r*s.r + s.arcRad*s.arcRad + xc*xc + yc*yc + (d-zc)*(d-zc) -
		2*s.r*(yc*cosW+xc*sinW) - s.l*s.l
	b := 2 * s.arcRad * (-d*s.u.Z + s.u.X*xc + s.u.Y*yc + s.u.Z*zc - s.r*(s.u.Y*cosW+s.u.X*sinW))
	a := 2 * s.arcRad * (-d*s.v.Z + s.v.X*xc + s.v.Y*yc + s.v.Z*zc - s.r*(s.v.Y*cosW+s.v.X*sinW))

	phi1, phi2 := solveSinCos(a, b, p)
	t1 := nextAngleTime(phi1, s.angVel, curTime)
	t2 := nextAngleTime(phi2, s.angVel, curTime)
	return minAfter(t1, t2, curTime)
}

// NextStep implements AxisStepper.
func (s *deltaArcStepper) NextStep() {
	negTime := s.testDir(float64(s.sTotal-1)*s.mmStep, s.time)
	posTime := s.testDir(float64(s.sTotal+1)*s.mmStep, s.time)
	s.sTotal += s.choose(negTime, posTime)
}

// cartesianArcStepper generates steps for a directly driven axis along
// the same arc parameterization: the axis coordinate is
// C_i + q*(cos(m*t)*u_i + sin(m*t)*v_i), which reduces to the same
// sin/cos identity with a = q*v_i, b = q*u_i.
type cartesianArcStepper struct {
	stepperBase
	mmStep float64
	sTotal int

	m0     float64
	ci     float64 // center component on this axis
	ui, vi float64 // basis components on this axis
	arcRad float64
	angVel float64
}

func newCartesianArcStepper(axis int, pin sched.Pin, mmStep, m0, ci, ui, vi, arcRad, angVel float64) *cartesianArcStepper {
	s := &cartesianArcStepper{
		stepperBase: stepperBase{axis: axis, pin: pin},
		mmStep:      mmStep,
		m0:          m0,
		ci:          ci,
		ui:          ui,
		vi:          vi,
		arcRad:      arcRad,
		angVel:      angVel,
	}
	s.NextStep()
	return s
}

func (s *cartesianArcStepper) testDir(off, curTime float64) float64 {
	p := s.ci - (s.m0 + off)
	b := s.arcRad * s.ui
	a := s.arcRad * s.vi
	phi1, phi2 := solveSinCos(a, b, p)
	t1 := nextAngleTime(phi1, s.angVel, curTime)
	t2 := nextAngleTime(phi2, s.angVel, curTime)
	return minAfter(t1, t2, curTime)
}

// NextStep implements AxisStepper.
func (s *cartesianArcStepper) NextStep() {
	negTime := s.testDir(float64(s.sTotal-1)*s.mmStep, s.time)
	posTime := s.testDir(float64(s.sTotal+1)*s.mmStep, s.time)
	s.sTotal += s.choose(negTime, posTime)
}
