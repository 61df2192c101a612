// Linear delta coordinate mapping
//
// Three towers stand at the corners of an equilateral triangle at
// distance r from the center, at angles w_i = i*2*pi/3 measured
// clockwise from +y (tower A at (0, r)). A carriage rides each tower; a
// rod of fixed length L connects it to the effector. Carriage height
// relates to effector position by
//
//	D = z + sqrt(L^2 - (y - r*cos w)^2 - (x - r*sin w)^2)
//
// which the step generators also use. The forward map (A,B,C -> x,y,z)
// intersects the three rod spheres.
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package coord

import (
	"fmt"
	"math"
)

// DeltaAxis indices for the three carriages.
const (
	DeltaAxisA = 0
	DeltaAxisB = 1
	DeltaAxisC = 2
	// DeltaAxisE is the extruder slot on a delta machine.
	DeltaAxisE = 3
)

// DeltaConfig is the geometry of a rail-based delta machine.
type DeltaConfig struct {
	Radius      float64    // center-to-tower distance r (mm)
	RodLength   float64    // diagonal rod length L (mm)
	BuildHeight float64    // usable z at the effector's home (mm)
	PrintRadius float64    // reachable xy radius (mm)
	MMSteps     [4]float64 // mm of carriage/extruder travel per step
	HomeRate    float64    // carriage speed while homing (mm/s)
	Backoff     float64    // distance to retreat from the endstops after homing (mm)
}

// DeltaMap implements Map for rail-based delta kinematics.
type DeltaMap struct {
	r, l        float64
	buildHeight float64
	printRadius float64
	mmSteps     [4]float64
	homeRate    float64
	backoff     float64
	leveler     Leveler

	// carriage height above the effector when centered, sqrt(L^2-r^2)
	centerTowerOffset float64
}

// NewDeltaMap validates the geometry and builds the map.
func NewDeltaMap(cfg DeltaConfig, leveler Leveler) (*DeltaMap, error) {
	if cfg.Radius <= 0 {
		return nil, fmt.Errorf("delta radius must be positive")
	}
	if cfg.RodLength <= cfg.Radius {
		return nil, fmt.Errorf("rod length %.1f must exceed radius %.1f", cfg.RodLength, cfg.Radius)
	}
	if cfg.PrintRadius <= 0 || cfg.PrintRadius >= cfg.RodLength {
		return nil, fmt.Errorf("print radius %.1f out of range", cfg.PrintRadius)
	}
	for i, s := range cfg.MMSteps {
		if s <= 0 {
			return nil, fmt.Errorf("mm per step for axis %d must be positive", i)
		}
	}
	if cfg.HomeRate <= 0 {
		cfg.HomeRate = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5
	}
	return &DeltaMap{
		r:                 cfg.Radius,
		l:                 cfg.RodLength,
		buildHeight:       cfg.BuildHeight,
		printRadius:       cfg.PrintRadius,
		mmSteps:           cfg.MMSteps,
		homeRate:          cfg.HomeRate,
		backoff:           cfg.Backoff,
		leveler:           orIdentity(leveler),
		centerTowerOffset: math.Sqrt(cfg.RodLength*cfg.RodLength - cfg.Radius*cfg.Radius),
	}, nil
}

func orIdentity(l Leveler) Leveler {
	if l == nil {
		return IdentityLeveler{}
	}
	return l
}

// R returns the center-to-tower radius.
func (m *DeltaMap) R() float64 { return m.r }

// L returns the diagonal rod length.
func (m *DeltaMap) L() float64 { return m.l }

// TowerAngle returns axis i's tower angle, clockwise from +y.
func (m *DeltaMap) TowerAngle(axis int) float64 {
	return float64(axis) * 2 * math.Pi / 3
}

// NumAxis implements Map.
func (m *DeltaMap) NumAxis() int { return 4 }

// MMSteps implements Map.
func (m *DeltaMap) MMSteps(axis int) float64 { return m.mmSteps[axis] }

// CarriageHeight evaluates the inverse constraint for one tower: the
// carriage height that places the effector at (x, y, z).
func (m *DeltaMap) CarriageHeight(axis int, x, y, z float64) float64 {
	w := m.TowerAngle(axis)
	dy := y - m.r*math.Cos(w)
	dx := x - m.r*math.Sin(w)
	rad := m.l*m.l - dy*dy - dx*dx
	if rad < 0 {
		rad = 0
	}
	return z + math.Sqrt(rad)
}

// XYZEFromMechanical implements Map by intersecting the three rod
// spheres centered at the carriages.
func (m *DeltaMap) XYZEFromMechanical(steps []int) Position {
	var towers [3]Vec3
	for i := 0; i < 3; i++ {
		w := m.TowerAngle(i)
		towers[i] = Vec3{
			X: m.r * math.Sin(w),
			Y: m.r * math.Cos(w),
			Z: float64(steps[i]) * m.mmSteps[i],
		}
	}
	eff := trilaterate(towers, m.l*m.l)
	return Position{
		X: eff.X,
		Y: eff.Y,
		Z: eff.Z,
		E: float64(steps[3]) * m.mmSteps[3],
	}
}

// trilaterate finds the lower intersection point of three spheres of
// equal squared radius arm2 centered at c.
func trilaterate(c [3]Vec3, arm2 float64) Vec3 {
	s21 := c[1].Sub(c[0])
	s31 := c[2].Sub(c[0])

	d := s21.Norm()
	ex := s21.Scale(1 / d)
	i := ex.Dot(s31)
	vecEy := s31.Sub(ex.Scale(i))
	ey := vecEy.Scale(1 / vecEy.Norm())
	ez := ex.Cross(ey)
	// Point ez upward so the negative offset below selects the lower
	// intersection whatever the winding of the tower order.
	if ez.Z < 0 {
		ez = ez.Scale(-1)
	}
	j := ey.Dot(s31)

	x := (d * d) / (2 * d) // arm lengths are equal, so arm2 terms cancel
	y := (-x*x + (x-i)*(x-i) + j*j) / (2 * j)
	rad := arm2 - x*x - y*y
	if rad < 0 {
		rad = 0
	}
	z := -math.Sqrt(rad)

	return c[0].Add(ex.Scale(x)).Add(ey.Scale(y)).Add(ez.Scale(z))
}

// ApplyLeveling implements Map.
func (m *DeltaMap) ApplyLeveling(p Position) Position {
	return m.leveler.Level(p)
}

// Bound implements Map: the reachable envelope is a cylinder of
// printRadius capped at [0, buildHeight].
func (m *DeltaMap) Bound(p Position) Position {
	clamped := p
	if rxy := math.Hypot(p.X, p.Y); rxy > m.printRadius {
		scale := m.printRadius / rxy
		clamped.X *= scale
		clamped.Y *= scale
	}
	clamped.Z = clamp(p.Z, 0, m.buildHeight)
	if clamped != p {
		coordLog.Warn("destination (%.2f, %.2f, %.2f) outside envelope; clamped to (%.2f, %.2f, %.2f)",
			p.X, p.Y, p.Z, clamped.X, clamped.Y, clamped.Z)
	}
	return clamped
}

// HomePosition implements Map: all carriages at the height that parks
// the effector at (0, 0, buildHeight).
func (m *DeltaMap) HomePosition(cur []int) []int {
	h := m.buildHeight + m.centerTowerOffset
	home := make([]int, 4)
	for i := 0; i < 3; i++ {
		home[i] = roundSteps(h, m.mmSteps[i])
	}
	if len(cur) > 3 {
		home[3] = cur[3]
	}
	return home
}

// ExecuteHomeRoutine implements Map: raise all carriages into the
// endstops, then retreat a short distance so the switches are released.
func (m *DeltaMap) ExecuteHomeRoutine(h HomeInterface) error {
	if err := h.HomeEndstops(m.homeRate); err != nil {
		return err
	}
	pos := h.ActualCartesianPosition()
	pos.Z = m.buildHeight - m.backoff
	return h.MoveTo(pos, m.homeRate, FlagNoLeveling)
}
