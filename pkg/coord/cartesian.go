package coord

import (
	"deltapi/pkg/log"
)

var coordLog = log.New("coord")

// CartesianMap maps each Cartesian axis directly onto one stepper.
// Axis order is x, y, z, e.
type CartesianMap struct {
	mmSteps  [4]float64
	min, max Position
	homeRate float64
	leveler  Leveler
}

// NewCartesianMap builds a Cartesian map with the given steps geometry
// and bounding box. The home position is the box's minimum corner.
func NewCartesianMap(mmSteps [4]float64, min, max Position, homeRate float64, leveler Leveler) *CartesianMap {
	if leveler == nil {
		leveler = IdentityLeveler{}
	}
	if homeRate <= 0 {
		homeRate = 10
	}
	return &CartesianMap{mmSteps: mmSteps, min: min, max: max, homeRate: homeRate, leveler: leveler}
}

// NumAxis implements Map.
func (m *CartesianMap) NumAxis() int { return 4 }

// MMSteps implements Map.
func (m *CartesianMap) MMSteps(axis int) float64 { return m.mmSteps[axis] }

// XYZEFromMechanical implements Map: each axis scales independently.
func (m *CartesianMap) XYZEFromMechanical(steps []int) Position {
	return Position{
		X: float64(steps[0]) * m.mmSteps[0],
		Y: float64(steps[1]) * m.mmSteps[1],
		Z: float64(steps[2]) * m.mmSteps[2],
		E: float64(steps[3]) * m.mmSteps[3],
	}
}

// ApplyLeveling implements Map.
func (m *CartesianMap) ApplyLeveling(p Position) Position {
	return m.leveler.Level(p)
}

// Bound implements Map: clamp to the box, warning when a coordinate had
// to move.
func (m *CartesianMap) Bound(p Position) Position {
	clamped := p
	clamped.X = clamp(p.X, m.min.X, m.max.X)
	clamped.Y = clamp(p.Y, m.min.Y, m.max.Y)
	clamped.Z = clamp(p.Z, m.min.Z, m.max.Z)
	if clamped != p {
		coordLog.Warn("destination (%.2f, %.2f, %.2f) outside envelope; clamped to (%.2f, %.2f, %.2f)",
			p.X, p.Y, p.Z, clamped.X, clamped.Y, clamped.Z)
	}
	return clamped
}

// HomePosition implements Map: all axes at the minimum corner.
func (m *CartesianMap) HomePosition(cur []int) []int {
	home := make([]int, 4)
	home[0] = roundSteps(m.min.X, m.mmSteps[0])
	home[1] = roundSteps(m.min.Y, m.mmSteps[1])
	home[2] = roundSteps(m.min.Z, m.mmSteps[2])
	if len(cur) > 3 {
		home[3] = cur[3]
	}
	return home
}

// ExecuteHomeRoutine implements Map: drive each axis into its endstop.
func (m *CartesianMap) ExecuteHomeRoutine(h HomeInterface) error {
	return h.HomeEndstops(m.homeRate)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundSteps(mm, mmPerStep float64) int {
	if mmPerStep == 0 {
		return 0
	}
	if mm >= 0 {
		return int(mm/mmPerStep + 0.5)
	}
	return -int(-mm/mmPerStep + 0.5)
}
