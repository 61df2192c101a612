package coord

// Leveler transforms destination coordinates to compensate for an
// imperfectly seated bed.
type Leveler interface {
	Level(p Position) Position
}

// IdentityLeveler applies no compensation.
type IdentityLeveler struct{}

// Level returns p unchanged.
func (IdentityLeveler) Level(p Position) Position { return p }

// PlaneLeveler models the bed as the plane through three probed points
// and shifts z so that printing follows the actual bed surface.
type PlaneLeveler struct {
	// z = a*x + b*y + c describes the probed bed plane.
	a, b, c float64
}

// NewPlaneLeveler fits a plane through three probed points. The points
// must not be colinear; ok is false otherwise.
func NewPlaneLeveler(p1, p2, p3 Vec3) (*PlaneLeveler, bool) {
	n := p2.Sub(p1).Cross(p3.Sub(p1))
	if n.Z == 0 {
		return nil, false
	}
	a := -n.X / n.Z
	b := -n.Y / n.Z
	c := p1.Z - a*p1.X - b*p1.Y
	return &PlaneLeveler{a: a, b: b, c: c}, true
}

// Level offsets z by the bed height at (x, y).
func (l *PlaneLeveler) Level(p Position) Position {
	p.Z += l.a*p.X + l.b*p.Y + l.c
	return p
}
