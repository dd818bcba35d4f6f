// Package physics defines the port between the climbing simulation and a rigid-body engine.
//
// Coordinates are screen-style: +Y points down, so "higher" means a smaller Y.
package physics

import "math"

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2) Scale(s float64) Vec2 { return Vec2{X: v.X * s, Y: v.Y * s} }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dist(o Vec2) float64  { return math.Hypot(v.X-o.X, v.Y-o.Y) }
func (v Vec2) Angle() float64       { return math.Atan2(v.Y, v.X) }
func (v Vec2) IsZero() bool         { return v.X == 0 && v.Y == 0 }

// AngleDiff returns the absolute difference between two angles, normalized to [0, pi].
func AngleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 2*math.Pi)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// Rect is an axis-aligned rectangle given by its center and size.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) Center() Vec2 { return Vec2{X: r.X, Y: r.Y} }
func (r Rect) Top() float64 { return r.Y - r.H/2 }

func (r Rect) Contains(p Vec2) bool {
	return p.X >= r.X-r.W/2 && p.X <= r.X+r.W/2 && p.Y >= r.Y-r.H/2 && p.Y <= r.Y+r.H/2
}

// Label tags a body with the role it plays in contact routing.
type Label string

const (
	LabelPlayer    Label = "player"
	LabelPlatform  Label = "platform"
	LabelWall      Label = "wall"
	LabelRecovery  Label = "sensor:recovery"
	LabelPickup    Label = "sensor:pickup"
	LabelGoal      Label = "sensor:goal"
	LabelDeathZone Label = "sensor:deathzone"
	LabelBreakable Label = "breakable"
)

// IsSensor reports whether bodies with this label detect overlap without colliding.
func (l Label) IsSensor() bool {
	switch l {
	case LabelRecovery, LabelPickup, LabelGoal, LabelDeathZone:
		return true
	}
	return false
}

// IsSurface reports whether the player can stand on bodies with this label.
func (l Label) IsSurface() bool {
	return l == LabelPlatform || l == LabelBreakable
}

type BodyID uint64

type ConstraintID uint64

type Phase uint8

const (
	ContactBegin Phase = iota + 1
	ContactEnd
)

func (p Phase) String() string {
	switch p {
	case ContactBegin:
		return "begin"
	case ContactEnd:
		return "end"
	}
	return "unknown"
}

type BodyRef struct {
	ID    BodyID
	Label Label
	Pos   Vec2
}

// Contact is one begin/end notification for a pair of bodies.
type Contact struct {
	Phase Phase
	A, B  BodyRef
}

// Other returns the side of the pair that is not id.
func (c Contact) Other(id BodyID) (BodyRef, bool) {
	switch id {
	case c.A.ID:
		return c.B, true
	case c.B.ID:
		return c.A, true
	}
	return BodyRef{}, false
}

// BodyShape describes the player's collision box for one body tier.
type BodyShape struct {
	Width    float64
	Height   float64
	Mass     float64
	Friction float64
}

type SpringParams struct {
	Stiffness float64
	Damping   float64
}

// World is the rigid-body engine as seen by the simulation. Implementations must deliver every
// contact produced by a Step from that Step's return value, and must not require callers to
// mutate bodies or constraints from inside the step.
type World interface {
	Step(dtSeconds float64) []Contact

	AddStatic(label Label, r Rect, friction float64) BodyID
	AddPlayer(shape BodyShape, pos, vel Vec2) BodyID
	RemoveBody(id BodyID) bool
	MoveBody(id BodyID, pos Vec2)
	SetCollidable(id BodyID, on bool)
	SetFriction(id BodyID, friction float64)

	Position(id BodyID) Vec2
	Velocity(id BodyID) Vec2
	SetVelocity(id BodyID, v Vec2)
	ApplyForce(id BodyID, f Vec2)
	ApplyImpulse(id BodyID, j Vec2)

	AddSpring(body BodyID, anchor Vec2, length float64, p SpringParams) (ConstraintID, bool)
	SetSpringLength(c ConstraintID, length float64) bool
	RemoveConstraint(c ConstraintID) bool
	HasConstraint(c ConstraintID) bool
}
