// Package cpworld implements physics.World on top of the Chipmunk2D port github.com/jakecoffman/cp.
//
// Collision callbacks only record contacts; every body and constraint mutation is applied
// between steps, while the space is unlocked.
package cpworld

import (
	"math"

	"github.com/jakecoffman/cp"

	"evoclimb.io/internal/sim/physics"
)

const (
	collisionTypePlayer cp.CollisionType = iota + 1
	collisionTypeWorld
)

type Config struct {
	Gravity    float64
	Iterations uint
}

type body struct {
	id     physics.BodyID
	label  physics.Label
	body   *cp.Body
	shape  *cp.Shape
	player bool
}

type spring struct {
	c      *cp.Constraint
	owner  physics.BodyID
	anchor physics.Vec2
	length float64
	params physics.SpringParams
}

type World struct {
	space *cp.Space

	bodies  map[physics.BodyID]*body
	byShape map[*cp.Shape]physics.BodyID
	springs map[physics.ConstraintID]*spring

	pending []physics.Contact

	nextBody   physics.BodyID
	nextSpring physics.ConstraintID
}

func New(cfg Config) *World {
	space := cp.NewSpace()
	if cfg.Iterations > 0 {
		space.Iterations = cfg.Iterations
	}
	space.SetGravity(cp.Vector{X: 0, Y: cfg.Gravity})

	w := &World{
		space:   space,
		bodies:  map[physics.BodyID]*body{},
		byShape: map[*cp.Shape]physics.BodyID{},
		springs: map[physics.ConstraintID]*spring{},
	}

	h := space.NewWildcardCollisionHandler(collisionTypePlayer)
	h.UserData = w
	h.BeginFunc = func(arb *cp.Arbiter, _ *cp.Space, userData interface{}) bool {
		if ww, ok := userData.(*World); ok {
			ww.record(physics.ContactBegin, arb)
		}
		return true
	}
	h.SeparateFunc = func(arb *cp.Arbiter, _ *cp.Space, userData interface{}) {
		if ww, ok := userData.(*World); ok {
			ww.record(physics.ContactEnd, arb)
		}
	}
	return w
}

func (w *World) record(phase physics.Phase, arb *cp.Arbiter) {
	sa, sb := arb.Shapes()
	ida, okA := w.byShape[sa]
	idb, okB := w.byShape[sb]
	if !okA || !okB {
		return
	}
	w.pending = append(w.pending, physics.Contact{Phase: phase, A: w.ref(ida), B: w.ref(idb)})
}

func (w *World) ref(id physics.BodyID) physics.BodyRef {
	b := w.bodies[id]
	if b == nil {
		return physics.BodyRef{ID: id}
	}
	return physics.BodyRef{ID: id, Label: b.label, Pos: fromVec(b.body.Position())}
}

func (w *World) Step(dt float64) []physics.Contact {
	w.space.Step(dt)
	out := w.pending
	w.pending = nil
	return out
}

func (w *World) register(b *body) physics.BodyID {
	w.nextBody++
	b.id = w.nextBody
	w.bodies[b.id] = b
	w.byShape[b.shape] = b.id
	return b.id
}

// AddStatic adds a stage surface or sensor. Surfaces are kinematic so they can be moved out of
// the playfield and back without being recreated.
func (w *World) AddStatic(label physics.Label, r physics.Rect, friction float64) physics.BodyID {
	kb := cp.NewKinematicBody()
	kb.SetPosition(toVec(r.Center()))
	w.space.AddBody(kb)

	shape := cp.NewBox(kb, r.W, r.H, 0)
	shape.SetFriction(friction)
	shape.SetCollisionType(collisionTypeWorld)
	if label.IsSensor() {
		shape.SetSensor(true)
	}
	w.space.AddShape(shape)

	return w.register(&body{label: label, body: kb, shape: shape})
}

func (w *World) AddPlayer(shape physics.BodyShape, pos, vel physics.Vec2) physics.BodyID {
	mass := shape.Mass
	if mass <= 0 {
		mass = 1
	}
	// Infinite moment keeps the climber upright.
	pb := cp.NewBody(mass, math.Inf(1))
	pb.SetPosition(toVec(pos))
	pb.SetVelocity(vel.X, vel.Y)
	w.space.AddBody(pb)

	ps := cp.NewBox(pb, shape.Width, shape.Height, 0)
	ps.SetFriction(shape.Friction)
	ps.SetCollisionType(collisionTypePlayer)
	w.space.AddShape(ps)

	return w.register(&body{label: physics.LabelPlayer, body: pb, shape: ps, player: true})
}

func (w *World) RemoveBody(id physics.BodyID) bool {
	b := w.bodies[id]
	if b == nil {
		return false
	}
	for cid, s := range w.springs {
		if s.owner == id {
			w.RemoveConstraint(cid)
		}
	}
	if w.space.ContainsShape(b.shape) {
		w.space.RemoveShape(b.shape)
	}
	if w.space.ContainsBody(b.body) {
		w.space.RemoveBody(b.body)
	}
	delete(w.byShape, b.shape)
	delete(w.bodies, id)
	return true
}

func (w *World) MoveBody(id physics.BodyID, pos physics.Vec2) {
	b := w.bodies[id]
	if b == nil {
		return
	}
	b.body.SetPosition(toVec(pos))
	b.body.SetVelocity(0, 0)
}

func (w *World) SetCollidable(id physics.BodyID, on bool) {
	b := w.bodies[id]
	if b == nil {
		return
	}
	if on {
		b.shape.SetFilter(cp.SHAPE_FILTER_ALL)
	} else {
		b.shape.SetFilter(cp.SHAPE_FILTER_NONE)
	}
}

func (w *World) SetFriction(id physics.BodyID, friction float64) {
	if b := w.bodies[id]; b != nil {
		b.shape.SetFriction(friction)
	}
}

func (w *World) Position(id physics.BodyID) physics.Vec2 {
	if b := w.bodies[id]; b != nil {
		return fromVec(b.body.Position())
	}
	return physics.Vec2{}
}

func (w *World) Velocity(id physics.BodyID) physics.Vec2 {
	if b := w.bodies[id]; b != nil {
		return fromVec(b.body.Velocity())
	}
	return physics.Vec2{}
}

func (w *World) SetVelocity(id physics.BodyID, v physics.Vec2) {
	if b := w.bodies[id]; b != nil {
		b.body.SetVelocity(v.X, v.Y)
	}
}

func (w *World) ApplyForce(id physics.BodyID, f physics.Vec2) {
	if b := w.bodies[id]; b != nil {
		b.body.ApplyForceAtWorldPoint(toVec(f), b.body.Position())
	}
}

func (w *World) ApplyImpulse(id physics.BodyID, j physics.Vec2) {
	if b := w.bodies[id]; b != nil {
		b.body.ApplyImpulseAtWorldPoint(toVec(j), b.body.Position())
	}
}

func (w *World) AddSpring(owner physics.BodyID, anchor physics.Vec2, length float64, p physics.SpringParams) (physics.ConstraintID, bool) {
	b := w.bodies[owner]
	if b == nil || !b.player {
		return 0, false
	}
	s := &spring{owner: owner, anchor: anchor, length: length, params: p}
	s.c = w.newSpring(b, s)
	w.nextSpring++
	id := w.nextSpring
	w.springs[id] = s
	return id, true
}

func (w *World) newSpring(b *body, s *spring) *cp.Constraint {
	c := cp.NewDampedSpring(b.body, w.space.StaticBody, cp.Vector{}, toVec(s.anchor), s.length, s.params.Stiffness, s.params.Damping)
	w.space.AddConstraint(c)
	return c
}

// SetSpringLength writes the new rest length into the live spring.
func (w *World) SetSpringLength(id physics.ConstraintID, length float64) bool {
	s := w.springs[id]
	if s == nil || s.c == nil {
		return false
	}
	ds, ok := s.c.Class.(*cp.DampedSpring)
	if !ok {
		return false
	}
	s.length = length
	ds.RestLength = length
	ds.Constraint.ActivateBodies()
	return true
}

func (w *World) RemoveConstraint(id physics.ConstraintID) bool {
	s := w.springs[id]
	if s == nil {
		return false
	}
	if s.c != nil && w.space.ContainsConstraint(s.c) {
		w.space.RemoveConstraint(s.c)
	}
	delete(w.springs, id)
	return true
}

func (w *World) HasConstraint(id physics.ConstraintID) bool {
	_, ok := w.springs[id]
	return ok
}

func toVec(v physics.Vec2) cp.Vector   { return cp.Vector{X: v.X, Y: v.Y} }
func fromVec(v cp.Vector) physics.Vec2 { return physics.Vec2{X: v.X, Y: v.Y} }

var _ physics.World = (*World)(nil)
