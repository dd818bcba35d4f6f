// Package physicstest provides a scripted physics.World for tests: bodies move only by their
// velocity (plus optional gravity), and contacts are queued by the test rather than detected.
package physicstest

import "evoclimb.io/internal/sim/physics"

type Body struct {
	ID         physics.BodyID
	Label      physics.Label
	Rect       physics.Rect
	Shape      physics.BodyShape
	Friction   float64
	Pos        physics.Vec2
	Vel        physics.Vec2
	Force      physics.Vec2
	Collidable bool
	Removed    bool
}

type Spring struct {
	ID     physics.ConstraintID
	Body   physics.BodyID
	Anchor physics.Vec2
	Length float64
	Params physics.SpringParams
}

type World struct {
	Gravity float64

	Bodies  map[physics.BodyID]*Body
	Springs map[physics.ConstraintID]*Spring

	// FailSprings makes AddSpring report failure.
	FailSprings bool

	// Impulses records every ApplyImpulse call in order.
	Impulses []physics.Vec2

	// RemovedConstraints counts RemoveConstraint calls that found a live constraint.
	RemovedConstraints int

	pending    []physics.Contact
	nextBody   physics.BodyID
	nextSpring physics.ConstraintID
	steps      int
}

func New() *World {
	return &World{
		Bodies:  map[physics.BodyID]*Body{},
		Springs: map[physics.ConstraintID]*Spring{},
	}
}

func (w *World) Steps() int { return w.steps }

// Queue schedules a contact to be delivered by the next Step.
func (w *World) Queue(phase physics.Phase, a, b physics.BodyID) {
	w.pending = append(w.pending, physics.Contact{Phase: phase, A: w.ref(a), B: w.ref(b)})
}

func (w *World) ref(id physics.BodyID) physics.BodyRef {
	b := w.Bodies[id]
	if b == nil {
		return physics.BodyRef{ID: id}
	}
	return physics.BodyRef{ID: id, Label: b.Label, Pos: b.Pos}
}

func (w *World) Step(dt float64) []physics.Contact {
	w.steps++
	for _, b := range w.Bodies {
		if b.Removed || b.Label != physics.LabelPlayer {
			continue
		}
		mass := b.Shape.Mass
		if mass <= 0 {
			mass = 1
		}
		b.Vel.X += b.Force.X / mass * dt
		b.Vel.Y += (b.Force.Y/mass + w.Gravity) * dt
		b.Force = physics.Vec2{}
		b.Pos = b.Pos.Add(b.Vel.Scale(dt))
	}
	out := w.pending
	w.pending = nil
	return out
}

func (w *World) add(b *Body) physics.BodyID {
	w.nextBody++
	b.ID = w.nextBody
	b.Collidable = true
	w.Bodies[b.ID] = b
	return b.ID
}

func (w *World) AddStatic(label physics.Label, r physics.Rect, friction float64) physics.BodyID {
	return w.add(&Body{Label: label, Rect: r, Friction: friction, Pos: r.Center()})
}

func (w *World) AddPlayer(shape physics.BodyShape, pos, vel physics.Vec2) physics.BodyID {
	return w.add(&Body{Label: physics.LabelPlayer, Shape: shape, Friction: shape.Friction, Pos: pos, Vel: vel})
}

func (w *World) RemoveBody(id physics.BodyID) bool {
	b := w.Bodies[id]
	if b == nil || b.Removed {
		return false
	}
	b.Removed = true
	return true
}

func (w *World) MoveBody(id physics.BodyID, pos physics.Vec2) {
	if b := w.Bodies[id]; b != nil {
		b.Pos = pos
		b.Rect.X, b.Rect.Y = pos.X, pos.Y
	}
}

func (w *World) SetCollidable(id physics.BodyID, on bool) {
	if b := w.Bodies[id]; b != nil {
		b.Collidable = on
	}
}

func (w *World) SetFriction(id physics.BodyID, friction float64) {
	if b := w.Bodies[id]; b != nil {
		b.Friction = friction
	}
}

func (w *World) Position(id physics.BodyID) physics.Vec2 {
	if b := w.Bodies[id]; b != nil {
		return b.Pos
	}
	return physics.Vec2{}
}

func (w *World) Velocity(id physics.BodyID) physics.Vec2 {
	if b := w.Bodies[id]; b != nil {
		return b.Vel
	}
	return physics.Vec2{}
}

func (w *World) SetVelocity(id physics.BodyID, v physics.Vec2) {
	if b := w.Bodies[id]; b != nil {
		b.Vel = v
	}
}

func (w *World) ApplyForce(id physics.BodyID, f physics.Vec2) {
	if b := w.Bodies[id]; b != nil {
		b.Force = b.Force.Add(f)
	}
}

func (w *World) ApplyImpulse(id physics.BodyID, j physics.Vec2) {
	b := w.Bodies[id]
	if b == nil {
		return
	}
	w.Impulses = append(w.Impulses, j)
	mass := b.Shape.Mass
	if mass <= 0 {
		mass = 1
	}
	b.Vel = b.Vel.Add(j.Scale(1 / mass))
}

func (w *World) AddSpring(body physics.BodyID, anchor physics.Vec2, length float64, p physics.SpringParams) (physics.ConstraintID, bool) {
	if w.FailSprings {
		return 0, false
	}
	if b := w.Bodies[body]; b == nil || b.Removed {
		return 0, false
	}
	w.nextSpring++
	id := w.nextSpring
	w.Springs[id] = &Spring{ID: id, Body: body, Anchor: anchor, Length: length, Params: p}
	return id, true
}

func (w *World) SetSpringLength(c physics.ConstraintID, length float64) bool {
	s := w.Springs[c]
	if s == nil {
		return false
	}
	s.Length = length
	return true
}

func (w *World) RemoveConstraint(c physics.ConstraintID) bool {
	if _, ok := w.Springs[c]; !ok {
		return false
	}
	delete(w.Springs, c)
	w.RemovedConstraints++
	return true
}

func (w *World) HasConstraint(c physics.ConstraintID) bool {
	_, ok := w.Springs[c]
	return ok
}

var _ physics.World = (*World)(nil)
