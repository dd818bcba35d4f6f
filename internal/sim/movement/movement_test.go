package movement

import (
	"math"
	"testing"

	"evoclimb.io/internal/sim/physics"
	"evoclimb.io/internal/sim/physics/physicstest"
	"evoclimb.io/internal/sim/stats"
	"evoclimb.io/internal/sim/tuning"
)

func setup() (*physicstest.World, *Mover, physics.BodyID, tuning.Tuning) {
	tu := tuning.Defaults()
	w := physicstest.New()
	body := w.AddPlayer(physics.BodyShape{Width: 24, Height: 32, Mass: 1}, physics.Vec2{}, physics.Vec2{})
	return w, NewMover(w, tu), body, tu
}

var base = stats.Stats{Jump: true, AirControl: 500}

func TestGroundRunSetsVelocity(t *testing.T) {
	w, m, body, tu := setup()
	w.SetVelocity(body, physics.Vec2{X: 0, Y: 12})
	m.Apply(body, Input{Axis: -1}, Support{Grounded: true}, base, 16)
	if v := w.Velocity(body); v.X != -tu.Player.RunSpeed || v.Y != 12 {
		t.Fatalf("v=%+v", v)
	}
}

func TestRunStopsAtTouchingWall(t *testing.T) {
	w, m, body, tu := setup()
	w.SetVelocity(body, physics.Vec2{X: -50})
	m.Apply(body, Input{Axis: -1}, Support{Grounded: true, Wall: -1}, base, 16)
	if v := w.Velocity(body); v.X != 0 {
		t.Fatalf("ran into the wall: v=%+v", v)
	}
	m.Apply(body, Input{Axis: 1}, Support{Grounded: true, Wall: -1}, base, 16)
	if v := w.Velocity(body); v.X != tu.Player.RunSpeed {
		t.Fatalf("could not run away from the wall: v=%+v", v)
	}
	m.Apply(body, Input{Axis: 1}, Support{Wall: 1}, base, 16)
	if f := w.Bodies[body].Force; f.X != 0 {
		t.Fatalf("air control pushed into the wall: force=%+v", f)
	}
}

func TestAirControlAppliesForce(t *testing.T) {
	w, m, body, _ := setup()
	m.Apply(body, Input{Axis: 2}, Support{}, base, 16)
	if f := w.Bodies[body].Force; f.X != base.AirControl {
		t.Fatalf("force=%+v", f)
	}
}

func TestJumpOnlyFromGround(t *testing.T) {
	w, m, body, tu := setup()
	if r := m.Apply(body, Input{Jump: true}, Support{}, base, 16); r.Jumped {
		t.Fatalf("jumped in the air")
	}
	r := m.Apply(body, Input{Jump: true}, Support{Grounded: true}, base, 16)
	if !r.Jumped || len(w.Impulses) != 1 || w.Impulses[0].Y != -tu.Jump.Impulse {
		t.Fatalf("jump=%+v impulses=%v", r, w.Impulses)
	}
	if r := m.Apply(body, Input{Jump: true}, Support{Grounded: true, Roped: true}, base, 16); r.Jumped {
		t.Fatalf("jumped while roped")
	}
}

func TestChargedJumpScales(t *testing.T) {
	w, m, body, tu := setup()
	s := base
	s.ChargedJump = true
	for i := 0; i < 100; i++ {
		m.Apply(body, Input{Charge: true}, Support{Grounded: true}, s, 16)
	}
	if m.ChargeRatio() != 1 {
		t.Fatalf("ratio=%f", m.ChargeRatio())
	}
	r := m.Apply(body, Input{}, Support{Grounded: true}, s, 16)
	if !r.Jumped || r.Charge != 1 {
		t.Fatalf("release=%+v", r)
	}
	want := -tu.Jump.Impulse * (1 + tu.Jump.ChargeBonus)
	if got := w.Impulses[len(w.Impulses)-1].Y; math.Abs(got-want) > 1e-9 {
		t.Fatalf("impulse=%f want %f", got, want)
	}
	if m.Charging() {
		t.Fatalf("still charging")
	}
}

func TestChargeDropsWhenAirborne(t *testing.T) {
	_, m, body, _ := setup()
	s := base
	s.ChargedJump = true
	m.Apply(body, Input{Charge: true}, Support{Grounded: true}, s, 100)
	m.Apply(body, Input{Charge: true}, Support{}, s, 100)
	if m.Charging() || m.ChargeRatio() != 0 {
		t.Fatalf("charge kept in the air")
	}
}

func TestStickyWallSlideAndJump(t *testing.T) {
	w, m, body, tu := setup()
	s := base
	s.StickyWall = true
	w.SetVelocity(body, physics.Vec2{Y: 400})
	m.Apply(body, Input{}, Support{Wall: 1}, s, 16)
	if v := w.Velocity(body); v.Y != tu.Jump.WallSlideSpeed {
		t.Fatalf("slide v=%+v", v)
	}
	r := m.Apply(body, Input{Jump: true}, Support{Wall: 1}, s, 16)
	if !r.Jumped || !r.WallJump {
		t.Fatalf("wall jump=%+v", r)
	}
	if j := w.Impulses[len(w.Impulses)-1]; j.X != -tu.Jump.WallJumpPush {
		t.Fatalf("wall jump impulse=%+v", j)
	}

	// Without the sticky flag walls do nothing.
	w2, m2, body2, _ := setup()
	w2.SetVelocity(body2, physics.Vec2{Y: 400})
	if r := m2.Apply(body2, Input{Jump: true}, Support{Wall: 1}, base, 16); r.Jumped {
		t.Fatalf("wall jump without sticky pads")
	}
	if v := w2.Velocity(body2); v.Y != 400 {
		t.Fatalf("slid without sticky pads")
	}
}

func TestWallsTrackSides(t *testing.T) {
	ws := NewWalls(1)
	left := physics.Contact{
		Phase: physics.ContactBegin,
		A:     physics.BodyRef{ID: 1, Label: physics.LabelPlayer, Pos: physics.Vec2{X: 50}},
		B:     physics.BodyRef{ID: 4, Label: physics.LabelWall, Pos: physics.Vec2{X: 0}},
	}
	ws.OnContact(left)
	if ws.Side() != -1 {
		t.Fatalf("side=%d", ws.Side())
	}
	left.Phase = physics.ContactEnd
	ws.OnContact(left)
	ws.OnContact(left)
	if ws.Side() != 0 {
		t.Fatalf("side=%d", ws.Side())
	}
}
