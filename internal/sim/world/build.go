package world

import (
	"fmt"
	"math"
	"math/rand"

	"evoclimb.io/internal/sim/gimmick"
	"evoclimb.io/internal/sim/grapple"
	"evoclimb.io/internal/sim/ground"
	"evoclimb.io/internal/sim/movement"
	"evoclimb.io/internal/sim/physics"
	"evoclimb.io/internal/sim/stage"
)

const (
	pickupSize       = 24
	platformFriction = 0.8
)

// build adds the static stage to the physics world and spawns the first player body.
func (w *World) build() {
	st := w.stage
	tu := w.tu

	for _, p := range st.Platforms {
		f := p.Friction
		if f == 0 {
			f = platformFriction
		}
		w.phys.AddStatic(physics.LabelPlatform, p.Rect, f)
	}
	for _, r := range st.Walls {
		w.phys.AddStatic(physics.LabelWall, r, platformFriction)
	}

	timing := gimmick.BreakTiming{
		WarnMs:     tu.Gimmicks.BreakWarnMs,
		CollapseMs: tu.Gimmicks.BreakCollapseMs,
		RespawnMs:  tu.Gimmicks.BreakRespawnMs,
		FadeMs:     tu.Gimmicks.BreakFadeMs,
	}
	for i, b := range st.Breakables {
		id := w.phys.AddStatic(physics.LabelBreakable, b.Rect, platformFriction)
		g := gimmick.NewBreakable(fmt.Sprintf("break-%d", i), id, b.Rect, b.Respawn, timing, w.park(b.X))
		w.breakables[id] = breakable{g: g, rect: b.Rect}
		w.gimmicks.Add(g)
	}

	hooks := make([]grapple.Hook, 0, len(st.Hooks))
	for i, h := range st.Hooks {
		hooks = append(hooks, grapple.Hook{Pos: h.Pos(), Decoy: h.Decoy})
		if h.Decoy {
			w.decoyHooks[i] = true
			w.gimmicks.Add(gimmick.NewDecoy(fmt.Sprintf("decoy-%d", i), i, tu.Gimmicks.DecoyWarnMs, tu.Gimmicks.DecoyDetachMs))
		}
	}
	for i, wz := range st.Winds {
		w.gimmicks.Add(gimmick.NewWind(fmt.Sprintf("wind-%d", i), wz.Rect, wz.PeriodMs, wz.MaxForce))
	}

	for _, p := range st.Pickups {
		r := physics.Rect{X: p.X, Y: p.Y, W: pickupSize, H: pickupSize}
		id := w.phys.AddStatic(physics.LabelPickup, r, 0)
		w.pickups = append(w.pickups, pickup{Pickup: p, body: id})
	}
	for _, r := range st.Recovery {
		w.phys.AddStatic(physics.LabelRecovery, r, 0)
	}
	for _, r := range st.Goals {
		w.phys.AddStatic(physics.LabelGoal, r, 0)
	}
	for _, r := range st.DeathZones {
		w.phys.AddStatic(physics.LabelDeathZone, r, 0)
	}

	w.spawnPlayer()
	w.grapple = grapple.New(w.phys, w.body, hooks, grapple.Config{
		MinRope:       tu.Grapple.MinRope,
		AimCone:       tu.Grapple.AimConeDeg * math.Pi / 180,
		AngleWeight:   tu.Grapple.AngleWeight,
		DistWeight:    tu.Grapple.DistWeight,
		Spring:        physics.SpringParams{Stiffness: tu.Grapple.Stiffness, Damping: tu.Grapple.Damping},
		BoostImpulse:  tu.Grapple.BoostImpulse,
		MomentumScale: tu.Grapple.MomentumScale,
	})
	w.ground = ground.NewTracker(w.body, ground.CurveFrom(tu.Fall), st.Spawn.Y)
	w.walls = movement.NewWalls(w.body)
	w.mover = movement.NewMover(w.phys, tu)
	w.beginRun()
}

func (w *World) park(x float64) physics.Vec2 {
	return physics.Vec2{X: x, Y: w.tu.Gimmicks.ParkY}
}

// spawnPlayer creates a base-tier body at the stage spawn point.
func (w *World) spawnPlayer() {
	s := w.resolver.Resolve(nil)
	wd, h := w.resolver.BodyShape(s)
	w.body = w.phys.AddPlayer(physics.BodyShape{
		Width:    wd,
		Height:   h,
		Mass:     w.tu.Player.Mass,
		Friction: s.Friction,
	}, w.stage.Spawn, physics.Vec2{})
	w.bodyTier = s.BodyTier
	w.bodyW, w.bodyH = wd, h
	w.friction = s.Friction
}

func (w *World) beginRun() {
	s := w.resolver.Resolve(nil)
	w.hp = s.MaxHP
	w.maxHP = s.MaxHP
	w.status = StatusRunning
	w.goal = false
	w.paused = false
	w.recorded = false
	w.simTick = 0
	w.runStart = w.tick.Load()
	w.rng = rand.New(rand.NewSource(w.cfg.Seed + int64(w.run)))
}

// restart resets the run in place: engine, hazards, pickups, rope and player body.
func (w *World) restart() {
	if _, ok := w.grapple.Release(grapple.ReasonRestart); ok {
		w.event("DETACH", map[string]interface{}{"reason": string(grapple.ReasonRestart)})
	}
	w.engine.Reset()
	w.gimmicks.Reset()
	for id, b := range w.breakables {
		w.phys.MoveBody(id, b.rect.Center())
		w.phys.SetCollidable(id, true)
	}
	for i := range w.pickups {
		p := &w.pickups[i]
		if p.collected {
			p.collected = false
			w.phys.MoveBody(p.body, p.Pos())
			w.phys.SetCollidable(p.body, true)
		}
	}

	w.phys.RemoveBody(w.body)
	w.spawnPlayer()
	w.grapple.Rehome(w.body)
	w.ground.Rebind(w.body, w.stage.Spawn.Y)
	w.ground.Reset(w.stage.Spawn.Y)
	w.walls.Rebind(w.body)
	w.walls.Reset()
	w.mover.Reset()

	w.run++
	w.beginRun()
}

func pickupKind(p stage.Pickup) string {
	if p.Kind == stage.PickupEvolve {
		return stage.PickupEvolve
	}
	return string(p.Resource)
}
