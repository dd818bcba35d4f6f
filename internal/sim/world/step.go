package world

import (
	"encoding/json"
	"time"

	"evoclimb.io/internal/protocol"
	"evoclimb.io/internal/sim/gimmick"
	"evoclimb.io/internal/sim/grapple"
	"evoclimb.io/internal/sim/movement"
	"evoclimb.io/internal/sim/physics"
	"evoclimb.io/internal/sim/stage"
	"evoclimb.io/internal/sim/stats"
)

func (w *World) step(in protocol.InputMsg) {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	w.events = w.events[:0]
	w.collected = w.collected[:0]

	if in.Restart {
		w.restart()
		w.event("RESTART", map[string]interface{}{"run": w.run})
	}

	switch {
	case w.status != StatusRunning:
		// Finished runs stay frozen until restart.
	case w.paused:
		w.stepOffer(in)
	default:
		w.stepRunning(in)
	}

	digest := w.stateDigest(nowTick)
	if len(w.subs) > 0 {
		frame := w.buildFrame(nowTick)
		frame.Digest = digest
		if b, err := json.Marshal(frame); err == nil {
			for _, ch := range w.subs {
				sendLatest(ch, b)
			}
		}
	}
	if w.tickLogger != nil {
		entry := TickLogEntry{Tick: nowTick, Digest: digest}
		if in != (protocol.InputMsg{}) {
			rec := in
			entry.Input = &rec
		}
		_ = w.tickLogger.WriteTick(entry)
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.metrics.Store(WorldMetrics{
		Tick:        nextTick,
		Run:         w.run,
		Status:      w.status,
		Paused:      w.paused,
		Subscribers: len(w.subs),
		InboxDepth:  len(w.inbox),
		StepMS:      stepMS,
	})
}

// stepOffer handles the open evolution offer. Nothing else moves while it is open.
func (w *World) stepOffer(in protocol.InputMsg) {
	switch {
	case in.Choose != "":
		u, ok := w.engine.Choose(in.Choose)
		if !ok {
			return
		}
		w.paused = false
		w.event("CHOSEN", map[string]interface{}{"node": u.Node.ID})
		w.unlockEvent(u.Node.ID, u.Node.Tier, string(u.Node.Branch))
		w.applyStats()
	case in.Skip:
		w.engine.Skip()
		w.paused = false
		w.event("SKIPPED", nil)
	}
}

func (w *World) stepRunning(in protocol.InputMsg) {
	s := w.resolver.Resolve(w.engine.Active())
	dtMs := w.tu.TickMs()
	nowMs := w.SimMs()

	// Grapple input: release, boost, fire, reel.
	if in.Release {
		w.release(grapple.ReasonManual)
	}
	if in.Secondary {
		w.release(grapple.ReasonSecondary)
	}
	jump := in.Jump
	if in.Boost || in.Jump {
		if w.grapple.JumpRelease(s) {
			w.event("DETACH", map[string]interface{}{"reason": string(grapple.ReasonJump)})
			w.event("JUMP", map[string]interface{}{"kind": "rope"})
			jump = false
		}
	}
	if in.Fire != nil {
		if idx, ok := w.grapple.Fire(physics.Vec2{X: in.Fire.X, Y: in.Fire.Y}, s); ok {
			w.event("ATTACH", map[string]interface{}{"hook": idx, "decoy": w.decoyHooks[idx]})
		}
	}
	if in.Reel != 0 {
		w.grapple.Reel(in.Reel, dtMs, s)
	}

	_, roped := w.grapple.Link()
	res := w.mover.Apply(w.body,
		movement.Input{Axis: in.Axis, Jump: jump, Charge: in.Charge},
		movement.Support{Grounded: w.ground.Grounded(), Wall: w.walls.Side(), Roped: roped},
		s, dtMs)
	if res.Jumped {
		kind := "ground"
		if res.WallJump {
			kind = "wall"
		}
		w.event("JUMP", map[string]interface{}{"kind": kind, "charge": res.Charge})
	}

	for _, c := range w.phys.Step(dtMs / 1000) {
		w.routeContact(c, s, nowMs)
	}

	pos := w.phys.Position(w.body)
	_, roped = w.grapple.Link()
	w.ground.Observe(pos.Y, roped)

	w.applyStats()

	hook := -1
	if l, ok := w.grapple.Link(); ok {
		hook = l.Hook
	}
	w.applyGimmickEvents(w.gimmicks.Update(nowMs, gimmick.PlayerView{Body: w.body, Pos: pos, Hook: hook}))

	w.simTick++

	switch {
	case w.hp <= 0:
		w.endRun(StatusDead, grapple.ReasonDeath, "DEATH")
	case w.goal:
		w.endRun(StatusCleared, grapple.ReasonVictory, "VICTORY")
	}
}

func (w *World) release(reason grapple.Reason) {
	if idx, ok := w.grapple.Release(reason); ok {
		w.event("DETACH", map[string]interface{}{"reason": string(reason), "hook": idx})
	}
}

func (w *World) routeContact(c physics.Contact, s stats.Stats, nowMs float64) {
	if l, ok := w.ground.OnContact(c, s.FallDamageMul); ok {
		w.event("LANDING", map[string]interface{}{"fall": l.Fall, "damage": l.Damage})
		w.damage(l.Damage)
	}
	w.walls.OnContact(c)
	w.gimmicks.OnContact(c, nowMs)

	if c.Phase != physics.ContactBegin {
		return
	}
	other, ok := c.Other(w.body)
	if !ok {
		return
	}
	switch other.Label {
	case physics.LabelPickup:
		w.collect(other.Pos)
	case physics.LabelRecovery:
		w.heal(w.tu.Pickups.RecoveryHP)
	case physics.LabelDeathZone:
		w.damage(w.hp)
	case physics.LabelGoal:
		w.goal = true
	}
}

// collect resolves a pickup contact to the nearest uncollected pickup within the match
// radius. Each pickup is collected at most once per run.
func (w *World) collect(at physics.Vec2) {
	best, bestDist := -1, w.tu.Pickups.MatchRadius
	for i, p := range w.pickups {
		if p.collected {
			continue
		}
		if d := p.Pos().Dist(at); d <= bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return
	}
	p := &w.pickups[best]
	p.collected = true
	w.phys.SetCollidable(p.body, false)
	w.phys.MoveBody(p.body, w.park(p.X))
	w.collected = append(w.collected, best)
	w.event("PICKUP", map[string]interface{}{"index": best, "kind": pickupKind(p.Pickup), "amount": p.Amount})

	switch p.Kind {
	case stage.PickupFood:
		for _, u := range w.engine.Consume(p.Resource, p.Amount) {
			w.unlockEvent(u.Node.ID, u.Node.Tier, string(u.Node.Branch))
		}
	case stage.PickupEvolve:
		if w.engine.Auto() {
			return
		}
		offer := w.engine.Offer(w.rng, w.tu.OfferSize)
		if len(offer) == 0 {
			return
		}
		ids := make([]string, 0, len(offer))
		for _, n := range offer {
			ids = append(ids, n.ID)
		}
		w.paused = true
		w.event("OFFER", map[string]interface{}{"nodes": ids})
	}
}

func (w *World) unlockEvent(id string, tier int, branch string) {
	w.event("UNLOCK", map[string]interface{}{"node": id, "tier": tier, "branch": branch})
}

func (w *World) damage(n int) {
	if n <= 0 || w.hp <= 0 {
		return
	}
	w.hp -= n
	if w.hp < 0 {
		w.hp = 0
	}
}

// heal and the max-HP top-up leave a zero HP alone: death is final for the tick it happens in.
func (w *World) heal(n int) {
	if n <= 0 || w.hp <= 0 || w.hp >= w.maxHP {
		return
	}
	before := w.hp
	w.hp += n
	if w.hp > w.maxHP {
		w.hp = w.maxHP
	}
	w.event("HEAL", map[string]interface{}{"amount": w.hp - before})
}

// applyStats pushes the resolved stats into the live run: HP cap, surface friction, body
// tier and rope range.
func (w *World) applyStats() {
	s := w.resolver.Resolve(w.engine.Active())
	if s.MaxHP != w.maxHP {
		if s.MaxHP > w.maxHP && w.hp > 0 {
			w.hp += s.MaxHP - w.maxHP
		}
		w.maxHP = s.MaxHP
		if w.hp > w.maxHP {
			w.hp = w.maxHP
		}
	}
	switch {
	case s.BodyTier != w.bodyTier:
		w.swapBody(s)
	case s.Friction != w.friction:
		w.phys.SetFriction(w.body, s.Friction)
		w.friction = s.Friction
	}
	w.grapple.Clamp(s.GrappleRange)
}

// swapBody replaces the player body with one for the resolved tier. The new body keeps
// position, velocity and the feet line; the rope is moved over before the old body goes.
func (w *World) swapBody(s stats.Stats) {
	old := w.body
	pos := w.phys.Position(old)
	vel := w.phys.Velocity(old)
	wd, h := w.resolver.BodyShape(s)
	pos.Y -= (h - w.bodyH) / 2

	nb := w.phys.AddPlayer(physics.BodyShape{
		Width:    wd,
		Height:   h,
		Mass:     w.tu.Player.Mass,
		Friction: s.Friction,
	}, pos, vel)
	if !w.grapple.Rehome(nb) {
		w.event("DETACH", map[string]interface{}{"reason": string(grapple.ReasonRehomeFailed)})
	}
	w.phys.RemoveBody(old)
	w.ground.Rebind(nb, pos.Y)
	w.walls.Rebind(nb)
	w.walls.Reset()

	from := w.bodyTier
	w.body = nb
	w.bodyTier = s.BodyTier
	w.bodyW, w.bodyH = wd, h
	w.friction = s.Friction
	w.event("BODY_SWAP", map[string]interface{}{"from": from, "to": s.BodyTier, "w": wd, "h": h})
}

func (w *World) applyGimmickEvents(evs []gimmick.Event) {
	for _, ev := range evs {
		switch ev.Kind {
		case gimmick.EventRelease:
			if idx, ok := w.grapple.Release(grapple.ReasonDecoy); ok {
				w.event("DETACH", map[string]interface{}{"reason": string(grapple.ReasonDecoy), "hook": idx, "gimmick": ev.Gimmick})
			}
		case gimmick.EventForce:
			w.phys.ApplyForce(w.body, ev.Vec)
		case gimmick.EventMoveBody:
			w.phys.MoveBody(ev.Body, ev.Vec)
		case gimmick.EventCollidable:
			w.phys.SetCollidable(ev.Body, ev.On)
			if !ev.On {
				w.ground.Forget(ev.Body, w.phys.Position(w.body).Y)
			}
		case gimmick.EventVisual:
			w.event("GIMMICK", map[string]interface{}{
				"id":      ev.Gimmick,
				"state":   ev.Visual.State,
				"urgency": ev.Visual.Urgency,
				"alpha":   ev.Visual.Alpha,
			})
		}
	}
}

// endRun moves the run to a terminal status. The run is recorded once, however often the
// terminal condition is seen.
func (w *World) endRun(status string, reason grapple.Reason, typ string) {
	w.status = status
	w.release(reason)
	w.mover.Reset()
	w.event(typ, map[string]interface{}{"hp": w.hp, "ticks": w.simTick})
	if w.recorded {
		return
	}
	w.recorded = true
	if w.recorder == nil {
		return
	}
	pools := map[string]int{}
	for r, n := range w.engine.Pools() {
		pools[string(r)] = n
	}
	w.recorder.RecordRun(RunRecord{
		Stage:       w.stage.Name,
		Run:         w.run,
		Unlocked:    w.engine.Active(),
		Cleared:     status == StatusCleared,
		RemainingHP: w.hp,
		Ticks:       w.simTick,
		Pools:       pools,
		EndTick:     w.tick.Load(),
	})
}

func (w *World) event(typ string, fields map[string]interface{}) {
	e := protocol.Event{"t": w.tick.Load(), "type": typ}
	for k, v := range fields {
		e[k] = v
	}
	w.events = append(w.events, e)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
