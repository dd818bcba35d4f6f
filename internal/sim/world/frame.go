package world

import (
	"evoclimb.io/internal/protocol"
	"evoclimb.io/internal/sim/physics"
)

func vec(v physics.Vec2) protocol.Vec { return protocol.Vec{X: v.X, Y: v.Y} }

// buildFrame renders the current state for subscribers. Digest is filled in by the caller.
func (w *World) buildFrame(nowTick uint64) protocol.FrameMsg {
	f := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		TimeMs:          int64(w.SimMs()),
		Status:          w.status,
		Paused:          w.paused,
		Player: protocol.PlayerFrame{
			Pos:      vec(w.phys.Position(w.body)),
			Vel:      vec(w.phys.Velocity(w.body)),
			W:        w.bodyW,
			H:        w.bodyH,
			HP:       w.hp,
			MaxHP:    w.maxHP,
			Grounded: w.ground.Grounded(),
			BodyTier: w.bodyTier,
			Charge:   w.mover.ChargeRatio(),
		},
		Pools:  map[string]int{},
		Active: w.engine.Active(),
		Events: make([]protocol.Event, len(w.events)),
	}
	copy(f.Events, w.events)

	if l, ok := w.grapple.Link(); ok {
		f.Grapple = &protocol.GrappleFrame{Hook: l.Hook, Anchor: vec(l.Anchor), Length: l.Length}
	}
	for r, n := range w.engine.Pools() {
		f.Pools[string(r)] = n
	}
	for _, id := range w.engine.Pending() {
		n, ok := w.cfg.Evolution.Node(id)
		if !ok {
			continue
		}
		f.Offer = append(f.Offer, protocol.OfferNode{
			ID:          n.ID,
			Branch:      string(n.Branch),
			Tier:        n.Tier,
			Name:        n.Name,
			Description: n.Description,
		})
	}
	if len(w.collected) > 0 {
		f.Collected = append([]int(nil), w.collected...)
	}
	if vis := w.gimmicks.Visuals(); len(vis) > 0 {
		f.Gimmicks = make(map[string]protocol.GimmickView, len(vis))
		for id, v := range vis {
			f.Gimmicks[id] = protocol.GimmickView{State: v.State, Urgency: v.Urgency, Alpha: v.Alpha}
		}
	}
	return f
}

// Frame returns the current state as a FRAME message, digest included.
func (w *World) Frame() protocol.FrameMsg {
	nowTick := w.tick.Load()
	f := w.buildFrame(nowTick)
	f.Digest = w.stateDigest(nowTick)
	return f
}
