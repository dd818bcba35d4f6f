package gimmick

import "evoclimb.io/internal/sim/physics"

type BreakState string

const (
	Solid      BreakState = "solid"
	Warning    BreakState = "warning"
	Collapsed  BreakState = "collapsed"
	Respawning BreakState = "respawning"
)

type BreakTiming struct {
	WarnMs     float64
	CollapseMs float64
	RespawnMs  float64
	FadeMs     float64
}

// Breakable is a platform that collapses a fixed time after the player first touches
// it. Leaving early does not stop the collapse.
type Breakable struct {
	id          string
	body        physics.BodyID
	rect        physics.Rect
	respawnable bool
	timing      BreakTiming
	park        physics.Vec2

	state     BreakState
	enteredAt float64
	escalated bool
	pending   bool
	visual    Visual
}

// NewBreakable wraps the platform body. park is where the body waits while collapsed.
func NewBreakable(id string, body physics.BodyID, rect physics.Rect, respawnable bool, timing BreakTiming, park physics.Vec2) *Breakable {
	b := &Breakable{id: id, body: body, rect: rect, respawnable: respawnable, timing: timing, park: park}
	b.Reset()
	return b
}

func (b *Breakable) ID() string           { return b.id }
func (b *Breakable) Body() physics.BodyID { return b.body }
func (b *Breakable) State() BreakState    { return b.state }
func (b *Breakable) Visual() Visual       { return b.visual }

func (b *Breakable) OnContact(c physics.Contact, nowMs float64) {
	if c.Phase != physics.ContactBegin || b.state != Solid {
		return
	}
	other, ok := c.Other(b.body)
	if !ok || other.Label != physics.LabelPlayer {
		return
	}
	b.enter(Warning, nowMs)
	b.pending = true
}

func (b *Breakable) enter(s BreakState, nowMs float64) {
	b.state = s
	b.enteredAt = nowMs
	b.escalated = false
}

func (b *Breakable) Update(nowMs float64, _ PlayerView) []Event {
	since := nowMs - b.enteredAt
	var out []Event
	switch b.state {
	case Warning:
		if b.pending {
			b.pending = false
			b.visual = Visual{State: string(Warning), Alpha: 1}
			out = append(out, visualEvent(b.id, b.visual))
		}
		if since >= b.timing.CollapseMs {
			b.enter(Collapsed, nowMs)
			b.visual = Visual{State: string(Collapsed)}
			return append(out,
				Event{Kind: EventCollidable, Gimmick: b.id, Body: b.body, On: false},
				Event{Kind: EventMoveBody, Gimmick: b.id, Body: b.body, Vec: b.park},
				visualEvent(b.id, b.visual),
			)
		}
		if !b.escalated && since >= b.timing.WarnMs {
			b.escalated = true
			b.visual = Visual{State: string(Warning), Urgency: 1, Alpha: 1}
			out = append(out, visualEvent(b.id, b.visual))
		}
	case Collapsed:
		if b.respawnable && since >= b.timing.RespawnMs {
			b.enter(Respawning, nowMs)
			b.visual = Visual{State: string(Respawning)}
			out = append(out, visualEvent(b.id, b.visual))
		}
	case Respawning:
		if since >= b.timing.FadeMs {
			b.enter(Solid, nowMs)
			b.visual = Visual{State: string(Solid), Alpha: 1}
			return append(out,
				Event{Kind: EventMoveBody, Gimmick: b.id, Body: b.body, Vec: b.rect.Center()},
				Event{Kind: EventCollidable, Gimmick: b.id, Body: b.body, On: true},
				visualEvent(b.id, b.visual),
			)
		}
		b.visual.Alpha = since / b.timing.FadeMs
	}
	return out
}

func (b *Breakable) Reset() {
	b.state = Solid
	b.enteredAt = 0
	b.escalated = false
	b.pending = false
	b.visual = Visual{State: string(Solid), Alpha: 1}
}
