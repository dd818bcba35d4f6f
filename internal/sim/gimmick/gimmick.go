// Package gimmick holds the time-driven stage hazards. Gimmicks never touch the physics
// world; they return Events and the world applies them between steps.
package gimmick

import "evoclimb.io/internal/sim/physics"

type EventKind uint8

const (
	// EventRelease asks the world to drop the grapple.
	EventRelease EventKind = iota + 1
	// EventForce pushes the player by Vec this tick.
	EventForce
	// EventMoveBody teleports Body to Vec.
	EventMoveBody
	// EventCollidable turns collision for Body on or off.
	EventCollidable
	// EventVisual reports a change of Visual for the renderer.
	EventVisual
)

func (k EventKind) String() string {
	switch k {
	case EventRelease:
		return "release"
	case EventForce:
		return "force"
	case EventMoveBody:
		return "move_body"
	case EventCollidable:
		return "collidable"
	case EventVisual:
		return "visual"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Gimmick string
	Body    physics.BodyID
	Vec     physics.Vec2
	On      bool
	Visual  Visual
}

// Visual is what a renderer needs to draw a gimmick; Urgency and Alpha are in [0, 1].
type Visual struct {
	State   string  `json:"state"`
	Urgency float64 `json:"urgency,omitempty"`
	Alpha   float64 `json:"alpha"`
}

// PlayerView is the read-only player state gimmicks are updated with. Hook is the
// index of the held hook, or -1.
type PlayerView struct {
	Body physics.BodyID
	Pos  physics.Vec2
	Hook int
}

type Gimmick interface {
	ID() string
	Update(nowMs float64, p PlayerView) []Event
	OnContact(c physics.Contact, nowMs float64)
	Visual() Visual
	Reset()
}

// Registry owns every gimmick of a stage, in stage order.
type Registry struct {
	items []Gimmick
	byID  map[string]Gimmick
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]Gimmick{}}
}

func (r *Registry) Add(g Gimmick) {
	r.items = append(r.items, g)
	r.byID[g.ID()] = g
}

func (r *Registry) Get(id string) (Gimmick, bool) {
	g, ok := r.byID[id]
	return g, ok
}

func (r *Registry) All() []Gimmick { return r.items }

func (r *Registry) Update(nowMs float64, p PlayerView) []Event {
	var out []Event
	for _, g := range r.items {
		out = append(out, g.Update(nowMs, p)...)
	}
	return out
}

func (r *Registry) OnContact(c physics.Contact, nowMs float64) {
	for _, g := range r.items {
		g.OnContact(c, nowMs)
	}
}

func (r *Registry) Reset() {
	for _, g := range r.items {
		g.Reset()
	}
}

// Visuals returns the current visual state of every gimmick keyed by id.
func (r *Registry) Visuals() map[string]Visual {
	out := make(map[string]Visual, len(r.items))
	for _, g := range r.items {
		out[g.ID()] = g.Visual()
	}
	return out
}

func visualEvent(id string, v Visual) Event {
	return Event{Kind: EventVisual, Gimmick: id, Visual: v}
}
