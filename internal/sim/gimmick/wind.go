package gimmick

import (
	"math"

	"evoclimb.io/internal/sim/physics"
)

// Wind pushes the player sideways with a force that oscillates with sim time.
type Wind struct {
	id       string
	rect     physics.Rect
	periodMs float64
	maxForce float64
}

func NewWind(id string, rect physics.Rect, periodMs, maxForce float64) *Wind {
	return &Wind{id: id, rect: rect, periodMs: periodMs, maxForce: maxForce}
}

func (w *Wind) ID() string { return w.id }

// Force is the horizontal force at nowMs, regardless of where the player is.
func (w *Wind) Force(nowMs float64) float64 {
	if w.periodMs <= 0 {
		return 0
	}
	return math.Sin(2*math.Pi*nowMs/w.periodMs) * w.maxForce
}

func (w *Wind) Update(nowMs float64, p PlayerView) []Event {
	if !w.rect.Contains(p.Pos) {
		return nil
	}
	f := w.Force(nowMs)
	if f == 0 {
		return nil
	}
	return []Event{{Kind: EventForce, Gimmick: w.id, Body: p.Body, Vec: physics.Vec2{X: f}}}
}

func (w *Wind) OnContact(physics.Contact, float64) {}

func (w *Wind) Visual() Visual { return Visual{State: "wind", Alpha: 1} }

func (w *Wind) Reset() {}
