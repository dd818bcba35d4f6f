package ground

import (
	"math"

	"evoclimb.io/internal/sim/physics"
	"evoclimb.io/internal/sim/tuning"
)

// Curve converts fall distance to damage. Falls at or below Threshold are free; past the
// last band damage stays at that band's max.
type Curve struct {
	Threshold float64
	Bands     []tuning.Band
}

func CurveFrom(f tuning.Fall) Curve {
	return Curve{Threshold: f.Threshold, Bands: f.Bands}
}

// Damage is the unscaled damage for a fall of dist.
func (c Curve) Damage(dist float64) float64 {
	if dist <= c.Threshold || len(c.Bands) == 0 {
		return 0
	}
	for _, b := range c.Bands {
		if dist < b.From {
			return b.Min
		}
		if dist <= b.To {
			return b.Min + (dist-b.From)/(b.To-b.From)*(b.Max-b.Min)
		}
	}
	return c.Bands[len(c.Bands)-1].Max
}

// Scaled applies the fall damage multiplier and rounds to whole HP.
func (c Curve) Scaled(dist, mul float64) int {
	d := math.Round(c.Damage(dist) * mul)
	if d < 0 {
		return 0
	}
	return int(d)
}

// Landing is reported on the airborne to grounded transition.
type Landing struct {
	Fall    float64
	Damage  int
	Surface physics.BodyID
}

// Tracker keeps the set of surfaces currently supporting the player and the highest
// point reached since leaving the ground.
type Tracker struct {
	player   physics.BodyID
	curve    Curve
	surfaces map[physics.BodyID]bool
	peak     float64
}

func NewTracker(player physics.BodyID, curve Curve, startY float64) *Tracker {
	return &Tracker{player: player, curve: curve, surfaces: map[physics.BodyID]bool{}, peak: startY}
}

func (t *Tracker) Player() physics.BodyID { return t.player }
func (t *Tracker) Grounded() bool         { return len(t.surfaces) > 0 }
func (t *Tracker) Count() int             { return len(t.surfaces) }
func (t *Tracker) Peak() float64          { return t.peak }

// Rebind points the tracker at a replacement player body at height y. Contacts of the old
// body are dropped; if it was standing the peak moves to y so the new body settling back
// onto the same surface is not a fall.
func (t *Tracker) Rebind(player physics.BodyID, y float64) {
	if t.Grounded() {
		t.peak = y
	}
	t.player = player
	t.surfaces = map[physics.BodyID]bool{}
}

// Reset clears all contacts and restarts peak tracking at y.
func (t *Tracker) Reset(y float64) {
	t.surfaces = map[physics.BodyID]bool{}
	t.peak = y
}

// OnContact folds one contact into the tracker. mul is the current fall damage multiplier.
func (t *Tracker) OnContact(c physics.Contact, mul float64) (Landing, bool) {
	other, ok := c.Other(t.player)
	if !ok || !other.Label.IsSurface() {
		return Landing{}, false
	}
	self, _ := c.Other(other.ID)

	switch c.Phase {
	case physics.ContactBegin:
		// Side and underside touches do not support the player.
		if self.Pos.Y >= other.Pos.Y || t.surfaces[other.ID] {
			return Landing{}, false
		}
		wasGrounded := t.Grounded()
		t.surfaces[other.ID] = true
		if wasGrounded {
			return Landing{}, false
		}
		fall := self.Pos.Y - t.peak
		l := Landing{Fall: fall, Damage: t.curve.Scaled(fall, mul), Surface: other.ID}
		t.peak = self.Pos.Y
		return l, true
	case physics.ContactEnd:
		t.drop(other.ID, self.Pos.Y)
	}
	return Landing{}, false
}

// Forget drops a surface that left the playfield without an end contact.
func (t *Tracker) Forget(body physics.BodyID, playerY float64) {
	t.drop(body, playerY)
}

func (t *Tracker) drop(body physics.BodyID, y float64) {
	if !t.surfaces[body] {
		return
	}
	delete(t.surfaces, body)
	if !t.Grounded() {
		t.peak = y
	}
}

// Observe updates the peak from the player's position after a step. While the rope
// holds the player the peak follows them, so a swing is not a fall.
func (t *Tracker) Observe(y float64, roped bool) {
	switch {
	case t.Grounded(), roped:
		t.peak = y
	case y < t.peak:
		t.peak = y
	}
}
