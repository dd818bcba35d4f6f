package movement

import (
	"math"

	"evoclimb.io/internal/sim/physics"
	"evoclimb.io/internal/sim/stats"
	"evoclimb.io/internal/sim/tuning"
)

// Input is the per-tick movement intent. Jump is an edge; Charge is held.
type Input struct {
	Axis   float64
	Jump   bool
	Charge bool
}

// Support describes what the player is touching this tick. Wall is -1 for a wall on the
// left, +1 on the right, 0 for none.
type Support struct {
	Grounded bool
	Wall     int
	Roped    bool
}

type Result struct {
	Jumped   bool
	WallJump bool
	// Charge is the charge ratio the jump used, 0 for a plain jump.
	Charge float64
}

type Mover struct {
	phys   physics.World
	player tuning.Player
	jump   tuning.Jump

	chargeMs float64
	charging bool
}

func NewMover(phys physics.World, t tuning.Tuning) *Mover {
	return &Mover{phys: phys, player: t.Player, jump: t.Jump}
}

func (m *Mover) Charging() bool { return m.charging }

// ChargeRatio is the current charge in [0, 1].
func (m *Mover) ChargeRatio() float64 {
	if m.jump.ChargeMaxMs <= 0 {
		return 0
	}
	return math.Min(1, m.chargeMs/m.jump.ChargeMaxMs)
}

func (m *Mover) Reset() {
	m.chargeMs = 0
	m.charging = false
}

// Apply turns the input into forces on body for one tick of dtMs.
func (m *Mover) Apply(body physics.BodyID, in Input, sup Support, s stats.Stats, dtMs float64) Result {
	axis := math.Max(-1, math.Min(1, in.Axis))
	v := m.phys.Velocity(body)

	// No push into a touching wall; a velocity re-set every tick walks the body through it.
	if sup.Wall != 0 && axis*float64(sup.Wall) > 0 {
		axis = 0
	}

	switch {
	case sup.Grounded && !sup.Roped:
		v.X = axis * m.player.RunSpeed
		m.phys.SetVelocity(body, v)
	case axis != 0:
		m.phys.ApplyForce(body, physics.Vec2{X: axis * s.AirControl})
	}

	onWall := s.StickyWall && sup.Wall != 0 && !sup.Grounded && !sup.Roped
	if onWall && v.Y > m.jump.WallSlideSpeed {
		v.Y = m.jump.WallSlideSpeed
		m.phys.SetVelocity(body, v)
	}

	canJump := s.Jump && !sup.Roped && (sup.Grounded || onWall)
	if !canJump {
		m.Reset()
		return Result{}
	}

	if s.ChargedJump && in.Charge {
		m.charging = true
		m.chargeMs = math.Min(m.jump.ChargeMaxMs, m.chargeMs+dtMs)
		return Result{}
	}
	if m.charging {
		ratio := m.ChargeRatio()
		m.Reset()
		return m.launch(body, v, sup, onWall, 1+m.jump.ChargeBonus*ratio, ratio)
	}
	if in.Jump {
		return m.launch(body, v, sup, onWall, 1, 0)
	}
	return Result{}
}

func (m *Mover) launch(body physics.BodyID, v physics.Vec2, sup Support, onWall bool, scale, ratio float64) Result {
	v.Y = 0
	m.phys.SetVelocity(body, v)
	j := physics.Vec2{Y: -m.jump.Impulse * scale}
	wallJump := onWall && !sup.Grounded
	if wallJump {
		j.X = -float64(sup.Wall) * m.jump.WallJumpPush
	}
	m.phys.ApplyImpulse(body, j)
	return Result{Jumped: true, WallJump: wallJump, Charge: ratio}
}

// Walls tracks wall bodies touching the player and which side they are on.
type Walls struct {
	player physics.BodyID
	sides  map[physics.BodyID]int
}

func NewWalls(player physics.BodyID) *Walls {
	return &Walls{player: player, sides: map[physics.BodyID]int{}}
}

func (w *Walls) Rebind(player physics.BodyID) { w.player = player }
func (w *Walls) Reset()                       { w.sides = map[physics.BodyID]int{} }

func (w *Walls) OnContact(c physics.Contact) {
	other, ok := c.Other(w.player)
	if !ok || other.Label != physics.LabelWall {
		return
	}
	switch c.Phase {
	case physics.ContactBegin:
		self, _ := c.Other(other.ID)
		side := 1
		if other.Pos.X < self.Pos.X {
			side = -1
		}
		w.sides[other.ID] = side
	case physics.ContactEnd:
		delete(w.sides, other.ID)
	}
}

// Side returns the side of a touching wall, preferring the lowest body id for stability.
func (w *Walls) Side() int {
	best, side := physics.BodyID(0), 0
	for id, s := range w.sides {
		if side == 0 || id < best {
			best, side = id, s
		}
	}
	return side
}
