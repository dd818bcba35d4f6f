package grapple

import (
	"math"

	"evoclimb.io/internal/sim/physics"
	"evoclimb.io/internal/sim/stats"
)

type State uint8

const (
	Idle State = iota
	Attached
)

func (s State) String() string {
	if s == Attached {
		return "attached"
	}
	return "idle"
}

type Reason string

const (
	ReasonManual       Reason = "manual"
	ReasonSecondary    Reason = "secondary"
	ReasonJump         Reason = "jump"
	ReasonDecoy        Reason = "decoy"
	ReasonDeath        Reason = "death"
	ReasonVictory      Reason = "victory"
	ReasonRehomeFailed Reason = "rehome-failed"
	ReasonRestart      Reason = "restart"
)

// Hook is a fixed grapple target. Decoys look the same to the controller; the gimmick
// registry decides when they let go.
type Hook struct {
	Pos   physics.Vec2
	Decoy bool
}

type Config struct {
	MinRope float64
	// AimCone is the half-angle in radians around the aim ray.
	AimCone       float64
	AngleWeight   float64
	DistWeight    float64
	Spring        physics.SpringParams
	BoostImpulse  float64
	MomentumScale float64
}

// Link is the live rope. Anchor never moves once attached.
type Link struct {
	Hook       int
	Anchor     physics.Vec2
	Length     float64
	Constraint physics.ConstraintID
}

// Controller is the only owner of the player's rope constraint.
type Controller struct {
	phys  physics.World
	body  physics.BodyID
	hooks []Hook
	cfg   Config

	link *Link
	// last records why the most recent release happened.
	last Reason
}

func New(phys physics.World, body physics.BodyID, hooks []Hook, cfg Config) *Controller {
	return &Controller{phys: phys, body: body, hooks: hooks, cfg: cfg}
}

func (c *Controller) State() State {
	if c.link != nil {
		return Attached
	}
	return Idle
}

// Link returns a copy of the live rope, if any.
func (c *Controller) Link() (Link, bool) {
	if c.link == nil {
		return Link{}, false
	}
	return *c.link, true
}

func (c *Controller) Body() physics.BodyID { return c.body }
func (c *Controller) Hooks() []Hook        { return c.hooks }
func (c *Controller) LastReason() Reason   { return c.last }

// Target picks the hook Fire would attach to, without attaching.
func (c *Controller) Target(aim physics.Vec2, s stats.Stats) (int, bool) {
	if !s.CanGrapple() {
		return -1, false
	}
	pos := c.phys.Position(c.body)
	aimDir := aim.Sub(pos)
	if aimDir.IsZero() {
		return -1, false
	}
	aimAngle := aimDir.Angle()

	best, bestScore := -1, math.Inf(1)
	for i, h := range c.hooks {
		d := pos.Dist(h.Pos)
		if d > s.GrappleRange || d == 0 {
			continue
		}
		diff := physics.AngleDiff(h.Pos.Sub(pos).Angle(), aimAngle)
		if diff > c.cfg.AimCone {
			continue
		}
		score := diff*c.cfg.AngleWeight + d*c.cfg.DistWeight
		if score < bestScore {
			best, bestScore = i, score
		}
	}
	return best, best >= 0
}

// Fire attaches to the best hook around aim. It is a no-op while attached or when no
// hook qualifies.
func (c *Controller) Fire(aim physics.Vec2, s stats.Stats) (int, bool) {
	if c.link != nil {
		return -1, false
	}
	idx, ok := c.Target(aim, s)
	if !ok {
		return -1, false
	}
	anchor := c.hooks[idx].Pos
	length := c.clamp(c.phys.Position(c.body).Dist(anchor), s.GrappleRange)
	cid, ok := c.phys.AddSpring(c.body, anchor, length, c.cfg.Spring)
	if !ok {
		return -1, false
	}
	c.link = &Link{Hook: idx, Anchor: anchor, Length: length, Constraint: cid}
	return idx, true
}

// Release drops the rope. It returns the hook that was held, or false when idle.
func (c *Controller) Release(reason Reason) (int, bool) {
	if c.link == nil {
		return -1, false
	}
	if c.phys.HasConstraint(c.link.Constraint) {
		c.phys.RemoveConstraint(c.link.Constraint)
	}
	idx := c.link.Hook
	c.link = nil
	c.last = reason
	return idx, true
}

// Reel changes the rope length by dir (negative shortens) scaled to a 60 Hz frame.
func (c *Controller) Reel(dir int, frameDeltaMs float64, s stats.Stats) bool {
	if c.link == nil || dir == 0 {
		return false
	}
	step := float64(sign(dir)) * s.ReelSpeed * (frameDeltaMs / 16.67)
	next := c.clamp(c.link.Length+step, s.GrappleRange)
	if next == c.link.Length {
		return false
	}
	c.link.Length = next
	c.phys.SetSpringLength(c.link.Constraint, next)
	return true
}

// Clamp pulls the rope back inside [MinRope, maxRange] after the range changed.
func (c *Controller) Clamp(maxRange float64) {
	if c.link == nil {
		return
	}
	if next := c.clamp(c.link.Length, maxRange); next != c.link.Length {
		c.link.Length = next
		c.phys.SetSpringLength(c.link.Constraint, next)
	}
}

// JumpRelease kicks the body up and along its swing, then releases.
func (c *Controller) JumpRelease(s stats.Stats) bool {
	if c.link == nil {
		return false
	}
	v := c.phys.Velocity(c.body)
	c.phys.ApplyImpulse(c.body, physics.Vec2{
		X: v.X * s.Momentum * c.cfg.MomentumScale,
		Y: -c.cfg.BoostImpulse,
	})
	c.Release(ReasonJump)
	return true
}

// Rehome rebinds the controller to a new player body. A live rope is recreated on it
// with the same anchor and length; if that fails the rope is released.
func (c *Controller) Rehome(body physics.BodyID) bool {
	c.body = body
	if c.link == nil {
		return true
	}
	if c.phys.HasConstraint(c.link.Constraint) {
		c.phys.RemoveConstraint(c.link.Constraint)
	}
	cid, ok := c.phys.AddSpring(body, c.link.Anchor, c.link.Length, c.cfg.Spring)
	if !ok {
		c.link = nil
		c.last = ReasonRehomeFailed
		return false
	}
	c.link.Constraint = cid
	return true
}

func (c *Controller) clamp(length, maxRange float64) float64 {
	if maxRange < c.cfg.MinRope {
		maxRange = c.cfg.MinRope
	}
	return math.Max(c.cfg.MinRope, math.Min(length, maxRange))
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}
