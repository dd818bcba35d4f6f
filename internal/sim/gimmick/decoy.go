package gimmick

import "evoclimb.io/internal/sim/physics"

const (
	DecoyIdle    = "idle"
	DecoyHeld    = "held"
	DecoyWarning = "warning"
)

// Decoy lets go of the grapple DetachMs after it is grabbed.
type Decoy struct {
	id       string
	hook     int
	warnMs   float64
	detachMs float64

	grabbedAt float64
	elapsed   float64
	holding   bool
	visual    Visual
}

func NewDecoy(id string, hook int, warnMs, detachMs float64) *Decoy {
	d := &Decoy{id: id, hook: hook, warnMs: warnMs, detachMs: detachMs}
	d.Reset()
	return d
}

func (d *Decoy) ID() string     { return d.id }
func (d *Decoy) Hook() int      { return d.hook }
func (d *Decoy) Visual() Visual { return d.visual }

// Elapsed is the time since the current grab, or 0 when not held.
func (d *Decoy) Elapsed() float64 { return d.elapsed }

func (d *Decoy) Update(nowMs float64, p PlayerView) []Event {
	if p.Hook != d.hook {
		if !d.holding {
			return nil
		}
		d.Reset()
		return []Event{visualEvent(d.id, d.visual)}
	}

	var out []Event
	if !d.holding {
		d.holding = true
		d.grabbedAt = nowMs
		d.visual = Visual{State: DecoyHeld, Alpha: 1}
		out = append(out, visualEvent(d.id, d.visual))
	}
	d.elapsed = nowMs - d.grabbedAt

	if d.elapsed >= d.detachMs {
		d.Reset()
		return append(out,
			Event{Kind: EventRelease, Gimmick: d.id},
			visualEvent(d.id, d.visual),
		)
	}
	if d.elapsed >= d.warnMs {
		urgency := 1.0
		if span := d.detachMs - d.warnMs; span > 0 {
			urgency = (d.elapsed - d.warnMs) / span
		}
		entering := d.visual.State != DecoyWarning
		d.visual = Visual{State: DecoyWarning, Urgency: urgency, Alpha: 1}
		if entering {
			out = append(out, visualEvent(d.id, d.visual))
		}
	}
	return out
}

func (d *Decoy) OnContact(physics.Contact, float64) {}

func (d *Decoy) Reset() {
	d.holding = false
	d.grabbedAt = 0
	d.elapsed = 0
	d.visual = Visual{State: DecoyIdle, Alpha: 1}
}
