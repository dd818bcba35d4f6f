package world

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"evoclimb.io/internal/protocol"
	"evoclimb.io/internal/sim/catalogs"
	"evoclimb.io/internal/sim/evolution"
	"evoclimb.io/internal/sim/gimmick"
	"evoclimb.io/internal/sim/grapple"
	"evoclimb.io/internal/sim/ground"
	"evoclimb.io/internal/sim/movement"
	"evoclimb.io/internal/sim/physics"
	"evoclimb.io/internal/sim/stage"
	"evoclimb.io/internal/sim/stats"
	"evoclimb.io/internal/sim/tuning"
)

const (
	StatusRunning = "running"
	StatusDead    = "dead"
	StatusCleared = "cleared"
)

type WorldConfig struct {
	Tuning    tuning.Tuning
	Evolution *catalogs.Evolution
	Stage     *stage.Stage
	Seed      int64
}

type InputEnvelope struct {
	SessionID string
	Input     protocol.InputMsg
}

// Subscription registers Out to receive every encoded FRAME.
type Subscription struct {
	ID  string
	Out chan []byte
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// RunRecorder is told about every finished run exactly once.
type RunRecorder interface {
	RecordRun(r RunRecord)
}

type TickLogEntry struct {
	Tick   uint64             `json:"tick"`
	Input  *protocol.InputMsg `json:"input,omitempty"`
	Digest string             `json:"digest"`
}

type RunRecord struct {
	Stage       string         `json:"stage"`
	Run         int            `json:"run"`
	Unlocked    []string       `json:"unlocked"`
	Cleared     bool           `json:"cleared"`
	RemainingHP int            `json:"remaining_hp"`
	Ticks       uint64         `json:"ticks"`
	Pools       map[string]int `json:"pools"`
	EndTick     uint64         `json:"end_tick"`
}

// WorldMetrics is a snapshot published after every tick. Safe to read from any goroutine.
type WorldMetrics struct {
	Tick        uint64  `json:"tick"`
	Run         int     `json:"run"`
	Status      string  `json:"status"`
	Paused      bool    `json:"paused"`
	Subscribers int     `json:"subscribers"`
	InboxDepth  int     `json:"inbox_depth"`
	StepMS      float64 `json:"step_ms"`
}

type pickup struct {
	stage.Pickup
	body      physics.BodyID
	collected bool
}

type breakable struct {
	g    *gimmick.Breakable
	rect physics.Rect
}

// World is a single-threaded climb simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg   WorldConfig
	tu    tuning.Tuning
	phys  physics.World
	stage *stage.Stage

	tick    atomic.Uint64
	metrics atomic.Value

	engine   *evolution.Engine
	resolver *stats.Resolver
	grapple  *grapple.Controller
	ground   *ground.Tracker
	walls    *movement.Walls
	mover    *movement.Mover
	gimmicks *gimmick.Registry
	rng      *rand.Rand

	pickups    []pickup
	breakables map[physics.BodyID]breakable
	decoyHooks map[int]bool

	// Player runtime state.
	body     physics.BodyID
	bodyTier int
	bodyW    float64
	bodyH    float64
	friction float64
	hp       int
	maxHP    int

	status   string
	goal     bool
	paused   bool
	recorded bool
	run      int
	simTick  uint64
	runStart uint64

	// Per-tick outputs, reset at the start of every step.
	events    []protocol.Event
	collected []int

	inbox       chan InputEnvelope
	subscribe   chan Subscription
	unsubscribe chan string
	stop        chan struct{}
	subs        map[string]chan []byte

	// Optional collaborators (may be nil).
	tickLogger TickLogger
	recorder   RunRecorder
}

func New(cfg WorldConfig, phys physics.World) (*World, error) {
	if cfg.Evolution == nil || cfg.Stage == nil {
		return nil, fmt.Errorf("world: evolution catalog and stage are required")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	auto := cfg.Tuning.ProgressionMode == tuning.ModeAuto
	w := &World{
		cfg:         cfg,
		tu:          cfg.Tuning,
		phys:        phys,
		stage:       cfg.Stage,
		engine:      evolution.New(cfg.Evolution, auto, nil),
		resolver:    stats.NewResolver(cfg.Tuning, cfg.Evolution),
		gimmicks:    gimmick.NewRegistry(),
		breakables:  map[physics.BodyID]breakable{},
		decoyHooks:  map[int]bool{},
		inbox:       make(chan InputEnvelope, 1024),
		subscribe:   make(chan Subscription, 64),
		unsubscribe: make(chan string, 64),
		stop:        make(chan struct{}),
		subs:        map[string]chan []byte{},
	}
	w.build()
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetRunRecorder(r RunRecorder) { w.recorder = r }

// SetEvolutionSink forwards every unlock to s, after the engine state is updated.
func (w *World) SetEvolutionSink(s evolution.Sink) {
	w.engine.SetSink(s)
}

func (w *World) Inbox() chan<- InputEnvelope    { return w.inbox }
func (w *World) Subscribe() chan<- Subscription { return w.subscribe }
func (w *World) Unsubscribe() chan<- string     { return w.unsubscribe }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Metrics() WorldMetrics {
	if v := w.metrics.Load(); v != nil {
		return v.(WorldMetrics)
	}
	return WorldMetrics{Status: StatusRunning}
}

func (w *World) Params() protocol.WorldParams {
	return protocol.WorldParams{
		TickRateHz:      w.tu.TickRateHz,
		ProgressionMode: w.tu.ProgressionMode,
		Stage:           w.stage.Name,
		Seed:            w.cfg.Seed,
	}
}

func (w *World) Digests() protocol.Digests {
	return protocol.Digests{Evolution: w.cfg.Evolution.Digest, Stage: w.stage.Digest}
}

// Run drives the world at tick_rate_hz until ctx is done or Stop is called.
// Held inputs (axis, reel, charge) persist across ticks until a new INPUT changes them.
func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.tu.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var held protocol.InputMsg
	var pending []protocol.InputMsg

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case sub := <-w.subscribe:
			w.subs[sub.ID] = sub.Out
		case id := <-w.unsubscribe:
			delete(w.subs, id)
		case env := <-w.inbox:
			pending = append(pending, env.Input)
		case <-ticker.C:
			in := protocol.InputMsg{Axis: held.Axis, Reel: held.Reel, Charge: held.Charge}
			for _, m := range pending {
				in = in.Merge(m)
			}
			pending = pending[:0]
			held = in
			w.step(in)
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering semantics as Run.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(in protocol.InputMsg) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(in)
	return tick, w.stateDigest(tick)
}

// Status reports the run state: running, dead or cleared.
func (w *World) Status() string { return w.status }
func (w *World) HP() int        { return w.hp }
func (w *World) MaxHP() int     { return w.maxHP }
func (w *World) Paused() bool   { return w.paused }
func (w *World) BodyTier() int  { return w.bodyTier }

func (w *World) Body() physics.BodyID            { return w.body }
func (w *World) Engine() *evolution.Engine       { return w.engine }
func (w *World) Grapple() *grapple.Controller    { return w.grapple }
func (w *World) Ground() *ground.Tracker         { return w.ground }
func (w *World) Gimmicks() *gimmick.Registry     { return w.gimmicks }
func (w *World) Stats() stats.Stats              { return w.resolver.Resolve(w.engine.Active()) }
func (w *World) PickupBody(i int) physics.BodyID { return w.pickups[i].body }
func (w *World) Collected(i int) bool            { return w.pickups[i].collected }

func (w *World) Breakable(id physics.BodyID) (*gimmick.Breakable, bool) {
	b, ok := w.breakables[id]
	return b.g, ok
}

// SimMs is the sim clock of the current run. It only advances on unpaused running ticks.
func (w *World) SimMs() float64 { return float64(w.simTick) * w.tu.TickMs() }
