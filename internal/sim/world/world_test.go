package world

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"evoclimb.io/internal/protocol"
	"evoclimb.io/internal/sim/catalogs"
	"evoclimb.io/internal/sim/gimmick"
	"evoclimb.io/internal/sim/grapple"
	"evoclimb.io/internal/sim/physics"
	"evoclimb.io/internal/sim/physics/physicstest"
	"evoclimb.io/internal/sim/stage"
	"evoclimb.io/internal/sim/tuning"
)

type recorder struct{ runs []RunRecord }

func (r *recorder) RecordRun(rec RunRecord) { r.runs = append(r.runs, rec) }

type tickLog struct{ entries []TickLogEntry }

func (l *tickLog) WriteTick(e TickLogEntry) error {
	l.entries = append(l.entries, e)
	return nil
}

func configPath(parts ...string) string {
	return filepath.Join(append([]string{"..", "..", "..", "configs"}, parts...)...)
}

func loadCatalog(t *testing.T, name string) *catalogs.Evolution {
	t.Helper()
	cat, err := catalogs.LoadEvolution(configPath(name))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

// testStage is a flat arena: the player spawns at the origin with a floor 400px below.
func testStage() *stage.Stage {
	return &stage.Stage{
		Name:      "arena",
		Bounds:    physics.Rect{X: 0, Y: 0, W: 4000, H: 4000},
		Spawn:     physics.Vec2{},
		Platforms: []stage.Platform{{Rect: physics.Rect{X: 0, Y: 400, W: 800, H: 20}}},
		Hooks: []stage.Hook{
			{X: 0, Y: -200},
			{X: 150, Y: -150, Decoy: true},
		},
		Pickups: []stage.Pickup{
			{X: 100, Y: 0, Kind: stage.PickupFood, Resource: catalogs.ResourceDust, Amount: 10},
			{X: 200, Y: 0, Kind: stage.PickupFood, Resource: catalogs.ResourceDust, Amount: 15},
			{X: 300, Y: 0, Kind: stage.PickupFood, Resource: catalogs.ResourceDust, Amount: 25},
			{X: 400, Y: 0, Kind: stage.PickupEvolve},
		},
		Breakables: []stage.Breakable{{Rect: physics.Rect{X: -300, Y: 400, W: 100, H: 20}, Respawn: true}},
		Recovery:   []physics.Rect{{X: 500, Y: 0, W: 40, H: 40}},
		Goals:      []physics.Rect{{X: 0, Y: -1000, W: 100, H: 40}},
		DeathZones: []physics.Rect{{X: 0, Y: 1000, W: 4000, H: 40}},
	}
}

func newTestWorld(t *testing.T, tu tuning.Tuning, catalog string) (*World, *physicstest.World) {
	t.Helper()
	fw := physicstest.New()
	w, err := New(WorldConfig{Tuning: tu, Evolution: loadCatalog(t, catalog), Stage: testStage(), Seed: 7}, fw)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w, fw
}

func chainWorld(t *testing.T) (*World, *physicstest.World) {
	return newTestWorld(t, tuning.Defaults(), "evolution_chain.json")
}

func choiceWorld(t *testing.T) (*World, *physicstest.World) {
	tu := tuning.Defaults()
	tu.ProgressionMode = tuning.ModeChoice
	return newTestWorld(t, tu, "evolution_tree.json")
}

func bodyByLabel(t *testing.T, fw *physicstest.World, label physics.Label) physics.BodyID {
	t.Helper()
	for id, b := range fw.Bodies {
		if b.Label == label && !b.Removed {
			return id
		}
	}
	t.Fatalf("no body with label %s", label)
	return 0
}

func touch(w *World, fw *physicstest.World, other physics.BodyID) {
	fw.Queue(physics.ContactBegin, w.Body(), other)
}

func steps(w *World, n int) {
	for i := 0; i < n; i++ {
		w.StepOnce(protocol.InputMsg{})
	}
}

func hasEvent(w *World, typ string) bool {
	for _, e := range w.events {
		if e["type"] == typ {
			return true
		}
	}
	return false
}

func TestSpawnState(t *testing.T) {
	w, fw := chainWorld(t)
	if w.Status() != StatusRunning || w.HP() != 100 || w.MaxHP() != 100 || w.BodyTier() != 1 {
		t.Fatalf("status=%s hp=%d/%d tier=%d", w.Status(), w.HP(), w.MaxHP(), w.BodyTier())
	}
	if got := fw.Bodies[w.Body()].Pos; got != (physics.Vec2{}) {
		t.Fatalf("spawn pos=%+v", got)
	}
	if w.Grapple().State() != grapple.Idle || w.Stats().CanGrapple() {
		t.Fatalf("grapple must start locked")
	}
}

func TestPickupsUnlockChainInOrder(t *testing.T) {
	w, fw := chainWorld(t)
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	if !w.Engine().IsActive("hook_gland") || w.Engine().Pool(catalogs.ResourceDust) != 10 {
		t.Fatalf("after 10 dust: active=%v pool=%d", w.Engine().Active(), w.Engine().Pool(catalogs.ResourceDust))
	}
	if !w.Collected(0) || !hasEvent(w, "PICKUP") || !hasEvent(w, "UNLOCK") {
		t.Fatalf("pickup not reported: %v", w.events)
	}

	// The same pickup cannot be eaten twice.
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	if w.Engine().Pool(catalogs.ResourceDust) != 10 {
		t.Fatalf("double collect: pool=%d", w.Engine().Pool(catalogs.ResourceDust))
	}

	touch(w, fw, w.PickupBody(1))
	w.StepOnce(protocol.InputMsg{})
	active := w.Engine().Active()
	if len(active) != 2 || active[0] != "hook_gland" || active[1] != "long_tendril" {
		t.Fatalf("active=%v", active)
	}
	if got := w.Stats().GrappleRange; got != 380 {
		t.Fatalf("range=%f", got)
	}
}

func TestFallDamageFromLanding(t *testing.T) {
	w, fw := chainWorld(t)
	w.StepOnce(protocol.InputMsg{})

	fw.Bodies[w.Body()].Pos.Y = 350
	touch(w, fw, bodyByLabel(t, fw, physics.LabelPlatform))
	w.StepOnce(protocol.InputMsg{})
	if w.HP() != 86 {
		t.Fatalf("hp after 350px fall=%d", w.HP())
	}
	if !w.Ground().Grounded() || !hasEvent(w, "LANDING") {
		t.Fatalf("landing not tracked")
	}
}

func TestRecoveryHealsUpToMax(t *testing.T) {
	w, fw := chainWorld(t)
	fw.Bodies[w.Body()].Pos.Y = 350
	touch(w, fw, bodyByLabel(t, fw, physics.LabelPlatform))
	w.StepOnce(protocol.InputMsg{})
	if w.HP() != 86 {
		t.Fatalf("hp=%d", w.HP())
	}
	touch(w, fw, bodyByLabel(t, fw, physics.LabelRecovery))
	w.StepOnce(protocol.InputMsg{})
	if w.HP() != 100 || !hasEvent(w, "HEAL") {
		t.Fatalf("hp after heal=%d", w.HP())
	}
}

func TestRecoveryCannotUndoDeathInSameTick(t *testing.T) {
	w, fw := chainWorld(t)
	touch(w, fw, bodyByLabel(t, fw, physics.LabelDeathZone))
	touch(w, fw, bodyByLabel(t, fw, physics.LabelRecovery))
	w.StepOnce(protocol.InputMsg{})
	if w.Status() != StatusDead || w.HP() != 0 || hasEvent(w, "HEAL") {
		t.Fatalf("status=%s hp=%d", w.Status(), w.HP())
	}
}

func TestMaxHPUnlockCannotUndoDeathInSameTick(t *testing.T) {
	st := testStage()
	st.Pickups = append(st.Pickups, stage.Pickup{X: 600, Y: 0, Kind: stage.PickupFood, Resource: catalogs.ResourceSap, Amount: 10})
	fw := physicstest.New()
	w, err := New(WorldConfig{Tuning: tuning.Defaults(), Evolution: loadCatalog(t, "evolution_chain.json"), Stage: st, Seed: 7}, fw)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	rec := &recorder{}
	w.SetRunRecorder(rec)

	touch(w, fw, bodyByLabel(t, fw, physics.LabelDeathZone))
	touch(w, fw, w.PickupBody(len(st.Pickups)-1))
	w.StepOnce(protocol.InputMsg{})

	if !w.Engine().IsActive("thick_hide") {
		t.Fatalf("thick_hide not unlocked: %v", w.Engine().Active())
	}
	if w.Status() != StatusDead || w.HP() != 0 || w.MaxHP() != 150 {
		t.Fatalf("status=%s hp=%d/%d", w.Status(), w.HP(), w.MaxHP())
	}
	if len(rec.runs) != 1 || rec.runs[0].RemainingHP != 0 {
		t.Fatalf("records=%+v", rec.runs)
	}
}

func TestDeathRecordsOnceAndFreezes(t *testing.T) {
	w, fw := chainWorld(t)
	rec := &recorder{}
	w.SetRunRecorder(rec)
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})

	touch(w, fw, bodyByLabel(t, fw, physics.LabelDeathZone))
	w.StepOnce(protocol.InputMsg{})
	if w.Status() != StatusDead || w.HP() != 0 {
		t.Fatalf("status=%s hp=%d", w.Status(), w.HP())
	}
	if len(rec.runs) != 1 {
		t.Fatalf("records=%d", len(rec.runs))
	}
	r := rec.runs[0]
	if r.Cleared || r.RemainingHP != 0 || len(r.Unlocked) != 1 || r.Unlocked[0] != "hook_gland" || r.Pools["dust"] != 10 {
		t.Fatalf("record=%+v", r)
	}

	before := fw.Steps()
	touch(w, fw, bodyByLabel(t, fw, physics.LabelDeathZone))
	steps(w, 5)
	if fw.Steps() != before {
		t.Fatalf("physics stepped while dead")
	}
	if len(rec.runs) != 1 {
		t.Fatalf("records=%d after more ticks", len(rec.runs))
	}
}

func TestVictoryReleasesGrapple(t *testing.T) {
	w, fw := chainWorld(t)
	rec := &recorder{}
	w.SetRunRecorder(rec)
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	w.StepOnce(protocol.InputMsg{Fire: &protocol.Vec{X: 0, Y: -200}})
	if w.Grapple().State() != grapple.Attached {
		t.Fatalf("fire did not attach")
	}

	touch(w, fw, bodyByLabel(t, fw, physics.LabelGoal))
	w.StepOnce(protocol.InputMsg{})
	if w.Status() != StatusCleared {
		t.Fatalf("status=%s", w.Status())
	}
	if w.Grapple().State() != grapple.Idle || w.Grapple().LastReason() != grapple.ReasonVictory || len(fw.Springs) != 0 {
		t.Fatalf("grapple kept after victory")
	}
	if len(rec.runs) != 1 || !rec.runs[0].Cleared || rec.runs[0].RemainingHP != 100 || rec.runs[0].Ticks != 3 {
		t.Fatalf("records=%+v", rec.runs)
	}
}

func TestRestartResetsRun(t *testing.T) {
	w, fw := chainWorld(t)
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	w.StepOnce(protocol.InputMsg{Fire: &protocol.Vec{X: 0, Y: -200}})
	touch(w, fw, bodyByLabel(t, fw, physics.LabelDeathZone))
	w.StepOnce(protocol.InputMsg{})
	old := w.Body()

	w.StepOnce(protocol.InputMsg{Restart: true})
	if w.Status() != StatusRunning || w.HP() != 100 || w.SimMs() != w.tu.TickMs() {
		t.Fatalf("status=%s hp=%d sim=%f", w.Status(), w.HP(), w.SimMs())
	}
	if len(w.Engine().Active()) != 0 || w.Engine().Pool(catalogs.ResourceDust) != 0 {
		t.Fatalf("engine not reset")
	}
	if w.Collected(0) || !fw.Bodies[w.PickupBody(0)].Collidable || fw.Bodies[w.PickupBody(0)].Pos != (physics.Vec2{X: 100, Y: 0}) {
		t.Fatalf("pickup not restored")
	}
	if w.Body() == old || !fw.Bodies[old].Removed || fw.Bodies[w.Body()].Pos != (physics.Vec2{}) {
		t.Fatalf("player not respawned")
	}
	if w.Grapple().Body() != w.Body() || w.Ground().Player() != w.Body() {
		t.Fatalf("controllers still point at the old body")
	}

	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	if w.Engine().Pool(catalogs.ResourceDust) != 10 {
		t.Fatalf("pickup not collectable after restart")
	}
}

func TestBodySwapRehomesRope(t *testing.T) {
	w, fw := chainWorld(t)
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	w.StepOnce(protocol.InputMsg{Fire: &protocol.Vec{X: 0, Y: -200}})
	before, ok := w.Grapple().Link()
	if !ok {
		t.Fatalf("not attached")
	}
	old := w.Body()
	fw.Bodies[old].Vel = physics.Vec2{X: 30}

	touch(w, fw, w.PickupBody(1))
	touch(w, fw, w.PickupBody(2))
	w.StepOnce(protocol.InputMsg{})
	if !w.Engine().IsActive("stretch_body") || w.BodyTier() != 2 {
		t.Fatalf("tier=%d active=%v", w.BodyTier(), w.Engine().Active())
	}
	nb := w.Body()
	if nb == old || !fw.Bodies[old].Removed {
		t.Fatalf("old body kept")
	}
	after, ok := w.Grapple().Link()
	if !ok || after.Anchor != before.Anchor || after.Length != before.Length {
		t.Fatalf("rope changed: %+v -> %+v", before, after)
	}
	if s := fw.Springs[after.Constraint]; s == nil || s.Body != nb {
		t.Fatalf("rope not on new body")
	}
	b := fw.Bodies[nb]
	if math.Abs(b.Shape.Height-44.8) > 1e-9 || math.Abs(b.Shape.Width-19.2) > 1e-9 {
		t.Fatalf("shape=%+v", b.Shape)
	}
	if b.Vel.X != 30 {
		t.Fatalf("velocity not carried: %+v", b.Vel)
	}
	// The feet stay on the same line: 30px/s over one tick minus the half-height growth.
	if math.Abs(b.Pos.Y-(-6.4)) > 1e-9 || math.Abs(b.Pos.X-0.5) > 1e-9 {
		t.Fatalf("pos=%+v", b.Pos)
	}
	if !hasEvent(w, "BODY_SWAP") {
		t.Fatalf("no swap event")
	}
	if w.Ground().Player() != nb {
		t.Fatalf("tracker still on old body")
	}
}

func TestBodySwapRehomeFailureReleases(t *testing.T) {
	w, fw := chainWorld(t)
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	w.StepOnce(protocol.InputMsg{Fire: &protocol.Vec{X: 0, Y: -200}})

	fw.FailSprings = true
	touch(w, fw, w.PickupBody(1))
	touch(w, fw, w.PickupBody(2))
	w.StepOnce(protocol.InputMsg{})
	if w.BodyTier() != 2 {
		t.Fatalf("tier=%d", w.BodyTier())
	}
	if w.Grapple().State() != grapple.Idle || w.Grapple().LastReason() != grapple.ReasonRehomeFailed {
		t.Fatalf("state=%s reason=%s", w.Grapple().State(), w.Grapple().LastReason())
	}
	if len(fw.Springs) != 0 {
		t.Fatalf("springs=%d", len(fw.Springs))
	}
}

func TestMaxHPGainRaisesHP(t *testing.T) {
	w, fw := chainWorld(t)
	fw.Bodies[w.Body()].Pos.Y = 350
	touch(w, fw, bodyByLabel(t, fw, physics.LabelPlatform))
	w.StepOnce(protocol.InputMsg{})

	w.Engine().Consume(catalogs.ResourceSap, 10)
	w.StepOnce(protocol.InputMsg{})
	if w.MaxHP() != 150 || w.HP() != 136 {
		t.Fatalf("hp=%d/%d", w.HP(), w.MaxHP())
	}

	w.Engine().Consume(catalogs.ResourceSap, 15)
	w.StepOnce(protocol.InputMsg{})
	if got := fw.Bodies[w.Body()].Friction; math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("friction=%f", got)
	}
}

func TestDecoyForcesRelease(t *testing.T) {
	w, fw := chainWorld(t)
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	w.StepOnce(protocol.InputMsg{Fire: &protocol.Vec{X: 150, Y: -150}})
	l, ok := w.Grapple().Link()
	if !ok || l.Hook != 1 {
		t.Fatalf("expected decoy attach, got %+v ok=%v", l, ok)
	}

	steps(w, 100)
	if w.Grapple().State() != grapple.Attached {
		t.Fatalf("released early")
	}
	g, _ := w.Gimmicks().Get("decoy-1")
	if v := g.Visual(); v.State != gimmick.DecoyWarning {
		t.Fatalf("decoy visual=%+v", v)
	}

	released := false
	for i := 0; i < 30 && !released; i++ {
		w.StepOnce(protocol.InputMsg{})
		released = w.Grapple().State() == grapple.Idle
	}
	if !released || w.Grapple().LastReason() != grapple.ReasonDecoy {
		t.Fatalf("decoy did not release: reason=%s", w.Grapple().LastReason())
	}
	if len(fw.Springs) != 0 || fw.RemovedConstraints != 1 {
		t.Fatalf("springs=%d removed=%d", len(fw.Springs), fw.RemovedConstraints)
	}
}

func TestBreakableCollapseDropsSupport(t *testing.T) {
	w, fw := chainWorld(t)
	var id physics.BodyID
	for bid := range w.breakables {
		id = bid
	}
	touch(w, fw, id)
	w.StepOnce(protocol.InputMsg{})
	b, _ := w.Breakable(id)
	if b.State() != gimmick.Warning || !w.Ground().Grounded() {
		t.Fatalf("state=%s grounded=%v", b.State(), w.Ground().Grounded())
	}

	steps(w, 80)
	if b.State() != gimmick.Collapsed {
		t.Fatalf("state=%s", b.State())
	}
	if fw.Bodies[id].Collidable || fw.Bodies[id].Pos.Y != w.tu.Gimmicks.ParkY {
		t.Fatalf("collapsed body still in play: %+v", fw.Bodies[id])
	}
	if w.Ground().Grounded() {
		t.Fatalf("still grounded on a collapsed platform")
	}

	w.StepOnce(protocol.InputMsg{Restart: true})
	if b.State() != gimmick.Solid || !fw.Bodies[id].Collidable || fw.Bodies[id].Pos != (physics.Vec2{X: -300, Y: 400}) {
		t.Fatalf("breakable not restored: %s %+v", b.State(), fw.Bodies[id])
	}
}

func TestChoiceModePausesForOffer(t *testing.T) {
	w, fw := choiceWorld(t)
	touch(w, fw, w.PickupBody(0))
	w.StepOnce(protocol.InputMsg{})
	if len(w.Engine().Active()) != 0 || w.Engine().Pool(catalogs.ResourceDust) != 10 {
		t.Fatalf("choice mode auto-unlocked: %v", w.Engine().Active())
	}

	touch(w, fw, w.PickupBody(3))
	w.StepOnce(protocol.InputMsg{})
	if !w.Paused() || len(w.Engine().Pending()) != 2 || !hasEvent(w, "OFFER") {
		t.Fatalf("paused=%v pending=%v", w.Paused(), w.Engine().Pending())
	}

	simMs, physSteps := w.SimMs(), fw.Steps()
	steps(w, 10)
	w.StepOnce(protocol.InputMsg{Choose: "long_tendril"})
	if !w.Paused() || w.SimMs() != simMs || fw.Steps() != physSteps {
		t.Fatalf("world moved while paused")
	}
	if f := w.Frame(); len(f.Offer) != 2 || !f.Paused {
		t.Fatalf("frame offer=%+v", f.Offer)
	}

	w.StepOnce(protocol.InputMsg{Choose: "hook_gland"})
	if w.Paused() || !w.Engine().IsActive("hook_gland") || !w.Stats().CanGrapple() {
		t.Fatalf("choose did not resume: paused=%v active=%v", w.Paused(), w.Engine().Active())
	}
	w.StepOnce(protocol.InputMsg{})
	if fw.Steps() != physSteps+1 {
		t.Fatalf("physics did not resume")
	}
}

func TestChoiceModeSkip(t *testing.T) {
	w, fw := choiceWorld(t)
	touch(w, fw, w.PickupBody(3))
	w.StepOnce(protocol.InputMsg{})
	if !w.Paused() {
		t.Fatalf("not paused")
	}
	w.StepOnce(protocol.InputMsg{Skip: true})
	if w.Paused() || len(w.Engine().Pending()) != 0 || len(w.Engine().Active()) != 0 {
		t.Fatalf("skip failed")
	}
}

func TestAutoModeIgnoresEvolvePickup(t *testing.T) {
	w, fw := chainWorld(t)
	touch(w, fw, w.PickupBody(3))
	w.StepOnce(protocol.InputMsg{})
	if w.Paused() || !w.Collected(3) {
		t.Fatalf("paused=%v collected=%v", w.Paused(), w.Collected(3))
	}
}

func script(w *World, fw *physicstest.World) []string {
	var digests []string
	for i := 0; i < 40; i++ {
		in := protocol.InputMsg{Axis: 1}
		switch i {
		case 2:
			touch(w, fw, w.PickupBody(0))
		case 4:
			in.Fire = &protocol.Vec{X: 150, Y: -150}
		case 10:
			in.Reel = -1
		case 20:
			in.Release = true
		}
		_, d := w.StepOnce(in)
		digests = append(digests, d)
	}
	return digests
}

func TestDeterministicDigests(t *testing.T) {
	a, fa := chainWorld(t)
	b, fb := chainWorld(t)
	da, db := script(a, fa), script(b, fb)
	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("digest diverged at tick %d", i)
		}
	}
	if da[0] == da[len(da)-1] {
		t.Fatalf("digest never changed")
	}
}

func TestTickLogRecordsInputs(t *testing.T) {
	w, _ := chainWorld(t)
	l := &tickLog{}
	w.SetTickLogger(l)
	_, d0 := w.StepOnce(protocol.InputMsg{})
	w.StepOnce(protocol.InputMsg{Jump: true})
	if len(l.entries) != 2 {
		t.Fatalf("entries=%d", len(l.entries))
	}
	if l.entries[0].Input != nil || l.entries[0].Digest != d0 {
		t.Fatalf("entry0=%+v", l.entries[0])
	}
	if l.entries[1].Input == nil || !l.entries[1].Input.Jump || l.entries[1].Tick != 1 {
		t.Fatalf("entry1=%+v", l.entries[1])
	}
}

func TestRunBroadcastsFrames(t *testing.T) {
	w, _ := chainWorld(t)
	out := make(chan []byte, 4)
	w.Subscribe() <- Subscription{ID: "s1", Out: out}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case b := <-out:
		var f protocol.FrameMsg
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if f.Type != protocol.TypeFrame || f.Status != StatusRunning || len(f.Digest) != 64 {
			t.Fatalf("frame=%+v", f)
		}
	case <-ctx.Done():
		t.Fatalf("no frame received")
	}
	w.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
