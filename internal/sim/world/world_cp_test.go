package world

import (
	"testing"

	"evoclimb.io/internal/protocol"
	"evoclimb.io/internal/sim/catalogs"
	"evoclimb.io/internal/sim/physics/cpworld"
	"evoclimb.io/internal/sim/stage"
	"evoclimb.io/internal/sim/tuning"
)

func towerWorld(t *testing.T) *World {
	t.Helper()
	tu, err := tuning.Load(configPath("tuning.yaml"))
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	st, err := stage.Load(configPath("stages", "tower.json"))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	phys := cpworld.New(cpworld.Config{Gravity: tu.Physics.Gravity, Iterations: tu.Physics.Iterations})
	w, err := New(WorldConfig{Tuning: tu, Evolution: loadCatalog(t, tu.EvolutionCatalog), Stage: st, Seed: 1}, phys)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func TestTowerSpawnSettlesOnFloor(t *testing.T) {
	w := towerWorld(t)
	steps(w, 60)
	if !w.Ground().Grounded() {
		t.Fatalf("player not grounded after settling: pos=%+v", w.phys.Position(w.Body()))
	}
	if w.HP() != w.MaxHP() || w.Status() != StatusRunning {
		t.Fatalf("hp=%d status=%s", w.HP(), w.Status())
	}
}

func TestTowerWalkCollectsFloorPickup(t *testing.T) {
	w := towerWorld(t)
	steps(w, 30)
	for i := 0; i < 180; i++ {
		w.StepOnce(protocol.InputMsg{Axis: -1})
	}
	if got := w.Engine().Pool(catalogs.ResourceSap); got != 5 {
		t.Fatalf("sap=%d pos=%+v", got, w.phys.Position(w.Body()))
	}
	if w.Status() != StatusRunning {
		t.Fatalf("status=%s", w.Status())
	}
	// The left wall spans x in [0, 20].
	if x := w.phys.Position(w.Body()).X; x < 20 {
		t.Fatalf("player left the tower through the wall: x=%f", x)
	}
}
