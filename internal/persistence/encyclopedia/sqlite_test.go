package encyclopedia

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"evoclimb.io/internal/sim/world"
)

func TestSQLiteStore_RecordRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encyclopedia.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s.OnError(func(err error) { t.Errorf("write: %v", err) })
	s.RecordRun(world.RunRecord{Stage: "tower", Run: 0, Unlocked: []string{"hook_gland"}, RemainingHP: 0, Ticks: 900})
	s.RecordRun(world.RunRecord{Stage: "tower", Run: 1, Unlocked: []string{"hook_gland", "thick_hide"}, Cleared: true, RemainingHP: 40, Ticks: 5000})
	s.RecordRun(world.RunRecord{Stage: "tower", Run: 2, Cleared: true, RemainingHP: 10, Ticks: 4000})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	sum, err := s.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Runs != 3 || sum.Clears != 2 || sum.BestClearTicks != 4000 || sum.BestClearHP != 10 {
		t.Fatalf("summary=%+v", sum)
	}
	if len(sum.Discovered) != 2 {
		t.Fatalf("discovered=%+v", sum.Discovered)
	}
	if sum.Discovered[0].Node != "hook_gland" || sum.Discovered[0].Times != 2 {
		t.Fatalf("first discovery=%+v", sum.Discovered[0])
	}
	if sum.Discovered[1].Node != "thick_hide" || sum.Discovered[1].Times != 1 {
		t.Fatalf("second discovery=%+v", sum.Discovered[1])
	}
}

func TestSQLiteStore_RowShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encyclopedia.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s.RecordRun(world.RunRecord{Stage: "tower", Run: 3, Pools: map[string]int{"dust": 12}, EndTick: 77})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		run      int
		endTick  int64
		unlocked string
		pools    string
	)
	row := db.QueryRow(`SELECT run,end_tick,unlocked_json,pools_json FROM runs WHERE stage='tower'`)
	if err := row.Scan(&run, &endTick, &unlocked, &pools); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if run != 3 || endTick != 77 || unlocked != "[]" || pools != `{"dust":12}` {
		t.Fatalf("row mismatch: run=%d end=%d unlocked=%s pools=%s", run, endTick, unlocked, pools)
	}
}

func TestOpenFallsBackToNop(t *testing.T) {
	s, err := Open("")
	if err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, ok := s.(Nop); !ok {
		t.Fatalf("store=%T", s)
	}
	s.RecordRun(world.RunRecord{})
	sum, err := s.Summary(context.Background())
	if err != nil || sum.Runs != 0 {
		t.Fatalf("nop summary=%+v err=%v", sum, err)
	}
}
