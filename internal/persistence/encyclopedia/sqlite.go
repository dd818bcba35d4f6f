// Package encyclopedia keeps cross-run statistics: every finished run and every evolution
// node the player has ever unlocked.
package encyclopedia

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"evoclimb.io/internal/sim/world"
)

// Fixed-width so timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Summary is what an encyclopedia screen shows.
type Summary struct {
	Runs   int `json:"runs"`
	Clears int `json:"clears"`
	// BestClearTicks is the fastest cleared run, 0 when nothing was cleared.
	BestClearTicks uint64 `json:"best_clear_ticks"`
	BestClearHP    int    `json:"best_clear_hp"`

	Discovered []Discovery `json:"discovered"`
}

type Discovery struct {
	Node      string `json:"node"`
	Times     int    `json:"times"`
	FirstSeen string `json:"first_seen"`
}

// Store is the persistence seam the server and the CLI use.
type Store interface {
	world.RunRecorder
	Summary(ctx context.Context) (Summary, error)
	Close() error
}

type SQLiteStore struct {
	db *sql.DB

	ch   chan world.RunRecord
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	onErr  func(error)
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, ch: make(chan world.RunRecord, 256)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

// Open returns a sqlite store, or a no-op store when the database cannot be opened. The
// error is returned for logging only.
func Open(path string) (Store, error) {
	s, err := OpenSQLite(path)
	if err != nil {
		return Nop{}, err
	}
	return s, nil
}

// OnError registers a callback for write failures in the background writer.
func (s *SQLiteStore) OnError(fn func(error)) { s.onErr = fn }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stage TEXT NOT NULL,
			run INTEGER NOT NULL,
			cleared INTEGER NOT NULL,
			remaining_hp INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			end_tick INTEGER NOT NULL,
			unlocked_json TEXT NOT NULL,
			pools_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_cleared_ticks ON runs(cleared, ticks);`,
		`CREATE TABLE IF NOT EXISTS discoveries (
			node TEXT PRIMARY KEY,
			times INTEGER NOT NULL,
			first_seen TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordRun queues r for the writer goroutine. It never blocks the simulation; runs are
// dropped if the writer falls behind.
func (s *SQLiteStore) RecordRun(r world.RunRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
	}
}

func (s *SQLiteStore) loop() {
	for r := range s.ch {
		if err := s.write(context.Background(), r); err != nil && s.onErr != nil {
			s.onErr(err)
		}
	}
}

func (s *SQLiteStore) write(ctx context.Context, r world.RunRecord) error {
	now := time.Now().UTC().Format(timeFormat)
	unlocked, _ := json.Marshal(r.Unlocked)
	if r.Unlocked == nil {
		unlocked = []byte("[]")
	}
	pools, _ := json.Marshal(r.Pools)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO runs(stage,run,cleared,remaining_hp,ticks,end_tick,unlocked_json,pools_json,recorded_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		r.Stage, r.Run, boolInt(r.Cleared), r.RemainingHP, int64(r.Ticks), int64(r.EndTick), string(unlocked), string(pools), now,
	); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO discoveries(node,times,first_seen) VALUES(?,1,?)
		ON CONFLICT(node) DO UPDATE SET times = times + 1`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range r.Unlocked {
		if _, err := stmt.Exec(id, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(cleared),0) FROM runs`)
	if err := row.Scan(&out.Runs, &out.Clears); err != nil {
		return Summary{}, err
	}
	var ticks int64
	err := s.db.QueryRowContext(ctx,
		`SELECT ticks, remaining_hp FROM runs WHERE cleared = 1 ORDER BY ticks ASC, remaining_hp DESC LIMIT 1`,
	).Scan(&ticks, &out.BestClearHP)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return Summary{}, err
	default:
		out.BestClearTicks = uint64(ticks)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT node, times, first_seen FROM discoveries ORDER BY first_seen ASC, node ASC`)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var d Discovery
		if err := rows.Scan(&d.Node, &d.Times, &d.FirstSeen); err != nil {
			return Summary{}, err
		}
		out.Discovered = append(out.Discovered, d)
	}
	return out, rows.Err()
}

// Nop is the fallback store: it records nothing and reports an empty summary.
type Nop struct{}

func (Nop) RecordRun(world.RunRecord) {}
func (Nop) Summary(context.Context) (Summary, error) {
	return Summary{}, nil
}
func (Nop) Close() error { return nil }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
