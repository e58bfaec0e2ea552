package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"ratcellar.io/internal/persistence/snapshot"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/sim/tuning"
	"ratcellar.io/internal/store"
)

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteIndex_RecordUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	zero := 0
	idx.RecordUpdate(store.Snapshot{Seq: 1, Op: store.OpAdventurerKill})
	idx.RecordUpdate(store.Snapshot{
		Seq:   2,
		Op:    store.OpManualKill,
		State: game.State{Level: 3, Gold: 50, Kills: 5},
		Events: []game.Event{
			{Kind: game.EventLeveledUp, Level: 2},
			{Kind: game.EventLeveledUp, Level: 3},
		},
	})
	idx.RecordUpdate(store.Snapshot{Seq: 3, Op: store.OpOpenCellar, Events: []game.Event{{Kind: game.EventCellarOpened, CellarID: &zero}}})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openDB(t, path)
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 3 {
		t.Fatalf("events=%d want 3", n)
	}

	var kind, payload string
	if err := db.QueryRow(`SELECT kind,payload_json FROM events WHERE seq=3`).Scan(&kind, &payload); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if kind != string(game.EventCellarOpened) || payload != `{"kind":"CELLAR_OPENED","cellar_id":0}` {
		t.Fatalf("kind=%s payload=%s", kind, payload)
	}

	rows, err := db.Query(`SELECT level,seq,kills FROM levels ORDER BY id`)
	if err != nil {
		t.Fatalf("query levels: %v", err)
	}
	defer rows.Close()
	var levels []int
	for rows.Next() {
		var level, seq int
		var kills float64
		if err := rows.Scan(&level, &seq, &kills); err != nil {
			t.Fatalf("scan level: %v", err)
		}
		if seq != 2 || kills != 5 {
			t.Fatalf("level row seq=%d kills=%v", seq, kills)
		}
		levels = append(levels, level)
	}
	if len(levels) != 2 || levels[0] != 2 || levels[1] != 3 {
		t.Fatalf("levels=%v", levels)
	}
}

func TestSQLiteIndex_SnapshotsRunsCatalogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	st := game.State{Level: 6, Gold: 12, Kills: 99, OpenedCellars: []game.CellarState{{ID: 0}, {ID: 1}}}
	snap := snapshot.New("default", 41, st)

	if err := idx.UpsertCatalogs(catalogs.Defaults(), tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	idx.RecordSnapshot("/abs/1.snap.zst", snap)
	idx.RecordRun(1, "/abs/archives/run_001/1.snap.zst", snap)
	idx.RecordRun(0, "/ignored", snap)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openDB(t, path)
	var (
		seq     int64
		level   int
		cellars int
	)
	if err := db.QueryRow(`SELECT seq,level,cellars FROM snapshots WHERE path='/abs/1.snap.zst'`).Scan(&seq, &level, &cellars); err != nil {
		t.Fatalf("scan snapshot: %v", err)
	}
	if seq != 41 || level != 6 || cellars != 2 {
		t.Fatalf("snapshot row seq=%d level=%d cellars=%d", seq, level, cellars)
	}

	var runs int
	_ = db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs)
	if runs != 1 {
		t.Fatalf("runs=%d want 1", runs)
	}

	names := map[string]bool{}
	rows, err := db.Query(`SELECT name,digest FROM catalogs`)
	if err != nil {
		t.Fatalf("query catalogs: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, digest string
		if err := rows.Scan(&name, &digest); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if digest == "" {
			t.Fatalf("empty digest for %s", name)
		}
		names[name] = true
	}
	for _, want := range []string{"cellars", "tavern", "quests", "tuning"} {
		if !names[want] {
			t.Fatalf("missing catalog %s (have %v)", want, names)
		}
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqUpdate}

	s.RecordUpdate(store.Snapshot{Events: []game.Event{{Kind: game.EventStateReset}}})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})
	s.RecordRun(1, "/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropUpdateTotal != 1 || st.DropSnapshotTotal != 1 || st.DropRunTotal != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilSafe(t *testing.T) {
	var s *SQLiteIndex
	s.RecordUpdate(store.Snapshot{Events: []game.Event{{Kind: game.EventStateReset}}})
	s.RecordSnapshot("x", snapshot.SnapshotV1{})
	s.RecordRun(1, "x", snapshot.SnapshotV1{})
	if err := s.UpsertCatalogs(nil, tuning.Tuning{}); err != nil {
		t.Fatalf("nil upsert: %v", err)
	}
	if s.Stats() != (Stats{}) {
		t.Fatalf("nil stats should be zero")
	}
}
