// Package indexdb keeps a queryable SQLite read model of game history. It is
// best-effort: writes are queued and dropped when the writer falls behind;
// the JSONL event log remains the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"ratcellar.io/internal/persistence/snapshot"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/sim/tuning"
	"ratcellar.io/internal/store"
)

type SQLiteIndex struct {
	db *sql.DB

	// session tags rows written by this process; store sequence numbers
	// restart from zero on every boot.
	session string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropUpdate   atomic.Uint64
	dropSnapshot atomic.Uint64
	dropRun      atomic.Uint64
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropUpdateTotal   uint64
	DropSnapshotTotal uint64
	DropRunTotal      uint64
}

type reqKind int

const (
	reqUpdate reqKind = iota + 1
	reqSnapshot
	reqRun
)

type req struct {
	kind reqKind

	update   updateRow
	snapshot snapshotRow
	run      runRow
}

type updateRow struct {
	Seq    uint64
	At     string
	Op     string
	Events []game.Event
	Level  int
	Gold   float64
	Kills  float64
}

type snapshotRow struct {
	Path    string
	Seq     uint64
	Level   int
	Gold    float64
	Kills   float64
	Cellars int
	SavedAt string
}

type runRow struct {
	Run        int
	Path       string
	Level      int
	Kills      float64
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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

	s := &SQLiteIndex{
		db:      db,
		session: time.Now().UTC().Format(time.RFC3339Nano),
		ch:      make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
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
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at TEXT NOT NULL,
			op TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, id);`,
		`CREATE TABLE IF NOT EXISTS levels (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level INTEGER NOT NULL,
			reached_at TEXT NOT NULL,
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			gold REAL NOT NULL,
			kills REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			level INTEGER NOT NULL,
			gold REAL NOT NULL,
			kills REAL NOT NULL,
			cellars INTEGER NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run INTEGER PRIMARY KEY,
			snapshot_path TEXT NOT NULL,
			level INTEGER NOT NULL,
			kills REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropUpdateTotal:   s.dropUpdate.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropRunTotal:      s.dropRun.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		drops.Add(1)
	}
}

// RecordUpdate indexes the events of a committed snapshot. Updates without
// events are ignored.
func (s *SQLiteIndex) RecordUpdate(sn store.Snapshot) {
	if s == nil || s.closed.Load() || len(sn.Events) == 0 {
		return
	}
	s.enqueue(req{kind: reqUpdate, update: updateRow{
		Seq:    sn.Seq,
		At:     time.Now().UTC().Format(time.RFC3339Nano),
		Op:     sn.Op,
		Events: append([]game.Event(nil), sn.Events...),
		Level:  sn.State.Level,
		Gold:   sn.State.Gold,
		Kills:  sn.State.Kills,
	}}, &s.dropUpdate)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Path:    path,
		Seq:     snap.Header.Seq,
		Level:   snap.State.Level,
		Gold:    snap.State.Gold,
		Kills:   snap.State.Kills,
		Cellars: len(snap.State.OpenedCellars),
		SavedAt: snap.Header.SavedAt,
	}}, &s.dropSnapshot)
}

func (s *SQLiteIndex) RecordRun(run int, archivedSnapshotPath string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	if run <= 0 || archivedSnapshotPath == "" {
		return
	}
	s.enqueue(req{kind: reqRun, run: runRow{
		Run:        run,
		Path:       archivedSnapshotPath,
		Level:      snap.State.Level,
		Kills:      snap.State.Kills,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}}, &s.dropRun)
}

func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(cats.Cellars.Defs); len(b) > 0 {
		rows = append(rows, kv{name: "cellars", digest: cats.Cellars.Digest, json: b})
	}
	if b, _ := json.Marshal(cats.Tavern.Stages); len(b) > 0 {
		rows = append(rows, kv{name: "tavern", digest: cats.Tavern.Digest, json: b})
	}
	if b, _ := json.Marshal(cats.Quests.Defs); len(b) > 0 {
		rows = append(rows, kv{name: "quests", digest: cats.Quests.Digest, json: b})
	}

	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		digest := hex.EncodeToString(sum[:])
		rows = append(rows, kv{name: "tuning", digest: digest, json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertEvent, _ := s.db.Prepare(`INSERT INTO events(session,seq,at,op,kind,payload_json) VALUES(?,?,?,?,?,?)`)
	insertLevel, _ := s.db.Prepare(`INSERT INTO levels(level,reached_at,session,seq,gold,kills) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,seq,level,gold,kills,cellars,saved_at) VALUES(?,?,?,?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run,snapshot_path,level,kills,recorded_at) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, insertLevel, insertSnapshot, insertRun} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqUpdate:
			u := r.update
			for _, ev := range u.Events {
				if insertEvent == nil {
					break
				}
				payload, _ := json.Marshal(ev)
				if _, err := tx.Stmt(insertEvent).Exec(s.session, int64(u.Seq), u.At, u.Op, string(ev.Kind), string(payload)); err != nil {
					rollback()
					break
				}
				opCount++
				if ev.Kind != game.EventLeveledUp || insertLevel == nil {
					continue
				}
				if _, err := tx.Stmt(insertLevel).Exec(ev.Level, u.At, s.session, int64(u.Seq), u.Gold, u.Kills); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.Path, int64(sn.Seq), sn.Level, sn.Gold, sn.Kills, sn.Cellars, sn.SavedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqRun:
			ru := r.run
			if insertRun != nil {
				if _, err := tx.Stmt(insertRun).Exec(ru.Run, ru.Path, ru.Level, ru.Kills, ru.RecordedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
