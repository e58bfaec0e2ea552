package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	profile := fs.String("profile", "default", "profile name (ignored with -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	kind := fs.String("kind", "", "event kind filter (events)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(profileDir(*dataDir, *profile), "index", "history.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	var rows *sql.Rows
	switch q {
	case "snapshots":
		rows, err = db.Query(`SELECT path,seq,level,gold,kills,cellars,saved_at FROM snapshots ORDER BY saved_at DESC LIMIT ?`, *limit)
		if err == nil {
			scanAll(rows, func() (any, error) {
				var r struct {
					Path    string  `json:"path"`
					Seq     uint64  `json:"seq"`
					Level   int     `json:"level"`
					Gold    float64 `json:"gold"`
					Kills   float64 `json:"kills"`
					Cellars int     `json:"cellars"`
					SavedAt string  `json:"saved_at"`
				}
				err := rows.Scan(&r.Path, &r.Seq, &r.Level, &r.Gold, &r.Kills, &r.Cellars, &r.SavedAt)
				return r, err
			})
		}

	case "events":
		stmt := `SELECT id,session,seq,at,op,kind,payload_json FROM events ORDER BY id DESC LIMIT ?`
		qargs := []any{*limit}
		if k := strings.TrimSpace(*kind); k != "" {
			stmt = `SELECT id,session,seq,at,op,kind,payload_json FROM events WHERE kind=? ORDER BY id DESC LIMIT ?`
			qargs = []any{k, *limit}
		}
		rows, err = db.Query(stmt, qargs...)
		if err == nil {
			scanAll(rows, func() (any, error) {
				var r struct {
					ID      int64           `json:"id"`
					Session string          `json:"session"`
					Seq     uint64          `json:"seq"`
					At      string          `json:"at"`
					Op      string          `json:"op"`
					Kind    string          `json:"kind"`
					Payload json.RawMessage `json:"payload"`
				}
				var payload string
				err := rows.Scan(&r.ID, &r.Session, &r.Seq, &r.At, &r.Op, &r.Kind, &payload)
				r.Payload = json.RawMessage(payload)
				return r, err
			})
		}

	case "levels":
		rows, err = db.Query(`SELECT level,reached_at,session,seq,gold,kills FROM levels ORDER BY id DESC LIMIT ?`, *limit)
		if err == nil {
			scanAll(rows, func() (any, error) {
				var r struct {
					Level     int     `json:"level"`
					ReachedAt string  `json:"reached_at"`
					Session   string  `json:"session"`
					Seq       uint64  `json:"seq"`
					Gold      float64 `json:"gold"`
					Kills     float64 `json:"kills"`
				}
				err := rows.Scan(&r.Level, &r.ReachedAt, &r.Session, &r.Seq, &r.Gold, &r.Kills)
				return r, err
			})
		}

	case "runs":
		rows, err = db.Query(`SELECT run,snapshot_path,level,kills,recorded_at FROM runs ORDER BY run DESC LIMIT ?`, *limit)
		if err == nil {
			scanAll(rows, func() (any, error) {
				var r struct {
					Run        int     `json:"run"`
					Snapshot   string  `json:"snapshot"`
					Level      int     `json:"level"`
					Kills      float64 `json:"kills"`
					RecordedAt string  `json:"recorded_at"`
				}
				err := rows.Scan(&r.Run, &r.Snapshot, &r.Level, &r.Kills, &r.RecordedAt)
				return r, err
			})
		}

	case "catalogs":
		rows, err = db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err == nil {
			scanAll(rows, func() (any, error) {
				var r struct {
					Name      string `json:"name"`
					Digest    string `json:"digest"`
					UpdatedAt string `json:"updated_at"`
				}
				err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt)
				return r, err
			})
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-profile P|-db PATH] [-limit N] [-kind K] snapshots|events|levels|runs|catalogs")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

// scanAll prints one JSON line per row.
func scanAll(rows *sql.Rows, scan func() (any, error)) {
	defer rows.Close()
	for rows.Next() {
		v, err := scan()
		if err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		printJSON(v)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
