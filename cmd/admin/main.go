package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ratcellar.io/internal/persistence/kv"
	persistlog "ratcellar.io/internal/persistence/log"
	"ratcellar.io/internal/persistence/snapshot"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/sim/tuning"
	"ratcellar.io/internal/store"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "reset":
			resetCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func profileDir(dataDir, profile string) string {
	return filepath.Join(dataDir, "profiles", profile)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	profile := fs.String("profile", "", "profile name (optional; lists its contents)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "profiles")
	if *profile != "" {
		base = filepath.Join(base, *profile)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// exportCmd reads the saved state straight from storage and writes it as a
// snapshot file. The server may keep running; the slot is only read.
func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	profile := fs.String("profile", "default", "profile name")
	storage := fs.String("storage", "sqlite", "state backend: sqlite, file or file+zstd")
	outPath := fs.String("out", "", "output snapshot path (default: <profile>/snapshots/<now>.snap.zst)")
	_ = fs.Parse(args)

	dir := profileDir(*dataDir, *profile)
	out := strings.TrimSpace(*outPath)
	if out == "" {
		out = filepath.Join(dir, "snapshots", snapshot.FileName(time.Now()))
	}
	snap, err := exportState(context.Background(), *storage, dir, *profile, out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "export:", err)
		os.Exit(1)
	}
	fmt.Printf("export ok: profile=%s level=%d gold=%.0f kills=%.0f out=%s\n",
		*profile, snap.State.Level, snap.State.Gold, snap.State.Kills, out)
}

func exportState(ctx context.Context, backend, dir, profile, out string) (snapshot.SnapshotV1, error) {
	slots, err := kv.Open(backend, dir)
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	defer slots.Close()

	rules := game.NewRules(tuning.Defaults(), catalogs.Defaults())
	raw, ok, err := slots.Get(ctx, store.StateKey)
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	if !ok {
		return snapshot.SnapshotV1{}, fmt.Errorf("no saved state in %s", dir)
	}
	if err := game.Validate(raw); err != nil {
		return snapshot.SnapshotV1{}, err
	}
	st, err := game.Decode(rules.Default(), raw)
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	snap := snapshot.New(profile, 0, st)
	return snap, snapshot.WriteSnapshot(out, snap)
}

// importCmd overwrites the saved state with a snapshot. The server must be
// stopped; a running server would overwrite the slot on its next update.
func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	profile := fs.String("profile", "default", "profile name")
	storage := fs.String("storage", "sqlite", "state backend: sqlite, file or file+zstd")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	dir := profileDir(*dataDir, *profile)
	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = snapshot.Latest(filepath.Join(dir, "snapshots"))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot")
		os.Exit(2)
	}
	snap, err := importState(context.Background(), *storage, dir, path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "import:", err)
		os.Exit(1)
	}
	writeAdminEntry(dir, persistlog.AdminEntry{Action: "import", Seq: snap.Header.Seq, Path: path})
	fmt.Printf("import ok: profile=%s snapshot=%s level=%d\n", *profile, filepath.Base(path), snap.State.Level)
}

func importState(ctx context.Context, backend, dir, path string) (snapshot.SnapshotV1, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return snap, err
	}
	b, err := game.Encode(snap.State)
	if err != nil {
		return snap, err
	}
	if err := game.Validate(b); err != nil {
		return snap, fmt.Errorf("snapshot state rejected: %w", err)
	}
	slots, err := kv.Open(backend, dir)
	if err != nil {
		return snap, err
	}
	defer slots.Close()
	return snap, slots.Put(ctx, store.StateKey, b)
}

func writeAdminEntry(dir string, e persistlog.AdminEntry) {
	l := persistlog.NewAdminLogger(dir)
	defer l.Close()
	if err := l.WriteAdmin(e); err != nil {
		fmt.Fprintln(os.Stderr, "admin log:", err)
	}
}

// eventsCmd prints logged events as JSON lines, oldest first.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	profile := fs.String("profile", "default", "profile name")
	kind := fs.String("kind", "", "event kind filter (e.g. LEVELED_UP)")
	sinceSeq := fs.Uint64("since_seq", 0, "skip entries with a lower seq")
	_ = fs.Parse(args)

	entries, err := readEvents(filepath.Join(profileDir(*dataDir, *profile), "events"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	for _, e := range filterEvents(entries, game.EventKind(strings.TrimSpace(*kind)), *sinceSeq) {
		printJSON(e)
	}
}

func readEvents(dir string) ([]persistlog.EventEntry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []persistlog.EventEntry
	for _, name := range names {
		got, err := persistlog.ReadJSONL[persistlog.EventEntry](filepath.Join(dir, name))
		if err != nil {
			return out, err
		}
		out = append(out, got...)
	}
	return out, nil
}

func filterEvents(entries []persistlog.EventEntry, kind game.EventKind, sinceSeq uint64) []persistlog.EventEntry {
	out := make([]persistlog.EventEntry, 0, len(entries))
	for _, e := range entries {
		if e.Seq < sinceSeq {
			continue
		}
		if kind != "" {
			if !game.HasKind(e.Events, kind) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
