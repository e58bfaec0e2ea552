package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"ratcellar.io/internal/audio"
	"ratcellar.io/internal/persistence/archive"
	persistlog "ratcellar.io/internal/persistence/log"
	"ratcellar.io/internal/persistence/snapshot"
	"ratcellar.io/internal/store"
)

// serverRuntime holds the pieces the HTTP handlers and background loops share.
type serverRuntime struct {
	profile    string
	profileDir string
	started    time.Time
	log        *log.Logger

	store    *store.Store
	idx      runtimeIndex
	events   *persistlog.EventLogger
	adminLog *persistlog.AdminLogger
	chime    *audio.Chime

	// adminMu serializes snapshot and reset so a reset always archives the
	// snapshot it just wrote.
	adminMu sync.Mutex
}

// onSnapshot is subscribed to the store. It runs with the store locked.
func (rt *serverRuntime) onSnapshot(sn store.Snapshot) {
	if len(sn.Events) == 0 {
		return
	}
	if rt.events != nil {
		if err := rt.events.Record(sn); err != nil {
			rt.log.Printf("event log: %v", err)
		}
	}
	if rt.idx != nil {
		rt.idx.RecordUpdate(sn)
	}
	if rt.chime != nil {
		rt.chime.Notify(sn.Events)
	}
}

func (rt *serverRuntime) snapshotDir() string {
	return filepath.Join(rt.profileDir, "snapshots")
}

// writeSnapshot saves the current state as a backup snapshot.
func (rt *serverRuntime) writeSnapshot() (string, snapshot.SnapshotV1, error) {
	cur := rt.store.Current()
	snap := snapshot.New(rt.profile, cur.Seq, cur.State)
	path := filepath.Join(rt.snapshotDir(), snapshot.FileName(time.Now()))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", snap, fmt.Errorf("snapshot write: %w", err)
	}
	if rt.idx != nil {
		rt.idx.RecordSnapshot(path, snap)
	}
	return path, snap, nil
}

func (rt *serverRuntime) Snapshot() (string, snapshot.SnapshotV1, error) {
	rt.adminMu.Lock()
	defer rt.adminMu.Unlock()
	path, snap, err := rt.writeSnapshot()
	rt.audit("snapshot", snap.Header.Seq, path, err)
	return path, snap, err
}

type resetResult struct {
	Run      int    `json:"run"`
	Archived string `json:"archived"`
	Seq      uint64 `json:"seq"`
}

// Reset archives the current run and starts over from defaults. Nothing is
// reset unless the archive was written.
func (rt *serverRuntime) Reset(ctx context.Context) (resetResult, error) {
	rt.adminMu.Lock()
	defer rt.adminMu.Unlock()

	var res resetResult
	path, snap, err := rt.writeSnapshot()
	if err != nil {
		rt.audit("reset", snap.Header.Seq, "", err)
		return res, err
	}
	run, archived, err := archive.ArchiveRun(rt.profileDir, path, snap)
	if err != nil {
		err = fmt.Errorf("archive run: %w", err)
		rt.audit("reset", snap.Header.Seq, path, err)
		return res, err
	}
	if rt.idx != nil {
		rt.idx.RecordRun(run, archived, snap)
	}
	if _, err := rt.store.Reset(ctx); err != nil {
		rt.audit("reset", snap.Header.Seq, archived, err)
		return res, err
	}
	res = resetResult{Run: run, Archived: archived, Seq: rt.store.Current().Seq}
	rt.audit("reset", res.Seq, archived, nil)
	rt.log.Printf("reset: archived run %d at %s", run, archived)
	return res, nil
}

func (rt *serverRuntime) audit(action string, seq uint64, path string, err error) {
	if rt.adminLog == nil {
		return
	}
	e := persistlog.AdminEntry{Action: action, Seq: seq, Path: path}
	if err != nil {
		e.Error = err.Error()
	}
	if werr := rt.adminLog.WriteAdmin(e); werr != nil {
		rt.log.Printf("admin log: %v", werr)
	}
}

// hasAdventurers reports whether passive production can change anything.
func hasAdventurers(sn store.Snapshot) bool {
	for _, c := range sn.State.OpenedCellars {
		if c.AdventurersHired > 0 {
			return true
		}
	}
	return false
}
