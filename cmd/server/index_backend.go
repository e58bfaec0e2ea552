package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ratcellar.io/internal/persistence/indexdb"
	"ratcellar.io/internal/persistence/snapshot"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/tuning"
	"ratcellar.io/internal/store"
)

type runtimeIndex interface {
	Close() error
	UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordUpdate(sn store.Snapshot)
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordRun(run int, archivedSnapshotPath string, snap snapshot.SnapshotV1)
	Stats() indexdb.Stats
}

func openRuntimeIndex(profileDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("RC_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(profileDir, "index", "history.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported RC_INDEX_BACKEND: %s", backend)
	}
}
