package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ratcellar.io/internal/persistence/snapshot"
)

type RunArchiveMeta struct {
	Run       int     `json:"run"`
	Profile   string  `json:"profile"`
	Seq       uint64  `json:"seq"`
	Level     int     `json:"level"`
	Gold      float64 `json:"gold"`
	Kills     float64 `json:"kills"`
	Snapshot  string  `json:"snapshot"`
	SavedAt   string  `json:"saved_at"`
	CreatedAt string  `json:"created_at"`
}

// ArchiveRun copies the snapshot taken just before a reset into
// `profileDir/archives/run_<NNN>/`. Runs are numbered from 1.
func ArchiveRun(profileDir, snapshotPath string, snap snapshot.SnapshotV1) (run int, archivedPath string, err error) {
	root := filepath.Join(profileDir, "archives")
	run = NextRun(root)

	archiveDir := filepath.Join(root, fmt.Sprintf("run_%03d", run))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", err
	}

	meta := RunArchiveMeta{
		Run:       run,
		Profile:   snap.Header.Profile,
		Seq:       snap.Header.Seq,
		Level:     snap.State.Level,
		Gold:      snap.State.Gold,
		Kills:     snap.State.Kills,
		Snapshot:  filepath.Base(dst),
		SavedAt:   snap.Header.SavedAt,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return run, dst, nil
}

// NextRun returns one past the highest run number archived under root.
func NextRun(root string) int {
	ents, err := os.ReadDir(root)
	if err != nil {
		return 1
	}
	last := 0
	for _, e := range ents {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "run_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "run_"))
		if err != nil {
			continue
		}
		if n > last {
			last = n
		}
	}
	return last + 1
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
