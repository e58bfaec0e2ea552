package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"ratcellar.io/internal/sim/game"
)

const Version = 1

// Ext is the file extension of backup snapshots.
const Ext = ".snap.zst"

type Header struct {
	Version int    `json:"version"`
	Profile string `json:"profile"`
	Seq     uint64 `json:"seq"`
	Level   int    `json:"level"`
	SavedAt string `json:"saved_at"`
}

type SnapshotV1 struct {
	Header Header
	State  game.State
}

func New(profile string, seq uint64, st game.State) SnapshotV1 {
	return SnapshotV1{
		Header: Header{
			Version: Version,
			Profile: profile,
			Seq:     seq,
			Level:   st.Level,
			SavedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
		State: st,
	}
}

// FileName names a snapshot by its unix time so names sort chronologically.
func FileName(at time.Time) string {
	return fmt.Sprintf("%d%s", at.UnixNano(), Ext)
}

// WriteSnapshot writes to a temp file and renames it into place, so a
// failed write never leaves a truncated snapshot under path.
func WriteSnapshot(path string, snap SnapshotV1) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	if err := encodeSnapshot(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func encodeSnapshot(w io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is for humans and tools; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	// gob drops empty collections.
	if snap.State.OpenedCellars == nil {
		snap.State.OpenedCellars = []game.CellarState{}
	}
	if snap.State.Quests == nil {
		snap.State.Quests = map[string]game.QuestState{}
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// Latest returns the newest snapshot in dir, or "" when there is none.
func Latest(dir string) string {
	all := List(dir)
	if len(all) == 0 {
		return ""
	}
	return all[0]
}

// List returns the snapshots in dir, newest first. Files whose name is not
// a timestamp (temp files included) are skipped.
func List(dir string) []string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type entry struct {
		path string
		at   int64
	}
	var found []entry
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, Ext) {
			continue
		}
		at, err := strconv.ParseInt(strings.TrimSuffix(name, Ext), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, entry{path: filepath.Join(dir, name), at: at})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].at > found[j].at })
	out := make([]string, len(found))
	for i, e := range found {
		out[i] = e.path
	}
	return out
}
