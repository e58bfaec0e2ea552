package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"ratcellar.io/internal/sim/game"
	"ratcellar.io/internal/store"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventEntry is one committed update that emitted events.
type EventEntry struct {
	Time   string       `json:"time"`
	Seq    uint64       `json:"seq"`
	Op     string       `json:"op"`
	Events []game.Event `json:"events"`
	Level  int          `json:"level"`
	Gold   float64      `json:"gold"`
	Kills  float64      `json:"kills"`
}

// EventLogger writes one JSONL entry per eventful update (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(profileDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(profileDir, "events"), "events")}
}

// Record logs sn if it emitted events; quiet updates (ticks, scene changes)
// are skipped.
func (l *EventLogger) Record(sn store.Snapshot) error {
	if len(sn.Events) == 0 {
		return nil
	}
	return l.w.Write(EventEntry{
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
		Seq:    sn.Seq,
		Op:     sn.Op,
		Events: sn.Events,
		Level:  sn.State.Level,
		Gold:   sn.State.Gold,
		Kills:  sn.State.Kills,
	})
}

func (l *EventLogger) Close() error { return l.w.Close() }

// AdminEntry records an operator action (reset, snapshot, import).
type AdminEntry struct {
	Time   string `json:"time"`
	Action string `json:"action"`
	Seq    uint64 `json:"seq"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AdminLogger writes admin JSONL entries (compressed).
type AdminLogger struct{ w *JSONLZstdWriter }

func NewAdminLogger(profileDir string) *AdminLogger {
	return &AdminLogger{w: NewJSONLZstdWriter(filepath.Join(profileDir, "audit"), "admin")}
}

func (l *AdminLogger) WriteAdmin(e AdminEntry) error {
	if e.Time == "" {
		e.Time = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return l.w.Write(e)
}

func (l *AdminLogger) Close() error { return l.w.Close() }

// ReadJSONL decodes every line of a .jsonl.zst file into a new T.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []T
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, v)
	}
	return out, sc.Err()
}
