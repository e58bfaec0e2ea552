package kv

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FileStore keeps one file per key. Writes go to a temp file that is synced
// and renamed over the old one, so a crash never leaves a torn value.
type FileStore struct {
	dir      string
	compress bool

	mu     sync.Mutex
	closed bool
}

func NewFileStore(dir string, compress bool) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty slot dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, compress: compress}, nil
}

func (s *FileStore) pathFor(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("kv: invalid key %q", key)
	}
	name := key + ".json"
	if s.compress {
		name += ".zst"
	}
	return filepath.Join(s.dir, name), nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	path, err := s.pathFor(key)
	if err != nil {
		return nil, false, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var r io.Reader = f
	if s.compress {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, false, err
		}
		defer dec.Close()
		r = dec
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("kv: read %s: %w", key, err)
	}
	return b, true, nil
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if s.compress {
		enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			cleanup()
			return err
		}
		if _, err := enc.Write(value); err != nil {
			_ = enc.Close()
			cleanup()
			return err
		}
		if err := enc.Close(); err != nil {
			cleanup()
			return err
		}
	} else if _, err := tmp.Write(value); err != nil {
		cleanup()
		return err
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
