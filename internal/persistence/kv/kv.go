// Package kv provides the key-value slots the game state is saved into.
package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrClosed = errors.New("kv: closed")

// Store is a durable key-value slot. Put must be durable (or fail) before it
// returns; callers rely on it to keep published and saved state in sync.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

const (
	BackendSQLite  = "sqlite"
	BackendFile    = "file"
	BackendFileZst = "file+zstd"
	BackendMemory  = "memory"
)

// Open builds a backend by name. dir is the data directory the backend keeps
// its files in; it is ignored by the memory backend.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		return OpenSQLite(filepath.Join(dir, "state.sqlite"))
	case BackendFile:
		return NewFileStore(filepath.Join(dir, "slots"), false)
	case BackendFileZst:
		return NewFileStore(filepath.Join(dir, "slots"), true)
	case BackendMemory, "mem":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
