package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"gitforge/config"
)

const keyNodeID = "node/id"

// sqlCacheSize bounds the read cache placed in front of SQL backends.
const sqlCacheSize = 8 << 20

// Storage holds the node's persistent settings: its identity, the root
// account and the results of first-run setup. It is the data initialization
// and identity provider of the lifecycle machine.
type Storage struct {
	kv      KV
	dialect string

	mu sync.Mutex // serializes setup writes
}

// Open opens the backend selected by the dialect of databaseURL:
//
//	badger:<dir>          BadgerDB (default)
//	sqlite:<file>         SQLite
//	postgresql://...      PostgreSQL, jdbc: prefix optional
//	memory:               in-memory, for tests
func Open(ctx context.Context, databaseURL string) (*Storage, error) {
	u, err := config.ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	var kv KV
	switch u.Dialect {
	case "badger":
		if u.Location == "" {
			return nil, fmt.Errorf("%w: badger url needs a directory", ErrUnsupportedBackend)
		}
		kv, err = NewBadgerStorage(u.Location)
	case "sqlite":
		if u.Location == "" {
			return nil, fmt.Errorf("%w: sqlite url needs a file", ErrUnsupportedBackend)
		}
		kv, err = NewSQLiteStorage(u.Location)
	case "postgres", "postgresql":
		kv, err = NewPostgresStorage("postgres:" + u.Location)
	case "memory":
		kv = NewMemoryKV()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, u.Dialect)
	}
	if err != nil {
		return nil, err
	}

	if !u.Embedded || u.Dialect == "sqlite" {
		cached, err := NewCachedKV(kv, sqlCacheSize)
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		kv = cached
	}

	return &Storage{kv: kv, dialect: u.Dialect}, nil
}

// New wraps an existing backend.
func New(kv KV) *Storage {
	return &Storage{kv: kv}
}

// Dialect returns the backend dialect chosen by Open.
func (s *Storage) Dialect() string {
	return s.dialect
}

// NodeID returns the persistent identifier of this node, generating it on
// first use.
func (s *Storage) NodeID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := s.kv.Get(ctx, keyNodeID)
	if err != nil {
		return "", fmt.Errorf("failed to read node id: %w", err)
	}
	if ok {
		return string(v), nil
	}

	id := uuid.NewString()
	if err := s.kv.Set(ctx, keyNodeID, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to store node id: %w", err)
	}
	return id, nil
}

// Setting returns a system setting recorded during setup.
func (s *Storage) Setting(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := s.kv.Get(ctx, settingKey(name))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(v), true, nil
}

// ServerURL returns the server URL recorded by the server-url setup step.
func (s *Storage) ServerURL(ctx context.Context) (string, bool, error) {
	return s.Setting(ctx, SettingServerURL)
}

// Close closes the backend.
func (s *Storage) Close() error {
	return s.kv.Close()
}

func settingKey(name string) string {
	return "setting/" + name
}
