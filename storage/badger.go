package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// gcInterval is how often the value log is garbage collected.
const gcInterval = 5 * time.Minute

// BadgerStorage implements KV using BadgerDB
type BadgerStorage struct {
	db   *badger.DB
	stop chan struct{}
	done chan struct{}
}

// NewBadgerStorage opens (creating if needed) a BadgerDB in dataDir.
func NewBadgerStorage(dataDir string) (*BadgerStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerStorage{
		db:   db,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	// Start background tasks
	go s.runGC()

	return s, nil
}

// runGC runs the value log garbage collector periodically
func (s *BadgerStorage) runGC() {
	defer close(s.done)

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

// Get retrieves a value by key
func (s *BadgerStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		found = true
		value, err = item.ValueCopy(nil)
		return err
	})

	return value, found, err
}

// Set stores a key-value pair
func (s *BadgerStorage) Set(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete removes a key
func (s *BadgerStorage) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close stops background tasks and closes the database
func (s *BadgerStorage) Close() error {
	close(s.stop)
	<-s.done
	return s.db.Close()
}
