// Package leveldb provides a LevelDB-backed store.Store.
package leveldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/lsm/streamview/internal/store"
)

// Store persists values in a LevelDB database. Writes are not fsynced:
// an accepted Put is in the write-ahead log and memtable but may be lost
// on a crash before the OS flushes it.
type Store struct {
	db *leveldb.DB
	wo *opt.WriteOptions
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) a LevelDB database in dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("leveldb directory is required")
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return &Store{db: db, wo: &opt.WriteOptions{Sync: false}}, nil
}

// OpenMemory opens a LevelDB database backed by memory only.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb memory storage: %w", err)
	}
	return &Store{db: db, wo: &opt.WriteOptions{Sync: false}}, nil
}

// Get returns the value stored for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("get", key, err)
	}
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("get", key, err)
	}
	return v, nil
}

// Put overwrites the value stored for key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("put", key, err)
	}
	return store.Wrap("put", key, s.db.Put([]byte(key), value, s.wo))
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
