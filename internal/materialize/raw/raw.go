// Package raw materializes records into a flat key to raw-bytes view.
package raw

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/lsm/streamview/internal/store"
)

const offsetSize = 8

var errCorrupt = errors.New("corrupt entry: shorter than offset header")

// Entry is the materialized state of one key in the raw view.
type Entry struct {
	Key        string
	Value      []byte
	LastOffset int64
}

// Materializer folds records into its store with last-write-wins semantics.
// It must be the only writer of the store.
type Materializer struct {
	store store.Store
}

// New creates a raw materializer owning s.
func New(s store.Store) *Materializer {
	return &Materializer{store: s}
}

// Put overwrites key with value. There is no merge: the latest call wins.
func (m *Materializer) Put(ctx context.Context, key string, value []byte, offset int64) error {
	buf := make([]byte, offsetSize+len(value))
	binary.BigEndian.PutUint64(buf, uint64(offset))
	copy(buf[offsetSize:], value)
	return m.store.Put(ctx, key, buf)
}

// Get returns the latest raw value for key, store.ErrNotFound, or a *store.Error.
func (m *Materializer) Get(ctx context.Context, key string) ([]byte, error) {
	e, err := m.Entry(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Entry returns the full materialized entry for key.
func (m *Materializer) Entry(ctx context.Context, key string) (Entry, error) {
	buf, err := m.store.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	if len(buf) < offsetSize {
		return Entry{}, &store.Error{Op: "get", Key: key, Err: errCorrupt}
	}
	return Entry{
		Key:        key,
		Value:      buf[offsetSize:],
		LastOffset: int64(binary.BigEndian.Uint64(buf)),
	}, nil
}

// Close closes the underlying store.
func (m *Materializer) Close() error {
	return m.store.Close()
}
