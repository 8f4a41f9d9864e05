// Package memory provides an in-process ordered store.Store.
package memory

import (
	"bytes"
	"context"

	"github.com/tidwall/btree"

	"github.com/lsm/streamview/internal/store"
)

type item struct {
	key   string
	value []byte
}

// Store keeps entries in a B-tree ordered by key. The tree does its own
// read/write locking, so Get never waits on more than a single Put.
type Store struct {
	tree *btree.BTreeG[item]
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		tree: btree.NewBTreeG(func(a, b item) bool { return a.key < b.key }),
	}
}

// Get returns a copy of the value stored for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("get", key, err)
	}
	it, ok := s.tree.Get(item{key: key})
	if !ok {
		return nil, store.ErrNotFound
	}
	return bytes.Clone(it.value), nil
}

// Put overwrites the value stored for key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("put", key, err)
	}
	s.tree.Set(item{key: key, value: bytes.Clone(value)})
	return nil
}

// Len returns the number of keys.
func (s *Store) Len() int {
	return s.tree.Len()
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
