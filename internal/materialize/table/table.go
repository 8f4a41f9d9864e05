// Package table materializes records into a decoded, structured view.
//
// Each record value is decoded (JSON by default), merged against the entry
// already stored for its key (replace by default), and written to a store
// that is independent from the raw view. A decode or merge failure fails that
// one record only.
package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/lsm/streamview/internal/store"
)

// Entry is the materialized state of one key in the table view.
type Entry struct {
	Key        string `json:"key"`
	Value      any    `json:"value"`
	LastOffset int64  `json:"lastOffset"`
}

// DecodeError reports a record whose value could not be decoded.
type DecodeError struct {
	Key    string
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode key %q at offset %d: %v", e.Key, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Option configures a Materializer.
type Option func(*Materializer)

// WithDecoder overrides the default JSON decoder.
func WithDecoder(d Decoder) Option {
	return func(m *Materializer) {
		if d != nil {
			m.decoder = d
		}
	}
}

// WithMerger overrides the default replace policy.
func WithMerger(mg Merger) Option {
	return func(m *Materializer) {
		if mg != nil {
			m.merger = mg
			m.replace = false
		}
	}
}

const lockStripes = 64

// Materializer folds decoded records into its own store.
type Materializer struct {
	store   store.Store
	decoder Decoder
	merger  Merger
	replace bool

	// Merges are read-modify-write; records for one key can arrive from
	// different partitions concurrently.
	locks [lockStripes]sync.Mutex
}

// New creates a table materializer owning s.
func New(s store.Store, opts ...Option) *Materializer {
	m := &Materializer{
		store:   s,
		decoder: NewJSONDecoder(),
		merger:  Replace,
		replace: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply decodes value, merges it with the current entry for key and stores
// the result. Decode failures are returned as *DecodeError and leave the
// stored entry untouched.
func (m *Materializer) Apply(ctx context.Context, key string, value []byte, offset int64) error {
	decoded, err := m.decoder.Decode(key, value)
	if err != nil {
		return &DecodeError{Key: key, Offset: offset, Err: err}
	}
	next := Entry{Key: key, Value: decoded, LastOffset: offset}

	if !m.replace {
		unlock := m.lock(key)
		defer unlock()

		var prev *Entry
		cur, err := m.Entry(ctx, key)
		switch {
		case err == nil:
			prev = &cur
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		merged, err := m.merger.Merge(ctx, prev, next)
		if err != nil {
			return fmt.Errorf("merge key %q at offset %d: %w", key, offset, err)
		}
		next.Value = merged
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode entry %q: %w", key, err)
	}
	return m.store.Put(ctx, key, data)
}

// Get returns the decoded value for key or store.ErrNotFound.
func (m *Materializer) Get(ctx context.Context, key string) (any, error) {
	e, err := m.Entry(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Entry returns the full table entry for key.
func (m *Materializer) Entry(ctx context.Context, key string) (Entry, error) {
	data, err := m.store.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, &store.Error{Op: "get", Key: key, Err: fmt.Errorf("decode stored entry: %w", err)}
	}
	return e, nil
}

// Close closes the underlying store.
func (m *Materializer) Close() error {
	return m.store.Close()
}

func (m *Materializer) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
