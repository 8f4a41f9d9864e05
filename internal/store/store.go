// Package store defines the key/value contract shared by the materialized views.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("not found")

// Store is an ordered key/value store owned by a single materializer.
// Implementations must be safe for one writer and many concurrent readers.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put overwrites the value for key. It returns once the engine accepted
	// the write; durability follows the engine's own flush policy.
	Put(ctx context.Context, key string, value []byte) error

	// Close releases the underlying engine.
	Close() error
}

// Error is a read or write failure of the underlying engine.
type Error struct {
	Op  string // "get" or "put"
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as a *Error unless it is nil, ErrNotFound, or already a *Error.
func Wrap(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}
