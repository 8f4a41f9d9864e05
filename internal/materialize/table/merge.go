package table

import "context"

// Merger combines the previous entry for a key (nil if none) with the
// freshly decoded one and returns the value to store.
type Merger interface {
	Merge(ctx context.Context, prev *Entry, next Entry) (any, error)
}

// MergerFunc adapts a function to Merger.
type MergerFunc func(ctx context.Context, prev *Entry, next Entry) (any, error)

// Merge calls f.
func (f MergerFunc) Merge(ctx context.Context, prev *Entry, next Entry) (any, error) {
	return f(ctx, prev, next)
}

// Replace keeps the newest value.
var Replace Merger = MergerFunc(func(_ context.Context, _ *Entry, next Entry) (any, error) {
	return next.Value, nil
})
