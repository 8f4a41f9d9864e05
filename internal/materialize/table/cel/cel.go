// Package cel implements table merge policies as CEL expressions.
//
// The expression sees four variables: key (string), offset (int), prev (the
// value currently stored for the key, null if none) and next (the freshly
// decoded value). Its result becomes the stored value. For example:
//
//	prev == null ? next : {"count": prev.count + next.count}
package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/lsm/streamview/internal/materialize/table"
)

const defaultTimeout = time.Second

// Option configures a Merger.
type Option func(*Merger)

// WithTimeout sets the maximum evaluation time for a single merge.
func WithTimeout(d time.Duration) Option {
	return func(m *Merger) {
		m.timeout = d
	}
}

// Merger evaluates a compiled CEL program for every merge.
type Merger struct {
	program cel.Program
	timeout time.Duration
}

var _ table.Merger = (*Merger)(nil)

// NewMerger compiles expression.
func NewMerger(expression string, opts ...Option) (*Merger, error) {
	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("offset", cel.IntType),
		cel.Variable("prev", cel.DynType),
		cel.Variable("next", cel.DynType),
		ext.Strings(),
		ext.Encoders(),
		ext.Math(),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}

	prg, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	m := &Merger{
		program: prg,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Merge evaluates the expression against prev and next.
func (m *Merger) Merge(ctx context.Context, prev *table.Entry, next table.Entry) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var prevVal any
	if prev != nil {
		prevVal = prev.Value
	}
	activation := map[string]any{
		"key":    next.Key,
		"offset": next.LastOffset,
		"prev":   prevVal,
		"next":   next.Value,
	}

	out, _, err := m.program.ContextEval(ctx, activation)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("merge timeout: %w", ctx.Err())
		}
		return nil, fmt.Errorf("cel eval: %w", err)
	}
	return toNative(out), nil
}

// toNative recursively converts CEL values to the shapes encoding/json
// produces, so merged values round-trip through the store unchanged.
func toNative(val any) any {
	switch v := val.(type) {
	case types.Null:
		return nil
	case traits.Mapper:
		it := v.Iterator()
		m := make(map[string]any)
		for it.HasNext() == types.True {
			key := it.Next()
			m[fmt.Sprint(key.Value())] = toNative(v.Get(key))
		}
		return m
	case traits.Lister:
		it := v.Iterator()
		list := []any{}
		for it.HasNext() == types.True {
			list = append(list, toNative(it.Next()))
		}
		return list
	case types.Int:
		return float64(v)
	case types.Uint:
		return float64(v)
	case types.Double:
		return float64(v)
	case types.String:
		return string(v)
	case types.Bool:
		return bool(v)
	default:
		if rv, ok := val.(interface{ Value() any }); ok {
			return rv.Value()
		}
		return val
	}
}
