package cel

import (
	"context"
	"reflect"
	"testing"

	"github.com/lsm/streamview/internal/materialize/table"
	"github.com/lsm/streamview/internal/store/memory"
)

func TestNewMerger_InvalidExpression(t *testing.T) {
	if _, err := NewMerger(">>>invalid<<<"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestNewMerger_UndeclaredVariable(t *testing.T) {
	if _, err := NewMerger("data.id"); err == nil {
		t.Fatal("expected error for undeclared variable")
	}
}

func TestMerge_NextOnly(t *testing.T) {
	m, err := NewMerger("next")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := m.Merge(context.Background(), nil, table.Entry{Key: "k", Value: map[string]any{"a": "b"}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"a": "b"}) {
		t.Errorf("unexpected result %v", got)
	}
}

func TestMerge_Accumulate(t *testing.T) {
	m, err := NewMerger(`prev == null ? next : {"count": prev.count + next.count, "last": key}`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	tbl := table.New(memory.New(), table.WithMerger(m))
	ctx := context.Background()

	for i, v := range []string{`{"count":1}`, `{"count":2}`, `{"count":4}`} {
		if err := tbl.Apply(ctx, "acc", []byte(v), int64(i)); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	got, err := tbl.Get(ctx, "acc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := map[string]any{"count": float64(7), "last": "acc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMerge_OffsetAndNull(t *testing.T) {
	m, err := NewMerger(`offset > 5 ? dyn(null) : dyn([key, offset])`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ctx := context.Background()

	got, err := m.Merge(ctx, nil, table.Entry{Key: "k", LastOffset: 3})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !reflect.DeepEqual(got, []any{"k", float64(3)}) {
		t.Errorf("unexpected list %v", got)
	}

	got, err = m.Merge(ctx, nil, table.Entry{Key: "k", LastOffset: 9})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestMerge_EvalError(t *testing.T) {
	m, err := NewMerger(`next.missing`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := m.Merge(context.Background(), nil, table.Entry{Key: "k", Value: map[string]any{}}); err == nil {
		t.Fatal("expected eval error for missing field")
	}
}
