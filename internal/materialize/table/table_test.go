package table

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/lsm/streamview/internal/schema"
	"github.com/lsm/streamview/internal/store"
	"github.com/lsm/streamview/internal/store/memory"
)

func TestApply_ReplaceByDefault(t *testing.T) {
	m := New(memory.New())
	ctx := context.Background()

	if err := m.Apply(ctx, "a", []byte(`{"n":1}`), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := m.Apply(ctx, "a", []byte(`{"n":2}`), 1); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, err := m.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := map[string]any{"n": float64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	e, _ := m.Entry(ctx, "a")
	if e.LastOffset != 1 {
		t.Errorf("expected last offset 1, got %d", e.LastOffset)
	}
}

func TestApply_DecodeErrorLeavesNoEntry(t *testing.T) {
	m := New(memory.New())
	ctx := context.Background()

	err := m.Apply(ctx, "a", []byte("{bad json"), 7)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.Key != "a" || de.Offset != 7 {
		t.Errorf("unexpected decode error fields: %+v", de)
	}
	if _, err := m.Get(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no entry, got %v", err)
	}
}

func TestApply_DecodeErrorDoesNotBlockLaterRecords(t *testing.T) {
	m := New(memory.New())
	ctx := context.Background()

	_ = m.Apply(ctx, "a", []byte(`"first"`), 0)
	if err := m.Apply(ctx, "a", []byte("{bad"), 1); err == nil {
		t.Fatal("expected decode error")
	}
	if err := m.Apply(ctx, "a", []byte(`"third"`), 2); err != nil {
		t.Fatalf("apply after failure: %v", err)
	}
	if err := m.Apply(ctx, "b", []byte(`true`), 3); err != nil {
		t.Fatalf("apply other key: %v", err)
	}

	if got, _ := m.Get(ctx, "a"); got != "third" {
		t.Errorf("expected third, got %v", got)
	}
	if got, _ := m.Get(ctx, "b"); got != true {
		t.Errorf("expected true, got %v", got)
	}
}

func TestApply_CustomMerger(t *testing.T) {
	sum := MergerFunc(func(_ context.Context, prev *Entry, next Entry) (any, error) {
		total := next.Value.(float64)
		if prev != nil {
			total += prev.Value.(float64)
		}
		return total, nil
	})
	m := New(memory.New(), WithMerger(sum))
	ctx := context.Background()

	for i, v := range []string{"1", "2", "3"} {
		if err := m.Apply(ctx, "c", []byte(v), int64(i)); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if got, _ := m.Get(ctx, "c"); got != float64(6) {
		t.Errorf("expected 6, got %v", got)
	}
}

func TestApply_MergeErrorKeepsPreviousEntry(t *testing.T) {
	calls := 0
	mg := MergerFunc(func(_ context.Context, _ *Entry, next Entry) (any, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("boom")
		}
		return next.Value, nil
	})
	m := New(memory.New(), WithMerger(mg))
	ctx := context.Background()

	_ = m.Apply(ctx, "k", []byte(`1`), 0)
	if err := m.Apply(ctx, "k", []byte(`2`), 1); err == nil {
		t.Fatal("expected merge error")
	}
	e, _ := m.Entry(ctx, "k")
	if e.Value != float64(1) || e.LastOffset != 0 {
		t.Errorf("expected previous entry to survive, got %+v", e)
	}
}

func TestApply_ConcurrentMergesSameKey(t *testing.T) {
	count := MergerFunc(func(_ context.Context, prev *Entry, _ Entry) (any, error) {
		if prev == nil {
			return float64(1), nil
		}
		return prev.Value.(float64) + 1, nil
	})
	m := New(memory.New(), WithMerger(count))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				_ = m.Apply(ctx, "shared", []byte(`{}`), int64(p*100+i))
			}
		}()
	}
	wg.Wait()

	if got, _ := m.Get(ctx, "shared"); got != float64(200) {
		t.Errorf("expected 200 merges, got %v", got)
	}
}

func TestJSONDecoder_ValuePath(t *testing.T) {
	d := NewJSONDecoder(WithValuePath("payload.after"))

	got, err := d.Decode("k", []byte(`{"payload":{"after":{"id":1}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"id": float64(1)}) {
		t.Errorf("unexpected projection %v", got)
	}

	if _, err := d.Decode("k", []byte(`{"payload":{}}`)); err == nil {
		t.Error("expected error for missing path")
	}
	if _, err := d.Decode("k", []byte(`{"payload":`)); !errors.Is(err, errInvalidJSON) {
		t.Errorf("expected invalid JSON error, got %v", err)
	}
}

func TestJSONDecoder_Schema(t *testing.T) {
	v, err := schema.NewValidator([]byte(`{"type":"object","required":["id"]}`))
	if err != nil {
		t.Fatal(err)
	}
	m := New(memory.New(), WithDecoder(NewJSONDecoder(WithSchema(v))))
	ctx := context.Background()

	if err := m.Apply(ctx, "a", []byte(`{"name":"x"}`), 0); err == nil {
		t.Fatal("expected schema failure")
	}
	if err := m.Apply(ctx, "a", []byte(`{"id":"x"}`), 1); err != nil {
		t.Fatalf("apply: %v", err)
	}
}
