package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lsm/streamview/internal/store"
)

func TestStore_LastWriteWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Get(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, v := range []string{"1", "2", "3"} {
		if err := s.Put(ctx, "a", []byte(v)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "3" {
		t.Errorf("expected 3, got %q", got)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 key, got %d", s.Len())
	}
}

func TestStore_CopiesValues(t *testing.T) {
	s := New()
	ctx := context.Background()

	buf := []byte("abc")
	_ = s.Put(ctx, "k", buf)
	buf[0] = 'x'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller buffer: %q", got)
	}
	got[0] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased stored buffer: %q", again)
	}
}

func TestStore_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var se *store.Error
	if err := s.Put(ctx, "k", nil); !errors.As(err, &se) || se.Op != "put" || !errors.Is(err, context.Canceled) {
		t.Errorf("expected *store.Error wrapping context.Canceled, got %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.As(err, &se) || se.Op != "get" || se.Key != "k" {
		t.Errorf("expected *store.Error for get, got %v", err)
	}
}

func TestStore_ConcurrentReadersAndWriter(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			_ = s.Put(ctx, fmt.Sprintf("k%d", i%10), []byte(fmt.Sprint(i)))
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				_, err := s.Get(ctx, fmt.Sprintf("k%d", i%10))
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					t.Errorf("get: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
