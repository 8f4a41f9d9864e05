package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap("get", "k", nil) != nil {
		t.Fatal("nil must stay nil")
	}
	if err := Wrap("get", "k", fmt.Errorf("lookup: %w", ErrNotFound)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound to pass through, got %v", err)
	}

	cause := errors.New("disk full")
	err := Wrap("put", "k", cause)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.Op != "put" || se.Key != "k" {
		t.Errorf("unexpected op/key: %s/%s", se.Op, se.Key)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to unwrap")
	}
	if Wrap("get", "other", err) != err {
		t.Error("expected existing *Error to be returned unchanged")
	}
}
