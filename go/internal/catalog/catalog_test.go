package catalog

import (
	"context"
	"testing"
)

func TestStaticStoreContains(t *testing.T) {
	s := NewStaticStore([]string{"alpha", "bravo"})

	ok, err := s.Contains(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected alpha to be in the catalog")
	}

	ok, err = s.Contains(context.Background(), "charlie")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected charlie to be unknown")
	}
}

func TestStaticStoreEmpty(t *testing.T) {
	s := NewStaticStore(nil)
	ok, err := s.Contains(context.Background(), "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("empty catalog should contain nothing")
	}
}
