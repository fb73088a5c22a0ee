package projects

import (
	"context"
	"testing"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	p, err := s.Create(ctx, "My Jam", "user_123")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" {
		t.Fatal("no id assigned")
	}
	if p.Title != "My Jam" || p.Owner != "user_123" {
		t.Fatalf("project = %+v", p)
	}
	if p.CreatedAt.IsZero() {
		t.Fatal("creation time not set")
	}

	got, ok, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("project not found")
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestMemoryStoreGetAbsent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	_, ok, err := s.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("found a project that was never created")
	}
}

func TestMemoryStoreUniqueIDs(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		p, err := s.Create(ctx, "t", "o")
		if err != nil {
			t.Fatal(err)
		}
		if seen[p.ID] {
			t.Fatalf("duplicate project id %s", p.ID)
		}
		seen[p.ID] = true
	}
}
