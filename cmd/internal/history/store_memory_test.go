package history

import (
	"context"
	"reflect"
	"testing"
)

func TestInMemoryStore_RecordIdempotent(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Record(ctx, "chat", "a"); err != nil {
		t.Fatalf("record a: %v", err)
	}
	if err := s.Record(ctx, "chat", "b"); err != nil {
		t.Fatalf("record b: %v", err)
	}
	if err := s.Record(ctx, "chat", "a"); err != nil {
		t.Fatalf("record a again: %v", err)
	}

	got, err := s.ListIDs(ctx, "chat")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ListIDs(chat)=%v want=%v", got, want)
	}
}

func TestInMemoryStore_ListSorted(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid", "Beta"} {
		if err := s.Record(ctx, "pdf", id); err != nil {
			t.Fatalf("record %q: %v", id, err)
		}
	}

	got, err := s.ListIDs(ctx, "pdf")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"Beta", "alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ListIDs(pdf)=%v want=%v", got, want)
	}
}

func TestInMemoryStore_UnknownTypeEmptyNotNil(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()

	got, err := s.ListIDs(context.Background(), "service")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got == nil {
		t.Fatalf("expected empty slice, got nil")
	}
	if len(got) != 0 {
		t.Fatalf("expected no ids, got %v", got)
	}
}

func TestInMemoryStore_TypesAreIndependent(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Record(ctx, "chat", "shared-id"); err != nil {
		t.Fatalf("record chat: %v", err)
	}
	if err := s.Record(ctx, "service", "shared-id"); err != nil {
		t.Fatalf("record service: %v", err)
	}
	if err := s.Record(ctx, "service", "other"); err != nil {
		t.Fatalf("record other: %v", err)
	}

	chat, err := s.ListIDs(ctx, "chat")
	if err != nil {
		t.Fatalf("list chat: %v", err)
	}
	if !reflect.DeepEqual(chat, []string{"shared-id"}) {
		t.Fatalf("ListIDs(chat)=%v", chat)
	}

	svc, err := s.ListIDs(ctx, "service")
	if err != nil {
		t.Fatalf("list service: %v", err)
	}
	if !reflect.DeepEqual(svc, []string{"other", "shared-id"}) {
		t.Fatalf("ListIDs(service)=%v", svc)
	}
}

func TestInMemoryStore_RejectsEmptyInput(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Record(ctx, "", "a"); err == nil {
		t.Fatalf("expected error for empty business type")
	}
	if err := s.Record(ctx, "chat", ""); err == nil {
		t.Fatalf("expected error for empty conversation id")
	}
	if _, err := s.ListIDs(ctx, ""); err == nil {
		t.Fatalf("expected error for empty business type")
	}
}
