package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/resourcefinder/models"
	"github.com/mohammad-safakhou/resourcefinder/session"
)

var _ session.Store = (*Store)(nil)

func TestEnsureCreatesAndReuses(t *testing.T) {
	ctx := context.Background()
	s := NewInMemorySessionStore(time.Hour)

	id, err := s.Ensure(ctx, "")
	if err != nil || id == "" {
		t.Fatalf("Ensure: id=%q err=%v", id, err)
	}
	again, _ := s.Ensure(ctx, id)
	if again != id {
		t.Fatalf("expected existing session %s, got %s", id, again)
	}
	other, _ := s.Ensure(ctx, "not-a-session")
	if other == "not-a-session" || other == id {
		t.Fatalf("unknown ids must get a fresh session, got %s", other)
	}
	conv, err := s.Get(ctx, id)
	if err != nil || len(conv) != 0 {
		t.Fatalf("new session should be empty: %v %v", conv, err)
	}
}

func TestAppendIsOrderedAndCopied(t *testing.T) {
	ctx := context.Background()
	s := NewInMemorySessionStore(time.Hour)
	id, _ := s.Ensure(ctx, "")

	if err := s.Append(ctx, id,
		models.Message{Role: models.RoleSystem, Content: "sys"},
		models.Message{Role: models.RoleUser, Content: "hi"},
	); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, id, models.Message{Role: models.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	conv, _ := s.Get(ctx, id)
	if len(conv) != 3 || conv[0].Role != models.RoleSystem || conv[2].Content != "hello" {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	conv[1].Content = "changed"
	again, _ := s.Get(ctx, id)
	if again[1].Content != "hi" {
		t.Fatalf("Get must return a copy")
	}
}

func TestExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewInMemorySessionStore(time.Minute)
	s.now = func() time.Time { return now }

	stale, _ := s.Ensure(ctx, "")
	now = now.Add(30 * time.Second)
	fresh, _ := s.Ensure(ctx, "")
	now = now.Add(45 * time.Second)

	if _, err := s.Get(ctx, stale); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
	if err := s.Append(ctx, stale, models.Message{Role: models.RoleUser}); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("append to expired session should fail, got %v", err)
	}
	if _, err := s.Get(ctx, fresh); err != nil {
		t.Fatalf("fresh session should be live: %v", err)
	}

	n, err := s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one swept session, got %d %v", n, err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one remaining session, got %d", s.Len())
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemorySessionStore(time.Hour)
	id, _ := s.Ensure(ctx, "")
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
