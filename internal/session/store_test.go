package session

import (
	"context"
	"testing"
	"time"

	"intakebot/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, err := s.Get(ctx, "u1"); ok || err != nil {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "u1", model.Session{ID: "a", Kind: model.KindAwaitingCategory}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "u1", model.Session{ID: "b", Kind: model.KindAwaitingForm}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, _ := s.Get(ctx, "u1")
	if !ok || got.ID != "b" || got.Kind != model.KindAwaitingForm {
		t.Fatalf("expected last write to win, got %+v", got)
	}

	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store after delete, got %d", s.Len())
	}
}

func TestMemoryStoreConcurrentKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(i int) {
			key := string(rune('a' + i))
			_ = s.Set(ctx, key, model.Session{ID: key})
			_, _, _ = s.Get(ctx, key)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	if s.Len() != 20 {
		t.Fatalf("expected 20 sessions, got %d", s.Len())
	}
}

func TestPendingDrainOnce(t *testing.T) {
	ctx := context.Background()
	p := NewPendingAttachments(time.Minute)

	p.Add(ctx, "u1", []model.Attachment{{ID: "1"}, {ID: "2"}})
	p.Add(ctx, "u1", []model.Attachment{{ID: "3"}})

	got := p.Drain(ctx, "u1")
	if len(got) != 3 {
		t.Fatalf("expected 3 attachments, got %d", len(got))
	}
	if again := p.Drain(ctx, "u1"); len(again) != 0 {
		t.Fatalf("expected drain to consume entries, got %d", len(again))
	}
}

func TestPendingExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	p := NewPendingAttachments(10 * time.Minute)
	p.now = func() time.Time { return now }

	p.Add(ctx, "u1", []model.Attachment{{ID: "old"}})
	now = now.Add(11 * time.Minute)
	p.Add(ctx, "u1", []model.Attachment{{ID: "new"}})
	p.Add(ctx, "u2", []model.Attachment{{ID: "other"}})

	if removed := p.Sweep(); removed != 1 {
		t.Fatalf("expected 1 expired attachment, got %d", removed)
	}

	got := p.Drain(ctx, "u1")
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("unexpected drained attachments %+v", got)
	}

	now = now.Add(time.Hour)
	if got := p.Drain(ctx, "u2"); len(got) != 0 {
		t.Fatalf("expected expired attachments to be dropped on drain, got %+v", got)
	}
}
