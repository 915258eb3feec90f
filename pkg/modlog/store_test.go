// Copyright 2024-2026 Aiku AI

package modlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/chatguard/pkg/chat"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modlog", "test.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func event(actor, kind, reason string, at time.Time) chat.ModerationEvent {
	return chat.ModerationEvent{
		ID:        chat.MakeEventID(),
		Actor:     chat.MakeActorID(actor),
		ActorName: actor,
		Kind:      kind,
		Reason:    reason,
		Text:      "some text",
		At:        at,
	}
}

func TestInsertAndRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for i, kind := range []string{chat.KindRejected, chat.KindMuted, chat.KindUnmuted} {
		if err := s.Insert(ctx, event("Steve", kind, "", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := s.Insert(ctx, event("Alex", chat.KindAutoReply, "server-ip", base)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Recent(ctx, chat.MakeActorID("Steve"), 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent: got %d events, want 2", len(got))
	}
	if got[0].Kind != chat.KindUnmuted || got[1].Kind != chat.KindMuted {
		t.Errorf("order: got %s, %s", got[0].Kind, got[1].Kind)
	}
	if !got[0].At.Equal(base.Add(2 * time.Second)) {
		t.Errorf("At: got %v", got[0].At)
	}
	if got[0].ActorName != "Steve" || got[0].Text != "some text" {
		t.Errorf("fields: got %+v", got[0])
	}
}

func TestSharedEventID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	ev := event("Steve", chat.KindRejected, "excessive_caps", time.Now())
	if err := s.Insert(ctx, ev); err != nil {
		t.Fatal(err)
	}
	ev.Kind = chat.KindAutoReply
	if err := s.Insert(ctx, ev); err != nil {
		t.Errorf("second event for the same message: %v", err)
	}
}

func TestRecordModerationFlushesOnClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "async.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for range 10 {
		s.RecordModeration(event("Steve", chat.KindCommand, "say hi", time.Now()))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.RecordModeration(event("Steve", chat.KindCommand, "late", time.Now()))

	reopened, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	counts, err := reopened.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[chat.KindCommand] != 10 {
		t.Errorf("commands written: got %d, want 10", counts[chat.KindCommand])
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	now := time.Now()
	_ = s.Insert(ctx, event("Steve", chat.KindMuted, "", now.Add(-48*time.Hour)))
	_ = s.Insert(ctx, event("Steve", chat.KindMuted, "", now.Add(-500*time.Millisecond)))
	_ = s.Insert(ctx, event("Steve", chat.KindMuted, "", now))

	n, err := s.Prune(ctx, now.Add(-time.Second))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned: got %d, want 1", n)
	}
	got, _ := s.Recent(ctx, chat.MakeActorID("Steve"), 0)
	if len(got) != 2 {
		t.Errorf("remaining: got %d, want 2", len(got))
	}
}

func TestStoreAsServiceHistory(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	cfg := chat.DefaultConfig()
	roster := chat.NewRoster(10)
	svc := chat.NewService(&cfg, chat.ServiceParams{
		Presence: roster,
		Sink:     chat.NewMailbox(0, zerolog.Nop()),
		Recorder: s,
		History:  s,
		Log:      zerolog.Nop(),
	})
	steve := chat.NewMember("Steve")
	roster.Add(steve)
	svc.Mute(steve, time.Minute)

	deadline := time.Now().Add(5 * time.Second)
	for {
		events, err := svc.History(context.Background(), steve.ID(), 10)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(events) == 1 && events[0].Kind == chat.KindMuted {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("mute not recorded: %+v", events)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
