// Copyright 2024-2026 Aiku AI

package chat

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAnnouncerRotates(t *testing.T) {
	t.Parallel()
	roster := NewRoster(10)
	sink := newRecordingSink()
	steve := NewMember("Steve")
	cfg := AnnouncementConfig{
		Enabled:  true,
		Interval: 60,
		Prefix:   "&6[News] &f",
		Messages: []string{"one", "two"},
	}
	a := NewAnnouncer(cfg, roster, sink, zerolog.Nop())

	if a.Broadcast() {
		t.Error("Broadcast with nobody online should return false")
	}
	roster.Add(steve)
	for range 3 {
		if !a.Broadcast() {
			t.Fatal("Broadcast returned false")
		}
	}
	want := []string{"§6[News] §fone", "§6[News] §ftwo", "§6[News] §fone"}
	if got := sink.Messages(steve); !slices.Equal(got, want) {
		t.Errorf("announcements: got %q, want %q", got, want)
	}

	cfg.Messages = []string{"only"}
	a.SetConfig(cfg)
	a.Broadcast()
	if got := sink.Messages(steve); got[len(got)-1] != "§6[News] §fonly" {
		t.Errorf("after shrinking list: got %q", got[len(got)-1])
	}

	cfg.Enabled = false
	a.SetConfig(cfg)
	if a.Broadcast() {
		t.Error("disabled announcer broadcast")
	}
}

func TestAnnouncerRunStops(t *testing.T) {
	t.Parallel()
	a := NewAnnouncer(AnnouncementConfig{Enabled: true, Interval: 3600}, NewRoster(1), newRecordingSink(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.interval() != time.Hour {
		t.Errorf("interval: got %v", a.interval())
	}
}
