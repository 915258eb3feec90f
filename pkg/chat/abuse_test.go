// Copyright 2024-2026 Aiku AI

package chat

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(cfg AntiSpamConfig) (*AbuseTracker, *fakeClock) {
	clock := newFakeClock()
	at := NewAbuseTracker(cfg, zerolog.Nop())
	at.now = clock.Now
	return at, clock
}

func TestAbuseCooldown(t *testing.T) {
	t.Parallel()
	at, clock := newTestTracker(AntiSpamConfig{Cooldown: 2, MaxDuplicate: 3})
	actor := MakeActorID("Steve")

	if d := at.Evaluate(actor, "hello"); !d.Allowed() {
		t.Fatalf("first message rejected: %+v", d)
	}
	at.Record(actor, "hello")

	clock.Advance(time.Second)
	d := at.Evaluate(actor, "again")
	if d.Reason != ReasonTooFast {
		t.Errorf("Reason after 1s: got %q, want %q", d.Reason, ReasonTooFast)
	}
	if d.Message != "You are sending messages too fast!" {
		t.Errorf("Message: got %q", d.Message)
	}

	clock.Advance(time.Second)
	if d := at.Evaluate(actor, "again"); !d.Allowed() {
		t.Errorf("message after full cooldown rejected: %+v", d)
	}
}

func TestAbuseCooldownDisabled(t *testing.T) {
	t.Parallel()
	at, _ := newTestTracker(AntiSpamConfig{Cooldown: 0, MaxDuplicate: 5})
	actor := MakeActorID("Alex")
	for i := range 3 {
		msg := fmt.Sprintf("message %d", i)
		if d := at.Evaluate(actor, msg); !d.Allowed() {
			t.Fatalf("message %d rejected: %+v", i, d)
		}
		at.Record(actor, msg)
	}
}

func TestAbuseDuplicate(t *testing.T) {
	t.Parallel()
	at, _ := newTestTracker(AntiSpamConfig{MaxDuplicate: 3})
	actor := MakeActorID("Steve")

	for i := range 3 {
		if d := at.Evaluate(actor, "buy diamonds"); !d.Allowed() {
			t.Fatalf("copy %d rejected: %+v", i+1, d)
		}
		at.Record(actor, "buy diamonds")
	}
	d := at.Evaluate(actor, "buy diamonds")
	if d.Reason != ReasonDuplicate {
		t.Errorf("fourth copy: got %q, want %q", d.Reason, ReasonDuplicate)
	}
	if d := at.Evaluate(actor, "something else"); !d.Allowed() {
		t.Errorf("different text rejected: %+v", d)
	}
}

func TestAbuseDuplicateBelowLimit(t *testing.T) {
	t.Parallel()
	at, _ := newTestTracker(AntiSpamConfig{MaxDuplicate: 3})
	actor := MakeActorID("Steve")
	at.Record(actor, "hi")
	at.Record(actor, "hi")
	at.Record(actor, "other")
	if d := at.Evaluate(actor, "hi"); !d.Allowed() {
		t.Errorf("two copies in history should be allowed: %+v", d)
	}
}

func TestAbuseCaps(t *testing.T) {
	t.Parallel()
	at, _ := newTestTracker(AntiSpamConfig{MaxDuplicate: 3, CapsLimit: 70})
	actor := MakeActorID("Steve")
	tests := []struct {
		text string
		want Reason
	}{
		{"HELLO WORLD", ReasonCaps},
		{"HELLo", ReasonCaps},
		{"Hello World", ReasonNone},
		{"HI!!", ReasonNone},
		{"ABC12", ReasonCaps},
		{"12345!", ReasonNone},
		{"HHHHHHHaaa", ReasonNone},
		{"HHHHHHHHaa", ReasonCaps},
		{"ÄÖÜÉÈ", ReasonCaps},
	}
	for _, tt := range tests {
		if got := at.Evaluate(actor, tt.text).Reason; got != tt.want {
			t.Errorf("Evaluate(%q): got %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestAbuseCapsDisabled(t *testing.T) {
	t.Parallel()
	for _, limit := range []int{0, 100} {
		at, _ := newTestTracker(AntiSpamConfig{MaxDuplicate: 3, CapsLimit: limit})
		if d := at.Evaluate(MakeActorID("Steve"), "ALL CAPS MESSAGE"); !d.Allowed() {
			t.Errorf("caps_limit %d: got %q, want allowed", limit, d.Reason)
		}
	}
}

func TestAbuseMuteExpiresLazily(t *testing.T) {
	t.Parallel()
	at, clock := newTestTracker(AntiSpamConfig{MaxDuplicate: 3, MuteDuration: 30})
	actor := MakeActorID("Steve")

	until := at.MuteDefault(actor)
	if want := clock.Now().Add(30 * time.Second); !until.Equal(want) {
		t.Errorf("MuteDefault: got %v, want %v", until, want)
	}
	if d := at.Evaluate(actor, "hello"); d.Reason != ReasonMuted {
		t.Errorf("muted actor: got %q, want %q", d.Reason, ReasonMuted)
	}
	if _, muted := at.MutedUntil(actor); !muted {
		t.Error("MutedUntil should report the active mute")
	}

	clock.Advance(31 * time.Second)
	if d := at.Evaluate(actor, "hello"); !d.Allowed() {
		t.Errorf("expired mute still rejects: %+v", d)
	}
	snap, ok := at.Snapshot(actor)
	if !ok {
		t.Fatal("Snapshot: actor not tracked")
	}
	if !snap.MutedUntil.IsZero() {
		t.Errorf("expired mute not cleared: %v", snap.MutedUntil)
	}
}

func TestAbuseUnmute(t *testing.T) {
	t.Parallel()
	at, _ := newTestTracker(AntiSpamConfig{MaxDuplicate: 3})
	actor := MakeActorID("Steve")

	if at.Unmute(actor) {
		t.Error("Unmute of unknown actor should report false")
	}
	at.Mute(actor, time.Minute)
	if !at.Unmute(actor) {
		t.Error("Unmute of muted actor should report true")
	}
	if d := at.Evaluate(actor, "hi"); !d.Allowed() {
		t.Errorf("unmuted actor rejected: %+v", d)
	}
	if until := at.Mute(actor, 0); !until.IsZero() {
		t.Errorf("Mute(0): got %v, want zero time", until)
	}
}

func TestAbuseHistoryCapacity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		maxDuplicate int
		want         []string
	}{
		{"bounded by max_duplicate", 2, []string{"c", "d"}},
		{"default when disabled", 0, []string{"b", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			at, _ := newTestTracker(AntiSpamConfig{MaxDuplicate: tt.maxDuplicate})
			actor := MakeActorID("Steve")
			for _, msg := range []string{"a", "b", "c", "d"} {
				at.Record(actor, msg)
			}
			snap, _ := at.Snapshot(actor)
			if !slices.Equal(snap.Recent, tt.want) {
				t.Errorf("Recent: got %v, want %v", snap.Recent, tt.want)
			}
		})
	}
}

func TestAbuseCleanup(t *testing.T) {
	t.Parallel()
	at, _ := newTestTracker(AntiSpamConfig{Cooldown: 5, MaxDuplicate: 3})
	actor := MakeActorID("Steve")
	at.Record(actor, "hi")
	at.Mute(actor, time.Minute)
	at.Cleanup(actor)

	if at.Tracked() != 0 {
		t.Errorf("Tracked after Cleanup: got %d, want 0", at.Tracked())
	}
	if _, ok := at.Snapshot(actor); ok {
		t.Error("Snapshot should not find a cleaned up actor")
	}
	if d := at.Evaluate(actor, "hi"); !d.Allowed() {
		t.Errorf("cleaned up actor rejected: %+v", d)
	}
}

func TestAbuseDefaultMessages(t *testing.T) {
	t.Parallel()
	at, _ := newTestTracker(AntiSpamConfig{MaxDuplicate: 3})
	if got := at.Config().Messages.Muted; got != "You are temporarily muted!" {
		t.Errorf("Messages.Muted: got %q", got)
	}
	at.SetConfig(AntiSpamConfig{MaxDuplicate: 3, Messages: AntiSpamMessages{Caps: "quiet"}})
	if got := at.Config().Messages.Caps; got != "quiet" {
		t.Errorf("custom Messages.Caps: got %q", got)
	}
}

func TestAbuseConcurrentActors(t *testing.T) {
	t.Parallel()
	at := NewAbuseTracker(AntiSpamConfig{MaxDuplicate: 3}, zerolog.Nop())
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := MakeActorID(fmt.Sprintf("actor-%d", i))
			for j := range 50 {
				msg := fmt.Sprintf("msg %d", j)
				if at.Evaluate(actor, msg).Allowed() {
					at.Record(actor, msg)
				}
			}
			at.Cleanup(actor)
		}()
	}
	wg.Wait()
	if at.Tracked() != 0 {
		t.Errorf("Tracked: got %d, want 0", at.Tracked())
	}
}
