// Copyright 2024-2026 Aiku AI

package chat

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// Reason identifies why a message was rejected.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonMuted     Reason = "muted"
	ReasonTooFast   Reason = "too_fast"
	ReasonDuplicate Reason = "duplicate"
	ReasonCaps      Reason = "excessive_caps"
)

// Decision is the outcome of AbuseTracker.Evaluate. The zero value allows
// the message.
type Decision struct {
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Allowed reports whether the message may proceed.
func (d Decision) Allowed() bool {
	return d.Reason == ReasonNone
}

const (
	// minCapsLength is the shortest message the caps check looks at.
	minCapsLength = 5
	// defaultHistory is the history length used when duplicate detection
	// is disabled.
	defaultHistory = 3
)

type abuseRecord struct {
	mu            sync.Mutex
	lastMessageAt time.Time
	recent        []string
	muteUntil     time.Time
}

// AbuseSnapshot is a read-only copy of an actor's anti-abuse state.
type AbuseSnapshot struct {
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	Recent        []string  `json:"recent"`
	MutedUntil    time.Time `json:"muted_until,omitzero"`
}

// AbuseTracker keeps per-actor throttling state. Actors never share a
// lock; Evaluate followed by Record is not atomic for a single actor.
type AbuseTracker struct {
	log     zerolog.Logger
	cfg     atomic.Pointer[AntiSpamConfig]
	records *exsync.Map[uuid.UUID, *abuseRecord]
	now     func() time.Time
}

// NewAbuseTracker creates a tracker using cfg.
func NewAbuseTracker(cfg AntiSpamConfig, log zerolog.Logger) *AbuseTracker {
	at := &AbuseTracker{
		log:     log.With().Str("component", "abuse_tracker").Logger(),
		records: exsync.NewMap[uuid.UUID, *abuseRecord](),
		now:     time.Now,
	}
	at.SetConfig(cfg)
	return at
}

// SetConfig swaps the active configuration. History capacity changes take
// effect on the next Record.
func (at *AbuseTracker) SetConfig(cfg AntiSpamConfig) {
	if cfg.Messages == (AntiSpamMessages{}) {
		cfg.Messages = defaultAntiSpamMessages()
	}
	at.cfg.Store(&cfg)
}

// Config returns the active configuration.
func (at *AbuseTracker) Config() AntiSpamConfig {
	return *at.cfg.Load()
}

// Evaluate decides whether actor may send text. The checks run in a fixed
// order: mute, cooldown, duplicate, caps.
func (at *AbuseTracker) Evaluate(actor uuid.UUID, text string) Decision {
	cfg := at.cfg.Load()
	if rec, ok := at.records.Get(actor); ok {
		if d := at.evaluateRecord(rec, cfg, text); !d.Allowed() {
			return d
		}
	}
	if exceedsCaps(text, cfg.CapsLimit) {
		return Decision{Reason: ReasonCaps, Message: cfg.Messages.Caps}
	}
	return Decision{}
}

func (at *AbuseTracker) evaluateRecord(rec *abuseRecord, cfg *AntiSpamConfig, text string) Decision {
	now := at.now()
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.muteUntil.IsZero() {
		if now.Before(rec.muteUntil) {
			return Decision{Reason: ReasonMuted, Message: cfg.Messages.Muted}
		}
		rec.muteUntil = time.Time{}
	}

	if cfg.Cooldown > 0 && !rec.lastMessageAt.IsZero() {
		if now.Sub(rec.lastMessageAt) < time.Duration(cfg.Cooldown)*time.Second {
			return Decision{Reason: ReasonTooFast, Message: cfg.Messages.TooFast}
		}
	}

	if cfg.MaxDuplicate > 0 {
		count := 0
		for _, prev := range rec.recent {
			if prev == text {
				count++
			}
		}
		if count >= cfg.MaxDuplicate {
			return Decision{Reason: ReasonDuplicate, Message: cfg.Messages.Duplicate}
		}
	}
	return Decision{}
}

// exceedsCaps reports whether the share of upper case letters in text is
// above limit percent. Non-letters are ignored.
func exceedsCaps(text string, limit int) bool {
	if limit <= 0 || limit >= 100 || utf8.RuneCountInString(text) < minCapsLength {
		return false
	}
	upper, letters := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return false
	}
	return upper*100/letters > limit
}

func historyCapacity(cfg *AntiSpamConfig) int {
	if cfg.MaxDuplicate <= 0 {
		return defaultHistory
	}
	return cfg.MaxDuplicate
}

func (at *AbuseTracker) record(actor uuid.UUID) *abuseRecord {
	return at.records.GetOrSetFactory(actor, func() *abuseRecord {
		return &abuseRecord{}
	})
}

// Record stores an accepted message: it resets the cooldown and appends
// text to the bounded history.
func (at *AbuseTracker) Record(actor uuid.UUID, text string) {
	capacity := historyCapacity(at.cfg.Load())
	rec := at.record(actor)
	now := at.now()
	rec.mu.Lock()
	rec.lastMessageAt = now
	rec.recent = append(rec.recent, text)
	if over := len(rec.recent) - capacity; over > 0 {
		rec.recent = slices.Delete(rec.recent, 0, over)
	}
	rec.mu.Unlock()
}

// Mute blocks actor for d. A non-positive d lifts the mute.
func (at *AbuseTracker) Mute(actor uuid.UUID, d time.Duration) time.Time {
	if d <= 0 {
		at.Unmute(actor)
		return time.Time{}
	}
	rec := at.record(actor)
	until := at.now().Add(d)
	rec.mu.Lock()
	rec.muteUntil = until
	rec.mu.Unlock()
	at.log.Info().Stringer("actor", actor).Time("until", until).Msg("Muted actor")
	return until
}

// MuteDefault mutes actor for the configured mute duration.
func (at *AbuseTracker) MuteDefault(actor uuid.UUID) time.Time {
	return at.Mute(actor, time.Duration(at.cfg.Load().MuteDuration)*time.Second)
}

// Unmute lifts a mute. It reports whether the actor was muted.
func (at *AbuseTracker) Unmute(actor uuid.UUID) bool {
	rec, ok := at.records.Get(actor)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	wasMuted := !rec.muteUntil.IsZero() && at.now().Before(rec.muteUntil)
	rec.muteUntil = time.Time{}
	return wasMuted
}

// MutedUntil returns the mute expiry if actor is currently muted.
func (at *AbuseTracker) MutedUntil(actor uuid.UUID) (time.Time, bool) {
	rec, ok := at.records.Get(actor)
	if !ok {
		return time.Time{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.muteUntil.IsZero() || !at.now().Before(rec.muteUntil) {
		return time.Time{}, false
	}
	return rec.muteUntil, true
}

// Snapshot copies the state of actor.
func (at *AbuseTracker) Snapshot(actor uuid.UUID) (AbuseSnapshot, bool) {
	rec, ok := at.records.Get(actor)
	if !ok {
		return AbuseSnapshot{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return AbuseSnapshot{
		LastMessageAt: rec.lastMessageAt,
		Recent:        slices.Clone(rec.recent),
		MutedUntil:    rec.muteUntil,
	}, true
}

// Cleanup forgets everything about actor.
func (at *AbuseTracker) Cleanup(actor uuid.UUID) {
	at.records.Delete(actor)
}

// Tracked returns the number of actors with state.
func (at *AbuseTracker) Tracked() int {
	return at.records.Len()
}
