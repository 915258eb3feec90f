// Copyright 2024-2026 Aiku AI

package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Moderation event kinds.
const (
	KindRejected  = "rejected"
	KindMuted     = "muted"
	KindUnmuted   = "unmuted"
	KindAutoReply = "auto_reply"
	KindCommand   = "command"
)

// ModerationEvent is an auditable action taken on behalf of, or against,
// an actor.
type ModerationEvent struct {
	ID        ulid.ULID `json:"id"`
	Actor     uuid.UUID `json:"actor"`
	ActorName string    `json:"actor_name"`
	Kind      string    `json:"kind"`
	// Reason is the rejection reason, the rule name or the command.
	Reason string    `json:"reason"`
	Text   string    `json:"text,omitempty"`
	At     time.Time `json:"at"`
}

// ModerationRecorder receives moderation events. Implementations must not
// block; slow sinks should hand the work to a Scheduler.
type ModerationRecorder interface {
	RecordModeration(ev ModerationEvent)
}
