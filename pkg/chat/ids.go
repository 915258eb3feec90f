// Copyright 2024-2026 Aiku AI

package chat

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// offlineNamespace seeds name-derived actor IDs for hosts that do not hand
// out their own identifiers (the simulator, tests).
var offlineNamespace = uuid.MustParse("6c1b7b52-8f3e-4c3a-9d2e-2f1f0b6a9e11")

// MakeActorID derives a stable actor ID from a name. The same name always
// maps to the same ID.
func MakeActorID(name string) uuid.UUID {
	return uuid.NewSHA1(offlineNamespace, []byte(name))
}

// ParseActorID parses an actor ID in any of the textual forms accepted by
// uuid.Parse.
func ParseActorID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid actor id %q: %w", s, err)
	}
	return id, nil
}

// MakeEventID returns a new, time-ordered message event ID.
func MakeEventID() ulid.ULID {
	return ulid.Make()
}
