// Copyright 2024-2026 Aiku AI

package chat

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// Position is a point inside a spatial partition (a world or instance).
// Distances are only defined between positions of the same partition.
type Position struct {
	Partition string  `json:"partition"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
}

// SamePartition reports whether both positions are in the same partition.
func (p Position) SamePartition(other Position) bool {
	return p.Partition == other.Partition
}

// DistanceTo returns the Euclidean distance to other. The second value is
// false when the positions are in different partitions.
func (p Position) DistanceTo(other Position) (float64, bool) {
	if !p.SamePartition(other) {
		return 0, false
	}
	dx, dy, dz := p.X-other.X, p.Y-other.Y, p.Z-other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz), true
}

// Actor is a connected chat participant as seen by the host.
type Actor interface {
	ID() uuid.UUID
	Name() string
	DisplayName() string
	HasCapability(name string) bool
	Position() Position
}

// Presence lists the actors currently connected to the host.
type Presence interface {
	Online() []Actor
	Lookup(id uuid.UUID) (Actor, bool)
	// Capacity is the maximum number of concurrent actors, used by the
	// %max_players% placeholder.
	Capacity() int
}

// TitleTiming is the fade-in, stay and fade-out duration of a title, in
// host ticks.
type TitleTiming struct {
	FadeIn  int `yaml:"fade_in" json:"fade_in"`
	Stay    int `yaml:"stay" json:"stay"`
	FadeOut int `yaml:"fade_out" json:"fade_out"`
}

// Sink delivers rendered output to actors.
type Sink interface {
	Deliver(to Actor, text string)
	DeliverTitle(to Actor, title, subtitle string, timing TitleTiming)
	// Notify plays a notification cue. Unknown cues return an error which
	// callers are expected to swallow.
	Notify(to Actor, cue string) error
}

// CommandExecutor runs console commands with full privileges.
type CommandExecutor interface {
	RunPrivileged(ctx context.Context, command string) error
}

// Scheduler runs a task later, off the message path.
type Scheduler interface {
	Submit(delay time.Duration, task func())
}

// AfterFuncScheduler is a Scheduler backed by time.AfterFunc.
type AfterFuncScheduler struct{}

var _ Scheduler = AfterFuncScheduler{}

func (AfterFuncScheduler) Submit(delay time.Duration, task func()) {
	if delay <= 0 {
		go task()
		return
	}
	time.AfterFunc(delay, task)
}
