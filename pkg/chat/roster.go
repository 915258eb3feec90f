// Copyright 2024-2026 Aiku AI

package chat

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.mau.fi/util/exsync"
)

// Member is an in-memory Actor. Hosts that keep their own player objects
// implement Actor directly; Member serves the simulator and the admin API.
type Member struct {
	id          uuid.UUID
	name        string
	displayName string

	mu           sync.RWMutex
	capabilities map[string]struct{}
	position     Position
}

var _ Actor = (*Member)(nil)

// NewMember creates a member with a name-derived ID.
func NewMember(name string, capabilities ...string) *Member {
	return NewMemberWithID(MakeActorID(name), name, capabilities...)
}

// NewMemberWithID creates a member with an explicit ID.
func NewMemberWithID(id uuid.UUID, name string, capabilities ...string) *Member {
	m := &Member{
		id:           id,
		name:         name,
		displayName:  name,
		capabilities: make(map[string]struct{}, len(capabilities)),
	}
	for _, c := range capabilities {
		m.capabilities[c] = struct{}{}
	}
	return m
}

func (m *Member) ID() uuid.UUID { return m.id }

func (m *Member) Name() string { return m.name }

func (m *Member) DisplayName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.displayName
}

// SetDisplayName changes the decorated name shown in chat.
func (m *Member) SetDisplayName(name string) {
	m.mu.Lock()
	m.displayName = name
	m.mu.Unlock()
}

// HasCapability reports whether the member holds name. The "*" capability
// grants everything.
func (m *Member) HasCapability(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.capabilities["*"]; ok {
		return true
	}
	_, ok := m.capabilities[name]
	return ok
}

// Grant adds capabilities.
func (m *Member) Grant(capabilities ...string) {
	m.mu.Lock()
	for _, c := range capabilities {
		m.capabilities[c] = struct{}{}
	}
	m.mu.Unlock()
}

// Revoke removes capabilities.
func (m *Member) Revoke(capabilities ...string) {
	m.mu.Lock()
	for _, c := range capabilities {
		delete(m.capabilities, c)
	}
	m.mu.Unlock()
}

func (m *Member) Position() Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.position
}

// MoveTo updates the member's position.
func (m *Member) MoveTo(pos Position) {
	m.mu.Lock()
	m.position = pos
	m.mu.Unlock()
}

// Roster is a Presence backed by a concurrent map.
type Roster struct {
	members  *exsync.Map[uuid.UUID, Actor]
	capacity int
}

var _ Presence = (*Roster)(nil)

// NewRoster creates an empty roster. capacity feeds the %max_players%
// placeholder.
func NewRoster(capacity int) *Roster {
	return &Roster{
		members:  exsync.NewMap[uuid.UUID, Actor](),
		capacity: capacity,
	}
}

// Add registers an actor. It returns false if the ID was already present.
func (r *Roster) Add(actor Actor) bool {
	_, existed := r.members.GetOrSet(actor.ID(), actor)
	return !existed
}

// Remove unregisters an actor and returns it.
func (r *Roster) Remove(id uuid.UUID) (Actor, bool) {
	return r.members.Pop(id)
}

func (r *Roster) Lookup(id uuid.UUID) (Actor, bool) {
	return r.members.Get(id)
}

// LookupName finds an online actor by name, ignoring case.
func (r *Roster) LookupName(name string) (Actor, bool) {
	for _, a := range r.members.Iter() {
		if strings.EqualFold(a.Name(), name) {
			return a, true
		}
	}
	return nil, false
}

// Online returns the connected actors sorted by name.
func (r *Roster) Online() []Actor {
	actors := make([]Actor, 0, r.members.Len())
	for _, a := range r.members.Iter() {
		actors = append(actors, a)
	}
	slices.SortFunc(actors, func(a, b Actor) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return actors
}

func (r *Roster) Capacity() int { return r.capacity }
