// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// recordingSink captures every delivery for test assertions.
type recordingSink struct {
	mu        sync.Mutex
	messages  map[uuid.UUID][]string
	titles    map[uuid.UUID][]string
	cues      map[uuid.UUID][]string
	notifyErr error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		messages: make(map[uuid.UUID][]string),
		titles:   make(map[uuid.UUID][]string),
		cues:     make(map[uuid.UUID][]string),
	}
}

func (s *recordingSink) Deliver(to Actor, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[to.ID()] = append(s.messages[to.ID()], text)
}

func (s *recordingSink) DeliverTitle(to Actor, title, subtitle string, _ TitleTiming) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[to.ID()] = append(s.titles[to.ID()], title+"|"+subtitle)
}

func (s *recordingSink) Notify(to Actor, cue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifyErr != nil {
		return s.notifyErr
	}
	s.cues[to.ID()] = append(s.cues[to.ID()], cue)
	return nil
}

func (s *recordingSink) Messages(to Actor) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(s.messages[to.ID()]))
	copy(cp, s.messages[to.ID()])
	return cp
}

func (s *recordingSink) Titles(to Actor) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles[to.ID()]...)
}

func (s *recordingSink) Cues(to Actor) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cues[to.ID()]...)
}

// syncScheduler runs tasks immediately on the calling goroutine.
type syncScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *syncScheduler) Submit(delay time.Duration, task func()) {
	s.mu.Lock()
	s.delays = append(s.delays, delay)
	s.mu.Unlock()
	task()
}

// fakeExecutor records privileged commands.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []string
	failOn   string
}

var errCommandFailed = errors.New("command failed")

func (e *fakeExecutor) RunPrivileged(_ context.Context, command string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	if e.failOn != "" && command == e.failOn {
		return errCommandFailed
	}
	return nil
}

func (e *fakeExecutor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// memoryRecorder keeps moderation events in memory and also serves them
// back as ModerationHistory.
type memoryRecorder struct {
	mu     sync.Mutex
	events []ModerationEvent
}

func (r *memoryRecorder) RecordModeration(ev ModerationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *memoryRecorder) Recent(_ context.Context, actor uuid.UUID, limit int) ([]ModerationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ModerationEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].Actor == actor {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

func (r *memoryRecorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memberAt creates a member standing at x in partition.
func memberAt(name, partition string, x float64, caps ...string) *Member {
	m := NewMember(name, caps...)
	m.MoveTo(Position{Partition: partition, X: x})
	return m
}

// testConfig returns the default config with title, join and welcome texts
// turned off so tests only see the deliveries they provoke.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.JoinQuit.JoinMessageEnabled = false
	cfg.JoinQuit.QuitMessageEnabled = false
	cfg.JoinQuit.WelcomeEnabled = false
	cfg.JoinQuit.Title.Enabled = false
	cfg.JoinQuit.FirstJoinMessage = ""
	return &cfg
}

type serviceFixture struct {
	svc      *Service
	roster   *Roster
	sink     *recordingSink
	exec     *fakeExecutor
	recorder *memoryRecorder
	clock    *fakeClock
}

func newServiceFixture(cfg *Config) *serviceFixture {
	f := &serviceFixture{
		roster:   NewRoster(cfg.MaxActors),
		sink:     newRecordingSink(),
		exec:     &fakeExecutor{},
		recorder: &memoryRecorder{},
		clock:    newFakeClock(),
	}
	f.svc = NewService(cfg, ServiceParams{
		Presence:  f.roster,
		Sink:      f.sink,
		Executor:  f.exec,
		Scheduler: &syncScheduler{},
		Recorder:  f.recorder,
		History:   f.recorder,
		Log:       zerolog.Nop(),
	})
	f.svc.Abuse.now = f.clock.Now
	f.svc.AutoReply.now = f.clock.Now
	return f
}

func (f *serviceFixture) join(m *Member) *Member {
	f.roster.Add(m)
	f.svc.Join(m, false)
	return m
}
