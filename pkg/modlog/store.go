// Copyright 2024-2026 Aiku AI

// Package modlog persists moderation events to SQLite so operators can
// audit rejections, mutes, auto-replies and dispatched commands.
package modlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/aiku/chatguard/pkg/chat"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// defaultQueueSize is the number of events buffered between the message
// path and the database writer.
const defaultQueueSize = 1024

// Store is a chat.ModerationRecorder and chat.ModerationHistory backed by a
// SQLite database. RecordModeration never blocks: events are queued and
// written by a background goroutine, and dropped with a warning when the
// queue is full.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	queue     chan chat.ModerationEvent
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var (
	_ chat.ModerationRecorder = (*Store)(nil)
	_ chat.ModerationHistory  = (*Store)(nil)
)

// Open opens or creates the database at path and starts the writer.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{
		db:    db,
		log:   log.With().Str("component", "modlog").Logger(),
		queue: make(chan chat.ModerationEvent, defaultQueueSize),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS moderation_events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   TEXT NOT NULL,
		actor      TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		kind       TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		text       TEXT NOT NULL DEFAULT '',
		at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_moderation_actor ON moderation_events(actor, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_moderation_kind ON moderation_events(kind);
	`)
	return err
}

func (s *Store) writer() {
	defer s.wg.Done()
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.Insert(ctx, ev); err != nil {
			s.log.Err(err).
				Str("kind", ev.Kind).
				Stringer("actor", ev.Actor).
				Msg("Failed to write moderation event")
		}
		cancel()
	}
}

// RecordModeration queues ev for writing.
func (s *Store) RecordModeration(ev chat.ModerationEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.log.Warn().
			Str("kind", ev.Kind).
			Stringer("actor", ev.Actor).
			Msg("Moderation log queue full, dropping event")
	}
}

// Insert writes ev synchronously.
func (s *Store) Insert(ctx context.Context, ev chat.ModerationEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moderation_events (event_id, actor, actor_name, kind, reason, text, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.Actor.String(), ev.ActorName, ev.Kind, ev.Reason, ev.Text,
		ev.At.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert moderation event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for actor, newest first.
func (s *Store) Recent(ctx context.Context, actor uuid.UUID, limit int) ([]chat.ModerationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, actor, actor_name, kind, reason, text, at
		 FROM moderation_events WHERE actor = ? ORDER BY seq DESC LIMIT ?`,
		actor.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query moderation events: %w", err)
	}
	defer rows.Close()

	var events []chat.ModerationEvent
	for rows.Next() {
		var (
			ev                   chat.ModerationEvent
			eventID, actorID, at string
		)
		if err := rows.Scan(&eventID, &actorID, &ev.ActorName, &ev.Kind, &ev.Reason, &ev.Text, &at); err != nil {
			return nil, fmt.Errorf("scan moderation event: %w", err)
		}
		if ev.ID, err = ulid.ParseStrict(eventID); err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", eventID, err)
		}
		if ev.Actor, err = uuid.Parse(actorID); err != nil {
			return nil, fmt.Errorf("parse actor %q: %w", actorID, err)
		}
		if ev.At, err = time.Parse(timeFormat, at); err != nil {
			return nil, fmt.Errorf("parse time %q: %w", at, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Counts returns the number of stored events per kind.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM moderation_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count moderation events: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// Prune deletes events recorded before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM moderation_events WHERE at < ?`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("prune moderation events: %w", err)
	}
	return res.RowsAffected()
}

// Close stops accepting events, writes everything still queued and closes
// the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
