// Copyright 2024-2026 Aiku AI

package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/chatguard/pkg/chat/chatfmt"
)

// Announcer broadcasts a rotating list of messages to everyone online.
type Announcer struct {
	log      zerolog.Logger
	presence Presence
	sink     Sink
	cfg      atomic.Pointer[AnnouncementConfig]

	mu    sync.Mutex
	index int
}

func NewAnnouncer(cfg AnnouncementConfig, presence Presence, sink Sink, log zerolog.Logger) *Announcer {
	a := &Announcer{
		log:      log.With().Str("component", "announcer").Logger(),
		presence: presence,
		sink:     sink,
	}
	a.SetConfig(cfg)
	return a
}

// SetConfig swaps the announcement list. The rotation position is kept
// and wraps around if the new list is shorter.
func (a *Announcer) SetConfig(cfg AnnouncementConfig) {
	a.cfg.Store(&cfg)
}

// Broadcast sends the next message. It returns false when nothing was
// sent because announcements are disabled, empty or nobody is online.
func (a *Announcer) Broadcast() bool {
	cfg := a.cfg.Load()
	if !cfg.Enabled || len(cfg.Messages) == 0 {
		return false
	}
	online := a.presence.Online()
	if len(online) == 0 {
		return false
	}

	a.mu.Lock()
	idx := a.index % len(cfg.Messages)
	a.index = (idx + 1) % len(cfg.Messages)
	a.mu.Unlock()

	text := chatfmt.Colorize(cfg.Prefix + cfg.Messages[idx])
	for _, actor := range online {
		a.sink.Deliver(actor, text)
	}
	a.log.Debug().Int("index", idx).Int("recipients", len(online)).Msg("Sent announcement")
	return true
}

// Run broadcasts every configured interval until ctx is done. The interval
// is re-read after every tick so reloads apply without a restart.
func (a *Announcer) Run(ctx context.Context) {
	interval := a.interval()
	a.log.Info().Dur("interval", interval).Msg("Starting announcement loop")
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("Announcement loop stopped")
			return
		case <-timer.C:
			a.Broadcast()
			timer.Reset(a.interval())
		}
	}
}

func (a *Announcer) interval() time.Duration {
	if secs := a.cfg.Load().Interval; secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 300 * time.Second
}
