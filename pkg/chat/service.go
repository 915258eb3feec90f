// Copyright 2024-2026 Aiku AI

package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/chatguard/pkg/chat/chatfmt"
)

// ModerationHistory reads back recorded moderation events.
type ModerationHistory interface {
	Recent(ctx context.Context, actor uuid.UUID, limit int) ([]ModerationEvent, error)
}

// ServiceParams are the host collaborators of a Service.
type ServiceParams struct {
	// ConfigPath is re-read by Reload and rewritten by rule edits. Empty
	// disables both.
	ConfigPath string
	Presence   Presence
	Sink       Sink
	Executor   CommandExecutor
	Scheduler  Scheduler
	Recorder   ModerationRecorder
	History    ModerationHistory
	Log        zerolog.Logger
}

// Service wires the moderation components together and applies
// configuration snapshots to all of them at once.
type Service struct {
	log        zerolog.Logger
	configPath string
	cfg        atomic.Pointer[Config]
	reloadMu   sync.Mutex

	presence Presence
	sink     Sink
	sched    Scheduler
	recorder ModerationRecorder
	history  ModerationHistory

	Abuse     *AbuseTracker
	Rules     *RuleStore
	Patterns  *PatternCache
	Matcher   *RuleMatcher
	Channels  *ChannelRegistry
	Pipeline  *Pipeline
	AutoReply *AutoReplyConsumer
	Announcer *Announcer
}

// Outcome is the result of handling one inbound message.
type Outcome struct {
	Event *MessageEvent
	// Reply is the auto-reply that was sent, if any.
	Reply *AutoReply
}

func NewService(cfg *Config, params ServiceParams) *Service {
	sched := params.Scheduler
	if sched == nil {
		sched = AfterFuncScheduler{}
	}
	log := params.Log
	s := &Service{
		log:        log.With().Str("component", "service").Logger(),
		configPath: params.ConfigPath,
		presence:   params.Presence,
		sink:       params.Sink,
		sched:      sched,
		recorder:   params.Recorder,
		history:    params.History,
	}
	s.Abuse = NewAbuseTracker(cfg.AntiSpam, log)
	s.Rules = NewRuleStore(cfg.AutoReply.Rules)
	s.Patterns = NewPatternCache()
	s.Matcher = NewRuleMatcher(s.Rules, s.Patterns, log)
	s.Channels = NewChannelRegistry(cfg.Channels, log)
	s.Pipeline = NewPipeline(cfg, PipelineParams{
		Abuse:    s.Abuse,
		Channels: s.Channels,
		Presence: params.Presence,
		Sink:     params.Sink,
		Recorder: params.Recorder,
		Log:      log,
	})
	s.AutoReply = NewAutoReplyConsumer(cfg.AutoReply, AutoReplyParams{
		Matcher:   s.Matcher,
		Sink:      params.Sink,
		Executor:  params.Executor,
		Scheduler: sched,
		Recorder:  params.Recorder,
		Log:       log,
	})
	s.Announcer = NewAnnouncer(cfg.Announcements, params.Presence, params.Sink, log)
	s.cfg.Store(cfg)
	s.Matcher.Warm()
	return s
}

// Config returns the active configuration. Callers must not modify it.
func (s *Service) Config() *Config {
	return s.cfg.Load()
}

// ApplyConfig hands a new configuration snapshot to every component.
// Messages in flight finish with the snapshot they started with.
func (s *Service) ApplyConfig(cfg *Config) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.applyLocked(cfg)
}

func (s *Service) applyLocked(cfg *Config) {
	prev := s.cfg.Swap(cfg)
	s.Abuse.SetConfig(cfg.AntiSpam)
	s.Channels.SetConfig(cfg.Channels)
	s.Pipeline.SetConfig(cfg)
	s.AutoReply.SetConfig(cfg.AutoReply)
	s.Announcer.SetConfig(cfg.Announcements)
	if prev != nil {
		for _, old := range prev.AutoReply.Rules {
			if _, still := cfg.AutoReply.Rules.Lookup(old.Name); !still {
				s.Patterns.Forget(old.Keyword)
			}
		}
	}
	s.Rules.Replace(cfg.AutoReply.Rules)
	invalid := s.Matcher.Warm()
	s.log.Info().
		Int("rules", len(cfg.AutoReply.Rules)).
		Int("channels", len(cfg.Channels.Channels)).
		Strs("invalid_patterns", invalid).
		Msg("Applied configuration")
}

// ErrNoConfigPath is returned by operations that need the config file when
// the service was created without one.
var ErrNoConfigPath = errors.New("service has no config path")

// Reload re-reads the config file and applies it. An invalid file leaves
// the active configuration untouched.
func (s *Service) Reload() error {
	if s.configPath == "" {
		return ErrNoConfigPath
	}
	cfg, err := LoadConfig(s.configPath, false)
	if err != nil {
		return err
	}
	s.ApplyConfig(cfg)
	return nil
}

// HandleMessage runs text from sender through the pipeline, delivers the
// rendered message to the surviving recipients and gives the auto-reply
// consumer a chance to answer.
func (s *Service) HandleMessage(sender Actor, text string, candidates []Actor) *Outcome {
	ev := s.Pipeline.Handle(NewMessageEvent(sender, text, candidates))
	if !ev.Cancelled {
		rendered := ev.Render()
		for _, to := range ev.Recipients {
			s.sink.Deliver(to, rendered)
		}
	}
	return &Outcome{Event: ev, Reply: s.AutoReply.Handle(ev)}
}

// PutRule adds or replaces an auto-reply rule and persists the rule set.
// Regex rules must compile.
func (s *Service) PutRule(rule Rule) (replaced bool, err error) {
	if ParseMatchMode(string(rule.Mode)) == MatchRegex && rule.Keyword != "" {
		if _, err := s.Patterns.Compile(rule.Keyword, rule.CaseSensitive); err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	prev, replaced, err := s.Rules.Put(rule)
	if err != nil {
		return false, err
	}
	if replaced && prev.Keyword != rule.Keyword {
		s.Patterns.Forget(prev.Keyword)
	}
	return replaced, s.persistRulesLocked()
}

// RemoveRule deletes an auto-reply rule and persists the rule set.
func (s *Service) RemoveRule(name string) (Rule, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	removed, err := s.Rules.Remove(name)
	if err != nil {
		return Rule{}, err
	}
	s.Patterns.Forget(removed.Keyword)
	return removed, s.persistRulesLocked()
}

func (s *Service) persistRulesLocked() error {
	rules := s.Rules.List()
	next := *s.cfg.Load()
	next.AutoReply.Rules = rules
	s.cfg.Store(&next)
	if s.configPath == "" {
		return nil
	}
	if err := SaveRules(s.configPath, rules); err != nil {
		return fmt.Errorf("rule applied but not saved: %w", err)
	}
	return nil
}

// SwitchChannel moves actor into name and tells the actor how it went.
func (s *Service) SwitchChannel(actor Actor, name string) error {
	err := s.Channels.Switch(actor, name)
	s.sink.Deliver(actor, s.Channels.SwitchMessage(name, err))
	return err
}

// Mute silences actor for d, or for the configured duration when d is
// zero.
func (s *Service) Mute(actor Actor, d time.Duration) time.Time {
	var until time.Time
	if d == 0 {
		until = s.Abuse.MuteDefault(actor.ID())
	} else {
		until = s.Abuse.Mute(actor.ID(), d)
	}
	s.record(actor, KindMuted, until.Format(time.RFC3339), "")
	return until
}

// Unmute lifts a mute and reports whether one was active.
func (s *Service) Unmute(actor Actor) bool {
	was := s.Abuse.Unmute(actor.ID())
	if was {
		s.record(actor, KindUnmuted, "", "")
	}
	return was
}

// History returns recent moderation events for actor.
func (s *Service) History(ctx context.Context, actor uuid.UUID, limit int) ([]ModerationEvent, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(ctx, actor, limit)
}

func (s *Service) record(actor Actor, kind, reason, text string) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordModeration(ModerationEvent{
		ID:        MakeEventID(),
		Actor:     actor.ID(),
		ActorName: actor.Name(),
		Kind:      kind,
		Reason:    reason,
		Text:      text,
		At:        time.Now(),
	})
}

// placeholders returns the replacement pairs for join and quit texts.
func (s *Service) placeholders(actor Actor) []string {
	online, capacity := 0, 0
	if s.presence != nil {
		online, capacity = len(s.presence.Online()), s.presence.Capacity()
	}
	return []string{
		"%player_name%", actor.Name(),
		"{player}", actor.Name(),
		"{displayname}", actor.DisplayName(),
		"%player_world%", actor.Position().Partition,
		"%online_players%", strconv.Itoa(online),
		"%max_players%", strconv.Itoa(capacity),
	}
}

func (s *Service) render(tmpl string, actor Actor) string {
	return chatfmt.Colorize(chatfmt.Expand(tmpl, s.placeholders(actor)...))
}

func (s *Service) broadcast(text string) {
	if s.presence == nil {
		return
	}
	for _, to := range s.presence.Online() {
		s.sink.Deliver(to, text)
	}
}

// Join puts a newly connected actor in the default channel and sends the
// join, welcome, title and first-join texts. The host must already list
// actor as online.
func (s *Service) Join(actor Actor, firstJoin bool) {
	cfg := s.cfg.Load().JoinQuit
	s.Channels.SetChannel(actor.ID(), s.Channels.DefaultChannel())

	if cfg.JoinMessageEnabled && cfg.JoinMessageFormat != "" {
		s.broadcast(s.render(cfg.JoinMessageFormat, actor))
	}
	if cfg.WelcomeEnabled {
		for _, line := range cfg.WelcomeLines {
			s.sink.Deliver(actor, s.render(line, actor))
		}
	}
	if cfg.Title.Enabled {
		s.sink.DeliverTitle(actor,
			s.render(cfg.Title.Main, actor),
			s.render(cfg.Title.Sub, actor),
			cfg.Title.Timing())
	}
	if firstJoin && cfg.FirstJoinMessage != "" {
		s.broadcast(s.render(cfg.FirstJoinMessage, actor))
	}
	s.log.Debug().
		Stringer("actor", actor.ID()).
		Str("name", actor.Name()).
		Bool("first_join", firstJoin).
		Msg("Actor joined")
}

// Quit announces a departing actor and drops all of its state. The host
// should no longer list actor as online.
func (s *Service) Quit(actor Actor) {
	cfg := s.cfg.Load().JoinQuit
	if cfg.QuitMessageEnabled && cfg.QuitMessageFormat != "" {
		s.broadcast(s.render(cfg.QuitMessageFormat, actor))
	}
	s.Abuse.Cleanup(actor.ID())
	s.Channels.RemoveActor(actor.ID())
	s.AutoReply.Forget(actor.ID())
	s.log.Debug().Stringer("actor", actor.ID()).Msg("Actor quit")
}
