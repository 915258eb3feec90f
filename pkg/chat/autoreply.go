// Copyright 2024-2026 Aiku AI

package chat

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"golang.org/x/time/rate"

	"github.com/aiku/chatguard/pkg/chat/chatfmt"
)

// AutoReply describes a reply that was sent.
type AutoReply struct {
	Rule     Rule     `json:"rule"`
	Lines    []string `json:"lines"`
	Commands []string `json:"commands"`
}

type autoReplySettings struct {
	enabled       bool
	cooldown      time.Duration
	skipCancelled bool
}

// AutoReplyConsumer answers messages that match an auto-reply rule. Each
// actor has one cooldown shared by all rules.
type AutoReplyConsumer struct {
	log      zerolog.Logger
	matcher  *RuleMatcher
	sink     Sink
	exec     CommandExecutor
	sched    Scheduler
	recorder ModerationRecorder
	settings atomic.Pointer[autoReplySettings]
	limiters *exsync.Map[uuid.UUID, *rate.Limiter]
	now      func() time.Time
}

// AutoReplyParams are the collaborators of an AutoReplyConsumer.
type AutoReplyParams struct {
	Matcher   *RuleMatcher
	Sink      Sink
	Executor  CommandExecutor
	Scheduler Scheduler
	// Recorder receives sent replies and dispatched commands. Optional.
	Recorder ModerationRecorder
	Log      zerolog.Logger
}

func NewAutoReplyConsumer(cfg AutoReplyConfig, params AutoReplyParams) *AutoReplyConsumer {
	sched := params.Scheduler
	if sched == nil {
		sched = AfterFuncScheduler{}
	}
	ac := &AutoReplyConsumer{
		log:      params.Log.With().Str("component", "auto_reply").Logger(),
		matcher:  params.Matcher,
		sink:     params.Sink,
		exec:     params.Executor,
		sched:    sched,
		recorder: params.Recorder,
		limiters: exsync.NewMap[uuid.UUID, *rate.Limiter](),
		now:      time.Now,
	}
	ac.SetConfig(cfg)
	return ac
}

// SetConfig swaps the settings. Changing the cooldown resets every actor's
// cooldown.
func (ac *AutoReplyConsumer) SetConfig(cfg AutoReplyConfig) {
	next := &autoReplySettings{
		enabled:       cfg.Enabled,
		cooldown:      time.Duration(cfg.Cooldown) * time.Second,
		skipCancelled: cfg.SkipCancelled,
	}
	prev := ac.settings.Swap(next)
	if prev != nil && prev.cooldown != next.cooldown {
		ac.limiters.Clear()
	}
}

func (ac *AutoReplyConsumer) limiter(actor uuid.UUID, cooldown time.Duration) *rate.Limiter {
	return ac.limiters.GetOrSetFactory(actor, func() *rate.Limiter {
		return rate.NewLimiter(rate.Every(cooldown), 1)
	})
}

// Handle answers ev if a rule matches. It returns nil when nothing was
// sent.
func (ac *AutoReplyConsumer) Handle(ev *MessageEvent) *AutoReply {
	settings := ac.settings.Load()
	if !settings.enabled || (settings.skipCancelled && ev.Cancelled) {
		return nil
	}
	sender := ev.Sender
	if sender.HasCapability(CapAutoReplyBypass) {
		return nil
	}
	now := ac.now()
	var lim *rate.Limiter
	if settings.cooldown > 0 {
		lim = ac.limiter(sender.ID(), settings.cooldown)
		if lim.TokensAt(now) < 1 {
			return nil
		}
	}

	rule, ok := ac.matcher.FindMatch(ev.Raw)
	if !ok {
		return nil
	}
	if rule.Permission != "" && !sender.HasCapability(rule.Permission) {
		return nil
	}

	reply := &AutoReply{
		Rule:     rule,
		Lines:    make([]string, 0, len(rule.Lines())),
		Commands: make([]string, 0, len(rule.CommandList())),
	}
	for _, line := range rule.Lines() {
		text := chatfmt.Colorize(strings.ReplaceAll(line, "{player}", sender.Name()))
		reply.Lines = append(reply.Lines, text)
		ac.sink.Deliver(sender, text)
	}
	for _, cmd := range rule.CommandList() {
		reply.Commands = append(reply.Commands, strings.ReplaceAll(cmd, "{player}", sender.Name()))
	}
	if len(reply.Commands) > 0 {
		ac.dispatch(sender, rule.Name, reply.Commands)
	}
	if lim != nil {
		lim.AllowN(now, 1)
	}

	ac.log.Debug().
		Stringer("event_id", ev.ID).
		Stringer("actor", sender.ID()).
		Str("rule", rule.Name).
		Int("lines", len(reply.Lines)).
		Int("commands", len(reply.Commands)).
		Msg("Sent auto-reply")
	if ac.recorder != nil {
		ac.recorder.RecordModeration(ModerationEvent{
			ID:        ev.ID,
			Actor:     sender.ID(),
			ActorName: sender.Name(),
			Kind:      KindAutoReply,
			Reason:    rule.Name,
			Text:      ev.Raw,
			At:        now,
		})
	}
	return reply
}

// dispatch runs commands on the scheduler, in order, with full privileges.
func (ac *AutoReplyConsumer) dispatch(sender Actor, ruleName string, commands []string) {
	if ac.exec == nil {
		ac.log.Warn().Str("rule", ruleName).Msg("No command executor configured, dropping commands")
		return
	}
	actorID, actorName := sender.ID(), sender.Name()
	ac.sched.Submit(0, func() {
		ctx := ac.log.WithContext(context.Background())
		for _, cmd := range commands {
			if err := ac.exec.RunPrivileged(ctx, cmd); err != nil {
				ac.log.Err(err).
					Str("rule", ruleName).
					Str("command", cmd).
					Msg("Auto-reply command failed")
			}
			if ac.recorder != nil {
				ac.recorder.RecordModeration(ModerationEvent{
					ID:        MakeEventID(),
					Actor:     actorID,
					ActorName: actorName,
					Kind:      KindCommand,
					Reason:    cmd,
					At:        time.Now(),
				})
			}
		}
	})
}

// Forget drops actor's cooldown.
func (ac *AutoReplyConsumer) Forget(actor uuid.UUID) {
	ac.limiters.Delete(actor)
}
