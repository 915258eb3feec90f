// Copyright 2024-2026 Aiku AI

package chat

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/aiku/chatguard/pkg/chat/chatfmt"
	"github.com/aiku/chatguard/pkg/chat/emoji"
)

// Capabilities consulted by the pipeline and the auto-reply consumer.
const (
	CapSpamBypass      = "chatguard.spam.bypass"
	CapEmoji           = "chatguard.emoji"
	CapColor           = "chatguard.color"
	CapAutoReplyBypass = "chatguard.autoreply.bypass"
)

// DefaultFormat is the renderer format of a message that was not
// reformatted.
const DefaultFormat = "<" + chatfmt.SenderToken + "> " + chatfmt.MessageToken

// MessageEvent is one inbound chat message. The pipeline rewrites Text,
// Recipients and Format in place.
type MessageEvent struct {
	ID     ulid.ULID
	Sender Actor
	// Raw is the text as typed. It is never modified.
	Raw        string
	Text       string
	Recipients []Actor
	Format     string
	// Channel is the sender's channel at the time of routing.
	Channel   string
	Cancelled bool
	Decision  Decision
	// Mentioned holds the actors that were highlighted.
	Mentioned []Actor
}

// NewMessageEvent creates an event addressed to candidates.
func NewMessageEvent(sender Actor, text string, candidates []Actor) *MessageEvent {
	return &MessageEvent{
		ID:         MakeEventID(),
		Sender:     sender,
		Raw:        text,
		Text:       text,
		Recipients: candidates,
		Format:     DefaultFormat,
	}
}

// Render returns the final line shown to recipients.
func (ev *MessageEvent) Render() string {
	return chatfmt.Render(ev.Format, ev.Sender.DisplayName(), ev.Text)
}

// pipelineSettings is the configuration snapshot a single message is
// processed with.
type pipelineSettings struct {
	antiSpam     bool
	chat         ChatConfig
	mentions     MentionConfig
	emojiEnabled bool
	emoji        *emoji.Replacer
}

// messageContext is threaded through the pipeline stages.
type messageContext struct {
	ev       *MessageEvent
	settings *pipelineSettings
}

// stage processes one step. Returning false ends the pipeline.
type stage func(mc *messageContext) bool

// Pipeline runs every message through anti-abuse, content transforms,
// routing, formatting and mention highlighting, in that order.
type Pipeline struct {
	log      zerolog.Logger
	abuse    *AbuseTracker
	channels *ChannelRegistry
	presence Presence
	sink     Sink
	recorder ModerationRecorder
	settings atomic.Pointer[pipelineSettings]
	stages   []stage
}

// PipelineParams are the collaborators of a Pipeline.
type PipelineParams struct {
	Abuse    *AbuseTracker
	Channels *ChannelRegistry
	Presence Presence
	Sink     Sink
	// Recorder receives rejections. Optional.
	Recorder ModerationRecorder
	Log      zerolog.Logger
}

func NewPipeline(cfg *Config, params PipelineParams) *Pipeline {
	p := &Pipeline{
		log:      params.Log.With().Str("component", "pipeline").Logger(),
		abuse:    params.Abuse,
		channels: params.Channels,
		presence: params.Presence,
		sink:     params.Sink,
		recorder: params.Recorder,
	}
	p.stages = []stage{
		p.antiAbuse,
		p.transform,
		p.route,
		p.format,
		p.colorize,
		p.highlightMentions,
	}
	p.SetConfig(cfg)
	return p
}

// SetConfig swaps the settings used for messages handled from now on.
func (p *Pipeline) SetConfig(cfg *Config) {
	p.settings.Store(&pipelineSettings{
		antiSpam:     cfg.AntiSpam.Enabled,
		chat:         cfg.Chat,
		mentions:     cfg.Mentions,
		emojiEnabled: cfg.Emoji.Enabled,
		emoji:        emoji.NewReplacer(cfg.Emoji.Mappings, cfg.Emoji.VariationSelectors),
	})
}

// Handle processes ev and returns it. A rejected event comes back with
// Cancelled set and its reason in Decision.
func (p *Pipeline) Handle(ev *MessageEvent) *MessageEvent {
	if ev.Format == "" {
		ev.Format = DefaultFormat
	}
	mc := &messageContext{ev: ev, settings: p.settings.Load()}
	for _, run := range p.stages {
		if !run(mc) {
			break
		}
	}
	return ev
}

func (p *Pipeline) antiAbuse(mc *messageContext) bool {
	ev := mc.ev
	if !mc.settings.antiSpam || ev.Sender.HasCapability(CapSpamBypass) {
		return true
	}
	decision := p.abuse.Evaluate(ev.Sender.ID(), ev.Raw)
	if decision.Allowed() {
		p.abuse.Record(ev.Sender.ID(), ev.Raw)
		return true
	}
	ev.Cancelled = true
	ev.Decision = decision
	ev.Recipients = nil
	p.sink.Deliver(ev.Sender, string(chatfmt.ColorChar)+"c"+decision.Message)
	p.log.Debug().
		Stringer("event_id", ev.ID).
		Stringer("actor", ev.Sender.ID()).
		Str("reason", string(decision.Reason)).
		Msg("Message rejected")
	if p.recorder != nil {
		p.recorder.RecordModeration(ModerationEvent{
			ID:        ev.ID,
			Actor:     ev.Sender.ID(),
			ActorName: ev.Sender.Name(),
			Kind:      KindRejected,
			Reason:    string(decision.Reason),
			Text:      ev.Raw,
			At:        time.Now(),
		})
	}
	return false
}

func (p *Pipeline) transform(mc *messageContext) bool {
	if mc.settings.emojiEnabled && mc.ev.Sender.HasCapability(CapEmoji) {
		mc.ev.Text = mc.settings.emoji.Replace(mc.ev.Text)
	}
	return true
}

func (p *Pipeline) route(mc *messageContext) bool {
	ev := mc.ev
	ev.Channel = p.channels.Channel(ev.Sender.ID())
	if p.channels.Enabled() {
		ev.Recipients = p.channels.Route(ev.Sender, ev.Recipients)
	}
	return true
}

func (p *Pipeline) format(mc *messageContext) bool {
	if !mc.settings.chat.FormatEnabled {
		return true
	}
	sender := mc.ev.Sender
	params := chatfmt.FormatParams{
		Template: chatfmt.Expand(mc.settings.chat.Format,
			"%player_name%", sender.Name(),
			"%player_world%", sender.Position().Partition,
		),
		DisplayName: sender.DisplayName(),
	}
	if p.channels.Enabled() {
		params.ChannelDisplay = p.channels.DisplayName(mc.ev.Channel)
	}
	mc.ev.Format = chatfmt.BuildFormat(params)
	return true
}

func (p *Pipeline) colorize(mc *messageContext) bool {
	if mc.ev.Sender.HasCapability(CapColor) {
		mc.ev.Text = chatfmt.Colorize(mc.ev.Text)
	}
	return true
}

func (p *Pipeline) highlightMentions(mc *messageContext) bool {
	if !mc.settings.mentions.Enabled || p.presence == nil {
		return true
	}
	ev := mc.ev
	cfg := mc.settings.mentions
	for _, online := range p.presence.Online() {
		token := "@" + online.Name()
		if !strings.Contains(ev.Text, token) {
			continue
		}
		if online.ID() == ev.Sender.ID() && !cfg.SelfMention {
			continue
		}
		highlight := chatfmt.Colorize(strings.ReplaceAll(cfg.Format, "{player}", online.Name()))
		ev.Text = strings.ReplaceAll(ev.Text, token, highlight)
		ev.Mentioned = append(ev.Mentioned, online)
		p.notify(online, cfg.Sound)
	}
	return true
}

func (p *Pipeline) notify(to Actor, cue string) {
	if cue == "" {
		return
	}
	if err := p.sink.Notify(to, cue); err != nil {
		p.log.Debug().Err(err).
			Str("cue", cue).
			Stringer("actor", to.ID()).
			Msg("Ignoring failed mention notification")
	}
}
