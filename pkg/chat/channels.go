// Copyright 2024-2026 Aiku AI

package chat

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"gopkg.in/yaml.v3"

	"github.com/aiku/chatguard/pkg/chat/chatfmt"
)

const defaultChannelFormat = "{player}: {message}"

// ChannelDefinition describes a named routing channel.
type ChannelDefinition struct {
	Name        string `yaml:"-" json:"name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Format      string `yaml:"format" json:"format"`
	// Permission is the capability needed to join. Empty means anyone.
	Permission string `yaml:"permission" json:"permission"`
	// Range is the hearing radius. -1 and 0 mean unlimited.
	Range int `yaml:"range" json:"range"`
	// CrossPartition lets actors in other partitions hear the sender.
	CrossPartition bool `yaml:"cross_world" json:"cross_world"`
}

func (cd *ChannelDefinition) UnmarshalYAML(node *yaml.Node) error {
	type rawChannel ChannelDefinition
	raw := rawChannel{
		Format:         defaultChannelFormat,
		Range:          -1,
		CrossPartition: true,
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*cd = ChannelDefinition(raw)
	return nil
}

// Label returns the colorized display name, or the channel name when no
// display name is set.
func (cd ChannelDefinition) Label() string {
	if cd.DisplayName == "" {
		return cd.Name
	}
	return chatfmt.Colorize(cd.DisplayName)
}

// ChannelSet is an ordered list of channel definitions. In YAML it is a
// mapping from channel name to definition.
type ChannelSet []ChannelDefinition

// DefaultChannels returns the built-in channels.
func DefaultChannels() ChannelSet {
	return ChannelSet{
		{Name: "global", DisplayName: "&f[Global]", Format: "{display}&f: {message}", Range: -1, CrossPartition: true},
		{Name: "local", DisplayName: "&a[Local]", Format: "{display}&f: {message}", Range: 100, CrossPartition: false},
		{Name: "staff", DisplayName: "&c[Staff]", Format: "{display}&f: {message}", Permission: "chatguard.channel.staff", Range: -1, CrossPartition: true},
	}
}

func (cs *ChannelSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		*cs = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("channels must be a mapping (line %d)", node.Line)
	}
	set := make(ChannelSet, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var def ChannelDefinition
		if err := node.Content[i+1].Decode(&def); err != nil {
			return fmt.Errorf("channel %q: %w", node.Content[i].Value, err)
		}
		def.Name = node.Content[i].Value
		set = append(set, def)
	}
	*cs = set
	return nil
}

// Lookup finds a channel by exact name.
func (cs ChannelSet) Lookup(name string) (ChannelDefinition, bool) {
	idx := slices.IndexFunc(cs, func(d ChannelDefinition) bool { return d.Name == name })
	if idx < 0 {
		return ChannelDefinition{}, false
	}
	return cs[idx], true
}

// Errors returned by ChannelRegistry.Switch.
var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNoPermission   = errors.New("no permission for channel")
)

type channelSnapshot struct {
	enabled        bool
	defaultChannel string
	defs           ChannelSet
	byName         map[string]ChannelDefinition
	messages       ChannelMessages
}

// ChannelRegistry tracks which channel every actor speaks in and filters
// recipients accordingly.
type ChannelRegistry struct {
	log         zerolog.Logger
	assignments *exsync.Map[uuid.UUID, string]
	snap        atomic.Pointer[channelSnapshot]
}

func NewChannelRegistry(cfg ChannelsConfig, log zerolog.Logger) *ChannelRegistry {
	cr := &ChannelRegistry{
		log:         log.With().Str("component", "channel_registry").Logger(),
		assignments: exsync.NewMap[uuid.UUID, string](),
	}
	cr.SetConfig(cfg)
	return cr
}

// SetConfig swaps the channel definitions. Existing assignments are kept,
// even if they now point at an unknown channel.
func (cr *ChannelRegistry) SetConfig(cfg ChannelsConfig) {
	snap := &channelSnapshot{
		enabled:        cfg.Enabled,
		defaultChannel: cfg.DefaultChannel,
		defs:           slices.Clone(cfg.Channels),
		byName:         make(map[string]ChannelDefinition, len(cfg.Channels)),
		messages:       cfg.Messages,
	}
	for _, def := range snap.defs {
		snap.byName[def.Name] = def
	}
	cr.snap.Store(snap)
}

// Enabled reports whether channel routing is on.
func (cr *ChannelRegistry) Enabled() bool {
	return cr.snap.Load().enabled
}

// DefaultChannel returns the channel actors start in.
func (cr *ChannelRegistry) DefaultChannel() string {
	return cr.snap.Load().defaultChannel
}

// Channel returns actor's channel, or the default channel when unassigned.
func (cr *ChannelRegistry) Channel(actor uuid.UUID) string {
	if name, ok := cr.assignments.Get(actor); ok {
		return name
	}
	return cr.snap.Load().defaultChannel
}

// SetChannel assigns actor to name without any checks.
func (cr *ChannelRegistry) SetChannel(actor uuid.UUID, name string) {
	cr.assignments.Set(actor, name)
}

// RemoveActor drops actor's assignment.
func (cr *ChannelRegistry) RemoveActor(actor uuid.UUID) {
	cr.assignments.Delete(actor)
}

// Assigned returns the number of explicit assignments.
func (cr *ChannelRegistry) Assigned() int {
	return cr.assignments.Len()
}

// Definition returns the channel named name.
func (cr *ChannelRegistry) Definition(name string) (ChannelDefinition, bool) {
	def, ok := cr.snap.Load().byName[name]
	return def, ok
}

// Definitions returns all channels in configuration order.
func (cr *ChannelRegistry) Definitions() ChannelSet {
	return slices.Clone(cr.snap.Load().defs)
}

// DisplayName returns the label of the channel named name, or name itself
// when the channel is unknown.
func (cr *ChannelRegistry) DisplayName(name string) string {
	def, ok := cr.Definition(name)
	if !ok {
		return name
	}
	return def.Label()
}

// HasPermission reports whether actor may join name. Unknown channels are
// never allowed.
func (cr *ChannelRegistry) HasPermission(actor Actor, name string) bool {
	def, ok := cr.Definition(name)
	if !ok {
		return false
	}
	return def.Permission == "" || actor.HasCapability(def.Permission)
}

// Available lists the channels actor may join, in configuration order.
func (cr *ChannelRegistry) Available(actor Actor) []string {
	snap := cr.snap.Load()
	available := make([]string, 0, len(snap.defs))
	for _, def := range snap.defs {
		if def.Permission == "" || actor.HasCapability(def.Permission) {
			available = append(available, def.Name)
		}
	}
	return available
}

// Switch moves actor into name after checking that the channel exists and
// that actor may join it.
func (cr *ChannelRegistry) Switch(actor Actor, name string) error {
	if _, ok := cr.Definition(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	if !cr.HasPermission(actor, name) {
		return fmt.Errorf("%w: %q", ErrNoPermission, name)
	}
	cr.SetChannel(actor.ID(), name)
	cr.log.Debug().
		Stringer("actor", actor.ID()).
		Str("channel", name).
		Msg("Actor switched channel")
	return nil
}

// SwitchMessage renders the feedback text for the result of Switch.
func (cr *ChannelRegistry) SwitchMessage(name string, err error) string {
	msgs := cr.snap.Load().messages
	var tmpl string
	label := name
	switch {
	case err == nil:
		tmpl = msgs.Switched
		label = cr.DisplayName(name)
	case errors.Is(err, ErrUnknownChannel):
		tmpl = msgs.NotFound
	case errors.Is(err, ErrNoPermission):
		tmpl = msgs.NoPermission
	default:
		return err.Error()
	}
	return chatfmt.Colorize(chatfmt.Expand(tmpl, "{channel}", label))
}

// Route returns the candidates that can hear sender. A sender whose channel
// has no definition is heard by everyone in that channel.
func (cr *ChannelRegistry) Route(sender Actor, candidates []Actor) []Actor {
	channel := cr.Channel(sender.ID())
	crossPartition, radius := true, -1
	if def, ok := cr.Definition(channel); ok {
		crossPartition, radius = def.CrossPartition, def.Range
	}
	origin := sender.Position()

	routed := make([]Actor, 0, len(candidates))
	for _, candidate := range candidates {
		if cr.Channel(candidate.ID()) != channel {
			continue
		}
		if !crossPartition || radius > 0 {
			pos := candidate.Position()
			if !origin.SamePartition(pos) {
				continue
			}
			if radius > 0 {
				if dist, _ := origin.DistanceTo(pos); dist > float64(radius) {
					continue
				}
			}
		}
		routed = append(routed, candidate)
	}
	return routed
}
