// Copyright 2024-2026 Aiku AI

package chat

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/chatguard/pkg/chat/emoji"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the complete chatguard configuration.
type Config struct {
	// AdminAPIAddr is the listen address for the admin HTTP API.
	AdminAPIAddr string `yaml:"admin_api_addr"`
	// ModerationLog is the SQLite file that receives moderation events.
	// Empty disables the log.
	ModerationLog string `yaml:"moderation_log"`
	MaxActors     int    `yaml:"max_actors"`

	Logging       LoggingConfig      `yaml:"logging"`
	Chat          ChatConfig         `yaml:"chat"`
	Mentions      MentionConfig      `yaml:"mentions"`
	AntiSpam      AntiSpamConfig     `yaml:"anti_spam"`
	JoinQuit      JoinQuitConfig     `yaml:"join_quit"`
	Channels      ChannelsConfig     `yaml:"channels"`
	AutoReply     AutoReplyConfig    `yaml:"auto_reply"`
	Emoji         EmojiConfig        `yaml:"emoji"`
	Announcements AnnouncementConfig `yaml:"announcements"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

type ChatConfig struct {
	FormatEnabled bool   `yaml:"format_enabled"`
	Format        string `yaml:"format"`
}

type MentionConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Format      string `yaml:"format"`
	Sound       string `yaml:"sound"`
	SelfMention bool   `yaml:"self_mention"`
}

// AntiSpamConfig tunes the AbuseTracker. Durations are in seconds.
type AntiSpamConfig struct {
	Enabled         bool             `yaml:"enabled"`
	Cooldown        int              `yaml:"cooldown"`
	MaxDuplicate    int              `yaml:"max_duplicate"`
	DuplicateWindow int              `yaml:"duplicate_window"`
	MuteDuration    int              `yaml:"mute_duration"`
	CapsLimit       int              `yaml:"caps_limit"`
	Messages        AntiSpamMessages `yaml:"messages"`
}

// AntiSpamMessages are the texts shown to an actor whose message was
// rejected.
type AntiSpamMessages struct {
	Muted     string `yaml:"muted"`
	TooFast   string `yaml:"too_fast"`
	Duplicate string `yaml:"duplicate"`
	Caps      string `yaml:"caps"`
}

type JoinQuitConfig struct {
	JoinMessageEnabled bool        `yaml:"join_message_enabled"`
	JoinMessageFormat  string      `yaml:"join_message_format"`
	QuitMessageEnabled bool        `yaml:"quit_message_enabled"`
	QuitMessageFormat  string      `yaml:"quit_message_format"`
	WelcomeEnabled     bool        `yaml:"welcome_enabled"`
	WelcomeLines       []string    `yaml:"welcome_lines"`
	Title              TitleConfig `yaml:"title"`
	FirstJoinMessage   string      `yaml:"first_join_message"`
}

type TitleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Main    string `yaml:"main"`
	Sub     string `yaml:"sub"`
	FadeIn  int    `yaml:"fade_in"`
	Stay    int    `yaml:"stay"`
	FadeOut int    `yaml:"fade_out"`
}

// Timing returns the title timing in ticks.
func (tc TitleConfig) Timing() TitleTiming {
	return TitleTiming{FadeIn: tc.FadeIn, Stay: tc.Stay, FadeOut: tc.FadeOut}
}

type ChannelsConfig struct {
	Enabled        bool            `yaml:"enabled"`
	DefaultChannel string          `yaml:"default_channel"`
	Channels       ChannelSet      `yaml:"channels"`
	Messages       ChannelMessages `yaml:"messages"`
}

// ChannelMessages are shown to an actor after a switch attempt. {channel}
// is replaced by the channel display name or the requested name.
type ChannelMessages struct {
	Switched     string `yaml:"switched"`
	NotFound     string `yaml:"not_found"`
	NoPermission string `yaml:"no_permission"`
}

type AutoReplyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Cooldown is the number of seconds an actor waits between replies.
	Cooldown      int     `yaml:"cooldown"`
	SkipCancelled bool    `yaml:"skip_cancelled"`
	Rules         RuleSet `yaml:"rules"`
}

type EmojiConfig struct {
	Enabled            bool        `yaml:"enabled"`
	VariationSelectors bool        `yaml:"variation_selectors"`
	Mappings           emoji.Table `yaml:"mappings"`
}

type AnnouncementConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval is the number of seconds between two announcements.
	Interval int      `yaml:"interval"`
	Prefix   string   `yaml:"prefix"`
	Messages []string `yaml:"messages"`
}

// DefaultConfig returns the configuration described by the embedded
// example config.
func DefaultConfig() Config {
	return Config{
		AdminAPIAddr: ":29330",
		MaxActors:    100,
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxAgeDays: 28,
			MaxBackups: 3,
		},
		Chat: ChatConfig{
			FormatEnabled: true,
			Format:        "&7[&f%player_world%&7] &f{player}&7: &f{message}",
		},
		Mentions: MentionConfig{
			Enabled: true,
			Format:  "&e@{player}&r",
			Sound:   "ENTITY_EXPERIENCE_ORB_PICKUP",
		},
		AntiSpam: AntiSpamConfig{
			Enabled:         true,
			Cooldown:        2,
			MaxDuplicate:    3,
			DuplicateWindow: 60,
			MuteDuration:    30,
			CapsLimit:       70,
			Messages:        defaultAntiSpamMessages(),
		},
		JoinQuit: JoinQuitConfig{
			JoinMessageEnabled: true,
			JoinMessageFormat:  "&a[+] &e%player_name% &7joined the server",
			QuitMessageEnabled: true,
			QuitMessageFormat:  "&c[-] &e%player_name% &7left the server",
			WelcomeEnabled:     true,
			WelcomeLines: []string{
				"&6========================================",
				"&eWelcome, &f%player_name%&e!",
				"&7Online players: &f%online_players%&7/&f%max_players%",
				"&6========================================",
			},
			Title: TitleConfig{
				Enabled: true,
				Main:    "&6Welcome Back",
				Sub:     "&7%player_name%",
				FadeIn:  10,
				Stay:    70,
				FadeOut: 20,
			},
			FirstJoinMessage: "&6Welcome new player &e%player_name%&6!",
		},
		Channels: ChannelsConfig{
			Enabled:        true,
			DefaultChannel: "global",
			Channels:       DefaultChannels(),
			Messages: ChannelMessages{
				Switched:     "&aSwitched to channel {channel}",
				NotFound:     "&cChannel {channel} does not exist",
				NoPermission: "&cYou do not have permission to join {channel}",
			},
		},
		AutoReply: AutoReplyConfig{
			Enabled:  true,
			Cooldown: 10,
			Rules:    DefaultRules(),
		},
		Emoji: EmojiConfig{
			Enabled:  true,
			Mappings: emoji.DefaultTable(),
		},
		Announcements: AnnouncementConfig{
			Enabled:  true,
			Interval: 300,
			Prefix:   "&6[Announcement] &f",
			Messages: []string{
				"Welcome! Type /help for assistance.",
				"Please follow server rules!",
			},
		},
	}
}

func defaultAntiSpamMessages() AntiSpamMessages {
	return AntiSpamMessages{
		Muted:     "You are temporarily muted!",
		TooFast:   "You are sending messages too fast!",
		Duplicate: "Please do not send duplicate messages!",
		Caps:      "Too many capital letters in your message!",
	}
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// Validation errors. Validate wraps them with the offending field.
var (
	ErrOutOfRange     = errors.New("value out of range")
	ErrMissingChannel = errors.New("default channel is not defined")
)

func checkRange(field string, value, lo, hi int) error {
	if value < lo || value > hi {
		return fmt.Errorf("%s: %w: %d not in [%d, %d]", field, ErrOutOfRange, value, lo, hi)
	}
	return nil
}

// Validate checks value ranges and cross references. All problems are
// returned joined.
func (c *Config) Validate() error {
	errs := []error{
		checkRange("anti_spam.cooldown", c.AntiSpam.Cooldown, 0, 60),
		checkRange("anti_spam.max_duplicate", c.AntiSpam.MaxDuplicate, 1, 20),
		checkRange("anti_spam.mute_duration", c.AntiSpam.MuteDuration, 5, 600),
		checkRange("anti_spam.caps_limit", c.AntiSpam.CapsLimit, 0, 100),
		checkRange("auto_reply.cooldown", c.AutoReply.Cooldown, 0, 300),
	}
	if c.Announcements.Enabled && c.Announcements.Interval <= 0 {
		errs = append(errs, fmt.Errorf("announcements.interval: %w: must be positive", ErrOutOfRange))
	}
	if c.Channels.Enabled {
		if _, ok := c.Channels.Channels.Lookup(c.Channels.DefaultChannel); !ok {
			errs = append(errs, fmt.Errorf("channels.default_channel %q: %w", c.Channels.DefaultChannel, ErrMissingChannel))
		}
	}
	errs = append(errs, c.AutoReply.Rules.Validate())
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "moderation_log")
	helper.Copy(up.Int, "max_actors")

	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Str, "logging", "file")
	helper.Copy(up.Int, "logging", "max_size_mb")
	helper.Copy(up.Int, "logging", "max_age_days")
	helper.Copy(up.Int, "logging", "max_backups")

	helper.Copy(up.Bool, "chat", "format_enabled")
	helper.Copy(up.Str, "chat", "format")

	helper.Copy(up.Bool, "mentions", "enabled")
	helper.Copy(up.Str, "mentions", "format")
	helper.Copy(up.Str|up.Null, "mentions", "sound")
	helper.Copy(up.Bool, "mentions", "self_mention")

	helper.Copy(up.Bool, "anti_spam", "enabled")
	helper.Copy(up.Int, "anti_spam", "cooldown")
	helper.Copy(up.Int, "anti_spam", "max_duplicate")
	helper.Copy(up.Int, "anti_spam", "duplicate_window")
	helper.Copy(up.Int, "anti_spam", "mute_duration")
	helper.Copy(up.Int, "anti_spam", "caps_limit")
	helper.Copy(up.Str, "anti_spam", "messages", "muted")
	helper.Copy(up.Str, "anti_spam", "messages", "too_fast")
	helper.Copy(up.Str, "anti_spam", "messages", "duplicate")
	helper.Copy(up.Str, "anti_spam", "messages", "caps")

	helper.Copy(up.Bool, "join_quit", "join_message_enabled")
	helper.Copy(up.Str, "join_quit", "join_message_format")
	helper.Copy(up.Bool, "join_quit", "quit_message_enabled")
	helper.Copy(up.Str, "join_quit", "quit_message_format")
	helper.Copy(up.Bool, "join_quit", "welcome_enabled")
	helper.Copy(up.List, "join_quit", "welcome_lines")
	helper.Copy(up.Bool, "join_quit", "title", "enabled")
	helper.Copy(up.Str, "join_quit", "title", "main")
	helper.Copy(up.Str, "join_quit", "title", "sub")
	helper.Copy(up.Int, "join_quit", "title", "fade_in")
	helper.Copy(up.Int, "join_quit", "title", "stay")
	helper.Copy(up.Int, "join_quit", "title", "fade_out")
	helper.Copy(up.Str|up.Null, "join_quit", "first_join_message")

	helper.Copy(up.Bool, "channels", "enabled")
	helper.Copy(up.Str, "channels", "default_channel")
	helper.Copy(up.Map, "channels", "channels")
	helper.Copy(up.Str, "channels", "messages", "switched")
	helper.Copy(up.Str, "channels", "messages", "not_found")
	helper.Copy(up.Str, "channels", "messages", "no_permission")

	helper.Copy(up.Bool, "auto_reply", "enabled")
	helper.Copy(up.Int, "auto_reply", "cooldown")
	helper.Copy(up.Bool, "auto_reply", "skip_cancelled")
	helper.Copy(up.Map, "auto_reply", "rules")

	helper.Copy(up.Bool, "emoji", "enabled")
	helper.Copy(up.Bool, "emoji", "variation_selectors")
	helper.Copy(up.Map, "emoji", "mappings")

	helper.Copy(up.Bool, "announcements", "enabled")
	helper.Copy(up.Int, "announcements", "interval")
	helper.Copy(up.Str, "announcements", "prefix")
	helper.Copy(up.List, "announcements", "messages")
}

// Upgrader returns the config upgrader that merges a user config into the
// embedded example.
func Upgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"logging"},
			{"chat"},
			{"mentions"},
			{"anti_spam"},
			{"join_quit"},
			{"channels"},
			{"auto_reply"},
			{"emoji"},
			{"announcements"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig reads the config at path, upgrades it against the embedded
// example (writing the result back when save is set), and validates it.
// A missing file is created from the example first.
func LoadConfig(path string, save bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := WriteExampleConfig(path); err != nil {
			return nil, err
		}
	}
	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML document. Keys missing from the
// document keep their default value.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// WriteExampleConfig writes the embedded example config to path, creating
// parent directories as needed.
func WriteExampleConfig(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	return nil
}

// SaveRules replaces the auto_reply.rules section of the config file at
// path, keeping the rest of the document and its comments.
func SaveRules(path string, rules RuleSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	var encoded yaml.Node
	if err := encoded.Encode(rules); err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config root is not a mapping")
	}
	autoReply := mappingChild(doc.Content[0], "auto_reply")
	if autoReply == nil {
		return fmt.Errorf("config has no auto_reply section")
	}
	if existing := mappingChild(autoReply, "rules"); existing != nil {
		*existing = encoded
	} else {
		autoReply.Content = append(autoReply.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "rules"}, &encoded)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "chatguard-config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// mappingChild returns the value node for key in a mapping node.
func mappingChild(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
