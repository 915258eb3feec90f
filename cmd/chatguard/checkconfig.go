// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"
	"io"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/aiku/chatguard/pkg/chat"
)

func checkConfigCmd() *cobra.Command {
	var upgrade bool
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := chat.LoadConfig(resolveConfigPath(), upgrade)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&upgrade, "upgrade", false, "write missing keys back to the file")
	return cmd
}

func enabled(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// column pads name to a fixed terminal width. Names may contain wide
// characters.
func column(name string) string {
	return runewidth.FillRight(runewidth.Truncate(name, 16, "…"), 16)
}

func printSummary(w io.Writer, cfg *chat.Config) {
	fmt.Fprintln(w, "config ok")
	fmt.Fprintf(w, "  chat format:   %s (%s)\n", enabled(cfg.Chat.FormatEnabled), cfg.Chat.Format)
	fmt.Fprintf(w, "  anti-spam:     %s (cooldown %ds, caps limit %d%%, max duplicates %d, mute %ds)\n",
		enabled(cfg.AntiSpam.Enabled), cfg.AntiSpam.Cooldown, cfg.AntiSpam.CapsLimit,
		cfg.AntiSpam.MaxDuplicate, cfg.AntiSpam.MuteDuration)
	fmt.Fprintf(w, "  mentions:      %s\n", enabled(cfg.Mentions.Enabled))
	fmt.Fprintf(w, "  channels:      %s, default %q\n", enabled(cfg.Channels.Enabled), cfg.Channels.DefaultChannel)
	for _, def := range cfg.Channels.Channels {
		scope := "global"
		if def.Range > 0 {
			scope = fmt.Sprintf("range %d", def.Range)
		} else if !def.CrossPartition {
			scope = "same partition"
		}
		fmt.Fprintf(w, "    %s %s\n", column(def.Name), scope)
	}
	fmt.Fprintf(w, "  auto-reply:    %s, %d rules\n", enabled(cfg.AutoReply.Enabled), len(cfg.AutoReply.Rules))
	for _, rule := range cfg.AutoReply.Rules {
		fmt.Fprintf(w, "    %s %s %q\n", column(rule.Name), rule.Mode, rule.Keyword)
	}
	fmt.Fprintf(w, "  emoji:         %s\n", enabled(cfg.Emoji.Enabled))
	fmt.Fprintf(w, "  announcements: %s, %d messages\n", enabled(cfg.Announcements.Enabled), len(cfg.Announcements.Messages))
}
