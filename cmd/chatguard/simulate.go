// Copyright 2024-2026 Aiku AI

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aiku/chatguard/pkg/chat"
)

// inlineScheduler runs tasks immediately so simulated output stays in
// input order.
type inlineScheduler struct{}

func (inlineScheduler) Submit(_ time.Duration, task func()) { task() }

type printExecutor struct {
	out io.Writer
}

func (e printExecutor) RunPrivileged(_ context.Context, command string) error {
	fmt.Fprintf(e.out, "console> %s\n", command)
	return nil
}

func simulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Feed chat lines from stdin through an in-memory server",
		Long: `Reads one event per line from stdin and prints what every online actor receives.

  /join <name> [partition x y z] [capability...]
  /quit <name>
  /move <name> <partition> <x> <y> <z>
  /channel <name> <channel>
  /mute <name> [seconds]
  /unmute <name>
  <name>: <text>`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := chat.DefaultConfig()
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				loaded, err := chat.LoadConfig(path, false)
				if err != nil {
					return err
				}
				cfg = *loaded
			}
			sim := newSimulator(&cfg, cmd.OutOrStdout())
			return sim.run(cmd.InOrStdin())
		},
	}
}

type simulator struct {
	out     io.Writer
	roster  *chat.Roster
	mailbox *chat.Mailbox
	svc     *chat.Service
}

func newSimulator(cfg *chat.Config, out io.Writer) *simulator {
	level := zerolog.WarnLevel
	if logLevel != "" {
		if l, err := zerolog.ParseLevel(logLevel); err == nil {
			level = l
		}
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	roster := chat.NewRoster(cfg.MaxActors)
	mailbox := chat.NewMailbox(0, log)
	svc := chat.NewService(cfg, chat.ServiceParams{
		Presence:  roster,
		Sink:      mailbox,
		Executor:  printExecutor{out: out},
		Scheduler: inlineScheduler{},
		Log:       log,
	})
	return &simulator{out: out, roster: roster, mailbox: mailbox, svc: svc}
}

func (s *simulator) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.handle(line); err != nil {
			fmt.Fprintf(s.out, "! %v\n", err)
		}
		s.flush()
	}
	return scanner.Err()
}

func (s *simulator) actor(name string) (chat.Actor, error) {
	actor, ok := s.roster.LookupName(name)
	if !ok {
		return nil, fmt.Errorf("%s is not online", name)
	}
	return actor, nil
}

func parsePosition(fields []string) (chat.Position, error) {
	if len(fields) != 4 {
		return chat.Position{}, fmt.Errorf("position needs partition x y z")
	}
	pos := chat.Position{Partition: fields[0]}
	for i, dst := range []*float64{&pos.X, &pos.Y, &pos.Z} {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return chat.Position{}, fmt.Errorf("bad coordinate %q", fields[i+1])
		}
		*dst = v
	}
	return pos, nil
}

func (s *simulator) handle(line string) error {
	if !strings.HasPrefix(line, "/") {
		name, text, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("expected <name>: <text>")
		}
		sender, err := s.actor(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		out := s.svc.HandleMessage(sender, strings.TrimSpace(text), s.roster.Online())
		if out.Event.Cancelled {
			fmt.Fprintf(s.out, "- rejected (%s)\n", out.Event.Decision.Reason)
		}
		return nil
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return fmt.Errorf("%s needs an actor name", fields[0])
	}
	switch fields[0] {
	case "/join":
		member := chat.NewMember(fields[1])
		rest := fields[2:]
		if len(rest) >= 4 {
			if pos, err := parsePosition(rest[:4]); err == nil {
				member.MoveTo(pos)
				rest = rest[4:]
			}
		}
		member.Grant(rest...)
		if !s.roster.Add(member) {
			return fmt.Errorf("%s is already online or the server is full", fields[1])
		}
		s.svc.Join(member, false)
	case "/quit":
		actor, err := s.actor(fields[1])
		if err != nil {
			return err
		}
		s.roster.Remove(actor.ID())
		s.svc.Quit(actor)
		s.mailbox.Forget(actor.ID())
	case "/move":
		actor, err := s.actor(fields[1])
		if err != nil {
			return err
		}
		pos, err := parsePosition(fields[2:])
		if err != nil {
			return err
		}
		member, ok := actor.(*chat.Member)
		if !ok {
			return fmt.Errorf("%s cannot be moved", fields[1])
		}
		member.MoveTo(pos)
	case "/channel":
		if len(fields) != 3 {
			return fmt.Errorf("usage: /channel <name> <channel>")
		}
		actor, err := s.actor(fields[1])
		if err != nil {
			return err
		}
		// Feedback is delivered to the actor either way.
		_ = s.svc.SwitchChannel(actor, fields[2])
	case "/mute":
		actor, err := s.actor(fields[1])
		if err != nil {
			return err
		}
		var d time.Duration
		if len(fields) > 2 {
			secs, err := strconv.Atoi(fields[2])
			if err != nil || secs < 0 {
				return fmt.Errorf("bad duration %q", fields[2])
			}
			d = time.Duration(secs) * time.Second
		}
		until := s.svc.Mute(actor, d)
		fmt.Fprintf(s.out, "- %s muted until %s\n", actor.Name(), until.Format(time.TimeOnly))
	case "/unmute":
		actor, err := s.actor(fields[1])
		if err != nil {
			return err
		}
		if !s.svc.Unmute(actor) {
			fmt.Fprintf(s.out, "- %s was not muted\n", actor.Name())
		}
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
	return nil
}

func (s *simulator) flush() {
	for _, actor := range s.roster.Online() {
		for _, d := range s.mailbox.Drain(actor.ID()) {
			switch d.Kind {
			case chat.DeliveryMessage:
				fmt.Fprintf(s.out, "[%s] %s\n", actor.Name(), d.Text)
			case chat.DeliveryTitle:
				fmt.Fprintf(s.out, "[%s] title %q / %q\n", actor.Name(), d.Title, d.Subtitle)
			case chat.DeliveryNotify:
				fmt.Fprintf(s.out, "[%s] ding %s\n", actor.Name(), d.Cue)
			}
		}
	}
}
