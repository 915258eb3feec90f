// Copyright 2024-2026 Aiku AI

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aiku/chatguard/pkg/chat"
)

func simConfig() *chat.Config {
	cfg := chat.DefaultConfig()
	cfg.JoinQuit.JoinMessageEnabled = false
	cfg.JoinQuit.QuitMessageEnabled = false
	cfg.JoinQuit.WelcomeEnabled = false
	cfg.JoinQuit.Title.Enabled = false
	cfg.JoinQuit.FirstJoinMessage = ""
	cfg.Chat.Format = "{player}: {message}"
	cfg.Mentions.Enabled = false
	cfg.Channels.Enabled = false
	cfg.AntiSpam.Cooldown = 0
	return &cfg
}

func simulate(t *testing.T, input string) string {
	t.Helper()
	var out bytes.Buffer
	sim := newSimulator(simConfig(), &out)
	if err := sim.run(strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String()
}

func TestSimulateChat(t *testing.T) {
	t.Parallel()
	out := simulate(t, `
# two players
/join Steve
/join Alex
Steve: hello
Alex: what is the server IP?
`)
	for _, want := range []string{
		"[Alex] Steve: hello\n",
		"[Steve] Steve: hello\n",
		"[Steve] Alex: what is the server IP?\n",
		"[Alex] Server address: play.example.com\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "[Steve] Server address") {
		t.Errorf("auto-reply leaked to another actor:\n%s", out)
	}
}

func TestSimulateMute(t *testing.T) {
	t.Parallel()
	out := simulate(t, "/join Steve\n/mute Steve 60\nSteve: let me talk\n/unmute Steve\n/unmute Steve\n")
	for _, want := range []string{
		"- Steve muted until ",
		"- rejected (muted)\n",
		"- Steve was not muted\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulateErrors(t *testing.T) {
	t.Parallel()
	out := simulate(t, `
/join Steve
/join Steve
Alex: hi
no colon here
/channel Steve
/move Steve world 1 two 3
/dance Steve
`)
	for _, want := range []string{
		"! Steve is already online or the server is full\n",
		"! Alex is not online\n",
		"! expected <name>: <text>\n",
		"! usage: /channel <name> <channel>\n",
		"! bad coordinate \"two\"\n",
		"! unknown command /dance\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulateQuitForgetsActor(t *testing.T) {
	t.Parallel()
	out := simulate(t, "/join Steve\n/quit Steve\nSteve: still here?\n")
	if !strings.Contains(out, "! Steve is not online\n") {
		t.Errorf("quit actor could still talk:\n%s", out)
	}
}

func TestParsePosition(t *testing.T) {
	t.Parallel()
	pos, err := parsePosition([]string{"nether", "1.5", "-2", "3"})
	if err != nil {
		t.Fatalf("parsePosition: %v", err)
	}
	want := chat.Position{Partition: "nether", X: 1.5, Y: -2, Z: 3}
	if pos != want {
		t.Errorf("parsePosition: got %+v, want %+v", pos, want)
	}
	if _, err := parsePosition([]string{"nether", "1"}); err == nil {
		t.Error("parsePosition: expected error for short input")
	}
}

func TestCheckConfigSummary(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auto_reply:\n    cooldown: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := chat.LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	var out bytes.Buffer
	printSummary(&out, cfg)
	for _, want := range []string{"config ok\n", "auto-reply:    on, 2 rules\n", "server-ip"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestAdminAddr(t *testing.T) {
	cfg := chat.DefaultConfig()
	cfg.AdminAPIAddr = ""
	t.Setenv("CHATGUARD_ADMIN_ADDR", "")
	if got := adminAddr(&cfg); got != defaultAdminAddr {
		t.Errorf("default: got %q, want %q", got, defaultAdminAddr)
	}
	t.Setenv("CHATGUARD_ADMIN_ADDR", "127.0.0.1:9000")
	if got := adminAddr(&cfg); got != "127.0.0.1:9000" {
		t.Errorf("env: got %q", got)
	}
	cfg.AdminAPIAddr = ":8080"
	if got := adminAddr(&cfg); got != ":8080" {
		t.Errorf("config: got %q", got)
	}
}

func TestColumn(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"global", "global          "},
		{"频道", "频道            "},
		{"a-very-long-channel-name", "a-very-long-cha…"},
	}
	for _, tt := range tests {
		if got := column(tt.in); got != tt.want {
			t.Errorf("column(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
