// Copyright 2024-2026 Aiku AI

package chatfmt

import "testing"

func TestColorize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no codes", "hello", "hello"},
		{"single code", "&ahello", "§ahello"},
		{"uppercase code lowered", "&Ahi &LBold", "§ahi §lBold"},
		{"reset", "&rplain", "§rplain"},
		{"invalid code kept", "&zfoo & bar", "&zfoo & bar"},
		{"trailing ampersand", "rock &", "rock &"},
		{"double ampersand", "&&a", "&§a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Colorize(tt.input); got != tt.want {
				t.Errorf("Colorize(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripColor(t *testing.T) {
	t.Parallel()
	if got := StripColor("§a[Global] §fSteve§7: hi"); got != "[Global] Steve: hi" {
		t.Errorf("StripColor: got %q", got)
	}
	if got := StripColor("plain"); got != "plain" {
		t.Errorf("StripColor plain: got %q", got)
	}
}

func TestEscapePercent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"100% done %1$s", "100%% done %1$s"},
		{"%1$s: %2$s", "%1$s: %2$s"},
		{"", ""},
		{"%", "%%"},
		{"%3$s", "%%3$s"},
		{"%1$d", "%%1$d"},
		{"%1$", "%%1$"},
		{"50%%", "50%%%%"},
		{"end %2$s", "end %2$s"},
	}
	for _, tt := range tests {
		if got := EscapePercent(tt.input); got != tt.want {
			t.Errorf("EscapePercent(%q): got %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestBuildFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		params FormatParams
		want   string
	}{
		{
			name:   "plain template",
			params: FormatParams{Template: "{player}: {message}"},
			want:   "%1$s: %2$s",
		},
		{
			name: "channel prefix and colors",
			params: FormatParams{
				Template:       "&f{player}&7: &f{message}",
				ChannelDisplay: "§a[Local]",
			},
			want: "§a[Local] §f%1$s§7: §f%2$s",
		},
		{
			name: "display name with percent",
			params: FormatParams{
				Template:    "{displayname} ({player}) {message}",
				DisplayName: "100%Steve",
			},
			want: "100%%Steve (%1$s) %2$s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BuildFormat(tt.params); got != tt.want {
				t.Errorf("BuildFormat: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	format := BuildFormat(FormatParams{Template: "[{player}] 100% {message}"})
	got := Render(format, "Steve", "hello %s")
	want := "[Steve] 100% hello %s"
	if got != want {
		t.Errorf("Render: got %q, want %q", got, want)
	}
	if got := Render("", "Alex", "hi"); got != "Alex: hi" {
		t.Errorf("Render empty format: got %q", got)
	}
}

func TestExpand(t *testing.T) {
	t.Parallel()
	got := Expand("%player_name% joined ({online}/{max})",
		"%player_name%", "Steve", "{online}", "3", "{max}", "20")
	if got != "Steve joined (3/20)" {
		t.Errorf("Expand: got %q", got)
	}
	if got := Expand("unchanged"); got != "unchanged" {
		t.Errorf("Expand without pairs: got %q", got)
	}
	if got := Expand("{a}{b}", "{a}", "x", "{b}"); got != "x{b}" {
		t.Errorf("Expand odd pairs: got %q", got)
	}
}
