// Copyright 2024-2026 Aiku AI

package emoji

import (
	"testing"

	"go.mau.fi/util/variationselector"
	"gopkg.in/yaml.v3"
)

func TestReplaceDefaults(t *testing.T) {
	t.Parallel()
	r := NewReplacer(DefaultTable(), false)
	tests := []struct {
		input string
		want  string
	}{
		{"I :heart: this", "I ❤ this"},
		{":star::star:", "★★"},
		{":sword: and :smile:", "⚔ and ☺"},
		{"no shortcodes", "no shortcodes"},
		{":unknown:", ":unknown:"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := r.Replace(tt.input); got != tt.want {
			t.Errorf("Replace(%q): got %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestReplaceVariationSelectors(t *testing.T) {
	t.Parallel()
	r := NewReplacer(Table{{Shortcode: ":heart:", Glyph: "❤"}}, true)
	want := variationselector.Add("❤")
	if got := r.Replace(":heart:"); got != want {
		t.Errorf("Replace: got %q, want %q", got, want)
	}
}

func TestNilReplacer(t *testing.T) {
	t.Parallel()
	var r *Replacer
	if got := r.Replace(":heart:"); got != ":heart:" {
		t.Errorf("nil Replace: got %q", got)
	}
	if r.Table() != nil {
		t.Error("nil Table should be nil")
	}
}

func TestTableYAMLKeepsOrder(t *testing.T) {
	t.Parallel()
	input := `
":b:": "B"
":a:": "A"
":ab:": "X"
`
	var table Table
	if err := yaml.Unmarshal([]byte(input), &table); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(table) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(table))
	}
	if table[0].Shortcode != ":b:" || table[2].Shortcode != ":ab:" {
		t.Errorf("order not preserved: %+v", table)
	}

	out, err := yaml.Marshal(table)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Table
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal round trip: %v", err)
	}
	if len(back) != 3 || back[1].Glyph != "A" {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestTableYAMLRejectsList(t *testing.T) {
	t.Parallel()
	var table Table
	if err := yaml.Unmarshal([]byte("- a\n- b\n"), &table); err == nil {
		t.Error("expected error for sequence node")
	}
}
