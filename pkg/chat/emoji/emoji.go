// Copyright 2024-2026 Aiku AI

// Package emoji replaces ":shortcode:" tokens in chat messages with their
// unicode glyphs.
package emoji

import (
	"fmt"
	"strings"

	"go.mau.fi/util/variationselector"
	"gopkg.in/yaml.v3"
)

// Mapping is one shortcode and the glyph that replaces it.
type Mapping struct {
	Shortcode string `json:"shortcode"`
	Glyph     string `json:"glyph"`
}

// Table is an ordered list of mappings. It decodes from a YAML mapping so
// the configured order is kept.
type Table []Mapping

// DefaultTable returns the built-in shortcodes.
func DefaultTable() Table {
	return Table{
		{Shortcode: ":heart:", Glyph: "❤"},
		{Shortcode: ":star:", Glyph: "★"},
		{Shortcode: ":smile:", Glyph: "☺"},
		{Shortcode: ":sword:", Glyph: "⚔"},
	}
}

func (t *Table) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("emoji table must be a mapping, got line %d", node.Line)
	}
	table := make(Table, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var glyph string
		if err := node.Content[i+1].Decode(&glyph); err != nil {
			return fmt.Errorf("emoji %q: %w", node.Content[i].Value, err)
		}
		table = append(table, Mapping{Shortcode: node.Content[i].Value, Glyph: glyph})
	}
	*t = table
	return nil
}

func (t Table) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, m := range t {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: m.Shortcode},
			&yaml.Node{Kind: yaml.ScalarNode, Value: m.Glyph},
		)
	}
	return node, nil
}

// Replacer substitutes shortcodes in table order.
type Replacer struct {
	table    Table
	replacer *strings.Replacer
}

// NewReplacer builds a Replacer. Empty shortcodes are ignored. When
// variationSelectors is set, glyphs that have both a text and an emoji
// presentation are forced to the emoji form.
func NewReplacer(table Table, variationSelectors bool) *Replacer {
	pairs := make([]string, 0, len(table)*2)
	kept := make(Table, 0, len(table))
	for _, m := range table {
		if m.Shortcode == "" {
			continue
		}
		glyph := m.Glyph
		if variationSelectors {
			glyph = variationselector.Add(glyph)
		}
		pairs = append(pairs, m.Shortcode, glyph)
		kept = append(kept, Mapping{Shortcode: m.Shortcode, Glyph: glyph})
	}
	return &Replacer{
		table:    kept,
		replacer: strings.NewReplacer(pairs...),
	}
}

// Replace returns text with every known shortcode substituted.
func (r *Replacer) Replace(text string) string {
	if r == nil || len(r.table) == 0 || !strings.Contains(text, ":") {
		return text
	}
	return r.replacer.Replace(text)
}

// Table returns the effective mappings.
func (r *Replacer) Table() Table {
	if r == nil {
		return nil
	}
	return append(Table(nil), r.table...)
}
