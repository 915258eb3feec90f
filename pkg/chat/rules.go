// Copyright 2024-2026 Aiku AI

package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"gopkg.in/yaml.v3"
)

// MatchMode selects how a rule keyword is compared with message text.
type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
	MatchRegex    MatchMode = "regex"
)

// ParseMatchMode normalizes a mode name. Unknown names fall back to
// MatchContains.
func ParseMatchMode(s string) MatchMode {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case MatchExact:
		return MatchExact
	case MatchRegex:
		return MatchRegex
	default:
		return MatchContains
	}
}

// Response is one or more reply lines. It decodes from either a single
// string or a list of strings.
type Response []string

func (r *Response) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			*r = nil
			return nil
		}
		*r = Response{node.Value}
		return nil
	case yaml.SequenceNode:
		var lines []string
		if err := node.Decode(&lines); err != nil {
			return err
		}
		*r = lines
		return nil
	default:
		return fmt.Errorf("response must be a string or a list of strings (line %d)", node.Line)
	}
}

func (r Response) MarshalYAML() (any, error) {
	if len(r) == 1 {
		return r[0], nil
	}
	return []string(r), nil
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = Response{single}
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("response must be a string or an array of strings")
	}
	*r = lines
	return nil
}

// Rule is a configured auto-reply trigger.
type Rule struct {
	Name          string    `yaml:"-" json:"name"`
	Keyword       string    `yaml:"keyword" json:"keyword"`
	Mode          MatchMode `yaml:"mode" json:"mode"`
	CaseSensitive bool      `yaml:"case_sensitive" json:"case_sensitive"`
	Response      Response  `yaml:"response" json:"response"`
	Permission    string    `yaml:"permission,omitempty" json:"permission,omitempty"`
	Commands      []string  `yaml:"commands,omitempty" json:"commands,omitempty"`
}

func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	type rawRule Rule
	raw := rawRule{Mode: MatchContains}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*r = Rule(raw)
	return nil
}

// Lines returns the response lines. The slice must not be modified.
func (r Rule) Lines() []string {
	return r.Response
}

// CommandList returns the side commands, never nil.
func (r Rule) CommandList() []string {
	if r.Commands == nil {
		return []string{}
	}
	return r.Commands
}

// Errors returned by rule validation and the RuleStore.
var (
	ErrInvalidRule  = errors.New("invalid rule")
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleExists   = errors.New("rule already exists")
)

// Validate checks the required fields of a rule.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	}
	if r.Keyword == "" {
		return fmt.Errorf("%w: rule %q has no keyword", ErrInvalidRule, r.Name)
	}
	return nil
}

// RuleSet is an ordered list of rules. In YAML it is a mapping from rule
// name to rule body; mapping order is evaluation order.
type RuleSet []Rule

// DefaultRules returns the built-in rules.
func DefaultRules() RuleSet {
	return RuleSet{
		{
			Name:     "server-ip",
			Keyword:  "server IP",
			Mode:     MatchContains,
			Response: Response{"Server address: play.example.com"},
		},
		{
			Name:     "rules-info",
			Keyword:  "rules",
			Mode:     MatchContains,
			Response: Response{"Please check /rules for server rules."},
		},
	}
}

func (rs *RuleSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		*rs = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("rules must be a mapping (line %d)", node.Line)
	}
	rules := make(RuleSet, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var rule Rule
		if err := node.Content[i+1].Decode(&rule); err != nil {
			return fmt.Errorf("rule %q: %w", node.Content[i].Value, err)
		}
		rule.Name = node.Content[i].Value
		rules = append(rules, rule)
	}
	*rs = rules
	return nil
}

func (rs RuleSet) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, rule := range rs {
		var body yaml.Node
		if err := body.Encode(rule); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: rule.Name}, &body)
	}
	return node, nil
}

// Lookup finds a rule by name.
func (rs RuleSet) Lookup(name string) (Rule, bool) {
	idx := rs.index(name)
	if idx < 0 {
		return Rule{}, false
	}
	return rs[idx], true
}

func (rs RuleSet) index(name string) int {
	return slices.IndexFunc(rs, func(r Rule) bool { return r.Name == name })
}

// Validate checks every rule and reports duplicate names.
func (rs RuleSet) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(rs))
	for _, rule := range rs {
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("auto_reply.rules: %w", err))
		}
		if _, dup := seen[rule.Name]; dup {
			errs = append(errs, fmt.Errorf("auto_reply.rules: %w: duplicate name %q", ErrInvalidRule, rule.Name))
		}
		seen[rule.Name] = struct{}{}
	}
	return errors.Join(errs...)
}

// RuleStore holds the active rule set. Readers get an immutable snapshot;
// writers copy, modify and swap.
type RuleStore struct {
	writeMu sync.Mutex
	current atomic.Pointer[RuleSet]
}

// NewRuleStore creates a store holding a copy of rules.
func NewRuleStore(rules RuleSet) *RuleStore {
	rs := &RuleStore{}
	rs.Replace(rules)
	return rs
}

// Snapshot returns the current rule set. Callers must not modify it.
func (rs *RuleStore) Snapshot() RuleSet {
	if snap := rs.current.Load(); snap != nil {
		return *snap
	}
	return nil
}

// List returns a copy of the current rule set.
func (rs *RuleStore) List() RuleSet {
	return slices.Clone(rs.Snapshot())
}

// Get returns the rule with the given name.
func (rs *RuleStore) Get(name string) (Rule, bool) {
	return rs.Snapshot().Lookup(name)
}

// Len returns the number of rules.
func (rs *RuleStore) Len() int {
	return len(rs.Snapshot())
}

// Replace swaps in a new rule set.
func (rs *RuleStore) Replace(rules RuleSet) {
	snap := slices.Clone(rules)
	rs.writeMu.Lock()
	rs.current.Store(&snap)
	rs.writeMu.Unlock()
}

// Add appends rule. Unlike Put it refuses to overwrite an existing rule.
func (rs *RuleStore) Add(rule Rule) error {
	if rule.Mode == "" {
		rule.Mode = MatchContains
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()
	cur := rs.Snapshot()
	if cur.index(rule.Name) >= 0 {
		return fmt.Errorf("%w: %q", ErrRuleExists, rule.Name)
	}
	next := append(slices.Clone(cur), rule)
	rs.current.Store(&next)
	return nil
}

// Put adds rule at the end of the set, or replaces the rule with the same
// name in place. It returns the replaced rule if there was one.
func (rs *RuleStore) Put(rule Rule) (previous Rule, replaced bool, err error) {
	if rule.Mode == "" {
		rule.Mode = MatchContains
	}
	if err = rule.Validate(); err != nil {
		return Rule{}, false, err
	}
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()
	next := slices.Clone(rs.Snapshot())
	if idx := next.index(rule.Name); idx >= 0 {
		previous, replaced = next[idx], true
		next[idx] = rule
	} else {
		next = append(next, rule)
	}
	rs.current.Store(&next)
	return previous, replaced, nil
}

// Remove deletes a rule by name and returns it.
func (rs *RuleStore) Remove(name string) (Rule, error) {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()
	cur := rs.Snapshot()
	idx := cur.index(name)
	if idx < 0 {
		return Rule{}, fmt.Errorf("%w: %q", ErrRuleNotFound, name)
	}
	removed := cur[idx]
	next := slices.Delete(slices.Clone(cur), idx, idx+1)
	rs.current.Store(&next)
	return removed, nil
}

type patternKey struct {
	caseSensitive bool
	pattern       string
}

// PatternCache memoizes compiled regular expressions. Failed compilations
// are never stored.
type PatternCache struct {
	entries *exsync.Map[patternKey, *regexp.Regexp]
}

func NewPatternCache() *PatternCache {
	return &PatternCache{entries: exsync.NewMap[patternKey, *regexp.Regexp]()}
}

// Compile returns the cached expression for pattern, compiling it on first
// use. Case-insensitive patterns get the (?i) flag.
func (pc *PatternCache) Compile(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	key := patternKey{caseSensitive: caseSensitive, pattern: pattern}
	if re, ok := pc.entries.Get(key); ok {
		return re, nil
	}
	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	actual, _ := pc.entries.GetOrSet(key, re)
	return actual, nil
}

// Forget drops both case variants of pattern.
func (pc *PatternCache) Forget(pattern string) {
	pc.entries.Delete(patternKey{caseSensitive: true, pattern: pattern})
	pc.entries.Delete(patternKey{caseSensitive: false, pattern: pattern})
}

// Len returns the number of cached expressions.
func (pc *PatternCache) Len() int {
	return pc.entries.Len()
}

// RuleMatcher evaluates message text against the rules of a RuleStore.
type RuleMatcher struct {
	store    *RuleStore
	patterns *PatternCache
	log      zerolog.Logger
}

func NewRuleMatcher(store *RuleStore, patterns *PatternCache, log zerolog.Logger) *RuleMatcher {
	return &RuleMatcher{
		store:    store,
		patterns: patterns,
		log:      log.With().Str("component", "rule_matcher").Logger(),
	}
}

// FindMatch returns the first rule, in store order, that matches text.
func (rm *RuleMatcher) FindMatch(text string) (Rule, bool) {
	if text == "" {
		return Rule{}, false
	}
	for _, rule := range rm.store.Snapshot() {
		if rule.Keyword == "" {
			continue
		}
		if rm.Matches(rule, text) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Matches tests a single rule against text.
func (rm *RuleMatcher) Matches(rule Rule, text string) bool {
	switch ParseMatchMode(string(rule.Mode)) {
	case MatchExact:
		if rule.CaseSensitive {
			return text == rule.Keyword
		}
		return strings.EqualFold(text, rule.Keyword)
	case MatchRegex:
		re, err := rm.patterns.Compile(rule.Keyword, rule.CaseSensitive)
		if err != nil {
			rm.log.Debug().Err(err).
				Str("rule", rule.Name).
				Str("pattern", rule.Keyword).
				Msg("Skipping rule with invalid pattern")
			return false
		}
		return re.MatchString(text)
	default:
		if rule.CaseSensitive {
			return strings.Contains(text, rule.Keyword)
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(rule.Keyword))
	}
}

// Warm compiles the patterns of every regex rule and returns the names of
// rules whose pattern does not compile.
func (rm *RuleMatcher) Warm() []string {
	var invalid []string
	for _, rule := range rm.store.Snapshot() {
		if ParseMatchMode(string(rule.Mode)) != MatchRegex || rule.Keyword == "" {
			continue
		}
		if _, err := rm.patterns.Compile(rule.Keyword, rule.CaseSensitive); err != nil {
			rm.log.Warn().Err(err).Str("rule", rule.Name).Msg("Regex rule will never match")
			invalid = append(invalid, rule.Name)
		}
	}
	return invalid
}
