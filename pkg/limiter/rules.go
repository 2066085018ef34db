package limiter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPattern is the rule pattern that matches any path not covered by an
// exact or glob rule.
const DefaultPattern = "default"

// RuleTable resolves a path to the quota rule that governs it.
//
// Resolution order is deliberate and auditable: exact match first, then glob
// patterns in load order, then the "default" rule. A nil result means the
// endpoint is unlimited; that is a defined outcome, not an error.
type RuleTable struct {
	exact map[string]Rule
	globs []globRule
	def   *Rule
}

type globRule struct {
	pattern string
	re      *regexp.Regexp
	rule    Rule
}

// NewRuleTable builds a table from a list of rules. Rules are validated up
// front; the table is immutable afterwards (hot reload is out of scope).
func NewRuleTable(rules []Rule) (*RuleTable, error) {
	t := &RuleTable{exact: make(map[string]Rule)}

	for _, r := range rules {
		if r.Pattern == "" {
			return nil, errors.New("rule pattern must not be empty")
		}
		if r.Requests <= 0 {
			return nil, fmt.Errorf("rule %q: requests must be > 0, got %d", r.Pattern, r.Requests)
		}
		if r.Window <= 0 {
			return nil, fmt.Errorf("rule %q: window must be > 0, got %v", r.Pattern, r.Window)
		}

		switch {
		case r.Pattern == DefaultPattern:
			rr := r
			t.def = &rr
		case strings.ContainsAny(r.Pattern, "*?"):
			re, err := compileGlob(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Pattern, err)
			}
			t.globs = append(t.globs, globRule{pattern: r.Pattern, re: re, rule: r})
		default:
			t.exact[r.Pattern] = r
		}
	}

	return t, nil
}

// Resolve returns the rule governing path, or nil when no rule and no
// default exists (the caller must treat the endpoint as unlimited).
func (t *RuleTable) Resolve(path string) *Rule {
	if t == nil {
		return nil
	}
	if r, ok := t.exact[path]; ok {
		return &r
	}
	for _, g := range t.globs {
		if g.re.MatchString(path) {
			r := g.rule
			return &r
		}
	}
	return t.def
}

// Default returns the fallback rule, or nil when none was configured.
func (t *RuleTable) Default() *Rule {
	if t == nil || t.def == nil {
		return nil
	}
	r := *t.def
	return &r
}

// compileGlob translates a glob pattern ("*" and "?" wildcards) into an
// anchored regular expression.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, c := range pattern {
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
