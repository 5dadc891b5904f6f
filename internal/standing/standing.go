// Package standing implements the standing-approval rule matcher: an
// ordered rule table evaluated against (item, reason), auto-approving
// gated requests that match without a human prompt.
package standing

import "strings"

// Rule is one standing-approval rule, matched against (item,
// reasonMatch). Note is carried through to audit records for operator
// context but plays no role in matching.
type Rule struct {
	Item        string `yaml:"item" json:"item"`
	ReasonMatch string `yaml:"reasonMatch" json:"reasonMatch"`
	Note        string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Matcher holds an ordered rule table. The zero value is an empty matcher.
type Matcher struct {
	rules []Rule
}

// New constructs a Matcher from rules, preserving configuration order: the
// first matching rule wins.
func New(rules []Rule) *Matcher {
	return &Matcher{rules: rules}
}

// Match evaluates (item, reason) against the rule table in order and
// returns the first matching rule. An empty reason never matches, per
// spec. The second return value is false when no rule matched.
func (m *Matcher) Match(item, reason string) (Rule, bool) {
	if reason == "" {
		return Rule{}, false
	}
	for _, r := range m.rules {
		if matchesItem(r.Item, item) && matchesReason(r.ReasonMatch, reason) {
			return r, true
		}
	}
	return Rule{}, false
}

func matchesItem(pattern, item string) bool {
	return pattern == item
}

// matchesReason implements exact match, or prefix match when pattern ends
// with a single trailing '*' (the asterisk has no other special meaning).
func matchesReason(pattern, reason string) bool {
	if strings.HasSuffix(pattern, "*") {
		prefix := pattern[:len(pattern)-1]
		return strings.HasPrefix(reason, prefix)
	}
	return pattern == reason
}
