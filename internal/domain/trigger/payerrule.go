package trigger

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleKind is the closed set of membership-rule variants. Free-text
// restriction strings like "ALL EXCEPT COS, PDPIND" are parsed once into one
// of these variants instead of being re-parsed at match time.
type RuleKind int

const (
	RuleAll RuleKind = iota
	RuleOnly
	RuleExcept
)

// PayerRule is a parsed membership restriction over BINs or Groups.
type PayerRule struct {
	Kind   RuleKind
	Values map[string]struct{}
}

// Allows reports whether the value passes the rule. Comparison is
// case-insensitive on normalized (trimmed, upper-cased) values.
func (r PayerRule) Allows(v string) bool {
	switch r.Kind {
	case RuleOnly:
		_, ok := r.Values[normalizeRuleValue(v)]
		return ok
	case RuleExcept:
		_, ok := r.Values[normalizeRuleValue(v)]
		return !ok
	default:
		return true
	}
}

func normalizeRuleValue(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// ParsePayerRule parses a plain (non-BIN-scoped) restriction string:
//
//	""                      -> All
//	"ALL"                   -> All
//	"ONLY 610097, 004336"   -> Only{610097, 004336}
//	"ALL EXCEPT COS, PDPIND"-> Except{COS, PDPIND}
//	"COS, PDPIND"           -> Only{COS, PDPIND}  (bare list)
func ParsePayerRule(s string) (PayerRule, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return PayerRule{Kind: RuleAll}, nil
	}

	upper := strings.ToUpper(text)
	switch {
	case upper == "ALL":
		return PayerRule{Kind: RuleAll}, nil
	case strings.HasPrefix(upper, "ALL EXCEPT"):
		return parseList(RuleExcept, upper[len("ALL EXCEPT"):], s)
	case strings.HasPrefix(upper, "EXCEPT"):
		return parseList(RuleExcept, upper[len("EXCEPT"):], s)
	case strings.HasPrefix(upper, "ONLY"):
		return parseList(RuleOnly, upper[len("ONLY"):], s)
	default:
		// A bare comma list is an inclusion list.
		return parseList(RuleOnly, upper, s)
	}
}

func parseList(kind RuleKind, list, original string) (PayerRule, error) {
	values := make(map[string]struct{})
	for _, part := range strings.Split(list, ",") {
		v := normalizeRuleValue(part)
		if v == "" {
			continue
		}
		values[v] = struct{}{}
	}
	if len(values) == 0 {
		return PayerRule{}, fmt.Errorf("membership rule %q has an empty value list", original)
	}
	return PayerRule{Kind: kind, Values: values}, nil
}

// binScope locates 6-digit BIN tokens introducing a scoped rule fragment,
// e.g. "610097: ONLY RXGRP1, RXGRP2 004336: ALL EXCEPT COS".
var binScope = regexp.MustCompile(`\b(\d{6})\s*:`)

// GroupRules is a parsed Group restriction, optionally scoped per BIN. A BIN
// with no scoped entry carries no group restriction unless a default plain
// rule was given.
type GroupRules struct {
	Default *PayerRule
	PerBIN  map[string]PayerRule
}

// Allows reports whether the (BIN, Group) routing passes.
func (g GroupRules) Allows(bin, group string) bool {
	if rule, ok := g.PerBIN[bin]; ok {
		return rule.Allows(group)
	}
	if len(g.PerBIN) > 0 {
		// BIN-scoped rule text that does not mention this BIN imposes no
		// restriction on it.
		return true
	}
	if g.Default != nil {
		return g.Default.Allows(group)
	}
	return true
}

// ParseGroupRules parses a Group restriction string. When the text contains
// BIN-scoped fragments ("BIN1: RULE1, BIN2: RULE2"), each fragment spans from
// its BIN token to the next BIN token or end of string and is recursively
// parsed as a plain rule; otherwise the whole string is one plain rule.
func ParseGroupRules(s string) (GroupRules, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return GroupRules{}, nil
	}

	scopes := binScope.FindAllStringSubmatchIndex(text, -1)
	if len(scopes) == 0 {
		rule, err := ParsePayerRule(text)
		if err != nil {
			return GroupRules{}, err
		}
		return GroupRules{Default: &rule}, nil
	}

	perBIN := make(map[string]PayerRule, len(scopes))
	for i, loc := range scopes {
		bin := text[loc[2]:loc[3]]
		start := loc[1] // just past the colon
		end := len(text)
		if i+1 < len(scopes) {
			end = scopes[i+1][0]
		}
		fragment := strings.Trim(strings.TrimSpace(text[start:end]), ",")
		rule, err := ParsePayerRule(fragment)
		if err != nil {
			return GroupRules{}, fmt.Errorf("group rule for BIN %s: %w", bin, err)
		}
		perBIN[bin] = rule
	}
	return GroupRules{PerBIN: perBIN}, nil
}
