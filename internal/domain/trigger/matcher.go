package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
)

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]+`)

// NormalizeText upper-cases and collapses every run of non-alphanumeric
// characters to a single space, so punctuation like "*" or "#" in source
// drug names never breaks a keyword match.
func NormalizeText(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToUpper(s), " "))
}

// Compiled is a trigger with its membership rules parsed and keywords
// normalized, ready for repeated matching. Compile errors are configuration
// errors: the offending trigger is skipped for the run, never fatal.
type Compiled struct {
	Trigger *Trigger

	keywords   []string
	exclude    []string
	ifHas      []string
	ifNotHas   []string
	pharmacies map[uuid.UUID]bool
	bin        PayerRule
	groups     GroupRules
	contracts  []string
}

// Compile parses a trigger's restriction strings and normalizes its keyword
// sets.
func Compile(t *Trigger) (*Compiled, error) {
	if len(t.Keywords) == 0 {
		return nil, fmt.Errorf("trigger %s (%s) has no detection keywords", t.ID, t.Name)
	}

	bin, err := ParsePayerRule(t.BINRule)
	if err != nil {
		return nil, fmt.Errorf("trigger %s (%s): BIN rule: %w", t.ID, t.Name, err)
	}
	groups, err := ParseGroupRules(t.GroupRule)
	if err != nil {
		return nil, fmt.Errorf("trigger %s (%s): group rule: %w", t.ID, t.Name, err)
	}

	c := &Compiled{
		Trigger:  t,
		keywords: normalizeAll(t.Keywords),
		exclude:  normalizeAll(t.ExcludeKeywords),
		ifHas:    normalizeAll(t.IfHas),
		ifNotHas: normalizeAll(t.IfNotHas),
		bin:      bin,
		groups:   groups,
	}
	if len(t.PharmacyIDs) > 0 {
		c.pharmacies = make(map[uuid.UUID]bool, len(t.PharmacyIDs))
		for _, id := range t.PharmacyIDs {
			c.pharmacies[id] = true
		}
	}
	for _, p := range t.ContractExcludePrefixes {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			c.contracts = append(c.contracts, p)
		}
	}
	return c, nil
}

// CompileAll compiles a trigger set, skipping (and reporting) the ones with
// configuration errors.
func CompileAll(triggers []*Trigger) (compiled []*Compiled, errs []error) {
	for _, t := range triggers {
		c, err := Compile(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compiled = append(compiled, c)
	}
	return compiled, errs
}

// Matches decides whether the trigger fires for one dispensing record.
// recentDrugs is the patient's drug history used by the if-has / if-not-has
// conditions; it is evaluated patient-wide, not against the matched record.
// Every step short-circuits on first failure and absence of an optional
// restriction means "no restriction".
func (c *Compiled) Matches(rec *dispensing.Record, recentDrugs []string) bool {
	// 1. Pharmacy inclusion list.
	if c.pharmacies != nil && !c.pharmacies[rec.PharmacyID] {
		return false
	}

	drug := NormalizeText(rec.DrugName)

	// 2. Detection keywords.
	if !c.keywordsMatch(drug) {
		return false
	}

	// 3. Exclusion keywords.
	for _, kw := range c.exclude {
		if strings.Contains(drug, kw) {
			return false
		}
	}

	// 4. Payer membership.
	if !c.bin.Allows(rec.BIN) {
		return false
	}
	if !c.groups.Allows(rec.BIN, rec.Group) {
		return false
	}

	// 5. Contract prefix exclusions.
	contract := strings.ToUpper(strings.TrimSpace(rec.ContractID))
	for _, prefix := range c.contracts {
		if strings.HasPrefix(contract, prefix) {
			return false
		}
	}

	// 6 & 7. Patient-history conditions.
	if len(c.ifHas) > 0 || len(c.ifNotHas) > 0 {
		history := normalizeAll(recentDrugs)
		if len(c.ifHas) > 0 && !anyKeywordInHistory(c.ifHas, history) {
			return false
		}
		if len(c.ifNotHas) > 0 && anyKeywordInHistory(c.ifNotHas, history) {
			return false
		}
	}

	return true
}

func (c *Compiled) keywordsMatch(drug string) bool {
	if c.Trigger.MatchMode == MatchAll {
		for _, kw := range c.keywords {
			if !strings.Contains(drug, kw) {
				return false
			}
		}
		return true
	}
	for _, kw := range c.keywords {
		if strings.Contains(drug, kw) {
			return true
		}
	}
	return false
}

func anyKeywordInHistory(keywords, history []string) bool {
	for _, kw := range keywords {
		for _, name := range history {
			if strings.Contains(name, kw) {
				return true
			}
		}
	}
	return false
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := NormalizeText(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
