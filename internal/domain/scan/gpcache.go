package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
)

// GP cache: one cross-tenant paid-claims aggregation per scan run, indexed
// under four composite keys of decreasing specificity. The cache is an
// explicit value passed into each pharmacy's scan, never shared mutable
// state, so two concurrently running scans cannot corrupt each other.

type keyFull struct{ drug, bin, group, contract, plan string }
type keyPlan struct{ drug, contract, plan string }
type keyPayer struct{ drug, bin, group string }

// specificity scores: full payer+plan 4, contract/plan 3, BIN/Group 2,
// drug-only 1.
const (
	SpecFull  = 4
	SpecPlan  = 3
	SpecPayer = 2
	SpecDrug  = 1
)

// CacheEntry is a weighted running average for one composite key.
type CacheEntry struct {
	sumGP float64
	fills int
	NDC   string
}

// Value returns the fill-weighted average 30-day gross profit.
func (e *CacheEntry) Value() float64 {
	if e.fills == 0 {
		return 0
	}
	return e.sumGP / float64(e.fills)
}

func (e *CacheEntry) Fills() int { return e.fills }

func (e *CacheEntry) add(agg dispensing.GPAggregate) {
	e.sumGP += agg.AvgGP30 * float64(agg.Fills)
	e.fills += agg.Fills
	if e.NDC == "" {
		e.NDC = agg.NDC
	}
}

// Lookup is a cache hit at some specificity.
type Lookup struct {
	Value       float64
	NDC         string
	Specificity int
	Fills       int
}

// GPCache indexes historical paid-claims profit for every recommended drug
// across all triggers of a run.
type GPCache struct {
	full  map[keyFull]*CacheEntry
	plan  map[keyPlan]*CacheEntry
	payer map[keyPayer]*CacheEntry
	drug  map[string]*CacheEntry
}

func newGPCache() *GPCache {
	return &GPCache{
		full:  make(map[keyFull]*CacheEntry),
		plan:  make(map[keyPlan]*CacheEntry),
		payer: make(map[keyPayer]*CacheEntry),
		drug:  make(map[string]*CacheEntry),
	}
}

// Lookup resolves the recommended drug against a record's payer routing,
// preferring the most specific matching key.
func (c *GPCache) Lookup(recommendedDrug, bin, group, contract, plan string) (Lookup, bool) {
	d := drugKey(recommendedDrug)
	bin = strings.ToUpper(strings.TrimSpace(bin))
	group = strings.ToUpper(strings.TrimSpace(group))
	contract = strings.ToUpper(strings.TrimSpace(contract))
	plan = strings.ToUpper(strings.TrimSpace(plan))

	if e, ok := c.full[keyFull{d, bin, group, contract, plan}]; ok && bin != "" {
		return Lookup{Value: e.Value(), NDC: e.NDC, Specificity: SpecFull, Fills: e.fills}, true
	}
	if contract != "" || plan != "" {
		if e, ok := c.plan[keyPlan{d, contract, plan}]; ok {
			return Lookup{Value: e.Value(), NDC: e.NDC, Specificity: SpecPlan, Fills: e.fills}, true
		}
	}
	if bin != "" {
		if e, ok := c.payer[keyPayer{d, bin, group}]; ok {
			return Lookup{Value: e.Value(), NDC: e.NDC, Specificity: SpecPayer, Fills: e.fills}, true
		}
	}
	if e, ok := c.drug[d]; ok {
		return Lookup{Value: e.Value(), NDC: e.NDC, Specificity: SpecDrug, Fills: e.fills}, true
	}
	return Lookup{}, false
}

func drugKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// stems derives loose search stems for a recommended drug name: combination
// drugs split on hyphens with one stem per ingredient, single-ingredient
// names take a 5-6 character prefix stem.
func stems(recommendedDrug string) []string {
	name := strings.ToUpper(strings.TrimSpace(recommendedDrug))
	if name == "" {
		return nil
	}
	parts := strings.Split(name, "-")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		// Use the first word of each part; dose strengths never help a
		// prefix search.
		if fields := strings.Fields(p); len(fields) > 0 {
			p = fields[0]
		} else {
			continue
		}
		if len(p) > 6 {
			p = p[:6]
		}
		if len(p) >= 3 {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, name)
	}
	return out
}

// searchPatterns turns stems into ILIKE patterns.
func searchPatterns(stemSet map[string]bool) []string {
	patterns := make([]string, 0, len(stemSet))
	for s := range stemSet {
		patterns = append(patterns, "%"+s+"%")
	}
	sort.Strings(patterns)
	return patterns
}

// BuildGPCache collects the distinct recommended drugs across all compiled
// triggers, issues one aggregate query over the trailing lookback window,
// and indexes the result rows. A result row feeds a recommended drug's
// entries only when every one of that drug's stems appears in the row's
// drug name, so "LOSARTAN-HCTZ" never absorbs plain losartan claims.
func BuildGPCache(ctx context.Context, repo dispensing.Repository, triggers []*trigger.Compiled, since time.Time) (*GPCache, error) {
	cache := newGPCache()

	stemsByDrug := make(map[string][]string)
	allStems := make(map[string]bool)
	for _, c := range triggers {
		d := drugKey(c.Trigger.RecommendedDrug)
		if d == "" || stemsByDrug[d] != nil {
			continue
		}
		ss := stems(d)
		stemsByDrug[d] = ss
		for _, s := range ss {
			allStems[s] = true
		}
	}
	if len(allStems) == 0 {
		return cache, nil
	}

	aggs, err := repo.AggregateGP(ctx, searchPatterns(allStems), since)
	if err != nil {
		return nil, fmt.Errorf("build gp cache: %w", err)
	}

	for _, agg := range aggs {
		rowName := strings.ToUpper(agg.DrugName)
		for d, ss := range stemsByDrug {
			if !allStemsMatch(rowName, ss) {
				continue
			}
			cache.addFor(d, agg)
		}
	}
	return cache, nil
}

func allStemsMatch(rowName string, ss []string) bool {
	for _, s := range ss {
		if !strings.Contains(rowName, s) {
			return false
		}
	}
	return true
}

func addEntry[K comparable](m map[K]*CacheEntry, k K, agg dispensing.GPAggregate) {
	e, ok := m[k]
	if !ok {
		e = &CacheEntry{}
		m[k] = e
	}
	e.add(agg)
}

func (c *GPCache) addFor(d string, agg dispensing.GPAggregate) {
	bin := strings.ToUpper(strings.TrimSpace(agg.BIN))
	group := strings.ToUpper(strings.TrimSpace(agg.Group))
	contract := strings.ToUpper(strings.TrimSpace(agg.ContractID))
	plan := strings.ToUpper(strings.TrimSpace(agg.PlanName))

	// Keys with empty routing components are not indexed; they would make
	// unrelated payers collide on the looser tiers.
	if bin != "" {
		addEntry(c.full, keyFull{d, bin, group, contract, plan}, agg)
		addEntry(c.payer, keyPayer{d, bin, group}, agg)
	}
	if contract != "" || plan != "" {
		addEntry(c.plan, keyPlan{d, contract, plan}, agg)
	}
	addEntry(c.drug, d, agg)
}
