package scan

import (
	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
)

// ValueSource records which resolution tier produced a value. Every stored
// value must trace to one of these; the engine never synthesizes a figure.
type ValueSource string

const (
	SourceOverride ValueSource = "override"
	SourceGPCache  ValueSource = "gp_cache"
	SourceDefault  ValueSource = "trigger_default"
)

// Outcome is the tri-state result of value resolution.
type Outcome int

const (
	// OutcomeResolved: a defensible value was found.
	OutcomeResolved Outcome = iota
	// OutcomeExcluded: a payer override marks this (BIN, Group) excluded;
	// the record is skipped regardless of other tiers.
	OutcomeExcluded
	// OutcomeNotFound: no tier produced a positive value; the record is
	// skipped and counted, never defaulted to zero.
	OutcomeNotFound
)

// Resolution is a resolved value plus the context the normalizer needs.
type Resolution struct {
	Value    float64
	NDC      string
	Source   ValueSource
	Override *trigger.PayerOverride
}

// Resolve cascades through the resolution tiers for one match, stopping at
// the first tier that yields a positive value: payer override, GP cache,
// trigger default.
func Resolve(c *trigger.Compiled, rec *dispensing.Record, cache *GPCache) (Resolution, Outcome) {
	t := c.Trigger

	if o := t.OverrideFor(rec.BIN, rec.Group); o != nil {
		if o.Excluded() {
			return Resolution{}, OutcomeExcluded
		}
		if o.GP > 0 {
			res := Resolution{Value: o.GP, Source: SourceOverride, Override: o}
			if o.BestNDC != nil {
				res.NDC = *o.BestNDC
			}
			return res, OutcomeResolved
		}
	}

	if hit, ok := cache.Lookup(t.RecommendedDrug, rec.BIN, rec.Group, rec.ContractID, rec.PlanName); ok && hit.Value > 0 {
		return Resolution{Value: hit.Value, NDC: hit.NDC, Source: SourceGPCache}, OutcomeResolved
	}

	if t.DefaultGP > 0 {
		res := Resolution{Value: t.DefaultGP, Source: SourceDefault}
		if t.RecommendedNDC != nil {
			res.NDC = *t.RecommendedNDC
		}
		return res, OutcomeResolved
	}

	return Resolution{}, OutcomeNotFound
}
