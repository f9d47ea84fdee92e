package trigger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type distinguishes how a trigger's predicates combine. All types share the
// same matcher; conditional triggers additionally carry if-has/if-not-has
// keyword sets and combo triggers pair multiple detection keywords in "all"
// mode.
type Type string

const (
	TypeStandard    Type = "standard"
	TypeConditional Type = "conditional"
	TypeCombo       Type = "combo"
)

// MatchMode selects whether any or every detection keyword must be present.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// CoverageStatus is the verification state of a payer override.
type CoverageStatus string

const (
	CoverageCovered  CoverageStatus = "covered"
	CoverageExcluded CoverageStatus = "excluded"
	CoverageUnknown  CoverageStatus = "unknown"
)

// Trigger is one configured rule. Triggers are tenant-independent: the same
// rule table is evaluated against every pharmacy's dispensing records, with
// PharmacyIDs as an optional inclusion filter. A trigger referenced by live
// opportunities is never deleted; it is retired with IsEnabled=false.
type Trigger struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsEnabled bool      `db:"is_enabled" json:"is_enabled"`
	Priority  int       `db:"priority" json:"priority"`
	Type      Type      `db:"trigger_type" json:"trigger_type"`

	Keywords        []string  `db:"keywords" json:"keywords"`
	MatchMode       MatchMode `db:"match_mode" json:"match_mode"`
	ExcludeKeywords []string  `db:"exclude_keywords" json:"exclude_keywords,omitempty"`
	IfHas           []string  `db:"if_has" json:"if_has,omitempty"`
	IfNotHas        []string  `db:"if_not_has" json:"if_not_has,omitempty"`

	// Membership filters. BINRule and GroupRule hold the raw restriction
	// text ("ALL", "ONLY 610097", "ALL EXCEPT COS, PDPIND", or a
	// BIN-scoped form for groups); they are parsed once at compile time.
	PharmacyIDs             []uuid.UUID `db:"pharmacy_ids" json:"pharmacy_ids,omitempty"`
	BINRule                 string      `db:"bin_rule" json:"bin_rule,omitempty"`
	GroupRule               string      `db:"group_rule" json:"group_rule,omitempty"`
	ContractExcludePrefixes []string    `db:"contract_exclude_prefixes" json:"contract_exclude_prefixes,omitempty"`

	RecommendedDrug    string   `db:"recommended_drug" json:"recommended_drug"`
	RecommendedNDC     *string  `db:"recommended_ndc" json:"recommended_ndc,omitempty"`
	DefaultGP          float64  `db:"default_gp" json:"default_gp"`
	ExpectedDaysSupply *int     `db:"expected_days_supply" json:"expected_days_supply,omitempty"`
	AnnualFills        int      `db:"annual_fills" json:"annual_fills"`
	Rationale          *string  `db:"rationale" json:"rationale,omitempty"`

	Overrides []*PayerOverride `json:"overrides,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PayerOverride pins the resolved value (or an exclusion) for one trigger
// under one (BIN, Group) routing. An excluded override always suppresses the
// match regardless of what other resolution tiers would produce.
type PayerOverride struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	TriggerID   uuid.UUID      `db:"trigger_id" json:"trigger_id"`
	BIN         string         `db:"bin" json:"bin"`
	Group       string         `db:"group_id" json:"group"`
	GP          float64        `db:"gp" json:"gp"`
	Coverage    CoverageStatus `db:"coverage" json:"coverage"`
	BestNDC     *string        `db:"best_ndc" json:"best_ndc,omitempty"`
	AvgQty      *float64       `db:"avg_qty" json:"avg_qty,omitempty"`
	LastClaimAt *time.Time     `db:"last_claim_at" json:"last_claim_at,omitempty"`
}

// Excluded reports whether this override suppresses matches for its payer.
func (o *PayerOverride) Excluded() bool {
	return o.Coverage == CoverageExcluded
}

// OverrideFor returns the override matching the record's (BIN, Group), or
// nil. Group comparison is case-insensitive; an override with an empty group
// applies to every group under its BIN.
func (t *Trigger) OverrideFor(bin, group string) *PayerOverride {
	var binWide *PayerOverride
	for _, o := range t.Overrides {
		if o.BIN != bin {
			continue
		}
		if strings.EqualFold(o.Group, group) {
			return o
		}
		if o.Group == "" && binWide == nil {
			binWide = o
		}
	}
	return binWide
}

// AnnualFillsOrDefault returns the configured annual fill count, defaulting
// to monthly fills.
func (t *Trigger) AnnualFillsOrDefault() int {
	if t.AnnualFills > 0 {
		return t.AnnualFills
	}
	return 12
}
