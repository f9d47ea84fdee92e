package opportunity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
)

// Candidate is one trigger match surviving value resolution, not yet
// reconciled against the ledger. Value is the 30-day-normalized figure;
// AnnualValue is Value times the trigger's assumed annual fill count.
type Candidate struct {
	PharmacyID      uuid.UUID
	PatientID       uuid.UUID
	RecordID        uuid.UUID
	TriggerID       uuid.UUID
	CurrentDrug     string
	RecommendedDrug string
	RecommendedNDC  string
	Value           float64
	AnnualValue     float64
}

// Dedupe collapses a scan run's raw matches in two passes: first the best
// value per (patient, trigger), then the best value per (patient, current
// drug base token) so near-duplicate triggers never produce separate
// opportunities for the same clinical situation. Result order is stable for
// a given input.
func Dedupe(cands []Candidate) []Candidate {
	type ptKey struct {
		patient uuid.UUID
		trigger uuid.UUID
	}
	perTrigger := make(map[ptKey]Candidate)
	for _, c := range cands {
		k := ptKey{c.PatientID, c.TriggerID}
		if best, ok := perTrigger[k]; !ok || c.Value > best.Value {
			perTrigger[k] = c
		}
	}

	type pdKey struct {
		patient uuid.UUID
		token   string
	}
	perDrug := make(map[pdKey]Candidate)
	for _, c := range perTrigger {
		k := pdKey{c.PatientID, dispensing.BaseToken(c.CurrentDrug)}
		if best, ok := perDrug[k]; !ok || c.Value > best.Value {
			perDrug[k] = c
		}
	}

	out := make([]Candidate, 0, len(perDrug))
	for _, c := range perDrug {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatientID != out[j].PatientID {
			return out[i].PatientID.String() < out[j].PatientID.String()
		}
		return out[i].RecommendedDrug < out[j].RecommendedDrug
	})
	return out
}

// CommitResult summarizes one pharmacy's reconciliation.
type CommitResult struct {
	Inserted int
	Updated  int
	Skipped  int
	Errored  int
	Cleared  int
}

// Reconciler commits deduplicated candidates against the opportunity ledger.
type Reconciler struct {
	repo Repository
}

func NewReconciler(repo Repository) *Reconciler {
	return &Reconciler{repo: repo}
}

// ledgerKey identifies "the same recommendation for the same patient".
type ledgerKey struct {
	patient uuid.UUID
	drug    string
}

func keyFor(patientID uuid.UUID, recommendedDrug string) ledgerKey {
	return ledgerKey{patient: patientID, drug: strings.ToUpper(strings.TrimSpace(recommendedDrug))}
}

// precedence orders existing rows for reconciliation: actioned statuses win,
// then Not Submitted, then Denied/Declined.
func precedence(s Status) int {
	switch {
	case s.Actioned():
		return 0
	case s == StatusNotSubmitted:
		return 1
	default:
		return 2
	}
}

// Commit reconciles candidates for one pharmacy. For each candidate: an
// actioned existing row suppresses it; an existing Not Submitted row is
// refreshed in place, its value only ever growing; a Denied/Declined row
// permits a fresh insert. Not Submitted rows the scan did not refresh are
// cleared afterwards so stale recommendations never linger. Rows in any
// other status are never removed.
func (rc *Reconciler) Commit(ctx context.Context, pharmacyID uuid.UUID, cands []Candidate) (CommitResult, error) {
	var res CommitResult

	existing, err := rc.repo.ListByPharmacy(ctx, pharmacyID)
	if err != nil {
		return res, fmt.Errorf("load ledger: %w", err)
	}
	ledger := make(map[ledgerKey]*Opportunity)
	for _, o := range existing {
		k := keyFor(o.PatientID, o.RecommendedDrug)
		if cur, ok := ledger[k]; !ok || precedence(o.Status) < precedence(cur.Status) {
			ledger[k] = o
		}
	}

	var toInsert []*Opportunity
	var keep []uuid.UUID

	for _, c := range cands {
		prior, ok := ledger[keyFor(c.PatientID, c.RecommendedDrug)]
		switch {
		case !ok:
			toInsert = append(toInsert, newFromCandidate(c))

		case prior.Status == StatusNotSubmitted:
			keep = append(keep, prior.ID)
			betterNDC := prior.RecommendedNDC == "" && c.RecommendedNDC != ""
			if c.Value > prior.Value || betterNDC {
				value := c.Value
				annual := c.AnnualValue
				if prior.Value > value {
					value = prior.Value
					annual = prior.AnnualValue
				}
				if err := rc.repo.UpdateValue(ctx, prior.ID, value, annual, c.RecommendedNDC); err != nil {
					res.Errored++
					continue
				}
				res.Updated++
			} else {
				res.Skipped++
			}

		case prior.Status == StatusDenied || prior.Status == StatusDeclined:
			// A different intervention may still succeed; the old row is
			// retained untouched.
			toInsert = append(toInsert, newFromCandidate(c))

		default:
			// Actioned work is never touched.
			res.Skipped++
		}
	}

	cleared, err := rc.repo.DeleteNotSubmittedExcept(ctx, pharmacyID, keep)
	if err != nil {
		return res, err
	}
	res.Cleared = int(cleared)

	inserted, errored, err := rc.repo.InsertBatch(ctx, toInsert)
	if err != nil {
		return res, fmt.Errorf("insert opportunities: %w", err)
	}
	res.Inserted += inserted
	res.Errored += errored
	return res, nil
}

func newFromCandidate(c Candidate) *Opportunity {
	recordID := c.RecordID
	triggerID := c.TriggerID
	return &Opportunity{
		ID:              uuid.New(),
		PharmacyID:      c.PharmacyID,
		PatientID:       c.PatientID,
		RecordID:        &recordID,
		TriggerID:       &triggerID,
		CurrentDrug:     c.CurrentDrug,
		RecommendedDrug: c.RecommendedDrug,
		RecommendedNDC:  c.RecommendedNDC,
		Value:           c.Value,
		AnnualValue:     c.AnnualValue,
		Status:          StatusNotSubmitted,
	}
}
