package opportunity

import (
	"time"

	"github.com/google/uuid"
)

// Status is the workflow state of an opportunity. Once an opportunity leaves
// StatusNotSubmitted it is permanent: it may be annotated or moved further
// along the state machine, but never deleted and never regressed.
type Status string

const (
	StatusNotSubmitted Status = "Not Submitted"
	StatusSubmitted    Status = "Submitted"
	StatusPending      Status = "Pending"
	StatusApproved     Status = "Approved"
	StatusCompleted    Status = "Completed"
	StatusDenied       Status = "Denied"
	StatusDeclined     Status = "Declined"
	StatusFlagged      Status = "Flagged"
	StatusDidntWork    Status = "Didn't Work"
)

// transitions maps each status to the statuses reachable from it.
var transitions = map[Status][]Status{
	StatusNotSubmitted: {StatusSubmitted},
	StatusSubmitted:    {StatusPending},
	StatusPending:      {StatusApproved, StatusDenied, StatusDeclined, StatusFlagged, StatusDidntWork},
	StatusApproved:     {StatusCompleted, StatusDidntWork},
	StatusFlagged:      {StatusPending, StatusDidntWork},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotSubmitted, StatusSubmitted, StatusPending, StatusApproved,
		StatusCompleted, StatusDenied, StatusDeclined, StatusFlagged, StatusDidntWork:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from s to
// next. Identity transitions are not permitted.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Actioned reports whether a human has acted on the opportunity. Actioned
// rows are never touched by a rescan.
func (s Status) Actioned() bool {
	return s != StatusNotSubmitted && s != StatusDenied && s != StatusDeclined
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// Opportunity is one persisted, status-tracked recommendation. TriggerID is
// nil for legacy or manually entered rows.
type Opportunity struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PharmacyID      uuid.UUID  `db:"pharmacy_id" json:"pharmacy_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	RecordID        *uuid.UUID `db:"record_id" json:"record_id,omitempty"`
	TriggerID       *uuid.UUID `db:"trigger_id" json:"trigger_id,omitempty"`
	CurrentDrug     string     `db:"current_drug" json:"current_drug"`
	RecommendedDrug string     `db:"recommended_drug" json:"recommended_drug"`
	RecommendedNDC  string     `db:"recommended_ndc" json:"recommended_ndc"`
	// Value is the resolved 30-day gross profit; AnnualValue is Value times
	// the trigger's assumed annual fill count.
	Value       float64   `db:"value" json:"value"`
	AnnualValue float64   `db:"annual_value" json:"annual_value"`
	Status      Status    `db:"status" json:"status"`
	Notes       string    `db:"notes" json:"notes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
