package opportunity

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists opportunities. The deletion-immutability invariant is
// double-enforced: every delete here is guarded by a status predicate, and
// the database rejects deletion of non-Not-Submitted rows outright.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Opportunity, error)
	ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID) ([]*Opportunity, error)

	// InsertBatch inserts in fixed-size chunks; a failed chunk is retried
	// row-by-row so one bad row never sinks the batch. Returns how many rows
	// were inserted and how many errored.
	InsertBatch(ctx context.Context, opps []*Opportunity) (inserted, errored int, err error)

	// UpdateValue touches financial fields only, and only on rows still in
	// Not Submitted.
	UpdateValue(ctx context.Context, id uuid.UUID, value, annualValue float64, ndc string) error

	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	AppendNote(ctx context.Context, id uuid.UUID, note string) error

	// DeleteNotSubmittedExcept clears a pharmacy's Not Submitted rows apart
	// from the ones a rescan has just refreshed.
	DeleteNotSubmittedExcept(ctx context.Context, pharmacyID uuid.UUID, keep []uuid.UUID) (int64, error)

	// Delete removes a single row; refused by the database unless the row is
	// still Not Submitted.
	Delete(ctx context.Context, id uuid.UUID) error

	// CountByTrigger reports how many opportunities reference a trigger.
	CountByTrigger(ctx context.Context, triggerID uuid.UUID) (int, error)
}
