package dispensing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the read side of the engine: pharmacies, dispensing records,
// patient drug histories, and the two cross-tenant aggregations. Dispensing
// records are written only by the ingestion collaborator; the engine never
// mutates them.
type Repository interface {
	ListPharmacies(ctx context.Context, includeDemo bool) ([]*Pharmacy, error)
	GetPharmacy(ctx context.Context, id uuid.UUID) (*Pharmacy, error)

	// ListRecentRecords returns one pharmacy's dispensing records on or
	// after since, most recent first.
	ListRecentRecords(ctx context.Context, pharmacyID uuid.UUID, since time.Time) ([]*Record, error)

	// PatientDrugHistories returns, per patient of one pharmacy, the
	// distinct drug names dispensed on or after since.
	PatientDrugHistories(ctx context.Context, pharmacyID uuid.UUID, since time.Time) (map[uuid.UUID][]string, error)

	// AggregateGP runs the cross-tenant paid-claims aggregation for drug
	// names matching any of the given ILIKE patterns, grouped by
	// (drug, BIN, Group, contract, plan). Claim profit is normalized to a
	// 30-day basis in the query (fills of 84+ days divided by 3).
	AggregateGP(ctx context.Context, patterns []string, since time.Time) ([]GPAggregate, error)

	// AggregateMargins mines average margin by (drug base token, BIN,
	// Group) across all non-demo pharmacies, keeping combinations with at
	// least minFills fills.
	AggregateMargins(ctx context.Context, since time.Time, minFills int) ([]MarginAggregate, error)

	// UpdatePatientConditions replaces a patient's inferred chronic
	// condition list.
	UpdatePatientConditions(ctx context.Context, patientID uuid.UUID, conditions []string) error
}
