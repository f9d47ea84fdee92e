package discovery

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists the review queue and its triage side table.
type Repository interface {
	Create(ctx context.Context, p *PendingOpportunityType) error
	GetByID(ctx context.Context, id uuid.UUID) (*PendingOpportunityType, error)
	List(ctx context.Context, status ReviewStatus) ([]*PendingOpportunityType, error)
	SetReview(ctx context.Context, id uuid.UUID, status ReviewStatus, note string) error

	// ExistsForLoser reports whether a non-rejected proposal already pairs
	// this losing drug with this recommendation. Both sides compare on the
	// drug base token so different strength strings of one drug collapse.
	ExistsForLoser(ctx context.Context, loserToken, recommendedToken string) (bool, error)

	RecordUnclassified(ctx context.Context, u *UnclassifiedDrug) error
	ListUnclassified(ctx context.Context, limit int) ([]*UnclassifiedDrug, error)
}

// CoverageRepository reads the formulary and cost caches backing coverage
// enrichment.
type CoverageRepository interface {
	// PartDStatus looks up CMS Part-D formulary data for a drug under one
	// BIN; nil when the payer or drug is unlisted.
	PartDStatus(ctx context.Context, drugToken, bin string) (*FormularyStatus, error)
	// CommercialStatus looks up cached commercial-formulary data.
	CommercialStatus(ctx context.Context, drugToken, bin, group string) (*FormularyStatus, error)
	// DrugCost returns cached acquisition/reimbursement figures, nil when
	// unknown.
	DrugCost(ctx context.Context, drugToken string) (*DrugCost, error)
}
