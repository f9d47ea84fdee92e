package discovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
	"github.com/therxos/therxos-backend-sub002/internal/platform/db"
)

// Queue is the human review surface over pending proposals. Approval is the
// only path from a proposal to a live trigger.
type Queue struct {
	repo     Repository
	triggers *trigger.Service
	pool     *pgxpool.Pool
}

// NewQueue wires the review queue. A nil pool runs approvals without a
// surrounding transaction (tests).
func NewQueue(repo Repository, triggers *trigger.Service, pool *pgxpool.Pool) *Queue {
	return &Queue{repo: repo, triggers: triggers, pool: pool}
}

func (q *Queue) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if q.pool == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, q.pool, fn)
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*PendingOpportunityType, error) {
	return q.repo.GetByID(ctx, id)
}

func (q *Queue) List(ctx context.Context, status ReviewStatus) ([]*PendingOpportunityType, error) {
	return q.repo.List(ctx, status)
}

func (q *Queue) ListUnclassified(ctx context.Context, limit int) ([]*UnclassifiedDrug, error) {
	return q.repo.ListUnclassified(ctx, limit)
}

// Approve turns a pending proposal into an enabled trigger scoped to the
// proposal's payer, then marks the proposal approved. The created trigger
// goes through the same validation as an administrator-authored one.
func (q *Queue) Approve(ctx context.Context, id uuid.UUID, note string) (*trigger.Trigger, error) {
	p, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ReviewStatus != ReviewPending {
		return nil, fmt.Errorf("proposal %s already reviewed (%s)", id, p.ReviewStatus)
	}

	// Trigger creation and the review flip commit or roll back together;
	// a live trigger must never outlast a still-pending proposal.
	t := q.buildTrigger(p)
	err = q.inTx(ctx, func(ctx context.Context) error {
		if err := q.triggers.Create(ctx, t); err != nil {
			return fmt.Errorf("create trigger from proposal: %w", err)
		}
		return q.repo.SetReview(ctx, id, ReviewApproved, note)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Reject closes a proposal without side effects; the note records why.
func (q *Queue) Reject(ctx context.Context, id uuid.UUID, note string) error {
	return q.repo.SetReview(ctx, id, ReviewRejected, note)
}

func (q *Queue) buildTrigger(p *PendingOpportunityType) *trigger.Trigger {
	groupRule := ""
	if p.Group != "" {
		groupRule = "ONLY " + p.Group
	}
	rationale := fmt.Sprintf(
		"Discovered %s averaging $%.2f GP over %d fills on BIN %s; %s averages $%.2f (%s coverage evidence).",
		p.LoserDrug, p.LoserAvgGP, p.LoserFills, p.BIN,
		p.RecommendedDrug, p.AltAvgGP, p.CoverageTier)

	return &trigger.Trigger{
		Name:            fmt.Sprintf("%s to %s (%s)", p.LoserToken, p.RecommendedDrug, p.BIN),
		IsEnabled:       true,
		Type:            trigger.TypeStandard,
		Keywords:        []string{p.LoserToken},
		MatchMode:       trigger.MatchAny,
		BINRule:         "ONLY " + p.BIN,
		GroupRule:       groupRule,
		RecommendedDrug: p.RecommendedDrug,
		DefaultGP:       p.AltAvgGP,
		Rationale:       &rationale,
	}
}
