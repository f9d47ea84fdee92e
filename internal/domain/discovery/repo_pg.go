package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therxos/therxos-backend-sub002/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed review-queue repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const pendingCols = `id, recommended_drug, loser_drug, loser_token, bin, group_id,
	therapeutic_class, therapeutic_area, loser_avg_gp, loser_fills, alt_avg_gp,
	alt_fills, annual_gain_per_patient, aggregate_annual_gain, patients,
	pharmacy_ids, alternatives, coverage_tier, coverage_detail, loser_avg_cost,
	loser_avg_reimb, alt_avg_cost, alt_avg_reimb, estimated_gp, review_status,
	review_note, created_at, reviewed_at`

func scanPending(row pgx.Row) (*PendingOpportunityType, error) {
	var p PendingOpportunityType
	err := row.Scan(&p.ID, &p.RecommendedDrug, &p.LoserDrug, &p.LoserToken, &p.BIN,
		&p.Group, &p.TherapeuticClass, &p.TherapeuticArea, &p.LoserAvgGP,
		&p.LoserFills, &p.AltAvgGP, &p.AltFills, &p.AnnualGainPerPatient,
		&p.AggregateAnnualGain, &p.Patients, &p.PharmacyIDs, &p.Alternatives,
		&p.CoverageTier, &p.CoverageDetail, &p.LoserAvgCost, &p.LoserAvgReimb,
		&p.AltAvgCost, &p.AltAvgReimb, &p.EstimatedGP, &p.ReviewStatus,
		&p.ReviewNote, &p.CreatedAt, &p.ReviewedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *PendingOpportunityType) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ReviewStatus == "" {
		p.ReviewStatus = ReviewPending
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pending_opportunity_types (id, recommended_drug, loser_drug,
			loser_token, bin, group_id, therapeutic_class, therapeutic_area,
			loser_avg_gp, loser_fills, alt_avg_gp, alt_fills,
			annual_gain_per_patient, aggregate_annual_gain, patients, pharmacy_ids,
			alternatives, coverage_tier, coverage_detail, loser_avg_cost,
			loser_avg_reimb, alt_avg_cost, alt_avg_reimb, estimated_gp,
			review_status, review_note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
			$19,$20,$21,$22,$23,$24,$25,$26)`,
		p.ID, p.RecommendedDrug, p.LoserDrug, p.LoserToken, p.BIN, p.Group,
		p.TherapeuticClass, p.TherapeuticArea, p.LoserAvgGP, p.LoserFills,
		p.AltAvgGP, p.AltFills, p.AnnualGainPerPatient, p.AggregateAnnualGain,
		p.Patients, p.PharmacyIDs, p.Alternatives, p.CoverageTier,
		p.CoverageDetail, p.LoserAvgCost, p.LoserAvgReimb, p.AltAvgCost,
		p.AltAvgReimb, p.EstimatedGP, p.ReviewStatus, p.ReviewNote)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*PendingOpportunityType, error) {
	return scanPending(r.conn(ctx).QueryRow(ctx,
		`SELECT `+pendingCols+` FROM pending_opportunity_types WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, status ReviewStatus) ([]*PendingOpportunityType, error) {
	q := `SELECT ` + pendingCols + ` FROM pending_opportunity_types`
	args := []interface{}{}
	if status != "" {
		q += ` WHERE review_status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY aggregate_annual_gain DESC, created_at`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending opportunity types: %w", err)
	}
	defer rows.Close()

	var items []*PendingOpportunityType
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending opportunity type: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) SetReview(ctx context.Context, id uuid.UUID, status ReviewStatus, note string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pending_opportunity_types
		SET review_status = $2, review_note = $3, reviewed_at = NOW()
		WHERE id = $1 AND review_status = $4`,
		id, status, note, ReviewPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s is not pending review", id)
	}
	return nil
}

func (r *repoPG) ExistsForLoser(ctx context.Context, loserToken, recommendedToken string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pending_opportunity_types
			WHERE loser_token = $1
			  AND UPPER(SPLIT_PART(recommended_drug, ' ', 1)) = UPPER($2)
			  AND review_status <> $3
		)`, loserToken, recommendedToken, ReviewRejected).Scan(&exists)
	return exists, err
}

func (r *repoPG) RecordUnclassified(ctx context.Context, u *UnclassifiedDrug) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO unclassified_drugs (id, drug_name, bin, group_id, avg_gp, fills)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (drug_name, bin, group_id) DO UPDATE SET
			avg_gp = EXCLUDED.avg_gp, fills = EXCLUDED.fills`,
		u.ID, u.DrugName, u.BIN, u.Group, u.AvgGP, u.Fills)
	return err
}

func (r *repoPG) ListUnclassified(ctx context.Context, limit int) ([]*UnclassifiedDrug, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, drug_name, bin, group_id, avg_gp, fills, created_at
		FROM unclassified_drugs ORDER BY avg_gp, created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclassified drugs: %w", err)
	}
	defer rows.Close()

	var items []*UnclassifiedDrug
	for rows.Next() {
		var u UnclassifiedDrug
		if err := rows.Scan(&u.ID, &u.DrugName, &u.BIN, &u.Group, &u.AvgGP, &u.Fills, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan unclassified drug: %w", err)
		}
		items = append(items, &u)
	}
	return items, rows.Err()
}

type coverageRepoPG struct{ pool *pgxpool.Pool }

// NewCoverageRepoPG returns the Postgres-backed formulary/cost reader.
func NewCoverageRepoPG(pool *pgxpool.Pool) CoverageRepository {
	return &coverageRepoPG{pool: pool}
}

func (r *coverageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *coverageRepoPG) PartDStatus(ctx context.Context, drugToken, bin string) (*FormularyStatus, error) {
	var f FormularyStatus
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT drug_token, tier, restrictions FROM partd_formulary
		WHERE drug_token = UPPER($1) AND bin = $2`, drugToken, bin).
		Scan(&f.DrugToken, &f.Tier, &f.Restrictions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *coverageRepoPG) CommercialStatus(ctx context.Context, drugToken, bin, group string) (*FormularyStatus, error) {
	var f FormularyStatus
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT drug_token, tier, restrictions FROM commercial_formulary
		WHERE drug_token = UPPER($1) AND bin = $2 AND (group_id = $3 OR group_id = '')
		ORDER BY group_id DESC LIMIT 1`, drugToken, bin, group).
		Scan(&f.DrugToken, &f.Tier, &f.Restrictions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *coverageRepoPG) DrugCost(ctx context.Context, drugToken string) (*DrugCost, error) {
	var c DrugCost
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT drug_token, acquisition_cost, expected_reimb FROM drug_costs
		WHERE drug_token = UPPER($1)`, drugToken).
		Scan(&c.DrugToken, &c.AcquisitionCost, &c.ExpectedReimb)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
