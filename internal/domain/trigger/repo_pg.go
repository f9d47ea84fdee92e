package trigger

import (
	"context"
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

// NewRepoPG returns the Postgres-backed trigger repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const triggerCols = `id, name, is_enabled, priority, trigger_type, keywords, match_mode,
	exclude_keywords, if_has, if_not_has, pharmacy_ids, bin_rule, group_rule,
	contract_exclude_prefixes, recommended_drug, recommended_ndc, default_gp,
	expected_days_supply, annual_fills, rationale, created_at, updated_at`

func scanTrigger(row pgx.Row) (*Trigger, error) {
	var t Trigger
	err := row.Scan(&t.ID, &t.Name, &t.IsEnabled, &t.Priority, &t.Type, &t.Keywords,
		&t.MatchMode, &t.ExcludeKeywords, &t.IfHas, &t.IfNotHas, &t.PharmacyIDs,
		&t.BINRule, &t.GroupRule, &t.ContractExcludePrefixes, &t.RecommendedDrug,
		&t.RecommendedNDC, &t.DefaultGP, &t.ExpectedDaysSupply, &t.AnnualFills,
		&t.Rationale, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *Trigger) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO triggers (id, name, is_enabled, priority, trigger_type, keywords,
			match_mode, exclude_keywords, if_has, if_not_has, pharmacy_ids, bin_rule,
			group_rule, contract_exclude_prefixes, recommended_drug, recommended_ndc,
			default_gp, expected_days_supply, annual_fills, rationale)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		t.ID, t.Name, t.IsEnabled, t.Priority, t.Type, t.Keywords,
		t.MatchMode, t.ExcludeKeywords, t.IfHas, t.IfNotHas, t.PharmacyIDs, t.BINRule,
		t.GroupRule, t.ContractExcludePrefixes, t.RecommendedDrug, t.RecommendedNDC,
		t.DefaultGP, t.ExpectedDaysSupply, t.AnnualFills, t.Rationale)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Trigger, error) {
	t, err := scanTrigger(r.conn(ctx).QueryRow(ctx,
		`SELECT `+triggerCols+` FROM triggers WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	overrides, err := r.ListOverrides(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Overrides = overrides
	return t, nil
}

func (r *repoPG) Update(ctx context.Context, t *Trigger) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE triggers SET name=$2, is_enabled=$3, priority=$4, trigger_type=$5,
			keywords=$6, match_mode=$7, exclude_keywords=$8, if_has=$9, if_not_has=$10,
			pharmacy_ids=$11, bin_rule=$12, group_rule=$13, contract_exclude_prefixes=$14,
			recommended_drug=$15, recommended_ndc=$16, default_gp=$17,
			expected_days_supply=$18, annual_fills=$19, rationale=$20, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Name, t.IsEnabled, t.Priority, t.Type,
		t.Keywords, t.MatchMode, t.ExcludeKeywords, t.IfHas, t.IfNotHas,
		t.PharmacyIDs, t.BINRule, t.GroupRule, t.ContractExcludePrefixes,
		t.RecommendedDrug, t.RecommendedNDC, t.DefaultGP,
		t.ExpectedDaysSupply, t.AnnualFills, t.Rationale)
	return err
}

func (r *repoPG) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE triggers SET is_enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, enabledOnly bool) ([]*Trigger, error) {
	q := `SELECT ` + triggerCols + ` FROM triggers`
	if enabledOnly {
		q += ` WHERE is_enabled`
	}
	q += ` ORDER BY priority, created_at`

	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var items []*Trigger
	byID := make(map[uuid.UUID]*Trigger)
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		items = append(items, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	// One bulk read for every override; attach in memory.
	orows, err := r.conn(ctx).Query(ctx, `SELECT `+overrideCols+` FROM trigger_payer_overrides`)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer orows.Close()
	for orows.Next() {
		o, err := scanOverride(orows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if t, ok := byID[o.TriggerID]; ok {
			t.Overrides = append(t.Overrides, o)
		}
	}
	return items, orows.Err()
}

const overrideCols = `id, trigger_id, bin, group_id, gp, coverage, best_ndc, avg_qty, last_claim_at`

func scanOverride(row pgx.Row) (*PayerOverride, error) {
	var o PayerOverride
	err := row.Scan(&o.ID, &o.TriggerID, &o.BIN, &o.Group, &o.GP, &o.Coverage,
		&o.BestNDC, &o.AvgQty, &o.LastClaimAt)
	return &o, err
}

func (r *repoPG) UpsertOverride(ctx context.Context, o *PayerOverride) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO trigger_payer_overrides (id, trigger_id, bin, group_id, gp,
			coverage, best_ndc, avg_qty, last_claim_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (trigger_id, bin, group_id) DO UPDATE SET
			gp = EXCLUDED.gp, coverage = EXCLUDED.coverage,
			best_ndc = EXCLUDED.best_ndc, avg_qty = EXCLUDED.avg_qty,
			last_claim_at = EXCLUDED.last_claim_at`,
		o.ID, o.TriggerID, o.BIN, o.Group, o.GP, o.Coverage, o.BestNDC, o.AvgQty, o.LastClaimAt)
	return err
}

func (r *repoPG) DeleteOverride(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM trigger_payer_overrides WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListOverrides(ctx context.Context, triggerID uuid.UUID) ([]*PayerOverride, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+overrideCols+` FROM trigger_payer_overrides WHERE trigger_id = $1`, triggerID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var items []*PayerOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		items = append(items, o)
	}
	return items, rows.Err()
}
