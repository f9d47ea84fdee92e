package opportunity

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
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

type repoPG struct {
	pool      *pgxpool.Pool
	batchSize int
}

// NewRepoPG returns the Postgres-backed opportunity repository. batchSize
// bounds the insert chunk size.
func NewRepoPG(pool *pgxpool.Pool, batchSize int) Repository {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &repoPG{pool: pool, batchSize: batchSize}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const oppCols = `id, pharmacy_id, patient_id, record_id, trigger_id, current_drug,
	recommended_drug, recommended_ndc, value, annual_value, status, notes,
	created_at, updated_at`

func scanOpportunity(row pgx.Row) (*Opportunity, error) {
	var o Opportunity
	err := row.Scan(&o.ID, &o.PharmacyID, &o.PatientID, &o.RecordID, &o.TriggerID,
		&o.CurrentDrug, &o.RecommendedDrug, &o.RecommendedNDC, &o.Value,
		&o.AnnualValue, &o.Status, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Opportunity, error) {
	return scanOpportunity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+oppCols+` FROM opportunities WHERE id = $1`, id))
}

func (r *repoPG) ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID) ([]*Opportunity, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+oppCols+` FROM opportunities WHERE pharmacy_id = $1 ORDER BY created_at`,
		pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var items []*Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const insertOppSQL = `
	INSERT INTO opportunities (id, pharmacy_id, patient_id, record_id, trigger_id,
		current_drug, recommended_drug, recommended_ndc, value, annual_value,
		status, notes)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

func (r *repoPG) insertOne(ctx context.Context, q queryable, o *Opportunity) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = StatusNotSubmitted
	}
	_, err := q.Exec(ctx, insertOppSQL,
		o.ID, o.PharmacyID, o.PatientID, o.RecordID, o.TriggerID,
		o.CurrentDrug, o.RecommendedDrug, o.RecommendedNDC, o.Value, o.AnnualValue,
		o.Status, o.Notes)
	return err
}

func (r *repoPG) InsertBatch(ctx context.Context, opps []*Opportunity) (int, int, error) {
	var inserted, errored int
	for start := 0; start < len(opps); start += r.batchSize {
		end := start + r.batchSize
		if end > len(opps) {
			end = len(opps)
		}
		chunk := opps[start:end]

		err := retry.Do(
			func() error { return r.insertChunk(ctx, chunk) },
			retry.Attempts(3),
			retry.Delay(200*time.Millisecond),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
		)
		if err == nil {
			inserted += len(chunk)
			continue
		}

		// Chunk keeps failing; fall back row by row so a single constraint
		// violation only costs one row.
		for _, o := range chunk {
			if rowErr := r.insertOne(ctx, r.conn(ctx), o); rowErr != nil {
				errored++
				continue
			}
			inserted++
		}
	}
	return inserted, errored, nil
}

func (r *repoPG) insertChunk(ctx context.Context, chunk []*Opportunity) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		for _, o := range chunk {
			if err := r.insertOne(ctx, db.TxFromContext(ctx), o); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) UpdateValue(ctx context.Context, id uuid.UUID, value, annualValue float64, ndc string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE opportunities
		SET value = $2, annual_value = $3,
			recommended_ndc = CASE WHEN $4 <> '' THEN $4 ELSE recommended_ndc END,
			updated_at = NOW()
		WHERE id = $1 AND status = $5`,
		id, value, annualValue, ndc, StatusNotSubmitted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("opportunity %s is not updatable", id)
	}
	return nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE opportunities SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (r *repoPG) AppendNote(ctx context.Context, id uuid.UUID, note string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE opportunities
		SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
			updated_at = NOW()
		WHERE id = $1`, id, note)
	return err
}

func (r *repoPG) DeleteNotSubmittedExcept(ctx context.Context, pharmacyID uuid.UUID, keep []uuid.UUID) (int64, error) {
	if keep == nil {
		keep = []uuid.UUID{}
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM opportunities
		WHERE pharmacy_id = $1 AND status = $2 AND NOT (id = ANY($3))`,
		pharmacyID, StatusNotSubmitted, keep)
	if err != nil {
		return 0, fmt.Errorf("clear stale opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM opportunities WHERE id = $1 AND status = $2`, id, StatusNotSubmitted)
	return err
}

func (r *repoPG) CountByTrigger(ctx context.Context, triggerID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM opportunities WHERE trigger_id = $1`, triggerID).Scan(&n)
	return n, err
}
