package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therxos/therxos-backend-sub002/internal/platform/db"
)

// Kind distinguishes the two batch jobs sharing the run-summary table.
type Kind string

const (
	KindOpportunity Kind = "opportunity"
	KindDiscovery   Kind = "discovery"
)

// RunStatus is the terminal state of a batch run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Counts is the per-run tally. Skipped covers excluded overrides, resolution
// gaps, and below-floor matches; partial success is always distinguishable
// from total failure.
type Counts struct {
	Pharmacies int `json:"pharmacies"`
	Scanned    int `json:"scanned"`
	Matched    int `json:"matched"`
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Errored    int `json:"errored"`
	Cleared    int `json:"cleared"`
}

func (c *Counts) merge(o Counts) {
	c.Pharmacies += o.Pharmacies
	c.Scanned += o.Scanned
	c.Matched += o.Matched
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Skipped += o.Skipped
	c.Errored += o.Errored
	c.Cleared += o.Cleared
}

// Log is one batch run's summary record.
type Log struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Kind       Kind       `db:"kind" json:"kind"`
	PharmacyID *uuid.UUID `db:"pharmacy_id" json:"pharmacy_id,omitempty"`
	Status     RunStatus  `db:"status" json:"status"`
	Counts
	Error      string     `db:"error" json:"error,omitempty"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// LogRepository persists run summaries.
type LogRepository interface {
	Start(ctx context.Context, kind Kind, pharmacyID *uuid.UUID) (*Log, error)
	Finish(ctx context.Context, id uuid.UUID, status RunStatus, counts Counts, errMsg string) error
	GetByID(ctx context.Context, id uuid.UUID) (*Log, error)
	ListRecent(ctx context.Context, limit int) ([]*Log, error)
}

type logRepoPG struct{ pool *pgxpool.Pool }

func NewLogRepoPG(pool *pgxpool.Pool) LogRepository {
	return &logRepoPG{pool: pool}
}

type logQueryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func (r *logRepoPG) conn(ctx context.Context) logQueryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const logCols = `id, kind, pharmacy_id, status, pharmacies, scanned, matched,
	inserted, updated, skipped, errored, cleared, error, started_at, finished_at`

func scanLog(row pgx.Row) (*Log, error) {
	var l Log
	err := row.Scan(&l.ID, &l.Kind, &l.PharmacyID, &l.Status, &l.Pharmacies,
		&l.Scanned, &l.Matched, &l.Inserted, &l.Updated, &l.Skipped, &l.Errored,
		&l.Cleared, &l.Error, &l.StartedAt, &l.FinishedAt)
	return &l, err
}

func (r *logRepoPG) Start(ctx context.Context, kind Kind, pharmacyID *uuid.UUID) (*Log, error) {
	l := &Log{
		ID:         uuid.New(),
		Kind:       kind,
		PharmacyID: pharmacyID,
		Status:     RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scan_logs (id, kind, pharmacy_id, status, started_at)
		VALUES ($1,$2,$3,$4,$5)`,
		l.ID, l.Kind, l.PharmacyID, l.Status, l.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start scan log: %w", err)
	}
	return l, nil
}

func (r *logRepoPG) Finish(ctx context.Context, id uuid.UUID, status RunStatus, counts Counts, errMsg string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE scan_logs
		SET status=$2, pharmacies=$3, scanned=$4, matched=$5, inserted=$6,
			updated=$7, skipped=$8, errored=$9, cleared=$10, error=$11,
			finished_at=NOW()
		WHERE id = $1`,
		id, status, counts.Pharmacies, counts.Scanned, counts.Matched,
		counts.Inserted, counts.Updated, counts.Skipped, counts.Errored,
		counts.Cleared, errMsg)
	return err
}

func (r *logRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Log, error) {
	return scanLog(r.conn(ctx).QueryRow(ctx,
		`SELECT `+logCols+` FROM scan_logs WHERE id = $1`, id))
}

func (r *logRepoPG) ListRecent(ctx context.Context, limit int) ([]*Log, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+logCols+` FROM scan_logs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan logs: %w", err)
	}
	defer rows.Close()

	var items []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		items = append(items, l)
	}
	return items, rows.Err()
}
