package dispensing

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

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed dispensing repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) ListPharmacies(ctx context.Context, includeDemo bool) ([]*Pharmacy, error) {
	q := `SELECT id, name, is_demo, is_active, created_at FROM pharmacies WHERE is_active`
	if !includeDemo {
		q += ` AND NOT is_demo`
	}
	q += ` ORDER BY name`

	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pharmacies: %w", err)
	}
	defer rows.Close()

	var items []*Pharmacy
	for rows.Next() {
		var p Pharmacy
		if err := rows.Scan(&p.ID, &p.Name, &p.IsDemo, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pharmacy: %w", err)
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *repoPG) GetPharmacy(ctx context.Context, id uuid.UUID) (*Pharmacy, error) {
	var p Pharmacy
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, is_demo, is_active, created_at FROM pharmacies WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.IsDemo, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const recordCols = `id, pharmacy_id, patient_id, rx_number, drug_name, ndc, quantity,
	days_supply, bin, group_id, contract_id, plan_name, prescriber,
	gross_profit, acquisition_cost, reimbursement, dispensed_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.PharmacyID, &rec.PatientID, &rec.RxNumber, &rec.DrugName,
		&rec.NDC, &rec.Quantity, &rec.DaysSupply, &rec.BIN, &rec.Group, &rec.ContractID,
		&rec.PlanName, &rec.Prescriber, &rec.GrossProfit, &rec.AcquisitionCost,
		&rec.Reimbursement, &rec.DispensedAt)
	return &rec, err
}

func (r *repoPG) ListRecentRecords(ctx context.Context, pharmacyID uuid.UUID, since time.Time) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recordCols+`
		FROM dispensing_records
		WHERE pharmacy_id = $1 AND dispensed_at >= $2
		ORDER BY dispensed_at DESC`, pharmacyID, since)
	if err != nil {
		return nil, fmt.Errorf("list recent records: %w", err)
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *repoPG) PatientDrugHistories(ctx context.Context, pharmacyID uuid.UUID, since time.Time) (map[uuid.UUID][]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id, drug_name
		FROM dispensing_records
		WHERE pharmacy_id = $1 AND dispensed_at >= $2
		GROUP BY patient_id, drug_name`, pharmacyID, since)
	if err != nil {
		return nil, fmt.Errorf("patient drug histories: %w", err)
	}
	defer rows.Close()

	histories := make(map[uuid.UUID][]string)
	for rows.Next() {
		var pid uuid.UUID
		var name string
		if err := rows.Scan(&pid, &name); err != nil {
			return nil, fmt.Errorf("scan drug history: %w", err)
		}
		histories[pid] = append(histories[pid], name)
	}
	return histories, rows.Err()
}

func (r *repoPG) AggregateGP(ctx context.Context, patterns []string, since time.Time) ([]GPAggregate, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	// The query spans all non-demo pharmacies: the cache is deliberately
	// cross-tenant so sparse payers still resolve a defensible value.
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT dr.drug_name, MIN(dr.ndc), dr.bin, dr.group_id, dr.contract_id, dr.plan_name,
			AVG(CASE WHEN COALESCE(dr.days_supply, 0) >= 84
				THEN dr.gross_profit / 3.0 ELSE dr.gross_profit END),
			AVG(dr.quantity),
			COUNT(*)::int,
			MAX(dr.dispensed_at)
		FROM dispensing_records dr
		JOIN pharmacies p ON p.id = dr.pharmacy_id
		WHERE NOT p.is_demo
		  AND dr.dispensed_at >= $2
		  AND dr.drug_name ILIKE ANY($1)
		GROUP BY dr.drug_name, dr.bin, dr.group_id, dr.contract_id, dr.plan_name`,
		patterns, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate gp: %w", err)
	}
	defer rows.Close()

	var items []GPAggregate
	for rows.Next() {
		var a GPAggregate
		if err := rows.Scan(&a.DrugName, &a.NDC, &a.BIN, &a.Group, &a.ContractID,
			&a.PlanName, &a.AvgGP30, &a.AvgQty, &a.Fills, &a.LastFillAt); err != nil {
			return nil, fmt.Errorf("scan gp aggregate: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) AggregateMargins(ctx context.Context, since time.Time, minFills int) ([]MarginAggregate, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT UPPER(SPLIT_PART(dr.drug_name, ' ', 1)),
			MIN(dr.drug_name),
			dr.bin, dr.group_id,
			AVG(dr.gross_profit),
			SUM(dr.gross_profit),
			COALESCE(AVG(dr.acquisition_cost), 0),
			COALESCE(AVG(dr.reimbursement), 0),
			COUNT(*)::int,
			COUNT(DISTINCT dr.patient_id)::int,
			ARRAY_AGG(DISTINCT dr.pharmacy_id)
		FROM dispensing_records dr
		JOIN pharmacies p ON p.id = dr.pharmacy_id
		WHERE NOT p.is_demo
		  AND dr.dispensed_at >= $1
		GROUP BY 1, dr.bin, dr.group_id
		HAVING COUNT(*) >= $2`, since, minFills)
	if err != nil {
		return nil, fmt.Errorf("aggregate margins: %w", err)
	}
	defer rows.Close()

	var items []MarginAggregate
	for rows.Next() {
		var a MarginAggregate
		if err := rows.Scan(&a.DrugToken, &a.SampleDrugName, &a.BIN, &a.Group,
			&a.AvgGP, &a.TotalGP, &a.AvgCost, &a.AvgReimbursed,
			&a.Fills, &a.Patients, &a.PharmacyIDs); err != nil {
			return nil, fmt.Errorf("scan margin aggregate: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdatePatientConditions(ctx context.Context, patientID uuid.UUID, conditions []string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET conditions = $2, updated_at = NOW() WHERE id = $1`,
		patientID, conditions)
	return err
}
