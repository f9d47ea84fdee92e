package dispensing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pharmacy is one tenant. Demo pharmacies are excluded from cross-tenant
// aggregation so sample data never influences real recommendations.
type Pharmacy struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsDemo    bool      `db:"is_demo" json:"is_demo"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Patient is a pseudonymized identity scoped to one pharmacy. Patients are
// never merged across pharmacies. Conditions is the inferred chronic-condition
// list, recomputed from drug history during scans.
type Patient struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PharmacyID uuid.UUID `db:"pharmacy_id" json:"pharmacy_id"`
	Code       string    `db:"code" json:"code"`
	Conditions []string  `db:"conditions" json:"conditions,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Record is one filled prescription as produced by the ingestion layer.
// Records are immutable once ingested except for corrective re-ingestion.
type Record struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PharmacyID  uuid.UUID `db:"pharmacy_id" json:"pharmacy_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	RxNumber    string    `db:"rx_number" json:"rx_number"`
	DrugName    string    `db:"drug_name" json:"drug_name"`
	NDC         string    `db:"ndc" json:"ndc"`
	Quantity    float64   `db:"quantity" json:"quantity"`
	DaysSupply  *int      `db:"days_supply" json:"days_supply,omitempty"`
	BIN         string    `db:"bin" json:"bin"`
	Group       string    `db:"group_id" json:"group"`
	ContractID  string    `db:"contract_id" json:"contract_id"`
	PlanName    string    `db:"plan_name" json:"plan_name"`
	Prescriber  string    `db:"prescriber" json:"prescriber"`
	GrossProfit float64   `db:"gross_profit" json:"gross_profit"`
	// Acquisition cost and reimbursement are optional; not every ingestion
	// source reports them.
	AcquisitionCost *float64  `db:"acquisition_cost" json:"acquisition_cost,omitempty"`
	Reimbursement   *float64  `db:"reimbursement" json:"reimbursement,omitempty"`
	DispensedAt     time.Time `db:"dispensed_at" json:"dispensed_at"`
}

// BaseToken returns the first whitespace-delimited token of the drug name,
// the grouping key for "same underlying drug" comparisons.
func (r *Record) BaseToken() string {
	return BaseToken(r.DrugName)
}

// BaseToken returns the first whitespace-delimited token of a drug name,
// upper-cased.
func BaseToken(drugName string) string {
	fields := strings.Fields(drugName)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// GPAggregate is one row of the cross-tenant paid-claims aggregation that
// feeds the GP cache: average 30-day-normalized gross profit for a drug under
// one payer routing.
type GPAggregate struct {
	DrugName   string
	NDC        string
	BIN        string
	Group      string
	ContractID string
	PlanName   string
	AvgGP30    float64
	AvgQty     float64
	Fills      int
	LastFillAt time.Time
}

// MarginAggregate is one row of the discovery scan's margin mining: average
// and total gross profit for a (drug base token, BIN, Group) combination.
type MarginAggregate struct {
	DrugToken      string
	SampleDrugName string
	BIN            string
	Group          string
	AvgGP          float64
	TotalGP        float64
	AvgCost        float64
	AvgReimbursed  float64
	Fills          int
	Patients       int
	PharmacyIDs    []uuid.UUID
}
