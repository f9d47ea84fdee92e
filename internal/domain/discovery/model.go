package discovery

import (
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the human-review state of a proposal. Proposals are
// created only by the scanner and transitioned only by an administrator;
// approval is the sole path to a live trigger.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// CoverageTier ranks how strongly the recommended alternative's
// reimbursability is evidenced for the proposal's payer, best first.
type CoverageTier string

const (
	TierClaims     CoverageTier = "claims"
	TierPartD      CoverageTier = "partd_formulary"
	TierCommercial CoverageTier = "commercial_formulary"
	TierNone       CoverageTier = "none"
)

// Alternative is one positive-margin candidate considered for a proposal.
type Alternative struct {
	DrugToken      string  `json:"drug_token"`
	SampleDrugName string  `json:"sample_drug_name"`
	AvgGP          float64 `json:"avg_gp"`
	Fills          int     `json:"fills"`
	// SamePayer is true when the candidate's claims are on the proposal's
	// exact (BIN, Group) rather than the class-wide fallback search.
	SamePayer bool `json:"same_payer"`
}

// PendingOpportunityType is one discovery-queue proposal: a chronically
// unprofitable drug/payer combination paired with a better-margin
// alternative, awaiting human review.
type PendingOpportunityType struct {
	ID uuid.UUID `db:"id" json:"id"`

	RecommendedDrug  string `db:"recommended_drug" json:"recommended_drug"`
	LoserDrug        string `db:"loser_drug" json:"loser_drug"`
	LoserToken       string `db:"loser_token" json:"loser_token"`
	BIN              string `db:"bin" json:"bin"`
	Group            string `db:"group_id" json:"group"`
	TherapeuticClass string `db:"therapeutic_class" json:"therapeutic_class"`
	TherapeuticArea  string `db:"therapeutic_area" json:"therapeutic_area"`

	LoserAvgGP float64 `db:"loser_avg_gp" json:"loser_avg_gp"`
	LoserFills int     `db:"loser_fills" json:"loser_fills"`
	AltAvgGP   float64 `db:"alt_avg_gp" json:"alt_avg_gp"`
	AltFills   int     `db:"alt_fills" json:"alt_fills"`

	// AnnualGainPerPatient is (altAvgGP - loserAvgGP) x 12;
	// AggregateAnnualGain multiplies it by the affected patient count.
	AnnualGainPerPatient float64 `db:"annual_gain_per_patient" json:"annual_gain_per_patient"`
	AggregateAnnualGain  float64 `db:"aggregate_annual_gain" json:"aggregate_annual_gain"`
	Patients             int     `db:"patients" json:"patients"`

	PharmacyIDs  []uuid.UUID   `db:"pharmacy_ids" json:"pharmacy_ids"`
	Alternatives []Alternative `db:"alternatives" json:"alternatives"`

	CoverageTier   CoverageTier `db:"coverage_tier" json:"coverage_tier"`
	CoverageDetail string       `db:"coverage_detail" json:"coverage_detail,omitempty"`

	// Claim-level cost statistics when available, estimated GP otherwise.
	LoserAvgCost  *float64 `db:"loser_avg_cost" json:"loser_avg_cost,omitempty"`
	LoserAvgReimb *float64 `db:"loser_avg_reimb" json:"loser_avg_reimb,omitempty"`
	AltAvgCost    *float64 `db:"alt_avg_cost" json:"alt_avg_cost,omitempty"`
	AltAvgReimb   *float64 `db:"alt_avg_reimb" json:"alt_avg_reimb,omitempty"`
	EstimatedGP   *float64 `db:"estimated_gp" json:"estimated_gp,omitempty"`

	ReviewStatus ReviewStatus `db:"review_status" json:"review_status"`
	ReviewNote   string       `db:"review_note" json:"review_note,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	ReviewedAt   *time.Time   `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// UnclassifiedDrug is a losing drug the classifier could not place, recorded
// for manual triage instead of a proposal.
type UnclassifiedDrug struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DrugName  string    `db:"drug_name" json:"drug_name"`
	BIN       string    `db:"bin" json:"bin"`
	Group     string    `db:"group_id" json:"group"`
	AvgGP     float64   `db:"avg_gp" json:"avg_gp"`
	Fills     int       `db:"fills" json:"fills"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FormularyStatus is one formulary row used for coverage enrichment.
type FormularyStatus struct {
	DrugToken    string `db:"drug_token" json:"drug_token"`
	Tier         string `db:"tier" json:"tier"`
	Restrictions string `db:"restrictions" json:"restrictions,omitempty"`
}

// DrugCost is cached acquisition cost and expected reimbursement for one
// drug, used to estimate GP when no claims exist.
type DrugCost struct {
	DrugToken       string  `db:"drug_token" json:"drug_token"`
	AcquisitionCost float64 `db:"acquisition_cost" json:"acquisition_cost"`
	ExpectedReimb   float64 `db:"expected_reimb" json:"expected_reimb"`
}
