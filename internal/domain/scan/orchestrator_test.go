package scan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/opportunity"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
)

// -- Mocks --

type mockDispensing struct {
	pharmacies []*dispensing.Pharmacy
	records    map[uuid.UUID][]*dispensing.Record
	histories  map[uuid.UUID]map[uuid.UUID][]string
	aggs       []dispensing.GPAggregate
	conditions map[uuid.UUID][]string
}

func newMockDispensing() *mockDispensing {
	return &mockDispensing{
		records:    make(map[uuid.UUID][]*dispensing.Record),
		histories:  make(map[uuid.UUID]map[uuid.UUID][]string),
		conditions: make(map[uuid.UUID][]string),
	}
}

func (m *mockDispensing) ListPharmacies(_ context.Context, _ bool) ([]*dispensing.Pharmacy, error) {
	return m.pharmacies, nil
}

func (m *mockDispensing) GetPharmacy(_ context.Context, id uuid.UUID) (*dispensing.Pharmacy, error) {
	for _, p := range m.pharmacies {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockDispensing) ListRecentRecords(_ context.Context, pharmacyID uuid.UUID, _ time.Time) ([]*dispensing.Record, error) {
	return m.records[pharmacyID], nil
}

func (m *mockDispensing) PatientDrugHistories(_ context.Context, pharmacyID uuid.UUID, _ time.Time) (map[uuid.UUID][]string, error) {
	h := m.histories[pharmacyID]
	if h == nil {
		h = map[uuid.UUID][]string{}
	}
	return h, nil
}

func (m *mockDispensing) AggregateGP(_ context.Context, _ []string, _ time.Time) ([]dispensing.GPAggregate, error) {
	return m.aggs, nil
}

func (m *mockDispensing) AggregateMargins(_ context.Context, _ time.Time, _ int) ([]dispensing.MarginAggregate, error) {
	return nil, nil
}

func (m *mockDispensing) UpdatePatientConditions(_ context.Context, patientID uuid.UUID, conditions []string) error {
	m.conditions[patientID] = conditions
	return nil
}

type mockTriggers struct {
	trigger.Repository
	items []*trigger.Trigger
}

func (m *mockTriggers) List(_ context.Context, enabledOnly bool) ([]*trigger.Trigger, error) {
	var out []*trigger.Trigger
	for _, t := range m.items {
		if enabledOnly && !t.IsEnabled {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type mockOpps struct {
	rows map[uuid.UUID]*opportunity.Opportunity
}

func newMockOpps() *mockOpps {
	return &mockOpps{rows: make(map[uuid.UUID]*opportunity.Opportunity)}
}

func (m *mockOpps) GetByID(_ context.Context, id uuid.UUID) (*opportunity.Opportunity, error) {
	o, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return o, nil
}

func (m *mockOpps) ListByPharmacy(_ context.Context, pharmacyID uuid.UUID) ([]*opportunity.Opportunity, error) {
	var out []*opportunity.Opportunity
	for _, o := range m.rows {
		if o.PharmacyID == pharmacyID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOpps) InsertBatch(_ context.Context, opps []*opportunity.Opportunity) (int, int, error) {
	for _, o := range opps {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		m.rows[o.ID] = o
	}
	return len(opps), 0, nil
}

func (m *mockOpps) UpdateValue(_ context.Context, id uuid.UUID, value, annualValue float64, ndc string) error {
	o, ok := m.rows[id]
	if !ok || o.Status != opportunity.StatusNotSubmitted {
		return fmt.Errorf("not updatable")
	}
	o.Value = value
	o.AnnualValue = annualValue
	if ndc != "" {
		o.RecommendedNDC = ndc
	}
	return nil
}

func (m *mockOpps) UpdateStatus(_ context.Context, id uuid.UUID, status opportunity.Status) error {
	m.rows[id].Status = status
	return nil
}

func (m *mockOpps) AppendNote(_ context.Context, id uuid.UUID, note string) error {
	m.rows[id].Notes += note
	return nil
}

func (m *mockOpps) DeleteNotSubmittedExcept(_ context.Context, pharmacyID uuid.UUID, keep []uuid.UUID) (int64, error) {
	kept := make(map[uuid.UUID]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var n int64
	for id, o := range m.rows {
		if o.PharmacyID == pharmacyID && o.Status == opportunity.StatusNotSubmitted && !kept[id] {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *mockOpps) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.rows, id)
	return nil
}

func (m *mockOpps) CountByTrigger(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}

type mockLogs struct {
	logs map[uuid.UUID]*Log
}

func newMockLogs() *mockLogs { return &mockLogs{logs: make(map[uuid.UUID]*Log)} }

func (m *mockLogs) Start(_ context.Context, kind Kind, pharmacyID *uuid.UUID) (*Log, error) {
	l := &Log{ID: uuid.New(), Kind: kind, PharmacyID: pharmacyID,
		Status: RunRunning, StartedAt: time.Now()}
	m.logs[l.ID] = l
	return l, nil
}

func (m *mockLogs) Finish(_ context.Context, id uuid.UUID, status RunStatus, counts Counts, errMsg string) error {
	l := m.logs[id]
	l.Status = status
	l.Counts = counts
	l.Error = errMsg
	now := time.Now()
	l.FinishedAt = &now
	return nil
}

func (m *mockLogs) GetByID(_ context.Context, id uuid.UUID) (*Log, error) {
	l, ok := m.logs[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return l, nil
}

func (m *mockLogs) ListRecent(_ context.Context, _ int) ([]*Log, error) {
	var out []*Log
	for _, l := range m.logs {
		out = append(out, l)
	}
	return out, nil
}

// -- Fixtures --

type fixture struct {
	disp  *mockDispensing
	trigs *mockTriggers
	opps  *mockOpps
	logs  *mockLogs
	orch  *Orchestrator
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		disp:  newMockDispensing(),
		trigs: &mockTriggers{},
		opps:  newMockOpps(),
		logs:  newMockLogs(),
	}
	f.orch = NewOrchestrator(f.disp, f.trigs, opportunity.NewReconciler(f.opps),
		f.logs, opts, zerolog.Nop())
	return f
}

func (f *fixture) addPharmacy() *dispensing.Pharmacy {
	ph := &dispensing.Pharmacy{ID: uuid.New(), Name: "Main St Pharmacy", IsActive: true}
	f.disp.pharmacies = append(f.disp.pharmacies, ph)
	return ph
}

func (f *fixture) addRecord(ph *dispensing.Pharmacy, rec *dispensing.Record) *dispensing.Record {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.PatientID == uuid.Nil {
		rec.PatientID = uuid.New()
	}
	rec.PharmacyID = ph.ID
	f.disp.records[ph.ID] = append(f.disp.records[ph.ID], rec)
	return rec
}

func losartanTrigger() *trigger.Trigger {
	return &trigger.Trigger{
		ID:              uuid.New(),
		Name:            "Losartan to Losartan-HCTZ",
		IsEnabled:       true,
		Type:            trigger.TypeStandard,
		Keywords:        []string{"LOSARTAN"},
		MatchMode:       trigger.MatchAny,
		BINRule:         "ONLY 610097",
		RecommendedDrug: "Losartan-HCTZ",
		DefaultGP:       20,
		AnnualFills:     12,
	}
}

// -- Tests --

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph := f.addPharmacy()
	f.trigs.items = []*trigger.Trigger{losartanTrigger()}
	f.addRecord(ph, &dispensing.Record{
		DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097",
		Quantity: 30, DaysSupply: intPtr(30), DispensedAt: time.Now(),
	})

	runLog, err := f.orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runLog.Status != RunCompleted {
		t.Errorf("expected completed run, got %s", runLog.Status)
	}
	if runLog.Scanned != 1 || runLog.Matched != 1 || runLog.Inserted != 1 {
		t.Errorf("unexpected counts: %+v", runLog.Counts)
	}

	if len(f.opps.rows) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(f.opps.rows))
	}
	for _, o := range f.opps.rows {
		if o.Status != opportunity.StatusNotSubmitted {
			t.Errorf("expected Not Submitted, got %s", o.Status)
		}
		if o.Value != 20 {
			t.Errorf("expected value 20, got %v", o.Value)
		}
		if o.AnnualValue != 240 {
			t.Errorf("expected annual value 240, got %v", o.AnnualValue)
		}
		if o.RecommendedDrug != "Losartan-HCTZ" {
			t.Errorf("unexpected recommendation %q", o.RecommendedDrug)
		}
	}
}

func TestRun_BINRestrictionSuppresses(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph := f.addPharmacy()
	f.trigs.items = []*trigger.Trigger{losartanTrigger()}
	f.addRecord(ph, &dispensing.Record{
		DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "999999",
		Quantity: 30, DaysSupply: intPtr(30), DispensedAt: time.Now(),
	})

	runLog, err := f.orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if runLog.Matched != 0 || len(f.opps.rows) != 0 {
		t.Errorf("BIN restriction must yield zero opportunities: %+v", runLog.Counts)
	}
}

func TestRun_ExcludedOverrideSuppresses(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph := f.addPharmacy()

	tr := losartanTrigger()
	tr.Overrides = []*trigger.PayerOverride{{
		TriggerID: tr.ID, BIN: "610097", Group: "",
		Coverage: trigger.CoverageExcluded,
	}}
	f.trigs.items = []*trigger.Trigger{tr}
	f.addRecord(ph, &dispensing.Record{
		DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097",
		Quantity: 30, DaysSupply: intPtr(30), DispensedAt: time.Now(),
	})

	runLog, err := f.orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if runLog.Matched != 1 {
		t.Errorf("record still matches the rule, got matched=%d", runLog.Matched)
	}
	if len(f.opps.rows) != 0 {
		t.Error("excluded override must suppress the opportunity despite a positive default")
	}
	if runLog.Skipped != 1 {
		t.Errorf("suppression must be counted, got skipped=%d", runLog.Skipped)
	}
}

func TestRun_RescanIsIdempotent(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph := f.addPharmacy()
	f.trigs.items = []*trigger.Trigger{losartanTrigger()}
	f.addRecord(ph, &dispensing.Record{
		DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097",
		Quantity: 30, DaysSupply: intPtr(30), DispensedAt: time.Now(),
	})

	if _, err := f.orch.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	var firstID uuid.UUID
	var firstValue float64
	for id, o := range f.opps.rows {
		firstID, firstValue = id, o.Value
	}

	second, err := f.orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.Inserted != 0 || second.Updated != 0 || second.Cleared != 0 {
		t.Errorf("rescan with no data changes must be a no-op: %+v", second.Counts)
	}
	if len(f.opps.rows) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(f.opps.rows))
	}
	if o := f.opps.rows[firstID]; o == nil || o.Value != firstValue {
		t.Error("rescan changed the stored opportunity")
	}
}

func TestRun_FloorSuppressesTrivialMatches(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph := f.addPharmacy()

	tr := losartanTrigger()
	tr.DefaultGP = 4
	f.trigs.items = []*trigger.Trigger{tr}
	f.addRecord(ph, &dispensing.Record{
		DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097",
		Quantity: 30, DaysSupply: intPtr(30), DispensedAt: time.Now(),
	})

	runLog, err := f.orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.opps.rows) != 0 || runLog.Skipped != 1 {
		t.Errorf("below-floor value must be suppressed and counted: %+v", runLog.Counts)
	}
}

func TestRun_MalformedTriggerSkippedNotFatal(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph := f.addPharmacy()

	bad := losartanTrigger()
	bad.GroupRule = "ONLY ,"
	good := losartanTrigger()
	f.trigs.items = []*trigger.Trigger{bad, good}
	f.addRecord(ph, &dispensing.Record{
		DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097",
		Quantity: 30, DaysSupply: intPtr(30), DispensedAt: time.Now(),
	})

	runLog, err := f.orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("a malformed trigger must not fail the run: %v", err)
	}
	if runLog.Status != RunCompleted || runLog.Inserted != 1 {
		t.Errorf("good trigger must still produce its opportunity: %+v", runLog.Counts)
	}
}

func TestRun_NormalizedValueFromNinetyDayFill(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph := f.addPharmacy()

	tr := losartanTrigger()
	tr.DefaultGP = 60
	f.trigs.items = []*trigger.Trigger{tr}
	f.addRecord(ph, &dispensing.Record{
		DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097",
		Quantity: 90, DaysSupply: intPtr(90), DispensedAt: time.Now(),
	})

	if _, err := f.orch.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	for _, o := range f.opps.rows {
		if o.Value != 20 {
			t.Errorf("90-day fill must normalize 60 to 20, got %v", o.Value)
		}
		if o.AnnualValue != 240 {
			t.Errorf("expected annual value 240, got %v", o.AnnualValue)
		}
	}
}

func TestRun_RecomputesPatientConditions(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph := f.addPharmacy()
	f.trigs.items = []*trigger.Trigger{losartanTrigger()}

	rec := f.addRecord(ph, &dispensing.Record{
		DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097",
		Quantity: 30, DaysSupply: intPtr(30), DispensedAt: time.Now(),
	})
	f.disp.histories[ph.ID] = map[uuid.UUID][]string{
		rec.PatientID: {"LOSARTAN POTASSIUM 50MG", "METFORMIN 500MG"},
	}

	if _, err := f.orch.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	conds := f.disp.conditions[rec.PatientID]
	if len(conds) == 0 {
		t.Fatal("expected inferred conditions to be stored")
	}
	var hasHTN, hasDM bool
	for _, c := range conds {
		switch c {
		case "Hypertension":
			hasHTN = true
		case "Diabetes":
			hasDM = true
		}
	}
	if !hasHTN || !hasDM {
		t.Errorf("expected hypertension and diabetes, got %v", conds)
	}
}

func TestRun_SinglePharmacyScope(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	ph1 := f.addPharmacy()
	ph2 := f.addPharmacy()
	f.trigs.items = []*trigger.Trigger{losartanTrigger()}
	for _, ph := range []*dispensing.Pharmacy{ph1, ph2} {
		f.addRecord(ph, &dispensing.Record{
			DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097",
			Quantity: 30, DaysSupply: intPtr(30), DispensedAt: time.Now(),
		})
	}

	runLog, err := f.orch.Run(context.Background(), &ph1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if runLog.Pharmacies != 1 || runLog.Inserted != 1 {
		t.Errorf("expected only one pharmacy scanned: %+v", runLog.Counts)
	}
	for _, o := range f.opps.rows {
		if o.PharmacyID != ph1.ID {
			t.Error("opportunity created outside the requested pharmacy")
		}
	}
}

type panickingTriggers struct {
	trigger.Repository
}

func (panickingTriggers) List(_ context.Context, _ bool) ([]*trigger.Trigger, error) {
	panic("corrupt trigger row")
}

func TestRun_PanicFinishesLogAsFailed(t *testing.T) {
	f := newFixture(Options{MinValue: 10})
	f.addPharmacy()
	orch := NewOrchestrator(f.disp, panickingTriggers{}, opportunity.NewReconciler(f.opps),
		f.logs, Options{MinValue: 10}, zerolog.Nop())

	runLog, err := orch.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected a panicking run to return an error")
	}
	if runLog.Status != RunFailed {
		t.Errorf("expected status %s, got %s", RunFailed, runLog.Status)
	}
	stored := f.logs.logs[runLog.ID]
	if stored.Status != RunFailed {
		t.Errorf("expected stored log finished as %s, got %s", RunFailed, stored.Status)
	}
	if stored.Error == "" {
		t.Error("expected the panic message recorded on the log")
	}
	if stored.FinishedAt == nil {
		t.Error("expected the log to carry a finish time")
	}
}
