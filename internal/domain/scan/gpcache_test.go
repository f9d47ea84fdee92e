package scan

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
)

func TestStems(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Losartan-HCTZ", []string{"LOSART", "HCTZ"}},
		{"Rosuvastatin", []string{"ROSUVA"}},
		{"HCTZ", []string{"HCTZ"}},
		{"Losartan Potassium", []string{"LOSART"}},
		{"Fluticasone-Salmeterol 250/50", []string{"FLUTIC", "SALMET"}},
	}
	for _, tt := range tests {
		if got := stems(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("stems(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// aggRepo stubs only the aggregation read.
type aggRepo struct {
	dispensing.Repository
	aggs     []dispensing.GPAggregate
	patterns []string
}

func (r *aggRepo) AggregateGP(_ context.Context, patterns []string, _ time.Time) ([]dispensing.GPAggregate, error) {
	r.patterns = patterns
	return r.aggs, nil
}

func compileTriggers(t *testing.T, triggers ...*trigger.Trigger) []*trigger.Compiled {
	t.Helper()
	compiled, errs := trigger.CompileAll(triggers)
	if len(errs) > 0 {
		t.Fatalf("compile errors: %v", errs)
	}
	return compiled
}

func TestBuildGPCache_SpecificityOrder(t *testing.T) {
	repo := &aggRepo{aggs: []dispensing.GPAggregate{
		{DrugName: "LOSARTAN-HCTZ 50-12.5MG", NDC: "001", BIN: "610097", Group: "RXGRP",
			ContractID: "S5601", PlanName: "GOLD", AvgGP30: 40, Fills: 10},
		{DrugName: "LOSARTAN-HCTZ 100-25MG", NDC: "002", BIN: "004336", Group: "OTHER",
			ContractID: "", PlanName: "", AvgGP30: 18, Fills: 5},
	}}
	compiled := compileTriggers(t, &trigger.Trigger{
		ID: uuid.New(), Name: "losartan combo", Keywords: []string{"LOSARTAN"},
		RecommendedDrug: "Losartan-HCTZ",
	})

	cache, err := BuildGPCache(context.Background(), repo, compiled, time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}

	// Exact payer+plan routing hits the most specific key.
	hit, ok := cache.Lookup("Losartan-HCTZ", "610097", "RXGRP", "S5601", "GOLD")
	if !ok || hit.Specificity != SpecFull || hit.Value != 40 {
		t.Errorf("full-key lookup = %+v ok=%v", hit, ok)
	}

	// Same payer, unknown plan falls back to the BIN/Group key.
	hit, ok = cache.Lookup("Losartan-HCTZ", "610097", "RXGRP", "X", "Y")
	if !ok || hit.Specificity != SpecPayer || hit.Value != 40 {
		t.Errorf("payer-key lookup = %+v ok=%v", hit, ok)
	}

	// Unknown payer falls back to the drug-only key: fill-weighted average
	// of (40 x 10) and (18 x 5) over 15 fills.
	hit, ok = cache.Lookup("Losartan-HCTZ", "999999", "", "", "")
	want := (40.0*10 + 18.0*5) / 15
	if !ok || hit.Specificity != SpecDrug || hit.Value != want {
		t.Errorf("drug-key lookup = %+v ok=%v, want value %v", hit, ok, want)
	}

	if _, ok := cache.Lookup("Metformin", "610097", "RXGRP", "", ""); ok {
		t.Error("unknown drug must miss")
	}
}

func TestBuildGPCache_AllStemsMustMatch(t *testing.T) {
	// A plain losartan claim must not feed the combination drug's entries.
	repo := &aggRepo{aggs: []dispensing.GPAggregate{
		{DrugName: "LOSARTAN POTASSIUM 50MG", BIN: "610097", Group: "G", AvgGP30: 5, Fills: 100},
		{DrugName: "LOSARTAN-HCTZ 50-12.5MG", BIN: "610097", Group: "G", AvgGP30: 40, Fills: 10},
	}}
	compiled := compileTriggers(t, &trigger.Trigger{
		ID: uuid.New(), Name: "combo", Keywords: []string{"LOSARTAN"},
		RecommendedDrug: "Losartan-HCTZ",
	})

	cache, err := BuildGPCache(context.Background(), repo, compiled, time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}

	hit, ok := cache.Lookup("Losartan-HCTZ", "610097", "G", "", "")
	if !ok {
		t.Fatal("expected payer-key hit")
	}
	if hit.Value != 40 {
		t.Errorf("plain losartan claims leaked into the combo entry: value %v", hit.Value)
	}
}

func TestBuildGPCache_NoTriggers(t *testing.T) {
	repo := &aggRepo{}
	cache, err := BuildGPCache(context.Background(), repo, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if repo.patterns != nil {
		t.Error("no triggers must mean no aggregate query")
	}
	if _, ok := cache.Lookup("X", "", "", "", ""); ok {
		t.Error("empty cache must miss")
	}
}
