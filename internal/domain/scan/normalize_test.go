package scan

import (
	"testing"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func compiledFor(t *testing.T, tr *trigger.Trigger) *trigger.Compiled {
	t.Helper()
	c, err := trigger.Compile(tr)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return c
}

func TestEstimateSupplyDays(t *testing.T) {
	tests := []struct {
		qty  float64
		want int
	}{
		{30, 30},
		{34, 30},
		{35, 60},
		{60, 60},
		{61, 90},
		{90, 90},
		{270, 90},
	}
	for _, tt := range tests {
		if got := EstimateSupplyDays(tt.qty); got != tt.want {
			t.Errorf("EstimateSupplyDays(%v) = %d, want %d", tt.qty, got, tt.want)
		}
	}
}

func TestNormalize30Day_RecordSupplyDays(t *testing.T) {
	c := compiledFor(t, &trigger.Trigger{
		Name: "t", Keywords: []string{"X"}, RecommendedDrug: "Y",
	})

	rec := &dispensing.Record{Quantity: 90, DaysSupply: intPtr(90)}
	if got := Normalize30Day(60, c, Resolution{Source: SourceDefault}, rec); got != 20 {
		t.Errorf("90-day fill: got %v, want 20", got)
	}

	rec = &dispensing.Record{Quantity: 30, DaysSupply: intPtr(30)}
	if got := Normalize30Day(20, c, Resolution{Source: SourceDefault}, rec); got != 20 {
		t.Errorf("30-day fill must pass through, got %v", got)
	}

	// 34 days and under is treated as a monthly fill.
	rec = &dispensing.Record{Quantity: 34, DaysSupply: intPtr(34)}
	if got := Normalize30Day(20, c, Resolution{Source: SourceDefault}, rec); got != 20 {
		t.Errorf("34-day fill must pass through, got %v", got)
	}
}

func TestNormalize30Day_EstimatesMissingSupply(t *testing.T) {
	c := compiledFor(t, &trigger.Trigger{
		Name: "t", Keywords: []string{"X"}, RecommendedDrug: "Y",
	})

	// Quantity 90 estimates a 90-day supply.
	rec := &dispensing.Record{Quantity: 90}
	if got := Normalize30Day(60, c, Resolution{Source: SourceGPCache}, rec); got != 20 {
		t.Errorf("estimated 90-day fill: got %v, want 20", got)
	}

	// Quantity 45 estimates a 60-day supply.
	rec = &dispensing.Record{Quantity: 45}
	if got := Normalize30Day(40, c, Resolution{Source: SourceGPCache}, rec); got != 20 {
		t.Errorf("estimated 60-day fill: got %v, want 20", got)
	}
}

func TestNormalize30Day_OverrideAvgQty(t *testing.T) {
	c := compiledFor(t, &trigger.Trigger{
		Name: "t", Keywords: []string{"X"}, RecommendedDrug: "Y",
	})

	o := &trigger.PayerOverride{GP: 90, AvgQty: floatPtr(90)}
	res := Resolution{Value: 90, Source: SourceOverride, Override: o}
	// ceil(90/30) = 3.
	if got := Normalize30Day(90, c, res, &dispensing.Record{}); got != 30 {
		t.Errorf("override avg qty 90: got %v, want 30", got)
	}

	// Avg qty at or under 34 is left alone.
	o = &trigger.PayerOverride{GP: 20, AvgQty: floatPtr(30)}
	res = Resolution{Value: 20, Source: SourceOverride, Override: o}
	if got := Normalize30Day(20, c, res, &dispensing.Record{}); got != 20 {
		t.Errorf("override avg qty 30 must pass through, got %v", got)
	}
}

func TestNormalize30Day_ExpectedDaysSupplyIsIdempotent(t *testing.T) {
	// The override table already normalized for this trigger; a second
	// normalization must be a no-op even with a large avg qty.
	c := compiledFor(t, &trigger.Trigger{
		Name: "t", Keywords: []string{"X"}, RecommendedDrug: "Y",
		ExpectedDaysSupply: intPtr(90),
	})
	o := &trigger.PayerOverride{GP: 90, AvgQty: floatPtr(90)}
	res := Resolution{Value: 90, Source: SourceOverride, Override: o}

	once := Normalize30Day(90, c, res, &dispensing.Record{DaysSupply: intPtr(90)})
	twice := Normalize30Day(once, c, res, &dispensing.Record{DaysSupply: intPtr(90)})
	if once != 90 || twice != 90 {
		t.Errorf("already-normalized value must pass through: once=%v twice=%v", once, twice)
	}
}

func TestNormalize30Day_OverrideIgnoresRecordDays(t *testing.T) {
	// Override values reflect the override's own observation window; the
	// record's supply days must not rescale them.
	c := compiledFor(t, &trigger.Trigger{
		Name: "t", Keywords: []string{"X"}, RecommendedDrug: "Y",
	})
	o := &trigger.PayerOverride{GP: 25}
	res := Resolution{Value: 25, Source: SourceOverride, Override: o}
	rec := &dispensing.Record{Quantity: 90, DaysSupply: intPtr(90)}
	if got := Normalize30Day(25, c, res, rec); got != 25 {
		t.Errorf("override value rescaled by record days: got %v, want 25", got)
	}
}
