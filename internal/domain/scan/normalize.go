package scan

import (
	"math"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
)

// EstimateSupplyDays estimates supply duration from quantity when the source
// record omits it. The thresholds are a fixed convention and must not
// change: historical outputs depend on them.
func EstimateSupplyDays(quantity float64) int {
	switch {
	case quantity > 60:
		return 90
	case quantity > 34:
		return 60
	default:
		return 30
	}
}

// Normalize30Day converts a resolved value to its 30-day equivalent.
//
// Ordered rules, first applicable wins:
//  1. The value came from an override and the trigger declares
//     expected_days_supply: the override table already normalized it, so a
//     second pass is a no-op.
//  2. The value came from an override carrying an observed average quantity
//     over 34: divide by ceil(avg_qty / 30).
//  3. Otherwise scale by 30/supply_days when the record's supply exceeds 34
//     days, estimating supply from quantity when the record omits it.
func Normalize30Day(value float64, c *trigger.Compiled, res Resolution, rec *dispensing.Record) float64 {
	if res.Override != nil {
		if c.Trigger.ExpectedDaysSupply != nil {
			return value
		}
		if res.Override.AvgQty != nil && *res.Override.AvgQty > 34 {
			return value / math.Ceil(*res.Override.AvgQty/30)
		}
		return value
	}

	days := 0
	if rec.DaysSupply != nil {
		days = *rec.DaysSupply
	}
	if days <= 0 {
		days = EstimateSupplyDays(rec.Quantity)
	}
	if days > 34 {
		return value * 30 / float64(days)
	}
	return value
}
