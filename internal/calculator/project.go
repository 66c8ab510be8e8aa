package calculator

import (
	"math"
	"time"

	"YieldAccrual/internal/model"
)

// DaysUntil returns max(0, ceil((target-now)/24h)). A zero target yields 0.
func DaysUntil(target, now time.Time) int {
	if target.IsZero() {
		return 0
	}
	d := target.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds() / secondsPerDay))
}

// Project computes the full DerivedYield for a baseline at now.
// DaysUntilTarget is recomputed from now rather than taken from the baseline.
func Project(b model.AccrualBaseline, now time.Time) model.DerivedYield {
	res := ComputeYield(b.Principal, b.AccumulatedYield, b.MonthlyRate, b.BaselineAt, now)
	rates := UnitRates(res.PerSecondRate, b.UnitPrice)
	days := DaysUntil(b.TargetDate, now)

	// The until-target projection cannot grow past the remaining cap headroom.
	until := rates.PerDay.Native * float64(days)
	if headroom := res.MaxMonthlyYield - res.CurrentYield; until > headroom {
		until = headroom
	}

	return model.DerivedYield{
		AccountID:          b.AccountID,
		CurrentYield:       priced(res.CurrentYield, b.UnitPrice),
		SessionYield:       priced(res.SessionYield, b.UnitPrice),
		ProgressPercentage: res.ProgressPercentage,
		Rates:              rates,
		DaysUntilTarget:    days,
		UntilTarget:        priced(nonNegative(until), b.UnitPrice),
		MaxMonthlyYield:    res.MaxMonthlyYield,
		Capped:             res.MaxMonthlyYield > 0 && res.CurrentYield >= res.MaxMonthlyYield,
		ComputedAt:         now,
	}
}
