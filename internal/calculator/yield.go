package calculator

import (
	"math"
	"time"
)

// SecondsInMonth is the fixed accrual month (30 days). Persistence and display
// must both derive per-second rates from this constant.
const SecondsInMonth = 2_592_000

// YieldResult is the output of ComputeYield. Every field is >= 0.
type YieldResult struct {
	MaxMonthlyYield    float64
	PerSecondRate      float64
	SessionYield       float64
	CurrentYield       float64
	ProgressPercentage float64
}

// ComputeYield returns the yield accrued on principal since baselineAt,
// carried forward from previousYield.
//
// Monthly-cap truncation: currentYield never exceeds principal × monthlyRate.
// Once the cap is reached accrual stops; sessionYield is still reported but
// is clamped away from currentYield.
func ComputeYield(principal, previousYield, monthlyRate float64, baselineAt, now time.Time) YieldResult {
	principal = nonNegative(principal)
	previousYield = nonNegative(previousYield)
	monthlyRate = sanitizeRate(monthlyRate)

	maxMonthly := principal * monthlyRate
	perSecond := maxMonthly / SecondsInMonth

	elapsed := now.Sub(baselineAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	session := nonNegative(perSecond * elapsed)
	current := clamp(previousYield+session, 0, maxMonthly)

	var progress float64
	if maxMonthly > 0 {
		progress = current / maxMonthly * 100
	}

	return YieldResult{
		MaxMonthlyYield:    maxMonthly,
		PerSecondRate:      perSecond,
		SessionYield:       session,
		CurrentYield:       current,
		ProgressPercentage: progress,
	}
}

// nonNegative maps NaN, negatives and -Inf to zero.
func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}

// sanitizeRate keeps monthly rates inside [0,1); anything else accrues nothing.
func sanitizeRate(r float64) float64 {
	if math.IsNaN(r) || r < 0 || r >= 1 {
		return 0
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
