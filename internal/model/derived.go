package model

import "time"

// AccrualBaseline is the last known zero-point for recomputing accrual.
type AccrualBaseline struct {
	AccountID        string
	Principal        float64
	AccumulatedYield float64
	BaselineAt       time.Time
	MonthlyRate      float64
	UnitPrice        float64
	TargetDate       time.Time
	DaysUntilTarget  int
}

// MaxMonthlyYield is principal × monthly rate.
func (b AccrualBaseline) MaxMonthlyYield() float64 {
	return b.Principal * b.MonthlyRate
}

// Amount is a value in the native unit and multiplied by the unit price.
type Amount struct {
	Native float64 `json:"native"`
	Priced float64 `json:"priced"`
}

// Rates are accrual speeds per time unit.
type Rates struct {
	PerSecond Amount `json:"per_second"`
	PerMinute Amount `json:"per_minute"`
	PerHour   Amount `json:"per_hour"`
	PerDay    Amount `json:"per_day"`
	PerWeek   Amount `json:"per_week"`
	PerMonth  Amount `json:"per_month"`
}

// DerivedYield is the read model published on every tick.
type DerivedYield struct {
	AccountID          string    `json:"account_id"`
	CurrentYield       Amount    `json:"current_yield"`
	SessionYield       Amount    `json:"session_yield"`
	ProgressPercentage float64   `json:"progress_percentage"`
	Rates              Rates     `json:"rates"`
	DaysUntilTarget    int       `json:"days_until_target"`
	UntilTarget        Amount    `json:"until_target"`
	MaxMonthlyYield    float64   `json:"max_monthly_yield"`
	Capped             bool      `json:"capped"`
	ComputedAt         time.Time `json:"computed_at"`
}

// Status describes what a session is currently doing.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusActive     Status = "active"
	StatusNoAccrual  Status = "no_accrual"
	StatusLoadFailed Status = "load_failed"
	StatusClosed     Status = "closed"
)
