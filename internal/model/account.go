package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountRecord is a per-account row as read from the durable store.
// Values are not trusted; the loader clamps them before use.
type AccountRecord struct {
	AccountID        string          `json:"account_id"`
	Principal        decimal.Decimal `json:"principal"`
	AccumulatedYield decimal.Decimal `json:"accumulated_yield"`
	Withdrawn        decimal.Decimal `json:"withdrawn"`
	BaselineAt       time.Time       `json:"baseline_at"`
	WrittenBy        string          `json:"written_by"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PricingRecord is the shared pricing/phase row.
// A zero MonthlyRate means the configured default applies.
type PricingRecord struct {
	MonthlyRate decimal.Decimal `json:"monthly_rate"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TargetDate  time.Time       `json:"target_date"`
}

// Snapshot is what the persistence cycle writes back for an account.
type Snapshot struct {
	AccumulatedYield float64
	BaselineAt       time.Time
	WrittenBy        string
}

// ChangeEvent is a "record changed" notification scoped to one account.
type ChangeEvent struct {
	AccountID string    `json:"account_id"`
	Principal float64   `json:"principal"`
	WrittenBy string    `json:"written_by,omitempty"`
	At        time.Time `json:"at"`
}
