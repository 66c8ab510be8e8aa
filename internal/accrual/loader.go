package accrual

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"YieldAccrual/internal/calculator"
	"YieldAccrual/internal/clock"
	"YieldAccrual/internal/model"
	"YieldAccrual/internal/pricing"
	"YieldAccrual/internal/store"
)

// ErrLoad marks a failed baseline load. No baseline exists afterwards and
// nothing ticks.
var ErrLoad = errors.New("load failure")

// Loader builds an AccrualBaseline from the store and the pricing source.
type Loader struct {
	Accounts    store.AccountReader
	Pricing     pricing.Source
	DefaultRate float64
	Clock       clock.Clock
}

// NewLoader creates a Loader. defaultRate is used when the pricing record
// carries no monthly rate.
func NewLoader(accounts store.AccountReader, src pricing.Source, defaultRate float64, clk clock.Clock) *Loader {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Loader{Accounts: accounts, Pricing: src, DefaultRate: defaultRate, Clock: clk}
}

// Load reads and validates a fresh baseline for accountID.
func (l *Loader) Load(ctx context.Context, accountID string) (model.AccrualBaseline, error) {
	if accountID == "" {
		return model.AccrualBaseline{}, fmt.Errorf("%w: %w", ErrLoad, store.ErrInvalidInput)
	}
	acct, err := l.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return model.AccrualBaseline{}, fmt.Errorf("%w: read account %s: %w", ErrLoad, accountID, err)
	}
	p, err := l.Pricing.FetchPricing(ctx)
	if err != nil {
		return model.AccrualBaseline{}, fmt.Errorf("%w: read pricing from %s: %w", ErrLoad, l.Pricing.Name(), err)
	}
	return l.build(accountID, acct, p), nil
}

// LoadPricing re-reads only the pricing record, for the periodic refresh.
func (l *Loader) LoadPricing(ctx context.Context) (unitPrice float64, target time.Time, err error) {
	p, err := l.Pricing.FetchPricing(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read pricing from %s: %w", l.Pricing.Name(), err)
	}
	return clampDecimal(p.UnitPrice), p.TargetDate, nil
}

func (l *Loader) build(accountID string, acct *model.AccountRecord, p *model.PricingRecord) model.AccrualBaseline {
	now := l.Clock.Now()

	rate := clampRate(p.MonthlyRate.InexactFloat64())
	if rate == 0 {
		rate = clampRate(l.DefaultRate)
	}

	b := model.AccrualBaseline{
		AccountID:        accountID,
		Principal:        clampDecimal(acct.Principal),
		AccumulatedYield: clampDecimal(acct.AccumulatedYield),
		BaselineAt:       acct.BaselineAt,
		MonthlyRate:      rate,
		UnitPrice:        clampDecimal(p.UnitPrice),
		TargetDate:       p.TargetDate,
		DaysUntilTarget:  calculator.DaysUntil(p.TargetDate, now),
	}
	if max := b.MaxMonthlyYield(); b.AccumulatedYield > max {
		b.AccumulatedYield = max
	}
	// A baseline in the future would freeze accrual until it passes.
	if b.BaselineAt.IsZero() || b.BaselineAt.After(now) {
		b.BaselineAt = now
	}
	return b
}

func clampDecimal(d decimal.Decimal) float64 {
	v := d.InexactFloat64()
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clampRate(r float64) float64 {
	if math.IsNaN(r) || r < 0 || r >= 1 {
		return 0
	}
	return r
}
