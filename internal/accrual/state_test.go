package accrual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"YieldAccrual/internal/model"
)

func TestState_AdvanceRespectsGeneration(t *testing.T) {
	s := NewState()
	assert.False(t, s.Advance(0, 1, t0), "no baseline yet")

	gen := s.Replace(model.AccrualBaseline{Principal: 1000, MonthlyRate: 0.03, BaselineAt: t0})
	assert.True(t, s.Advance(gen, 2, t0.Add(time.Minute)))

	b, ok := s.Baseline()
	assert.True(t, ok)
	assert.Equal(t, 2.0, b.AccumulatedYield)
	assert.Equal(t, t0.Add(time.Minute), b.BaselineAt)

	newGen := s.Replace(model.AccrualBaseline{Principal: 2000, MonthlyRate: 0.03, BaselineAt: t0})
	assert.NotEqual(t, gen, newGen)
	assert.False(t, s.Advance(gen, 5, t0.Add(time.Hour)), "stale generation must not overwrite a reload")

	b, _ = s.Baseline()
	assert.Equal(t, 0.0, b.AccumulatedYield)
	assert.Equal(t, 2000.0, s.Principal())
}

func TestState_AdvanceClampsToCap(t *testing.T) {
	s := NewState()
	gen := s.Replace(model.AccrualBaseline{Principal: 100, MonthlyRate: 0.1, BaselineAt: t0})

	assert.True(t, s.Advance(gen, 50, t0))
	b, _ := s.Baseline()
	assert.Equal(t, 10.0, b.AccumulatedYield)

	assert.True(t, s.Advance(gen, -4, t0))
	b, _ = s.Baseline()
	assert.Equal(t, 0.0, b.AccumulatedYield)
}

func TestState_UpdatePricingKeepsGeneration(t *testing.T) {
	s := NewState()
	gen := s.Replace(model.AccrualBaseline{Principal: 100, MonthlyRate: 0.1, BaselineAt: t0, UnitPrice: 1})

	s.UpdatePricing(3, t0.AddDate(0, 0, 5), 5)
	assert.Equal(t, gen, s.Generation())
	b, _ := s.Baseline()
	assert.Equal(t, 3.0, b.UnitPrice)
	assert.Equal(t, 5, b.DaysUntilTarget)

	s.Clear()
	_, ok := s.Baseline()
	assert.False(t, ok)
	assert.NotEqual(t, gen, s.Generation())
}
