package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

// Source provides the shared pricing/phase record: monthly rate, unit price
// and the target date.
type Source interface {
	FetchPricing(ctx context.Context) (*model.PricingRecord, error)
	Name() string
}

// StoreSource reads pricing from the durable store. A store without a
// pricing row yields an empty record: default rate, no unit price, no target.
type StoreSource struct {
	Reader store.PricingReader
}

func NewStoreSource(r store.PricingReader) *StoreSource { return &StoreSource{Reader: r} }

func (s *StoreSource) Name() string { return "store" }

func (s *StoreSource) FetchPricing(ctx context.Context) (*model.PricingRecord, error) {
	p, err := s.Reader.GetPricing(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &model.PricingRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pricing row: %w", err)
	}
	return p, nil
}

// StaticSource returns fixed values, typically from config.
type StaticSource struct {
	Record model.PricingRecord
}

// NewStaticSource builds a StaticSource. A zero rate defers to the engine default.
func NewStaticSource(monthlyRate, unitPrice float64, target time.Time) *StaticSource {
	return &StaticSource{Record: model.PricingRecord{
		MonthlyRate: decimal.NewFromFloat(monthlyRate),
		UnitPrice:   decimal.NewFromFloat(unitPrice),
		TargetDate:  target,
	}}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) FetchPricing(_ context.Context) (*model.PricingRecord, error) {
	rec := s.Record
	return &rec, nil
}
