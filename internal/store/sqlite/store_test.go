package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"YieldAccrual/internal/clock"
	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T, path string, clk clock.Clock) *Store {
	t.Helper()
	s, err := New(path, clk)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AccountLifecycle(t *testing.T) {
	clk := clock.NewFake(t0)
	s := openStore(t, filepath.Join(t.TempDir(), "accrual.db"), clk)
	ctx := context.Background()

	_, err := s.GetAccount(ctx, "acct")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CreateAccount(ctx, "acct", decimal.RequireFromString("1000.5")))
	assert.ErrorIs(t, s.CreateAccount(ctx, "acct", decimal.NewFromInt(1)), store.ErrAlreadyExists)
	assert.ErrorIs(t, s.CreateAccount(ctx, "neg", decimal.NewFromInt(-1)), store.ErrInvalidInput)

	clk.Advance(time.Minute)
	require.NoError(t, s.WriteSnapshot(ctx, "acct", model.Snapshot{
		AccumulatedYield: 0.25,
		BaselineAt:       t0.Add(time.Minute),
		WrittenBy:        "session-1",
	}))

	rec, err := s.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, rec.Principal.Equal(decimal.RequireFromString("1000.5")))
	assert.True(t, rec.AccumulatedYield.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, t0.Add(time.Minute), rec.BaselineAt)
	assert.Equal(t, "session-1", rec.WrittenBy)

	require.NoError(t, s.Credit(ctx, "acct", decimal.RequireFromString("0.5")))
	rec, err = s.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, rec.Principal.Equal(decimal.NewFromInt(1001)))
	assert.Empty(t, rec.WrittenBy, "external writes clear written_by")

	clk.Advance(time.Hour)
	require.NoError(t, s.Claim(ctx, "acct"))
	rec, err = s.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, rec.Principal.IsZero())
	assert.True(t, rec.AccumulatedYield.IsZero())
	assert.True(t, rec.Withdrawn.Equal(decimal.RequireFromString("1001.25")))
	assert.Equal(t, clk.Now(), rec.BaselineAt)

	assert.ErrorIs(t, s.WriteSnapshot(ctx, "missing", model.Snapshot{}), store.ErrNotFound)
	assert.ErrorIs(t, s.Credit(ctx, "missing", decimal.NewFromInt(1)), store.ErrNotFound)
}

func TestStore_Pricing(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "accrual.db"), clock.NewFake(t0))
	ctx := context.Background()

	_, err := s.GetPricing(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	for _, price := range []string{"1.5", "2.25"} {
		require.NoError(t, s.SetPricing(ctx, model.PricingRecord{
			MonthlyRate: decimal.RequireFromString("0.03"),
			UnitPrice:   decimal.RequireFromString(price),
			TargetDate:  t0.AddDate(0, 0, 30),
		}))
	}

	p, err := s.GetPricing(ctx)
	require.NoError(t, err)
	assert.True(t, p.UnitPrice.Equal(decimal.RequireFromString("2.25")))
	assert.Equal(t, t0.AddDate(0, 0, 30), p.TargetDate)

	assert.ErrorIs(t, s.SetPricing(ctx, model.PricingRecord{UnitPrice: decimal.NewFromInt(-1)}), store.ErrInvalidInput)
}

func TestStore_SubscribeSeesOtherProcessWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accrual.db")
	reader := openStore(t, path, clock.Real{})
	writer := openStore(t, path, clock.Real{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, writer.CreateAccount(ctx, "acct", decimal.NewFromInt(100)))

	ch, err := reader.Subscribe(ctx, "acct")
	require.NoError(t, err)

	require.NoError(t, writer.Credit(ctx, "acct", decimal.NewFromInt(50)))

	select {
	case evt := <-ch:
		assert.Equal(t, "acct", evt.AccountID)
		assert.Equal(t, 150.0, evt.Principal)
		assert.Empty(t, evt.WrittenBy)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed channel not closed after cancel")
	}
}

func TestStore_SubscribeRejectsMemoryDatabase(t *testing.T) {
	s := openStore(t, ":memory:", clock.NewFake(t0))
	_, err := s.Subscribe(context.Background(), "acct")
	assert.Error(t, err)
}
