package store

import (
	"context"

	"github.com/shopspring/decimal"

	"YieldAccrual/internal/model"
)

// AccountReader reads per-account accrual rows.
type AccountReader interface {
	// GetAccount returns ErrNotFound if the account does not exist.
	GetAccount(ctx context.Context, accountID string) (*model.AccountRecord, error)
}

// SnapshotWriter persists the accrual snapshot of an account.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, accountID string, snap model.Snapshot) error
}

// PricingReader reads the shared pricing/phase row.
type PricingReader interface {
	// GetPricing returns ErrNotFound if no pricing row has been set.
	GetPricing(ctx context.Context) (*model.PricingRecord, error)
}

// AccountAdmin covers the operations other processes perform on the store:
// seeding accounts, crediting deposits and claiming vested balances.
type AccountAdmin interface {
	CreateAccount(ctx context.Context, accountID string, principal decimal.Decimal) error
	// Credit adds amount to the principal.
	Credit(ctx context.Context, accountID string, amount decimal.Decimal) error
	// Claim moves the whole principal to withdrawn and resets accrual.
	Claim(ctx context.Context, accountID string) error
	SetPricing(ctx context.Context, p model.PricingRecord) error
}

// ChangeFeed delivers "record changed" notifications for one account.
// The returned channel is closed once ctx is done or the feed fails.
type ChangeFeed interface {
	Subscribe(ctx context.Context, accountID string) (<-chan model.ChangeEvent, error)
}

// Store is a complete durable store backend.
type Store interface {
	AccountReader
	SnapshotWriter
	PricingReader
	AccountAdmin
	Close() error
}

// ValidateAmount rejects negative amounts.
func ValidateAmount(accountID string, amount decimal.Decimal) error {
	if accountID == "" || amount.IsNegative() {
		return ErrInvalidInput
	}
	return nil
}
