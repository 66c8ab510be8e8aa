package broker

import (
	"context"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

// Publisher sends change notifications to other processes.
type Publisher interface {
	PublishChange(ctx context.Context, evt model.ChangeEvent) error
}

// PublishingStore wraps a store and publishes the account row after every
// successful write. A publish failure is logged and does not fail the write.
type PublishingStore struct {
	store.Store
	pub Publisher
}

// NewPublishingStore wraps s so every mutation is announced on pub.
func NewPublishingStore(s store.Store, pub Publisher) *PublishingStore {
	return &PublishingStore{Store: s, pub: pub}
}

func (p *PublishingStore) WriteSnapshot(ctx context.Context, accountID string, snap model.Snapshot) error {
	if err := p.Store.WriteSnapshot(ctx, accountID, snap); err != nil {
		return err
	}
	p.announce(ctx, accountID)
	return nil
}

func (p *PublishingStore) CreateAccount(ctx context.Context, accountID string, principal decimal.Decimal) error {
	if err := p.Store.CreateAccount(ctx, accountID, principal); err != nil {
		return err
	}
	p.announce(ctx, accountID)
	return nil
}

func (p *PublishingStore) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if err := p.Store.Credit(ctx, accountID, amount); err != nil {
		return err
	}
	p.announce(ctx, accountID)
	return nil
}

func (p *PublishingStore) Claim(ctx context.Context, accountID string) error {
	if err := p.Store.Claim(ctx, accountID); err != nil {
		return err
	}
	p.announce(ctx, accountID)
	return nil
}

func (p *PublishingStore) announce(ctx context.Context, accountID string) {
	entry := log.WithField("account", accountID)
	rec, err := p.Store.GetAccount(ctx, accountID)
	if err != nil {
		entry.WithError(err).Warn("read account for change notification failed")
		return
	}
	evt := model.ChangeEvent{
		AccountID: accountID,
		Principal: rec.Principal.InexactFloat64(),
		WrittenBy: rec.WrittenBy,
		At:        rec.UpdatedAt,
	}
	if err := p.pub.PublishChange(ctx, evt); err != nil {
		entry.WithError(err).Warn("publish change notification failed")
	}
}
