// Package postgres is the shared store backend on PostgreSQL. Row changes
// are broadcast by a trigger through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

const pgErrUniqueViolation = "23505"

// Store implements store.Store and store.ChangeFeed on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL. Sessions run in UTC.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	config.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

const selectAccount = `SELECT account_id, principal::text, accumulated_yield::text, withdrawn::text,
	baseline_at, written_by, updated_at FROM accounts WHERE account_id = $1`

func scanAccount(row pgx.Row) (*model.AccountRecord, error) {
	var (
		rec                         model.AccountRecord
		principal, yield, withdrawn string
	)
	err := row.Scan(&rec.AccountID, &principal, &yield, &withdrawn, &rec.BaselineAt, &rec.WrittenBy, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Principal, err = decimal.NewFromString(principal); err != nil {
		return nil, fmt.Errorf("decode principal: %w", err)
	}
	if rec.AccumulatedYield, err = decimal.NewFromString(yield); err != nil {
		return nil, fmt.Errorf("decode accumulated yield: %w", err)
	}
	if rec.Withdrawn, err = decimal.NewFromString(withdrawn); err != nil {
		return nil, fmt.Errorf("decode withdrawn: %w", err)
	}
	rec.BaselineAt = rec.BaselineAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*model.AccountRecord, error) {
	if accountID == "" {
		return nil, store.ErrInvalidInput
	}
	rec, err := scanAccount(s.pool.QueryRow(ctx, selectAccount, accountID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return rec, err
}

func (s *Store) WriteSnapshot(ctx context.Context, accountID string, snap model.Snapshot) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts
		SET accumulated_yield = $2::numeric, baseline_at = $3, written_by = $4, updated_at = now()
		WHERE account_id = $1`,
		accountID, decimal.NewFromFloat(snap.AccumulatedYield).String(), snap.BaselineAt, snap.WrittenBy)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetPricing(ctx context.Context) (*model.PricingRecord, error) {
	var (
		rate, price string
		target      *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT monthly_rate::text, unit_price::text, target_date
		FROM pricing WHERE id = 1`).Scan(&rate, &price, &target)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pricing: %w", err)
	}

	var p model.PricingRecord
	if p.MonthlyRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("decode monthly rate: %w", err)
	}
	if p.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("decode unit price: %w", err)
	}
	if target != nil {
		p.TargetDate = target.UTC()
	}
	return &p, nil
}

func (s *Store) SetPricing(ctx context.Context, p model.PricingRecord) error {
	if p.MonthlyRate.IsNegative() || p.UnitPrice.IsNegative() {
		return store.ErrInvalidInput
	}
	var target *time.Time
	if !p.TargetDate.IsZero() {
		target = &p.TargetDate
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO pricing (id, monthly_rate, unit_price, target_date)
		VALUES (1, $1::numeric, $2::numeric, $3)
		ON CONFLICT (id) DO UPDATE SET monthly_rate = EXCLUDED.monthly_rate,
			unit_price = EXCLUDED.unit_price, target_date = EXCLUDED.target_date`,
		p.MonthlyRate.String(), p.UnitPrice.String(), target)
	if err != nil {
		return fmt.Errorf("set pricing: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, accountID string, principal decimal.Decimal) error {
	if err := store.ValidateAmount(accountID, principal); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO accounts (account_id, principal) VALUES ($1, $2::numeric)`,
		accountID, principal.String())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create account %s: %w", accountID, err)
	}
	return nil
}

// Credit adds amount to the principal. written_by is cleared so running
// sessions treat the change as external.
func (s *Store) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if err := store.ValidateAmount(accountID, amount); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE accounts
		SET principal = principal + $2::numeric, written_by = '', updated_at = now()
		WHERE account_id = $1`, accountID, amount.String())
	if err != nil {
		return fmt.Errorf("credit %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, accountID string) error {
	if accountID == "" {
		return store.ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx, `UPDATE accounts
		SET withdrawn = withdrawn + principal + accumulated_yield,
			principal = 0, accumulated_yield = 0,
			baseline_at = now(), written_by = '', updated_at = now()
		WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error {
	log.Info("closing postgres store")
	s.pool.Close()
	return nil
}
