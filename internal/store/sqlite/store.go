// Package sqlite is a file-backed store on modernc.org/sqlite. Changes made
// by other processes are picked up through fsnotify on the database files.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"YieldAccrual/internal/clock"
	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

const pricingRowID = 1

// Store implements store.Store and store.ChangeFeed.
type Store struct {
	db    *sql.DB
	path  string
	clock clock.Clock
}

// New opens (or creates) the database at path and applies the schema.
func New(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer connection keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db, path: path, clock: clk}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithField("path", path).Info("sqlite store opened")
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id        TEXT PRIMARY KEY,
			principal         TEXT NOT NULL DEFAULT '0',
			accumulated_yield TEXT NOT NULL DEFAULT '0',
			withdrawn         TEXT NOT NULL DEFAULT '0',
			baseline_at       INTEGER NOT NULL,
			written_by        TEXT NOT NULL DEFAULT '',
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pricing (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			monthly_rate TEXT NOT NULL DEFAULT '0',
			unit_price   TEXT NOT NULL DEFAULT '0',
			target_date  INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

const selectAccount = `SELECT account_id, principal, accumulated_yield, withdrawn,
	baseline_at, written_by, updated_at FROM accounts WHERE account_id = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.AccountRecord, error) {
	var (
		rec                         model.AccountRecord
		principal, yield, withdrawn string
		baselineAt, updatedAt       int64
	)
	err := row.Scan(&rec.AccountID, &principal, &yield, &withdrawn, &baselineAt, &rec.WrittenBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	rec.BaselineAt = fromNanos(baselineAt)
	rec.UpdatedAt = fromNanos(updatedAt)
	return &rec, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*model.AccountRecord, error) {
	if accountID == "" {
		return nil, store.ErrInvalidInput
	}
	rec, err := scanAccount(s.db.QueryRowContext(ctx, selectAccount, accountID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return rec, err
}

func (s *Store) WriteSnapshot(ctx context.Context, accountID string, snap model.Snapshot) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts
		SET accumulated_yield = ?, baseline_at = ?, written_by = ?, updated_at = ?
		WHERE account_id = ?`,
		decimal.NewFromFloat(snap.AccumulatedYield).String(), toNanos(snap.BaselineAt),
		snap.WrittenBy, toNanos(s.clock.Now()), accountID)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", accountID, err)
	}
	return mustAffect(res)
}

func (s *Store) GetPricing(ctx context.Context) (*model.PricingRecord, error) {
	var (
		rate, price string
		target      int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT monthly_rate, unit_price, target_date FROM pricing WHERE id = ?`,
		pricingRowID).Scan(&rate, &price, &target)
	if errors.Is(err, sql.ErrNoRows) {
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
	p.TargetDate = fromNanos(target)
	return &p, nil
}

func (s *Store) SetPricing(ctx context.Context, p model.PricingRecord) error {
	if p.MonthlyRate.IsNegative() || p.UnitPrice.IsNegative() {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO pricing (id, monthly_rate, unit_price, target_date)
		VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET monthly_rate = excluded.monthly_rate,
			unit_price = excluded.unit_price, target_date = excluded.target_date`,
		pricingRowID, p.MonthlyRate.String(), p.UnitPrice.String(), toNanos(p.TargetDate))
	if err != nil {
		return fmt.Errorf("set pricing: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, accountID string, principal decimal.Decimal) error {
	if err := store.ValidateAmount(accountID, principal); err != nil {
		return err
	}
	now := toNanos(s.clock.Now())
	res, err := s.db.ExecContext(ctx, `INSERT INTO accounts (account_id, principal, baseline_at, updated_at)
		VALUES (?,?,?,?) ON CONFLICT(account_id) DO NOTHING`,
		accountID, principal.String(), now, now)
	if err != nil {
		return fmt.Errorf("create account %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// Credit adds amount to the principal inside a transaction so the decimal
// sum is exact.
func (s *Store) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if err := store.ValidateAmount(accountID, amount); err != nil {
		return err
	}
	return s.update(ctx, accountID, func(rec *model.AccountRecord) {
		rec.Principal = rec.Principal.Add(amount)
	})
}

func (s *Store) Claim(ctx context.Context, accountID string) error {
	if accountID == "" {
		return store.ErrInvalidInput
	}
	now := s.clock.Now()
	return s.update(ctx, accountID, func(rec *model.AccountRecord) {
		rec.Withdrawn = rec.Withdrawn.Add(rec.Principal).Add(rec.AccumulatedYield)
		rec.Principal = decimal.Zero
		rec.AccumulatedYield = decimal.Zero
		rec.BaselineAt = now
	})
}

// update applies fn to the current row and clears written_by, marking the
// change as external to any running session.
func (s *Store) update(ctx context.Context, accountID string, fn func(*model.AccountRecord)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanAccount(tx.QueryRowContext(ctx, selectAccount, accountID))
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("read account %s: %w", accountID, err)
	}
	fn(rec)

	_, err = tx.ExecContext(ctx, `UPDATE accounts
		SET principal = ?, accumulated_yield = ?, withdrawn = ?, baseline_at = ?, written_by = '', updated_at = ?
		WHERE account_id = ?`,
		rec.Principal.String(), rec.AccumulatedYield.String(), rec.Withdrawn.String(),
		toNanos(rec.BaselineAt), toNanos(s.clock.Now()), accountID)
	if err != nil {
		return fmt.Errorf("update account %s: %w", accountID, err)
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	log.Info("closing sqlite store")
	return s.db.Close()
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
