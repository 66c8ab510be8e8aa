package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/clock"
	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

const subscriberBuffer = 16

// Store is an in-memory implementation of store.Store and store.ChangeFeed.
// Every mutation, including snapshot writes, is fanned out to subscribers of
// the affected account, the same way a database trigger would.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*model.AccountRecord
	pricing  *model.PricingRecord
	subs     map[string]map[uint64]chan model.ChangeEvent
	nextSub  uint64
	filePath string
	clock    clock.Clock

	writeErr     error
	accountReads int
}

// New creates an empty store. If filePath is non-empty, state is loaded from
// and saved to that JSON file.
func New(filePath string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	s := &Store{
		accounts: make(map[string]*model.AccountRecord),
		subs:     make(map[string]map[uint64]chan model.ChangeEvent),
		filePath: filePath,
		clock:    clk,
	}
	if filePath != "" {
		snap, err := loadFile(filePath)
		if err != nil {
			return nil, err
		}
		for id, a := range snap.Accounts {
			s.accounts[id] = a
		}
		s.pricing = snap.Pricing
	}
	return s, nil
}

// SetWriteError makes WriteSnapshot fail with err until reset with nil.
func (s *Store) SetWriteError(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// AccountReads returns how many times GetAccount has been called.
func (s *Store) AccountReads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountReads
}

func (s *Store) GetAccount(_ context.Context, accountID string) (*model.AccountRecord, error) {
	if accountID == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountReads++
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// PutAccount stores a raw record as-is, bypassing validation. Used to model
// corrupt or adversarial rows.
func (s *Store) PutAccount(rec model.AccountRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.accounts[rec.AccountID] = &cp
	s.changedLocked(&cp)
}

func (s *Store) WriteSnapshot(_ context.Context, accountID string, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.AccumulatedYield = decimal.NewFromFloat(snap.AccumulatedYield)
	a.BaselineAt = snap.BaselineAt
	a.WrittenBy = snap.WrittenBy
	s.changedLocked(a)
	return nil
}

func (s *Store) GetPricing(_ context.Context) (*model.PricingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pricing == nil {
		return nil, store.ErrNotFound
	}
	cp := *s.pricing
	return &cp, nil
}

func (s *Store) SetPricing(_ context.Context, p model.PricingRecord) error {
	if p.MonthlyRate.IsNegative() || p.UnitPrice.IsNegative() {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.pricing = &cp
	s.saveLocked()
	return nil
}

func (s *Store) CreateAccount(_ context.Context, accountID string, principal decimal.Decimal) error {
	if err := store.ValidateAmount(accountID, principal); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; ok {
		return store.ErrAlreadyExists
	}
	now := s.clock.Now()
	a := &model.AccountRecord{
		AccountID:  accountID,
		Principal:  principal,
		BaselineAt: now,
	}
	s.accounts[accountID] = a
	s.changedLocked(a)
	return nil
}

func (s *Store) Credit(_ context.Context, accountID string, amount decimal.Decimal) error {
	if err := store.ValidateAmount(accountID, amount); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.Principal = a.Principal.Add(amount)
	a.WrittenBy = ""
	s.changedLocked(a)
	return nil
}

func (s *Store) Claim(_ context.Context, accountID string) error {
	if accountID == "" {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.Withdrawn = a.Withdrawn.Add(a.Principal).Add(a.AccumulatedYield)
	a.Principal = decimal.Zero
	a.AccumulatedYield = decimal.Zero
	a.BaselineAt = s.clock.Now()
	a.WrittenBy = ""
	s.changedLocked(a)
	return nil
}

// Subscribe registers for change events on accountID.
func (s *Store) Subscribe(ctx context.Context, accountID string) (<-chan model.ChangeEvent, error) {
	if accountID == "" {
		return nil, store.ErrInvalidInput
	}
	ch := make(chan model.ChangeEvent, subscriberBuffer)

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	if s.subs[accountID] == nil {
		s.subs[accountID] = make(map[uint64]chan model.ChangeEvent)
	}
	s.subs[accountID][id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[accountID], id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked()
	return nil
}

// changedLocked stamps the record, saves and notifies. Callers hold s.mu.
func (s *Store) changedLocked(a *model.AccountRecord) {
	a.UpdatedAt = s.clock.Now()
	s.saveLocked()

	evt := model.ChangeEvent{
		AccountID: a.AccountID,
		Principal: a.Principal.InexactFloat64(),
		WrittenBy: a.WrittenBy,
		At:        a.UpdatedAt,
	}
	for _, ch := range s.subs[a.AccountID] {
		select {
		case ch <- evt:
		default:
			log.WithField("account", a.AccountID).Warn("change subscriber is full, dropping notification")
		}
	}
}

func (s *Store) saveLocked() {
	if s.filePath == "" {
		return
	}
	if err := saveFile(s.filePath, fileSnapshot{Accounts: s.accounts, Pricing: s.pricing}); err != nil {
		log.Printf("[ERROR] failed to save memory store: %v", err)
	}
}
