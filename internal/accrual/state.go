package accrual

import (
	"sync"
	"time"

	"YieldAccrual/internal/model"
)

// State holds the live baseline of one session.
//
// Only the loader (Replace, UpdatePricing, Clear) and the persistence cycle
// (Advance) mutate it; the ticker only reads.
type State struct {
	mu         sync.RWMutex
	baseline   model.AccrualBaseline
	loaded     bool
	generation uint64
}

// NewState creates an empty State with no baseline.
func NewState() *State {
	return &State{}
}

// Baseline returns a copy of the current baseline and whether one exists.
func (s *State) Baseline() (model.AccrualBaseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline, s.loaded
}

// Snapshot returns the baseline together with its generation, read atomically.
func (s *State) Snapshot() (model.AccrualBaseline, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline, s.generation, s.loaded
}

// Generation returns the baseline generation. It changes on every Replace.
func (s *State) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Principal returns the locally known principal, 0 if no baseline exists.
func (s *State) Principal() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline.Principal
}

// Replace installs a freshly loaded baseline and starts a new generation.
func (s *State) Replace(b model.AccrualBaseline) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = b
	s.loaded = true
	s.generation++
	return s.generation
}

// Advance moves the baseline forward after a successful persistence write.
// It is a no-op (returns false) when a reload happened after gen was read,
// so a slow write never overwrites a newer baseline.
func (s *State) Advance(gen uint64, accumulatedYield float64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded || gen != s.generation {
		return false
	}
	if accumulatedYield < 0 {
		accumulatedYield = 0
	}
	if max := s.baseline.MaxMonthlyYield(); accumulatedYield > max {
		accumulatedYield = max
	}
	s.baseline.AccumulatedYield = accumulatedYield
	s.baseline.BaselineAt = at
	return true
}

// UpdatePricing swaps unit price and target date without touching the accrual
// zero-point, so the generation is preserved.
func (s *State) UpdatePricing(unitPrice float64, target time.Time, daysUntil int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return
	}
	s.baseline.UnitPrice = unitPrice
	s.baseline.TargetDate = target
	s.baseline.DaysUntilTarget = daysUntil
}

// Clear drops the baseline, e.g. after a failed reload.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = model.AccrualBaseline{}
	s.loaded = false
	s.generation++
}
