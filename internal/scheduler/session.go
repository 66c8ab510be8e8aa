package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/accrual"
	"YieldAccrual/internal/calculator"
	"YieldAccrual/internal/clock"
	"YieldAccrual/internal/model"
	"YieldAccrual/internal/notifier"
	"YieldAccrual/internal/observability"
	"YieldAccrual/internal/recorder"
	"YieldAccrual/internal/store"
)

var (
	// ErrNoBaseline is returned by read APIs before a baseline has been loaded.
	ErrNoBaseline = errors.New("no baseline loaded")

	// ErrNoAccrual is returned while the principal is zero.
	ErrNoAccrual = errors.New("no accrual: principal is zero")

	// ErrSessionClosed is returned by any operation on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// SessionConfig holds the cadences and tolerances of one session.
type SessionConfig struct {
	AccountID       string
	TickInterval    time.Duration
	PersistInterval time.Duration
	WriteTimeout    time.Duration
	EchoEpsilon     float64
	// PricingCron is a six-field cron spec; empty disables pricing refresh.
	PricingCron string
}

// Deps are the external collaborators of a session.
type Deps struct {
	Loader   *accrual.Loader
	Writer   store.SnapshotWriter
	Feed     store.ChangeFeed
	Clock    clock.Clock
	Recorder recorder.Recorder
	Notifier notifier.Notifier
	Metrics  *observability.Metrics
}

// Session runs the accrual lifecycle for one account: the live ticker, the
// persistence cycle, pricing refresh and the reconciliation listener. Each
// session owns its own cron instance and goroutines; Close tears all of them
// down.
type Session struct {
	id    string
	cfg   SessionConfig
	deps  Deps
	state *accrual.State
	cron  *cron.Cron
	log   *log.Entry

	// reloadMu serializes loader cycles.
	reloadMu sync.Mutex

	mu           sync.Mutex
	status       model.Status
	loadErr      error
	latest       *model.DerivedYield
	latestGen    uint64
	capAlerted   uint64
	observers    []func(model.DerivedYield)
	tickEntry    cron.EntryID
	persistEntry cron.EntryID
	pricingEntry cron.EntryID
	running      bool
	closed       bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewSession creates an idle session. Nothing runs until Start.
func NewSession(cfg SessionConfig, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	if cfg.TickInterval < time.Second {
		cfg.TickInterval = time.Second
	}
	if cfg.PersistInterval < cfg.TickInterval {
		cfg.PersistInterval = 10 * cfg.TickInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.EchoEpsilon <= 0 {
		cfg.EchoEpsilon = 1e-4
	}

	id := uuid.NewString()
	entry := log.WithFields(log.Fields{"account": cfg.AccountID, "session": id[:8]})
	cronLog := cron.PrintfLogger(entry)

	return &Session{
		id:    id,
		cfg:   cfg,
		deps:  deps,
		state: accrual.NewState(),
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		log:    entry,
		status: model.StatusIdle,
	}
}

// ID returns the session identifier stamped on every snapshot write.
func (s *Session) ID() string { return s.id }

// AccountID returns the account this session accrues for.
func (s *Session) AccountID() string { return s.cfg.AccountID }

// State exposes the live accrual state.
func (s *Session) State() *accrual.State { return s.state }

// Status returns what the session is currently doing.
func (s *Session) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnUpdate registers an observer called with every published DerivedYield.
func (s *Session) OnUpdate(fn func(model.DerivedYield)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Derived returns the most recent DerivedYield.
func (s *Session) Derived() (model.DerivedYield, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return model.DerivedYield{}, ErrSessionClosed
	case s.loadErr != nil:
		return model.DerivedYield{}, s.loadErr
	case s.status == model.StatusNoAccrual:
		return model.DerivedYield{}, ErrNoAccrual
	case s.latest == nil:
		return model.DerivedYield{}, ErrNoBaseline
	}
	return *s.latest, nil
}

// Start loads the initial baseline and, on success, starts the periodic
// tasks. A load failure is returned and leaves the session inert.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	s.mu.Unlock()

	if err := s.reload(ctx); err != nil {
		return err
	}
	return s.startBackground()
}

// Refresh forces a loader cycle and restarts the ticker from the new baseline.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	closed, started := s.closed, s.ctx != nil
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if !started {
		return s.Start(ctx)
	}
	if err := s.reload(ctx); err != nil {
		return err
	}
	return s.startBackground()
}

// Close stops every task of the session and waits for them to finish.
// It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = model.StatusClosed
	entries := []cron.EntryID{s.tickEntry, s.persistEntry, s.pricingEntry}
	s.tickEntry, s.persistEntry, s.pricingEntry = 0, 0, 0
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, id := range entries {
		if id != 0 {
			s.cron.Remove(id)
		}
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.deps.Metrics.Forget(s.cfg.AccountID)
	s.log.Info("session closed")
}

// startBackground registers the persistence and pricing jobs, the
// reconciliation listener and starts the cron. It runs once per session.
func (s *Session) startBackground() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.running {
		return nil
	}

	persistID, err := s.cron.AddFunc(every(s.cfg.PersistInterval), func() { s.persist(s.ctx) })
	if err != nil {
		return fmt.Errorf("register persist task: %w", err)
	}
	s.persistEntry = persistID

	if s.cfg.PricingCron != "" {
		pricingID, err := s.cron.AddFunc(s.cfg.PricingCron, func() { s.refreshPricing(s.ctx) })
		if err != nil {
			s.cron.Remove(persistID)
			s.persistEntry = 0
			return fmt.Errorf("register pricing task: %w", err)
		}
		s.pricingEntry = pricingID
	}

	if s.deps.Feed != nil {
		ch, err := s.deps.Feed.Subscribe(s.ctx, s.cfg.AccountID)
		if err != nil {
			s.log.WithError(err).Error("subscribe to change feed failed, reconciliation disabled")
		} else {
			s.wg.Add(1)
			go s.listen(ch)
		}
	}

	s.cron.Start()
	s.running = true
	s.log.WithFields(log.Fields{
		"tick":    s.cfg.TickInterval,
		"persist": s.cfg.PersistInterval,
	}).Info("session started")
	return nil
}

// reload runs a full loader cycle and restarts the ticker.
func (s *Session) reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	b, err := s.deps.Loader.Load(ctx, s.cfg.AccountID)
	if err != nil {
		s.deps.Metrics.Load(false)
		s.state.Clear()
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrSessionClosed
		}
		s.loadErr = err
		s.latest = nil
		s.status = model.StatusLoadFailed
		s.removeTickerLocked()
		s.mu.Unlock()
		s.record(recorder.EventLoadFailed, 0, 0, err.Error())
		s.log.WithError(err).Error("load baseline failed")
		return err
	}

	s.deps.Metrics.Load(true)
	s.state.Replace(b)

	s.mu.Lock()
	s.loadErr = nil
	s.latest = nil
	err = s.restartTickerLocked(b)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.log.WithFields(log.Fields{
		"principal":   b.Principal,
		"accumulated": b.AccumulatedYield,
		"baseline_at": b.BaselineAt,
	}).Info("baseline loaded")

	if b.Principal > 0 {
		s.tick()
	}
	return nil
}

// restartTickerLocked replaces the ticker job. The ticker only runs while
// principal > 0. Callers hold s.mu.
func (s *Session) restartTickerLocked(b model.AccrualBaseline) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.removeTickerLocked()
	if b.Principal <= 0 {
		s.status = model.StatusNoAccrual
		return nil
	}
	id, err := s.cron.AddFunc(every(s.cfg.TickInterval), s.tick)
	if err != nil {
		return fmt.Errorf("register tick task: %w", err)
	}
	s.tickEntry = id
	s.status = model.StatusActive
	s.deps.Metrics.SetTickerRunning(s.cfg.AccountID, true)
	return nil
}

func (s *Session) removeTickerLocked() {
	if s.tickEntry != 0 {
		s.cron.Remove(s.tickEntry)
		s.tickEntry = 0
	}
	s.deps.Metrics.SetTickerRunning(s.cfg.AccountID, false)
}

// tick recomputes and publishes the DerivedYield from the current baseline.
// It reads the state afresh every time and never mutates the baseline.
func (s *Session) tick() {
	b, gen, ok := s.state.Snapshot()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if b.Principal <= 0 {
		s.removeTickerLocked()
		s.status = model.StatusNoAccrual
		s.latest = nil
		s.mu.Unlock()
		s.log.Info("principal is zero, ticker stopped")
		return
	}

	d := calculator.Project(b, s.deps.Clock.Now())
	s.latest = &d
	s.latestGen = gen
	observers := slices.Clone(s.observers)
	capAlert := d.Capped && s.capAlerted != gen
	if capAlert {
		s.capAlerted = gen
	}
	s.mu.Unlock()

	s.deps.Metrics.Tick(s.cfg.AccountID, d.CurrentYield.Native)
	for _, fn := range observers {
		fn(d)
	}

	if capAlert {
		s.record(recorder.EventCapReached, b.Principal, d.CurrentYield.Native, "")
		s.notify(notifier.FormatCapReached(&d))
	}
}

// persist writes the latest ticker output and advances the baseline in place.
// It never reloads: re-reading after a self-write would pull a value that is
// already behind the ticker.
func (s *Session) persist(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.latest == nil || s.status != model.StatusActive {
		s.mu.Unlock()
		return
	}
	d, gen := *s.latest, s.latestGen
	s.mu.Unlock()

	snap := model.Snapshot{
		AccumulatedYield: d.CurrentYield.Native,
		BaselineAt:       d.ComputedAt,
		WrittenBy:        s.id,
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := s.deps.Writer.WriteSnapshot(wctx, s.cfg.AccountID, snap); err != nil {
		// The in-memory baseline stays authoritative; retry on the next cycle.
		s.deps.Metrics.Persist(false)
		s.record(recorder.EventPersistFailed, 0, snap.AccumulatedYield, err.Error())
		s.log.WithError(err).Warn("persist snapshot failed, retrying next cycle")
		return
	}
	s.deps.Metrics.Persist(true)

	if !s.state.Advance(gen, snap.AccumulatedYield, snap.BaselineAt) {
		s.log.Debug("baseline reloaded during write, advance skipped")
		return
	}
	s.record(recorder.EventPersistOK, 0, snap.AccumulatedYield, "")
	s.log.WithField("yield", snap.AccumulatedYield).Debug("snapshot persisted")
}

// listen consumes change notifications until the feed channel is closed.
func (s *Session) listen(ch <-chan model.ChangeEvent) {
	defer s.wg.Done()
	for evt := range ch {
		s.handleChange(s.ctx, evt)
	}
}

// handleChange decides whether a notification is an external change or an
// echo of this session's own persistence. Only a principal that moved by more
// than the epsilon triggers a reload.
func (s *Session) handleChange(ctx context.Context, evt model.ChangeEvent) {
	if evt.AccountID != "" && evt.AccountID != s.cfg.AccountID {
		return
	}
	local := s.state.Principal()
	if math.Abs(evt.Principal-local) <= s.cfg.EchoEpsilon {
		s.deps.Metrics.Reconcile(false)
		entry := s.log.WithField("principal", evt.Principal)
		if evt.WrittenBy != s.id {
			// Within tolerance but not our write; accepted as echo.
			entry.WithField("written_by", evt.WrittenBy).Debug("sub-epsilon change from another writer ignored")
			s.record(recorder.EventEcho, evt.Principal, 0, "written_by="+evt.WrittenBy)
			return
		}
		entry.Debug("self echo ignored")
		return
	}

	s.deps.Metrics.Reconcile(true)
	s.log.WithFields(log.Fields{
		"local":    local,
		"notified": evt.Principal,
	}).Info("external balance change, reloading baseline")

	if err := s.reload(ctx); err != nil {
		return
	}
	s.record(recorder.EventReload, evt.Principal, 0, fmt.Sprintf("principal %.8f -> %.8f", local, evt.Principal))
	s.notify(notifier.FormatReload(s.cfg.AccountID, local, s.state.Principal()))
}

// refreshPricing updates unit price and target date without moving the
// accrual zero-point.
func (s *Session) refreshPricing(ctx context.Context) {
	price, target, err := s.deps.Loader.LoadPricing(ctx)
	if err != nil {
		s.log.WithError(err).Warn("pricing refresh failed")
		return
	}
	s.state.UpdatePricing(price, target, calculator.DaysUntil(target, s.deps.Clock.Now()))
	s.log.WithField("unit_price", price).Debug("pricing refreshed")
}

func (s *Session) record(eventType string, principal, yield float64, note string) {
	if principal == 0 {
		principal = s.state.Principal()
	}
	if err := s.deps.Recorder.RecordEvent(&recorder.EngineEvent{
		AccountID: s.cfg.AccountID,
		SessionID: s.id,
		EventType: eventType,
		Principal: principal,
		Yield:     yield,
		Note:      note,
	}); err != nil {
		s.log.WithError(err).Error("record engine event")
	}
}

// notify sends an alert in the background, bounded by the session lifetime.
func (s *Session) notify(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx == nil {
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.deps.Notifier.Notify(ctx, text); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("send notification failed")
		}
	}()
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
