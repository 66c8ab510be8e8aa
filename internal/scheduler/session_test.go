package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"YieldAccrual/internal/accrual"
	"YieldAccrual/internal/clock"
	"YieldAccrual/internal/model"
	"YieldAccrual/internal/observability"
	"YieldAccrual/internal/pricing"
	"YieldAccrual/internal/store"
	"YieldAccrual/internal/store/memory"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type fixture struct {
	session  *Session
	store    *memory.Store
	clock    *clock.Fake
	metrics  *observability.Metrics
	notifier *recordingNotifier
}

type fixtureOpt func(*memory.Store, *Deps)

func withFeed() fixtureOpt {
	return func(s *memory.Store, d *Deps) { d.Feed = s }
}

// newFixture seeds an account with principal at baseline t0 and opens an
// unstarted session. Intervals are long so cron never fires during a test;
// tick and persist are driven by hand.
func newFixture(t *testing.T, principal, accumulated int64, opts ...fixtureOpt) *fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	st, err := memory.New("", clk)
	require.NoError(t, err)
	if principal >= 0 {
		st.PutAccount(model.AccountRecord{
			AccountID:        "acct",
			Principal:        decimal.NewFromInt(principal),
			AccumulatedYield: decimal.NewFromInt(accumulated),
			BaselineAt:       t0,
		})
	}
	require.NoError(t, st.SetPricing(context.Background(), model.PricingRecord{
		MonthlyRate: decimal.RequireFromString("0.03"),
		UnitPrice:   decimal.NewFromInt(2),
		TargetDate:  t0.AddDate(0, 0, 30),
	}))

	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	n := &recordingNotifier{}
	deps := Deps{
		Loader:   accrual.NewLoader(st, pricing.NewStoreSource(st), 0.03, clk),
		Writer:   st,
		Clock:    clk,
		Notifier: n,
		Metrics:  metrics,
	}
	for _, o := range opts {
		o(st, &deps)
	}
	s := NewSession(SessionConfig{
		AccountID:       "acct",
		TickInterval:    time.Hour,
		PersistInterval: 2 * time.Hour,
		WriteTimeout:    time.Second,
		EchoEpsilon:     1e-4,
	}, deps)
	t.Cleanup(s.Close)

	return &fixture{session: s, store: st, clock: clk, metrics: metrics, notifier: n}
}

func TestSession_StartLoadsAndTicks(t *testing.T) {
	f := newFixture(t, 1000, 0)
	f.clock.Advance(time.Hour)

	var published []model.DerivedYield
	f.session.OnUpdate(func(d model.DerivedYield) { published = append(published, d) })

	require.NoError(t, f.session.Start(context.Background()))
	assert.Equal(t, model.StatusActive, f.session.Status())

	d, err := f.session.Derived()
	require.NoError(t, err)
	assert.InDelta(t, 0.0416667, d.CurrentYield.Native, 1e-6)
	assert.InDelta(t, 0.0833333, d.CurrentYield.Priced, 1e-6)
	assert.Equal(t, 30, d.DaysUntilTarget)
	require.Len(t, published, 1)
	assert.Equal(t, d, published[0])
}

func TestSession_ZeroPrincipalDoesNotTick(t *testing.T) {
	f := newFixture(t, 0, 0)

	require.NoError(t, f.session.Start(context.Background()))
	assert.Equal(t, model.StatusNoAccrual, f.session.Status())
	assert.Zero(t, f.session.tickEntry)

	_, err := f.session.Derived()
	assert.ErrorIs(t, err, ErrNoAccrual)
}

func TestSession_LoadFailureLeavesSessionInert(t *testing.T) {
	f := newFixture(t, -1, 0)

	err := f.session.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, accrual.ErrLoad)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, model.StatusLoadFailed, f.session.Status())
	assert.False(t, f.session.running)
	assert.Zero(t, f.session.tickEntry)

	_, err = f.session.Derived()
	assert.ErrorIs(t, err, accrual.ErrLoad)

	// The account appears later; refresh recovers.
	require.NoError(t, f.store.CreateAccount(context.Background(), "acct", decimal.NewFromInt(500)))
	require.NoError(t, f.session.Refresh(context.Background()))
	assert.Equal(t, model.StatusActive, f.session.Status())
	assert.True(t, f.session.running)
}

func TestSession_PersistAdvancesBaselineWithoutReload(t *testing.T) {
	f := newFixture(t, 1000, 0)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))

	f.clock.Advance(10 * time.Second)
	f.session.tick()
	before, err := f.session.Derived()
	require.NoError(t, err)

	f.session.persist(ctx)

	b, ok := f.session.state.Baseline()
	require.True(t, ok)
	assert.Equal(t, before.CurrentYield.Native, b.AccumulatedYield)
	assert.Equal(t, before.ComputedAt, b.BaselineAt)

	rec, err := f.store.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, f.session.ID(), rec.WrittenBy)
	assert.Equal(t, before.ComputedAt, rec.BaselineAt)

	// The echo of our own write carries the same principal.
	gen := f.session.state.Generation()
	reads := f.store.AccountReads()
	f.session.handleChange(ctx, model.ChangeEvent{AccountID: "acct", Principal: 1000, WrittenBy: f.session.ID()})

	assert.Equal(t, reads, f.store.AccountReads(), "echo must not reload")
	assert.Equal(t, gen, f.session.state.Generation())
	b, _ = f.session.state.Baseline()
	assert.Equal(t, before.ComputedAt, b.BaselineAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reconciles.WithLabelValues("echo")))

	f.clock.Advance(time.Second)
	f.session.tick()
	after, err := f.session.Derived()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.CurrentYield.Native, before.CurrentYield.Native)
}

func TestSession_ExternalChangeReloadsOnce(t *testing.T) {
	f := newFixture(t, 1000, 0)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))
	require.Equal(t, 1, f.store.AccountReads())

	require.NoError(t, f.store.Credit(ctx, "acct", decimal.NewFromInt(500)))
	f.session.handleChange(ctx, model.ChangeEvent{AccountID: "acct", Principal: 1500})

	assert.Equal(t, 2, f.store.AccountReads(), "exactly one loader cycle")
	assert.Equal(t, 1500.0, f.session.state.Principal())
	assert.Equal(t, model.StatusActive, f.session.Status())
	assert.NotZero(t, f.session.tickEntry)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reconciles.WithLabelValues("external")))

	require.Eventually(t, func() bool { return f.notifier.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_SubEpsilonChangeIsTreatedAsEcho(t *testing.T) {
	f := newFixture(t, 1000, 0)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))

	f.session.handleChange(ctx, model.ChangeEvent{AccountID: "acct", Principal: 1000.00005, WrittenBy: "someone-else"})
	assert.Equal(t, 1, f.store.AccountReads())

	f.session.handleChange(ctx, model.ChangeEvent{AccountID: "other", Principal: 5})
	assert.Equal(t, 1, f.store.AccountReads(), "events for other accounts are ignored")
}

func TestSession_PersistFailureKeepsBaseline(t *testing.T) {
	f := newFixture(t, 1000, 0)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))

	f.store.SetWriteError(errors.New("store unavailable"))
	f.clock.Advance(time.Minute)
	f.session.tick()
	f.session.persist(ctx)

	b, _ := f.session.state.Baseline()
	assert.Equal(t, t0, b.BaselineAt, "failed write must not advance")
	assert.Equal(t, 0.0, b.AccumulatedYield)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Persists.WithLabelValues("error")))

	d, err := f.session.Derived()
	require.NoError(t, err)
	assert.Greater(t, d.CurrentYield.Native, 0.0, "display keeps accruing")

	f.store.SetWriteError(nil)
	f.session.persist(ctx)
	b, _ = f.session.state.Baseline()
	assert.Equal(t, d.ComputedAt, b.BaselineAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Persists.WithLabelValues("ok")))
}

func TestSession_StaleWriteDoesNotOverwriteReload(t *testing.T) {
	f := newFixture(t, 1000, 0)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))

	f.clock.Advance(time.Hour)
	f.session.tick()

	// A loader cycle lands between the tick and the write.
	f.session.state.Replace(model.AccrualBaseline{AccountID: "acct", Principal: 2000, MonthlyRate: 0.03, BaselineAt: t0.Add(time.Hour)})
	f.session.persist(ctx)

	b, _ := f.session.state.Baseline()
	assert.Equal(t, 2000.0, b.Principal)
	assert.Equal(t, 0.0, b.AccumulatedYield)
	assert.Equal(t, t0.Add(time.Hour), b.BaselineAt)
}

func TestSession_ClaimStopsTicker(t *testing.T) {
	f := newFixture(t, 1000, 0)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))
	require.NotZero(t, f.session.tickEntry)

	require.NoError(t, f.store.Claim(ctx, "acct"))
	f.session.handleChange(ctx, model.ChangeEvent{AccountID: "acct", Principal: 0})

	assert.Equal(t, model.StatusNoAccrual, f.session.Status())
	assert.Zero(t, f.session.tickEntry)
	_, err := f.session.Derived()
	assert.ErrorIs(t, err, ErrNoAccrual)

	// Nothing to persist without accrual.
	f.session.persist(ctx)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Persists.WithLabelValues("ok")))
}

func TestSession_CapAlertSentOncePerBaseline(t *testing.T) {
	f := newFixture(t, 1000, 30)
	require.NoError(t, f.session.Start(context.Background()))

	d, err := f.session.Derived()
	require.NoError(t, err)
	assert.True(t, d.Capped)
	assert.Equal(t, 30.0, d.CurrentYield.Native)

	f.clock.Advance(time.Hour)
	f.session.tick()
	f.session.tick()

	require.Eventually(t, func() bool { return f.notifier.count() >= 1 }, time.Second, 5*time.Millisecond)
	f.session.Close()
	assert.Equal(t, 1, f.notifier.count())
}

func TestSession_RefreshPricingKeepsZeroPoint(t *testing.T) {
	f := newFixture(t, 1000, 0)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))
	gen := f.session.state.Generation()

	require.NoError(t, f.store.SetPricing(ctx, model.PricingRecord{
		MonthlyRate: decimal.RequireFromString("0.03"),
		UnitPrice:   decimal.NewFromInt(5),
		TargetDate:  t0.AddDate(0, 0, 10),
	}))
	f.session.refreshPricing(ctx)

	b, _ := f.session.state.Baseline()
	assert.Equal(t, 5.0, b.UnitPrice)
	assert.Equal(t, 10, b.DaysUntilTarget)
	assert.Equal(t, t0, b.BaselineAt)
	assert.Equal(t, gen, f.session.state.Generation())
}

func TestSession_FeedEchoAndExternal(t *testing.T) {
	f := newFixture(t, 1000, 0, withFeed())
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))

	f.clock.Advance(30 * time.Second)
	f.session.tick()
	f.session.persist(ctx)

	echo := f.metrics.Reconciles.WithLabelValues("echo")
	require.Eventually(t, func() bool { return testutil.ToFloat64(echo) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.store.AccountReads())

	require.NoError(t, f.store.Credit(ctx, "acct", decimal.NewFromInt(1000)))
	external := f.metrics.Reconciles.WithLabelValues("external")
	require.Eventually(t, func() bool { return testutil.ToFloat64(external) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.session.state.Principal() == 2000 }, time.Second, 5*time.Millisecond)
}

func TestSession_CloseStopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, 1000, 0, withFeed())
	require.NoError(t, f.session.Start(context.Background()))
	f.session.Close()
	f.session.Close()

	assert.Equal(t, model.StatusClosed, f.session.Status())
	_, err := f.session.Derived()
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, f.session.Refresh(context.Background()), ErrSessionClosed)
	assert.Empty(t, f.session.cron.Entries())
}

func TestSession_ObserversSeeEveryTick(t *testing.T) {
	f := newFixture(t, 1000, 0)

	var first, second []float64
	f.session.OnUpdate(func(d model.DerivedYield) { first = append(first, d.CurrentYield.Native) })
	f.session.OnUpdate(func(d model.DerivedYield) { second = append(second, d.CurrentYield.Native) })

	require.NoError(t, f.session.Start(context.Background()))
	f.clock.Advance(time.Minute)
	f.session.tick()

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Greater(t, first[1], first[0])
}

func TestSession_TickStopsWhenPrincipalDropsToZero(t *testing.T) {
	f := newFixture(t, 1000, 0)
	require.NoError(t, f.session.Start(context.Background()))
	require.NotZero(t, f.session.tickEntry)

	f.session.state.Replace(model.AccrualBaseline{AccountID: "acct", MonthlyRate: 0.03, BaselineAt: t0})
	f.session.tick()

	assert.Equal(t, model.StatusNoAccrual, f.session.Status())
	assert.Zero(t, f.session.tickEntry)
	_, err := f.session.Derived()
	assert.ErrorIs(t, err, ErrNoAccrual)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.TickerRunning.WithLabelValues("acct")))
}
