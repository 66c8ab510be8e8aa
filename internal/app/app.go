// Package app assembles the engine's collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/accrual"
	"YieldAccrual/internal/broker"
	"YieldAccrual/internal/clock"
	"YieldAccrual/internal/config"
	"YieldAccrual/internal/notifier"
	"YieldAccrual/internal/observability"
	"YieldAccrual/internal/pricing"
	"YieldAccrual/internal/recorder"
	"YieldAccrual/internal/scheduler"
	"YieldAccrual/internal/store"
	"YieldAccrual/internal/store/memory"
	"YieldAccrual/internal/store/postgres"
	"YieldAccrual/internal/store/sqlite"
)

// App holds every long-lived dependency of a running engine.
type App struct {
	Config   *config.Config
	Clock    clock.Clock
	Store    store.Store
	Feed     store.ChangeFeed
	Pricing  pricing.Source
	Loader   *accrual.Loader
	Recorder recorder.Recorder
	Notifier notifier.Notifier
	Telegram *notifier.TelegramNotifier
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	nats    *broker.Client
	closers []func() error
}

// SetupLogging configures the standard logrus logger.
func SetupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

// Build opens the store, feed, pricing source, recorder and notifier named by
// cfg. The returned App must be closed.
func Build(ctx context.Context, cfg *config.Config, clk clock.Clock) (*App, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	a := &App{Config: cfg, Clock: clk, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = observability.NewMetrics("accrual", a.Registry)

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openFeed(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openPricing(); err != nil {
		a.Close()
		return nil, err
	}
	a.openRecorder()
	a.openNotifier()

	a.Loader = accrual.NewLoader(a.Store, a.Pricing, cfg.Engine.MonthlyRate, clk)
	log.WithFields(log.Fields{
		"store":   cfg.Store.Driver,
		"feed":    cfg.Feed.Driver,
		"pricing": a.Pricing.Name(),
	}).Info("engine dependencies ready")
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "memory":
		st, err = memory.New(cfg.Store.StateFile, a.Clock)
	case "sqlite":
		if err := ensureDir(cfg.Store.SQLitePath); err != nil {
			return err
		}
		st, err = sqlite.New(cfg.Store.SQLitePath, a.Clock)
	case "postgres":
		st, err = postgres.New(ctx, cfg.Store.DatabaseURL)
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)
	return nil
}

func (a *App) openFeed() error {
	cfg := a.Config
	switch cfg.Feed.Driver {
	case "store":
		feed, ok := a.Store.(store.ChangeFeed)
		if !ok {
			return fmt.Errorf("store driver %q has no change feed", cfg.Store.Driver)
		}
		a.Feed = feed
	case "nats":
		c := broker.NewClient(cfg.Feed.NATSURL, cfg.Feed.Prefix, "yield-accrual")
		if err := c.Connect(); err != nil {
			return err
		}
		a.nats = c
		a.closers = append(a.closers, c.Close)
		a.Feed = c
		// Every write, our own snapshots included, is announced so peers and
		// this process see the same notification stream.
		a.Store = broker.NewPublishingStore(a.Store, c)
	default:
		return fmt.Errorf("unknown feed driver %q", cfg.Feed.Driver)
	}
	return nil
}

func (a *App) openPricing() error {
	cfg := a.Config
	switch cfg.Pricing.Source {
	case "store":
		a.Pricing = pricing.NewStoreSource(a.Store)
	case "http":
		a.Pricing = pricing.NewHTTPSource(cfg.Pricing.URL, cfg.Pricing.APIKey, cfg.Proxy)
	case "static":
		target, err := cfg.TargetDate()
		if err != nil {
			return err
		}
		a.Pricing = pricing.NewStaticSource(cfg.Engine.MonthlyRate, cfg.Pricing.UnitPrice, target)
	default:
		return fmt.Errorf("unknown pricing source %q", cfg.Pricing.Source)
	}
	return nil
}

func (a *App) openRecorder() {
	path := a.Config.Recorder.SQLitePath
	if path == "" {
		a.Recorder = recorder.NewNoopRecorder()
		return
	}
	if err := ensureDir(path); err != nil {
		log.WithError(err).Warn("init sqlite recorder failed, using noop")
		a.Recorder = recorder.NewNoopRecorder()
		return
	}
	r, err := recorder.NewSQLiteRecorder(path)
	if err != nil {
		log.WithError(err).Warn("init sqlite recorder failed, using noop")
		a.Recorder = recorder.NewNoopRecorder()
		return
	}
	a.Recorder = r
	a.closers = append(a.closers, r.Close)
}

func (a *App) openNotifier() {
	if !a.Config.TelegramEnabled() {
		a.Notifier = notifier.Noop{}
		return
	}
	a.Telegram = notifier.NewTelegramNotifier(a.Config.Telegram.BotToken, a.Config.Telegram.ChatID, a.Config.Proxy)
	a.Notifier = a.Telegram
}

// NewSession builds an unstarted session for accountID. It satisfies
// scheduler.Factory.
func (a *App) NewSession(accountID string) (*scheduler.Session, error) {
	if accountID == "" {
		return nil, store.ErrInvalidInput
	}
	e := a.Config.Engine
	return scheduler.NewSession(scheduler.SessionConfig{
		AccountID:       accountID,
		TickInterval:    e.TickInterval,
		PersistInterval: e.PersistInterval,
		WriteTimeout:    e.WriteTimeout,
		EchoEpsilon:     e.EchoEpsilon,
		PricingCron:     e.PricingCron,
	}, scheduler.Deps{
		Loader:   a.Loader,
		Writer:   a.Store,
		Feed:     a.Feed,
		Clock:    a.Clock,
		Recorder: a.Recorder,
		Notifier: a.Notifier,
		Metrics:  a.Metrics,
	}), nil
}

// Close releases everything Build opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.WithError(err).Warn("close dependency")
		}
	}
	a.closers = nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
