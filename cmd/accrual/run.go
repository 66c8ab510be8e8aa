package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"YieldAccrual/internal/app"
	"YieldAccrual/internal/model"
	"YieldAccrual/internal/scheduler"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [account]",
		Short: "Run the accrual engine for an account",
		Long: `Open a session for the account, tick the accrued yield, persist it
periodically and reconcile against external balance changes. Serves
/metrics and /derived on metrics.addr. Stops on SIGINT or SIGTERM.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), opts, args)
		},
	}
}

func runEngine(ctx context.Context, opts *rootOptions, args []string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	account := accountArg(args, cfg)
	if account == "" {
		return errors.New("no account given and engine.account_id is empty")
	}
	log.WithField("account", account).Info("yield accrual engine starting")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	factory := a.NewSession
	if opts.Verbose {
		factory = printingFactory(factory, os.Stdout)
	}
	m := scheduler.NewManager(factory)
	defer m.CloseAll()

	if _, err := m.Open(ctx, account); err != nil {
		// The session stays registered; /refresh or an external change retries.
		log.WithError(err).Error("initial load failed")
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           a.Handler(m, account),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
		}
	}()

	if a.Telegram != nil {
		go a.Telegram.StartPolling(ctx, app.CommandHandler(m, account))
		log.Info("telegram polling started")
	}

	log.Info("engine is running, press Ctrl+C to stop")
	<-ctx.Done()

	log.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	return nil
}

// printingFactory wraps factory so every session prints its ticks to w,
// starting with the first one published by Start.
func printingFactory(factory scheduler.Factory, w io.Writer) scheduler.Factory {
	return func(accountID string) (*scheduler.Session, error) {
		s, err := factory(accountID)
		if err != nil {
			return nil, err
		}
		s.OnUpdate(func(d model.DerivedYield) {
			fmt.Fprintf(w, "%s yield=%.8f priced=%.4f progress=%.2f%%\n",
				d.ComputedAt.Format(time.RFC3339), d.CurrentYield.Native, d.CurrentYield.Priced, d.ProgressPercentage)
		})
		return s, nil
	}
}
