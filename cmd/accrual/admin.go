package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"YieldAccrual/internal/app"
	"YieldAccrual/internal/config"
	"YieldAccrual/internal/model"
)

// withApp runs fn against a freshly built App.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(*app.App, *config.Config) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Build(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, cfg)
}

func newDepositCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <account> <amount>",
		Short: "Credit principal out of band",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			return withApp(cmd, opts, func(a *app.App, _ *config.Config) error {
				if err := a.Store.Credit(cmd.Context(), args[0], amount); err != nil {
					return err
				}
				log.WithFields(log.Fields{"account": args[0], "amount": amount}).Info("deposit credited")
				return nil
			})
		},
	}
}

func newClaimCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <account>",
		Short: "Move the principal and accrued yield to withdrawn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App, _ *config.Config) error {
				if err := a.Store.Claim(cmd.Context(), args[0]); err != nil {
					return err
				}
				log.WithField("account", args[0]).Info("balance claimed")
				return nil
			})
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var unitPrice float64
	var target string

	cmd := &cobra.Command{
		Use:   "seed <account> <principal>",
		Short: "Create an account and the pricing row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("principal: %w", err)
			}
			return withApp(cmd, opts, func(a *app.App, cfg *config.Config) error {
				ctx := cmd.Context()
				if err := a.Store.CreateAccount(ctx, args[0], principal); err != nil {
					return err
				}

				if target != "" {
					cfg.Pricing.TargetDate = target
				}
				targetDate, err := cfg.TargetDate()
				if err != nil {
					return err
				}
				if err := a.Store.SetPricing(ctx, model.PricingRecord{
					MonthlyRate: decimal.NewFromFloat(cfg.Engine.MonthlyRate),
					UnitPrice:   decimal.NewFromFloat(unitPrice),
					TargetDate:  targetDate,
				}); err != nil {
					return err
				}
				log.WithFields(log.Fields{"account": args[0], "principal": principal}).Info("account seeded")
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&unitPrice, "unit-price", 1, "unit price stored in the pricing row")
	cmd.Flags().StringVar(&target, "target", "", "target date (YYYY-MM-DD or RFC3339)")
	return cmd
}
