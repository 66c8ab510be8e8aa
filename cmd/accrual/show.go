package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"YieldAccrual/internal/app"
	"YieldAccrual/internal/calculator"
	"YieldAccrual/internal/notifier"
)

func newShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [account]",
		Short: "Load the baseline once and print the derived yield",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			account := accountArg(args, cfg)
			if account == "" {
				return errors.New("no account given and engine.account_id is empty")
			}

			a, err := app.Build(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.Loader.Load(cmd.Context(), account)
			if err != nil {
				return err
			}
			if b.Principal <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), notifier.FormatNoAccrual(account))
				return nil
			}
			d := calculator.Project(b, a.Clock.Now())
			fmt.Fprintln(cmd.OutOrStdout(), notifier.FormatDerived(&d))
			return nil
		},
	}
}
