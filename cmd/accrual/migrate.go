package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"YieldAccrual/internal/store/postgres"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	databaseURL := func() (string, error) {
		cfg, err := opts.loadConfig()
		if err != nil {
			return "", err
		}
		if cfg.Store.DatabaseURL == "" {
			return "", errors.New("store.database_url (or DATABASE_URL) is required")
		}
		return cfg.Store.DatabaseURL, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			return postgres.MigrateUp(url)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid steps value: %w", err)
			}
			url, err := databaseURL()
			if err != nil {
				return err
			}
			return postgres.MigrateDown(url, steps)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			version, dirty, err := postgres.MigrateStatus(url)
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", version, state)
			return nil
		},
	})
	return cmd
}
