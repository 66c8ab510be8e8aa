package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"YieldAccrual/internal/app"
	"YieldAccrual/internal/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "accrual",
		Short:         "Yield accrual engine",
		Long:          "Accrues a capped monthly yield on an account's principal in real time and keeps it in sync with a shared store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultPath, "path to YAML config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print every tick and log at debug level")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newDepositCommand(opts))
	cmd.AddCommand(newClaimCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	return cmd
}

// loadConfig reads and validates the config and sets up logging.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if o.Verbose {
		level = "debug"
	}
	if err := app.SetupLogging(level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// accountArg returns the positional account or the configured one.
func accountArg(args []string, cfg *config.Config) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Engine.AccountID
}
