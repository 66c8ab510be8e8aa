package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"YieldAccrual/internal/app"
	"YieldAccrual/internal/config"
	"YieldAccrual/internal/scheduler"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "store:\n" +
		"  driver: memory\n" +
		"  state_file: " + filepath.Join(dir, "state.json") + "\n" +
		"recorder:\n" +
		"  sqlite_path: " + filepath.Join(dir, "events.db") + "\n" +
		"log_level: warn\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_SeedDepositShowClaim(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "seed", "alice", "1000", "--unit-price", "2", "--target", "2030-01-01")
	require.NoError(t, err)

	_, err = execute(t, "--config", cfg, "seed", "alice", "1000")
	assert.Error(t, err, "seeding twice fails")

	_, err = execute(t, "--config", cfg, "deposit", "alice", "250.5")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfg, "show", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "Accrued")

	_, err = execute(t, "--config", cfg, "claim", "alice")
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "show", "alice")
	require.NoError(t, err)
	assert.NotContains(t, out, "Accrued")
}

func TestCLI_ArgumentErrors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "deposit", "alice", "lots")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfg, "show")
	assert.Error(t, err, "no account configured")

	_, err = execute(t, "--config", cfg, "migrate", "up")
	assert.Error(t, err, "memory config has no database url")

	_, err = execute(t, "--config", cfg, "migrate", "down", "x")
	assert.Error(t, err)
}

func TestPrintingFactory_PrintsFirstTick(t *testing.T) {
	cfg, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	cfg.Engine.PricingCron = ""
	cfg.Engine.TickInterval = time.Hour
	cfg.Engine.PersistInterval = 2 * time.Hour
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Store.CreateAccount(ctx, "alice", decimal.NewFromInt(1000)))

	var out bytes.Buffer
	m := scheduler.NewManager(printingFactory(a.NewSession, &out))
	defer m.CloseAll()

	_, err = m.Open(ctx, "alice")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1, "Start publishes exactly one tick")
	assert.Contains(t, lines[0], "yield=")
}
