package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Engine struct {
		AccountID       string        `yaml:"account_id"`
		MonthlyRate     float64       `yaml:"monthly_rate"`
		TickInterval    time.Duration `yaml:"tick_interval"`
		PersistInterval time.Duration `yaml:"persist_interval"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		EchoEpsilon     float64       `yaml:"echo_epsilon"`
		PricingCron     string        `yaml:"pricing_cron"`
	} `yaml:"engine"`
	Store struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		DatabaseURL string `yaml:"database_url"`
		StateFile   string `yaml:"state_file"`
	} `yaml:"store"`
	Feed struct {
		Driver  string `yaml:"driver"`
		NATSURL string `yaml:"nats_url"`
		Prefix  string `yaml:"subject_prefix"`
	} `yaml:"feed"`
	Pricing struct {
		Source     string  `yaml:"source"`
		URL        string  `yaml:"url"`
		APIKey     string  `yaml:"api_key"`
		UnitPrice  float64 `yaml:"unit_price"`
		TargetDate string  `yaml:"target_date"`
	} `yaml:"pricing"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Recorder struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"recorder"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	LogLevel string `yaml:"log_level"`
	Proxy    string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"ACCRUAL_ACCOUNT_ID": &c.Engine.AccountID,
		"STORE_DRIVER":       &c.Store.Driver,
		"SQLITE_PATH":        &c.Store.SQLitePath,
		"DATABASE_URL":       &c.Store.DatabaseURL,
		"NATS_URL":           &c.Feed.NATSURL,
		"PRICING_URL":        &c.Pricing.URL,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
		"METRICS_ADDR":       &c.Metrics.Addr,
		"LOG_LEVEL":          &c.LogLevel,
		"HTTPS_PROXY":        &c.Proxy,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("ACCRUAL_MONTHLY_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ACCRUAL_MONTHLY_RATE: %w", err)
		}
		c.Engine.MonthlyRate = rate
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Engine.MonthlyRate == 0 {
		c.Engine.MonthlyRate = 0.03
	}
	if c.Engine.TickInterval == 0 {
		c.Engine.TickInterval = time.Second
	}
	if c.Engine.PersistInterval == 0 {
		c.Engine.PersistInterval = 10 * time.Second
	}
	if c.Engine.WriteTimeout == 0 {
		c.Engine.WriteTimeout = 5 * time.Second
	}
	if c.Engine.EchoEpsilon == 0 {
		c.Engine.EchoEpsilon = 1e-4
	}
	if c.Engine.PricingCron == "" {
		c.Engine.PricingCron = "0 0 * * * *"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "data/accrual.db"
	}
	if c.Feed.Driver == "" {
		c.Feed.Driver = "store"
	}
	if c.Feed.Prefix == "" {
		c.Feed.Prefix = "accrual.account"
	}
	if c.Pricing.Source == "" {
		c.Pricing.Source = "store"
	}
	if c.Recorder.SQLitePath == "" {
		c.Recorder.SQLitePath = "data/accrual_events.db"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9102"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	e := c.Engine
	if e.MonthlyRate < 0 || e.MonthlyRate >= 1 {
		return fmt.Errorf("engine.monthly_rate must be in [0,1), got %v", e.MonthlyRate)
	}
	if e.TickInterval < time.Second {
		return fmt.Errorf("engine.tick_interval must be at least 1s, got %s", e.TickInterval)
	}
	if e.PersistInterval < e.TickInterval {
		return fmt.Errorf("engine.persist_interval (%s) must not be shorter than tick_interval (%s)", e.PersistInterval, e.TickInterval)
	}
	if e.WriteTimeout <= 0 {
		return fmt.Errorf("engine.write_timeout must be positive")
	}
	if e.EchoEpsilon <= 0 {
		return fmt.Errorf("engine.echo_epsilon must be positive")
	}

	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory, sqlite or postgres, got %q", c.Store.Driver)
	}

	switch c.Feed.Driver {
	case "store":
	case "nats":
		if c.Feed.NATSURL == "" {
			return fmt.Errorf("feed.nats_url is required for the nats feed")
		}
	default:
		return fmt.Errorf("feed.driver must be store or nats, got %q", c.Feed.Driver)
	}

	switch c.Pricing.Source {
	case "store":
	case "http":
		if c.Pricing.URL == "" {
			return fmt.Errorf("pricing.url is required for the http source")
		}
	case "static":
		if _, err := c.TargetDate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("pricing.source must be store, http or static, got %q", c.Pricing.Source)
	}

	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// TargetDate parses pricing.target_date. An empty value is the zero time.
func (c *Config) TargetDate() (time.Time, error) {
	v := c.Pricing.TargetDate
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("pricing.target_date: %w", err)
	}
	return t, nil
}

// TelegramEnabled reports whether alerts should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
