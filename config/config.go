package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"ohlcv-syncv1/internal/model"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. It is built once in main
// and passed down explicitly.
type Config struct {
	SQLite struct {
		Path     string `yaml:"path"`
		MaxConns int    `yaml:"max_conns"`
	} `yaml:"sqlite"`

	// Redis publication is optional; an empty Addr disables it.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Provider struct {
		Kind    string        `yaml:"kind"` // yahoo | file
		DataDir string        `yaml:"data_dir"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"provider"`

	Sync struct {
		Workers         int    `yaml:"workers"`
		Cron            string `yaml:"cron"`
		Period          string `yaml:"period"` // empty: per-interval default
		ExpandHistory   bool   `yaml:"expand_history"`
		IndicatorWindow int    `yaml:"indicator_window"`
	} `yaml:"sync"`

	// Alerts go to every configured channel; with none they are only logged.
	Notify struct {
		WebhookURL     string `yaml:"webhook_url"`
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id"`
	} `yaml:"notify"`

	LogLevel string `yaml:"log_level"`

	// Markets maps a market name to the series synced for it.
	Markets map[string]MarketConfig `yaml:"markets"`
}

// MarketConfig lists the symbols and intervals synced for one market.
type MarketConfig struct {
	Intervals []string `yaml:"intervals"`
	Symbols   []string `yaml:"symbols"`
}

// Provider kinds.
const (
	ProviderYahoo = "yahoo"
	ProviderFile  = "file"
)

// Load reads .env (if present), then the YAML file at path (if present),
// then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)
	c.SQLite.MaxConns = getEnvInt("SQLITE_MAX_CONNS", c.SQLite.MaxConns)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Provider.Kind = getEnv("PROVIDER", c.Provider.Kind)
	c.Provider.DataDir = getEnv("PROVIDER_DATA_DIR", c.Provider.DataDir)
	c.Sync.Workers = getEnvInt("SYNC_WORKERS", c.Sync.Workers)
	c.Sync.Cron = getEnv("SYNC_CRON", c.Sync.Cron)
	c.Sync.ExpandHistory = getEnvBool("EXPAND_HISTORY", c.Sync.ExpandHistory)
	c.Sync.IndicatorWindow = getEnvInt("INDICATOR_WINDOW", c.Sync.IndicatorWindow)
	c.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func (c *Config) applyDefaults() {
	if c.SQLite.Path == "" {
		c.SQLite.Path = "data/ohlcv.db"
	}
	if c.SQLite.MaxConns == 0 {
		c.SQLite.MaxConns = 4
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Provider.Kind == "" {
		c.Provider.Kind = ProviderYahoo
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.Cron == "" {
		// Every 15 minutes; intraday series are gated by market hours.
		c.Sync.Cron = "*/15 * * * *"
	}
	if c.Sync.IndicatorWindow == 0 {
		c.Sync.IndicatorWindow = 300
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.SQLite.Path == "" {
		errs = append(errs, errors.New("sqlite.path is required"))
	}
	if c.SQLite.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("sqlite.max_conns must be positive, got %d", c.SQLite.MaxConns))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers))
	}
	if c.Sync.IndicatorWindow < 1 {
		errs = append(errs, fmt.Errorf("sync.indicator_window must be positive, got %d", c.Sync.IndicatorWindow))
	}
	if _, err := cron.ParseStandard(c.Sync.Cron); err != nil {
		errs = append(errs, fmt.Errorf("sync.cron %q: %w", c.Sync.Cron, err))
	}
	switch c.Provider.Kind {
	case ProviderYahoo:
	case ProviderFile:
		if c.Provider.DataDir == "" {
			errs = append(errs, errors.New("provider.data_dir is required for the file provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind %q must be %q or %q", c.Provider.Kind, ProviderYahoo, ProviderFile))
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, errors.New("notify.telegram_token and notify.telegram_chat_id must be set together"))
	}
	for name, mc := range c.Markets {
		if !knownMarket(name) {
			errs = append(errs, fmt.Errorf("markets.%s: unknown market", name))
		}
		for _, iv := range mc.Intervals {
			if !model.Interval(strings.ToLower(iv)).Valid() {
				errs = append(errs, fmt.Errorf("markets.%s: unknown interval %q", name, iv))
			}
		}
	}
	return errors.Join(errs...)
}

// Series expands Markets into series keys in a stable order: markets in
// model.Markets order, then intervals and symbols as configured.
// Duplicates are dropped; markets without intervals sync daily bars.
func (c *Config) Series() []model.SeriesKey {
	seen := make(map[model.SeriesKey]bool)
	var keys []model.SeriesKey
	for _, m := range model.Markets {
		mc, ok := c.lookupMarket(m)
		if !ok {
			continue
		}
		intervals := mc.Intervals
		if len(intervals) == 0 {
			intervals = []string{string(model.Interval1d)}
		}
		for _, iv := range intervals {
			for _, sym := range mc.Symbols {
				sym = strings.TrimSpace(sym)
				if sym == "" {
					continue
				}
				k := model.SeriesKey{Market: m, Interval: model.ParseInterval(iv), Symbol: sym}
				if seen[k] {
					continue
				}
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func (c *Config) lookupMarket(m model.Market) (MarketConfig, bool) {
	for name, mc := range c.Markets {
		if strings.EqualFold(strings.TrimSpace(name), string(m)) {
			return mc, true
		}
	}
	return MarketConfig{}, false
}

func knownMarket(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range model.Markets {
		if string(m) == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return b
}
