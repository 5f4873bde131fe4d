// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"solpaper/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Duration wraps time.Duration so YAML values like "2m" or "4h" parse. Bare
// integers are treated as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level configuration for the solpaper engine.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Logging Logging       `yaml:"logging"`
	Trading TradingConfig `yaml:"trading"`
	Monitor MonitorConfig `yaml:"monitor"`
	Sync    SyncConfig    `yaml:"sync"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Signals SignalsConfig `yaml:"signals"`
	Report  ReportConfig  `yaml:"report"`

	// ExpiryByClass maps a signal class to its maximum hold duration.
	ExpiryByClass map[string]Duration `yaml:"expiry_by_class"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the status API listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines capital and execution parameters.
type TradingConfig struct {
	StartingCapitalUsd    float64  `yaml:"starting_capital_usd"`
	HardCapUsd            float64  `yaml:"hard_cap_usd"`
	DefaultTakeProfitPct  float64  `yaml:"default_take_profit_pct"`
	DefaultStopLossPct    float64  `yaml:"default_stop_loss_pct"`
	DefaultReservePct     float64  `yaml:"default_reserve_pct"`
	MinTradeUsd           float64  `yaml:"min_trade_usd"`
	SignalFreshnessWindow Duration `yaml:"signal_freshness_window"`
}

// MonitorConfig controls the position monitoring loop.
type MonitorConfig struct {
	IntervalSeconds     int      `yaml:"interval_seconds"`
	PriceTimeoutSeconds int      `yaml:"price_timeout_seconds"`
	QuoteStaleAfter     Duration `yaml:"quote_stale_after"`
}

// Interval returns the monitoring interval as a duration.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// PriceTimeout returns the per-quote fetch timeout as a duration.
func (m MonitorConfig) PriceTimeout() time.Duration {
	return time.Duration(m.PriceTimeoutSeconds) * time.Second
}

// SyncConfig controls periodic persistence to the durable store.
type SyncConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval returns the sync interval as a duration.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// OracleConfig selects and tunes the price source.
type OracleConfig struct {
	// Provider is one of "http", "alpaca", "static".
	Provider        string `yaml:"provider"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// SignalsConfig points the signal watcher at the analytics feed.
type SignalsConfig struct {
	FeedPath     string `yaml:"feed_path"`
	SnapshotPath string `yaml:"snapshot_path"`
	PollSeconds  int    `yaml:"poll_seconds"`
}

// PollInterval returns the feed polling interval as a duration.
func (s SignalsConfig) PollInterval() time.Duration {
	return time.Duration(s.PollSeconds) * time.Second
}

// ReportConfig tunes read-side pagination.
type ReportConfig struct {
	PageSize int `yaml:"page_size"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default filled in, used by
// tests and by cmd/trade-report when no config file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIGNAL_FEED_PATH"); v != "" {
		cfg.Signals.FeedPath = v
	}
	if v := os.Getenv("MONITOR_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.IntervalSeconds = n
		}
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued fields with documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/solpaper.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Trading.StartingCapitalUsd == 0 {
		cfg.Trading.StartingCapitalUsd = 1000
	}
	if cfg.Trading.HardCapUsd == 0 {
		cfg.Trading.HardCapUsd = 150
	}
	if cfg.Trading.DefaultTakeProfitPct == 0 {
		cfg.Trading.DefaultTakeProfitPct = 50
	}
	if cfg.Trading.DefaultStopLossPct == 0 {
		cfg.Trading.DefaultStopLossPct = 35
	}
	if cfg.Trading.MinTradeUsd == 0 {
		cfg.Trading.MinTradeUsd = 10
	}
	if cfg.Trading.SignalFreshnessWindow == 0 {
		cfg.Trading.SignalFreshnessWindow = Duration(5 * time.Minute)
	}
	if cfg.Monitor.IntervalSeconds == 0 {
		cfg.Monitor.IntervalSeconds = 30
	}
	if cfg.Monitor.PriceTimeoutSeconds == 0 {
		cfg.Monitor.PriceTimeoutSeconds = 5
	}
	if cfg.Monitor.QuoteStaleAfter == 0 {
		cfg.Monitor.QuoteStaleAfter = Duration(2 * time.Minute)
	}
	if cfg.Sync.IntervalSeconds == 0 {
		cfg.Sync.IntervalSeconds = 60
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "http"
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = "https://api.dexscreener.com"
	}
	if cfg.Oracle.RateLimitPerMin == 0 {
		cfg.Oracle.RateLimitPerMin = 300
	}
	if cfg.Signals.FeedPath == "" {
		cfg.Signals.FeedPath = "./data/active_tracking.json"
	}
	if cfg.Signals.SnapshotPath == "" {
		cfg.Signals.SnapshotPath = "./data/last_processed.json"
	}
	if cfg.Signals.PollSeconds == 0 {
		cfg.Signals.PollSeconds = 30
	}
	if cfg.Report.PageSize == 0 {
		cfg.Report.PageSize = 10
	}
	if cfg.ExpiryByClass == nil {
		cfg.ExpiryByClass = map[string]Duration{}
	}
	if _, ok := cfg.ExpiryByClass[string(domain.ClassDiscovery)]; !ok {
		cfg.ExpiryByClass[string(domain.ClassDiscovery)] = Duration(4 * time.Hour)
	}
	if _, ok := cfg.ExpiryByClass[string(domain.ClassAlpha)]; !ok {
		cfg.ExpiryByClass[string(domain.ClassAlpha)] = Duration(6 * time.Hour)
	}
	if _, ok := cfg.ExpiryByClass[string(domain.ClassManual)]; !ok {
		cfg.ExpiryByClass[string(domain.ClassManual)] = Duration(365 * 24 * time.Hour)
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Trading.StartingCapitalUsd < 0 {
		return fmt.Errorf("trading.starting_capital_usd must be >= 0, got %v", c.Trading.StartingCapitalUsd)
	}
	if c.Trading.HardCapUsd <= 0 {
		return fmt.Errorf("trading.hard_cap_usd must be > 0, got %v", c.Trading.HardCapUsd)
	}
	if c.Trading.DefaultStopLossPct <= 0 || c.Trading.DefaultStopLossPct > 100 {
		return fmt.Errorf("trading.default_stop_loss_pct must be in (0, 100], got %v", c.Trading.DefaultStopLossPct)
	}
	if c.Trading.DefaultReservePct < 0 || c.Trading.DefaultReservePct >= 100 {
		return fmt.Errorf("trading.default_reserve_pct must be in [0, 100), got %v", c.Trading.DefaultReservePct)
	}
	if c.Monitor.IntervalSeconds < 1 {
		return fmt.Errorf("monitor.interval_seconds must be >= 1, got %d", c.Monitor.IntervalSeconds)
	}
	if c.Report.PageSize < 1 {
		return fmt.Errorf("report.page_size must be >= 1, got %d", c.Report.PageSize)
	}
	switch c.Oracle.Provider {
	case "http", "alpaca", "static":
	default:
		return fmt.Errorf("oracle.provider must be http, alpaca, or static, got %q", c.Oracle.Provider)
	}
	for class := range c.ExpiryByClass {
		if !domain.SignalClass(class).Valid() {
			return fmt.Errorf("expiry_by_class has unknown signal class %q", class)
		}
	}
	return nil
}

// ExpiryFor returns the configured hold duration for a signal class.
func (c *Config) ExpiryFor(class domain.SignalClass) time.Duration {
	if d, ok := c.ExpiryByClass[string(class)]; ok {
		return d.Std()
	}
	return 4 * time.Hour
}

// DefaultReserveUsd returns the reserve carved out of a fresh portfolio's
// starting capital.
func (c *Config) DefaultReserveUsd() float64 {
	return c.Trading.StartingCapitalUsd * c.Trading.DefaultReservePct / 100
}
