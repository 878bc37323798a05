// Package config defines all configuration for the backtesting simulator.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive or per-run fields overridable via APEX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Account   AccountConfig   `mapstructure:"account"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Data      DataConfig      `mapstructure:"data"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// AccountConfig funds the simulated account and sets its trading costs.
type AccountConfig struct {
	AccountID      string  `mapstructure:"account_id"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	CommissionRate float64 `mapstructure:"commission_rate"` // broker rate, e.g. 0.00025
	SlippageRate   float64 `mapstructure:"slippage_rate"`   // base adverse slippage, e.g. 0.001
}

// ExchangeConfig tunes the matching engine.
//
//   - CheckPriceLimit: enforce per-symbol daily price-limit bands.
//   - PriceCeiling: reservation fallback for market buys on symbols that
//     have never ticked.
//   - Seed: slippage RNG seed; a fixed seed makes a backtest reproducible.
type ExchangeConfig struct {
	CheckPriceLimit bool    `mapstructure:"check_price_limit"`
	PriceCeiling    float64 `mapstructure:"price_ceiling"`
	Seed            int64   `mapstructure:"seed"`
}

// DataConfig points at tick sources: a CSV file for replay backtests, an
// HTTP endpoint for historical downloads, and a WebSocket URL for live
// paper trading.
type DataConfig struct {
	CSVPath        string `mapstructure:"csv_path"`
	HistoryBaseURL string `mapstructure:"history_base_url"`
	HistoryToken   string `mapstructure:"history_token"`
	WSURL          string `mapstructure:"ws_url"`
	RatePerSec     int    `mapstructure:"rate_per_sec"` // history request budget
}

// RiskConfig sets the host-side pre-trade gate limits.
//
//   - MaxOrderNotional: reject orders whose estimated value exceeds this.
//   - MaxPositionWeight: cap one symbol at this fraction of total assets.
//   - MaxDailyLoss: stop submitting once equity falls more than this below
//     the day's intraday high.
//   - HaltedSymbols: symbols treated as suspended (orders rejected).
type RiskConfig struct {
	MaxOrderNotional  float64  `mapstructure:"max_order_notional"`
	MaxPositionWeight float64  `mapstructure:"max_position_weight"`
	MaxDailyLoss      float64  `mapstructure:"max_daily_loss"`
	HaltedSymbols     []string `mapstructure:"halted_symbols"`
}

// StoreConfig sets where the run journal (orders, trades, equity) lands.
type StoreConfig struct {
	Path string `mapstructure:"path"` // sqlite file path
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Per-run fields use env vars: APEX_HISTORY_TOKEN, APEX_STORE_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("account.account_id", "sim")
	v.SetDefault("account.commission_rate", 0.00025)
	v.SetDefault("account.slippage_rate", 0.001)
	v.SetDefault("exchange.check_price_limit", true)
	v.SetDefault("exchange.seed", 1)
	v.SetDefault("data.rate_per_sec", 5)
	v.SetDefault("store.path", "apexquant.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.port", 8080)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if token := os.Getenv("APEX_HISTORY_TOKEN"); token != "" {
		cfg.Data.HistoryToken = token
	}
	if path := os.Getenv("APEX_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Account.InitialCapital <= 0 {
		return fmt.Errorf("account.initial_capital must be > 0")
	}
	if c.Account.CommissionRate < 0 || c.Account.CommissionRate > 0.01 {
		return fmt.Errorf("account.commission_rate must be in [0, 0.01]")
	}
	if c.Account.SlippageRate < 0 || c.Account.SlippageRate > 0.1 {
		return fmt.Errorf("account.slippage_rate must be in [0, 0.1]")
	}
	if c.Exchange.PriceCeiling < 0 {
		return fmt.Errorf("exchange.price_ceiling must be >= 0")
	}
	if c.Data.RatePerSec <= 0 {
		return fmt.Errorf("data.rate_per_sec must be > 0")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be a valid TCP port")
	}
	return nil
}
