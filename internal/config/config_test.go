package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAndDefaults(t *testing.T) {
	path := writeConfig(t, `
account:
  initial_capital: 100000
data:
  csv_path: ticks.csv
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Account.InitialCapital != 100000 {
		t.Errorf("InitialCapital = %v, want 100000", cfg.Account.InitialCapital)
	}
	if cfg.Account.CommissionRate != 0.00025 {
		t.Errorf("CommissionRate default = %v, want 0.00025", cfg.Account.CommissionRate)
	}
	if !cfg.Exchange.CheckPriceLimit {
		t.Error("CheckPriceLimit default should be true")
	}
	if cfg.Store.Path != "apexquant.db" {
		t.Errorf("Store.Path default = %q", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Account: AccountConfig{InitialCapital: 100000, CommissionRate: 0.00025, SlippageRate: 0.001},
			Data:    DataConfig{RatePerSec: 5},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capital", func(c *Config) { c.Account.InitialCapital = 0 }},
		{"commission out of range", func(c *Config) { c.Account.CommissionRate = 0.5 }},
		{"slippage out of range", func(c *Config) { c.Account.SlippageRate = 1 }},
		{"zero rate budget", func(c *Config) { c.Data.RatePerSec = 0 }},
		{"bad dashboard port", func(c *Config) { c.Dashboard = DashboardConfig{Enabled: true, Port: -1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, `
account:
  initial_capital: 100000
store:
  path: from-file.db
`)
	t.Setenv("APEX_STORE_PATH", "from-env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "from-env.db" {
		t.Errorf("Store.Path = %q, want env override", cfg.Store.Path)
	}
}
