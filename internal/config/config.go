// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/engine"
	"github.com/tathienbao/pairtrader/internal/monitor"
	"github.com/tathienbao/pairtrader/internal/sizing"
	"gopkg.in/yaml.v3"

	"github.com/tathienbao/pairtrader/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Slots       SlotsConfig       `yaml:"slots"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Admission   AdmissionConfig   `yaml:"admission"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Replay      ReplayConfig      `yaml:"replay"`
}

// InstanceConfig identifies this bot instance and its trading mode.
type InstanceConfig struct {
	ID   string `yaml:"id"`
	Mode string `yaml:"mode"` // live | paper
}

// ExchangeConfig holds exchange connectivity settings.
type ExchangeConfig struct {
	BaseURL            string `yaml:"base_url"`
	StreamURL          string `yaml:"stream_url"`
	APIKey             string `yaml:"api_key"`
	APISecret          string `yaml:"api_secret"`
	SettleCoin         string `yaml:"settle_coin"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
	MaxRetries         int    `yaml:"max_retries"`
	RetryDelayMs       int    `yaml:"retry_delay_ms"`
}

// SlotsConfig holds the slot budget.
type SlotsConfig struct {
	Max int `yaml:"max"`
}

// SizingConfig holds position sizing settings.
type SizingConfig struct {
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	MaxNotional     float64 `yaml:"max_notional"`
	QtyStep         string  `yaml:"qty_step"`
	MinQty          string  `yaml:"min_qty"`
	PaperEquity     float64 `yaml:"paper_equity"`
}

// AdmissionConfig holds signal admission thresholds.
type AdmissionConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MinRiskReward float64 `yaml:"min_risk_reward"`
	AllowEviction bool    `yaml:"allow_eviction"`
}

// MonitorConfig holds open-trade monitoring settings.
type MonitorConfig struct {
	IntervalSec           int             `yaml:"interval_sec"`
	PartialFillTimeoutSec int             `yaml:"partial_fill_timeout_sec"`
	StopSyncTolerance     float64         `yaml:"stop_sync_tolerance"`
	Tightener             TightenerConfig `yaml:"tightener"`
}

// TightenerConfig holds profit-protection tightener settings.
type TightenerConfig struct {
	Enabled       bool    `yaml:"enabled"`
	PnLTarget     float64 `yaml:"pnl_target"`
	ADXPeriod     int     `yaml:"adx_period"`
	ADXThreshold  float64 `yaml:"adx_threshold"`
	ATRPeriod     int     `yaml:"atr_period"`
	ATRMultiplier float64 `yaml:"atr_multiplier"`
}

// PersistenceConfig holds audit store settings.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ReplayConfig holds bar replay settings for paper lifecycle simulation.
type ReplayConfig struct {
	BarsDir  string `yaml:"bars_dir"`
	Interval string `yaml:"interval"`
}

// Load loads configuration from a YAML file. Environment variables in the
// file are expanded before parsing, so secrets stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration and applies defaults for the
// tunables that have safe ones.
func (c *Config) Validate() error {
	var errs []string

	if c.Instance.ID == "" {
		errs = append(errs, "instance.id is required")
	}
	if c.Instance.Mode != "live" && c.Instance.Mode != "paper" {
		errs = append(errs, "instance.mode must be 'live' or 'paper'")
	}

	if c.Instance.Mode == "live" {
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange.api_key is required in live mode")
		}
		if c.Exchange.APISecret == "" {
			errs = append(errs, "exchange.api_secret is required in live mode")
		}
	}
	if c.Exchange.SettleCoin == "" {
		c.Exchange.SettleCoin = "USDT"
	}
	if c.Exchange.RateLimitPerSecond <= 0 {
		c.Exchange.RateLimitPerSecond = 10
	}
	if c.Exchange.MaxRetries < 0 {
		c.Exchange.MaxRetries = 2
	}

	if c.Slots.Max <= 0 {
		errs = append(errs, "slots.max must be positive")
	}

	if c.Sizing.RiskPerTradePct <= 0 || c.Sizing.RiskPerTradePct > 0.1 {
		errs = append(errs, "sizing.risk_per_trade_pct must be between 0 and 0.1 (10%)")
	}
	if c.Instance.Mode == "paper" && c.Sizing.PaperEquity <= 0 {
		errs = append(errs, "sizing.paper_equity must be positive in paper mode")
	}

	if c.Monitor.IntervalSec <= 0 {
		c.Monitor.IntervalSec = 5
	}
	if c.Monitor.PartialFillTimeoutSec <= 0 {
		c.Monitor.PartialFillTimeoutSec = 60
	}
	if c.Monitor.StopSyncTolerance <= 0 {
		c.Monitor.StopSyncTolerance = 1e-4
	}
	if c.Monitor.Tightener.Enabled {
		if c.Monitor.Tightener.ADXPeriod <= 0 {
			c.Monitor.Tightener.ADXPeriod = 14
		}
		if c.Monitor.Tightener.ATRPeriod <= 0 {
			c.Monitor.Tightener.ATRPeriod = 14
		}
		if c.Monitor.Tightener.ATRMultiplier <= 0 {
			errs = append(errs, "monitor.tightener.atr_multiplier must be positive")
		}
	}

	if c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 {
			c.Metrics.Port = 9090
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// ToSizingConfig converts to sizing.Config.
func (c *Config) ToSizingConfig() sizing.Config {
	cfg := sizing.Config{
		RiskPerTradePct: decimal.NewFromFloat(c.Sizing.RiskPerTradePct),
		MaxNotional:     decimal.NewFromFloat(c.Sizing.MaxNotional),
	}
	if c.Sizing.QtyStep != "" {
		cfg.QtyStep, _ = decimal.NewFromString(c.Sizing.QtyStep)
	}
	if c.Sizing.MinQty != "" {
		cfg.MinQty, _ = decimal.NewFromString(c.Sizing.MinQty)
	}
	return cfg
}

// ToEngineConfig converts to engine.Config.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		MinConfidence: decimal.NewFromFloat(c.Admission.MinConfidence),
		MinRiskReward: decimal.NewFromFloat(c.Admission.MinRiskReward),
		SettleCoin:    c.Exchange.SettleCoin,
		PaperEquity:   decimal.NewFromFloat(c.Sizing.PaperEquity),
		AllowEviction: c.Admission.AllowEviction,
	}
}

// ToMonitorConfig converts to monitor.Config.
func (c *Config) ToMonitorConfig() monitor.Config {
	return monitor.Config{
		Interval:           time.Duration(c.Monitor.IntervalSec) * time.Second,
		PartialFillTimeout: time.Duration(c.Monitor.PartialFillTimeoutSec) * time.Second,
		StopSyncTolerance:  decimal.NewFromFloat(c.Monitor.StopSyncTolerance),
		Tightener: monitor.TightenerConfig{
			Enabled:       c.Monitor.Tightener.Enabled,
			PnLTarget:     decimal.NewFromFloat(c.Monitor.Tightener.PnLTarget),
			ADXPeriod:     c.Monitor.Tightener.ADXPeriod,
			ADXThreshold:  decimal.NewFromFloat(c.Monitor.Tightener.ADXThreshold),
			ATRPeriod:     c.Monitor.Tightener.ATRPeriod,
			ATRMultiplier: decimal.NewFromFloat(c.Monitor.Tightener.ATRMultiplier),
		},
	}
}

// MonitorInterval returns the monitor tick interval.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSec) * time.Second
}
