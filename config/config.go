// Package config loads the daemon's runtime settings from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the lending platform daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"environment"`
	Database      DatabaseConfig  `yaml:"database"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Predictor     PredictorConfig `yaml:"predictor"`
	Scheduler     SchedulerConfig `yaml:"scheduler"`
}

// DatabaseConfig describes the persistence connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// OracleConfig tunes the valuation oracle.
type OracleConfig struct {
	Volatility        float64           `yaml:"volatility"`
	BlendWeight       string            `yaml:"blend_weight"`
	MarketMultipliers map[string]string `yaml:"market_multipliers"`

	blendWeight decimal.Decimal
	multipliers map[string]decimal.Decimal
}

// PredictorConfig points at the external price prediction service. An empty
// URL disables the predictor and the oracle runs formula-only.
type PredictorConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the request timeout as a duration.
func (cfg PredictorConfig) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

// SchedulerConfig sets when the daily processing cycle runs.
type SchedulerConfig struct {
	RunHour   int `yaml:"run_hour"`
	RunMinute int `yaml:"run_minute"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8080",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Database.URL = strings.TrimSpace(cfg.Database.URL)
	cfg.Predictor.URL = strings.TrimSpace(cfg.Predictor.URL)
	if cfg.Predictor.TimeoutSeconds <= 0 {
		cfg.Predictor.TimeoutSeconds = 5
	}
	cfg.Oracle.BlendWeight = strings.TrimSpace(cfg.Oracle.BlendWeight)
	if cfg.Oracle.BlendWeight == "" {
		cfg.Oracle.BlendWeight = "0.3"
	}
	if cfg.Oracle.Volatility < 0 {
		cfg.Oracle.Volatility = 0
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database: url is required")
	}
	if err := cfg.Oracle.validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := cfg.Scheduler.validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

func (cfg *OracleConfig) validate() error {
	weight, err := decimal.NewFromString(cfg.BlendWeight)
	if err != nil {
		return fmt.Errorf("blend_weight: %w", err)
	}
	if weight.Sign() < 0 || weight.Cmp(decimal.NewFromInt(1)) > 0 {
		return fmt.Errorf("blend_weight must be within [0, 1]")
	}
	cfg.blendWeight = weight

	if cfg.Volatility > 1 {
		return fmt.Errorf("volatility must be within [0, 1]")
	}

	cfg.multipliers = make(map[string]decimal.Decimal, len(cfg.MarketMultipliers))
	for name, raw := range cfg.MarketMultipliers {
		m, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("market_multipliers[%s]: %w", name, err)
		}
		if m.Sign() <= 0 {
			return fmt.Errorf("market_multipliers[%s] must be positive", name)
		}
		cfg.multipliers[strings.TrimSpace(name)] = m
	}
	return nil
}

func (cfg SchedulerConfig) validate() error {
	if cfg.RunHour < 0 || cfg.RunHour > 23 {
		return fmt.Errorf("run_hour must be within [0, 23]")
	}
	if cfg.RunMinute < 0 || cfg.RunMinute > 59 {
		return fmt.Errorf("run_minute must be within [0, 59]")
	}
	return nil
}

// BlendFactor returns the parsed predictor blend weight.
func (cfg OracleConfig) BlendFactor() decimal.Decimal {
	return cfg.blendWeight
}

// Multipliers returns the parsed per-collection market multipliers.
func (cfg OracleConfig) Multipliers() map[string]decimal.Decimal {
	return cfg.multipliers
}
