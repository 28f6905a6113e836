// Package config provides configuration management for the backtester.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/retry"
	"github.com/eddiefleurent/scranton_backtester/internal/strategy"
	"github.com/eddiefleurent/scranton_backtester/internal/sweep"
)

const dateLayout = "2006-01-02"

// Data providers
const (
	ProviderTradier   = "tradier"
	ProviderSynthetic = "synthetic"
)

// Gap fill modes
const (
	GapFillCollaborator = "collaborator"
	GapFillEngine       = "engine"
	GapFillOff          = "off"
)

const (
	defaultSessionTimezone = "America/New_York"
	defaultSessionOpen     = "09:30"
	defaultSessionClose    = "16:00"
	defaultServerPort      = 8080
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig      `yaml:"environment"`
	Data        DataConfig             `yaml:"data"`
	Backtest    BacktestConfig         `yaml:"backtest"`
	Opening     strategy.OpeningConfig `yaml:"opening"`
	Closing     strategy.ClosingConfig `yaml:"closing"`
	Sweep       *sweep.Grid            `yaml:"sweep"`
	Server      ServerConfig           `yaml:"server"`
	Logging     LoggingConfig          `yaml:"logging"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // dev | prod
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// DataConfig selects and tunes the market data collaborator.
type DataConfig struct {
	Provider    string        `yaml:"provider"` // tradier | synthetic
	APIKey      string        `yaml:"api_key"`
	APIEndpoint string        `yaml:"api_endpoint"`
	Sandbox     bool          `yaml:"sandbox"`
	Timeout     time.Duration `yaml:"timeout"`
	Seed        uint64        `yaml:"seed"` // synthetic only
	Cache       CacheConfig   `yaml:"cache"`
	GapFill     string        `yaml:"gap_fill"` // collaborator | engine | off
	FloorPrice  float64       `yaml:"floor_price"`
	Session     SessionConfig `yaml:"session"`
	Retry       retry.Config  `yaml:"retry"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// CacheConfig configures the on-disk bar cache. An empty backend disables it.
type CacheConfig struct {
	Backend string `yaml:"backend"` // json | sqlite
	Path    string `yaml:"path"`
}

// SessionConfig is the regular trading window used to filter asset minute bars.
type SessionConfig struct {
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`  // "HH:MM"
	Close    string `yaml:"close"` // "HH:MM"
}

// BreakerConfig maps onto marketdata.CircuitBreakerSettings.
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
}

// BacktestConfig defines the simulated date range.
type BacktestConfig struct {
	Asset         string  `yaml:"asset"`
	Start         string  `yaml:"start"` // YYYY-MM-DD
	End           string  `yaml:"end"`
	StartingMoney float64 `yaml:"starting_money"`
	Workers       int     `yaml:"workers"`
	TracePath     string  `yaml:"trace_path"`
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	AuthToken    string `yaml:"auth_token"`
	SweepWorkers int    `yaml:"sweep_workers"`
}

// LoggingConfig configures an optional rotated log file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	Format     string `yaml:"format"` // text | json
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, expanding ${VAR} references first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// normalize fills defaults for unset values
func (c *Config) normalize() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "dev"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Data.Provider == "" {
		c.Data.Provider = ProviderTradier
	}
	if c.Data.GapFill == "" {
		c.Data.GapFill = GapFillCollaborator
	}
	if c.Data.FloorPrice == 0 {
		c.Data.FloorPrice = marketdata.DefaultFloorPrice
	}
	if c.Data.Session.Timezone == "" {
		c.Data.Session.Timezone = defaultSessionTimezone
	}
	if c.Data.Session.Open == "" {
		c.Data.Session.Open = defaultSessionOpen
	}
	if c.Data.Session.Close == "" {
		c.Data.Session.Close = defaultSessionClose
	}
	if c.Data.Retry == (retry.Config{}) {
		c.Data.Retry = retry.DefaultConfig
	}
	d := marketdata.DefaultCircuitBreakerSettings
	b := &c.Data.Breaker
	if b.MaxRequests == 0 {
		b.MaxRequests = d.MaxRequests
	}
	if b.Interval == 0 {
		b.Interval = d.Interval
	}
	if b.Timeout == 0 {
		b.Timeout = d.Timeout
	}
	if b.MinRequests == 0 {
		b.MinRequests = d.MinRequests
	}
	if b.FailureRatio == 0 {
		b.FailureRatio = d.FailureRatio
	}
	c.Backtest.Asset = strings.ToUpper(strings.TrimSpace(c.Backtest.Asset))
	if c.Backtest.Workers == 0 {
		c.Backtest.Workers = 1
	}
	if c.Opening.Kind == "" {
		c.Opening = strategy.DefaultOpeningConfig
	}
	if c.Opening.Combo.Kind == "" {
		c.Opening.Combo = strategy.DefaultOpeningConfig.Combo
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
	if c.Server.SweepWorkers == 0 {
		c.Server.SweepWorkers = 1
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}

	switch c.Data.Provider {
	case ProviderTradier:
		if c.Data.APIKey == "" {
			return errors.New("data.api_key is required for the tradier provider")
		}
	case ProviderSynthetic:
	default:
		return fmt.Errorf("data.provider must be '%s' or '%s'", ProviderTradier, ProviderSynthetic)
	}
	switch c.Data.Cache.Backend {
	case "":
	case "json", "sqlite":
		if c.Data.Cache.Path == "" {
			return errors.New("data.cache.path is required when a cache backend is set")
		}
	default:
		return fmt.Errorf("data.cache.backend must be 'json' or 'sqlite'")
	}
	switch c.Data.GapFill {
	case GapFillCollaborator, GapFillEngine, GapFillOff:
	default:
		return fmt.Errorf("data.gap_fill must be one of collaborator, engine, off")
	}
	if c.Data.FloorPrice < 0 {
		return errors.New("data.floor_price must be >= 0")
	}
	if _, err := c.SessionWindow(); err != nil {
		return fmt.Errorf("data.session: %w", err)
	}
	if c.Data.Retry.MaxRetries < 0 {
		return errors.New("data.retry.max_retries must be >= 0")
	}
	if c.Data.Breaker.FailureRatio <= 0 || c.Data.Breaker.FailureRatio > 1 {
		return errors.New("data.breaker.failure_ratio must be in (0,1]")
	}

	if c.Backtest.Asset == "" {
		return errors.New("backtest.asset is required")
	}
	start, end, err := c.DateRange()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("backtest.end (%s) must not be before backtest.start (%s)", c.Backtest.End, c.Backtest.Start)
	}
	if c.Backtest.Workers < 1 {
		return errors.New("backtest.workers must be >= 1")
	}

	if _, err := c.Opening.Build(); err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	if err := c.Closing.Validate(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}
	if c.Sweep != nil {
		if _, err := c.Sweep.Expand(); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.SweepWorkers < 1 {
		return errors.New("server.sweep_workers must be >= 1")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.New("logging.format must be 'text' or 'json'")
	}
	return nil
}

// DateRange parses backtest.start and backtest.end as UTC dates.
func (c *Config) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, c.Backtest.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.start invalid (want YYYY-MM-DD): %w", err)
	}
	end, err := time.Parse(dateLayout, c.Backtest.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.end invalid (want YYYY-MM-DD): %w", err)
	}
	return start, end, nil
}

// SessionWindow returns the configured regular session.
func (c *Config) SessionWindow() (marketdata.Session, error) {
	s := c.Data.Session
	return marketdata.ParseSession(s.Timezone, s.Open, s.Close)
}

// BreakerSettings returns the circuit breaker tuning
func (c *Config) BreakerSettings() marketdata.CircuitBreakerSettings {
	b := c.Data.Breaker
	return marketdata.CircuitBreakerSettings{
		MaxRequests:  b.MaxRequests,
		Interval:     b.Interval,
		Timeout:      b.Timeout,
		MinRequests:  b.MinRequests,
		FailureRatio: b.FailureRatio,
	}
}

// GapFill returns the fill policy, or nil when gap filling is off.
func (c *Config) GapFill() *marketdata.GapFill {
	if c.Data.GapFill == GapFillOff {
		return nil
	}
	return &marketdata.GapFill{Floor: c.Data.FloorPrice}
}

func (c *Config) IsProduction() bool {
	return c.Environment.Mode == "prod"
}
