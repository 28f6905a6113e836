package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/strategy"
)

func TestLoad(t *testing.T) {
	t.Setenv("TRADIER_API_KEY", "test-key")
	t.Setenv("BACKTEST_AUTH_TOKEN", "")

	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected config to load successfully from example file, got error: %v", err)
	}
	if cfg.Data.APIKey != "test-key" {
		t.Errorf("Expected api_key to be expanded from the environment, got %q", cfg.Data.APIKey)
	}
	if cfg.Data.Retry.InitialBackoff != time.Second {
		t.Errorf("Expected initial_backoff 1s, got %v", cfg.Data.Retry.InitialBackoff)
	}
	if cfg.Closing.Kind != strategy.CloseLimitOrStopLossAfterNOrMthMin {
		t.Errorf("Unexpected closing kind %q", cfg.Closing.Kind)
	}
	if cfg.Sweep == nil || len(cfg.Sweep.Limits) != 4 {
		t.Errorf("Expected sweep grid with 4 limits, got %+v", cfg.Sweep)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

const minimal = `
data:
  provider: synthetic
backtest:
  asset: spy
  start: "2024-04-01"
  end: "2024-04-05"
closing:
  kind: last
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Backtest.Asset != "SPY" {
		t.Errorf("Expected asset to be upper-cased, got %q", cfg.Backtest.Asset)
	}
	if cfg.Opening != strategy.DefaultOpeningConfig {
		t.Errorf("Expected default opening, got %+v", cfg.Opening)
	}
	if cfg.Data.GapFill != GapFillCollaborator || cfg.GapFill() == nil || cfg.GapFill().Floor != 0.01 {
		t.Errorf("Unexpected gap fill defaults: %q %+v", cfg.Data.GapFill, cfg.GapFill())
	}
	if cfg.Server.Port != defaultServerPort || cfg.Backtest.Workers != 1 {
		t.Errorf("Unexpected defaults: port=%d workers=%d", cfg.Server.Port, cfg.Backtest.Workers)
	}
	session, err := cfg.SessionWindow()
	if err != nil {
		t.Fatalf("SessionWindow: %v", err)
	}
	open, _ := session.Bounds(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	if !open.Equal(time.Date(2024, 4, 1, 13, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected session open at 13:30 UTC, got %v", open.UTC())
	}
	if cfg.BreakerSettings().FailureRatio != 0.6 {
		t.Errorf("Expected default breaker failure ratio, got %v", cfg.BreakerSettings().FailureRatio)
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte(minimal + "bogus: 1\n"))
	if err == nil {
		t.Fatal("Expected strict decoding to reject unknown fields")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"tradier without key", func(c *Config) { c.Data.Provider = ProviderTradier }, "data.api_key is required"},
		{"unknown provider", func(c *Config) { c.Data.Provider = "polygon" }, "data.provider must be"},
		{"cache without path", func(c *Config) { c.Data.Cache.Backend = "sqlite" }, "data.cache.path is required"},
		{"bad cache backend", func(c *Config) { c.Data.Cache = CacheConfig{Backend: "redis", Path: "x"} }, "data.cache.backend"},
		{"bad gap fill", func(c *Config) { c.Data.GapFill = "linear" }, "data.gap_fill"},
		{"bad session", func(c *Config) { c.Data.Session.Close = "09:00" }, "data.session"},
		{"missing asset", func(c *Config) { c.Backtest.Asset = "" }, "backtest.asset is required"},
		{"bad start", func(c *Config) { c.Backtest.Start = "04/01/2024" }, "backtest.start invalid"},
		{"end before start", func(c *Config) { c.Backtest.End = "2024-03-01" }, "must not be before"},
		{"bad closing", func(c *Config) { c.Closing = strategy.ClosingConfig{Kind: strategy.CloseLimit} }, "closing:"},
		{"bad opening", func(c *Config) { c.Opening.MinuteIndex = -1 }, "opening:"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log level", func(c *Config) { c.Environment.LogLevel = "trace" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimal))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestGapFillOff(t *testing.T) {
	cfg, err := Parse([]byte(minimal + "\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Data.GapFill = GapFillOff
	if cfg.GapFill() != nil {
		t.Error("Expected no gap fill when turned off")
	}
}
