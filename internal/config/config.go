// Package config provides application-wide configuration management.
// All configuration is loaded from environment variables (optionally via
// a .env file read by the daemon at startup). No configuration is
// hardcoded in strategy or broker logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kingsick/autotrader/internal/engine"
	"github.com/kingsick/autotrader/internal/risk"
)

// KISConfig holds the KIS API credentials.
type KISConfig struct {
	AppKey    string
	AppSecret string
	AccountNo string
	IsMock    bool
}

// Config holds all daemon configuration.
type Config struct {
	// MarketTZ is the exchange timezone (MARKET_TZ, default Asia/Seoul).
	MarketTZ string

	// TickInterval between trading loops (TICK_INTERVAL_MIN, default 5).
	TickInterval time.Duration

	// TickDeadline bounds one full trading loop (TICK_DEADLINE_SEC,
	// default 240).
	TickDeadline time.Duration

	// GracePeriod to drain the current tick on shutdown
	// (SHUTDOWN_GRACE_SEC, default 30).
	GracePeriod time.Duration

	// MaxConcurrentBrokerCalls bounds in-flight price fetches per user
	// (MAX_CONCURRENT_BROKER_CALLS, default 5).
	MaxConcurrentBrokerCalls int

	// Mode is the default trading mode for users without their own
	// setting (TRADING_MODE: auto | alert, default alert).
	Mode engine.Mode

	// KIS credentials (KIS_APP_KEY, KIS_APP_SECRET, KIS_ACCOUNT_NO,
	// KIS_IS_MOCK).
	KIS KISConfig

	// Risk limits (STOP_LOSS_PCT, TAKE_PROFIT_PCT, TRAILING_STOP_ENABLED,
	// TRAILING_STOP_PCT, MAX_INVESTMENT_PER_STOCK, MAX_STOCKS,
	// DAILY_LOSS_LIMIT).
	Risk risk.Config

	// DatabaseURL is the Postgres connection string (DATABASE_URL).
	DatabaseURL string

	// RedisURL selects the shared alert store (REDIS_URL; empty keeps
	// alerts in process memory).
	RedisURL string

	// HolidayFile points to the KRX holiday calendar JSON (HOLIDAY_FILE,
	// optional).
	HolidayFile string

	// SlackEnabled toggles alert notifications (SLACK_ENABLED, default
	// true).
	SlackEnabled bool

	// MetricsAddr serves Prometheus metrics (METRICS_ADDR, default
	// :9100; empty disables).
	MetricsAddr string

	// DashboardAddr serves the WebSocket event feed (DASHBOARD_ADDR,
	// default :8090; empty disables).
	DashboardAddr string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		MarketTZ:                 envString("MARKET_TZ", "Asia/Seoul"),
		TickInterval:             time.Duration(envInt("TICK_INTERVAL_MIN", 5)) * time.Minute,
		TickDeadline:             time.Duration(envInt("TICK_DEADLINE_SEC", 240)) * time.Second,
		GracePeriod:              time.Duration(envInt("SHUTDOWN_GRACE_SEC", 30)) * time.Second,
		MaxConcurrentBrokerCalls: envInt("MAX_CONCURRENT_BROKER_CALLS", 5),
		Mode:                     engine.Mode(envString("TRADING_MODE", string(engine.ModeAlert))),
		KIS: KISConfig{
			AppKey:    os.Getenv("KIS_APP_KEY"),
			AppSecret: os.Getenv("KIS_APP_SECRET"),
			AccountNo: os.Getenv("KIS_ACCOUNT_NO"),
			IsMock:    envBool("KIS_IS_MOCK", true),
		},
		Risk: risk.Config{
			StopLossPct:           envFloat("STOP_LOSS_PCT", -5.0),
			TakeProfitPct:         envFloat("TAKE_PROFIT_PCT", 10.0),
			TrailingStopEnabled:   envBool("TRAILING_STOP_ENABLED", false),
			TrailingStopPct:       envFloat("TRAILING_STOP_PCT", 5.0),
			MaxInvestmentPerStock: envFloat("MAX_INVESTMENT_PER_STOCK", 1_000_000),
			MaxStocks:             envInt("MAX_STOCKS", 10),
			DailyLossLimit:        envFloat("DAILY_LOSS_LIMIT", -10.0),
		},
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		HolidayFile:   os.Getenv("HOLIDAY_FILE"),
		SlackEnabled:  envBool("SLACK_ENABLED", true),
		MetricsAddr:   envString("METRICS_ADDR", ":9100"),
		DashboardAddr: envString("DASHBOARD_ADDR", ":8090"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and sane.
func (c *Config) Validate() error {
	if c.Mode != engine.ModeAuto && c.Mode != engine.ModeAlert {
		return fmt.Errorf("TRADING_MODE must be 'auto' or 'alert', got %q", c.Mode)
	}
	if c.KIS.AppKey == "" || c.KIS.AppSecret == "" {
		return fmt.Errorf("KIS_APP_KEY and KIS_APP_SECRET are required")
	}
	if c.KIS.AccountNo == "" {
		return fmt.Errorf("KIS_ACCOUNT_NO is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TickInterval < time.Minute || c.TickInterval > time.Hour {
		return fmt.Errorf("TICK_INTERVAL_MIN must be between 1 and 60, got %v", c.TickInterval)
	}
	if c.TickDeadline <= 0 || c.TickDeadline >= c.TickInterval {
		return fmt.Errorf("TICK_DEADLINE_SEC must be positive and below the tick interval, got %v", c.TickDeadline)
	}
	if c.MaxConcurrentBrokerCalls <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_BROKER_CALLS must be positive, got %d", c.MaxConcurrentBrokerCalls)
	}
	if c.Risk.StopLossPct >= 0 {
		return fmt.Errorf("STOP_LOSS_PCT must be negative, got %f", c.Risk.StopLossPct)
	}
	if c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("TAKE_PROFIT_PCT must be positive, got %f", c.Risk.TakeProfitPct)
	}
	if c.Risk.TrailingStopPct <= 0 {
		return fmt.Errorf("TRAILING_STOP_PCT must be positive, got %f", c.Risk.TrailingStopPct)
	}
	if c.Risk.MaxInvestmentPerStock <= 0 {
		return fmt.Errorf("MAX_INVESTMENT_PER_STOCK must be positive, got %f", c.Risk.MaxInvestmentPerStock)
	}
	if c.Risk.MaxStocks <= 0 {
		return fmt.Errorf("MAX_STOCKS must be positive, got %d", c.Risk.MaxStocks)
	}
	if c.Risk.DailyLossLimit >= 0 {
		return fmt.Errorf("DAILY_LOSS_LIMIT must be negative, got %f", c.Risk.DailyLossLimit)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
