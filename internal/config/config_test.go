package config

import (
	"strings"
	"testing"
	"time"

	"github.com/kingsick/autotrader/internal/engine"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KIS_APP_KEY", "key")
	t.Setenv("KIS_APP_SECRET", "secret")
	t.Setenv("KIS_ACCOUNT_NO", "12345678-01")
	t.Setenv("DATABASE_URL", "postgres://localhost/autotrader")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.MarketTZ != "Asia/Seoul" {
		t.Errorf("MarketTZ: got %q", cfg.MarketTZ)
	}
	if cfg.TickInterval != 5*time.Minute {
		t.Errorf("TickInterval: got %v", cfg.TickInterval)
	}
	if cfg.TickDeadline != 240*time.Second {
		t.Errorf("TickDeadline: got %v", cfg.TickDeadline)
	}
	if cfg.MaxConcurrentBrokerCalls != 5 {
		t.Errorf("MaxConcurrentBrokerCalls: got %d", cfg.MaxConcurrentBrokerCalls)
	}
	if cfg.Mode != engine.ModeAlert {
		t.Errorf("Mode: got %q", cfg.Mode)
	}
	if !cfg.KIS.IsMock {
		t.Error("KIS_IS_MOCK should default to true")
	}
	if cfg.Risk.StopLossPct != -5.0 || cfg.Risk.TakeProfitPct != 10.0 ||
		cfg.Risk.MaxStocks != 10 || cfg.Risk.DailyLossLimit != -10.0 {
		t.Errorf("unexpected risk defaults: %+v", cfg.Risk)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MARKET_TZ", "UTC")
	t.Setenv("TICK_INTERVAL_MIN", "10")
	t.Setenv("TICK_DEADLINE_SEC", "120")
	t.Setenv("TRADING_MODE", "auto")
	t.Setenv("STOP_LOSS_PCT", "-3.5")
	t.Setenv("MAX_STOCKS", "4")
	t.Setenv("KIS_IS_MOCK", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MarketTZ != "UTC" || cfg.TickInterval != 10*time.Minute ||
		cfg.TickDeadline != 2*time.Minute || cfg.Mode != engine.ModeAuto {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Risk.StopLossPct != -3.5 || cfg.Risk.MaxStocks != 4 {
		t.Errorf("risk overrides not applied: %+v", cfg.Risk)
	}
	if cfg.KIS.IsMock {
		t.Error("KIS_IS_MOCK=false not applied")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	cases := []struct {
		name  string
		unset string
		want  string
	}{
		{"app key", "KIS_APP_KEY", "KIS_APP_KEY"},
		{"account", "KIS_ACCOUNT_NO", "KIS_ACCOUNT_NO"},
		{"database", "DATABASE_URL", "DATABASE_URL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.unset, "")
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should name %s, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"TRADING_MODE", "yolo"},
		{"STOP_LOSS_PCT", "5.0"},    // must be negative
		{"TAKE_PROFIT_PCT", "-1"},   // must be positive
		{"DAILY_LOSS_LIMIT", "10"},  // must be negative
		{"MAX_STOCKS", "0"},         // must be positive
		{"TICK_DEADLINE_SEC", "600"}, // must stay below the 5 min interval
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s should fail validation", tc.key, tc.value)
			}
		})
	}
}
