package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tungnguyentu/trade/types"
)

func TestValidateSuccess(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateFailsOnBadRisk(t *testing.T) {
	cfg := Default()
	cfg.Risk.RiskPerTrade = -0.01 // invalid
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for negative RiskPerTrade")
	}
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Risk.MaxDrawdown = 1.5
	cfg.Risk.Leverage = 0
	cfg.Scalping.RSIOversold = 80 // contradicts overbought 70
	cfg.Regime.TrendTimeframe = types.D1

	var ce *ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if n := len(ce.Problems()); n < 4 {
		t.Fatalf("expected at least 4 problems, got %d: %v", n, ce)
	}
}

func TestValidateRejectsNoStrategy(t *testing.T) {
	cfg := Default()
	cfg.Scalping.Enabled = false
	cfg.Swing.Enabled = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when every strategy is disabled")
	}
}

func TestValidateBaseTimeframeMustBeShortest(t *testing.T) {
	cfg := Default()
	cfg.BaseTimeframe = types.M5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error: 1m is shorter than the base timeframe")
	}
}

func TestValidateLiveNeedsKeys(t *testing.T) {
	cfg := Default()
	cfg.Mode = Live
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for live mode without credentials")
	}
	cfg.Binance.APIKey, cfg.Binance.SecretKey = "k", "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStopRules(t *testing.T) {
	cfg := Default()
	cfg.Risk.Stops[types.Swing] = StopRule{Basis: StopATR, ATRMultiplier: 0, RewardRisk: 2}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero ATR multiplier")
	}
	cfg = Default()
	delete(cfg.Risk.Stops, types.Scalping)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing scalping stop rule")
	}
}

func TestApplyEnvOverlaysLegacyNames(t *testing.T) {
	vars := map[string]string{
		"TRADING_MODE":             "backtest",
		"TRADING_SYMBOLS":          "btcusdt, solusdt",
		"TIMEFRAMES":               "1m,5m,1h,4h",
		"RISK_PER_TRADE":           "0.02",
		"LEVERAGE":                 "10",
		"MARGIN_TYPE":              "crossed",
		"USE_TRAILING_STOP":        "true",
		"TRAILING_STOP_CALLBACK":   "0.5",
		"TRADING_INTERVAL":         "15",
		"TELEGRAM_BOT_TOKEN":       "abc",
		"TELEGRAM_CHAT_ID":         "42",
		"SWING_MAX_HOLDING_PERIOD": "48",
		"SCALPING_EXIT_ON_RSI":     "false",
	}
	cfg := Default()
	if err := cfg.applyEnv(func(k string) string { return vars[k] }); err != nil {
		t.Fatalf("applyEnv failed: %v", err)
	}
	if cfg.Mode != Backtest {
		t.Fatalf("mode not applied: %s", cfg.Mode)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[1] != "SOLUSDT" {
		t.Fatalf("symbols not applied: %v", cfg.Symbols)
	}
	if len(cfg.Timeframes) != 4 || cfg.Timeframes[2] != types.H1 {
		t.Fatalf("timeframes not applied: %v", cfg.Timeframes)
	}
	if cfg.Risk.RiskPerTrade != 0.02 || cfg.Risk.Leverage != 10 || cfg.Risk.MarginType != Crossed {
		t.Fatalf("risk not applied: %+v", cfg.Risk)
	}
	if !cfg.Trailing.Enabled || cfg.Trailing.CallbackPct != 0.005 {
		t.Fatalf("trailing not applied: %+v", cfg.Trailing)
	}
	if cfg.Interval != 15*time.Minute {
		t.Fatalf("interval not applied: %v", cfg.Interval)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.ChatID != 42 {
		t.Fatalf("telegram not applied: %+v", cfg.Telegram)
	}
	if cfg.Swing.MaxHolding != 48*time.Hour || cfg.Scalping.ExitOnRSI {
		t.Fatalf("strategy exits not applied: %v %v", cfg.Swing.MaxHolding, cfg.Scalping.ExitOnRSI)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overlaid config should validate: %v", err)
	}
}

func TestApplyEnvReportsBadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) string {
		if k == "LEVERAGE" {
			return "five"
		}
		return ""
	})
	if err == nil {
		t.Fatal("expected parse error for LEVERAGE")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MAX_DRAWDOWN=0.3\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("MAX_DRAWDOWN", "")
	os.Unsetenv("MAX_DRAWDOWN")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Risk.MaxDrawdown != 0.3 {
		t.Fatalf("expected MaxDrawdown from .env, got %v", cfg.Risk.MaxDrawdown)
	}
}
