package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tungnguyentu/trade/types"
)

// Load reads the given .env files (missing files are skipped), overlays
// recognised environment variables on Default() and validates the result.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg := Default()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, &ConfigurationError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// env wraps a lookup function and remembers the first parse failure.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key string, dst *string) {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		*dst = v
	}
}

func (e *env) float(key string, dst *float64) {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *env) integer(key string, dst *int) {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *env) integer64(key string, dst *int64) {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *env) boolean(key string, dst *bool) {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *env) minutes(key string, dst *time.Duration) {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = time.Duration(n) * time.Minute
}

func (e *env) hours(key string, dst *time.Duration) {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = time.Duration(n * float64(time.Hour))
}

func (e *env) list(key string, dst *[]string) {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	*dst = out
}

func (e *env) fail(key, val string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s=%q: %w", key, val, err)
	}
}

// applyEnv reads the variable names of the legacy .env file.
func (c *Config) applyEnv(get func(string) string) error {
	e := &env{get: get}

	var mode string
	e.str("TRADING_MODE", &mode)
	if mode != "" {
		c.Mode = Mode(strings.ToLower(mode))
	}
	e.list("TRADING_SYMBOLS", &c.Symbols)

	var tfs []string
	e.list("TIMEFRAMES", &tfs)
	if len(tfs) > 0 {
		c.Timeframes = c.Timeframes[:0]
		for _, tf := range tfs {
			c.Timeframes = append(c.Timeframes, types.Timeframe(strings.ToLower(tf)))
		}
	}
	var base string
	e.str("BASE_TIMEFRAME", &base)
	if base != "" {
		c.BaseTimeframe = types.Timeframe(strings.ToLower(base))
	}
	e.minutes("TRADING_INTERVAL", &c.Interval)
	e.float("INITIAL_BALANCE", &c.InitialBalance)

	e.float("RISK_PER_TRADE", &c.Risk.RiskPerTrade)
	e.float("MAX_DRAWDOWN", &c.Risk.MaxDrawdown)
	e.float("WARN_DRAWDOWN", &c.Risk.WarnDrawdown)
	e.float("BASE_ORDER_SIZE", &c.Risk.BaseOrderSize)
	e.integer("LEVERAGE", &c.Risk.Leverage)
	var margin, sizing string
	e.str("MARGIN_TYPE", &margin)
	if margin != "" {
		c.Risk.MarginType = MarginType(strings.ToUpper(margin))
	}
	e.str("SIZING_MODE", &sizing)
	if sizing != "" {
		c.Risk.SizingMode = SizingMode(strings.ToLower(sizing))
	}
	e.float("MAX_NOTIONAL", &c.Risk.MaxNotional)
	e.float("MIN_NOTIONAL", &c.Risk.MinNotional)
	e.float("MIN_QTY", &c.Risk.MinQty)
	e.float("STEP_SIZE", &c.Risk.StepSize)

	scalp := c.Risk.Stops[types.Scalping]
	e.float("SCALPING_STOP_LOSS", &scalp.StopLossPct)
	e.float("SCALPING_REWARD_RISK", &scalp.RewardRisk)
	c.Risk.Stops[types.Scalping] = scalp
	swing := c.Risk.Stops[types.Swing]
	e.float("STOP_LOSS_ATR_MULTIPLIER", &swing.ATRMultiplier)
	e.float("TAKE_PROFIT_RISK_REWARD_RATIO", &swing.RewardRisk)
	e.float("SWING_STOP_LOSS", &swing.StopLossPct)
	c.Risk.Stops[types.Swing] = swing

	e.boolean("USE_TRAILING_STOP", &c.Trailing.Enabled)
	e.float("TRAILING_STOP_ACTIVATION", &c.Trailing.ActivationPct)
	// the callback is given in percent (0.8 = 0.8 %)
	var callback float64
	e.float("TRAILING_STOP_CALLBACK", &callback)
	if callback > 0 {
		c.Trailing.CallbackPct = callback / 100
	}

	e.integer("RSI_PERIOD", &c.Indicators.RSIPeriod)
	e.integer("EMA_SHORT", &c.Indicators.EMAFast)
	e.integer("EMA_LONG", &c.Indicators.EMASlow)
	e.integer("MACD_FAST", &c.Indicators.MACDFast)
	e.integer("MACD_SLOW", &c.Indicators.MACDSlow)
	e.integer("MACD_SIGNAL", &c.Indicators.MACDSignal)
	e.integer("BB_PERIOD", &c.Indicators.BBPeriod)
	e.float("BB_STD", &c.Indicators.BBStdDev)
	e.integer("ATR_PERIOD", &c.Indicators.ATRPeriod)

	e.boolean("SCALPING_ENABLED", &c.Scalping.Enabled)
	e.float("SCALPING_RSI_OVERBOUGHT", &c.Scalping.RSIOverbought)
	e.float("SCALPING_RSI_OVERSOLD", &c.Scalping.RSIOversold)
	e.boolean("SWING_TRADING_ENABLED", &c.Swing.Enabled)
	e.float("SWING_VOLUME_FACTOR", &c.Swing.VolumeFactor)
	e.boolean("SCALPING_EXIT_ON_RSI", &c.Scalping.ExitOnRSI)
	e.hours("SWING_MAX_HOLDING_PERIOD", &c.Swing.MaxHolding)

	e.integer("EXECUTION_ATTEMPTS", &c.Execution.Attempts)
	e.float("FEE_RATE", &c.Execution.FeeRate)

	e.str("BINANCE_API_KEY", &c.Binance.APIKey)
	e.str("BINANCE_API_SECRET", &c.Binance.SecretKey)
	e.boolean("BINANCE_TESTNET", &c.Binance.Testnet)

	e.str("TELEGRAM_BOT_TOKEN", &c.Telegram.Token)
	e.integer64("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	c.Telegram.Enabled = c.Telegram.Token != ""
	e.boolean("TELEGRAM_ENABLED", &c.Telegram.Enabled)

	e.str("STORE_PATH", &c.Store.Path)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FILE", &c.Log.File)
	e.str("STATUS_ADDR", &c.Status.Addr)

	return e.err
}
