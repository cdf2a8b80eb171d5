package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tungnguyentu/trade/indicator"
	"github.com/tungnguyentu/trade/types"
	"go.uber.org/multierr"
)

type Mode string

const (
	Live     Mode = "live"
	Paper    Mode = "paper"
	Backtest Mode = "backtest"
)

type MarginType string

const (
	Isolated MarginType = "ISOLATED"
	Crossed  MarginType = "CROSSED"
)

// StopBasis selects how the initial stop distance is derived.
type StopBasis string

const (
	StopATR     StopBasis = "atr"
	StopPercent StopBasis = "percent"
)

type SizingMode string

const (
	SizeByRisk SizingMode = "risk"
	SizeFixed  SizingMode = "fixed"
)

// StopRule is the stop-loss/take-profit recipe of one strategy.
type StopRule struct {
	Basis         StopBasis
	ATRMultiplier float64 // stop distance = ATR * multiplier
	StopLossPct   float64 // stop distance = price * pct
	RewardRisk    float64 // take-profit distance = RewardRisk * stop distance
}

// RiskConfig holds sizing and governor parameters.
type RiskConfig struct {
	RiskPerTrade  float64 // e.g. 0.01 = 1 % of equity
	MaxDrawdown   float64 // entries halt at or above this drawdown
	WarnDrawdown  float64 // drawdown_warning fires when first crossed
	SizingMode    SizingMode
	BaseOrderSize float64 // quote notional per order in fixed sizing mode
	Leverage      int
	MarginType    MarginType
	MaxNotional   float64 // 0 = uncapped
	MinNotional   float64 // exchange minimum order value

	// QuantityPrecision defines the number of decimal places to round to.
	QuantityPrecision int
	// Minimum order size accepted by the broker (e.g. 0.001 BTC).
	MinQty float64
	// StepSize – the increment allowed by the exchange (e.g. 0.001).
	StepSize float64

	Stops map[types.StrategyKind]StopRule
}

type TrailingConfig struct {
	Enabled       bool
	ActivationPct float64 // favourable move from entry that arms the trail
	CallbackPct   float64 // trail distance as a fraction of the extreme price
}

type ScalpingConfig struct {
	Enabled          bool
	Timeframe        types.Timeframe
	ConfirmTimeframe types.Timeframe // empty disables higher-timeframe confirmation
	RSIOverbought    float64
	RSIOversold      float64
	NearBandPct      float64 // how close to the band counts as touching
	SlopeTolerance   float64 // fast EMA slope within ±tolerance counts as flat
	ExitOnRSI        bool    // close longs above overbought and shorts below oversold
}

type SwingConfig struct {
	Enabled      bool
	Timeframe    types.Timeframe
	VolumeFactor float64 // volume must exceed VolumeFactor * rolling average
	RequireOBV   bool
	MaxHolding   time.Duration // 0 holds until stop or target
}

type RegimeConfig struct {
	TrendTimeframe      types.Timeframe
	VolatilityTimeframe types.Timeframe
	HighVolRatio        float64 // ATR / mean(ATR) at or above this is high volatility
	TrendSlope          float64 // |slow EMA slope| at or above this is trending
	RangeSlope          float64 // |slow EMA slope| at or below this is ranging
	Default             types.StrategyKind
}

type ExecutionConfig struct {
	Attempts    int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
	FeeRate     float64 // simulated taker fee
	SlippageBps float64 // simulated slippage on entries
	RatePerSec  float64 // REST request budget
}

type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
}

type StoreConfig struct {
	Path string // sqlite file; empty keeps results in memory
}

type LogConfig struct {
	Level string
	File  string
}

type StatusConfig struct {
	Addr string // empty disables the HTTP status surface
}

// Config is the whole configuration surface of the trader.
type Config struct {
	Mode           Mode
	Symbols        []string
	Timeframes     []types.Timeframe
	BaseTimeframe  types.Timeframe // timeframe whose closed bars trigger evaluation
	Interval       time.Duration   // trading-cycle interval for polling drivers
	InitialBalance float64

	Risk       RiskConfig
	Trailing   TrailingConfig
	Indicators indicator.Spec
	Scalping   ScalpingConfig
	Swing      SwingConfig
	Regime     RegimeConfig
	Execution  ExecutionConfig

	Binance  BinanceConfig
	Telegram TelegramConfig
	Store    StoreConfig
	Log      LogConfig
	Status   StatusConfig
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Mode:           Paper,
		Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		Timeframes:     []types.Timeframe{types.M1, types.M5, types.M15, types.H1, types.H4},
		BaseTimeframe:  types.M1,
		Interval:       5 * time.Minute,
		InitialBalance: 10_000,
		Risk: RiskConfig{
			RiskPerTrade:      0.01,
			MaxDrawdown:       0.20,
			WarnDrawdown:      0.15,
			SizingMode:        SizeByRisk,
			BaseOrderSize:     100,
			Leverage:          5,
			MarginType:        Isolated,
			MinNotional:       5,
			QuantityPrecision: 3,
			MinQty:            0.001,
			StepSize:          0.001,
			Stops: map[types.StrategyKind]StopRule{
				types.Scalping: {Basis: StopPercent, StopLossPct: 0.002, ATRMultiplier: 2.0, RewardRisk: 2.5},
				types.Swing:    {Basis: StopATR, StopLossPct: 0.01, ATRMultiplier: 2.0, RewardRisk: 2.0},
			},
		},
		Trailing: TrailingConfig{
			Enabled:       false,
			ActivationPct: 0.005,
			CallbackPct:   0.008,
		},
		Indicators: indicator.DefaultSpec(),
		Scalping: ScalpingConfig{
			Enabled:          true,
			Timeframe:        types.M1,
			ConfirmTimeframe: types.M5,
			RSIOverbought:    70,
			RSIOversold:      30,
			NearBandPct:      0.005,
			SlopeTolerance:   0.0005,
			ExitOnRSI:        true,
		},
		Swing: SwingConfig{
			Enabled:      true,
			Timeframe:    types.H4,
			VolumeFactor: 1.2,
			MaxHolding:   72 * time.Hour,
		},
		Regime: RegimeConfig{
			TrendTimeframe:      types.H1,
			VolatilityTimeframe: types.H1,
			HighVolRatio:        1.5,
			TrendSlope:          0.01,
			RangeSlope:          0.004,
			Default:             types.Scalping,
		},
		Execution: ExecutionConfig{
			Attempts:   3,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 5 * time.Second,
			Timeout:    10 * time.Second,
			FeeRate:    0.0004,
			RatePerSec: 10,
		},
		Binance: BinanceConfig{Testnet: true},
		Log:     LogConfig{Level: "info"},
	}
}

// ConfigurationError is fatal at startup. It carries every problem found.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Problems lists the individual validation failures.
func (e *ConfigurationError) Problems() []error { return multierr.Errors(e.Err) }

// Validate checks that all numeric fields are within sensible bounds and
// that the thresholds do not contradict each other. Every failure is
// collected so the operator can fix the whole file in one pass.
func (c *Config) Validate() error {
	var err error
	add := func(e error) { err = multierr.Append(err, e) }

	switch c.Mode {
	case Live, Paper, Backtest:
	default:
		add(fmt.Errorf("Mode %q must be live, paper or backtest", c.Mode))
	}
	if len(c.Symbols) == 0 {
		add(errors.New("Symbols cannot be empty"))
	}
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			add(errors.New("Symbols contains an empty entry"))
		}
	}
	if len(c.Timeframes) == 0 {
		add(errors.New("Timeframes cannot be empty"))
	}
	for _, tf := range c.Timeframes {
		if _, e := tf.Duration(); e != nil {
			add(e)
		}
	}
	if !c.hasTimeframe(c.BaseTimeframe) {
		add(fmt.Errorf("BaseTimeframe %q must be one of Timeframes", c.BaseTimeframe))
	}
	for _, tf := range c.Timeframes {
		if c.hasTimeframe(c.BaseTimeframe) && durationOf(tf) < durationOf(c.BaseTimeframe) {
			add(fmt.Errorf("BaseTimeframe %q must be the shortest timeframe, %q is shorter", c.BaseTimeframe, tf))
		}
	}
	if c.Interval <= 0 {
		add(errors.New("Interval must be positive"))
	}
	if c.InitialBalance <= 0 {
		add(fmt.Errorf("InitialBalance (%f) must be positive", c.InitialBalance))
	}

	add(c.Risk.validate())
	add(c.validateTrailing())
	if e := c.Indicators.Validate(); e != nil {
		add(fmt.Errorf("Indicators: %w", e))
	}
	add(c.validateStrategies())
	add(c.validateRegime())
	add(c.validateExecution())

	if c.Mode == Live && (c.Binance.APIKey == "" || c.Binance.SecretKey == "") {
		add(errors.New("live mode requires Binance API key and secret"))
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		add(errors.New("Telegram enabled without token or chat id"))
	}

	if err != nil {
		return &ConfigurationError{Err: err}
	}
	return nil
}

// Validate checks the risk section on its own.
func (r RiskConfig) Validate() error {
	if err := r.validate(); err != nil {
		return &ConfigurationError{Err: err}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	var err error
	add := func(e error) { err = multierr.Append(err, e) }

	if r.RiskPerTrade <= 0 || r.RiskPerTrade > 0.5 {
		add(fmt.Errorf("RiskPerTrade (%f) must be >0 and <=0.5", r.RiskPerTrade))
	}
	if r.MaxDrawdown <= 0 || r.MaxDrawdown >= 1 {
		add(fmt.Errorf("MaxDrawdown (%f) must be >0 and <1", r.MaxDrawdown))
	}
	if r.WarnDrawdown < 0 || r.WarnDrawdown > r.MaxDrawdown {
		add(fmt.Errorf("WarnDrawdown (%f) must be between 0 and MaxDrawdown", r.WarnDrawdown))
	}
	switch r.SizingMode {
	case SizeByRisk:
	case SizeFixed:
		if r.BaseOrderSize <= 0 {
			add(errors.New("BaseOrderSize must be positive in fixed sizing mode"))
		}
	default:
		add(fmt.Errorf("SizingMode %q must be risk or fixed", r.SizingMode))
	}
	if r.Leverage < 1 || r.Leverage > 125 {
		add(fmt.Errorf("Leverage (%d) must be between 1 and 125", r.Leverage))
	}
	if r.MarginType != Isolated && r.MarginType != Crossed {
		add(fmt.Errorf("MarginType %q must be ISOLATED or CROSSED", r.MarginType))
	}
	if r.MaxNotional < 0 || r.MinNotional < 0 {
		add(errors.New("MaxNotional and MinNotional cannot be negative"))
	}
	if r.MaxNotional > 0 && r.MaxNotional < r.MinNotional {
		add(errors.New("MaxNotional cannot be below MinNotional"))
	}
	if r.QuantityPrecision < 0 {
		add(errors.New("QuantityPrecision cannot be negative"))
	}
	if r.MinQty < 0 {
		add(errors.New("MinQty cannot be negative"))
	}
	if r.StepSize <= 0 {
		add(errors.New("StepSize must be positive"))
	}
	for _, kind := range []types.StrategyKind{types.Scalping, types.Swing} {
		rule, ok := r.Stops[kind]
		if !ok {
			add(fmt.Errorf("Stops missing a rule for %s", kind))
			continue
		}
		add(rule.validate(kind))
	}
	return err
}

func (s StopRule) validate(kind types.StrategyKind) error {
	var err error
	switch s.Basis {
	case StopATR:
		if s.ATRMultiplier <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s: ATRMultiplier must be positive", kind))
		}
	case StopPercent:
		if s.StopLossPct <= 0 || s.StopLossPct > 0.2 {
			err = multierr.Append(err, fmt.Errorf("%s: StopLossPct (%f) must be >0 and <=0.2", kind, s.StopLossPct))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("%s: stop basis %q must be atr or percent", kind, s.Basis))
	}
	if s.RewardRisk <= 0 || s.RewardRisk > 20 {
		err = multierr.Append(err, fmt.Errorf("%s: RewardRisk (%f) out of realistic range", kind, s.RewardRisk))
	}
	return err
}

func (c *Config) validateTrailing() error {
	t := c.Trailing
	if !t.Enabled {
		return nil
	}
	var err error
	if t.ActivationPct < 0 || t.ActivationPct > 1 {
		err = multierr.Append(err, fmt.Errorf("Trailing.ActivationPct (%f) must be between 0 and 1", t.ActivationPct))
	}
	if t.CallbackPct <= 0 || t.CallbackPct > 0.1 {
		err = multierr.Append(err, fmt.Errorf("Trailing.CallbackPct (%f) must be >0 and <=0.1", t.CallbackPct))
	}
	return err
}

func (c *Config) validateStrategies() error {
	var err error
	add := func(e error) { err = multierr.Append(err, e) }

	if !c.Scalping.Enabled && !c.Swing.Enabled {
		add(errors.New("at least one strategy must be enabled"))
	}
	sc := c.Scalping
	if sc.Enabled {
		// -----------------------------------------------------------------
		// Scalping enters when RSI crosses below oversold; equal or
		// inverted thresholds would fire both directions at once.
		// -----------------------------------------------------------------
		if sc.RSIOversold >= sc.RSIOverbought {
			add(fmt.Errorf("Scalping.RSIOversold (%f) must be below RSIOverbought (%f)", sc.RSIOversold, sc.RSIOverbought))
		}
		if sc.RSIOversold <= 0 || sc.RSIOverbought >= 100 {
			add(errors.New("Scalping RSI thresholds must lie inside (0, 100)"))
		}
		if sc.NearBandPct < 0 || sc.NearBandPct > 0.05 {
			add(fmt.Errorf("Scalping.NearBandPct (%f) must be between 0 and 0.05", sc.NearBandPct))
		}
		if sc.SlopeTolerance < 0 {
			add(errors.New("Scalping.SlopeTolerance cannot be negative"))
		}
		if !c.hasTimeframe(sc.Timeframe) {
			add(fmt.Errorf("Scalping.Timeframe %q must be one of Timeframes", sc.Timeframe))
		}
		if sc.ConfirmTimeframe != "" && !c.hasTimeframe(sc.ConfirmTimeframe) {
			add(fmt.Errorf("Scalping.ConfirmTimeframe %q must be one of Timeframes", sc.ConfirmTimeframe))
		}
	}
	sw := c.Swing
	if sw.Enabled {
		if sw.VolumeFactor <= 0 {
			add(errors.New("Swing.VolumeFactor must be positive"))
		}
		if sw.MaxHolding < 0 {
			add(errors.New("Swing.MaxHolding cannot be negative"))
		}
		if !c.hasTimeframe(sw.Timeframe) {
			add(fmt.Errorf("Swing.Timeframe %q must be one of Timeframes", sw.Timeframe))
		}
	}
	return err
}

func (c *Config) validateRegime() error {
	var err error
	add := func(e error) { err = multierr.Append(err, e) }
	r := c.Regime
	if !c.hasTimeframe(r.TrendTimeframe) {
		add(fmt.Errorf("Regime.TrendTimeframe %q must be one of Timeframes", r.TrendTimeframe))
	}
	if !c.hasTimeframe(r.VolatilityTimeframe) {
		add(fmt.Errorf("Regime.VolatilityTimeframe %q must be one of Timeframes", r.VolatilityTimeframe))
	}
	if r.HighVolRatio <= 1 {
		add(fmt.Errorf("Regime.HighVolRatio (%f) must be above 1", r.HighVolRatio))
	}
	if r.RangeSlope < 0 || r.TrendSlope <= 0 {
		add(errors.New("Regime slope thresholds must be positive"))
	}
	if r.RangeSlope > r.TrendSlope {
		add(fmt.Errorf("Regime.RangeSlope (%f) cannot exceed TrendSlope (%f)", r.RangeSlope, r.TrendSlope))
	}
	if !r.Default.Valid() {
		add(fmt.Errorf("Regime.Default %q must be scalping or swing", r.Default))
	}
	return err
}

func (c *Config) validateExecution() error {
	var err error
	e := c.Execution
	if e.Attempts < 1 {
		err = multierr.Append(err, errors.New("Execution.Attempts must be at least 1"))
	}
	if e.Backoff < 0 || e.MaxBackoff < e.Backoff {
		err = multierr.Append(err, errors.New("Execution backoff must satisfy 0 <= Backoff <= MaxBackoff"))
	}
	if e.Timeout <= 0 {
		err = multierr.Append(err, errors.New("Execution.Timeout must be positive"))
	}
	if e.FeeRate < 0 || e.FeeRate > 0.01 {
		err = multierr.Append(err, fmt.Errorf("Execution.FeeRate (%f) must be between 0 and 0.01", e.FeeRate))
	}
	if e.SlippageBps < 0 {
		err = multierr.Append(err, errors.New("Execution.SlippageBps cannot be negative"))
	}
	return err
}

func (c *Config) hasTimeframe(tf types.Timeframe) bool {
	for _, t := range c.Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

func durationOf(tf types.Timeframe) time.Duration {
	d, _ := tf.Duration()
	return d
}
