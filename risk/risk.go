package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/types"
)

type Reason string

const (
	SignalFlat          Reason = "signal_flat"
	DrawdownExceeded    Reason = "drawdown_exceeded"
	PositionAlreadyOpen Reason = "position_already_open"
	BelowMinNotional    Reason = "below_min_notional"
	InvalidStopDistance Reason = "invalid_stop_distance"
)

// Rejection is an expected outcome of the gate, not a fault.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string { return fmt.Sprintf("entry rejected (%s): %s", r.Reason, r.Detail) }

// IsRejection reports whether err is a Rejection with the given reason.
func IsRejection(err error, reason Reason) bool {
	var r *Rejection
	return errors.As(err, &r) && r.Reason == reason
}

func reject(reason Reason, format string, args ...any) error {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Account is the slice of account state the gate reads.
type Account interface {
	Equity() float64
	Drawdown() float64
	HasPosition(symbol string) bool
}

// Manager sizes entries and enforces the drawdown governor. It never places
// orders itself.
type Manager struct {
	cfg config.RiskConfig
	log logger.Logger
}

func NewManager(cfg config.RiskConfig, log logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{cfg: cfg, log: log}, nil
}

// SizeAndGate turns an actionable signal into exactly one entry intent, or
// a *Rejection explaining why not. The intent carries no ID; the caller names
// the order.
func (m *Manager) SizeAndGate(sig types.Signal, acct Account) (types.Order, error) {
	if !sig.Actionable() {
		return types.Order{}, reject(SignalFlat, "%s", sig.Rationale)
	}
	if dd := acct.Drawdown(); dd >= m.cfg.MaxDrawdown {
		return types.Order{}, reject(DrawdownExceeded, "drawdown %.2f%% >= max %.2f%%", dd*100, m.cfg.MaxDrawdown*100)
	}
	if acct.HasPosition(sig.Symbol) {
		return types.Order{}, reject(PositionAlreadyOpen, "%s already holds a position", sig.Symbol)
	}

	rule := m.cfg.Stops[sig.Source]
	dist := StopDistance(rule, sig.Price, sig.ATR)
	if dist <= 0 || sig.Price <= 0 || dist >= sig.Price {
		return types.Order{}, reject(InvalidStopDistance, "%s stop distance %.6f at price %.6f", rule.Basis, dist, sig.Price)
	}

	equity := acct.Equity()
	var raw float64
	switch m.cfg.SizingMode {
	case config.SizeFixed:
		raw = m.cfg.BaseOrderSize / sig.Price
	default:
		raw = CalcQty(equity, m.cfg.RiskPerTrade, dist)
	}
	if m.cfg.Leverage > 0 {
		raw = math.Min(raw, equity*float64(m.cfg.Leverage)/sig.Price)
	}
	if m.cfg.MaxNotional > 0 {
		raw = math.Min(raw, m.cfg.MaxNotional/sig.Price)
	}
	qty := Quantize(raw, m.cfg)
	if qty <= 0 || qty < m.cfg.MinQty || qty*sig.Price < m.cfg.MinNotional {
		return types.Order{}, reject(BelowMinNotional, "qty %.6f notional %.2f below minimum %.2f", qty, qty*sig.Price, m.cfg.MinNotional)
	}

	sign := sig.Direction.Sign()
	o := types.Order{
		Symbol:    sig.Symbol,
		Side:      sig.Direction.Side(),
		Type:      types.Market,
		Qty:       qty,
		Price:     sig.Price,
		StopPrice: sig.Price - sign*dist,
		Leverage:  m.cfg.Leverage,
		Strategy:  sig.Source,
		CreatedAt: sig.GeneratedAt,
		Comment:   sig.Rationale,
	}
	if rule.RewardRisk > 0 {
		o.TakeProfit = sig.Price + sign*rule.RewardRisk*dist
	}
	m.log.Info("order_sized",
		logger.String("symbol", o.Symbol),
		logger.String("side", string(o.Side)),
		logger.Float64("qty", o.Qty),
		logger.Float64("entry", o.Price),
		logger.Float64("stop", o.StopPrice),
		logger.Float64("take_profit", o.TakeProfit),
		logger.Float64("equity", equity),
	)
	return o, nil
}

// StopDistance derives the price distance between entry and stop.
func StopDistance(rule config.StopRule, price, atr float64) float64 {
	switch rule.Basis {
	case config.StopATR:
		return atr * rule.ATRMultiplier
	case config.StopPercent:
		return price * rule.StopLossPct
	}
	return 0
}

// CalcQty is the dollar risk divided by the stop distance.
func CalcQty(equity, riskPerTrade, stopDist float64) float64 {
	if stopDist <= 0 {
		return 0
	}
	return equity * riskPerTrade / stopDist
}

// Quantize floors qty to the exchange step size and precision. A zero step
// leaves the precision rounding only.
func Quantize(qty float64, cfg config.RiskConfig) float64 {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0
	}
	d := decimal.NewFromFloat(qty)
	if cfg.StepSize > 0 {
		step := decimal.NewFromFloat(cfg.StepSize)
		d = d.Div(step).Floor().Mul(step)
	}
	if cfg.QuantityPrecision > 0 {
		d = d.Truncate(int32(cfg.QuantityPrecision))
	}
	return d.InexactFloat64()
}
