package types

import (
	"fmt"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that flattens a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction is the intent of a Signal or the side of a Position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// Side maps a direction to the order side that opens it.
func (d Direction) Side() Side {
	if d == Short {
		return Sell
	}
	return Buy
}

// Sign is +1 for long, -1 for short and 0 for flat.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	}
	return 0
}

// StrategyKind tags which signal generator produced a signal or governs a symbol.
type StrategyKind string

const (
	Scalping StrategyKind = "scalping"
	Swing    StrategyKind = "swing"
)

func (k StrategyKind) Valid() bool { return k == Scalping || k == Swing }

type Timeframe string

const (
	M1  Timeframe = "1m"
	M5  Timeframe = "5m"
	M15 Timeframe = "15m"
	H1  Timeframe = "1h"
	H4  Timeframe = "4h"
	D1  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// Duration returns the bar length of the timeframe.
func (tf Timeframe) Duration() (time.Duration, error) {
	d, ok := timeframeDurations[tf]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", string(tf))
	}
	return d, nil
}

// MustDuration is Duration for timeframes already validated by config.
func (tf Timeframe) MustDuration() time.Duration {
	d, err := tf.Duration()
	if err != nil {
		panic(err)
	}
	return d
}

// Bar is one OHLCV candle. Bars are immutable once produced.
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// CloseTime is the instant the bar stops accepting trades.
func (b Bar) CloseTime() time.Time {
	d, err := b.Timeframe.Duration()
	if err != nil {
		return b.OpenTime
	}
	return b.OpenTime.Add(d)
}

// Signal is the output of one generator evaluation. Never mutated.
type Signal struct {
	Source      StrategyKind
	Symbol      string
	Timeframe   Timeframe
	Direction   Direction
	Strength    float64 // 0..1
	Rationale   string
	GeneratedAt time.Time

	// market context at generation time, used for sizing
	Price float64
	ATR   float64
}

// FlatSignal builds a non-actionable signal with the reason it stayed flat.
func FlatSignal(source StrategyKind, symbol string, at time.Time, rationale string) Signal {
	return Signal{
		Source:      source,
		Symbol:      symbol,
		Direction:   Flat,
		Rationale:   rationale,
		GeneratedAt: at,
	}
}

// Actionable reports whether the signal asks for an entry.
func (s Signal) Actionable() bool {
	return s.Direction == Long || s.Direction == Short
}

type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// Order is an order intent: requested, not yet confirmed filled.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        float64
	Price      float64 // reference price for market orders, limit price otherwise
	StopPrice  float64
	TakeProfit float64
	Leverage   int
	ReduceOnly bool
	Strategy   StrategyKind
	CreatedAt  time.Time
	// meta
	Comment string
}

// Notional is qty times reference price.
func (o Order) Notional() float64 { return o.Qty * o.Price }

type OrderStatus string

const (
	Filled   OrderStatus = "filled"
	Rejected OrderStatus = "rejected"
	Timeout  OrderStatus = "timeout"
)

// OrderResult is how every placed order resolves.
type OrderResult struct {
	OrderID   string
	Status    OrderStatus
	FillPrice float64
	FilledQty float64
	Fee       float64
	FilledAt  time.Time
	Reason    string
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time
	Equity float64
}
