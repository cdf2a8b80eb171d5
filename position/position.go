// Package position implements the stop/target/trailing lifecycle of one
// position: pending -> open -> trailing_active -> closed.
package position

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/types"
)

type State string

const (
	Pending        State = "pending"
	Open           State = "open"
	TrailingActive State = "trailing_active"
	Closed         State = "closed"
)

type ExitReason string

const (
	StopLoss      ExitReason = "stop_loss"
	TakeProfit    ExitReason = "take_profit"
	TrailingStop  ExitReason = "trailing_stop"
	Manual        ExitReason = "manual"
	EndOfBacktest ExitReason = "end_of_backtest"
	StrategyExit  ExitReason = "strategy_exit"
)

var (
	ErrClosed     = errors.New("position: already closed")
	ErrNotPending = errors.New("position: not pending")
	ErrNotOpen    = errors.New("position: not open")
)

// Transition is one entry of the lifecycle log.
type Transition struct {
	From State
	To   State
	At   time.Time
	Note string
}

// Exit is the level a bar crossed and where the position should be flattened.
type Exit struct {
	Price  float64
	Reason ExitReason
	At     time.Time
}

// TradeRecord is the immutable summary produced when a position closes.
type TradeRecord struct {
	ID          string
	Symbol      string
	Direction   types.Direction
	Strategy    types.StrategyKind
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	Leverage    int
	OpenedAt    time.Time
	ClosedAt    time.Time
	GrossPnL    float64
	Fees        float64
	PnL         float64 // net of fees
	ReturnPct   float64 // PnL / entry notional
	ExitReason  ExitReason
	Rationale   string
	Transitions int
}

// Win reports whether the trade made money after fees.
func (r TradeRecord) Win() bool { return r.PnL > 0 }

// Position is owned by the account; it is only changed through its methods.
type Position struct {
	mu sync.RWMutex

	id        string
	symbol    string
	dir       types.Direction
	source    types.StrategyKind
	rationale string
	leverage  int

	entry    float64
	qty      float64
	stop     float64
	target   float64
	entryFee float64
	openedAt time.Time

	trailing  config.TrailingConfig
	trailDist float64
	extreme   float64 // best price seen since the fill

	state       State
	realized    float64
	transitions []Transition
}

// New creates a pending position from an entry intent.
func New(intent types.Order, sig types.Signal, trailing config.TrailingConfig) *Position {
	dir := types.Long
	if intent.Side == types.Sell {
		dir = types.Short
	}
	p := &Position{
		id:        intent.ID,
		symbol:    intent.Symbol,
		dir:       dir,
		source:    intent.Strategy,
		rationale: sig.Rationale,
		leverage:  intent.Leverage,
		entry:     intent.Price,
		qty:       intent.Qty,
		stop:      intent.StopPrice,
		target:    intent.TakeProfit,
		trailing:  trailing,
		state:     Pending,
	}
	p.transitions = append(p.transitions, Transition{To: Pending, At: intent.CreatedAt, Note: sig.Rationale})
	return p
}

func (p *Position) transition(to State, at time.Time, note string) {
	p.transitions = append(p.transitions, Transition{From: p.state, To: to, At: at, Note: note})
	p.state = to
}

// Fill moves pending -> open. Stop and target keep their distances but are
// re-anchored to the actual fill price.
func (p *Position) Fill(res types.OrderResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Closed:
		return ErrClosed
	case Pending:
	default:
		return ErrNotPending
	}
	if res.FillPrice <= 0 {
		return fmt.Errorf("position %s: fill price %f", p.id, res.FillPrice)
	}
	sign := p.dir.Sign()
	stopDist := math.Abs(p.entry - p.stop)
	var tpDist float64
	if p.target > 0 {
		tpDist = math.Abs(p.target - p.entry)
	}
	p.entry = res.FillPrice
	p.stop = p.entry - sign*stopDist
	if tpDist > 0 {
		p.target = p.entry + sign*tpDist
	}
	if res.FilledQty > 0 {
		p.qty = res.FilledQty
	}
	p.entryFee = res.Fee
	p.openedAt = res.FilledAt
	p.extreme = p.entry
	p.transition(Open, res.FilledAt, fmt.Sprintf("filled %.6f @ %.4f", p.qty, p.entry))
	return nil
}

// Update checks one closed bar against the protective levels. The stop is
// checked first, and a bar that straddles both stop and target closes at the
// stop. A gap through a level exits at the bar open. When nothing is hit the
// trailing stop is armed or ratcheted; the new level applies from the next bar.
func (p *Position) Update(bar types.Bar) (Exit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Open && p.state != TrailingActive {
		return Exit{}, false
	}
	at := bar.CloseTime()

	if exit, ok := p.hit(bar, at); ok {
		return exit, true
	}

	if p.dir == types.Long {
		p.extreme = math.Max(p.extreme, bar.High)
	} else {
		p.extreme = math.Min(p.extreme, bar.Low)
	}
	if !p.trailing.Enabled {
		return Exit{}, false
	}
	if p.state == Open {
		excursion := p.dir.Sign() * (p.extreme - p.entry) / p.entry
		if excursion < p.trailing.ActivationPct {
			return Exit{}, false
		}
		p.transition(TrailingActive, at, fmt.Sprintf("trail armed at %.2f%% excursion", excursion*100))
	}
	p.trailDist = p.extreme * p.trailing.CallbackPct
	p.ratchet(p.extreme - p.dir.Sign()*p.trailDist)
	return Exit{}, false
}

func (p *Position) hit(bar types.Bar, at time.Time) (Exit, bool) {
	stopReason := StopLoss
	if p.state == TrailingActive {
		stopReason = TrailingStop
	}
	if p.dir == types.Long {
		if bar.Low <= p.stop {
			return Exit{Price: math.Min(p.stop, bar.Open), Reason: stopReason, At: at}, true
		}
		if p.target > 0 && bar.High >= p.target {
			return Exit{Price: math.Max(p.target, bar.Open), Reason: TakeProfit, At: at}, true
		}
		return Exit{}, false
	}
	if bar.High >= p.stop {
		return Exit{Price: math.Max(p.stop, bar.Open), Reason: stopReason, At: at}, true
	}
	if p.target > 0 && bar.Low <= p.target {
		return Exit{Price: math.Min(p.target, bar.Open), Reason: TakeProfit, At: at}, true
	}
	return Exit{}, false
}

// RatchetStop moves the stop only in the position's favour. It returns
// whether the candidate was accepted.
func (p *Position) RatchetStop(candidate float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Open && p.state != TrailingActive {
		return false
	}
	return p.ratchet(candidate)
}

func (p *Position) ratchet(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.dir == types.Long && candidate > p.stop || p.dir == types.Short && candidate < p.stop {
		p.stop = candidate
		return true
	}
	return false
}

// Close flattens the position and produces its TradeRecord. fee is the exit
// fee; the entry fee recorded at fill time is added.
func (p *Position) Close(price float64, at time.Time, reason ExitReason, fee float64) (TradeRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Closed:
		return TradeRecord{}, ErrClosed
	case Pending:
		return TradeRecord{}, ErrNotOpen
	}
	gross := p.dir.Sign() * (price - p.entry) * p.qty
	fees := p.entryFee + fee
	p.realized = gross - fees
	p.transition(Closed, at, fmt.Sprintf("%s @ %.4f", reason, price))

	rec := TradeRecord{
		ID:          p.id,
		Symbol:      p.symbol,
		Direction:   p.dir,
		Strategy:    p.source,
		EntryPrice:  p.entry,
		ExitPrice:   price,
		Quantity:    p.qty,
		Leverage:    p.leverage,
		OpenedAt:    p.openedAt,
		ClosedAt:    at,
		GrossPnL:    gross,
		Fees:        fees,
		PnL:         p.realized,
		ExitReason:  reason,
		Rationale:   p.rationale,
		Transitions: len(p.transitions),
	}
	if notional := p.entry * p.qty; notional > 0 {
		rec.ReturnPct = p.realized / notional
	}
	return rec, nil
}

// UnrealizedPnL marks an open position at mark, before exit fees.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != Open && p.state != TrailingActive {
		return 0
	}
	return p.dir.Sign()*(mark-p.entry)*p.qty - p.entryFee
}

func (p *Position) ID() string { return p.id }
func (p *Position) Symbol() string { return p.symbol }
func (p *Position) Direction() types.Direction { return p.dir }
func (p *Position) Source() types.StrategyKind { return p.source }
func (p *Position) Side() types.Side { return p.dir.Side() }

func (p *Position) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Active is true while the position holds exposure or awaits its fill.
func (p *Position) Active() bool { return p.State() != Closed }

func (p *Position) StopPrice() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stop
}

func (p *Position) Quantity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.qty
}

// Transitions returns a copy of the lifecycle log.
func (p *Position) Transitions() []Transition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Transition, len(p.transitions))
	copy(out, p.transitions)
	return out
}

// View is a read-only copy for reporting.
type View struct {
	ID               string             `json:"id"`
	Symbol           string             `json:"symbol"`
	Direction        types.Direction    `json:"direction"`
	Source           types.StrategyKind `json:"source"`
	State            State              `json:"state"`
	EntryPrice       float64            `json:"entry_price"`
	Quantity         float64            `json:"quantity"`
	Leverage         int                `json:"leverage"`
	StopPrice        float64            `json:"stop_price"`
	TakeProfitPrice  float64            `json:"take_profit_price"`
	TrailingActive   bool               `json:"trailing_active"`
	TrailingDistance float64            `json:"trailing_distance"`
	OpenedAt         time.Time          `json:"opened_at"`
	RealizedPnL      float64            `json:"realized_pnl"`
}

func (p *Position) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return View{
		ID:               p.id,
		Symbol:           p.symbol,
		Direction:        p.dir,
		Source:           p.source,
		State:            p.state,
		EntryPrice:       p.entry,
		Quantity:         p.qty,
		Leverage:         p.leverage,
		StopPrice:        p.stop,
		TakeProfitPrice:  p.target,
		TrailingActive:   p.state == TrailingActive,
		TrailingDistance: p.trailDist,
		OpenedAt:         p.openedAt,
		RealizedPnL:      p.realized,
	}
}
