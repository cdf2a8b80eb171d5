package executor

import (
	"context"
	"math"
	"sync"

	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/types"
)

// Paper is a perfect-fill paper trader: orders fill at their reference
// price with no slippage. It keeps its own cash and margin ledger so paper
// sessions can be reconciled against the engine's account.
type Paper struct {
	mu        sync.RWMutex
	log       logger.Logger
	feeRate   float64
	cash      float64
	positions map[string]float64 // qty (positive = long, negative = short)
	avgPrice  map[string]float64
	leverage  map[string]int
}

func NewPaper(startEquity, feeRate float64, log logger.Logger) *Paper {
	if log == nil {
		log = logger.NewNop()
	}
	return &Paper{
		log:       log,
		feeRate:   feeRate,
		cash:      startEquity,
		positions: make(map[string]float64),
		avgPrice:  make(map[string]float64),
		leverage:  make(map[string]int),
	}
}

func (p *Paper) Place(ctx context.Context, o types.Order) (types.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return timedOut(o, "context done before submit", err)
	}
	if o.Qty <= 0 || o.Price <= 0 {
		return rejected(o, "quantity and price must be positive", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	lev := p.leverage[o.Symbol]
	if lev == 0 {
		lev = max(o.Leverage, 1)
		p.leverage[o.Symbol] = lev
	}
	signed := o.Qty
	if o.Side == types.Sell {
		signed = -o.Qty
	}
	cur := p.positions[o.Symbol]
	fee := o.Notional() * p.feeRate

	if o.ReduceOnly {
		if cur == 0 || math.Signbit(cur) == math.Signbit(signed) {
			return rejected(o, "reduce-only order would increase the position", nil)
		}
		closed := math.Min(math.Abs(cur), o.Qty)
		pnl := math.Copysign(1, cur) * (o.Price - p.avgPrice[o.Symbol]) * closed
		p.cash += pnl - fee
		p.positions[o.Symbol] = cur + math.Copysign(closed, signed)
		if p.positions[o.Symbol] == 0 {
			delete(p.positions, o.Symbol)
			delete(p.avgPrice, o.Symbol)
		}
	} else {
		if cur != 0 && math.Signbit(cur) != math.Signbit(signed) {
			return rejected(o, "opposite position open, exit with a reduce-only order", nil)
		}
		margin := o.Notional() / float64(lev)
		if margin+fee > p.freeCash() {
			return rejected(o, "paper executor: insufficient cash", nil)
		}
		p.cash -= fee
		// simple VWAP for avg price
		next := cur + signed
		p.avgPrice[o.Symbol] = (p.avgPrice[o.Symbol]*math.Abs(cur) + o.Price*o.Qty) / math.Abs(next)
		p.positions[o.Symbol] = next
	}

	p.log.Info("paper_fill",
		logger.String("symbol", o.Symbol),
		logger.String("side", string(o.Side)),
		logger.Float64("qty", o.Qty),
		logger.Float64("price", o.Price),
		logger.Bool("reduce_only", o.ReduceOnly),
		logger.Float64("cash", p.cash),
	)
	return types.OrderResult{
		OrderID:   o.ID,
		Status:    types.Filled,
		FillPrice: o.Price,
		FilledQty: o.Qty,
		Fee:       fee,
		FilledAt:  o.CreatedAt,
	}, nil
}

// freeCash is cash not locked as margin. Caller holds mu.
func (p *Paper) freeCash() float64 {
	locked := 0.0
	for sym, qty := range p.positions {
		lev := max(p.leverage[sym], 1)
		locked += math.Abs(qty) * p.avgPrice[sym] / float64(lev)
	}
	return p.cash - locked
}

func (p *Paper) Cancel(context.Context, string, string) error { return nil }

func (p *Paper) AdjustLeverage(_ context.Context, symbol string, leverage int) error {
	if err := validLeverage(leverage); err != nil {
		return err
	}
	p.mu.Lock()
	p.leverage[symbol] = leverage
	p.mu.Unlock()
	return nil
}

// Equity returns the cash balance including realised PnL and fees.
func (p *Paper) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Position returns the signed qty and average price for a symbol.
func (p *Paper) Position(sym string) (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[sym], p.avgPrice[sym]
}
