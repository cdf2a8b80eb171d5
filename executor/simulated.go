package executor

import (
	"context"
	"sync"
	"time"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/types"
)

type nextOpen struct {
	price float64
	at    time.Time
}

// Simulated is the backtest fill model. Entries fill at the open of the
// bar after the signal, which the simulator announces with SetNextOpen.
// Reduce-only exits fill at the price on the intent (the touched stop or
// target, or the last close).
type Simulated struct {
	mu       sync.Mutex
	feeRate  float64
	slippage float64 // fraction, adverse to the taker
	next     map[string]nextOpen
	leverage map[string]int
}

func NewSimulated(cfg config.ExecutionConfig) *Simulated {
	return &Simulated{
		feeRate:  cfg.FeeRate,
		slippage: cfg.SlippageBps / 10_000,
		next:     make(map[string]nextOpen),
		leverage: make(map[string]int),
	}
}

// SetNextOpen records the open of the symbol's next bar.
func (s *Simulated) SetNextOpen(symbol string, price float64, at time.Time) {
	s.mu.Lock()
	s.next[symbol] = nextOpen{price: price, at: at}
	s.mu.Unlock()
}

// ClearNextOpen is called when the series has no further bar.
func (s *Simulated) ClearNextOpen(symbol string) {
	s.mu.Lock()
	delete(s.next, symbol)
	s.mu.Unlock()
}

func (s *Simulated) Place(ctx context.Context, o types.Order) (types.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return timedOut(o, "context done before submit", err)
	}
	if o.Qty <= 0 {
		return rejected(o, "quantity must be positive", nil)
	}

	price, at := o.Price, o.CreatedAt
	if !o.ReduceOnly {
		s.mu.Lock()
		n, ok := s.next[o.Symbol]
		s.mu.Unlock()
		if !ok {
			return timedOut(o, "no next bar to fill against", nil)
		}
		price, at = n.price, n.at
		if o.Side == types.Buy {
			price *= 1 + s.slippage
		} else {
			price *= 1 - s.slippage
		}
	}
	if price <= 0 {
		return rejected(o, "no fill price", nil)
	}
	return types.OrderResult{
		OrderID:   o.ID,
		Status:    types.Filled,
		FillPrice: price,
		FilledQty: o.Qty,
		Fee:       price * o.Qty * s.feeRate,
		FilledAt:  at,
	}, nil
}

func (s *Simulated) Cancel(context.Context, string, string) error { return nil }

func (s *Simulated) AdjustLeverage(_ context.Context, symbol string, leverage int) error {
	if err := validLeverage(leverage); err != nil {
		return err
	}
	s.mu.Lock()
	s.leverage[symbol] = leverage
	s.mu.Unlock()
	return nil
}
