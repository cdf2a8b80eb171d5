// Package notify delivers operator-facing events. Delivery is fire and
// forget: a failing channel never blocks or fails trading.
package notify

import (
	"time"

	"github.com/tungnguyentu/trade/logger"
)

type Kind string

const (
	TradeOpened     Kind = "trade_opened"
	TradeClosed     Kind = "trade_closed"
	DrawdownWarning Kind = "drawdown_warning"
	Error           Kind = "error"
	Status          Kind = "status"

	// Skipped reports a cycle that could not run but will be retried,
	// such as a series still warming up.
	Skipped Kind = "cycle_skipped"
)

// Event is one notification. Text is human readable; Symbol may be empty
// for account-wide events.
type Event struct {
	Kind   Kind
	Symbol string
	Text   string
	At     time.Time
}

type Notifier interface {
	Notify(Event)
}

// Nop drops everything.
type Nop struct{}

func (Nop) Notify(Event) {}

// Log writes events to the structured log.
type Log struct {
	L logger.Logger
}

func (n Log) Notify(e Event) {
	fields := []logger.Field{
		logger.String("kind", string(e.Kind)),
		logger.String("symbol", e.Symbol),
		logger.String("text", e.Text),
		logger.Time("at", e.At),
	}
	if e.Kind == Error || e.Kind == DrawdownWarning {
		n.L.Warn("notify", fields...)
		return
	}
	n.L.Info("notify", fields...)
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}
