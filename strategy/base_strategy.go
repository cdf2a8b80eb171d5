package strategy

import (
	"errors"
	"math"
	"time"

	"github.com/tungnguyentu/trade/indicator"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/metrics"
	"github.com/tungnguyentu/trade/types"
)

// BaseStrategy bundles the common dependencies and helpers.
type BaseStrategy struct {
	Log    logger.Logger
	Symbol string
	kind   types.StrategyKind
}

// NewBaseStrategy checks the shared dependencies. All concrete generators
// should call this from their own constructors.
func NewBaseStrategy(symbol string, kind types.StrategyKind, log logger.Logger) (*BaseStrategy, error) {
	if symbol == "" {
		return nil, errors.New("strategy: symbol cannot be empty")
	}
	if !kind.Valid() {
		return nil, errors.New("strategy: unknown kind " + string(kind))
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BaseStrategy{Log: log, Symbol: symbol, kind: kind}, nil
}

func (b *BaseStrategy) Kind() types.StrategyKind { return b.kind }

// flat returns a non-actionable signal stamped with the freshest bar close.
func (b *BaseStrategy) flat(snaps Snapshots, reason string) types.Signal {
	return types.FlatSignal(b.kind, b.Symbol, latestClose(snaps), reason)
}

// emit builds an actionable signal from the primary snapshot, records
// metrics and logs.
func (b *BaseStrategy) emit(snap indicator.Snapshot, dir types.Direction, strength float64, rationale string) types.Signal {
	sig := types.Signal{
		Source:      b.kind,
		Symbol:      b.Symbol,
		Timeframe:   snap.Timeframe,
		Direction:   dir,
		Strength:    clamp01(strength),
		Rationale:   rationale,
		GeneratedAt: snap.CloseTime,
		Price:       snap.Close,
		ATR:         snap.ATR,
	}
	b.Log.Info("signal_generated",
		logger.String("symbol", b.Symbol),
		logger.String("strategy", string(b.kind)),
		logger.String("direction", string(dir)),
		logger.Float64("strength", sig.Strength),
		logger.Float64("price", sig.Price),
		logger.String("rationale", rationale),
	)
	metrics.Signals.WithLabelValues(string(b.kind), string(dir)).Inc()
	return sig
}

func latestClose(snaps Snapshots) time.Time {
	var at time.Time
	for _, s := range snaps {
		if s.CloseTime.After(at) {
			at = s.CloseTime
		}
	}
	return at
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
