package strategy

import (
	"time"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/indicator"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/types"
)

// Snapshots maps a timeframe to its latest indicator snapshot for one symbol.
type Snapshots map[types.Timeframe]indicator.Snapshot

// Generator turns multi-timeframe indicator snapshots into a Signal.
// Implementations are pure with respect to their input.
type Generator interface {
	Kind() types.StrategyKind
	Evaluate(snaps Snapshots) types.Signal
}

// Holding describes the open position a generator may decide to close.
type Holding struct {
	Direction types.Direction
	Entry     float64
	OpenedAt  time.Time
}

// Exiter is implemented by generators that close their own positions
// ahead of the stop or target. The engine asks the generator that opened
// the position, on every base bar while it is open.
type Exiter interface {
	ShouldExit(snaps Snapshots, h Holding) (reason string, exit bool)
}

// NewGenerators builds the enabled generators for one symbol.
func NewGenerators(symbol string, cfg config.Config, log logger.Logger) (map[types.StrategyKind]Generator, error) {
	out := make(map[types.StrategyKind]Generator, 2)
	if cfg.Scalping.Enabled {
		s, err := NewScalping(symbol, cfg.Scalping, log)
		if err != nil {
			return nil, err
		}
		out[types.Scalping] = s
	}
	if cfg.Swing.Enabled {
		s, err := NewSwing(symbol, cfg.Swing, log)
		if err != nil {
			return nil, err
		}
		out[types.Swing] = s
	}
	return out, nil
}
