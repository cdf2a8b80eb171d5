// Package backtest replays history through the engine with simulated
// fills and reports performance.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tungnguyentu/trade/account"
	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/engine"
	"github.com/tungnguyentu/trade/executor"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/marketdata"
	"github.com/tungnguyentu/trade/notify"
	"github.com/tungnguyentu/trade/position"
	"github.com/tungnguyentu/trade/store"
	"github.com/tungnguyentu/trade/types"
)

type Options struct {
	// RunID keys persisted output; empty derives one from the config and
	// the bars, so identical runs share it.
	RunID      string
	Log        logger.Logger
	Notifier   notify.Notifier
	Recorder   store.Recorder
	Generators engine.GeneratorFactory
}

// Simulator runs one deterministic backtest per Run call.
type Simulator struct {
	cfg  config.Config
	opts Options
}

func New(cfg config.Config, opts Options) *Simulator {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	return &Simulator{cfg: cfg, opts: opts}
}

// Run drains src, replays it in close-time order and returns the report.
// Each series must arrive in open-time order; a symbol whose data breaks
// that order is halted after its last good bar while the others continue.
// An entry decided on a bar's close fills at the open of that symbol's
// next base bar.
func (s *Simulator) Run(ctx context.Context, src marketdata.Source) (*Report, error) {
	raw, err := load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("backtest: load bars: %w", err)
	}
	bars, halts, rejected := marketdata.Screen(raw)
	for _, r := range rejected {
		s.opts.Log.Warn("bar_rejected", logger.Err(r))
	}
	if len(bars) == 0 {
		return nil, errors.New("backtest: no bars")
	}
	marketdata.Sort(bars)

	runID := s.opts.RunID
	if runID == "" {
		runID = fingerprint(s.cfg, bars)
	}
	port := executor.NewSimulated(s.cfg.Execution)
	acct := account.New(s.cfg.InitialBalance)
	eng, err := engine.New(engine.Deps{
		Config:     s.cfg,
		Port:       port,
		Account:    acct,
		Generators: s.opts.Generators,
		Notifier:   s.opts.Notifier,
		Recorder:   s.opts.Recorder,
		RunID:      runID,
		Log:        s.opts.Log,
	})
	if err != nil {
		return nil, err
	}
	base := s.cfg.BaseTimeframe
	next := nextBase(bars, base)

	log := s.opts.Log
	log.Info("backtest_started",
		logger.String("run_id", runID),
		logger.Int("bars", len(bars)),
		logger.Time("from", bars[0].OpenTime),
		logger.Time("to", bars[len(bars)-1].CloseTime()),
	)

	marks := map[string]float64{}
	var curve []types.EquityPoint
	pending := halts
	for i, b := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for len(pending) > 0 && b.CloseTime().After(pending[0].After) {
			s.halt(eng, pending[0])
			pending = pending[1:]
		}
		if b.Timeframe == base {
			if n, ok := next[i]; ok {
				port.SetNextOpen(b.Symbol, n.Open, n.OpenTime)
			} else {
				port.ClearNextOpen(b.Symbol)
			}
		}
		if err := eng.OnBar(ctx, b); err != nil {
			var die *types.DataIntegrityError
			if !errors.As(err, &die) && !errors.Is(err, engine.ErrUnknownSymbol) {
				return nil, err
			}
		}
		if b.Timeframe == base {
			marks[b.Symbol] = b.Close
		}
		now := b.CloseTime()
		if i == len(bars)-1 || !bars[i+1].CloseTime().Equal(now) {
			curve = append(curve, types.EquityPoint{Time: now, Equity: acct.Equity() + unrealized(acct, marks, now)})
		}
	}

	for _, h := range pending {
		s.halt(eng, h)
	}

	end := bars[len(bars)-1].CloseTime()
	for _, p := range acct.Positions() {
		if p.State() == position.Pending {
			continue
		}
		if _, err := eng.ClosePosition(ctx, p.Symbol(), marks[p.Symbol()], end, position.EndOfBacktest); err != nil {
			log.Warn("final_close_failed", logger.String("symbol", p.Symbol()), logger.Err(err))
		}
	}
	// the last point reflects exit fees of the final closes
	curve[len(curve)-1].Equity = acct.Equity() + unrealized(acct, marks, end)

	rep := buildReport(runID, s.cfg, eng.Trades(), curve)
	for sym := range eng.Halted() {
		rep.Halted = append(rep.Halted, sym)
	}
	sort.Strings(rep.Halted)
	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.RecordEquity(ctx, runID, curve); err != nil {
			return rep, fmt.Errorf("backtest: persist equity: %w", err)
		}
	}
	log.Info("backtest_finished",
		logger.String("run_id", runID),
		logger.Int("trades", len(rep.Trades)),
		logger.Float64("net_pnl", rep.NetPnL),
		logger.Float64("win_rate", rep.WinRate),
		logger.Float64("max_drawdown", rep.MaxDrawdown),
	)
	return rep, nil
}

// load drains src. Bars a validating source refuses are kept so that
// Screen judges every series in one place.
func load(ctx context.Context, src marketdata.Source) ([]types.Bar, error) {
	var out []types.Bar
	for {
		b, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			var die *types.DataIntegrityError
			if b.Symbol == "" || !(errors.As(err, &die) || errors.Is(err, marketdata.ErrInvalidBar)) {
				return out, err
			}
		}
		out = append(out, b)
	}
}

func (s *Simulator) halt(eng *engine.Engine, h marketdata.Halt) {
	if err := eng.Halt(h.Symbol, h.Err, h.After); err != nil {
		s.opts.Log.Warn("halt_ignored", logger.String("symbol", h.Symbol), logger.Err(err))
	}
}

func fingerprint(cfg config.Config, bars []types.Bar) string {
	first, last := bars[0], bars[len(bars)-1]
	key := fmt.Sprintf("%+v|%d|%s/%s@%d|%s/%s@%d", cfg, len(bars),
		first.Symbol, first.Timeframe, first.OpenTime.UnixMilli(),
		last.Symbol, last.Timeframe, last.OpenTime.UnixMilli())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// nextBase maps the index of every base bar to the same symbol's
// following base bar.
func nextBase(bars []types.Bar, base types.Timeframe) map[int]types.Bar {
	out := map[int]types.Bar{}
	seen := map[string]types.Bar{}
	for i := len(bars) - 1; i >= 0; i-- {
		b := bars[i]
		if b.Timeframe != base {
			continue
		}
		if n, ok := seen[b.Symbol]; ok {
			out[i] = n
		}
		seen[b.Symbol] = b
	}
	return out
}

// unrealized marks positions that were filled by now.
func unrealized(acct *account.State, marks map[string]float64, now time.Time) float64 {
	var total float64
	for _, p := range acct.Positions() {
		v := p.View()
		mark, ok := marks[v.Symbol]
		if !ok || v.State == position.Pending || v.OpenedAt.After(now) {
			continue
		}
		total += p.UnrealizedPnL(mark)
	}
	return total
}
