// Package engine runs the per-bar trading cycle: indicators, regime,
// signal, risk gate, execution and position management.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tungnguyentu/trade/account"
	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/executor"
	"github.com/tungnguyentu/trade/indicator"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/metrics"
	"github.com/tungnguyentu/trade/notify"
	"github.com/tungnguyentu/trade/position"
	"github.com/tungnguyentu/trade/regime"
	"github.com/tungnguyentu/trade/risk"
	"github.com/tungnguyentu/trade/store"
	"github.com/tungnguyentu/trade/strategy"
	"github.com/tungnguyentu/trade/types"
)

var (
	ErrUnknownSymbol = errors.New("engine: unknown symbol")
	ErrNoPosition    = errors.New("engine: no open position")
)

// GeneratorFactory builds the generators of one symbol.
type GeneratorFactory func(symbol string) (map[types.StrategyKind]strategy.Generator, error)

// Deps wires an Engine. Config, Port and Account are required.
type Deps struct {
	Config     config.Config
	Port       executor.Port
	Account    *account.State
	Risk       *risk.Manager
	Classifier *regime.Classifier
	Generators GeneratorFactory
	Notifier   notify.Notifier
	Recorder   store.Recorder
	RunID      string
	Log        logger.Logger
}

type symbolState struct {
	mu      sync.Mutex
	streams map[types.Timeframe]*indicator.Stream
	gens    map[types.StrategyKind]strategy.Generator
	regime  regime.State
	warming map[types.Timeframe]bool
	halted  error
}

type Engine struct {
	cfg        config.Config
	port       executor.Port
	acct       *account.State
	risk       *risk.Manager
	classifier *regime.Classifier
	notifier   notify.Notifier
	recorder   store.Recorder
	runID      string
	idSpace    uuid.UUID
	log        logger.Logger

	symbols map[string]*symbolState

	mu      sync.RWMutex
	regimes map[string]regime.State
	trades  []position.TradeRecord
	warned  bool
}

func New(d Deps) (*Engine, error) {
	if d.Port == nil || d.Account == nil {
		return nil, errors.New("engine: port and account are required")
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.RunID == "" {
		d.RunID = uuid.NewString()
	}
	if d.Risk == nil {
		m, err := risk.NewManager(d.Config.Risk, d.Log)
		if err != nil {
			return nil, err
		}
		d.Risk = m
	}
	if d.Classifier == nil {
		d.Classifier = regime.NewClassifier(d.Config)
	}
	if d.Generators == nil {
		cfg, log := d.Config, d.Log
		d.Generators = func(symbol string) (map[types.StrategyKind]strategy.Generator, error) {
			return strategy.NewGenerators(symbol, cfg, log)
		}
	}

	e := &Engine{
		cfg:        d.Config,
		port:       d.Port,
		acct:       d.Account,
		risk:       d.Risk,
		classifier: d.Classifier,
		notifier:   d.Notifier,
		recorder:   d.Recorder,
		runID:      d.RunID,
		idSpace:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.RunID)),
		log:        d.Log,
		symbols:    make(map[string]*symbolState, len(d.Config.Symbols)),
		regimes:    make(map[string]regime.State, len(d.Config.Symbols)),
	}
	for _, sym := range d.Config.Symbols {
		st := &symbolState{
			streams: make(map[types.Timeframe]*indicator.Stream, len(d.Config.Timeframes)),
			warming: map[types.Timeframe]bool{},
		}
		for _, tf := range d.Config.Timeframes {
			s, err := indicator.NewStream(sym, tf, d.Config.Indicators)
			if err != nil {
				return nil, fmt.Errorf("engine: %s/%s: %w", sym, tf, err)
			}
			st.streams[tf] = s
		}
		gens, err := d.Generators(sym)
		if err != nil {
			return nil, fmt.Errorf("engine: %s: %w", sym, err)
		}
		st.gens = gens
		e.symbols[sym] = st
	}
	return e, nil
}

func (e *Engine) RunID() string { return e.runID }

// orderID names an order after the run, symbol, decision time and leg, so
// replaying a run reproduces its IDs. The result is a valid Binance client
// order ID.
func (e *Engine) orderID(symbol string, at time.Time, leg string) string {
	return uuid.NewSHA1(e.idSpace, []byte(symbol+"|"+at.UTC().Format(time.RFC3339Nano)+"|"+leg)).String()
}

// Symbols lists the traded symbols in order.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.symbols))
	for s := range e.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Prepare sets leverage and margin for every symbol before trading.
func (e *Engine) Prepare(ctx context.Context) error {
	var err error
	for _, sym := range e.Symbols() {
		if perr := e.port.AdjustLeverage(ctx, sym, e.cfg.Risk.Leverage); perr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", sym, perr))
		}
	}
	return err
}

// OnBar runs one cycle for the bar's symbol. Cycles of one symbol never
// overlap. Bars of other timeframes only update indicators; a bar of the
// base timeframe also manages the open position and looks for an entry.
func (e *Engine) OnBar(ctx context.Context, bar types.Bar) error {
	st, ok := e.symbols[bar.Symbol]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownSymbol, bar.Symbol)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.halted != nil {
		return st.halted
	}
	stream, ok := st.streams[bar.Timeframe]
	if !ok {
		return nil
	}
	if err := stream.Push(bar); err != nil {
		var die *types.DataIntegrityError
		if errors.As(err, &die) {
			e.halt(st, bar.Symbol, err, bar.CloseTime())
		}
		return err
	}
	if bar.Timeframe != e.cfg.BaseTimeframe {
		return nil
	}
	now := bar.CloseTime()

	e.manage(ctx, bar)

	snaps := e.snapshots(bar.Symbol, st, now)
	e.exitOnStrategy(ctx, st, bar, snaps)

	prev := st.regime
	next := e.classifier.Classify(bar.Symbol, snaps, prev)
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now
	}
	st.regime = next
	if next.Active != prev.Active {
		if !prev.Zero() {
			metrics.RegimeSwitches.WithLabelValues(bar.Symbol, string(next.Active)).Inc()
		}
		e.log.Info("regime_switch",
			logger.String("symbol", bar.Symbol),
			logger.String("from", string(prev.Active)),
			logger.String("to", string(next.Active)),
			logger.String("trend", string(next.Trend)),
			logger.String("volatility", string(next.Volatility)),
		)
	}
	e.mu.Lock()
	e.regimes[bar.Symbol] = next
	e.mu.Unlock()

	gen, ok := st.gens[next.Active]
	if !ok {
		return nil
	}
	return e.enter(ctx, gen.Evaluate(snaps), now)
}

// snapshots collects the latest snapshot of every warmed-up timeframe that
// closed at or before now.
func (e *Engine) snapshots(symbol string, st *symbolState, now time.Time) strategy.Snapshots {
	out := make(strategy.Snapshots, len(st.streams))
	for tf, s := range st.streams {
		snap, err := s.Snapshot()
		if err != nil {
			if errors.Is(err, indicator.ErrInsufficientHistory) && !st.warming[tf] {
				st.warming[tf] = true
				e.log.Info("insufficient_history", logger.String("symbol", symbol), logger.String("timeframe", string(tf)), logger.Err(err))
				e.notifier.Notify(notify.Event{
					Kind:   notify.Skipped,
					Symbol: symbol,
					Text:   fmt.Sprintf("%s warming up, entries wait for %d bars: %v", tf, s.Lookback(), err),
					At:     now,
				})
			}
			continue
		}
		if snap.CloseTime.After(now) {
			continue
		}
		out[tf] = snap
	}
	return out
}

func (e *Engine) enter(ctx context.Context, sig types.Signal, now time.Time) error {
	order, err := e.risk.SizeAndGate(sig, e.acct)
	if err != nil {
		var rej *risk.Rejection
		if !errors.As(err, &rej) {
			return err
		}
		metrics.Rejections.WithLabelValues(string(rej.Reason)).Inc()
		if rej.Reason != risk.SignalFlat {
			e.log.Info("entry_rejected",
				logger.String("symbol", sig.Symbol),
				logger.String("strategy", string(sig.Source)),
				logger.String("reason", string(rej.Reason)),
				logger.String("detail", rej.Detail),
			)
		}
		return nil
	}

	order.ID = e.orderID(order.Symbol, now, "entry")
	p := position.New(order, sig, e.cfg.Trailing)
	if err := e.acct.Open(p); err != nil {
		return err
	}
	metrics.OrdersSubmitted.WithLabelValues(string(order.Strategy)).Inc()
	e.log.Info("order_submitted",
		logger.String("symbol", order.Symbol),
		logger.String("id", order.ID),
		logger.String("side", string(order.Side)),
		logger.Float64("qty", order.Qty),
		logger.Float64("price", order.Price),
	)

	res, err := e.port.Place(ctx, order)
	if err == nil {
		err = p.Fill(res)
	}
	if err != nil {
		e.acct.Remove(order.Symbol)
		e.log.Warn("entry_failed", logger.String("symbol", order.Symbol), logger.String("id", order.ID), logger.Err(err))
		e.abandon(ctx, order, err, now)
		e.notifier.Notify(notify.Event{Kind: notify.Error, Symbol: order.Symbol, Text: "entry failed: " + err.Error(), At: now})
		return nil
	}

	v := p.View()
	metrics.PositionsOpen.WithLabelValues(string(order.Strategy)).Inc()
	e.log.Info("position_opened",
		logger.String("symbol", v.Symbol),
		logger.String("id", v.ID),
		logger.String("direction", string(v.Direction)),
		logger.Float64("entry", v.EntryPrice),
		logger.Float64("qty", v.Quantity),
		logger.Float64("stop", v.StopPrice),
		logger.Float64("take_profit", v.TakeProfitPrice),
	)
	e.notifier.Notify(notify.Event{
		Kind:   notify.TradeOpened,
		Symbol: v.Symbol,
		Text: fmt.Sprintf("%s %s %.6f @ %.4f\nstop %.4f target %.4f\n%s",
			v.Source, v.Direction, v.Quantity, v.EntryPrice, v.StopPrice, v.TakeProfitPrice, sig.Rationale),
		At: v.OpenedAt,
	})
	return nil
}

// manage checks the open position of bar's symbol against the bar.
func (e *Engine) manage(ctx context.Context, bar types.Bar) {
	p, ok := e.acct.Position(bar.Symbol)
	if !ok || p.State() == position.Pending {
		return
	}
	exit, hit := p.Update(bar)
	if !hit {
		return
	}
	if _, err := e.closePosition(ctx, p, exit.Price, exit.At, exit.Reason); err != nil {
		e.log.Error("exit_failed", logger.String("symbol", bar.Symbol), logger.String("reason", string(exit.Reason)), logger.Err(err))
	}
}

// exitOnStrategy lets the generator that opened the position close it at
// the bar's close.
func (e *Engine) exitOnStrategy(ctx context.Context, st *symbolState, bar types.Bar, snaps strategy.Snapshots) {
	p, ok := e.acct.Position(bar.Symbol)
	if !ok || p.State() == position.Pending {
		return
	}
	ex, ok := st.gens[p.Source()].(strategy.Exiter)
	if !ok {
		return
	}
	v := p.View()
	why, exit := ex.ShouldExit(snaps, strategy.Holding{Direction: v.Direction, Entry: v.EntryPrice, OpenedAt: v.OpenedAt})
	if !exit {
		return
	}
	e.log.Info("strategy_exit",
		logger.String("symbol", v.Symbol),
		logger.String("strategy", string(v.Source)),
		logger.String("rationale", why),
	)
	if _, err := e.closePosition(ctx, p, bar.Close, bar.CloseTime(), position.StrategyExit); err != nil {
		e.log.Error("exit_failed", logger.String("symbol", bar.Symbol), logger.String("reason", string(position.StrategyExit)), logger.Err(err))
	}
}

// ClosePosition flattens symbol's position at price outside the regular
// stop and target checks.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, price float64, at time.Time, reason position.ExitReason) (position.TradeRecord, error) {
	st, ok := e.symbols[symbol]
	if !ok {
		return position.TradeRecord{}, fmt.Errorf("%w %q", ErrUnknownSymbol, symbol)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := e.acct.Position(symbol)
	if !ok || p.State() == position.Pending {
		return position.TradeRecord{}, fmt.Errorf("%w for %s", ErrNoPosition, symbol)
	}
	return e.closePosition(ctx, p, price, at, reason)
}

func (e *Engine) closePosition(ctx context.Context, p *position.Position, price float64, at time.Time, reason position.ExitReason) (position.TradeRecord, error) {
	o := types.Order{
		ID:         e.orderID(p.Symbol(), at, "exit"),
		Symbol:     p.Symbol(),
		Side:       p.Side().Opposite(),
		Type:       types.Market,
		Qty:        p.Quantity(),
		Price:      price,
		ReduceOnly: true,
		Strategy:   p.Source(),
		CreatedAt:  at,
		Comment:    string(reason),
	}
	res, err := e.port.Place(ctx, o)
	if err != nil {
		e.notifier.Notify(notify.Event{Kind: notify.Error, Symbol: o.Symbol, Text: "exit failed: " + err.Error(), At: at})
		e.abandon(ctx, o, err, at)
		return position.TradeRecord{}, err
	}
	fill, filledAt := res.FillPrice, res.FilledAt
	if fill <= 0 {
		fill = price
	}
	if filledAt.IsZero() {
		filledAt = at
	}
	rec, err := p.Close(fill, filledAt, reason, res.Fee)
	if err != nil {
		return rec, err
	}
	e.acct.Remove(rec.Symbol)
	equity, dd := e.acct.ApplyPnL(rec.PnL)
	metrics.PositionsOpen.WithLabelValues(string(rec.Strategy)).Dec()
	metrics.EquityGauge.Set(equity)
	metrics.DrawdownGauge.Set(dd)

	e.mu.Lock()
	e.trades = append(e.trades, rec)
	e.mu.Unlock()

	e.log.Info("position_closed",
		logger.String("symbol", rec.Symbol),
		logger.String("id", rec.ID),
		logger.String("reason", string(rec.ExitReason)),
		logger.Float64("entry", rec.EntryPrice),
		logger.Float64("exit", rec.ExitPrice),
		logger.Float64("pnl", rec.PnL),
		logger.Float64("equity", equity),
	)
	if e.recorder != nil {
		if err := e.recorder.RecordTrade(ctx, e.runID, rec); err != nil {
			e.log.Warn("record_trade_failed", logger.String("id", rec.ID), logger.Err(err))
		}
	}
	e.notifier.Notify(notify.Event{
		Kind:   notify.TradeClosed,
		Symbol: rec.Symbol,
		Text: fmt.Sprintf("%s %s closed on %s\nentry %.4f exit %.4f\nPnL %.2f USDT (%.2f%%) held %s",
			rec.Strategy, rec.Direction, rec.ExitReason, rec.EntryPrice, rec.ExitPrice,
			rec.PnL, rec.ReturnPct*100, rec.ClosedAt.Sub(rec.OpenedAt)),
		At: rec.ClosedAt,
	})
	e.checkDrawdown(dd, at)
	return rec, nil
}

// abandon cancels an order whose outcome is unknown so that a late fill
// cannot leave exposure the engine no longer tracks. A timeout counts as
// a reject from here on.
func (e *Engine) abandon(ctx context.Context, o types.Order, err error, at time.Time) {
	f, ok := executor.AsFailure(err)
	if !ok || f.Status != types.Timeout {
		return
	}
	if cerr := e.port.Cancel(context.WithoutCancel(ctx), o.Symbol, o.ID); cerr != nil {
		e.log.Error("cancel_failed", logger.String("symbol", o.Symbol), logger.String("id", o.ID), logger.Err(cerr))
		e.notifier.Notify(notify.Event{
			Kind:   notify.Error,
			Symbol: o.Symbol,
			Text:   fmt.Sprintf("order %s timed out and could not be cancelled, check the exchange: %v", o.ID, cerr),
			At:     at,
		})
		return
	}
	e.log.Info("order_cancelled", logger.String("symbol", o.Symbol), logger.String("id", o.ID), logger.String("reason", f.Reason))
}

// checkDrawdown fires drawdown_warning once per excursion above the warn
// level; falling back below re-arms it.
func (e *Engine) checkDrawdown(dd float64, at time.Time) {
	warn := e.cfg.Risk.WarnDrawdown
	if warn <= 0 {
		return
	}
	e.mu.Lock()
	fire := dd >= warn && !e.warned
	e.warned = dd >= warn
	e.mu.Unlock()
	if !fire {
		return
	}
	e.log.Warn("drawdown_warning", logger.Float64("drawdown", dd), logger.Float64("warn_at", warn), logger.Float64("max", e.cfg.Risk.MaxDrawdown))
	e.notifier.Notify(notify.Event{
		Kind: notify.DrawdownWarning,
		Text: fmt.Sprintf("drawdown %.2f%% (entries halt at %.2f%%)", dd*100, e.cfg.Risk.MaxDrawdown*100),
		At:   at,
	})
}

// Trades returns the closed trades in close order.
func (e *Engine) Trades() []position.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]position.TradeRecord(nil), e.trades...)
}

// Account reports the account for the status surface.
func (e *Engine) Account() account.Summary { return e.acct.Snapshot() }

// Regimes reports the latest regime per symbol.
func (e *Engine) Regimes() []regime.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]regime.State, 0, len(e.regimes))
	for _, s := range e.regimes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Halt stops symbol for good: later bars return err and no new entry is
// taken. An open position stays in the account.
func (e *Engine) Halt(symbol string, err error, at time.Time) error {
	st, ok := e.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownSymbol, symbol)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.halted == nil {
		e.halt(st, symbol, err, at)
	}
	return nil
}

// halt runs under st.mu.
func (e *Engine) halt(st *symbolState, symbol string, err error, at time.Time) {
	st.halted = err
	text := "trading halted: " + err.Error()
	fields := []logger.Field{logger.String("symbol", symbol), logger.Err(err)}
	if p, ok := e.acct.Position(symbol); ok && p.Active() {
		v := p.View()
		// stops are no longer checked for this symbol
		text += fmt.Sprintf("; %s position still open, qty %.6f entry %.4f stop %.4f, flatten it by hand",
			v.Direction, v.Quantity, v.EntryPrice, v.StopPrice)
		fields = append(fields, logger.String("open_position", v.ID))
	}
	e.log.Error("symbol_halted", fields...)
	e.notifier.Notify(notify.Event{Kind: notify.Error, Symbol: symbol, Text: text, At: at})
}

// Halted reports symbols stopped by a data integrity failure.
func (e *Engine) Halted() map[string]error {
	out := map[string]error{}
	for sym, st := range e.symbols {
		st.mu.Lock()
		if st.halted != nil {
			out[sym] = st.halted
		}
		st.mu.Unlock()
	}
	return out
}
