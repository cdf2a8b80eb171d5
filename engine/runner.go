package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/marketdata"
	"github.com/tungnguyentu/trade/notify"
	"github.com/tungnguyentu/trade/types"
)

// Runner drives an Engine from live or paper sources. Each symbol gets one
// worker and a buffered queue, so a bar arriving mid-cycle waits for the
// cycle to finish instead of interleaving with it.
type Runner struct {
	eng       *Engine
	log       logger.Logger
	notifier  notify.Notifier
	queue     int
	heartbeat time.Duration
}

type RunnerOptions struct {
	Queue     int           // per-symbol buffer, default 64
	Heartbeat time.Duration // status event period, 0 disables
	Notifier  notify.Notifier
	Log       logger.Logger
}

func NewRunner(eng *Engine, opts RunnerOptions) *Runner {
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Runner{eng: eng, log: opts.Log, notifier: opts.Notifier, queue: opts.Queue, heartbeat: opts.Heartbeat}
}

// queued is one bar for a worker. A bar that failed integrity checks at
// the source carries err and halts the symbol in arrival order.
type queued struct {
	bar types.Bar
	err error
}

// Run fans srcs into the per-symbol workers until every source ends or ctx
// is done. A source error other than end of data or a bad bar stops the run.
func (r *Runner) Run(ctx context.Context, srcs ...marketdata.Source) error {
	g, gctx := errgroup.WithContext(ctx)

	queues := make(map[string]chan queued, len(r.eng.symbols))
	for _, sym := range r.eng.Symbols() {
		q := make(chan queued, r.queue)
		queues[sym] = q
		g.Go(func() error { return r.work(gctx, sym, q) })
	}

	var feeders sync.WaitGroup
	for _, src := range srcs {
		feeders.Add(1)
		g.Go(func() error {
			defer feeders.Done()
			return r.feed(gctx, src, queues)
		})
	}
	g.Go(func() error {
		feeders.Wait()
		for _, q := range queues {
			close(q)
		}
		return nil
	})

	stop := make(chan struct{})
	if r.heartbeat > 0 {
		go r.beat(gctx, stop)
	}
	err := g.Wait()
	close(stop)
	return err
}

func (r *Runner) feed(ctx context.Context, src marketdata.Source, queues map[string]chan queued) error {
	for {
		b, err := src.Next(ctx)
		item := queued{bar: b}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled), ctx.Err() != nil:
			return nil
		case errors.Is(err, marketdata.ErrInvalidBar):
			r.log.Warn("bar_rejected", logger.String("symbol", b.Symbol), logger.Err(err))
			r.notifier.Notify(notify.Event{Kind: notify.Error, Symbol: b.Symbol, Text: "bar skipped: " + err.Error(), At: b.CloseTime()})
			continue
		default:
			var die *types.DataIntegrityError
			if !errors.As(err, &die) {
				return fmt.Errorf("source: %w", err)
			}
			item.bar.Symbol = die.Symbol
			item.err = err
		}
		q, ok := queues[item.bar.Symbol]
		if !ok {
			continue
		}
		select {
		case q <- item:
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Runner) work(ctx context.Context, symbol string, q <-chan queued) error {
	halted := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-q:
			if !ok {
				return nil
			}
			if halted {
				continue
			}
			b := item.bar
			if item.err != nil {
				halted = true
				if err := r.eng.Halt(symbol, item.err, b.CloseTime()); err != nil {
					r.log.Error("halt_failed", logger.String("symbol", symbol), logger.Err(err))
				}
				continue
			}
			if err := r.eng.OnBar(ctx, b); err != nil {
				var die *types.DataIntegrityError
				if errors.As(err, &die) {
					halted = true
					continue
				}
				r.log.Error("cycle_failed", logger.String("symbol", symbol), logger.String("timeframe", string(b.Timeframe)), logger.Err(err))
			}
		}
	}
}

func (r *Runner) beat(ctx context.Context, stop <-chan struct{}) {
	t := time.NewTicker(r.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-t.C:
			sum := r.eng.Account()
			r.notifier.Notify(notify.Event{
				Kind: notify.Status,
				Text: fmt.Sprintf("equity %.2f peak %.2f drawdown %.2f%% open positions %d trades %d",
					sum.Equity, sum.Peak, sum.Drawdown*100, len(sum.Positions), len(r.eng.Trades())),
				At: now,
			})
		}
	}
}
