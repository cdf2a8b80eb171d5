// Command trader runs the strategy engine against Binance futures, a paper
// account or a historical replay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tungnguyentu/trade/account"
	"github.com/tungnguyentu/trade/backtest"
	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/engine"
	"github.com/tungnguyentu/trade/executor"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/marketdata"
	"github.com/tungnguyentu/trade/notify"
	"github.com/tungnguyentu/trade/status"
	"github.com/tungnguyentu/trade/store"
	"github.com/tungnguyentu/trade/types"
)

const quantityPrecision = 3

type flags struct {
	mode      string
	envFile   string
	data      string
	symbol    string
	timeframe string
	from      string
	to        string
}

func main() {
	var f flags
	flag.StringVar(&f.mode, "mode", "", "backtest, paper or live (overrides TRADING_MODE)")
	flag.StringVar(&f.envFile, "env", ".env", "dotenv file to load")
	flag.StringVar(&f.data, "data", "", "CSV of bars for backtest mode; empty downloads klines from Binance")
	flag.StringVar(&f.symbol, "symbol", "", "default symbol for CSV rows without one")
	flag.StringVar(&f.timeframe, "timeframe", "", "default timeframe for CSV rows without one")
	flag.StringVar(&f.from, "from", "", "backtest download start, RFC 3339 or YYYY-MM-DD (default 7 days ago)")
	flag.StringVar(&f.to, "to", "", "backtest download end, RFC 3339 or YYYY-MM-DD (default now)")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, "trader:", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	log, err := logger.NewZapLogger(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier, closeNotifier := buildNotifier(cfg, log)
	defer closeNotifier()

	rec, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	log.Info("trader_starting",
		logger.String("mode", string(cfg.Mode)),
		logger.String("symbols", strings.Join(cfg.Symbols, ",")),
		logger.String("base_timeframe", string(cfg.BaseTimeframe)),
	)

	if cfg.Mode == config.Backtest {
		return runBacktest(ctx, cfg, f, log, notifier, rec)
	}
	return runTrading(ctx, cfg, log, notifier, rec)
}

func loadConfig(f flags) (config.Config, error) {
	if f.mode != "" {
		os.Setenv("TRADING_MODE", f.mode)
	}
	return config.Load(f.envFile)
}

func buildNotifier(cfg config.Config, log logger.Logger) (notify.Notifier, func()) {
	multi := notify.Multi{notify.Log{L: log}}
	if !cfg.Telegram.Enabled {
		return multi, func() {}
	}
	tg, err := notify.NewTelegram(notify.TelegramOptions{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID}, log)
	if err != nil {
		// notifications are best effort; trading goes on with the log only
		log.Warn("telegram_disabled", logger.Err(err))
		return multi, func() {}
	}
	return append(multi, tg), tg.Close
}

func buildStore(ctx context.Context, cfg config.Config) (store.Recorder, func(), error) {
	if cfg.Store.Path == "" {
		return store.NewMemory(), func() {}, nil
	}
	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

func runBacktest(ctx context.Context, cfg config.Config, f flags, log logger.Logger, n notify.Notifier, rec store.Recorder) error {
	var src marketdata.Source
	if f.data != "" {
		s, err := marketdata.OpenCSV(f.data, marketdata.CSVOptions{
			Symbol:    f.symbol,
			Timeframe: types.Timeframe(f.timeframe),
		})
		if err != nil {
			return err
		}
		src = s
	} else {
		end, err := parseDay(f.to, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("-to: %w", err)
		}
		start, err := parseDay(f.from, end.Add(-7*24*time.Hour))
		if err != nil {
			return fmt.Errorf("-from: %w", err)
		}
		client := executor.NewFuturesClient(cfg.Binance)
		s, err := marketdata.BinanceHistory(ctx, client, cfg.Symbols, cfg.Timeframes, start, end)
		if err != nil {
			return err
		}
		src = s
	}

	sim := backtest.New(cfg, backtest.Options{Log: log, Notifier: n, Recorder: rec})
	rep, err := sim.Run(ctx, src)
	if err != nil {
		return err
	}
	fmt.Println(rep.String())
	return nil
}

func runTrading(ctx context.Context, cfg config.Config, log logger.Logger, n notify.Notifier, rec store.Recorder) error {
	var port executor.Port
	streamURL := marketdata.TestnetStreamURL
	switch cfg.Mode {
	case config.Live:
		client := executor.NewFuturesClient(cfg.Binance)
		port = executor.NewBinance(client, executor.BinanceOptions{
			MarginType:        cfg.Risk.MarginType,
			QuantityPrecision: quantityPrecision,
			FeeRate:           cfg.Execution.FeeRate,
			RatePerSec:        cfg.Execution.RatePerSec,
		}, log)
		if !cfg.Binance.Testnet {
			streamURL = marketdata.FuturesStreamURL
		}
	default:
		port = executor.NewPaper(cfg.InitialBalance, cfg.Execution.FeeRate, log)
		streamURL = marketdata.FuturesStreamURL
	}
	// each attempt gets its own deadline
	port = executor.WithRetry(executor.WithTimeout(port, cfg.Execution.Timeout), executor.PolicyFrom(cfg.Execution), log)

	eng, err := engine.New(engine.Deps{
		Config:   cfg,
		Port:     port,
		Account:  account.New(cfg.InitialBalance),
		Notifier: n,
		Recorder: rec,
		Log:      log,
	})
	if err != nil {
		return err
	}
	if err := eng.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	stream := marketdata.NewBinanceStream(cfg.Symbols, cfg.Timeframes, marketdata.StreamOptions{BaseURL: streamURL}, log)
	go stream.Run(ctx)

	if cfg.Status.Addr != "" {
		go func() {
			if err := status.Serve(ctx, cfg.Status.Addr, status.Router(eng, string(cfg.Mode)), log); err != nil {
				log.Error("status_failed", logger.Err(err))
			}
		}()
	}

	n.Notify(notify.Event{
		Kind: notify.Status,
		Text: fmt.Sprintf("%s trading started on %s", cfg.Mode, strings.Join(eng.Symbols(), ", ")),
		At:   time.Now(),
	})
	runner := engine.NewRunner(eng, engine.RunnerOptions{Heartbeat: cfg.Interval, Notifier: n, Log: log})
	err = runner.Run(ctx, marketdata.Validate(stream))
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	sum := eng.Account()
	log.Info("trader_stopped",
		logger.String("run_id", eng.RunID()),
		logger.Float64("equity", sum.Equity),
		logger.Int("open_positions", len(sum.Positions)),
		logger.Int("trades", len(eng.Trades())),
	)
	return err
}

func parseDay(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
