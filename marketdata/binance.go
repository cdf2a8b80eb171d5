package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/tungnguyentu/trade/types"
)

// maxKlines is the futures API page size.
const maxKlines = 1500

// FetchKlines pages through futures klines for [start, end) and returns
// only bars that have closed by end.
func FetchKlines(ctx context.Context, client *futures.Client, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Bar, error) {
	d, err := tf.Duration()
	if err != nil {
		return nil, err
	}
	var out []types.Bar
	from := start
	for from.Before(end) {
		ks, err := client.NewKlinesService().
			Symbol(symbol).
			Interval(string(tf)).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlines).
			Do(ctx)
		if err != nil {
			return out, fmt.Errorf("klines %s %s from %s: %w", symbol, tf, from.Format(time.RFC3339), err)
		}
		if len(ks) == 0 {
			break
		}
		for _, k := range ks {
			b, err := klineBar(symbol, tf, k)
			if err != nil {
				return out, err
			}
			if b.CloseTime().After(end) {
				continue
			}
			out = append(out, b)
		}
		next := time.UnixMilli(ks[len(ks)-1].OpenTime).Add(d)
		if !next.After(from) || len(ks) < maxKlines {
			break
		}
		from = next
	}
	return out, nil
}

func klineBar(symbol string, tf types.Timeframe, k *futures.Kline) (types.Bar, error) {
	b := types.Bar{Symbol: symbol, Timeframe: tf, OpenTime: time.UnixMilli(k.OpenTime).UTC()}
	var err error
	for _, f := range []struct {
		raw string
		dst *float64
	}{{k.Open, &b.Open}, {k.High, &b.High}, {k.Low, &b.Low}, {k.Close, &b.Close}, {k.Volume, &b.Volume}} {
		if *f.dst, err = strconv.ParseFloat(f.raw, 64); err != nil {
			return b, fmt.Errorf("kline %s %s at %d: %w", symbol, tf, k.OpenTime, err)
		}
	}
	return b, nil
}

// BinanceHistory loads history for every (symbol, timeframe) pair into one
// restartable, time-ordered replay.
func BinanceHistory(ctx context.Context, client *futures.Client, symbols []string, tfs []types.Timeframe, start, end time.Time) (*Slice, error) {
	var all []types.Bar
	for _, s := range symbols {
		for _, tf := range tfs {
			bars, err := FetchKlines(ctx, client, s, tf, start, end)
			if err != nil {
				return nil, err
			}
			all = append(all, bars...)
		}
	}
	Sort(all)
	return NewSlice(all), nil
}
