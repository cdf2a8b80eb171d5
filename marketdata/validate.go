package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tungnguyentu/trade/types"
)

type seriesKey struct {
	symbol string
	tf     types.Timeframe
}

// Validated rejects bars that break per-series ordering or carry
// impossible prices. Once a series fails, every later bar of that series
// fails too; other series continue.
type Validated struct {
	src    Source
	last   map[seriesKey]time.Time
	failed map[seriesKey]error
}

func Validate(src Source) *Validated {
	return &Validated{src: src, last: map[seriesKey]time.Time{}, failed: map[seriesKey]error{}}
}

func (v *Validated) Next(ctx context.Context) (types.Bar, error) {
	b, err := v.src.Next(ctx)
	if err != nil {
		return b, err
	}
	k := seriesKey{b.Symbol, b.Timeframe}
	if err := v.failed[k]; err != nil {
		return b, err
	}
	if err := CheckBar(b); err != nil {
		return b, err
	}
	if err := types.CheckOrder(v.last[k], b); err != nil {
		v.failed[k] = err
		return b, err
	}
	v.last[k] = b.OpenTime
	return b, nil
}

func (v *Validated) Reset() {
	if r, ok := v.src.(Restartable); ok {
		r.Reset()
	}
	v.last = map[seriesKey]time.Time{}
	v.failed = map[seriesKey]error{}
}

// ErrInvalidBar wraps every CheckBar failure. Such bars are dropped on
// their own and do not stop the series.
var ErrInvalidBar = errors.New("invalid bar")

// CheckBar rejects bars with unknown timeframes or inconsistent OHLC.
func CheckBar(b types.Bar) error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: bar at %s has no symbol", ErrInvalidBar, b.OpenTime)
	}
	if _, err := b.Timeframe.Duration(); err != nil {
		return fmt.Errorf("%w: bar %s: %v", ErrInvalidBar, b.Symbol, err)
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: bar %s/%s at %s: invalid price %v", ErrInvalidBar, b.Symbol, b.Timeframe, b.OpenTime, v)
		}
	}
	if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
		return fmt.Errorf("%w: bar %s/%s at %s: invalid volume %v", ErrInvalidBar, b.Symbol, b.Timeframe, b.OpenTime, b.Volume)
	}
	if b.High < b.Low || b.High < math.Max(b.Open, b.Close) || b.Low > math.Min(b.Open, b.Close) {
		return fmt.Errorf("%w: bar %s/%s at %s: high/low do not bound open/close", ErrInvalidBar, b.Symbol, b.Timeframe, b.OpenTime)
	}
	return nil
}

// Halt stops a symbol after the last bar it may trade on.
type Halt struct {
	Symbol string
	After  time.Time // close time of the last good bar of the failing series
	Err    error
}

// Screen checks a finite history series by series, in arrival order,
// before it is merged across series. A series ends at its first duplicate
// or out-of-order bar; the whole symbol then halts after that series' last
// good bar and its later bars are removed. Bars failing CheckBar are
// dropped and returned in rejected. Halts come back ordered by After.
func Screen(bars []types.Bar) (kept []types.Bar, halts []Halt, rejected []error) {
	last := map[seriesKey]types.Bar{}
	bySymbol := map[string]Halt{}
	for _, b := range bars {
		if err := CheckBar(b); err != nil {
			rejected = append(rejected, err)
			continue
		}
		k := seriesKey{b.Symbol, b.Timeframe}
		prev, seen := last[k]
		if seen {
			if err := types.CheckOrder(prev.OpenTime, b); err != nil {
				if _, done := bySymbol[b.Symbol]; !done {
					bySymbol[b.Symbol] = Halt{Symbol: b.Symbol, After: prev.CloseTime(), Err: err}
				}
				continue
			}
		}
		last[k] = b
		kept = append(kept, b)
	}
	if len(bySymbol) == 0 {
		return kept, nil, rejected
	}

	out := kept[:0]
	for _, b := range kept {
		if h, ok := bySymbol[b.Symbol]; ok && b.CloseTime().After(h.After) {
			continue
		}
		out = append(out, b)
	}
	for _, h := range bySymbol {
		halts = append(halts, h)
	}
	sort.Slice(halts, func(i, j int) bool {
		if !halts[i].After.Equal(halts[j].After) {
			return halts[i].After.Before(halts[j].After)
		}
		return halts[i].Symbol < halts[j].Symbol
	})
	return out, halts, rejected
}
