// Package marketdata produces time-ordered bars for the engine: finite and
// restartable replays for backtests, unbounded streams for live trading.
package marketdata

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/tungnguyentu/trade/types"
)

// DataIntegrityError is raised on out-of-order or duplicate bars.
type DataIntegrityError = types.DataIntegrityError

// Source is a lazy bar sequence. Next returns io.EOF once a finite source
// is exhausted.
type Source interface {
	Next(ctx context.Context) (types.Bar, error)
}

// Restartable sources can be replayed from the start.
type Restartable interface {
	Source
	Reset()
}

// Slice replays bars held in memory.
type Slice struct {
	bars []types.Bar
	pos  int
}

func NewSlice(bars []types.Bar) *Slice {
	return &Slice{bars: bars}
}

func (s *Slice) Next(ctx context.Context) (types.Bar, error) {
	if err := ctx.Err(); err != nil {
		return types.Bar{}, err
	}
	if s.pos >= len(s.bars) {
		return types.Bar{}, io.EOF
	}
	b := s.bars[s.pos]
	s.pos++
	return b, nil
}

func (s *Slice) Reset() { s.pos = 0 }

func (s *Slice) Len() int { return len(s.bars) }

// ReadAll drains a finite source.
func ReadAll(ctx context.Context, src Source) ([]types.Bar, error) {
	var out []types.Bar
	for {
		b, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
}

// Less orders bars by close time. On ties the longer timeframe comes
// first, then symbol, so a 1h bar closing at 13:00 is visible before the
// 1m bar closing at the same instant is evaluated.
func Less(a, b types.Bar) bool {
	ac, bc := a.CloseTime(), b.CloseTime()
	if !ac.Equal(bc) {
		return ac.Before(bc)
	}
	ad, _ := a.Timeframe.Duration()
	bd, _ := b.Timeframe.Duration()
	if ad != bd {
		return ad > bd
	}
	return a.Symbol < b.Symbol
}

// Sort orders bars in place with Less, keeping input order among equals.
func Sort(bars []types.Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return Less(bars[i], bars[j]) })
}
