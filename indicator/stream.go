package indicator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/evdnx/goti"
	"github.com/tungnguyentu/trade/types"
)

// ErrInsufficientHistory is returned while fewer than Spec.Lookback bars
// have been seen. Callers skip the cycle and retry on the next bar.
var ErrInsufficientHistory = errors.New("insufficient history")

// Compute feeds bars into a fresh Stream and returns the final snapshot.
// The result is identical to pushing the same bars one at a time.
func Compute(bars []types.Bar, spec Spec) (Snapshot, error) {
	if len(bars) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no bars", ErrInsufficientHistory)
	}
	if need := spec.Lookback(); len(bars) < need {
		return Snapshot{}, fmt.Errorf("%w: %s/%s has %d bars, need %d",
			ErrInsufficientHistory, bars[0].Symbol, bars[0].Timeframe, len(bars), need)
	}
	s, err := NewStream(bars[0].Symbol, bars[0].Timeframe, spec)
	if err != nil {
		return Snapshot{}, err
	}
	for _, b := range bars {
		if err := s.Push(b); err != nil {
			return Snapshot{}, err
		}
	}
	return s.Snapshot()
}

// Stream maintains indicator state for one (symbol, timeframe) series and
// updates it one closed bar at a time.
type Stream struct {
	symbol    string
	timeframe types.Timeframe
	spec      Spec
	lookback  int

	bars     int
	lastOpen time.Time
	last     types.Bar

	rsi             *goti.RelativeStrengthIndex
	atr             *goti.AverageTrueRange
	mfi             *goti.MoneyFlowIndex
	rsiNow, rsiPrev float64
	atrNow          float64

	emaFast, emaSlow   ema
	fastHist, slowHist *window

	macdFast, macdSlow, macdSignal ema
	macd, prevMACD                 float64
	prevSignal, prevHist           float64

	closes  *window
	highs   *window
	lows    *window
	volumes *window
	atrs    *window

	obv, prevOBV float64
}

// NewStream validates spec and prepares an empty stream.
func NewStream(symbol string, tf types.Timeframe, spec Spec) (*Stream, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	rsi, err := goti.NewRelativeStrengthIndexWithParams(spec.RSIPeriod, goti.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("rsi: %w", err)
	}
	atr, err := goti.NewAverageTrueRangeWithParams(spec.ATRPeriod)
	if err != nil {
		return nil, fmt.Errorf("atr: %w", err)
	}
	mfi, err := goti.NewMoneyFlowIndexWithParams(spec.MFIPeriod, goti.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("mfi: %w", err)
	}
	ichimoku := spec.IchimokuSpanB
	if spec.IchimokuBase > ichimoku {
		ichimoku = spec.IchimokuBase
	}
	return &Stream{
		symbol:     symbol,
		timeframe:  tf,
		spec:       spec,
		lookback:   spec.Lookback(),
		rsi:        rsi,
		atr:        atr,
		mfi:        mfi,
		emaFast:    newEMA(spec.EMAFast),
		emaSlow:    newEMA(spec.EMASlow),
		fastHist:   newWindow(spec.SlopeBars + 1),
		slowHist:   newWindow(spec.SlopeBars + 1),
		macdFast:   newEMA(spec.MACDFast),
		macdSlow:   newEMA(spec.MACDSlow),
		macdSignal: newEMA(spec.MACDSignal),
		closes:     newWindow(spec.BBPeriod),
		highs:      newWindow(ichimoku),
		lows:       newWindow(ichimoku),
		volumes:    newWindow(spec.VolumePeriod),
		atrs:       newWindow(spec.ATRMeanPeriod),
	}, nil
}

// Len is the number of bars pushed so far.
func (s *Stream) Len() int { return s.bars }

// Lookback is the number of bars required before Snapshot succeeds.
func (s *Stream) Lookback() int { return s.lookback }

// Last returns the most recent bar.
func (s *Stream) Last() (types.Bar, bool) { return s.last, s.bars > 0 }

// Push adds the next closed bar. Bars must belong to the stream's series and
// arrive strictly ordered by open time.
func (s *Stream) Push(b types.Bar) error {
	if b.Symbol != s.symbol || b.Timeframe != s.timeframe {
		return fmt.Errorf("bar %s/%s pushed to stream %s/%s", b.Symbol, b.Timeframe, s.symbol, s.timeframe)
	}
	if err := types.CheckOrder(s.lastOpen, b); err != nil {
		return err
	}
	// each goti indicator validates on its own; a bad candle is refused
	// before any of them takes it
	if err := checkCandle(b); err != nil {
		return err
	}
	if err := s.atr.AddCandle(b.High, b.Low, b.Close); err != nil {
		return fmt.Errorf("atr %s/%s: %w", s.symbol, s.timeframe, err)
	}
	if err := s.rsi.Add(b.Close); err != nil {
		return fmt.Errorf("rsi %s/%s: %w", s.symbol, s.timeframe, err)
	}
	if err := s.mfi.Add(b.High, b.Low, b.Close, b.Volume); err != nil {
		return fmt.Errorf("mfi %s/%s: %w", s.symbol, s.timeframe, err)
	}
	if v, err := s.rsi.Calculate(); err == nil {
		s.rsiPrev, s.rsiNow = s.rsiNow, v
	}
	if v, err := s.atr.Calculate(); err == nil {
		s.atrNow = v
		s.atrs.Add(v)
	}

	if s.bars > 0 {
		s.prevOBV = s.obv
		switch {
		case b.Close > s.last.Close:
			s.obv += b.Volume
		case b.Close < s.last.Close:
			s.obv -= b.Volume
		}
	}

	if s.emaFast.add(b.Close) {
		s.fastHist.Add(s.emaFast.value)
	}
	if s.emaSlow.add(b.Close) {
		s.slowHist.Add(s.emaSlow.value)
	}
	s.pushMACD(b.Close)

	s.closes.Add(b.Close)
	s.highs.Add(b.High)
	s.lows.Add(b.Low)
	s.volumes.Add(b.Volume)

	s.bars++
	s.lastOpen = b.OpenTime
	s.last = b
	return nil
}

func (s *Stream) pushMACD(close float64) {
	fastReady := s.macdFast.add(close)
	slowReady := s.macdSlow.add(close)
	if !fastReady || !slowReady {
		return
	}
	line := s.macdFast.value - s.macdSlow.value
	s.prevMACD = s.macd
	s.prevSignal = s.macdSignal.value
	s.prevHist = s.prevMACD - s.prevSignal
	s.macd = line
	s.macdSignal.add(line)
}

// Snapshot returns the indicator values as of the last pushed bar.
func (s *Stream) Snapshot() (Snapshot, error) {
	if s.bars < s.lookback {
		return Snapshot{}, fmt.Errorf("%w: %s/%s has %d bars, need %d",
			ErrInsufficientHistory, s.symbol, s.timeframe, s.bars, s.lookback)
	}
	b := s.last
	sp := s.spec

	mid := s.closes.Mean()
	dev := s.closes.StdDev() * sp.BBStdDev
	tenkan := (s.highs.Max(sp.IchimokuConversion) + s.lows.Min(sp.IchimokuConversion)) / 2
	kijun := (s.highs.Max(sp.IchimokuBase) + s.lows.Min(sp.IchimokuBase)) / 2

	snap := Snapshot{
		Symbol:    s.symbol,
		Timeframe: s.timeframe,
		BarIndex:  s.bars - 1,
		OpenTime:  b.OpenTime,
		CloseTime: b.CloseTime(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,

		RSI:     s.rsiNow,
		PrevRSI: s.rsiPrev,

		EMAFast:      s.emaFast.value,
		EMASlow:      s.emaSlow.value,
		EMAFastSlope: relChange(s.fastHist.First(), s.fastHist.Last()),
		EMASlowSlope: relChange(s.slowHist.First(), s.slowHist.Last()),

		MACD:           s.macd,
		MACDSignal:     s.macdSignal.value,
		MACDHist:       s.macd - s.macdSignal.value,
		PrevMACD:       s.prevMACD,
		PrevMACDSignal: s.prevSignal,
		PrevMACDHist:   s.prevHist,

		BBUpper:  mid + dev,
		BBMiddle: mid,
		BBLower:  mid - dev,

		ATR:     s.atrNow,
		ATRMean: s.atrs.Mean(),

		Tenkan: tenkan,
		Kijun:  kijun,
		SpanA:  (tenkan + kijun) / 2,
		SpanB:  (s.highs.Max(sp.IchimokuSpanB) + s.lows.Min(sp.IchimokuSpanB)) / 2,

		VolumeAvg: s.volumes.Mean(),
		OBV:       s.obv,
		PrevOBV:   s.prevOBV,
	}
	if mfi, err := s.mfi.Calculate(); err == nil {
		snap.MFI = mfi
		snap.HasMFI = true
	}
	return snap, nil
}

// ErrBadCandle marks a bar whose prices or volume cannot be indicated.
var ErrBadCandle = errors.New("bad candle")

func checkCandle(b types.Bar) error {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	switch {
	case !finite(b.High) || !finite(b.Low) || !finite(b.Close) || !finite(b.Volume):
		return fmt.Errorf("%w: %s/%s at %s has a non-finite value", ErrBadCandle, b.Symbol, b.Timeframe, b.OpenTime)
	case b.Low <= 0 || b.High < b.Low:
		return fmt.Errorf("%w: %s/%s at %s has range [%v, %v]", ErrBadCandle, b.Symbol, b.Timeframe, b.OpenTime, b.Low, b.High)
	case b.Close < b.Low || b.Close > b.High:
		return fmt.Errorf("%w: %s/%s at %s closes outside its range", ErrBadCandle, b.Symbol, b.Timeframe, b.OpenTime)
	case b.Volume < 0:
		return fmt.Errorf("%w: %s/%s at %s has negative volume", ErrBadCandle, b.Symbol, b.Timeframe, b.OpenTime)
	}
	return nil
}

func relChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from
}

// ema is an exponential moving average seeded with the simple mean of its
// first period values.
type ema struct {
	period int
	k      float64
	n      int
	sum    float64
	value  float64
}

func newEMA(period int) ema {
	return ema{period: period, k: 2 / float64(period+1)}
}

// add folds v in and reports whether value is populated.
func (e *ema) add(v float64) bool {
	e.n++
	if e.n < e.period {
		e.sum += v
		return false
	}
	if e.n == e.period {
		e.value = (e.sum + v) / float64(e.period)
		return true
	}
	e.value = (v-e.value)*e.k + e.value
	return true
}
