// Package regime decides which strategy kind governs a symbol.
package regime

import (
	"fmt"
	"math"
	"time"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/strategy"
	"github.com/tungnguyentu/trade/types"
)

type Trend string

const (
	Trending     Trend = "trending"
	Ranging      Trend = "ranging"
	TrendUnknown Trend = "unknown"
)

type Volatility string

const (
	HighVol    Volatility = "high"
	LowVol     Volatility = "low"
	VolUnknown Volatility = "unknown"
)

// State is the classified market condition of one symbol.
type State struct {
	Symbol     string             `json:"symbol"`
	Trend      Trend              `json:"trend"`
	Volatility Volatility         `json:"volatility"`
	Active     types.StrategyKind `json:"active"`

	Slope     float64   `json:"slope"`     // slow EMA slope on the trend timeframe
	ATRRatio  float64   `json:"atr_ratio"` // ATR / mean ATR on the volatility timeframe
	UpdatedAt time.Time `json:"updated_at"`
}

// Zero reports whether the state was never classified.
func (s State) Zero() bool { return s.Active == "" }

func (s State) String() string {
	return fmt.Sprintf("%s: %s/%s vol -> %s (slope %.5f, atr ratio %.2f)",
		s.Symbol, s.Trend, s.Volatility, s.Active, s.Slope, s.ATRRatio)
}

// Classifier is pure: identical inputs always give identical states.
type Classifier struct {
	cfg      config.RegimeConfig
	scalping bool
	swing    bool
}

// NewClassifier binds thresholds and the per-strategy enable flags.
func NewClassifier(cfg config.Config) *Classifier {
	return &Classifier{
		cfg:      cfg.Regime,
		scalping: cfg.Scalping.Enabled,
		swing:    cfg.Swing.Enabled,
	}
}

// Classify buckets trend and volatility and selects the governing kind.
// High volatility or a ranging market selects scalping, a calm trend
// selects swing; anything ambiguous keeps prev.Active.
func (c *Classifier) Classify(symbol string, snaps strategy.Snapshots, prev State) State {
	st := State{Symbol: symbol, Trend: TrendUnknown, Volatility: VolUnknown}

	if v, ok := snaps[c.cfg.VolatilityTimeframe]; ok && v.ATRMean > 0 {
		st.ATRRatio = v.ATR / v.ATRMean
		if st.ATRRatio >= c.cfg.HighVolRatio {
			st.Volatility = HighVol
		} else {
			st.Volatility = LowVol
		}
		st.UpdatedAt = v.CloseTime
	}
	if t, ok := snaps[c.cfg.TrendTimeframe]; ok {
		st.Slope = t.EMASlowSlope
		switch abs := math.Abs(t.EMASlowSlope); {
		case abs >= c.cfg.TrendSlope:
			st.Trend = Trending
		case abs <= c.cfg.RangeSlope:
			st.Trend = Ranging
		}
		if t.CloseTime.After(st.UpdatedAt) {
			st.UpdatedAt = t.CloseTime
		}
	}

	switch {
	case st.Volatility == HighVol || st.Trend == Ranging:
		st.Active = types.Scalping
	case st.Volatility == LowVol && st.Trend == Trending:
		st.Active = types.Swing
	case !prev.Zero():
		st.Active = prev.Active
	default:
		st.Active = c.cfg.Default
	}
	st.Active = c.enabled(st.Active)
	return st
}

func (c *Classifier) enabled(k types.StrategyKind) types.StrategyKind {
	switch {
	case k == types.Scalping && !c.scalping && c.swing:
		return types.Swing
	case k == types.Swing && !c.swing && c.scalping:
		return types.Scalping
	}
	return k
}
