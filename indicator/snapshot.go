package indicator

import (
	"time"

	"github.com/tungnguyentu/trade/types"
)

// Snapshot holds the current indicator values for one bar of one
// (symbol, timeframe) series. Prev* fields belong to the bar before.
type Snapshot struct {
	Symbol    string
	Timeframe types.Timeframe
	BarIndex  int // zero-based index of the bar inside its series
	OpenTime  time.Time
	CloseTime time.Time

	Open, High, Low, Close, Volume float64

	RSI     float64
	PrevRSI float64

	EMAFast      float64
	EMASlow      float64
	EMAFastSlope float64 // fractional change over Spec.SlopeBars
	EMASlowSlope float64

	MACD           float64
	MACDSignal     float64
	MACDHist       float64
	PrevMACD       float64
	PrevMACDSignal float64
	PrevMACDHist   float64

	BBUpper  float64
	BBMiddle float64
	BBLower  float64

	ATR     float64
	ATRMean float64

	Tenkan float64
	Kijun  float64
	SpanA  float64
	SpanB  float64

	VolumeAvg float64
	OBV       float64
	PrevOBV   float64

	MFI    float64
	HasMFI bool
}

// BandWidth is upper minus lower Bollinger band.
func (s Snapshot) BandWidth() float64 { return s.BBUpper - s.BBLower }

// CloudTop and CloudBottom bound the Ichimoku cloud.
func (s Snapshot) CloudTop() float64 {
	if s.SpanA > s.SpanB {
		return s.SpanA
	}
	return s.SpanB
}

func (s Snapshot) CloudBottom() float64 {
	if s.SpanA < s.SpanB {
		return s.SpanA
	}
	return s.SpanB
}

// Values exposes the snapshot as an indicator-name to value mapping.
func (s Snapshot) Values() map[string]float64 {
	v := map[string]float64{
		"open":             s.Open,
		"high":             s.High,
		"low":              s.Low,
		"close":            s.Close,
		"volume":           s.Volume,
		"rsi":              s.RSI,
		"rsi_prev":         s.PrevRSI,
		"ema_fast":         s.EMAFast,
		"ema_slow":         s.EMASlow,
		"ema_fast_slope":   s.EMAFastSlope,
		"ema_slow_slope":   s.EMASlowSlope,
		"macd":             s.MACD,
		"macd_signal":      s.MACDSignal,
		"macd_hist":        s.MACDHist,
		"macd_prev":        s.PrevMACD,
		"macd_signal_prev": s.PrevMACDSignal,
		"macd_hist_prev":   s.PrevMACDHist,
		"bb_upper":         s.BBUpper,
		"bb_middle":        s.BBMiddle,
		"bb_lower":         s.BBLower,
		"atr":              s.ATR,
		"atr_mean":         s.ATRMean,
		"ichimoku_tenkan":  s.Tenkan,
		"ichimoku_kijun":   s.Kijun,
		"ichimoku_span_a":  s.SpanA,
		"ichimoku_span_b":  s.SpanB,
		"volume_avg":       s.VolumeAvg,
		"obv":              s.OBV,
		"obv_prev":         s.PrevOBV,
	}
	if s.HasMFI {
		v["mfi"] = s.MFI
	}
	return v
}
