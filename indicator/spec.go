package indicator

import (
	"errors"
	"fmt"
)

// Spec lists the indicator periods a Stream computes.
type Spec struct {
	RSIPeriod int // default 14

	EMAFast    int // default 9
	EMASlow    int // default 21
	SlopeBars  int // bars over which EMA slopes are measured, default 5
	MACDFast   int // default 12
	MACDSlow   int // default 26
	MACDSignal int // default 9

	BBPeriod int     // default 20
	BBStdDev float64 // default 2.0

	ATRPeriod     int // default 14
	ATRMeanPeriod int // rolling mean of ATR, default 20

	IchimokuConversion int // tenkan, default 9
	IchimokuBase       int // kijun, default 26
	IchimokuSpanB      int // default 52

	VolumePeriod int // default 20
	MFIPeriod    int // default 14
}

// DefaultSpec returns the production indicator periods.
func DefaultSpec() Spec {
	return Spec{
		RSIPeriod:          14,
		EMAFast:            9,
		EMASlow:            21,
		SlopeBars:          5,
		MACDFast:           12,
		MACDSlow:           26,
		MACDSignal:         9,
		BBPeriod:           20,
		BBStdDev:           2.0,
		ATRPeriod:          14,
		ATRMeanPeriod:      20,
		IchimokuConversion: 9,
		IchimokuBase:       26,
		IchimokuSpanB:      52,
		VolumePeriod:       20,
		MFIPeriod:          14,
	}
}

// Validate rejects non-positive periods and inverted fast/slow pairs.
func (s Spec) Validate() error {
	periods := []struct {
		name string
		v    int
	}{
		{"RSIPeriod", s.RSIPeriod},
		{"EMAFast", s.EMAFast},
		{"EMASlow", s.EMASlow},
		{"SlopeBars", s.SlopeBars},
		{"MACDFast", s.MACDFast},
		{"MACDSlow", s.MACDSlow},
		{"MACDSignal", s.MACDSignal},
		{"BBPeriod", s.BBPeriod},
		{"ATRPeriod", s.ATRPeriod},
		{"ATRMeanPeriod", s.ATRMeanPeriod},
		{"IchimokuConversion", s.IchimokuConversion},
		{"IchimokuBase", s.IchimokuBase},
		{"IchimokuSpanB", s.IchimokuSpanB},
		{"VolumePeriod", s.VolumePeriod},
		{"MFIPeriod", s.MFIPeriod},
	}
	for _, p := range periods {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if s.EMAFast >= s.EMASlow {
		return errors.New("EMAFast must be shorter than EMASlow")
	}
	if s.MACDFast >= s.MACDSlow {
		return errors.New("MACDFast must be shorter than MACDSlow")
	}
	if s.BBStdDev <= 0 {
		return errors.New("BBStdDev must be positive")
	}
	return nil
}

// Lookback is the number of bars needed before every field of a Snapshot
// is populated, including the previous-bar values used for crossovers.
// MFI is optional and flagged by Snapshot.HasMFI.
func (s Spec) Lookback() int {
	need := []int{
		s.RSIPeriod + 2,
		s.EMASlow + s.SlopeBars,
		s.MACDSlow + s.MACDSignal,
		s.BBPeriod,
		s.ATRPeriod + s.ATRMeanPeriod,
		s.IchimokuSpanB,
		s.IchimokuBase,
		s.VolumePeriod,
		2,
	}
	m := 0
	for _, n := range need {
		if n > m {
			m = n
		}
	}
	return m
}
