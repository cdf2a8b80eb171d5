package strategy

import (
	"fmt"
	"strings"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/types"
)

// Scalping fades short-term RSI extremes at the Bollinger bands.
type Scalping struct {
	*BaseStrategy
	cfg config.ScalpingConfig
}

// NewScalping builds the generator for one symbol.
func NewScalping(symbol string, cfg config.ScalpingConfig, log logger.Logger) (*Scalping, error) {
	if cfg.RSIOversold >= cfg.RSIOverbought {
		return nil, fmt.Errorf("scalping: RSIOversold (%f) must be below RSIOverbought (%f)", cfg.RSIOversold, cfg.RSIOverbought)
	}
	if cfg.Timeframe == "" {
		return nil, fmt.Errorf("scalping: timeframe required")
	}
	base, err := NewBaseStrategy(symbol, types.Scalping, log)
	if err != nil {
		return nil, err
	}
	return &Scalping{BaseStrategy: base, cfg: cfg}, nil
}

// Evaluate emits long when RSI crosses below oversold while the bar reaches
// the lower band and the fast EMA is not falling; short is the mirror.
func (s *Scalping) Evaluate(snaps Snapshots) types.Signal {
	snap, ok := snaps[s.cfg.Timeframe]
	if !ok {
		return s.flat(snaps, fmt.Sprintf("no %s snapshot", s.cfg.Timeframe))
	}
	half := snap.BBMiddle - snap.BBLower
	if half <= 0 {
		return s.flat(snaps, "bollinger bands collapsed")
	}

	crossedDown := snap.PrevRSI >= s.cfg.RSIOversold && snap.RSI < s.cfg.RSIOversold
	crossedUp := snap.PrevRSI <= s.cfg.RSIOverbought && snap.RSI > s.cfg.RSIOverbought
	atLower := snap.Low <= snap.BBLower*(1+s.cfg.NearBandPct)
	atUpper := snap.High >= snap.BBUpper*(1-s.cfg.NearBandPct)
	slopeUp := snap.EMAFastSlope >= -s.cfg.SlopeTolerance
	slopeDown := snap.EMAFastSlope <= s.cfg.SlopeTolerance

	var (
		dir      types.Direction
		strength float64
		why      strings.Builder
	)
	switch {
	case crossedDown && atLower && slopeUp:
		dir = types.Long
		strength = (snap.BBMiddle - snap.Close) / half
		fmt.Fprintf(&why, "RSI crossed below %.0f (%.1f -> %.1f), low %.2f at lower band %.2f, fast EMA slope %.5f",
			s.cfg.RSIOversold, snap.PrevRSI, snap.RSI, snap.Low, snap.BBLower, snap.EMAFastSlope)
	case crossedUp && atUpper && slopeDown:
		dir = types.Short
		strength = (snap.Close - snap.BBMiddle) / half
		fmt.Fprintf(&why, "RSI crossed above %.0f (%.1f -> %.1f), high %.2f at upper band %.2f, fast EMA slope %.5f",
			s.cfg.RSIOverbought, snap.PrevRSI, snap.RSI, snap.High, snap.BBUpper, snap.EMAFastSlope)
	default:
		return s.flat(snaps, fmt.Sprintf("no scalping setup: RSI %.1f, close %.2f inside bands [%.2f, %.2f]",
			snap.RSI, snap.Close, snap.BBLower, snap.BBUpper))
	}
	if clamp01(strength) == 0 {
		return s.flat(snaps, "setup without band excursion")
	}

	if tf := s.cfg.ConfirmTimeframe; tf != "" {
		c, ok := snaps[tf]
		switch {
		case !ok:
			fmt.Fprintf(&why, "; %s confirmation unavailable", tf)
		case dir == types.Long && !(c.RSI < 50 && c.Close < c.BBMiddle):
			return s.flat(snaps, fmt.Sprintf("%s disagrees with long: RSI %.1f, close %.2f vs middle %.2f", tf, c.RSI, c.Close, c.BBMiddle))
		case dir == types.Short && !(c.RSI > 50 && c.Close > c.BBMiddle):
			return s.flat(snaps, fmt.Sprintf("%s disagrees with short: RSI %.1f, close %.2f vs middle %.2f", tf, c.RSI, c.Close, c.BBMiddle))
		default:
			fmt.Fprintf(&why, "; confirmed on %s (RSI %.1f)", tf, c.RSI)
		}
	}
	if snap.HasMFI {
		fmt.Fprintf(&why, "; MFI %.1f", snap.MFI)
	}
	return s.emit(snap, dir, strength, why.String())
}

// ShouldExit closes a long once RSI is overbought and a short once it is
// oversold.
func (s *Scalping) ShouldExit(snaps Snapshots, h Holding) (string, bool) {
	if !s.cfg.ExitOnRSI {
		return "", false
	}
	snap, ok := snaps[s.cfg.Timeframe]
	if !ok {
		return "", false
	}
	switch {
	case h.Direction == types.Long && snap.RSI > s.cfg.RSIOverbought:
		return fmt.Sprintf("RSI overbought: %.1f > %.0f", snap.RSI, s.cfg.RSIOverbought), true
	case h.Direction == types.Short && snap.RSI < s.cfg.RSIOversold:
		return fmt.Sprintf("RSI oversold: %.1f < %.0f", snap.RSI, s.cfg.RSIOversold), true
	}
	return "", false
}
