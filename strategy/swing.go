package strategy

import (
	"fmt"
	"math"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/types"
)

// Swing follows MACD crossovers that agree with the Ichimoku cloud and are
// backed by volume.
type Swing struct {
	*BaseStrategy
	cfg config.SwingConfig
}

func NewSwing(symbol string, cfg config.SwingConfig, log logger.Logger) (*Swing, error) {
	if cfg.VolumeFactor <= 0 {
		return nil, fmt.Errorf("swing: VolumeFactor (%f) must be positive", cfg.VolumeFactor)
	}
	if cfg.Timeframe == "" {
		return nil, fmt.Errorf("swing: timeframe required")
	}
	base, err := NewBaseStrategy(symbol, types.Swing, log)
	if err != nil {
		return nil, err
	}
	return &Swing{BaseStrategy: base, cfg: cfg}, nil
}

func (s *Swing) Evaluate(snaps Snapshots) types.Signal {
	snap, ok := snaps[s.cfg.Timeframe]
	if !ok {
		return s.flat(snaps, fmt.Sprintf("no %s snapshot", s.cfg.Timeframe))
	}
	if snap.ATR <= 0 {
		return s.flat(snaps, "ATR unavailable")
	}

	crossedUp := snap.PrevMACDHist <= 0 && snap.MACDHist > 0
	crossedDown := snap.PrevMACDHist >= 0 && snap.MACDHist < 0
	aboveCloud := snap.Close > snap.CloudTop()
	belowCloud := snap.Close < snap.CloudBottom()
	volume := snap.VolumeAvg > 0 && snap.Volume > s.cfg.VolumeFactor*snap.VolumeAvg
	obvUp := snap.OBV > snap.PrevOBV
	obvDown := snap.OBV < snap.PrevOBV

	var dir types.Direction
	switch {
	case crossedUp && aboveCloud && volume && (!s.cfg.RequireOBV || obvUp):
		dir = types.Long
	case crossedDown && belowCloud && volume && (!s.cfg.RequireOBV || obvDown):
		dir = types.Short
	default:
		return s.flat(snaps, fmt.Sprintf("no swing setup: hist %.4f -> %.4f, close %.2f, cloud [%.2f, %.2f], volume %.0f vs avg %.0f",
			snap.PrevMACDHist, snap.MACDHist, snap.Close, snap.CloudBottom(), snap.CloudTop(), snap.Volume, snap.VolumeAvg))
	}

	side := "above"
	if dir == types.Short {
		side = "below"
	}
	why := fmt.Sprintf("MACD crossed its signal (hist %.4f -> %.4f), close %.2f %s cloud [%.2f, %.2f], volume %.0f > %.1fx avg %.0f",
		snap.PrevMACDHist, snap.MACDHist, snap.Close, side, snap.CloudBottom(), snap.CloudTop(),
		snap.Volume, s.cfg.VolumeFactor, snap.VolumeAvg)
	if s.cfg.RequireOBV {
		why += fmt.Sprintf(", OBV %.0f -> %.0f", snap.PrevOBV, snap.OBV)
	}
	return s.emit(snap, dir, math.Abs(snap.MACDHist)/snap.ATR, why)
}

// ShouldExit closes a position held longer than MaxHolding.
func (s *Swing) ShouldExit(snaps Snapshots, h Holding) (string, bool) {
	if s.cfg.MaxHolding <= 0 || h.OpenedAt.IsZero() {
		return "", false
	}
	now := latestClose(snaps)
	if held := now.Sub(h.OpenedAt); held >= s.cfg.MaxHolding {
		return fmt.Sprintf("held %s, limit %s", held, s.cfg.MaxHolding), true
	}
	return "", false
}
