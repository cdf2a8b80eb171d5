package strategy

import (
	"strings"
	"testing"
	"time"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/indicator"
	"github.com/tungnguyentu/trade/testutils"
	"github.com/tungnguyentu/trade/types"
)

var barClose = time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC)

// ---------------------------------------------------------------------
// Snapshot builders
// ---------------------------------------------------------------------

// scalpSnap is a 1m snapshot where RSI has just dropped from 35 to 28 and
// the bar touched the lower band of [100, 110] with a flat fast EMA.
func scalpSnap() indicator.Snapshot {
	return indicator.Snapshot{
		Symbol:       "BTCUSDT",
		Timeframe:    types.M1,
		CloseTime:    barClose,
		Open:         100.6,
		High:         100.8,
		Low:          99.9,
		Close:        100.0,
		RSI:          28,
		PrevRSI:      35,
		BBUpper:      110,
		BBMiddle:     105,
		BBLower:      100,
		EMAFastSlope: 0,
		ATR:          1.2,
	}
}

// swingSnap is a 4h snapshot with a fresh bullish MACD cross above the
// cloud on twice the average volume.
func swingSnap() indicator.Snapshot {
	return indicator.Snapshot{
		Symbol:       "BTCUSDT",
		Timeframe:    types.H4,
		CloseTime:    barClose,
		Close:        120,
		PrevMACDHist: -0.1,
		MACDHist:     0.5,
		SpanA:        110,
		SpanB:        105,
		Volume:       2000,
		VolumeAvg:    1000,
		OBV:          5000,
		PrevOBV:      3000,
		ATR:          2,
	}
}

func buildScalping(t *testing.T, mutate func(*config.ScalpingConfig)) (*Scalping, *testutils.MockLogger) {
	cfg := config.Default().Scalping
	cfg.ConfirmTimeframe = ""
	if mutate != nil {
		mutate(&cfg)
	}
	log := testutils.NewMockLogger()
	s, err := NewScalping("BTCUSDT", cfg, log)
	if err != nil {
		t.Fatalf("NewScalping failed: %v", err)
	}
	return s, log
}

func buildSwing(t *testing.T, mutate func(*config.SwingConfig)) *Swing {
	cfg := config.Default().Swing
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSwing("BTCUSDT", cfg, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("NewSwing failed: %v", err)
	}
	return s
}

/*
-----------------------------------------------------------------------
Scalping – RSI 35 -> 28 while the low touches the lower band and the
fast EMA is flat must produce a long with positive strength.
-----------------------------------------------------------------------
*/
func TestScalping_LongAtLowerBand(t *testing.T) {
	s, log := buildScalping(t, nil)

	sig := s.Evaluate(Snapshots{types.M1: scalpSnap()})
	if sig.Direction != types.Long {
		t.Fatalf("expected long, got %s (%s)", sig.Direction, sig.Rationale)
	}
	if sig.Strength <= 0 || sig.Strength > 1 {
		t.Fatalf("strength must be in (0,1], got %v", sig.Strength)
	}
	if sig.Source != types.Scalping || sig.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected signal identity: %+v", sig)
	}
	if !sig.GeneratedAt.Equal(barClose) || sig.Price != 100 || sig.ATR != 1.2 {
		t.Fatalf("signal not stamped from the snapshot: %+v", sig)
	}
	if !strings.Contains(sig.Rationale, "RSI crossed below 30") {
		t.Fatalf("rationale should explain the setup, got %q", sig.Rationale)
	}
	if log.Count("signal_generated") != 1 {
		t.Fatalf("expected one signal_generated log entry")
	}
}

func TestScalping_StrengthScalesWithExcursion(t *testing.T) {
	s, _ := buildScalping(t, nil)

	deep := s.Evaluate(Snapshots{types.M1: scalpSnap()})

	near := scalpSnap()
	near.Close = 101
	near.Low = 100.3 // inside the 0.5 % touch zone
	shallow := s.Evaluate(Snapshots{types.M1: near})

	if shallow.Direction != types.Long {
		t.Fatalf("near-band touch should still be long, got %s", shallow.Direction)
	}
	if !(shallow.Strength < deep.Strength) {
		t.Fatalf("closer to the middle should be weaker: %v vs %v", shallow.Strength, deep.Strength)
	}
}

func TestScalping_FallingSlopeStaysFlat(t *testing.T) {
	s, _ := buildScalping(t, nil)
	snap := scalpSnap()
	snap.EMAFastSlope = -0.01
	if sig := s.Evaluate(Snapshots{types.M1: snap}); sig.Direction != types.Flat {
		t.Fatalf("falling fast EMA must block the long, got %s", sig.Direction)
	}
}

func TestScalping_NoCrossStaysFlat(t *testing.T) {
	s, _ := buildScalping(t, nil)
	snap := scalpSnap()
	snap.PrevRSI = 27 // already below the threshold, no fresh cross
	sig := s.Evaluate(Snapshots{types.M1: snap})
	if sig.Direction != types.Flat || sig.Actionable() {
		t.Fatalf("expected flat, got %s", sig.Direction)
	}
	if sig.Rationale == "" {
		t.Fatal("flat signals still carry a rationale")
	}
}

func TestScalping_ShortAtUpperBand(t *testing.T) {
	s, _ := buildScalping(t, nil)
	snap := scalpSnap()
	snap.PrevRSI, snap.RSI = 65, 72
	snap.High, snap.Low, snap.Close = 110.2, 109.1, 110
	sig := s.Evaluate(Snapshots{types.M1: snap})
	if sig.Direction != types.Short || sig.Strength <= 0 {
		t.Fatalf("expected short with strength, got %s %v", sig.Direction, sig.Strength)
	}
}

func TestScalping_HigherTimeframeConfirmation(t *testing.T) {
	s, _ := buildScalping(t, func(c *config.ScalpingConfig) { c.ConfirmTimeframe = types.M5 })

	disagree := indicator.Snapshot{Timeframe: types.M5, CloseTime: barClose, RSI: 60, Close: 103, BBMiddle: 101}
	sig := s.Evaluate(Snapshots{types.M1: scalpSnap(), types.M5: disagree})
	if sig.Direction != types.Flat {
		t.Fatalf("5m disagreement must keep the signal flat, got %s", sig.Direction)
	}

	agree := indicator.Snapshot{Timeframe: types.M5, CloseTime: barClose, RSI: 41, Close: 100, BBMiddle: 102}
	sig = s.Evaluate(Snapshots{types.M1: scalpSnap(), types.M5: agree})
	if sig.Direction != types.Long || !strings.Contains(sig.Rationale, "confirmed on 5m") {
		t.Fatalf("expected confirmed long, got %s (%s)", sig.Direction, sig.Rationale)
	}

	// without a 5m snapshot the setup stands on its own
	sig = s.Evaluate(Snapshots{types.M1: scalpSnap()})
	if sig.Direction != types.Long {
		t.Fatalf("missing confirmation snapshot should not block, got %s", sig.Direction)
	}
}

func TestScalping_MissingSnapshot(t *testing.T) {
	s, _ := buildScalping(t, nil)
	sig := s.Evaluate(Snapshots{types.M5: scalpSnap()})
	if sig.Direction != types.Flat {
		t.Fatalf("expected flat without the 1m snapshot, got %s", sig.Direction)
	}
}

func TestNewScalpingRejectsInvertedThresholds(t *testing.T) {
	cfg := config.Default().Scalping
	cfg.RSIOversold, cfg.RSIOverbought = 70, 30
	if _, err := NewScalping("BTCUSDT", cfg, nil); err == nil {
		t.Fatal("expected error for inverted RSI thresholds")
	}
}

/*
-----------------------------------------------------------------------
Swing – MACD cross above the cloud with volume is long; strength is the
histogram measured in ATRs.
-----------------------------------------------------------------------
*/
func TestSwing_LongAboveCloud(t *testing.T) {
	s := buildSwing(t, nil)
	sig := s.Evaluate(Snapshots{types.H4: swingSnap()})
	if sig.Direction != types.Long {
		t.Fatalf("expected long, got %s (%s)", sig.Direction, sig.Rationale)
	}
	if sig.Strength != 0.25 {
		t.Fatalf("expected strength 0.5/2 = 0.25, got %v", sig.Strength)
	}
	if sig.Source != types.Swing || sig.Timeframe != types.H4 {
		t.Fatalf("unexpected identity %+v", sig)
	}
}

func TestSwing_RequiresVolume(t *testing.T) {
	s := buildSwing(t, nil)
	snap := swingSnap()
	snap.Volume = 1100 // above average but below 1.2x
	if sig := s.Evaluate(Snapshots{types.H4: snap}); sig.Direction != types.Flat {
		t.Fatalf("thin volume must stay flat, got %s", sig.Direction)
	}
}

func TestSwing_RequiresCloudSide(t *testing.T) {
	s := buildSwing(t, nil)
	snap := swingSnap()
	snap.Close = 108 // inside the cloud
	if sig := s.Evaluate(Snapshots{types.H4: snap}); sig.Direction != types.Flat {
		t.Fatalf("close inside the cloud must stay flat, got %s", sig.Direction)
	}
}

func TestSwing_ShortBelowCloud(t *testing.T) {
	s := buildSwing(t, nil)
	snap := swingSnap()
	snap.PrevMACDHist, snap.MACDHist = 0.2, -3
	snap.Close = 100
	sig := s.Evaluate(Snapshots{types.H4: snap})
	if sig.Direction != types.Short {
		t.Fatalf("expected short, got %s", sig.Direction)
	}
	if sig.Strength != 1 {
		t.Fatalf("strength should clamp at 1, got %v", sig.Strength)
	}
}

func TestSwing_RequireOBV(t *testing.T) {
	s := buildSwing(t, func(c *config.SwingConfig) { c.RequireOBV = true })
	snap := swingSnap()
	snap.OBV = 2000 // falling
	if sig := s.Evaluate(Snapshots{types.H4: snap}); sig.Direction != types.Flat {
		t.Fatalf("falling OBV must block the long, got %s", sig.Direction)
	}
}

func TestNewGeneratorsHonoursEnableFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Swing.Enabled = false
	gens, err := NewGenerators("ETHUSDT", cfg, nil)
	if err != nil {
		t.Fatalf("NewGenerators failed: %v", err)
	}
	if _, ok := gens[types.Swing]; ok {
		t.Fatal("disabled swing generator was built")
	}
	if g, ok := gens[types.Scalping]; !ok || g.Kind() != types.Scalping {
		t.Fatal("scalping generator missing")
	}
}

// ---------------------------------------------------------------------
// Exits
// ---------------------------------------------------------------------

func TestScalping_ExitOnRSIReversal(t *testing.T) {
	s, _ := buildScalping(t, nil)
	snap := scalpSnap()
	snap.RSI = 72
	snaps := Snapshots{types.M1: snap}

	why, exit := s.ShouldExit(snaps, Holding{Direction: types.Long, Entry: 100})
	if !exit || !strings.Contains(why, "overbought") {
		t.Fatalf("long should exit on overbought RSI, got %v %q", exit, why)
	}
	if _, exit := s.ShouldExit(snaps, Holding{Direction: types.Short, Entry: 100}); exit {
		t.Fatal("short must stay open on overbought RSI")
	}

	snap.RSI = 25
	if _, exit := s.ShouldExit(Snapshots{types.M1: snap}, Holding{Direction: types.Short}); !exit {
		t.Fatal("short should exit on oversold RSI")
	}

	off, _ := buildScalping(t, func(c *config.ScalpingConfig) { c.ExitOnRSI = false })
	if _, exit := off.ShouldExit(Snapshots{types.M1: snap}, Holding{Direction: types.Short}); exit {
		t.Fatal("disabled RSI exit fired")
	}
}

func TestSwing_ExitAfterMaxHolding(t *testing.T) {
	s := buildSwing(t, nil)
	snaps := Snapshots{types.H4: swingSnap()}

	if _, exit := s.ShouldExit(snaps, Holding{Direction: types.Long, OpenedAt: barClose.Add(-71 * time.Hour)}); exit {
		t.Fatal("71h is within the 72h limit")
	}
	why, exit := s.ShouldExit(snaps, Holding{Direction: types.Long, OpenedAt: barClose.Add(-72 * time.Hour)})
	if !exit || !strings.Contains(why, "72h") {
		t.Fatalf("expected exit at 72h, got %v %q", exit, why)
	}

	forever := buildSwing(t, func(c *config.SwingConfig) { c.MaxHolding = 0 })
	if _, exit := forever.ShouldExit(snaps, Holding{Direction: types.Long, OpenedAt: barClose.Add(-1000 * time.Hour)}); exit {
		t.Fatal("MaxHolding 0 must never exit")
	}
}
