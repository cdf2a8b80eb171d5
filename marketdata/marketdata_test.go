package marketdata

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tungnguyentu/trade/types"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(sym string, tf types.Timeframe, open time.Time, c float64) types.Bar {
	return types.Bar{Symbol: sym, Timeframe: tf, OpenTime: open, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
}

func minutes(sym string, n int) []types.Bar {
	out := make([]types.Bar, n)
	for i := range out {
		out[i] = bar(sym, types.M1, t0.Add(time.Duration(i)*time.Minute), 100+float64(i))
	}
	return out
}

/*
------------------------------------------------------------------
Slice replays in order, ends with io.EOF and restarts on Reset
------------------------------------------------------------------
*/
func TestSlice_ReplayAndReset(t *testing.T) {
	ctx := context.Background()
	s := NewSlice(minutes("BTCUSDT", 3))
	got, err := ReadAll(ctx, s)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 3 || got[2].Close != 102 {
		t.Fatalf("unexpected replay %+v", got)
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	s.Reset()
	b, err := s.Next(ctx)
	if err != nil || b.Close != 100 {
		t.Fatalf("expected first bar after reset, got %+v (err %v)", b, err)
	}
}

func TestSlice_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSlice(minutes("BTCUSDT", 1)).Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

/*
------------------------------------------------------------------
a 1h bar closing at 01:00 sorts before the 1m bar closing then
------------------------------------------------------------------
*/
func TestLess_TieBreaks(t *testing.T) {
	hour := bar("BTCUSDT", types.H1, t0, 100)
	minute := bar("BTCUSDT", types.M1, t0.Add(59*time.Minute), 100)
	if !Less(hour, minute) || Less(minute, hour) {
		t.Fatal("expected the longer timeframe first on equal close time")
	}
	a := bar("AAA", types.M1, t0, 1)
	b := bar("BBB", types.M1, t0, 1)
	if !Less(a, b) {
		t.Fatal("expected symbol order on full tie")
	}
	early := bar("ZZZ", types.M1, t0, 1)
	late := bar("AAA", types.M1, t0.Add(time.Minute), 1)
	if !Less(early, late) {
		t.Fatal("expected close time to dominate")
	}
}

func TestMerge_Ordering(t *testing.T) {
	ctx := context.Background()
	btc := minutes("BTCUSDT", 60)
	eth := minutes("ETHUSDT", 60)
	hourly := []types.Bar{bar("BTCUSDT", types.H1, t0, 100)}
	m := Merge(NewSlice(eth), NewSlice(hourly), NewSlice(btc))

	got, err := ReadAll(ctx, m)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 121 {
		t.Fatalf("expected 121 bars, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if Less(got[i], got[i-1]) {
			t.Fatalf("bar %d out of order: %+v before %+v", i, got[i-1], got[i])
		}
	}
	// at 01:00 the hourly bar is first, then BTC then ETH
	last := got[len(got)-3:]
	if last[0].Timeframe != types.H1 || last[1].Symbol != "BTCUSDT" || last[2].Symbol != "ETHUSDT" {
		t.Fatalf("unexpected tie order %+v", last)
	}

	m.Reset()
	again, err := ReadAll(ctx, m)
	if err != nil || len(again) != 121 {
		t.Fatalf("expected full replay after reset, got %d (err %v)", len(again), err)
	}
}

func TestSort_Stable(t *testing.T) {
	bars := []types.Bar{
		bar("BTCUSDT", types.M1, t0.Add(time.Minute), 2),
		bar("BTCUSDT", types.M5, t0, 5),
		bar("BTCUSDT", types.M1, t0, 1),
	}
	Sort(bars)
	if bars[0].Close != 1 || bars[1].Close != 2 {
		t.Fatalf("unexpected order %+v", bars)
	}
	if bars[2].Timeframe != types.M5 {
		t.Fatalf("5m bar closing at 00:05 should be last, got %+v", bars[2])
	}
}

/*
------------------------------------------------------------------
Validate: duplicate fails the series for good, others keep going
------------------------------------------------------------------
*/
func TestValidate_DuplicateHaltsSeries(t *testing.T) {
	ctx := context.Background()
	bars := []types.Bar{
		bar("BTCUSDT", types.M1, t0, 100),
		bar("ETHUSDT", types.M1, t0, 10),
		bar("BTCUSDT", types.M1, t0, 100), // duplicate
		bar("ETHUSDT", types.M1, t0.Add(time.Minute), 11),
		bar("BTCUSDT", types.M1, t0.Add(time.Minute), 101),
	}
	v := Validate(NewSlice(bars))

	for i := 0; i < 2; i++ {
		if _, err := v.Next(ctx); err != nil {
			t.Fatalf("bar %d: unexpected error %v", i, err)
		}
	}
	_, err := v.Next(ctx)
	var die *DataIntegrityError
	if !errors.As(err, &die) {
		t.Fatalf("expected DataIntegrityError, got %v", err)
	}
	if die.Symbol != "BTCUSDT" || !strings.Contains(die.Error(), "duplicate") {
		t.Fatalf("unexpected error %v", die)
	}
	if b, err := v.Next(ctx); err != nil || b.Symbol != "ETHUSDT" {
		t.Fatalf("ETH should continue, got %+v (err %v)", b, err)
	}
	if _, err := v.Next(ctx); !errors.As(err, &die) {
		t.Fatalf("BTC should stay failed, got %v", err)
	}

	v.Reset()
	if _, err := v.Next(ctx); err != nil {
		t.Fatalf("reset should clear failures, got %v", err)
	}
}

func TestValidate_OutOfOrder(t *testing.T) {
	bars := []types.Bar{
		bar("BTCUSDT", types.M1, t0.Add(time.Minute), 100),
		bar("BTCUSDT", types.M1, t0, 99),
	}
	v := Validate(NewSlice(bars))
	_, _ = v.Next(context.Background())
	_, err := v.Next(context.Background())
	var die *DataIntegrityError
	if !errors.As(err, &die) || !strings.Contains(err.Error(), "out-of-order") {
		t.Fatalf("expected out-of-order error, got %v", err)
	}
}

/*
------------------------------------------------------------------
Screen: BTC 1m bars 2 and 3 swapped; BTC stops after bar 3 across all
of its timeframes, ETH is untouched and a broken bar is only dropped
------------------------------------------------------------------
*/
func TestScreen_HaltsSymbolAfterLastGoodBar(t *testing.T) {
	btc := minutes("BTCUSDT", 6)
	btc[2], btc[3] = btc[3], btc[2]
	eth := minutes("ETHUSDT", 6)
	eth[4].High = eth[4].Low - 1
	h1 := bar("BTCUSDT", types.H1, t0, 100)

	var in []types.Bar
	for i := range btc {
		in = append(in, btc[i], eth[i])
	}
	in = append(in, h1)

	kept, halts, rejected := Screen(in)
	if len(halts) != 1 || halts[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected one BTC halt, got %+v", halts)
	}
	if want := t0.Add(4 * time.Minute); !halts[0].After.Equal(want) {
		t.Fatalf("expected the halt after bar 3 closing at %s, got %s", want, halts[0].After)
	}
	var die *DataIntegrityError
	if !errors.As(halts[0].Err, &die) {
		t.Fatalf("expected a DataIntegrityError, got %v", halts[0].Err)
	}
	if len(rejected) != 1 || !errors.Is(rejected[0], ErrInvalidBar) {
		t.Fatalf("expected one rejected ETH bar, got %v", rejected)
	}

	count := map[string]int{}
	for _, b := range kept {
		count[string(b.Timeframe)+" "+b.Symbol]++
		if b.Symbol == "BTCUSDT" && b.CloseTime().After(halts[0].After) {
			t.Fatalf("BTC bar closing at %s kept after the halt", b.CloseTime())
		}
	}
	// BTC keeps bars 0, 1 and 3; its 1h bar closes after the halt
	if count["1m BTCUSDT"] != 3 || count["1h BTCUSDT"] != 0 || count["1m ETHUSDT"] != 5 {
		t.Fatalf("unexpected kept bars %v", count)
	}
}

func TestScreen_OrderedInputUntouched(t *testing.T) {
	in := append(minutes("BTCUSDT", 4), minutes("ETHUSDT", 4)...)
	kept, halts, rejected := Screen(in)
	if len(kept) != 8 || halts != nil || rejected != nil {
		t.Fatalf("expected everything kept, got %d kept, halts %v, rejected %v", len(kept), halts, rejected)
	}
}

func TestCheckBar(t *testing.T) {
	good := bar("BTCUSDT", types.M1, t0, 100)
	if err := CheckBar(good); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	cases := map[string]func(*types.Bar){
		"no symbol":     func(b *types.Bar) { b.Symbol = "" },
		"bad timeframe": func(b *types.Bar) { b.Timeframe = "7m" },
		"negative":      func(b *types.Bar) { b.Volume = -1 },
		"high < close":  func(b *types.Bar) { b.High = 99 },
		"low > open":    func(b *types.Bar) { b.Low = 100.5 },
	}
	for name, mutate := range cases {
		b := good
		mutate(&b)
		if err := CheckBar(b); !errors.Is(err, ErrInvalidBar) {
			t.Fatalf("%s: expected ErrInvalidBar, got %v", name, err)
		}
	}
}

/*
------------------------------------------------------------------
CSV
------------------------------------------------------------------
*/
func TestReadCSV_DefaultsAndMillis(t *testing.T) {
	in := "timestamp,open,high,low,close,volume\n" +
		"1709251200000,100,101,99,100.5,12\n" +
		"1709251260000,100.5,102,100,101,8\n"
	bars, err := ReadCSV(strings.NewReader(in), CSVOptions{Symbol: "BTCUSDT", Timeframe: types.M1})
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if !bars[0].OpenTime.Equal(t0) || bars[0].Symbol != "BTCUSDT" || bars[1].Close != 101 {
		t.Fatalf("unexpected bars %+v", bars)
	}
}

func TestReadCSV_ColumnsAndFormats(t *testing.T) {
	in := "symbol,interval,open_time,open,high,low,close,volume,trades\n" +
		"ethusdt,1h,2024-03-01T00:00:00Z,10,11,9,10.5,100,42\n" +
		"ETHUSDT,1h,2024-03-01 01:00:00,10.5,12,10,11,90,40\n" +
		"ETHUSDT,1h,1709258400,11,11.5,10.5,11.2,80,38\n"
	bars, err := ReadCSV(strings.NewReader(in), CSVOptions{})
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	for i, b := range bars {
		want := t0.Add(time.Duration(i) * time.Hour)
		if b.Symbol != "ETHUSDT" || b.Timeframe != types.H1 || !b.OpenTime.Equal(want) {
			t.Fatalf("row %d: unexpected %+v", i, b)
		}
	}
}

func TestReadCSV_Errors(t *testing.T) {
	cases := map[string]struct {
		in   string
		opts CSVOptions
	}{
		"missing column": {"timestamp,open,high,low,close\n", CSVOptions{Symbol: "X", Timeframe: types.M1}},
		"no symbol":      {"timestamp,open,high,low,close,volume\n", CSVOptions{Timeframe: types.M1}},
		"bad number":     {"timestamp,open,high,low,close,volume\n1,a,1,1,1,1\n", CSVOptions{Symbol: "X", Timeframe: types.M1}},
		"bad time":       {"timestamp,open,high,low,close,volume\nyesterday,1,1,1,1,1\n", CSVOptions{Symbol: "X", Timeframe: types.M1}},
		"empty":          {"", CSVOptions{Symbol: "X", Timeframe: types.M1}},
	}
	for name, c := range cases {
		if _, err := ReadCSV(strings.NewReader(c.in), c.opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
