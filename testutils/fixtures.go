package testutils

import (
	"time"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/indicator"
	"github.com/tungnguyentu/trade/types"
)

// T0 is the open time of bar 0 in fixtures.
var T0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// FastSpec warms up after five bars.
func FastSpec() indicator.Spec {
	return indicator.Spec{
		RSIPeriod:          2,
		EMAFast:            2,
		EMASlow:            3,
		SlopeBars:          1,
		MACDFast:           2,
		MACDSlow:           3,
		MACDSignal:         2,
		BBPeriod:           2,
		BBStdDev:           2,
		ATRPeriod:          2,
		ATRMeanPeriod:      2,
		IchimokuConversion: 1,
		IchimokuBase:       2,
		IchimokuSpanB:      3,
		VolumePeriod:       2,
		MFIPeriod:          2,
	}
}

// Config trades symbols on 1m bars only, with 1 % stops and 2R targets
// for both strategies and no trailing.
func Config(symbols ...string) config.Config {
	cfg := config.Default()
	cfg.Symbols = symbols
	cfg.Timeframes = []types.Timeframe{types.M1}
	cfg.BaseTimeframe = types.M1
	cfg.Indicators = FastSpec()
	cfg.Risk.Stops = map[types.StrategyKind]config.StopRule{
		types.Scalping: {Basis: config.StopPercent, StopLossPct: 0.01, RewardRisk: 2},
		types.Swing:    {Basis: config.StopPercent, StopLossPct: 0.01, RewardRisk: 2},
	}
	cfg.Execution.FeeRate = 0
	return cfg
}

// Bar builds bar i of a 1m series.
func Bar(symbol string, i int, o, h, l, c float64) types.Bar {
	return types.Bar{
		Symbol:    symbol,
		Timeframe: types.M1,
		OpenTime:  T0.Add(time.Duration(i) * time.Minute),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1,
	}
}

// Flat builds n quiet bars around price starting at index from.
func Flat(symbol string, from, n int, price float64) []types.Bar {
	out := make([]types.Bar, n)
	for i := range out {
		out[i] = Bar(symbol, from+i, price, price+0.5, price-0.5, price)
	}
	return out
}
