package backtest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/position"
	"github.com/tungnguyentu/trade/types"
)

// maxRatio stands in for an unbounded profit factor.
const maxRatio = 999

type Report struct {
	RunID string    `json:"run_id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	InitialEquity float64 `json:"initial_equity"`
	FinalEquity   float64 `json:"final_equity"`
	NetPnL        float64 `json:"net_pnl"`
	ReturnPct     float64 `json:"return_pct"`

	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"`
	Sharpe       float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`

	Trades []position.TradeRecord `json:"trades"`
	Equity []types.EquityPoint    `json:"equity_curve"`
	Halted []string               `json:"halted,omitempty"`
}

func buildReport(runID string, cfg config.Config, trades []position.TradeRecord, curve []types.EquityPoint) *Report {
	r := &Report{
		RunID:         runID,
		InitialEquity: cfg.InitialBalance,
		FinalEquity:   cfg.InitialBalance,
		Trades:        trades,
		Equity:        curve,
		TotalTrades:   len(trades),
	}
	if len(curve) > 0 {
		r.Start = curve[0].Time
		r.End = curve[len(curve)-1].Time
		r.FinalEquity = curve[len(curve)-1].Equity
	}
	r.NetPnL = r.FinalEquity - r.InitialEquity
	if r.InitialEquity > 0 {
		r.ReturnPct = r.NetPnL / r.InitialEquity
	}

	var profit, loss float64
	for _, t := range trades {
		if t.Win() {
			r.Wins++
			profit += t.PnL
		} else {
			r.Losses++
			loss -= t.PnL
		}
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.TotalTrades)
	}
	if r.Wins > 0 {
		r.AverageWin = profit / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AverageLoss = loss / float64(r.Losses)
	}
	r.ProfitFactor = ProfitFactor(profit, loss)
	r.MaxDrawdown = MaxDrawdown(curve)
	r.Sharpe = Sharpe(curve, periodsPerYear(cfg.BaseTimeframe))
	return r
}

// ProfitFactor is gross profit over gross loss, capped when nothing was lost.
func ProfitFactor(profit, loss float64) float64 {
	switch {
	case loss > 0:
		return math.Min(profit/loss, maxRatio)
	case profit > 0:
		return maxRatio
	}
	return 0
}

// MaxDrawdown is the largest peak-to-trough fall of the curve as a fraction
// of the peak.
func MaxDrawdown(curve []types.EquityPoint) float64 {
	var peak, worst float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-p.Equity)/peak)
		}
	}
	return worst
}

// Sharpe annualises mean over standard deviation of the curve's periodic
// returns. It is 0 with fewer than two returns or no variance.
func Sharpe(curve []types.EquityPoint, periods float64) float64 {
	if len(curve) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if prev := curve[i-1].Equity; prev > 0 {
			rets = append(rets, curve[i].Equity/prev-1)
		}
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, v := range rets {
		mean += v
	}
	mean /= float64(len(rets))
	var ss float64
	for _, v := range rets {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(rets)-1))
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(periods)
}

func periodsPerYear(tf types.Timeframe) float64 {
	d, err := tf.Duration()
	if err != nil || d <= 0 {
		return 1
	}
	return float64(365*24*time.Hour) / float64(d)
}

// String renders the summary for a terminal.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s  %s -> %s\n", r.RunID, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	fmt.Fprintf(&b, "equity        %.2f -> %.2f (%+.2f, %+.2f%%)\n", r.InitialEquity, r.FinalEquity, r.NetPnL, r.ReturnPct*100)
	fmt.Fprintf(&b, "trades        %d (%d won, %d lost)\n", r.TotalTrades, r.Wins, r.Losses)
	fmt.Fprintf(&b, "win rate      %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(&b, "profit factor %.2f\n", r.ProfitFactor)
	fmt.Fprintf(&b, "avg win/loss  %.2f / %.2f\n", r.AverageWin, r.AverageLoss)
	fmt.Fprintf(&b, "sharpe        %.2f\n", r.Sharpe)
	fmt.Fprintf(&b, "max drawdown  %.2f%%\n", r.MaxDrawdown*100)
	if len(r.Halted) > 0 {
		fmt.Fprintf(&b, "halted        %s\n", strings.Join(r.Halted, ", "))
	}
	return b.String()
}
