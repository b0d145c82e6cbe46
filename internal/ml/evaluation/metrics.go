package evaluation

import (
	"math"

	"quantlab/internal/domain"
	"quantlab/internal/ml/common"

	"gonum.org/v1/gonum/stat"
)

type Evaluator struct {
	CostBps      float64
	RiskFreeRate float64
	Periods      int
}

func NewEvaluator(costBps float64) *Evaluator {
	if costBps < 0 {
		costBps = DefaultCostBps
	}
	return &Evaluator{CostBps: costBps, RiskFreeRate: DefaultRiskFreeRate, Periods: TradingDays}
}

// Evaluate simulates yPred as positions against forward returns and derives
// the full metric set.
func (e *Evaluator) Evaluate(yTrue, yPred []int, forwardReturns []float64) domain.TradingMetrics {
	returns := Simulate(yPred, forwardReturns, e.CostBps)
	maxDD := e.MaxDrawdown(returns)
	pf, winRate, avgWin, avgLoss, trades := e.TradeMetrics(yPred, forwardReturns)
	return domain.TradingMetrics{
		Accuracy:         common.Accuracy(yTrue, yPred),
		SharpeRatio:      e.Sharpe(returns),
		SortinoRatio:     e.Sortino(returns),
		CalmarRatio:      e.Calmar(returns, maxDD),
		MaxDrawdown:      maxDD,
		ProfitFactor:     pf,
		WinRate:          winRate,
		AvgWin:           avgWin,
		AvgLoss:          avgLoss,
		TotalReturn:      TotalReturn(returns),
		AnnualizedReturn: e.AnnualizedReturn(returns),
		NumTrades:        trades,
	}
}

func (e *Evaluator) excess(returns []float64) []float64 {
	rf := e.RiskFreeRate / float64(e.Periods)
	clean := finite(returns)
	for i := range clean {
		clean[i] -= rf
	}
	return clean
}

func (e *Evaluator) Sharpe(returns []float64) float64 {
	ex := e.excess(returns)
	if len(ex) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(ex, nil)
	if std < 1e-8 || math.IsNaN(std) {
		return 0
	}
	return clip(mean/std*math.Sqrt(float64(e.Periods)), -10, 10)
}

// Sortino returns +Inf when there is no downside and the mean excess return
// is positive.
func (e *Evaluator) Sortino(returns []float64) float64 {
	ex := e.excess(returns)
	if len(ex) < 2 {
		return 0
	}
	mean := stat.Mean(ex, nil)
	downside := make([]float64, 0, len(ex))
	for _, r := range ex {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	if len(downside) < 2 {
		return 0
	}
	std := stat.StdDev(downside, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return clip(mean/std*math.Sqrt(float64(e.Periods)), -10, 10)
}

// MaxDrawdown is the largest peak-to-trough decline of the compounded curve,
// as a positive fraction in [0,1].
func (e *Evaluator) MaxDrawdown(returns []float64) float64 {
	clean := finite(returns)
	if len(clean) < 2 {
		return 0
	}
	curve := Curve(clean)
	peak := curve[0]
	worst := 0.0
	for _, v := range curve {
		if v <= 0 || math.IsNaN(v) {
			return 0
		}
		if v > peak {
			peak = v
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return clip(math.Abs(worst), 0, 1)
}

func (e *Evaluator) Calmar(returns []float64, maxDD float64) float64 {
	if maxDD <= 0 || math.IsNaN(maxDD) {
		return 0
	}
	return e.AnnualizedReturn(returns) / maxDD
}

// TradeMetrics evaluates rows with a nonzero position, net of one cost charge
// per trade. Profit factor is +Inf with wins and no losses and 0 with no trades
// or when every trade is flat.
func (e *Evaluator) TradeMetrics(signals []int, forwardReturns []float64) (profitFactor, winRate, avgWin, avgLoss float64, trades int) {
	cost := e.CostBps / 10000
	var grossWin, grossLoss float64
	var wins, losses int
	n := min(len(signals), len(forwardReturns))
	for i := 0; i < n; i++ {
		pos := position(signals[i])
		if pos == 0 {
			continue
		}
		trades++
		r := pos*finiteOrZero(forwardReturns[i]) - cost
		switch {
		case r > 0:
			wins++
			grossWin += r
		case r < 0:
			losses++
			grossLoss -= r
		}
	}
	if trades == 0 {
		return 0, 0, 0, 0, 0
	}
	winRate = float64(wins) / float64(trades)
	if wins > 0 {
		avgWin = grossWin / float64(wins)
	}
	if losses > 0 {
		avgLoss = grossLoss / float64(losses)
	}
	switch {
	case grossLoss > 0:
		profitFactor = grossWin / grossLoss
	case wins > 0:
		profitFactor = math.Inf(1)
	}
	return profitFactor, winRate, avgWin, avgLoss, trades
}

func TotalReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	total := 1.0
	for _, r := range returns {
		total *= 1 + r
	}
	return total - 1
}

func (e *Evaluator) AnnualizedReturn(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	years := float64(len(returns)) / float64(e.Periods)
	return math.Pow(1+TotalReturn(returns), 1/years) - 1
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
