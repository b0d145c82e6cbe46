package evaluation

import "math"

const (
	DefaultCostBps      = 10.0
	DefaultRiskFreeRate = 0.05
	TradingDays         = 252
)

// Simulate converts {-1,0,1} signals into per-period strategy returns net of
// transaction costs charged on every change of position.
func Simulate(signals []int, forwardReturns []float64, costBps float64) []float64 {
	n := min(len(signals), len(forwardReturns))
	cost := costBps / 10000
	out := make([]float64, n)
	prev := 0.0
	for i := 0; i < n; i++ {
		pos := position(signals[i])
		gross := pos * finiteOrZero(forwardReturns[i])
		out[i] = gross - math.Abs(pos-prev)*cost
		prev = pos
	}
	return out
}

// Curve returns the cumulative equity curve starting from 1.
func Curve(returns []float64) []float64 {
	out := make([]float64, len(returns))
	equity := 1.0
	for i, r := range returns {
		equity *= 1 + r
		out[i] = equity
	}
	return out
}

func position(signal int) float64 {
	switch {
	case signal > 0:
		return 1
	case signal < 0:
		return -1
	default:
		return 0
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
