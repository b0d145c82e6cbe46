package evaluation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

type BenchmarkComparison struct {
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	InformationRatio float64 `json:"information_ratio"`
	TrackingError    float64 `json:"tracking_error"`
	StrategySharpe   float64 `json:"strategy_sharpe"`
	BenchmarkSharpe  float64 `json:"benchmark_sharpe"`
}

// Benchmark compares a strategy return series with a benchmark of the same
// length, typically buy-and-hold forward returns.
func (e *Evaluator) Benchmark(strategy, benchmark []float64) (BenchmarkComparison, error) {
	if len(strategy) != len(benchmark) {
		return BenchmarkComparison{}, fmt.Errorf("strategy has %d periods, benchmark %d", len(strategy), len(benchmark))
	}
	out := BenchmarkComparison{
		StrategySharpe:  e.Sharpe(strategy),
		BenchmarkSharpe: e.Sharpe(benchmark),
	}
	if len(strategy) < 2 {
		return out, nil
	}
	s := make([]float64, len(strategy))
	b := make([]float64, len(benchmark))
	active := make([]float64, len(strategy))
	for i := range strategy {
		s[i] = finiteOrZero(strategy[i])
		b[i] = finiteOrZero(benchmark[i])
		active[i] = s[i] - b[i]
	}
	if v := stat.Variance(b, nil); v != 0 {
		out.Beta = stat.Covariance(s, b, nil) / v
	}
	periods := float64(e.Periods)
	out.Alpha = (stat.Mean(s, nil) - out.Beta*stat.Mean(b, nil)) * periods
	mean, te := stat.PopMeanStdDev(active, nil)
	if te > 0 {
		out.InformationRatio = mean / te * math.Sqrt(periods)
	}
	out.TrackingError = te * math.Sqrt(periods)
	return out, nil
}
