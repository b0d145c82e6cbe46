package ta

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SMASeries returns the simple moving average; the first period-1 values are NaN.
func SMASeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// PctChangeSeries returns values[i]/values[i-lag]-1, NaN where undefined.
func PctChangeSeries(values []float64, lag int) []float64 {
	out := nanSeries(len(values))
	if lag <= 0 {
		return out
	}
	for i := lag; i < len(values); i++ {
		base := values[i-lag]
		if base == 0 || math.IsNaN(base) || math.IsNaN(values[i]) {
			continue
		}
		out[i] = values[i]/base - 1
	}
	return out
}

// DiffSeries returns values[i]-values[i-lag].
func DiffSeries(values []float64, lag int) []float64 {
	out := nanSeries(len(values))
	if lag <= 0 {
		return out
	}
	for i := lag; i < len(values); i++ {
		out[i] = values[i] - values[i-lag]
	}
	return out
}

// RollingStdSeries is the sample (n-1) standard deviation over a trailing
// window. Windows containing NaN yield NaN.
func RollingStdSeries(values []float64, window int) []float64 {
	out := nanSeries(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = stat.StdDev(w, nil)
	}
	return out
}

// RSISimpleSeries computes RSI from simple rolling means of gains and losses
// over period bars, rather than Wilder smoothing. A window without a losing
// bar has no defined ratio and stays NaN.
func RSISimpleSeries(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		gains[i], losses[i] = splitMove(closes[i] - closes[i-1])
	}
	var gSum, lSum float64
	down := 0
	for i := 1; i < len(closes); i++ {
		gSum += gains[i]
		lSum += losses[i]
		if losses[i] > 0 {
			down++
		}
		if i > period {
			gSum -= gains[i-period]
			lSum -= losses[i-period]
			if losses[i-period] > 0 {
				down--
			}
		}
		// Counting losing bars keeps rounding drift in lSum from passing for a loss.
		if i < period || down == 0 {
			continue
		}
		avgGain := math.Max(gSum, 0) / float64(period)
		avgLoss := lSum / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

// PercentileRankSeries reports, for each i, the percentage of the trailing
// window values (values[i] included) that are strictly below values[i]. Only
// full windows without NaN are ranked; everything else is NaN.
func PercentileRankSeries(values []float64, window int) []float64 {
	out := nanSeries(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		if window == 1 {
			out[i] = 50
			continue
		}
		below := 0
		for _, v := range w {
			if v < values[i] {
				below++
			}
		}
		out[i] = 100 * float64(below) / float64(window)
	}
	return out
}

func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func hasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
