package ta

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// PopMeanStd returns the mean and population (n) standard deviation.
func PopMeanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(values, nil)
}

// EMASeries is an exponential moving average with alpha 2/(period+1),
// seeded with the first value. Every position is defined.
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if period <= 1 {
		copy(out, values)
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1] + alpha*(values[i]-out[i-1])
	}
	return out
}

// RSIWilderSeries computes RSI with Wilder smoothing. The first period bars
// are NaN; the seed at index period is the simple mean of the first moves.
func RSIWilderSeries(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		g, l := splitMove(closes[i] - closes[i-1])
		avgGain += g
		avgLoss += l
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	out[period] = rsiFromAvg(avgGain, avgLoss)
	for i := period + 1; i < len(closes); i++ {
		g, l := splitMove(closes[i] - closes[i-1])
		avgGain += (g - avgGain) / p
		avgLoss += (l - avgLoss) / p
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func splitMove(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACD holds the line, its signal EMA and their difference.
type MACD struct {
	Line   []float64
	Signal []float64
	Hist   []float64
}

func MACDSeries(values []float64, fast, slow, signal int) MACD {
	fastEMA := EMASeries(values, fast)
	slowEMA := EMASeries(values, slow)
	m := MACD{
		Line: make([]float64, len(values)),
		Hist: make([]float64, len(values)),
	}
	for i := range values {
		m.Line[i] = fastEMA[i] - slowEMA[i]
	}
	m.Signal = EMASeries(m.Line, signal)
	for i := range values {
		m.Hist[i] = m.Line[i] - m.Signal[i]
	}
	return m
}

// Bands are Bollinger bands around a rolling mean using the population
// standard deviation. Positions before the first full window are NaN.
type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Width is (upper-lower)/middle at i, NaN when the middle is zero.
func (b Bands) Width(i int) float64 {
	if b.Middle[i] == 0 {
		return math.NaN()
	}
	return (b.Upper[i] - b.Lower[i]) / b.Middle[i]
}

// Position places price inside the band at i: 0 on the lower band, 1 on the
// upper. A collapsed band reports 0.5.
func (b Bands) Position(i int, price float64) float64 {
	if b.Upper[i] == b.Lower[i] {
		return 0.5
	}
	return (price - b.Lower[i]) / (b.Upper[i] - b.Lower[i])
}

func BollingerSeries(values []float64, period int, width float64) Bands {
	b := Bands{
		Middle: nanSeries(len(values)),
		Upper:  nanSeries(len(values)),
		Lower:  nanSeries(len(values)),
	}
	if period <= 0 {
		return b
	}
	for i := period - 1; i < len(values); i++ {
		mean, std := PopMeanStd(values[i-period+1 : i+1])
		b.Middle[i] = mean
		b.Upper[i] = mean + width*std
		b.Lower[i] = mean - width*std
	}
	return b
}
