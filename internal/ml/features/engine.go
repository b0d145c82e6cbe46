package features

import (
	"math"
	"sort"

	"quantlab/internal/domain"
	"quantlab/internal/ta"
)

const (
	featureSpecVersion = "v2"
	rsiPeriod          = 14
	macdFast           = 12
	macdSlow           = 26
	macdSignal         = 9
	bbPeriod           = 20
	bbStdDevs          = 2.0
	volumeWindow       = 20
)

// BaseFeatureNames is the technical feature set used when a table carries no
// precomputed feature columns.
var BaseFeatureNames = []string{
	"ret_1", "ret_5", "ret_10", "ret_20",
	"volatility_5", "volatility_20", "volume_z_20",
	"rsi_14", "macd_line", "macd_signal", "macd_hist",
	"bb_pos", "bb_width",
}

type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

func FeatureSpecVersion() string {
	return featureSpecVersion
}

// Compute returns one BaseFeatureNames row per bar. Bars inside an indicator
// warm-up carry NaN and are dropped later by the dataset builder.
func (e *Engine) Compute(t *Table) [][]float64 {
	closes := t.Close
	volumes := t.Volume
	rsi := ta.RSIWilderSeries(closes, rsiPeriod)
	macd := ta.MACDSeries(closes, macdFast, macdSlow, macdSignal)
	bands := ta.BollingerSeries(closes, bbPeriod, bbStdDevs)

	rows := make([][]float64, len(closes))
	for i := range closes {
		row := make([]float64, len(BaseFeatureNames))
		for j := range row {
			row[j] = math.NaN()
		}
		rows[i] = row
		if i < volumeWindow {
			continue
		}
		row[0] = pctReturn(closes, i, 1)
		row[1] = pctReturn(closes, i, 5)
		row[2] = pctReturn(closes, i, 10)
		row[3] = pctReturn(closes, i, 20)
		row[4] = rollingVolatility(closes, i, 5)
		row[5] = rollingVolatility(closes, i, 20)
		row[6] = rollingZ(volumes, i, volumeWindow)
		row[7] = rsi[i]
		row[8] = macd.Line[i]
		row[9] = macd.Signal[i]
		row[10] = macd.Hist[i]
		row[11] = bands.Position(i, closes[i])
		row[12] = bands.Width(i)
	}
	return rows
}

func normalizeCandles(in []*domain.Candle) []domain.Candle {
	out := make([]domain.Candle, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

func pctReturn(values []float64, idx int, lag int) float64 {
	if idx-lag < 0 || idx >= len(values) {
		return math.NaN()
	}
	base := values[idx-lag]
	if base == 0 {
		return math.NaN()
	}
	return (values[idx] / base) - 1
}

func rollingVolatility(closes []float64, idx int, window int) float64 {
	if window <= 1 || idx-window+1 <= 0 || idx >= len(closes) {
		return math.NaN()
	}
	rets := make([]float64, 0, window)
	for j := idx - window + 1; j <= idx; j++ {
		if j-1 < 0 || closes[j-1] == 0 {
			return math.NaN()
		}
		rets = append(rets, (closes[j]/closes[j-1])-1)
	}
	_, std := ta.PopMeanStd(rets)
	return std
}

func rollingZ(values []float64, idx int, window int) float64 {
	if window <= 0 || idx-window < 0 || idx >= len(values) {
		return math.NaN()
	}
	mean, std := ta.PopMeanStd(values[idx-window : idx])
	if std == 0 {
		return 0
	}
	return (values[idx] - mean) / std
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
