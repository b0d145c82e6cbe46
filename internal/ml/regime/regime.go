package regime

import (
	"math"

	"quantlab/internal/ta"
)

type Trend string

const (
	Bull     Trend = "bull"
	Bear     Trend = "bear"
	Sideways Trend = "sideways"
)

type Volatility string

const (
	VolLow    Volatility = "low"
	VolNormal Volatility = "normal"
	VolHigh   Volatility = "high"
)

type Momentum string

const (
	StrongUp   Momentum = "strong_up"
	StrongDown Momentum = "strong_down"
	Weak       Momentum = "weak"
	Reversal   Momentum = "reversal"
)

// FeatureNames are the columns appended to a dataset by Features.
var FeatureNames = []string{"regime_score", "trend_regime_num", "volatility_regime_num", "momentum_regime_num"}

type Config struct {
	FastMA          int
	SlowMA          int
	LongMA          int
	SlopePeriod     int
	VolLookback     int
	VolLongLookback int
	MomentumPeriod  int
	TrendThreshold  float64
	VolLowPct       float64
	VolHighPct      float64

	RSIOverbought     float64
	RSIOversold       float64
	RSIStrongUp       float64
	RSIStrongDown     float64
	MomentumThreshold float64

	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

func DefaultConfig() Config {
	return Config{
		FastMA:            20,
		SlowMA:            50,
		LongMA:            200,
		SlopePeriod:       10,
		VolLookback:       20,
		VolLongLookback:   60,
		MomentumPeriod:    14,
		TrendThreshold:    0.02,
		VolLowPct:         25,
		VolHighPct:        75,
		RSIOverbought:     70,
		RSIOversold:       30,
		RSIStrongUp:       60,
		RSIStrongDown:     40,
		MomentumThreshold: 0.02,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
	}
}

// Tag is the regime of one row. Score is NaN while the trailing window is
// too short to define it.
type Tag struct {
	Trend      Trend      `json:"trend"`
	Volatility Volatility `json:"volatility"`
	Momentum   Momentum   `json:"momentum"`
	Score      float64    `json:"score"`
}

// Indicators is the trailing-window state a Tag is derived from.
type Indicators struct {
	Close         float64
	Alignment     float64
	SlowSlope     float64
	PriceVsSlow   float64
	VolPercentile float64
	RSI           float64
	RSIChange     float64
	Momentum      float64
	MACDHist      float64
}

// Classify tags every row using only closes at or before that row.
func Classify(closes []float64, cfg Config) []Tag {
	ind := Compute(closes, cfg)
	out := make([]Tag, len(ind))
	for i := range ind {
		out[i] = ClassifyRow(ind[i], cfg)
	}
	return out
}

// Compute derives per-row trailing indicators.
func Compute(closes []float64, cfg Config) []Indicators {
	n := len(closes)
	fast := ta.SMASeries(closes, cfg.FastMA)
	slow := ta.SMASeries(closes, cfg.SlowMA)
	long := ta.SMASeries(closes, cfg.LongMA)
	slope := ta.PctChangeSeries(slow, cfg.SlopePeriod)

	returns := ta.PctChangeSeries(closes, 1)
	histVol := ta.RollingStdSeries(returns, cfg.VolLookback)
	for i := range histVol {
		histVol[i] *= math.Sqrt(252)
	}
	volPct := ta.PercentileRankSeries(histVol, cfg.VolLongLookback)

	rsi := ta.RSISimpleSeries(closes, cfg.MomentumPeriod)
	rsiChange := ta.DiffSeries(rsi, cfg.MomentumPeriod)
	mom := ta.PctChangeSeries(closes, cfg.MomentumPeriod)
	macd := ta.MACDSeries(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)

	out := make([]Indicators, n)
	for i := 0; i < n; i++ {
		align := 0.0
		if fast[i] > slow[i] {
			align++
		}
		if slow[i] > long[i] {
			align++
		}
		if closes[i] > fast[i] {
			align++
		}
		pvs := math.NaN()
		if !math.IsNaN(slow[i]) && slow[i] != 0 {
			pvs = (closes[i] - slow[i]) / slow[i]
		}
		out[i] = Indicators{
			Close:         closes[i],
			Alignment:     align / 3,
			SlowSlope:     slope[i],
			PriceVsSlow:   pvs,
			VolPercentile: volPct[i],
			RSI:           rsi[i],
			RSIChange:     rsiChange[i],
			Momentum:      mom[i],
			MACDHist:      macd.Hist[i],
		}
	}
	return out
}

// ClassifyRow is the rule set applied to one row's indicators. NaN inputs
// fail every comparison, which leaves the row in its neutral regime.
func ClassifyRow(ind Indicators, cfg Config) Tag {
	return Tag{
		Trend:      trendOf(ind, cfg),
		Volatility: volatilityOf(ind, cfg),
		Momentum:   momentumOf(ind, cfg),
		Score:      compositeScore(ind),
	}
}

func trendOf(ind Indicators, cfg Config) Trend {
	switch {
	case ind.Alignment > 0.66 && ind.PriceVsSlow > cfg.TrendThreshold && ind.SlowSlope > 0:
		return Bull
	case ind.Alignment < 0.33 && ind.PriceVsSlow < -cfg.TrendThreshold && ind.SlowSlope < 0:
		return Bear
	default:
		return Sideways
	}
}

func volatilityOf(ind Indicators, cfg Config) Volatility {
	switch {
	case math.IsNaN(ind.VolPercentile):
		return VolNormal
	case ind.VolPercentile < cfg.VolLowPct:
		return VolLow
	case ind.VolPercentile > cfg.VolHighPct:
		return VolHigh
	default:
		return VolNormal
	}
}

func momentumOf(ind Indicators, cfg Config) Momentum {
	if math.IsNaN(ind.RSI) {
		return Weak
	}
	// An undefined sign on either side counts as a divergence.
	diverges := sign(ind.Momentum) != sign(ind.RSIChange)
	switch {
	case diverges && (ind.RSI > cfg.RSIOverbought || ind.RSI < cfg.RSIOversold):
		return Reversal
	case ind.RSI > cfg.RSIStrongUp && ind.Momentum > cfg.MomentumThreshold && ind.MACDHist > 0:
		return StrongUp
	case ind.RSI < cfg.RSIStrongDown && ind.Momentum < -cfg.MomentumThreshold && ind.MACDHist < 0:
		return StrongDown
	default:
		return Weak
	}
}

func compositeScore(ind Indicators) float64 {
	trendSignal := ind.Alignment*2 - 1
	momentumSignal := ((ind.RSI-50)/50 + ta.Clip(ind.Momentum, -0.1, 0.1)*10) / 2
	volPct := ind.VolPercentile
	if math.IsNaN(volPct) {
		volPct = 50
	}
	discount := 1 - 0.5*volPct/100
	deviation := ta.Clip(ind.PriceVsSlow, -0.1, 0.1) * 10
	score := 0.4*trendSignal + 0.4*momentumSignal*discount + 0.2*deviation
	if math.IsNaN(score) {
		return math.NaN()
	}
	return ta.Clip(score, -1, 1)
}

func sign(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return math.NaN()
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
