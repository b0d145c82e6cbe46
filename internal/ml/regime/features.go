package regime

import (
	"math"
	"sort"
)

func (t Trend) Num() float64 {
	switch t {
	case Bull:
		return 1
	case Bear:
		return -1
	default:
		return 0
	}
}

func (v Volatility) Num() float64 {
	switch v {
	case VolHigh:
		return 1
	case VolLow:
		return -1
	default:
		return 0
	}
}

func (m Momentum) Num() float64 {
	switch m {
	case StrongUp:
		return 1
	case StrongDown:
		return -1
	default:
		return 0
	}
}

// Features returns one row of FeatureNames columns per tag.
func Features(tags []Tag) [][]float64 {
	out := make([][]float64, len(tags))
	for i, t := range tags {
		out[i] = []float64{t.Score, t.Trend.Num(), t.Volatility.Num(), t.Momentum.Num()}
	}
	return out
}

// TrendLabels extracts the trend regime of each tag as a plain string.
func TrendLabels(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t.Trend)
	}
	return out
}

type Accuracy struct {
	Regime   string  `json:"regime"`
	Accuracy float64 `json:"accuracy"`
	Samples  int     `json:"samples"`
}

type Breakdown struct {
	Trend      []Accuracy `json:"trend"`
	Volatility []Accuracy `json:"volatility"`
}

// EvaluateByRegime reports prediction accuracy per trend and per volatility
// regime. Rows beyond the shortest input are ignored.
func EvaluateByRegime(yTrue, yPred []int, tags []Tag) Breakdown {
	n := min(len(yTrue), len(yPred), len(tags))
	trend := make([]string, n)
	vol := make([]string, n)
	for i := 0; i < n; i++ {
		trend[i] = string(tags[i].Trend)
		vol[i] = string(tags[i].Volatility)
	}
	return Breakdown{
		Trend:      accuracyBy(yTrue[:n], yPred[:n], trend),
		Volatility: accuracyBy(yTrue[:n], yPred[:n], vol),
	}
}

// Lookup returns the accuracy for one regime, if present.
func (b Breakdown) Lookup(regime string) (float64, bool) {
	for _, list := range [][]Accuracy{b.Trend, b.Volatility} {
		for _, a := range list {
			if a.Regime == regime {
				return a.Accuracy, true
			}
		}
	}
	return 0, false
}

func accuracyBy(yTrue, yPred []int, groups []string) []Accuracy {
	hits := map[string]int{}
	total := map[string]int{}
	for i, g := range groups {
		total[g]++
		if yTrue[i] == yPred[i] {
			hits[g]++
		}
	}
	out := make([]Accuracy, 0, len(total))
	for g, n := range total {
		out = append(out, Accuracy{Regime: g, Accuracy: float64(hits[g]) / float64(n), Samples: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Regime < out[j].Regime })
	return out
}

type Distribution struct {
	Trend      map[Trend]float64      `json:"trend"`
	Volatility map[Volatility]float64 `json:"volatility"`
	Momentum   map[Momentum]float64   `json:"momentum"`
	MeanScore  float64                `json:"mean_score"`
}

// Summarize reports the share of rows in each regime and the mean composite
// score over rows where it is defined.
func Summarize(tags []Tag) Distribution {
	d := Distribution{
		Trend:      map[Trend]float64{},
		Volatility: map[Volatility]float64{},
		Momentum:   map[Momentum]float64{},
	}
	if len(tags) == 0 {
		return d
	}
	n := float64(len(tags))
	var sum float64
	var defined int
	for _, t := range tags {
		d.Trend[t.Trend] += 1 / n
		d.Volatility[t.Volatility] += 1 / n
		d.Momentum[t.Momentum] += 1 / n
		if !math.IsNaN(t.Score) {
			sum += t.Score
			defined++
		}
	}
	if defined > 0 {
		d.MeanScore = sum / float64(defined)
	}
	return d
}
