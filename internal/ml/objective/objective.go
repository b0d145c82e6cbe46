package objective

import (
	"sort"

	"quantlab/internal/ml/common"
	"quantlab/internal/ml/regime"
)

type Config struct {
	RegimeWeight     float64
	MinRegimeSamples int
}

func DefaultConfig() Config {
	return Config{RegimeWeight: 0.6, MinRegimeSamples: 50}
}

type Result struct {
	Overall        float64            `json:"overall"`
	Composite      float64            `json:"composite"`
	MinAccuracy    float64            `json:"min_accuracy"`
	HarmonicMean   float64            `json:"harmonic_mean"`
	RegimeAccuracy map[string]float64 `json:"regime_accuracy"`
}

// Score blends validation macro-F1 with the worst-case and harmonic-mean
// accuracy across regimes that have enough rows. A model that collapses in
// any one regime is pulled down hard.
func Score(yTrue, yPred []int, regimes []string, cfg Config) Result {
	if cfg.RegimeWeight < 0 || cfg.RegimeWeight > 1 {
		cfg.RegimeWeight = DefaultConfig().RegimeWeight
	}
	if cfg.MinRegimeSamples <= 0 {
		cfg.MinRegimeSamples = DefaultConfig().MinRegimeSamples
	}

	overall := common.MacroF1(yTrue, yPred)
	res := Result{Overall: overall, Composite: overall, RegimeAccuracy: map[string]float64{}}
	if len(regimes) != len(yTrue) || len(yTrue) != len(yPred) {
		return res
	}

	rows := map[string][]int{}
	for i, r := range regimes {
		rows[r] = append(rows[r], i)
	}
	names := make([]string, 0, len(rows))
	for r := range rows {
		names = append(names, r)
	}
	sort.Strings(names)

	accs := make([]float64, 0, len(names))
	for _, r := range names {
		idx := rows[r]
		if len(idx) < cfg.MinRegimeSamples {
			continue
		}
		hits := 0
		for _, i := range idx {
			if yTrue[i] == yPred[i] {
				hits++
			}
		}
		acc := float64(hits) / float64(len(idx))
		res.RegimeAccuracy[r] = acc
		accs = append(accs, acc)
	}
	if len(accs) == 0 {
		return res
	}

	res.MinAccuracy = accs[0]
	for _, a := range accs[1:] {
		if a < res.MinAccuracy {
			res.MinAccuracy = a
		}
	}
	res.HarmonicMean = harmonicMean(accs)
	w := cfg.RegimeWeight
	res.Composite = (1-w)*overall + w*0.5*(res.MinAccuracy+res.HarmonicMean)
	return res
}

func harmonicMean(values []float64) float64 {
	var inv float64
	for _, v := range values {
		if v <= 0 {
			return 0
		}
		inv += 1 / v
	}
	return float64(len(values)) / inv
}

// RegimeLabels extracts the trend regime of each tag as the grouping array
// Score expects.
func RegimeLabels(tags []regime.Tag) []string {
	return regime.TrendLabels(tags)
}
