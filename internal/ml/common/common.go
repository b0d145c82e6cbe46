package common

import (
	"fmt"
	"math"
	"sort"
)

const (
	FamilyLGBM     = "lgbm"
	FamilyXGBoost  = "xgb"
	FamilyLogReg   = "logreg"
	FamilyEnsemble = "ensemble"
	FamilyReturn   = "return"
)

// Families lists every model family the trainer accepts.
var Families = []string{FamilyLGBM, FamilyXGBoost, FamilyLogReg, FamilyEnsemble, FamilyReturn}

// NumClasses is the width of every probability vector: [short, neutral, long].
const NumClasses = 3

// Classes holds the external label for each dense class index.
var Classes = [NumClasses]int{-1, 0, 1}

func IsFamily(name string) bool {
	for _, f := range Families {
		if f == name {
			return true
		}
	}
	return false
}

// LabelIndex maps an external {-1,0,1} label onto the dense {0,1,2} index.
func LabelIndex(label int) int {
	switch {
	case label < 0:
		return 0
	case label > 0:
		return 2
	default:
		return 1
	}
}

// IndexLabel is the inverse of LabelIndex.
func IndexLabel(idx int) int {
	if idx < 0 || idx >= NumClasses {
		return 0
	}
	return Classes[idx]
}

func LabelIndices(labels []int) []int {
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = LabelIndex(l)
	}
	return out
}

func Argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// LabelsFromProba turns probability rows into external labels.
func LabelsFromProba(proba [][]float64) []int {
	out := make([]int, len(proba))
	for i := range proba {
		out[i] = IndexLabel(Argmax(proba[i]))
	}
	return out
}

// Normalize rescales non-negative values to sum to one; an all-zero or
// degenerate input becomes uniform.
func Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		out[i] = v
		sum += v
	}
	if sum <= 0 || math.IsInf(sum, 0) {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Confidence is the winning class probability scaled so that a uniform
// vector scores 0 and a one-hot vector scores 1.
func Confidence(proba []float64) float64 {
	if len(proba) < 2 {
		return 0
	}
	top := proba[Argmax(proba)]
	floor := 1 / float64(len(proba))
	return Clamp01((top - floor) / (1 - floor))
}

func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

// MacroF1 averages per-class F1 over every label present in either input.
// Classes with no predicted or no true rows contribute 0.
func MacroF1(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	labels := map[int]struct{}{}
	tp := map[int]float64{}
	fp := map[int]float64{}
	fn := map[int]float64{}
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		labels[t] = struct{}{}
		labels[p] = struct{}{}
		if t == p {
			tp[t]++
			continue
		}
		fp[p]++
		fn[t]++
	}
	var sum float64
	for l := range labels {
		precision := 0.0
		if tp[l]+fp[l] > 0 {
			precision = tp[l] / (tp[l] + fp[l])
		}
		recall := 0.0
		if tp[l]+fn[l] > 0 {
			recall = tp[l] / (tp[l] + fn[l])
		}
		if precision+recall > 0 {
			sum += 2 * precision * recall / (precision + recall)
		}
	}
	return sum / float64(len(labels))
}

// ClassCounts returns label counts and the sorted distinct labels.
func ClassCounts(labels []int) (map[int]int, []int) {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return counts, keys
}

func DefaultFeatureNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("f%d", i)
	}
	return out
}

func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
