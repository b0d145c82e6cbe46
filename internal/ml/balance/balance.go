package balance

import (
	"math"
	"math/rand/v2"

	"quantlab/internal/ml/common"
)

const (
	DefaultMultiplier = 1.4
	DefaultSeed       = 42
)

type Options struct {
	Multiplier float64
	Seed       uint64
}

func DefaultOptions() Options {
	return Options{Multiplier: DefaultMultiplier, Seed: DefaultSeed}
}

// Weights returns inverse-frequency class weights N / (K * count).
func Weights(y []int) map[int]float64 {
	counts, classes := common.ClassCounts(y)
	out := make(map[int]float64, len(classes))
	if len(y) == 0 {
		return out
	}
	n := float64(len(y))
	k := float64(len(classes))
	for _, c := range classes {
		out[c] = n / (k * float64(counts[c]))
	}
	return out
}

// SampleWeights expands Weights into one weight per row, scaled by penalty.
// A non-positive penalty is treated as 1.
func SampleWeights(y []int, penalty float64) []float64 {
	if penalty <= 0 {
		penalty = 1
	}
	w := Weights(y)
	out := make([]float64, len(y))
	for i, label := range y {
		out[i] = w[label] * penalty
	}
	return out
}

// Balance oversamples every minority class by duplicating its rows, then
// shuffles once with a fixed seed. fwd may be nil; when given it is carried
// alongside. Inputs are never modified.
func Balance(x [][]float64, y []int, fwd []float64, opts Options) ([][]float64, []int, []float64) {
	if opts.Multiplier <= 0 {
		opts.Multiplier = DefaultMultiplier
	}
	counts, classes := common.ClassCounts(y)
	maxCount := 0
	for _, c := range classes {
		if counts[c] > maxCount {
			maxCount = counts[c]
		}
	}

	byClass := make(map[int][]int, len(classes))
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}

	order := make([]int, 0, len(y))
	for _, c := range classes {
		rows := byClass[c]
		order = append(order, rows...)
		if counts[c] >= maxCount {
			continue
		}
		for r := 0; r < Repeat(maxCount, counts[c], opts.Multiplier); r++ {
			order = append(order, rows...)
		}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	outX := make([][]float64, len(order))
	outY := make([]int, len(order))
	var outFwd []float64
	if fwd != nil {
		outFwd = make([]float64, len(order))
	}
	for i, idx := range order {
		outX[i] = x[idx]
		outY[i] = y[idx]
		if outFwd != nil {
			outFwd[i] = fwd[idx]
		}
	}
	return outX, outY, outFwd
}

// Repeat is the number of extra copies made of a class with count rows when
// the majority class has maxCount rows.
func Repeat(maxCount, count int, multiplier float64) int {
	if count <= 0 || count >= maxCount {
		return 0
	}
	r := int(math.Floor((float64(maxCount)/float64(count) - 1) * multiplier))
	if r < 1 {
		r = 1
	}
	return r
}
