package tuning

import (
	"math/rand/v2"

	"quantlab/internal/ml/learner"
)

type FloatRange struct {
	Min, Max float64
}

func (r FloatRange) sample(rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

type IntRange struct {
	Min, Max int
}

func (r IntRange) sample(rng *rand.Rand) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.IntN(r.Max-r.Min+1)
}

// Space is the random-search domain. Bounds are inclusive.
type Space struct {
	LearningRate    FloatRange
	NumLeaves       IntRange
	MaxDepth        IntRange
	MinDataInLeaf   IntRange
	FeatureFraction FloatRange
	BaggingFraction FloatRange
	LambdaL1        FloatRange
	LambdaL2        FloatRange
	MinGain         FloatRange
	ClassPenalty    FloatRange
	ThresholdScale  FloatRange
}

func DefaultSpace() Space {
	return Space{
		LearningRate:    FloatRange{0.01, 0.15},
		NumLeaves:       IntRange{16, 128},
		MaxDepth:        IntRange{3, 9},
		MinDataInLeaf:   IntRange{50, 600},
		FeatureFraction: FloatRange{0.6, 1.0},
		BaggingFraction: FloatRange{0.6, 1.0},
		LambdaL1:        FloatRange{0, 5},
		LambdaL2:        FloatRange{0, 5},
		MinGain:         FloatRange{0, 3},
		ClassPenalty:    FloatRange{0.8, 4.0},
		ThresholdScale:  FloatRange{0.2, 1.5},
	}
}

// Sample draws one candidate on top of base. Draw order is fixed so a seed
// always yields the same sequence.
func (s Space) Sample(rng *rand.Rand, base learner.Params) learner.Params {
	p := base
	p.LearningRate = s.LearningRate.sample(rng)
	p.NumLeaves = s.NumLeaves.sample(rng)
	p.MaxDepth = s.MaxDepth.sample(rng)
	p.MinDataInLeaf = s.MinDataInLeaf.sample(rng)
	p.FeatureFraction = s.FeatureFraction.sample(rng)
	p.BaggingFraction = s.BaggingFraction.sample(rng)
	p.LambdaL1 = s.LambdaL1.sample(rng)
	p.LambdaL2 = s.LambdaL2.sample(rng)
	p.MinGain = s.MinGain.sample(rng)
	p.ClassPenalty = s.ClassPenalty.sample(rng)
	p.ThresholdScale = s.ThresholdScale.sample(rng)
	return p
}
