// Package labels derives forward returns and direction labels from closes.
// Row t only ever looks at closes t+1..t+H.
package labels

import (
	"fmt"
	"math"
	"math/rand/v2"

	"quantlab/internal/domain"
)

const (
	DefaultMulticlassHorizon = 30
	DefaultBinaryHorizon     = 10
	DefaultNeutralThreshold  = 0.005
	DefaultStrongThreshold   = 0.015
	DefaultBinaryThreshold   = 0.02
	DefaultMaxStrongRatio    = 0.15
	DefaultSeed              = 42
)

type Config struct {
	Scheme           domain.LabelScheme
	Horizon          int
	NeutralThreshold float64
	StrongThreshold  float64
	BinaryThreshold  float64
	MaxStrongRatio   float64
	Seed             uint64
}

func DefaultConfig(scheme domain.LabelScheme) Config {
	cfg := Config{
		Scheme:           scheme,
		Horizon:          DefaultMulticlassHorizon,
		NeutralThreshold: DefaultNeutralThreshold,
		StrongThreshold:  DefaultStrongThreshold,
		BinaryThreshold:  DefaultBinaryThreshold,
		MaxStrongRatio:   DefaultMaxStrongRatio,
		Seed:             DefaultSeed,
	}
	if scheme == domain.LabelsBinary {
		cfg.Horizon = DefaultBinaryHorizon
	}
	return cfg
}

// Result is aligned with the input closes. Keep is false for rows without a
// full horizon and, under the binary scheme, for neutral rows.
type Result struct {
	Labels  []int
	Forward []float64
	Keep    []bool
}

// Kept returns the indices of rows that carry a usable label.
func (r Result) Kept() []int {
	out := make([]int, 0, len(r.Keep))
	for i, k := range r.Keep {
		if k {
			out = append(out, i)
		}
	}
	return out
}

// ForwardReturns computes close[t+h]/close[t]-1, NaN where undefined.
func ForwardReturns(closes []float64, h int) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		j := i + h
		if h <= 0 || j >= len(closes) || closes[i] == 0 || math.IsNaN(closes[i]) || math.IsNaN(closes[j]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[j]/closes[i] - 1
	}
	return out
}

func Apply(closes []float64, cfg Config) (Result, error) {
	if cfg.Horizon <= 0 {
		return Result{}, fmt.Errorf("horizon must be positive, got %d: %w", cfg.Horizon, domain.ErrPrecondition)
	}
	switch cfg.Scheme {
	case domain.LabelsMulticlass, "":
		return multiclass(closes, cfg), nil
	case domain.LabelsBinary:
		return binary(closes, cfg), nil
	}
	return Result{}, fmt.Errorf("unknown label scheme %q", cfg.Scheme)
}

func multiclass(closes []float64, cfg Config) Result {
	fwd := ForwardReturns(closes, cfg.Horizon)
	res := Result{Labels: make([]int, len(closes)), Forward: fwd, Keep: make([]bool, len(closes))}
	var strong []int
	labeled := 0
	for i, r := range fwd {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		res.Keep[i] = true
		labeled++
		switch {
		case math.Abs(r) < cfg.NeutralThreshold:
		case r >= cfg.StrongThreshold:
			res.Labels[i] = 1
		case r <= -cfg.StrongThreshold:
			res.Labels[i] = -1
		}
		if res.Labels[i] != 0 {
			strong = append(strong, i)
		}
	}
	if cfg.MaxStrongRatio > 0 && labeled > 0 && float64(len(strong))/float64(labeled) > cfg.MaxStrongRatio {
		keepN := int(float64(labeled) * cfg.MaxStrongRatio)
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
		perm := rng.Perm(len(strong))
		for _, p := range perm[keepN:] {
			res.Labels[strong[p]] = 0
		}
	}
	return res
}

func binary(closes []float64, cfg Config) Result {
	fwd := ForwardReturns(closes, cfg.Horizon)
	res := Result{Labels: make([]int, len(closes)), Forward: fwd, Keep: make([]bool, len(closes))}
	for i, r := range fwd {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		switch {
		case r >= cfg.BinaryThreshold:
			res.Labels[i] = 1
			res.Keep[i] = true
		case r <= -cfg.BinaryThreshold:
			res.Labels[i] = -1
			res.Keep[i] = true
		}
	}
	return res
}
