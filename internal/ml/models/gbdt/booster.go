package gbdt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

type Objective string

const (
	Multiclass Objective = "multiclass"
	Regression Objective = "regression"
)

const (
	defaultMaxBin     = 63
	minSumHessian     = 1e-3
	probabilityFloor  = 1e-15
	defaultRounds     = 300
	defaultLeaves     = 31
	defaultLR         = 0.05
	defaultMinInLeaf  = 20
	defaultMaxDepth   = -1
	defaultEarlyStops = 50
)

// Config holds booster hyperparameters. Non-positive fractions and counts
// select the defaults; MaxDepth <= 0 means unlimited.
type Config struct {
	Objective           Objective
	NumClass            int
	Rounds              int
	LearningRate        float64
	NumLeaves           int
	MaxDepth            int
	MinDataInLeaf       int
	FeatureFraction     float64
	BaggingFraction     float64
	LambdaL1            float64
	LambdaL2            float64
	MinGain             float64
	EarlyStoppingRounds int
	MaxBin              int
	Seed                uint64
}

func (c Config) withDefaults() Config {
	if c.Objective == "" {
		c.Objective = Multiclass
	}
	if c.Objective == Regression {
		c.NumClass = 1
	} else if c.NumClass < 2 {
		c.NumClass = 3
	}
	if c.Rounds <= 0 {
		c.Rounds = defaultRounds
	}
	if c.LearningRate <= 0 {
		c.LearningRate = defaultLR
	}
	if c.NumLeaves < 2 {
		c.NumLeaves = defaultLeaves
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = defaultMaxDepth
	}
	if c.MinDataInLeaf <= 0 {
		c.MinDataInLeaf = defaultMinInLeaf
	}
	if c.FeatureFraction <= 0 || c.FeatureFraction > 1 {
		c.FeatureFraction = 1
	}
	if c.BaggingFraction <= 0 || c.BaggingFraction > 1 {
		c.BaggingFraction = 1
	}
	if c.LambdaL1 < 0 {
		c.LambdaL1 = 0
	}
	if c.LambdaL2 < 0 {
		c.LambdaL2 = 0
	}
	if c.MinGain < 0 {
		c.MinGain = 0
	}
	if c.EarlyStoppingRounds < 0 {
		c.EarlyStoppingRounds = 0
	}
	if c.MaxBin < 2 || c.MaxBin > 255 {
		c.MaxBin = defaultMaxBin
	}
	return c
}

// Node is one tree node. Leaves have Left == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) predict(row []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		v := row[n.Feature]
		if math.IsNaN(v) || v <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Booster is a fitted ensemble of trees. Rounds[r][k] is the tree for class k
// in boosting round r.
type Booster struct {
	Objective     Objective `json:"objective"`
	NumClass      int       `json:"num_class"`
	NumFeatures   int       `json:"num_features"`
	Init          []float64 `json:"init"`
	Rounds        [][]Tree  `json:"rounds"`
	BestIteration int       `json:"best_iteration"`
	BestScore     float64   `json:"best_score"`
}

// Raw returns the untransformed scores for one row.
func (b *Booster) Raw(row []float64) []float64 {
	out := make([]float64, b.NumClass)
	copy(out, b.Init)
	for _, round := range b.Rounds {
		for k, tree := range round {
			out[k] += tree.predict(row)
		}
	}
	return out
}

// Proba returns softmax class probabilities for a multiclass booster.
func (b *Booster) Proba(row []float64) []float64 {
	return softmax(b.Raw(row))
}

// Value returns the regression output for one row.
func (b *Booster) Value(row []float64) float64 {
	return b.Raw(row)[0]
}

// Train fits a booster. For Multiclass, y holds dense class indices in
// [0, NumClass); for Regression, y holds targets. w may be nil.
func Train(ctx context.Context, cfg Config, x [][]float64, y []float64, w []float64, valX [][]float64, valY []float64) (*Booster, error) {
	cfg = cfg.withDefaults()
	if len(x) == 0 || len(x) != len(y) {
		return nil, errors.New("invalid training dataset")
	}
	if w != nil && len(w) != len(x) {
		return nil, fmt.Errorf("sample weights have %d rows, data has %d", len(w), len(x))
	}
	if len(valX) != len(valY) {
		return nil, errors.New("invalid validation dataset")
	}
	nFeat := len(x[0])
	if nFeat == 0 {
		return nil, errors.New("empty feature vectors")
	}
	if w == nil {
		w = make([]float64, len(x))
		for i := range w {
			w[i] = 1
		}
	}
	if cfg.Objective == Multiclass {
		for i, v := range y {
			if k := int(v); k < 0 || k >= cfg.NumClass || float64(k) != v {
				return nil, fmt.Errorf("row %d has class %v outside [0,%d)", i, v, cfg.NumClass)
			}
		}
	}

	bins := buildBins(x, cfg.MaxBin)
	binned := bins.apply(x)
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	b := &Booster{
		Objective:   cfg.Objective,
		NumClass:    cfg.NumClass,
		NumFeatures: nFeat,
		Init:        initScore(cfg, y, w),
	}
	n := len(x)
	K := cfg.NumClass
	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = append([]float64(nil), b.Init...)
	}
	var valScores [][]float64
	useVal := len(valX) > 0 && cfg.EarlyStoppingRounds > 0
	if useVal {
		valScores = make([][]float64, len(valX))
		for i := range valScores {
			valScores[i] = append([]float64(nil), b.Init...)
		}
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	best := math.Inf(1)
	bestRound := 0
	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := bagRows(rng, n, cfg.BaggingFraction)
		probs := roundProbabilities(cfg.Objective, scores)
		trees := make([]Tree, K)
		for k := 0; k < K; k++ {
			gradients(cfg.Objective, k, scores, probs, y, w, grad, hess)
			feats := pickFeatures(rng, nFeat, cfg.FeatureFraction)
			g := &grower{cfg: cfg, bins: bins, binned: binned, grad: grad, hess: hess, feats: feats}
			trees[k] = g.grow(rows)
			for i := range x {
				scores[i][k] += trees[k].predict(x[i])
			}
			for i := range valScores {
				valScores[i][k] += trees[k].predict(valX[i])
			}
		}
		b.Rounds = append(b.Rounds, trees)

		if !useVal {
			continue
		}
		loss := evalLoss(cfg.Objective, valScores, valY)
		if loss < best-1e-12 {
			best = loss
			bestRound = round + 1
		} else if round+1-bestRound >= cfg.EarlyStoppingRounds {
			break
		}
	}
	if useVal && bestRound > 0 {
		b.Rounds = b.Rounds[:bestRound]
		b.BestIteration = bestRound
		b.BestScore = best
	} else {
		b.BestIteration = len(b.Rounds)
	}
	return b, nil
}

func initScore(cfg Config, y, w []float64) []float64 {
	if cfg.Objective == Regression {
		var sw, swy float64
		for i := range y {
			sw += w[i]
			swy += w[i] * y[i]
		}
		if sw == 0 {
			return []float64{0}
		}
		return []float64{swy / sw}
	}
	counts := make([]float64, cfg.NumClass)
	total := 0.0
	for i := range y {
		counts[int(y[i])] += w[i]
		total += w[i]
	}
	out := make([]float64, cfg.NumClass)
	for k := range counts {
		p := probabilityFloor
		if total > 0 {
			p = math.Max(counts[k]/total, probabilityFloor)
		}
		out[k] = math.Log(p)
	}
	return out
}

// roundProbabilities snapshots the class probabilities at the start of a
// round. Every class tree of the round takes its gradients from it.
func roundProbabilities(obj Objective, scores [][]float64) [][]float64 {
	if obj == Regression {
		return nil
	}
	out := make([][]float64, len(scores))
	for i := range scores {
		out[i] = softmax(scores[i])
	}
	return out
}

func gradients(obj Objective, k int, scores, probs [][]float64, y, w, grad, hess []float64) {
	if obj == Regression {
		for i := range scores {
			grad[i] = (scores[i][0] - y[i]) * w[i]
			hess[i] = w[i]
		}
		return
	}
	for i := range probs {
		p := probs[i][k]
		target := 0.0
		if int(y[i]) == k {
			target = 1
		}
		grad[i] = (p - target) * w[i]
		hess[i] = math.Max(p*(1-p), probabilityFloor) * w[i]
	}
}

func evalLoss(obj Objective, scores [][]float64, y []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	loss := 0.0
	for i := range scores {
		if obj == Regression {
			d := scores[i][0] - y[i]
			loss += d * d
			continue
		}
		p := softmax(scores[i])[int(y[i])]
		loss -= math.Log(math.Max(p, probabilityFloor))
	}
	return loss / float64(len(scores))
}

func bagRows(rng *rand.Rand, n int, frac float64) []int {
	rows := make([]int, 0, n)
	if frac >= 1 {
		for i := 0; i < n; i++ {
			rows = append(rows, i)
		}
		return rows
	}
	for i := 0; i < n; i++ {
		if rng.Float64() < frac {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.IntN(n))
	}
	return rows
}

func pickFeatures(rng *rand.Rand, n int, frac float64) []int {
	perm := rng.Perm(n)
	want := int(math.Ceil(float64(n) * frac))
	if want < 1 {
		want = 1
	}
	if want > n {
		want = n
	}
	out := perm[:want]
	sort.Ints(out)
	return out
}

func softmax(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	maxV := raw[0]
	for _, v := range raw[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum := 0.0
	for i, v := range raw {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
