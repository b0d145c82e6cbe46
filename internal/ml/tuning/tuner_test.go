package tuning

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"quantlab/internal/ml/balance"
	"quantlab/internal/ml/common"
	"quantlab/internal/ml/learner"
)

// thresholdLearner predicts the sign of feature 0 when the learning rate is
// above cut and always predicts neutral otherwise.
type thresholdLearner struct {
	params learner.Params
	cut    float64
}

func (l *thresholdLearner) Fit(context.Context, learner.Data, *learner.Data, []float64) error {
	return nil
}

func (l *thresholdLearner) Predict(x [][]float64) ([]int, error) {
	out := make([]int, len(x))
	if l.params.LearningRate <= l.cut {
		return out, nil
	}
	for i := range x {
		switch {
		case x[i][0] > 0.1:
			out[i] = 1
		case x[i][0] < -0.1:
			out[i] = -1
		}
	}
	return out, nil
}

func (l *thresholdLearner) PredictProba(x [][]float64) ([][]float64, error) {
	return nil, errors.New("unused")
}
func (l *thresholdLearner) FeatureNames() []string         { return []string{"f0"} }
func (l *thresholdLearner) Family() string                 { return "stub" }
func (l *thresholdLearner) MarshalBinary() ([]byte, error) { return []byte(`{}`), nil }

type countingRecorder struct{ n atomic.Int64 }

func (c *countingRecorder) RecordTuningTrial() { c.n.Add(1) }

func syntheticData(n int, seed uint64) learner.Data {
	rng := rand.New(rand.NewPCG(seed, seed))
	d := learner.Data{X: make([][]float64, n), Y: make([]int, n), Returns: make([]float64, n)}
	for i := 0; i < n; i++ {
		v := rng.Float64()*2 - 1
		d.X[i] = []float64{v, rng.Float64()}
		switch {
		case v > 0.1:
			d.Y[i] = 1
		case v < -0.1:
			d.Y[i] = -1
		}
		d.Returns[i] = v * 0.02
	}
	return d
}

func newTestTuner(rec trialRecorder) *Tuner {
	return NewTuner(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), rec)
}

func TestSpaceSampleWithinBounds(t *testing.T) {
	space := DefaultSpace()
	rng := rand.New(rand.NewPCG(1, 1))
	for i := 0; i < 500; i++ {
		p := space.Sample(rng, learner.Params{Rounds: 77})
		if p.Rounds != 77 {
			t.Fatalf("base params lost: %+v", p)
		}
		if p.LearningRate < 0.01 || p.LearningRate > 0.15 {
			t.Fatalf("learning rate out of range: %v", p.LearningRate)
		}
		if p.NumLeaves < 16 || p.NumLeaves > 128 || p.MaxDepth < 3 || p.MaxDepth > 9 {
			t.Fatalf("tree shape out of range: %+v", p)
		}
		if p.MinDataInLeaf < 50 || p.MinDataInLeaf > 600 {
			t.Fatalf("min_data_in_leaf out of range: %d", p.MinDataInLeaf)
		}
		if p.ClassPenalty < 0.8 || p.ClassPenalty > 4 || p.ThresholdScale < 0.2 || p.ThresholdScale > 1.5 {
			t.Fatalf("penalty or scale out of range: %+v", p)
		}
	}
}

func TestRunPicksBestTrialDeterministically(t *testing.T) {
	train := syntheticData(300, 1)
	val := syntheticData(200, 2)
	factory := func(p learner.Params) (learner.Learner, error) {
		return &thresholdLearner{params: p, cut: 0.08}, nil
	}
	rec := &countingRecorder{}
	tuner := newTestTuner(rec)
	cfg := Config{Family: common.FamilyLGBM, Trials: 12, Parallelism: 3, Seed: 7}

	first, err := tuner.Run(context.Background(), factory, train, val, nil, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(first.Trials) != 12 {
		t.Fatalf("expected 12 trials, got %d", len(first.Trials))
	}
	if rec.n.Load() != 12 {
		t.Fatalf("expected 12 recorded trials, got %d", rec.n.Load())
	}
	if first.Best.LearningRate <= 0.08 {
		t.Fatalf("expected a winning learning rate above the cut, got %v", first.Best.LearningRate)
	}
	if first.BestScore < 0.99 {
		t.Fatalf("expected a perfect validation score, got %v", first.BestScore)
	}
	for _, tr := range first.Trials {
		if tr.Objective == nil {
			t.Fatalf("classifier trial %d has no objective breakdown", tr.Index)
		}
	}

	second, err := tuner.Run(context.Background(), factory, train, val, nil, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Best != first.Best {
		t.Fatalf("same seed produced different best params")
	}
}

// countingLearner records the class counts and weight count of every Fit.
type countingLearner struct {
	thresholdLearner
	mu      *sync.Mutex
	counts  *[]map[int]int
	weights *[]int
}

func (l *countingLearner) Fit(_ context.Context, train learner.Data, _ *learner.Data, w []float64) error {
	counts, _ := common.ClassCounts(train.Y)
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.counts = append(*l.counts, counts)
	*l.weights = append(*l.weights, len(w))
	return nil
}

func TestRunTrialsFitOnBalancedRows(t *testing.T) {
	train := learner.Data{X: make([][]float64, 100), Y: make([]int, 100), Returns: make([]float64, 100)}
	for i := range train.X {
		train.X[i] = []float64{0, 0}
		switch {
		case i < 10:
			train.Y[i] = 1
		case i < 20:
			train.Y[i] = -1
		}
	}
	val := syntheticData(60, 3)

	var (
		mu      sync.Mutex
		counts  []map[int]int
		weights []int
	)
	factory := func(p learner.Params) (learner.Learner, error) {
		return &countingLearner{thresholdLearner: thresholdLearner{params: p}, mu: &mu, counts: &counts, weights: &weights}, nil
	}
	cfg := Config{Family: common.FamilyLGBM, Trials: 4, Parallelism: 2, Balance: balance.Options{Multiplier: 1.4, Seed: 42}}
	if _, err := newTestTuner(nil).Run(context.Background(), factory, train, val, nil, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	minority := 10 * (1 + balance.Repeat(80, 10, 1.4))
	if len(counts) != 4 {
		t.Fatalf("expected 4 fits, got %d", len(counts))
	}
	for i, c := range counts {
		if c[0] != 80 || c[1] != minority || c[-1] != minority {
			t.Fatalf("trial %d trained on unbalanced rows: %v", i, c)
		}
		if weights[i] != 80+2*minority {
			t.Fatalf("trial %d weights not computed on balanced rows: %d", i, weights[i])
		}
	}
	if train.Y[0] != 1 || len(train.Y) != 100 {
		t.Fatal("caller's training rows were modified")
	}
}

func TestRunAllTrialsFail(t *testing.T) {
	factory := func(learner.Params) (learner.Learner, error) {
		return nil, errors.New("boom")
	}
	_, err := newTestTuner(nil).Run(context.Background(), factory, syntheticData(50, 1), syntheticData(50, 2), nil, Config{Trials: 3})
	if err == nil {
		t.Fatalf("expected error when every trial fails")
	}
}

func TestRunRequiresValidation(t *testing.T) {
	factory := func(p learner.Params) (learner.Learner, error) { return &thresholdLearner{params: p}, nil }
	_, err := newTestTuner(nil).Run(context.Background(), factory, syntheticData(50, 1), learner.Data{}, nil, Config{Trials: 2})
	if err == nil {
		t.Fatalf("expected error without validation data")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	factory := func(p learner.Params) (learner.Learner, error) { return &thresholdLearner{params: p}, nil }
	_, err := newTestTuner(nil).Run(ctx, factory, syntheticData(50, 1), syntheticData(50, 2), nil, Config{Trials: 4})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunReturnFamilyScoresBySharpe(t *testing.T) {
	train := syntheticData(400, 3)
	val := syntheticData(200, 4)
	factory := func(p learner.Params) (learner.Learner, error) {
		return &thresholdLearner{params: p, cut: -1}, nil
	}
	res, err := newTestTuner(nil).Run(context.Background(), factory, train, val, nil, Config{Family: common.FamilyReturn, Trials: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.BestScore <= 0 {
		t.Fatalf("expected positive sharpe for a sign-following strategy, got %v", res.BestScore)
	}
	if res.Trials[0].Objective != nil {
		t.Fatalf("return trials should not carry a classifier objective")
	}
}
