package ensemble

import (
	"context"
	"errors"
	"math"
	"testing"

	"quantlab/internal/domain"
	"quantlab/internal/ml/learner"
)

// fixedLearner returns the same probability row for every input.
type fixedLearner struct {
	proba []float64
}

func (f *fixedLearner) Fit(context.Context, learner.Data, *learner.Data, []float64) error {
	return nil
}

func (f *fixedLearner) Predict(x [][]float64) ([]int, error) {
	return nil, errors.New("unused")
}

func (f *fixedLearner) PredictProba(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i := range out {
		out[i] = append([]float64(nil), f.proba...)
	}
	return out, nil
}

func (f *fixedLearner) FeatureNames() []string         { return []string{"x"} }
func (f *fixedLearner) Family() string                 { return "fixed" }
func (f *fixedLearner) MarshalBinary() ([]byte, error) { return []byte(`{}`), nil }

func TestWeightsFromScores(t *testing.T) {
	w := WeightsFromScores([]float64{0.9, 0.5, 0.1}, 2)
	want := []float64{0.757, 0.234, 0.009}
	sum := 0.0
	for i := range w {
		if w[i] < 0 {
			t.Fatalf("negative weight %v", w)
		}
		if math.Abs(w[i]-want[i]) > 1e-3 {
			t.Fatalf("weight %d: expected %.3f, got %.4f", i, want[i], w[i])
		}
		sum += w[i]
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights sum to %.12f", sum)
	}
}

func TestWeightsFromZeroScoresAreEqual(t *testing.T) {
	w := WeightsFromScores([]float64{0, 0, 0, 0}, 2)
	for _, v := range w {
		if v != 0.25 {
			t.Fatalf("expected equal weights, got %v", w)
		}
	}
}

func TestStrategies(t *testing.T) {
	members := func() []learner.Learner {
		return []learner.Learner{
			&fixedLearner{proba: []float64{0.1, 0.2, 0.7}},
			&fixedLearner{proba: []float64{0.6, 0.3, 0.1}},
			&fixedLearner{proba: []float64{0.2, 0.2, 0.6}},
		}
	}
	x := [][]float64{{0}}

	avg, _ := New(members(), Config{Strategy: StrategyAverage})
	p, err := avg.PredictProba(x)
	if err != nil {
		t.Fatalf("average predict failed: %v", err)
	}
	if math.Abs(p[0][2]-(0.7+0.1+0.6)/3) > 1e-12 {
		t.Fatalf("unexpected average %v", p[0])
	}

	vote, _ := New(members(), Config{Strategy: StrategyVoting})
	p, err = vote.PredictProba(x)
	if err != nil {
		t.Fatalf("voting predict failed: %v", err)
	}
	if math.Abs(p[0][2]-2.0/3) > 1e-12 || math.Abs(p[0][0]-1.0/3) > 1e-12 {
		t.Fatalf("unexpected votes %v", p[0])
	}
	labels, _ := vote.Predict(x)
	if labels[0] != 1 {
		t.Fatalf("expected majority long, got %v", labels)
	}
}

func TestWeightedRequiresComputeWeights(t *testing.T) {
	c, err := New([]learner.Learner{&fixedLearner{proba: []float64{0, 0, 1}}}, Config{Strategy: StrategyWeighted})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if _, err := c.PredictProba([][]float64{{0}}); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if len(c.Weights()) != 0 {
		t.Fatalf("expected no weights before ComputeWeights, got %v", c.Weights())
	}
}

func TestComputeWeightsPrefersAccurateMember(t *testing.T) {
	good := &fixedLearner{proba: []float64{0, 0.1, 0.9}}
	bad := &fixedLearner{proba: []float64{0.9, 0.1, 0}}
	c, _ := New([]learner.Learner{good, bad}, Config{Strategy: StrategyWeighted})
	x := [][]float64{{0}, {0}, {0}, {0}}
	y := []int{1, 1, 1, 0}
	scores, err := c.ComputeWeights(context.Background(), x, y)
	if err != nil {
		t.Fatalf("compute weights failed: %v", err)
	}
	if scores[0] <= scores[1] {
		t.Fatalf("expected long member to score higher, got %v", scores)
	}
	w := c.Weights()
	if w[0] <= w[1] || math.Abs(w[0]+w[1]-1) > 1e-9 {
		t.Fatalf("unexpected weights %v", w)
	}
	w[0] = 42
	if c.Weights()[0] == 42 {
		t.Fatal("Weights must return a copy")
	}
	labels, err := c.Predict(x[:1])
	if err != nil || labels[0] != 1 {
		t.Fatalf("expected long prediction, got %v err=%v", labels, err)
	}
}

// metaRecorder stands in for the stacking meta-learner and keeps what Fit
// received.
type metaRecorder struct {
	fixedLearner
	train learner.Data
	val   *learner.Data
}

func (m *metaRecorder) Fit(_ context.Context, train learner.Data, val *learner.Data, _ []float64) error {
	m.train, m.val = train, val
	return nil
}

func stackingRows(n int) ([][]float64, []int) {
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		x[i] = []float64{float64(i)}
		y[i] = 1
		if i%3 == 0 {
			y[i] = -1
		}
	}
	return x, y
}

func TestStackingMetaLearnerTrainsOnTrainingPredictions(t *testing.T) {
	rec := &metaRecorder{fixedLearner: fixedLearner{proba: []float64{0.3, 0.3, 0.4}}}
	prev := newMetaLearner
	newMetaLearner = func(int) learner.Learner { return rec }
	t.Cleanup(func() { newMetaLearner = prev })

	c, _ := New([]learner.Learner{
		&fixedLearner{proba: []float64{0.2, 0.3, 0.5}},
		&fixedLearner{proba: []float64{0.1, 0.6, 0.3}},
	}, Config{Strategy: StrategyStacking})
	trainX, trainY := stackingRows(60)
	valX, valY := stackingRows(24)
	if err := c.Fit(context.Background(), learner.Data{X: trainX, Y: trainY}, &learner.Data{X: valX, Y: valY}, nil); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	if len(rec.train.X) != 60 || len(rec.train.Y) != 60 {
		t.Fatalf("meta-learner should train on the 60 training rows, got %d", len(rec.train.X))
	}
	if len(rec.train.X[0]) != 6 || rec.train.X[0][1] != 0.3 || rec.train.X[0][4] != 0.6 {
		t.Fatalf("unexpected training meta-features %v", rec.train.X[0])
	}
	if rec.val == nil || len(rec.val.X) != 24 || len(rec.val.Y) != 24 {
		t.Fatalf("meta-learner should early-stop on the 24 validation rows, got %+v", rec.val)
	}
	for i := range trainY {
		if rec.train.Y[i] != trainY[i] {
			t.Fatalf("training label %d: expected %d, got %d", i, trainY[i], rec.train.Y[i])
		}
	}
	if _, err := c.PredictProba(valX[:1]); err != nil {
		t.Fatalf("stacking predict failed: %v", err)
	}
}

func TestStackingFitsMetaLearner(t *testing.T) {
	c, _ := New([]learner.Learner{
		&fixedLearner{proba: []float64{0.2, 0.3, 0.5}},
	}, Config{Strategy: StrategyStacking})
	if _, err := c.PredictProba([][]float64{{0}}); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition error before meta fit, got %v", err)
	}
	trainX, trainY := stackingRows(60)
	valX, valY := stackingRows(30)
	if _, err := c.ComputeWeights(context.Background(), valX, valY); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition error without training meta-features, got %v", err)
	}
	if err := c.Fit(context.Background(), learner.Data{X: trainX, Y: trainY}, &learner.Data{X: valX, Y: valY}, nil); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	p, err := c.PredictProba(valX[:2])
	if err != nil {
		t.Fatalf("stacking predict failed: %v", err)
	}
	if sum := p[0][0] + p[0][1] + p[0][2]; math.Abs(sum-1) > 1e-9 {
		t.Fatalf("stacked probabilities sum to %.12f", sum)
	}
	if p[0][2] <= p[0][0] {
		t.Fatalf("expected meta-learner to follow the training prior, got %v", p[0])
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error for empty ensemble")
	}
	if _, err := New([]learner.Learner{&fixedLearner{}}, Config{Strategy: "median"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestDirection(t *testing.T) {
	if Direction([]float64{0.1, 0.1, 0.8}) != domain.DirectionLong {
		t.Fatal("expected long")
	}
	if Direction([]float64{0.8, 0.1, 0.1}) != domain.DirectionShort {
		t.Fatal("expected short")
	}
	if Direction([]float64{0.2, 0.6, 0.2}) != domain.DirectionHold {
		t.Fatal("expected hold")
	}
}
