package gbdt

import (
	"context"
	"errors"
	"math"
	"testing"

	"quantlab/internal/domain"
	"quantlab/internal/ml/learner"
)

func TestTrainPredictAndRoundTrip(t *testing.T) {
	train := threeClassData(0)
	model := New([]string{"x1", "x2"}, learner.Params{Rounds: 40, MinDataInLeaf: 5, NumLeaves: 8})
	if err := model.Fit(context.Background(), train, nil, nil); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	points := [][]float64{{-2, -2}, {0, 0}, {2, 2}}
	labels, err := model.Predict(points)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if labels[0] != -1 || labels[1] != 0 || labels[2] != 1 {
		t.Fatalf("expected [-1 0 1], got %v", labels)
	}
	proba, err := model.PredictProba(points)
	if err != nil {
		t.Fatalf("predict proba failed: %v", err)
	}
	for i, row := range proba {
		sum := row[0] + row[1] + row[2]
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d probabilities sum to %.12f", i, sum)
		}
	}

	blob, err := model.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	restored, err := UnmarshalBinary(blob)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	again, err := restored.PredictProba(points)
	if err != nil {
		t.Fatalf("restored predict failed: %v", err)
	}
	for i := range proba {
		for k := range proba[i] {
			if proba[i][k] != again[i][k] {
				t.Fatalf("roundtrip changed proba[%d][%d]: %.12f vs %.12f", i, k, proba[i][k], again[i][k])
			}
		}
	}
}

func TestPredictBeforeFit(t *testing.T) {
	model := New([]string{"x1", "x2"}, learner.Params{})
	if _, err := model.Predict([][]float64{{1, 2}}); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	model := New([]string{"x1", "x2"}, learner.Params{Rounds: 5, MinDataInLeaf: 5})
	if err := model.Fit(context.Background(), threeClassData(0), nil, nil); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if _, err := model.Predict([][]float64{{1}}); !errors.Is(err, domain.ErrFeatureMismatch) {
		t.Fatalf("expected feature mismatch, got %v", err)
	}
}

func TestEarlyStoppingTruncatesRounds(t *testing.T) {
	train := threeClassData(0)
	val := threeClassData(0.05)
	for i := 0; i < len(val.Y); i += 7 {
		val.Y[i] = -val.Y[i]
		if val.Y[i] == 0 {
			val.Y[i] = 1
		}
	}
	model := New([]string{"x1", "x2"}, learner.Params{Rounds: 400, MinDataInLeaf: 5, LearningRate: 0.3, EarlyStoppingRounds: 5})
	if err := model.Fit(context.Background(), train, &val, nil); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if got := model.BestIteration(); got <= 0 || got >= 400 {
		t.Fatalf("expected early stopping to keep between 1 and 399 rounds, got %d", got)
	}
}

func TestFitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := New(nil, learner.Params{Rounds: 10})
	if err := model.Fit(ctx, threeClassData(0), nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestRegressionBoosterTracksTarget(t *testing.T) {
	x := make([][]float64, 0, 200)
	y := make([]float64, 0, 200)
	for i := 0; i < 200; i++ {
		v := float64(i)/100 - 1
		x = append(x, []float64{v})
		y = append(y, 0.5*v)
	}
	b, err := Train(context.Background(), Config{Objective: Regression, Rounds: 100, LearningRate: 0.2, MinDataInLeaf: 5, NumLeaves: 8}, x, y, nil, nil, nil)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if lo, hi := b.Value([]float64{-0.9}), b.Value([]float64{0.9}); lo >= hi || math.Abs(hi-0.45) > 0.05 {
		t.Fatalf("unexpected regression outputs lo=%.4f hi=%.4f", lo, hi)
	}
}

func TestTrainRejectsBadClass(t *testing.T) {
	_, err := Train(context.Background(), Config{NumClass: 3}, [][]float64{{1}, {2}}, []float64{0, 3}, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for out-of-range class")
	}
}

func threeClassData(shift float64) learner.Data {
	d := learner.Data{}
	centers := map[int]float64{-1: -2, 0: 0, 1: 2}
	for _, label := range []int{-1, 0, 1} {
		c := centers[label]
		for i := 0; i < 40; i++ {
			off := float64(i%10)/20 - 0.25 + shift
			d.X = append(d.X, []float64{c + off, c - off})
			d.Y = append(d.Y, label)
		}
	}
	return d
}

func TestMulticlassRoundSharesStartingScores(t *testing.T) {
	// With two classes the gradients taken from one set of starting scores
	// negate each other, so the paired trees of a round cancel.
	x := make([][]float64, 0, 120)
	y := make([]float64, 0, 120)
	for i := 0; i < 120; i++ {
		v := float64(i) / 120
		label := 0.0
		if v > 0.55 || i%7 == 0 {
			label = 1
		}
		x = append(x, []float64{v})
		y = append(y, label)
	}
	cfg := Config{Objective: Multiclass, NumClass: 2, Rounds: 4, LearningRate: 0.3, NumLeaves: 4, MinDataInLeaf: 5}
	b, err := Train(context.Background(), cfg, x, y, nil, nil, nil)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if len(b.Rounds) != 4 {
		t.Fatalf("expected 4 rounds, got %d", len(b.Rounds))
	}
	for r, trees := range b.Rounds {
		for _, row := range x {
			a, c := trees[0].predict(row), trees[1].predict(row)
			if math.Abs(a+c) > 1e-9 {
				t.Fatalf("round %d at %v: class trees %.12f and %.12f do not cancel", r, row, a, c)
			}
		}
	}
}
