package logreg

import (
	"context"
	"errors"
	"math"
	"testing"

	"quantlab/internal/domain"
	"quantlab/internal/ml/learner"
)

func TestTrainPredictAndRoundTrip(t *testing.T) {
	model := New([]string{"x1", "x2"}, DefaultTrainOptions())
	if err := model.Fit(context.Background(), separableData(), nil, nil); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	points := [][]float64{{-3, -3}, {0, 0}, {3, 3}}
	labels, err := model.Predict(points)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if labels[0] != -1 || labels[2] != 1 {
		t.Fatalf("expected extremes to map to -1 and 1, got %v", labels)
	}
	proba, err := model.PredictProba(points)
	if err != nil {
		t.Fatalf("predict proba failed: %v", err)
	}
	if proba[2][2] <= 0.5 {
		t.Fatalf("expected high sample long prob > 0.5, got %.4f", proba[2][2])
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
			if diff := math.Abs(again[i][k] - proba[i][k]); diff > 1e-12 {
				t.Fatalf("roundtrip changed prediction by %.8f", diff)
			}
		}
	}
}

func TestSampleWeightsShiftDecision(t *testing.T) {
	d := learner.Data{
		X: [][]float64{{0}, {0}, {0}, {0}},
		Y: []int{-1, -1, 1, 1},
	}
	model := New(nil, TrainOptions{LearningRate: 0.5, Epochs: 300})
	if err := model.Fit(context.Background(), d, nil, []float64{1, 1, 5, 5}); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	labels, err := model.Predict([][]float64{{0}})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if labels[0] != 1 {
		t.Fatalf("expected heavier class to win, got %d", labels[0])
	}
}

func TestPredictBeforeFit(t *testing.T) {
	if _, err := New(nil, DefaultTrainOptions()).PredictProba([][]float64{{1}}); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestUnmarshalRejectsInvalidArtifact(t *testing.T) {
	if _, err := UnmarshalBinary([]byte(`{"weights":[[1]],"bias":[0]}`)); err == nil {
		t.Fatal("expected invalid artifact error")
	}
}

func separableData() learner.Data {
	d := learner.Data{}
	for i := 0; i < 40; i++ {
		d.X = append(d.X, []float64{-1.5 - float64(i)/40, -1.0 - float64(i)/60})
		d.Y = append(d.Y, -1)
	}
	for i := 0; i < 40; i++ {
		d.X = append(d.X, []float64{float64(i)/80 - 0.25, float64(i)/100 - 0.2})
		d.Y = append(d.Y, 0)
	}
	for i := 0; i < 40; i++ {
		d.X = append(d.X, []float64{1.0 + float64(i)/40, 1.4 + float64(i)/60})
		d.Y = append(d.Y, 1)
	}
	return d
}
