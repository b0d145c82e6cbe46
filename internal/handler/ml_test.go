package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace/noop"

	"quantlab/internal/domain"
	"quantlab/internal/job"
	"quantlab/internal/ml/training"
)

type mlTrainingRunnerStub struct {
	summary *training.Summary
	err     error
}

func (s mlTrainingRunnerStub) RunTraining(context.Context) (*training.Summary, error) {
	return s.summary, s.err
}

func trainRouter(runner MLTrainingRunner, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(noop.NewTracerProvider().Tracer("handler-test"), &indexStub{}, nil, nil)
	if runner != nil {
		h.SetMLTrainingRunner(runner)
	}
	r := gin.New()
	h.RegisterRoutes(r, apiKey)
	return r
}

func TestTriggerMLTrainingServiceUnavailable(t *testing.T) {
	w := serve(trainRouter(nil, ""), http.MethodPost, "/api/ml/train")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestTriggerMLTrainingSuccess(t *testing.T) {
	pf := 1.8
	summary := training.Summarize("run-1", "lgbm", []training.Outcome{
		{
			Instrument: "AAPL",
			Family:     "lgbm",
			Status:     training.StatusSuccess,
			Metadata:   &domain.ModelMetadata{Instrument: "AAPL", ModelFamily: "lgbm", SharpeRatio: 1.2, ProfitFactor: &pf},
			Folds:      []domain.TradingMetrics{{ProfitFactor: math.Inf(1)}},
			Promoted:   true,
			Version:    3,
		},
		{Instrument: "SPY", Family: "lgbm", Status: training.StatusSkipped, Reason: "insufficient data"},
	})

	w := serve(trainRouter(mlTrainingRunnerStub{summary: summary}, ""), http.MethodPost, "/api/ml/train")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Status  string        `json:"status"`
		RunID   string        `json:"run_id"`
		Success int           `json:"success"`
		Skipped int           `json:"skipped"`
		Results []outcomeView `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Status != "ok" || body.RunID != "run-1" || body.Success != 1 || body.Skipped != 1 || len(body.Results) != 2 {
		t.Fatalf("unexpected response payload: %+v", body)
	}
	if !body.Results[0].Promoted || body.Results[0].Version != 3 {
		t.Fatalf("expected promotion details, got %+v", body.Results[0])
	}
}

func TestTriggerMLTrainingFailure(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: errors.New("train failed"), want: http.StatusInternalServerError},
		{err: fmt.Errorf("nightly run: %w", job.ErrTrainingInProgress), want: http.StatusConflict},
	}
	for _, tc := range cases {
		w := serve(trainRouter(mlTrainingRunnerStub{err: tc.err}, ""), http.MethodPost, "/api/ml/train")
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestTriggerMLTrainingRequiresKey(t *testing.T) {
	r := trainRouter(mlTrainingRunnerStub{summary: &training.Summary{}}, "secret")

	if w := serve(r, http.MethodPost, "/api/ml/train"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/ml/train", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", w.Code)
	}
}
