package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace/noop"

	"quantlab/internal/domain"
	"quantlab/internal/ml/registry"
)

type indexStub struct {
	models []domain.ModelMetadata
	err    error
}

func (s *indexStub) List(context.Context) ([]domain.ModelMetadata, time.Time, error) {
	return s.models, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), s.err
}

func (s *indexStub) Get(_ context.Context, key string) (domain.ModelMetadata, error) {
	for _, m := range s.models {
		if m.Key() == key {
			return m, nil
		}
	}
	return domain.ModelMetadata{}, fmt.Errorf("%s: %w", key, registry.ErrModelNotFound)
}

type predictorStub struct {
	err    error
	gotN   int
	family string
}

func (p *predictorStub) Predict(_ context.Context, instrument, family string, n int) ([]domain.Prediction, error) {
	p.gotN = n
	p.family = family
	if p.err != nil {
		return nil, p.err
	}
	return []domain.Prediction{{
		Instrument: instrument,
		ModelKey:   domain.ModelKey(instrument, family),
		Label:      1,
		Direction:  domain.DirectionLong,
		ProbLong:   0.6,
	}}, nil
}

func newRouter(index ModelIndex, predictor Predictor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(noop.NewTracerProvider().Tracer("handler-test"), index, predictor, nil)
	h.RegisterRoutes(r, "")
	return r
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func sampleIndex() *indexStub {
	return &indexStub{models: []domain.ModelMetadata{
		{Instrument: "AAPL", ModelFamily: "lgbm", SharpeRatio: 1.4, Deployable: true},
		{Instrument: "SPY", ModelFamily: "logreg", SharpeRatio: 0.2},
	}}
}

func TestListModelsFilters(t *testing.T) {
	r := newRouter(sampleIndex(), nil)

	w := serve(r, http.MethodGet, "/api/models")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Models []domain.ModelMetadata `json:"models"`
		Count  int                    `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 models, got %d", body.Count)
	}

	w = serve(r, http.MethodGet, "/api/models?deployable=true")
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Count != 1 || body.Models[0].Instrument != "AAPL" {
		t.Fatalf("unexpected deployable filter result: %+v", body)
	}

	w = serve(r, http.MethodGet, "/api/models?family=logreg")
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Count != 1 || body.Models[0].Instrument != "SPY" {
		t.Fatalf("unexpected family filter result: %+v", body)
	}
}

func TestGetModel(t *testing.T) {
	r := newRouter(sampleIndex(), nil)

	w := serve(r, http.MethodGet, "/api/models/AAPL_lgbm")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/models/TSLA_xgb"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", w.Code)
	}
}

func TestPredict(t *testing.T) {
	p := &predictorStub{}
	r := newRouter(sampleIndex(), p)

	w := serve(r, http.MethodGet, "/api/predict/aapl?n=5000")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if p.gotN != maxPredictBars || p.family != "lgbm" {
		t.Fatalf("expected capped n and default family, got n=%d family=%s", p.gotN, p.family)
	}
	var body struct {
		ModelKey    string              `json:"model_key"`
		Predictions []domain.Prediction `json:"predictions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.ModelKey != "AAPL_lgbm" || len(body.Predictions) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestPredictErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		path string
		err  error
		want int
	}{
		{name: "unknown family", path: "/api/predict/AAPL?model=catboost", want: http.StatusBadRequest},
		{name: "bad n", path: "/api/predict/AAPL?n=-2", want: http.StatusBadRequest},
		{name: "missing model", path: "/api/predict/AAPL", err: fmt.Errorf("load: %w", registry.ErrModelNotFound), want: http.StatusNotFound},
		{name: "mismatch", path: "/api/predict/AAPL", err: fmt.Errorf("x: %w", domain.ErrFeatureMismatch), want: http.StatusConflict},
		{name: "other", path: "/api/predict/AAPL", err: fmt.Errorf("disk on fire"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(sampleIndex(), &predictorStub{err: tc.err})
			if w := serve(r, http.MethodGet, tc.path); w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestPredictWithoutService(t *testing.T) {
	r := newRouter(sampleIndex(), nil)
	if w := serve(r, http.MethodGet, "/api/predict/AAPL"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

type historyStub struct{ limit int }

func (s *historyStub) ListRecent(_ context.Context, instrument string, limit int) ([]domain.Prediction, error) {
	s.limit = limit
	return []domain.Prediction{{Instrument: instrument, ModelKey: instrument + "_lgbm"}}, nil
}

func TestListPredictions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(noop.NewTracerProvider().Tracer("handler-test"), sampleIndex(), nil, nil)
	r := gin.New()
	h.RegisterRoutes(r, "")

	if w := serve(r, http.MethodGet, "/api/predictions/spy"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without history, got %d", w.Code)
	}

	history := &historyStub{}
	h.SetPredictionHistory(history)
	w := serve(r, http.MethodGet, "/api/predictions/spy?limit=20")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if history.limit != 20 {
		t.Fatalf("expected limit 20, got %d", history.limit)
	}
	if w := serve(r, http.MethodGet, "/api/predictions/spy?limit=x"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
