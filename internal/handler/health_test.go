package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"

	"quantlab/internal/metrics"
)

func healthRouter(index *indexStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(noop.NewTracerProvider().Tracer("test"), index, nil, nil)
	r.GET("/health", h.Health)
	return r
}

func TestHealth(t *testing.T) {
	w := serve(healthRouter(sampleIndex()), http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("unexpected status: %v", body["status"])
	}
	if body["models"] != float64(2) || body["deployable_models"] != float64(1) {
		t.Errorf("unexpected model counts: %v / %v", body["models"], body["deployable_models"])
	}
	if body["index_updated_at"] != "2024-05-01T00:00:00Z" {
		t.Errorf("unexpected index timestamp: %v", body["index_updated_at"])
	}
	if body["training_enabled"] != false {
		t.Errorf("training should be reported disabled, got %v", body["training_enabled"])
	}
}

func TestHealthDegradedOnIndexError(t *testing.T) {
	w := serve(healthRouter(&indexStub{err: errors.New("index unreadable")}), http.MethodGet, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"degraded"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	metrics.New(reg).RecordInstrument("success")

	r := gin.New()
	New(noop.NewTracerProvider().Tracer("test"), &indexStub{}, nil, reg).RegisterRoutes(r, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `quantlab_instruments_total{status="success"} 1`) {
		t.Fatalf("missing instrument counter in:\n%s", w.Body.String())
	}
}
