package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/domain"
	"quantlab/internal/ml/training"
)

type ModelIndex interface {
	List(ctx context.Context) ([]domain.ModelMetadata, time.Time, error)
	Get(ctx context.Context, key string) (domain.ModelMetadata, error)
}

type Predictor interface {
	Predict(ctx context.Context, instrument, family string, n int) ([]domain.Prediction, error)
}

type PredictionHistory interface {
	ListRecent(ctx context.Context, instrument string, limit int) ([]domain.Prediction, error)
}

type MLTrainingRunner interface {
	RunTraining(ctx context.Context) (*training.Summary, error)
}

type Handler struct {
	tracer    trace.Tracer
	index     ModelIndex
	predictor Predictor
	history   PredictionHistory
	mlTrainer MLTrainingRunner
	gatherer  prometheus.Gatherer
}

func New(tracer trace.Tracer, index ModelIndex, predictor Predictor, gatherer prometheus.Gatherer) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		tracer:    tracer,
		index:     index,
		predictor: predictor,
		gatherer:  gatherer,
	}
}

// SetMLTrainingRunner enables POST /api/ml/train. Without a runner the
// endpoint answers 503.
func (h *Handler) SetMLTrainingRunner(runner MLTrainingRunner) {
	h.mlTrainer = runner
}

// SetPredictionHistory enables GET /api/predictions/:instrument, served from
// the stored predictions table.
func (h *Handler) SetPredictionHistory(history PredictionHistory) {
	h.history = history
}

// RegisterRoutes mounts the read routes openly and the training trigger
// behind the API key.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/models", h.ListModels)
	api.GET("/models/:key", h.GetModel)
	api.GET("/predict/:instrument", h.Predict)
	api.GET("/predictions/:instrument", h.ListPredictions)

	admin := api.Group("/ml", APIKeyAuth(apiKey))
	admin.POST("/train", h.TriggerMLTraining)
}
