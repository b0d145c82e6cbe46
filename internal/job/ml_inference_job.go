package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/ml/inference"
)

type LatestPredictor interface {
	RunLatest(ctx context.Context) (inference.RunResult, error)
}

// MLInferenceJob scores the latest bar for every indexed model on a fixed
// interval and persists the predictions.
type MLInferenceJob struct {
	tracer       trace.Tracer
	log          zerolog.Logger
	service      LatestPredictor
	pollInterval time.Duration
}

func NewMLInferenceJob(tracer trace.Tracer, log zerolog.Logger, service LatestPredictor, pollInterval time.Duration) *MLInferenceJob {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Minute
	}
	return &MLInferenceJob{
		tracer:       tracer,
		log:          log.With().Str("component", "ml-inference-job").Logger(),
		service:      service,
		pollInterval: pollInterval,
	}
}

func (j *MLInferenceJob) Start(ctx context.Context) {
	if j.service == nil {
		j.log.Warn().Msg("ML inference job disabled: no service")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *MLInferenceJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "ml-inference-job.run-once")
	defer span.End()

	res, err := j.service.RunLatest(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("ML inference error")
		return
	}
	if res.Models > 0 {
		j.log.Info().
			Int("models", res.Models).
			Int("predictions", res.Predictions).
			Int("skipped", res.Skipped).
			Msg("ML inference cycle complete")
	}
}
