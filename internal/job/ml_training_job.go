package job

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/ml/training"
)

// ErrTrainingInProgress is returned when a run is requested while another
// one is still going.
var ErrTrainingInProgress = errors.New("training already in progress")

type BatchRunner interface {
	Run(ctx context.Context, instruments []string, cfg training.Config) (*training.Summary, error)
}

// CacheInvalidator drops served models so the next request loads the
// freshly trained artifacts.
type CacheInvalidator interface {
	Clear(ctx context.Context) error
}

type TrainingPlan struct {
	Instruments []string
	Config      training.Config
	// SummaryDir receives training_summary.csv after each run when set.
	SummaryDir string
}

type MLTrainingJob struct {
	tracer    trace.Tracer
	log       zerolog.Logger
	batch     BatchRunner
	plan      TrainingPlan
	cache     CacheInvalidator
	trainHour int
	now       func() time.Time

	running sync.Mutex
}

func NewMLTrainingJob(tracer trace.Tracer, log zerolog.Logger, batch BatchRunner, plan TrainingPlan, cache CacheInvalidator, trainHourUTC int) *MLTrainingJob {
	if trainHourUTC < 0 || trainHourUTC > 23 {
		trainHourUTC = 0
	}
	return &MLTrainingJob{
		tracer:    tracer,
		log:       log.With().Str("component", "ml-training-job").Logger(),
		batch:     batch,
		plan:      plan,
		cache:     cache,
		trainHour: trainHourUTC,
		now:       time.Now,
	}
}

func (j *MLTrainingJob) Start(ctx context.Context) {
	if j.batch == nil {
		j.log.Warn().Msg("ML training job disabled: no batch runner")
		<-ctx.Done()
		return
	}
	for {
		next := nextRunUTC(j.now().UTC(), j.trainHour)
		wait := max(next.Sub(j.now()), time.Second)
		j.log.Info().Time("next_run", next).Msg("ML training scheduled")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := j.RunTraining(ctx); err != nil {
				j.log.Error().Err(err).Msg("ML training error")
			}
		}
	}
}

// RunTraining runs the batch over the plan's universe. Only one run executes
// at a time.
func (j *MLTrainingJob) RunTraining(ctx context.Context) (*training.Summary, error) {
	if !j.running.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer j.running.Unlock()

	ctx, span := j.tracer.Start(ctx, "ml-training-job.run-once")
	defer span.End()
	span.SetAttributes(attribute.Int("instruments", len(j.plan.Instruments)))

	summary, err := j.batch.Run(ctx, j.plan.Instruments, j.plan.Config)
	if err != nil {
		return nil, err
	}

	if j.plan.SummaryDir != "" {
		path := filepath.Join(j.plan.SummaryDir, training.SummaryFileName)
		if err := summary.WriteCSVFile(path); err != nil {
			j.log.Warn().Err(err).Str("path", path).Msg("could not write training summary")
		}
	}
	if j.cache != nil && summary.Success > 0 {
		if err := j.cache.Clear(ctx); err != nil {
			j.log.Warn().Err(err).Msg("could not clear model cache")
		}
	}

	for _, o := range summary.Outcomes {
		ev := j.log.Info().Str("instrument", o.Instrument).Str("status", string(o.Status))
		if o.Metadata != nil {
			ev = ev.Float64("sharpe", o.Metadata.SharpeRatio).Str("tier", string(o.Metadata.QualityTier))
		}
		if o.Reason != "" {
			ev = ev.Str("reason", o.Reason)
		}
		ev.Int("version", o.Version).Bool("promoted", o.Promoted).Msg("ML training result")
	}
	return summary, nil
}

func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
