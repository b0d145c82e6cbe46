package app

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/config"
	"quantlab/internal/metrics"
	"quantlab/internal/ml/features"
	"quantlab/internal/ml/inference"
	"quantlab/internal/ml/modelcache"
	"quantlab/internal/ml/models"
	"quantlab/internal/ml/predictions"
	"quantlab/internal/ml/registry"
	"quantlab/internal/ml/training"
	"quantlab/internal/ml/tuning"
	"quantlab/internal/repository"
)

// Infra carries the optional external connections. Either may be nil.
type Infra struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// App is the component graph shared by the server and the trainer CLI.
type App struct {
	Source      features.Source
	Builder     *features.Builder
	Files       *registry.FileStore
	Index       *registry.Index
	Candles     *repository.CandleRepository
	Versions    *registry.VersionRepository
	Predictions *predictions.Repository
	Models      *modelcache.Cache
	Inference   *inference.Service
	Trainer     *training.Trainer
	Batch       *training.Batch
}

func New(cfg *config.Config, rc *config.RunConfig, infra Infra, log zerolog.Logger, tracer trace.Tracer, recorder *metrics.Recorder) (*App, error) {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	a := &App{
		Builder: features.NewBuilder(nil),
		Files:   registry.NewFileStore(cfg.ModelDir, tracer),
		Index:   registry.NewIndex(cfg.ModelDir, tracer),
	}

	var (
		versions    training.VersionRegistry
		active      registry.ActiveVersions
		predictionS inference.PredictionStore
	)
	if infra.Pool != nil {
		a.Candles = repository.NewCandleRepository(infra.Pool, tracer)
		a.Versions = registry.NewVersionRepository(infra.Pool, tracer)
		a.Predictions = predictions.NewRepository(infra.Pool, tracer)
		versions, active, predictionS = a.Versions, a.Versions, a.Predictions
	}

	switch rc.Source {
	case "postgres":
		if a.Candles == nil {
			return nil, errors.New("run config source postgres requires DATABASE_URL")
		}
		a.Source = features.NewPostgresSource(a.Candles, rc.Interval, 0)
	default:
		a.Source = features.NewCSVSource(cfg.DataDir)
	}

	opts := modelcache.Options{TTL: cfg.ModelCacheTTL}
	if opts.TTL <= 0 {
		opts.TTL = modelcache.DefaultTTL
	}
	if infra.Redis != nil {
		opts.Remote = infra.Redis
	}
	resolver := registry.NewResolver(a.Files, active, tracer)
	a.Models = modelcache.New(resolver.Load, models.Load, log, opts)

	a.Inference = inference.NewService(tracer, log, a.Source, a.Builder, a.Models, a.Index, predictionS, recorder, inference.Config{})

	a.Trainer = training.NewTrainer(tracer, log, training.Deps{
		Source:   a.Source,
		Builder:  a.Builder,
		Store:    a.Files,
		Index:    a.Index,
		Versions: versions,
		Tuner:    tuning.NewTuner(tracer, log, recorder),
		Recorder: recorder,
	})
	a.Batch = training.NewBatch(tracer, log, a.Trainer, recorder, rc.Batch())
	return a, nil
}
