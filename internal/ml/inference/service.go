package inference

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/domain"
	"quantlab/internal/ml/common"
	"quantlab/internal/ml/features"
	"quantlab/internal/ml/learner"
	"quantlab/internal/ml/regime"
)

type ModelSource interface {
	Get(ctx context.Context, key string) (learner.Learner, error)
}

type MetadataIndex interface {
	List(ctx context.Context) ([]domain.ModelMetadata, time.Time, error)
}

type PredictionStore interface {
	UpsertPredictions(ctx context.Context, predictions []domain.Prediction) (int, error)
}

type predictionRecorder interface {
	RecordPrediction(family string)
}

type Config struct {
	Regime regime.Config
	// Strict rejects inputs whose column order differs from the model's
	// instead of reordering them by name.
	Strict bool
	// DeployableOnly limits RunLatest to models flagged deployable.
	DeployableOnly bool
}

type Service struct {
	tracer   trace.Tracer
	log      zerolog.Logger
	source   features.Source
	builder  *features.Builder
	models   ModelSource
	index    MetadataIndex
	store    PredictionStore
	recorder predictionRecorder
	cfg      Config
}

type RunResult struct {
	Models      int
	Predictions int
	Skipped     int
}

func NewService(
	tracer trace.Tracer,
	log zerolog.Logger,
	source features.Source,
	builder *features.Builder,
	models ModelSource,
	index MetadataIndex,
	store PredictionStore,
	recorder predictionRecorder,
	cfg Config,
) *Service {
	if builder == nil {
		builder = features.NewBuilder(nil)
	}
	if cfg.Regime == (regime.Config{}) {
		cfg.Regime = regime.DefaultConfig()
	}
	return &Service{
		tracer:   tracer,
		log:      log.With().Str("component", "inference").Logger(),
		source:   source,
		builder:  builder,
		models:   models,
		index:    index,
		store:    store,
		recorder: recorder,
		cfg:      cfg,
	}
}

// Predict scores the n most recent complete bars of instrument with the
// persisted model of the given family. Results are in time order.
func (s *Service) Predict(ctx context.Context, instrument, family string, n int) ([]domain.Prediction, error) {
	ctx, span := s.tracer.Start(ctx, "inference.predict")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", instrument), attribute.String("family", family))

	if s.source == nil || s.models == nil {
		return nil, errors.New("inference service is not fully initialized")
	}
	if !common.IsFamily(family) {
		return nil, fmt.Errorf("unknown model family %q", family)
	}
	key := domain.ModelKey(instrument, family)
	model, err := s.models.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", key, err)
	}

	table, err := s.source.Load(ctx, instrument)
	if err != nil {
		return nil, err
	}
	names := model.FeatureNames()
	m, times, err := s.builder.Latest(table, features.BuildConfig{
		Regime:            s.cfg.Regime,
		UseRegimeFeatures: slices.Contains(names, regime.FeatureNames[0]),
	}, n)
	if err != nil {
		return nil, err
	}

	x := m.Rows
	if s.cfg.Strict {
		if err := learner.CheckFeatures(names, m.Names); err != nil {
			return nil, err
		}
	} else if x, err = learner.Reorder(names, m.Names, m.Rows); err != nil {
		return nil, err
	}

	proba, err := model.PredictProba(x)
	if err != nil {
		return nil, fmt.Errorf("predict proba %s: %w", key, err)
	}
	labels, err := model.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", key, err)
	}

	out := make([]domain.Prediction, len(x))
	for i := range x {
		out[i] = domain.Prediction{
			Instrument:  instrument,
			ModelKey:    key,
			Time:        times[i],
			Label:       labels[i],
			Direction:   domain.DirectionFromLabel(labels[i]),
			ProbShort:   proba[i][0],
			ProbNeutral: proba[i][1],
			ProbLong:    proba[i][2],
			Confidence:  common.Confidence(proba[i]),
			Regime:      string(m.Tags[i].Trend),
		}
		if s.recorder != nil {
			s.recorder.RecordPrediction(family)
		}
	}
	return out, nil
}

// RunLatest predicts the latest bar for every indexed model and stores the
// results. A failing model is logged and skipped.
func (s *Service) RunLatest(ctx context.Context) (RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "inference.run-latest")
	defer span.End()

	if s.index == nil || s.store == nil {
		return RunResult{}, errors.New("inference service has no index or prediction store")
	}
	entries, _, err := s.index.List(ctx)
	if err != nil {
		return RunResult{}, err
	}

	var res RunResult
	var batch []domain.Prediction
	for _, meta := range entries {
		if s.cfg.DeployableOnly && !meta.Deployable {
			continue
		}
		res.Models++
		preds, err := s.Predict(ctx, meta.Instrument, meta.ModelFamily, 1)
		if err != nil {
			res.Skipped++
			s.log.Warn().Err(err).Str("model_key", meta.Key()).Msg("inference skipped")
			continue
		}
		batch = append(batch, preds...)
	}
	if len(batch) == 0 {
		return res, nil
	}
	stored, err := s.store.UpsertPredictions(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("store predictions: %w", err)
	}
	res.Predictions = stored
	return res, nil
}
