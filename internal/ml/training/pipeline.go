package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quantlab/internal/domain"
	"quantlab/internal/ml/balance"
	"quantlab/internal/ml/common"
	"quantlab/internal/ml/ensemble"
	"quantlab/internal/ml/evaluation"
	"quantlab/internal/ml/features"
	"quantlab/internal/ml/labels"
	"quantlab/internal/ml/learner"
	"quantlab/internal/ml/models"
	"quantlab/internal/ml/objective"
	"quantlab/internal/ml/regime"
	"quantlab/internal/ml/registry"
	"quantlab/internal/ml/split"
	"quantlab/internal/ml/tuning"
)

type ArtifactStore interface {
	Save(ctx context.Context, instrument, family string, blob []byte) (string, error)
}

type MetadataIndex interface {
	Upsert(ctx context.Context, meta domain.ModelMetadata) error
}

type VersionRegistry interface {
	Publish(ctx context.Context, model domain.MLModelVersion, promote registry.Promotion) (*domain.MLModelVersion, error)
}

type trainingRecorder interface {
	RecordTrainingDuration(family string, seconds float64)
	RecordSharpe(instrument, family string, sharpe float64)
}

const (
	// A new version replaces the active one only when it beats its Sharpe
	// by this margin on a test split of at least MinPromotionRows rows.
	PromotionSharpeMargin = 0.1
	MinPromotionRows      = 100
)

type Config struct {
	Family            string
	Labels            labels.Config
	Regime            regime.Config
	UseRegimeFeatures bool
	MinRows           int
	Split             split.Config
	WalkForward       bool
	Folds             int
	MinTrainFraction  float64
	Balance           balance.Options
	CostBps           float64
	Params            learner.Params
	Ensemble          ensemble.Config
	Tune              bool
	Tuning            tuning.Config
	Objective         objective.Config
}

// embargo returns the configured embargo, or the label horizon when unset.
func (c Config) embargo() int {
	if c.Split.Embargo > 0 {
		return c.Split.Embargo
	}
	return c.Labels.Horizon
}

func (c Config) isReturn() bool { return c.Family == common.FamilyReturn }

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Outcome is the result of one instrument in a batch.
type Outcome struct {
	Instrument   string                           `json:"instrument"`
	Family       string                           `json:"family"`
	Status       Status                           `json:"status"`
	Reason       string                           `json:"reason,omitempty"`
	Metadata     *domain.ModelMetadata            `json:"metadata,omitempty"`
	Benchmark    *evaluation.BenchmarkComparison `json:"benchmark,omitempty"`
	Folds        []domain.TradingMetrics          `json:"folds,omitempty"`
	Tuning       *tuning.Result                   `json:"tuning,omitempty"`
	ArtifactPath string                           `json:"artifact_path,omitempty"`
	Version      int                              `json:"version,omitempty"`
	Promoted     bool                             `json:"promoted,omitempty"`
	Duration     time.Duration                    `json:"duration"`
}

// Trainer runs the single-instrument chain: load, label, split, balance,
// fit, evaluate, persist.
type Trainer struct {
	tracer   trace.Tracer
	log      zerolog.Logger
	source   features.Source
	builder  *features.Builder
	store    ArtifactStore
	index    MetadataIndex
	versions VersionRegistry
	tuner    *tuning.Tuner
	recorder trainingRecorder
	now      func() time.Time
}

type Deps struct {
	Source   features.Source
	Builder  *features.Builder
	Store    ArtifactStore
	Index    MetadataIndex
	Versions VersionRegistry
	Tuner    *tuning.Tuner
	Recorder trainingRecorder
}

func NewTrainer(tracer trace.Tracer, log zerolog.Logger, deps Deps) *Trainer {
	if deps.Builder == nil {
		deps.Builder = features.NewBuilder(nil)
	}
	return &Trainer{
		tracer:   tracer,
		log:      log.With().Str("component", "trainer").Logger(),
		source:   deps.Source,
		builder:  deps.Builder,
		store:    deps.Store,
		index:    deps.Index,
		versions: deps.Versions,
		tuner:    deps.Tuner,
		recorder: deps.Recorder,
		now:      time.Now,
	}
}

// evaluated is one fitted model scored on a test partition.
type evaluated struct {
	model    learner.Learner
	metrics  domain.TradingMetrics
	yTrue    []int
	yPred    []int
	fwd      []float64
	regimes  []string
	strategy []float64
}

func (t *Trainer) TrainInstrument(ctx context.Context, instrument string, cfg Config, runID string) (Outcome, error) {
	ctx, span := t.tracer.Start(ctx, "training.instrument")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", instrument), attribute.String("family", cfg.Family))

	started := t.now()
	out := Outcome{Instrument: instrument, Family: cfg.Family}
	log := t.log.With().Str("instrument", instrument).Str("family", cfg.Family).Str("run_id", runID).Logger()

	if !common.IsFamily(cfg.Family) {
		return out, fmt.Errorf("unknown model family %q", cfg.Family)
	}
	table, err := t.source.Load(ctx, instrument)
	if err != nil {
		return out, err
	}
	ds, err := t.builder.Build(table, features.BuildConfig{
		Labels:            cfg.Labels,
		Regime:            cfg.Regime,
		UseRegimeFeatures: cfg.UseRegimeFeatures,
		MinRows:           cfg.MinRows,
	})
	if err != nil {
		return out, err
	}
	log.Debug().Int("rows", ds.Len()).Int("features", len(ds.FeatureNames)).Msg("dataset built")

	var (
		final      evaluated
		params     learner.Params
		validation string
	)
	if cfg.WalkForward {
		final, out.Folds, out.Tuning, params, err = t.walkForward(ctx, ds, cfg)
		validation = fmt.Sprintf("walk_forward:%d", len(out.Folds))
	} else {
		final, out.Tuning, params, err = t.singleSplit(ctx, ds, cfg)
		validation = "single_split"
	}
	if err != nil {
		return out, err
	}

	ev := evaluation.NewEvaluator(cfg.CostBps)
	bench, err := ev.Benchmark(final.strategy, buyAndHold(final.fwd))
	if err == nil {
		out.Benchmark = &bench
		log.Info().
			Float64("alpha", bench.Alpha).
			Float64("beta", bench.Beta).
			Float64("information_ratio", bench.InformationRatio).
			Msg("benchmark comparison")
	}

	meta := newMetadata(metadataInput{
		Instrument:     instrument,
		Family:         cfg.Family,
		Metrics:        final.metrics,
		Samples:        ds.Len(),
		RegimeAccuracy: trendAccuracy(final.yTrue, final.yPred, final.regimes),
		LabelScheme:    cfg.Labels.Scheme,
		Validation:     validation,
		RunID:          runID,
		TrainedAt:      t.now(),
	})
	out.Metadata = &meta

	blob, err := learner.Save(final.model)
	if err != nil {
		return out, fmt.Errorf("save model: %w", err)
	}
	if t.store != nil {
		if out.ArtifactPath, err = t.store.Save(ctx, instrument, cfg.Family, blob); err != nil {
			return out, fmt.Errorf("store artifact: %w", err)
		}
	}
	if t.index != nil {
		if err := t.index.Upsert(ctx, meta); err != nil {
			return out, fmt.Errorf("update metadata index: %w", err)
		}
	}
	if t.versions != nil {
		if err := t.persistVersion(ctx, ds, meta, params, out.Benchmark, blob, len(final.yTrue), &out); err != nil {
			return out, fmt.Errorf("record model version: %w", err)
		}
	}

	out.Status = StatusSuccess
	out.Duration = t.now().Sub(started)
	if t.recorder != nil {
		t.recorder.RecordTrainingDuration(cfg.Family, out.Duration.Seconds())
		t.recorder.RecordSharpe(instrument, cfg.Family, meta.SharpeRatio)
	}
	log.Info().
		Float64("sharpe", meta.SharpeRatio).
		Float64("accuracy", meta.Accuracy).
		Int("trades", meta.NumTrades).
		Str("tier", string(meta.QualityTier)).
		Bool("deployable", meta.Deployable).
		Dur("duration", out.Duration).
		Msg("instrument trained")
	return out, nil
}

func (t *Trainer) singleSplit(ctx context.Context, ds *domain.Dataset, cfg Config) (evaluated, *tuning.Result, learner.Params, error) {
	sc := cfg.Split
	sc.Embargo = cfg.embargo()
	s, err := split.SingleSplit(ds.X, ds.Y, ds.ForwardReturns, sc)
	if err != nil {
		return evaluated{}, nil, learner.Params{}, err
	}
	train := learner.Data{X: s.XTrain, Y: s.YTrain, Returns: s.FwdTrain}
	val := learner.Data{X: s.XVal, Y: s.YVal, Returns: s.FwdVal}

	params := cfg.Params
	var tuned *tuning.Result
	if cfg.Tune && t.tuner != nil {
		res, err := t.tune(ctx, ds.FeatureNames, train, val, split.Slice(ds.Regimes, s.Val), cfg)
		if err != nil {
			return evaluated{}, nil, params, err
		}
		tuned = &res
		params = res.Best
	}

	e, err := t.fitAndEvaluate(ctx, ds.FeatureNames, train, &val, s.XTest, s.YTest, s.FwdTest, split.Slice(ds.Regimes, s.Test), params, cfg)
	return e, tuned, params, err
}

func (t *Trainer) tune(ctx context.Context, names []string, train, val learner.Data, regimes []string, cfg Config) (tuning.Result, error) {
	tc := cfg.Tuning
	tc.Family = cfg.Family
	tc.Base = cfg.Params
	tc.Objective = cfg.Objective
	tc.CostBps = cfg.CostBps
	tc.Balance = cfg.Balance
	factory := func(p learner.Params) (learner.Learner, error) {
		return models.New(cfg.Family, names, models.Options{Params: p, Ensemble: cfg.Ensemble})
	}
	return t.tuner.Run(ctx, factory, train, val, regimes, tc)
}

// fitAndEvaluate balances the training rows of classifiers, fits a fresh
// learner and scores it on the test partition.
func (t *Trainer) fitAndEvaluate(
	ctx context.Context,
	names []string,
	train learner.Data,
	val *learner.Data,
	xTest [][]float64,
	yTest []int,
	fwdTest []float64,
	regimesTest []string,
	params learner.Params,
	cfg Config,
) (evaluated, error) {
	if len(xTest) == 0 {
		return evaluated{}, fmt.Errorf("empty test partition: %w", domain.ErrInsufficientData)
	}
	var weights []float64
	if !cfg.isReturn() {
		x, y, fwd := balance.Balance(train.X, train.Y, train.Returns, cfg.Balance)
		train = learner.Data{X: x, Y: y, Returns: fwd}
		if cfg.Tune && params.ClassPenalty > 0 {
			weights = balance.SampleWeights(train.Y, params.ClassPenalty)
		}
	}

	model, err := models.New(cfg.Family, names, models.Options{Params: params, Ensemble: cfg.Ensemble})
	if err != nil {
		return evaluated{}, err
	}
	if err := model.Fit(ctx, train, val, weights); err != nil {
		return evaluated{}, fmt.Errorf("fit %s: %w", cfg.Family, err)
	}
	if c, ok := model.(*ensemble.Combiner); ok {
		t.log.Debug().Floats64("weights", c.Weights()).Floats64("scores", c.Scores()).Msg("ensemble weights")
	}
	preds, err := model.Predict(xTest)
	if err != nil {
		return evaluated{}, fmt.Errorf("predict test partition: %w", err)
	}
	ev := evaluation.NewEvaluator(cfg.CostBps)
	return evaluated{
		model:    model,
		metrics:  ev.Evaluate(yTest, preds, fwdTest),
		yTrue:    yTest,
		yPred:    preds,
		fwd:      fwdTest,
		regimes:  regimesTest,
		strategy: evaluation.Simulate(preds, fwdTest, ev.CostBps),
	}, nil
}

func (t *Trainer) persistVersion(
	ctx context.Context,
	ds *domain.Dataset,
	meta domain.ModelMetadata,
	params learner.Params,
	bench *evaluation.BenchmarkComparison,
	blob []byte,
	testRows int,
	out *Outcome,
) error {
	hyperJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	metricsJSON, err := json.Marshal(struct {
		Metadata  domain.ModelMetadata            `json:"metadata"`
		Benchmark *evaluation.BenchmarkComparison `json:"benchmark,omitempty"`
	}{meta, bench})
	if err != nil {
		return err
	}

	published, err := t.versions.Publish(ctx, domain.MLModelVersion{
		ModelKey:           meta.Key(),
		FeatureSpecVersion: features.FeatureSpecVersion(),
		TrainedFrom:        ds.Times[0],
		TrainedTo:          ds.Times[len(ds.Times)-1],
		TrainedAt:          meta.TrainedAt,
		HyperparamsJSON:    string(hyperJSON),
		MetricsJSON:        string(metricsJSON),
		ArtifactFormat:     registry.ArtifactFormat,
		ArtifactBlob:       blob,
	}, func(active *domain.MLModelVersion) bool {
		return shouldPromote(active, meta.SharpeRatio, testRows)
	})
	if err != nil {
		return err
	}
	out.Version = published.Version
	out.Promoted = published.IsActive
	return nil
}

// shouldPromote replaces the active version only when the candidate beats
// its Sharpe ratio by PromotionSharpeMargin on a large enough test split. A
// key without an active version, or whose metrics are unreadable, always
// takes the candidate.
func shouldPromote(active *domain.MLModelVersion, sharpe float64, testRows int) bool {
	if active == nil {
		return true
	}
	if testRows < MinPromotionRows {
		return false
	}
	current, ok := activeSharpe(active.MetricsJSON)
	if !ok {
		return true
	}
	return sharpe >= current+PromotionSharpeMargin
}

func activeSharpe(metricsJSON string) (float64, bool) {
	var m struct {
		Metadata *struct {
			SharpeRatio float64 `json:"sharpe_ratio"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(metricsJSON), &m); err != nil || m.Metadata == nil {
		return 0, false
	}
	return m.Metadata.SharpeRatio, true
}

// buyAndHold is the always-long return series over the same bars.
func buyAndHold(fwd []float64) []float64 {
	ones := make([]int, len(fwd))
	for i := range ones {
		ones[i] = 1
	}
	return evaluation.Simulate(ones, fwd, 0)
}

// trendAccuracy reports test accuracy for the bull, bear and sideways
// regimes that occur.
func trendAccuracy(yTrue, yPred []int, regimes []string) map[string]float64 {
	tags := make([]regime.Tag, len(regimes))
	for i, r := range regimes {
		tags[i] = regime.Tag{Trend: regime.Trend(r)}
	}
	breakdown := regime.EvaluateByRegime(yTrue, yPred, tags)
	out := map[string]float64{}
	for _, r := range []regime.Trend{regime.Bull, regime.Bear, regime.Sideways} {
		if acc, ok := breakdown.Lookup(string(r)); ok {
			out[string(r)] = acc
		}
	}
	return out
}

// skippable reports errors that skip an instrument rather than fail it.
func skippable(err error) bool {
	return errors.Is(err, domain.ErrDataUnavailable) || errors.Is(err, domain.ErrInsufficientData)
}
