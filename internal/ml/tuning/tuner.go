package tuning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"quantlab/internal/ml/balance"
	"quantlab/internal/ml/common"
	"quantlab/internal/ml/evaluation"
	"quantlab/internal/ml/learner"
	"quantlab/internal/ml/objective"
)

const (
	DefaultTrials      = 40
	DefaultParallelism = 4
	DefaultSeed        = 42
)

// Factory builds an unfitted learner for one trial.
type Factory func(params learner.Params) (learner.Learner, error)

type trialRecorder interface {
	RecordTuningTrial()
}

type Config struct {
	Family      string
	Trials      int
	Parallelism int
	Seed        uint64
	Space       Space
	Base        learner.Params
	Objective   objective.Config
	CostBps     float64
	// Balance is applied to classifier training rows before any trial fits,
	// matching the final fit.
	Balance balance.Options
}

type Trial struct {
	Index  int            `json:"index"`
	Params learner.Params `json:"params"`
	Score  float64        `json:"score"`
	// Objective is set for classifier trials.
	Objective *objective.Result `json:"objective,omitempty"`
	Err       string            `json:"error,omitempty"`
}

type Result struct {
	Best      learner.Params `json:"best_params"`
	BestScore float64        `json:"best_score"`
	Trials    []Trial        `json:"trials"`
}

// Summary reports the spread of successful trial scores.
func (r Result) Summary() (mean, std float64, ok int) {
	scores := make([]float64, 0, len(r.Trials))
	for _, t := range r.Trials {
		if t.Err == "" {
			scores = append(scores, t.Score)
		}
	}
	if len(scores) == 0 {
		return 0, 0, 0
	}
	if len(scores) == 1 {
		return scores[0], 0, 1
	}
	mean, std = stat.MeanStdDev(scores, nil)
	return mean, std, len(scores)
}

type Tuner struct {
	tracer   trace.Tracer
	log      zerolog.Logger
	recorder trialRecorder
}

func NewTuner(tracer trace.Tracer, log zerolog.Logger, recorder trialRecorder) *Tuner {
	return &Tuner{tracer: tracer, log: log.With().Str("component", "tuner").Logger(), recorder: recorder}
}

// Run evaluates cfg.Trials random candidates against the validation split.
// Classifier training rows are balanced once, then trials run in parallel
// and share the read-only train and val inputs.
// regimes labels each validation row and may be nil.
func (t *Tuner) Run(ctx context.Context, newLearner Factory, train, val learner.Data, regimes []string, cfg Config) (Result, error) {
	ctx, span := t.tracer.Start(ctx, "tuner.run")
	defer span.End()

	if cfg.Trials <= 0 {
		cfg.Trials = DefaultTrials
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	if cfg.Space == (Space{}) {
		cfg.Space = DefaultSpace()
	}
	if cfg.Objective == (objective.Config{}) {
		cfg.Objective = objective.DefaultConfig()
	}
	if len(val.X) == 0 {
		return Result{}, errors.New("tuning needs a validation split")
	}
	span.SetAttributes(attribute.String("family", cfg.Family), attribute.Int("trials", cfg.Trials))

	if cfg.Family != common.FamilyReturn {
		x, y, fwd := balance.Balance(train.X, train.Y, train.Returns, cfg.Balance)
		train = learner.Data{X: x, Y: y, Returns: fwd}
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	trials := make([]Trial, cfg.Trials)
	for i := range trials {
		trials[i] = Trial{Index: i, Params: cfg.Space.Sample(rng, cfg.Base)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for i := range trials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t.runTrial(gctx, newLearner, train, val, regimes, cfg, &trials[i])
			if t.recorder != nil {
				t.recorder.RecordTuningTrial()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Trials: trials, BestScore: math.Inf(-1)}
	ranked := make([]Trial, 0, len(trials))
	for _, tr := range trials {
		if tr.Err == "" {
			ranked = append(ranked, tr)
		}
	}
	if len(ranked) == 0 {
		return res, fmt.Errorf("all %d tuning trials failed, first error: %s", len(trials), trials[0].Err)
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].Score > ranked[b].Score })
	res.Best = ranked[0].Params
	res.BestScore = ranked[0].Score

	mean, std, ok := res.Summary()
	t.log.Info().
		Str("family", cfg.Family).
		Int("trials", len(trials)).
		Int("succeeded", ok).
		Float64("best_score", res.BestScore).
		Float64("mean_score", mean).
		Float64("std_score", std).
		Msg("tuning finished")
	return res, nil
}

func (t *Tuner) runTrial(ctx context.Context, newLearner Factory, train, val learner.Data, regimes []string, cfg Config, trial *Trial) {
	l, err := newLearner(trial.Params)
	if err != nil {
		trial.Err = err.Error()
		return
	}
	isReturn := cfg.Family == common.FamilyReturn
	var weights []float64
	if !isReturn && trial.Params.ClassPenalty > 0 {
		weights = balance.SampleWeights(train.Y, trial.Params.ClassPenalty)
	}
	if err := l.Fit(ctx, train, &val, weights); err != nil {
		trial.Err = err.Error()
		return
	}
	pred, err := l.Predict(val.X)
	if err != nil {
		trial.Err = err.Error()
		return
	}
	if isReturn {
		ev := evaluation.NewEvaluator(cfg.CostBps)
		trial.Score = ev.Sharpe(evaluation.Simulate(pred, val.Returns, ev.CostBps))
		return
	}
	res := objective.Score(val.Y, pred, regimes, cfg.Objective)
	trial.Score = res.Composite
	trial.Objective = &res
}
