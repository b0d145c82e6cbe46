package training

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"quantlab/internal/domain"
	"quantlab/internal/ml/learner"
	"quantlab/internal/ml/split"
	"quantlab/internal/ml/tuning"
)

// walkForward fits one model per fold and scores each on its rolling test
// window. The returned evaluation carries the last fold's model, the
// concatenated test rows of every fold and the fold-averaged metrics.
func (t *Trainer) walkForward(ctx context.Context, ds *domain.Dataset, cfg Config) (evaluated, []domain.TradingMetrics, *tuning.Result, learner.Params, error) {
	embargo := cfg.embargo()
	it, err := split.WalkForward(ds.X, ds.Y, ds.ForwardReturns, split.WalkForwardConfig{
		NSplits:          cfg.Folds,
		MinTrainFraction: cfg.MinTrainFraction,
		Embargo:          embargo,
	})
	if err != nil {
		return evaluated{}, nil, nil, learner.Params{}, err
	}

	params := cfg.Params
	var (
		tuned *tuning.Result
		all   evaluated
		folds []domain.TradingMetrics
	)
	for f, ok := it.Next(); ok; f, ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return evaluated{}, nil, nil, params, err
		}
		train, val, err := holdout(f, ds.Regimes, embargo, validationShare(cfg.Split))
		if err != nil {
			return evaluated{}, nil, nil, params, fmt.Errorf("fold %d: %w", f.Index, err)
		}
		if f.Index == 0 && cfg.Tune && t.tuner != nil {
			res, err := t.tune(ctx, ds.FeatureNames, train.data, val.data, val.regimes, cfg)
			if err != nil {
				return evaluated{}, nil, nil, params, err
			}
			tuned = &res
			params = res.Best
		}
		e, err := t.fitAndEvaluate(ctx, ds.FeatureNames, train.data, &val.data, f.XTest, f.YTest, f.FwdTest, split.Slice(ds.Regimes, f.Test), params, cfg)
		if err != nil {
			return evaluated{}, nil, nil, params, fmt.Errorf("fold %d: %w", f.Index, err)
		}
		t.log.Debug().
			Int("fold", f.Index).
			Int("train_rows", len(train.data.X)).
			Int("test_rows", len(f.XTest)).
			Float64("sharpe", e.metrics.SharpeRatio).
			Msg("fold evaluated")

		folds = append(folds, e.metrics)
		all.model = e.model
		all.yTrue = append(all.yTrue, e.yTrue...)
		all.yPred = append(all.yPred, e.yPred...)
		all.fwd = append(all.fwd, e.fwd...)
		all.regimes = append(all.regimes, e.regimes...)
		all.strategy = append(all.strategy, e.strategy...)
	}
	if len(folds) == 0 {
		return evaluated{}, nil, nil, params, fmt.Errorf("walk-forward produced no folds: %w", domain.ErrInsufficientData)
	}
	all.metrics = AggregateFolds(folds)
	return all, folds, tuned, params, nil
}

type partition struct {
	data    learner.Data
	regimes []string
}

// holdout carves the validation tail out of a fold's training window,
// leaving an embargo gap in front of it.
func holdout(f split.Fold, regimes []string, embargo int, share float64) (partition, partition, error) {
	end := f.Train.End
	valStart := int(float64(end) * (1 - share))
	trainEnd := valStart - embargo
	if trainEnd <= 0 || valStart >= end {
		return partition{}, partition{}, fmt.Errorf("fold train window of %d rows cannot hold a validation tail: %w", end, domain.ErrInsufficientData)
	}
	tr := split.Range{Start: 0, End: trainEnd}
	va := split.Range{Start: valStart, End: end}
	train := partition{
		data:    learner.Data{X: split.Slice(f.XTrain, tr), Y: split.Slice(f.YTrain, tr), Returns: split.Slice(f.FwdTrain, tr)},
		regimes: split.Slice(regimes, tr),
	}
	val := partition{
		data:    learner.Data{X: split.Slice(f.XTrain, va), Y: split.Slice(f.YTrain, va), Returns: split.Slice(f.FwdTrain, va)},
		regimes: split.Slice(regimes, va),
	}
	return train, val, nil
}

// validationShare is the part of a training window reserved for validation,
// matching the single-split proportions.
func validationShare(c split.Config) float64 {
	if c.TrainFrac <= 0 || c.ValFrac <= 0 {
		c = split.DefaultConfig()
	}
	return c.ValFrac / (c.TrainFrac + c.ValFrac)
}

// AggregateFolds averages per-fold metrics. Trades are summed and infinite
// ratios are left out of their means.
func AggregateFolds(folds []domain.TradingMetrics) domain.TradingMetrics {
	var out domain.TradingMetrics
	if len(folds) == 0 {
		return out
	}
	col := func(get func(domain.TradingMetrics) float64) []float64 {
		vals := make([]float64, 0, len(folds))
		for _, f := range folds {
			vals = append(vals, get(f))
		}
		return vals
	}
	out.Accuracy = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.Accuracy }))
	out.SharpeRatio = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.SharpeRatio }))
	out.SortinoRatio = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.SortinoRatio }))
	out.CalmarRatio = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.CalmarRatio }))
	out.MaxDrawdown = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.MaxDrawdown }))
	out.ProfitFactor = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.ProfitFactor }))
	out.WinRate = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.WinRate }))
	out.AvgWin = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.AvgWin }))
	out.AvgLoss = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.AvgLoss }))
	out.TotalReturn = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.TotalReturn }))
	out.AnnualizedReturn = finiteMean(col(func(m domain.TradingMetrics) float64 { return m.AnnualizedReturn }))
	for _, f := range folds {
		out.NumTrades += f.NumTrades
	}
	if math.IsNaN(out.ProfitFactor) {
		// every fold had wins and no losses
		out.ProfitFactor = math.Inf(1)
	}
	return out
}

// finiteMean is the mean of the finite values, NaN when there are none.
func finiteMean(values []float64) float64 {
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return math.NaN()
	}
	return stat.Mean(kept, nil)
}
