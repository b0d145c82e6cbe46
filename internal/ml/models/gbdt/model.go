package gbdt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/ml/common"
	"quantlab/internal/ml/learner"
)

type artifact struct {
	FeatureNames []string       `json:"feature_names"`
	Scaler       learner.Scaler `json:"scaler"`
	Params       learner.Params `json:"params"`
	Booster      *Booster       `json:"booster"`
}

// Model is the lgbm-family classifier: a multiclass softmax booster over
// z-scored features.
type Model struct {
	featureNames []string
	params       learner.Params
	scaler       learner.Scaler
	booster      *Booster
}

func DefaultParams() learner.Params {
	return learner.Params{
		Rounds:              500,
		LearningRate:        0.05,
		NumLeaves:           31,
		MaxDepth:            -1,
		MinDataInLeaf:       20,
		FeatureFraction:     0.8,
		BaggingFraction:     0.8,
		EarlyStoppingRounds: 50,
		Seed:                42,
	}
}

func New(featureNames []string, params learner.Params) *Model {
	return &Model{featureNames: append([]string(nil), featureNames...), params: params}
}

// ConfigFromParams fills a booster Config from learner params, falling back
// to DefaultParams for zero fields.
func ConfigFromParams(obj Objective, p learner.Params) Config {
	d := DefaultParams()
	cfg := Config{
		Objective:           obj,
		NumClass:            common.NumClasses,
		Rounds:              pick(p.Rounds, d.Rounds),
		LearningRate:        pickF(p.LearningRate, d.LearningRate),
		NumLeaves:           pick(p.NumLeaves, d.NumLeaves),
		MaxDepth:            pick(p.MaxDepth, d.MaxDepth),
		MinDataInLeaf:       pick(p.MinDataInLeaf, d.MinDataInLeaf),
		FeatureFraction:     pickF(p.FeatureFraction, d.FeatureFraction),
		BaggingFraction:     pickF(p.BaggingFraction, d.BaggingFraction),
		LambdaL1:            p.LambdaL1,
		LambdaL2:            p.LambdaL2,
		MinGain:             p.MinGain,
		EarlyStoppingRounds: pick(p.EarlyStoppingRounds, d.EarlyStoppingRounds),
		Seed:                p.Seed,
	}
	if p.Seed == 0 {
		cfg.Seed = d.Seed
	}
	return cfg
}

func (m *Model) Family() string { return common.FamilyLGBM }

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.featureNames...)
}

func (m *Model) Fit(ctx context.Context, train learner.Data, val *learner.Data, sampleWeight []float64) error {
	if err := train.Validate(); err != nil {
		return err
	}
	if len(m.featureNames) != len(train.X[0]) {
		m.featureNames = common.DefaultFeatureNames(len(train.X[0]))
	}
	m.scaler = learner.FitScaler(train.X)
	y := make([]float64, len(train.Y))
	for i, label := range train.Y {
		y[i] = float64(common.LabelIndex(label))
	}
	var valX [][]float64
	var valY []float64
	if val != nil && len(val.X) > 0 {
		if err := learner.CheckWidth(m.featureNames, val.X); err != nil {
			return err
		}
		valX = m.scaler.Transform(val.X)
		valY = make([]float64, len(val.Y))
		for i, label := range val.Y {
			valY[i] = float64(common.LabelIndex(label))
		}
	}
	b, err := Train(ctx, ConfigFromParams(Multiclass, m.params), m.scaler.Transform(train.X), y, sampleWeight, valX, valY)
	if err != nil {
		return fmt.Errorf("train gbdt: %w", err)
	}
	m.booster = b
	return nil
}

func (m *Model) PredictProba(x [][]float64) ([][]float64, error) {
	if m == nil || m.booster == nil {
		return nil, learner.ErrNotFitted
	}
	if err := learner.CheckWidth(m.featureNames, x); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = m.booster.Proba(m.scaler.TransformRow(x[i]))
	}
	return out, nil
}

func (m *Model) Predict(x [][]float64) ([]int, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return common.LabelsFromProba(proba), nil
}

// BestIteration reports the number of rounds kept after early stopping.
func (m *Model) BestIteration() int {
	if m == nil || m.booster == nil {
		return 0
	}
	return m.booster.BestIteration
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || m.booster == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(artifact{
		FeatureNames: m.featureNames,
		Scaler:       m.scaler,
		Params:       m.params,
		Booster:      m.booster,
	})
}

func UnmarshalBinary(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	if a.Booster == nil {
		return nil, errors.New("invalid gbdt artifact")
	}
	if a.Booster.NumFeatures != len(a.FeatureNames) {
		return nil, fmt.Errorf("booster has %d features, artifact names %d: %w", a.Booster.NumFeatures, len(a.FeatureNames), domain.ErrFeatureMismatch)
	}
	return &Model{featureNames: a.FeatureNames, params: a.Params, scaler: a.Scaler, booster: a.Booster}, nil
}

func pick(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func pickF(v, d float64) float64 {
	if v == 0 {
		return d
	}
	return v
}
