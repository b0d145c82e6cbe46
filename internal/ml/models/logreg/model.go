package logreg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"quantlab/internal/ml/common"
	"quantlab/internal/ml/learner"
)

type TrainOptions struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

type Artifact struct {
	FeatureNames []string       `json:"feature_names"`
	Weights      [][]float64    `json:"weights"`
	Bias         []float64      `json:"bias"`
	Scaler       learner.Scaler `json:"scaler"`
	L2           float64        `json:"l2"`
	LearningRate float64        `json:"learning_rate"`
	Epochs       int            `json:"epochs"`
}

// Model is a multinomial softmax regression over z-scored features. Weights
// has one row per dense class index.
type Model struct {
	opts     TrainOptions
	artifact Artifact
	fitted   bool
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		LearningRate: 0.05,
		Epochs:       600,
		L2:           0.0001,
	}
}

func OptionsFromParams(p learner.Params) TrainOptions {
	opts := DefaultTrainOptions()
	if p.LearningRate > 0 {
		opts.LearningRate = p.LearningRate
	}
	if p.Epochs > 0 {
		opts.Epochs = p.Epochs
	}
	if p.LambdaL2 > 0 {
		opts.L2 = p.LambdaL2
	}
	return opts
}

func New(featureNames []string, opts TrainOptions) *Model {
	return &Model{opts: opts, artifact: Artifact{FeatureNames: append([]string(nil), featureNames...)}}
}

func (m *Model) Family() string { return common.FamilyLogReg }

func (m *Model) Fit(ctx context.Context, train learner.Data, _ *learner.Data, sampleWeight []float64) error {
	if err := train.Validate(); err != nil {
		return err
	}
	if sampleWeight != nil && len(sampleWeight) != len(train.X) {
		return fmt.Errorf("sample weights have %d rows, data has %d", len(sampleWeight), len(train.X))
	}
	opts := m.opts
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultTrainOptions().LearningRate
	}
	if opts.Epochs <= 0 {
		opts.Epochs = DefaultTrainOptions().Epochs
	}
	if opts.L2 < 0 {
		opts.L2 = DefaultTrainOptions().L2
	}

	featCount := len(train.X[0])
	scaler := learner.FitScaler(train.X)
	samples := scaler.Transform(train.X)
	targets := common.LabelIndices(train.Y)

	weights := make([][]float64, common.NumClasses)
	for k := range weights {
		weights[k] = make([]float64, featCount)
	}
	bias := make([]float64, common.NumClasses)

	totalWeight := 0.0
	for i := range samples {
		totalWeight += rowWeight(sampleWeight, i)
	}
	if totalWeight <= 0 {
		return errors.New("sample weights sum to zero")
	}

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if epoch%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		grads := make([][]float64, common.NumClasses)
		for k := range grads {
			grads[k] = make([]float64, featCount)
		}
		gradBias := make([]float64, common.NumClasses)
		for i := range samples {
			p := softmax(scores(weights, bias, samples[i]))
			w := rowWeight(sampleWeight, i)
			for k := range p {
				err := p[k]
				if targets[i] == k {
					err -= 1
				}
				err *= w
				for j := range grads[k] {
					grads[k][j] += err * samples[i][j]
				}
				gradBias[k] += err
			}
		}
		for k := range weights {
			for j := range weights[k] {
				grads[k][j] = grads[k][j]/totalWeight + opts.L2*weights[k][j]
				weights[k][j] -= opts.LearningRate * grads[k][j]
			}
			bias[k] -= opts.LearningRate * (gradBias[k] / totalWeight)
		}
	}

	featureNames := m.artifact.FeatureNames
	if len(featureNames) != featCount {
		featureNames = common.DefaultFeatureNames(featCount)
	}

	m.opts = opts
	m.artifact = Artifact{
		FeatureNames: featureNames,
		Weights:      weights,
		Bias:         bias,
		Scaler:       scaler,
		L2:           opts.L2,
		LearningRate: opts.LearningRate,
		Epochs:       opts.Epochs,
	}
	m.fitted = true
	return nil
}

func (m *Model) PredictProba(x [][]float64) ([][]float64, error) {
	if m == nil || !m.fitted {
		return nil, learner.ErrNotFitted
	}
	if err := learner.CheckWidth(m.artifact.FeatureNames, x); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i := range x {
		row := m.artifact.Scaler.TransformRow(x[i])
		out[i] = softmax(scores(m.artifact.Weights, m.artifact.Bias, row))
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

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || !m.fitted {
		return nil, errors.New("nil model")
	}
	return json.Marshal(m.artifact)
}

func UnmarshalBinary(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if len(a.Weights) != common.NumClasses || len(a.Bias) != common.NumClasses {
		return nil, errors.New("invalid artifact")
	}
	for _, w := range a.Weights {
		if len(w) == 0 || len(w) != len(a.FeatureNames) || len(w) != len(a.Scaler.Means) {
			return nil, errors.New("invalid artifact")
		}
	}
	return &Model{artifact: a, fitted: true, opts: TrainOptions{LearningRate: a.LearningRate, Epochs: a.Epochs, L2: a.L2}}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.artifact.FeatureNames))
	copy(out, m.artifact.FeatureNames)
	return out
}

func rowWeight(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}

func scores(weights [][]float64, bias []float64, x []float64) []float64 {
	out := make([]float64, len(weights))
	for k := range weights {
		out[k] = dot(weights[k], x) + bias[k]
	}
	return out
}

func softmax(z []float64) []float64 {
	maxV := math.Inf(-1)
	for _, v := range z {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float64, len(z))
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
