// Package returns predicts forward returns with a gbdt regressor and turns
// them into directional signals with a threshold that adapts to the spread of
// the prediction batch.
package returns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"quantlab/internal/ml/common"
	"quantlab/internal/ml/learner"
	"quantlab/internal/ml/models/gbdt"
)

const (
	DefaultThresholdScale = 0.5
	MinThresholdScale     = 0.2
	MaxThresholdScale     = 1.5

	probaClip      = 0.1
	probaSharpness = 50.0
)

type artifact struct {
	FeatureNames   []string       `json:"feature_names"`
	Scaler         learner.Scaler `json:"scaler"`
	Params         learner.Params `json:"params"`
	ThresholdScale float64        `json:"threshold_scale"`
	PredMean       float64        `json:"pred_mean"`
	PredStd        float64        `json:"pred_std"`
	Booster        *gbdt.Booster  `json:"booster"`
}

type Model struct {
	featureNames []string
	params       learner.Params
	scale        float64
	scaler       learner.Scaler
	predMean     float64
	predStd      float64
	booster      *gbdt.Booster
}

func DefaultParams() learner.Params {
	p := gbdt.DefaultParams()
	p.ThresholdScale = DefaultThresholdScale
	return p
}

func New(featureNames []string, params learner.Params) *Model {
	scale := params.ThresholdScale
	if scale <= 0 {
		scale = DefaultThresholdScale
	}
	scale = math.Min(math.Max(scale, MinThresholdScale), MaxThresholdScale)
	return &Model{featureNames: append([]string(nil), featureNames...), params: params, scale: scale}
}

func (m *Model) Family() string { return common.FamilyReturn }

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.featureNames...)
}

// ThresholdScale is the multiple of the prediction std used as the signal band.
func (m *Model) ThresholdScale() float64 { return m.scale }

func (m *Model) Fit(ctx context.Context, train learner.Data, val *learner.Data, sampleWeight []float64) error {
	if err := train.Validate(); err != nil {
		return err
	}
	if len(train.Returns) != len(train.X) {
		return errors.New("return model needs forward returns for every training row")
	}
	if len(m.featureNames) != len(train.X[0]) {
		m.featureNames = common.DefaultFeatureNames(len(train.X[0]))
	}
	m.scaler = learner.FitScaler(train.X)

	var valX [][]float64
	var valY []float64
	if val != nil && len(val.X) > 0 && len(val.Returns) == len(val.X) {
		if err := learner.CheckWidth(m.featureNames, val.X); err != nil {
			return err
		}
		valX = m.scaler.Transform(val.X)
		valY = val.Returns
	}
	b, err := gbdt.Train(ctx, gbdt.ConfigFromParams(gbdt.Regression, m.params), m.scaler.Transform(train.X), train.Returns, sampleWeight, valX, valY)
	if err != nil {
		return fmt.Errorf("train return regressor: %w", err)
	}
	m.booster = b

	ref := valX
	if len(ref) < 2 {
		ref = m.scaler.Transform(train.X)
	}
	preds := make([]float64, len(ref))
	for i := range ref {
		preds[i] = b.Value(ref[i])
	}
	m.predMean, m.predStd = stat.PopMeanStdDev(preds, nil)
	return nil
}

// PredictReturns returns the raw forward-return estimates.
func (m *Model) PredictReturns(x [][]float64) ([]float64, error) {
	if m == nil || m.booster == nil {
		return nil, learner.ErrNotFitted
	}
	if err := learner.CheckWidth(m.featureNames, x); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = m.booster.Value(m.scaler.TransformRow(x[i]))
	}
	return out, nil
}

func (m *Model) Predict(x [][]float64) ([]int, error) {
	preds, err := m.PredictReturns(x)
	if err != nil {
		return nil, err
	}
	return Signals(preds, m.scale, m.predMean, m.predStd), nil
}

func (m *Model) PredictProba(x [][]float64) ([][]float64, error) {
	preds, err := m.PredictReturns(x)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(preds))
	for i, p := range preds {
		out[i] = PseudoProba(p)
	}
	return out, nil
}

// Signals applies the adaptive band. A batch of two or more predictions
// uses its own mean and population std; smaller batches fall back to the
// statistics stored at fit time.
func Signals(preds []float64, scale, fallbackMean, fallbackStd float64) []int {
	mean, std := fallbackMean, fallbackStd
	if len(preds) >= 2 {
		mean, std = stat.PopMeanStdDev(preds, nil)
	}
	upper := mean + scale*std
	lower := mean - scale*std
	out := make([]int, len(preds))
	for i, p := range preds {
		switch {
		case p > upper:
			out[i] = 1
		case p < lower && p < 0:
			out[i] = -1
		}
	}
	return out
}

// PseudoProba maps a return estimate onto [short, neutral, long].
func PseudoProba(pred float64) []float64 {
	pred = math.Min(math.Max(pred, -probaClip), probaClip)
	long := 1 / (1 + math.Exp(-pred*probaSharpness))
	short := 1 - long
	neutral := 1 - math.Abs(long-0.5)*2
	return common.Normalize([]float64{short, neutral, long})
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || m.booster == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(artifact{
		FeatureNames:   m.featureNames,
		Scaler:         m.scaler,
		Params:         m.params,
		ThresholdScale: m.scale,
		PredMean:       m.predMean,
		PredStd:        m.predStd,
		Booster:        m.booster,
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
	if a.Booster == nil || a.Booster.NumFeatures != len(a.FeatureNames) {
		return nil, errors.New("invalid return model artifact")
	}
	return &Model{
		featureNames: a.FeatureNames,
		params:       a.Params,
		scale:        a.ThresholdScale,
		scaler:       a.Scaler,
		predMean:     a.PredMean,
		predStd:      a.PredStd,
		booster:      a.Booster,
	}, nil
}
